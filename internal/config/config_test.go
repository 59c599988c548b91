package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

type env struct {
	inbox, backup, errs, verdaccio string
}

// setEnv points every required variable at fresh directories.
func setEnv(t *testing.T) env {
	t.Helper()
	base := t.TempDir()
	e := env{
		inbox:     filepath.Join(base, "inbox"),
		backup:    filepath.Join(base, "backup"),
		errs:      filepath.Join(base, "error"),
		verdaccio: filepath.Join(base, "config.yaml"),
	}
	for _, d := range []string{e.inbox, e.backup, e.errs} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(e.verdaccio, []byte("storage: ./storage\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("REGISTRY", "http://localhost:4873")
	t.Setenv("LISTEN_PACKAGES_DIRECTORY", e.inbox)
	t.Setenv("BACKUP_DIRECTORY", e.backup)
	t.Setenv("ERROR_DIRECTORY", e.errs)
	t.Setenv("VERDACCIO_CONF_FILEPATH", e.verdaccio)
	t.Setenv("INTERVAL", "2000")
	return e
}

func TestLoadFromEnv(t *testing.T) {
	e := setEnv(t)
	t.Setenv("PUBLISH_CONCURRENCY", "4")
	t.Setenv("WATCH", "true")

	cfg, err := Load(NewViper(), "")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}

	if cfg.Registry != "http://localhost:4873" {
		t.Errorf("Registry = %q", cfg.Registry)
	}
	if cfg.InboxDir != e.inbox {
		t.Errorf("InboxDir = %q, want %q", cfg.InboxDir, e.inbox)
	}
	if cfg.Interval() != 2*time.Second {
		t.Errorf("Interval() = %s, want 2s", cfg.Interval())
	}
	if cfg.PublishConcurrency != 4 || !cfg.Watch {
		t.Errorf("PublishConcurrency = %d, Watch = %v", cfg.PublishConcurrency, cfg.Watch)
	}
}

func TestLoadDefaults(t *testing.T) {
	setEnv(t)
	cfg, err := Load(NewViper(), "")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Backend != "npm" || cfg.DistTag != "latest" || cfg.LogLevel != "info" {
		t.Errorf("defaults = backend %q, tag %q, log level %q", cfg.Backend, cfg.DistTag, cfg.LogLevel)
	}
	if cfg.CheckConcurrency != 50 || cfg.PublishConcurrency != 10 || cfg.MoveConcurrency != 10 {
		t.Errorf("concurrency defaults = %d/%d/%d", cfg.CheckConcurrency, cfg.PublishConcurrency, cfg.MoveConcurrency)
	}
}

func TestLoadFile(t *testing.T) {
	e := setEnv(t)
	path := filepath.Join(t.TempDir(), "publisher.yaml")
	body := "registry: http://from-file:4873\ndist_tag: next\nmetrics_addr: :9090\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	// Empty environment values count as unset.
	t.Setenv("REGISTRY", "")

	cfg, err := Load(NewViper(), path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Registry != "http://from-file:4873" {
		t.Errorf("Registry = %q, want value from file", cfg.Registry)
	}
	if cfg.MetricsAddr != ":9090" {
		t.Errorf("MetricsAddr = %q", cfg.MetricsAddr)
	}
	if cfg.InboxDir != e.inbox {
		t.Errorf("InboxDir = %q, want env value", cfg.InboxDir)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(NewViper(), filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for a missing config file")
	}
}

func TestValidateMissingRequired(t *testing.T) {
	cfg := Config{IntervalMS: 1000, CheckConcurrency: 1, PublishConcurrency: 1, MoveConcurrency: 1}
	err := cfg.Validate()
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("Validate() = %v, want ErrInvalid", err)
	}
	for _, name := range []string{"REGISTRY", "LISTEN_PACKAGES_DIRECTORY", "BACKUP_DIRECTORY", "ERROR_DIRECTORY", "VERDACCIO_CONF_FILEPATH"} {
		if !strings.Contains(err.Error(), name) {
			t.Errorf("error %q does not mention %s", err, name)
		}
	}
}

func TestValidateMissingDirectory(t *testing.T) {
	setEnv(t)
	t.Setenv("BACKUP_DIRECTORY", filepath.Join(t.TempDir(), "does-not-exist"))

	cfg, err := Load(NewViper(), "")
	if err != nil {
		t.Fatal(err)
	}
	err = cfg.Validate()
	if !errors.Is(err, ErrInvalid) || !strings.Contains(err.Error(), "BACKUP_DIRECTORY") {
		t.Errorf("Validate() = %v, want a BACKUP_DIRECTORY error", err)
	}
}

func TestValidateInterval(t *testing.T) {
	setEnv(t)
	t.Setenv("INTERVAL", "0")

	cfg, err := Load(NewViper(), "")
	if err != nil {
		t.Fatal(err)
	}
	if err := cfg.ValidatePaths(); err != nil {
		t.Errorf("ValidatePaths() = %v, want nil", err)
	}
	if err := cfg.Validate(); !errors.Is(err, ErrInvalid) {
		t.Errorf("Validate() = %v, want ErrInvalid", err)
	}
}

func TestValidateResolvesRelativePaths(t *testing.T) {
	e := setEnv(t)
	t.Chdir(filepath.Dir(e.inbox))
	t.Setenv("LISTEN_PACKAGES_DIRECTORY", "inbox")

	cfg, err := Load(NewViper(), "")
	if err != nil {
		t.Fatal(err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	if !filepath.IsAbs(cfg.InboxDir) {
		t.Errorf("InboxDir = %q, want absolute", cfg.InboxDir)
	}
}
