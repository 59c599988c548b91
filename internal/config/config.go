// Package config loads publisher settings from the environment, command
// line flags and an optional YAML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/git-pkgs/publisher/internal/core"
)

// Keys double as environment variable names once upper-cased.
const (
	KeyRegistry           = "registry"
	KeyInboxDir           = "listen_packages_directory"
	KeyBackupDir          = "backup_directory"
	KeyErrorDir           = "error_directory"
	KeyVerdaccioConfig    = "verdaccio_conf_filepath"
	KeyStorageDir         = "storage_directory"
	KeyInterval           = "interval"
	KeyBackend            = "publish_backend"
	KeyToken              = "npm_token"
	KeyDistTag            = "dist_tag"
	KeyCheckConcurrency   = "check_concurrency"
	KeyPublishConcurrency = "publish_concurrency"
	KeyMoveConcurrency    = "move_concurrency"
	KeyPublishRate        = "publish_rate"
	KeyMetricsAddr        = "metrics_addr"
	KeyWatch              = "watch"
	KeyLogLevel           = "log_level"
)

var keys = []string{
	KeyRegistry, KeyInboxDir, KeyBackupDir, KeyErrorDir, KeyVerdaccioConfig,
	KeyStorageDir, KeyInterval, KeyBackend, KeyToken, KeyDistTag,
	KeyCheckConcurrency, KeyPublishConcurrency, KeyMoveConcurrency,
	KeyPublishRate, KeyMetricsAddr, KeyWatch, KeyLogLevel,
}

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config is the full set of publisher settings.
type Config struct {
	Registry        string `mapstructure:"registry"`
	InboxDir        string `mapstructure:"listen_packages_directory"`
	BackupDir       string `mapstructure:"backup_directory"`
	ErrorDir        string `mapstructure:"error_directory"`
	VerdaccioConfig string `mapstructure:"verdaccio_conf_filepath"`

	// StorageDir overrides the storage path read from the Verdaccio config.
	StorageDir string `mapstructure:"storage_directory"`

	// IntervalMS is the poll interval in milliseconds.
	IntervalMS int `mapstructure:"interval"`

	Backend string `mapstructure:"publish_backend"`
	Token   string `mapstructure:"npm_token"`
	DistTag string `mapstructure:"dist_tag"`

	CheckConcurrency   int     `mapstructure:"check_concurrency"`
	PublishConcurrency int     `mapstructure:"publish_concurrency"`
	MoveConcurrency    int     `mapstructure:"move_concurrency"`
	PublishRate        float64 `mapstructure:"publish_rate"`

	MetricsAddr string `mapstructure:"metrics_addr"`
	Watch       bool   `mapstructure:"watch"`
	LogLevel    string `mapstructure:"log_level"`
}

// Interval returns the poll interval.
func (c Config) Interval() time.Duration {
	return time.Duration(c.IntervalMS) * time.Millisecond
}

// NewViper returns a viper instance with defaults set and every key bound
// to its environment variable.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetDefault(KeyBackend, "npm")
	v.SetDefault(KeyDistTag, "latest")
	v.SetDefault(KeyCheckConcurrency, core.DefaultCheckConcurrency)
	v.SetDefault(KeyPublishConcurrency, core.DefaultPublishConcurrency)
	v.SetDefault(KeyMoveConcurrency, core.DefaultMoveConcurrency)
	v.SetDefault(KeyLogLevel, "info")

	for _, k := range keys {
		_ = v.BindEnv(k, strings.ToUpper(k))
	}
	return v
}

// Load reads the optional YAML file at path into v and decodes the result.
// Environment variables and bound flags take precedence over the file.
func Load(v *viper.Viper, path string) (Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decoding configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks everything the daemon needs, including a positive poll
// interval, and resolves paths to absolute form.
func (c *Config) Validate() error {
	err := c.ValidatePaths()
	if c.IntervalMS <= 0 {
		err = errors.Join(err, fmt.Errorf("%w: INTERVAL must be a positive number of milliseconds", ErrInvalid))
	}
	return err
}

// ValidatePaths checks the registry address and the directories, resolving
// them to absolute paths. Every problem found is reported.
func (c *Config) ValidatePaths() error {
	var errs []error

	required := []struct {
		env   string
		value string
	}{
		{"REGISTRY", c.Registry},
		{"LISTEN_PACKAGES_DIRECTORY", c.InboxDir},
		{"BACKUP_DIRECTORY", c.BackupDir},
		{"ERROR_DIRECTORY", c.ErrorDir},
		{"VERDACCIO_CONF_FILEPATH", c.VerdaccioConfig},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			errs = append(errs, fmt.Errorf("%w: %s is required", ErrInvalid, r.env))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	dirs := []struct {
		env string
		dst *string
	}{
		{"LISTEN_PACKAGES_DIRECTORY", &c.InboxDir},
		{"BACKUP_DIRECTORY", &c.BackupDir},
		{"ERROR_DIRECTORY", &c.ErrorDir},
	}
	for _, d := range dirs {
		if err := resolve(d.dst, true); err != nil {
			errs = append(errs, fmt.Errorf("%w: %s=%s: %v", ErrInvalid, d.env, *d.dst, err))
		}
	}
	if err := resolve(&c.VerdaccioConfig, false); err != nil {
		errs = append(errs, fmt.Errorf("%w: VERDACCIO_CONF_FILEPATH=%s: %v", ErrInvalid, c.VerdaccioConfig, err))
	}
	if c.StorageDir != "" {
		if err := resolve(&c.StorageDir, true); err != nil {
			errs = append(errs, fmt.Errorf("%w: STORAGE_DIRECTORY=%s: %v", ErrInvalid, c.StorageDir, err))
		}
	}

	if c.CheckConcurrency < 1 || c.PublishConcurrency < 1 || c.MoveConcurrency < 1 {
		errs = append(errs, fmt.Errorf("%w: concurrency limits must be at least 1", ErrInvalid))
	}
	if c.PublishRate < 0 {
		errs = append(errs, fmt.Errorf("%w: PUBLISH_RATE must not be negative", ErrInvalid))
	}
	return errors.Join(errs...)
}

// resolve makes *path absolute and checks it exists with the expected kind.
func resolve(path *string, wantDir bool) error {
	abs, err := filepath.Abs(*path)
	if err != nil {
		return err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return err
	}
	if wantDir && !info.IsDir() {
		return errors.New("not a directory")
	}
	if !wantDir && info.IsDir() {
		return errors.New("is a directory")
	}
	*path = abs
	return nil
}
