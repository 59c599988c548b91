package main

import (
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/git-pkgs/publisher/client"
	"github.com/git-pkgs/publisher/internal/config"
	"github.com/git-pkgs/publisher/internal/core"
	"github.com/git-pkgs/publisher/internal/inbox"
	"github.com/git-pkgs/publisher/internal/metrics"
	"github.com/git-pkgs/publisher/internal/pipeline"
	"github.com/git-pkgs/publisher/internal/storage"

	_ "github.com/git-pkgs/publisher/all"
)

// app is the wired publish pipeline for one validated configuration.
type app struct {
	cfg     config.Config
	logger  *log.Logger
	metrics metrics.Metrics
	prom    *metrics.Prom
	storage *storage.Storage
	backend core.Publisher
	runner  *pipeline.Runner
}

// openStorage resolves the Verdaccio storage directory, preferring an
// explicit override over the Verdaccio config file.
func openStorage(cfg config.Config, logger *log.Logger) (*storage.Storage, error) {
	dir := cfg.StorageDir
	if dir == "" {
		var err error
		dir, err = storage.DirFromConfig(cfg.VerdaccioConfig)
		if err != nil {
			return nil, fmt.Errorf("reading storage directory: %w", err)
		}
	}
	return storage.New(dir, logger.WithPrefix("storage")), nil
}

func newApp(cfg config.Config, logger *log.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger, metrics: metrics.Noop{}}
	if cfg.MetricsAddr != "" {
		a.prom = metrics.NewProm("publisher")
		a.metrics = a.prom
	}

	var err error
	a.storage, err = openStorage(cfg, logger)
	if err != nil {
		return nil, err
	}

	a.backend, err = core.New(cfg.Backend, core.Options{
		Registry: cfg.Registry,
		Token:    cfg.Token,
		Tag:      cfg.DistTag,
		Client:   client.NewClient().WithUserAgent("git-pkgs-publisher/" + Version),
	})
	if err != nil {
		return nil, err
	}

	pub := pipeline.New(a.storage, a.backend,
		pipeline.WithCheckConcurrency(cfg.CheckConcurrency),
		pipeline.WithPublishConcurrency(cfg.PublishConcurrency),
		pipeline.WithRateLimiter(client.NewRateLimiter(cfg.PublishRate, 1)),
		pipeline.WithLogger(logger.WithPrefix("pipeline")),
		pipeline.WithMetrics(a.metrics),
	)
	in := inbox.New(cfg.InboxDir, cfg.BackupDir, cfg.ErrorDir,
		inbox.WithMoveConcurrency(cfg.MoveConcurrency),
		inbox.WithLogger(logger.WithPrefix("inbox")),
		inbox.WithMetrics(a.metrics),
	)
	a.runner = pipeline.NewRunner(in, pub)

	logger.Info("publisher ready",
		"registry", cfg.Registry,
		"backend", a.backend.Backend(),
		"storage", a.storage.Dir(),
		"inbox", cfg.InboxDir,
	)
	return a, nil
}
