package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/git-pkgs/publisher/internal/pipeline"
	"github.com/git-pkgs/publisher/internal/scheduler"
)

const watchDebounce = 500 * time.Millisecond

func newRunCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Poll the inbox and publish new archives until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := c.load()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			logger, err := newLogger(cfg.LogLevel)
			if err != nil {
				return err
			}
			a, err := newApp(cfg, logger)
			if err != nil {
				return err
			}
			return a.serve(cmd.Context())
		},
	}
}

// serve runs the scheduler, plus the inbox watcher and metrics endpoint when
// enabled, until ctx is cancelled.
func (a *app) serve(ctx context.Context) error {
	sched, err := scheduler.New(a.cfg.Interval(), a.cycle,
		scheduler.WithLogger(a.logger.WithPrefix("scheduler")),
		scheduler.WithMetrics(a.metrics),
	)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sched.Run(ctx)
	})

	if a.cfg.Watch {
		w, err := scheduler.NewWatcher(a.cfg.InboxDir, watchDebounce, sched.Wake, a.logger.WithPrefix("watcher"))
		if err != nil {
			return err
		}
		g.Go(func() error {
			return w.Run(ctx)
		})
	}

	if a.prom != nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", a.prom.Handler())
		srv := &http.Server{
			Addr:              a.cfg.MetricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			a.logger.Info("serving metrics", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	err = g.Wait()
	a.logger.Info("stopped")
	return err
}

// cycle runs one pass over the inbox and logs what it did.
func (a *app) cycle(ctx context.Context) error {
	sum, err := a.runner.Cycle(ctx)
	if sum.Batches > 0 {
		a.logSummary(sum)
	}
	return err
}

func (a *app) logSummary(sum pipeline.Summary) {
	a.logger.Info("cycle finished",
		"batches", sum.Batches,
		"published", sum.Published,
		"existing", sum.Existing,
		"failed", sum.Failed,
		"dropped", sum.Dropped,
		"deferred", sum.Deferred,
	)
}

func newOnceCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "once",
		Short: "Run a single cycle over the inbox and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := c.load()
			if err != nil {
				return err
			}
			if err := cfg.ValidatePaths(); err != nil {
				return err
			}
			logger, err := newLogger(cfg.LogLevel)
			if err != nil {
				return err
			}
			a, err := newApp(cfg, logger)
			if err != nil {
				return err
			}

			sum, err := a.runner.Cycle(cmd.Context())
			fmt.Fprintf(cmd.OutOrStdout(),
				"batches=%d published=%d existing=%d failed=%d dropped=%d deferred=%d\n",
				sum.Batches, sum.Published, sum.Existing, sum.Failed, sum.Dropped, sum.Deferred)
			return err
		},
	}
}
