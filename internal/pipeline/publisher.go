// Package pipeline publishes batch directories: it checks every archive
// against registry storage, uploads the missing ones and reports per-file
// outcomes.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sync"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/git-pkgs/publisher/internal/core"
	"github.com/git-pkgs/publisher/internal/filename"
	"github.com/git-pkgs/publisher/internal/metrics"
)

// Oracle reports whether a version is already in registry storage.
// *storage.Storage satisfies it.
type Oracle interface {
	Exists(ctx context.Context, name, version string, a core.Archive) (bool, error)
}

// Result is the outcome of one batch directory.
type Result struct {
	Succeeded []core.Task
	Failed    []core.Task

	// Existing holds archives the registry already had, including
	// duplicates of a version published earlier in the same batch.
	Existing []core.Task

	// Dropped lists paths whose filename could not be parsed. They are
	// in neither Succeeded nor Failed.
	Dropped []string
}

// Publisher runs the check and publish phases for a directory.
type Publisher struct {
	oracle  Oracle
	backend core.Publisher

	checkConcurrency   int
	publishConcurrency int
	limiter            core.RateLimiter

	logger  *log.Logger
	metrics metrics.Metrics
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithCheckConcurrency caps concurrent existence checks.
func WithCheckConcurrency(n int) Option {
	return func(p *Publisher) {
		if n > 0 {
			p.checkConcurrency = n
		}
	}
}

// WithPublishConcurrency caps concurrent publish calls.
func WithPublishConcurrency(n int) Option {
	return func(p *Publisher) {
		if n > 0 {
			p.publishConcurrency = n
		}
	}
}

// WithRateLimiter paces publish calls.
func WithRateLimiter(l core.RateLimiter) Option {
	return func(p *Publisher) {
		p.limiter = l
	}
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(p *Publisher) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m metrics.Metrics) Option {
	return func(p *Publisher) {
		if m != nil {
			p.metrics = m
		}
	}
}

// New creates a Publisher checking against oracle and uploading through backend.
func New(oracle Oracle, backend core.Publisher, opts ...Option) *Publisher {
	p := &Publisher{
		oracle:             oracle,
		backend:            backend,
		checkConcurrency:   core.DefaultCheckConcurrency,
		publishConcurrency: core.DefaultPublishConcurrency,
		logger:             log.Default(),
		metrics:            metrics.Noop{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// PublishDirectory publishes every archive found under dir.
//
// Names are canonicalized first. Existence checks then run with the check
// cap; an oracle failure aborts the whole directory and nothing is
// published. Publishing starts only once every check has finished. A
// context cancelled during the publish phase is returned as an error so the
// caller leaves the directory in place.
func (p *Publisher) PublishDirectory(ctx context.Context, dir string) (*Result, error) {
	paths, err := p.collect(dir)
	if err != nil {
		return nil, err
	}
	p.logger.Info("found archives", "count", len(paths), "batch", filepath.Base(dir))

	res := &Result{}
	tasks, err := p.check(ctx, paths, res)
	if err != nil {
		return nil, err
	}

	pending := p.partition(tasks, res)
	if n := len(res.Existing); n > 0 {
		p.logger.Info(fmt.Sprintf("%d/%d already exist", n, len(tasks)))
	}
	if n := len(pending); n > 0 {
		p.logger.Info(fmt.Sprintf("%d/%d don't exist, publishing now", n, len(tasks)))
	}

	results, err := core.MapLimit(ctx, pending, p.publishConcurrency, p.publish)
	if err != nil {
		// Unattempted archives stay with their batch for the next cycle.
		return nil, fmt.Errorf("publish phase interrupted after %d/%d archives: %w", len(results), len(pending), err)
	}
	for _, t := range results {
		if t.Published {
			res.Succeeded = append(res.Succeeded, t)
		} else {
			res.Failed = append(res.Failed, t)
		}
	}

	p.metrics.AddArchives(metrics.OutcomePublished, len(res.Succeeded))
	p.metrics.AddArchives(metrics.OutcomeFailed, len(res.Failed))
	p.metrics.AddArchives(metrics.OutcomeExisting, len(res.Existing))
	p.metrics.AddArchives(metrics.OutcomeDropped, len(res.Dropped))
	return res, nil
}

// collect walks dir for archives and canonicalizes their names.
func (p *Publisher) collect(dir string) ([]string, error) {
	var paths []string
	seen := make(map[string]bool)

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() || !filename.IsArchive(d.Name()) {
			return nil
		}
		canonical, err := filename.Canonicalize(path)
		if err != nil {
			p.logger.Warn("could not strip -latest marker", "path", path, "error", err)
			canonical = path
		}
		if !seen[canonical] {
			seen[canonical] = true
			paths = append(paths, canonical)
		}
		return nil
	})
	if err != nil {
		return nil, &core.IOError{Op: "walk", Path: dir, Err: err}
	}
	return paths, nil
}

// check parses every path and asks the oracle about it. Unparseable
// filenames are recorded in res.Dropped. The returned slice keeps walk order.
func (p *Publisher) check(ctx context.Context, paths []string, res *Result) ([]core.Task, error) {
	slots := make([]*core.Task, len(paths))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.checkConcurrency)
	for i, path := range paths {
		g.Go(func() error {
			a, err := filename.ToArchive(path)
			if err != nil {
				p.logger.Warn("skipping archive", "error", err)
				mu.Lock()
				res.Dropped = append(res.Dropped, path)
				mu.Unlock()
				return nil
			}

			exists, err := p.oracle.Exists(gctx, a.Name, a.Version, a)
			if err != nil {
				return fmt.Errorf("checking %s: %w", a.Filename, err)
			}
			slots[i] = &core.Task{Archive: a, Exists: exists}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	tasks := make([]core.Task, 0, len(paths))
	for _, t := range slots {
		if t != nil {
			tasks = append(tasks, *t)
		}
	}
	return tasks, nil
}

// partition moves existing tasks into res.Existing and returns the ones to
// publish. Only the first archive for a name@version is published.
func (p *Publisher) partition(tasks []core.Task, res *Result) []core.Task {
	var pending []core.Task
	queued := make(map[string]bool)
	for _, t := range tasks {
		key := t.Name + "@" + t.Version
		if t.Exists || queued[key] {
			t.Exists = true
			res.Existing = append(res.Existing, t)
			continue
		}
		queued[key] = true
		pending = append(pending, t)
	}
	return pending
}

func (p *Publisher) publish(ctx context.Context, t core.Task) core.Task {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			t.Err = err
			p.logger.Error("publish not attempted", "archive", t.Filename, "error", err)
			return t
		}
	}

	_, err := p.backend.Publish(ctx, t.Path)
	switch {
	case err == nil:
		t.Published = true
		p.logger.Info("published", "archive", t.Filename, "purl", t.PURL())
	case core.IsAlreadyExists(err):
		t.Published = true
		p.logger.Info("already published", "archive", t.Filename)
	default:
		t.Err = err
		var pubErr *core.PublishError
		if !errors.As(err, &pubErr) {
			t.Err = &core.PublishError{Kind: core.KindPublishFailed, Name: t.Name, Version: t.Version, Err: err}
		}
		p.logger.Error("publish failed", "archive", t.Filename, "error", err)
	}
	return t
}
