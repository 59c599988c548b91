// Package scheduler drives publish cycles on a fixed interval, never
// letting two cycles overlap.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"github.com/git-pkgs/publisher/internal/metrics"
)

// CycleFunc performs one full pass over the inbox.
type CycleFunc func(ctx context.Context) error

// Scheduler starts a cycle on every tick unless one is still running, in
// which case the tick is dropped.
type Scheduler struct {
	interval time.Duration
	cycle    CycleFunc

	busy atomic.Bool
	wake chan struct{}
	wg   sync.WaitGroup

	logger  *log.Logger
	metrics metrics.Metrics
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m metrics.Metrics) Option {
	return func(s *Scheduler) {
		if m != nil {
			s.metrics = m
		}
	}
}

// New returns an idle Scheduler. interval must be positive.
func New(interval time.Duration, cycle CycleFunc, opts ...Option) (*Scheduler, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("scheduler: interval must be positive, got %s", interval)
	}
	s := &Scheduler{
		interval: interval,
		cycle:    cycle,
		wake:     make(chan struct{}, 1),
		logger:   log.Default(),
		metrics:  metrics.Noop{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Wake asks for a cycle before the next tick. Calls made while a wake-up
// is already pending are coalesced.
func (s *Scheduler) Wake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Busy reports whether a cycle is in flight.
func (s *Scheduler) Busy() bool {
	return s.busy.Load()
}

// TryRun starts a cycle in the background if none is running and reports
// whether it did. The cycle is not cancelled with ctx; a batch in progress
// finishes before Run returns.
func (s *Scheduler) TryRun(ctx context.Context) bool {
	if !s.busy.CompareAndSwap(false, true) {
		s.metrics.IncCyclesSkipped()
		s.logger.Debug("cycle still running, skipping tick")
		return false
	}
	s.metrics.IncCycles()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.busy.Store(false)
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("cycle panicked", "panic", r)
			}
		}()

		if err := s.cycle(context.WithoutCancel(ctx)); err != nil {
			s.logger.Error("cycle failed", "error", err)
		}
	}()
	return true
}

// Run ticks until ctx is cancelled, then waits for an in-flight cycle and
// returns nil. The first cycle starts after one interval.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("listening", "interval", s.interval)
	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			return nil
		case <-ticker.C:
			s.TryRun(ctx)
		case <-s.wake:
			s.TryRun(ctx)
		}
	}
}
