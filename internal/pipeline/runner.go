package pipeline

import (
	"context"
	"time"

	"github.com/git-pkgs/publisher/internal/inbox"
	"github.com/git-pkgs/publisher/internal/metrics"
)

// Summary counts what one cycle did.
type Summary struct {
	Batches   int
	Published int
	Failed    int
	Existing  int
	Dropped   int

	// Deferred counts batches left in the inbox because their check
	// phase failed.
	Deferred int
}

// Runner performs full passes over the inbox.
type Runner struct {
	inbox     *inbox.Inbox
	publisher *Publisher
}

// NewRunner returns a Runner that feeds batches from in to p. It logs and
// records metrics through p's logger and sink.
func NewRunner(in *inbox.Inbox, p *Publisher) *Runner {
	return &Runner{inbox: in, publisher: p}
}

// Cycle reorganizes the inbox and publishes each batch directory in turn.
// After a batch, failed archives go to the error directory and the batch
// to backup. Relocation failures are logged and counted; the batch, or
// whatever part of it could not be moved, stays in the inbox for the next
// cycle. Only an unreadable inbox or a cancelled ctx is returned as an error.
func (r *Runner) Cycle(ctx context.Context) (Summary, error) {
	logger := r.publisher.logger
	m := r.publisher.metrics
	var sum Summary

	batches, err := r.inbox.Poll(ctx)
	if err != nil {
		return sum, err
	}
	if len(batches) > 0 {
		logger.Info("found batch directories", "count", len(batches))
	}

	for _, b := range batches {
		if ctx.Err() != nil {
			return sum, ctx.Err()
		}
		sum.Batches++
		logger.Info("publishing batch", "batch", b.Name)

		start := time.Now()
		res, err := r.publisher.PublishDirectory(ctx, b.Path)
		m.ObserveBatchDuration(time.Since(start).Seconds())
		if err != nil {
			sum.Deferred++
			logger.Error("batch left in inbox", "batch", b.Name, "error", err)
			if ctx.Err() != nil {
				return sum, ctx.Err()
			}
			continue
		}

		sum.Published += len(res.Succeeded)
		sum.Failed += len(res.Failed)
		sum.Existing += len(res.Existing)
		sum.Dropped += len(res.Dropped)
		if len(res.Succeeded) > 0 {
			logger.Info("finished publishing", "batch", b.Name, "count", len(res.Succeeded))
		}

		dest, err := r.inbox.DestinationName(b)
		if err != nil {
			m.IncRelocationErrors(metrics.RelocationBackup)
			logger.Error("batch left in inbox", "batch", b.Name, "error", err)
			continue
		}
		if err := r.inbox.Quarantine(ctx, dest, res.Failed); err != nil {
			m.IncRelocationErrors(metrics.RelocationError)
			logger.Error("batch left in inbox", "batch", b.Name, "error", err)
			continue
		}
		if _, err := r.inbox.Archive(b, dest); err != nil {
			m.IncRelocationErrors(metrics.RelocationBackup)
			logger.Error("moving batch to backup", "batch", b.Name, "error", err)
		}
	}
	return sum, nil
}
