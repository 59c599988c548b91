package core

import (
	"context"
	"sync"
)

// Default concurrency caps for the two tiers of batch work.
const (
	DefaultCheckConcurrency   = 50
	DefaultPublishConcurrency = 10
	DefaultMoveConcurrency    = 10
)

// ForEachLimit calls fn for every item with at most limit calls in flight.
// Items not yet started when ctx is cancelled are skipped and ctx's error
// is returned; calls already running are waited for.
func ForEachLimit[T any](ctx context.Context, items []T, limit int, fn func(ctx context.Context, i int, item T)) error {
	if limit < 1 {
		limit = 1
	}
	sem := make(chan struct{}, limit)
	var wg sync.WaitGroup

	for i, item := range items {
		if err := ctx.Err(); err != nil {
			wg.Wait()
			return err
		}
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			return ctx.Err()
		}

		wg.Add(1)
		go func(i int, item T) {
			defer wg.Done()
			defer func() { <-sem }()
			fn(ctx, i, item)
		}(i, item)
	}

	wg.Wait()
	return nil
}

// MapLimit runs fn over items with bounded concurrency and returns the
// results in input order. When ctx is cancelled before every item started,
// only the results of items that ran are returned, along with ctx's error.
func MapLimit[T, R any](ctx context.Context, items []T, limit int, fn func(ctx context.Context, item T) R) ([]R, error) {
	results := make([]R, len(items))
	ran := make([]bool, len(items))
	err := ForEachLimit(ctx, items, limit, func(ctx context.Context, i int, item T) {
		results[i] = fn(ctx, item)
		ran[i] = true
	})
	if err == nil {
		return results, nil
	}

	done := results[:0]
	for i, r := range results {
		if ran[i] {
			done = append(done, r)
		}
	}
	return done, err
}
