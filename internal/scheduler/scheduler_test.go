package scheduler

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

type countingMetrics struct {
	cycles, skipped atomic.Int32
}

func (m *countingMetrics) AddArchives(string, int)      {}
func (m *countingMetrics) IncCycles()                   { m.cycles.Add(1) }
func (m *countingMetrics) IncCyclesSkipped()            { m.skipped.Add(1) }
func (m *countingMetrics) ObserveBatchDuration(float64) {}
func (m *countingMetrics) IncRelocationErrors(string)   {}

func TestNewRejectsNonPositiveInterval(t *testing.T) {
	if _, err := New(0, func(context.Context) error { return nil }); err == nil {
		t.Error("expected error for zero interval")
	}
}

func TestAtMostOneCycle(t *testing.T) {
	var inFlight, peak, runs atomic.Int32
	cycle := func(context.Context) error {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(30 * time.Millisecond)
		runs.Add(1)
		inFlight.Add(-1)
		return nil
	}

	m := &countingMetrics{}
	s, err := New(2*time.Millisecond, cycle, WithMetrics(m))
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if err := s.Run(ctx); err != nil {
		t.Fatalf("Run returned %v", err)
	}

	if p := peak.Load(); p != 1 {
		t.Errorf("peak concurrent cycles = %d, want 1", p)
	}
	if runs.Load() < 2 {
		t.Errorf("ran %d cycles, want at least 2", runs.Load())
	}
	if m.skipped.Load() == 0 {
		t.Error("expected ticks during a running cycle to be skipped")
	}
	if m.cycles.Load() != runs.Load() {
		t.Errorf("cycles metric = %d, runs = %d", m.cycles.Load(), runs.Load())
	}
}

func TestTryRunWhileBusy(t *testing.T) {
	release := make(chan struct{})
	s, _ := New(time.Hour, func(context.Context) error {
		<-release
		return nil
	})

	if !s.TryRun(context.Background()) {
		t.Fatal("first TryRun should start a cycle")
	}
	if s.TryRun(context.Background()) {
		t.Error("second TryRun should be a no-op while busy")
	}
	if !s.Busy() {
		t.Error("Busy() = false during a cycle")
	}
	close(release)
	s.wg.Wait()
	if s.Busy() {
		t.Error("Busy() = true after the cycle finished")
	}
}

func TestRunWaitsForInflightCycle(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var cycleCancelled atomic.Bool

	s, _ := New(time.Hour, func(ctx context.Context) error {
		close(started)
		<-release
		cycleCancelled.Store(ctx.Err() != nil)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	s.Wake()
	<-started
	cancel()

	select {
	case <-done:
		t.Fatal("Run returned while a cycle was still running")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after the cycle finished")
	}
	if cycleCancelled.Load() {
		t.Error("cycle context was cancelled with Run's context")
	}
}

func TestWakeRunsBeforeTick(t *testing.T) {
	ran := make(chan struct{}, 1)
	s, _ := New(time.Hour, func(context.Context) error {
		ran <- struct{}{}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Run(ctx) }()

	s.Wake()
	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("Wake did not trigger a cycle")
	}
}

func TestPanicReleasesBusyFlag(t *testing.T) {
	s, _ := New(time.Hour, func(context.Context) error {
		panic("boom")
	})
	s.TryRun(context.Background())
	s.wg.Wait()
	if s.Busy() {
		t.Error("a panicking cycle left the scheduler busy")
	}
}

func TestWatcherWakes(t *testing.T) {
	dir := t.TempDir()
	woke := make(chan struct{}, 10)
	w, err := NewWatcher(dir, 20*time.Millisecond, func() { woke <- struct{}{} }, nil)
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	for i := range 3 {
		name := filepath.Join(dir, "pkg-1.0."+string(rune('0'+i))+".tgz")
		if err := os.WriteFile(name, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	select {
	case <-woke:
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not wake after files were created")
	}
}

func TestNewWatcherMissingDir(t *testing.T) {
	if _, err := NewWatcher(filepath.Join(t.TempDir(), "nope"), 0, func() {}, nil); err == nil {
		t.Error("expected error for a missing directory")
	}
}
