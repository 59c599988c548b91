package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestArchiveScope(t *testing.T) {
	tests := []struct {
		name      string
		scope     string
		shortName string
	}{
		{"lodash", "", "lodash"},
		{"@babel/core", "@babel", "core"},
		{"@scope/pkg-name", "@scope", "pkg-name"},
		{"@noslash", "", "@noslash"},
	}

	for _, tt := range tests {
		a := Archive{Name: tt.name}
		if got := a.Scope(); got != tt.scope {
			t.Errorf("Archive{%q}.Scope() = %q, want %q", tt.name, got, tt.scope)
		}
		if got := a.ShortName(); got != tt.shortName {
			t.Errorf("Archive{%q}.ShortName() = %q, want %q", tt.name, got, tt.shortName)
		}
	}
}

func TestArchivePURL(t *testing.T) {
	a := Archive{Name: "lodash", Version: "4.17.21"}
	if got := a.PURL(); got != "pkg:npm/lodash@4.17.21" {
		t.Errorf("PURL() = %q, want %q", got, "pkg:npm/lodash@4.17.21")
	}

	scoped := Archive{Name: "@babel/core", Version: "7.24.0"}
	got := scoped.PURL()
	if !strings.HasPrefix(got, "pkg:npm/") || !strings.HasSuffix(got, "babel/core@7.24.0") {
		t.Errorf("PURL() = %q, want pkg:npm/<scope>/core@7.24.0", got)
	}
}

func TestPackumentHasVersion(t *testing.T) {
	p := &Packument{Name: "x", Versions: []string{"1.0.0", "1.1.0"}}
	if !p.HasVersion("1.1.0") {
		t.Error("expected 1.1.0 to be listed")
	}
	if p.HasVersion("2.0.0") {
		t.Error("expected 2.0.0 to be missing")
	}
}

func TestPublishErrorKinds(t *testing.T) {
	cause := errors.New("boom")
	tests := []struct {
		kind     ErrorKind
		sentinel error
	}{
		{KindAlreadyExists, ErrAlreadyExists},
		{KindPublishFailed, ErrPublishFailed},
		{KindIOFault, ErrIOFault},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			err := fmt.Errorf("wrapped: %w", &PublishError{Kind: tt.kind, Name: "pkg", Version: "1.0.0", Err: cause})
			if !errors.Is(err, tt.sentinel) {
				t.Errorf("errors.Is(%v, %v) = false", err, tt.sentinel)
			}
			if !errors.Is(err, cause) {
				t.Errorf("expected cause to be reachable from %v", err)
			}
			if got := IsAlreadyExists(err); got != (tt.kind == KindAlreadyExists) {
				t.Errorf("IsAlreadyExists = %v for kind %s", got, tt.kind)
			}
		})
	}
}

func TestPublishErrorMessage(t *testing.T) {
	err := &PublishError{Kind: KindPublishFailed, Name: "@a/b", Version: "1.0.0", Err: errors.New("network down")}
	want := "@a/b@1.0.0: publish_failed: network down"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestIOError(t *testing.T) {
	err := &IOError{Op: "read", Path: "/x/package.json", Err: errors.New("permission denied")}
	if !errors.Is(err, ErrIOFault) {
		t.Error("IOError should match ErrIOFault")
	}
	if !strings.Contains(err.Error(), "/x/package.json") {
		t.Errorf("Error() = %q, want path included", err.Error())
	}
}

type stubPublisher struct{ opts Options }

func (s *stubPublisher) Backend() string { return "stub" }
func (s *stubPublisher) Publish(context.Context, string) (*Manifest, error) {
	return &Manifest{}, nil
}

func TestRegistryNew(t *testing.T) {
	Register("stub", func(opts Options) (Publisher, error) {
		return &stubPublisher{opts: opts}, nil
	})

	p, err := New("stub", Options{Registry: "http://localhost:4873"})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	stub := p.(*stubPublisher)
	if stub.opts.Tag != "latest" {
		t.Errorf("Tag = %q, want default %q", stub.opts.Tag, "latest")
	}
	if stub.opts.Client == nil {
		t.Error("expected default client to be set")
	}

	if _, err := New("stub", Options{}); err == nil {
		t.Error("expected error for missing registry address")
	}
	if _, err := New("nope", Options{Registry: "x"}); err == nil {
		t.Error("expected error for unknown backend")
	}

	found := false
	for _, b := range SupportedBackends() {
		if b == "stub" {
			found = true
		}
	}
	if !found {
		t.Errorf("SupportedBackends() = %v, want stub included", SupportedBackends())
	}
}

func TestForEachLimitBoundsConcurrency(t *testing.T) {
	items := make([]int, 40)
	var inFlight, peak atomic.Int32

	err := ForEachLimit(context.Background(), items, 5, func(_ context.Context, _ int, _ int) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
	})
	if err != nil {
		t.Fatalf("ForEachLimit() = %v", err)
	}

	if got := peak.Load(); got > 5 {
		t.Errorf("peak concurrency = %d, want <= 5", got)
	}
	if got := peak.Load(); got < 2 {
		t.Errorf("peak concurrency = %d, expected work to overlap", got)
	}
}

func TestMapLimitKeepsOrder(t *testing.T) {
	items := []int{5, 1, 4, 2, 3}
	got, err := MapLimit(context.Background(), items, 3, func(_ context.Context, n int) int {
		time.Sleep(time.Duration(n) * time.Millisecond)
		return n * 10
	})
	if err != nil {
		t.Fatalf("MapLimit() error = %v", err)
	}

	want := []int{50, 10, 40, 20, 30}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("MapLimit()[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestForEachLimitStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var calls atomic.Int32
	err := ForEachLimit(ctx, make([]int, 10), 1, func(context.Context, int, int) {
		calls.Add(1)
	})

	if !errors.Is(err, context.Canceled) {
		t.Errorf("ForEachLimit() = %v, want context.Canceled", err)
	}
	if got := calls.Load(); got != 0 {
		t.Errorf("calls = %d, want 0 for a context cancelled up front", got)
	}
}

func TestMapLimitCancelledMidway(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	items := make([]int, 20)
	for i := range items {
		items[i] = i + 1
	}
	got, err := MapLimit(ctx, items, 1, func(_ context.Context, n int) int {
		if n == 1 {
			cancel()
		}
		return n
	})

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("MapLimit() error = %v, want context.Canceled", err)
	}
	if len(got) == 0 || len(got) == len(items) {
		t.Fatalf("MapLimit() returned %d results, want a partial set", len(got))
	}
	for i, n := range got {
		if n == 0 {
			t.Errorf("result %d is a zero value for an item that never ran", i)
		}
	}
}
