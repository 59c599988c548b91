package core

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Publisher is the publish primitive the pipeline invokes for every archive
// that is missing from registry storage.
type Publisher interface {
	// Backend returns the name the publisher was registered under.
	Backend() string

	// Publish uploads the archive at path. Implementations return an error
	// wrapping ErrAlreadyExists when the registry already holds the version.
	Publish(ctx context.Context, path string) (*Manifest, error)
}

// ManifestFetcher is implemented by publishers that can read package
// metadata back from the registry.
type ManifestFetcher interface {
	FetchManifest(ctx context.Context, name string) (*Packument, error)
}

// Options carries the settings a publish backend is created with.
type Options struct {
	Registry string // registry base URL
	Token    string
	Tag      string // dist-tag, "latest" when empty
	Client   *Client
}

// Factory creates a publisher for the given options.
type Factory func(opts Options) (Publisher, error)

var (
	factories = make(map[string]Factory)
	mu        sync.RWMutex
)

// Register adds a publish backend factory under name.
func Register(name string, factory Factory) {
	mu.Lock()
	defer mu.Unlock()
	factories[name] = factory
}

// New creates a publisher for the named backend.
// If opts.Client is nil, DefaultClient() is used.
func New(backend string, opts Options) (Publisher, error) {
	mu.RLock()
	factory, ok := factories[backend]
	mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown publish backend: %s", backend)
	}
	if opts.Registry == "" {
		return nil, fmt.Errorf("publish backend %s: registry address is required", backend)
	}
	if opts.Tag == "" {
		opts.Tag = "latest"
	}
	if opts.Client == nil {
		opts.Client = DefaultClient()
	}

	return factory(opts)
}

// SupportedBackends returns all registered backend names, sorted.
func SupportedBackends() []string {
	mu.RLock()
	defer mu.RUnlock()

	backends := make([]string, 0, len(factories))
	for name := range factories {
		backends = append(backends, name)
	}
	sort.Strings(backends)
	return backends
}
