// Package publisher moves npm package archives into a Verdaccio registry.
//
// Archives are named [@scope-]name-version[-latest].(tgz|tar). Each one is
// checked against Verdaccio's on-disk storage and only the missing ones are
// published, through a pluggable backend.
//
// Basic usage:
//
//	import (
//		"context"
//		"github.com/git-pkgs/publisher"
//		_ "github.com/git-pkgs/publisher/all"
//	)
//
//	pub, err := publisher.New("npm", publisher.Options{
//		Registry: "http://localhost:4873",
//		Token:    os.Getenv("NPM_TOKEN"),
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	m, err := pub.Publish(context.Background(), "lodash-4.17.21.tgz")
//	if publisher.IsAlreadyExists(err) {
//		// the registry already has this version
//	}
//
// The publisher command in cmd/publisher runs the full inbox pipeline.
package publisher

import (
	"github.com/git-pkgs/publisher/client"
	"github.com/git-pkgs/publisher/internal/core"
	"github.com/git-pkgs/publisher/internal/filename"
)

// Re-export types from internal/core
type (
	// Publisher is the interface implemented by every publish backend.
	Publisher = core.Publisher

	// ManifestFetcher is implemented by backends that can read package
	// metadata back from the registry.
	ManifestFetcher = core.ManifestFetcher

	// Options configures a publish backend.
	Options = core.Options

	// Archive is a package archive identified by its filename.
	Archive = core.Archive

	// Manifest describes one published version.
	Manifest = core.Manifest

	// Packument is the full registry document for a package.
	Packument = core.Packument

	// ErrorKind classifies a failed publish.
	ErrorKind = core.ErrorKind
)

// Re-export types from client
type (
	// Client is an HTTP client with retry logic for registry APIs.
	Client = client.Client

	// URLBuilder constructs URLs for a registry.
	URLBuilder = client.URLBuilder

	// RateLimiter controls request pacing.
	RateLimiter = client.RateLimiter
)

// Re-export constants
const (
	KindAlreadyExists = core.KindAlreadyExists
	KindPublishFailed = core.KindPublishFailed
	KindIOFault       = core.KindIOFault
)

// Re-export errors
var (
	ErrAlreadyExists = core.ErrAlreadyExists
	ErrPublishFailed = core.ErrPublishFailed
	ErrIOFault       = core.ErrIOFault
	ErrNotFound      = client.ErrNotFound
)

// Error types
type (
	ParseError   = core.ParseError
	IOError      = core.IOError
	PublishError = core.PublishError
	HTTPError    = client.HTTPError
)

// New creates a publisher for the named backend.
// If opts.Client is nil, DefaultClient() is used.
func New(backend string, opts Options) (Publisher, error) {
	return core.New(backend, opts)
}

// SupportedBackends returns all registered backend names.
// Note: backends must be imported to be registered.
func SupportedBackends() []string {
	return core.SupportedBackends()
}

// IsAlreadyExists reports whether err means the registry already holds the version.
func IsAlreadyExists(err error) bool {
	return core.IsAlreadyExists(err)
}

// DefaultClient returns a client with sensible defaults:
// - 5m timeout
// - 3 retries with exponential backoff
// - Retry on 429 and 5xx responses
func DefaultClient() *Client {
	return client.DefaultClient()
}

// NewClient creates a new client with the given options.
func NewClient(opts ...Option) *Client {
	return client.NewClient(opts...)
}

// Option configures a Client.
type Option = client.Option

// WithTimeout sets the HTTP client timeout.
var WithTimeout = client.WithTimeout

// WithMaxRetries sets the maximum number of retries.
var WithMaxRetries = client.WithMaxRetries

// BuildURLs returns a map of all non-empty URLs for a package version.
// Keys are "package", "tarball" and "purl".
func BuildURLs(urls URLBuilder, name, version string) map[string]string {
	return client.BuildURLs(urls, name, version)
}

// ParseArchive parses the package name and version out of an archive path.
func ParseArchive(path string) (Archive, error) {
	return filename.ToArchive(path)
}

// ArchiveFilename builds the canonical filename for name and version.
// ext defaults to ".tgz".
func ArchiveFilename(name, version, ext string) string {
	return filename.Format(name, version, ext)
}
