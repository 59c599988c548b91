// Package npm publishes package archives to an npm-compatible registry over HTTP.
package npm

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/git-pkgs/publisher/internal/core"
)

const (
	DefaultURL = "https://registry.npmjs.org"
	backend    = "npm"
)

func init() {
	core.Register(backend, func(opts core.Options) (core.Publisher, error) {
		return New(opts)
	})
}

// Publisher uploads archives with the registry's publish endpoint
// (PUT /<name>), the same request npm publish sends.
type Publisher struct {
	baseURL string
	tag     string
	client  *core.Client
	urls    *URLs
}

// New creates an HTTP publisher. The dist tag may not be a valid SemVer
// range, since npm would read such a tag as a version specifier.
func New(opts core.Options) (*Publisher, error) {
	baseURL := opts.Registry
	if baseURL == "" {
		baseURL = DefaultURL
	}
	tag := opts.Tag
	if tag == "" {
		tag = "latest"
	}
	if err := ValidateTag(tag); err != nil {
		return nil, err
	}

	c := opts.Client
	if c == nil {
		c = core.DefaultClient()
	}
	if opts.Token != "" {
		c = c.WithToken(opts.Token)
	}

	p := &Publisher{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		tag:     tag,
		client:  c,
	}
	p.urls = &URLs{baseURL: p.baseURL}
	return p, nil
}

// ValidateTag rejects dist tags that parse as a SemVer range.
func ValidateTag(tag string) error {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return errors.New("dist tag must not be empty")
	}
	if _, err := semver.NewConstraint(tag); err == nil {
		return fmt.Errorf("tag name must not be a valid SemVer range: %s", tag)
	}
	return nil
}

func (p *Publisher) Backend() string {
	return backend
}

func (p *Publisher) URLs() core.URLBuilder {
	return p.urls
}

type distInfo struct {
	Shasum    string `json:"shasum"`
	Tarball   string `json:"tarball"`
	Integrity string `json:"integrity,omitempty"`
}

type attachment struct {
	ContentType string `json:"content_type"`
	Data        string `json:"data"`
	Length      int    `json:"length"`
}

type publishRequest struct {
	ID          string                    `json:"_id"`
	Name        string                    `json:"name"`
	Description string                    `json:"description,omitempty"`
	DistTags    map[string]string         `json:"dist-tags"`
	Versions    map[string]map[string]any `json:"versions"`
	Readme      string                    `json:"readme,omitempty"`
	Attachments map[string]attachment     `json:"_attachments"`
}

// Publish uploads the archive at path. A registry that already holds the
// version yields a *core.PublishError of kind KindAlreadyExists.
func (p *Publisher) Publish(ctx context.Context, path string) (*core.Manifest, error) {
	tb, err := ReadTarball(path)
	if err != nil {
		return nil, &core.PublishError{Kind: core.KindIOFault, Err: err}
	}

	body := p.buildRequest(tb)
	if _, err := p.client.PutJSON(ctx, p.urls.Package(tb.Name), body); err != nil {
		return nil, p.classify(ctx, tb, err)
	}

	return &core.Manifest{
		Name:        tb.Name,
		Version:     tb.Version,
		Description: body.Description,
		DistTags:    body.DistTags,
		Tarball:     p.urls.Tarball(tb.Name, tb.Version),
		Shasum:      tb.Shasum,
		Integrity:   tb.Integrity,
	}, nil
}

func (p *Publisher) buildRequest(tb *Tarball) *publishRequest {
	version := make(map[string]any, len(tb.Manifest)+2)
	for k, v := range tb.Manifest {
		version[k] = v
	}
	version["_id"] = tb.Name + "@" + tb.Version
	version["dist"] = distInfo{
		Shasum:    tb.Shasum,
		Tarball:   p.urls.Tarball(tb.Name, tb.Version),
		Integrity: tb.Integrity,
	}

	description, _ := tb.Manifest["description"].(string)
	readme, _ := tb.Manifest["readme"].(string)

	return &publishRequest{
		ID:          tb.Name,
		Name:        tb.Name,
		Description: description,
		DistTags:    map[string]string{p.tag: tb.Version},
		Versions:    map[string]map[string]any{tb.Version: version},
		Readme:      readme,
		Attachments: map[string]attachment{
			tb.Name + "-" + tb.Version + ".tgz": {
				ContentType: "application/octet-stream",
				Data:        base64.StdEncoding.EncodeToString(tb.Data),
				Length:      len(tb.Data),
			},
		},
	}
}

// classify turns a failed upload into a typed error. Conflict-looking
// answers are confirmed against the registry before they count as
// "already exists".
func (p *Publisher) classify(ctx context.Context, tb *Tarball, err error) error {
	pubErr := &core.PublishError{Kind: core.KindPublishFailed, Name: tb.Name, Version: tb.Version, Err: err}

	var httpErr *core.HTTPError
	if !errors.As(err, &httpErr) || !maybeConflict(httpErr) {
		return pubErr
	}

	pkg, fetchErr := p.FetchManifest(ctx, tb.Name)
	switch {
	case fetchErr == nil && pkg.HasVersion(tb.Version):
		pubErr.Kind = core.KindAlreadyExists
	case fetchErr != nil && mentionsExisting(httpErr.Message()):
		pubErr.Kind = core.KindAlreadyExists
	}
	return pubErr
}

func maybeConflict(e *core.HTTPError) bool {
	if e.IsConflict() {
		return true
	}
	if e.StatusCode == http.StatusForbidden || e.StatusCode == http.StatusBadRequest {
		return mentionsExisting(e.Message())
	}
	return false
}

func mentionsExisting(msg string) bool {
	msg = strings.ToLower(msg)
	for _, s := range []string{"already exist", "over existing version", "over the previously published", "this package is already present"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

type packageResponse struct {
	ID       string                     `json:"_id"`
	Name     string                     `json:"name"`
	DistTags map[string]string          `json:"dist-tags"`
	Versions map[string]json.RawMessage `json:"versions"`
	Time     map[string]string          `json:"time"`
}

// FetchManifest reads the packument for name. A package the registry does
// not know returns an error matching client.ErrNotFound.
func (p *Publisher) FetchManifest(ctx context.Context, name string) (*core.Packument, error) {
	var resp packageResponse
	if err := p.client.GetJSON(ctx, p.urls.Package(name), &resp); err != nil {
		return nil, err
	}

	pkgName := resp.Name
	if pkgName == "" {
		pkgName = resp.ID
	}
	versions := make([]string, 0, len(resp.Versions))
	for v := range resp.Versions {
		versions = append(versions, v)
	}
	sortVersions(versions)

	return &core.Packument{
		Name:     pkgName,
		DistTags: resp.DistTags,
		Versions: versions,
		Metadata: map[string]any{
			"time": resp.Time,
		},
	}, nil
}

// EscapeName encodes a package name for use as a URL path segment, keeping
// the leading "@" of a scope the way the npm client does.
func EscapeName(name string) string {
	if strings.HasPrefix(name, "@") {
		return strings.Replace(name, "/", "%2f", 1)
	}
	return name
}

var _ core.URLBuilder = (*URLs)(nil)

type URLs struct {
	baseURL string
}

func (u *URLs) Package(name string) string {
	return u.baseURL + "/" + EscapeName(name)
}

// Tarball follows the registry layout <registry>/<name>/-/<short name>-<version>.tgz.
func (u *URLs) Tarball(name, version string) string {
	if version == "" {
		return ""
	}
	shortName := name
	if strings.Contains(name, "/") {
		parts := strings.SplitN(name, "/", 2)
		shortName = parts[1]
	}
	return fmt.Sprintf("%s/%s/-/%s-%s.tgz", u.baseURL, name, shortName, version)
}

func (u *URLs) PURL(name, version string) string {
	return core.Archive{Name: name, Version: version}.PURL()
}
