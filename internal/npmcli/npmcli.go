// Package npmcli publishes archives by running the npm command line client.
package npmcli

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"strings"

	"github.com/git-pkgs/publisher/internal/core"
	"github.com/git-pkgs/publisher/internal/npm"
)

const backend = "npm-cli"

func init() {
	core.Register(backend, func(opts core.Options) (core.Publisher, error) {
		return New(opts, "")
	})
}

// Publisher shells out to `npm publish`. Registry reads go through the HTTP
// backend so FetchManifest behaves the same for both.
type Publisher struct {
	bin      string
	registry string
	tag      string
	token    string
	http     *npm.Publisher
}

// New creates a CLI publisher. bin is the npm executable, "npm" when empty.
func New(opts core.Options, bin string) (*Publisher, error) {
	if bin == "" {
		bin = "npm"
	}
	h, err := npm.New(opts)
	if err != nil {
		return nil, err
	}
	tag := opts.Tag
	if tag == "" {
		tag = "latest"
	}
	return &Publisher{
		bin:      bin,
		registry: strings.TrimSuffix(opts.Registry, "/") + "/",
		tag:      tag,
		token:    opts.Token,
		http:     h,
	}, nil
}

func (p *Publisher) Backend() string {
	return backend
}

// Publish runs npm publish for the archive at path.
func (p *Publisher) Publish(ctx context.Context, path string) (*core.Manifest, error) {
	tb, err := npm.ReadTarball(path)
	if err != nil {
		return nil, &core.PublishError{Kind: core.KindIOFault, Err: err}
	}

	cmd := exec.CommandContext(ctx, p.bin, "publish", path, "--registry="+p.registry, "--tag="+p.tag)
	cmd.Env = os.Environ()
	if p.token != "" {
		cmd.Env = append(cmd.Env, authEnv(p.registry, p.token))
	}
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	if err := cmd.Run(); err != nil {
		kind := core.KindPublishFailed
		if alreadyPublished(out.String()) {
			kind = core.KindAlreadyExists
		}
		return nil, &core.PublishError{
			Kind:    kind,
			Name:    tb.Name,
			Version: tb.Version,
			Err:     fmt.Errorf("%s publish: %w: %s", p.bin, err, lastLine(out.String())),
		}
	}

	urls := p.http.URLs()
	return &core.Manifest{
		Name:      tb.Name,
		Version:   tb.Version,
		DistTags:  map[string]string{p.tag: tb.Version},
		Tarball:   urls.Tarball(tb.Name, tb.Version),
		Shasum:    tb.Shasum,
		Integrity: tb.Integrity,
	}, nil
}

func (p *Publisher) FetchManifest(ctx context.Context, name string) (*core.Packument, error) {
	return p.http.FetchManifest(ctx, name)
}

// authEnv scopes the token to the registry host the way .npmrc does.
func authEnv(registry, token string) string {
	key := "//" + strings.TrimPrefix(strings.TrimPrefix(registry, "https://"), "http://")
	if u, err := url.Parse(registry); err == nil && u.Host != "" {
		key = "//" + u.Host + strings.TrimSuffix(u.Path, "/") + "/"
	}
	return "npm_config_" + key + ":_authToken=" + token
}

// alreadyPublished recognises npm's messages for a version the registry holds.
func alreadyPublished(output string) bool {
	output = strings.ToLower(output)
	for _, s := range []string{"epublishconflict", "over existing version", "over the previously published", "already present", "already exists"} {
		if strings.Contains(output, s) {
			return true
		}
	}
	return false
}

func lastLine(output string) string {
	lines := strings.Split(strings.TrimSpace(output), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
