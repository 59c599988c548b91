package npm

import (
	"archive/tar"
	"bufio"
	"bytes"
	"crypto/sha1"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/klauspost/compress/gzip"

	"github.com/git-pkgs/publisher/internal/core"
)

// maxManifestSize bounds how much of package.json is read from a tarball.
const maxManifestSize = 4 << 20

var errNoManifest = errors.New("no package.json at the top of the archive")

// Tarball is a package archive loaded for upload.
type Tarball struct {
	Name    string
	Version string

	// Manifest is package.json as found in the archive, every field kept.
	Manifest map[string]any

	Data      []byte
	Shasum    string // hex sha1
	Integrity string // sha512-<base64>
}

// ReadTarball loads the archive at path and extracts its package.json.
// Gzip-compressed and plain tar archives are both accepted.
func ReadTarball(path string) (*Tarball, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &core.IOError{Op: "read", Path: path, Err: err}
	}

	manifest, err := readManifest(data)
	if err != nil {
		return nil, &core.IOError{Op: "extract", Path: path, Err: err}
	}

	name, _ := manifest["name"].(string)
	version, _ := manifest["version"].(string)
	if name == "" || version == "" {
		return nil, &core.IOError{Op: "extract", Path: path, Err: fmt.Errorf("package.json is missing name or version")}
	}

	sha1sum := sha1.Sum(data)
	sha512sum := sha512.Sum512(data)

	return &Tarball{
		Name:      name,
		Version:   version,
		Manifest:  manifest,
		Data:      data,
		Shasum:    hex.EncodeToString(sha1sum[:]),
		Integrity: "sha512-" + base64.StdEncoding.EncodeToString(sha512sum[:]),
	}, nil
}

func readManifest(data []byte) (map[string]any, error) {
	var r io.Reader = bytes.NewReader(data)
	br := bufio.NewReader(r)
	if magic, err := br.Peek(2); err == nil && magic[0] == 0x1f && magic[1] == 0x8b {
		gz, err := gzip.NewReader(br)
		if err != nil {
			return nil, err
		}
		defer func() { _ = gz.Close() }()
		r = gz
	} else {
		r = br
	}

	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil, errNoManifest
		}
		if err != nil {
			return nil, err
		}
		if hdr.Typeflag != tar.TypeReg || !isRootManifest(hdr.Name) {
			continue
		}

		var manifest map[string]any
		dec := json.NewDecoder(io.LimitReader(tr, maxManifestSize))
		if err := dec.Decode(&manifest); err != nil {
			return nil, fmt.Errorf("decoding package.json: %w", err)
		}
		return manifest, nil
	}
}

// isRootManifest matches "<dir>/package.json" one level deep. npm packs
// under "package/" but older tools used the package name as the directory.
func isRootManifest(name string) bool {
	name = strings.TrimPrefix(path.Clean(name), "./")
	dir, file := path.Split(name)
	return file == "package.json" && dir != "" && !strings.Contains(strings.TrimSuffix(dir, "/"), "/")
}
