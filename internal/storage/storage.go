// Package storage answers whether a package version is already held in a
// Verdaccio storage directory and repairs disagreements between a package's
// manifest and the archives next to it.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/charmbracelet/log"

	"github.com/git-pkgs/publisher/internal/core"
)

// ManifestFile is the per-package document Verdaccio keeps in storage.
const ManifestFile = "package.json"

// Storage reads and repairs a registry storage directory laid out as
// <dir>/<package name>/package.json plus one archive per version.
type Storage struct {
	dir    string
	logger *log.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New returns a Storage rooted at dir. A nil logger uses the default logger.
func New(dir string, logger *log.Logger) *Storage {
	if logger == nil {
		logger = log.Default()
	}
	return &Storage{
		dir:    dir,
		logger: logger.WithPrefix("storage"),
		locks:  make(map[string]*sync.Mutex),
	}
}

// Dir returns the storage root.
func (s *Storage) Dir() string {
	return s.dir
}

type manifest struct {
	Versions map[string]json.RawMessage `json:"versions"`
}

// Exists reports whether version of package name is listed in storage, and
// repairs the package directory on the way:
//   - an archive on disk for a version the manifest does not list is deleted
//   - a listed version whose archive is missing gets a copy of a.Path
//
// Filesystem and decoding failures are returned as *core.IOError.
func (s *Storage) Exists(ctx context.Context, name, version string, a core.Archive) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	unlock := s.lock(name)
	defer unlock()

	pkgDir := s.PackageDir(name)
	stored := filepath.Join(pkgDir, StoredFilename(a.Filename))

	versions, err := s.readVersions(pkgDir)
	if err != nil {
		return false, err
	}

	_, listed := versions[version]
	archivePresent, err := fileExists(stored)
	if err != nil {
		return false, err
	}

	switch {
	case !listed && archivePresent:
		if err := os.Remove(stored); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return false, &core.IOError{Op: "remove", Path: stored, Err: err}
		}
		s.logger.Info("removed orphan archive", "package", name, "version", version, "path", stored)
	case listed && !archivePresent:
		if err := copyFile(a.Path, stored); err != nil {
			return false, err
		}
		s.logger.Info("restored missing archive", "package", name, "version", version, "path", stored)
	}

	return listed, nil
}

// PackageDir returns the storage directory of package name.
func (s *Storage) PackageDir(name string) string {
	return filepath.Join(s.dir, filepath.FromSlash(name))
}

// Versions returns the versions listed for name, newest first. Entries that
// are not valid semantic versions sort last, alphabetically.
func (s *Storage) Versions(name string) ([]string, error) {
	versions, err := s.readVersions(s.PackageDir(name))
	if err != nil {
		return nil, err
	}

	var parsed semver.Collection
	var other []string
	for v := range versions {
		sv, err := semver.NewVersion(v)
		if err != nil {
			other = append(other, v)
			continue
		}
		parsed = append(parsed, sv)
	}
	sort.Sort(sort.Reverse(parsed))
	sort.Strings(other)

	out := make([]string, 0, len(versions))
	for _, v := range parsed {
		out = append(out, v.Original())
	}
	return append(out, other...), nil
}

// readVersions returns the manifest's version map, or nil when the package
// has no manifest.
func (s *Storage) readVersions(pkgDir string) (map[string]json.RawMessage, error) {
	path := filepath.Join(pkgDir, ManifestFile)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, &core.IOError{Op: "read", Path: path, Err: err}
	}

	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, &core.IOError{Op: "decode", Path: path, Err: err}
	}
	return m.Versions, nil
}

func (s *Storage) lock(name string) func() {
	s.mu.Lock()
	l, ok := s.locks[name]
	if !ok {
		l = &sync.Mutex{}
		s.locks[name] = l
	}
	s.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// StoredFilename returns the name Verdaccio gives an inbox archive in storage.
// Scoped archives lose their leading "@scope-" segment:
// "@babel-core-7.24.0.tgz" is stored as "core-7.24.0.tgz".
func StoredFilename(filename string) string {
	if !strings.HasPrefix(filename, "@") || len(filename) < 2 {
		return filename
	}
	i := strings.Index(filename[2:], "-")
	if i < 0 || 2+i+1 >= len(filename) {
		return filename
	}
	return filename[2+i+1:]
}

func fileExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, &core.IOError{Op: "stat", Path: path, Err: err}
}

// copyFile writes src to dst through a temporary file in dst's directory so
// readers never observe a partial archive.
func copyFile(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return &core.IOError{Op: "open", Path: src, Err: err}
	}
	defer func() { _ = in.Close() }()

	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*")
	if err != nil {
		return &core.IOError{Op: "create", Path: dst, Err: err}
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err = io.Copy(tmp, in); err != nil {
		_ = tmp.Close()
		return &core.IOError{Op: "copy", Path: dst, Err: err}
	}
	if err = tmp.Close(); err != nil {
		return &core.IOError{Op: "close", Path: dst, Err: err}
	}
	if err = os.Chmod(tmp.Name(), 0o644); err != nil {
		return &core.IOError{Op: "chmod", Path: dst, Err: err}
	}
	if err = os.Rename(tmp.Name(), dst); err != nil {
		return &core.IOError{Op: "rename", Path: dst, Err: err}
	}
	return nil
}
