// Package filename parses and renders archive filenames of the form
// [@scope-]name-version[-latest].(tgz|tar).
package filename

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/git-pkgs/publisher/internal/core"
)

// LatestMarker is the producer's "newest build" flag. It never belongs to the version.
const LatestMarker = "-latest"

var (
	// The version suffix is optional and lazy so a trailing -latest binds to
	// the marker group rather than the version.
	pattern     = regexp.MustCompile(`^(?:(@[\w.]+?)-)?([\w.-]+?)-(\d+\.\d+\.\d+(?:\S+?)??)(?:-latest)?\.(?:tgz|tar)$`)
	namePattern = regexp.MustCompile(`^[\w.-]+$`)
	tailPattern = regexp.MustCompile(`^(\d+\.\d+\.\d+(?:\S+?)??)(?:-latest)?\.(?:tgz|tar)$`)
	coreVersion = regexp.MustCompile(`^\d+\.\d+\.\d+`)
)

// Extensions lists the archive extensions the inbox accepts.
var Extensions = []string{".tgz", ".tar"}

// Parsed is the package identity encoded in an archive filename.
type Parsed struct {
	Name    string
	Version string
}

// Parse extracts the package name and version from an archive filename.
// A scoped filename "@scope-name-1.0.0.tgz" yields the npm name "@scope/name".
func Parse(filename string) (Parsed, error) {
	m := pattern.FindStringSubmatch(filename)
	if m == nil {
		return Parsed{}, &core.ParseError{Filename: filename}
	}
	scope, name, version := m[1], m[2], m[3]

	// A version suffix may not open with the marker. Look for a longer name
	// instead: "a-1.0.0-latest-2.0.0.tgz" is a-1.0.0-latest at 2.0.0.
	if opensWithMarker(version) {
		rest := filename
		if scope != "" {
			rest = filename[len(scope)+1:]
		}
		var ok bool
		name, version, ok = split(rest, len(name)+1)
		if !ok {
			return Parsed{}, &core.ParseError{Filename: filename}
		}
	}

	if scope != "" {
		name = scope + "/" + name
	}
	if version == "" {
		log.Warn("archive version is empty", "filename", filename)
	}
	return Parsed{Name: name, Version: version}, nil
}

func opensWithMarker(version string) bool {
	base := coreVersion.FindString(version)
	return strings.HasPrefix(version[len(base):], LatestMarker)
}

// split finds the shortest name of at least from bytes in rest that is
// followed by a version not opening with the marker.
func split(rest string, from int) (name, version string, ok bool) {
	for i := from; i < len(rest); i++ {
		if rest[i] != '-' {
			continue
		}
		if !namePattern.MatchString(rest[:i]) {
			return "", "", false
		}
		m := tailPattern.FindStringSubmatch(rest[i+1:])
		if m == nil || opensWithMarker(m[1]) {
			continue
		}
		return rest[:i], m[1], true
	}
	return "", "", false
}

// Format renders the archive filename for name and version. ext defaults to ".tgz".
func Format(name, version, ext string) string {
	if ext == "" {
		ext = ".tgz"
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return strings.Replace(name, "/", "-", 1) + "-" + version + ext
}

// IsArchive reports whether name carries an archive extension.
func IsArchive(name string) bool {
	for _, ext := range Extensions {
		if strings.HasSuffix(name, ext) {
			return true
		}
	}
	return false
}

// Canonical strips a -latest marker placed directly before the extension.
// Any other filename is returned unchanged.
func Canonical(name string) string {
	for _, ext := range Extensions {
		if strings.HasSuffix(name, LatestMarker+ext) {
			return strings.TrimSuffix(name, LatestMarker+ext) + ext
		}
	}
	return name
}

// Canonicalize renames the file at path to its canonical name and returns the
// new path. Files that are already canonical are not touched.
func Canonicalize(path string) (string, error) {
	dir, base := filepath.Split(path)
	canonical := Canonical(base)
	if canonical == base {
		return path, nil
	}
	dst := filepath.Join(dir, canonical)
	if err := os.Rename(path, dst); err != nil {
		return path, &core.IOError{Op: "rename", Path: path, Err: err}
	}
	return dst, nil
}

// ToArchive parses the base name of path into an archive.
func ToArchive(path string) (core.Archive, error) {
	base := filepath.Base(path)
	p, err := Parse(base)
	if err != nil {
		return core.Archive{}, err
	}
	return core.Archive{
		Name:     p.Name,
		Version:  p.Version,
		Filename: base,
		Path:     path,
	}, nil
}
