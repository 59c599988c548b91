// Package core provides shared types, errors and the publish backend registry.
package core

import "strings"

// Archive is a package archive found in the inbox, identified by the
// package name and version encoded in its filename.
type Archive struct {
	Name     string // full npm name, "@scope/name" for scoped packages
	Version  string
	Filename string // canonical filename, without the -latest marker
	Path     string // absolute path on disk
}

// Scope returns the "@scope" part of a scoped package name, or "".
func (a Archive) Scope() string {
	if strings.HasPrefix(a.Name, "@") && strings.Contains(a.Name, "/") {
		return strings.SplitN(a.Name, "/", 2)[0]
	}
	return ""
}

// ShortName returns the package name without its scope.
func (a Archive) ShortName() string {
	if scope := a.Scope(); scope != "" {
		return a.Name[len(scope)+1:]
	}
	return a.Name
}

// Task tracks one archive through a single batch.
type Task struct {
	Archive

	// Exists is resolved once by the existence oracle.
	Exists bool

	// Published and Err are only set for tasks with Exists == false,
	// after the publish attempt.
	Published bool
	Err       error
}

// Manifest is the registry's view of one published version.
type Manifest struct {
	Name        string
	Version     string
	Description string
	DistTags    map[string]string
	Tarball     string
	Shasum      string
	Integrity   string // sha512-...
}

// Packument is the full registry document for a package.
type Packument struct {
	Name     string
	DistTags map[string]string
	Versions []string
	Metadata map[string]any // registry-specific data
}

// HasVersion reports whether the packument lists version.
func (p *Packument) HasVersion(version string) bool {
	for _, v := range p.Versions {
		if v == version {
			return true
		}
	}
	return false
}
