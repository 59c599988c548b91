package core

import (
	packageurl "github.com/package-url/packageurl-go"
)

// PURL returns the package URL of the archive, e.g. pkg:npm/%40babel/core@7.24.0.
func (a Archive) PURL() string {
	p := packageurl.NewPackageURL(packageurl.TypeNPM, a.Scope(), a.ShortName(), a.Version, nil, "")
	return p.ToString()
}
