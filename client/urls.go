package client

// URLBuilder constructs URLs for a registry.
type URLBuilder interface {
	Package(name string) string
	Tarball(name, version string) string
	PURL(name, version string) string
}

// BuildURLs returns a map of all non-empty URLs for a package version.
// Keys are "package", "tarball" and "purl".
func BuildURLs(urls URLBuilder, name, version string) map[string]string {
	result := make(map[string]string)
	if v := urls.Package(name); v != "" {
		result["package"] = v
	}
	if v := urls.Tarball(name, version); v != "" {
		result["tarball"] = v
	}
	if v := urls.PURL(name, version); v != "" {
		result["purl"] = v
	}
	return result
}
