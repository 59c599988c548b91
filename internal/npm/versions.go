package npm

import (
	"sort"

	"github.com/Masterminds/semver/v3"
)

// sortVersions orders versions ascending by SemVer precedence, with
// unparseable entries last.
func sortVersions(versions []string) {
	sort.SliceStable(versions, func(i, j int) bool {
		vi, erri := semver.NewVersion(versions[i])
		vj, errj := semver.NewVersion(versions[j])
		switch {
		case erri != nil && errj != nil:
			return versions[i] < versions[j]
		case erri != nil:
			return false
		case errj != nil:
			return true
		}
		return vi.LessThan(vj)
	})
}
