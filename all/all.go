// Package all imports every publish backend.
//
// Import this package for its side effects to register the backends:
//
//	import (
//		"github.com/git-pkgs/publisher"
//		_ "github.com/git-pkgs/publisher/all"
//	)
//
//	// Now all backends are available
//	backends := publisher.SupportedBackends()
//	// ["npm", "npm-cli"]
package all

import (
	_ "github.com/git-pkgs/publisher/internal/npm"
	_ "github.com/git-pkgs/publisher/internal/npmcli"
)
