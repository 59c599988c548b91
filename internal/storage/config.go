package storage

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/git-pkgs/publisher/internal/core"
)

// DefaultDir is Verdaccio's storage path when its config does not set one.
const DefaultDir = "./storage"

type verdaccioConfig struct {
	Storage string `yaml:"storage"`
}

// DirFromConfig reads a Verdaccio config file and returns its storage
// directory. Relative paths resolve against the config file's directory.
func DirFromConfig(configPath string) (string, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return "", &core.IOError{Op: "read", Path: configPath, Err: err}
	}

	var cfg verdaccioConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return "", &core.IOError{Op: "decode", Path: configPath, Err: err}
	}

	dir := cfg.Storage
	if dir == "" {
		dir = DefaultDir
	}
	if !filepath.IsAbs(dir) {
		abs, err := filepath.Abs(configPath)
		if err != nil {
			return "", &core.IOError{Op: "resolve", Path: configPath, Err: err}
		}
		dir = filepath.Join(filepath.Dir(abs), dir)
	}
	return filepath.Clean(dir), nil
}
