// Package storage resolves where scopechain looks for configuration.
package storage

import (
	"os"
	"path/filepath"
	"sync"
)

const appName = "scopechain"

// Dirs holds user-level directories.
type Dirs struct {
	Config string
}

// ProjectDirs holds project-local paths.
type ProjectDirs struct {
	Root   string // .scopechain/
	Config string // .scopechain/config.yaml (committed)
	Local  string // .scopechain/local/ (gitignored)
}

var (
	globalDirs     *Dirs
	globalDirsOnce sync.Once
)

// ResolveDirs returns platform-appropriate directories, honouring
// XDG_CONFIG_HOME. The result is cached after the first call.
func ResolveDirs() *Dirs {
	globalDirsOnce.Do(func() {
		globalDirs = &Dirs{
			Config: resolveDir("XDG_CONFIG_HOME", platformConfigDefault()),
		}
	})
	return globalDirs
}

func resolveDir(envVar, fallback string) string {
	if dir := os.Getenv(envVar); dir != "" {
		return filepath.Join(dir, appName)
	}
	return fallback
}

func ResolveProjectDirs(projectRoot string) *ProjectDirs {
	root := filepath.Join(projectRoot, "."+appName)
	return &ProjectDirs{
		Root:   root,
		Config: filepath.Join(root, "config.yaml"),
		Local:  filepath.Join(root, "local"),
	}
}

// ConfigDir returns a path below the config directory.
func (d *Dirs) ConfigDir(subpath ...string) string {
	return filepath.Join(append([]string{d.Config}, subpath...)...)
}
