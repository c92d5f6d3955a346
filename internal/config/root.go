package config

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/afero"
)

func (l *Loader) isProjectRoot(dir string) bool {
	if ok, _ := afero.IsDir(l.fs, filepath.Join(dir, ".git")); ok {
		return true
	}
	for _, name := range LocalConfigNames {
		if ok, _ := afero.Exists(l.fs, filepath.Join(dir, name)); ok {
			return true
		}
	}
	return false
}

// FindProjectRoot walks up from cwd looking for a .git directory or a local config file.
// When none is found cwd is used, unless it is / or the home directory: syncing either of
// those to a remote machine is never intended.
func (l *Loader) FindProjectRoot(cwd string) (string, error) {
	dir := filepath.Clean(cwd)
	for {
		if l.isProjectRoot(dir) {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	cwd = filepath.Clean(cwd)
	l.log.Warn(".git directory or .lmn.json5 file not found in the ancestor directories. " +
		"Setting project root to current directory")
	switch cwd {
	case string(filepath.Separator):
		return "", fmt.Errorf("project root detected is the system root %q; refusing to sync the entire disk", cwd)
	case filepath.Clean(l.home):
		return "", fmt.Errorf("project root detected is the home directory %q; refusing to sync it to a remote machine", cwd)
	}
	return cwd, nil
}
