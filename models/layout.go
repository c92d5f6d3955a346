package models

import (
	"path"
)

const (
	// ContainerRootDir is where the project tree is bound inside docker and singularity.
	ContainerRootDir = "/lmn"

	// DefaultRemoteRootDir is used when a machine does not configure root_dir.
	// A per-user subdirectory keeps /tmp/lmn from being owned by whoever ran first.
	DefaultRemoteRootDir = "/tmp"
)

// DirectoryLayout holds the four directories lmn keeps per (machine, project).
type DirectoryLayout struct {
	Code   string `json:"code"`
	Mount  string `json:"mount"`
	Output string `json:"output"`
	Script string `json:"script"`
}

// NewLayout derives the layout rooted at <root>/<project>.
func NewLayout(root, project string) DirectoryLayout {
	base := path.Join(root, project)
	return DirectoryLayout{
		Code:   path.Join(base, "code"),
		Mount:  path.Join(base, "mount"),
		Output: path.Join(base, "output"),
		Script: path.Join(base, "script"),
	}
}

// ContainerLayout is the layout seen from inside a container.
func ContainerLayout(project string) DirectoryLayout {
	return NewLayout(ContainerRootDir, project)
}

// Workdir joins the code directory with a path relative to the project root.
func (l DirectoryLayout) Workdir(rel string) string {
	return path.Join(l.Code, rel)
}

// Dirs returns the directories in a stable order.
func (l DirectoryLayout) Dirs() []string {
	return []string{l.Code, l.Mount, l.Output, l.Script}
}

// HostRoot returns the remote lmn root for a user, honouring a configured root_dir.
func HostRoot(rootDir, user string) string {
	if rootDir == "" {
		return path.Join(DefaultRemoteRootDir, user, "lmn")
	}
	return path.Join(rootDir, user)
}
