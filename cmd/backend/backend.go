package backend

import (
	"context"
	"io"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"gitlab.com/lmn-dev/lmn/db/repositories"
	"gitlab.com/lmn-dev/lmn/executor"
	"gitlab.com/lmn-dev/lmn/executor/docker"
	"gitlab.com/lmn-dev/lmn/internal/config"
	"gitlab.com/lmn-dev/lmn/internal/rsync"
	"gitlab.com/lmn-dev/lmn/models"
)

// Environment abstracts the local machine the CLI runs on
type Environment interface {
	FileSystem() afero.Fs
	HomeDir() (string, error)
	Getwd() (string, error)
}

// RemoteCloser is a shell on a machine that holds a connection
type RemoteCloser interface {
	executor.Remote
	io.Closer
}

// Machines opens connections to configured machines
type Machines interface {
	// Remote returns an ssh connection, or a recording remote on dry run.
	Remote(m *config.Machine, settings config.Settings, dryRun bool, log *zap.Logger) (RemoteCloser, error)
	// Docker connects to the docker daemon of the machine.
	Docker(m *config.Machine, log *zap.Logger) (*docker.Client, error)
}

// Syncer transfers the project tree and its output
type Syncer interface {
	Code(ctx context.Context, root string, layout models.DirectoryLayout, exclude []string) error
	Output(ctx context.Context, remote executor.Remote, layout models.DirectoryLayout, outdir string) error
}

// Transfers builds a Syncer for a machine
type Transfers interface {
	Syncer(m *config.Machine, dryRun bool, log *zap.Logger) Syncer
}

// LaunchStore opens the launch log
type LaunchStore interface {
	Launches(path string) (repositories.LaunchRepository, io.Closer, error)
}

// Backend groups everything commands need from the outside world
type Backend interface {
	Environment
	Machines
	Transfers
	LaunchStore
}

// Target converts a machine into an rsync target.
func Target(m *config.Machine) rsync.Target {
	return rsync.Target{
		Address:      m.Address(),
		Host:         m.Host,
		Port:         m.Port,
		IdentityFile: m.IdentityFile,
	}
}
