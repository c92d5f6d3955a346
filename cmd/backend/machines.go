package backend

import (
	"io"
	"strconv"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"gitlab.com/lmn-dev/lmn/db"
	"gitlab.com/lmn-dev/lmn/db/repositories"
	repositories_gorm "gitlab.com/lmn-dev/lmn/db/repositories/gorm"
	"gitlab.com/lmn-dev/lmn/executor"
	"gitlab.com/lmn-dev/lmn/executor/docker"
	"gitlab.com/lmn-dev/lmn/executor/ssh"
	"gitlab.com/lmn-dev/lmn/internal/config"
	"gitlab.com/lmn-dev/lmn/internal/rsync"
)

// Local reaches machines from the workstation lmn runs on
type Local struct {
	OS

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

var _ Backend = (*Local)(nil)

func (l *Local) Remote(m *config.Machine, settings config.Settings, dryRun bool, log *zap.Logger) (RemoteCloser, error) {
	if dryRun {
		return dryRemote{executor.NewDryRun(log)}, nil
	}
	client := ssh.NewClient(ssh.Config{
		Host:         m.Host,
		User:         m.User,
		Port:         m.Port,
		IdentityFile: m.IdentityFile,
		Timeout:      settings.SSHTimeout,
		UseSetenv:    m.UseSetenv,
	}, log)
	if l.Stdin != nil {
		client.Stdin = l.Stdin
	}
	if l.Stdout != nil {
		client.Stdout = l.Stdout
	}
	if l.Stderr != nil {
		client.Stderr = l.Stderr
	}
	return client, nil
}

// Docker talks to the daemon of m through the docker CLI installed on it.
func (l *Local) Docker(m *config.Machine, log *zap.Logger) (*docker.Client, error) {
	return docker.NewClient(DockerHost(m), log)
}

func (l *Local) Syncer(m *config.Machine, dryRun bool, log *zap.Logger) Syncer {
	s := rsync.NewSyncer(Target(m), dryRun, log)
	if l.Stdout != nil {
		s.Stdout = l.Stdout
	}
	if l.Stderr != nil {
		s.Stderr = l.Stderr
	}
	return s
}

func (l *Local) Launches(path string) (repositories.LaunchRepository, io.Closer, error) {
	conn, err := db.Open(path)
	if err != nil {
		return nil, nil, err
	}
	return repositories_gorm.NewLaunchRepository(conn), dbCloser{conn}, nil
}

// DockerHost is the ssh:// address of the machine's docker daemon.
func DockerHost(m *config.Machine) string {
	host := "ssh://" + m.Address()
	if m.Port != 0 && m.Port != 22 {
		host += ":" + strconv.Itoa(m.Port)
	}
	return host
}

type dryRemote struct {
	*executor.DryRun
}

func (dryRemote) Close() error { return nil }

type dbCloser struct {
	conn *gorm.DB
}

func (c dbCloser) Close() error {
	return db.Close(c.conn)
}
