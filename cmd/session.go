package cmd

import (
	"context"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"gitlab.com/lmn-dev/lmn/cmd/backend"
	"gitlab.com/lmn-dev/lmn/db"
	"gitlab.com/lmn-dev/lmn/db/repositories"
	"gitlab.com/lmn-dev/lmn/internal/config"
	"gitlab.com/lmn-dev/lmn/internal/logger"
	"gitlab.com/lmn-dev/lmn/internal/tracing"
)

// globals are the persistent flags of the root command.
type globals struct {
	verbose bool
	dryRun  bool
}

// session is the state every machine command starts from: configuration of the current
// project, a logger, tracing and the launch log.
type session struct {
	cfg  *config.Config
	cwd  string
	root string
	log  *zap.Logger

	launches repositories.LaunchRepository
	closers  []func(context.Context) error
}

func openSession(ctx context.Context, cmd *cobra.Command, b backend.Backend, g *globals) (*session, error) {
	log := logger.New(logger.Options{Debug: g.verbose, Out: cmd.ErrOrStderr()})

	home, err := b.HomeDir()
	if err != nil {
		return nil, err
	}
	cwd, err := b.Getwd()
	if err != nil {
		return nil, err
	}

	loader := config.NewLoader(b.FileSystem(), home, log)
	root, err := loader.FindProjectRoot(cwd)
	if err != nil {
		return nil, err
	}
	cfg, err := loader.Load(root)
	if err != nil {
		return nil, err
	}

	if cfg.Settings.Debug || cfg.Settings.LogFile != "" {
		log = logger.New(logger.Options{
			Debug: g.verbose || cfg.Settings.Debug,
			File:  cfg.Settings.LogFile,
			Out:   cmd.ErrOrStderr(),
		})
	}

	s := &session{cfg: cfg, cwd: cwd, root: root, log: log}

	shutdown, err := tracing.InitTracer(ctx, cfg.Settings.OTLPEndpoint, Version)
	if err != nil {
		log.Sugar().Warnf("tracing disabled: %v", err)
	} else {
		s.closers = append(s.closers, shutdown)
	}

	s.openLaunches(ctx, b, g.dryRun)
	return s, nil
}

// openLaunches opens the launch log and drops expired records. The launch log is
// optional: failures are logged and the session continues without it.
func (s *session) openLaunches(ctx context.Context, b backend.Backend, dryRun bool) {
	path := s.cfg.Settings.Database
	if dryRun {
		path = db.InMemory
	}
	repo, closer, err := b.Launches(path)
	if err != nil {
		s.log.Sugar().Warnf("launch log unavailable: %v", err)
		return
	}
	s.launches = repo
	s.closers = append(s.closers, closeWith(closer))

	n, err := repo.Prune(ctx, time.Now().Add(-repositories.LaunchRetention))
	if err != nil {
		s.log.Sugar().Warnf("could not prune the launch log: %v", err)
	} else if n > 0 {
		s.log.Sugar().Debugf("pruned %d launch records", n)
	}
}

// Close releases everything in reverse order of acquisition.
func (s *session) Close(ctx context.Context) error {
	var err error
	for i := len(s.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, s.closers[i](ctx))
	}
	_ = s.log.Sync()
	return err
}

func closeWith(c io.Closer) func(context.Context) error {
	return func(context.Context) error {
		return c.Close()
	}
}
