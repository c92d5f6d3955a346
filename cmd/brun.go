package cmd

import (
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"gitlab.com/lmn-dev/lmn/cmd/backend"
	"gitlab.com/lmn-dev/lmn/executor"
	"gitlab.com/lmn-dev/lmn/executor/env"
	"gitlab.com/lmn-dev/lmn/models"
)

func NewBrunCmd(b backend.Backend, g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "brun <machine> -- <command>",
		Short: "Run a command on a machine without syncing",
		Long:  "Run <command> in the login shell of <machine>, with the configured startup and environment but no sync, workdir or container.",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return bareRun(cmd, b, g, args[0], strings.Join(args[1:], " "))
		},
	}
}

func NewNvCmd(b backend.Backend, g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "nv <machine>",
		Short: "Show GPU usage of a machine",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return bareRun(cmd, b, g, args[0], "nvidia-smi")
		},
	}
}

func bareRun(cmd *cobra.Command, b backend.Backend, g *globals, machine, command string) (err error) {
	ctx := cmd.Context()
	s, err := openSession(ctx, cmd, b, g)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, s.Close(ctx))
	}()

	m, err := s.cfg.Machine(machine)
	if err != nil {
		return err
	}
	layout := models.NewLayout(m.LmnDir(), s.cfg.Project.Name)
	resolved, err := env.Resolve(env.Injected(env.Prefixes, layout, command), s.cfg.ProjectEnv().Merge(m.Environment))
	if err != nil {
		return err
	}
	if startup := s.cfg.Startup(m); startup != "" {
		command = startup + " && " + command
	}

	remote, err := b.Remote(m, s.cfg.Settings, g.dryRun, s.log)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, remote.Close())
	}()

	_, err = remote.Run(ctx, command, executor.RunOptions{Env: resolved, PTY: true})
	return err
}
