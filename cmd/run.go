package cmd

import (
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"gitlab.com/lmn-dev/lmn/cmd/backend"
	"gitlab.com/lmn-dev/lmn/dispatch"
	"gitlab.com/lmn-dev/lmn/models"
)

func NewRunCmd(b backend.Backend, g *globals) *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run <machine> -- <command>",
		Short: "Sync the project to a machine and run a command there",
		Long: `Sync the current project to <machine> and run <command> from the matching
directory, with the backend selected by --mode or the machine's configured mode.`,
		Example: `  lmn run cluster -m slurm -d -- python train.py
  lmn run cluster -m sing-slurm -d --sweep 0-10 -- python train.py --seed $LMN_RUN_SWEEP_IDX`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRemote(cmd, b, g, *opts, args[0], strings.Join(args[1:], " "))
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.mode, "mode", "m", "", "execution mode ("+strings.Join(models.ModeNames(), ", ")+")")
	f.BoolVarP(&opts.disown, "disown", "d", false, "return as soon as the job is started")
	f.BoolVarP(&opts.force, "force", "f", false, "remove a running container with the same name first")
	f.BoolVar(&opts.noSync, "no-sync", false, "do not sync code before, nor output after the run")
	f.BoolVarP(&opts.quiet, "quiet", "q", false, "start detached docker containers without following their output")
	f.BoolVar(&opts.contain, "contain", false, "run from a unique, timestamped remote root")
	f.IntVarP(&opts.numSequence, "num-sequence", "n", 1, "submit the batch job this many times, one after another")
	f.StringVar(&opts.sweep, "sweep", "", `sweep indices, e.g. "0-10", "8" or "0,3,5"`)
	f.StringVar(&opts.image, "image", "", "docker image, overrides the configured one")
	f.StringVar(&opts.name, "name", "", "suffix for container and job names")
	f.StringVar(&opts.sconf, "sconf", "", "slurm preset from slurm-configs")
	f.StringVar(&opts.pconf, "pconf", "", "pbs preset from pbs-configs")
	f.StringVar(&opts.dconf, "dconf", "", "docker preset from docker-images")

	return cmd
}

func runRemote(cmd *cobra.Command, b backend.Backend, g *globals, opts runOptions, machine, command string) (err error) {
	ctx := cmd.Context()
	s, err := openSession(ctx, cmd, b, g)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, s.Close(ctx))
	}()
	log := s.log.Sugar()

	m, err := s.cfg.Machine(machine)
	if err != nil {
		return err
	}
	plan, defaulted, err := buildPlan(s.cfg, m, opts, s.cwd, command, time.Now())
	if err != nil {
		return err
	}
	if defaulted {
		log.Warnf("mode is not specified for machine %q, using %s", m.Name, plan.Mode)
	}
	// Nothing is synced for a plan the dispatcher would refuse.
	if err := dispatch.Validate(plan); err != nil {
		return err
	}

	remote, err := b.Remote(m, s.cfg.Settings, g.dryRun, s.log)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, remote.Close())
	}()

	syncer := b.Syncer(m, g.dryRun, s.log)
	if !opts.noSync {
		log.Infof("Syncing %s to %s:%s", s.root, m.Name, plan.Layout.Code)
		if err := syncer.Code(ctx, s.root, plan.Layout, s.cfg.Project.Exclude); err != nil {
			return err
		}
	}

	connector := &backend.Connector{
		Machine:  m,
		Remote:   remote,
		Machines: b,
		DryRun:   g.dryRun,
		Log:      s.log,
		Stdin:    cmd.InOrStdin(),
		Stdout:   cmd.OutOrStdout(),
		Stderr:   cmd.ErrOrStderr(),
	}
	var launches dispatch.LaunchRecorder
	if s.launches != nil {
		launches = s.launches
	}
	if _, err := dispatch.NewDispatcher(connector, launches, s.log).Dispatch(ctx, plan); err != nil {
		return err
	}

	if opts.noSync || opts.disown {
		return nil
	}
	log.Infof("Syncing output of %s to %s", m.Name, s.cfg.Project.Outdir)
	return syncer.Output(ctx, remote, plan.Layout, s.cfg.Project.Outdir)
}
