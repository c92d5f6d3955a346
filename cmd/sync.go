package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"gitlab.com/lmn-dev/lmn/cmd/backend"
	"gitlab.com/lmn-dev/lmn/models"
)

func NewSyncCmd(b backend.Backend, g *globals) *cobra.Command {
	var outputOnly bool

	cmd := &cobra.Command{
		Use:   "sync <machine>",
		Short: "Sync code to a machine and its output back",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			ctx := cmd.Context()
			s, err := openSession(ctx, cmd, b, g)
			if err != nil {
				return err
			}
			defer func() {
				err = multierr.Append(err, s.Close(ctx))
			}()
			log := s.log.Sugar()

			m, err := s.cfg.Machine(args[0])
			if err != nil {
				return err
			}
			layout := models.NewLayout(m.LmnDir(), s.cfg.Project.Name)
			syncer := b.Syncer(m, g.dryRun, s.log)

			if !outputOnly {
				log.Infof("Syncing %s to %s:%s", s.root, m.Name, layout.Code)
				if err := syncer.Code(ctx, s.root, layout, s.cfg.Project.Exclude); err != nil {
					return err
				}
			}

			remote, err := b.Remote(m, s.cfg.Settings, g.dryRun, s.log)
			if err != nil {
				return err
			}
			defer func() {
				err = multierr.Append(err, remote.Close())
			}()

			log.Infof("Syncing output of %s to %s", m.Name, s.cfg.Project.Outdir)
			return syncer.Output(ctx, remote, layout, s.cfg.Project.Outdir)
		},
	}

	cmd.Flags().BoolVar(&outputOnly, "output-only", false, "only sync the output back")
	return cmd
}
