package cmd

import (
	"io"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"gitlab.com/lmn-dev/lmn/cmd/backend"
	"gitlab.com/lmn-dev/lmn/executor"
	"gitlab.com/lmn-dev/lmn/executor/scheduler"
	"gitlab.com/lmn-dev/lmn/models"
)

const maxCommandWidth = 60

func NewStatusCmd(b backend.Backend, g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "status <machine>",
		Short: "List the slurm jobs of the last 40 hours",
		Long:  "List the slurm jobs of the last 40 hours on <machine>, with the command and launch time of those started by lmn.",
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

			m, err := s.cfg.Machine(args[0])
			if err != nil {
				return err
			}
			remote, err := b.Remote(m, s.cfg.Settings, g.dryRun, s.log)
			if err != nil {
				return err
			}
			defer func() {
				err = multierr.Append(err, remote.Close())
			}()

			res, err := remote.Run(ctx, scheduler.SacctCommand, executor.RunOptions{Hide: true})
			if err != nil {
				return err
			}
			entries := scheduler.ParseSacct(res.STDOUT)

			records := map[string]models.LaunchRecord{}
			if s.launches != nil && len(entries) > 0 {
				ids := make([]string, 0, len(entries))
				for _, e := range entries {
					ids = append(ids, e.JobID)
				}
				if records, err = s.launches.ByJobIDs(ctx, ids); err != nil {
					s.log.Sugar().Warnf("could not read the launch log: %v", err)
					records = map[string]models.LaunchRecord{}
				}
			}

			printStatus(cmd.OutOrStdout(), entries, records)
			return nil
		},
	}
}

func printStatus(w io.Writer, entries []scheduler.SacctEntry, records map[string]models.LaunchRecord) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Job ID", "Name", "State", "Elapsed", "Node", "Command", "Launched"})
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetBorders(tablewriter.Border{Left: true, Top: false, Right: true, Bottom: false})
	table.SetCenterSeparator("|")

	for _, e := range entries {
		command, launched := "-", "-"
		if rec, ok := records[e.JobID]; ok {
			command = truncate(rec.Command, maxCommandWidth)
			launched = humanize.Time(rec.LaunchedAt)
		}
		table.Append([]string{e.JobID, e.JobName, e.State, e.Elapsed, e.NodeList, command, launched})
	}
	table.Render()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
