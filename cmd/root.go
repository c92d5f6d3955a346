package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"gitlab.com/lmn-dev/lmn/cmd/backend"
)

// NewRootCmd assembles the lmn command tree on top of b.
func NewRootCmd(b backend.Backend) *cobra.Command {
	g := &globals{}

	rootCmd := &cobra.Command{
		Use:     "lmn",
		Short:   "Run local code on remote machines",
		Long:    `lmn syncs the current project to a configured machine and runs a command there, directly over ssh, in a docker container or through slurm/pbs.`,
		Version: Version,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: false,
			HiddenDefaultCmd:  true,
		},
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().BoolVarP(&g.verbose, "verbose", "v", false, "debug logging")
	rootCmd.PersistentFlags().BoolVar(&g.dryRun, "dry-run", false, "log remote operations instead of performing them")

	rootCmd.AddCommand(NewRunCmd(b, g))
	rootCmd.AddCommand(NewBrunCmd(b, g))
	rootCmd.AddCommand(NewNvCmd(b, g))
	rootCmd.AddCommand(NewSyncCmd(b, g))
	rootCmd.AddCommand(NewStatusCmd(b, g))
	rootCmd.AddCommand(NewVersionCmd())

	return rootCmd
}

func Execute() {
	b := &backend.Local{Stdin: os.Stdin, Stdout: os.Stdout, Stderr: os.Stderr}
	// CheckErr prints formatted error message, if there is any, and exits
	cobra.CheckErr(NewRootCmd(b).Execute())
}
