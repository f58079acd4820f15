package main

import (
	"github.com/spf13/cobra"

	"persistid/internal/daemonrun"
)

func newDaemonRunCommand(ctx *commandContext) *cobra.Command {
	daemonCmd := &cobra.Command{
		Use:   "daemon",
		Short: "Backup daemon commands",
	}

	var development bool
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the backup daemon in the foreground",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return daemonrun.Run(cmd.Context(), cfg, daemonrun.Options{
				LogLevel:    ctx.logLevel(cfg),
				Development: development,
			})
		},
	}
	runCmd.Flags().BoolVar(&development, "development", false, "Include source locations in log output")

	daemonCmd.AddCommand(runCmd)
	return daemonCmd
}
