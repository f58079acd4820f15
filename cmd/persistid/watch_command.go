package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"persistid/internal/config"
	"persistid/internal/daemonrun"
	"persistid/internal/identifier"
)

const defaultWatchPoll = 2 * time.Second

func newWatchCommand(ctx *commandContext) *cobra.Command {
	var poll time.Duration
	var count int
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print the identifier each time it changes",
		Long: "Streams the identifier held by the local store. Changes made by other\n" +
			"processes are picked up every --poll interval.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return ctx.withComponents(func(_ *config.Config, c *daemonrun.Components, engine *identifier.Engine) error {
				watchCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
				defer stop()
				watchCtx, cancel := context.WithCancel(watchCtx)
				defer cancel()

				if err := c.Store.Refresh(watchCtx); err != nil {
					return fmt.Errorf("read store: %w", err)
				}
				go c.Store.Poll(watchCtx, poll)

				seen := 0
				for id := range engine.ObserveChanges(watchCtx) {
					fmt.Fprintln(cmd.OutOrStdout(), id)
					seen++
					if count > 0 && seen >= count {
						cancel()
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&poll, "poll", defaultWatchPoll, "Interval for picking up changes made by other processes")
	cmd.Flags().IntVarP(&count, "count", "n", 0, "Exit after printing this many identifiers (0 runs until interrupted)")
	return cmd
}
