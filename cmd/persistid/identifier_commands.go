package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"persistid/internal/config"
	"persistid/internal/daemonrun"
	"persistid/internal/identifier"
)

type identifierView struct {
	Identifier string `json:"identifier" yaml:"identifier"`
	// Source is set when this invocation generated the identifier.
	Source string `json:"source,omitempty" yaml:"source,omitempty"`
}

func newIdentifierCommands(ctx *commandContext) []*cobra.Command {
	return []*cobra.Command{
		newIDCommand(ctx),
		newRegenerateCommand(ctx),
		newClearCommand(ctx),
		newBackupCommand(ctx),
	}
}

func newIDCommand(ctx *commandContext) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "id",
		Short: "Print the installation identifier, creating it when missing",
		RunE: func(cmd *cobra.Command, _ []string) error {
			format, err := normalizeOutput(output)
			if err != nil {
				return err
			}
			return ctx.withComponents(func(_ *config.Config, c *daemonrun.Components, engine *identifier.Engine) error {
				id, err := engine.Resolve(cmd.Context())
				if err != nil {
					return engineError("resolve identifier", err)
				}
				return printIdentifier(cmd, format, identifierView{Identifier: id, Source: c.Generator.LastSource()})
			})
		},
	}
	addOutputFlag(cmd, &output)
	return cmd
}

func newRegenerateCommand(ctx *commandContext) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "regenerate",
		Short: "Discard the identifier everywhere and create a new one",
		RunE: func(cmd *cobra.Command, _ []string) error {
			format, err := normalizeOutput(output)
			if err != nil {
				return err
			}
			return ctx.withComponents(func(_ *config.Config, c *daemonrun.Components, engine *identifier.Engine) error {
				id, err := engine.Regenerate(cmd.Context())
				if err != nil {
					return engineError("regenerate identifier", err)
				}
				return printIdentifier(cmd, format, identifierView{Identifier: id, Source: c.Generator.LastSource()})
			})
		},
	}
	addOutputFlag(cmd, &output)
	return cmd
}

func newClearCommand(ctx *commandContext) *cobra.Command {
	var confirm bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove the identifier from the local store and the backup",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !confirm {
				return errors.New("refusing to clear the identifier without --yes")
			}
			return ctx.withComponents(func(_ *config.Config, c *daemonrun.Components, engine *identifier.Engine) error {
				if err := engine.Clear(cmd.Context()); err != nil {
					return engineError("clear identifier", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Identifier cleared")
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&confirm, "yes", "y", false, "Confirm removal")
	return cmd
}

func newBackupCommand(ctx *commandContext) *cobra.Command {
	var ifDue bool
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Copy the stored identifier to the configured backup",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return ctx.withComponents(func(cfg *config.Config, c *daemonrun.Components, engine *identifier.Engine) error {
				if !cfg.BackupEnabled() {
					fmt.Fprintln(cmd.OutOrStdout(), "Backup disabled (backup.strategy = none)")
					return nil
				}
				before, _, err := c.Store.Timestamp(cmd.Context())
				if err != nil {
					return fmt.Errorf("read backup timestamp: %w", err)
				}
				if ifDue {
					err = engine.ForceBackup(cmd.Context())
				} else {
					err = engine.BackupNow(cmd.Context())
				}
				if err != nil {
					return engineError("backup identifier", err)
				}
				return reportBackup(cmd, c, before)
			})
		},
	}
	cmd.Flags().BoolVar(&ifDue, "if-due", true, "Only back up when the last backup is older than backup.threshold_hours")
	return cmd
}

func reportBackup(cmd *cobra.Command, c *daemonrun.Components, before int64) error {
	out := cmd.OutOrStdout()
	exists, err := c.Store.Exists(cmd.Context())
	if err != nil {
		return fmt.Errorf("check stored identifier: %w", err)
	}
	if !exists {
		fmt.Fprintln(out, "No identifier stored; nothing to back up")
		return nil
	}
	after, known, err := c.Store.Timestamp(cmd.Context())
	if err != nil {
		return fmt.Errorf("read backup timestamp: %w", err)
	}
	switch {
	case !known || after == 0:
		fmt.Fprintln(out, "Backup failed; the next scheduled run will retry")
	case after == before:
		fmt.Fprintf(out, "Backup not due (last backup %s)\n", formatMillis(after))
	default:
		fmt.Fprintf(out, "Backup completed at %s\n", formatMillis(after))
	}
	return nil
}

func printIdentifier(cmd *cobra.Command, format string, view identifierView) error {
	if handled, err := writeStructured(cmd, format, view); handled {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), view.Identifier)
	return nil
}

func engineError(action string, err error) error {
	return fmt.Errorf("%s (%s): %w", action, identifier.KindOf(err), err)
}

func formatMillis(ms int64) string {
	return time.UnixMilli(ms).Local().Format(time.RFC3339)
}
