package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"persistid/internal/backuppolicy"
	"persistid/internal/clock"
	"persistid/internal/config"
	"persistid/internal/daemonrun"
	"persistid/internal/identifier"
	"persistid/internal/localstore"
	"persistid/internal/preflight"
)

const clockCheckTimeout = 5 * time.Second

type statusReport struct {
	ConfigPath string             `json:"config_path" yaml:"config_path"`
	Daemon     daemonView         `json:"daemon" yaml:"daemon"`
	Identifier identifierStatus   `json:"identifier" yaml:"identifier"`
	Backup     backupStatus       `json:"backup" yaml:"backup"`
	Clock      *clock.Status      `json:"clock,omitempty" yaml:"clock,omitempty"`
	Entries    []entryView        `json:"entries" yaml:"entries"`
	Checks     []preflight.Result `json:"checks" yaml:"checks"`
}

type daemonView struct {
	Running  bool   `json:"running" yaml:"running"`
	PID      int    `json:"pid,omitempty" yaml:"pid,omitempty"`
	LockFile string `json:"lock_file" yaml:"lock_file"`
}

type identifierStatus struct {
	Present   bool   `json:"present" yaml:"present"`
	Value     string `json:"value,omitempty" yaml:"value,omitempty"`
	StorePath string `json:"store_path" yaml:"store_path"`
	Namespace string `json:"namespace" yaml:"namespace"`
}

type backupStatus struct {
	Strategy       string     `json:"strategy" yaml:"strategy"`
	Dir            string     `json:"dir,omitempty" yaml:"dir,omitempty"`
	LastBackup     *time.Time `json:"last_backup,omitempty" yaml:"last_backup,omitempty"`
	LastFailed     bool       `json:"last_failed" yaml:"last_failed"`
	HoursSince     int64      `json:"hours_since" yaml:"hours_since"`
	ThresholdHours int64      `json:"threshold_hours" yaml:"threshold_hours"`
	Due            bool       `json:"due" yaml:"due"`
}

type entryView struct {
	Key       string    `json:"key" yaml:"key"`
	Value     string    `json:"value" yaml:"value"`
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at"`
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show identifier, backup, and daemon status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			format, err := normalizeOutput(output)
			if err != nil {
				return err
			}
			return ctx.withComponents(func(cfg *config.Config, c *daemonrun.Components, _ *identifier.Engine) error {
				report, err := collectStatus(cmd.Context(), cfg, c)
				if err != nil {
					return err
				}
				report.ConfigPath = ctx.configPath
				if handled, err := writeStructured(cmd, format, report); handled {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), strings.Join(renderStatus(report, shouldColorize(cmd.OutOrStdout())), "\n"))
				return nil
			})
		},
	}
	addOutputFlag(cmd, &output)
	return cmd
}

func collectStatus(ctx context.Context, cfg *config.Config, c *daemonrun.Components) (statusReport, error) {
	report := statusReport{
		Daemon: inspectDaemon(cfg),
		Identifier: identifierStatus{
			StorePath: c.Store.Path(),
			Namespace: c.Store.Namespace(),
		},
	}

	id, ok, err := c.Store.Get(ctx)
	if err != nil {
		return report, fmt.Errorf("read identifier: %w", err)
	}
	report.Identifier.Present = ok
	report.Identifier.Value = id

	if ntpClock, isNTP := c.Clock.(*clock.NTP); isNTP {
		checkCtx, cancel := context.WithTimeout(ctx, clockCheckTimeout)
		status := ntpClock.Refresh(checkCtx)
		cancel()
		report.Clock = &status
	}

	backup, err := inspectBackup(ctx, cfg, c)
	if err != nil {
		return report, err
	}
	report.Backup = backup

	entries, err := c.Store.Entries(ctx)
	if err != nil {
		return report, err
	}
	for _, entry := range entries {
		report.Entries = append(report.Entries, entryViewFrom(entry))
	}

	report.Checks = preflight.RunAll(ctx, cfg)
	return report, nil
}

func inspectBackup(ctx context.Context, cfg *config.Config, c *daemonrun.Components) (backupStatus, error) {
	threshold := int64(cfg.Backup.ThresholdHours)
	if threshold <= 0 {
		threshold = backuppolicy.DefaultThresholdHours
	}
	status := backupStatus{
		Strategy:       cfg.Backup.Strategy,
		Dir:            cfg.Backup.Dir,
		ThresholdHours: threshold,
		HoursSince:     -1,
	}
	last, known, err := c.Store.Timestamp(ctx)
	if err != nil {
		return status, fmt.Errorf("read backup timestamp: %w", err)
	}
	var lastPtr *int64
	if known {
		lastPtr = &last
		if last == backuppolicy.FailedSentinel {
			status.LastFailed = true
		} else {
			t := time.UnixMilli(last)
			status.LastBackup = &t
		}
	}
	now := c.Clock.Now().UnixMilli()
	status.HoursSince = backuppolicy.HoursSince(now, lastPtr)
	status.Due = cfg.BackupEnabled() && backuppolicy.ShouldBackup(now, lastPtr, threshold)
	return status, nil
}

func inspectDaemon(cfg *config.Config) daemonView {
	view := daemonView{LockFile: cfg.DaemonLockPath()}
	lock := flock.New(view.LockFile)
	locked, err := lock.TryLock()
	if err == nil && locked {
		_ = lock.Unlock()
		return view
	}
	view.Running = err == nil
	if data, readErr := os.ReadFile(filepath.Join(cfg.Paths.DataDir, "persistidd.pid")); readErr == nil {
		if pid, convErr := strconv.Atoi(strings.TrimSpace(string(data))); convErr == nil {
			view.PID = pid
		}
	}
	return view
}

func entryViewFrom(entry localstore.Entry) entryView {
	view := entryView{Key: entry.Key, Value: entry.Text, UpdatedAt: entry.UpdatedAt}
	if entry.Int != nil {
		if entry.Key == localstore.KeyBackupTimestamp && *entry.Int != backuppolicy.FailedSentinel {
			view.Value = formatMillis(*entry.Int)
		} else {
			view.Value = strconv.FormatInt(*entry.Int, 10)
		}
	}
	return view
}

func renderStatus(report statusReport, colorize bool) []string {
	var lines []string

	lines = append(lines, renderSectionHeader("Daemon", colorize)...)
	if report.Daemon.Running {
		msg := "Running"
		if report.Daemon.PID > 0 {
			msg = fmt.Sprintf("Running (pid %d)", report.Daemon.PID)
		}
		lines = append(lines, renderStatusLine("Daemon", statusOK, msg, colorize))
	} else {
		lines = append(lines, renderStatusLine("Daemon", statusInfo, "Not running", colorize))
	}
	if report.ConfigPath != "" {
		lines = append(lines, renderInfoLine("Config", report.ConfigPath))
	}

	lines = append(lines, "")
	lines = append(lines, renderSectionHeader("Identifier", colorize)...)
	if report.Identifier.Present {
		lines = append(lines, renderStatusLine("Identifier", statusOK, report.Identifier.Value, colorize))
	} else {
		lines = append(lines, renderStatusLine("Identifier", statusWarn, "Not created yet (run `persistid id`)", colorize))
	}
	lines = append(lines, renderInfoLine("Store", report.Identifier.StorePath))
	lines = append(lines, renderInfoLine("Namespace", report.Identifier.Namespace))

	lines = append(lines, "")
	lines = append(lines, renderSectionHeader("Backup", colorize)...)
	lines = append(lines, backupLines(report.Backup, colorize)...)

	if report.Clock != nil {
		lines = append(lines, "")
		lines = append(lines, renderSectionHeader("Clock", colorize)...)
		lines = append(lines, clockLine(*report.Clock, colorize))
	}

	if len(report.Entries) > 0 {
		lines = append(lines, "")
		lines = append(lines, renderSectionHeader("Store Entries", colorize)...)
		rows := make([][]string, 0, len(report.Entries))
		for _, entry := range report.Entries {
			rows = append(rows, []string{titleLabel(entry.Key), entry.Value, entry.UpdatedAt.Local().Format(time.RFC3339)})
		}
		lines = append(lines, renderTable([]string{"Key", "Value", "Updated"}, rows, nil))
	}

	lines = append(lines, "")
	lines = append(lines, renderSectionHeader("Checks", colorize)...)
	for _, check := range report.Checks {
		kind := statusOK
		if !check.Passed {
			kind = statusWarn
		}
		lines = append(lines, renderStatusLine(check.Name, kind, check.Detail, colorize))
	}
	return lines
}

func backupLines(b backupStatus, colorize bool) []string {
	lines := []string{renderInfoLine("Strategy", titleLabel(b.Strategy))}
	if b.Strategy == config.BackupStrategyNone {
		return append(lines, renderStatusLine("Backup", statusInfo, "Disabled", colorize))
	}
	if b.Dir != "" {
		lines = append(lines, renderInfoLine("Directory", b.Dir))
	}
	switch {
	case b.LastFailed:
		lines = append(lines, renderStatusLine("Last backup", statusError, "Failed; will retry", colorize))
	case b.LastBackup == nil:
		lines = append(lines, renderStatusLine("Last backup", statusWarn, "Never", colorize))
	default:
		msg := fmt.Sprintf("%s (%dh ago)", b.LastBackup.Local().Format(time.RFC3339), b.HoursSince)
		lines = append(lines, renderStatusLine("Last backup", statusOK, msg, colorize))
	}
	due := fmt.Sprintf("%s (threshold %dh)", yesNo(b.Due), b.ThresholdHours)
	return append(lines, renderInfoLine("Backup due", due))
}

func clockLine(s clock.Status, colorize bool) string {
	kind := statusInfo
	switch s.Phase {
	case clock.PhaseHealthy:
		kind = statusOK
	case clock.PhaseDrifted:
		kind = statusWarn
	case clock.PhaseError:
		kind = statusError
	}
	msg := fmt.Sprintf("%s via %s (offset %s)", titleLabel(s.PhaseName), s.Server, s.Offset.Round(time.Millisecond))
	if s.Error != "" {
		msg = fmt.Sprintf("%s via %s: %s", titleLabel(s.PhaseName), s.Server, s.Error)
	}
	return renderStatusLine("NTP", kind, msg, colorize)
}
