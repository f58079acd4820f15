package preflight

import (
	"context"
	"time"

	"persistid/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string `json:"name" yaml:"name"`
	Passed bool   `json:"passed" yaml:"passed"`
	Detail string `json:"detail" yaml:"detail"`
}

// RunAll executes all applicable preflight checks for the given config.
// Checks are only run when the corresponding feature is enabled.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Data directory", cfg.Paths.DataDir),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
		CheckStorePath("Local store", cfg.Store.Path),
		CheckMachineID("Machine ID", cfg.Generator.MachineIDPaths),
	}

	if cfg.BackupEnabled() {
		results = append(results, CheckDirectoryAccess("Backup directory", cfg.Backup.Dir))
	}

	if cfg.Clock.NTPServer != "" {
		maxOffset := time.Duration(cfg.Clock.MaxOffsetMS) * time.Millisecond
		results = append(results, CheckNTP(ctx, cfg.Clock.NTPServer, maxOffset))
	}

	return results
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if !r.Passed {
			failed = append(failed, r)
		}
	}
	return failed
}
