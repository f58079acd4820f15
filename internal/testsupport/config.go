package testsupport

import (
	"path/filepath"
	"testing"

	"persistid/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// Backups are disabled and machine-id sources point at files that do not
// exist unless options say otherwise.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Store.Path = filepath.Join(base, "data", "persistid.db")
	cfgVal.Backup.Strategy = config.BackupStrategyNone
	cfgVal.Backup.Dir = ""
	cfgVal.Generator.MachineIDPaths = []string{filepath.Join(base, "missing-machine-id")}
	cfgVal.Logging.Level = "none"

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithBackupDir enables the directory backup strategy under the test root.
func WithBackupDir() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Backup.Strategy = config.BackupStrategyDirectory
		b.cfg.Backup.Dir = filepath.Join(b.baseDir, "backup")
	}
}

// WithMachineID writes content to a machine-id file and makes it the only
// generator source.
func WithMachineID(content string) ConfigOption {
	return func(b *configBuilder) {
		path := filepath.Join(b.baseDir, "machine-id")
		WriteMachineID(b.t, path, content)
		b.cfg.Generator.MachineIDPaths = []string{path}
	}
}

// WithProcessLock enables the cross-process engine lock.
func WithProcessLock() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Store.ProcessLock = true
	}
}

// WithSchedulerDisabled turns off the periodic backup trigger.
func WithSchedulerDisabled() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Scheduler.Enabled = false
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
