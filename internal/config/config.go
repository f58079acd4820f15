package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	DataDir string `toml:"data_dir"`
	LogDir  string `toml:"log_dir"`
}

// Store contains configuration for the local identifier store.
type Store struct {
	Path      string `toml:"path"`      // Default: <data_dir>/persistid.db
	Namespace string `toml:"namespace"` // Default: persistid
	// ProcessLock serializes mutations across processes sharing the store.
	ProcessLock bool `toml:"process_lock"`
}

// Backup contains configuration for the off-device identifier copy.
type Backup struct {
	Strategy       string `toml:"strategy"` // "directory" or "none"
	Dir            string `toml:"dir"`
	Replicate      bool   `toml:"replicate"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	ThresholdHours int    `toml:"threshold_hours"`
}

// Scheduler contains configuration for the periodic backup trigger.
type Scheduler struct {
	Enabled               bool `toml:"enabled"`
	IntervalHours         int  `toml:"interval_hours"`
	InitialBackoffSeconds int  `toml:"initial_backoff_seconds"`
	MaxRetries            int  `toml:"max_retries"`
}

// Clock contains configuration for the time source used by the backup policy.
type Clock struct {
	NTPServer   string `toml:"ntp_server"` // empty uses the system clock
	MaxOffsetMS int    `toml:"max_offset_ms"`
}

// Generator contains configuration for identifier generation.
type Generator struct {
	MachineIDPaths []string `toml:"machine_id_paths"`
	Salt           string   `toml:"salt"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for persistid.
//
// Configuration sections by subsystem:
//   - Paths: data and log directories
//   - Store: SQLite local store location and namespace
//   - Backup: remote backup strategy, directory and policy threshold
//   - Scheduler: periodic backup trigger timing and retries
//   - Clock: optional NTP verification of the policy clock
//   - Generator: platform identifier sources
//   - Logging: log format, level, and retention
type Config struct {
	Paths     Paths     `toml:"paths"`
	Store     Store     `toml:"store"`
	Backup    Backup    `toml:"backup"`
	Scheduler Scheduler `toml:"scheduler"`
	Clock     Clock     `toml:"clock"`
	Generator Generator `toml:"generator"`
	Logging   Logging   `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		if _, err := os.Stat(expanded); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}
	projectPath, err := filepath.Abs("persistid.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}
	return defaultPath, false, nil
}

// EnsureDirectories creates the data and log directories. The backup
// directory is created on a best-effort basis since it usually lives on
// removable or network storage.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir, filepath.Dir(c.Store.Path)} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	if c.BackupEnabled() {
		_ = os.MkdirAll(c.Backup.Dir, 0o755)
	}
	return nil
}

// BackupEnabled reports whether a remote backup tier is configured.
func (c *Config) BackupEnabled() bool {
	return c.Backup.Strategy == BackupStrategyDirectory && strings.TrimSpace(c.Backup.Dir) != ""
}

// BackupTimeout returns the per-call remote backup timeout.
func (c *Config) BackupTimeout() time.Duration {
	return time.Duration(c.Backup.TimeoutSeconds) * time.Second
}

// SchedulerInterval returns the periodic backup trigger interval.
func (c *Config) SchedulerInterval() time.Duration {
	return time.Duration(c.Scheduler.IntervalHours) * time.Hour
}

// LockPath returns the engine process lock file, or "" when disabled.
func (c *Config) LockPath() string {
	if !c.Store.ProcessLock {
		return ""
	}
	return c.Store.Path + ".lock"
}

// DaemonLockPath returns the single-instance lock file for persistidd.
func (c *Config) DaemonLockPath() string {
	return filepath.Join(c.Paths.DataDir, "persistidd.lock")
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
