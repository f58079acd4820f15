package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeStore(); err != nil {
		return err
	}
	if err := c.normalizeBackup(); err != nil {
		return err
	}
	c.normalizeScheduler()
	c.normalizeClock()
	if err := c.normalizeGenerator(); err != nil {
		return err
	}
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = filepath.Join(c.Paths.DataDir, "logs")
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeStore() error {
	var err error
	if strings.TrimSpace(c.Store.Path) == "" {
		c.Store.Path = filepath.Join(c.Paths.DataDir, defaultStoreFile)
	}
	if c.Store.Path, err = expandPath(c.Store.Path); err != nil {
		return fmt.Errorf("store.path: %w", err)
	}
	c.Store.Namespace = strings.TrimSpace(c.Store.Namespace)
	if c.Store.Namespace == "" {
		c.Store.Namespace = defaultNamespace
	}
	return nil
}

func (c *Config) normalizeBackup() error {
	c.Backup.Strategy = strings.ToLower(strings.TrimSpace(c.Backup.Strategy))
	if c.Backup.Dir == "" {
		if value, ok := os.LookupEnv("PERSISTID_BACKUP_DIR"); ok && strings.TrimSpace(value) != "" {
			c.Backup.Dir = strings.TrimSpace(value)
			if c.Backup.Strategy == "" || c.Backup.Strategy == BackupStrategyNone {
				c.Backup.Strategy = BackupStrategyDirectory
			}
		}
	}
	if c.Backup.Strategy == "" {
		c.Backup.Strategy = defaultBackupStrategy
	}
	if strings.TrimSpace(c.Backup.Dir) != "" {
		var err error
		if c.Backup.Dir, err = expandPath(c.Backup.Dir); err != nil {
			return fmt.Errorf("backup.dir: %w", err)
		}
	}
	if c.Backup.TimeoutSeconds <= 0 {
		c.Backup.TimeoutSeconds = defaultBackupTimeoutSeconds
	}
	if c.Backup.ThresholdHours <= 0 {
		c.Backup.ThresholdHours = defaultBackupThresholdHours
	}
	return nil
}

func (c *Config) normalizeScheduler() {
	if c.Scheduler.IntervalHours <= 0 {
		c.Scheduler.IntervalHours = defaultSchedulerInterval
	}
	if c.Scheduler.InitialBackoffSeconds <= 0 {
		c.Scheduler.InitialBackoffSeconds = defaultSchedulerInitialBackup
	}
	if c.Scheduler.MaxRetries < 0 {
		c.Scheduler.MaxRetries = 0
	}
}

func (c *Config) normalizeClock() {
	c.Clock.NTPServer = strings.TrimSpace(c.Clock.NTPServer)
	if c.Clock.MaxOffsetMS <= 0 {
		c.Clock.MaxOffsetMS = defaultClockMaxOffsetMS
	}
}

func (c *Config) normalizeGenerator() error {
	paths := make([]string, 0, len(c.Generator.MachineIDPaths))
	seen := make(map[string]struct{}, len(c.Generator.MachineIDPaths))
	for _, p := range c.Generator.MachineIDPaths {
		if strings.TrimSpace(p) == "" {
			continue
		}
		expanded, err := expandPath(strings.TrimSpace(p))
		if err != nil {
			return fmt.Errorf("generator.machine_id_paths: %w", err)
		}
		if _, exists := seen[expanded]; exists {
			continue
		}
		seen[expanded] = struct{}{}
		paths = append(paths, expanded)
	}
	c.Generator.MachineIDPaths = paths
	c.Generator.Salt = strings.TrimSpace(c.Generator.Salt)
	return nil
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}
