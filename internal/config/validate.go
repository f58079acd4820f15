package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateStore(); err != nil {
		return err
	}
	if err := c.validateBackup(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateStore() error {
	if strings.TrimSpace(c.Store.Path) == "" {
		return errors.New("store.path must be set")
	}
	if strings.ContainsAny(c.Store.Namespace, " \t\n") {
		return fmt.Errorf("store.namespace %q must not contain whitespace", c.Store.Namespace)
	}
	return nil
}

func (c *Config) validateBackup() error {
	switch c.Backup.Strategy {
	case BackupStrategyNone:
	case BackupStrategyDirectory:
		if strings.TrimSpace(c.Backup.Dir) == "" {
			return errors.New("backup.dir is required when backup.strategy is \"directory\" (or set PERSISTID_BACKUP_DIR)")
		}
	default:
		return fmt.Errorf("backup.strategy: unsupported value %q (want %q or %q)",
			c.Backup.Strategy, BackupStrategyDirectory, BackupStrategyNone)
	}
	if c.Backup.TimeoutSeconds > 60 {
		return errors.New("backup.timeout_seconds must be at most 60 so mutations cannot hold the lock unboundedly")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Level {
	case "verbose", "trace", "debug", "info", "warn", "warning", "error", "none", "off":
		return nil
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
}
