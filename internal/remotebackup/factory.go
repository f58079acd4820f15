package remotebackup

import (
	"log/slog"

	"persistid/internal/config"
	"persistid/internal/identifier"
)

// FromConfig selects the backend named by cfg.Backup.Strategy.
func FromConfig(cfg *config.Config, logger *slog.Logger) identifier.RemoteBackup {
	if cfg == nil || !cfg.BackupEnabled() {
		return NewNone(logger)
	}
	return NewDirectory(cfg.Backup.Dir, cfg.Backup.Replicate, logger)
}
