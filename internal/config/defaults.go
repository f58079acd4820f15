package config

const (
	defaultConfigPath             = "~/.config/persistid/config.toml"
	defaultDataDir                = "~/.local/share/persistid"
	defaultStoreFile              = "persistid.db"
	defaultNamespace              = "persistid"
	defaultBackupStrategy         = BackupStrategyNone
	defaultBackupTimeoutSeconds   = 5
	defaultBackupThresholdHours   = 24
	defaultSchedulerInterval      = 24
	defaultSchedulerInitialBackup = 30
	defaultSchedulerMaxRetries    = 3
	defaultClockMaxOffsetMS       = 5000
	defaultLogFormat              = "console"
	defaultLogLevel               = "info"
	defaultLogRetentionDays       = 30
)

// Backup strategies.
const (
	BackupStrategyDirectory = "directory"
	BackupStrategyNone      = "none"
)

var defaultMachineIDPaths = []string{
	"/etc/machine-id",
	"/var/lib/dbus/machine-id",
}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
		},
		Store: Store{
			Namespace: defaultNamespace,
		},
		Backup: Backup{
			Strategy:       defaultBackupStrategy,
			Replicate:      true,
			TimeoutSeconds: defaultBackupTimeoutSeconds,
			ThresholdHours: defaultBackupThresholdHours,
		},
		Scheduler: Scheduler{
			Enabled:               true,
			IntervalHours:         defaultSchedulerInterval,
			InitialBackoffSeconds: defaultSchedulerInitialBackup,
			MaxRetries:            defaultSchedulerMaxRetries,
		},
		Clock: Clock{
			MaxOffsetMS: defaultClockMaxOffsetMS,
		},
		Generator: Generator{
			MachineIDPaths: append([]string(nil), defaultMachineIDPaths...),
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
