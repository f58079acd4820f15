package daemonrun

import (
	"fmt"
	"log/slog"

	"persistid/internal/clock"
	"persistid/internal/config"
	"persistid/internal/generator"
	"persistid/internal/identifier"
	"persistid/internal/localstore"
	"persistid/internal/remotebackup"
)

// Components holds the wired identifier stack for one process.
type Components struct {
	Store     *localstore.Store
	Remote    identifier.RemoteBackup
	Generator *generator.Generator
	Clock     clock.Clock

	// Identifier holds the engine between Build and Close.
	Identifier identifier.Handle
}

// Build opens the local store and wires the engine tiers from cfg. The
// caller owns the returned store and must Close it.
func Build(cfg *config.Config, logger *slog.Logger) (*Components, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	store, err := localstore.Open(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("open local store: %w", err)
	}

	c := &Components{
		Store:     store,
		Remote:    remotebackup.FromConfig(cfg, logger),
		Generator: generator.FromConfig(cfg, logger),
		Clock:     clock.FromConfig(cfg, logger),
	}
	engine, err := identifier.New(identifier.Options{
		Store:          c.Store,
		Remote:         c.Remote,
		Generator:      c.Generator,
		Logger:         logger,
		Clock:          c.Clock,
		RemoteTimeout:  cfg.BackupTimeout(),
		ThresholdHours: int64(cfg.Backup.ThresholdHours),
		LockPath:       cfg.LockPath(),
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("create identifier engine: %w", err)
	}
	if err := c.Identifier.Init(engine); err != nil {
		_ = store.Close()
		return nil, err
	}
	return c, nil
}

// Engine returns the engine installed by Build. It fails once Close has
// run.
func (c *Components) Engine() (*identifier.Engine, error) {
	return c.Identifier.Engine()
}

// Close drops the engine and releases the local store.
func (c *Components) Close() error {
	if c == nil {
		return nil
	}
	c.Identifier.Reset()
	if c.Store == nil {
		return nil
	}
	return c.Store.Close()
}
