package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"

	"persistid/internal/clock"
	"persistid/internal/config"
	"persistid/internal/identifier"
	"persistid/internal/localstore"
	"persistid/internal/logging"
	"persistid/internal/observer"
	"persistid/internal/scheduler"
)

const clockRefreshInterval = time.Hour

// Daemon coordinates background backup services and enforces
// single-instance execution.
type Daemon struct {
	cfg       *config.Config
	logger    *slog.Logger
	engine    *identifier.Engine
	store     *localstore.Store
	clock     clock.Clock
	scheduler *scheduler.Scheduler

	lockPath string
	lock     *flock.Flock

	running  atomic.Bool
	ready    atomic.Bool
	cancel   context.CancelFunc
	group    *errgroup.Group
	started  time.Time
	startErr atomic.Value
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool              `json:"running" yaml:"running"`
	Ready        bool              `json:"identifier_ready" yaml:"identifier_ready"`
	StartedAt    time.Time         `json:"started_at,omitempty" yaml:"started_at,omitempty"`
	PreloadError string            `json:"preload_error,omitempty" yaml:"preload_error,omitempty"`
	StorePath    string            `json:"store_path" yaml:"store_path"`
	LockFilePath string            `json:"lock_file" yaml:"lock_file"`
	Scheduler    *scheduler.Status `json:"scheduler,omitempty" yaml:"scheduler,omitempty"`
	Clock        *clock.Status     `json:"clock,omitempty" yaml:"clock,omitempty"`
}

// New constructs a daemon. The clock is used only for status and refresh;
// the engine already holds it.
func New(cfg *config.Config, engine *identifier.Engine, store *localstore.Store, clk clock.Clock, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || engine == nil || store == nil {
		return nil, errors.New("daemon requires config, engine, and store")
	}
	logger = logging.NewComponentLogger(logger, "daemon")
	lockPath := cfg.DaemonLockPath()
	d := &Daemon{
		cfg:      cfg,
		logger:   logger,
		engine:   engine,
		store:    store,
		clock:    clk,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}
	if cfg.Scheduler.Enabled {
		d.scheduler = scheduler.New(engine, scheduler.OptionsFromConfig(cfg, logger))
	}
	return d, nil
}

// Start acquires the daemon lock and launches background services.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another persistid daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	group, runCtx := errgroup.WithContext(runCtx)
	d.cancel = cancel
	d.group = group
	d.started = time.Now()
	d.running.Store(true)

	d.engine.Subscribe(observer.ScopeFromContext(runCtx), observer.Started, &observer.Funcs{
		Ready: func(id string) {
			d.ready.Store(true)
			d.logger.Info("identifier ready",
				logging.String(logging.FieldEventType, "identifier_ready"),
				logging.Int("length", len(id)),
			)
		},
		Error: func(err error) {
			d.startErr.Store(err.Error())
		},
	})

	if ntpClock, ok := d.clock.(*clock.NTP); ok {
		group.Go(func() error {
			ntpClock.Run(runCtx, clockRefreshInterval)
			return nil
		})
	}
	// Preload failures reach subscribers through the hub and leave the
	// other services running.
	group.Go(func() error {
		_ = d.engine.Preload(runCtx)
		return nil
	})
	if d.scheduler != nil {
		group.Go(func() error { return d.scheduler.Run(runCtx) })
	}

	d.logger.Info("persistid daemon started",
		logging.String(logging.FieldEventType, "daemon_started"),
		logging.String("lock", d.lockPath),
		logging.Bool("scheduler", d.scheduler != nil),
	)
	return nil
}

// Stop stops background services and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	if d.group != nil {
		if err := d.group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			d.logger.Warn("background service failed", logging.Error(err))
		}
		d.group = nil
	}
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("persistid daemon stopped", logging.String(logging.FieldEventType, "daemon_stopped"))
}

// Close stops the daemon and closes the store.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Status returns the current daemon status.
func (d *Daemon) Status() Status {
	status := Status{
		Running:      d.running.Load(),
		Ready:        d.ready.Load(),
		StorePath:    d.store.Path(),
		LockFilePath: d.lockPath,
	}
	if status.Running {
		status.StartedAt = d.started
	}
	if msg, ok := d.startErr.Load().(string); ok {
		status.PreloadError = msg
	}
	if d.scheduler != nil {
		s := d.scheduler.Status()
		status.Scheduler = &s
	}
	if ntpClock, ok := d.clock.(*clock.NTP); ok {
		c := ntpClock.Status()
		status.Clock = &c
	}
	return status
}
