// Package scheduler triggers periodic identifier backups.
//
// On start the scheduler runs one backup attempt right away, retrying with
// exponential backoff, and then repeats the trigger every interval. The
// target decides whether a backup is actually due, so triggering more
// often than the backup threshold is harmless.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"persistid/internal/config"
	"persistid/internal/logging"
)

const (
	defaultInterval       = 24 * time.Hour
	defaultInitialBackoff = 30 * time.Second
	defaultMaxRetries     = 3
)

// Target is the backup entry point invoked on every tick.
type Target interface {
	ForceBackup(ctx context.Context) error
}

// Options configures a Scheduler.
type Options struct {
	Interval       time.Duration
	InitialBackoff time.Duration
	MaxRetries     int
	Logger         *slog.Logger
}

// OptionsFromConfig maps the [scheduler] section.
func OptionsFromConfig(cfg *config.Config, logger *slog.Logger) Options {
	retries := cfg.Scheduler.MaxRetries
	if retries == 0 {
		retries = -1
	}
	return Options{
		Interval:       cfg.SchedulerInterval(),
		InitialBackoff: time.Duration(cfg.Scheduler.InitialBackoffSeconds) * time.Second,
		MaxRetries:     retries,
		Logger:         logger,
	}
}

// Status summarizes scheduler activity.
type Status struct {
	Runs      int       `json:"runs" yaml:"runs"`
	Failures  int       `json:"failures" yaml:"failures"`
	LastRun   time.Time `json:"last_run,omitempty" yaml:"last_run,omitempty"`
	LastError string    `json:"last_error,omitempty" yaml:"last_error,omitempty"`
	NextRun   time.Time `json:"next_run,omitempty" yaml:"next_run,omitempty"`
}

// Scheduler drives a Target on a fixed interval.
type Scheduler struct {
	target         Target
	interval       time.Duration
	initialBackoff time.Duration
	maxRetries     int
	logger         *slog.Logger

	mu     sync.Mutex
	status Status
}

// New returns a scheduler for target. Zero options take defaults; a
// negative MaxRetries disables retries.
func New(target Target, opts Options) *Scheduler {
	s := &Scheduler{
		target:         target,
		interval:       opts.Interval,
		initialBackoff: opts.InitialBackoff,
		maxRetries:     opts.MaxRetries,
		logger:         logging.NewComponentLogger(opts.Logger, "scheduler"),
	}
	if s.interval <= 0 {
		s.interval = defaultInterval
	}
	if s.initialBackoff <= 0 {
		s.initialBackoff = defaultInitialBackoff
	}
	if s.maxRetries == 0 {
		s.maxRetries = defaultMaxRetries
	}
	if s.maxRetries < 0 {
		s.maxRetries = 0
	}
	return s
}

// Run performs the immediate backup and then triggers one every interval
// until ctx ends. It returns ctx.Err().
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("backup scheduler started",
		logging.String(logging.FieldEventType, "scheduler_started"),
		logging.Duration("interval", s.interval),
		logging.Int("max_retries", s.maxRetries),
	)
	_ = s.RunOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	s.setNext(time.Now().Add(s.interval))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("backup scheduler stopped", logging.String(logging.FieldEventType, "scheduler_stopped"))
			return ctx.Err()
		case <-ticker.C:
			_ = s.RunOnce(ctx)
			s.setNext(time.Now().Add(s.interval))
		}
	}
}

// RunOnce triggers the target, retrying failures with exponential backoff.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	delay := s.initialBackoff
	var err error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		err = s.target.ForceBackup(ctx)
		if err == nil {
			s.record(nil)
			logging.Verbose(s.logger, "backup trigger completed")
			return nil
		}
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			s.record(err)
			return err
		}
		if attempt == s.maxRetries {
			break
		}
		s.logger.Debug("backup trigger failed, retrying",
			logging.Error(err),
			logging.Int("attempt", attempt+1),
			logging.Int("max_retries", s.maxRetries),
			logging.Duration("backoff", delay),
		)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			s.record(ctx.Err())
			return ctx.Err()
		}
		delay *= 2
	}

	s.record(err)
	logging.WarnWithContext(s.logger, "backup trigger failed after retries", "scheduler_backup_failed",
		logging.Error(err),
		logging.Int("max_retries", s.maxRetries),
		logging.String(logging.FieldImpact, "the next periodic trigger will try again"),
		logging.String(logging.FieldErrorHint, "check the local store and backup directory"),
	)
	return err
}

// Status returns a snapshot of scheduler activity.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Scheduler) record(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.Runs++
	s.status.LastRun = time.Now()
	if err != nil {
		s.status.Failures++
		s.status.LastError = err.Error()
		return
	}
	s.status.LastError = ""
}

func (s *Scheduler) setNext(next time.Time) {
	s.mu.Lock()
	s.status.NextRun = next
	s.mu.Unlock()
}
