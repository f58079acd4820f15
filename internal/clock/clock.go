// Package clock supplies the wall time used for backup bookkeeping.
//
// System reads the host clock. NTP periodically compares the host clock
// with an NTP server and corrects readings when the host has drifted past
// the configured tolerance, so a badly set clock cannot suppress or force
// backups indefinitely.
package clock

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/beevik/ntp"

	"persistid/internal/config"
	"persistid/internal/logging"
)

const (
	defaultQueryTimeout = 5 * time.Second
	defaultMaxOffset    = 5 * time.Second
)

// Clock reports the current time.
type Clock interface {
	Now() time.Time
}

// System is the host clock.
type System struct{}

func (System) Now() time.Time { return time.Now() }

// Phase describes the result of the last NTP check.
type Phase uint8

const (
	PhaseUnchecked Phase = iota + 1
	PhaseHealthy
	PhaseDrifted
	PhaseError
)

func (p Phase) String() string {
	switch p {
	case PhaseUnchecked:
		return "unchecked"
	case PhaseHealthy:
		return "healthy"
	case PhaseDrifted:
		return "drifted"
	case PhaseError:
		return "error"
	default:
		return "unknown"
	}
}

// Status is a snapshot of the NTP clock state.
type Status struct {
	Server    string        `json:"server" yaml:"server"`
	Offset    time.Duration `json:"offset" yaml:"offset"`
	Phase     Phase         `json:"-" yaml:"-"`
	PhaseName string        `json:"phase" yaml:"phase"`
	Error     string        `json:"error,omitempty" yaml:"error,omitempty"`
	CheckedAt time.Time     `json:"checked_at" yaml:"checked_at"`
}

var errNoResponse = errors.New("ntp: empty response")

type queryFunc func(host string, opts ntp.QueryOptions) (*ntp.Response, error)

// NTP corrects the host clock by the offset reported by an NTP server
// once the offset exceeds maxOffset.
type NTP struct {
	server    string
	maxOffset time.Duration
	logger    *slog.Logger
	query     queryFunc
	now       func() time.Time

	mu     sync.RWMutex
	status Status
}

// NewNTP returns a clock checked against server. It behaves like System
// until the first successful Refresh.
func NewNTP(server string, maxOffset time.Duration, logger *slog.Logger) *NTP {
	if maxOffset <= 0 {
		maxOffset = defaultMaxOffset
	}
	return &NTP{
		server:    strings.TrimSpace(server),
		maxOffset: maxOffset,
		logger:    logging.NewComponentLogger(logger, "clock"),
		query:     ntp.QueryWithOptions,
		now:       time.Now,
		status:    Status{Server: strings.TrimSpace(server), Phase: PhaseUnchecked, PhaseName: PhaseUnchecked.String()},
	}
}

// FromConfig returns an NTP clock when clock.ntp_server is set and System
// otherwise.
func FromConfig(cfg *config.Config, logger *slog.Logger) Clock {
	if cfg == nil || cfg.Clock.NTPServer == "" {
		return System{}
	}
	return NewNTP(cfg.Clock.NTPServer, time.Duration(cfg.Clock.MaxOffsetMS)*time.Millisecond, logger)
}

// Now returns the host time, shifted by the measured offset when the host
// has drifted.
func (c *NTP) Now() time.Time {
	c.mu.RLock()
	status := c.status
	c.mu.RUnlock()
	now := c.now()
	if status.Phase == PhaseDrifted {
		return now.Add(status.Offset)
	}
	return now
}

// Status returns the last check result.
func (c *NTP) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// Refresh queries the server once.
func (c *NTP) Refresh(ctx context.Context) Status {
	timeout := defaultQueryTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	resp, err := c.query(c.server, ntp.QueryOptions{Timeout: timeout})

	status := Status{Server: c.server, CheckedAt: c.now()}
	switch {
	case err == nil && resp != nil:
		status.Offset = resp.ClockOffset
		status.Phase = PhaseHealthy
		if resp.ClockOffset.Abs() >= c.maxOffset {
			status.Phase = PhaseDrifted
		}
	case err == nil:
		err = errNoResponse
	}
	if err != nil {
		status.Phase = PhaseError
		status.Error = err.Error()
	}
	status.PhaseName = status.Phase.String()

	c.mu.Lock()
	previous := c.status.Phase
	c.status = status
	c.mu.Unlock()

	if status.Phase != previous {
		c.logPhase(status)
	}
	return status
}

// Run refreshes immediately and then every interval until ctx ends.
func (c *NTP) Run(ctx context.Context, interval time.Duration) {
	c.Refresh(ctx)
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Refresh(ctx)
		}
	}
}

func (c *NTP) logPhase(status Status) {
	switch status.Phase {
	case PhaseDrifted:
		logging.WarnWithContext(c.logger, "host clock drifted, applying ntp offset", "clock_drifted",
			logging.Duration("offset", status.Offset),
			logging.String("server", status.Server),
			logging.String(logging.FieldImpact, "backup timestamps use the corrected time"),
			logging.String(logging.FieldErrorHint, "enable time synchronisation on the host"),
		)
	case PhaseError:
		logging.WarnWithContext(c.logger, "ntp check failed, using host clock", "clock_ntp_failed",
			logging.String("server", status.Server),
			logging.String("reason", status.Error),
			logging.String(logging.FieldImpact, "backup timestamps rely on the unverified host clock"),
			logging.String(logging.FieldErrorHint, "check network access to clock.ntp_server"),
		)
	default:
		c.logger.Debug("ntp clock healthy",
			logging.Duration("offset", status.Offset),
			logging.String("server", status.Server),
		)
	}
}
