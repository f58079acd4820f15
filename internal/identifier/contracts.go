package identifier

import (
	"context"
	"time"
)

// Generator produces and validates raw platform identifiers.
type Generator interface {
	Generate(ctx context.Context) (string, error)
	// Validate accepts any non-blank string.
	Validate(id string) bool
}

// LocalStore is the durable on-device tier. Get and Timestamp report
// absence through the boolean; absence is not an error.
type LocalStore interface {
	Get(ctx context.Context) (string, bool, error)
	Set(ctx context.Context, id string) error
	Remove(ctx context.Context) error
	Exists(ctx context.Context) (bool, error)
	// Observe streams the stored identifier, "" meaning absent, until ctx
	// ends. Slow readers only see the latest value.
	Observe(ctx context.Context) <-chan string
	Timestamp(ctx context.Context) (int64, bool, error)
	SetTimestamp(ctx context.Context, unixMillis int64) error
}

// RemoteBackup is the best-effort off-device tier. Implementations that
// cannot operate on the current host degrade to no-ops.
type RemoteBackup interface {
	Backup(ctx context.Context, id string) error
	Restore(ctx context.Context) (string, bool, error)
	Clear(ctx context.Context) error
}

// Clock supplies the wall time used for backup bookkeeping.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }
