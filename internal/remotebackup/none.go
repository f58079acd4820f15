package remotebackup

import (
	"context"
	"log/slog"

	"persistid/internal/logging"
)

// None is a backend for hosts without a backup target.
type None struct {
	logger *slog.Logger
}

// NewNone returns a no-op backend.
func NewNone(logger *slog.Logger) *None {
	return &None{logger: logging.NewComponentLogger(logger, "remotebackup")}
}

func (n *None) Backup(context.Context, string) error {
	logging.Verbose(n.logger, "remote backup disabled, skipping backup")
	return nil
}

func (n *None) Restore(context.Context) (string, bool, error) {
	logging.Verbose(n.logger, "remote backup disabled, nothing to restore")
	return "", false, nil
}

func (n *None) Clear(context.Context) error {
	return nil
}
