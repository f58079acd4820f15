package remotebackup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"persistid/internal/logging"
)

const lockRetryDelay = 20 * time.Millisecond

// Directory stores the identifier record in a directory.
type Directory struct {
	dir       string
	replicate bool
	logger    *slog.Logger
	lockPath  string
	now       func() time.Time
}

// NewDirectory returns a backend writing into dir. An empty dir yields a
// backend whose calls are no-ops.
func NewDirectory(dir string, replicate bool, logger *slog.Logger) *Directory {
	d := &Directory{
		dir:       strings.TrimSpace(dir),
		replicate: replicate,
		logger:    logging.NewComponentLogger(logger, "remotebackup"),
		now:       time.Now,
	}
	if d.dir != "" {
		d.lockPath = filepath.Join(d.dir, FileName+".lock")
	}
	return d
}

// Path returns the record file path, or "" when unconfigured.
func (d *Directory) Path() string {
	if d.dir == "" {
		return ""
	}
	return filepath.Join(d.dir, FileName)
}

// Backup writes id to the record file atomically.
func (d *Directory) Backup(ctx context.Context, id string) error {
	if d.dir == "" {
		logging.Verbose(d.logger, "backup directory not configured, skipping backup")
		return nil
	}
	if strings.TrimSpace(id) == "" {
		return errors.New("backup: identifier is empty")
	}
	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return fmt.Errorf("backup: create directory: %w", err)
	}

	record := Record{Key: RecordKey, Identifier: id, Replicate: d.replicate, StoredAt: d.now().UTC()}
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("backup: marshal record: %w", err)
	}

	return d.withLock(ctx, func() error {
		if err := writeAtomic(d.Path(), data); err != nil {
			return fmt.Errorf("backup: %w", err)
		}
		d.logger.Info("identifier backed up",
			logging.String(logging.FieldEventType, "remote_backup_written"),
			logging.String("path", d.Path()),
			logging.Bool("replicate", d.replicate),
		)
		return nil
	})
}

// Restore reads the identifier from the record file. A missing file or a
// record written under another key is reported as absent.
func (d *Directory) Restore(ctx context.Context) (string, bool, error) {
	if d.dir == "" {
		return "", false, nil
	}
	if _, err := os.Stat(d.dir); errors.Is(err, fs.ErrNotExist) {
		logging.Verbose(d.logger, "backup directory missing, nothing to restore")
		return "", false, nil
	}

	var (
		id    string
		found bool
	)
	err := d.withLock(ctx, func() error {
		data, err := os.ReadFile(d.Path())
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("restore: read record: %w", err)
		}
		var record Record
		if err := json.Unmarshal(data, &record); err != nil {
			return fmt.Errorf("restore: parse record: %w", err)
		}
		if record.Key != RecordKey || strings.TrimSpace(record.Identifier) == "" {
			return nil
		}
		id, found = record.Identifier, true
		return nil
	})
	if err != nil {
		return "", false, err
	}
	if !found {
		logging.Verbose(d.logger, "no identifier in backup directory")
		return "", false, nil
	}
	d.logger.Info("identifier found in backup directory",
		logging.String(logging.FieldEventType, "remote_backup_read"),
		logging.String("path", d.Path()),
	)
	return id, true, nil
}

// Clear removes the record file.
func (d *Directory) Clear(ctx context.Context) error {
	if d.dir == "" {
		return nil
	}
	if _, err := os.Stat(d.dir); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return d.withLock(ctx, func() error {
		if err := os.Remove(d.Path()); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("clear: %w", err)
		}
		d.logger.Debug("backup record cleared", logging.String("path", d.Path()))
		return nil
	})
}

// withLock opens its own lock handle so a call abandoned by its caller
// keeps excluding later calls until it finishes.
func (d *Directory) withLock(ctx context.Context, fn func() error) error {
	lock := flock.New(d.lockPath)
	locked, err := lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return fmt.Errorf("lock backup directory: %w", err)
	}
	if !locked {
		return fmt.Errorf("lock backup directory: %s is held", d.lockPath)
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			d.logger.Warn("backup lock release failed", logging.Error(err))
		}
	}()
	return fn()
}

func writeAtomic(path string, data []byte) error {
	tmpPath := path + ".tmp"
	file, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if _, err := file.Write(data); err != nil {
		_ = file.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := file.Sync(); err != nil {
		_ = file.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
