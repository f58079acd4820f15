package localstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"persistid/internal/logging"
)

const upsertText = `INSERT INTO kv (namespace, key, text_value, int_value, updated_at)
VALUES (?, ?, ?, NULL, ?)
ON CONFLICT(namespace, key) DO UPDATE SET text_value = excluded.text_value, int_value = NULL, updated_at = excluded.updated_at`

const upsertInt = `INSERT INTO kv (namespace, key, text_value, int_value, updated_at)
VALUES (?, ?, NULL, ?, ?)
ON CONFLICT(namespace, key) DO UPDATE SET text_value = NULL, int_value = excluded.int_value, updated_at = excluded.updated_at`

// Get returns the stored identifier.
func (s *Store) Get(ctx context.Context) (string, bool, error) {
	ctx = ensureContext(ctx)
	var value sql.NullString
	err := retryOnBusy(ctx, func() error {
		return s.db.QueryRowContext(ctx,
			"SELECT text_value FROM kv WHERE namespace = ? AND key = ?",
			s.namespace, KeyIdentifier,
		).Scan(&value)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read identifier: %w", err)
	}
	if !value.Valid || strings.TrimSpace(value.String) == "" {
		return "", false, nil
	}
	logging.Verbose(s.logger, "identifier read from store")
	return value.String, true, nil
}

// Set stores id and publishes it to observers.
func (s *Store) Set(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("store identifier: identifier is empty")
	}
	if err := s.execWithRetry(ctx, upsertText, s.namespace, KeyIdentifier, id, timestamp()); err != nil {
		return fmt.Errorf("store identifier: %w", err)
	}
	logging.Verbose(s.logger, "identifier saved")
	s.current.Store(id)
	return nil
}

// Remove deletes the identifier. The backup timestamp is kept.
func (s *Store) Remove(ctx context.Context) error {
	if err := s.execWithRetry(ctx,
		"DELETE FROM kv WHERE namespace = ? AND key = ?",
		s.namespace, KeyIdentifier,
	); err != nil {
		return fmt.Errorf("remove identifier: %w", err)
	}
	logging.Verbose(s.logger, "identifier removed")
	s.current.Store("")
	return nil
}

// Exists reports whether an identifier is stored.
func (s *Store) Exists(ctx context.Context) (bool, error) {
	_, ok, err := s.Get(ctx)
	return ok, err
}

// Observe streams the identifier, "" meaning absent, starting with the
// current value.
func (s *Store) Observe(ctx context.Context) <-chan string {
	return s.current.Subscribe(ensureContext(ctx))
}

// Timestamp returns the last backup time in Unix milliseconds.
func (s *Store) Timestamp(ctx context.Context) (int64, bool, error) {
	ctx = ensureContext(ctx)
	var value sql.NullInt64
	err := retryOnBusy(ctx, func() error {
		return s.db.QueryRowContext(ctx,
			"SELECT int_value FROM kv WHERE namespace = ? AND key = ?",
			s.namespace, KeyBackupTimestamp,
		).Scan(&value)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("read backup timestamp: %w", err)
	}
	if !value.Valid {
		return 0, false, nil
	}
	return value.Int64, true, nil
}

// SetTimestamp records the last backup time in Unix milliseconds.
func (s *Store) SetTimestamp(ctx context.Context, unixMillis int64) error {
	if err := s.execWithRetry(ctx, upsertInt, s.namespace, KeyBackupTimestamp, unixMillis, timestamp()); err != nil {
		return fmt.Errorf("store backup timestamp: %w", err)
	}
	logging.Verbose(s.logger, "backup timestamp saved", logging.Int64("timestamp_ms", unixMillis))
	return nil
}

// Refresh re-reads the identifier and publishes it when it differs from the
// last published value.
func (s *Store) Refresh(ctx context.Context) error {
	id, _, err := s.Get(ctx)
	if err != nil {
		return err
	}
	if current, ok := s.current.Load(); ok && current == id {
		return nil
	}
	s.current.Store(id)
	return nil
}

// Poll refreshes the stream every interval until ctx ends so that writes by
// other processes reach observers.
func (s *Store) Poll(ctx context.Context, interval time.Duration) {
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
			if err := s.Refresh(ctx); err != nil && ctx.Err() == nil {
				logging.WarnWithContext(s.logger, "store refresh failed", "store_refresh_failed",
					logging.Error(err),
					logging.String(logging.FieldImpact, "observers may miss changes made by other processes"),
					logging.String(logging.FieldErrorHint, "check the store file permissions"),
				)
			}
		}
	}
}

// Entry is one row of the store, used by status reporting.
type Entry struct {
	Key       string
	Text      string
	Int       *int64
	UpdatedAt time.Time
}

// Entries lists the rows of the namespace ordered by key.
func (s *Store) Entries(ctx context.Context) ([]Entry, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx,
		"SELECT key, text_value, int_value, updated_at FROM kv WHERE namespace = ? ORDER BY key",
		s.namespace,
	)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			entry   Entry
			text    sql.NullString
			intVal  sql.NullInt64
			updated string
		)
		if err := rows.Scan(&entry.Key, &text, &intVal, &updated); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		entry.Text = text.String
		if intVal.Valid {
			v := intVal.Int64
			entry.Int = &v
		}
		if parsed, err := time.Parse(time.RFC3339Nano, updated); err == nil {
			entry.UpdatedAt = parsed
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
