package identifier_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"persistid/internal/broadcast"
)

type memStore struct {
	mu        sync.Mutex
	id        string
	hasID     bool
	stamp     int64
	hasStamp  bool
	setErr    error
	getErr    error
	removeErr error
	sets      int
	stream    *broadcast.Value[string]
}

func newMemStore() *memStore {
	s := &memStore{stream: broadcast.New[string]()}
	s.stream.Store("")
	return s
}

func (s *memStore) Get(context.Context) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return "", false, s.getErr
	}
	return s.id, s.hasID, nil
}

func (s *memStore) Set(_ context.Context, id string) error {
	s.mu.Lock()
	if s.setErr != nil {
		s.mu.Unlock()
		return s.setErr
	}
	s.id, s.hasID = id, true
	s.sets++
	s.mu.Unlock()
	s.stream.Store(id)
	return nil
}

func (s *memStore) Remove(context.Context) error {
	s.mu.Lock()
	if s.removeErr != nil {
		s.mu.Unlock()
		return s.removeErr
	}
	s.id, s.hasID = "", false
	s.mu.Unlock()
	s.stream.Store("")
	return nil
}

func (s *memStore) Exists(context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasID, nil
}

func (s *memStore) Observe(ctx context.Context) <-chan string {
	return s.stream.Subscribe(ctx)
}

func (s *memStore) Timestamp(context.Context) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stamp, s.hasStamp, nil
}

func (s *memStore) SetTimestamp(_ context.Context, ms int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stamp, s.hasStamp = ms, true
	return nil
}

func (s *memStore) snapshot() (string, bool, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id, s.hasID, s.sets
}

func (s *memStore) timestamp() (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stamp, s.hasStamp
}

type fakeRemote struct {
	mu         sync.Mutex
	id         string
	hasID      bool
	backups    []string
	clears     int
	backupErr  error
	restoreErr error
	clearErr   error
	delay      time.Duration
}

func (r *fakeRemote) wait(ctx context.Context) {
	if r.delay <= 0 {
		return
	}
	select {
	case <-time.After(r.delay):
	case <-ctx.Done():
	}
}

func (r *fakeRemote) Backup(ctx context.Context, id string) error {
	r.wait(ctx)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backups = append(r.backups, id)
	if r.backupErr != nil {
		return r.backupErr
	}
	r.id, r.hasID = id, true
	return nil
}

func (r *fakeRemote) Restore(ctx context.Context) (string, bool, error) {
	r.wait(ctx)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.restoreErr != nil {
		return "", false, r.restoreErr
	}
	return r.id, r.hasID, nil
}

func (r *fakeRemote) Clear(ctx context.Context) error {
	r.wait(ctx)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clears++
	if r.clearErr != nil {
		return r.clearErr
	}
	r.id, r.hasID = "", false
	return nil
}

func (r *fakeRemote) backupCalls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.backups...)
}

type seqGenerator struct {
	n    atomic.Int64
	fail atomic.Bool
}

func (g *seqGenerator) Generate(context.Context) (string, error) {
	if g.fail.Load() {
		return "", errors.New("no entropy")
	}
	return fmt.Sprintf("id-%d", g.n.Add(1)), nil
}

func (g *seqGenerator) Validate(id string) bool {
	return strings.TrimSpace(id) != ""
}

type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFixedClock() *fixedClock {
	return &fixedClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
