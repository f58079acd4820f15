package identifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"persistid/internal/backuppolicy"
	"persistid/internal/logging"
	"persistid/internal/observer"
)

const (
	// DefaultRemoteTimeout bounds every RemoteBackup call.
	DefaultRemoteTimeout = 5 * time.Second

	processLockRetry = 25 * time.Millisecond
)

// Tiers reported by resolve spans and logs.
const (
	TierMemory    = "memory"
	TierLocal     = "local"
	TierRemote    = "remote"
	TierGenerated = "generated"
)

// Options configures an Engine. Store, Remote and Generator are required.
type Options struct {
	Store     LocalStore
	Remote    RemoteBackup
	Generator Generator
	Logger    *slog.Logger
	Clock     Clock
	Tracer    trace.Tracer

	// RemoteTimeout bounds each remote call; zero means DefaultRemoteTimeout.
	RemoteTimeout time.Duration
	// ThresholdHours is the minimum age of the last backup before
	// ForceBackup backs up again; zero means 24.
	ThresholdHours int64
	// LockPath, when set, extends the mutation lock across processes.
	LockPath string
}

// Engine owns the identifier state of one installation.
type Engine struct {
	store     LocalStore
	remote    RemoteBackup
	generator Generator
	logger    *slog.Logger
	clock     Clock
	tracer    trace.Tracer
	hub       *observer.Hub

	remoteTimeout time.Duration
	threshold     int64
	fileLock      *flock.Flock

	mu     sync.Mutex
	cached atomic.Pointer[string]
	seq    uint64

	notifyMu sync.Mutex
	notified uint64
}

// New validates opts and constructs an Engine.
func New(opts Options) (*Engine, error) {
	if opts.Store == nil {
		return nil, errors.New("identifier: local store is required")
	}
	if opts.Remote == nil {
		return nil, errors.New("identifier: remote backup is required")
	}
	if opts.Generator == nil {
		return nil, errors.New("identifier: generator is required")
	}
	logger := logging.NewComponentLogger(opts.Logger, "identifier")
	e := &Engine{
		store:         opts.Store,
		remote:        opts.Remote,
		generator:     opts.Generator,
		logger:        logger,
		clock:         opts.Clock,
		tracer:        opts.Tracer,
		hub:           observer.NewHub(opts.Logger),
		remoteTimeout: opts.RemoteTimeout,
		threshold:     opts.ThresholdHours,
	}
	if e.clock == nil {
		e.clock = systemClock{}
	}
	if e.tracer == nil {
		e.tracer = otel.Tracer("persistid/identifier")
	}
	if e.remoteTimeout <= 0 {
		e.remoteTimeout = DefaultRemoteTimeout
	}
	if e.threshold <= 0 {
		e.threshold = backuppolicy.DefaultThresholdHours
	}
	if path := strings.TrimSpace(opts.LockPath); path != "" {
		e.fileLock = flock.New(path)
	}
	return e, nil
}

func (e *Engine) ready(op string) error {
	if e == nil || e.store == nil || e.hub == nil {
		return uninitializedError(op)
	}
	return nil
}

// Resolve returns the identifier, consulting the memory cache, the local
// store, the remote backup and the generator in that order. It never
// returns an empty identifier without an error.
func (e *Engine) Resolve(ctx context.Context) (id string, err error) {
	if err := e.ready("resolve"); err != nil {
		return "", err
	}
	ctx, span := e.startSpan(ctx, "resolve")
	defer func() { endSpan(span, err) }()

	if cached := e.cached.Load(); cached != nil {
		logging.Verbose(e.logger, "identifier served from cache")
		annotateTier(span, TierMemory)
		return *cached, nil
	}

	var (
		tier string
		seq  uint64
	)
	err = e.withLock(ctx, "resolve", func(ctx context.Context) error {
		var lockedErr error
		id, tier, lockedErr = e.resolveLocked(ctx)
		// A memory hit found a value an earlier holder committed and will
		// publish itself.
		if lockedErr == nil && tier != TierMemory {
			seq = e.commit()
		}
		return lockedErr
	})
	if err != nil {
		return "", err
	}
	annotateTier(span, tier)
	if seq != 0 {
		e.publish(seq, func(h *observer.Hub) { h.Ready(id) })
	}
	return id, nil
}

func (e *Engine) resolveLocked(ctx context.Context) (string, string, error) {
	if cached := e.cached.Load(); cached != nil {
		return *cached, TierMemory, nil
	}

	id, ok, err := e.store.Get(ctx)
	if err != nil {
		logging.ErrorWithContext(e.logger, "local identifier read failed", "local_read_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the store path permissions and disk health"),
		)
		return "", "", localError("resolve", err)
	}
	if ok && e.generator.Validate(id) {
		logging.Verbose(e.logger, "identifier loaded from local store")
		e.cache(id)
		return id, TierLocal, nil
	}
	if ok {
		logging.WarnWithContext(e.logger, "ignoring invalid local identifier", "local_identifier_invalid",
			logging.String(logging.FieldImpact, "a remote copy or a new identifier will replace it"),
			logging.String(logging.FieldErrorHint, "inspect the store if this repeats"),
		)
	}

	if id, ok := e.restore(ctx); ok {
		if err := e.store.Set(ctx, id); err != nil {
			return "", "", localError("resolve", fmt.Errorf("persist restored identifier: %w", err))
		}
		e.stampBackup(ctx, e.nowMillis())
		e.logger.Info("identifier restored from remote backup",
			logging.String(logging.FieldEventType, "identifier_restored"),
			logging.String(logging.FieldTier, TierRemote),
		)
		e.cache(id)
		return id, TierRemote, nil
	}

	e.logger.Info("no existing identifier, generating one",
		logging.String(logging.FieldEventType, "identifier_generate"),
	)
	id, err = e.generateAndStore(ctx, "resolve")
	if err != nil {
		return "", "", err
	}
	return id, TierGenerated, nil
}

// Regenerate discards the current identifier everywhere and replaces it
// with a newly generated one. Concurrent resolvers wait for the new value.
func (e *Engine) Regenerate(ctx context.Context) (id string, err error) {
	if err := e.ready("regenerate"); err != nil {
		return "", err
	}
	ctx, span := e.startSpan(ctx, "regenerate")
	defer func() { endSpan(span, err) }()

	var seq uint64
	err = e.withLock(ctx, "regenerate", func(ctx context.Context) error {
		e.cached.Store(nil)
		if err := e.clearTiers(ctx, "regenerate"); err != nil {
			seq = e.commit()
			return err
		}
		var genErr error
		id, genErr = e.generateAndStore(ctx, "regenerate")
		seq = e.commit()
		return genErr
	})
	if err != nil {
		e.publish(seq, func(h *observer.Hub) { h.Reset() })
		return "", err
	}
	e.logger.Info("identifier regenerated",
		logging.String(logging.FieldEventType, "identifier_regenerated"),
	)
	e.publish(seq, func(h *observer.Hub) { h.Update(id) })
	return id, nil
}

// Clear removes the identifier from the local store and the remote backup.
// A remote failure is logged; a local failure is returned.
func (e *Engine) Clear(ctx context.Context) (err error) {
	if err := e.ready("clear"); err != nil {
		return err
	}
	ctx, span := e.startSpan(ctx, "clear")
	defer func() { endSpan(span, err) }()

	var seq uint64
	err = e.withLock(ctx, "clear", func(ctx context.Context) error {
		e.cached.Store(nil)
		clearErr := e.clearTiers(ctx, "clear")
		seq = e.commit()
		return clearErr
	})
	if seq != 0 {
		e.publish(seq, func(h *observer.Hub) { h.Reset() })
	}
	if err != nil {
		return err
	}
	e.logger.Info("identifier cleared",
		logging.String(logging.FieldEventType, "identifier_cleared"),
	)
	return nil
}

// ForceBackup backs up the stored identifier when the last backup is older
// than the configured threshold, or when the previous attempt failed. It
// is meant to be called repeatedly by a periodic trigger.
func (e *Engine) ForceBackup(ctx context.Context) error {
	return e.backup(ctx, "force_backup", true)
}

// BackupNow backs up the stored identifier regardless of the last backup
// time.
func (e *Engine) BackupNow(ctx context.Context) error {
	return e.backup(ctx, "backup_now", false)
}

func (e *Engine) backup(ctx context.Context, op string, honourPolicy bool) (err error) {
	if err := e.ready(op); err != nil {
		return err
	}
	ctx, span := e.startSpan(ctx, op)
	defer func() { endSpan(span, err) }()

	return e.withLock(ctx, op, func(ctx context.Context) error {
		id, ok, err := e.store.Get(ctx)
		if err != nil {
			return localError(op, err)
		}
		if !ok || !e.generator.Validate(id) {
			logging.Verbose(e.logger, "no identifier to back up")
			return nil
		}

		now := e.nowMillis()
		if honourPolicy {
			last, known, err := e.store.Timestamp(ctx)
			if err != nil {
				return localError(op, fmt.Errorf("read backup timestamp: %w", err))
			}
			var lastPtr *int64
			if known {
				lastPtr = &last
			}
			if !backuppolicy.ShouldBackup(now, lastPtr, e.threshold) {
				logging.Verbose(e.logger, "backup skipped, recent backup exists",
					logging.Int64("hours_since_backup", backuppolicy.HoursSince(now, lastPtr)),
				)
				return nil
			}
			since := "never"
			if known && last != backuppolicy.FailedSentinel {
				since = fmt.Sprintf("%dh ago", backuppolicy.HoursSince(now, lastPtr))
			}
			e.logger.Debug("backup due", logging.String("last_backup", since))
		}

		e.backupAndStamp(ctx, id, now)
		return nil
	})
}

// HasIdentifier reports whether the local store holds an identifier.
func (e *Engine) HasIdentifier(ctx context.Context) (bool, error) {
	if err := e.ready("has_identifier"); err != nil {
		return false, err
	}
	ok, err := e.store.Exists(ctx)
	if err != nil {
		return false, localError("has_identifier", err)
	}
	return ok, nil
}

// ObserveChanges streams every non-empty identifier held by the local
// store until ctx ends. A slow reader only sees the newest value.
func (e *Engine) ObserveChanges(ctx context.Context) <-chan string {
	out := make(chan string, 1)
	if e.ready("observe") != nil {
		close(out)
		return out
	}
	src := e.store.Observe(ctx)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case id, ok := <-src:
				if !ok {
					return
				}
				if strings.TrimSpace(id) == "" {
					continue
				}
				select {
				case <-out:
				default:
				}
				out <- id
			}
		}
	}()
	return out
}

// Subscribe registers cb with the engine's observer hub. The registration
// ends when scope is destroyed.
func (e *Engine) Subscribe(scope *observer.Scope, minState observer.State, cb observer.Callback) *observer.Subscription {
	if e.ready("subscribe") != nil {
		return &observer.Subscription{}
	}
	return e.hub.Subscribe(scope, minState, cb)
}

// Preload resolves the identifier so that subscribers learn it as soon as
// possible. A failure is logged and delivered once to eligible error
// handlers; nothing retries it. Callers usually run it on its own
// goroutine.
func (e *Engine) Preload(ctx context.Context) error {
	if err := e.ready("preload"); err != nil {
		return err
	}
	if _, err := e.Resolve(ctx); err != nil {
		logging.ErrorWithContext(e.logger, "identifier preload failed", "preload_failed",
			logging.Error(err),
			logging.String("error_kind", KindOf(err)),
			logging.String(logging.FieldErrorHint, "run persistid status to inspect the store"),
		)
		e.hub.Fail(err)
		return err
	}
	logging.Verbose(e.logger, "identifier preloaded")
	return nil
}

func (e *Engine) generateAndStore(ctx context.Context, op string) (string, error) {
	id, err := e.generator.Generate(ctx)
	if err != nil {
		return "", generationError(op, err)
	}
	if !e.generator.Validate(id) {
		return "", generationError(op, errors.New("generator returned a blank identifier"))
	}
	if err := e.store.Set(ctx, id); err != nil {
		return "", localError(op, err)
	}
	e.logger.Info("identifier generated and stored",
		logging.String(logging.FieldEventType, "identifier_generated"),
		logging.String(logging.FieldTier, TierLocal),
	)
	e.backupAndStamp(ctx, id, e.nowMillis())
	e.cache(id)
	return id, nil
}

// backupAndStamp records the attempt time on success and the failed
// sentinel otherwise, so the next periodic trigger retries.
func (e *Engine) backupAndStamp(ctx context.Context, id string, now int64) {
	err := e.callRemote(ctx, "backup", func(ctx context.Context) error {
		return e.remote.Backup(ctx, id)
	})
	if err != nil {
		e.warnRemote("remote backup failed", "remote_backup_failed", err)
		e.stampBackup(ctx, backuppolicy.FailedSentinel)
		return
	}
	e.logger.Debug("identifier backed up", logging.String(logging.FieldTier, TierRemote))
	e.stampBackup(ctx, now)
}

func (e *Engine) stampBackup(ctx context.Context, unixMillis int64) {
	if err := e.store.SetTimestamp(ctx, unixMillis); err != nil {
		logging.WarnWithContext(e.logger, "backup timestamp not saved", "backup_timestamp_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "the next periodic backup may run early"),
			logging.String(logging.FieldErrorHint, "check the store path permissions"),
		)
	}
}

func (e *Engine) restore(ctx context.Context) (string, bool) {
	type restored struct {
		id string
		ok bool
	}
	res, err := boundedCall(ctx, e.remoteTimeout, func(ctx context.Context) (restored, error) {
		id, ok, err := e.remote.Restore(ctx)
		return restored{id: id, ok: ok}, err
	})
	if err != nil {
		e.warnRemote("remote restore failed", "remote_restore_failed", err)
		return "", false
	}
	if !res.ok {
		return "", false
	}
	if !e.generator.Validate(res.id) {
		logging.WarnWithContext(e.logger, "ignoring invalid remote identifier", "remote_identifier_invalid",
			logging.String(logging.FieldImpact, "a new identifier will be generated"),
		)
		return "", false
	}
	return res.id, true
}

// clearTiers clears the local store and the remote backup concurrently and
// waits for both. A remote failure is logged and never aborts the clear.
func (e *Engine) clearTiers(ctx context.Context, op string) error {
	var g errgroup.Group
	g.Go(func() error {
		if err := e.store.Remove(ctx); err != nil {
			return localError(op, err)
		}
		return nil
	})
	g.Go(func() error {
		if err := e.callRemote(ctx, "clear", e.remote.Clear); err != nil {
			e.warnRemote("remote clear failed", "remote_clear_failed", err)
		}
		return nil
	})
	return g.Wait()
}

func (e *Engine) callRemote(ctx context.Context, op string, fn func(context.Context) error) error {
	_, err := boundedCall(ctx, e.remoteTimeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	if err != nil {
		return fmt.Errorf("remote %s: %w", op, err)
	}
	return nil
}

func (e *Engine) warnRemote(msg, eventType string, err error) {
	logging.WarnWithContext(e.logger, msg, eventType,
		logging.Error(err),
		logging.String(logging.FieldTier, TierRemote),
		logging.String(logging.FieldImpact, "remote tier treated as unavailable"),
		logging.String(logging.FieldErrorHint, "check the backup directory and timeout settings"),
	)
}

// withLock runs fn under the engine lock and, when configured, the process
// file lock.
func (e *Engine) withLock(ctx context.Context, op string, fn func(context.Context) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.fileLock != nil {
		locked, err := e.fileLock.TryLockContext(ctx, processLockRetry)
		if err != nil {
			return localError(op, fmt.Errorf("acquire process lock %s: %w", e.fileLock.Path(), err))
		}
		if !locked {
			return localError(op, fmt.Errorf("acquire process lock %s: lock held", e.fileLock.Path()))
		}
		defer func() {
			if err := e.fileLock.Unlock(); err != nil {
				e.logger.Warn("process lock release failed", logging.Error(err))
			}
		}()
	}
	return fn(ctx)
}

func (e *Engine) cache(id string) {
	e.cached.Store(&id)
}

// commit marks a state change made under the lock. Callers hold e.mu.
func (e *Engine) commit() uint64 {
	e.seq++
	return e.seq
}

// publish applies hub updates in commit order, dropping updates overtaken
// by a later commit.
func (e *Engine) publish(seq uint64, fn func(*observer.Hub)) {
	e.notifyMu.Lock()
	defer e.notifyMu.Unlock()
	if seq <= e.notified {
		return
	}
	e.notified = seq
	fn(e.hub)
}

func (e *Engine) nowMillis() int64 {
	return e.clock.Now().UnixMilli()
}
