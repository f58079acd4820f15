package identifier_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"persistid/internal/backuppolicy"
	"persistid/internal/identifier"
	"persistid/internal/logging"
	"persistid/internal/observer"
)

type fixture struct {
	store  *memStore
	remote *fakeRemote
	gen    *seqGenerator
	clock  *fixedClock
	engine *identifier.Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:  newMemStore(),
		remote: &fakeRemote{},
		gen:    &seqGenerator{},
		clock:  newFixedClock(),
	}
	f.engine = f.build(t)
	return f
}

// build returns a fresh engine over the fixture's collaborators, which
// simulates a process restart.
func (f *fixture) build(t *testing.T) *identifier.Engine {
	t.Helper()
	engine, err := identifier.New(identifier.Options{
		Store:         f.store,
		Remote:        f.remote,
		Generator:     f.gen,
		Clock:         f.clock,
		Logger:        logging.NewNop(),
		RemoteTimeout: 200 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("identifier.New: %v", err)
	}
	return engine
}

func TestNewRequiresCollaborators(t *testing.T) {
	if _, err := identifier.New(identifier.Options{}); err == nil {
		t.Fatal("expected error without collaborators")
	}
}

func TestResolveIsStable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.engine.Resolve(ctx)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if first == "" {
		t.Fatal("Resolve returned empty identifier")
	}
	for i := 0; i < 5; i++ {
		got, err := f.engine.Resolve(ctx)
		if err != nil {
			t.Fatalf("Resolve #%d: %v", i, err)
		}
		if got != first {
			t.Fatalf("Resolve #%d = %q, want %q", i, got, first)
		}
	}

	restarted := f.build(t)
	got, err := restarted.Resolve(ctx)
	if err != nil {
		t.Fatalf("Resolve after restart: %v", err)
	}
	if got != first {
		t.Fatalf("Resolve after restart = %q, want %q", got, first)
	}
}

func TestResolveGeneratesStoresAndBacksUp(t *testing.T) {
	f := newFixture(t)
	id, err := f.engine.Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	stored, ok, _ := f.store.snapshot()
	if !ok || stored != id {
		t.Fatalf("store = %q (%v), want %q", stored, ok, id)
	}
	if calls := f.remote.backupCalls(); len(calls) != 1 || calls[0] != id {
		t.Fatalf("backup calls = %v", calls)
	}
	stamp, ok := f.store.timestamp()
	if !ok || stamp != f.clock.Now().UnixMilli() {
		t.Fatalf("timestamp = %d (%v)", stamp, ok)
	}
}

func TestResolveRestoresFromRemoteWithoutBackingUp(t *testing.T) {
	f := newFixture(t)
	f.remote.id, f.remote.hasID = "restored-id", true

	id, err := f.engine.Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if id != "restored-id" {
		t.Fatalf("Resolve = %q, want restored-id", id)
	}
	if stored, ok, _ := f.store.snapshot(); !ok || stored != "restored-id" {
		t.Fatalf("store = %q (%v)", stored, ok)
	}
	if calls := f.remote.backupCalls(); len(calls) != 0 {
		t.Fatalf("expected no backup, got %v", calls)
	}
	if stamp, ok := f.store.timestamp(); !ok || stamp != f.clock.Now().UnixMilli() {
		t.Fatalf("timestamp = %d (%v), want now", stamp, ok)
	}
	if f.gen.n.Load() != 0 {
		t.Fatal("generator should not run when restore succeeds")
	}
}

func TestResolveTreatsRemoteFailureAsAbsent(t *testing.T) {
	tests := []struct {
		name   string
		remote *fakeRemote
	}{
		{name: "restore error", remote: &fakeRemote{restoreErr: errors.New("offline")}},
		{name: "restore timeout", remote: &fakeRemote{id: "slow", hasID: true, delay: time.Second}},
		{name: "blank restore", remote: &fakeRemote{id: "  ", hasID: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.remote = tt.remote
			engine := f.build(t)
			id, err := engine.Resolve(context.Background())
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			if id != "id-1" {
				t.Fatalf("Resolve = %q, want generated id-1", id)
			}
		})
	}
}

func TestResolveRemoteTimeoutIsBounded(t *testing.T) {
	f := newFixture(t)
	f.remote = &fakeRemote{delay: 5 * time.Second}
	engine := f.build(t)

	start := time.Now()
	if _, err := engine.Resolve(context.Background()); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("Resolve took %s, remote timeout not applied", elapsed)
	}
	if stamp, ok := f.store.timestamp(); !ok || stamp != backuppolicy.FailedSentinel {
		t.Fatalf("timestamp = %d (%v), want failed sentinel", stamp, ok)
	}
}

func TestResolveGenerationFailureLeavesStoreUntouched(t *testing.T) {
	f := newFixture(t)
	f.gen.fail.Store(true)

	id, err := f.engine.Resolve(context.Background())
	if err == nil {
		t.Fatalf("expected error, got %q", id)
	}
	if !errors.Is(err, identifier.ErrGeneration) {
		t.Fatalf("error = %v, want ErrGeneration", err)
	}
	if kind := identifier.KindOf(err); kind != "generation" {
		t.Fatalf("KindOf = %q", kind)
	}
	if _, ok, sets := f.store.snapshot(); ok || sets != 0 {
		t.Fatalf("store modified after generation failure (sets=%d)", sets)
	}
	if calls := f.remote.backupCalls(); len(calls) != 0 {
		t.Fatalf("unexpected backups %v", calls)
	}
}

func TestResolveLocalWriteFailureIsFatal(t *testing.T) {
	f := newFixture(t)
	f.store.setErr = errors.New("disk full")

	_, err := f.engine.Resolve(context.Background())
	if !errors.Is(err, identifier.ErrLocalPersistence) {
		t.Fatalf("error = %v, want ErrLocalPersistence", err)
	}
	if calls := f.remote.backupCalls(); len(calls) != 0 {
		t.Fatalf("backup should not run before local write, got %v", calls)
	}
}

func TestResolveLocalReadFailureIsFatal(t *testing.T) {
	f := newFixture(t)
	f.store.getErr = errors.New("corrupt page")

	_, err := f.engine.Resolve(context.Background())
	if !errors.Is(err, identifier.ErrLocalPersistence) {
		t.Fatalf("error = %v, want ErrLocalPersistence", err)
	}
	if f.gen.n.Load() != 0 {
		t.Fatal("generator should not run when local read fails")
	}
}

func TestRegenerateReplacesIdentifier(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	old, err := f.engine.Resolve(ctx)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	fresh, err := f.engine.Regenerate(ctx)
	if err != nil {
		t.Fatalf("Regenerate: %v", err)
	}
	if fresh == old {
		t.Fatalf("Regenerate returned the old identifier %q", old)
	}
	if got, _ := f.engine.Resolve(ctx); got != fresh {
		t.Fatalf("Resolve = %q, want %q", got, fresh)
	}
	if f.remote.clears != 1 {
		t.Fatalf("remote clears = %d, want 1", f.remote.clears)
	}

	restarted := f.build(t)
	if got, _ := restarted.Resolve(ctx); got != fresh {
		t.Fatalf("Resolve after restart = %q, want %q", got, fresh)
	}
}

func TestRegenerateRemoteClearFailureIsNonFatal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.engine.Resolve(ctx); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	f.remote.clearErr = errors.New("remote unavailable")

	if _, err := f.engine.Regenerate(ctx); err != nil {
		t.Fatalf("Regenerate: %v", err)
	}
}

func TestRegenerateLocalClearFailureAborts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	old, err := f.engine.Resolve(ctx)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	f.store.removeErr = errors.New("read-only filesystem")

	if _, err := f.engine.Regenerate(ctx); !errors.Is(err, identifier.ErrLocalPersistence) {
		t.Fatalf("Regenerate error = %v, want ErrLocalPersistence", err)
	}
	if f.gen.n.Load() != 1 {
		t.Fatalf("generator ran %d times, want 1", f.gen.n.Load())
	}
	f.store.removeErr = nil
	if got, _ := f.engine.Resolve(ctx); got != old {
		t.Fatalf("Resolve = %q, want untouched %q", got, old)
	}
}

func TestClearThenResolveGeneratesFreshValue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	old, err := f.engine.Resolve(ctx)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	if err := f.engine.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	has, err := f.engine.HasIdentifier(ctx)
	if err != nil {
		t.Fatalf("HasIdentifier: %v", err)
	}
	if has {
		t.Fatal("expected HasIdentifier to be false after Clear")
	}

	fresh, err := f.engine.Resolve(ctx)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if fresh == old {
		t.Fatalf("Resolve returned cleared identifier %q", old)
	}
}

func TestClearFailureModes(t *testing.T) {
	ctx := context.Background()

	f := newFixture(t)
	f.remote.clearErr = errors.New("remote unavailable")
	if err := f.engine.Clear(ctx); err != nil {
		t.Fatalf("Clear with remote failure: %v", err)
	}

	f = newFixture(t)
	f.store.removeErr = errors.New("permission denied")
	if err := f.engine.Clear(ctx); !errors.Is(err, identifier.ErrLocalPersistence) {
		t.Fatalf("Clear error = %v, want ErrLocalPersistence", err)
	}
}

func TestForceBackupHonoursPolicy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, err := f.engine.Resolve(ctx)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	f.clock.Advance(time.Hour)
	if err := f.engine.ForceBackup(ctx); err != nil {
		t.Fatalf("ForceBackup: %v", err)
	}
	if calls := f.remote.backupCalls(); len(calls) != 1 {
		t.Fatalf("backup after 1h: calls = %v", calls)
	}

	f.clock.Advance(24 * time.Hour)
	if err := f.engine.ForceBackup(ctx); err != nil {
		t.Fatalf("ForceBackup: %v", err)
	}
	calls := f.remote.backupCalls()
	if len(calls) != 2 || calls[1] != id {
		t.Fatalf("backup after 25h: calls = %v", calls)
	}
	if stamp, _ := f.store.timestamp(); stamp != f.clock.Now().UnixMilli() {
		t.Fatalf("timestamp = %d, want now", stamp)
	}

	if err := f.engine.ForceBackup(ctx); err != nil {
		t.Fatalf("ForceBackup: %v", err)
	}
	if calls := f.remote.backupCalls(); len(calls) != 2 {
		t.Fatalf("repeated trigger backed up again: %v", calls)
	}
}

func TestForceBackupRetriesAfterFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.remote.backupErr = errors.New("offline")
	if _, err := f.engine.Resolve(ctx); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if stamp, _ := f.store.timestamp(); stamp != backuppolicy.FailedSentinel {
		t.Fatalf("timestamp = %d, want failed sentinel", stamp)
	}

	f.remote.mu.Lock()
	f.remote.backupErr = nil
	f.remote.mu.Unlock()
	if err := f.engine.ForceBackup(ctx); err != nil {
		t.Fatalf("ForceBackup: %v", err)
	}
	if calls := f.remote.backupCalls(); len(calls) != 2 {
		t.Fatalf("backup calls = %v, want retry", calls)
	}
	if stamp, _ := f.store.timestamp(); stamp != f.clock.Now().UnixMilli() {
		t.Fatalf("timestamp = %d, want now", stamp)
	}
}

func TestForceBackupWithoutIdentifierIsNoop(t *testing.T) {
	f := newFixture(t)
	if err := f.engine.ForceBackup(context.Background()); err != nil {
		t.Fatalf("ForceBackup: %v", err)
	}
	if calls := f.remote.backupCalls(); len(calls) != 0 {
		t.Fatalf("unexpected backups %v", calls)
	}
}

func TestBackupNowIgnoresPolicy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.engine.Resolve(ctx); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if err := f.engine.BackupNow(ctx); err != nil {
		t.Fatalf("BackupNow: %v", err)
	}
	if calls := f.remote.backupCalls(); len(calls) != 2 {
		t.Fatalf("backup calls = %v, want 2", calls)
	}
}

func TestConcurrentRegenerateAndResolve(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.engine.Resolve(ctx); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		resolved []string
		regen    []string
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := f.engine.Regenerate(ctx)
			if err != nil {
				t.Errorf("Regenerate: %v", err)
				return
			}
			mu.Lock()
			regen = append(regen, id)
			mu.Unlock()
		}()
	}
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := f.engine.Resolve(ctx)
			if err != nil {
				t.Errorf("Resolve: %v", err)
				return
			}
			mu.Lock()
			resolved = append(resolved, id)
			mu.Unlock()
		}()
	}
	wg.Wait()

	for _, id := range resolved {
		if id == "" {
			t.Fatal("Resolve returned empty identifier")
		}
	}
	final, err := f.engine.Resolve(ctx)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	stored, ok, _ := f.store.snapshot()
	if !ok || stored != final {
		t.Fatalf("cache %q diverged from store %q", final, stored)
	}
	// Every regenerate clears first, so resolve never needs the generator.
	if got := f.gen.n.Load(); got != int64(1+len(regen)) {
		t.Fatalf("generator ran %d times, want %d", got, 1+len(regen))
	}
}

func TestConcurrentResolveGeneratesOnce(t *testing.T) {
	f := newFixture(t)
	var wg sync.WaitGroup
	ids := make([]string, 32)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := f.engine.Resolve(context.Background())
			if err != nil {
				t.Errorf("Resolve: %v", err)
			}
			ids[i] = id
		}(i)
	}
	wg.Wait()
	for _, id := range ids {
		if id != ids[0] {
			t.Fatalf("resolvers disagree: %v", ids)
		}
	}
	if f.gen.n.Load() != 1 {
		t.Fatalf("generator ran %d times", f.gen.n.Load())
	}
}

func TestObserveChangesSkipsAbsent(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := f.engine.ObserveChanges(ctx)
	id, err := f.engine.Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	select {
	case got := <-changes:
		if got != id {
			t.Fatalf("change = %q, want %q", got, id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for change")
	}

	cancel()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-changes:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("stream not closed after cancel")
		}
	}
}

func TestSubscribeReceivesResolvedAndRegenerated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	got := make(chan string, 4)
	scope := observer.NewScope(observer.Resumed)
	f.engine.Subscribe(scope, observer.Started, observer.CallbackFunc(func(id string) { got <- id }))

	first, err := f.engine.Resolve(ctx)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	expectDelivery(t, got, first)

	second, err := f.engine.Regenerate(ctx)
	if err != nil {
		t.Fatalf("Regenerate: %v", err)
	}
	expectDelivery(t, got, second)

	scope.End()
	if _, err := f.engine.Regenerate(ctx); err != nil {
		t.Fatalf("Regenerate: %v", err)
	}
	select {
	case id := <-got:
		t.Fatalf("destroyed scope received %q", id)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubscribeInactiveScopeGetsValueOnActivation(t *testing.T) {
	f := newFixture(t)
	got := make(chan string, 4)
	scope := observer.NewScope(observer.Created)
	f.engine.Subscribe(scope, observer.Started, observer.CallbackFunc(func(id string) { got <- id }))

	id, err := f.engine.Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	select {
	case early := <-got:
		t.Fatalf("inactive scope received %q", early)
	case <-time.After(50 * time.Millisecond):
	}

	scope.SetState(observer.Resumed)
	expectDelivery(t, got, id)
	select {
	case extra := <-got:
		t.Fatalf("unexpected second delivery %q", extra)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPreloadDeliversErrorOnce(t *testing.T) {
	f := newFixture(t)
	f.gen.fail.Store(true)
	errs := make(chan error, 2)
	f.engine.Subscribe(observer.NewScope(observer.Resumed), observer.Started, &observer.Funcs{
		Error: func(err error) { errs <- err },
	})

	if err := f.engine.Preload(context.Background()); !errors.Is(err, identifier.ErrGeneration) {
		t.Fatalf("Preload error = %v", err)
	}
	select {
	case err := <-errs:
		if !errors.Is(err, identifier.ErrGeneration) {
			t.Fatalf("delivered error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for error delivery")
	}
	select {
	case err := <-errs:
		t.Fatalf("unexpected second error %v", err)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestProcessLockPath(t *testing.T) {
	f := newFixture(t)
	lockPath := filepath.Join(t.TempDir(), "persistid.db.lock")
	engine, err := identifier.New(identifier.Options{
		Store:     f.store,
		Remote:    f.remote,
		Generator: f.gen,
		Logger:    logging.NewNop(),
		LockPath:  lockPath,
	})
	if err != nil {
		t.Fatalf("identifier.New: %v", err)
	}
	if _, err := engine.Resolve(context.Background()); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if err := engine.Clear(context.Background()); err != nil {
		t.Fatalf("Clear: %v", err)
	}
}

func TestZeroEngineIsUninitialized(t *testing.T) {
	var engine identifier.Engine
	if _, err := engine.Resolve(context.Background()); !errors.Is(err, identifier.ErrUninitialized) {
		t.Fatalf("Resolve error = %v, want ErrUninitialized", err)
	}
	var nilEngine *identifier.Engine
	if err := nilEngine.ForceBackup(context.Background()); !errors.Is(err, identifier.ErrUninitialized) {
		t.Fatalf("ForceBackup error = %v, want ErrUninitialized", err)
	}
}

func expectDelivery(t *testing.T, ch <-chan string, want string) {
	t.Helper()
	select {
	case got := <-ch:
		if got != want {
			t.Fatalf("delivery = %q, want %q", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %q", want)
	}
}
