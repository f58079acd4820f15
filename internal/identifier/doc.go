// Package identifier resolves the single persistent identifier of an
// installation.
//
// Engine walks a fallback chain of tiers with increasing durability: the
// in-memory cache, the LocalStore, the RemoteBackup and finally the
// Generator. A value found in a slower tier is promoted into the faster
// ones. Every mutating path runs under one engine-scoped lock, optionally
// extended across processes with a file lock, so concurrent callers never
// observe a partially written state. Remote calls are best-effort and
// bounded by a timeout; only generation and local persistence failures are
// returned to callers.
//
// Subscribers registered through Subscribe are notified by an
// observer.Hub after the lock is released.
package identifier
