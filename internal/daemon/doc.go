// Package daemon runs the long-lived persistid process.
//
// It owns the single-instance flock, preloads the identifier so observers
// learn it at startup, keeps the optional NTP clock fresh and drives the
// periodic backup scheduler. Identifier semantics stay in the identifier
// package; the daemon only coordinates startup, shutdown and status.
package daemon
