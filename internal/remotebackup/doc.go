// Package remotebackup implements the off-device identifier copy.
//
// Directory writes a small JSON record into a directory that is expected to
// live on removable, network or synced storage, guarded by a file lock so
// several hosts or processes can share it. None is used when no backup
// target is configured and turns every call into a no-op.
package remotebackup
