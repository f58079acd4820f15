// Package backuppolicy decides when the remote identifier copy should be
// refreshed. It performs no I/O.
package backuppolicy

import "time"

// FailedSentinel marks a backup attempt that is known to have failed.
const FailedSentinel int64 = 0

// DefaultThresholdHours is the minimum age of the last backup before a
// periodic trigger backs up again.
const DefaultThresholdHours int64 = 24

const millisPerHour = int64(time.Hour / time.Millisecond)

// ShouldBackup reports whether a backup is due. Timestamps are Unix
// milliseconds; last is nil when no backup was ever recorded. Elapsed time
// is measured in whole hours (floor), so exactly threshold hours is due.
// A last timestamp in the future is treated as due.
func ShouldBackup(nowMillis int64, last *int64, thresholdHours int64) bool {
	if last == nil {
		return true
	}
	if *last == FailedSentinel {
		return true
	}
	elapsed := nowMillis - *last
	if elapsed < 0 {
		return true
	}
	return elapsed/millisPerHour >= thresholdHours
}

// HoursSince returns the whole hours elapsed since last, or -1 when unknown.
func HoursSince(nowMillis int64, last *int64) int64 {
	if last == nil || *last == FailedSentinel || nowMillis < *last {
		return -1
	}
	return (nowMillis - *last) / millisPerHour
}
