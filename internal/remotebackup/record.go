package remotebackup

import "time"

// RecordKey names the identifier inside the backup target.
const RecordKey = "persistid_identifier"

// FileName is the record file inside the backup directory.
const FileName = RecordKey + ".json"

// Record is the on-disk backup format.
type Record struct {
	Key        string    `json:"key"`
	Identifier string    `json:"identifier"`
	Replicate  bool      `json:"replicate"` // should be copied off-device by the sync layer
	StoredAt   time.Time `json:"stored_at"`
}
