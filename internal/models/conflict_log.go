package models

import "time"

// Conflict resolutions recorded in ConflictLog.
const (
	ResolutionRemoteWins   = "remote_wins"
	ResolutionLocalPending = "local_pending_wins"
	ResolutionLocalNewer   = "local_newer"
	ResolutionManual       = "manual"
)

// ConflictLog records a pulled change that met a diverging local record.
type ConflictLog struct {
	ID              string `db:"id" json:"id"`
	Collection      string `db:"collection" json:"collection"`
	ItemID          string `db:"item_id" json:"item_id"`
	LocalTimestamp  int64  `db:"local_timestamp" json:"local_timestamp"`
	RemoteTimestamp int64  `db:"remote_timestamp" json:"remote_timestamp"`
	Resolution      string `db:"resolution" json:"resolution"`
	DetectedAt      int64  `db:"detected_at" json:"detected_at"`
}

// DetectedAtTime returns DetectedAt as time.Time.
func (c *ConflictLog) DetectedAtTime() time.Time {
	return MillisTime(c.DetectedAt)
}
