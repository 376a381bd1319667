package domain

import "time"

// SyncEvent statuses. An event transitions pending -> processed or
// pending -> failed exactly once.
const (
	StatusPending   = "pending"
	StatusProcessed = "processed"
	StatusFailed    = "failed"
)

// SyncEvent is the durable record of one accepted notification.
type SyncEvent struct {
	ID             int64      `db:"id"`
	EventID        string     `db:"event_id"`
	ContentHash    string     `db:"content_hash"`
	SourcePlatform string     `db:"source_platform"`
	TargetPlatform string     `db:"target_platform"`
	EntityType     string     `db:"entity_type"`
	EntityID       string     `db:"entity_id"`
	Action         string     `db:"action"`
	Status         string     `db:"status"`
	Error          *string    `db:"error"`
	CreatedAt      time.Time  `db:"created_at"`
	ProcessedAt    *time.Time `db:"processed_at"`
}

// ProcessedFingerprint marks a unit of work as committed. Its insert is the
// durable commit point: a crash before it leaves the event pending and safe
// to reprocess.
type ProcessedFingerprint struct {
	ID          int64     `db:"id"`
	ContentHash string    `db:"content_hash"`
	EntityID    string    `db:"entity_id"`
	Provider    string    `db:"provider"`
	CreatedAt   time.Time `db:"created_at"`
}
