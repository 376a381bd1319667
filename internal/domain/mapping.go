package domain

import "time"

// EntityMapping pairs a source entity with the target entity that mirrors
// it. source_id and target_id are each unique: one source entity maps to
// exactly one target entity and vice versa.
type EntityMapping struct {
	ID             int64     `db:"id"`
	SourcePlatform string    `db:"source_platform"`
	SourceID       string    `db:"source_id"`
	TargetID       string    `db:"target_id"`
	SourceURL      *string   `db:"source_url"`
	LastSyncHash   *string   `db:"last_sync_hash"`
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
}

// WriteIntent is what the reconciler asks the write collaborator to apply.
// TargetID is empty when the entity has no mapping yet (create path).
type WriteIntent struct {
	SourcePlatform string
	TargetPlatform string
	EntityType     string
	EntityID       string
	Action         string
	Title          string
	Body           string
	State          string
	Labels         []string
	SourceURL      string
	TargetID       string
}

// WriteResult is the collaborator's answer to a successful write.
type WriteResult struct {
	TargetID  string
	TargetURL string
}
