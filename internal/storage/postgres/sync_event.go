package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"sync_relay/internal/domain"
)

type SyncEventStore struct {
	db *sqlx.DB
}

func NewSyncEventStore(db *sqlx.DB) *SyncEventStore {
	return &SyncEventStore{db: db}
}

// InsertPending records the intent to process an event before the business
// write is attempted. The unique constraint on event_id is the backstop
// behind the entity lock: a concurrent insert for the same event surfaces as
// domain.ErrEventExists. A row left at status failed is re-claimed instead,
// so dead-letter replays run the write again; pending and processed rows
// stay untouchable.
func (s *SyncEventStore) InsertPending(ctx context.Context, ev *domain.SyncEvent) error {
	query := `
		INSERT INTO sync_event (
			event_id, content_hash, source_platform, target_platform,
			entity_type, entity_id, action, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (event_id) DO UPDATE SET
			content_hash = EXCLUDED.content_hash,
			status = EXCLUDED.status,
			error = NULL,
			processed_at = NULL,
			created_at = now()
		WHERE sync_event.status = $9
		RETURNING id`

	exec := GetExecutor(ctx, s.db)
	err := exec.QueryRowxContext(ctx, query,
		ev.EventID,
		ev.ContentHash,
		ev.SourcePlatform,
		ev.TargetPlatform,
		ev.EntityType,
		ev.EntityID,
		ev.Action,
		domain.StatusPending,
		domain.StatusFailed,
	).Scan(&ev.ID)

	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrEventExists
	}
	return err
}

// StatusWithin returns the status of the event recorded inside the dedup
// window, or "" when there is none. Pending counts as an in-flight duplicate
// and processed as a completed one; a failed row must not suppress its own
// replay, so callers treat it like an absent one.
func (s *SyncEventStore) StatusWithin(ctx context.Context, eventID string, window time.Duration) (string, error) {
	query := `SELECT status FROM sync_event WHERE event_id = $1 AND created_at > $2`

	var status string
	cutoff := time.Now().Add(-window)
	err := s.db.GetContext(ctx, &status, query, eventID, cutoff)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return status, err
}

// MarkProcessed transitions a pending event to processed or failed. The
// status guard keeps the transition single-shot.
func (s *SyncEventStore) MarkProcessed(ctx context.Context, eventID string, success bool, errMsg string) error {
	status := domain.StatusProcessed
	if !success {
		status = domain.StatusFailed
	}

	query := `
		UPDATE sync_event
		SET status = $2, error = NULLIF($3, ''), processed_at = now()
		WHERE event_id = $1 AND status = $4`

	exec := GetExecutor(ctx, s.db)
	_, err := exec.ExecContext(ctx, query, eventID, status, errMsg, domain.StatusPending)
	return err
}

// GetByEventID loads one event, nil when absent.
func (s *SyncEventStore) GetByEventID(ctx context.Context, eventID string) (*domain.SyncEvent, error) {
	var ev domain.SyncEvent
	query := `
		SELECT id, event_id, content_hash, source_platform, target_platform,
		       entity_type, entity_id, action, status, error, created_at, processed_at
		FROM sync_event
		WHERE event_id = $1`

	err := s.db.GetContext(ctx, &ev, query, eventID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

// DeleteOlderThan is the retention cleanup; normal operation never deletes
// sync events.
func (s *SyncEventStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sync_event WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
