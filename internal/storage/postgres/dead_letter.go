package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"sync_relay/internal/domain"
)

type DeadLetterStore struct {
	db *sqlx.DB
}

func NewDeadLetterStore(db *sqlx.DB) *DeadLetterStore {
	return &DeadLetterStore{db: db}
}

// Enqueue parks a notification whose retries were exhausted. Retries carries
// the attempts already made by the primary path.
func (s *DeadLetterStore) Enqueue(ctx context.Context, entry *domain.DeadLetterEntry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.Status == "" {
		entry.Status = domain.DeadLetterFailed
	}

	query := `
		INSERT INTO dead_letter (id, payload, reason, last_error, retries, status)
		VALUES ($1, $2, $3, $4, $5, $6)`

	exec := GetExecutor(ctx, s.db)
	_, err := exec.ExecContext(ctx, query,
		entry.ID,
		entry.Payload,
		entry.Reason,
		entry.LastError,
		entry.Retries,
		entry.Status,
	)
	return err
}

// ListFailed returns failed entries oldest first, capped at limit.
func (s *DeadLetterStore) ListFailed(ctx context.Context, limit int) ([]domain.DeadLetterEntry, error) {
	query := `
		SELECT id, payload, reason, last_error, retries, status, created_at, updated_at
		FROM dead_letter
		WHERE status = $1
		ORDER BY created_at
		LIMIT $2`

	var entries []domain.DeadLetterEntry
	err := s.db.SelectContext(ctx, &entries, query, domain.DeadLetterFailed, limit)
	return entries, err
}

// IncrementRetry records one more failed replay; the entry stays in place for
// the next scheduler tick.
func (s *DeadLetterStore) IncrementRetry(ctx context.Context, id uuid.UUID, lastError string) error {
	query := `
		UPDATE dead_letter
		SET retries = retries + 1, last_error = NULLIF($2, ''), updated_at = now()
		WHERE id = $1`

	_, err := s.db.ExecContext(ctx, query, id, lastError)
	return err
}

// MarkReplayed resolves an entry after a successful re-drive. It is kept for
// audit, not deleted.
func (s *DeadLetterStore) MarkReplayed(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE dead_letter
		SET status = $2, updated_at = now()
		WHERE id = $1 AND status = $3`

	_, err := s.db.ExecContext(ctx, query, id, domain.DeadLetterReplayed, domain.DeadLetterFailed)
	return err
}

// CountFailed reports the backlog size for monitoring.
func (s *DeadLetterStore) CountFailed(ctx context.Context) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM dead_letter WHERE status = $1`, domain.DeadLetterFailed)
	return count, err
}
