package postgres

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"sync_relay/internal/domain"
)

type FingerprintStore struct {
	db *sqlx.DB
}

func NewFingerprintStore(db *sqlx.DB) *FingerprintStore {
	return &FingerprintStore{db: db}
}

// Insert appends the fingerprint row that marks a unit of work as committed.
// A concurrent identical commit is absorbed by the unique constraint.
func (s *FingerprintStore) Insert(ctx context.Context, fp *domain.ProcessedFingerprint) error {
	query := `
		INSERT INTO processed_fingerprint (content_hash, entity_id, provider)
		VALUES ($1, $2, $3)
		ON CONFLICT (content_hash) DO NOTHING`

	exec := GetExecutor(ctx, s.db)
	_, err := exec.ExecContext(ctx, query, fp.ContentHash, fp.EntityID, fp.Provider)
	return err
}

// ExistsWithin reports whether the same logical content was already committed
// inside the dedup window, independent of delivery-identifier reuse.
func (s *FingerprintStore) ExistsWithin(ctx context.Context, contentHash string, window time.Duration) (bool, error) {
	query := `SELECT EXISTS (
		SELECT 1 FROM processed_fingerprint WHERE content_hash = $1 AND created_at > $2
	)`

	var exists bool
	cutoff := time.Now().Add(-window)
	err := s.db.GetContext(ctx, &exists, query, contentHash, cutoff)
	return exists, err
}

// DeleteOlderThan ages fingerprints out of the dedup window permanently.
func (s *FingerprintStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM processed_fingerprint WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
