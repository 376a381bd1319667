package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"sync_relay/internal/domain"
)

type EntityMappingStore struct {
	db *sqlx.DB
}

func NewEntityMappingStore(db *sqlx.DB) *EntityMappingStore {
	return &EntityMappingStore{db: db}
}

// Upsert creates the mapping on first successful reconciliation and refreshes
// it on every later one. Uniqueness of both source and target ids is enforced
// by the schema.
func (s *EntityMappingStore) Upsert(ctx context.Context, m *domain.EntityMapping) error {
	query := `
		INSERT INTO entity_mapping (source_platform, source_id, target_id, source_url, last_sync_hash)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (source_platform, source_id) DO UPDATE SET
			target_id = EXCLUDED.target_id,
			source_url = COALESCE(EXCLUDED.source_url, entity_mapping.source_url),
			last_sync_hash = EXCLUDED.last_sync_hash,
			updated_at = now()
		RETURNING id`

	exec := GetExecutor(ctx, s.db)
	return exec.QueryRowxContext(ctx, query,
		m.SourcePlatform,
		m.SourceID,
		m.TargetID,
		m.SourceURL,
		m.LastSyncHash,
	).Scan(&m.ID)
}

// GetBySourceID loads the mapping for a source entity, nil when the entity
// was never reconciled.
func (s *EntityMappingStore) GetBySourceID(ctx context.Context, sourcePlatform, sourceID string) (*domain.EntityMapping, error) {
	var m domain.EntityMapping
	query := `
		SELECT id, source_platform, source_id, target_id, source_url, last_sync_hash, created_at, updated_at
		FROM entity_mapping
		WHERE source_platform = $1 AND source_id = $2`

	err := s.db.GetContext(ctx, &m, query, sourcePlatform, sourceID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// GetByTargetID resolves the reverse direction, nil when unmapped.
func (s *EntityMappingStore) GetByTargetID(ctx context.Context, targetID string) (*domain.EntityMapping, error) {
	var m domain.EntityMapping
	query := `
		SELECT id, source_platform, source_id, target_id, source_url, last_sync_hash, created_at, updated_at
		FROM entity_mapping
		WHERE target_id = $1`

	err := s.db.GetContext(ctx, &m, query, targetID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}
