package service

//go:generate mockgen -source=interfaces.go -destination=mocks/mocks.go -package=mocks

import (
	"context"

	"github.com/google/uuid"

	"sync_relay/internal/domain"
)

// IdempotencyStore decides duplicate-or-new and owns the pending/processed
// transitions of sync events.
type IdempotencyStore interface {
	IsDuplicate(ctx context.Context, eventID, contentHash string) (bool, string, error)
	RecordPending(ctx context.Context, ev *domain.SyncEvent) error
	MarkProcessed(ctx context.Context, ev *domain.SyncEvent, success bool, errMsg string) error
}

type MappingStore interface {
	GetBySourceID(ctx context.Context, sourcePlatform, sourceID string) (*domain.EntityMapping, error)
	Upsert(ctx context.Context, m *domain.EntityMapping) error
}

type DeadLetterStore interface {
	Enqueue(ctx context.Context, entry *domain.DeadLetterEntry) error
	ListFailed(ctx context.Context, limit int) ([]domain.DeadLetterEntry, error)
	IncrementRetry(ctx context.Context, id uuid.UUID, lastError string) error
	MarkReplayed(ctx context.Context, id uuid.UUID) error
	CountFailed(ctx context.Context) (int, error)
}

// TargetWriter is the remote-system write collaborator. It embeds the
// anti-loop marker on every write it performs.
type TargetWriter interface {
	Write(ctx context.Context, intent *domain.WriteIntent) (*domain.WriteResult, error)
}
