package idempotency

//go:generate mockgen -source=interfaces.go -destination=mocks/mocks.go -package=mocks

import (
	"context"
	"time"

	"sync_relay/internal/domain"
)

type EventStore interface {
	InsertPending(ctx context.Context, ev *domain.SyncEvent) error
	StatusWithin(ctx context.Context, eventID string, window time.Duration) (string, error)
	MarkProcessed(ctx context.Context, eventID string, success bool, errMsg string) error
}

type FingerprintStore interface {
	Insert(ctx context.Context, fp *domain.ProcessedFingerprint) error
	ExistsWithin(ctx context.Context, contentHash string, window time.Duration) (bool, error)
}

type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
