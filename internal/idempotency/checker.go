// Package idempotency decides whether an inbound event is new work or a
// duplicate, and owns the pending/processed transitions of sync events.
package idempotency

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"sync_relay/internal/domain"
)

// Duplicate reasons surfaced to the reconciler.
const (
	ReasonEventInFlight  = "event_in_flight"
	ReasonEventProcessed = "event_processed"
	ReasonContentMatch   = "content_match"
)

type Config struct {
	// Window bounds how far back duplicate detection looks.
	Window time.Duration
	// CacheTTL enables the in-process positive cache when > 0.
	CacheTTL time.Duration
	// FailOpen lets events proceed when the duplicate check itself fails.
	// Dropping legitimate events is worse than an occasional redundant
	// write the idempotent remote upsert absorbs.
	FailOpen bool
}

type Checker struct {
	events       EventStore
	fingerprints FingerprintStore
	tx           TransactionManager
	cache        *ttlCache
	cfg          Config
	logger       *slog.Logger
}

func NewChecker(events EventStore, fingerprints FingerprintStore, tx TransactionManager, cfg Config, logger *slog.Logger) *Checker {
	c := &Checker{
		events:       events,
		fingerprints: fingerprints,
		tx:           tx,
		cfg:          cfg,
		logger:       logger,
	}
	if cfg.CacheTTL > 0 {
		c.cache = newTTLCache(cfg.CacheTTL)
	}
	return c
}

// IsDuplicate checks the event id first (a pending row is an in-flight
// duplicate, a processed row a completed one; a failed row suppresses
// nothing so its replay can run), then the content fingerprint. When the
// store is unreachable and FailOpen is set, the event proceeds as
// non-duplicate.
func (c *Checker) IsDuplicate(ctx context.Context, eventID, contentHash string) (bool, string, error) {
	if c.cache != nil {
		if reason, ok := c.cache.Get(eventID); ok {
			return true, reason, nil
		}
		if reason, ok := c.cache.Get(contentHash); ok {
			return true, reason, nil
		}
	}

	status, err := c.events.StatusWithin(ctx, eventID, c.cfg.Window)
	if err != nil {
		return c.checkFailed(fmt.Errorf("check event id: %w", err))
	}
	switch status {
	case domain.StatusPending:
		// In-flight work is never cached: it resolves soon either way.
		return true, ReasonEventInFlight, nil
	case domain.StatusProcessed:
		if c.cache != nil {
			c.cache.Set(eventID, ReasonEventProcessed)
		}
		return true, ReasonEventProcessed, nil
	}

	committed, err := c.fingerprints.ExistsWithin(ctx, contentHash, c.cfg.Window)
	if err != nil {
		return c.checkFailed(fmt.Errorf("check content hash: %w", err))
	}
	if committed {
		if c.cache != nil {
			c.cache.Set(contentHash, ReasonContentMatch)
		}
		return true, ReasonContentMatch, nil
	}

	return false, "", nil
}

func (c *Checker) checkFailed(err error) (bool, string, error) {
	if c.cfg.FailOpen {
		c.logger.Warn("duplicate check failed, failing open", "error", err)
		return false, "", nil
	}
	return false, "", err
}

// RecordPending inserts the intent row before the business write.
func (c *Checker) RecordPending(ctx context.Context, ev *domain.SyncEvent) error {
	return c.events.InsertPending(ctx, ev)
}

// MarkProcessed finishes an event. On success the fingerprint insert is the
// durable commit point, so both writes happen in one transaction; a crash
// before it leaves the event pending and safe to reprocess.
func (c *Checker) MarkProcessed(ctx context.Context, ev *domain.SyncEvent, success bool, errMsg string) error {
	if !success {
		return c.events.MarkProcessed(ctx, ev.EventID, false, errMsg)
	}

	err := c.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := c.events.MarkProcessed(txCtx, ev.EventID, true, ""); err != nil {
			return fmt.Errorf("mark processed: %w", err)
		}
		fp := &domain.ProcessedFingerprint{
			ContentHash: ev.ContentHash,
			EntityID:    ev.EntityID,
			Provider:    ev.SourcePlatform,
		}
		if err := c.fingerprints.Insert(txCtx, fp); err != nil {
			return fmt.Errorf("insert fingerprint: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if c.cache != nil {
		c.cache.Set(ev.EventID, ReasonEventProcessed)
		c.cache.Set(ev.ContentHash, ReasonContentMatch)
	}
	return nil
}
