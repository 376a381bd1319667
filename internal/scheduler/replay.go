// Package scheduler re-drives dead-lettered notifications through the same
// reconciliation path as live traffic, on a fixed interval.
package scheduler

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"sync_relay/internal/domain"
)

// Reconciler is the shared entry point for live and replayed notifications.
type Reconciler interface {
	Reconcile(ctx context.Context, n *domain.ChangeNotification) domain.Result
}

type DeadLetterStore interface {
	ListFailed(ctx context.Context, limit int) ([]domain.DeadLetterEntry, error)
	IncrementRetry(ctx context.Context, id uuid.UUID, lastError string) error
	MarkReplayed(ctx context.Context, id uuid.UUID) error
}

// RetentionStore ages dedup state out of the window.
type RetentionStore interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type Config struct {
	Interval   time.Duration
	BatchSize  int
	RunTimeout time.Duration
	// Retention > 0 enables the cleanup sweep alongside each replay pass.
	Retention time.Duration
}

type ReplayScheduler struct {
	reconciler  Reconciler
	deadLetters DeadLetterStore
	retention   []RetentionStore
	cfg         Config
	logger      *slog.Logger
}

func NewReplayScheduler(reconciler Reconciler, deadLetters DeadLetterStore, retention []RetentionStore, cfg Config, logger *slog.Logger) *ReplayScheduler {
	return &ReplayScheduler{
		reconciler:  reconciler,
		deadLetters: deadLetters,
		retention:   retention,
		cfg:         cfg,
		logger:      logger,
	}
}

// Start ticks until the context is cancelled. A non-positive interval
// disables the scheduler entirely; manual replay stays available.
func (s *ReplayScheduler) Start(ctx context.Context) error {
	if s.cfg.Interval <= 0 {
		s.logger.Info("replay scheduler disabled")
		return nil
	}

	s.logger.Info("replay scheduler started", "interval", s.cfg.Interval)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("replay scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			s.runTick(ctx)
		}
	}
}

func (s *ReplayScheduler) runTick(ctx context.Context) {
	tickCtx, cancel := context.WithTimeout(ctx, s.cfg.RunTimeout)
	defer cancel()

	if _, err := s.RunOnce(tickCtx); err != nil {
		s.logger.Error("replay pass failed", "error", err)
	}
	s.sweepRetention(tickCtx)
}

// RunOnce makes a single pass over the failed entries and returns how many
// were resolved. It is also the manual replay entry point. A replay that
// comes back as a duplicate means the event was superseded by a later
// successful write, which resolves the entry just as well as an ok.
func (s *ReplayScheduler) RunOnce(ctx context.Context) (int, error) {
	entries, err := s.deadLetters.ListFailed(ctx, s.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	if len(entries) == 0 {
		return 0, nil
	}

	s.logger.Info("replaying dead letters", "count", len(entries))

	replayed := 0
	for i := range entries {
		entry := &entries[i]

		var n domain.ChangeNotification
		if err := json.Unmarshal(entry.Payload, &n); err != nil {
			s.logger.Error("dead letter payload is not a notification", "id", entry.ID, "error", err)
			if err := s.deadLetters.IncrementRetry(ctx, entry.ID, "invalid payload: "+err.Error()); err != nil {
				s.logger.Error("increment retry failed", "id", entry.ID, "error", err)
			}
			continue
		}

		res := s.reconciler.Reconcile(ctx, &n)
		switch res.Outcome {
		case domain.OutcomeOK, domain.OutcomeDuplicate:
			if err := s.deadLetters.MarkReplayed(ctx, entry.ID); err != nil {
				s.logger.Error("mark replayed failed", "id", entry.ID, "error", err)
				continue
			}
			replayed++
		default:
			if err := s.deadLetters.IncrementRetry(ctx, entry.ID, res.Reason); err != nil {
				s.logger.Error("increment retry failed", "id", entry.ID, "error", err)
			}
		}
	}

	s.logger.Info("replay pass completed", "replayed", replayed, "remaining", len(entries)-replayed)
	return replayed, nil
}

func (s *ReplayScheduler) sweepRetention(ctx context.Context) {
	if s.cfg.Retention <= 0 {
		return
	}

	cutoff := time.Now().Add(-s.cfg.Retention)
	for _, store := range s.retention {
		n, err := store.DeleteOlderThan(ctx, cutoff)
		if err != nil {
			s.logger.Error("retention sweep failed", "error", err)
			continue
		}
		if n > 0 {
			s.logger.Debug("retention sweep removed rows", "rows", n)
		}
	}
}
