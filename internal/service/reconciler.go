package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"sync_relay/internal/config"
	"sync_relay/internal/domain"
	"sync_relay/internal/fingerprint"
	"sync_relay/internal/locks"
	"sync_relay/internal/loopguard"
	"sync_relay/internal/retry"
)

// Reconciler drives one notification from receipt to a terminal outcome:
// loop check, entity lock, duplicate check, pending record, retried business
// write, commit or dead letter.
type Reconciler struct {
	idempotency IdempotencyStore
	mappings    MappingStore
	deadLetters DeadLetterStore
	writer      TargetWriter
	locks       *locks.Registry
	retrier     *retry.Coordinator
	writePolicy retry.Policy
	storePolicy retry.Policy
	cfg         config.SyncConfig
	logger      *slog.Logger
}

func NewReconciler(
	idempotency IdempotencyStore,
	mappings MappingStore,
	deadLetters DeadLetterStore,
	writer TargetWriter,
	lockRegistry *locks.Registry,
	retrier *retry.Coordinator,
	writePolicy retry.Policy,
	storePolicy retry.Policy,
	cfg config.SyncConfig,
	logger *slog.Logger,
) *Reconciler {
	return &Reconciler{
		idempotency: idempotency,
		mappings:    mappings,
		deadLetters: deadLetters,
		writer:      writer,
		locks:       lockRegistry,
		retrier:     retrier,
		writePolicy: writePolicy,
		storePolicy: storePolicy,
		cfg:         cfg,
		logger:      logger,
	}
}

// Reconcile is the single entry point for live traffic and dead-letter
// replays. It never returns a raw error; every failure mode maps to one of
// the outcome codes.
func (r *Reconciler) Reconcile(ctx context.Context, n *domain.ChangeNotification) domain.Result {
	payload, err := domain.ParsePayload(n.Provider, n.Payload)
	if err != nil {
		r.logger.Warn("rejected notification", "provider", n.Provider, "error", err)
		return domain.ResultErr(domain.OutcomeMissingFields, err.Error())
	}

	logger := r.logger.With("provider", n.Provider, "entity_id", payload.EntityID, "action", payload.Action)

	// Echo detection runs before any bookkeeping: an echo will never recur,
	// so recording it would only burn a dedup slot.
	if loopguard.HasMarker(payload.Body, r.cfg.MarkerNamespace) {
		logger.Debug("discarding echo of own write")
		return domain.ResultOK(domain.OutcomeSyncInduced, "sync marker present")
	}
	if r.cfg.BotLogin != "" && payload.Actor == r.cfg.BotLogin {
		logger.Debug("discarding change made by sync account", "actor", payload.Actor)
		return domain.ResultOK(domain.OutcomeLoopPrevented, "actor is sync account")
	}

	eventID := fingerprint.EventID(n.Provider, n.DeliveryID, payload.EntityType, payload.EntityID, payload.UpdatedAt)
	contentHash := fingerprint.ContentHash(n.Provider, payload)

	lock := r.locks.Acquire(domain.EntityKey(n.Provider, payload.EntityID))
	defer lock.Unlock()

	dup, reason, err := r.idempotency.IsDuplicate(ctx, eventID, contentHash)
	if err != nil {
		logger.Error("duplicate check failed", "event_id", eventID, "error", err)
		return domain.ResultErr(domain.OutcomeStoreError, err.Error())
	}
	if dup {
		logger.Info("suppressed duplicate", "event_id", eventID, "reason", reason)
		return domain.ResultOK(domain.OutcomeDuplicate, reason)
	}

	ev := &domain.SyncEvent{
		EventID:        eventID,
		ContentHash:    contentHash,
		SourcePlatform: n.Provider,
		TargetPlatform: r.cfg.TargetPlatform,
		EntityType:     payload.EntityType,
		EntityID:       payload.EntityID,
		Action:         payload.Action,
		Status:         domain.StatusPending,
	}
	if err := r.recordPending(ctx, ev); err != nil {
		if errors.Is(err, domain.ErrEventExists) {
			logger.Info("suppressed duplicate", "event_id", eventID, "reason", "event_in_flight")
			return domain.ResultOK(domain.OutcomeDuplicate, "event_in_flight")
		}
		logger.Error("record pending failed", "event_id", eventID, "error", err)
		return r.parkFailure(ctx, n, ev, logger, domain.OutcomeStoreError, fmt.Errorf("record pending: %w", err))
	}

	result, err := r.performWrite(ctx, n, payload)
	if err != nil {
		return r.parkFailure(ctx, n, ev, logger, domain.OutcomeTargetError, err)
	}

	if err := r.commit(ctx, n, payload, ev, contentHash, result); err != nil {
		return r.parkFailure(ctx, n, ev, logger, domain.OutcomeTargetError, fmt.Errorf("commit: %w", err))
	}

	logger.Info("reconciled",
		"event_id", eventID,
		"target_id", result.TargetID,
	)
	return domain.ResultOK(domain.OutcomeOK, "")
}

// recordPending retries transient store failures under the store policy; a
// duplicate row is terminal and stops the retries immediately. Exhaustion
// parks the event so a store blip never loses it.
func (r *Reconciler) recordPending(ctx context.Context, ev *domain.SyncEvent) error {
	return r.retrier.Execute(ctx, "record_pending", r.storePolicy, func(ctx context.Context) error {
		err := r.idempotency.RecordPending(ctx, ev)
		if errors.Is(err, domain.ErrEventExists) {
			return retry.Permanent(err)
		}
		return err
	})
}

// performWrite drives the remote write through the retry coordinator. The
// mapping lookup sits inside the attempt so transient store failures retry
// with the rest of the unit.
func (r *Reconciler) performWrite(ctx context.Context, n *domain.ChangeNotification, payload *domain.ChangePayload) (*domain.WriteResult, error) {
	var result *domain.WriteResult

	err := r.retrier.Execute(ctx, "remote_write", r.writePolicy, func(ctx context.Context) error {
		mapping, err := r.mappings.GetBySourceID(ctx, n.Provider, payload.EntityID)
		if err != nil {
			return fmt.Errorf("load mapping: %w", err)
		}

		intent := &domain.WriteIntent{
			SourcePlatform: n.Provider,
			TargetPlatform: r.cfg.TargetPlatform,
			EntityType:     payload.EntityType,
			EntityID:       payload.EntityID,
			Action:         payload.Action,
			Title:          payload.Title,
			Body:           payload.Body,
			State:          payload.State,
			Labels:         payload.Labels,
			SourceURL:      payload.SourceURL,
		}
		if mapping != nil {
			intent.TargetID = mapping.TargetID
		}

		res, err := r.writer.Write(ctx, intent)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// commit updates the mapping and flips the event to processed. Store errors
// here are retried under the store policy; if they still fail, the whole
// unit fails and the remote upsert absorbs the eventual redo.
func (r *Reconciler) commit(ctx context.Context, n *domain.ChangeNotification, payload *domain.ChangePayload, ev *domain.SyncEvent, contentHash string, result *domain.WriteResult) error {
	return r.retrier.Execute(ctx, "store_commit", r.storePolicy, func(ctx context.Context) error {
		mapping := &domain.EntityMapping{
			SourcePlatform: n.Provider,
			SourceID:       payload.EntityID,
			TargetID:       result.TargetID,
			LastSyncHash:   &contentHash,
		}
		if payload.SourceURL != "" {
			mapping.SourceURL = &payload.SourceURL
		}
		if err := r.mappings.Upsert(ctx, mapping); err != nil {
			return fmt.Errorf("upsert mapping: %w", err)
		}
		return r.idempotency.MarkProcessed(ctx, ev, true, "")
	})
}

// parkFailure marks the event failed and parks the original notification in
// the dead-letter queue for later replay.
func (r *Reconciler) parkFailure(ctx context.Context, n *domain.ChangeNotification, ev *domain.SyncEvent, logger *slog.Logger, outcome domain.Outcome, cause error) domain.Result {
	attempts := 1
	var exhausted *retry.ExhaustedError
	if errors.As(cause, &exhausted) {
		attempts = exhausted.Attempts
	}
	errMsg := cause.Error()

	if err := r.idempotency.MarkProcessed(ctx, ev, false, errMsg); err != nil {
		logger.Error("mark failed errored", "event_id", ev.EventID, "error", err)
	}

	raw, err := json.Marshal(n)
	if err != nil {
		logger.Error("cannot serialize notification for dead letter", "event_id", ev.EventID, "error", err)
		return domain.ResultErr(outcome, errMsg)
	}

	entry := &domain.DeadLetterEntry{
		Payload:   raw,
		Reason:    string(outcome),
		LastError: &errMsg,
		Retries:   attempts,
		Status:    domain.DeadLetterFailed,
	}
	if err := r.deadLetters.Enqueue(ctx, entry); err != nil {
		logger.Error("dead letter enqueue failed", "event_id", ev.EventID, "error", err)
	} else {
		logger.Warn("parked in dead letter queue",
			"event_id", ev.EventID,
			"dead_letter_id", entry.ID,
			"attempts", attempts,
			"error", errMsg,
		)
	}

	return domain.ResultErr(outcome, errMsg)
}
