package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"sync_relay/internal/config"
	"sync_relay/internal/domain"
	"sync_relay/internal/idempotency"
	"sync_relay/internal/locks"
	"sync_relay/internal/retry"
	"sync_relay/internal/service"
)

// In-memory stores with the same transition rules as the postgres layer, so
// the replay path can be exercised end to end against the real reconciler
// and checker rather than stubs.

type memEventRow struct {
	ev        domain.SyncEvent
	createdAt time.Time
}

type memEventStore struct {
	mu   sync.Mutex
	rows map[string]*memEventRow
}

func newMemEventStore() *memEventStore {
	return &memEventStore{rows: make(map[string]*memEventRow)}
}

func (s *memEventStore) InsertPending(_ context.Context, ev *domain.SyncEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Same conflict rule as the postgres upsert: only a failed row may be
	// re-claimed, everything else surfaces as an existing event.
	if row, ok := s.rows[ev.EventID]; ok && row.ev.Status != domain.StatusFailed {
		return domain.ErrEventExists
	}

	claimed := *ev
	claimed.Status = domain.StatusPending
	claimed.Error = nil
	claimed.ProcessedAt = nil
	s.rows[ev.EventID] = &memEventRow{ev: claimed, createdAt: time.Now()}
	return nil
}

func (s *memEventStore) StatusWithin(_ context.Context, eventID string, window time.Duration) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.rows[eventID]
	if !ok || !row.createdAt.After(time.Now().Add(-window)) {
		return "", nil
	}
	return row.ev.Status, nil
}

func (s *memEventStore) MarkProcessed(_ context.Context, eventID string, success bool, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Guarded update: only pending rows transition.
	row, ok := s.rows[eventID]
	if !ok || row.ev.Status != domain.StatusPending {
		return nil
	}
	if success {
		row.ev.Status = domain.StatusProcessed
	} else {
		row.ev.Status = domain.StatusFailed
		row.ev.Error = &errMsg
	}
	now := time.Now()
	row.ev.ProcessedAt = &now
	return nil
}

type memFingerprintStore struct {
	mu     sync.Mutex
	hashes map[string]time.Time
}

func newMemFingerprintStore() *memFingerprintStore {
	return &memFingerprintStore{hashes: make(map[string]time.Time)}
}

func (s *memFingerprintStore) Insert(_ context.Context, fp *domain.ProcessedFingerprint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hashes[fp.ContentHash] = time.Now()
	return nil
}

func (s *memFingerprintStore) ExistsWithin(_ context.Context, contentHash string, window time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	at, ok := s.hashes[contentHash]
	return ok && at.After(time.Now().Add(-window)), nil
}

type passthroughTx struct{}

func (passthroughTx) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type memMappingStore struct {
	mu   sync.Mutex
	rows map[string]domain.EntityMapping
}

func newMemMappingStore() *memMappingStore {
	return &memMappingStore{rows: make(map[string]domain.EntityMapping)}
}

func (s *memMappingStore) GetBySourceID(_ context.Context, sourcePlatform, sourceID string) (*domain.EntityMapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.rows[sourcePlatform+"/"+sourceID]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

func (s *memMappingStore) Upsert(_ context.Context, m *domain.EntityMapping) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[m.SourcePlatform+"/"+m.SourceID] = *m
	return nil
}

type memDeadLetterStore struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*domain.DeadLetterEntry
}

func newMemDeadLetterStore() *memDeadLetterStore {
	return &memDeadLetterStore{entries: make(map[uuid.UUID]*domain.DeadLetterEntry)}
}

func (s *memDeadLetterStore) Enqueue(_ context.Context, entry *domain.DeadLetterEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := *entry
	stored.ID = uuid.New()
	stored.Status = domain.DeadLetterFailed
	s.entries[stored.ID] = &stored
	return nil
}

func (s *memDeadLetterStore) ListFailed(_ context.Context, limit int) ([]domain.DeadLetterEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.DeadLetterEntry
	for _, e := range s.entries {
		if e.Status == domain.DeadLetterFailed && len(out) < limit {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (s *memDeadLetterStore) IncrementRetry(_ context.Context, id uuid.UUID, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return errors.New("no such entry")
	}
	e.Retries++
	e.LastError = &lastError
	return nil
}

func (s *memDeadLetterStore) MarkReplayed(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return errors.New("no such entry")
	}
	e.Status = domain.DeadLetterReplayed
	return nil
}

func (s *memDeadLetterStore) CountFailed(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.entries {
		if e.Status == domain.DeadLetterFailed {
			n++
		}
	}
	return n, nil
}

func (s *memDeadLetterStore) all() []domain.DeadLetterEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.DeadLetterEntry
	for _, e := range s.entries {
		out = append(out, *e)
	}
	return out
}

// flakyWriter fails every write until told to recover.
type flakyWriter struct {
	mu    sync.Mutex
	calls int
	up    bool
}

func (w *flakyWriter) Write(_ context.Context, intent *domain.WriteIntent) (*domain.WriteResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls++
	if !w.up {
		return nil, errors.New("target unavailable")
	}
	return &domain.WriteResult{TargetID: "page-" + intent.EntityID}, nil
}

func (w *flakyWriter) recover() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.up = true
}

func (w *flakyWriter) callCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.calls
}

func issueEditedNotification(deliveryID string) *domain.ChangeNotification {
	payload := `{
		"action": "edited",
		"issue": {
			"number": 42,
			"title": "Fix the thing",
			"body": "It is broken",
			"state": "open",
			"html_url": "https://tracker.example/org/repo/issues/42",
			"updated_at": "2026-08-01T10:00:00Z",
			"labels": [{"name": "bug"}]
		},
		"repository": {"full_name": "org/repo"},
		"sender": {"login": "alice"}
	}`

	return &domain.ChangeNotification{
		Provider:   domain.ProviderTracker,
		EventType:  "issues",
		DeliveryID: deliveryID,
		Payload:    json.RawMessage(payload),
	}
}

// A failed event must come back around: the first pass exhausts the writer
// retries and parks the notification, and once the target recovers a replay
// pass drives the same notification through the full reconciler again,
// reaching the writer instead of short-circuiting as a duplicate.
func TestReplay_FailedEventRecoversEndToEnd(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	events := newMemEventStore()
	fingerprints := newMemFingerprintStore()
	mappings := newMemMappingStore()
	deadLetters := newMemDeadLetterStore()
	writer := &flakyWriter{}

	checker := idempotency.NewChecker(events, fingerprints, passthroughTx{}, idempotency.Config{
		Window: time.Hour,
	}, logger)

	policy := retry.Policy{
		MaxAttempts: 2,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
		Multiplier:  2,
	}
	reconciler := service.NewReconciler(
		checker, mappings, deadLetters, writer,
		locks.NewRegistry(), retry.NewCoordinator(logger),
		policy, policy,
		config.SyncConfig{TargetPlatform: "docstore", MarkerNamespace: "prod", BotLogin: "sync-bot"},
		logger,
	)

	// Live pass: the target is down, retries exhaust, the event parks.
	res := reconciler.Reconcile(ctx, issueEditedNotification("d1"))
	require.False(t, res.OK)
	require.Equal(t, domain.OutcomeTargetError, res.Outcome)
	require.Equal(t, 2, writer.callCount())

	parked := deadLetters.all()
	require.Len(t, parked, 1)
	require.Equal(t, domain.DeadLetterFailed, parked[0].Status)

	// A replay of the same notification must reach the writer again. The
	// failed event row must not suppress its own recovery.
	writer.recover()

	sched := NewReplayScheduler(reconciler, deadLetters, nil, Config{
		BatchSize:  10,
		RunTimeout: time.Minute,
	}, logger)

	replayed, err := sched.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, replayed)
	require.Equal(t, 3, writer.callCount())

	resolved := deadLetters.all()
	require.Len(t, resolved, 1)
	require.Equal(t, domain.DeadLetterReplayed, resolved[0].Status)

	// The event row finished processed and a second delivery of the same
	// notification is now a straight duplicate.
	mapping, err := mappings.GetBySourceID(ctx, domain.ProviderTracker, "org/repo#42")
	require.NoError(t, err)
	require.NotNil(t, mapping)
	require.Equal(t, "page-org/repo#42", mapping.TargetID)

	again := reconciler.Reconcile(ctx, issueEditedNotification("d1"))
	require.True(t, again.OK)
	require.Equal(t, domain.OutcomeDuplicate, again.Outcome)
	require.Equal(t, 3, writer.callCount())
}
