package idempotency

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"sync_relay/internal/domain"
	"sync_relay/internal/idempotency/mocks"
)

type CheckerTestSuite struct {
	suite.Suite
	ctrl *gomock.Controller

	events       *mocks.MockEventStore
	fingerprints *mocks.MockFingerprintStore
	tx           *mocks.MockTransactionManager

	logger *slog.Logger
	window time.Duration
}

func (s *CheckerTestSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.events = mocks.NewMockEventStore(s.ctrl)
	s.fingerprints = mocks.NewMockFingerprintStore(s.ctrl)
	s.tx = mocks.NewMockTransactionManager(s.ctrl)
	s.logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	s.window = time.Hour
}

func (s *CheckerTestSuite) TearDownTest() {
	s.ctrl.Finish()
}

func TestCheckerTestSuite(t *testing.T) {
	suite.Run(t, new(CheckerTestSuite))
}

func (s *CheckerTestSuite) newChecker(cfg Config) *Checker {
	return NewChecker(s.events, s.fingerprints, s.tx, cfg, s.logger)
}

func (s *CheckerTestSuite) TestIsDuplicate_NewEvent() {
	ctx := context.Background()
	c := s.newChecker(Config{Window: s.window})

	s.events.EXPECT().StatusWithin(ctx, "ev-1", s.window).Return("", nil)
	s.fingerprints.EXPECT().ExistsWithin(ctx, "hash-1", s.window).Return(false, nil)

	dup, reason, err := c.IsDuplicate(ctx, "ev-1", "hash-1")

	s.NoError(err)
	s.False(dup)
	s.Empty(reason)
}

func (s *CheckerTestSuite) TestIsDuplicate_EventIDMatch() {
	ctx := context.Background()
	c := s.newChecker(Config{Window: s.window})

	s.events.EXPECT().StatusWithin(ctx, "ev-1", s.window).Return(domain.StatusProcessed, nil)

	dup, reason, err := c.IsDuplicate(ctx, "ev-1", "hash-1")

	s.NoError(err)
	s.True(dup)
	s.Equal(ReasonEventProcessed, reason)
}

func (s *CheckerTestSuite) TestIsDuplicate_PendingEventIsInFlight() {
	ctx := context.Background()
	c := s.newChecker(Config{Window: s.window})

	s.events.EXPECT().StatusWithin(ctx, "ev-1", s.window).Return(domain.StatusPending, nil)

	dup, reason, err := c.IsDuplicate(ctx, "ev-1", "hash-1")

	s.NoError(err)
	s.True(dup)
	s.Equal(ReasonEventInFlight, reason)
}

func (s *CheckerTestSuite) TestIsDuplicate_FailedEventIsNotDuplicate() {
	ctx := context.Background()
	c := s.newChecker(Config{Window: s.window})

	// A failed row must not suppress its own replay; the fingerprint check
	// still runs and clears it.
	s.events.EXPECT().StatusWithin(ctx, "ev-1", s.window).Return(domain.StatusFailed, nil)
	s.fingerprints.EXPECT().ExistsWithin(ctx, "hash-1", s.window).Return(false, nil)

	dup, reason, err := c.IsDuplicate(ctx, "ev-1", "hash-1")

	s.NoError(err)
	s.False(dup)
	s.Empty(reason)
}

func (s *CheckerTestSuite) TestIsDuplicate_ContentMatchAcrossDeliveries() {
	ctx := context.Background()
	c := s.newChecker(Config{Window: s.window})

	s.events.EXPECT().StatusWithin(ctx, "ev-2", s.window).Return("", nil)
	s.fingerprints.EXPECT().ExistsWithin(ctx, "hash-1", s.window).Return(true, nil)

	dup, reason, err := c.IsDuplicate(ctx, "ev-2", "hash-1")

	s.NoError(err)
	s.True(dup)
	s.Equal(ReasonContentMatch, reason)
}

func (s *CheckerTestSuite) TestIsDuplicate_FailOpenOnStoreError() {
	ctx := context.Background()
	c := s.newChecker(Config{Window: s.window, FailOpen: true})

	s.events.EXPECT().StatusWithin(ctx, "ev-1", s.window).Return("", errors.New("store down"))

	dup, reason, err := c.IsDuplicate(ctx, "ev-1", "hash-1")

	s.NoError(err)
	s.False(dup)
	s.Empty(reason)
}

func (s *CheckerTestSuite) TestIsDuplicate_FailClosedOnStoreError() {
	ctx := context.Background()
	c := s.newChecker(Config{Window: s.window, FailOpen: false})

	s.events.EXPECT().StatusWithin(ctx, "ev-1", s.window).Return("", errors.New("store down"))

	_, _, err := c.IsDuplicate(ctx, "ev-1", "hash-1")

	s.Error(err)
	s.Contains(err.Error(), "store down")
}

func (s *CheckerTestSuite) TestIsDuplicate_CacheShortCircuitsSecondCheck() {
	ctx := context.Background()
	c := s.newChecker(Config{Window: s.window, CacheTTL: time.Minute})

	s.events.EXPECT().StatusWithin(ctx, "ev-1", s.window).Return(domain.StatusProcessed, nil).Times(1)

	dup, _, err := c.IsDuplicate(ctx, "ev-1", "hash-1")
	s.NoError(err)
	s.True(dup)

	// Second identical check hits the cache; no store call expected.
	dup, reason, err := c.IsDuplicate(ctx, "ev-1", "hash-1")
	s.NoError(err)
	s.True(dup)
	s.Equal(ReasonEventProcessed, reason)
}

func (s *CheckerTestSuite) TestMarkProcessed_SuccessCommitsFingerprintInTx() {
	ctx := context.Background()
	c := s.newChecker(Config{Window: s.window})

	ev := &domain.SyncEvent{
		EventID:        "ev-1",
		ContentHash:    "hash-1",
		EntityID:       "org/repo#42",
		SourcePlatform: "tracker",
	}

	s.tx.EXPECT().WithTransaction(ctx, gomock.Any()).DoAndReturn(
		func(ctx context.Context, fn func(context.Context) error) error {
			return fn(ctx)
		},
	)
	s.events.EXPECT().MarkProcessed(ctx, "ev-1", true, "").Return(nil)
	s.fingerprints.EXPECT().Insert(ctx, gomock.Any()).DoAndReturn(
		func(_ context.Context, fp *domain.ProcessedFingerprint) error {
			s.Equal("hash-1", fp.ContentHash)
			s.Equal("org/repo#42", fp.EntityID)
			s.Equal("tracker", fp.Provider)
			return nil
		},
	)

	s.NoError(c.MarkProcessed(ctx, ev, true, ""))
}

func (s *CheckerTestSuite) TestMarkProcessed_FailureSkipsFingerprint() {
	ctx := context.Background()
	c := s.newChecker(Config{Window: s.window})

	ev := &domain.SyncEvent{EventID: "ev-1", ContentHash: "hash-1"}

	s.events.EXPECT().MarkProcessed(ctx, "ev-1", false, "remote rejected").Return(nil)

	s.NoError(c.MarkProcessed(ctx, ev, false, "remote rejected"))
}

func (s *CheckerTestSuite) TestMarkProcessed_SuccessPopulatesCache() {
	ctx := context.Background()
	c := s.newChecker(Config{Window: s.window, CacheTTL: time.Minute})

	ev := &domain.SyncEvent{EventID: "ev-1", ContentHash: "hash-1", EntityID: "e", SourcePlatform: "tracker"}

	s.tx.EXPECT().WithTransaction(ctx, gomock.Any()).DoAndReturn(
		func(ctx context.Context, fn func(context.Context) error) error {
			return fn(ctx)
		},
	)
	s.events.EXPECT().MarkProcessed(ctx, "ev-1", true, "").Return(nil)
	s.fingerprints.EXPECT().Insert(ctx, gomock.Any()).Return(nil)

	s.NoError(c.MarkProcessed(ctx, ev, true, ""))

	// Both keys now answer from the cache without store calls.
	dup, _, err := c.IsDuplicate(ctx, "ev-1", "other-hash")
	s.NoError(err)
	s.True(dup)

	dup, _, err = c.IsDuplicate(ctx, "other-ev", "hash-1")
	s.NoError(err)
	s.True(dup)
}

func (s *CheckerTestSuite) TestRecordPending_PassesThrough() {
	ctx := context.Background()
	c := s.newChecker(Config{Window: s.window})

	ev := &domain.SyncEvent{EventID: "ev-1"}
	s.events.EXPECT().InsertPending(ctx, ev).Return(domain.ErrEventExists)

	s.ErrorIs(c.RecordPending(ctx, ev), domain.ErrEventExists)
}
