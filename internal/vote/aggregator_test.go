package vote_test

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/robalyx/answervote/internal/vote"
	"github.com/sourcegraph/conc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var errBackend = errors.New("backend offline")

// flakyCounters fails Apply calls selected by failApply.
type flakyCounters struct {
	*vote.MemoryCounters
	calls      atomic.Int32
	failApply  func(call int32, delta vote.Delta) bool
	afterApply func()
}

func (f *flakyCounters) Apply(ctx context.Context, q, a string, delta vote.Delta) (*vote.Counters, error) {
	call := f.calls.Add(1)
	if f.failApply != nil && f.failApply(call, delta) {
		return nil, errBackend
	}
	counters, err := f.MemoryCounters.Apply(ctx, q, a, delta)
	if f.afterApply != nil {
		f.afterApply()
	}
	return counters, err
}

// flakyLedger fails writes while the matching flag is set and honors
// context cancellation on Put.
type flakyLedger struct {
	*vote.MemoryLedger
	failPut    atomic.Bool
	failDelete atomic.Bool
}

func (f *flakyLedger) Put(ctx context.Context, record *vote.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if f.failPut.Load() {
		return errBackend
	}
	return f.MemoryLedger.Put(ctx, record)
}

func (f *flakyLedger) Delete(ctx context.Context, key vote.Key) (bool, error) {
	if f.failPut.Load() {
		return false, errBackend
	}
	return f.MemoryLedger.Delete(ctx, key)
}

func (f *flakyLedger) DeleteByAnswer(ctx context.Context, answerID string) (int, error) {
	if f.failDelete.Load() {
		return 0, errBackend
	}
	return f.MemoryLedger.DeleteByAnswer(ctx, answerID)
}

// serialTransactor runs every unit of work under one mutex.
type serialTransactor struct {
	mu     sync.Mutex
	stores vote.Stores
	runs   atomic.Int32
}

func (s *serialTransactor) Atomically(
	ctx context.Context, _ string, fn func(context.Context, vote.Stores) error,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs.Add(1)
	return fn(ctx, s.stores)
}

type fixture struct {
	aggregator *vote.Aggregator
	counters   *flakyCounters
	ledger     *flakyLedger
}

func setupAggregator(t *testing.T, opts ...vote.Option) *fixture {
	t.Helper()

	counters := &flakyCounters{MemoryCounters: vote.NewMemoryCounters()}
	ledger := &flakyLedger{MemoryLedger: vote.NewMemoryLedger()}
	aggregator := vote.NewAggregator(counters, ledger, zap.NewNop(), opts...)

	_, err := aggregator.RegisterAnswer(t.Context(), "Q1", "A1")
	require.NoError(t, err)

	return &fixture{aggregator: aggregator, counters: counters, ledger: ledger}
}

func (f *fixture) requireCounters(t *testing.T, upvotes, downvotes int64) {
	t.Helper()

	counters, err := f.aggregator.Counters(t.Context(), "Q1", "A1")
	require.NoError(t, err)
	assert.Equal(t, upvotes, counters.Upvotes, "upvotes")
	assert.Equal(t, downvotes, counters.Downvotes, "downvotes")
}

func (f *fixture) requireConsistent(t *testing.T) {
	t.Helper()

	counters, err := f.aggregator.Counters(t.Context(), "Q1", "A1")
	require.NoError(t, err)
	records, err := f.aggregator.Ledger().Records(t.Context(), "A1")
	require.NoError(t, err)

	tally := vote.Tally(records)
	assert.Equal(t, tally.Upvotes, counters.Upvotes, "upvotes drifted from ledger")
	assert.Equal(t, tally.Downvotes, counters.Downvotes, "downvotes drifted from ledger")
}

func TestVoteAliceScenario(t *testing.T) {
	t.Parallel()

	f := setupAggregator(t)
	ctx := t.Context()

	steps := []struct {
		action    vote.Action
		expected  vote.Action
		upvotes   int64
		downvotes int64
	}{
		{vote.ActionUpvote, vote.ActionUpvote, 1, 0},
		{vote.ActionDownvote, vote.ActionDownvote, 0, 1},
		{vote.ActionDownvote, vote.ActionNone, 0, 0},
		{vote.ActionUpvote, vote.ActionUpvote, 1, 0},
	}

	for i, step := range steps {
		result, err := f.aggregator.Vote(ctx, "alice", "Q1", "A1", step.action)
		require.NoError(t, err, "step %d", i)
		assert.Equal(t, step.expected, result.Action, "step %d", i)
		assert.Equal(t, step.upvotes, result.Counters.Upvotes, "step %d", i)
		assert.Equal(t, step.downvotes, result.Counters.Downvotes, "step %d", i)

		status, err := f.aggregator.Status(ctx, "alice", "Q1", "A1")
		require.NoError(t, err)
		assert.Equal(t, step.expected, status)
	}
}

func TestVoteRepeatClickRoundTrip(t *testing.T) {
	t.Parallel()

	f := setupAggregator(t)
	ctx := t.Context()

	// Baseline from another voter
	_, err := f.aggregator.Vote(ctx, "carol", "Q1", "A1", vote.ActionDownvote)
	require.NoError(t, err)

	first, err := f.aggregator.Vote(ctx, "dave", "Q1", "A1", vote.ActionUpvote)
	require.NoError(t, err)
	assert.Equal(t, vote.ActionNone, first.Previous)
	assert.True(t, first.Changed())

	second, err := f.aggregator.Vote(ctx, "dave", "Q1", "A1", vote.ActionUpvote)
	require.NoError(t, err)
	assert.Equal(t, vote.ActionUpvote, second.Previous)
	assert.Equal(t, vote.ActionNone, second.Action)

	f.requireCounters(t, 0, 1)
	assert.Equal(t, 1, f.ledger.Len())
}

func TestVoteToggle(t *testing.T) {
	t.Parallel()

	f := setupAggregator(t)
	ctx := t.Context()

	_, err := f.aggregator.Vote(ctx, "erin", "Q1", "A1", vote.ActionUpvote)
	require.NoError(t, err)
	result, err := f.aggregator.Vote(ctx, "erin", "Q1", "A1", vote.ActionDownvote)
	require.NoError(t, err)

	assert.Equal(t, vote.ActionDownvote, result.Action)
	f.requireCounters(t, 0, 1)
}

func TestVoteRejectsInvalidRequests(t *testing.T) {
	t.Parallel()

	f := setupAggregator(t)
	ctx := t.Context()

	_, err := f.aggregator.Vote(ctx, "", "Q1", "A1", vote.ActionUpvote)
	require.ErrorIs(t, err, vote.ErrValidation)

	_, err = f.aggregator.Vote(ctx, "alice", "Q1", "A1", vote.ActionNone)
	require.ErrorIs(t, err, vote.ErrValidation)

	// Unknown answer and mismatched question leave no ledger record
	_, err = f.aggregator.Vote(ctx, "alice", "Q1", "A404", vote.ActionUpvote)
	require.ErrorIs(t, err, vote.ErrNotFound)
	_, err = f.aggregator.Vote(ctx, "alice", "Q2", "A1", vote.ActionUpvote)
	require.ErrorIs(t, err, vote.ErrNotFound)

	assert.Zero(t, f.ledger.Len())
	f.requireCounters(t, 0, 0)
}

func TestRetract(t *testing.T) {
	t.Parallel()

	f := setupAggregator(t)
	ctx := t.Context()

	// Retracting nothing is a no-op
	result, err := f.aggregator.Retract(ctx, "alice", "Q1", "A1")
	require.NoError(t, err)
	assert.False(t, result.Changed())

	_, err = f.aggregator.Vote(ctx, "alice", "Q1", "A1", vote.ActionDownvote)
	require.NoError(t, err)

	result, err = f.aggregator.Retract(ctx, "alice", "Q1", "A1")
	require.NoError(t, err)
	assert.Equal(t, vote.ActionDownvote, result.Previous)
	assert.Equal(t, vote.ActionNone, result.Action)
	f.requireCounters(t, 0, 0)
	assert.Zero(t, f.ledger.Len())
}

func TestVoteInvariantUnderRandomSequence(t *testing.T) {
	t.Parallel()

	f := setupAggregator(t)
	ctx := t.Context()
	rng := rand.New(rand.NewPCG(1, 2))
	users := []string{"u1", "u2", "u3", "u4", "u5"}

	for range 500 {
		user := users[rng.IntN(len(users))]
		var err error
		switch rng.IntN(5) {
		case 0:
			_, err = f.aggregator.Retract(ctx, user, "Q1", "A1")
		case 1, 2:
			_, err = f.aggregator.Vote(ctx, user, "Q1", "A1", vote.ActionUpvote)
		default:
			_, err = f.aggregator.Vote(ctx, user, "Q1", "A1", vote.ActionDownvote)
		}
		require.NoError(t, err)
		f.requireConsistent(t)
	}
}

func TestConcurrentSameUserVotes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		calls    int
		upvotes  int64
		expected vote.Action
	}{
		{"odd number of clicks", 101, 1, vote.ActionUpvote},
		{"even number of clicks", 100, 0, vote.ActionNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := setupAggregator(t)
			ctx := t.Context()

			var wg conc.WaitGroup
			for range tt.calls {
				wg.Go(func() {
					_, err := f.aggregator.Vote(ctx, "alice", "Q1", "A1", vote.ActionUpvote)
					assert.NoError(t, err)
				})
			}
			wg.Wait()

			f.requireCounters(t, tt.upvotes, 0)
			status, err := f.aggregator.Status(ctx, "alice", "Q1", "A1")
			require.NoError(t, err)
			assert.Equal(t, tt.expected, status)
		})
	}
}

func TestConcurrentDifferentUsers(t *testing.T) {
	t.Parallel()

	f := setupAggregator(t)
	ctx := t.Context()

	var wg conc.WaitGroup
	wg.Go(func() {
		_, err := f.aggregator.Vote(ctx, "bob", "Q1", "A1", vote.ActionUpvote)
		assert.NoError(t, err)
	})
	wg.Go(func() {
		_, err := f.aggregator.Vote(ctx, "alice", "Q1", "A1", vote.ActionDownvote)
		assert.NoError(t, err)
	})
	wg.Wait()
	f.requireCounters(t, 1, 1)

	// Many voters at once never lose an update
	for i := range 100 {
		action := vote.ActionUpvote
		if i%2 == 1 {
			action = vote.ActionDownvote
		}
		wg.Go(func() {
			_, err := f.aggregator.Vote(ctx, fmt.Sprintf("voter-%d", i), "Q1", "A1", action)
			assert.NoError(t, err)
		})
	}
	wg.Wait()

	f.requireCounters(t, 51, 51)
	f.requireConsistent(t)
}

func TestCounterFailureLeavesLedgerUntouched(t *testing.T) {
	t.Parallel()

	f := setupAggregator(t)
	ctx := t.Context()
	f.counters.failApply = func(int32, vote.Delta) bool { return true }

	_, err := f.aggregator.Vote(ctx, "alice", "Q1", "A1", vote.ActionUpvote)
	require.ErrorIs(t, err, vote.ErrStoreUnavailable)
	require.ErrorIs(t, err, errBackend)

	status, err := f.aggregator.Status(ctx, "alice", "Q1", "A1")
	require.NoError(t, err)
	assert.Equal(t, vote.ActionNone, status)
	f.requireCounters(t, 0, 0)
}

func TestLedgerFailureIsCompensated(t *testing.T) {
	t.Parallel()

	f := setupAggregator(t)
	ctx := t.Context()

	_, err := f.aggregator.Vote(ctx, "alice", "Q1", "A1", vote.ActionUpvote)
	require.NoError(t, err)

	f.ledger.failPut.Store(true)
	_, err = f.aggregator.Vote(ctx, "alice", "Q1", "A1", vote.ActionDownvote)
	require.ErrorIs(t, err, vote.ErrStoreUnavailable)

	// Counters reverted to match the unchanged ledger
	f.requireCounters(t, 1, 0)
	f.requireConsistent(t)

	// A retry re-reads the ledger and applies the transition once
	f.ledger.failPut.Store(false)
	result, err := f.aggregator.Vote(ctx, "alice", "Q1", "A1", vote.ActionDownvote)
	require.NoError(t, err)
	assert.Equal(t, vote.ActionUpvote, result.Previous)
	f.requireCounters(t, 0, 1)
}

func TestFailedCompensationIsRepairedByReconciler(t *testing.T) {
	t.Parallel()

	f := setupAggregator(t)
	ctx := t.Context()

	// Let the first apply through and fail the compensating one
	f.ledger.failPut.Store(true)
	f.counters.failApply = func(call int32, _ vote.Delta) bool { return call > 1 }

	_, err := f.aggregator.Vote(ctx, "alice", "Q1", "A1", vote.ActionUpvote)
	require.ErrorIs(t, err, vote.ErrStoreUnavailable)
	f.requireCounters(t, 1, 0)

	f.ledger.failPut.Store(false)
	f.counters.failApply = nil

	mismatch, err := f.aggregator.ReconcileAnswer(ctx, "Q1", "A1", true)
	require.NoError(t, err)
	require.NotNil(t, mismatch)
	require.ErrorIs(t, mismatch, vote.ErrInconsistentState)
	assert.Equal(t, int64(1), mismatch.Stored.Upvotes)
	assert.Equal(t, int64(0), mismatch.Tallied.Upvotes)

	f.requireCounters(t, 0, 0)
}

func TestLedgerCommitSurvivesCallerCancellation(t *testing.T) {
	t.Parallel()

	f := setupAggregator(t)
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	// The caller goes away right after the counters are updated
	f.counters.afterApply = cancel

	result, err := f.aggregator.Vote(ctx, "alice", "Q1", "A1", vote.ActionUpvote)
	require.NoError(t, err)
	assert.Equal(t, vote.ActionUpvote, result.Action)
	f.requireConsistent(t)
}

func TestDeleteAnswerCascade(t *testing.T) {
	t.Parallel()

	f := setupAggregator(t)
	ctx := t.Context()

	for _, user := range []string{"alice", "bob", "carol"} {
		_, err := f.aggregator.Vote(ctx, user, "Q1", "A1", vote.ActionUpvote)
		require.NoError(t, err)
	}

	removed, err := f.aggregator.DeleteAnswer(ctx, "A1")
	require.NoError(t, err)
	assert.Equal(t, 3, removed)
	assert.Zero(t, f.ledger.Len())

	_, err = f.aggregator.Counters(ctx, "Q1", "A1")
	require.ErrorIs(t, err, vote.ErrNotFound)

	// Deleting twice and voting afterwards both report the missing answer
	_, err = f.aggregator.DeleteAnswer(ctx, "A1")
	require.ErrorIs(t, err, vote.ErrNotFound)
	_, err = f.aggregator.Vote(ctx, "alice", "Q1", "A1", vote.ActionUpvote)
	require.ErrorIs(t, err, vote.ErrNotFound)
	assert.Zero(t, f.ledger.Len())
}

func TestDeleteAnswerPartialFailure(t *testing.T) {
	t.Parallel()

	f := setupAggregator(t)
	ctx := t.Context()

	_, err := f.aggregator.RegisterAnswer(ctx, "Q1", "A2")
	require.NoError(t, err)
	_, err = f.aggregator.Vote(ctx, "alice", "Q1", "A1", vote.ActionUpvote)
	require.NoError(t, err)
	_, err = f.aggregator.Vote(ctx, "alice", "Q1", "A2", vote.ActionDownvote)
	require.NoError(t, err)

	f.ledger.failDelete.Store(true)
	_, err = f.aggregator.DeleteAnswer(ctx, "A1")
	require.ErrorIs(t, err, vote.ErrCascadeIncomplete)

	var cascade *vote.CascadeIncompleteError
	require.ErrorAs(t, err, &cascade)
	require.NoError(t, cascade.CountersErr)
	require.ErrorIs(t, cascade.LedgerErr, errBackend)

	// The reconciler removes the orphaned record
	f.ledger.failDelete.Store(false)
	report, err := vote.NewReconciler(f.aggregator, 2, true, zap.NewNop()).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Checked)
	assert.Equal(t, 1, report.Orphans)
	assert.Empty(t, report.Mismatches)
	assert.Equal(t, 1, f.ledger.Len())
}

func TestTransactionalAggregator(t *testing.T) {
	t.Parallel()

	counters := vote.NewMemoryCounters()
	ledger := vote.NewMemoryLedger()
	tx := &serialTransactor{stores: vote.Stores{Counters: counters, Ledger: ledger}}
	aggregator := vote.NewAggregator(counters, ledger, zap.NewNop(), vote.WithTransactor(tx))
	ctx := t.Context()

	_, err := aggregator.RegisterAnswer(ctx, "Q1", "A1")
	require.NoError(t, err)

	var wg conc.WaitGroup
	for i := range 20 {
		wg.Go(func() {
			_, err := aggregator.Vote(ctx, fmt.Sprintf("u%d", i%5), "Q1", "A1", vote.ActionUpvote)
			assert.NoError(t, err)
		})
	}
	wg.Wait()

	// Every user clicked four times
	result, err := aggregator.Counters(ctx, "Q1", "A1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), result.Upvotes)
	assert.Equal(t, int32(20), tx.runs.Load())

	_, err = aggregator.Vote(ctx, "alice", "Q1", "A1", vote.ActionDownvote)
	require.NoError(t, err)
	removed, err := aggregator.DeleteAnswer(ctx, "A1")
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Zero(t, ledger.Len())
}

func TestIncrementCounter(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	store := vote.NewMemoryCounters()
	_, err := store.Register(ctx, "Q1", "A1")
	require.NoError(t, err)

	counters, err := vote.IncrementCounter(ctx, store, "Q1", "A1", vote.FieldUpvotes, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counters.Upvotes)

	_, err = vote.IncrementCounter(ctx, store, "Q1", "A1", vote.FieldDownvotes, -1)
	require.ErrorIs(t, err, vote.ErrNegativeCounter)
	require.ErrorIs(t, err, vote.ErrInconsistentState)

	_, err = vote.IncrementCounter(ctx, store, "Q1", "A1", vote.FieldUpvotes, 2)
	require.ErrorIs(t, err, vote.ErrValidation)
}
