package vote

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultCommitTimeout bounds the ledger write that follows a counter update.
const DefaultCommitTimeout = 5 * time.Second

// Result is the state of an answer after a vote request.
type Result struct {
	Counters Counters `json:"counters"`
	Previous Action   `json:"previous"`
	Action   Action   `json:"action"`
}

// Changed reports whether the request altered the ledger.
func (r *Result) Changed() bool {
	return r.Previous != r.Action
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithTransactor runs every transition inside a store transaction.
func WithTransactor(tx Transactor) Option {
	return func(a *Aggregator) { a.tx = tx }
}

// WithLocker replaces the in-process per-key locker.
func WithLocker(locker Locker) Option {
	return func(a *Aggregator) { a.locker = locker }
}

// WithCommitTimeout sets how long a ledger commit may run after the caller gave up.
func WithCommitTimeout(timeout time.Duration) Option {
	return func(a *Aggregator) { a.commitTimeout = timeout }
}

// WithClock overrides the clock used for record timestamps.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

// Aggregator applies vote transitions to the ledger and the answer counters.
type Aggregator struct {
	stores        Stores
	tx            Transactor
	locker        Locker
	gate          *answerGate
	commitTimeout time.Duration
	now           func() time.Time
	tracer        trace.Tracer
	logger        *zap.Logger
}

// NewAggregator creates an aggregator over the given stores.
func NewAggregator(counters CounterStore, ledger LedgerStore, logger *zap.Logger, opts ...Option) *Aggregator {
	a := &Aggregator{
		stores:        Stores{Counters: counters, Ledger: ledger},
		locker:        NewKeyedMutex(),
		gate:          newAnswerGate(),
		commitTimeout: DefaultCommitTimeout,
		now:           time.Now,
		tracer:        otel.Tracer("github.com/robalyx/answervote/internal/vote"),
		logger:        logger.Named("vote_aggregator"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Ledger returns a ledger over the aggregator's non-transactional store.
func (a *Aggregator) Ledger() *Ledger {
	return newLedger(a.stores.Ledger, a.now)
}

// Vote applies requested to the user's current vote on an answer.
//
// Requesting the action already recorded retracts it. The counter delta is
// applied before the ledger is written; a failed counter update leaves the
// ledger untouched.
func (a *Aggregator) Vote(
	ctx context.Context, username, questionID, answerID string, requested Action,
) (*Result, error) {
	key := NewKey(username, questionID, answerID)
	if err := key.Validate(); err != nil {
		return nil, err
	}
	if !requested.IsCastable() {
		return nil, &ValidationError{Field: "action", Reason: "must be upvote or downvote"}
	}

	ctx, span := a.startSpan(ctx, "vote.Vote", key, attribute.String("vote.requested", requested.String()))
	defer span.End()

	result, err := a.transition(ctx, key, func(current Action) (Step, error) {
		return Transition(current, requested)
	})
	return result, endSpan(span, err)
}

// Retract removes the user's vote on an answer and reverses its counter
// contribution. Retracting when no vote exists returns the current counters.
func (a *Aggregator) Retract(ctx context.Context, username, questionID, answerID string) (*Result, error) {
	key := NewKey(username, questionID, answerID)
	if err := key.Validate(); err != nil {
		return nil, err
	}

	ctx, span := a.startSpan(ctx, "vote.Retract", key)
	defer span.End()

	result, err := a.transition(ctx, key, func(current Action) (Step, error) {
		return Step{From: current, To: ActionNone, Delta: contribution(current).Inverse()}, nil
	})
	return result, endSpan(span, err)
}

// Status returns the user's current vote on an answer.
func (a *Aggregator) Status(ctx context.Context, username, questionID, answerID string) (Action, error) {
	return a.Ledger().Get(ctx, NewKey(username, questionID, answerID))
}

// Counters returns the current totals of an answer.
func (a *Aggregator) Counters(ctx context.Context, questionID, answerID string) (*Counters, error) {
	questionID, answerID = normalizeID(questionID), normalizeID(answerID)
	if err := validateAnswer(questionID, answerID); err != nil {
		return nil, err
	}

	counters, err := a.stores.Counters.Get(ctx, questionID, answerID)
	if err != nil {
		return nil, unavailable("counters get", err)
	}
	return counters, nil
}

// RegisterAnswer creates zeroed counters for a new answer. It is idempotent.
func (a *Aggregator) RegisterAnswer(ctx context.Context, questionID, answerID string) (*Counters, error) {
	questionID, answerID = normalizeID(questionID), normalizeID(answerID)
	if err := validateAnswer(questionID, answerID); err != nil {
		return nil, err
	}

	counters, err := a.stores.Counters.Register(ctx, questionID, answerID)
	if err != nil {
		return nil, unavailable("counters register", err)
	}
	return counters, nil
}

// DeleteAnswer removes an answer's counters and every ledger record that
// references it. It returns the number of ledger records removed. When only
// one half succeeds the error is a CascadeIncompleteError.
func (a *Aggregator) DeleteAnswer(ctx context.Context, answerID string) (int, error) {
	answerID = normalizeID(answerID)
	if answerID == "" {
		return 0, &ValidationError{Field: "answerId", Reason: "is required"}
	}

	ctx, span := a.tracer.Start(ctx, "vote.DeleteAnswer", trace.WithAttributes(attribute.String("vote.answer_id", answerID)))
	defer span.End()

	release := a.gate.exclusive(answerID)
	defer release()

	var (
		countersRemoved bool
		recordsRemoved  int
		err             error
	)
	if a.tx != nil {
		err = a.tx.Atomically(ctx, "answer/"+answerID, func(ctx context.Context, stores Stores) error {
			var txErr error
			countersRemoved, recordsRemoved, txErr = a.cascadeSequential(ctx, stores, answerID)
			return txErr
		})
		err = unavailable("transaction", err)
	} else {
		countersRemoved, recordsRemoved, err = a.cascadeConcurrent(ctx, answerID)
	}
	if err != nil {
		return 0, endSpan(span, err)
	}

	if !countersRemoved && recordsRemoved == 0 {
		return 0, endSpan(span, &NotFoundError{AnswerID: answerID})
	}

	if !countersRemoved {
		a.logger.Warn("Removed ledger records of an answer without counters",
			zap.String("answerID", answerID),
			zap.Int("records", recordsRemoved))
	}

	a.logger.Debug("Deleted answer votes",
		zap.String("answerID", answerID),
		zap.Int("records", recordsRemoved))

	return recordsRemoved, nil
}

// transition runs one serialized read-compute-apply-commit cycle for key.
func (a *Aggregator) transition(ctx context.Context, key Key, next func(Action) (Step, error)) (*Result, error) {
	unlock, err := a.locker.Lock(ctx, key.String())
	if err != nil {
		return nil, unavailable("lock", err)
	}
	defer unlock()

	release := a.gate.shared(key.AnswerID)
	defer release()

	if a.tx == nil {
		return a.apply(ctx, a.stores, key, next, true)
	}

	var result *Result
	err = a.tx.Atomically(ctx, key.String(), func(ctx context.Context, stores Stores) error {
		var txErr error
		result, txErr = a.apply(ctx, stores, key, next, false)
		return txErr
	})
	if err != nil {
		return nil, unavailable("transaction", err)
	}
	return result, nil
}

// apply performs a transition against stores. When compensate is set the
// counter delta is reverted if the ledger write fails.
func (a *Aggregator) apply(
	ctx context.Context, stores Stores, key Key, next func(Action) (Step, error), compensate bool,
) (*Result, error) {
	ledger := newLedger(stores.Ledger, a.now)

	current, err := ledger.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	step, err := next(current)
	if err != nil {
		return nil, err
	}

	// Nothing to change, report the current totals
	if step.Delta.IsZero() && step.From == step.To {
		counters, err := stores.Counters.Get(ctx, key.QuestionID, key.AnswerID)
		if err != nil {
			return nil, unavailable("counters get", err)
		}
		return &Result{Counters: *counters, Previous: current, Action: current}, nil
	}

	counters, err := stores.Counters.Apply(ctx, key.QuestionID, key.AnswerID, step.Delta)
	if err != nil {
		return nil, unavailable("counters apply", err)
	}

	// The counters are updated, so the ledger write must not be cut short
	// by the caller's deadline.
	commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.commitTimeout)
	defer cancel()

	if err := ledger.commit(commitCtx, key, step.To); err != nil {
		if compensate {
			a.compensate(commitCtx, stores, key, step, err)
		}
		return nil, err
	}

	return &Result{Counters: *counters, Previous: step.From, Action: step.To}, nil
}

// compensate reverts a counter delta whose ledger write failed.
func (a *Aggregator) compensate(ctx context.Context, stores Stores, key Key, step Step, cause error) {
	_, err := stores.Counters.Apply(ctx, key.QuestionID, key.AnswerID, step.Delta.Inverse())
	if err == nil {
		a.logger.Warn("Reverted counter update after ledger failure",
			zap.String("key", key.String()),
			zap.Error(cause))
		return
	}

	a.logger.Error("Counters left inconsistent with ledger",
		zap.String("key", key.String()),
		zap.String("from", step.From.String()),
		zap.String("to", step.To.String()),
		zap.Int64("upvoteDelta", step.Delta.Upvotes),
		zap.Int64("downvoteDelta", step.Delta.Downvotes),
		zap.NamedError("ledgerError", cause),
		zap.Error(errors.Join(ErrInconsistentState, err)))
}

// cascadeSequential removes counters before ledger records so a vote that
// is still holding the counters row finishes before its records are cleared.
// Both halves share one transaction and fail together.
func (a *Aggregator) cascadeSequential(ctx context.Context, stores Stores, answerID string) (bool, int, error) {
	removed, err := stores.Counters.Remove(ctx, answerID)
	if err != nil {
		return false, 0, unavailable("counters remove", err)
	}

	count, err := newLedger(stores.Ledger, a.now).ClearAllForAnswer(ctx, answerID)
	if err != nil {
		return false, 0, err
	}

	return removed, count, nil
}

// cascadeConcurrent runs both halves of the cascade side by side and reports
// each failure separately.
func (a *Aggregator) cascadeConcurrent(ctx context.Context, answerID string) (bool, int, error) {
	var (
		g           errgroup.Group
		removed     bool
		count       int
		countersErr error
		ledgerErr   error
	)

	g.Go(func() error {
		removed, countersErr = a.stores.Counters.Remove(ctx, answerID)
		countersErr = unavailable("counters remove", countersErr)
		return countersErr
	})
	g.Go(func() error {
		count, ledgerErr = a.Ledger().ClearAllForAnswer(ctx, answerID)
		return ledgerErr
	})

	if err := g.Wait(); err != nil {
		return false, 0, &CascadeIncompleteError{AnswerID: answerID, CountersErr: countersErr, LedgerErr: ledgerErr}
	}
	return removed, count, nil
}

func (a *Aggregator) startSpan(
	ctx context.Context, name string, key Key, attrs ...attribute.KeyValue,
) (context.Context, trace.Span) {
	attrs = append(attrs,
		attribute.String("vote.question_id", key.QuestionID),
		attribute.String("vote.answer_id", key.AnswerID),
	)
	return a.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) error {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func validateAnswer(questionID, answerID string) error {
	if questionID == "" {
		return &ValidationError{Field: "questionId", Reason: "is required"}
	}
	if answerID == "" {
		return &ValidationError{Field: "answerId", Reason: "is required"}
	}
	return nil
}
