package vote

import (
	"context"
	"time"
)

// Record is a persisted vote ledger entry.
type Record struct {
	Key
	Action    Action
	UpdatedAt time.Time
}

// CounterStore holds the denormalized counters of each answer.
// Apply must be atomic at the storage layer so concurrent votes by
// different users never lose an update.
type CounterStore interface {
	// Register creates zeroed counters for an answer. Registering an
	// existing answer returns its current counters.
	Register(ctx context.Context, questionID, answerID string) (*Counters, error)
	// Get returns the counters of an answer or a NotFoundError.
	Get(ctx context.Context, questionID, answerID string) (*Counters, error)
	// Apply adds delta to both counters in a single update and returns the result.
	Apply(ctx context.Context, questionID, answerID string, delta Delta) (*Counters, error)
	// Remove deletes the counters of an answer, reporting whether they existed.
	Remove(ctx context.Context, answerID string) (bool, error)
	// Overwrite replaces both counters. Only the reconciler uses it.
	Overwrite(ctx context.Context, answerID string, upvotes, downvotes int64) (*Counters, error)
	// List returns the counters of every answer.
	List(ctx context.Context) ([]*Counters, error)
}

// LedgerStore holds one record per (username, question, answer).
type LedgerStore interface {
	// Get returns the record for key, or nil when none exists.
	Get(ctx context.Context, key Key) (*Record, error)
	// Put creates or overwrites the record.
	Put(ctx context.Context, record *Record) error
	// Delete removes the record, reporting whether it existed.
	Delete(ctx context.Context, key Key) (bool, error)
	// DeleteByAnswer removes every record of an answer and returns the count.
	DeleteByAnswer(ctx context.Context, answerID string) (int, error)
	// ListByAnswer returns every record of an answer.
	ListByAnswer(ctx context.Context, answerID string) ([]*Record, error)
	// AnswerIDs lists every answer referenced by at least one record.
	AnswerIDs(ctx context.Context) ([]string, error)
}

// Stores pairs the two stores a transition touches.
type Stores struct {
	Counters CounterStore
	Ledger   LedgerStore
}

// Transactor runs fn with stores bound to a single transaction.
// Implementations serialize calls that share lockKey and may re-run fn when
// the transaction has to be retried, so fn must re-read all state it uses.
type Transactor interface {
	Atomically(ctx context.Context, lockKey string, fn func(ctx context.Context, stores Stores) error) error
}

// IncrementCounter adjusts a single counter by +1 or -1.
func IncrementCounter(
	ctx context.Context, store CounterStore, questionID, answerID string, field CounterField, delta int64,
) (*Counters, error) {
	if field != FieldUpvotes && field != FieldDownvotes {
		return nil, &ValidationError{Field: "field", Reason: "must be upvotes or downvotes"}
	}
	if delta != 1 && delta != -1 {
		return nil, &ValidationError{Field: "delta", Reason: "must be +1 or -1"}
	}

	counters, err := store.Apply(ctx, questionID, answerID, FieldDelta(field, delta))
	if err != nil {
		return nil, unavailable("increment "+string(field), err)
	}
	return counters, nil
}
