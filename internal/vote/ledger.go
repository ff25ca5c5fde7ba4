package vote

import (
	"context"
	"time"
)

// Ledger is the authoritative accessor for what each user last did on an answer.
type Ledger struct {
	store LedgerStore
	now   func() time.Time
}

// NewLedger creates a ledger backed by store.
func NewLedger(store LedgerStore) *Ledger {
	return newLedger(store, time.Now)
}

func newLedger(store LedgerStore, now func() time.Time) *Ledger {
	return &Ledger{store: store, now: now}
}

// Get returns the recorded action, or ActionNone when the user has not voted.
func (l *Ledger) Get(ctx context.Context, key Key) (Action, error) {
	if err := key.Validate(); err != nil {
		return ActionNone, err
	}

	record, err := l.store.Get(ctx, key)
	if err != nil {
		return ActionNone, unavailable("ledger get", err)
	}
	if record == nil {
		return ActionNone, nil
	}
	return record.Action, nil
}

// Set records action for key, creating or overwriting the record.
func (l *Ledger) Set(ctx context.Context, key Key, action Action) error {
	if err := key.Validate(); err != nil {
		return err
	}
	if !action.IsCastable() {
		return &ValidationError{Field: "action", Reason: "must be upvote or downvote"}
	}

	err := l.store.Put(ctx, &Record{Key: key, Action: action, UpdatedAt: l.now().UTC()})
	return unavailable("ledger set", err)
}

// Clear removes the record for key. Clearing an absent record is not an error.
func (l *Ledger) Clear(ctx context.Context, key Key) (bool, error) {
	if err := key.Validate(); err != nil {
		return false, err
	}

	removed, err := l.store.Delete(ctx, key)
	if err != nil {
		return false, unavailable("ledger clear", err)
	}
	return removed, nil
}

// ClearAllForAnswer removes every record of an answer and returns how many were removed.
func (l *Ledger) ClearAllForAnswer(ctx context.Context, answerID string) (int, error) {
	answerID = normalizeID(answerID)
	if answerID == "" {
		return 0, &ValidationError{Field: "answerId", Reason: "is required"}
	}

	count, err := l.store.DeleteByAnswer(ctx, answerID)
	if err != nil {
		return 0, unavailable("ledger clear answer", err)
	}
	return count, nil
}

// Records returns every record of an answer.
func (l *Ledger) Records(ctx context.Context, answerID string) ([]*Record, error) {
	records, err := l.store.ListByAnswer(ctx, normalizeID(answerID))
	if err != nil {
		return nil, unavailable("ledger list", err)
	}
	return records, nil
}

// commit persists the state a transition ends in.
func (l *Ledger) commit(ctx context.Context, key Key, state Action) error {
	if state == ActionNone {
		_, err := l.Clear(ctx, key)
		return err
	}
	return l.Set(ctx, key, state)
}

// Tally counts the records of an answer by action.
func Tally(records []*Record) Counters {
	var tally Counters
	for _, record := range records {
		switch record.Action {
		case ActionUpvote:
			tally.Upvotes++
		case ActionDownvote:
			tally.Downvotes++
		case ActionNone:
		}
	}
	return tally
}
