package vote

import (
	"errors"
	"fmt"
)

var (
	ErrValidation        = errors.New("invalid vote request")
	ErrNotFound          = errors.New("answer not found")
	ErrStoreUnavailable  = errors.New("vote store unavailable")
	ErrInconsistentState = errors.New("vote counters inconsistent with ledger")
	ErrCascadeIncomplete = errors.New("answer deletion incomplete")
	ErrUnknownAction     = errors.New("unknown vote action")
	ErrNegativeCounter   = fmt.Errorf("%w: counter would become negative", ErrInconsistentState)
)

// ValidationError reports malformed input. It is never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s %s", ErrValidation, e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// NotFoundError reports that the answer is unknown to the counter store.
type NotFoundError struct {
	QuestionID string
	AnswerID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s: question %q answer %q", ErrNotFound, e.QuestionID, e.AnswerID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// StoreUnavailableError wraps a transient failure of either store.
// Callers may retry the whole vote call; the aggregator re-reads ledger
// state on every attempt.
type StoreUnavailableError struct {
	Op  string
	Err error
}

func (e *StoreUnavailableError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrStoreUnavailable, e.Op, e.Err)
}

func (e *StoreUnavailableError) Is(target error) bool { return target == ErrStoreUnavailable }

func (e *StoreUnavailableError) Unwrap() error { return e.Err }

// InconsistentStateError describes counters that disagree with the ledger.
type InconsistentStateError struct {
	AnswerID string
	Stored   Counters
	Tallied  Counters
}

func (e *InconsistentStateError) Error() string {
	return fmt.Sprintf("%s: answer %q stored %d/%d tallied %d/%d", ErrInconsistentState, e.AnswerID,
		e.Stored.Upvotes, e.Stored.Downvotes, e.Tallied.Upvotes, e.Tallied.Downvotes)
}

func (e *InconsistentStateError) Is(target error) bool { return target == ErrInconsistentState }

// CascadeIncompleteError reports that only part of an answer deletion succeeded.
type CascadeIncompleteError struct {
	AnswerID    string
	CountersErr error
	LedgerErr   error
}

func (e *CascadeIncompleteError) Error() string {
	return fmt.Sprintf("%s: answer %q (counters: %v, ledger: %v)",
		ErrCascadeIncomplete, e.AnswerID, e.CountersErr, e.LedgerErr)
}

func (e *CascadeIncompleteError) Is(target error) bool { return target == ErrCascadeIncomplete }

func (e *CascadeIncompleteError) Unwrap() []error {
	var errs []error
	if e.CountersErr != nil {
		errs = append(errs, e.CountersErr)
	}
	if e.LedgerErr != nil {
		errs = append(errs, e.LedgerErr)
	}
	return errs
}

// unavailable wraps err as a StoreUnavailableError unless it already
// carries a more specific classification.
func unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrStoreUnavailable) || errors.Is(err, ErrInconsistentState) {
		return err
	}
	return &StoreUnavailableError{Op: op, Err: err}
}
