package vote

import "time"

// CounterField names one of the two denormalized counters of an answer.
type CounterField string

const (
	FieldUpvotes   CounterField = "upvotes"
	FieldDownvotes CounterField = "downvotes"
)

// Counters are the aggregate vote totals stored with an answer.
type Counters struct {
	QuestionID string    `json:"questionId,omitempty"`
	AnswerID   string    `json:"answerId,omitempty"`
	Upvotes    int64     `json:"upvotes"`
	Downvotes  int64     `json:"downvotes"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Delta is a change to apply to both counters in one atomic update.
type Delta struct {
	Upvotes   int64
	Downvotes int64
}

// IsZero reports whether applying the delta would change nothing.
func (d Delta) IsZero() bool {
	return d.Upvotes == 0 && d.Downvotes == 0
}

// Inverse returns the delta that undoes d.
func (d Delta) Inverse() Delta {
	return Delta{Upvotes: -d.Upvotes, Downvotes: -d.Downvotes}
}

// FieldDelta builds a delta touching a single counter field.
func FieldDelta(field CounterField, delta int64) Delta {
	if field == FieldDownvotes {
		return Delta{Downvotes: delta}
	}
	return Delta{Upvotes: delta}
}

// contribution returns the counter contribution of a ledger state.
func contribution(a Action) Delta {
	switch a {
	case ActionUpvote:
		return Delta{Upvotes: 1}
	case ActionDownvote:
		return Delta{Downvotes: 1}
	default:
		return Delta{}
	}
}

// Step is the outcome of applying a requested action to the current state.
type Step struct {
	From  Action
	To    Action
	Delta Delta
}

// Retracts reports whether the step removes the ledger record.
func (s Step) Retracts() bool {
	return s.To == ActionNone
}

// Transition computes the counter delta and new ledger state for a request.
//
// Re-selecting the current action retracts it; selecting the opposite action
// moves the contribution from one counter to the other. The function is pure
// and total over {None, Upvote, Downvote} x {Upvote, Downvote}.
func Transition(current, requested Action) (Step, error) {
	if !requested.IsCastable() {
		return Step{}, &ValidationError{Field: "action", Reason: "must be upvote or downvote"}
	}

	switch current {
	case ActionNone, ActionUpvote, ActionDownvote:
	default:
		return Step{}, &ValidationError{Field: "current", Reason: "unknown ledger state " + current.String()}
	}

	next := requested
	if current == requested {
		next = ActionNone
	}

	removed := contribution(current)
	added := contribution(next)

	return Step{
		From: current,
		To:   next,
		Delta: Delta{
			Upvotes:   added.Upvotes - removed.Upvotes,
			Downvotes: added.Downvotes - removed.Downvotes,
		},
	}, nil
}
