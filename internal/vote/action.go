package vote

import (
	"fmt"
	"strings"
)

// Action is the last vote a user cast on an answer.
// The zero value means no vote has been cast.
type Action int8

const (
	ActionNone     Action = 0
	ActionUpvote   Action = 1
	ActionDownvote Action = -1
)

// String returns the lowercase name of the action.
func (a Action) String() string {
	switch a {
	case ActionNone:
		return "none"
	case ActionUpvote:
		return "upvote"
	case ActionDownvote:
		return "downvote"
	default:
		return fmt.Sprintf("Action(%d)", int8(a))
	}
}

// IsCastable reports whether the action can be requested by a voter.
func (a Action) IsCastable() bool {
	return a == ActionUpvote || a == ActionDownvote
}

// MarshalText implements encoding.TextMarshaler.
func (a Action) MarshalText() ([]byte, error) {
	switch a {
	case ActionNone, ActionUpvote, ActionDownvote:
		return []byte(a.String()), nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownAction, int8(a))
	}
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Action) UnmarshalText(text []byte) error {
	parsed, err := ParseAction(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// ParseAction converts a textual action into an Action.
// Accepts the names produced by String as well as "up"/"down".
func ParseAction(s string) (Action, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return ActionNone, nil
	case "upvote", "up":
		return ActionUpvote, nil
	case "downvote", "down":
		return ActionDownvote, nil
	default:
		return ActionNone, fmt.Errorf("%w: %q", ErrUnknownAction, s)
	}
}
