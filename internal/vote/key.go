package vote

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Key identifies a single vote record.
type Key struct {
	Username   string
	QuestionID string
	AnswerID   string
}

// NewKey builds a normalized key from raw identifiers.
func NewKey(username, questionID, answerID string) Key {
	return Key{
		Username:   normalizeID(username),
		QuestionID: normalizeID(questionID),
		AnswerID:   normalizeID(answerID),
	}
}

// String returns the key in "username/question/answer" form.
// It is used as the serialization key for locks.
func (k Key) String() string {
	return k.Username + "/" + k.QuestionID + "/" + k.AnswerID
}

// Validate checks that every part of the key is present.
func (k Key) Validate() error {
	switch {
	case k.Username == "":
		return &ValidationError{Field: "username", Reason: "is required"}
	case k.QuestionID == "":
		return &ValidationError{Field: "questionId", Reason: "is required"}
	case k.AnswerID == "":
		return &ValidationError{Field: "answerId", Reason: "is required"}
	}
	return nil
}

// normalizeID trims whitespace and applies NFC so visually identical
// identifiers map to the same record.
func normalizeID(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}
