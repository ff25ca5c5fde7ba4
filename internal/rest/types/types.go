package types

import "time"

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

// VoteRequest is the body of a cast vote request.
type VoteRequest struct {
	Action string `json:"action"`
}

// VoteResponse reports an answer's counters after a vote request.
type VoteResponse struct {
	Upvotes   int64  `json:"upvotes"`
	Downvotes int64  `json:"downvotes"`
	Action    string `json:"action"`
	Previous  string `json:"previous"`
	Changed   bool   `json:"changed"`
}

// AnswerResponse reports an answer's counters and, when the caller is
// known, the caller's current vote.
type AnswerResponse struct {
	QuestionID string    `json:"questionId"`
	AnswerID   string    `json:"answerId"`
	Upvotes    int64     `json:"upvotes"`
	Downvotes  int64     `json:"downvotes"`
	Score      int64     `json:"score"`
	Action     string    `json:"action,omitempty"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// DeleteAnswerResponse reports how many ledger records were removed.
type DeleteAnswerResponse struct {
	AnswerID       string `json:"answerId"`
	RecordsRemoved int    `json:"recordsRemoved"`
}

// HealthResponse reports the reachability of each backing store.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}
