package types

import "time"

// AnswerCounter holds the denormalized vote totals of an answer.
type AnswerCounter struct {
	AnswerID   string    `bun:",pk"                json:"answerId"`
	QuestionID string    `bun:",notnull"           json:"questionId"`
	Upvotes    int64     `bun:",notnull,default:0" json:"upvotes"`
	Downvotes  int64     `bun:",notnull,default:0" json:"downvotes"`
	CreatedAt  time.Time `bun:",notnull"           json:"createdAt"`
	UpdatedAt  time.Time `bun:",notnull"           json:"updatedAt"`
}

// VoteRecord is the ledger entry of a user's vote on an answer.
type VoteRecord struct {
	Username   string    `bun:",pk"      json:"username"`
	QuestionID string    `bun:",pk"      json:"questionId"`
	AnswerID   string    `bun:",pk"      json:"answerId"`
	Action     int16     `bun:",notnull" json:"action"` // 1 upvote, -1 downvote
	UpdatedAt  time.Time `bun:",notnull" json:"updatedAt"`
}
