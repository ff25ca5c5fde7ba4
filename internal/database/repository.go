package database

import (
	"github.com/robalyx/answervote/internal/database/models"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

// Repository provides access to all database models.
type Repository struct {
	counters *models.AnswerCounterModel
	records  *models.VoteRecordModel
}

// NewRepository creates a new repository instance with all models.
func NewRepository(db *bun.DB, logger *zap.Logger) *Repository {
	return &Repository{
		counters: models.NewAnswerCounter(db, logger),
		records:  models.NewVoteRecord(db, logger),
	}
}

// AnswerCounter returns the answer counter model.
func (r *Repository) AnswerCounter() *models.AnswerCounterModel {
	return r.counters
}

// VoteRecord returns the vote record model.
func (r *Repository) VoteRecord() *models.VoteRecordModel {
	return r.records
}
