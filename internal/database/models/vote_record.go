package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/robalyx/answervote/internal/database/types"
	"github.com/robalyx/answervote/internal/vote"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

var _ vote.LedgerStore = (*VoteRecordModel)(nil)

// VoteRecordModel handles database operations for the vote ledger.
// It implements vote.LedgerStore.
type VoteRecordModel struct {
	db     bun.IDB
	inTx   bool
	logger *zap.Logger
}

// NewVoteRecord creates a new vote record model.
func NewVoteRecord(db bun.IDB, logger *zap.Logger) *VoteRecordModel {
	return &VoteRecordModel{
		db:     db,
		logger: logger.Named("db_vote_record"),
	}
}

// WithTx returns a copy of the model bound to tx.
func (m *VoteRecordModel) WithTx(tx bun.Tx) *VoteRecordModel {
	return &VoteRecordModel{db: tx, inTx: true, logger: m.logger}
}

// Get returns the record for key, or nil when the user has not voted.
func (m *VoteRecordModel) Get(ctx context.Context, key vote.Key) (*vote.Record, error) {
	var row types.VoteRecord
	err := runIdempotent(ctx, m.inTx, func(ctx context.Context) error {
		return m.db.NewSelect().
			Model(&row).
			Where("username = ?", key.Username).
			Where("question_id = ?", key.QuestionID).
			Where("answer_id = ?", key.AnswerID).
			Scan(ctx)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get vote record: %w", err)
	}
	return toRecord(&row), nil
}

// Put creates or overwrites a record.
func (m *VoteRecordModel) Put(ctx context.Context, record *vote.Record) error {
	row := &types.VoteRecord{
		Username:   record.Username,
		QuestionID: record.QuestionID,
		AnswerID:   record.AnswerID,
		Action:     int16(record.Action),
		UpdatedAt:  record.UpdatedAt,
	}

	err := runIdempotent(ctx, m.inTx, func(ctx context.Context) error {
		_, err := m.db.NewInsert().
			Model(row).
			On("CONFLICT (username, question_id, answer_id) DO UPDATE").
			Set("action = EXCLUDED.action").
			Set("updated_at = EXCLUDED.updated_at").
			Exec(ctx)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to upsert vote record: %w", err)
	}

	return nil
}

// Delete removes a record, reporting whether it existed.
func (m *VoteRecordModel) Delete(ctx context.Context, key vote.Key) (bool, error) {
	var affected int64
	err := runIdempotent(ctx, m.inTx, func(ctx context.Context) error {
		res, err := m.db.NewDelete().
			Model((*types.VoteRecord)(nil)).
			Where("username = ?", key.Username).
			Where("question_id = ?", key.QuestionID).
			Where("answer_id = ?", key.AnswerID).
			Exec(ctx)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return false, fmt.Errorf("failed to delete vote record: %w", err)
	}

	return affected > 0, nil
}

// DeleteByAnswer removes every record of an answer.
func (m *VoteRecordModel) DeleteByAnswer(ctx context.Context, answerID string) (int, error) {
	var affected int64
	err := runIdempotent(ctx, m.inTx, func(ctx context.Context) error {
		res, err := m.db.NewDelete().
			Model((*types.VoteRecord)(nil)).
			Where("answer_id = ?", answerID).
			Exec(ctx)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to delete vote records: %w", err)
	}

	m.logger.Debug("Deleted vote records of answer",
		zap.String("answerID", answerID),
		zap.Int64("count", affected))

	return int(affected), nil
}

// ListByAnswer returns every record of an answer ordered by username.
func (m *VoteRecordModel) ListByAnswer(ctx context.Context, answerID string) ([]*vote.Record, error) {
	rows, err := runQuery(ctx, m.inTx, func(ctx context.Context) ([]*types.VoteRecord, error) {
		var rows []*types.VoteRecord
		err := m.db.NewSelect().
			Model(&rows).
			Where("answer_id = ?", answerID).
			Order("username").
			Scan(ctx)
		return rows, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list vote records: %w", err)
	}

	records := make([]*vote.Record, 0, len(rows))
	for _, row := range rows {
		records = append(records, toRecord(row))
	}
	return records, nil
}

// AnswerIDs lists every answer referenced by a record.
func (m *VoteRecordModel) AnswerIDs(ctx context.Context) ([]string, error) {
	ids, err := runQuery(ctx, m.inTx, func(ctx context.Context) ([]string, error) {
		var ids []string
		err := m.db.NewSelect().
			Model((*types.VoteRecord)(nil)).
			ColumnExpr("DISTINCT answer_id").
			Order("answer_id").
			Scan(ctx, &ids)
		return ids, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list voted answers: %w", err)
	}
	return ids, nil
}

func toRecord(row *types.VoteRecord) *vote.Record {
	return &vote.Record{
		Key: vote.Key{
			Username:   row.Username,
			QuestionID: row.QuestionID,
			AnswerID:   row.AnswerID,
		},
		Action:    vote.Action(row.Action),
		UpdatedAt: row.UpdatedAt.UTC(),
	}
}
