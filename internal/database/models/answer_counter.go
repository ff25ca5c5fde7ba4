package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/robalyx/answervote/internal/database/dbretry"
	"github.com/robalyx/answervote/internal/database/types"
	"github.com/robalyx/answervote/internal/vote"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/driver/pgdriver"
	"go.uber.org/zap"
)

// pgCheckViolation is the SQLSTATE raised when a CHECK constraint fails.
const pgCheckViolation = "23514"

var _ vote.CounterStore = (*AnswerCounterModel)(nil)

// AnswerCounterModel handles database operations for answer vote counters.
// It implements vote.CounterStore.
type AnswerCounterModel struct {
	db     bun.IDB
	inTx   bool
	logger *zap.Logger
}

// NewAnswerCounter creates a new answer counter model.
func NewAnswerCounter(db bun.IDB, logger *zap.Logger) *AnswerCounterModel {
	return &AnswerCounterModel{
		db:     db,
		logger: logger.Named("db_answer_counter"),
	}
}

// WithTx returns a copy of the model bound to tx. Reads through the copy
// lock the counters row until the transaction ends.
func (m *AnswerCounterModel) WithTx(tx bun.Tx) *AnswerCounterModel {
	return &AnswerCounterModel{db: tx, inTx: true, logger: m.logger}
}

// Register creates zeroed counters for an answer if none exist.
func (m *AnswerCounterModel) Register(ctx context.Context, questionID, answerID string) (*vote.Counters, error) {
	now := time.Now()
	row := &types.AnswerCounter{
		AnswerID:   answerID,
		QuestionID: questionID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	err := m.run(ctx, func(ctx context.Context) error {
		_, err := m.db.NewInsert().
			Model(row).
			On("CONFLICT (answer_id) DO NOTHING").
			Exec(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to register answer counters: %w", err)
	}

	existing, err := m.find(ctx, answerID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, &vote.NotFoundError{QuestionID: questionID, AnswerID: answerID}
	}
	if existing.QuestionID != questionID {
		return nil, &vote.ValidationError{Field: "questionId", Reason: "does not match the registered answer"}
	}

	return toCounters(existing), nil
}

// Get returns the counters of an answer.
func (m *AnswerCounterModel) Get(ctx context.Context, questionID, answerID string) (*vote.Counters, error) {
	row, err := m.find(ctx, answerID)
	if err != nil {
		return nil, err
	}
	if row == nil || row.QuestionID != questionID {
		return nil, &vote.NotFoundError{QuestionID: questionID, AnswerID: answerID}
	}
	return toCounters(row), nil
}

// Apply adds delta to both counters in a single UPDATE statement.
// It is never retried since a lost acknowledgement would double count.
func (m *AnswerCounterModel) Apply(
	ctx context.Context, questionID, answerID string, delta vote.Delta,
) (*vote.Counters, error) {
	var row types.AnswerCounter
	res, err := m.db.NewUpdate().
		Model(&row).
		Set("upvotes = upvotes + ?", delta.Upvotes).
		Set("downvotes = downvotes + ?", delta.Downvotes).
		Set("updated_at = ?", time.Now()).
		Where("answer_id = ?", answerID).
		Where("question_id = ?", questionID).
		Returning("*").
		Exec(ctx)
	if err != nil {
		if isCheckViolation(err) {
			return nil, fmt.Errorf("%w: answer %q", vote.ErrNegativeCounter, answerID)
		}
		return nil, fmt.Errorf("failed to apply counter delta: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return nil, &vote.NotFoundError{QuestionID: questionID, AnswerID: answerID}
	}

	return toCounters(&row), nil
}

// Remove deletes the counters of an answer.
func (m *AnswerCounterModel) Remove(ctx context.Context, answerID string) (bool, error) {
	var affected int64
	err := m.run(ctx, func(ctx context.Context) error {
		res, err := m.db.NewDelete().
			Model((*types.AnswerCounter)(nil)).
			Where("answer_id = ?", answerID).
			Exec(ctx)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return false, fmt.Errorf("failed to remove answer counters: %w", err)
	}

	return affected > 0, nil
}

// Overwrite replaces both counters of an answer.
func (m *AnswerCounterModel) Overwrite(
	ctx context.Context, answerID string, upvotes, downvotes int64,
) (*vote.Counters, error) {
	var row types.AnswerCounter
	res, err := m.db.NewUpdate().
		Model(&row).
		Set("upvotes = ?", upvotes).
		Set("downvotes = ?", downvotes).
		Set("updated_at = ?", time.Now()).
		Where("answer_id = ?", answerID).
		Returning("*").
		Exec(ctx)
	if err != nil {
		if isCheckViolation(err) {
			return nil, fmt.Errorf("%w: answer %q", vote.ErrNegativeCounter, answerID)
		}
		return nil, fmt.Errorf("failed to overwrite counters: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return nil, &vote.NotFoundError{AnswerID: answerID}
	}

	m.logger.Debug("Overwrote answer counters",
		zap.String("answerID", answerID),
		zap.Int64("upvotes", upvotes),
		zap.Int64("downvotes", downvotes))

	return toCounters(&row), nil
}

// List returns the counters of every answer ordered by answer ID.
func (m *AnswerCounterModel) List(ctx context.Context) ([]*vote.Counters, error) {
	rows, err := runQuery(ctx, m.inTx, func(ctx context.Context) ([]*types.AnswerCounter, error) {
		var rows []*types.AnswerCounter
		err := m.db.NewSelect().
			Model(&rows).
			Order("answer_id").
			Scan(ctx)
		return rows, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list answer counters: %w", err)
	}

	counters := make([]*vote.Counters, 0, len(rows))
	for _, row := range rows {
		counters = append(counters, toCounters(row))
	}
	return counters, nil
}

// find loads the counters row of an answer, returning nil when absent.
func (m *AnswerCounterModel) find(ctx context.Context, answerID string) (*types.AnswerCounter, error) {
	var row types.AnswerCounter
	err := m.run(ctx, func(ctx context.Context) error {
		q := m.db.NewSelect().
			Model(&row).
			Where("answer_id = ?", answerID)
		if m.inTx {
			q = q.For("UPDATE")
		}
		return q.Scan(ctx)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get answer counters: %w", err)
	}
	return &row, nil
}

// run executes an idempotent operation, retrying it outside transactions.
func (m *AnswerCounterModel) run(ctx context.Context, op func(context.Context) error) error {
	return runIdempotent(ctx, m.inTx, op)
}

func runIdempotent(ctx context.Context, inTx bool, op func(context.Context) error) error {
	if inTx {
		return op(ctx)
	}

	return dbretry.NoResult(ctx, op)
}

// runQuery is runIdempotent for operations returning a result.
func runQuery[T any](ctx context.Context, inTx bool, op func(context.Context) (T, error)) (T, error) {
	if inTx {
		return op(ctx)
	}

	return dbretry.Operation(ctx, op)
}

func isCheckViolation(err error) bool {
	var pgerr pgdriver.Error
	return errors.As(err, &pgerr) && pgerr.Field('C') == pgCheckViolation
}

func toCounters(row *types.AnswerCounter) *vote.Counters {
	return &vote.Counters{
		QuestionID: row.QuestionID,
		AnswerID:   row.AnswerID,
		Upvotes:    row.Upvotes,
		Downvotes:  row.Downvotes,
		UpdatedAt:  row.UpdatedAt.UTC(),
	}
}
