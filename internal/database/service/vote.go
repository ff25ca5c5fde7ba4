package service

import (
	"context"
	"fmt"

	"github.com/robalyx/answervote/internal/database/dbretry"
	"github.com/robalyx/answervote/internal/database/models"
	"github.com/robalyx/answervote/internal/vote"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

var _ vote.Transactor = (*VoteService)(nil)

// VoteService runs vote transitions inside Postgres transactions.
type VoteService struct {
	db       *bun.DB
	counters *models.AnswerCounterModel
	records  *models.VoteRecordModel
	logger   *zap.Logger
}

// NewVote creates a new vote service.
func NewVote(
	db *bun.DB,
	counters *models.AnswerCounterModel,
	records *models.VoteRecordModel,
	logger *zap.Logger,
) *VoteService {
	return &VoteService{
		db:       db,
		counters: counters,
		records:  records,
		logger:   logger.Named("vote_service"),
	}
}

// Stores returns the non-transactional stores.
func (s *VoteService) Stores() vote.Stores {
	return vote.Stores{Counters: s.counters, Ledger: s.records}
}

// Atomically runs fn in a transaction holding an advisory lock on lockKey.
// The transaction is retried on serialization failures and deadlocks, so
// fn may run more than once.
func (s *VoteService) Atomically(
	ctx context.Context, lockKey string, fn func(ctx context.Context, stores vote.Stores) error,
) error {
	attempt := 0
	err := dbretry.Transaction(ctx, s.db, func(ctx context.Context, tx bun.Tx) error {
		attempt++
		if attempt > 1 {
			s.logger.Debug("Retrying vote transaction",
				zap.String("key", lockKey),
				zap.Int("attempt", attempt))
		}

		// Serialize writers of the same key across processes
		_, err := tx.NewRaw("SELECT pg_advisory_xact_lock(hashtextextended(?, 0))", lockKey).Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to acquire advisory lock: %w", err)
		}

		return fn(ctx, vote.Stores{
			Counters: s.counters.WithTx(tx),
			Ledger:   s.records.WithTx(tx),
		})
	})
	if err != nil && dbretry.IsSerializationFailure(err) {
		s.logger.Warn("Vote transaction kept conflicting",
			zap.String("key", lockKey),
			zap.Int("attempts", attempt),
			zap.Error(err))
	}
	return err
}
