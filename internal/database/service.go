package database

import (
	"github.com/robalyx/answervote/internal/database/service"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

// Service provides access to all business logic services.
type Service struct {
	vote *service.VoteService
}

// NewService creates a new service instance with all services.
func NewService(db *bun.DB, repository *Repository, logger *zap.Logger) *Service {
	return &Service{
		vote: service.NewVote(db, repository.AnswerCounter(), repository.VoteRecord(), logger),
	}
}

// Vote returns the transactional vote service.
func (s *Service) Vote() *service.VoteService {
	return s.vote
}
