package commands

import (
	"errors"

	"github.com/robalyx/answervote/internal/setup"
	"github.com/uptrace/bun/migrate"
	"go.uber.org/zap"
)

var (
	ErrNameRequired  = errors.New("NAME argument required")
	ErrDriftDetected = errors.New("counters disagree with the ledger")
)

// CLIDependencies holds the common dependencies needed by CLI commands.
type CLIDependencies struct {
	App      *setup.App
	Migrator *migrate.Migrator
	Logger   *zap.Logger
}
