package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/robalyx/answervote/internal/rest/types"
	"github.com/uptrace/bunrouter"
	"go.uber.org/zap"
)

// healthTimeout bounds each dependency check.
const healthTimeout = 2 * time.Second

// Pinger is a dependency that can report its reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler reports whether the backing stores are reachable.
type HealthHandler struct {
	checks map[string]Pinger
	logger *zap.Logger
}

// NewHealthHandler creates a health handler over the named dependencies.
func NewHealthHandler(checks map[string]Pinger, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		checks: checks,
		logger: logger.Named("health_handler"),
	}
}

// Health pings every dependency and responds 503 if any is down.
func (h *HealthHandler) Health(w http.ResponseWriter, req bunrouter.Request) error {
	response := types.HealthResponse{
		Status: "ok",
		Checks: make(map[string]string, len(h.checks)),
	}
	status := http.StatusOK

	for name, check := range h.checks {
		ctx, cancel := context.WithTimeout(req.Context(), healthTimeout)
		err := check.Ping(ctx)
		cancel()

		if err != nil {
			h.logger.Warn("Health check failed", zap.String("check", name), zap.Error(err))
			response.Checks[name] = err.Error()
			response.Status = "unavailable"
			status = http.StatusServiceUnavailable
			continue
		}
		response.Checks[name] = "ok"
	}

	return writeJSON(w, status, response)
}
