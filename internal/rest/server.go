package rest

import (
	"net/http"

	"github.com/klauspost/compress/gzhttp"
	"github.com/robalyx/answervote/internal/rest/handler"
	"github.com/robalyx/answervote/internal/rest/middleware/accesslog"
	"github.com/robalyx/answervote/internal/rest/middleware/header"
	"github.com/robalyx/answervote/internal/setup/config"
	"github.com/uptrace/bunrouter"
	"go.uber.org/zap"
)

const answerPath = "/questions/:questionID/answers/:answerID"

// Server implements the REST API service.
type Server struct {
	answerHandler *handler.AnswerHandler
	healthHandler *handler.HealthHandler
}

// NewServer creates a new REST API server.
func NewServer(
	aggregator handler.Aggregator, checks map[string]handler.Pinger, logger *zap.Logger, config *config.Server,
) http.Handler {
	// Create server instance with handlers
	server := &Server{
		answerHandler: handler.NewAnswerHandler(aggregator, config.MaxBodyBytes, logger),
		healthHandler: handler.NewHealthHandler(checks, logger),
	}

	// Create middleware instances
	headerMiddleware := header.New(config.UserHeader, logger)
	accessLog := accesslog.New(logger)

	// Create base router
	router := bunrouter.New(
		bunrouter.WithNotFoundHandler(handler.NotFound),
		bunrouter.WithMethodNotAllowedHandler(handler.MethodNotAllowed),
	)

	router.GET("/healthz", server.healthHandler.Health)

	// Create API routes group
	router.Use(
		headerMiddleware.AsRESTMiddleware,
		accessLog.AsRESTMiddleware,
	).WithGroup("/v1", func(g *bunrouter.Group) {
		g.PUT(answerPath, server.answerHandler.RegisterAnswer)
		g.GET(answerPath, server.answerHandler.GetAnswer)
		g.DELETE(answerPath, server.answerHandler.DeleteAnswer)
		g.POST(answerPath+"/votes", server.answerHandler.CastVote)
		g.DELETE(answerPath+"/votes", server.answerHandler.RetractVote)
	})

	// Add gzip compression
	return gzhttp.GzipHandler(router)
}
