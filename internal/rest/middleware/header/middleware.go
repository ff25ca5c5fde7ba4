package header

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/uptrace/bunrouter"
	"go.uber.org/zap"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

// maxRequestIDLength bounds request ids accepted from upstream proxies.
const maxRequestIDLength = 128

type (
	usernameCtxKey  struct{}
	requestIDCtxKey struct{}
)

// Username returns the authenticated username stored in ctx.
func Username(ctx context.Context) string {
	if username, ok := ctx.Value(usernameCtxKey{}).(string); ok {
		return username
	}
	return ""
}

// RequestID returns the request id stored in ctx.
func RequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDCtxKey{}).(string); ok {
		return id
	}
	return ""
}

// WithUsername returns a copy of ctx carrying username.
func WithUsername(ctx context.Context, username string) context.Context {
	return context.WithValue(ctx, usernameCtxKey{}, username)
}

// Middleware extracts the caller identity and request id from headers.
type Middleware struct {
	userHeader string
	logger     *zap.Logger
}

// New creates a new header middleware reading the username from userHeader.
func New(userHeader string, logger *zap.Logger) *Middleware {
	return &Middleware{
		userHeader: userHeader,
		logger:     logger.Named("header_middleware"),
	}
}

// AsRESTMiddleware returns a bunrouter middleware handler for header extraction.
func (m *Middleware) AsRESTMiddleware(next bunrouter.HandlerFunc) bunrouter.HandlerFunc {
	return func(w http.ResponseWriter, req bunrouter.Request) error {
		requestID := strings.TrimSpace(req.Header.Get(RequestIDHeader))
		if requestID == "" || len(requestID) > maxRequestIDLength {
			requestID = uuid.New().String()
		}
		w.Header().Set(RequestIDHeader, requestID)

		ctx := context.WithValue(req.Context(), requestIDCtxKey{}, requestID)
		if username := strings.TrimSpace(req.Header.Get(m.userHeader)); username != "" {
			ctx = WithUsername(ctx, username)
			m.logger.Debug("Stored request username",
				zap.String("requestID", requestID),
				zap.String("username", username))
		}

		return next(w, req.WithContext(ctx))
	}
}
