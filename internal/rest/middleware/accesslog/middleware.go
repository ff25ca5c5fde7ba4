package accesslog

import (
	"net/http"
	"time"

	"github.com/robalyx/answervote/internal/rest/middleware/header"
	"github.com/uptrace/bunrouter"
	"go.uber.org/zap"
)

// Middleware logs one entry per request.
type Middleware struct {
	logger *zap.Logger
}

// New creates a new access log middleware.
func New(logger *zap.Logger) *Middleware {
	return &Middleware{
		logger: logger.Named("access_log"),
	}
}

// AsRESTMiddleware returns a bunrouter middleware handler that logs requests.
func (m *Middleware) AsRESTMiddleware(next bunrouter.HandlerFunc) bunrouter.HandlerFunc {
	return func(w http.ResponseWriter, req bunrouter.Request) error {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		err := next(rec, req)

		fields := []zap.Field{
			zap.String("method", req.Method),
			zap.String("route", req.Route()),
			zap.String("path", req.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)),
			zap.String("requestID", header.RequestID(req.Context())),
		}
		if err != nil {
			fields = append(fields, zap.Error(err))
		}

		switch {
		case rec.status >= http.StatusInternalServerError:
			m.logger.Warn("Request failed", fields...)
		default:
			m.logger.Debug("Request served", fields...)
		}

		return err
	}
}

// statusRecorder captures the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(status int) {
	if !r.wroteHeader {
		r.status = status
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	r.wroteHeader = true
	return r.ResponseWriter.Write(b)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
