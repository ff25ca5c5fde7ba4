package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/bytedance/sonic"
	"github.com/robalyx/answervote/internal/rest/middleware/header"
	"github.com/robalyx/answervote/internal/rest/types"
	"github.com/robalyx/answervote/internal/vote"
	"github.com/uptrace/bunrouter"
	"go.uber.org/zap"
)

// retryAfterSeconds is sent with responses for transient store failures.
const retryAfterSeconds = 1

var (
	ErrMissingUsername = errors.New("missing username")
	ErrInvalidBody     = errors.New("invalid request body")
)

// writeJSON encodes v with sonic and writes it with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) error {
	body, err := sonic.Marshal(v)
	if err != nil {
		return err
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, err = w.Write(body)
	return err
}

// writeError maps err to an HTTP status and writes the error body.
func writeError(w http.ResponseWriter, req *http.Request, logger *zap.Logger, err error) error {
	status, message := statusFor(err)

	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
	}

	if status >= http.StatusInternalServerError {
		logger.Error("Vote request failed",
			zap.String("requestID", header.RequestID(req.Context())),
			zap.String("path", req.URL.Path),
			zap.Int("status", status),
			zap.Error(err))
	}

	return writeJSON(w, status, types.ErrorResponse{Error: message})
}

// statusFor classifies err into a status code and a client-facing message.
func statusFor(err error) (int, string) {
	var maxBytesErr *http.MaxBytesError

	switch {
	case errors.Is(err, ErrMissingUsername):
		return http.StatusUnauthorized, err.Error()
	case errors.As(err, &maxBytesErr):
		return http.StatusRequestEntityTooLarge, "request body too large"
	case errors.Is(err, ErrInvalidBody),
		errors.Is(err, vote.ErrValidation),
		errors.Is(err, vote.ErrUnknownAction):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, vote.ErrNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, vote.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, "vote store temporarily unavailable"
	case errors.Is(err, vote.ErrCascadeIncomplete):
		return http.StatusInternalServerError, "answer deletion incomplete, retry the request"
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

// NotFound responds to requests for unknown routes.
func NotFound(w http.ResponseWriter, _ bunrouter.Request) error {
	return writeJSON(w, http.StatusNotFound, types.ErrorResponse{Error: "route not found"})
}

// MethodNotAllowed responds to requests with an unsupported method.
func MethodNotAllowed(w http.ResponseWriter, _ bunrouter.Request) error {
	return writeJSON(w, http.StatusMethodNotAllowed, types.ErrorResponse{Error: "method not allowed"})
}
