package handler

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/bytedance/sonic"
	"github.com/robalyx/answervote/internal/rest/convert"
	"github.com/robalyx/answervote/internal/rest/middleware/header"
	"github.com/robalyx/answervote/internal/rest/types"
	"github.com/robalyx/answervote/internal/vote"
	"github.com/uptrace/bunrouter"
	"go.uber.org/zap"
)

// Aggregator is the subset of vote.Aggregator served over HTTP.
type Aggregator interface {
	Vote(ctx context.Context, username, questionID, answerID string, requested vote.Action) (*vote.Result, error)
	Retract(ctx context.Context, username, questionID, answerID string) (*vote.Result, error)
	Status(ctx context.Context, username, questionID, answerID string) (vote.Action, error)
	Counters(ctx context.Context, questionID, answerID string) (*vote.Counters, error)
	RegisterAnswer(ctx context.Context, questionID, answerID string) (*vote.Counters, error)
	DeleteAnswer(ctx context.Context, answerID string) (int, error)
}

// AnswerHandler handles answer and vote REST endpoints.
type AnswerHandler struct {
	aggregator   Aggregator
	maxBodyBytes int64
	logger       *zap.Logger
}

// NewAnswerHandler creates a new answer handler.
func NewAnswerHandler(aggregator Aggregator, maxBodyBytes int64, logger *zap.Logger) *AnswerHandler {
	return &AnswerHandler{
		aggregator:   aggregator,
		maxBodyBytes: maxBodyBytes,
		logger:       logger.Named("answer_handler"),
	}
}

// RegisterAnswer creates zeroed counters for an answer.
// Registering an existing answer returns its current counters.
func (h *AnswerHandler) RegisterAnswer(w http.ResponseWriter, req bunrouter.Request) error {
	counters, err := h.aggregator.RegisterAnswer(req.Context(), req.Param("questionID"), req.Param("answerID"))
	if err != nil {
		return writeError(w, req.Request, h.logger, err)
	}

	return writeJSON(w, http.StatusOK, convert.Answer(counters, nil))
}

// GetAnswer returns an answer's counters and the caller's vote when known.
func (h *AnswerHandler) GetAnswer(w http.ResponseWriter, req bunrouter.Request) error {
	ctx := req.Context()
	questionID, answerID := req.Param("questionID"), req.Param("answerID")

	counters, err := h.aggregator.Counters(ctx, questionID, answerID)
	if err != nil {
		return writeError(w, req.Request, h.logger, err)
	}

	var action *vote.Action
	if username := header.Username(ctx); username != "" {
		current, err := h.aggregator.Status(ctx, username, questionID, answerID)
		if err != nil {
			return writeError(w, req.Request, h.logger, err)
		}
		action = &current
	}

	return writeJSON(w, http.StatusOK, convert.Answer(counters, action))
}

// DeleteAnswer removes an answer's counters and every vote cast on it.
func (h *AnswerHandler) DeleteAnswer(w http.ResponseWriter, req bunrouter.Request) error {
	answerID := req.Param("answerID")

	// The question must own the answer before anything is removed
	if _, err := h.aggregator.Counters(req.Context(), req.Param("questionID"), answerID); err != nil {
		return writeError(w, req.Request, h.logger, err)
	}

	removed, err := h.aggregator.DeleteAnswer(req.Context(), answerID)
	if err != nil {
		return writeError(w, req.Request, h.logger, err)
	}

	h.logger.Info("Deleted answer",
		zap.String("requestID", header.RequestID(req.Context())),
		zap.String("answerID", answerID),
		zap.Int("records", removed))

	return writeJSON(w, http.StatusOK, types.DeleteAnswerResponse{
		AnswerID:       answerID,
		RecordsRemoved: removed,
	})
}

// CastVote applies an upvote or downvote request from the caller.
// Repeating the caller's current vote retracts it.
func (h *AnswerHandler) CastVote(w http.ResponseWriter, req bunrouter.Request) error {
	username := header.Username(req.Context())
	if username == "" {
		return writeError(w, req.Request, h.logger, ErrMissingUsername)
	}

	var body types.VoteRequest
	if err := h.decode(w, req.Request, &body); err != nil {
		return writeError(w, req.Request, h.logger, err)
	}

	action, err := vote.ParseAction(body.Action)
	if err != nil {
		return writeError(w, req.Request, h.logger, err)
	}

	result, err := h.aggregator.Vote(req.Context(), username, req.Param("questionID"), req.Param("answerID"), action)
	if err != nil {
		return writeError(w, req.Request, h.logger, err)
	}

	return writeJSON(w, http.StatusOK, convert.VoteResult(result))
}

// RetractVote removes the caller's vote.
func (h *AnswerHandler) RetractVote(w http.ResponseWriter, req bunrouter.Request) error {
	username := header.Username(req.Context())
	if username == "" {
		return writeError(w, req.Request, h.logger, ErrMissingUsername)
	}

	result, err := h.aggregator.Retract(req.Context(), username, req.Param("questionID"), req.Param("answerID"))
	if err != nil {
		return writeError(w, req.Request, h.logger, err)
	}

	return writeJSON(w, http.StatusOK, convert.VoteResult(result))
}

// decode reads a size-limited JSON body into v.
func (h *AnswerHandler) decode(w http.ResponseWriter, req *http.Request, v any) error {
	data, err := io.ReadAll(http.MaxBytesReader(w, req.Body, h.maxBodyBytes))
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return fmt.Errorf("%w: empty body", ErrInvalidBody)
	}
	if err := sonic.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidBody, err)
	}
	return nil
}
