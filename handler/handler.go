// Package handler exposes the answer orchestrator as an API Gateway proxy
// Lambda.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"breathwork-agent/internal/domain"
	"breathwork-agent/internal/usecase"
)

// UseCase is the orchestrator surface the handler depends on.
type UseCase interface {
	Answer(ctx context.Context, in usecase.AnswerInput) (usecase.AnswerOutput, error)
	History(ctx context.Context, sessionID string, limit int) ([]domain.Turn, error)
}

type Handler struct {
	uc  UseCase
	log zerolog.Logger
}

type askRequest struct {
	Question  string `json:"question"`
	GuideID   string `json:"guideId"`
	SessionID string `json:"sessionId"`
}

type askResponse struct {
	Answer          string   `json:"answer"`
	Shortcuts       []string `json:"shortcuts"`
	BackgroundColor string   `json:"backgroundColor"`
	Source          string   `json:"source"`
	SessionID       string   `json:"sessionId,omitempty"`
}

type historyItem struct {
	Question  string `json:"question"`
	Answer    string `json:"answer"`
	Source    string `json:"source"`
	Timestamp string `json:"timestamp"`
}

type historyResponse struct {
	History []historyItem `json:"history"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func NewHandler(uc UseCase, logger zerolog.Logger) (*Handler, error) {
	if uc == nil {
		return nil, errors.New("handler: use case must not be nil")
	}
	return &Handler{uc: uc, log: logger}, nil
}

func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	corrID := correlationID(req.Headers)

	if strings.HasSuffix(req.Path, "/history") {
		return h.handleHistory(ctx, corrID, req), nil
	}

	var in askRequest
	if err := json.Unmarshal([]byte(req.Body), &in); err != nil {
		h.log.Warn().Err(err).Str("correlationId", corrID).Msg("invalid request body")
		return jsonResponse(http.StatusBadRequest, corrID, errorResponse{Error: string(usecase.ErrorInvalidInput)}), nil
	}

	out, err := h.uc.Answer(ctx, usecase.AnswerInput{
		Question:  in.Question,
		GuideID:   in.GuideID,
		SessionID: in.SessionID,
	})
	if err != nil {
		var ucErr *usecase.Error
		if errors.As(err, &ucErr) {
			h.log.Warn().Str("correlationId", corrID).Str("reason", ucErr.Reason).Msg("request rejected")
			return jsonResponse(statusForCode(ucErr.Code), corrID, errorResponse{Error: string(ucErr.Code)}), nil
		}
		h.log.Error().Err(err).Str("correlationId", corrID).Msg("unexpected handler error")
		return jsonResponse(http.StatusInternalServerError, corrID, errorResponse{Error: string(usecase.ErrorInternal)}), nil
	}

	shortcuts := out.Shortcuts
	if shortcuts == nil {
		shortcuts = []string{}
	}
	return jsonResponse(http.StatusOK, corrID, askResponse{
		Answer:          out.Answer,
		Shortcuts:       shortcuts,
		BackgroundColor: out.BackgroundColor,
		Source:          out.Source,
		SessionID:       out.SessionID,
	}), nil
}

func (h *Handler) handleHistory(ctx context.Context, corrID string, req events.APIGatewayProxyRequest) events.APIGatewayProxyResponse {
	sessionID := req.QueryStringParameters["sessionId"]
	limit := 0
	if raw := req.QueryStringParameters["limit"]; raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}

	turns, err := h.uc.History(ctx, sessionID, limit)
	if err != nil {
		var ucErr *usecase.Error
		if errors.As(err, &ucErr) {
			h.log.Warn().Str("correlationId", corrID).Str("reason", ucErr.Reason).Msg("history request rejected")
			return jsonResponse(statusForCode(ucErr.Code), corrID, errorResponse{Error: string(ucErr.Code)})
		}
		h.log.Error().Err(err).Str("correlationId", corrID).Msg("unexpected handler error")
		return jsonResponse(http.StatusInternalServerError, corrID, errorResponse{Error: string(usecase.ErrorInternal)})
	}

	items := make([]historyItem, 0, len(turns))
	for _, turn := range turns {
		items = append(items, historyItem{
			Question:  turn.Question,
			Answer:    turn.Answer,
			Source:    turn.Source,
			Timestamp: turn.Timestamp,
		})
	}
	return jsonResponse(http.StatusOK, corrID, historyResponse{History: items})
}

func statusForCode(code usecase.ErrorCode) int {
	switch code {
	case usecase.ErrorInvalidInput:
		return http.StatusBadRequest
	case usecase.ErrorRateLimited:
		return http.StatusTooManyRequests
	case usecase.ErrorUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// correlationID returns the caller-provided correlation id header, matched
// case-insensitively, or a fresh one.
func correlationID(headers map[string]string) string {
	for k, v := range headers {
		if http.CanonicalHeaderKey(k) == "X-Correlation-Id" && v != "" {
			return v
		}
	}
	return uuid.NewString()
}

func jsonResponse(status int, corrID string, body any) events.APIGatewayProxyResponse {
	raw, err := json.Marshal(body)
	if err != nil {
		raw = []byte(`{"error":"INTERNAL_ERROR"}`)
		status = http.StatusInternalServerError
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":     "application/json",
			"X-Correlation-Id": corrID,
		},
		Body: string(raw),
	}
}
