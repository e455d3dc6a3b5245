// Package usecase holds the session-scoped inference orchestrator: it binds
// caller sessions to remote assistant threads, drives the asynchronous run
// lifecycle, and normalizes replies into the caller-facing answer shape.
package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"breathwork-agent/internal/domain"
)

const (
	defaultMaxQuestion  = 500
	defaultHistoryLimit = 50

	answerColor = "#E8D1D1"
	errorColor  = "#F2E8E8"

	apologyAnswer = "I apologize, but I'm having trouble processing your question right now. Please try again later."
)

// Answer sources reported to the caller.
const (
	SourceGreeting   = "greeting"
	SourceStructured = "openai_assistant_json"
	SourcePlain      = "openai_assistant"
	SourceError      = "error"
)

type ParamGetter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// AssistantClient is the remote conversational-inference surface the
// orchestrator drives.
type AssistantClient interface {
	CreateThread(ctx context.Context, metadata map[string]string) (string, error)
	CreateMessage(ctx context.Context, threadID, role, content string) (string, error)
	CreateRun(ctx context.Context, threadID string, cfg domain.RunConfig) (string, error)
	GetRun(ctx context.Context, threadID, runID string) (domain.RunState, error)
	ListMessages(ctx context.Context, threadID string) ([]domain.ThreadMessage, error)
}

// ContextProvider resolves the guide-specific framing text.
type ContextProvider interface {
	GuideContext(ctx context.Context, guideID string) (string, error)
}

// SessionStore is the persisted session state the orchestrator reads and
// updates. Updates and turn writes are best-effort from the orchestrator's
// point of view.
type SessionStore interface {
	GetSession(ctx context.Context, sessionID string) (domain.Session, bool, error)
	UpdateSession(ctx context.Context, sessionID string, update domain.SessionUpdate) error
	SaveCompletedTurn(ctx context.Context, sessionID, question, answer, source string) error
	GetHistory(ctx context.Context, sessionID string, limit int) ([]domain.Turn, error)
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

// AnswerService orchestrates one question through the remote assistant.
type AnswerService struct {
	params         ParamGetter
	assistant      AssistantClient
	store          SessionStore
	guides         ContextProvider
	poller         *runPoller
	log            zerolog.Logger
	paramPrefix    string
	maxQuestionLen int

	cacheMu     sync.RWMutex
	cacheLoaded bool
	assistantID string
	model       string
}

type AnswerInput struct {
	Question  string
	GuideID   string
	SessionID string
}

// AnswerOutput is the uniform caller-facing result shape. Hard failures of
// the pipeline are already folded into it; callers never see provider error
// detail.
type AnswerOutput struct {
	Answer          string
	Shortcuts       []string
	BackgroundColor string
	Source          string
	SessionID       string
}

func NewAnswerService(p ParamGetter, assistant AssistantClient, store SessionStore, guides ContextProvider, logger zerolog.Logger, paramPrefix string, maxQuestionLen int) (*AnswerService, error) {
	if p == nil {
		return nil, errors.New("usecase: param getter must not be nil")
	}
	if assistant == nil {
		return nil, errors.New("usecase: assistant client must not be nil")
	}
	if store == nil {
		return nil, errors.New("usecase: session store must not be nil")
	}
	if guides == nil {
		return nil, errors.New("usecase: context provider must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("usecase: parameter prefix must not be empty")
	}
	if maxQuestionLen <= 0 {
		maxQuestionLen = defaultMaxQuestion
	}
	return &AnswerService{
		params:         p,
		assistant:      assistant,
		store:          store,
		guides:         guides,
		poller:         newRunPoller(assistant),
		log:            logger,
		paramPrefix:    paramPrefix,
		maxQuestionLen: maxQuestionLen,
	}, nil
}

// Answer resolves one question. Input validation failures are returned as
// *Error so the transport layer can reject them; every downstream failure is
// logged and converted into the uniform apology shape instead.
func (s *AnswerService) Answer(ctx context.Context, in AnswerInput) (AnswerOutput, error) {
	question := strings.TrimSpace(in.Question)
	if question == "" {
		return AnswerOutput{}, newError(ErrorInvalidInput, "empty_question", nil)
	}
	if len(question) > s.maxQuestionLen {
		return AnswerOutput{}, newError(ErrorInvalidInput, "question_too_long", nil)
	}

	// The greeting fast path runs before any I/O and mutates nothing.
	if isGreeting(question) {
		return AnswerOutput{
			Answer:          pickGreeting(),
			Shortcuts:       append([]string(nil), greetingShortcuts...),
			BackgroundColor: answerColor,
			Source:          SourceGreeting,
			SessionID:       strings.TrimSpace(in.SessionID),
		}, nil
	}

	out, err := s.answer(ctx, question, in)
	if err != nil {
		var ucErr *Error
		if errors.As(err, &ucErr) {
			s.log.Error().Err(err).
				Str("code", string(ucErr.Code)).
				Str("reason", ucErr.Reason).
				Str("sessionId", in.SessionID).
				Msg("answer pipeline failed")
		} else {
			s.log.Error().Err(err).Str("sessionId", in.SessionID).Msg("answer pipeline failed")
		}
		return AnswerOutput{
			Answer:          apologyAnswer,
			Shortcuts:       []string{},
			BackgroundColor: errorColor,
			Source:          SourceError,
			SessionID:       strings.TrimSpace(in.SessionID),
		}, nil
	}
	return out, nil
}

// History returns the persisted turns of a session in chronological order.
func (s *AnswerService) History(ctx context.Context, sessionID string, limit int) ([]domain.Turn, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, newError(ErrorInvalidInput, "empty_session_id", nil)
	}
	if limit <= 0 || limit > defaultHistoryLimit {
		limit = defaultHistoryLimit
	}
	turns, err := s.store.GetHistory(ctx, sessionID, limit)
	if err != nil {
		return nil, newError(ErrorInternal, "history_read_error", err)
	}
	return turns, nil
}

func (s *AnswerService) answer(ctx context.Context, question string, in AnswerInput) (AnswerOutput, error) {
	if err := s.ensureConfig(ctx); err != nil {
		return AnswerOutput{}, newError(ErrorConfiguration, "assistant_config_error", err)
	}

	guideID := strings.TrimSpace(in.GuideID)
	if guideID == "" {
		guideID = domain.DefaultGuideID
	}
	guideContext, err := s.guides.GuideContext(ctx, guideID)
	if err != nil {
		return AnswerOutput{}, newError(ErrorUpstream, "guide_context_error", err)
	}

	sessionID := strings.TrimSpace(in.SessionID)
	var threadID string
	if sessionID != "" {
		sess, ok, err := s.store.GetSession(ctx, sessionID)
		if err != nil {
			return AnswerOutput{}, newError(ErrorInternal, "session_read_error", err)
		}
		if ok {
			threadID = sess.ThreadID
		}
	} else {
		sessionID = newUUID()
	}

	if threadID == "" {
		threadID, err = s.createThread(ctx, guideID)
		if err != nil {
			return AnswerOutput{}, err
		}
		s.persistThread(ctx, sessionID, threadID, guideID)
	}

	content := buildUserMessage(guideContext, question)
	if _, err := s.assistant.CreateMessage(ctx, threadID, domain.RoleUser, content); err != nil {
		if !isNotFound(err) {
			return AnswerOutput{}, upstreamError("message_submit_error", err)
		}
		// The persisted handle went stale on the remote side. Recreate the
		// conversation exactly once and retry the submission; a second
		// not-found is a hard failure.
		s.log.Warn().Str("sessionId", sessionID).Str("threadId", threadID).
			Msg("thread handle stale, recreating conversation")
		threadID, err = s.createThread(ctx, guideID)
		if err != nil {
			return AnswerOutput{}, err
		}
		s.persistThread(ctx, sessionID, threadID, guideID)
		if _, err := s.assistant.CreateMessage(ctx, threadID, domain.RoleUser, content); err != nil {
			if isNotFound(err) {
				return AnswerOutput{}, newError(ErrorStaleThread, "thread_not_found_after_recreate", err)
			}
			return AnswerOutput{}, upstreamError("message_submit_error", err)
		}
	}

	runID, err := s.assistant.CreateRun(ctx, threadID, domain.RunConfig{
		AssistantID:  s.assistantID,
		Model:        s.model,
		Instructions: runInstructions(),
		FileSearch:   true,
	})
	if err != nil {
		return AnswerOutput{}, upstreamError("run_create_error", err)
	}

	if err := s.poller.wait(ctx, threadID, runID); err != nil {
		return AnswerOutput{}, err
	}

	msgs, err := s.assistant.ListMessages(ctx, threadID)
	if err != nil {
		return AnswerOutput{}, upstreamError("message_list_error", err)
	}
	raw, err := latestAssistantReply(msgs)
	if err != nil {
		return AnswerOutput{}, err
	}

	decoded := decodeReply(raw)
	source := SourcePlain
	if decoded.Structured {
		source = SourceStructured
	}
	if decoded.Answer == "" {
		return AnswerOutput{}, newError(ErrorUpstream, "assistant_reply_empty", nil)
	}

	s.persistTurn(ctx, sessionID, question, decoded.Answer, source)

	return AnswerOutput{
		Answer:          decoded.Answer,
		Shortcuts:       decoded.Shortcuts,
		BackgroundColor: answerColor,
		Source:          source,
		SessionID:       sessionID,
	}, nil
}

// createThread opens a fresh remote conversation tagged with the guide and a
// creation timestamp.
func (s *AnswerService) createThread(ctx context.Context, guideID string) (string, error) {
	threadID, err := s.assistant.CreateThread(ctx, map[string]string{
		"source":    "breathwork_app",
		"guide":     guideID,
		"timestamp": timeNow().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return "", upstreamError("thread_create_error", err)
	}
	return threadID, nil
}

// persistThread stores the new thread handle on the session record.
// Persistence failure is non-fatal to answering: the turn proceeds on the
// fresh thread and the handle is recreated next time.
func (s *AnswerService) persistThread(ctx context.Context, sessionID, threadID, guideID string) {
	now := timeNow().UTC().Format(time.RFC3339)
	err := s.store.UpdateSession(ctx, sessionID, domain.SessionUpdate{
		ThreadID:     &threadID,
		GuideID:      &guideID,
		LastActivity: &now,
	})
	if err != nil {
		s.log.Warn().Err(err).Str("sessionId", sessionID).Str("threadId", threadID).
			Msg("failed to persist thread handle")
	}
}

// persistTurn records the completed exchange for history. Best-effort: a
// write failure must not fail a turn that already has an answer.
func (s *AnswerService) persistTurn(ctx context.Context, sessionID, question, answer, source string) {
	if err := s.store.SaveCompletedTurn(ctx, sessionID, question, answer, source); err != nil {
		s.log.Warn().Err(err).Str("sessionId", sessionID).Msg("failed to persist completed turn")
	}
}

// latestAssistantReply returns the text of the most recent assistant-authored
// message. Messages are listed newest first by the remote service.
func latestAssistantReply(msgs []domain.ThreadMessage) (string, error) {
	for _, msg := range msgs {
		if msg.Role != domain.RoleAssistant {
			continue
		}
		if strings.TrimSpace(msg.Content) == "" {
			return "", newError(ErrorUpstream, "assistant_reply_empty", nil)
		}
		return msg.Content, nil
	}
	return "", newError(ErrorUpstream, "assistant_reply_missing", nil)
}

func (s *AnswerService) ensureConfig(ctx context.Context) error {
	s.cacheMu.RLock()
	if s.cacheLoaded {
		s.cacheMu.RUnlock()
		return nil
	}
	s.cacheMu.RUnlock()

	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if s.cacheLoaded {
		return nil
	}

	assistantID, err := s.params.GetParameter(ctx, s.paramPrefix+"/config/assistant_id")
	if err != nil {
		return err
	}
	model, err := s.params.GetParameter(ctx, s.paramPrefix+"/config/openai_model")
	if err != nil {
		return err
	}
	if strings.TrimSpace(assistantID) == "" {
		return errors.New("usecase: assistant id parameter is empty")
	}

	s.assistantID = strings.TrimSpace(assistantID)
	s.model = strings.TrimSpace(model)
	s.cacheLoaded = true
	return nil
}

// upstreamError classifies a remote call failure, keeping rate limiting
// distinct so the transport layer can surface 429 semantics.
func upstreamError(reason string, err error) *Error {
	if status, ok := upstreamStatusCode(err); ok && status == 429 {
		return newError(ErrorRateLimited, reason, err)
	}
	return newError(ErrorUpstream, reason, err)
}

func isNotFound(err error) bool {
	status, ok := upstreamStatusCode(err)
	return ok && status == 404
}

func upstreamStatusCode(err error) (int, bool) {
	var statusErr httpStatusCoder
	if !errors.As(err, &statusErr) {
		return 0, false
	}
	return statusErr.HTTPStatusCode(), true
}

var newUUID = func() string {
	return uuid.NewString()
}

var timeNow = time.Now
