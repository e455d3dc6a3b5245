// Package assistants is a focused client for the OpenAI Assistants v2 REST
// surface: threads, thread messages, and runs. It implements only the calls
// the answer orchestrator needs.
package assistants

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"breathwork-agent/internal/domain"
)

// threadRequest is the request shape for thread creation. Metadata tags the
// thread for later inspection in the provider dashboard.
type threadRequest struct {
	Metadata map[string]string `json:"metadata,omitempty"`
}

type threadResponse struct {
	ID string `json:"id"`
}

type messageRequest struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messageResponse struct {
	ID string `json:"id"`
}

type runRequest struct {
	AssistantID  string    `json:"assistant_id"`
	Model        string    `json:"model,omitempty"`
	Instructions string    `json:"instructions,omitempty"`
	Tools        []runTool `json:"tools,omitempty"`
}

type runTool struct {
	Type string `json:"type"`
}

type runError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type runResponse struct {
	ID        string    `json:"id"`
	Status    string    `json:"status"`
	LastError *runError `json:"last_error"`
}

// listMessagesResponse is the minimal shape of the thread message list. The
// provider returns messages newest first; each message carries one or more
// content parts of which only text parts matter here.
type listMessagesResponse struct {
	Data []struct {
		Role    string `json:"role"`
		Content []struct {
			Type string `json:"type"`
			Text *struct {
				Value string `json:"value"`
			} `json:"text"`
		} `json:"content"`
	} `json:"data"`
}

// tokenPayload is the expected JSON shape stored in SSM for the API token.
type tokenPayload struct {
	Token string `json:"token"`
}

type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// HTTPStatusError captures non-2xx upstream responses with status-aware context.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("assistants: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// IsNotFound reports whether err is an upstream 404, which for thread-scoped
// calls means the thread handle is stale or was never valid.
func IsNotFound(err error) bool {
	var statusErr *HTTPStatusError
	return errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound
}

// IsRateLimited reports whether err is an upstream 429.
func IsRateLimited(err error) bool {
	var statusErr *HTTPStatusError
	return errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusTooManyRequests
}

// Client talks to the Assistants v2 endpoints over plain HTTP.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	getter      Getter
	paramPrefix string

	keyOnce sync.Once
	apiKey  string
	keyErr  error
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSpace(baseURL)
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// NewClient creates a new Client backed by the given paramstore Getter for
// API key retrieval. The key is fetched from SSM on the first remote call and
// reused for the lifetime of the process.
func NewClient(ps Getter, paramPrefix string, opts ...Option) (*Client, error) {
	if ps == nil {
		return nil, errors.New("assistants: paramstore getter must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("assistants: parameter prefix must not be empty")
	}
	c := &Client{
		baseURL:     "https://api.openai.com/v1",
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		getter:      ps,
		paramPrefix: paramPrefix,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// resolveAPIKey fetches the API key from SSM on the first call and returns
// the cached result on every subsequent call within the same process lifetime.
func (c *Client) resolveAPIKey(ctx context.Context) (string, error) {
	c.keyOnce.Do(func() {
		c.apiKey, c.keyErr = fetchAPIKeyFromParamStore(ctx, c.getter, c.tokenParameterName())
	})
	return c.apiKey, c.keyErr
}

func (c *Client) tokenParameterName() string {
	return c.paramPrefix + "/open-ai-token"
}

func (c *Client) resolvedHTTPClient() *http.Client {
	if c.httpClient != nil {
		return c.httpClient
	}
	return &http.Client{Timeout: 30 * time.Second}
}

// endpointURL joins the base URL with a v1 path like "/threads/abc/runs".
func endpointURL(baseURL, path string) string {
	base := strings.TrimRight(baseURL, "/")
	if base == "" {
		base = "https://api.openai.com/v1"
	}
	if !strings.HasSuffix(base, "/v1") {
		base += "/v1"
	}
	return base + path
}

// CreateThread creates a new conversation thread and returns its handle.
func (c *Client) CreateThread(ctx context.Context, metadata map[string]string) (string, error) {
	var payload threadResponse
	if err := c.postJSON(ctx, "/threads", threadRequest{Metadata: metadata}, &payload); err != nil {
		return "", err
	}
	if payload.ID == "" {
		return "", errors.New("assistants: create thread returned no thread id")
	}
	return payload.ID, nil
}

// CreateMessage appends a message to a thread. A stale thread handle surfaces
// as an HTTPStatusError satisfying IsNotFound.
func (c *Client) CreateMessage(ctx context.Context, threadID, role, content string) (string, error) {
	if threadID == "" {
		return "", errors.New("assistants: thread id must not be empty")
	}
	var payload messageResponse
	in := messageRequest{Role: role, Content: content}
	if err := c.postJSON(ctx, "/threads/"+threadID+"/messages", in, &payload); err != nil {
		return "", err
	}
	if payload.ID == "" {
		return "", errors.New("assistants: create message returned no message id")
	}
	return payload.ID, nil
}

// CreateRun starts an assistant run on the thread and returns the run id.
func (c *Client) CreateRun(ctx context.Context, threadID string, cfg domain.RunConfig) (string, error) {
	if threadID == "" {
		return "", errors.New("assistants: thread id must not be empty")
	}
	if cfg.AssistantID == "" {
		return "", errors.New("assistants: assistant id must not be empty")
	}
	in := runRequest{
		AssistantID:  cfg.AssistantID,
		Model:        cfg.Model,
		Instructions: cfg.Instructions,
	}
	if cfg.FileSearch {
		in.Tools = []runTool{{Type: "file_search"}}
	}
	var payload runResponse
	if err := c.postJSON(ctx, "/threads/"+threadID+"/runs", in, &payload); err != nil {
		return "", err
	}
	if payload.ID == "" {
		return "", errors.New("assistants: create run returned no run id")
	}
	return payload.ID, nil
}

// GetRun fetches the current state of a run.
func (c *Client) GetRun(ctx context.Context, threadID, runID string) (domain.RunState, error) {
	if threadID == "" || runID == "" {
		return domain.RunState{}, errors.New("assistants: thread id and run id must not be empty")
	}
	var payload runResponse
	if err := c.getJSON(ctx, "/threads/"+threadID+"/runs/"+runID, &payload); err != nil {
		return domain.RunState{}, err
	}
	state := domain.RunState{
		ID:     payload.ID,
		Status: domain.RunStatus(payload.Status),
	}
	if payload.LastError != nil {
		state.LastError = payload.LastError.Message
	}
	return state, nil
}

// ListMessages returns the thread's messages newest first, reduced to role
// and the first text content part.
func (c *Client) ListMessages(ctx context.Context, threadID string) ([]domain.ThreadMessage, error) {
	if threadID == "" {
		return nil, errors.New("assistants: thread id must not be empty")
	}
	var payload listMessagesResponse
	if err := c.getJSON(ctx, "/threads/"+threadID+"/messages", &payload); err != nil {
		return nil, err
	}
	msgs := make([]domain.ThreadMessage, 0, len(payload.Data))
	for _, entry := range payload.Data {
		msg := domain.ThreadMessage{Role: entry.Role}
		for _, part := range entry.Content {
			if part.Type == "text" && part.Text != nil {
				msg.Content = part.Text.Value
				break
			}
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

func (c *Client) postJSON(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("assistants: marshal request: %w", err)
	}
	url := endpointURL(c.baseURL, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("assistants: create request: %w", err)
	}
	return c.do(ctx, req, url, out)
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	url := endpointURL(c.baseURL, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("assistants: create request: %w", err)
	}
	return c.do(ctx, req, url, out)
}

func (c *Client) do(ctx context.Context, req *http.Request, url string, out any) error {
	apiKey, err := c.resolveAPIKey(ctx)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("OpenAI-Beta", "assistants=v2")

	raw, err := c.doJSONRequest(req, url)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("assistants: decode response from %s: %w", url, err)
	}
	return nil
}

func (c *Client) doJSONRequest(req *http.Request, url string) ([]byte, error) {
	res, doErr := c.resolvedHTTPClient().Do(req)
	if doErr != nil {
		return nil, fmt.Errorf("assistants: request failed: %w", doErr)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, &HTTPStatusError{
			StatusCode: res.StatusCode,
			URL:        url,
			Body:       string(buf),
		}
	}

	buf, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("assistants: read response body: %w", err)
	}
	return buf, nil
}

func fetchAPIKeyFromParamStore(ctx context.Context, getter Getter, name string) (string, error) {
	if getter == nil {
		return "", errors.New("assistants: paramstore getter is nil")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("assistants: token parameter name is empty")
	}

	raw, err := getter.GetParameter(ctx, name)
	if err != nil {
		return "", fmt.Errorf("assistants: fetch token from paramstore: %w", err)
	}
	var tp tokenPayload
	if err := json.Unmarshal([]byte(raw), &tp); err != nil {
		return "", fmt.Errorf("assistants: unmarshal paramstore token value as JSON: %w", err)
	}
	if tp.Token == "" {
		return "", fmt.Errorf("assistants: API token is empty")
	}
	return tp.Token, nil
}
