package assistants

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"breathwork-agent/internal/domain"
)

// fakeGetter is a minimal paramstore getter stub for use within this package.
type fakeGetter struct {
	val    string
	err    error
	onCall func()
}

func (f *fakeGetter) GetParameter(_ context.Context, _ string) (string, error) {
	if f.onCall != nil {
		f.onCall()
	}
	return f.val, f.err
}

func tokenGetter() *fakeGetter {
	return &fakeGetter{val: `{"token":"sk-from-ssm"}`}
}

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewClient(tokenGetter(), "/breathwork-agent", WithBaseURL(srv.URL), WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	return c, srv
}

func TestEndpointURL(t *testing.T) {
	cases := []struct {
		base string
		path string
		want string
	}{
		{"https://api.openai.com/v1", "/threads", "https://api.openai.com/v1/threads"},
		{"https://api.openai.com/v1/", "/threads", "https://api.openai.com/v1/threads"},
		{"http://localhost:8080", "/threads/t1/runs", "http://localhost:8080/v1/threads/t1/runs"},
		{"", "/threads", "https://api.openai.com/v1/threads"},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, endpointURL(tc.base, tc.path), "base=%q", tc.base)
	}
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient(nil, "/breathwork-agent")
	require.Error(t, err)

	_, err = NewClient(tokenGetter(), "  ")
	require.Error(t, err)
}

func TestResolveAPIKey_FetchedOnce(t *testing.T) {
	calls := 0
	g := tokenGetter()
	g.onCall = func() { calls++ }
	c, err := NewClient(g, "/breathwork-agent")
	require.NoError(t, err)

	key, err := c.resolveAPIKey(context.Background())
	require.NoError(t, err)
	require.Equal(t, "sk-from-ssm", key)

	_, _ = c.resolveAPIKey(context.Background())
	_, _ = c.resolveAPIKey(context.Background())
	require.Equal(t, 1, calls, "SSM must only be called once per process lifetime")
}

func TestFetchAPIKey_Errors(t *testing.T) {
	_, err := fetchAPIKeyFromParamStore(context.Background(), &fakeGetter{val: `{"other":"x"}`}, "/p/open-ai-token")
	require.ErrorContains(t, err, "API token is empty")

	_, err = fetchAPIKeyFromParamStore(context.Background(), &fakeGetter{val: `{"broken`}, "/p/open-ai-token")
	require.ErrorContains(t, err, "unmarshal")

	_, err = fetchAPIKeyFromParamStore(context.Background(), &fakeGetter{err: errors.New("ssm unavailable")}, "/p/open-ai-token")
	require.ErrorContains(t, err, "ssm unavailable")
}

func TestCreateThread_SendsMetadataAndHeaders(t *testing.T) {
	var gotPath, gotAuth, gotBeta string
	var gotBody map[string]any
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotBeta = r.Header.Get("OpenAI-Beta")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_, _ = w.Write([]byte(`{"id":"thread_abc"}`))
	}))

	id, err := c.CreateThread(context.Background(), map[string]string{"guide": "abhi", "source": "breathwork_app"})
	require.NoError(t, err)
	require.Equal(t, "thread_abc", id)
	require.Equal(t, "/v1/threads", gotPath)
	require.Equal(t, "Bearer sk-from-ssm", gotAuth)
	require.Equal(t, "assistants=v2", gotBeta)
	require.Equal(t, map[string]any{"metadata": map[string]any{"guide": "abhi", "source": "breathwork_app"}}, gotBody)
}

func TestCreateThread_MissingID(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	_, err := c.CreateThread(context.Background(), nil)
	require.ErrorContains(t, err, "no thread id")
}

func TestCreateMessage_PostsRoleAndContent(t *testing.T) {
	var gotPath string
	var gotBody map[string]any
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_, _ = w.Write([]byte(`{"id":"msg_1"}`))
	}))

	id, err := c.CreateMessage(context.Background(), "thread_abc", "user", "Context: x\n\nUser Question: y")
	require.NoError(t, err)
	require.Equal(t, "msg_1", id)
	require.Equal(t, "/v1/threads/thread_abc/messages", gotPath)
	require.Equal(t, "user", gotBody["role"])
	require.Equal(t, "Context: x\n\nUser Question: y", gotBody["content"])
}

func TestCreateMessage_StaleThreadIsNotFound(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"message":"No thread found"}}`))
	}))

	_, err := c.CreateMessage(context.Background(), "thread_gone", "user", "hi")
	require.Error(t, err)
	require.True(t, IsNotFound(err))
	require.False(t, IsRateLimited(err))

	var statusErr *HTTPStatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusNotFound, statusErr.StatusCode)
	require.Contains(t, statusErr.Body, "No thread found")
}

func TestCreateRun_CarriesConfig(t *testing.T) {
	var gotBody map[string]any
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_, _ = w.Write([]byte(`{"id":"run_1","status":"queued"}`))
	}))

	id, err := c.CreateRun(context.Background(), "thread_abc", domain.RunConfig{
		AssistantID:  "asst_1",
		Model:        "gpt-4o-mini",
		Instructions: "JSON only",
		FileSearch:   true,
	})
	require.NoError(t, err)
	require.Equal(t, "run_1", id)
	require.Equal(t, "asst_1", gotBody["assistant_id"])
	require.Equal(t, "gpt-4o-mini", gotBody["model"])
	require.Equal(t, "JSON only", gotBody["instructions"])
	require.Equal(t, []any{map[string]any{"type": "file_search"}}, gotBody["tools"])
}

func TestCreateRun_OmitsToolsWithoutFileSearch(t *testing.T) {
	var gotBody map[string]any
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_, _ = w.Write([]byte(`{"id":"run_1","status":"queued"}`))
	}))

	_, err := c.CreateRun(context.Background(), "thread_abc", domain.RunConfig{AssistantID: "asst_1"})
	require.NoError(t, err)
	require.NotContains(t, gotBody, "tools")
	require.NotContains(t, gotBody, "model")
}

func TestCreateRun_RequiresAssistantID(t *testing.T) {
	c, _ := newTestClient(t, http.NotFoundHandler())
	_, err := c.CreateRun(context.Background(), "thread_abc", domain.RunConfig{})
	require.ErrorContains(t, err, "assistant id")
}

func TestGetRun_MapsStatusAndLastError(t *testing.T) {
	var gotPath string
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_, _ = w.Write([]byte(`{"id":"run_1","status":"failed","last_error":{"code":"server_error","message":"model overloaded"}}`))
	}))

	state, err := c.GetRun(context.Background(), "thread_abc", "run_1")
	require.NoError(t, err)
	require.Equal(t, "/v1/threads/thread_abc/runs/run_1", gotPath)
	require.Equal(t, domain.RunFailed, state.Status)
	require.Equal(t, "model overloaded", state.LastError)
}

func TestGetRun_RateLimited(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))

	_, err := c.GetRun(context.Background(), "thread_abc", "run_1")
	require.Error(t, err)
	require.True(t, IsRateLimited(err))
}

func TestListMessages_ReducesToRoleAndText(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{
			"data": [
				{"role":"assistant","content":[{"type":"text","text":{"value":"the answer"}}]},
				{"role":"user","content":[{"type":"text","text":{"value":"the question"}}]},
				{"role":"assistant","content":[{"type":"image_file"},{"type":"text","text":{"value":"older answer"}}]}
			]
		}`))
	}))

	msgs, err := c.ListMessages(context.Background(), "thread_abc")
	require.NoError(t, err)
	require.Equal(t, []domain.ThreadMessage{
		{Role: "assistant", Content: "the answer"},
		{Role: "user", Content: "the question"},
		{Role: "assistant", Content: "older answer"},
	}, msgs)
}

func TestListMessages_EmptyThreadID(t *testing.T) {
	c, _ := newTestClient(t, http.NotFoundHandler())
	_, err := c.ListMessages(context.Background(), "")
	require.Error(t, err)
}
