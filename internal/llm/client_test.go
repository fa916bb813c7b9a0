package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archive-ai/orchestrator/internal/config"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := New("fast", config.EngineConfig{BaseURL: srv.URL, Model: "test-model"})
	return c, srv
}

func TestClient_Chat(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id": "1", "object": "chat.completion",
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]string{"role": "assistant", "content": "hello there"},
				"finish_reason": "stop",
			}},
			"usage": map[string]int{"prompt_tokens": 3, "completion_tokens": 2, "total_tokens": 5},
		})
	})

	text, usage, err := c.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}}, ChatOptions{Temperature: 0.2, MaxTokens: 16})
	require.NoError(t, err)
	assert.Equal(t, "hello there", text)
	assert.Equal(t, 5, usage.TotalTokens)
}

func TestClient_CompleteEchoLogprobs(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/completions", r.URL.Path)
		var req legacyCompletionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.Echo)
		_ = json.NewEncoder(w).Encode(legacyCompletionResponse{
			Choices: []legacyChoice{{
				Text: req.Prompt,
				Logprobs: &legacyLogprobs{
					TokenLogprobs: []float64{-0.1, -2.3, -0.05},
				},
				FinishReason: "stop",
			}},
		})
	})

	lps, err := c.Logprobs(context.Background(), "the quick fox")
	require.NoError(t, err)
	assert.Len(t, lps, 3)
}

func TestClient_CompleteUpstreamError(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]string{"message": "backend overloaded"},
		})
	})

	_, _, err := c.Complete(context.Background(), "prompt", CompleteOptions{MaxTokens: 8})
	require.Error(t, err)
	var uerr *UnavailableError
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, http.StatusBadGateway, uerr.StatusCode)
}

func TestClient_Health(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	})
	require.NoError(t, c.Health(context.Background()))
}

func TestClient_HealthDown(t *testing.T) {
	c := New("fast", config.EngineConfig{BaseURL: "http://127.0.0.1:1", Model: "m"})
	err := c.Health(context.Background())
	require.Error(t, err)
	var uerr *UnavailableError
	require.ErrorAs(t, err, &uerr)
}

func TestEngines_SelectFallsBackWithoutDeep(t *testing.T) {
	e := &Engines{Fast: New("fast", config.EngineConfig{BaseURL: "http://fast"})}
	assert.Same(t, e.Fast, e.Select(true))
	assert.Same(t, e.Fast, e.Select(false))
}
