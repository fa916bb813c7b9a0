package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/archive-ai/orchestrator/internal/config"
	"github.com/archive-ai/orchestrator/internal/embedding"
	"github.com/archive-ai/orchestrator/internal/kvstore"
	"github.com/archive-ai/orchestrator/internal/llm"
	"github.com/archive-ai/orchestrator/internal/memory"
	"github.com/archive-ai/orchestrator/internal/persona"
	"github.com/archive-ai/orchestrator/internal/stream"
)

const fakeChatCompletion = `{
	"id": "chatcmpl-test",
	"object": "chat.completion",
	"created": 1700000000,
	"model": "fast-model",
	"choices": [{"index": 0, "message": {"role": "assistant", "content": "Hello from fast"}, "finish_reason": "stop"}],
	"usage": {"prompt_tokens": 1, "completion_tokens": 2, "total_tokens": 3}
}`

// newTestApp wires a full App against miniredis and a fake OpenAI-compatible
// engine that answers every request (chat completions and /health alike)
// with a fixed 200 response, so handler tests exercise real collaborators
// end-to-end rather than mocks of App's own fields.
func newTestApp(t *testing.T) (*App, *httptest.Server) {
	t.Helper()
	engineSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(fakeChatCompletion))
	}))
	t.Cleanup(engineSrv.Close)

	mr := miniredis.RunT(t)
	kv, err := kvstore.New(context.Background(), mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close() })

	cfg := config.Config{
		DataPath:      t.TempDir(),
		Fast:          config.EngineConfig{BaseURL: engineSrv.URL, Model: "fast-model"},
		Sandbox:       config.SandboxConfig{BaseURL: ""},
		Archive:       config.ArchiveConfig{Enabled: false},
		MaxTokens:     512,
		MaxAgentSteps: 5,
	}

	engines := &llm.Engines{Fast: llm.New("fast", cfg.Fast)}
	memories := memory.New(kv, embedding.Fake{Dim: 4})
	appender := stream.NewAppender(kv, cfg)
	personas, err := persona.New(cfg.DataPath)
	require.NoError(t, err)

	app := NewApp(cfg, engines, kv, memories, appender, personas, nil)
	return app, engineSrv
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestApp_HealthReportsDegradedWithoutDeepEngine(t *testing.T) {
	app, _ := newTestApp(t)
	rec := doJSON(t, app.Router(), http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var report HealthReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	require.Equal(t, "degraded", report.Status)
}

func TestApp_ChatHelpIntentBypassesLLM(t *testing.T) {
	app, _ := newTestApp(t)
	rec := doJSON(t, app.Router(), http.MethodPost, "/chat", chatRequest{Message: "help"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp chatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "inline", resp.Engine)
	require.Contains(t, resp.Response, "chain-of-verification")
}

func TestApp_ChatDefaultIntentCallsEngine(t *testing.T) {
	app, _ := newTestApp(t)
	rec := doJSON(t, app.Router(), http.MethodPost, "/chat", chatRequest{Message: "what is the weather like"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp chatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "Hello from fast", resp.Response)
	require.Equal(t, "fast", resp.Engine)
}

func TestApp_ChatRejectsEmptyMessage(t *testing.T) {
	app, _ := newTestApp(t)
	rec := doJSON(t, app.Router(), http.MethodPost, "/chat", chatRequest{Message: "   "})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestApp_MemoriesListEmptyStore(t *testing.T) {
	app, _ := newTestApp(t)
	rec := doJSON(t, app.Router(), http.MethodGet, "/memories", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp memoriesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 0, resp.Total)
	require.Empty(t, resp.Memories)
}

func TestApp_MemoryGetNotFound(t *testing.T) {
	app, _ := newTestApp(t)
	rec := doJSON(t, app.Router(), http.MethodGet, "/memories/does-not-exist", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestApp_MemoriesRoundTripStoreSearchDelete(t *testing.T) {
	app, _ := newTestApp(t)
	ctx := context.Background()
	id, err := app.memories.StoreEntry(ctx, memory.Entry{Message: "the launch is on Friday", Embedding: []float32{0.1, 0.2, 0.3, 0.4}})
	require.NoError(t, err)

	rec := doJSON(t, app.Router(), http.MethodPost, "/memories/search", memoriesSearchRequest{Query: "launch"})
	require.Equal(t, http.StatusOK, rec.Code)
	var searchResp memoriesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &searchResp))
	require.NotEmpty(t, searchResp.Memories)

	rec = doJSON(t, app.Router(), http.MethodGet, "/memories/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, app.Router(), http.MethodDelete, "/memories/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, app.Router(), http.MethodGet, "/memories/"+id, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestApp_VerifyEndpointReturnsTrace(t *testing.T) {
	app, _ := newTestApp(t)
	rec := doJSON(t, app.Router(), http.MethodPost, "/verify", verifyRequest{Message: "what year is it"})
	require.Equal(t, http.StatusOK, rec.Code)

	var trace map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &trace))
	require.Contains(t, trace, "final_response")
}

func TestApp_AgentEndpointExhaustsStepsOnUnparsableEngineReplies(t *testing.T) {
	app, _ := newTestApp(t)
	rec := doJSON(t, app.Router(), http.MethodPost, "/agent", agentRequest{Question: "what is 2+2", MaxSteps: 2})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp agentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	// The fake engine always replies with a bare sentence, never an Action
	// line, so every turn is unparsable: the loop should record an error
	// observation per step and run out the step budget rather than treating
	// the raw reply as a Final Answer.
	require.Len(t, resp.Steps, 2)
	for _, step := range resp.Steps {
		require.False(t, step.ToolOK)
		require.Contains(t, step.Observation, "Error:")
	}
	require.False(t, resp.Success)
}

func TestApp_CodeAssistEndpoint(t *testing.T) {
	app, _ := newTestApp(t)
	rec := doJSON(t, app.Router(), http.MethodPost, "/code_assist", codeAssistRequest{Task: "add two numbers", MaxAttempts: 1})
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestApp_ArchiveOldMemoriesEndpoint(t *testing.T) {
	app, _ := newTestApp(t)
	rec := doJSON(t, app.Router(), http.MethodPost, "/admin/archive_old_memories", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp archiveResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 0, resp.ArchivedCount)
}

func TestApp_MetricsEndpointWithoutCollectorSamples(t *testing.T) {
	app, _ := newTestApp(t)
	rec := doJSON(t, app.Router(), http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp metricsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, Version, resp.Version)
}
