package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/archive-ai/orchestrator/internal/logging"
)

// sandboxClient is a minimal HTTP client satisfying both tools.Sandbox and
// agent.Sandbox (identical Execute signature by design), used by handlers
// that need a sandbox collaborator outside of the CodeExecution tool's own
// internal client.
type sandboxClient struct {
	baseURL string
	client  *http.Client
}

func httpSandboxClient(baseURL string) sandboxClient {
	return sandboxClient{baseURL: baseURL, client: &http.Client{Timeout: 15 * time.Second}}
}

// sandboxResponse mirrors the teacher's CodeEvalResponse shape
// (internal/codeeval/codeeval.go): the executed text comes back in result,
// not output.
type sandboxResponse struct {
	Status string `json:"status"`
	Result string `json:"result"`
	Error  string `json:"error,omitempty"`
}

func (s sandboxClient) Execute(ctx context.Context, code string, vars map[string]any) (string, string, error) {
	payload := map[string]any{"code": code}
	if len(vars) > 0 {
		payload["context"] = vars
	}
	body, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/execute", bytes.NewReader(body))
	if err != nil {
		return "", "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()
	var parsed sandboxResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", "", err
	}
	out := parsed.Result
	if out == "" && parsed.Error != "" {
		out = parsed.Error
	}
	return out, parsed.Status, nil
}

// writeWarn logs a non-fatal handler-path failure without aborting the
// response already in flight.
func writeWarn(r *http.Request, event string, err error) {
	logging.FromContext(r.Context()).Warn().Err(err).Msg(event)
}
