package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const maxCodeInputLen = 5000

// MemorySearcher is the slice of memory.Store the MemorySearch tool depends
// on (named narrowly so tests don't need a real vector store).
type MemorySearcher interface {
	Search(ctx context.Context, queryText string, topK int, sessionFilter string) (string, error)
}

// RegisterAdvanced registers the basic tool set plus MemorySearch,
// CodeExecution, DateTime, JSON, and WebSearch (spec.md §4.4.1's "Advanced
// (basic ∪)" set).
func RegisterAdvanced(r *Registry, searcher MemorySearcher, sandboxURL string, validator *Validator) {
	RegisterBasic(r)
	r.Register(memorySearchTool{searcher: searcher})
	r.Register(codeExecutionTool{sandboxURL: sandboxURL, validator: validator})
	r.Register(dateTimeTool{})
	r.Register(jsonTool{})
	r.Register(webSearchTool{})
}

type memorySearchTool struct {
	searcher MemorySearcher
}

func (memorySearchTool) Name() string { return "MemorySearch" }
func (memorySearchTool) Description() string {
	return "Searches long-term memory for relevant context."
}
func (t memorySearchTool) Invoke(ctx context.Context, input string) string {
	input, ok := capped(strings.TrimSpace(input))
	if !ok {
		return "Error: input too long for MemorySearch"
	}
	if input == "" {
		return "Error: empty query"
	}
	if t.searcher == nil {
		return "Error: memory search unavailable"
	}
	out, err := t.searcher.Search(ctx, input, 3, "")
	if err != nil {
		return "Error: " + err.Error()
	}
	return out
}

// Sandbox is the slice of an HTTP code-execution collaborator. vars carries
// the optional `context` variable map spec.md §6.2 lets /execute accept
// (e.g. the RecursiveLM tool's CORPUS binding); a nil/empty map omits the
// field from the request body entirely.
type Sandbox interface {
	Execute(ctx context.Context, code string, vars map[string]any) (output string, status string, err error)
}

type httpSandbox struct {
	baseURL string
	client  *http.Client
}

// sandboxResponse mirrors the teacher's own CodeEvalResponse shape
// (internal/codeeval/codeeval.go): the executed text comes back in result,
// not output.
type sandboxResponse struct {
	Status string `json:"status"`
	Result string `json:"result"`
	Error  string `json:"error,omitempty"`
}

func (s httpSandbox) Execute(ctx context.Context, code string, vars map[string]any) (string, string, error) {
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

type codeExecutionTool struct {
	sandboxURL string
	validator  *Validator
}

func (codeExecutionTool) Name() string { return "CodeExecution" }
func (codeExecutionTool) Description() string {
	return "Validates and executes a Python-like code snippet in a sandbox."
}

func (t codeExecutionTool) Invoke(ctx context.Context, input string) string {
	code, ok := withinLimit(input, maxCodeInputLen)
	if !ok {
		return "Error: input too long for CodeExecution"
	}
	if strings.TrimSpace(code) == "" {
		return "Error: empty code"
	}
	result := t.validator.Validate(code)
	if result.Blocked {
		return result.Error
	}
	sandbox := httpSandbox{baseURL: t.sandboxURL, client: &http.Client{Timeout: 10 * time.Second}}
	output, status, err := sandbox.Execute(ctx, code, nil)
	if err != nil {
		return "Error: sandbox request failed: " + err.Error()
	}
	prefix := ""
	if len(result.Warnings) > 0 {
		prefix = "Warning: " + strings.Join(result.Warnings, "; ") + "\n"
	}
	if status != "" && status != "success" {
		return fmt.Sprintf("%sExecution status=%s: %s", prefix, status, output)
	}
	return prefix + output
}

type dateTimeTool struct{}

func (dateTimeTool) Name() string { return "DateTime" }
func (dateTimeTool) Description() string {
	return "Returns the current date/time. Modes: now, date, time, timestamp, iso."
}
func (dateTimeTool) Invoke(_ context.Context, input string) string {
	mode := strings.ToLower(strings.TrimSpace(input))
	if mode == "" {
		mode = "now"
	}
	now := time.Now()
	switch mode {
	case "now":
		return now.Format("2006-01-02 15:04:05")
	case "date":
		return now.Format("2006-01-02")
	case "time":
		return now.Format("15:04:05")
	case "timestamp":
		return fmt.Sprintf("%d", now.Unix())
	case "iso":
		return now.Format(time.RFC3339)
	default:
		return fmt.Sprintf("Error: invalid mode %q (expected now, date, time, timestamp, or iso)", mode)
	}
}

type jsonTool struct{}

func (jsonTool) Name() string        { return "JSON" }
func (jsonTool) Description() string { return "Parses, validates, and pretty-prints JSON input." }
func (jsonTool) Invoke(_ context.Context, input string) string {
	cleaned := stripLLMWrapping(input)
	if strings.TrimSpace(cleaned) == "" {
		return "Error: empty input"
	}
	var v interface{}
	if err := json.Unmarshal([]byte(cleaned), &v); err != nil {
		return "Error: invalid JSON: " + err.Error()
	}
	pretty, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "Error: " + err.Error()
	}
	return string(pretty)
}

// stripLLMWrapping removes the code-fence and stray-quote wrapping models
// commonly add around JSON ("```json ... ```", leading/trailing backticks
// or quotes).
func stripLLMWrapping(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)
	s = strings.Trim(s, "`")
	s = strings.TrimSpace(s)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		if _, err := strconvUnquote(s); err == nil {
			s = s[1 : len(s)-1]
		}
	}
	return s
}

func strconvUnquote(s string) (string, error) {
	var out string
	err := json.Unmarshal([]byte(s), &out)
	return out, err
}

type webSearchTool struct{}

func (webSearchTool) Name() string        { return "WebSearch" }
func (webSearchTool) Description() string { return "Searches the web for information." }
func (webSearchTool) Invoke(_ context.Context, _ string) string {
	return "WebSearch is not implemented in this deployment."
}
