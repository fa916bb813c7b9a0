package agent

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/archive-ai/orchestrator/internal/llm"
	"github.com/archive-ai/orchestrator/internal/tools"
)

const defaultAskLLMCap = 50

// AskLLMFunc is the signature RecursiveLMTool.AskLLM exposes to a
// CallbackRegistrar, kept as a standalone type so orchestrator-side code can
// reference it without importing the concrete tool.
type AskLLMFunc func(ctx context.Context, prompt string) (string, error)

// CallbackRegistrar hands AskLLM a reachable address: Register publishes fn
// under a fresh single-use token and returns a release func to retire it.
// spec.md §4.4.3's "ask_llm uses a separate connection" reentrancy note
// implies the sandbox calls back into the host mid-execution rather than
// receiving an inline function value (which JSON cannot carry); the
// orchestrator satisfies this interface with an HTTP-backed token registry
// and exposes the address via the /execute context map.
type CallbackRegistrar interface {
	Register(fn AskLLMFunc) (token string, release func())
}

// RecursiveLMTool specializes CodeExecution by injecting a CORPUS variable
// and an ask_llm callback into the sandbox namespace (spec.md §4.4.3's
// "Recursive Language Model tool"). The callback's recursion depth is
// bounded by a per-request counter, independent of the outer ReAct loop's
// own iteration cap.
type RecursiveLMTool struct {
	llm       Chatter
	model     string
	validator *tools.Validator
	sandbox   tools.Sandbox
	corpus    string
	askCap    int32
	askCalls  int32

	registrar    CallbackRegistrar
	callbackBase string
}

// NewRecursiveLMTool builds a RecursiveLMTool bound to one request's corpus.
// askCap defaults to 50 when <= 0 (spec.md's default cap). registrar and
// callbackBase may be left zero-valued (nil, "") to run without a reachable
// ask_llm callback — CORPUS injection still works, but sandboxed code
// calling ask_llm will find nothing listening.
func NewRecursiveLMTool(client Chatter, model string, validator *tools.Validator, sandbox tools.Sandbox, corpus string, askCap int, registrar CallbackRegistrar, callbackBase string) *RecursiveLMTool {
	if askCap <= 0 {
		askCap = defaultAskLLMCap
	}
	return &RecursiveLMTool{
		llm: client, model: model, validator: validator, sandbox: sandbox, corpus: corpus, askCap: int32(askCap),
		registrar: registrar, callbackBase: callbackBase,
	}
}

func (*RecursiveLMTool) Name() string { return "RecursiveLM" }
func (*RecursiveLMTool) Description() string {
	return "Executes code with access to a CORPUS variable and an ask_llm(prompt) callback for sub-questions."
}

// Invoke validates the submitted code, registers AskLLM under a fresh token
// via registrar, then executes in the sandbox with CORPUS and the token's
// callback URL passed through /execute's context map. The token is released
// once Execute returns, successfully or not.
func (t *RecursiveLMTool) Invoke(ctx context.Context, code string) string {
	code = strings.TrimSpace(code)
	if code == "" {
		return "Error: empty code"
	}
	result := t.validator.Validate(code)
	if result.Blocked {
		return result.Error
	}
	if t.sandbox == nil {
		return "Error: recursive sandbox unavailable"
	}

	vars := map[string]any{"CORPUS": t.corpus}
	if t.registrar != nil {
		token, release := t.registrar.Register(t.AskLLM)
		defer release()
		vars["ask_llm_callback_url"] = t.callbackBase + token
	}

	output, status, err := t.sandbox.Execute(ctx, code, vars)
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

// AskLLM performs one nested chat completion, bounded by the per-request
// recursion cap. It is the Go-side implementation the sandbox's ask_llm
// binding calls into over its own connection, per spec.md's "reentrancy"
// note.
func (t *RecursiveLMTool) AskLLM(ctx context.Context, prompt string) (string, error) {
	if atomic.AddInt32(&t.askCalls, 1) > t.askCap {
		return "", fmt.Errorf("ask_llm recursion cap (%d) exceeded", t.askCap)
	}
	text, _, err := t.llm.Chat(ctx, []llm.Message{
		{Role: "user", Content: prompt},
	}, llm.ChatOptions{Model: t.model, Temperature: 0.3, MaxTokens: 512})
	return text, err
}
