package orchestrator

import (
	"net/http"
	"sync"

	"github.com/google/uuid"

	"github.com/archive-ai/orchestrator/internal/agent"
)

// askLLMRegistry is the host side of RecursiveLMTool's callback (spec.md
// §4.4.3 / §9's "ask_llm uses a separate connection" note): the sandbox
// service calls POST /internal/ask_llm/{token} mid-execution, blocking on
// the response the way a synchronous call would, while the host satisfies it
// with its own chat-completion round trip.
type askLLMRegistry struct {
	mu        sync.Mutex
	callbacks map[string]agent.AskLLMFunc
}

func newAskLLMRegistry() *askLLMRegistry {
	return &askLLMRegistry{callbacks: make(map[string]agent.AskLLMFunc)}
}

// Register satisfies agent.CallbackRegistrar.
func (reg *askLLMRegistry) Register(fn agent.AskLLMFunc) (string, func()) {
	token := uuid.NewString()
	reg.mu.Lock()
	reg.callbacks[token] = fn
	reg.mu.Unlock()
	return token, func() {
		reg.mu.Lock()
		delete(reg.callbacks, token)
		reg.mu.Unlock()
	}
}

func (reg *askLLMRegistry) lookup(token string) (agent.AskLLMFunc, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	fn, ok := reg.callbacks[token]
	return fn, ok
}

type askLLMCallbackRequest struct {
	Prompt string `json:"prompt"`
}

type askLLMCallbackResponse struct {
	Response string `json:"response"`
}

// handleAskLLMCallback is the sandbox-facing endpoint a RecursiveLM
// execution's injected ask_llm builtin calls into. A token resolves to
// exactly one in-flight RecursiveLMTool.AskLLM and is retired when that
// Execute call returns, so stale or replayed tokens are rejected.
func (a *App) handleAskLLMCallback(w http.ResponseWriter, r *http.Request) {
	token := r.PathValue("token")
	fn, ok := a.askLLM.lookup(token)
	if !ok {
		writeError(w, r, errNotFound("unknown or expired ask_llm callback token"))
		return
	}
	var req askLLMCallbackRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	text, err := fn(r.Context(), req.Prompt)
	if err != nil {
		writeError(w, r, errModelUnavailable("ask_llm failed: "+err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, askLLMCallbackResponse{Response: text})
}
