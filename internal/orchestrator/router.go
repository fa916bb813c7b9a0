package orchestrator

import "net/http"

// newMux builds the orchestrator's HTTP API surface (spec.md §6.1), using
// the Go 1.22+ enhanced http.ServeMux (method-prefixed patterns and
// {wildcard} path values) rather than a third-party router — grounded on
// the teacher's internal/agentd/router.go preference for a bare ServeMux,
// updated to the newer stdlib routing surface the teacher's own repo
// predates.
func (a *App) newMux() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /chat", a.handleChat)
	mux.HandleFunc("POST /verify", a.handleVerify)
	mux.HandleFunc("POST /agent", a.handleAgent)
	mux.HandleFunc("POST /agent/advanced", a.handleAgentAdvanced)
	mux.HandleFunc("POST /agent/recursive", a.handleAgentRecursive)
	mux.HandleFunc("POST /research", a.handleResearch)
	mux.HandleFunc("POST /research/multi", a.handleResearchMulti)
	mux.HandleFunc("POST /code_assist", a.handleCodeAssist)

	mux.HandleFunc("POST /internal/ask_llm/{token}", a.handleAskLLMCallback)

	mux.HandleFunc("GET /memories", a.handleMemoriesList)
	mux.HandleFunc("POST /memories/search", a.handleMemoriesSearch)
	mux.HandleFunc("GET /memories/{id}", a.handleMemoryGet)
	mux.HandleFunc("DELETE /memories/{id}", a.handleMemoryDelete)

	mux.HandleFunc("GET /health", a.handleHealth)
	mux.HandleFunc("GET /metrics", a.handleMetrics)
	mux.HandleFunc("POST /admin/archive_old_memories", a.handleArchiveOldMemories)

	return mux
}
