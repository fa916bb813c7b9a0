package orchestrator

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/archive-ai/orchestrator/internal/agent"
	"github.com/archive-ai/orchestrator/internal/llm"
	"github.com/archive-ai/orchestrator/internal/memory"
	"github.com/archive-ai/orchestrator/internal/stream"
	"github.com/archive-ai/orchestrator/internal/tools"
)

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errValidation("malformed request body: " + err.Error())
	}
	return nil
}

// activeSystemMessage returns the active persona's system message, or ""
// if none is set — read fresh on every call per spec.md §9's "persona
// application" note (never cached across requests).
func (a *App) activeSystemMessage() string {
	if a.personas == nil {
		return ""
	}
	p, ok, err := a.personas.Active()
	if err != nil || !ok {
		return ""
	}
	return p.SystemMessage()
}

// --- /chat ---------------------------------------------------------------

type chatRequest struct {
	Message string `json:"message"`
}

type chatResponse struct {
	Response string `json:"response"`
	Engine   string `json:"engine"`
}

func (a *App) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	message := strings.TrimSpace(req.Message)
	if message == "" {
		writeError(w, r, errValidation("message must not be empty"))
		return
	}

	a.appendToStream(r, message)

	switch in := routeIntent(message); in.Name {
	case intentHelp:
		writeJSON(w, http.StatusOK, chatResponse{Response: helpResponse, Engine: "inline"})
		return
	case intentSearchMemory:
		hits, err := a.memories.Search(r.Context(), in.Query, 5, "")
		if err != nil {
			writeError(w, r, errKVUnavailable("memory search failed: "+err.Error()))
			return
		}
		if len(hits) == 0 {
			writeJSON(w, http.StatusOK, chatResponse{Response: "I couldn't find anything in memory about that.", Engine: "memory"})
			return
		}
		writeJSON(w, http.StatusOK, chatResponse{Response: renderHits(hits), Engine: "memory"})
		return
	default:
		client := a.engines.Select(false)
		msgs := a.chatMessages(message)
		text, _, err := client.Chat(r.Context(), msgs, llm.ChatOptions{Model: client.Model(), Temperature: 0.7, MaxTokens: a.cfg.MaxTokens})
		if err != nil {
			writeError(w, r, errModelUnavailable("chat completion failed: "+err.Error()))
			return
		}
		writeJSON(w, http.StatusOK, chatResponse{Response: text, Engine: client.Name()})
	}
}

// chatMessages builds the message slice for a plain chat call, prepending
// the active persona's system message when one is set.
func (a *App) chatMessages(userMessage string) []llm.Message {
	var msgs []llm.Message
	if sys := a.activeSystemMessage(); sys != "" {
		msgs = append(msgs, llm.Message{Role: "system", Content: sys})
	}
	return append(msgs, llm.Message{Role: "user", Content: userMessage})
}

// appendToStream appends message to the input stream without blocking the
// response (spec.md §4.3's append path). Append returns its error to the
// caller; callers are not expected to abort on a stream-append error, so
// this helper logs it and swallows it.
func (a *App) appendToStream(r *http.Request, message string) {
	if a.appender == nil {
		return
	}
	if err := a.appender.Append(r.Context(), stream.InputEvent{Message: message}); err != nil {
		writeWarn(r, "stream_append_failed", err)
	}
}

// --- /verify ---------------------------------------------------------------

type verifyRequest struct {
	Message string `json:"message"`
}

func (a *App) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	message := strings.TrimSpace(req.Message)
	if message == "" {
		writeError(w, r, errValidation("message must not be empty"))
		return
	}
	a.appendToStream(r, message)

	trace := a.verifyChain().Run(r.Context(), message)
	writeJSON(w, http.StatusOK, trace)
}

// --- /agent, /agent/advanced, /agent/recursive ------------------------------

type agentRequest struct {
	Question string `json:"question"`
	Corpus   string `json:"corpus,omitempty"`
	MaxSteps int    `json:"max_steps,omitempty"`
}

type agentResponse struct {
	Answer     string       `json:"answer"`
	Steps      []agent.Step `json:"steps"`
	TotalSteps int          `json:"total_steps"`
	Success    bool         `json:"success"`
}

func toAgentResponse(r agent.Result) agentResponse {
	return agentResponse{Answer: r.FinalAnswer, Steps: r.Steps, TotalSteps: len(r.Steps), Success: r.Success}
}

func (a *App) handleAgent(w http.ResponseWriter, r *http.Request) {
	a.runAgentRequest(w, r, a.basicTools, "")
}

func (a *App) handleAgentAdvanced(w http.ResponseWriter, r *http.Request) {
	a.runAgentRequest(w, r, a.advancedTools, "")
}

func (a *App) handleAgentRecursive(w http.ResponseWriter, r *http.Request) {
	var req agentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	question := strings.TrimSpace(req.Question)
	if question == "" {
		writeError(w, r, errValidation("question must not be empty"))
		return
	}

	client := a.engines.Select(false)
	registry := tools.NewRegistry()
	tools.RegisterBasic(registry)
	sandbox := httpSandboxClient(a.cfg.Sandbox.BaseURL)
	rlm := agent.NewRecursiveLMTool(client, client.Model(), a.validator, sandbox, req.Corpus, a.cfg.AskLLMRecursionCap,
		a.askLLM, a.cfg.PublicURL+"/internal/ask_llm/")
	registry.Register(rlm)

	loop := agent.NewLoop(client, registry, agent.SystemPromptFor("recursive"), req.MaxSteps, client.Model())
	result := loop.Run(r.Context(), question)
	writeJSON(w, http.StatusOK, toAgentResponse(result))
}

func (a *App) runAgentRequest(w http.ResponseWriter, r *http.Request, registry *tools.Registry, agentType string) {
	var req agentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	question := strings.TrimSpace(req.Question)
	if question == "" {
		writeError(w, r, errValidation("question must not be empty"))
		return
	}

	client := a.engines.Select(false)
	loop := agent.NewLoop(client, registry, agent.SystemPromptFor(agentType), req.MaxSteps, client.Model())
	result := loop.Run(r.Context(), question)
	writeJSON(w, http.StatusOK, toAgentResponse(result))
}

// --- /research, /research/multi ---------------------------------------------

type researchRequest struct {
	Question string `json:"question"`
	Sources  int    `json:"sources,omitempty"`
	TopK     int    `json:"top_k,omitempty"`
}

type researchResponse struct {
	Question     string   `json:"question"`
	Answer       string   `json:"answer"`
	Sources      []string `json:"sources"`
	TotalSources int      `json:"total_sources"`
}

// extractSources pulls every MemorySearch observation out of a ReAct trace,
// since "sources" for a research answer means the memory hits it actually
// consulted (spec.md's research agent "prefers MemorySearch before
// answering from general knowledge").
func extractSources(steps []agent.Step) []string {
	var sources []string
	for _, s := range steps {
		if strings.EqualFold(s.Action, "MemorySearch") && s.ToolOK {
			sources = append(sources, s.Observation)
		}
	}
	return sources
}

func (a *App) handleResearch(w http.ResponseWriter, r *http.Request) {
	var req researchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	question := strings.TrimSpace(req.Question)
	if question == "" {
		writeError(w, r, errValidation("question must not be empty"))
		return
	}

	client := a.engines.Select(false)
	newLoop := func() *agent.Loop {
		return agent.NewLoop(client, a.advancedTools, agent.SystemPromptFor("research"), a.cfg.MaxAgentSteps, client.Model())
	}
	loop := newLoop()
	result := loop.Run(r.Context(), question)
	sources := extractSources(result.Steps)

	writeJSON(w, http.StatusOK, researchResponse{
		Question:     question,
		Answer:       result.FinalAnswer,
		Sources:      sources,
		TotalSources: len(sources),
	})
}

type researchMultiRequest struct {
	Questions []string `json:"questions"`
}

type researchMultiResponse struct {
	Questions    []string               `json:"questions"`
	Results      []agent.QuestionAnswer `json:"results"`
	Synthesis    string                 `json:"synthesis"`
	TotalSources int                    `json:"total_sources"`
}

func (a *App) handleResearchMulti(w http.ResponseWriter, r *http.Request) {
	var req researchMultiRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if len(req.Questions) == 0 {
		writeError(w, r, errValidation("questions must not be empty"))
		return
	}

	client := a.engines.Select(false)
	newLoop := func() *agent.Loop {
		return agent.NewLoop(client, a.advancedTools, agent.SystemPromptFor("research"), a.cfg.MaxAgentSteps, client.Model())
	}
	result := agent.RunResearch(r.Context(), client, newLoop, req.Questions, true, client.Model())

	totalSources := 0
	for _, qa := range result.Answers {
		totalSources += len(extractSources(qa.Steps))
	}

	writeJSON(w, http.StatusOK, researchMultiResponse{
		Questions:    req.Questions,
		Results:      result.Answers,
		Synthesis:    result.Synthesis,
		TotalSources: totalSources,
	})
}

// --- /code_assist ------------------------------------------------------------

type codeAssistRequest struct {
	Task        string `json:"task"`
	MaxAttempts int    `json:"max_attempts,omitempty"`
}

func (a *App) handleCodeAssist(w http.ResponseWriter, r *http.Request) {
	var req codeAssistRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	task := strings.TrimSpace(req.Task)
	if task == "" {
		writeError(w, r, errValidation("task must not be empty"))
		return
	}

	client := a.engines.Select(false)
	sandbox := httpSandboxClient(a.cfg.Sandbox.BaseURL)
	result := agent.RunCode(r.Context(), client, sandbox, a.validator, client.Model(), task, req.MaxAttempts)
	writeJSON(w, http.StatusOK, result)
}

// --- /memories ---------------------------------------------------------------

type memoryDTO struct {
	ID            string  `json:"id"`
	Message       string  `json:"message"`
	Perplexity    float64 `json:"perplexity"`
	SurpriseScore float64 `json:"surprise_score"`
	Timestamp     float64 `json:"timestamp"`
	SessionID     string  `json:"session_id"`
	Metadata      string  `json:"metadata,omitempty"`
	EmbeddingDim  int     `json:"embedding_dim"`
}

func toMemoryDTO(e memory.Entry) memoryDTO {
	return memoryDTO{
		ID: e.ID, Message: e.Message, Perplexity: e.Perplexity, SurpriseScore: e.SurpriseScore,
		Timestamp: e.Timestamp, SessionID: e.SessionID, Metadata: e.Metadata, EmbeddingDim: len(e.Embedding),
	}
}

type memoriesResponse struct {
	Memories []memoryDTO `json:"memories"`
	Total    int         `json:"total"`
}

func (a *App) handleMemoriesList(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	entries, err := a.memories.List(r.Context(), limit, offset)
	if err != nil {
		writeError(w, r, errKVUnavailable("list memories failed: "+err.Error()))
		return
	}
	total, err := a.memories.Count(r.Context())
	if err != nil {
		writeError(w, r, errKVUnavailable("count memories failed: "+err.Error()))
		return
	}

	dtos := make([]memoryDTO, 0, len(entries))
	for _, e := range entries {
		dtos = append(dtos, toMemoryDTO(e))
	}
	writeJSON(w, http.StatusOK, memoriesResponse{Memories: dtos, Total: total})
}

type memoriesSearchRequest struct {
	Query     string `json:"query"`
	TopK      int    `json:"top_k,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

func (a *App) handleMemoriesSearch(w http.ResponseWriter, r *http.Request) {
	var req memoriesSearchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	query := strings.TrimSpace(req.Query)
	if query == "" {
		writeError(w, r, errValidation("query must not be empty"))
		return
	}
	topK := req.TopK
	if topK <= 0 {
		topK = 5
	}

	hits, err := a.memories.Search(r.Context(), query, topK, req.SessionID)
	if err != nil {
		writeError(w, r, errKVUnavailable("memory search failed: "+err.Error()))
		return
	}
	dtos := make([]memoryDTO, 0, len(hits))
	for _, h := range hits {
		dtos = append(dtos, toMemoryDTO(h.Entry))
	}
	writeJSON(w, http.StatusOK, memoriesResponse{Memories: dtos, Total: len(dtos)})
}

func (a *App) handleMemoryGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	entry, ok, err := a.memories.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, errKVUnavailable("get memory failed: "+err.Error()))
		return
	}
	if !ok {
		writeError(w, r, errNotFound("memory "+id+" not found"))
		return
	}
	writeJSON(w, http.StatusOK, toMemoryDTO(entry))
}

type deleteResponse struct {
	Status string `json:"status"`
	ID     string `json:"id"`
}

func (a *App) handleMemoryDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok, err := a.memories.Get(r.Context(), id); err != nil {
		writeError(w, r, errKVUnavailable("get memory failed: "+err.Error()))
		return
	} else if !ok {
		writeError(w, r, errNotFound("memory "+id+" not found"))
		return
	}
	if err := a.memories.Delete(r.Context(), id); err != nil {
		writeError(w, r, errKVUnavailable("delete memory failed: "+err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, deleteResponse{Status: "deleted", ID: id})
}

// --- /health, /metrics, /admin/archive_old_memories --------------------------

func (a *App) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.health.Report(r.Context()))
}

type systemStats struct {
	CPUPercent float64 `json:"cpu_percent"`
	RSSBytes   uint64  `json:"rss_bytes"`
}

type memoryStats struct {
	Count int `json:"count"`
}

type metricsResponse struct {
	UptimeSeconds float64                  `json:"uptime_seconds"`
	System        systemStats              `json:"system"`
	MemoryStats   memoryStats              `json:"memory_stats"`
	Services      map[string]serviceStatus `json:"services"`
	Version       string                   `json:"version"`
}

func (a *App) handleMetrics(w http.ResponseWriter, r *http.Request) {
	samples := a.Collector.Latest()
	resp := metricsResponse{
		UptimeSeconds: a.Collector.Uptime().Seconds(),
		Version:       Version,
	}
	if len(samples) > 0 {
		latest := samples[len(samples)-1]
		resp.System = systemStats{CPUPercent: latest.CPUPercent, RSSBytes: latest.RSSBytes}
		resp.MemoryStats = memoryStats{Count: latest.MemoryCount}
		resp.Services = latest.Services
	} else {
		resp.Services = a.health.Report(r.Context()).Services
		if n, err := a.memories.Count(r.Context()); err == nil {
			resp.MemoryStats = memoryStats{Count: n}
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type archiveResponse struct {
	ArchivedCount int `json:"archived_count"`
}

func (a *App) handleArchiveOldMemories(w http.ResponseWriter, r *http.Request) {
	n, err := a.Archival.Sweep(r.Context())
	if err != nil {
		writeError(w, r, errInternal("archive sweep failed: "+err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, archiveResponse{ArchivedCount: n})
}

// --- shared helpers ------------------------------------------------------

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
