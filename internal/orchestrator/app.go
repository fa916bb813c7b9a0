// Package orchestrator implements C6: the HTTP API surface, persona
// injection, intent routing for /chat, the archival worker, the metrics
// collector, and the health aggregator, grounded on the teacher's bare
// http.ServeMux router (internal/agentd/router.go) rather than a web
// framework.
package orchestrator

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/archive-ai/orchestrator/internal/agent"
	"github.com/archive-ai/orchestrator/internal/config"
	"github.com/archive-ai/orchestrator/internal/kvstore"
	"github.com/archive-ai/orchestrator/internal/llm"
	"github.com/archive-ai/orchestrator/internal/memory"
	"github.com/archive-ai/orchestrator/internal/persona"
	"github.com/archive-ai/orchestrator/internal/stream"
	"github.com/archive-ai/orchestrator/internal/tools"
	"github.com/archive-ai/orchestrator/internal/verify"
	"github.com/archive-ai/orchestrator/internal/version"
)

// Version is the build version surfaced in /metrics, overridable at link
// time via -ldflags "-X .../internal/version.Version=<version>".
var Version = version.Version

// App wires every collaborator the HTTP handlers need. It holds exactly the
// long-lived singletons spec.md §9 calls for: one LLM engine pair, one KV
// handle, one memory store, one tool registry per agent variant, one
// persona store, plus the background workers' handles for lifecycle
// control.
type App struct {
	cfg        config.Config
	engines    *llm.Engines
	kv         *kvstore.Store
	memories   *memory.Store
	appender   *stream.Appender
	personas   *persona.Store
	sandboxURL string

	basicTools    *tools.Registry
	advancedTools *tools.Registry
	validator     *tools.Validator
	askLLM        *askLLMRegistry

	health    *healthAggregator
	Collector *Collector
	Archival  *ArchivalWorker
	Worker    *stream.Worker
}

// NewApp assembles the App from already-constructed collaborators (wiring
// happens in cmd/orchestrator/main.go; App itself does no I/O at
// construction time besides building the tool registries).
func NewApp(
	cfg config.Config,
	engines *llm.Engines,
	kv *kvstore.Store,
	memories *memory.Store,
	appender *stream.Appender,
	personas *persona.Store,
	worker *stream.Worker,
) *App {
	basic := tools.NewRegistry()
	tools.RegisterBasic(basic)

	advanced := tools.NewRegistry()
	validator := tools.NewValidator()
	tools.RegisterAdvanced(advanced, memorySearchAdapter{memories}, cfg.Sandbox.BaseURL, validator)

	a := &App{
		cfg:           cfg,
		engines:       engines,
		kv:            kv,
		memories:      memories,
		appender:      appender,
		personas:      personas,
		sandboxURL:    cfg.Sandbox.BaseURL,
		basicTools:    basic,
		advancedTools: advanced,
		validator:     validator,
		askLLM:        newAskLLMRegistry(),
		Worker:        worker,
	}

	a.health = newHealthAggregator(engines.Fast, engineOrNil(engines.Deep), a.kvPing, cfg.Sandbox.BaseURL)
	a.Collector = NewCollector(kv, a.health, memories.Count)
	a.Archival = NewArchivalWorker(memories, cfg.Archive, cfg.DataPath)
	return a
}

// engineOrNil returns nil as an EngineHealth interface value when c is nil,
// so the "deep engine not configured" branch in healthAggregator sees a
// true nil interface rather than a non-nil interface wrapping a nil *Client.
func engineOrNil(c *llm.Client) EngineHealth {
	if c == nil {
		return nil
	}
	return c
}

func (a *App) kvPing(ctx context.Context) error {
	return a.kv.Client().Ping(ctx).Err()
}

// memorySearchAdapter adapts *memory.Store's ([]Hit, error) search result
// into tools.MemorySearcher's narrower (string, error) contract — the
// adapter anticipated when internal/tools/advanced.go was first written.
type memorySearchAdapter struct {
	store *memory.Store
}

func (m memorySearchAdapter) Search(ctx context.Context, queryText string, topK int, sessionFilter string) (string, error) {
	hits, err := m.store.Search(ctx, queryText, topK, sessionFilter)
	if err != nil {
		return "", err
	}
	if len(hits) == 0 {
		return "No relevant memories found.", nil
	}
	return renderHits(hits), nil
}

func renderHits(hits []memory.Hit) string {
	var b strings.Builder
	for i, h := range hits {
		fmt.Fprintf(&b, "[%d] (similarity %.3f) %s\n", i+1, h.Similarity, h.Entry.Message)
	}
	return b.String()
}

// Router returns the fully-wired http.Handler for the orchestrator's HTTP
// API (spec.md §6.1), with request-id middleware applied.
func (a *App) Router() http.Handler {
	return withRequestID(a.newMux())
}

func (a *App) newAgentLoop(registry *tools.Registry, agentType string, maxSteps int) *agent.Loop {
	client := a.engines.Select(false)
	return agent.NewLoop(client, registry, agent.SystemPromptFor(agentType), maxSteps, client.Model())
}

func (a *App) verifyChain() *verify.Chain {
	client := a.engines.Select(false)
	return verify.NewChain(client, client.Model())
}
