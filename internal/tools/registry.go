// Package tools implements C4's tool registry: a set of string-in/
// string-out tools the ReAct agent can invoke, plus the pre-execution code
// validator. Grounded on the teacher's internal/agent registry.go for the
// threadsafe, lazily-populated registry shape, generalized from a typed
// args-map Execute to the spec's stringInput->stringOutput contract.
package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Tool is a named capability the ReAct agent can invoke. Invoke never
// returns a Go error: invalid input is reported as a descriptive string
// (spec.md §4.4.1 — "input validation is a contract of the tool ... never a
// raised error") so the agent loop can feed it straight back as an
// observation.
type Tool interface {
	Name() string
	Description() string
	Invoke(ctx context.Context, input string) string
}

// Registry is a threadsafe collection of tools, keyed by a case-insensitive
// name so the ReAct parser's tolerant tool-name matching (spec.md §4.4.3)
// always resolves.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: map[string]Tool{}}
}

// Register adds or replaces a tool.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[strings.ToLower(t.Name())] = t
}

// Get resolves a tool by name, case-insensitively.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[strings.ToLower(strings.TrimSpace(name))]
	return t, ok
}

// Invoke dispatches to a named tool, returning a descriptive error string
// (not a Go error) if the tool is unknown, matching every tool's own
// no-raised-errors contract.
func (r *Registry) Invoke(ctx context.Context, name, input string) string {
	t, ok := r.Get(name)
	if !ok {
		return fmt.Sprintf("Error: unknown tool %q", name)
	}
	return t.Invoke(ctx, input)
}

// Summary renders a "name: description" line per tool, sorted by name, for
// inclusion in the ReAct system prompt.
func (r *Registry) Summary() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for _, t := range r.tools {
		names = append(names, t.Name())
	}
	sort.Strings(names)
	var b strings.Builder
	for _, n := range names {
		t, _ := r.Get(n)
		fmt.Fprintf(&b, "%s: %s\n", t.Name(), t.Description())
	}
	return b.String()
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for _, t := range r.tools {
		names = append(names, t.Name())
	}
	sort.Strings(names)
	return names
}
