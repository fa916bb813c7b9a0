package llm

import "github.com/archive-ai/orchestrator/internal/config"

// Engines bundles the two named clients the rest of the orchestrator depends
// on. Deep is nil when no deep engine was configured; callers must treat
// that as "permanently degraded" rather than dereference it.
type Engines struct {
	Fast *Client
	Deep *Client
}

// NewEngines builds the Fast (always present) and Deep (optional) clients
// from config.
func NewEngines(cfg config.Config) *Engines {
	e := &Engines{Fast: New("fast", cfg.Fast)}
	if cfg.HasDeepEngine() {
		e.Deep = New("deep", cfg.Deep)
	}
	return e
}

// Select returns Deep if requested and configured, otherwise Fast. This is
// the single place callers ask "which engine should serve this request",
// implementing the deep-engine fallback tolerance from spec.md §9.
func (e *Engines) Select(wantDeep bool) *Client {
	if wantDeep && e.Deep != nil {
		return e.Deep
	}
	return e.Fast
}
