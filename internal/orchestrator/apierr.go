package orchestrator

import (
	"encoding/json"
	"net/http"

	"github.com/archive-ai/orchestrator/internal/logging"
)

// kind is the error taxonomy of spec.md §7 — named by what went wrong, not
// by Go type, so every handler maps to exactly one of these before writing
// a response.
type kind int

const (
	kindValidation kind = iota
	kindNotFound
	kindModelUnavailable
	kindKVUnavailable
	kindSandboxUnavailable
	kindInternal
)

// apiError carries a kind plus a human-readable, recovery-oriented message
// (spec.md §7: "includes specific recovery steps").
type apiError struct {
	Kind    kind
	Message string
}

func (e *apiError) Error() string { return e.Message }

func errValidation(msg string) *apiError { return &apiError{Kind: kindValidation, Message: msg} }
func errNotFound(msg string) *apiError   { return &apiError{Kind: kindNotFound, Message: msg} }
func errModelUnavailable(msg string) *apiError {
	return &apiError{Kind: kindModelUnavailable, Message: msg}
}
func errKVUnavailable(msg string) *apiError { return &apiError{Kind: kindKVUnavailable, Message: msg} }
func errSandboxUnavailable(msg string) *apiError {
	return &apiError{Kind: kindSandboxUnavailable, Message: msg}
}
func errInternal(msg string) *apiError { return &apiError{Kind: kindInternal, Message: msg} }

func (k kind) status() int {
	switch k {
	case kindValidation:
		return http.StatusBadRequest
	case kindNotFound:
		return http.StatusNotFound
	case kindModelUnavailable, kindKVUnavailable, kindSandboxUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// detailBody is the {"detail": "..."} response shape spec.md §6.1 requires
// for every non-2xx response.
type detailBody struct {
	Detail    string `json:"detail"`
	RequestID string `json:"request_id,omitempty"`
}

// writeError renders err as a JSON error body with the status code implied
// by its kind, attaching the request id carried by ctx for Internal errors
// (spec.md §7: "a structured 500 with a request id").
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	ae, ok := err.(*apiError)
	if !ok {
		ae = errInternal(err.Error())
	}
	reqID := logging.RequestID(r.Context())
	logging.FromContext(r.Context()).Error().Err(ae).Int("status", ae.Kind.status()).Msg("request_failed")

	body := detailBody{Detail: recoveryMessage(ae)}
	if ae.Kind == kindInternal {
		body.RequestID = reqID
	}
	writeJSON(w, ae.Kind.status(), body)
}

// recoveryMessage appends recovery guidance per spec.md §7's policy table.
func recoveryMessage(ae *apiError) string {
	switch ae.Kind {
	case kindModelUnavailable:
		return ae.Message + " (check the configured engine's health endpoint and restart it if unreachable)"
	case kindKVUnavailable:
		return ae.Message + " (check the Redis/KV connection and restart it if unreachable)"
	case kindSandboxUnavailable:
		return ae.Message + " (check the sandbox service's health endpoint and restart it if unreachable)"
	case kindInternal:
		return "internal error — see server logs for the request id above"
	default:
		return ae.Message
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
