// Package llm implements the orchestrator's unified client for the fast and
// deep OpenAI-compatible inference engines (spec.md C1). Chat is backed by
// the openai-go SDK (grounded on the teacher's internal/llm/openai_client.go);
// Complete/Logprobs talk the legacy /v1/completions shape directly over
// HTTP (grounded on the teacher's internal/llm/completions.go), since local
// engines expose echo+logprobs only on that endpoint and the SDK's chat
// resource has no equivalent.
package llm

import "time"

// Message is a single chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatOptions configures a Chat call.
type ChatOptions struct {
	Model       string
	Temperature float64
	MaxTokens   int
}

// Usage mirrors the OpenAI-compatible usage block.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// CompleteOptions configures a Complete call.
type CompleteOptions struct {
	Model       string
	Temperature float64
	MaxTokens   int
	Echo        bool
	Logprobs    int
}

const (
	defaultTimeout    = 60 * time.Second
	defaultMaxRetries = 3
	defaultBackoff    = 500 * time.Millisecond
)
