package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/packages/param"
	"github.com/openai/openai-go/v2/shared"

	"github.com/archive-ai/orchestrator/internal/config"
)

// UnavailableError wraps a failure to reach or get a sane answer from an
// upstream engine. Callers (notably the C6 health aggregator) type-assert
// for it to distinguish "engine down" from a caller-side bug.
type UnavailableError struct {
	Engine     string
	StatusCode int
	Err        error
}

func (e *UnavailableError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("llm: %s engine unavailable (status %d): %v", e.Engine, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("llm: %s engine unavailable: %v", e.Engine, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// Client talks to a single OpenAI-compatible engine. Chat completions go
// through the openai-go SDK (grounded on the teacher's CallLLM in
// internal/llm/openai_client.go); Complete/Logprobs bypass the SDK and speak
// the legacy /v1/completions shape directly (grounded on the teacher's
// internal/llm/completions.go), since echo+logprobs scoring for the memory
// worker's perplexity gate has no SDK equivalent.
type Client struct {
	name       string
	baseURL    string
	model      string
	apiKey     string
	httpClient *http.Client
	sdk        openai.Client
}

// isThinkingModel matches the "o<int>-*" family, which the SDK charges
// against max_completion_tokens rather than max_tokens.
func isThinkingModel(model string) bool {
	model = strings.ToLower(model)
	if !strings.HasPrefix(model, "o") {
		return false
	}
	rest := model[1:]
	i := 0
	for ; i < len(rest) && rest[i] >= '0' && rest[i] <= '9'; i++ {
	}
	return i > 0 && i < len(rest) && rest[i] == '-'
}

// New builds a Client from an engine config. A shared *http.Client backs
// both the SDK transport and the raw completions calls so connections are
// pooled across both code paths.
func New(name string, cfg config.EngineConfig) *Client {
	hc := &http.Client{Timeout: defaultTimeout}
	opts := []option.RequestOption{option.WithHTTPClient(hc)}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &Client{
		name:       name,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		model:      cfg.Model,
		apiKey:     cfg.APIKey,
		httpClient: hc,
		sdk:        openai.NewClient(opts...),
	}
}

// Name returns the engine label ("fast" or "deep") used in log fields and
// error messages.
func (c *Client) Name() string { return c.name }

// Model returns the model identifier this client was configured to serve,
// for callers (e.g. the ReAct loop, the verification chain) that need to
// pass it through ChatOptions.Model explicitly.
func (c *Client) Model() string { return c.model }

func toSDKMessages(msgs []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch strings.ToLower(m.Role) {
		case "system":
			out = append(out, openai.SystemMessage(m.Content))
		case "assistant":
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}

// Chat runs a chat completion and returns the first choice's text plus
// usage. Retries apply: chat calls are treated as idempotent (no side
// effects on the engine), per spec.md's retry contract.
func (c *Client) Chat(ctx context.Context, msgs []Message, opts ChatOptions) (string, Usage, error) {
	model := opts.Model
	if model == "" {
		model = c.model
	}
	params := openai.ChatCompletionNewParams{
		Model:       shared.ChatModel(model),
		Messages:    toSDKMessages(msgs),
		Temperature: param.NewOpt(opts.Temperature),
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	if isThinkingModel(model) {
		params.MaxCompletionTokens = param.NewOpt(int64(maxTokens))
	} else {
		params.MaxTokens = param.NewOpt(int64(maxTokens))
	}

	var text string
	var usage Usage
	err := c.withRetry(ctx, func() error {
		resp, err := c.sdk.Chat.Completions.New(ctx, params)
		if err != nil {
			return c.wrapErr(err)
		}
		if len(resp.Choices) == 0 {
			return &UnavailableError{Engine: c.name, Err: errors.New("no choices returned")}
		}
		text = resp.Choices[0].Message.Content
		usage = Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		}
		return nil
	})
	return text, usage, err
}

// legacyCompletionRequest is the wire shape for POST {base}/v1/completions,
// grounded on the teacher's CompletionRequest but prompt- rather than
// message-based, since that is what echo+logprobs scoring requires.
type legacyCompletionRequest struct {
	Model       string  `json:"model,omitempty"`
	Prompt      string  `json:"prompt"`
	Temperature float64 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens"`
	Echo        bool    `json:"echo,omitempty"`
	Logprobs    int     `json:"logprobs,omitempty"`
}

type legacyLogprobs struct {
	TokenLogprobs []float64 `json:"token_logprobs,omitempty"`
	Tokens        []string  `json:"tokens,omitempty"`
}

type legacyChoice struct {
	Text         string          `json:"text"`
	Logprobs     *legacyLogprobs `json:"logprobs,omitempty"`
	FinishReason string          `json:"finish_reason"`
}

type legacyCompletionResponse struct {
	Choices []legacyChoice `json:"choices"`
	Usage   Usage          `json:"usage"`
}

type legacyErrorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Complete issues a legacy /v1/completions request and returns the
// generated text. When opts.Echo is set the prompt itself is echoed back
// with per-token logprobs, which Logprobs uses for perplexity scoring.
func (c *Client) Complete(ctx context.Context, prompt string, opts CompleteOptions) (string, []float64, error) {
	model := opts.Model
	if model == "" {
		model = c.model
	}
	maxTokens := opts.MaxTokens
	reqBody := legacyCompletionRequest{
		Model:       model,
		Prompt:      prompt,
		Temperature: opts.Temperature,
		MaxTokens:   maxTokens,
		Echo:        opts.Echo,
		Logprobs:    opts.Logprobs,
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", nil, fmt.Errorf("llm: marshal completion request: %w", err)
	}

	var text string
	var logprobs []float64
	err = c.withRetry(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/completions", bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return c.wrapErr(err)
		}
		defer resp.Body.Close()
		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return c.wrapErr(err)
		}
		if resp.StatusCode != http.StatusOK {
			var errResp legacyErrorResponse
			_ = json.Unmarshal(respBody, &errResp)
			return &UnavailableError{Engine: c.name, StatusCode: resp.StatusCode, Err: errors.New(errResp.Error.Message)}
		}
		var parsed legacyCompletionResponse
		if err := json.Unmarshal(respBody, &parsed); err != nil {
			return fmt.Errorf("llm: parse completion response: %w", err)
		}
		if len(parsed.Choices) == 0 {
			return &UnavailableError{Engine: c.name, Err: errors.New("no choices in completion response")}
		}
		text = parsed.Choices[0].Text
		if lp := parsed.Choices[0].Logprobs; lp != nil {
			logprobs = lp.TokenLogprobs
		}
		return nil
	})
	return text, logprobs, err
}

// Logprobs returns the per-token log probabilities of text under this
// engine's model, used by the memory worker's perplexity surprise signal
// (spec.md §4.3). It is implemented as an echo-mode completion with zero
// generated tokens.
func (c *Client) Logprobs(ctx context.Context, text string) ([]float64, error) {
	_, logprobs, err := c.Complete(ctx, text, CompleteOptions{
		MaxTokens: 0,
		Echo:      true,
		Logprobs:  1,
	})
	if err != nil {
		return nil, err
	}
	return logprobs, nil
}

// Health hits the engine's health endpoint. A non-2xx or transport error is
// reported as an UnavailableError so the C6 health aggregator can classify
// it as "degraded" rather than crash the request path.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &UnavailableError{Engine: c.name, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return &UnavailableError{Engine: c.name, StatusCode: resp.StatusCode, Err: errors.New("unhealthy")}
	}
	return nil
}

// withRetry applies exponential backoff with jitter for up to
// defaultMaxRetries attempts. All Client operations are read-only against
// the engine (no external side effects), so blanket retry is safe here;
// callers that wrap stateful tool effects must not reuse this helper.
func (c *Client) withRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < defaultMaxRetries; attempt++ {
		if attempt > 0 {
			backoff := defaultBackoff * time.Duration(1<<uint(attempt-1))
			jitter := time.Duration(rand.Int63n(int64(backoff / 2)))
			select {
			case <-time.After(backoff + jitter):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		err = fn()
		if err == nil {
			return nil
		}
		var unavailable *UnavailableError
		if !errors.As(err, &unavailable) {
			return err
		}
	}
	return err
}

func (c *Client) wrapErr(err error) error {
	var uerr *UnavailableError
	if errors.As(err, &uerr) {
		return uerr
	}
	return &UnavailableError{Engine: c.name, Err: err}
}
