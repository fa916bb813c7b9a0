// Package stream implements the input pipeline (C3): a non-blocking append
// path plus a cooperative single-threaded worker that scores each message's
// surprise and decides whether it earns a place in long-term memory.
// Grounded on the teacher's internal/agentd router + internal/orchestrator
// dedupe store for the "externalize a cursor, read-then-advance" shape of a
// cooperative consumer loop.
package stream

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/archive-ai/orchestrator/internal/config"
	"github.com/archive-ai/orchestrator/internal/kvstore"
	"github.com/archive-ai/orchestrator/internal/memory"
)

// InputEvent is one raw message appended to the stream, before scoring.
type InputEvent struct {
	Message   string
	SessionID string
	Timestamp float64
}

// Appender is the caller-synchronous, non-blocking half of C3: it must
// return quickly so a chat request is never held up by memory bookkeeping.
type Appender struct {
	kv       *kvstore.Store
	key      string
	maxLen   int64
	trimEach int
	calls    int
}

// NewAppender builds an Appender bound to the configured stream key.
func NewAppender(kv *kvstore.Store, cfg config.Config) *Appender {
	return &Appender{kv: kv, key: cfg.StreamKey, maxLen: cfg.StreamMaxLen, trimEach: 50}
}

// Append adds an event to the stream and returns immediately. The stream is
// trimmed to its configured cap every trimEach calls rather than on every
// call, since XTRIM is an O(log n) but non-zero cost we don't want on the
// hot path of every single request.
func (a *Appender) Append(ctx context.Context, ev InputEvent) error {
	if ev.Timestamp == 0 {
		ev.Timestamp = float64(time.Now().UnixMilli()) / 1000.0
	}
	if ev.SessionID == "" {
		ev.SessionID = "default"
	}
	_, err := a.kv.XAdd(ctx, a.key, map[string]any{
		"message":    ev.Message,
		"session_id": ev.SessionID,
		"timestamp":  fmt.Sprintf("%f", ev.Timestamp),
	})
	if err != nil {
		return fmt.Errorf("stream: append: %w", err)
	}
	a.calls++
	if a.maxLen > 0 && a.calls%a.trimEach == 0 {
		if trimErr := a.kv.XTrim(ctx, a.key, a.maxLen); trimErr != nil {
			log.Warn().Err(trimErr).Str("key", a.key).Msg("stream_trim_failed")
		}
	}
	return nil
}

// LLMClient is the slice of llm.Client the worker depends on, named here so
// the worker can be unit-tested against a fake.
type LLMClient interface {
	Logprobs(ctx context.Context, text string) ([]float64, error)
}

// VectorStore is the slice of *memory.Store the worker depends on.
type VectorStore interface {
	Search(ctx context.Context, queryText string, topK int, sessionFilter string) ([]memory.Hit, error)
	StoreEntry(ctx context.Context, e memory.Entry) (string, error)
}

// Embedder is the slice of embedding.Embedder the worker depends on.
type Embedder interface {
	Embed(ctx context.Context, inputs []string) ([][]float32, error)
}

// perplexity converts per-token logprobs into a perplexity score:
// exp(-mean(logprobs)). An empty logprobs slice yields perplexity 1 (neutral).
func perplexity(logprobs []float64) float64 {
	if len(logprobs) == 0 {
		return 1
	}
	sum := 0.0
	for _, lp := range logprobs {
		sum += lp
	}
	mean := sum / float64(len(logprobs))
	return math.Exp(-mean)
}

// normalizePerplexity implements spec.md's p̂ = min(1, log(p+1) / divisor).
func normalizePerplexity(p, divisor float64) float64 {
	if divisor <= 0 {
		divisor = 5.0
	}
	v := math.Log(p+1) / divisor
	if v > 1 {
		return 1
	}
	if v < 0 {
		return 0
	}
	return v
}

// surpriseScore implements spec.md's α·p̂ + (1−α)·novelty.
func surpriseScore(normalizedPerplexity, novelty, alpha float64) float64 {
	return alpha*normalizedPerplexity + (1-alpha)*novelty
}
