package stream

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/archive-ai/orchestrator/internal/config"
	"github.com/archive-ai/orchestrator/internal/kvstore"
	"github.com/archive-ai/orchestrator/internal/memory"
)

// Worker is the cooperative, single-threaded consumer described in
// spec.md §4.3: it reads from the input stream, scores each message's
// surprise, and stores the ones that clear the configured threshold.
type Worker struct {
	kv       *kvstore.Store
	llm      LLMClient
	vectors  VectorStore
	embedder Embedder

	streamKey       string
	lastIDKey       string
	startFromLatest bool
	surprise        config.SurpriseConfig
	batchSize       int64
	blockInterval   time.Duration
}

// WithBlockInterval overrides the per-poll XREAD block duration (default
// 1s); tests use a short interval so the loop observes cancellation quickly.
func (w *Worker) WithBlockInterval(d time.Duration) *Worker {
	w.blockInterval = d
	return w
}

// NewWorker builds a Worker from its collaborators and config.
func NewWorker(kv *kvstore.Store, llm LLMClient, vectors VectorStore, embedder Embedder, cfg config.Config) *Worker {
	return &Worker{
		kv:              kv,
		llm:             llm,
		vectors:         vectors,
		embedder:        embedder,
		streamKey:       cfg.StreamKey,
		lastIDKey:       cfg.LastIDKey,
		startFromLatest: cfg.StartFromLatest,
		surprise:        cfg.Surprise,
		batchSize:       16,
		blockInterval:   time.Second,
	}
}

// Run drives the worker loop until ctx is cancelled, observing cancellation
// within one poll interval as spec.md requires. Errors reading the stream or
// scoring a single entry are logged and the loop continues; only a failure
// to load the saved cursor at startup is returned.
func (w *Worker) Run(ctx context.Context) error {
	cursor, err := w.cursor(ctx)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		msgs, err := w.kv.XRead(ctx, w.streamKey, cursor, w.batchSize, w.blockInterval)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			log.Warn().Err(err).Msg("stream_worker_read_failed")
			continue
		}
		for _, m := range msgs {
			w.processEntry(ctx, m.Values)
			cursor = m.ID
			if err := w.kv.Set(ctx, w.lastIDKey, cursor, 0); err != nil {
				log.Warn().Err(err).Msg("stream_worker_cursor_persist_failed")
			}
		}
	}
}

// cursor resolves the starting stream id: an externalized previous cursor
// if one exists, otherwise "0" (beginning) or "$" (latest only) per config.
func (w *Worker) cursor(ctx context.Context) (string, error) {
	saved, err := w.kv.Get(ctx, w.lastIDKey)
	if err != nil {
		return "", err
	}
	if saved != "" {
		return saved, nil
	}
	if w.startFromLatest {
		return "$", nil
	}
	return "0", nil
}

func (w *Worker) processEntry(ctx context.Context, values map[string]interface{}) {
	message, _ := values["message"].(string)
	sessionID, _ := values["session_id"].(string)
	if message == "" {
		return
	}

	logprobs, err := w.logprobsWithRetry(ctx, message)
	if err != nil {
		log.Warn().Err(err).Str("message", message).Msg("stream_worker_perplexity_failed_skipping_entry")
		return
	}
	p := perplexity(logprobs)
	normalized := normalizePerplexity(p, w.surprise.PerplexityDivisor)

	novelty := 1.0
	hits, err := w.vectors.Search(ctx, message, 1, "")
	if err == nil && len(hits) > 0 {
		novelty = 1 - hits[0].Similarity
	}

	score := surpriseScore(normalized, novelty, w.surprise.Alpha)
	if score < w.surprise.Threshold {
		return
	}

	vecs, err := w.embedder.Embed(ctx, []string{message})
	if err != nil {
		log.Warn().Err(err).Msg("stream_worker_embed_failed_skipping_entry")
		return
	}

	_, err = w.vectors.StoreEntry(ctx, memory.Entry{
		Message:       message,
		Embedding:     vecs[0],
		Perplexity:    p,
		SurpriseScore: score,
		Timestamp:     float64(time.Now().UnixMilli()) / 1000.0,
		SessionID:     sessionID,
	})
	if err != nil {
		log.Warn().Err(err).Msg("stream_worker_store_failed")
	}
}

func (w *Worker) logprobsWithRetry(ctx context.Context, message string) ([]float64, error) {
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(time.Duration(attempt) * 200 * time.Millisecond):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		lp, err := w.llm.Logprobs(ctx, message)
		if err == nil {
			return lp, nil
		}
		lastErr = err
	}
	return nil, lastErr
}
