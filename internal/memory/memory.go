// Package memory implements the orchestrator's vector memory store (C2): a
// Redis hash-per-entry collection indexed by a RediSearch HNSW/COSINE
// vector index, grounded on the teacher's internal/sefii engine for the
// shape of a "store + index + search" component, adapted from pgvector onto
// the kvstore package's FT.* wrapper.
package memory

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/archive-ai/orchestrator/internal/embedding"
	"github.com/archive-ai/orchestrator/internal/kvstore"
)

const (
	// IndexName is the single RediSearch index covering every memory entry.
	IndexName = "memory_index"
	// KeyPrefix is prepended to every memory entry's id to form its Redis key.
	KeyPrefix = "memory:"
	// DefaultSessionID is used when a caller omits session_id.
	DefaultSessionID = "default"
)

// Entry is one memory record (spec.md's "Memory entry").
type Entry struct {
	ID            string
	Message       string
	Embedding     []float32
	Perplexity    float64
	SurpriseScore float64
	Timestamp     float64 // seconds since epoch
	SessionID     string
	Metadata      string // opaque JSON, passed through unparsed
}

// Hit is a single search result: the matched entry plus its similarity to
// the query.
type Hit struct {
	Entry      Entry
	Similarity float64
}

// Store is the vector memory store. Embeddings are produced by an injected
// embedding.Embedder so the store itself never depends on a specific model
// (spec.md §4.2).
type Store struct {
	kv       *kvstore.Store
	embedder embedding.Embedder
}

// New builds a Store.
func New(kv *kvstore.Store, embedder embedding.Embedder) *Store {
	return &Store{kv: kv, embedder: embedder}
}

// EnsureIndex creates the vector index if it is missing. Safe to call on
// every startup.
func (s *Store) EnsureIndex(ctx context.Context) error {
	return s.kv.EnsureVectorIndex(ctx, kvstore.VectorIndexSpec{
		IndexName: IndexName,
		Prefix:    KeyPrefix,
		VectorDim: s.embedder.Dimensions(),
	})
}

func encodeEmbedding(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, f := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeEmbedding(raw string) []float32 {
	b := []byte(raw)
	n := len(b) / 4
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		bits := binary.LittleEndian.Uint32(b[i*4:])
		out[i] = math.Float32frombits(bits)
	}
	return out
}

// StoreEntry persists an entry, generating its id from the current wall clock
// (spec.md: `memory:<ms-timestamp>`). If an entry is stored again within the
// same millisecond (duplicate replay from the stream worker), a sequence
// suffix keeps the id unique so the write does not silently clobber.
func (s *Store) StoreEntry(ctx context.Context, e Entry) (string, error) {
	if strings.TrimSpace(e.Message) == "" {
		return "", fmt.Errorf("memory: entry message must not be empty")
	}
	if len(e.Embedding) == 0 {
		return "", fmt.Errorf("memory: entry embedding must not be empty")
	}
	if e.SessionID == "" {
		e.SessionID = DefaultSessionID
	}
	if e.Timestamp == 0 {
		e.Timestamp = float64(time.Now().UnixMilli()) / 1000.0
	}

	id := fmt.Sprintf("%s%d", KeyPrefix, int64(e.Timestamp*1000))
	for seq := 1; ; seq++ {
		existing, err := s.kv.HGetAll(ctx, id)
		if err != nil {
			return "", fmt.Errorf("memory: check id collision: %w", err)
		}
		if len(existing) == 0 {
			break
		}
		id = fmt.Sprintf("%s%d-%d", KeyPrefix, int64(e.Timestamp*1000), seq)
	}
	e.ID = id

	fields := map[string]any{
		"text":           e.Message,
		"embedding":      encodeEmbedding(e.Embedding),
		"perplexity":     strconv.FormatFloat(e.Perplexity, 'f', -1, 64),
		"surprise_score": strconv.FormatFloat(e.SurpriseScore, 'f', -1, 64),
		"created_at":     strconv.FormatFloat(e.Timestamp, 'f', -1, 64),
		"session_id":     e.SessionID,
		"metadata":       e.Metadata,
	}
	if err := s.kv.HSet(ctx, id, fields); err != nil {
		return "", fmt.Errorf("memory: store entry: %w", err)
	}
	return id, nil
}

// Search embeds queryText and returns the topK nearest memories, optionally
// filtered to a session. Field decoding tolerates both byte-string and
// plain-string representations, since RESP2 and RESP3 clients surface
// binary fields differently (spec.md §4.2).
func (s *Store) Search(ctx context.Context, queryText string, topK int, sessionFilter string) ([]Hit, error) {
	if topK <= 0 {
		topK = 1
	}
	vecs, err := s.embedder.Embed(ctx, []string{queryText})
	if err != nil {
		return nil, fmt.Errorf("memory: embed query: %w", err)
	}
	var preFilter string
	if sessionFilter != "" {
		preFilter = fmt.Sprintf("@session_id:{%s}", kvstore.EscapeTagValue(sessionFilter))
	}
	raw, err := s.kv.VectorSearch(ctx, IndexName, "embedding", encodeEmbedding(vecs[0]), topK*3, preFilter)
	if err != nil {
		return nil, fmt.Errorf("memory: vector search: %w", err)
	}

	hits := make([]Hit, 0, len(raw))
	for _, r := range raw {
		entry := fieldsToEntry(r.Key, r.Fields)
		hits = append(hits, Hit{
			Entry:      entry,
			Similarity: 1 - r.Score,
		})
		if len(hits) >= topK {
			break
		}
	}
	return hits, nil
}

func fieldsToEntry(key string, fields map[string]string) Entry {
	e := Entry{
		ID:        key,
		Message:   fields["text"],
		SessionID: fields["session_id"],
		Metadata:  fields["metadata"],
	}
	if raw, ok := fields["embedding"]; ok {
		e.Embedding = decodeEmbedding(raw)
	}
	if v, err := strconv.ParseFloat(fields["perplexity"], 64); err == nil {
		e.Perplexity = v
	}
	if v, err := strconv.ParseFloat(fields["surprise_score"], 64); err == nil {
		e.SurpriseScore = v
	}
	if v, err := strconv.ParseFloat(fields["created_at"], 64); err == nil {
		e.Timestamp = v
	}
	return e
}

// Get returns a single entry by id, or ok=false if it does not exist.
func (s *Store) Get(ctx context.Context, id string) (Entry, bool, error) {
	fields, err := s.kv.HGetAll(ctx, id)
	if err != nil {
		return Entry{}, false, fmt.Errorf("memory: get %s: %w", id, err)
	}
	if len(fields) == 0 {
		return Entry{}, false, nil
	}
	return fieldsToEntry(id, fields), true, nil
}

// Delete removes an entry by id.
func (s *Store) Delete(ctx context.Context, id string) error {
	return s.kv.Del(ctx, id)
}

// List returns entries ordered by descending timestamp, paginated by
// limit/offset. This scans every memory key rather than issuing a sorted
// FT.SEARCH query, trading O(n) cost for implementation simplicity — list
// pages are an admin/debug path, not the hot query path (Search is).
func (s *Store) List(ctx context.Context, limit, offset int) ([]Entry, error) {
	keys, err := s.kv.Keys(ctx, KeyPrefix+"*")
	if err != nil {
		return nil, fmt.Errorf("memory: list keys: %w", err)
	}
	entries := make([]Entry, 0, len(keys))
	for _, k := range keys {
		fields, err := s.kv.HGetAll(ctx, k)
		if err != nil || len(fields) == 0 {
			continue
		}
		entries = append(entries, fieldsToEntry(k, fields))
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Timestamp > entries[j].Timestamp })

	if offset >= len(entries) {
		return nil, nil
	}
	end := offset + limit
	if limit <= 0 || end > len(entries) {
		end = len(entries)
	}
	return entries[offset:end], nil
}

// Count returns the number of memory keys.
func (s *Store) Count(ctx context.Context) (int, error) {
	keys, err := s.kv.Keys(ctx, KeyPrefix+"*")
	if err != nil {
		return 0, fmt.Errorf("memory: count: %w", err)
	}
	return len(keys), nil
}
