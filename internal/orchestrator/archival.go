package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/archive-ai/orchestrator/internal/config"
	"github.com/archive-ai/orchestrator/internal/memory"
)

// archivedEntry is the cold-storage representation of a memory entry:
// spec.md §6.4 says embeddings are "omitted (or hex-encoded)" — this
// implementation hex-encodes them so an archived month remains searchable
// offline without a separate re-embedding step.
type archivedEntry struct {
	ID            string  `json:"id"`
	Message       string  `json:"message"`
	EmbeddingHex  string  `json:"embedding_hex,omitempty"`
	Perplexity    float64 `json:"perplexity"`
	SurpriseScore float64 `json:"surprise_score"`
	Timestamp     float64 `json:"timestamp"`
	SessionID     string  `json:"session_id"`
	Metadata      string  `json:"metadata,omitempty"`
}

func toArchivedEntry(e memory.Entry) archivedEntry {
	return archivedEntry{
		ID:            e.ID,
		Message:       e.Message,
		EmbeddingHex:  hexEncodeFloats(e.Embedding),
		Perplexity:    e.Perplexity,
		SurpriseScore: e.SurpriseScore,
		Timestamp:     e.Timestamp,
		SessionID:     e.SessionID,
		Metadata:      e.Metadata,
	}
}

func hexEncodeFloats(vec []float32) string {
	if len(vec) == 0 {
		return ""
	}
	buf := make([]byte, 0, 4*len(vec))
	for _, f := range vec {
		bits := math.Float32bits(f)
		buf = append(buf, byte(bits), byte(bits>>8), byte(bits>>16), byte(bits>>24))
	}
	return fmt.Sprintf("%x", buf)
}

// ArchivalWorker implements spec.md §4.6's archival worker: at a configured
// hour/minute, it scans every memory key, keeps the ARCHIVE_KEEP most
// recent, and serializes the rest older than ARCHIVE_DAYS into a monthly
// JSON file before deleting them from the primary store. Idempotent per
// calendar day.
type ArchivalWorker struct {
	store    *memory.Store
	cfg      config.ArchiveConfig
	dataPath string
	clock    func() time.Time
}

// NewArchivalWorker builds an ArchivalWorker rooted at dataPath (spec.md
// §6.4: archives live under "archive/YYYY-MM/..." beneath the data root).
func NewArchivalWorker(store *memory.Store, cfg config.ArchiveConfig, dataPath string) *ArchivalWorker {
	return &ArchivalWorker{store: store, cfg: cfg, dataPath: dataPath, clock: time.Now}
}

// Run blocks until ctx is cancelled, firing Sweep once per day at the
// configured hour/minute.
func (a *ArchivalWorker) Run(ctx context.Context) {
	if !a.cfg.Enabled {
		return
	}
	for {
		wait := a.durationUntilNextRun()
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
		if n, err := a.Sweep(ctx); err != nil {
			log.Warn().Err(err).Msg("archival_sweep_failed")
		} else if n > 0 {
			log.Info().Int("archived", n).Msg("archival_sweep_completed")
		}
	}
}

func (a *ArchivalWorker) durationUntilNextRun() time.Duration {
	now := a.clock()
	next := time.Date(now.Year(), now.Month(), now.Day(), a.cfg.Hour, a.cfg.Minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next.Sub(now)
}

// Sweep runs one archival pass: idempotent within a calendar day (it skips
// if today's archive file already exists), per spec.md §4.6.
func (a *ArchivalWorker) Sweep(ctx context.Context) (int, error) {
	today := a.clock().Format("20060102")
	month := a.clock().Format("2006-01")
	archiveDir := filepath.Join(a.dataPath, "archive", month)
	archiveFile := filepath.Join(archiveDir, fmt.Sprintf("memories-%s.json", today))

	if _, err := os.Stat(archiveFile); err == nil {
		return 0, nil // already ran today
	}

	entries, err := a.store.List(ctx, 0, 0)
	if err != nil {
		return 0, fmt.Errorf("archival: list memories: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Timestamp > entries[j].Timestamp })

	keep := a.cfg.Keep
	if keep < 0 {
		keep = 0
	}
	cutoff := a.clock().AddDate(0, 0, -a.cfg.Days).Unix()

	var toArchive []memory.Entry
	for i, e := range entries {
		if i < keep {
			continue
		}
		if int64(e.Timestamp) <= cutoff {
			toArchive = append(toArchive, e)
		}
	}
	if len(toArchive) == 0 {
		return 0, nil
	}

	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		return 0, fmt.Errorf("archival: create archive dir: %w", err)
	}
	archived := make([]archivedEntry, 0, len(toArchive))
	for _, e := range toArchive {
		archived = append(archived, toArchivedEntry(e))
	}
	data, err := json.MarshalIndent(archived, "", "  ")
	if err != nil {
		return 0, fmt.Errorf("archival: encode archive file: %w", err)
	}
	if err := os.WriteFile(archiveFile, data, 0o644); err != nil {
		return 0, fmt.Errorf("archival: write archive file: %w", err)
	}

	for _, e := range toArchive {
		if err := a.store.Delete(ctx, e.ID); err != nil {
			log.Warn().Err(err).Str("id", e.ID).Msg("archival_delete_failed")
		}
	}
	return len(toArchive), nil
}
