package orchestrator

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/archive-ai/orchestrator/internal/kvstore"
)

const metricsRingCap = 120 // 30s sampling * 120 = 1 hour of history

// Sample is one point of the metrics time series (spec.md §4.6's
// "uptime, system, memory_stats, services" sample shape).
type Sample struct {
	Timestamp   float64                  `json:"timestamp"`
	CPUPercent  float64                  `json:"cpu_percent"`
	RSSBytes    uint64                   `json:"rss_bytes"`
	MemoryCount int                      `json:"memory_count"`
	Services    map[string]serviceStatus `json:"services"`
}

// Collector samples process/system metrics every interval and keeps a
// bounded ring in memory, mirroring each sample to a Redis sorted set (kv
// store) so other processes or a restart can see recent history, grounded
// on the teacher's internal/rag/obs pattern of a small mutex-guarded
// collector struct with no external reporting framework — this one skips
// OpenTelemetry's full metrics SDK since spec.md's metrics model is "a
// bounded ring plus an aggregated API", not an exported Prometheus surface.
type Collector struct {
	kv            *kvstore.Store
	health        *healthAggregator
	countMemories func(ctx context.Context) (int, error)
	startedAt     time.Time
	proc          *process.Process

	mu      sync.RWMutex
	samples []Sample
}

// NewCollector builds a Collector. countMemories is injected so tests can
// avoid a real memory store.
func NewCollector(kv *kvstore.Store, health *healthAggregator, countMemories func(ctx context.Context) (int, error)) *Collector {
	proc, _ := process.NewProcess(int32(os.Getpid()))
	return &Collector{
		kv:            kv,
		health:        health,
		countMemories: countMemories,
		startedAt:     time.Now(),
		proc:          proc,
	}
}

// Run samples every interval until ctx is cancelled.
func (c *Collector) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sampleOnce(ctx)
		}
	}
}

func (c *Collector) sampleOnce(ctx context.Context) {
	sample := Sample{Timestamp: float64(time.Now().UnixMilli()) / 1000.0}

	if c.proc != nil {
		if pct, err := c.proc.PercentWithContext(ctx, 0); err == nil {
			sample.CPUPercent = pct
		}
		if mi, err := c.proc.MemoryInfoWithContext(ctx); err == nil && mi != nil {
			sample.RSSBytes = mi.RSS
		}
	} else if pcts, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(pcts) > 0 {
		sample.CPUPercent = pcts[0]
	}

	if c.countMemories != nil {
		if n, err := c.countMemories(ctx); err == nil {
			sample.MemoryCount = n
		}
	}
	if c.health != nil {
		sample.Services = c.health.Report(ctx).Services
	}

	c.mu.Lock()
	c.samples = append(c.samples, sample)
	if len(c.samples) > metricsRingCap {
		c.samples = c.samples[len(c.samples)-metricsRingCap:]
	}
	c.mu.Unlock()

	if c.kv != nil {
		member := time.Now().Format(time.RFC3339Nano)
		if err := c.kv.ZAdd(ctx, "metrics:samples", sample.Timestamp, member); err != nil {
			log.Warn().Err(err).Msg("metrics_mirror_failed")
		}
		if err := c.kv.ZRemRangeByRank(ctx, "metrics:samples", metricsRingCap); err != nil {
			log.Warn().Err(err).Msg("metrics_trim_failed")
		}
	}
}

// Latest returns a snapshot of the in-memory ring, newest last.
func (c *Collector) Latest() []Sample {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Sample, len(c.samples))
	copy(out, c.samples)
	return out
}

// Uptime returns the collector's process uptime.
func (c *Collector) Uptime() time.Duration {
	return time.Since(c.startedAt)
}
