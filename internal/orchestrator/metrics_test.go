package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/archive-ai/orchestrator/internal/kvstore"
)

func newTestCollector(t *testing.T) *Collector {
	t.Helper()
	mr := miniredis.RunT(t)
	kv, err := kvstore.New(context.Background(), mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close() })

	agg := newHealthAggregator(fakeEngineHealth{}, nil, func(context.Context) error { return nil }, "")
	return NewCollector(kv, agg, func(context.Context) (int, error) { return 3, nil })
}

func TestCollector_SampleOnceAppendsToRing(t *testing.T) {
	c := newTestCollector(t)
	c.sampleOnce(context.Background())

	samples := c.Latest()
	require.Len(t, samples, 1)
	require.Equal(t, 3, samples[0].MemoryCount)
}

func TestCollector_RingIsBoundedToCap(t *testing.T) {
	c := newTestCollector(t)
	for i := 0; i < metricsRingCap+10; i++ {
		c.sampleOnce(context.Background())
	}
	assert := require.New(t)
	assert.Len(c.Latest(), metricsRingCap)
}

func TestCollector_UptimeIsPositive(t *testing.T) {
	c := newTestCollector(t)
	time.Sleep(time.Millisecond)
	require.Greater(t, c.Uptime(), time.Duration(0))
}
