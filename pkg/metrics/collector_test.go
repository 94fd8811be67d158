package metrics

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moai-flow/swarm/pkg/store"
	"github.com/moai-flow/swarm/pkg/types"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func taskMetric(id, agentID string, durationMs float64, result types.TaskResult) types.TaskMetric {
	now := time.Now()
	return types.TaskMetric{
		TaskID:     id,
		AgentID:    agentID,
		StartedAt:  now.Add(-time.Duration(durationMs) * time.Millisecond),
		FinishedAt: now,
		DurationMs: durationMs,
		Result:     result,
		TokensUsed: 100,
	}
}

func TestTaskStatsFromReservoir(t *testing.T) {
	c := NewCollector(nil, Options{Async: false})

	for i := 0; i < 8; i++ {
		c.RecordTaskMetric(taskMetric(fmt.Sprintf("t%d", i), "a1", 100, types.TaskResultSuccess))
	}
	c.RecordTaskMetric(taskMetric("t8", "a1", 500, types.TaskResultFailure))
	c.RecordTaskMetric(taskMetric("t9", "a2", 50, types.TaskResultSuccess))

	stats := c.TaskStats("a1", time.Time{})
	assert.Equal(t, 9, stats.Count)
	assert.InDelta(t, 8.0/9.0, stats.SuccessRate, 1e-9)
	assert.InDelta(t, (8*100.0+500)/9, stats.AvgDurationMs, 1e-9)
	assert.Equal(t, 100.0, stats.P50Ms)
	assert.Equal(t, 500.0, stats.P99Ms)
	assert.Equal(t, 900, stats.TotalTokens)

	all := c.TaskStats("", time.Time{})
	assert.Equal(t, 10, all.Count)
}

func TestTaskStatsEmpty(t *testing.T) {
	c := NewCollector(nil, Options{Async: false})
	stats := c.TaskStats("nobody", time.Time{})
	assert.Zero(t, stats.Count)
	assert.Zero(t, stats.SuccessRate)
}

func TestTaskStatsSinceFilter(t *testing.T) {
	c := NewCollector(nil, Options{Async: false})

	old := taskMetric("old", "a1", 100, types.TaskResultSuccess)
	old.FinishedAt = time.Now().Add(-time.Hour)
	c.RecordTaskMetric(old)
	c.RecordTaskMetric(taskMetric("new", "a1", 100, types.TaskResultSuccess))

	stats := c.TaskStats("a1", time.Now().Add(-time.Minute))
	assert.Equal(t, 1, stats.Count)
}

func TestReservoirIsBounded(t *testing.T) {
	c := NewCollector(nil, Options{Async: false, ReservoirSize: 4})
	for i := 0; i < 10; i++ {
		c.RecordTaskMetric(taskMetric(fmt.Sprintf("t%d", i), "a1", 100, types.TaskResultSuccess))
	}
	assert.Equal(t, 4, c.TaskStats("a1", time.Time{}).Count)
}

func TestAgentPerformance(t *testing.T) {
	c := NewCollector(nil, Options{Async: false})
	c.RecordTaskMetric(taskMetric("t1", "a1", 100, types.TaskResultSuccess))
	c.RecordTaskMetric(taskMetric("t2", "a1", 300, types.TaskResultFailure))

	perf := c.AgentPerformance("a1")
	assert.Equal(t, 2, perf.TaskCount)
	assert.Equal(t, 200.0, perf.AvgDurationMs)
	assert.Equal(t, 0.5, perf.SuccessRate)
	assert.Equal(t, 0.5, perf.ErrorRate)

	empty := c.AgentPerformance("ghost")
	assert.Zero(t, empty.TaskCount)
	assert.Zero(t, empty.ErrorRate)
}

func TestDurationDerivedFromTimestamps(t *testing.T) {
	c := NewCollector(nil, Options{Async: false})
	now := time.Now()
	c.RecordTaskMetric(types.TaskMetric{
		TaskID:     "t1",
		AgentID:    "a1",
		StartedAt:  now.Add(-250 * time.Millisecond),
		FinishedAt: now,
		Result:     types.TaskResultSuccess,
	})
	assert.InDelta(t, 250, c.TaskStats("a1", time.Time{}).AvgDurationMs, 1)
}

func TestOverflowDropsWithoutBlocking(t *testing.T) {
	st := openTestStore(t)

	// Hand-built collector with no drain worker, so the queue fills.
	c := &Collector{
		store:  st,
		opts:   Options{Async: true, QueueCapacity: 2, ReservoirSize: 16},
		queue:  make(chan entry, 2),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	close(c.doneCh)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			c.RecordAgentMetric("a1", "cpu", float64(i))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("producer blocked on full queue")
	}
	assert.Equal(t, int64(3), c.Dropped())
}

func TestAsyncDrainPersists(t *testing.T) {
	st := openTestStore(t)
	c := NewCollector(st, Options{Async: true, BatchSize: 4, BatchTimeout: 10 * time.Millisecond})

	for i := 0; i < 10; i++ {
		c.RecordTaskMetric(taskMetric(fmt.Sprintf("t%d", i), "a1", 100, types.TaskResultSuccess))
	}
	c.Shutdown()
	c.Shutdown() // idempotent

	stored, err := st.TaskMetricsSince(time.Time{}, "a1")
	require.NoError(t, err)
	assert.Len(t, stored, 10)
	assert.Zero(t, c.Dropped())
}

func TestSyncModeWritesInline(t *testing.T) {
	st := openTestStore(t)
	c := NewCollector(st, Options{Async: false})

	c.RecordTaskMetric(taskMetric("t1", "a1", 100, types.TaskResultSuccess))
	c.RecordAgentMetric("a1", "cpu", 0.5)
	c.RecordSwarmMetric("s1", "throughput", 42)

	stored, err := st.TaskMetricsSince(time.Time{}, "")
	require.NoError(t, err)
	assert.Len(t, stored, 1)
}

func TestStatsUnionDeduplicatesByTaskID(t *testing.T) {
	st := openTestStore(t)
	c := NewCollector(st, Options{Async: false})

	// The same task ends up both persisted and in the reservoir.
	c.RecordTaskMetric(taskMetric("t1", "a1", 100, types.TaskResultSuccess))
	c.RecordTaskMetric(taskMetric("t2", "a1", 200, types.TaskResultSuccess))

	stats := c.TaskStats("a1", time.Time{})
	assert.Equal(t, 2, stats.Count)
}

func TestStorageErrorsDoNotPropagate(t *testing.T) {
	st := openTestStore(t)
	c := NewCollector(st, Options{Async: false})
	require.NoError(t, st.Close())

	// Inline write fails against the closed store but must not panic
	// or surface to the caller.
	c.RecordTaskMetric(taskMetric("t1", "a1", 100, types.TaskResultSuccess))
	assert.Equal(t, 1, c.TaskStats("a1", time.Time{}).Count)
}
