package heartbeat

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moai-flow/swarm/pkg/types"
)

// stoppedMonitor returns a monitor whose sweeper has already exited so
// tests can drive the fake clock and sweepOnce deterministically.
func stoppedMonitor(opts Options) *Monitor {
	m := NewMonitor(opts)
	m.Shutdown()
	return m
}

func TestHealthDerivation(t *testing.T) {
	m := stoppedMonitor(Options{Interval: 100 * time.Millisecond, FailureThreshold: 3})
	base := time.Now()
	m.now = func() time.Time { return base }

	m.StartMonitoring("agent-001", 0, 0)
	require.NoError(t, m.RecordHeartbeat("agent-001", nil))

	tests := []struct {
		name string
		age  time.Duration
		want types.Health
	}{
		{"fresh", 0, types.HealthHealthy},
		{"at one interval", 100 * time.Millisecond, types.HealthHealthy},
		{"past one interval", 150 * time.Millisecond, types.HealthDegraded},
		{"at two intervals", 200 * time.Millisecond, types.HealthDegraded},
		{"past two intervals", 250 * time.Millisecond, types.HealthCritical},
		{"at threshold", 300 * time.Millisecond, types.HealthCritical},
		{"past threshold", 301 * time.Millisecond, types.HealthFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m.now = func() time.Time { return base.Add(tt.age) }
			h, err := m.CheckAgentHealth("agent-001")
			require.NoError(t, err)
			assert.Equal(t, tt.want, h)
		})
	}
}

func TestRecordHeartbeatRestoresHealthy(t *testing.T) {
	m := stoppedMonitor(Options{Interval: 100 * time.Millisecond})
	base := time.Now()
	m.now = func() time.Time { return base }
	m.StartMonitoring("a1", 0, 0)

	m.now = func() time.Time { return base.Add(time.Hour) }
	h, err := m.CheckAgentHealth("a1")
	require.NoError(t, err)
	assert.Equal(t, types.HealthFailed, h)

	require.NoError(t, m.RecordHeartbeat("a1", nil))
	h, err = m.CheckAgentHealth("a1")
	require.NoError(t, err)
	assert.Equal(t, types.HealthHealthy, h)
}

func TestUnmonitoredAgentErrors(t *testing.T) {
	m := stoppedMonitor(Options{})
	assert.ErrorIs(t, m.RecordHeartbeat("ghost", nil), ErrNotMonitored)
	_, err := m.CheckAgentHealth("ghost")
	assert.ErrorIs(t, err, ErrNotMonitored)
	_, err = m.History("ghost", time.Time{})
	assert.ErrorIs(t, err, ErrNotMonitored)
}

func TestStopMonitoringRemovesAgent(t *testing.T) {
	m := stoppedMonitor(Options{})
	m.StartMonitoring("a1", 0, 0)
	m.StopMonitoring("a1")
	_, err := m.CheckAgentHealth("a1")
	assert.ErrorIs(t, err, ErrNotMonitored)
}

func TestHistoryIsBounded(t *testing.T) {
	m := stoppedMonitor(Options{HistorySize: 5})
	base := time.Now()
	step := 0
	m.now = func() time.Time { return base.Add(time.Duration(step) * time.Millisecond) }
	m.StartMonitoring("a1", 0, 0)

	for step = 1; step <= 8; step++ {
		require.NoError(t, m.RecordHeartbeat("a1", nil))
	}

	beats, err := m.History("a1", time.Time{})
	require.NoError(t, err)
	require.Len(t, beats, 5)
	// Oldest three were evicted.
	assert.Equal(t, base.Add(4*time.Millisecond), beats[0].Timestamp)
	assert.Equal(t, base.Add(8*time.Millisecond), beats[4].Timestamp)
}

func TestHistorySinceFilter(t *testing.T) {
	m := stoppedMonitor(Options{})
	base := time.Now()
	step := 0
	m.now = func() time.Time { return base.Add(time.Duration(step) * time.Second) }
	m.StartMonitoring("a1", 0, 0)

	for step = 0; step < 4; step++ {
		require.NoError(t, m.RecordHeartbeat("a1", nil))
	}

	beats, err := m.History("a1", base.Add(2*time.Second))
	require.NoError(t, err)
	assert.Len(t, beats, 2)
}

func TestUnhealthyAgentsMonotoneFilter(t *testing.T) {
	m := stoppedMonitor(Options{Interval: 100 * time.Millisecond, FailureThreshold: 3})
	base := time.Now()
	m.now = func() time.Time { return base }

	// One agent per eventual health state.
	ages := map[string]time.Duration{
		"healthy":  0,
		"degraded": 150 * time.Millisecond,
		"critical": 250 * time.Millisecond,
		"failed":   400 * time.Millisecond,
	}
	for id, age := range ages {
		m.StartMonitoring(id, 0, 0)
		m.agents[id].lastSeen = base.Add(-age)
	}

	degraded := m.UnhealthyAgents(types.HealthDegraded)
	critical := m.UnhealthyAgents(types.HealthCritical)
	failed := m.UnhealthyAgents(types.HealthFailed)

	assert.ElementsMatch(t, []string{"degraded", "critical", "failed"}, degraded)
	assert.ElementsMatch(t, []string{"critical", "failed"}, critical)
	assert.ElementsMatch(t, []string{"failed"}, failed)
	assert.Subset(t, critical, failed)
	assert.Subset(t, degraded, critical)
}

func TestSweeperEmitsEachTransitionOnce(t *testing.T) {
	m := stoppedMonitor(Options{Interval: 100 * time.Millisecond, FailureThreshold: 3})
	base := time.Now()
	m.now = func() time.Time { return base }
	m.StartMonitoring("agent-001", 0, 0)
	require.NoError(t, m.RecordHeartbeat("agent-001", nil))

	var mu sync.Mutex
	var observed []types.Health
	counts := map[types.Health]int{}
	record := func(_ string, _, to types.Health) {
		mu.Lock()
		observed = append(observed, to)
		counts[to]++
		mu.Unlock()
	}
	m.ConfigureAlerts(Alerts{OnDegraded: record, OnCritical: record, OnFailed: record})

	// Stop heartbeats and advance time past each boundary, sweeping
	// twice per stage to exercise deduplication.
	for _, age := range []time.Duration{
		50 * time.Millisecond,  // still healthy
		150 * time.Millisecond, // degraded
		250 * time.Millisecond, // critical
		400 * time.Millisecond, // failed
	} {
		m.now = func() time.Time { return base.Add(age) }
		m.sweepOnce()
		m.sweepOnce()
	}

	assert.Equal(t, []types.Health{
		types.HealthDegraded,
		types.HealthCritical,
		types.HealthFailed,
	}, observed)
	for state, n := range counts {
		assert.Equal(t, 1, n, "state %s alerted more than once", state)
	}
}

func TestSweeperOrdersTransitionsByAgentID(t *testing.T) {
	m := stoppedMonitor(Options{Interval: 100 * time.Millisecond, FailureThreshold: 3})
	base := time.Now()
	m.now = func() time.Time { return base }

	ids := []string{"delta", "alpha", "charlie", "bravo"}
	for _, id := range ids {
		m.StartMonitoring(id, 0, 0)
		require.NoError(t, m.RecordHeartbeat(id, nil))
	}

	var mu sync.Mutex
	var observed []string
	m.OnTransition(func(agentID string, _, _ types.Health) {
		mu.Lock()
		observed = append(observed, agentID)
		mu.Unlock()
	})

	// All four degrade in the same sweep; callbacks run in lexicographic
	// agent order regardless of registration order.
	m.now = func() time.Time { return base.Add(150 * time.Millisecond) }
	m.sweepOnce()

	assert.Equal(t, []string{"alpha", "bravo", "charlie", "delta"}, observed)
}

func TestOnTransitionFiresAlongsideAlerts(t *testing.T) {
	m := stoppedMonitor(Options{Interval: 100 * time.Millisecond})
	base := time.Now()
	m.now = func() time.Time { return base }
	m.StartMonitoring("a1", 0, 0)

	var transitions int
	m.OnTransition(func(_ string, _, _ types.Health) { transitions++ })

	m.now = func() time.Time { return base.Add(150 * time.Millisecond) }
	m.sweepOnce()
	assert.Equal(t, 1, transitions)
}

func TestSweeperRunsAndShutdownStops(t *testing.T) {
	m := NewMonitor(Options{Interval: 10 * time.Millisecond, CheckInterval: 5 * time.Millisecond})
	m.StartMonitoring("a1", 0, 0)

	var mu sync.Mutex
	fired := false
	m.ConfigureAlerts(Alerts{OnDegraded: func(string, types.Health, types.Health) {
		mu.Lock()
		fired = true
		mu.Unlock()
	}})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return fired
	}, time.Second, 5*time.Millisecond)

	m.Shutdown()
	m.Shutdown() // idempotent

	select {
	case <-m.doneCh:
	default:
		t.Fatal("sweeper still running after shutdown")
	}
}

func TestPerAgentIntervalOverride(t *testing.T) {
	m := stoppedMonitor(Options{Interval: time.Second})
	base := time.Now()
	m.now = func() time.Time { return base }
	m.StartMonitoring("fast", 50*time.Millisecond, 2)
	m.StartMonitoring("slow", 0, 0)

	m.now = func() time.Time { return base.Add(75 * time.Millisecond) }
	h, err := m.CheckAgentHealth("fast")
	require.NoError(t, err)
	assert.Equal(t, types.HealthDegraded, h)

	h, err = m.CheckAgentHealth("slow")
	require.NoError(t, err)
	assert.Equal(t, types.HealthHealthy, h)
}
