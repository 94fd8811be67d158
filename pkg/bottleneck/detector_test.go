package bottleneck

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moai-flow/swarm/pkg/types"
)

// sliceSource serves a fixed task window
type sliceSource struct {
	mu    sync.Mutex
	tasks []types.TaskMetric
}

func (s *sliceSource) Tasks(_ time.Time) []types.TaskMetric {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.TaskMetric(nil), s.tasks...)
}

func task(agentID string, durationMs float64, result types.TaskResult, tokens int) types.TaskMetric {
	now := time.Now()
	return types.TaskMetric{
		TaskID:     fmt.Sprintf("%s-%d", agentID, now.UnixNano()),
		AgentID:    agentID,
		StartedAt:  now.Add(-time.Duration(durationMs) * time.Millisecond),
		FinishedAt: now,
		DurationMs: durationMs,
		Result:     result,
		TokensUsed: tokens,
	}
}

func kinds(report Report) []types.BottleneckKind {
	out := make([]types.BottleneckKind, 0, len(report.Bottlenecks))
	for _, b := range report.Bottlenecks {
		out = append(out, b.Kind)
	}
	return out
}

func find(report Report, kind types.BottleneckKind) (types.Bottleneck, bool) {
	for _, b := range report.Bottlenecks {
		if b.Kind == kind {
			return b, true
		}
	}
	return types.Bottleneck{}, false
}

func TestDetectWithZeroSamples(t *testing.T) {
	d := NewDetector(&sliceSource{}, nil, Options{})
	report := d.Detect()
	assert.Empty(t, report.Bottlenecks)
	assert.Zero(t, report.Summary.Count)
}

func TestDetectAllRulesTrigger(t *testing.T) {
	src := &sliceSource{}
	for i := 0; i < 100; i++ {
		src.tasks = append(src.tasks, task("fast", 200, types.TaskResultSuccess, 10))
	}
	for i := 0; i < 50; i++ {
		src.tasks = append(src.tasks, task("slow", 1000, types.TaskResultFailure, 10))
	}

	resources := func() types.ResourceUsage {
		return types.ResourceUsage{
			Tokens: types.TokenUsage{Budget: 1000, Consumed: 900, Remaining: 100},
			Agents: types.AgentQuota{Quota: 10, Active: 9, Available: 1},
			Queue:  types.QueueState{PendingTasks: 60},
		}
	}

	d := NewDetector(src, resources, Options{})
	start := time.Now()
	report := d.Detect()
	elapsed := time.Since(start)

	assert.Less(t, elapsed, 100*time.Millisecond)
	assert.Equal(t, 150, report.Summary.Count)

	tokenB, ok := find(report, types.BottleneckTokenExhaustion)
	require.True(t, ok, "expected token exhaustion, got %v", kinds(report))
	assert.GreaterOrEqual(t, tokenB.Severity.Rank(), types.SeverityHigh.Rank())

	quotaB, ok := find(report, types.BottleneckQuotaExceeded)
	require.True(t, ok)
	assert.GreaterOrEqual(t, quotaB.Severity.Rank(), types.SeverityHigh.Rank())

	slowB, ok := find(report, types.BottleneckSlowAgent)
	require.True(t, ok)
	assert.Equal(t, []string{"slow"}, slowB.AffectedIDs)
	assert.Contains(t, []types.Severity{types.SeverityMedium, types.SeverityHigh}, slowB.Severity)

	_, ok = find(report, types.BottleneckQueueBacklog)
	assert.True(t, ok)
}

func TestNoBottlenecksOnHealthySwarm(t *testing.T) {
	src := &sliceSource{}
	for i := 0; i < 20; i++ {
		src.tasks = append(src.tasks, task("a1", 100, types.TaskResultSuccess, 5))
		src.tasks = append(src.tasks, task("a2", 120, types.TaskResultSuccess, 5))
	}
	resources := func() types.ResourceUsage {
		return types.ResourceUsage{
			Tokens: types.TokenUsage{Budget: 1000, Consumed: 100, Remaining: 900},
			Agents: types.AgentQuota{Quota: 10, Active: 2, Available: 8},
			Queue:  types.QueueState{PendingTasks: 3},
		}
	}

	d := NewDetector(src, resources, Options{})
	assert.Empty(t, d.Detect().Bottlenecks)
}

func TestSlowAgentNeedsBothConditions(t *testing.T) {
	// Slow but reliable: no bottleneck.
	src := &sliceSource{}
	for i := 0; i < 50; i++ {
		src.tasks = append(src.tasks, task("fast", 100, types.TaskResultSuccess, 1))
	}
	for i := 0; i < 10; i++ {
		src.tasks = append(src.tasks, task("steady", 1000, types.TaskResultSuccess, 1))
	}

	d := NewDetector(src, nil, Options{})
	_, ok := find(d.Detect(), types.BottleneckSlowAgent)
	assert.False(t, ok)
}

func TestTokenExhaustionSuppressedByImprovingTrend(t *testing.T) {
	src := &sliceSource{}
	resources := func() types.ResourceUsage {
		return types.ResourceUsage{Tokens: types.TokenUsage{Budget: 1000, Consumed: 900, Remaining: 100}}
	}
	d := NewDetector(src, resources, Options{TrendWindow: 2})

	// Four passes with falling token averages establish an improving
	// trend, which suppresses the exhaustion rule on the fifth.
	for _, tokens := range []int{100, 100, 50, 50, 40} {
		src.mu.Lock()
		src.tasks = []types.TaskMetric{task("a1", 100, types.TaskResultSuccess, tokens)}
		src.mu.Unlock()
		report := d.Detect()
		if tokens == 40 {
			_, ok := find(report, types.BottleneckTokenExhaustion)
			assert.False(t, ok)
		}
	}
}

func TestQueueBacklogEscalatesWithHighPriority(t *testing.T) {
	resources := func() types.ResourceUsage {
		return types.ResourceUsage{Queue: types.QueueState{
			PendingTasks: 120,
			ByPriority:   map[string]int{"high": 40},
		}}
	}
	d := NewDetector(&sliceSource{}, resources, Options{})
	b, ok := find(d.Detect(), types.BottleneckQueueBacklog)
	require.True(t, ok)
	assert.Equal(t, types.SeverityCritical, b.Severity)
}

func TestConsensusTimeoutRule(t *testing.T) {
	d := NewDetector(&sliceSource{}, nil, Options{})

	// Inert without telemetry.
	_, ok := find(d.Detect(), types.BottleneckConsensusTimeout)
	assert.False(t, ok)

	d.SetConsensusStats(func() ConsensusStats {
		return ConsensusStats{CompletionRate: 0.5, AvgDecisionMs: 500, Samples: 10}
	})
	b, ok := find(d.Detect(), types.BottleneckConsensusTimeout)
	require.True(t, ok)
	assert.Equal(t, types.SeverityMedium, b.Severity)
}

func TestSeverityMapping(t *testing.T) {
	tests := []struct {
		impact float64
		want   types.Severity
	}{
		{0.85, types.SeverityCritical},
		{0.8, types.SeverityCritical},
		{0.7, types.SeverityHigh},
		{0.5, types.SeverityMedium},
		{0.1, types.SeverityLow},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, severityFor(tt.impact), "impact %v", tt.impact)
	}
}

func TestMonitorContinuouslyEmitsReports(t *testing.T) {
	src := &sliceSource{}
	resources := func() types.ResourceUsage {
		return types.ResourceUsage{Queue: types.QueueState{PendingTasks: 80}}
	}
	d := NewDetector(src, resources, Options{})

	reports := make(chan Report, 4)
	d.OnReport(func(r Report) {
		select {
		case reports <- r:
		default:
		}
	})

	d.MonitorContinuously(10 * time.Millisecond)
	d.MonitorContinuously(10 * time.Millisecond) // second call is a no-op

	select {
	case r := <-reports:
		_, ok := find(r, types.BottleneckQueueBacklog)
		assert.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("no report emitted")
	}

	d.StopMonitoring()
	d.StopMonitoring() // idempotent
}

func TestMonitorInvokesCycleCallbackEveryPass(t *testing.T) {
	// An empty window produces no reports, but the cycle callback still
	// runs on every tick.
	d := NewDetector(&sliceSource{}, nil, Options{})

	cycles := make(chan struct{}, 8)
	d.OnCycle(func() {
		select {
		case cycles <- struct{}{}:
		default:
		}
	})

	d.MonitorContinuously(10 * time.Millisecond)
	defer d.StopMonitoring()

	for i := 0; i < 2; i++ {
		select {
		case <-cycles:
		case <-time.After(time.Second):
			t.Fatal("cycle callback not invoked")
		}
	}
}
