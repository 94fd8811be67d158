package bottleneck

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/moai-flow/swarm/pkg/log"
	"github.com/moai-flow/swarm/pkg/metrics"
	"github.com/moai-flow/swarm/pkg/types"
)

// Detection rule thresholds
const (
	tokenRatioThreshold   = 0.8
	quotaRatioThreshold   = 0.9
	slowAgentFactor       = 2.0
	slowAgentSuccessFloor = 0.70
	queueBacklogThreshold = 50
	consensusRateFloor    = 0.90
	consensusDecisionMax  = 10 * time.Second
)

// TaskSource supplies the detection window of task metrics
type TaskSource interface {
	Tasks(since time.Time) []types.TaskMetric
}

// ResourceFunc pulls the current snapshot from the resource controller
type ResourceFunc func() types.ResourceUsage

// ConsensusStats feeds the consensus-timeout rule. Zero Samples disables
// the rule; it stays a stub until consensus reports its own telemetry.
type ConsensusStats struct {
	CompletionRate float64
	AvgDecisionMs  float64
	Samples        int
}

// Report is the output of one detection pass
type Report struct {
	Bottlenecks []types.Bottleneck
	Summary     types.TaskStats
	GeneratedAt time.Time
}

// Options configures the detector
type Options struct {
	// Window is how far back task metrics are pulled each pass
	Window time.Duration

	// MonitorInterval is the continuous-monitoring wake period
	MonitorInterval time.Duration

	// TrendWindow is the moving-average width for trend comparison
	TrendWindow int
}

// DefaultOptions mirrors the bottleneck config defaults
func DefaultOptions() Options {
	return Options{
		Window:          time.Minute,
		MonitorInterval: 30 * time.Second,
		TrendWindow:     5,
	}
}

// Detector translates task metrics and resource telemetry into
// actionable bottleneck reports. Each rule produces at most one
// bottleneck per pass.
type Detector struct {
	source    TaskSource
	resources ResourceFunc
	consensus func() ConsensusStats
	opts      Options

	mu           sync.Mutex
	tokenHistory []float64
	onReport     func(Report)
	onCycle      func()

	workerMu sync.Mutex
	stopCh   chan struct{}
	doneCh   chan struct{}

	now func() time.Time
}

// NewDetector creates a detector. resources and consensus may be nil,
// which disables the rules that depend on them.
func NewDetector(source TaskSource, resources ResourceFunc, opts Options) *Detector {
	def := DefaultOptions()
	if opts.Window <= 0 {
		opts.Window = def.Window
	}
	if opts.MonitorInterval <= 0 {
		opts.MonitorInterval = def.MonitorInterval
	}
	if opts.TrendWindow <= 0 {
		opts.TrendWindow = def.TrendWindow
	}
	return &Detector{
		source:    source,
		resources: resources,
		opts:      opts,
		now:       time.Now,
	}
}

// SetConsensusStats wires the consensus telemetry source
func (d *Detector) SetConsensusStats(fn func() ConsensusStats) {
	d.consensus = fn
}

// OnReport registers a callback invoked by the continuous monitor for
// every pass that finds at least one bottleneck
func (d *Detector) OnReport(fn func(Report)) {
	d.mu.Lock()
	d.onReport = fn
	d.mu.Unlock()
}

// OnCycle registers a callback invoked once per continuous monitor pass,
// whether or not the pass finds bottlenecks. The coordinator uses it for
// periodic work that rides the monitor tick, such as evaluating the
// adaptive topology policy.
func (d *Detector) OnCycle(fn func()) {
	d.mu.Lock()
	d.onCycle = fn
	d.mu.Unlock()
}

// severityFor maps an impact score to a severity grade
func severityFor(impact float64) types.Severity {
	switch {
	case impact >= 0.8:
		return types.SeverityCritical
	case impact >= 0.6:
		return types.SeverityHigh
	case impact >= 0.4:
		return types.SeverityMedium
	default:
		return types.SeverityLow
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// agentWindow aggregates one agent's tasks over the detection window
type agentWindow struct {
	count     int
	failures  int
	totalMs   float64
	avgMs     float64
	successRt float64
}

// Detect runs one detection pass over the current window
func (d *Detector) Detect() Report {
	now := d.now()
	samples := d.source.Tasks(now.Add(-d.opts.Window))

	report := Report{GeneratedAt: now}
	report.Summary = summarize(samples)

	perAgent := make(map[string]*agentWindow)
	totalTokens := 0
	for _, m := range samples {
		w := perAgent[m.AgentID]
		if w == nil {
			w = &agentWindow{}
			perAgent[m.AgentID] = w
		}
		w.count++
		w.totalMs += m.DurationMs
		if m.Result != types.TaskResultSuccess {
			w.failures++
		}
		totalTokens += m.TokensUsed
	}
	for _, w := range perAgent {
		w.avgMs = w.totalMs / float64(w.count)
		w.successRt = float64(w.count-w.failures) / float64(w.count)
	}

	var usage types.ResourceUsage
	if d.resources != nil {
		usage = d.resources()
	}

	// Track the per-pass token average for the exhaustion trend.
	var tokenTrend metrics.Trend
	var trendKnown bool
	if len(samples) > 0 {
		avgTokens := float64(totalTokens) / float64(len(samples))
		d.mu.Lock()
		d.tokenHistory = append(d.tokenHistory, avgTokens)
		if max := 2 * d.opts.TrendWindow; len(d.tokenHistory) > max {
			d.tokenHistory = d.tokenHistory[len(d.tokenHistory)-max:]
		}
		if len(d.tokenHistory) >= 2*d.opts.TrendWindow {
			tokenTrend = metrics.ClassifyTrend(d.tokenHistory, d.opts.TrendWindow, false)
			trendKnown = true
		}
		d.mu.Unlock()
	}

	if b := d.detectTokenExhaustion(usage, tokenTrend, trendKnown, now); b != nil {
		report.Bottlenecks = append(report.Bottlenecks, *b)
	}
	if b := d.detectQuotaExceeded(usage, now); b != nil {
		report.Bottlenecks = append(report.Bottlenecks, *b)
	}
	if b := d.detectSlowAgents(samples, perAgent, now); b != nil {
		report.Bottlenecks = append(report.Bottlenecks, *b)
	}
	if b := d.detectQueueBacklog(usage, now); b != nil {
		report.Bottlenecks = append(report.Bottlenecks, *b)
	}
	if b := d.detectConsensusTimeout(now); b != nil {
		report.Bottlenecks = append(report.Bottlenecks, *b)
	}

	for _, b := range report.Bottlenecks {
		metrics.BottlenecksDetected.WithLabelValues(string(b.Kind), string(b.Severity)).Inc()
	}
	return report
}

func summarize(samples []types.TaskMetric) types.TaskStats {
	stats := types.TaskStats{Count: len(samples)}
	if stats.Count == 0 {
		return stats
	}
	durations := make([]float64, 0, len(samples))
	successes := 0
	total := 0.0
	for _, m := range samples {
		durations = append(durations, m.DurationMs)
		total += m.DurationMs
		stats.TotalTokens += m.TokensUsed
		if m.Result == types.TaskResultSuccess {
			successes++
		}
	}
	stats.SuccessRate = float64(successes) / float64(stats.Count)
	stats.AvgDurationMs = total / float64(stats.Count)
	stats.P50Ms = metrics.Percentile(durations, 50)
	stats.P95Ms = metrics.Percentile(durations, 95)
	stats.P99Ms = metrics.Percentile(durations, 99)
	return stats
}

// detectTokenExhaustion fires when the budget is over 80% consumed. An
// established token trend must be degrading to confirm; when fewer than
// two trend windows of history exist, the ratio alone decides.
func (d *Detector) detectTokenExhaustion(usage types.ResourceUsage, trend metrics.Trend, trendKnown bool, now time.Time) *types.Bottleneck {
	if usage.Tokens.Budget <= 0 {
		return nil
	}
	ratio := float64(usage.Tokens.Consumed) / float64(usage.Tokens.Budget)
	if ratio <= tokenRatioThreshold {
		return nil
	}
	if trendKnown && trend != metrics.TrendDegrading {
		return nil
	}

	impact := clamp01(ratio)
	return &types.Bottleneck{
		ID:       uuid.New().String(),
		Kind:     types.BottleneckTokenExhaustion,
		Severity: severityFor(impact),
		Impact:   impact,
		Evidence: map[string]interface{}{
			"budget":    usage.Tokens.Budget,
			"consumed":  usage.Tokens.Consumed,
			"remaining": usage.Tokens.Remaining,
			"ratio":     ratio,
		},
		Recommendations: []string{
			"reduce per-task token budgets",
			"defer low-priority tasks until the budget window resets",
		},
		DetectedAt: now,
	}
}

// detectQuotaExceeded fires at 90% agent slot usage; pending work
// escalates the impact.
func (d *Detector) detectQuotaExceeded(usage types.ResourceUsage, now time.Time) *types.Bottleneck {
	if usage.Agents.Quota <= 0 {
		return nil
	}
	ratio := float64(usage.Agents.Active) / float64(usage.Agents.Quota)
	if ratio < quotaRatioThreshold {
		return nil
	}

	impact := clamp01(ratio + float64(usage.Queue.PendingTasks)/200)
	return &types.Bottleneck{
		ID:       uuid.New().String(),
		Kind:     types.BottleneckQuotaExceeded,
		Severity: severityFor(impact),
		Impact:   impact,
		Evidence: map[string]interface{}{
			"quota":         usage.Agents.Quota,
			"active":        usage.Agents.Active,
			"available":     usage.Agents.Available,
			"pending_tasks": usage.Queue.PendingTasks,
		},
		Recommendations: []string{
			"raise the agent quota",
			"terminate idle agents to free slots",
		},
		DetectedAt: now,
	}
}

// detectSlowAgents flags agents whose average duration exceeds twice the
// swarm average while their success rate is under the floor. Impact sums
// the affected task share, how far past 2x the worst offender runs, and
// the offenders' failure share of the window.
func (d *Detector) detectSlowAgents(samples []types.TaskMetric, perAgent map[string]*agentWindow, now time.Time) *types.Bottleneck {
	if len(samples) == 0 || len(perAgent) < 2 {
		return nil
	}

	total := 0.0
	for _, m := range samples {
		total += m.DurationMs
	}
	swarmAvg := total / float64(len(samples))
	if swarmAvg == 0 {
		return nil
	}

	var slowIDs []string
	affectedTasks, affectedFailures := 0, 0
	worstExcess := 0.0
	for id, w := range perAgent {
		if w.avgMs > slowAgentFactor*swarmAvg && w.successRt < slowAgentSuccessFloor {
			slowIDs = append(slowIDs, id)
			affectedTasks += w.count
			affectedFailures += w.failures
			if excess := w.avgMs/(slowAgentFactor*swarmAvg) - 1; excess > worstExcess {
				worstExcess = excess
			}
		}
	}
	if len(slowIDs) == 0 {
		return nil
	}

	affectedRatio := float64(affectedTasks) / float64(len(samples))
	failureRate := float64(affectedFailures) / float64(len(samples))
	impact := clamp01(affectedRatio + clamp01(worstExcess) + failureRate)

	return &types.Bottleneck{
		ID:          uuid.New().String(),
		Kind:        types.BottleneckSlowAgent,
		Severity:    severityFor(impact),
		Impact:      impact,
		AffectedIDs: slowIDs,
		Evidence: map[string]interface{}{
			"swarm_avg_ms":   swarmAvg,
			"affected_tasks": affectedTasks,
			"window_tasks":   len(samples),
		},
		Recommendations: []string{
			fmt.Sprintf("inspect agents %v for stuck work", slowIDs),
			"rebalance task assignment away from slow agents",
		},
		DetectedAt: now,
	}
}

// detectQueueBacklog fires past 50 pending tasks; stuck high-priority
// work escalates the impact.
func (d *Detector) detectQueueBacklog(usage types.ResourceUsage, now time.Time) *types.Bottleneck {
	pending := usage.Queue.PendingTasks
	if pending <= queueBacklogThreshold {
		return nil
	}

	impact := float64(pending) / 200
	if high := usage.Queue.ByPriority["high"]; high > 0 {
		impact += float64(high) / 100
	}
	impact = clamp01(impact)

	return &types.Bottleneck{
		ID:       uuid.New().String(),
		Kind:     types.BottleneckQueueBacklog,
		Severity: severityFor(impact),
		Impact:   impact,
		Evidence: map[string]interface{}{
			"pending_tasks": pending,
			"by_priority":   usage.Queue.ByPriority,
		},
		Recommendations: []string{
			"spawn additional agents to absorb the backlog",
			"shed or defer low-priority tasks",
		},
		DetectedAt: now,
	}
}

// detectConsensusTimeout fires on low proposal completion or slow
// decisions. Without wired consensus telemetry the rule is inert.
func (d *Detector) detectConsensusTimeout(now time.Time) *types.Bottleneck {
	if d.consensus == nil {
		return nil
	}
	stats := d.consensus()
	if stats.Samples == 0 {
		return nil
	}
	slowDecisions := stats.AvgDecisionMs > float64(consensusDecisionMax/time.Millisecond)
	if stats.CompletionRate >= consensusRateFloor && !slowDecisions {
		return nil
	}

	impact := clamp01(1 - stats.CompletionRate)
	if slowDecisions {
		impact = clamp01(impact + 0.4)
	}
	return &types.Bottleneck{
		ID:       uuid.New().String(),
		Kind:     types.BottleneckConsensusTimeout,
		Severity: severityFor(impact),
		Impact:   impact,
		Evidence: map[string]interface{}{
			"completion_rate": stats.CompletionRate,
			"avg_decision_ms": stats.AvgDecisionMs,
			"samples":         stats.Samples,
		},
		Recommendations: []string{
			"lower the consensus threshold for non-critical decisions",
			"investigate unresponsive voters",
		},
		DetectedAt: now,
	}
}

// MonitorContinuously starts a single worker that runs a detection pass
// every interval and emits non-empty reports through the OnReport
// callback. A second call while running is a no-op.
func (d *Detector) MonitorContinuously(interval time.Duration) {
	if interval <= 0 {
		interval = d.opts.MonitorInterval
	}

	d.workerMu.Lock()
	defer d.workerMu.Unlock()
	if d.stopCh != nil {
		return
	}
	d.stopCh = make(chan struct{})
	d.doneCh = make(chan struct{})

	go func(stopCh, doneCh chan struct{}) {
		defer close(doneCh)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stopCh:
				return
			case <-ticker.C:
				d.mu.Lock()
				cycle := d.onCycle
				d.mu.Unlock()
				if cycle != nil {
					cycle()
				}
				report := d.Detect()
				if len(report.Bottlenecks) == 0 {
					continue
				}
				log.Logger.Warn().
					Int("bottlenecks", len(report.Bottlenecks)).
					Int("task_count", report.Summary.Count).
					Msg("bottlenecks detected")
				d.mu.Lock()
				fn := d.onReport
				d.mu.Unlock()
				if fn != nil {
					fn(report)
				}
			}
		}
	}(d.stopCh, d.doneCh)
}

// StopMonitoring tears the worker down and waits for it to exit. Safe to
// call when no worker is running.
func (d *Detector) StopMonitoring() {
	d.workerMu.Lock()
	stopCh, doneCh := d.stopCh, d.doneCh
	d.stopCh, d.doneCh = nil, nil
	d.workerMu.Unlock()

	if stopCh == nil {
		return
	}
	close(stopCh)
	<-doneCh
}
