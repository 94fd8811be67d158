package metrics

import (
	"sync"
	"time"

	"github.com/gammazero/deque"
	"go.uber.org/atomic"

	"github.com/moai-flow/swarm/pkg/log"
	"github.com/moai-flow/swarm/pkg/store"
	"github.com/moai-flow/swarm/pkg/types"
)

type entryKind int

const (
	taskEntry entryKind = iota
	agentEntry
	swarmEntry
)

// entry is one queued metric submission
type entry struct {
	kind  entryKind
	task  types.TaskMetric
	agent types.AgentMetric
	swarm types.SwarmMetric
}

// Options configures the collector pipeline
type Options struct {
	// Async selects the queued write path; sync mode writes inline
	Async bool

	// QueueCapacity bounds the async queue; producers never block
	QueueCapacity int

	// BatchSize flushes a batch once this many entries accumulate
	BatchSize int

	// BatchTimeout flushes a partial batch after this long
	BatchTimeout time.Duration

	// ShutdownGrace bounds the final drain on shutdown
	ShutdownGrace time.Duration

	// ReservoirSize bounds the in-memory sample window used for
	// percentile queries
	ReservoirSize int
}

// DefaultOptions mirrors the metrics config defaults
func DefaultOptions() Options {
	return Options{
		Async:         true,
		QueueCapacity: 10000,
		BatchSize:     64,
		BatchTimeout:  50 * time.Millisecond,
		ShutdownGrace: 5 * time.Second,
		ReservoirSize: 1024,
	}
}

// Collector accepts metric submissions with minimal overhead. In async
// mode one worker drains a bounded queue and writes batches to the
// store; a full queue drops the metric and bumps a counter rather than
// blocking the producer. Storage errors are logged and counted but
// never propagate to callers.
type Collector struct {
	store *store.Store // nil disables persistence
	opts  Options

	queue   chan entry
	dropped atomic.Int64

	mu        sync.Mutex
	reservoir deque.Deque[types.TaskMetric]

	stopCh chan struct{}
	doneCh chan struct{}
	once   sync.Once
}

// NewCollector creates a collector. st may be nil, in which case metrics
// live only in the reservoir and Prometheus instruments. The drain
// worker starts immediately in async mode.
func NewCollector(st *store.Store, opts Options) *Collector {
	def := DefaultOptions()
	if opts.QueueCapacity <= 0 {
		opts.QueueCapacity = def.QueueCapacity
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = def.BatchSize
	}
	if opts.BatchTimeout <= 0 {
		opts.BatchTimeout = def.BatchTimeout
	}
	if opts.ShutdownGrace <= 0 {
		opts.ShutdownGrace = def.ShutdownGrace
	}
	if opts.ReservoirSize <= 0 {
		opts.ReservoirSize = def.ReservoirSize
	}

	c := &Collector{
		store:  st,
		opts:   opts,
		queue:  make(chan entry, opts.QueueCapacity),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	if opts.Async {
		go c.drain()
	} else {
		close(c.doneCh)
	}
	return c
}

// RecordTaskMetric records one finished task
func (c *Collector) RecordTaskMetric(m types.TaskMetric) {
	if m.DurationMs == 0 && !m.FinishedAt.IsZero() && !m.StartedAt.IsZero() {
		m.DurationMs = float64(m.FinishedAt.Sub(m.StartedAt)) / float64(time.Millisecond)
	}

	TasksRecorded.WithLabelValues(string(m.Result)).Inc()
	TaskDuration.Observe(m.DurationMs / 1000)

	c.mu.Lock()
	if c.reservoir.Len() >= c.opts.ReservoirSize {
		c.reservoir.PopFront()
	}
	c.reservoir.PushBack(m)
	c.mu.Unlock()

	c.submit(entry{kind: taskEntry, task: m})
}

// RecordAgentMetric records a numeric observation about one agent
func (c *Collector) RecordAgentMetric(agentID, metricType string, value float64) {
	c.submit(entry{kind: agentEntry, agent: types.AgentMetric{
		AgentID:    agentID,
		MetricType: metricType,
		Value:      value,
		Timestamp:  time.Now(),
	}})
}

// RecordSwarmMetric records a numeric observation about the whole swarm
func (c *Collector) RecordSwarmMetric(swarmID, metricType string, value float64) {
	c.submit(entry{kind: swarmEntry, swarm: types.SwarmMetric{
		SwarmID:    swarmID,
		MetricType: metricType,
		Value:      value,
		Timestamp:  time.Now(),
	}})
}

// submit routes an entry to the queue or, in sync mode, writes inline
func (c *Collector) submit(e entry) {
	if c.store == nil {
		return
	}
	if !c.opts.Async {
		c.persist([]entry{e})
		return
	}

	select {
	case c.queue <- e:
		MetricsQueueDepth.Set(float64(len(c.queue)))
	default:
		c.dropped.Inc()
		MetricsDropped.Inc()
	}
}

// Dropped reports how many metrics were discarded on queue overflow
func (c *Collector) Dropped() int64 {
	return c.dropped.Load()
}

// drain is the single worker batching queue entries into store writes
func (c *Collector) drain() {
	defer close(c.doneCh)

	batch := make([]entry, 0, c.opts.BatchSize)
	ticker := time.NewTicker(c.opts.BatchTimeout)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		c.persist(batch)
		batch = batch[:0]
	}

	for {
		select {
		case e := <-c.queue:
			batch = append(batch, e)
			MetricsQueueDepth.Set(float64(len(c.queue)))
			if len(batch) >= c.opts.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-c.stopCh:
			// Final drain, bounded by the grace period.
			deadline := time.Now().Add(c.opts.ShutdownGrace)
			for time.Now().Before(deadline) {
				select {
				case e := <-c.queue:
					batch = append(batch, e)
					if len(batch) >= c.opts.BatchSize {
						flush()
					}
					continue
				default:
				}
				break
			}
			flush()
			MetricsQueueDepth.Set(0)
			return
		}
	}
}

// persist groups a batch by kind and writes each group in one store call
func (c *Collector) persist(batch []entry) {
	var tasks []types.TaskMetric
	var agents []types.AgentMetric
	var swarms []types.SwarmMetric
	for _, e := range batch {
		switch e.kind {
		case taskEntry:
			tasks = append(tasks, e.task)
		case agentEntry:
			agents = append(agents, e.agent)
		case swarmEntry:
			swarms = append(swarms, e.swarm)
		}
	}

	if len(tasks) > 0 {
		if err := c.store.InsertTaskMetrics(tasks); err != nil {
			c.logStorageError("task", err)
		}
	}
	if len(agents) > 0 {
		if err := c.store.InsertAgentMetrics(agents); err != nil {
			c.logStorageError("agent", err)
		}
	}
	if len(swarms) > 0 {
		if err := c.store.InsertSwarmMetrics(swarms); err != nil {
			c.logStorageError("swarm", err)
		}
	}
}

func (c *Collector) logStorageError(kind string, err error) {
	MetricsStorageErrors.Inc()
	log.Logger.Error().Err(err).Str("metric_kind", kind).Msg("failed to persist metric batch")
}

// samples returns reservoir task metrics matching the filter, unioned
// with stored rows when persistence is enabled. Reservoir entries win on
// task ID collisions.
func (c *Collector) samples(agentID string, since time.Time) []types.TaskMetric {
	c.mu.Lock()
	recent := make([]types.TaskMetric, 0, c.reservoir.Len())
	for i := 0; i < c.reservoir.Len(); i++ {
		m := c.reservoir.At(i)
		if agentID != "" && m.AgentID != agentID {
			continue
		}
		if !since.IsZero() && m.FinishedAt.Before(since) {
			continue
		}
		recent = append(recent, m)
	}
	c.mu.Unlock()

	if c.store == nil {
		return recent
	}

	stored, err := c.store.TaskMetricsSince(since, agentID)
	if err != nil {
		c.logStorageError("task", err)
		return recent
	}

	seen := make(map[string]bool, len(recent))
	for _, m := range recent {
		seen[m.TaskID] = true
	}
	for _, m := range stored {
		if !seen[m.TaskID] {
			recent = append(recent, m)
		}
	}
	return recent
}

// Tasks returns the task metrics recorded at or after since, across all
// agents. The bottleneck detector pulls its detection window through
// this.
func (c *Collector) Tasks(since time.Time) []types.TaskMetric {
	return c.samples("", since)
}

// TaskStats summarizes task metrics, optionally filtered by agent and
// window start. Percentiles use nearest-rank selection on the samples.
func (c *Collector) TaskStats(agentID string, since time.Time) types.TaskStats {
	samples := c.samples(agentID, since)
	stats := types.TaskStats{Count: len(samples)}
	if stats.Count == 0 {
		return stats
	}

	durations := make([]float64, 0, len(samples))
	successes := 0
	totalDuration := 0.0
	for _, m := range samples {
		durations = append(durations, m.DurationMs)
		totalDuration += m.DurationMs
		stats.TotalTokens += m.TokensUsed
		if m.Result == types.TaskResultSuccess {
			successes++
		}
	}

	stats.SuccessRate = float64(successes) / float64(stats.Count)
	stats.AvgDurationMs = totalDuration / float64(stats.Count)
	stats.P50Ms = Percentile(durations, 50)
	stats.P95Ms = Percentile(durations, 95)
	stats.P99Ms = Percentile(durations, 99)
	return stats
}

// AgentPerformance summarizes one agent's full task history
func (c *Collector) AgentPerformance(agentID string) types.AgentPerformance {
	stats := c.TaskStats(agentID, time.Time{})
	perf := types.AgentPerformance{
		AgentID:       agentID,
		TaskCount:     stats.Count,
		AvgDurationMs: stats.AvgDurationMs,
		SuccessRate:   stats.SuccessRate,
	}
	if stats.Count > 0 {
		perf.ErrorRate = 1 - stats.SuccessRate
	}
	return perf
}

// Shutdown stops the drain worker after flushing queued entries, bounded
// by the grace period. Safe to call more than once.
func (c *Collector) Shutdown() {
	c.once.Do(func() {
		close(c.stopCh)
	})
	<-c.doneCh
}
