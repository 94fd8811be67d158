package heartbeat

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gammazero/deque"

	"github.com/moai-flow/swarm/pkg/log"
	"github.com/moai-flow/swarm/pkg/types"
)

// ErrNotMonitored is returned for agents without an active monitor record
var ErrNotMonitored = errors.New("heartbeat: agent not monitored")

// Beat is one recorded heartbeat
type Beat struct {
	Timestamp time.Time
	Metadata  map[string]interface{}
}

// AlertFunc is invoked on a health state transition
type AlertFunc func(agentID string, from, to types.Health)

// Alerts holds the per-severity transition callbacks. A callback fires
// when an agent enters the corresponding state.
type Alerts struct {
	OnDegraded AlertFunc
	OnCritical AlertFunc
	OnFailed   AlertFunc
}

// Options configures the monitor defaults
type Options struct {
	// Interval is the expected gap between heartbeats
	Interval time.Duration

	// FailureThreshold is the number of missed intervals after which an
	// agent is FAILED
	FailureThreshold int

	// HistorySize bounds each agent's heartbeat ring buffer
	HistorySize int

	// CheckInterval is the sweeper wake period
	CheckInterval time.Duration
}

// DefaultOptions mirrors the heartbeat config defaults
func DefaultOptions() Options {
	return Options{
		Interval:         5 * time.Second,
		FailureThreshold: 3,
		HistorySize:      100,
		CheckInterval:    time.Second,
	}
}

// record is the per-agent monitor state. Its mutex confines heartbeat
// contention to a single agent.
type record struct {
	mu         sync.Mutex
	history    deque.Deque[Beat]
	interval   time.Duration
	threshold  int
	lastSeen   time.Time
	lastHealth types.Health
}

// Monitor classifies agent liveness and alerts on transitions. A single
// background sweeper re-derives every agent's health each check interval.
type Monitor struct {
	mu     sync.RWMutex
	agents map[string]*record

	alertMu    sync.RWMutex
	alerts     Alerts
	transition AlertFunc

	opts   Options
	now    func() time.Time
	stopCh chan struct{}
	doneCh chan struct{}
	once   sync.Once
}

// NewMonitor creates a monitor and starts its sweeper
func NewMonitor(opts Options) *Monitor {
	if opts.Interval <= 0 {
		opts.Interval = DefaultOptions().Interval
	}
	if opts.FailureThreshold <= 0 {
		opts.FailureThreshold = DefaultOptions().FailureThreshold
	}
	if opts.HistorySize <= 0 {
		opts.HistorySize = DefaultOptions().HistorySize
	}
	if opts.CheckInterval <= 0 {
		opts.CheckInterval = DefaultOptions().CheckInterval
	}

	m := &Monitor{
		agents: make(map[string]*record),
		opts:   opts,
		now:    time.Now,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	go m.sweep()
	return m
}

// StartMonitoring begins tracking an agent. Zero interval or threshold
// falls back to the monitor defaults. The agent starts HEALTHY with its
// registration time as the first "last seen" mark.
func (m *Monitor) StartMonitoring(agentID string, interval time.Duration, threshold int) {
	if interval <= 0 {
		interval = m.opts.Interval
	}
	if threshold <= 0 {
		threshold = m.opts.FailureThreshold
	}

	rec := &record{
		interval:   interval,
		threshold:  threshold,
		lastSeen:   m.now(),
		lastHealth: types.HealthHealthy,
	}

	m.mu.Lock()
	m.agents[agentID] = rec
	m.mu.Unlock()
}

// StopMonitoring removes the agent's record
func (m *Monitor) StopMonitoring(agentID string) {
	m.mu.Lock()
	delete(m.agents, agentID)
	m.mu.Unlock()
}

func (m *Monitor) lookup(agentID string) (*record, error) {
	m.mu.RLock()
	rec, ok := m.agents[agentID]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotMonitored, agentID)
	}
	return rec, nil
}

// RecordHeartbeat appends to the agent's ring buffer and refreshes the
// last-seen mark. Contention is confined to the one agent's record.
func (m *Monitor) RecordHeartbeat(agentID string, metadata map[string]interface{}) error {
	rec, err := m.lookup(agentID)
	if err != nil {
		return err
	}

	ts := m.now()
	rec.mu.Lock()
	if rec.history.Len() >= m.opts.HistorySize {
		rec.history.PopFront()
	}
	rec.history.PushBack(Beat{Timestamp: ts, Metadata: metadata})
	rec.lastSeen = ts
	rec.mu.Unlock()
	return nil
}

// health derives the state from heartbeat age; callers hold rec.mu
func (rec *record) health(now time.Time) types.Health {
	age := now.Sub(rec.lastSeen)
	switch {
	case age <= rec.interval:
		return types.HealthHealthy
	case age <= 2*rec.interval:
		return types.HealthDegraded
	case age <= time.Duration(rec.threshold)*rec.interval:
		return types.HealthCritical
	default:
		return types.HealthFailed
	}
}

// CheckAgentHealth derives the agent's health on demand
func (m *Monitor) CheckAgentHealth(agentID string) (types.Health, error) {
	rec, err := m.lookup(agentID)
	if err != nil {
		return "", err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.health(m.now()), nil
}

// UnhealthyAgents returns IDs whose current health is at least as severe
// as min. UnhealthyAgents(FAILED) is always a subset of
// UnhealthyAgents(DEGRADED).
func (m *Monitor) UnhealthyAgents(min types.Health) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := m.now()
	var out []string
	for id, rec := range m.agents {
		rec.mu.Lock()
		h := rec.health(now)
		rec.mu.Unlock()
		if h.Rank() >= min.Rank() {
			out = append(out, id)
		}
	}
	return out
}

// History returns a copy of the agent's heartbeats recorded at or after
// since. A zero since returns the full buffer.
func (m *Monitor) History(agentID string, since time.Time) ([]Beat, error) {
	rec, err := m.lookup(agentID)
	if err != nil {
		return nil, err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	out := make([]Beat, 0, rec.history.Len())
	for i := 0; i < rec.history.Len(); i++ {
		b := rec.history.At(i)
		if since.IsZero() || !b.Timestamp.Before(since) {
			out = append(out, b)
		}
	}
	return out, nil
}

// ConfigureAlerts replaces the transition callbacks
func (m *Monitor) ConfigureAlerts(a Alerts) {
	m.alertMu.Lock()
	m.alerts = a
	m.alertMu.Unlock()
}

// OnTransition registers a callback fired on every health transition, in
// addition to the per-severity alerts. The coordinator uses this to emit
// health_changed events.
func (m *Monitor) OnTransition(fn AlertFunc) {
	m.alertMu.Lock()
	m.transition = fn
	m.alertMu.Unlock()
}

// sweep is the single long-lived worker re-deriving health states
func (m *Monitor) sweep() {
	defer close(m.doneCh)

	ticker := time.NewTicker(m.opts.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.sweepOnce()
		}
	}
}

// sweepOnce derives every agent's health and emits one alert per
// transition, deduplicated against the previously observed state.
func (m *Monitor) sweepOnce() {
	now := m.now()

	type change struct {
		id       string
		from, to types.Health
	}
	var changes []change

	m.mu.RLock()
	for id, rec := range m.agents {
		rec.mu.Lock()
		h := rec.health(now)
		if h != rec.lastHealth {
			changes = append(changes, change{id: id, from: rec.lastHealth, to: h})
			rec.lastHealth = h
		}
		rec.mu.Unlock()
	}
	m.mu.RUnlock()

	if len(changes) == 0 {
		return
	}
	// Deterministic callback order regardless of map iteration.
	sort.Slice(changes, func(i, j int) bool { return changes[i].id < changes[j].id })

	m.alertMu.RLock()
	alerts := m.alerts
	transition := m.transition
	m.alertMu.RUnlock()

	for _, c := range changes {
		log.Logger.Debug().
			Str("agent_id", c.id).
			Str("from", string(c.from)).
			Str("to", string(c.to)).
			Msg("agent health transition")

		var fn AlertFunc
		switch c.to {
		case types.HealthDegraded:
			fn = alerts.OnDegraded
		case types.HealthCritical:
			fn = alerts.OnCritical
		case types.HealthFailed:
			fn = alerts.OnFailed
		}
		if fn != nil {
			fn(c.id, c.from, c.to)
		}
		if transition != nil {
			transition(c.id, c.from, c.to)
		}
	}
}

// Shutdown stops the sweeper and waits for it to exit. Safe to call
// more than once.
func (m *Monitor) Shutdown() {
	m.once.Do(func() {
		close(m.stopCh)
	})
	<-m.doneCh
}
