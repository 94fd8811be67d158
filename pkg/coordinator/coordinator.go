package coordinator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/moai-flow/swarm/pkg/bottleneck"
	"github.com/moai-flow/swarm/pkg/config"
	"github.com/moai-flow/swarm/pkg/consensus"
	"github.com/moai-flow/swarm/pkg/heartbeat"
	"github.com/moai-flow/swarm/pkg/hooks"
	"github.com/moai-flow/swarm/pkg/log"
	"github.com/moai-flow/swarm/pkg/memory"
	"github.com/moai-flow/swarm/pkg/metrics"
	"github.com/moai-flow/swarm/pkg/store"
	"github.com/moai-flow/swarm/pkg/topology"
	"github.com/moai-flow/swarm/pkg/types"
)

// Lifecycle events fired through the hook system
const (
	EventAgentSpawn        = "agent_spawn"
	EventAgentUnregister   = "agent_unregister"
	EventPreSend           = "pre_send"
	EventPostSend          = "post_send"
	EventHealthChanged     = "health_changed"
	EventTopologyChanged   = "topology_changed"
	EventStateSynchronized = "state_synchronized"
	EventBottleneck        = "bottleneck_detected"
	EventPreConsensus      = "pre_consensus"
	EventPostConsensus     = "post_consensus"
)

// ErrorEvent derives the failure event name for an operation event, e.g.
// pre_send -> pre_send_error
func ErrorEvent(event string) string {
	return event + "_error"
}

var (
	// ErrDuplicateAgent is returned when an agent ID is already registered
	ErrDuplicateAgent = errors.New("coordinator: duplicate agent")

	// ErrUnknownAgent is returned when an agent ID is not registered
	ErrUnknownAgent = errors.New("coordinator: unknown agent")

	// ErrInvalidState is returned for a forbidden state transition or an
	// operation on an agent whose state forbids it
	ErrInvalidState = errors.New("coordinator: invalid agent state")
)

// TopologyInfo is the read-only connectivity snapshot
type TopologyInfo struct {
	Type            types.TopologyKind
	AgentCount      int
	ConnectionCount int
	ActiveAgents    int
	FailedAgents    int
	Health          string // ok, degraded, critical
}

// syncEntry is one key in the synchronized state map
type syncEntry struct {
	value   interface{}
	version uint64
}

// Coordinator is the single entry point composing the swarm subsystems:
// agent registry, topology, hook dispatcher, heartbeat monitor, metrics
// collector, bottleneck detector, and consensus engine. One lock guards
// the registry and the topology graph jointly; they change together.
type Coordinator struct {
	cfg *config.Config

	mu       sync.RWMutex
	agents   map[string]*types.Agent
	topo     topology.Topology
	failedAt map[string]time.Time

	stateMu sync.Mutex
	state   map[string]*syncEntry

	hooks     *hooks.Registry
	monitor   *heartbeat.Monitor
	collector *metrics.Collector
	detector  *bottleneck.Detector
	raft      *consensus.Raft
	store     *store.Store
	logStore  consensus.LogStore
	memory    *memory.Semantic

	resMu     sync.RWMutex
	resources bottleneck.ResourceFunc
	onMessage func(types.Message)

	shutdownOnce sync.Once
}

// New builds a coordinator from the config and starts the four
// long-lived workers: metrics drain, heartbeat sweeper, consensus
// ticker, and bottleneck monitor. A non-empty DataDir enables the
// persistent store and the durable consensus log.
func New(cfg *config.Config) (*Coordinator, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	topo, err := topology.New(cfg.Topology.Type)
	if err != nil {
		return nil, err
	}

	c := &Coordinator{
		cfg:      cfg,
		agents:   make(map[string]*types.Agent),
		topo:     topo,
		failedAt: make(map[string]time.Time),
		state:    make(map[string]*syncEntry),
	}

	var logStore consensus.LogStore
	if cfg.DataDir != "" {
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data dir: %w", err)
		}
		st, err := store.Open(cfg.DataDir)
		if err != nil {
			return nil, err
		}
		c.store = st
		c.memory = memory.NewSemantic(st)

		bls, err := consensus.NewBoltLogStore(cfg.DataDir)
		if err != nil {
			st.Close()
			return nil, err
		}
		logStore = bls
	} else {
		logStore = consensus.NewMemoryLogStore()
	}
	c.logStore = logStore

	c.hooks = hooks.NewRegistry(hooks.Options{
		DefaultSyncTimeout:  time.Duration(cfg.Hooks.DefaultSyncTimeoutMs) * time.Millisecond,
		DefaultAsyncTimeout: time.Duration(cfg.Hooks.DefaultAsyncTimeoutMs) * time.Millisecond,
		AsyncConcurrency:    int64(cfg.Hooks.AsyncConcurrency),
		GracefulDegradation: cfg.Hooks.GracefulDegradation,
		MaxRetries:          cfg.Hooks.MaxRetries,
	})

	c.monitor = heartbeat.NewMonitor(heartbeat.Options{
		Interval:         time.Duration(cfg.Heartbeat.IntervalMs) * time.Millisecond,
		FailureThreshold: cfg.Heartbeat.FailureThreshold,
		HistorySize:      cfg.Heartbeat.HistorySize,
		CheckInterval:    time.Duration(cfg.Heartbeat.CheckIntervalMs) * time.Millisecond,
	})
	c.monitor.OnTransition(c.onHealthTransition)

	c.collector = metrics.NewCollector(c.store, metrics.Options{
		Async:         cfg.Metrics.AsyncMode,
		QueueCapacity: cfg.Metrics.QueueCapacity,
		BatchSize:     cfg.Metrics.BatchSize,
		BatchTimeout:  time.Duration(cfg.Metrics.BatchTimeoutMs) * time.Millisecond,
	})

	raft, err := consensus.NewRaft(c.membership, logStore, consensus.Options{
		ElectionTimeout:   cfg.Consensus.ElectionTimeout(),
		HeartbeatInterval: cfg.Consensus.HeartbeatInterval(),
		Threshold:         cfg.Consensus.Threshold,
	})
	if err != nil {
		c.closeStores()
		return nil, err
	}
	c.raft = raft

	c.detector = bottleneck.NewDetector(c.collector, c.resourceSnapshot, bottleneck.Options{
		Window:          time.Duration(cfg.Bottleneck.DetectionWindowMs) * time.Millisecond,
		MonitorInterval: time.Duration(cfg.Bottleneck.MonitorIntervalMs) * time.Millisecond,
	})
	c.detector.OnReport(c.onBottleneckReport)
	c.detector.OnCycle(c.evaluateTopology)
	c.detector.SetConsensusStats(func() bottleneck.ConsensusStats {
		s := raft.Stats()
		return bottleneck.ConsensusStats{
			CompletionRate: s.CompletionRate(),
			AvgDecisionMs:  s.AvgDecisionMs,
			Samples:        s.Proposals,
		}
	})

	c.raft.Start()
	c.detector.MonitorContinuously(time.Duration(cfg.Bottleneck.MonitorIntervalMs) * time.Millisecond)

	log.Logger.Info().
		Str("swarm_id", cfg.SwarmID).
		Str("topology", string(cfg.Topology.Type)).
		Bool("persistent", c.store != nil).
		Msg("swarm coordinator started")
	return c, nil
}

// Subsystem accessors for in-process callers holding the coordinator.

func (c *Coordinator) Hooks() *hooks.Registry { return c.hooks }

func (c *Coordinator) Metrics() *metrics.Collector { return c.collector }

func (c *Coordinator) Heartbeats() *heartbeat.Monitor { return c.monitor }

func (c *Coordinator) Detector() *bottleneck.Detector { return c.detector }

func (c *Coordinator) Consensus() *consensus.Raft { return c.raft }

func (c *Coordinator) Store() *store.Store { return c.store }

func (c *Coordinator) Memory() *memory.Semantic { return c.memory }

// SetResourceController wires the external resource telemetry source the
// bottleneck detector pulls each cycle
func (c *Coordinator) SetResourceController(fn bottleneck.ResourceFunc) {
	c.resMu.Lock()
	c.resources = fn
	c.resMu.Unlock()
}

// SetMessageHandler registers the in-process delivery callback
func (c *Coordinator) SetMessageHandler(fn func(types.Message)) {
	c.resMu.Lock()
	c.onMessage = fn
	c.resMu.Unlock()
}

func (c *Coordinator) resourceSnapshot() types.ResourceUsage {
	c.resMu.RLock()
	fn := c.resources
	c.resMu.RUnlock()
	if fn == nil {
		return types.ResourceUsage{}
	}
	return fn()
}

// membership snapshots the registry for the consensus engine. Copies
// keep the engine from reading agent state that the registry lock is
// mutating.
func (c *Coordinator) membership() []*types.Agent {
	c.mu.RLock()
	defer c.mu.RUnlock()
	members := c.topo.Agents()
	out := make([]*types.Agent, 0, len(members))
	for _, a := range members {
		cp := *a
		out = append(out, &cp)
	}
	return out
}

// fire dispatches a lifecycle event through the hook registry, outside
// any coordinator lock
func (c *Coordinator) fire(event string, data map[string]interface{}) {
	metrics.HooksFired.WithLabelValues(event).Inc()
	hc := hooks.NewContext(event, data)
	results, err := c.hooks.Fire(context.Background(), event, hc)
	if err != nil {
		log.Logger.Error().Err(err).Str("event", event).Msg("hook dispatch failed")
	}
	for _, res := range results {
		if !res.Success {
			metrics.HookFailures.Inc()
		}
	}
}

// persistEvent writes a lifecycle event row when the store is enabled
func (c *Coordinator) persistEvent(eventType, agentID, agentType string, metadata map[string]interface{}) {
	if c.store == nil {
		return
	}
	err := c.store.InsertEvent(&types.Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		AgentID:   agentID,
		AgentType: agentType,
		Timestamp: time.Now(),
		Metadata:  metadata,
	})
	if err != nil {
		log.Logger.Error().Err(err).Str("event", eventType).Msg("failed to persist event")
	}
}

// refreshGauges recomputes membership gauges; callers hold c.mu
func (c *Coordinator) refreshGauges() {
	counts := make(map[types.AgentState]int)
	for _, a := range c.agents {
		counts[a.State]++
	}
	for _, state := range []types.AgentState{
		types.AgentStateActive, types.AgentStateIdle,
		types.AgentStateBusy, types.AgentStateFailed,
	} {
		metrics.AgentsTotal.WithLabelValues(string(state)).Set(float64(counts[state]))
	}
	metrics.TopologyConnections.Set(float64(c.topo.ConnectionCount()))
}

func metaString(metadata map[string]interface{}, key string) string {
	if metadata == nil {
		return ""
	}
	if v, ok := metadata[key].(string); ok {
		return v
	}
	return ""
}

// RegisterAgent adds an agent to the registry and topology, starts its
// heartbeat monitoring, and fires agent_spawn. Hierarchical topologies
// read the parent from metadata["parent_id"]. A duplicate ID fails and
// leaves all state unchanged.
func (c *Coordinator) RegisterAgent(id string, metadata map[string]interface{}) error {
	now := time.Now()
	agent := &types.Agent{
		ID:            id,
		Type:          metaString(metadata, "type"),
		Metadata:      metadata,
		State:         types.AgentStateActive,
		LastHeartbeat: now,
		ParentID:      metaString(metadata, "parent_id"),
		CreatedAt:     now,
	}

	c.mu.Lock()
	if _, exists := c.agents[id]; exists {
		c.mu.Unlock()
		c.fire(ErrorEvent(EventAgentSpawn), map[string]interface{}{"agent_id": id, "reason": "duplicate"})
		return fmt.Errorf("%w: %q", ErrDuplicateAgent, id)
	}
	if err := c.topo.AddAgent(agent); err != nil {
		c.mu.Unlock()
		c.fire(ErrorEvent(EventAgentSpawn), map[string]interface{}{"agent_id": id, "reason": err.Error()})
		return err
	}
	c.agents[id] = agent
	c.refreshGauges()
	c.mu.Unlock()

	c.monitor.StartMonitoring(id, 0, 0)

	if c.store != nil {
		if err := c.store.SaveAgentRecord(agent); err != nil {
			log.Logger.Error().Err(err).Str("agent_id", id).Msg("failed to persist agent record")
		}
	}
	c.persistEvent(EventAgentSpawn, id, agent.Type, metadata)
	c.fire(EventAgentSpawn, map[string]interface{}{"agent_id": id, "agent_type": agent.Type})

	log.Logger.Info().Str("agent_id", id).Str("agent_type", agent.Type).Msg("agent registered")
	return nil
}

// UnregisterAgent removes the agent everywhere. Idempotent: unknown IDs
// return false without error.
func (c *Coordinator) UnregisterAgent(id string) bool {
	c.mu.Lock()
	agent, exists := c.agents[id]
	if !exists {
		c.mu.Unlock()
		return false
	}
	if err := c.topo.RemoveAgent(id); err != nil {
		log.Logger.Error().Err(err).Str("agent_id", id).Msg("failed to remove agent from topology")
	}
	delete(c.agents, id)
	delete(c.failedAt, id)
	c.refreshGauges()
	c.mu.Unlock()

	c.monitor.StopMonitoring(id)

	if c.store != nil {
		if err := c.store.FinishAgentRecord(id, time.Now()); err != nil {
			log.Logger.Error().Err(err).Str("agent_id", id).Msg("failed to finish agent record")
		}
	}
	c.persistEvent(EventAgentUnregister, id, agent.Type, nil)
	c.fire(EventAgentUnregister, map[string]interface{}{"agent_id": id})

	log.Logger.Info().Str("agent_id", id).Msg("agent unregistered")
	return true
}

// deliver invokes the registered message handler, if any
func (c *Coordinator) deliver(msg types.Message) {
	c.resMu.RLock()
	fn := c.onMessage
	c.resMu.RUnlock()
	if fn != nil {
		fn(msg)
	}
}

// observeTraffic feeds the adaptive recorder when the topology is
// adaptive; callers hold c.mu
func (c *Coordinator) observeTraffic(from, to string) {
	if a, ok := c.topo.(*topology.Adaptive); ok {
		a.Traffic().Observe(from, to)
	}
}

// SendMessage delivers a best-effort in-process message between two
// registered agents. A FAILED sender is refused and its heartbeat is not
// updated.
func (c *Coordinator) SendMessage(fromID, toID string, payload interface{}) error {
	c.mu.Lock()
	sender, ok := c.agents[fromID]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrUnknownAgent, fromID)
	}
	if _, ok := c.agents[toID]; !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrUnknownAgent, toID)
	}
	if sender.State == types.AgentStateFailed {
		c.mu.Unlock()
		c.fire(ErrorEvent(EventPreSend), map[string]interface{}{"from": fromID, "reason": "sender failed"})
		return fmt.Errorf("%w: sender %q is FAILED", ErrInvalidState, fromID)
	}
	c.observeTraffic(fromID, toID)
	sender.LastHeartbeat = time.Now()
	c.mu.Unlock()

	msg := types.Message{
		ID:        uuid.New().String(),
		From:      fromID,
		To:        toID,
		Payload:   payload,
		Timestamp: time.Now(),
	}

	c.fire(EventPreSend, map[string]interface{}{"from": fromID, "to": toID})
	c.deliver(msg)
	if err := c.monitor.RecordHeartbeat(fromID, nil); err != nil {
		log.Logger.Debug().Err(err).Str("agent_id", fromID).Msg("sender heartbeat not recorded")
	}
	c.fire(EventPostSend, map[string]interface{}{"from": fromID, "to": toID, "message_id": msg.ID})
	return nil
}

// BroadcastMessage delivers to every broadcast target of the topology,
// minus the exclusions, and returns the recipient count. Each recipient
// gets an implicit heartbeat entry for the delivery.
func (c *Coordinator) BroadcastMessage(fromID string, payload interface{}, exclude ...string) (int, error) {
	excluded := make(map[string]bool, len(exclude))
	for _, id := range exclude {
		excluded[id] = true
	}

	c.mu.Lock()
	sender, ok := c.agents[fromID]
	if !ok {
		c.mu.Unlock()
		return 0, fmt.Errorf("%w: %q", ErrUnknownAgent, fromID)
	}
	if sender.State == types.AgentStateFailed {
		c.mu.Unlock()
		return 0, fmt.Errorf("%w: sender %q is FAILED", ErrInvalidState, fromID)
	}
	var targets []string
	for _, id := range c.topo.BroadcastTargets(fromID) {
		if !excluded[id] {
			targets = append(targets, id)
		}
	}
	now := time.Now()
	sender.LastHeartbeat = now
	for _, id := range targets {
		c.observeTraffic(fromID, id)
		if recipient, ok := c.agents[id]; ok {
			recipient.LastHeartbeat = now
		}
	}
	c.mu.Unlock()

	c.fire(EventPreSend, map[string]interface{}{"from": fromID, "broadcast": true})

	for _, id := range targets {
		c.deliver(types.Message{
			ID:        uuid.New().String(),
			From:      fromID,
			To:        id,
			Payload:   payload,
			Timestamp: now,
		})
		if err := c.monitor.RecordHeartbeat(id, nil); err != nil {
			log.Logger.Debug().Err(err).Str("agent_id", id).Msg("recipient heartbeat not recorded")
		}
	}

	c.fire(EventPostSend, map[string]interface{}{
		"from":       fromID,
		"broadcast":  true,
		"recipients": len(targets),
	})
	return len(targets), nil
}

// SetAgentState transitions an agent's state. Leaving FAILED requires a
// successful heartbeat after the failure (the recovery rule); use
// UpdateAgentHeartbeat for direct recovery.
func (c *Coordinator) SetAgentState(id string, state types.AgentState) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	agent, ok := c.agents[id]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownAgent, id)
	}

	if agent.State == types.AgentStateFailed && state != types.AgentStateFailed {
		failedSince := c.failedAt[id]
		if !agent.LastHeartbeat.After(failedSince) {
			return fmt.Errorf("%w: %q cannot leave FAILED without a heartbeat", ErrInvalidState, id)
		}
	}

	agent.State = state
	if state == types.AgentStateFailed {
		c.failedAt[id] = time.Now()
	} else {
		delete(c.failedAt, id)
	}
	c.refreshGauges()
	return nil
}

// UpdateAgentHeartbeat records a heartbeat and recovers a FAILED agent
// back to ACTIVE
func (c *Coordinator) UpdateAgentHeartbeat(id string) error {
	c.mu.Lock()
	agent, ok := c.agents[id]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrUnknownAgent, id)
	}
	agent.LastHeartbeat = time.Now()
	if agent.State == types.AgentStateFailed {
		agent.State = types.AgentStateActive
		delete(c.failedAt, id)
		c.refreshGauges()
	}
	c.mu.Unlock()

	return c.monitor.RecordHeartbeat(id, nil)
}

// AgentStatus returns a read-only snapshot of the agent, or false when
// unknown
func (c *Coordinator) AgentStatus(id string) (types.Agent, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	agent, ok := c.agents[id]
	if !ok {
		return types.Agent{}, false
	}
	return *agent, true
}

// TopologyInfo reports membership, connectivity, and derived health:
// critical past 50% failed, degraded past 10%, ok otherwise.
func (c *Coordinator) TopologyInfo() TopologyInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()

	sum := c.topo.HealthSummary()
	info := TopologyInfo{
		Type:            sum.Kind,
		AgentCount:      sum.AgentCount,
		ConnectionCount: sum.ConnectionCount,
		ActiveAgents:    sum.ActiveAgents,
		FailedAgents:    sum.FailedAgents,
		Health:          "ok",
	}
	if sum.AgentCount > 0 {
		ratio := float64(sum.FailedAgents) / float64(sum.AgentCount)
		switch {
		case ratio > 0.5:
			info.Health = "critical"
		case ratio > 0.1:
			info.Health = "degraded"
		}
	}
	return info
}

// RequestConsensus submits a proposal to the consensus engine, firing
// pre_consensus before the vote and post_consensus with the outcome
func (c *Coordinator) RequestConsensus(payload map[string]interface{}, timeout time.Duration) consensus.Result {
	c.fire(EventPreConsensus, map[string]interface{}{"payload": payload})
	res := c.raft.Propose(payload, timeout)
	c.fire(EventPostConsensus, map[string]interface{}{
		"decision":     string(res.Decision),
		"votes_for":    res.VotesFor,
		"participants": res.Participants,
	})
	if res.Decision != consensus.DecisionApproved {
		c.fire(ErrorEvent(EventPostConsensus), map[string]interface{}{
			"decision": string(res.Decision),
			"reason":   res.Reason,
		})
	}
	return res
}

// SynchronizeState writes a key into the shared state map with a
// strictly increasing per-key version and fires state_synchronized
func (c *Coordinator) SynchronizeState(key string, value interface{}) uint64 {
	c.stateMu.Lock()
	e, ok := c.state[key]
	if !ok {
		e = &syncEntry{}
		c.state[key] = e
	}
	e.version++
	e.value = value
	version := e.version
	c.stateMu.Unlock()

	c.fire(EventStateSynchronized, map[string]interface{}{"key": key, "version": version})
	return version
}

// GetSynchronizedState reads the last committed value for the key
func (c *Coordinator) GetSynchronizedState(key string) (interface{}, bool) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	if e, ok := c.state[key]; ok {
		return e.value, true
	}
	return nil, false
}

// StateVersion returns the key's current version, zero when absent
func (c *Coordinator) StateVersion(key string) uint64 {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	if e, ok := c.state[key]; ok {
		return e.version
	}
	return 0
}

// SwitchTopology rebuilds the topology under a new kind, preserving
// agents and their states. Switching to the current kind is a no-op.
func (c *Coordinator) SwitchTopology(kind types.TopologyKind) error {
	c.mu.Lock()
	prior := c.topo.Kind()
	if adaptive, ok := c.topo.(*topology.Adaptive); ok && kind != types.TopologyAdaptive {
		prior = adaptive.Inner()
		if prior == kind {
			c.mu.Unlock()
			return nil
		}
		if err := adaptive.SwitchTo(kind); err != nil {
			c.mu.Unlock()
			return err
		}
	} else {
		if prior == kind {
			c.mu.Unlock()
			return nil
		}
		next, err := topology.Switch(c.topo, kind)
		if err != nil {
			c.mu.Unlock()
			return err
		}
		c.topo = next
	}
	metrics.TopologySwitches.Inc()
	c.refreshGauges()
	c.mu.Unlock()

	c.fire(EventTopologyChanged, map[string]interface{}{
		"from": string(prior),
		"to":   string(kind),
	})
	log.Logger.Info().Str("from", string(prior)).Str("to", string(kind)).Msg("topology switched")
	return nil
}

// onHealthTransition reacts to sweeper transitions: FAILED agents are
// marked in the registry and every transition fires health_changed
func (c *Coordinator) onHealthTransition(agentID string, from, to types.Health) {
	metrics.HealthTransitions.WithLabelValues(string(to)).Inc()

	if to == types.HealthFailed {
		c.mu.Lock()
		if agent, ok := c.agents[agentID]; ok && agent.State != types.AgentStateFailed {
			agent.State = types.AgentStateFailed
			c.failedAt[agentID] = time.Now()
			c.refreshGauges()
		}
		c.mu.Unlock()
	}

	c.fire(EventHealthChanged, map[string]interface{}{
		"agent_id": agentID,
		"from":     string(from),
		"to":       string(to),
	})
}

// evaluateTopology runs the adaptive switching policy on the monitor
// tick. No-op unless the topology is adaptive and the policy recommends
// a different inner layout than the current one.
func (c *Coordinator) evaluateTopology() {
	c.mu.Lock()
	adaptive, ok := c.topo.(*topology.Adaptive)
	if !ok {
		c.mu.Unlock()
		return
	}
	kind, needed := adaptive.ShouldSwitch()
	if !needed {
		c.mu.Unlock()
		return
	}
	prior := adaptive.Inner()
	if err := adaptive.SwitchTo(kind); err != nil {
		c.mu.Unlock()
		log.Logger.Error().Err(err).Str("to", string(kind)).Msg("adaptive topology switch failed")
		return
	}
	metrics.TopologySwitches.Inc()
	c.refreshGauges()
	c.mu.Unlock()

	c.fire(EventTopologyChanged, map[string]interface{}{
		"from": string(prior),
		"to":   string(kind),
		"auto": true,
	})
	log.Logger.Info().Str("from", string(prior)).Str("to", string(kind)).Msg("adaptive topology switched")
}

// onBottleneckReport forwards monitor findings to the hook system
func (c *Coordinator) onBottleneckReport(report bottleneck.Report) {
	kinds := make([]string, 0, len(report.Bottlenecks))
	for _, b := range report.Bottlenecks {
		kinds = append(kinds, string(b.Kind))
	}
	c.fire(EventBottleneck, map[string]interface{}{
		"count": len(report.Bottlenecks),
		"kinds": kinds,
	})
}

func (c *Coordinator) closeStores() {
	if c.logStore != nil {
		if err := c.logStore.Close(); err != nil {
			log.Logger.Error().Err(err).Msg("failed to close consensus log")
		}
	}
	if c.store != nil {
		if err := c.store.Close(); err != nil {
			log.Logger.Error().Err(err).Msg("failed to close store")
		}
	}
}

// Shutdown stops the four background workers in a fixed order, flushes
// queued metrics, and closes the stores. Idempotent and synchronous.
func (c *Coordinator) Shutdown() {
	c.shutdownOnce.Do(func() {
		c.detector.StopMonitoring()
		c.raft.Shutdown()
		c.monitor.Shutdown()
		c.collector.Shutdown()
		c.closeStores()
		log.Logger.Info().Str("swarm_id", c.cfg.SwarmID).Msg("swarm coordinator stopped")
	})
}
