package types

import (
	"time"
)

// Agent represents a logical worker participating in the swarm
type Agent struct {
	ID            string
	Type          string
	Metadata      map[string]interface{}
	State         AgentState
	LastHeartbeat time.Time

	// Hierarchical topology extras
	Layer    int
	ParentID string

	// Ring topology extra
	Position int

	CreatedAt time.Time
}

// AgentState represents the current state of an agent
type AgentState string

const (
	AgentStateActive AgentState = "ACTIVE"
	AgentStateIdle   AgentState = "IDLE"
	AgentStateBusy   AgentState = "BUSY"
	AgentStateFailed AgentState = "FAILED"
)

// Health classifies agent liveness from heartbeat age
type Health string

const (
	HealthHealthy  Health = "HEALTHY"
	HealthDegraded Health = "DEGRADED"
	HealthCritical Health = "CRITICAL"
	HealthFailed   Health = "FAILED"
)

// Rank orders health states by severity, healthiest first
func (h Health) Rank() int {
	switch h {
	case HealthHealthy:
		return 0
	case HealthDegraded:
		return 1
	case HealthCritical:
		return 2
	case HealthFailed:
		return 3
	default:
		return -1
	}
}

// TopologyKind identifies a connectivity pattern
type TopologyKind string

const (
	TopologyMesh         TopologyKind = "mesh"
	TopologyStar         TopologyKind = "star"
	TopologyRing         TopologyKind = "ring"
	TopologyHierarchical TopologyKind = "hierarchical"
	TopologyAdaptive     TopologyKind = "adaptive"
)

// BroadcastRecipient is the sentinel To value for broadcast messages
const BroadcastRecipient = "*"

// Message is a best-effort in-process delivery between agents.
// Messages are never persisted.
type Message struct {
	ID        string
	From      string
	To        string // agent ID or BroadcastRecipient
	Payload   interface{}
	Timestamp time.Time
}

// TaskResult classifies how a task finished
type TaskResult string

const (
	TaskResultSuccess  TaskResult = "SUCCESS"
	TaskResultFailure  TaskResult = "FAILURE"
	TaskResultTimeout  TaskResult = "TIMEOUT"
	TaskResultCanceled TaskResult = "CANCELED"
)

// TaskMetric is an immutable record of one task execution
type TaskMetric struct {
	TaskID       string
	AgentID      string
	StartedAt    time.Time
	FinishedAt   time.Time
	DurationMs   float64
	Result       TaskResult
	TokensUsed   int
	FilesChanged int
	Tags         map[string]string
}

// AgentMetric is a timestamped numeric observation about one agent
type AgentMetric struct {
	AgentID    string
	MetricType string
	Value      float64
	Timestamp  time.Time
}

// SwarmMetric is a timestamped numeric observation about the whole swarm
type SwarmMetric struct {
	SwarmID    string
	MetricType string
	Value      float64
	Timestamp  time.Time
}

// TaskStats summarizes task metrics over a window
type TaskStats struct {
	Count         int
	SuccessRate   float64
	AvgDurationMs float64
	P50Ms         float64
	P95Ms         float64
	P99Ms         float64
	TotalTokens   int
}

// AgentPerformance summarizes one agent's task history
type AgentPerformance struct {
	AgentID       string
	AvgDurationMs float64
	SuccessRate   float64
	ErrorRate     float64
	TaskCount     int
}

// BottleneckKind identifies a class of detected performance problem
type BottleneckKind string

const (
	BottleneckTokenExhaustion  BottleneckKind = "token-exhaustion"
	BottleneckQuotaExceeded    BottleneckKind = "quota-exceeded"
	BottleneckSlowAgent        BottleneckKind = "slow-agent"
	BottleneckQueueBacklog     BottleneckKind = "queue-backlog"
	BottleneckConsensusTimeout BottleneckKind = "consensus-timeout"
)

// Severity grades a bottleneck
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities, mildest first
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 0
	case SeverityMedium:
		return 1
	case SeverityHigh:
		return 2
	case SeverityCritical:
		return 3
	default:
		return -1
	}
}

// Bottleneck is an actionable performance report
type Bottleneck struct {
	ID              string
	Kind            BottleneckKind
	Severity        Severity
	Impact          float64 // [0,1]
	AffectedIDs     []string
	Evidence        map[string]interface{}
	Recommendations []string
	DetectedAt      time.Time
}

// TokenUsage reports token budget consumption from the resource controller
type TokenUsage struct {
	Budget    int
	Consumed  int
	Remaining int
}

// AgentQuota reports agent slot usage from the resource controller
type AgentQuota struct {
	Quota     int
	Active    int
	Available int
}

// QueueState reports pending work from the resource controller
type QueueState struct {
	PendingTasks int
	ByPriority   map[string]int
}

// ResourceUsage is the resource controller snapshot the bottleneck
// detector pulls each cycle
type ResourceUsage struct {
	Tokens TokenUsage
	Agents AgentQuota
	Queue  QueueState
}

// Pattern is a learned sequence of event types with confidence.
// Patterns are matched against live event streams but never executed.
type Pattern struct {
	ID          string
	Sequence    []string
	Occurrences int
	Confidence  float64 // [0,1]
	IntervalMs  float64 // average gap between events, 0 if unknown
	FirstSeen   time.Time
	LastSeen    time.Time
	Metadata    map[string]interface{}
}

// Event is a lifecycle event persisted to the store
type Event struct {
	ID        string
	Type      string
	AgentID   string
	AgentType string
	Timestamp time.Time
	Metadata  map[string]interface{}
}
