package topology

import (
	"time"

	"github.com/gammazero/deque"

	"github.com/moai-flow/swarm/pkg/types"
)

// trafficWindow bounds how far back Evaluate looks at message flow
const trafficWindow = time.Minute

// Stats is the signal set the adaptive policy evaluates on each tick
type Stats struct {
	AgentCount  int
	FailedRatio float64
	HubRatio    float64
	ChainRatio  float64
}

// record is a single observed message edge
type record struct {
	from string
	to   string
	at   time.Time
}

// TrafficRecorder keeps a sliding one-minute window of message edges and
// derives the hub and chain ratios the adaptive policy consumes.
type TrafficRecorder struct {
	window deque.Deque[record]
	now    func() time.Time
}

// NewTrafficRecorder creates a recorder with an empty window
func NewTrafficRecorder() *TrafficRecorder {
	return &TrafficRecorder{now: time.Now}
}

// Observe appends one from->to message edge and evicts expired records
func (tr *TrafficRecorder) Observe(from, to string) {
	ts := tr.now()
	tr.window.PushBack(record{from: from, to: to, at: ts})
	tr.evict(ts)
}

func (tr *TrafficRecorder) evict(now time.Time) {
	cutoff := now.Add(-trafficWindow)
	for tr.window.Len() > 0 && tr.window.Front().at.Before(cutoff) {
		tr.window.PopFront()
	}
}

// HubRatio returns the share of windowed messages that pass through the
// single busiest agent, counting both its sends and receives.
func (tr *TrafficRecorder) HubRatio() float64 {
	tr.evict(tr.now())
	total := tr.window.Len()
	if total == 0 {
		return 0
	}

	touched := make(map[string]int)
	for i := 0; i < total; i++ {
		rec := tr.window.At(i)
		touched[rec.from]++
		touched[rec.to]++
	}
	max := 0
	for _, n := range touched {
		if n > max {
			max = n
		}
	}
	return float64(max) / float64(total)
}

// ChainRatio measures how pipelined the windowed traffic is. For each
// sender the dominant recipient forms a candidate edge; when those edges
// form a simple path, the ratio is the share of all windowed messages
// carried on path edges. Branching or cyclic candidate graphs score zero.
func (tr *TrafficRecorder) ChainRatio() float64 {
	tr.evict(tr.now())
	total := tr.window.Len()
	if total == 0 {
		return 0
	}

	// Count messages per directed pair and find each sender's dominant
	// recipient.
	pairCount := make(map[[2]string]int)
	bySender := make(map[string]map[string]int)
	for i := 0; i < total; i++ {
		rec := tr.window.At(i)
		pairCount[[2]string{rec.from, rec.to}]++
		if bySender[rec.from] == nil {
			bySender[rec.from] = make(map[string]int)
		}
		bySender[rec.from][rec.to]++
	}

	next := make(map[string]string, len(bySender))
	indegree := make(map[string]int)
	for from, outs := range bySender {
		best, bestN := "", 0
		for to, n := range outs {
			if n > bestN {
				best, bestN = to, n
			}
		}
		next[from] = best
		indegree[best]++
	}

	// A simple path has exactly one head (indegree 0 among senders) and
	// no node receiving from two candidates.
	for _, deg := range indegree {
		if deg > 1 {
			return 0
		}
	}
	heads := 0
	for from := range next {
		if indegree[from] == 0 {
			heads++
		}
	}
	if heads != 1 {
		return 0
	}

	// Walk the path; a revisit means a cycle.
	var head string
	for from := range next {
		if indegree[from] == 0 {
			head = from
			break
		}
	}
	onPath := 0
	seen := map[string]bool{head: true}
	for cur := head; ; {
		to, ok := next[cur]
		if !ok {
			break
		}
		if seen[to] {
			return 0
		}
		seen[to] = true
		onPath += pairCount[[2]string{cur, to}]
		cur = to
	}
	return float64(onPath) / float64(total)
}

// Adaptive wraps an inner topology and switches it on policy. All
// capability methods delegate to the inner variant.
type Adaptive struct {
	inner   Topology
	traffic *TrafficRecorder
}

// NewAdaptive wraps the given inner topology
func NewAdaptive(inner Topology) *Adaptive {
	return &Adaptive{inner: inner, traffic: NewTrafficRecorder()}
}

func (a *Adaptive) Kind() types.TopologyKind {
	return types.TopologyAdaptive
}

// Inner returns the kind of the wrapped topology
func (a *Adaptive) Inner() types.TopologyKind {
	return a.inner.Kind()
}

// Traffic exposes the recorder so the coordinator can feed message edges
func (a *Adaptive) Traffic() *TrafficRecorder {
	return a.traffic
}

func (a *Adaptive) AddAgent(agent *types.Agent) error {
	return a.inner.AddAgent(agent)
}

func (a *Adaptive) RemoveAgent(id string) error {
	return a.inner.RemoveAgent(id)
}

func (a *Adaptive) Neighbors(id string) []string {
	return a.inner.Neighbors(id)
}

func (a *Adaptive) BroadcastTargets(fromID string) []string {
	return a.inner.BroadcastTargets(fromID)
}

func (a *Adaptive) ConnectionCount() int {
	return a.inner.ConnectionCount()
}

func (a *Adaptive) Agents() []*types.Agent {
	return a.inner.Agents()
}

func (a *Adaptive) Visualize() string {
	return "adaptive ->\n" + a.inner.Visualize()
}

func (a *Adaptive) HealthSummary() Summary {
	s := a.inner.HealthSummary()
	s.Kind = types.TopologyAdaptive
	return s
}

// Recommend applies the switching policy top-down and returns the kind
// the inner topology should be.
func Recommend(st Stats) types.TopologyKind {
	switch {
	case st.FailedRatio > 0.30:
		return types.TopologyHierarchical
	case st.AgentCount > 10:
		return types.TopologyHierarchical
	case st.HubRatio >= 0.80:
		return types.TopologyStar
	case st.ChainRatio > 0.70:
		return types.TopologyRing
	default:
		return types.TopologyMesh
	}
}

// ShouldSwitch derives the current stats from membership and traffic and
// reports the recommended inner kind. The boolean is true when the
// recommendation differs from the current inner topology.
func (a *Adaptive) ShouldSwitch() (types.TopologyKind, bool) {
	sum := a.inner.HealthSummary()
	st := Stats{
		AgentCount: sum.AgentCount,
		HubRatio:   a.traffic.HubRatio(),
		ChainRatio: a.traffic.ChainRatio(),
	}
	if sum.AgentCount > 0 {
		st.FailedRatio = float64(sum.FailedAgents) / float64(sum.AgentCount)
	}
	want := Recommend(st)
	return want, want != a.inner.Kind()
}

// SwitchTo rebuilds the inner topology under the given kind, preserving
// agents and their states. Switching to the same kind is a no-op.
func (a *Adaptive) SwitchTo(kind types.TopologyKind) error {
	if kind == a.inner.Kind() {
		return nil
	}
	next, err := New(kind)
	if err != nil {
		return err
	}
	if err := rebuildInto(next, a.inner.Agents()); err != nil {
		return err
	}
	a.inner = next
	return nil
}
