package topology

import (
	"errors"
	"fmt"

	"github.com/moai-flow/swarm/pkg/types"
)

var (
	// ErrUnknownAgent is returned when an agent ID is not in the topology
	ErrUnknownAgent = errors.New("topology: unknown agent")

	// ErrDuplicateAgent is returned when an agent ID is already present
	ErrDuplicateAgent = errors.New("topology: duplicate agent")

	// ErrMissingParent is returned when a hierarchical insert lacks a
	// registered parent
	ErrMissingParent = errors.New("topology: missing parent")

	// ErrUnknownKind is returned for an unrecognized topology kind
	ErrUnknownKind = errors.New("topology: unknown kind")
)

// Summary reports the connectivity health of a topology
type Summary struct {
	Kind            types.TopologyKind
	AgentCount      int
	ConnectionCount int
	ActiveAgents    int
	FailedAgents    int
}

// Topology is the capability set shared by every connectivity pattern.
// Implementations are not safe for concurrent use; the coordinator
// serializes access under its registry lock.
type Topology interface {
	Kind() types.TopologyKind

	// AddAgent inserts the agent and updates edges to keep the
	// variant's invariant. The topology may write variant extras
	// (Layer, ParentID, Position) back onto the agent.
	AddAgent(agent *types.Agent) error

	// RemoveAgent deletes the agent and repairs the invariant
	// (ring splices, hierarchical reparents to the grandparent).
	RemoveAgent(id string) error

	// Neighbors returns the agents reachable in one hop
	Neighbors(id string) []string

	// BroadcastTargets returns the agents a broadcast from fromID
	// should reach. FAILED agents are never targets.
	BroadcastTargets(fromID string) []string

	// ConnectionCount returns the number of undirected edges
	ConnectionCount() int

	// Agents returns the member agents in insertion order
	Agents() []*types.Agent

	// Visualize renders a small human-readable sketch of the graph
	Visualize() string

	// HealthSummary reports membership and connectivity counts
	HealthSummary() Summary
}

// New constructs an empty topology of the given kind. The adaptive kind
// starts with a mesh inner topology.
func New(kind types.TopologyKind) (Topology, error) {
	switch kind {
	case types.TopologyMesh:
		return NewMesh(), nil
	case types.TopologyStar:
		return NewStar(), nil
	case types.TopologyRing:
		return NewRing(), nil
	case types.TopologyHierarchical:
		return NewHierarchical(), nil
	case types.TopologyAdaptive:
		return NewAdaptive(NewMesh()), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}

// Switch rebuilds a topology under a new kind, preserving every agent and
// its state; only edges change. Agents are re-added in insertion order,
// which also drives hierarchy assignment (see rebuildInto).
func Switch(t Topology, kind types.TopologyKind) (Topology, error) {
	if t.Kind() == kind {
		return t, nil
	}

	next, err := New(kind)
	if err != nil {
		return nil, err
	}
	if err := rebuildInto(next, t.Agents()); err != nil {
		return nil, err
	}
	return next, nil
}

// rebuildInto re-adds agents in order. For hierarchical targets, parents
// are assigned by registration order with a fan-out of three: agent i
// gets agent (i-1)/3 as its parent, the first agent being the root.
func rebuildInto(next Topology, agents []*types.Agent) error {
	hier, isHier := next.(*Hierarchical)
	for i, a := range agents {
		if isHier {
			if i == 0 {
				a.ParentID = ""
			} else {
				a.ParentID = agents[(i-1)/3].ID
			}
			if err := hier.AddAgent(a); err != nil {
				return err
			}
			continue
		}
		if err := next.AddAgent(a); err != nil {
			return err
		}
	}
	return nil
}

// summarize is shared by the concrete variants
func summarize(kind types.TopologyKind, agents []*types.Agent, connections int) Summary {
	s := Summary{
		Kind:            kind,
		AgentCount:      len(agents),
		ConnectionCount: connections,
	}
	for _, a := range agents {
		if a.State == types.AgentStateFailed {
			s.FailedAgents++
		} else {
			s.ActiveAgents++
		}
	}
	return s
}

// broadcastAll returns every non-failed member except the sender,
// in insertion order. Mesh, star, and ring all deliver broadcasts to
// the full live membership.
func broadcastAll(agents []*types.Agent, fromID string) []string {
	var targets []string
	for _, a := range agents {
		if a.ID == fromID || a.State == types.AgentStateFailed {
			continue
		}
		targets = append(targets, a.ID)
	}
	return targets
}
