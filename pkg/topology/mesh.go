package topology

import (
	"fmt"
	"strings"

	"github.com/moai-flow/swarm/pkg/types"
)

// Mesh connects every pair of non-failed agents; degree is n-1.
// Edges are implicit in membership, so add and remove are O(1).
type Mesh struct {
	agents map[string]*types.Agent
	order  []string
}

// NewMesh creates an empty mesh topology
func NewMesh() *Mesh {
	return &Mesh{agents: make(map[string]*types.Agent)}
}

func (m *Mesh) Kind() types.TopologyKind {
	return types.TopologyMesh
}

func (m *Mesh) AddAgent(agent *types.Agent) error {
	if _, exists := m.agents[agent.ID]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateAgent, agent.ID)
	}
	m.agents[agent.ID] = agent
	m.order = append(m.order, agent.ID)
	return nil
}

func (m *Mesh) RemoveAgent(id string) error {
	if _, exists := m.agents[id]; !exists {
		return fmt.Errorf("%w: %q", ErrUnknownAgent, id)
	}
	delete(m.agents, id)
	for i, aid := range m.order {
		if aid == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}

func (m *Mesh) Neighbors(id string) []string {
	if _, exists := m.agents[id]; !exists {
		return nil
	}
	var out []string
	for _, aid := range m.order {
		if aid == id || m.agents[aid].State == types.AgentStateFailed {
			continue
		}
		out = append(out, aid)
	}
	return out
}

func (m *Mesh) BroadcastTargets(fromID string) []string {
	return broadcastAll(m.Agents(), fromID)
}

// ConnectionCount counts the complete graph over live members: n(n-1)/2
func (m *Mesh) ConnectionCount() int {
	live := 0
	for _, a := range m.agents {
		if a.State != types.AgentStateFailed {
			live++
		}
	}
	return live * (live - 1) / 2
}

func (m *Mesh) Agents() []*types.Agent {
	out := make([]*types.Agent, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.agents[id])
	}
	return out
}

func (m *Mesh) Visualize() string {
	var b strings.Builder
	fmt.Fprintf(&b, "mesh(%d agents, %d connections)\n", len(m.agents), m.ConnectionCount())
	for _, id := range m.order {
		fmt.Fprintf(&b, "  %s [%s]\n", id, m.agents[id].State)
	}
	return b.String()
}

func (m *Mesh) HealthSummary() Summary {
	return summarize(types.TopologyMesh, m.Agents(), m.ConnectionCount())
}
