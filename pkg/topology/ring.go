package topology

import (
	"fmt"
	"strings"

	"github.com/moai-flow/swarm/pkg/types"
)

// Ring arranges agents in a Hamiltonian cycle in registration order.
// Removal splices the gap closed.
type Ring struct {
	agents map[string]*types.Agent
	order  []string
}

// NewRing creates an empty ring topology
func NewRing() *Ring {
	return &Ring{agents: make(map[string]*types.Agent)}
}

func (r *Ring) Kind() types.TopologyKind {
	return types.TopologyRing
}

func (r *Ring) AddAgent(agent *types.Agent) error {
	if _, exists := r.agents[agent.ID]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateAgent, agent.ID)
	}
	agent.Position = len(r.order)
	r.agents[agent.ID] = agent
	r.order = append(r.order, agent.ID)
	return nil
}

func (r *Ring) RemoveAgent(id string) error {
	if _, exists := r.agents[id]; !exists {
		return fmt.Errorf("%w: %q", ErrUnknownAgent, id)
	}
	delete(r.agents, id)
	for i, aid := range r.order {
		if aid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	// Reindex positions after the splice.
	for i, aid := range r.order {
		r.agents[aid].Position = i
	}
	return nil
}

// Neighbors returns the predecessor and successor on the cycle
func (r *Ring) Neighbors(id string) []string {
	idx := -1
	for i, aid := range r.order {
		if aid == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}

	n := len(r.order)
	switch n {
	case 1:
		return nil
	case 2:
		return []string{r.order[(idx+1)%n]}
	default:
		prev := r.order[(idx-1+n)%n]
		next := r.order[(idx+1)%n]
		return []string{prev, next}
	}
}

func (r *Ring) BroadcastTargets(fromID string) []string {
	return broadcastAll(r.Agents(), fromID)
}

func (r *Ring) ConnectionCount() int {
	n := len(r.order)
	switch {
	case n >= 3:
		return n
	case n == 2:
		return 1
	default:
		return 0
	}
}

func (r *Ring) Agents() []*types.Agent {
	out := make([]*types.Agent, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.agents[id])
	}
	return out
}

func (r *Ring) Visualize() string {
	var b strings.Builder
	fmt.Fprintf(&b, "ring(%d agents)\n  ", len(r.order))
	for i, id := range r.order {
		if i > 0 {
			b.WriteString(" -> ")
		}
		b.WriteString(id)
	}
	if len(r.order) > 1 {
		fmt.Fprintf(&b, " -> %s", r.order[0])
	}
	b.WriteString("\n")
	return b.String()
}

func (r *Ring) HealthSummary() Summary {
	return summarize(types.TopologyRing, r.Agents(), r.ConnectionCount())
}
