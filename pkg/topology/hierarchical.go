package topology

import (
	"fmt"
	"strings"

	"github.com/moai-flow/swarm/pkg/types"
)

// Hierarchical keeps a tree rooted at the first registered agent. Every
// non-root agent has exactly one parent; an agent's layer is its distance
// from the root. The parent relation is acyclic by construction: parents
// must already be members when a child is added.
type Hierarchical struct {
	agents   map[string]*types.Agent
	order    []string
	children map[string][]string
	root     string
}

// NewHierarchical creates an empty hierarchical topology
func NewHierarchical() *Hierarchical {
	return &Hierarchical{
		agents:   make(map[string]*types.Agent),
		children: make(map[string][]string),
	}
}

func (h *Hierarchical) Kind() types.TopologyKind {
	return types.TopologyHierarchical
}

// AddAgent inserts under agent.ParentID. The first agent becomes the root
// and must not name a parent; every later agent must.
func (h *Hierarchical) AddAgent(agent *types.Agent) error {
	if _, exists := h.agents[agent.ID]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateAgent, agent.ID)
	}

	if h.root == "" {
		if agent.ParentID != "" {
			return fmt.Errorf("%w: root %q must not have a parent", ErrMissingParent, agent.ID)
		}
		agent.Layer = 0
		h.root = agent.ID
	} else {
		if agent.ParentID == "" {
			return fmt.Errorf("%w: non-root agent %q requires parent_id", ErrMissingParent, agent.ID)
		}
		parent, ok := h.agents[agent.ParentID]
		if !ok {
			return fmt.Errorf("%w: parent %q of %q not registered", ErrMissingParent, agent.ParentID, agent.ID)
		}
		agent.Layer = parent.Layer + 1
		h.children[agent.ParentID] = append(h.children[agent.ParentID], agent.ID)
	}

	h.agents[agent.ID] = agent
	h.order = append(h.order, agent.ID)
	return nil
}

// RemoveAgent reparents the removed agent's children to its grandparent.
// When the root leaves, its first child is promoted to root and the
// remaining children are reparented under the new root.
func (h *Hierarchical) RemoveAgent(id string) error {
	agent, exists := h.agents[id]
	if !exists {
		return fmt.Errorf("%w: %q", ErrUnknownAgent, id)
	}

	orphans := h.children[id]
	delete(h.children, id)

	if id == h.root {
		h.root = ""
		if len(orphans) > 0 {
			promoted := orphans[0]
			h.root = promoted
			h.agents[promoted].ParentID = ""
			for _, c := range orphans[1:] {
				h.agents[c].ParentID = promoted
				h.children[promoted] = append(h.children[promoted], c)
			}
		}
	} else {
		grandparent := agent.ParentID
		h.detachChild(grandparent, id)
		for _, c := range orphans {
			h.agents[c].ParentID = grandparent
			h.children[grandparent] = append(h.children[grandparent], c)
		}
	}

	delete(h.agents, id)
	for i, aid := range h.order {
		if aid == id {
			h.order = append(h.order[:i], h.order[i+1:]...)
			break
		}
	}

	h.relayer()
	return nil
}

func (h *Hierarchical) detachChild(parent, child string) {
	kids := h.children[parent]
	for i, c := range kids {
		if c == child {
			h.children[parent] = append(kids[:i], kids[i+1:]...)
			return
		}
	}
}

// relayer recomputes every layer as distance from the root
func (h *Hierarchical) relayer() {
	if h.root == "" {
		return
	}
	h.agents[h.root].Layer = 0
	queue := []string{h.root}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, c := range h.children[cur] {
			h.agents[c].Layer = h.agents[cur].Layer + 1
			queue = append(queue, c)
		}
	}
}

// Neighbors returns the parent plus direct children
func (h *Hierarchical) Neighbors(id string) []string {
	agent, exists := h.agents[id]
	if !exists {
		return nil
	}
	var out []string
	if agent.ParentID != "" {
		out = append(out, agent.ParentID)
	}
	out = append(out, h.children[id]...)
	return out
}

// BroadcastTargets walks the tree from the root so delivery follows
// parent-child edges; every live agent except the sender is reached.
func (h *Hierarchical) BroadcastTargets(fromID string) []string {
	if h.root == "" {
		return nil
	}
	var targets []string
	queue := []string{h.root}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur != fromID && h.agents[cur].State != types.AgentStateFailed {
			targets = append(targets, cur)
		}
		queue = append(queue, h.children[cur]...)
	}
	return targets
}

func (h *Hierarchical) ConnectionCount() int {
	if len(h.agents) <= 1 {
		return 0
	}
	return len(h.agents) - 1
}

func (h *Hierarchical) Agents() []*types.Agent {
	out := make([]*types.Agent, 0, len(h.order))
	for _, id := range h.order {
		out = append(out, h.agents[id])
	}
	return out
}

// Root returns the current root agent ID
func (h *Hierarchical) Root() string {
	return h.root
}

func (h *Hierarchical) Visualize() string {
	var b strings.Builder
	fmt.Fprintf(&b, "hierarchical(%d agents)\n", len(h.agents))
	if h.root != "" {
		h.visualizeNode(&b, h.root, 1)
	}
	return b.String()
}

func (h *Hierarchical) visualizeNode(b *strings.Builder, id string, depth int) {
	fmt.Fprintf(b, "%s%s [%s]\n", strings.Repeat("  ", depth), id, h.agents[id].State)
	for _, c := range h.children[id] {
		h.visualizeNode(b, c, depth+1)
	}
}

func (h *Hierarchical) HealthSummary() Summary {
	return summarize(types.TopologyHierarchical, h.Agents(), h.ConnectionCount())
}
