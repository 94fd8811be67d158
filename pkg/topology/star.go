package topology

import (
	"fmt"
	"strings"

	"github.com/moai-flow/swarm/pkg/types"
)

// Star keeps one hub agent with edges to every spoke. The first
// registered agent becomes the hub unless SetHub replaces it.
type Star struct {
	agents map[string]*types.Agent
	order  []string
	hub    string
}

// NewStar creates an empty star topology
func NewStar() *Star {
	return &Star{agents: make(map[string]*types.Agent)}
}

func (s *Star) Kind() types.TopologyKind {
	return types.TopologyStar
}

func (s *Star) AddAgent(agent *types.Agent) error {
	if _, exists := s.agents[agent.ID]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateAgent, agent.ID)
	}
	s.agents[agent.ID] = agent
	s.order = append(s.order, agent.ID)
	if s.hub == "" {
		s.hub = agent.ID
	}
	return nil
}

// SetHub explicitly replaces the hub. The previous hub becomes a spoke.
func (s *Star) SetHub(id string) error {
	if _, exists := s.agents[id]; !exists {
		return fmt.Errorf("%w: %q", ErrUnknownAgent, id)
	}
	s.hub = id
	return nil
}

// Hub returns the current hub agent ID, empty when the star is empty
func (s *Star) Hub() string {
	return s.hub
}

func (s *Star) RemoveAgent(id string) error {
	if _, exists := s.agents[id]; !exists {
		return fmt.Errorf("%w: %q", ErrUnknownAgent, id)
	}
	delete(s.agents, id)
	for i, aid := range s.order {
		if aid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}

	// Promote the earliest remaining agent when the hub leaves.
	if s.hub == id {
		s.hub = ""
		if len(s.order) > 0 {
			s.hub = s.order[0]
		}
	}
	return nil
}

func (s *Star) Neighbors(id string) []string {
	if _, exists := s.agents[id]; !exists {
		return nil
	}
	if id == s.hub {
		var out []string
		for _, aid := range s.order {
			if aid != s.hub {
				out = append(out, aid)
			}
		}
		return out
	}
	if s.hub == "" {
		return nil
	}
	return []string{s.hub}
}

func (s *Star) BroadcastTargets(fromID string) []string {
	return broadcastAll(s.Agents(), fromID)
}

func (s *Star) ConnectionCount() int {
	if len(s.agents) <= 1 {
		return 0
	}
	return len(s.agents) - 1
}

func (s *Star) Agents() []*types.Agent {
	out := make([]*types.Agent, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.agents[id])
	}
	return out
}

func (s *Star) Visualize() string {
	var b strings.Builder
	fmt.Fprintf(&b, "star(hub=%s, %d spokes)\n", s.hub, s.ConnectionCount())
	for _, id := range s.order {
		if id == s.hub {
			continue
		}
		fmt.Fprintf(&b, "  %s -- %s [%s]\n", s.hub, id, s.agents[id].State)
	}
	return b.String()
}

func (s *Star) HealthSummary() Summary {
	return summarize(types.TopologyStar, s.Agents(), s.ConnectionCount())
}
