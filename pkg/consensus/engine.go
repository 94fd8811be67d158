package consensus

import (
	"errors"
	"time"

	"github.com/moai-flow/swarm/pkg/types"
)

// ErrElectionTimeout is returned when no leader emerges within twice the
// base election timeout
var ErrElectionTimeout = errors.New("consensus: election timed out")

// Decision classifies a proposal outcome
type Decision string

const (
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
	DecisionTimeout  Decision = "timeout"
)

// Timeout reasons reported in Result.Reason
const (
	ReasonInsufficientQuorum = "insufficient_quorum"
	ReasonNoLeader           = "no_leader"
	ReasonDeadlineExceeded   = "deadline_exceeded"
)

// Result is the outcome of one proposal round
type Result struct {
	Decision     Decision
	VotesFor     int
	VotesAgainst int
	Abstain      int
	Threshold    float64
	Participants int
	Reason       string
	Metadata     map[string]interface{}
}

// MembershipFunc supplies the current participant set. FAILED agents
// count toward the participant total but never vote.
type MembershipFunc func() []*types.Agent

// Engine is the pluggable consensus surface the coordinator delegates
// to. The Raft variant provides leader election and a replicated log;
// the quorum variant is a leaderless majority vote for non-critical
// decisions.
type Engine interface {
	Propose(payload map[string]interface{}, timeout time.Duration) Result
}

// Stats is the telemetry the bottleneck detector's consensus rule reads
type Stats struct {
	Proposals     int
	Completed     int
	AvgDecisionMs float64
}

// CompletionRate is completed proposals over total, 1 when none ran yet
func (s Stats) CompletionRate() float64 {
	if s.Proposals == 0 {
		return 1
	}
	return float64(s.Completed) / float64(s.Proposals)
}

// majority is the strict-majority count for n participants
func majority(n int) int {
	return n/2 + 1
}

// splitLive partitions membership into live voter IDs and a failed count
func splitLive(agents []*types.Agent) ([]string, int) {
	var live []string
	failed := 0
	for _, a := range agents {
		if a.State == types.AgentStateFailed {
			failed++
			continue
		}
		live = append(live, a.ID)
	}
	return live, failed
}
