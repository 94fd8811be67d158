package consensus

import (
	"sync"
	"time"

	"github.com/moai-flow/swarm/pkg/log"
	"github.com/moai-flow/swarm/pkg/metrics"
)

// VoteFunc decides one agent's vote on a proposal payload
type VoteFunc func(agentID string, payload map[string]interface{}) bool

// Quorum is the leaderless majority-vote engine for non-critical
// decisions. Every live agent votes through the configured VoteFunc;
// the proposal is approved when affirmative votes exceed the threshold
// fraction of all participants. No log is kept.
type Quorum struct {
	mu        sync.Mutex
	members   MembershipFunc
	vote      VoteFunc
	threshold float64

	proposals     int
	completed     int
	decisionMsSum float64
}

// NewQuorum creates a quorum engine. A nil vote function means every
// live agent votes yes; threshold outside (0,1] falls back to 0.5
// (strict majority).
func NewQuorum(members MembershipFunc, vote VoteFunc, threshold float64) *Quorum {
	if threshold <= 0 || threshold > 1 {
		threshold = 0.5
	}
	if vote == nil {
		vote = func(string, map[string]interface{}) bool { return true }
	}
	return &Quorum{members: members, vote: vote, threshold: threshold}
}

// Propose collects one vote per live agent. FAILED agents abstain; with
// fewer live voters than a strict majority the proposal times out with
// insufficient_quorum.
func (q *Quorum) Propose(payload map[string]interface{}, timeout time.Duration) Result {
	start := time.Now()

	q.mu.Lock()
	members := q.members()
	vote := q.vote
	threshold := q.threshold
	q.proposals++
	q.mu.Unlock()

	live, failed := splitLive(members)
	total := len(members)

	res := Result{
		Threshold:    threshold,
		Participants: total,
		Abstain:      failed,
	}

	if len(live) < majority(total) {
		res.Decision = DecisionTimeout
		res.Reason = ReasonInsufficientQuorum
		metrics.ConsensusProposals.WithLabelValues(string(DecisionTimeout)).Inc()
		return res
	}

	// Votes run outside the engine lock; the vote function is
	// user-supplied.
	for _, id := range live {
		if timeout > 0 && time.Since(start) > timeout {
			res.Decision = DecisionTimeout
			res.Reason = ReasonDeadlineExceeded
			metrics.ConsensusProposals.WithLabelValues(string(DecisionTimeout)).Inc()
			return res
		}
		if vote(id, payload) {
			res.VotesFor++
		} else {
			res.VotesAgainst++
		}
	}

	if float64(res.VotesFor) > threshold*float64(total) {
		res.Decision = DecisionApproved
	} else {
		res.Decision = DecisionRejected
	}

	elapsed := time.Since(start)
	q.mu.Lock()
	q.completed++
	q.decisionMsSum += float64(elapsed) / float64(time.Millisecond)
	q.mu.Unlock()

	metrics.ConsensusProposals.WithLabelValues(string(res.Decision)).Inc()
	log.Logger.Debug().
		Str("decision", string(res.Decision)).
		Int("votes_for", res.VotesFor).
		Int("votes_against", res.VotesAgainst).
		Int("participants", total).
		Msg("quorum vote finished")
	return res
}

// Stats reports proposal telemetry for the bottleneck detector
func (q *Quorum) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := Stats{Proposals: q.proposals, Completed: q.completed}
	if q.completed > 0 {
		s.AvgDecisionMs = q.decisionMsSum / float64(q.completed)
	}
	return s
}
