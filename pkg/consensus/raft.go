package consensus

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/moai-flow/swarm/pkg/log"
	"github.com/moai-flow/swarm/pkg/metrics"
	"github.com/moai-flow/swarm/pkg/types"
)

// Role is a participant's place in the Raft state machine
type Role string

const (
	RoleFollower  Role = "FOLLOWER"
	RoleCandidate Role = "CANDIDATE"
	RoleLeader    Role = "LEADER"
)

// Options configures the Raft engine
type Options struct {
	// ElectionTimeout is the base election timeout; actual deadlines
	// are randomized in [timeout, 2*timeout]
	ElectionTimeout time.Duration

	// HeartbeatInterval is the leader liveness ticker period
	HeartbeatInterval time.Duration

	// Threshold is the majority fraction reported in results
	Threshold float64
}

// DefaultOptions mirrors the consensus config defaults
func DefaultOptions() Options {
	return Options{
		ElectionTimeout:   5 * time.Second,
		HeartbeatInterval: time.Second,
		Threshold:         0.5,
	}
}

// nodeState is one participant's view of the protocol
type nodeState struct {
	role        Role
	currentTerm uint64
	votedFor    string
	votedTerm   uint64
	lastIndex   uint64
	lastTerm    uint64
}

// Raft runs leader election and majority-committed log replication over
// the swarm's logical agents. All participants live in one process; the
// protocol's message exchanges collapse into direct state updates under
// one lock, but vote rules, terms, and log ordering follow Raft.
type Raft struct {
	mu       sync.Mutex
	members  MembershipFunc
	logStore LogStore
	opts     Options

	nodes       map[string]*nodeState
	leaderID    string
	term        uint64
	commitIndex uint64
	rng         *rand.Rand

	proposals     int
	completed     int
	decisionMsSum float64

	started atomic.Bool
	stopCh  chan struct{}
	doneCh  chan struct{}
	once    sync.Once
}

// NewRaft creates an engine over the given membership. The ticker worker
// does not start until Start is called.
func NewRaft(members MembershipFunc, logStore LogStore, opts Options) (*Raft, error) {
	def := DefaultOptions()
	if opts.ElectionTimeout <= 0 {
		opts.ElectionTimeout = def.ElectionTimeout
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = def.HeartbeatInterval
	}
	if opts.Threshold <= 0 {
		opts.Threshold = def.Threshold
	}
	if logStore == nil {
		logStore = NewMemoryLogStore()
	}

	last, err := logStore.LastIndex()
	if err != nil {
		return nil, fmt.Errorf("failed to read consensus log: %w", err)
	}

	return &Raft{
		members:     members,
		logStore:    logStore,
		opts:        opts,
		nodes:       make(map[string]*nodeState),
		commitIndex: last,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}, nil
}

// syncNodes reconciles participant state with current membership;
// callers hold r.mu
func (r *Raft) syncNodes(agents []*types.Agent) {
	seen := make(map[string]bool, len(agents))
	for _, a := range agents {
		seen[a.ID] = true
		if _, ok := r.nodes[a.ID]; !ok {
			r.nodes[a.ID] = &nodeState{
				role:        RoleFollower,
				currentTerm: r.term,
				lastIndex:   r.commitIndex,
				lastTerm:    r.term,
			}
		}
	}
	for id := range r.nodes {
		if !seen[id] {
			delete(r.nodes, id)
			if r.leaderID == id {
				r.leaderID = ""
			}
		}
	}
}

// upToDate reports whether the candidate's log is at least as current as
// the voter's: higher last term, or equal term with no smaller index.
func upToDate(candidate, voter *nodeState) bool {
	if candidate.lastTerm != voter.lastTerm {
		return candidate.lastTerm > voter.lastTerm
	}
	return candidate.lastIndex >= voter.lastIndex
}

// electLocked runs one election round; callers hold r.mu. Candidate
// selection models randomized election deadlines in [T, 2T]: the live
// node whose deadline expires first campaigns, with the lexicographically
// smaller ID winning a simultaneous expiry.
func (r *Raft) electLocked() (string, bool) {
	agents := r.members()
	r.syncNodes(agents)

	total := len(agents)
	if total == 0 {
		return "", false
	}
	live, _ := splitLive(agents)
	if len(live) < majority(total) {
		return "", false
	}

	base := r.opts.ElectionTimeout
	candidateID := ""
	var earliest time.Duration
	for _, id := range live {
		deadline := base + time.Duration(r.rng.Int63n(int64(base)+1))
		if candidateID == "" || deadline < earliest || (deadline == earliest && id < candidateID) {
			candidateID, earliest = id, deadline
		}
	}

	candidate := r.nodes[candidateID]
	term := r.term + 1
	candidate.role = RoleCandidate
	candidate.currentTerm = term
	candidate.votedFor = candidateID
	candidate.votedTerm = term

	votes := 1 // self-vote
	for _, id := range live {
		if id == candidateID {
			continue
		}
		voter := r.nodes[id]
		if voter.votedTerm == term && voter.votedFor != "" {
			continue
		}
		if !upToDate(candidate, voter) {
			continue
		}
		voter.votedFor = candidateID
		voter.votedTerm = term
		voter.currentTerm = term
		votes++
	}

	if votes < majority(total) {
		candidate.role = RoleFollower
		return "", false
	}

	r.term = term
	r.leaderID = candidateID
	for id, n := range r.nodes {
		n.currentTerm = term
		if id == candidateID {
			n.role = RoleLeader
		} else {
			n.role = RoleFollower
		}
	}

	metrics.ConsensusTerm.Set(float64(term))
	metrics.ConsensusIsLeader.Set(1)
	log.Logger.Info().
		Str("leader_id", candidateID).
		Uint64("term", term).
		Int("votes", votes).
		Int("participants", total).
		Msg("leader elected")
	return candidateID, true
}

// ElectLeader blocks until a leader emerges, or fails with
// ErrElectionTimeout after twice the base timeout.
func (r *Raft) ElectLeader() (string, error) {
	deadline := time.Now().Add(2 * r.opts.ElectionTimeout)
	for {
		r.mu.Lock()
		if r.leaderID != "" {
			if id, ok := r.leaderLocked(); ok {
				r.mu.Unlock()
				return id, nil
			}
		}
		id, ok := r.electLocked()
		r.mu.Unlock()
		if ok {
			return id, nil
		}
		if time.Now().After(deadline) {
			return "", ErrElectionTimeout
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// leaderLocked returns the current leader if it is still a live member;
// callers hold r.mu
func (r *Raft) leaderLocked() (string, bool) {
	if r.leaderID == "" {
		return "", false
	}
	for _, a := range r.members() {
		if a.ID == r.leaderID {
			if a.State == types.AgentStateFailed {
				return "", false
			}
			return r.leaderID, true
		}
	}
	return "", false
}

// Propose appends the payload to the leader's log and commits it once a
// majority of participants acknowledges. A missing leader triggers a
// transparent election first.
func (r *Raft) Propose(payload map[string]interface{}, timeout time.Duration) Result {
	start := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	r.proposals++

	agents := r.members()
	r.syncNodes(agents)
	total := len(agents)
	live, failed := splitLive(agents)

	res := Result{
		Threshold:    r.opts.Threshold,
		Participants: total,
		Abstain:      failed,
	}

	if len(live) < majority(total) {
		res.Decision = DecisionTimeout
		res.Reason = ReasonInsufficientQuorum
		metrics.ConsensusProposals.WithLabelValues(string(DecisionTimeout)).Inc()
		log.Logger.Warn().
			Int("live", len(live)).
			Int("participants", total).
			Msg("proposal dropped: insufficient quorum")
		return res
	}

	if _, ok := r.leaderLocked(); !ok {
		if _, elected := r.electLocked(); !elected {
			res.Decision = DecisionTimeout
			res.Reason = ReasonNoLeader
			metrics.ConsensusProposals.WithLabelValues(string(DecisionTimeout)).Inc()
			return res
		}
	}

	if timeout > 0 && time.Since(start) > timeout {
		res.Decision = DecisionTimeout
		res.Reason = ReasonDeadlineExceeded
		metrics.ConsensusProposals.WithLabelValues(string(DecisionTimeout)).Inc()
		return res
	}

	entry := Entry{Index: r.commitIndex + 1, Term: r.term, Payload: payload}
	if err := r.logStore.Append(entry); err != nil {
		res.Decision = DecisionRejected
		res.Reason = "log_append_failed"
		metrics.ConsensusProposals.WithLabelValues(string(DecisionRejected)).Inc()
		log.Logger.Error().Err(err).Uint64("index", entry.Index).Msg("failed to append log entry")
		return res
	}

	// Every live participant acknowledges the replication; quorum was
	// already established above.
	r.commitIndex = entry.Index
	for _, id := range live {
		n := r.nodes[id]
		n.lastIndex = entry.Index
		n.lastTerm = entry.Term
	}

	elapsed := time.Since(start)
	r.completed++
	r.decisionMsSum += float64(elapsed) / float64(time.Millisecond)

	res.Decision = DecisionApproved
	res.VotesFor = len(live)
	res.Metadata = map[string]interface{}{
		"index":  entry.Index,
		"term":   entry.Term,
		"leader": r.leaderID,
	}
	metrics.ConsensusProposals.WithLabelValues(string(DecisionApproved)).Inc()
	return res
}

// Snapshot is a read-only view of the engine state
type Snapshot struct {
	LeaderID    string
	Term        uint64
	CommitIndex uint64
	Roles       map[string]Role
}

// State returns the current engine snapshot
func (r *Raft) State() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	roles := make(map[string]Role, len(r.nodes))
	for id, n := range r.nodes {
		roles[id] = n.role
	}
	return Snapshot{
		LeaderID:    r.leaderID,
		Term:        r.term,
		CommitIndex: r.commitIndex,
		Roles:       roles,
	}
}

// Reset returns every participant to FOLLOWER at term zero. The
// persisted log is kept; commit indexes continue past it.
func (r *Raft) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.term = 0
	r.leaderID = ""
	r.nodes = make(map[string]*nodeState)
	metrics.ConsensusIsLeader.Set(0)
	metrics.ConsensusTerm.Set(0)
}

// Stats reports proposal telemetry for the bottleneck detector
func (r *Raft) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := Stats{Proposals: r.proposals, Completed: r.completed}
	if r.completed > 0 {
		s.AvgDecisionMs = r.decisionMsSum / float64(r.completed)
	}
	return s
}

// Start launches the ticker worker that stands in for leader heartbeats:
// each interval it verifies the leader is still a live member and runs a
// transparent re-election when it is not.
func (r *Raft) Start() {
	if !r.started.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer close(r.doneCh)
		ticker := time.NewTicker(r.opts.HeartbeatInterval)
		defer ticker.Stop()

		for {
			select {
			case <-r.stopCh:
				return
			case <-ticker.C:
				r.mu.Lock()
				if _, ok := r.leaderLocked(); !ok {
					metrics.ConsensusIsLeader.Set(0)
					if len(r.members()) > 0 {
						prior := r.leaderID
						if id, elected := r.electLocked(); elected && id != prior {
							log.Logger.Info().
								Str("leader_id", id).
								Str("previous", prior).
								Msg("leader replaced")
						}
					}
				}
				r.mu.Unlock()
			}
		}
	}()
}

// Shutdown stops the ticker worker and waits for it to exit. Safe to
// call more than once.
func (r *Raft) Shutdown() {
	r.once.Do(func() {
		close(r.stopCh)
	})
	if r.started.Load() {
		<-r.doneCh
	}
}
