package consensus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moai-flow/swarm/pkg/types"
)

func memberSet(n int) []*types.Agent {
	agents := make([]*types.Agent, 0, n)
	for i := 0; i < n; i++ {
		agents = append(agents, &types.Agent{
			ID:    string(rune('a' + i)),
			State: types.AgentStateActive,
		})
	}
	return agents
}

func staticMembers(agents []*types.Agent) MembershipFunc {
	return func() []*types.Agent { return agents }
}

func newTestRaft(t *testing.T, agents []*types.Agent) *Raft {
	t.Helper()
	r, err := NewRaft(staticMembers(agents), NewMemoryLogStore(), Options{
		ElectionTimeout:   time.Second,
		HeartbeatInterval: 10 * time.Millisecond,
	})
	require.NoError(t, err)
	return r
}

func TestElectLeaderProducesSingleLeader(t *testing.T) {
	agents := memberSet(5)
	r := newTestRaft(t, agents)

	leader, err := r.ElectLeader()
	require.NoError(t, err)
	assert.NotEmpty(t, leader)

	snap := r.State()
	assert.Equal(t, leader, snap.LeaderID)
	assert.Equal(t, uint64(1), snap.Term)

	leaders := 0
	for _, role := range snap.Roles {
		if role == RoleLeader {
			leaders++
		}
	}
	assert.Equal(t, 1, leaders)

	// A second call returns the sitting leader without a new term.
	again, err := r.ElectLeader()
	require.NoError(t, err)
	assert.Equal(t, leader, again)
	assert.Equal(t, uint64(1), r.State().Term)
}

func TestElectLeaderTimesOutWithoutQuorum(t *testing.T) {
	agents := memberSet(5)
	for _, a := range agents[:3] {
		a.State = types.AgentStateFailed
	}
	r, err := NewRaft(staticMembers(agents), nil, Options{
		ElectionTimeout: 20 * time.Millisecond,
	})
	require.NoError(t, err)

	_, err = r.ElectLeader()
	assert.ErrorIs(t, err, ErrElectionTimeout)
}

func TestProposeCommitsWithMajority(t *testing.T) {
	agents := memberSet(5)
	r := newTestRaft(t, agents)

	leader, err := r.ElectLeader()
	require.NoError(t, err)

	res := r.Propose(map[string]interface{}{"proposal_id": "p1"}, 3*time.Second)
	assert.Equal(t, DecisionApproved, res.Decision)
	assert.GreaterOrEqual(t, res.VotesFor, 3)
	assert.Equal(t, 0.5, res.Threshold)
	assert.Equal(t, 5, res.Participants)

	entries, err := r.logStore.Entries()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, uint64(1), entries[0].Index)
	assert.Equal(t, r.State().Term, entries[0].Term)
	assert.Equal(t, "p1", entries[0].Payload["proposal_id"])
	assert.Equal(t, leader, res.Metadata["leader"])
}

func TestProposeElectsLeaderTransparently(t *testing.T) {
	r := newTestRaft(t, memberSet(3))
	res := r.Propose(map[string]interface{}{"k": "v"}, time.Second)
	assert.Equal(t, DecisionApproved, res.Decision)
	assert.NotEmpty(t, r.State().LeaderID)
}

func TestFaultToleranceBoundary(t *testing.T) {
	// N=5 tolerates floor((N-1)/2)=2 failures; 3 failures lose quorum.
	agents := memberSet(5)
	r := newTestRaft(t, agents)

	agents[0].State = types.AgentStateFailed
	agents[1].State = types.AgentStateFailed
	res := r.Propose(map[string]interface{}{"k": 1}, time.Second)
	assert.Equal(t, DecisionApproved, res.Decision)
	assert.Equal(t, 3, res.VotesFor)
	assert.Equal(t, 2, res.Abstain)

	agents[2].State = types.AgentStateFailed
	res = r.Propose(map[string]interface{}{"k": 2}, time.Second)
	assert.Equal(t, DecisionTimeout, res.Decision)
	assert.Equal(t, ReasonInsufficientQuorum, res.Reason)
}

func TestCommittedEntriesAreTotallyOrdered(t *testing.T) {
	r := newTestRaft(t, memberSet(3))
	for i := 0; i < 5; i++ {
		res := r.Propose(map[string]interface{}{"seq": i}, time.Second)
		require.Equal(t, DecisionApproved, res.Decision)
	}

	entries, err := r.logStore.Entries()
	require.NoError(t, err)
	require.Len(t, entries, 5)
	for i, e := range entries {
		assert.Equal(t, uint64(i+1), e.Index)
	}
}

func TestLeaderFailureTriggersReelection(t *testing.T) {
	agents := memberSet(5)
	r := newTestRaft(t, agents)

	leader, err := r.ElectLeader()
	require.NoError(t, err)
	firstTerm := r.State().Term

	for _, a := range agents {
		if a.ID == leader {
			a.State = types.AgentStateFailed
			break
		}
	}

	next, err := r.ElectLeader()
	require.NoError(t, err)
	assert.NotEqual(t, leader, next)
	assert.Greater(t, r.State().Term, firstTerm)
}

func TestTickerReplacesFailedLeader(t *testing.T) {
	agents := memberSet(3)
	r := newTestRaft(t, agents)

	leader, err := r.ElectLeader()
	require.NoError(t, err)

	r.Start()
	defer r.Shutdown()

	for _, a := range agents {
		if a.ID == leader {
			a.State = types.AgentStateFailed
			break
		}
	}

	require.Eventually(t, func() bool {
		snap := r.State()
		return snap.LeaderID != "" && snap.LeaderID != leader
	}, time.Second, 10*time.Millisecond)
}

func TestResetReturnsToInitialState(t *testing.T) {
	r := newTestRaft(t, memberSet(3))
	_, err := r.ElectLeader()
	require.NoError(t, err)
	require.Equal(t, DecisionApproved, r.Propose(map[string]interface{}{"k": 1}, time.Second).Decision)

	r.Reset()
	snap := r.State()
	assert.Empty(t, snap.LeaderID)
	assert.Zero(t, snap.Term)
	// The persisted log survives a reset.
	assert.Equal(t, uint64(1), snap.CommitIndex)
}

func TestShutdownWithoutStart(t *testing.T) {
	r := newTestRaft(t, memberSet(3))
	r.Shutdown()
	r.Shutdown()
}

func TestStatsTracksProposals(t *testing.T) {
	agents := memberSet(3)
	r := newTestRaft(t, agents)

	require.Equal(t, DecisionApproved, r.Propose(map[string]interface{}{"k": 1}, time.Second).Decision)
	for _, a := range agents {
		a.State = types.AgentStateFailed
	}
	r.Propose(map[string]interface{}{"k": 2}, time.Second)

	stats := r.Stats()
	assert.Equal(t, 2, stats.Proposals)
	assert.Equal(t, 1, stats.Completed)
	assert.Equal(t, 0.5, stats.CompletionRate())
	assert.Equal(t, 1.0, Stats{}.CompletionRate())
}

func TestBoltLogStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	ls, err := NewBoltLogStore(dir)
	require.NoError(t, err)

	require.NoError(t, ls.Append(Entry{Index: 1, Term: 1, Payload: map[string]interface{}{"k": "v"}}))
	require.NoError(t, ls.Append(Entry{Index: 2, Term: 1, Payload: map[string]interface{}{"k": "w"}}))

	// Appends must be monotonic.
	assert.Error(t, ls.Append(Entry{Index: 2, Term: 2}))

	last, err := ls.LastIndex()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), last)
	require.NoError(t, ls.Close())

	// Reopen and confirm the log survived.
	ls, err = NewBoltLogStore(dir)
	require.NoError(t, err)
	defer ls.Close()

	entries, err := ls.Entries()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "v", entries[0].Payload["k"])

	// A fresh engine resumes past the persisted log.
	r, err := NewRaft(staticMembers(memberSet(3)), ls, Options{ElectionTimeout: time.Second})
	require.NoError(t, err)
	res := r.Propose(map[string]interface{}{"k": "x"}, time.Second)
	require.Equal(t, DecisionApproved, res.Decision)
	assert.Equal(t, uint64(3), res.Metadata["index"])
}

func TestMemoryLogStoreMonotonic(t *testing.T) {
	ls := NewMemoryLogStore()
	require.NoError(t, ls.Append(Entry{Index: 1, Term: 1}))
	assert.Error(t, ls.Append(Entry{Index: 1, Term: 2}))

	last, err := ls.LastIndex()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), last)
}

func TestQuorumApprovesAndRejects(t *testing.T) {
	agents := memberSet(5)

	yes := NewQuorum(staticMembers(agents), nil, 0.5)
	res := yes.Propose(map[string]interface{}{"k": 1}, time.Second)
	assert.Equal(t, DecisionApproved, res.Decision)
	assert.Equal(t, 5, res.VotesFor)

	// Only two of five vote yes: under a strict majority.
	split := NewQuorum(staticMembers(agents), func(id string, _ map[string]interface{}) bool {
		return id < "c"
	}, 0.5)
	res = split.Propose(map[string]interface{}{"k": 1}, time.Second)
	assert.Equal(t, DecisionRejected, res.Decision)
	assert.Equal(t, 2, res.VotesFor)
	assert.Equal(t, 3, res.VotesAgainst)
}

func TestQuorumInsufficientQuorum(t *testing.T) {
	agents := memberSet(4)
	for _, a := range agents[:2] {
		a.State = types.AgentStateFailed
	}
	q := NewQuorum(staticMembers(agents), nil, 0.5)
	res := q.Propose(map[string]interface{}{"k": 1}, time.Second)
	assert.Equal(t, DecisionTimeout, res.Decision)
	assert.Equal(t, ReasonInsufficientQuorum, res.Reason)
	assert.Equal(t, 2, res.Abstain)
}
