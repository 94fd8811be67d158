// Package consensus provides majority-committed decisions over the
// swarm's logical agents. The Raft engine elects a leader with
// randomized election deadlines and appends proposals to a persistent
// log once a majority of participants acknowledges them. The quorum
// engine is a simpler leaderless majority vote for decisions that do
// not need a log.
//
// All participants share one process, so the protocol's RPCs collapse
// into direct state updates; terms, vote rules, and log ordering still
// follow Raft so the observable guarantees hold: at most one leader per
// term, and committed entries totally ordered by index.
package consensus
