// Package topology models the agent-connectivity graph of a swarm.
//
// Five variants share the Topology capability set: mesh (every pair
// connected), star (one hub, n-1 spokes), ring (Hamiltonian cycle in
// registration order), hierarchical (tree with parent/child edges), and
// adaptive (wraps one of the others and switches it on a load policy).
//
// Implementations are not goroutine-safe; the swarm coordinator owns a
// single topology instance and serializes access.
package topology
