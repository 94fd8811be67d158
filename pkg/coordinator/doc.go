// Package coordinator is the swarm's single entry point. It owns the
// agent registry, the topology graph, the synchronized state map, and
// the lifecycle of every subsystem worker. All public calls are safe for
// concurrent use; user-supplied callables (hooks, vote functions,
// message handlers) always run outside the coordinator's locks.
package coordinator
