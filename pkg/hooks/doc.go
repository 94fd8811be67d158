/*
Package hooks delivers lifecycle events to registered callbacks with
deterministic ordering.

Every subsystem fires its events (task_start, agent_spawn, health_changed,
topology_changed, bottleneck_detected, pre_consensus, ...) through a shared
Registry. Dispatch order is a topological sort of the dependency DAG,
tie-broken by priority (CRITICAL first) and then registration order, so a
given set of hooks always runs the same way.

Sync hooks run inline; async hooks run on a shared pool bounded by the
configured concurrency limit. Each attempt is bounded by a per-hook
timeout, with up to three fixed-backoff retries. Under graceful
degradation a failing hook never aborts the rest of the dispatch.
*/
package hooks
