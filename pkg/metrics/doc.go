// Package metrics exposes the swarm's Prometheus instruments and the
// metrics collector. The collector accepts task, agent, and swarm metric
// submissions on a bounded queue, batches them into store writes, and
// answers summary-statistics queries from an in-memory reservoir.
package metrics
