// Package heartbeat tracks agent liveness. Each monitored agent keeps a
// bounded ring buffer of heartbeats; health is derived on demand from the
// age of the last beat relative to the agent's expected interval. A
// single sweeper goroutine re-derives health each check interval and
// dispatches alerts on state transitions, deduplicated by previous state.
package heartbeat
