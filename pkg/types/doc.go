/*
Package types defines the shared data model for the swarm core.

Agents, messages, metrics, bottleneck reports, and learned patterns are
plain structs exchanged between the coordinator and its subsystems. The
package has no behavior and no dependencies beyond the standard library,
so every subsystem can import it without cycles.
*/
package types
