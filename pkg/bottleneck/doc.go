// Package bottleneck turns raw task metrics and resource telemetry into
// actionable reports. The detector applies a fixed rule set each pass
// (token exhaustion, quota pressure, slow agents, queue backlog, and a
// consensus-timeout stub) and grades findings by an impact score. The
// companion pattern matcher scores live event windows against learned
// sequences to predict likely next events.
package bottleneck
