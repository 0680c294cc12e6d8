// Package sinks implements concrete run record consumers: structured logging,
// Prometheus, the run repository and completion notifications. Each sink
// satisfies the progress.Sink interface and is safe for repeated
// Consume/Close cycles.
package sinks
