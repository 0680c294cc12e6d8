// Package progress provides the run lifecycle records, the non-blocking hub,
// and the emitter interfaces the gateway uses to keep an audit trail of
// analysis runs. It batches records on a background goroutine and fans them
// out to pluggable sinks such as logs, Prometheus metrics, the run repository
// or a Pub/Sub topic. Nothing in this package sits on the streaming path.
package progress
