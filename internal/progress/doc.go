// Package progress provides the event primitives, non-blocking hub, and emitter
// interfaces the scheduler uses to report audit lifecycle transitions. It
// batches events on a background goroutine and fans them out to pluggable
// sinks such as logs, Prometheus metrics, the terminal box or Server-Sent Events.
package progress
