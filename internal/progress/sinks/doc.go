// Package sinks contains progress.Sink implementations that turn audit
// lifecycle events into logs, Prometheus metrics, Pub/Sub messages and
// Postgres rows.
package sinks
