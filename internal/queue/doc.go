// Package queue implements the durable per-stage job queues backing
// the pipeline, keyed by correlation id for idempotent enqueues.
package queue
