// Package pipeline orchestrates the six stage queues that carry an
// invoice from raw PDF to billed or held, including retry policy,
// health reporting, and hold resolution re-entry.
package pipeline
