// Package services defines shared utilities consumed by the pipeline stage
// handlers and external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp correlation ids, stage names, and document
//     ids for logging and tracing.
//   - Structured error markers plus the Wrap helper that keep failure
//     classification (retryable infrastructure failure vs terminal
//     validation error) uniform across stages.
//
// Business exceptions (duplicate invoice, unreadable document, variance
// exceeded, ...) are not errors: stage handlers convert them into hold
// records and route the invoice to the notify stage instead.
package services
