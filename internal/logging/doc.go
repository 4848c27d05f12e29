// Package logging wraps log/slog with the attribute helpers, standardized
// field names, and context plumbing used throughout the pipeline. Every
// component logger carries a "component" attribute; stage execution adds
// correlation id, stage, and document id from the request context.
package logging
