// Package summary builds and schedules the end-of-day processing digest.
package summary
