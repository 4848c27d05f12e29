// Package main hosts the apflow CLI entrypoint and command graph.
//
// The Cobra-based command tree runs the processing daemon, submits
// invoice PDFs, and administers the shared SQLite queue and hold list.
// Commands that need the live pipeline (process, holds resolve, health,
// stats) go through the daemon's admin HTTP API; queue inspection and
// maintenance open the database directly so they work while the daemon
// is down.
package main
