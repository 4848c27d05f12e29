// Package daemon assembles the processing stack and manages its
// lifecycle as a single-instance background process.
package daemon
