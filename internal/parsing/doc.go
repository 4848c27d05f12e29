// Package parsing implements the parse stage: extraction, document
// persistence, and the readability and duplicate gates.
package parsing
