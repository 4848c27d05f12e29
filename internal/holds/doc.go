// Package holds tracks documents pulled out of automatic processing
// for human review and enforces single-shot resolution.
package holds
