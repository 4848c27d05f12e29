// Package writeback implements the write stage: PDF archival and final
// document bookkeeping after billing succeeds.
package writeback
