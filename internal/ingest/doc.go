// Package ingest implements the split stage: inbound attachment
// validation and staging.
package ingest
