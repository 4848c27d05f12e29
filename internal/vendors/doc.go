// Package vendors resolves raw supplier names from invoices to canonical
// vendor records via a normalized synonym table. When no synonym exists and
// exactly one vendor shares a fixed-length prefix with the candidate, the
// resolver auto-binds a new synonym (audited, since the heuristic can
// misfire on names like "ACME" vs "ACME EAST").
package vendors
