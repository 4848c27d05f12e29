// Package documents holds the parsed invoice model: the Document record,
// its owned line items, trade-category classification, PO number
// normalization, and the duplicate detector's dedupe-window query.
package documents
