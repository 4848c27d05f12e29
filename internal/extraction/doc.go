// Package extraction turns supplier invoice PDFs into structured invoice
// data via Google Document AI.
package extraction
