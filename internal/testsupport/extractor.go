package testsupport

import (
	"context"

	"apflow/internal/extraction"
)

// ExtractorStub implements extraction.Client with a canned result per call.
type ExtractorStub struct {
	// Result is returned from AnalyzeInvoice when Err is nil. Tests
	// mutate it between calls to script different documents.
	Result *extraction.Invoice
	Err    error

	// Calls records the supplier hints passed in, one per invocation.
	Calls []string
}

func (s *ExtractorStub) AnalyzeInvoice(_ context.Context, _ []byte, supplierHint string) (*extraction.Invoice, error) {
	s.Calls = append(s.Calls, supplierHint)
	if s.Err != nil {
		return nil, s.Err
	}
	if s.Result == nil {
		return &extraction.Invoice{}, nil
	}
	cp := *s.Result
	return &cp, nil
}
