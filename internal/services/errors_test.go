package services_test

import (
	"errors"
	"strings"
	"testing"

	"apflow/internal/services"
)

func TestWrapTagsMarker(t *testing.T) {
	cause := errors.New("connection refused")
	err := services.Wrap(services.ErrExternalService, "bill", "receive po", "ERP unreachable", cause)
	if !errors.Is(err, services.ErrExternalService) {
		t.Fatalf("expected ErrExternalService marker, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected wrapped cause, got %v", err)
	}
	if !strings.Contains(err.Error(), "bill: receive po: ERP unreachable") {
		t.Fatalf("unexpected message: %v", err)
	}
}

func TestWrapDefaultsToTransient(t *testing.T) {
	err := services.Wrap(nil, "parse", "", "", nil)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected ErrTransient default, got %v", err)
	}
}

func TestRetryable(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{services.Wrap(services.ErrValidation, "parse", "check pdf", "missing header", nil), false},
		{services.Wrap(services.ErrConfiguration, "bill", "stock location", "not configured", nil), false},
		{services.Wrap(services.ErrExternalService, "match", "find po", "timeout", nil), true},
		{errors.New("plain failure"), true},
	}
	for _, tc := range cases {
		if got := services.Retryable(tc.err); got != tc.want {
			t.Errorf("Retryable(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}
