package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrExternalService marks failures talking to the ERP, the extraction
	// service, or storage. These are infrastructure failures: the queue
	// layer retries them.
	ErrExternalService = errors.New("external service error")
	// ErrValidation marks malformed or incomplete input detected by a stage.
	ErrValidation = errors.New("validation error")
	// ErrConfiguration marks missing or invalid configuration.
	ErrConfiguration = errors.New("configuration error")
	// ErrNotFound marks a missing record.
	ErrNotFound = errors.New("not found")
	// ErrTransient marks retryable failures without a more specific class.
	ErrTransient = errors.New("transient failure")
	// ErrNegativeQuantity is surfaced by the ERP client when a purchase
	// order receipt would record a negative received quantity. Stage
	// handlers convert it into a hold rather than letting it retry.
	ErrNegativeQuantity = errors.New("negative quantity")
)

// Wrap builds an error message that includes stage context while tagging it
// with the provided marker for later classification. The marker should be
// one of the exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Retryable reports whether the queue layer should retry a stage failure.
// Validation and configuration errors never resolve themselves, so retrying
// them only delays operator attention.
func Retryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrValidation), errors.Is(err, ErrConfiguration):
		return false
	default:
		return true
	}
}

// IsNotFound reports whether err carries the not-found marker.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
