package types

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the business-rule taxonomy. All of these are
// recoverable by the caller; none should terminate the process.
var (
	ErrPermissionDenied    = errors.New("permission denied")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrInsufficientAsset   = errors.New("insufficient asset balance")
	ErrInvalidState        = errors.New("invalid state for requested operation")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrConnectionFailed    = errors.New("connection failed")
	ErrNotFound            = errors.New("not found")
)

// ValidationError collects every violated constraint of a rejected input so
// the caller can correct all of them at once.
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s", strings.Join(e.Violations, "; "))
}

// Add appends a violation.
func (e *ValidationError) Add(format string, args ...any) {
	e.Violations = append(e.Violations, fmt.Sprintf(format, args...))
}

// Err returns the error if any violations were recorded, nil otherwise.
func (e *ValidationError) Err() error {
	if len(e.Violations) == 0 {
		return nil
	}
	return e
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
