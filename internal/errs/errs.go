package errs

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound signals an unknown position or account.
	ErrNotFound = errors.New("not found")
	// ErrConflict signals a lost per-key race; the caller may retry with a fresh read.
	ErrConflict = errors.New("concurrent modification")
	// ErrUpstreamUnavailable signals an unreachable feed or durable store.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrInconsistent signals that the durable ledger and the hot state disagree.
	ErrInconsistent = errors.New("ledger and hot state disagree")
	// ErrPriceUnavailable signals that no usable quote is cached for a symbol.
	ErrPriceUnavailable = errors.New("price unavailable")
)

// ValidationError rejects malformed input before any state mutation.
type ValidationError struct {
	Reason string
}

func (e ValidationError) Error() string {
	return "validation: " + e.Reason
}

func Validation(format string, args ...any) error {
	return ValidationError{Reason: fmt.Sprintf(format, args...)}
}

func IsValidation(err error) bool {
	var v ValidationError
	return errors.As(err, &v)
}

// InsufficientMarginError rejects a fill that would exceed free margin.
type InsufficientMarginError struct {
	Required decimal.Decimal
	Free     decimal.Decimal
}

func (e InsufficientMarginError) Error() string {
	return fmt.Sprintf("insufficient margin: required %s, free %s", e.Required.StringFixed(2), e.Free.StringFixed(2))
}

func IsInsufficientMargin(err error) bool {
	var m InsufficientMarginError
	return errors.As(err, &m)
}
