package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrInsufficientPosition = errors.New("insufficient position")
	ErrInvalidOrder         = errors.New("invalid order")
	ErrAuthentication       = errors.New("authentication failed")
	ErrStrategyNotFound     = errors.New("strategy not found")
	ErrStrategyExists       = errors.New("strategy already exists")
	ErrPositionNotFound     = errors.New("position not found")
)

// ValidationError reports a rule set field that violates an invariant.
// It is surfaced synchronously to the caller and never persisted.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

func NewValidationError(field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// ExchangeError wraps a failure reported by an exchange API call.
type ExchangeError struct {
	Exchange string
	Code     string
	Message  string
	Err      error
}

func (e *ExchangeError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: [%s] %s", e.Exchange, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Exchange, e.Message)
}

func (e *ExchangeError) Unwrap() error {
	return e.Err
}
