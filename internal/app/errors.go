package app

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	ErrInvalidAmount        = errors.New("amount must be positive")
	ErrInvalidDestination   = errors.New("exactly one of destination account or beneficiary is required")
	ErrSameAccount          = fmt.Errorf("%w: source and destination must differ", ErrInvalidDestination)
	ErrValidation           = errors.New("validation failed")
	ErrInvalidCredentials   = errors.New("invalid username or password")
	ErrRateLimited          = errors.New("too many attempts")
	ErrBiometricUnavailable = errors.New("biometric authentication is unavailable")
	ErrBiometricRejected    = errors.New("biometric assertion rejected")
	ErrPaymentNetwork       = errors.New("payment network request failed")
	ErrPaymentRejected      = fmt.Errorf("%w: payment rejected", ErrPaymentNetwork)
)

// ValidationError carries per-field messages and matches ErrValidation.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// RateLimitError reports how long the caller should wait. It matches ErrRateLimited.
type RateLimitError struct {
	RetryAfterSeconds int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("too many attempts, retry after %ds", e.RetryAfterSeconds)
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

func newValidationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = describeFieldError(fe)
	}
	return &ValidationError{Fields: fields}
}

func describeFieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "min":
		return "must be at least " + fe.Param() + " characters"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "numeric":
		return "must contain digits only"
	case "alphanum":
		return "must be alphanumeric"
	}
	return "is invalid"
}
