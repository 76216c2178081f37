package domain

import (
	"errors"
	"fmt"
)

var (
	ErrValidation        = errors.New("validation error")
	ErrConflict          = errors.New("conflict")
	ErrQuotaExceeded     = errors.New("quota exceeded")
	ErrSeatLimitExceeded = errors.New("seat limit exceeded")
	ErrDocumentClosed    = errors.New("document closed")
	ErrPolicyViolation   = errors.New("policy violation")
	ErrNotFound          = errors.New("not found")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrTemporary         = errors.New("temporary failure")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

// Errorf is WrapError for call sites that have no underlying cause.
func Errorf(kind error, operation, format string, args ...any) error {
	return WrapError(kind, operation, fmt.Errorf(format, args...))
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}

// KindCode returns a stable machine-readable code for the first matching kind.
func KindCode(err error) string {
	switch {
	case IsKind(err, ErrValidation):
		return "validation_error"
	case IsKind(err, ErrConflict):
		return "conflict"
	case IsKind(err, ErrQuotaExceeded):
		return "quota_exceeded"
	case IsKind(err, ErrSeatLimitExceeded):
		return "seat_limit_exceeded"
	case IsKind(err, ErrDocumentClosed):
		return "document_closed"
	case IsKind(err, ErrPolicyViolation):
		return "policy_violation"
	case IsKind(err, ErrNotFound):
		return "not_found"
	case IsKind(err, ErrUnauthorized):
		return "unauthorized"
	case IsKind(err, ErrTemporary):
		return "temporary"
	default:
		return "internal"
	}
}
