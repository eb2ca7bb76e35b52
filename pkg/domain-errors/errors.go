// Package domainerrors provides coded domain errors shared across the gate.
// Import it aliased as dErrors.
//
// Every deny produced by the authorization path is a coded error, never a
// panic: callers branch on the code, transports map it to a status, and the
// anomaly engine weighs it. Keep codes stable; they appear in the WAL.
package domainerrors

import (
	"errors"
	"fmt"
)

// Code identifies a class of domain error.
type Code string

const (
	// Deny outcomes. Each one is a terminal answer to an issue or
	// authorize call and doubles as the anomaly weight key.
	CodeTierViolation   Code = "TIER_VIOLATION"
	CodeBlastRadius     Code = "BLAST_RADIUS_EXCEEDED"
	CodeDoubleSpend     Code = "DOUBLE_SPEND"
	CodeRevoked         Code = "REVOKED"
	CodeTTLExpired      Code = "TTL_EXPIRED"
	CodeContextMismatch Code = "CONTEXT_MISMATCH"
	CodeBundleMismatch  Code = "BUNDLE_MISMATCH"
	CodeQuarantined     Code = "QUARANTINED"

	// Infrastructure and validation codes.
	CodeInvalidInput     Code = "INVALID_INPUT"
	CodeNotFound         Code = "NOT_FOUND"
	CodeInternal         Code = "INTERNAL"
	CodeAuditUnavailable Code = "AUDIT_UNAVAILABLE"
)

// DenyCodes lists every code that represents an authorization deny, in a
// stable order. Used by config validation and the anomaly weight table.
var DenyCodes = []Code{
	CodeTierViolation,
	CodeBlastRadius,
	CodeDoubleSpend,
	CodeRevoked,
	CodeTTLExpired,
	CodeContextMismatch,
	CodeBundleMismatch,
	CodeQuarantined,
}

// Error is a domain error with a machine-readable code.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New creates a domain error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates a domain error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap annotates an existing error with a domain code. Returns nil when err
// is nil so call sites can wrap unconditionally.
func Wrap(err error, code Code, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, cause: err}
}

// HasCode reports whether err (or anything it wraps) carries the code.
func HasCode(err error, code Code) bool {
	var domainErr *Error
	if errors.As(err, &domainErr) {
		return domainErr.Code == code
	}
	return false
}

// Is is an alias of HasCode kept for call-site readability.
func Is(err error, code Code) bool { return HasCode(err, code) }

// CodeOf extracts the code from err, or CodeInternal when err carries none.
func CodeOf(err error) Code {
	var domainErr *Error
	if errors.As(err, &domainErr) {
		return domainErr.Code
	}
	return CodeInternal
}
