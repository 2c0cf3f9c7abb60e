// Package errs provides the unified error type used across dbfill.
//
// Every subsystem (connection resolver, database container, fillers,
// object store, fetch helpers) wraps its native errors into *errs.Error
// before returning them. Callers use the Is* predicates to branch on the
// failure class without importing pgx or minio.
//
// Usage:
//
//	// In a driver: wrap native errors:
//	return errs.Wrap(errs.ErrKindDatabaseMissing, "connect failed", pgErr)
//
//	// In a caller: check error kind:
//	if errs.IsRequirementsUnmet(err) {
//	    // a filler ran before the one it depends on
//	}
package errs

import (
	"errors"
	"fmt"
	"strings"
)

// ErrKind categorises an error without exposing subsystem-specific codes.
type ErrKind int

const (
	ErrKindUnknown               ErrKind = iota
	ErrKindNotFound                      // no rows, no object, no file
	ErrKindConnectionFailed              // cannot reach the backend
	ErrKindDatabaseMissing               // target database does not exist yet
	ErrKindTimeout                       // context deadline / cancellation
	ErrKindQueryFailed                   // SQL or storage operation error
	ErrKindInvalidInput                  // bad configuration or unsafe identifier
	ErrKindPermissionDenied              // access denied / authentication failure
	ErrKindRequirementsUnmet             // filler precondition not fulfilled
	ErrKindFillerFailed                  // prepare or apply of a filler failed
	ErrKindAlternativesExhausted         // every coalesced alternative failed
)

func (k ErrKind) String() string {
	switch k {
	case ErrKindNotFound:
		return "not_found"
	case ErrKindConnectionFailed:
		return "connection_failed"
	case ErrKindDatabaseMissing:
		return "database_missing"
	case ErrKindTimeout:
		return "timeout"
	case ErrKindQueryFailed:
		return "query_failed"
	case ErrKindInvalidInput:
		return "invalid_input"
	case ErrKindPermissionDenied:
		return "permission_denied"
	case ErrKindRequirementsUnmet:
		return "requirements_unmet"
	case ErrKindFillerFailed:
		return "filler_failed"
	case ErrKindAlternativesExhausted:
		return "alternatives_exhausted"
	default:
		return "unknown"
	}
}

// Error is the single error type returned by all dbfill subsystems.
type Error struct {
	Kind    ErrKind
	Message string
	Cause   error // original driver-level error, preserved for logging
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap allows errors.Is / errors.As to traverse the cause chain.
func (e *Error) Unwrap() error {
	return e.Cause
}

// --- Constructors ---

// New creates an *Error with the given kind and message and no cause.
func New(kind ErrKind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Newf is New with a format string.
func Newf(kind ErrKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an *Error with the given kind, message, and an underlying cause.
func Wrap(kind ErrKind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Cause: cause}
}

// Aggregate bundles the errors of several attempted alternatives into one
// ErrKindAlternativesExhausted error. Each cause stays reachable through
// errors.Is / errors.As.
func Aggregate(msg string, causes []error) *Error {
	return &Error{
		Kind:    ErrKindAlternativesExhausted,
		Message: msg,
		Cause:   &multiError{errs: causes},
	}
}

// multiError renders each cause as "<type>: <message>" so an aggregate keeps
// what failed and how.
type multiError struct {
	errs []error
}

func (m *multiError) Error() string {
	parts := make([]string, len(m.errs))
	for i, err := range m.errs {
		parts[i] = fmt.Sprintf("%T: %v", err, err)
	}
	return strings.Join(parts, "; ")
}

func (m *multiError) Unwrap() []error {
	return m.errs
}

// Causes returns the individual errors bundled by Aggregate, or nil when err
// is not an aggregate.
func Causes(err error) []error {
	var m *multiError
	if errors.As(err, &m) {
		return m.errs
	}
	return nil
}

// --- Predicates ---

// IsNotFound reports whether err represents a "not found" result.
func IsNotFound(err error) bool {
	return kindOf(err) == ErrKindNotFound
}

// IsTimeout reports whether err was caused by a deadline or context cancellation.
func IsTimeout(err error) bool {
	return kindOf(err) == ErrKindTimeout
}

// IsConnectionFailed reports whether err is a connectivity failure.
func IsConnectionFailed(err error) bool {
	return kindOf(err) == ErrKindConnectionFailed
}

// IsDatabaseMissing reports whether err says the target database does not exist.
func IsDatabaseMissing(err error) bool {
	return kindOf(err) == ErrKindDatabaseMissing
}

// IsQueryFailed reports whether err is a backend operation failure.
func IsQueryFailed(err error) bool {
	return kindOf(err) == ErrKindQueryFailed
}

// IsInvalidInput reports whether err was caused by bad configuration or an
// identifier that failed the injection guard.
func IsInvalidInput(err error) bool {
	return kindOf(err) == ErrKindInvalidInput
}

// IsPermissionDenied reports whether err is an access control or
// authentication failure.
func IsPermissionDenied(err error) bool {
	return kindOf(err) == ErrKindPermissionDenied
}

// IsRequirementsUnmet reports whether a filler refused to apply because its
// preconditions were not met.
func IsRequirementsUnmet(err error) bool {
	return kindOf(err) == ErrKindRequirementsUnmet
}

// IsFillerFailed reports whether err is a prepare/apply failure of a filler.
func IsFillerFailed(err error) bool {
	return kindOf(err) == ErrKindFillerFailed
}

// IsAlternativesExhausted reports whether every alternative of a coalesced
// step failed.
func IsAlternativesExhausted(err error) bool {
	return kindOf(err) == ErrKindAlternativesExhausted
}

// HasKind reports whether any *Error in err's chain, including the causes
// bundled by Aggregate, has the given kind.
func HasKind(err error, kind ErrKind) bool {
	if err == nil {
		return false
	}
	if e, ok := err.(*Error); ok && e.Kind == kind {
		return true
	}
	switch u := err.(type) {
	case interface{ Unwrap() []error }:
		for _, inner := range u.Unwrap() {
			if HasKind(inner, kind) {
				return true
			}
		}
		return false
	case interface{ Unwrap() error }:
		return HasKind(u.Unwrap(), kind)
	}
	return false
}

// kindOf extracts the ErrKind of the outermost *Error in the chain.
func kindOf(err error) ErrKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ErrKindUnknown
}
