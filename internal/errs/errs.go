package errs

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Kind classifies a failure so transports can map it to a status code or
// an error frame without inspecting messages.
type Kind string

const (
	AuthenticationFailed Kind = "authentication_failed"
	MalformedFrame       Kind = "malformed_frame"
	UnknownFrameType     Kind = "unknown_frame_type"
	NotFound             Kind = "not_found"
	InvalidTransition    Kind = "invalid_transition"
	MissingReason        Kind = "missing_reason"
	AlreadyResponded     Kind = "already_responded"
	PermissionDenied     Kind = "permission_denied"
	ValidationError      Kind = "validation_error"
	IntegrityFailure     Kind = "integrity_failure"
)

// Error is the structured error returned by every core component.
// Callers extract it with errors.As:
//
//	var e *errs.Error
//	if errors.As(err, &e) && e.Kind == errs.NotFound { ... }
type Error struct {
	Kind    Kind
	Message string
	// Fields holds per-field messages for ValidationError.
	Fields map[string]string
	Err    error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if len(e.Fields) > 0 {
		keys := make([]string, 0, len(e.Fields))
		for k := range e.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "; %s: %s", k, e.Fields[k])
		}
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to an underlying error.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// Validation builds a ValidationError carrying a per-field error map.
func Validation(fields map[string]string) *Error {
	return &Error{Kind: ValidationError, Message: "invalid payload", Fields: fields}
}

// KindOf returns the Kind of err, or "" when err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is reports whether err is an *Error with the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Integrity wraps an unexpected persistence error as IntegrityFailure,
// leaving already-classified errors untouched.
func Integrity(err error, op string) error {
	if err == nil {
		return nil
	}
	if KindOf(err) != "" {
		return err
	}
	return Wrap(IntegrityFailure, err, "%s", op)
}
