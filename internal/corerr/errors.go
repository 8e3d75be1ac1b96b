// Package corerr defines the typed error shape surfaced across every
// boundary of the script execution core: validation failures, effect
// gateway failures, filesystem rejections, and VM-level errors all reduce
// to a single *Error so callers (and the VM boundary in internal/vmhost)
// have one thing to pattern-match on.
package corerr

import "fmt"

// Code identifies the category of a failure.
type Code string

const (
	CodeInvalidArgument   Code = "invalid_argument"
	CodeNotFound          Code = "not_found"
	CodePermissionDenied  Code = "permission_denied"
	CodeResourceExhausted Code = "resource_exhausted"
	CodeUpstreamError     Code = "upstream_error"
	CodeTimeout           Code = "timeout"
	CodeInternal          Code = "internal"
)

// Error is the typed error value returned by every core package.
type Error struct {
	Code    Code
	Message string
	Details map[string]any
}

func (e *Error) Error() string {
	if len(e.Details) == 0 {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s %v", e.Code, e.Message, e.Details)
}

// New builds an Error with no details.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf builds an Error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithDetails returns a copy of e with the given details attached.
func (e *Error) WithDetails(details map[string]any) *Error {
	out := *e
	out.Details = details
	return &out
}

func InvalidArgument(format string, args ...any) *Error {
	return Newf(CodeInvalidArgument, format, args...)
}

func NotFound(format string, args ...any) *Error {
	return Newf(CodeNotFound, format, args...)
}

func PermissionDenied(format string, args ...any) *Error {
	return Newf(CodePermissionDenied, format, args...)
}

func ResourceExhausted(format string, args ...any) *Error {
	return Newf(CodeResourceExhausted, format, args...)
}

func UpstreamError(format string, args ...any) *Error {
	return Newf(CodeUpstreamError, format, args...)
}

func Timeout(format string, args ...any) *Error {
	return Newf(CodeTimeout, format, args...)
}

func Internal(format string, args ...any) *Error {
	return Newf(CodeInternal, format, args...)
}

// As reports whether err is a *Error and returns it.
func As(err error) (*Error, bool) {
	e, ok := err.(*Error)
	return e, ok
}
