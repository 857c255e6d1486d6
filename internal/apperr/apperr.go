// Package apperr implements the error taxonomy from spec.md §7: each
// fallible stage converts the underlying error into one of a small set of
// kinds so callers can decide, per kind, whether to retry, fall back, or
// surface a status code — without string-matching error text.
package apperr

import "fmt"

// Kind is one of the taxonomy buckets from §7. It is not itself an HTTP
// status: the (out-of-scope) HTTP layer maps Kind to a status code.
type Kind string

const (
	Validation             Kind = "validation"
	NotFound               Kind = "not_found" // also covers not-owned-by-user, by design (§7)
	DependencyUnavailable  Kind = "dependency_unavailable"
	PolicyFallback         Kind = "policy_fallback"
	Internal               Kind = "internal"
)

// Error wraps an underlying cause with a taxonomy Kind.
type Error struct {
	Kind Kind
	Op   string // the operation that failed, e.g. "addMemory"
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a new taxonomy error.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	for err != nil {
		if ae, ok := err.(*Error); ok {
			e = ae
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return e != nil && e.Kind == kind
}

func NotFoundf(op, format string, args ...interface{}) *Error {
	return New(NotFound, op, fmt.Errorf(format, args...))
}

func Validationf(op, format string, args ...interface{}) *Error {
	return New(Validation, op, fmt.Errorf(format, args...))
}

func Internalf(op, format string, args ...interface{}) *Error {
	return New(Internal, op, fmt.Errorf(format, args...))
}

func Dependency(op string, err error) *Error {
	return New(DependencyUnavailable, op, err)
}
