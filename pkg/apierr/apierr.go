// Package apierr maps the platform's error kinds (spec.md §7) onto HTTP
// status codes, shared by the control plane and evaluation service
// handlers. Grounded on the teacher's repository/errors.go sentinel-error
// pattern, generalized into one typed-error package used across both
// cmd/* trees instead of being re-declared per repository.
package apierr

import (
	"errors"
	"net/http"
)

// Kind is one of the error kinds from spec.md §7.
type Kind string

const (
	KindValidation Kind = "validation"
	KindNotFound   Kind = "not_found"
	KindConflict   Kind = "conflict"
	KindUnauthenticated Kind = "unauthenticated"
	KindUpstreamUnavailable Kind = "upstream_unavailable"
	KindTimeout    Kind = "timeout"
	KindInternal   Kind = "internal"
)

// Error carries a Kind alongside the wrapped cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: cause}
}

// Validation, NotFound, Conflict, Unauthenticated, UpstreamUnavailable,
// Timeout, and Internal are terse constructors for the common cases.
func Validation(msg string) *Error           { return New(KindValidation, msg, nil) }
func NotFound(msg string) *Error             { return New(KindNotFound, msg, nil) }
func Conflict(msg string) *Error             { return New(KindConflict, msg, nil) }
func Unauthenticated(msg string) *Error      { return New(KindUnauthenticated, msg, nil) }
func UpstreamUnavailable(msg string, err error) *Error { return New(KindUpstreamUnavailable, msg, err) }
func Timeout(msg string) *Error              { return New(KindTimeout, msg, nil) }
func Internal(msg string, err error) *Error  { return New(KindInternal, msg, err) }

// StatusCode maps an error onto the HTTP status spec.md §7 prescribes for
// mutation paths. The evaluation service uses it only for malformed
// requests and its diagnostic endpoints — faults during an evaluation
// itself degrade to a 200 with a diagnostic reason instead.
func StatusCode(err error) int {
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		return http.StatusInternalServerError
	}
	switch apiErr.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindUpstreamUnavailable:
		return http.StatusBadGateway
	case KindTimeout:
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}
