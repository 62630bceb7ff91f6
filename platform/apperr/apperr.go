// Package apperr provides typed domain errors. Services return them and
// httpkit.HandleError turns the kind into a status code.
package apperr

import (
	"errors"
	"net/http"
)

// Kind represents the category of error.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindValidation
	// KindConflict means the stored state no longer matches the expected one.
	KindConflict
	KindUnauthorized
	KindBadRequest
	KindInternal
	// KindUnavailable means a dependency (ledger, checkout, mail) could not be reached.
	KindUnavailable
)

var statusByKind = map[Kind]int{
	KindNotFound:     http.StatusNotFound,
	KindValidation:   http.StatusBadRequest,
	KindBadRequest:   http.StatusBadRequest,
	KindConflict:     http.StatusConflict,
	KindUnauthorized: http.StatusUnauthorized,
	KindInternal:     http.StatusInternalServerError,
	KindUnavailable:  http.StatusServiceUnavailable,
}

// Error is a domain error with a typed Kind for HTTP mapping.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the status code for the error's kind. Unknown kinds are
// treated as bad requests.
func (e *Error) HTTPStatus() int {
	if status, ok := statusByKind[e.Kind]; ok {
		return status
	}
	return http.StatusBadRequest
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func NotFound(message string) *Error   { return New(KindNotFound, message) }
func Validation(message string) *Error { return New(KindValidation, message) }
func BadRequest(message string) *Error { return New(KindBadRequest, message) }

// Conflict reports a lost compare-and-set.
func Conflict(message string) *Error { return New(KindConflict, message) }

// Unavailable wraps a failure to reach an external dependency.
func Unavailable(message string, err error) *Error {
	return Wrap(KindUnavailable, message, err)
}

// Is reports whether err carries an *Error of the given kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}
