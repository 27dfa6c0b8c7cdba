// Package apperr defines the closed set of failure categories surfaced to
// API callers.
package apperr

import (
	"errors"
	"net/http"
)

// Kind is a user-visible failure category.
type Kind int

const (
	KindInternal Kind = iota
	KindAlreadyExists
	KindNotFound
	KindInvalidCredentials
	KindUnauthorized
	KindAlreadyVerified
	KindExpired
	KindInvalidInput
)

func (k Kind) String() string {
	switch k {
	case KindAlreadyExists:
		return "already_exists"
	case KindNotFound:
		return "not_found"
	case KindInvalidCredentials:
		return "invalid_credentials"
	case KindUnauthorized:
		return "unauthorized"
	case KindAlreadyVerified:
		return "already_verified"
	case KindExpired:
		return "expired"
	case KindInvalidInput:
		return "invalid_input"
	default:
		return "internal"
	}
}

// Error carries a Kind, a caller-facing message and an optional cause.
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

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error of the same kind, so errors.Is(err, apperr.New(k, ""))
// works as a category check.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Message == "" || t.Message == e.Message)
}

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

func AlreadyExists(msg string) *Error      { return New(KindAlreadyExists, msg) }
func NotFound(msg string) *Error           { return New(KindNotFound, msg) }
func InvalidCredentials(msg string) *Error { return New(KindInvalidCredentials, msg) }
func Unauthorized(msg string) *Error       { return New(KindUnauthorized, msg) }
func AlreadyVerified(msg string) *Error    { return New(KindAlreadyVerified, msg) }
func Expired(msg string) *Error            { return New(KindExpired, msg) }
func InvalidInput(msg string) *Error       { return New(KindInvalidInput, msg) }

// KindOf returns the kind carried by err, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// MessageOf returns the caller-facing message for err. Internal errors get a
// generic message so causes are never leaked.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Kind != KindInternal {
		return e.Message
	}
	return "internal server error"
}

// HTTPStatus maps a kind to its response status code.
func HTTPStatus(k Kind) int {
	switch k {
	case KindAlreadyExists:
		return http.StatusConflict
	case KindNotFound:
		return http.StatusNotFound
	case KindInvalidCredentials, KindAlreadyVerified, KindExpired, KindInvalidInput:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}
