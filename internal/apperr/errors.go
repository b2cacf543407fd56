// Package apperr defines the error taxonomy shared by the auth core and the
// HTTP front door. Every error that leaves a service carries a Kind; the
// Kind decides the HTTP status and the message a client is allowed to see.
package apperr

import (
	"errors"
	"net/http"
)

type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindCredential
	KindUnauthorized
	KindAccessTier
	KindNotFound
	KindDependency
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindCredential:
		return "credential"
	case KindUnauthorized:
		return "unauthorized"
	case KindAccessTier:
		return "access_tier"
	case KindNotFound:
		return "not_found"
	case KindDependency:
		return "dependency"
	default:
		return "internal"
	}
}

// Error is a kinded error. Msg is safe to show to clients; Err holds the
// internal cause and is only ever logged.
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

// Is matches on Kind so callers can write errors.Is(err, apperr.ErrUnauthorized).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Msg == "" || t.Msg == e.Msg)
}

var (
	ErrInvalidCredentials = &Error{Kind: KindCredential, Msg: "invalid credentials"}
	ErrUnauthorized       = &Error{Kind: KindUnauthorized, Msg: "unauthorized"}
	ErrInternal           = &Error{Kind: KindDependency, Msg: "internal server error"}
)

func Validation(msg string) error {
	return &Error{Kind: KindValidation, Msg: msg}
}

func NotFound(msg string) error {
	return &Error{Kind: KindNotFound, Msg: msg}
}

func AccessTier(msg string) error {
	return &Error{Kind: KindAccessTier, Msg: msg}
}

// Dependency wraps a datastore or provider failure. The client only ever
// sees "internal server error".
func Dependency(err error) error {
	return &Error{Kind: KindDependency, Msg: ErrInternal.Msg, Err: err}
}

// DependencyMsg is Dependency with a client-facing message, used when the
// user must learn that an out-of-band delivery did not happen.
func DependencyMsg(msg string, err error) error {
	return &Error{Kind: KindDependency, Msg: msg, Err: err}
}

// KindOf returns the Kind of err, or KindInternal for unkinded errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// PublicMessage returns the client-safe message for err.
func PublicMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Msg
	}
	return ErrInternal.Msg
}

// HTTPStatus maps err to the status codes used by the auth endpoints.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindCredential, KindUnauthorized:
		return http.StatusUnauthorized
	case KindAccessTier:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
