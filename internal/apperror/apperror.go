// Package apperror defines the error taxonomy shared by the HTTP and
// WebSocket surfaces so both render the same sanitized message for the same
// underlying failure kind.
package apperror

import (
	"errors"
	"fmt"
)

// Kind is a coarse failure category, not a Go type — every operation in the
// gateway returns one of these, wrapped with context via Wrap.
type Kind string

const (
	KindUnsafePath         Kind = "unsafe_path"
	KindPathEscape         Kind = "path_escape"
	KindNotFound           Kind = "not_found"
	KindUnauthorized       Kind = "unauthorized"
	KindForbidden          Kind = "forbidden"
	KindConfigError        Kind = "config_error"
	KindPerUserLimit       Kind = "per_user_limit"
	KindGlobalLimit        Kind = "global_limit"
	KindBranchMissing      Kind = "branch_missing"
	KindBranchExists       Kind = "branch_exists"
	KindInvalidBranchName  Kind = "invalid_branch_name"
	KindTransient          Kind = "transient"
)

// Error wraps an underlying cause with a Kind and a sanitized, user-facing
// message. The underlying cause is logged, never returned to a caller.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.cause }

// New creates an Error with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates an Error carrying cause for logging, exposing only message to callers.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// As extracts an *Error from err, following the wrap chain.
func As(err error) (*Error, bool) {
	var ae *Error
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// KindOf returns the Kind of err if it (or something it wraps) is an *Error,
// else KindTransient.
func KindOf(err error) Kind {
	if ae, ok := As(err); ok {
		return ae.Kind
	}
	return KindTransient
}

// HTTPStatus maps a Kind to the status code named in spec §7.
func HTTPStatus(k Kind) int {
	switch k {
	case KindUnsafePath, KindPathEscape, KindInvalidBranchName:
		return 400
	case KindUnauthorized:
		return 401
	case KindForbidden:
		return 403
	case KindNotFound, KindBranchMissing:
		return 404
	case KindBranchExists:
		return 409
	case KindPerUserLimit:
		return 429
	case KindGlobalLimit:
		return 503
	case KindConfigError:
		return 500
	default:
		return 500
	}
}
