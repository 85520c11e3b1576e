package iam

import (
	"errors"
)

// Kind classifies an [Error] for callers. Transports map kinds to status
// codes; everything else about a failure stays server-side.
type Kind int

const (
	// KindUnauthorized covers bad credentials, bad or expired tickets,
	// invalid or forged tokens, blocked accounts, and missing sessions.
	KindUnauthorized Kind = iota
	// KindNotFound covers administrative lookup misses.
	KindNotFound
	// KindConflict covers duplicate unique identifiers on creation.
	KindConflict
)

// Error is the failure type surfaced by the engine. Callers receive only the
// kind and its generic message; Reason is a server-side diagnostic and must
// never be echoed to the caller.
type Error struct {
	Kind   Kind
	Reason string
}

func (e *Error) Error() string {
	if e.Reason == "" {
		return e.Message()
	}
	return e.Message() + ": " + e.Reason
}

// Message returns the caller-safe generic message for the error kind.
func (e *Error) Message() string {
	switch e.Kind {
	case KindNotFound:
		return "not found"
	case KindConflict:
		return "conflict"
	default:
		return "unauthorized"
	}
}

// Is matches any *Error of the same kind, so
// errors.Is(err, ErrUnauthorized) holds regardless of the internal reason.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	// ErrUnauthorized is the comparison target for all authentication and
	// session failures.
	ErrUnauthorized = &Error{Kind: KindUnauthorized}
	// ErrNotFound is the comparison target for administrative lookup misses.
	ErrNotFound = &Error{Kind: KindNotFound}
	// ErrConflict is the comparison target for uniqueness violations.
	ErrConflict = &Error{Kind: KindConflict}
)

func unauthorized(reason string) *Error {
	return &Error{Kind: KindUnauthorized, Reason: reason}
}

func notFound(reason string) *Error {
	return &Error{Kind: KindNotFound, Reason: reason}
}

func conflict(reason string) *Error {
	return &Error{Kind: KindConflict, Reason: reason}
}

// AsError extracts an *Error from err's chain. Transports use it to decide a
// status code without inspecting internal reasons.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
