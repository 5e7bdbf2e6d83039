package inbox_errors

import (
	"errors"
	"fmt"
)

// Common errors
var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("conflict")
	ErrInvalidInput       = errors.New("invalid input")
	ErrRateLimited        = errors.New("rate limited")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrSendInFlight       = errors.New("send already in progress")
	ErrNoSession          = errors.New("no active session")
	ErrClosed             = errors.New("closed")
)

// Kind classifies a failure by how the caller is expected to react to it.
type Kind string

const (
	// KindTransport: upstream unreachable or failing. Transient.
	KindTransport Kind = "TRANSPORT"
	// KindValidation: rejected locally before any network round-trip.
	KindValidation Kind = "VALIDATION"
	// KindNotFound: the conversation no longer exists upstream.
	KindNotFound Kind = "NOT_FOUND"
	// KindConflict: an equivalent conversation was persisted concurrently.
	KindConflict Kind = "CONFLICT"
)

type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets callers match on the package sentinels without unwrapping.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrServiceUnavailable:
		return e.Kind == KindTransport
	case ErrInvalidInput:
		return e.Kind == KindValidation
	case ErrNotFound:
		return e.Kind == KindNotFound
	case ErrConflict:
		return e.Kind == KindConflict
	}
	return false
}

func Transport(op string, cause error) error {
	return &Error{Kind: KindTransport, Op: op, Message: "upstream unavailable", Err: cause}
}

func Validation(op, message string) error {
	return &Error{Kind: KindValidation, Op: op, Message: message}
}

func NotFound(op, message string) error {
	return &Error{Kind: KindNotFound, Op: op, Message: message}
}

func Conflict(op, message string) error {
	return &Error{Kind: KindConflict, Op: op, Message: message}
}

// KindOf reports the Kind of err, or "" when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func IsTransport(err error) bool  { return KindOf(err) == KindTransport }
func IsValidation(err error) bool { return KindOf(err) == KindValidation }
func IsNotFound(err error) bool   { return KindOf(err) == KindNotFound || errors.Is(err, ErrNotFound) }
func IsConflict(err error) bool   { return KindOf(err) == KindConflict }
