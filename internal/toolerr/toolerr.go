// Package toolerr defines the error taxonomy shared by the engine adapter,
// session manager, dispatcher, and transport. Every failure surfaced to a
// caller carries one of these kinds; raw engine errors never cross the
// dispatcher boundary.
package toolerr

import (
	"errors"
	"fmt"
)

// Kind classifies a bridge failure.
type Kind string

const (
	// KindInvalidToolCall is a client error: bad tool name, missing or
	// mistyped parameters, disabled tool. No engine side effects.
	KindInvalidToolCall Kind = "InvalidToolCall"

	// KindUnknownSession is a client error: the session id is absent or
	// the session was previously closed.
	KindUnknownSession Kind = "UnknownSession"

	// KindStaleReference is a client error: the element ref does not
	// belong to the session's current snapshot generation.
	KindStaleReference Kind = "StaleReference"

	// KindInvalidURL is a client error: malformed or non-http(s) URL.
	KindInvalidURL Kind = "InvalidURL"

	// KindNavigationTimeout is recoverable: the page did not reach a
	// stable load state in time. The session stays usable.
	KindNavigationTimeout Kind = "NavigationTimeout"

	// KindOperationTimeout is recoverable: the per-call deadline expired.
	// The session stays usable.
	KindOperationTimeout Kind = "OperationTimeout"

	// KindElementNotInteractable is recoverable: the target element cannot
	// receive the action. Signals the caller to re-snapshot.
	KindElementNotInteractable Kind = "ElementNotInteractable"

	// KindCanceled means the caller canceled the call by request id.
	KindCanceled Kind = "Canceled"

	// KindEngineLaunch means the browser could not be started: missing
	// executable or unwritable profile directory.
	KindEngineLaunch Kind = "EngineLaunchError"

	// KindEngineFatal means the engine process died or its connection was
	// torn down. The owning session is forced to Closed.
	KindEngineFatal Kind = "EngineFatal"

	// KindProtocol means the transport received a request it could not
	// deserialize. No session is affected.
	KindProtocol Kind = "ProtocolError"

	// KindPortInUse means the configured listen port could not be bound.
	// Fatal at startup.
	KindPortInUse Kind = "PortInUseError"
)

// Error is a classified bridge error.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a classified error with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies an underlying error.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the kind of an error. Unclassified errors report
// KindEngineFatal: unknown failures from the engine boundary are treated
// as fatal rather than guessed at.
func KindOf(err error) Kind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return KindEngineFatal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	var te *Error
	return errors.As(err, &te) && te.Kind == kind
}

// Fatal reports whether err must force its session to Closed.
func Fatal(err error) bool {
	k := KindOf(err)
	return k == KindEngineFatal || k == KindEngineLaunch
}

// Recoverable reports whether the session remains usable after err.
func Recoverable(err error) bool {
	switch KindOf(err) {
	case KindNavigationTimeout, KindOperationTimeout, KindElementNotInteractable, KindCanceled:
		return true
	}
	return false
}
