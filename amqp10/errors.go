package amqp10

import (
	"github.com/samber/oops"
)

// SessionKind classifies a session-ending or attach-rejecting failure per
// the error taxonomy: what triggered it determines whether the session
// survives (attach rejected, link detached) or is torn down (protocol
// violation, transport failure).
type SessionKind string

const (
	KindInvalidField   SessionKind = "invalid_field"
	KindNotImplemented SessionKind = "not_implemented"
	KindIllegalState   SessionKind = "illegal_state"
	KindInternalError  SessionKind = "internal_error"
	KindNotFound       SessionKind = "not_found"
	KindTransportWrite SessionKind = "transport_write_failure"
	KindBackingExit    SessionKind = "backing_exit"
)

// SessionError is the error type returned by session-core operations. It
// wraps samber/oops so a caller can pull the structured code and context
// back out (oops.AsOops) while everything upstream just sees a plain
// error.
type SessionError struct {
	kind SessionKind
	err  error
}

func newSessionError(kind SessionKind, handle uint32, cause error, format string, args ...interface{}) *SessionError {
	b := oops.Code(string(kind)).With("handle", handle)
	var wrapped error
	if cause != nil {
		wrapped = b.Wrapf(cause, format, args...)
	} else {
		wrapped = b.Errorf(format, args...)
	}
	return &SessionError{kind: kind, err: wrapped}
}

func (e *SessionError) Error() string { return e.err.Error() }
func (e *SessionError) Unwrap() error { return e.err }
func (e *SessionError) Kind() SessionKind { return e.kind }

// condition maps a SessionKind onto the 1.0 wire error-condition carried
// on an end or detach frame.
func (k SessionKind) condition() ErrorCondition {
	switch k {
	case KindInvalidField:
		return ConditionInvalidField
	case KindNotImplemented:
		return ConditionNotImplemented
	case KindIllegalState:
		return ConditionIllegalState
	case KindNotFound:
		return ConditionNotFound
	default:
		return ConditionInternalError
	}
}

func (e *SessionError) toWireError() Error {
	return Error{
		Condition:   e.kind.condition(),
		Description: e.err.Error(),
	}
}
