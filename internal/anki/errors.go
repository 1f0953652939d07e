package anki

import (
	"errors"
	"fmt"
)

// Kind 错误类别，用于区分可由用户修复的故障
// Kind classifies client errors so callers can tell user-fixable failures apart.
type Kind string

const (
	KindUnreachable Kind = "store_unreachable"
	KindValidation  Kind = "validation"
	KindRemote      Kind = "remote_rejected"
	KindNotFound    Kind = "not_found"
	KindProtocol    Kind = "protocol"
)

// ErrUnreachable matches any error whose Kind is KindUnreachable.
var ErrUnreachable = errors.New("anki unreachable")

// Error is returned by every Client method that fails.
type Error struct {
	Kind   Kind
	Action string
	Msg    string
	Err    error
}

func (e *Error) Error() string {
	if e.Action != "" {
		return fmt.Sprintf("anki %s: %s", e.Action, e.Msg)
	}
	return "anki: " + e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	return target == ErrUnreachable && e.Kind == KindUnreachable
}

// Retryable reports whether repeating the same request could succeed without user action.
func (e *Error) Retryable() bool {
	return e.Kind == KindProtocol
}

// KindOf returns the Kind of err, or "" if err is not an *Error.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return ""
}

func validationErr(action, format string, args ...any) error {
	return &Error{Kind: KindValidation, Action: action, Msg: fmt.Sprintf(format, args...)}
}
