package fault

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a failure so callers can react without matching on
// message text.
type Kind string

const (
	KindConfig      Kind = "config"
	KindLoad        Kind = "load"
	KindRecognition Kind = "recognition"
	KindGeneration  Kind = "generation"
	KindSynthesis   Kind = "synthesis"
	KindTimeout     Kind = "timeout"
	KindUnknown     Kind = "unknown"
)

// Error carries a kind alongside the underlying cause. Errors of kind
// config and load are fatal for the operation; stage kinds are scoped to
// a single turn and never corrupt session state.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a classified error from a format string.
func New(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies an existing error. A nil err yields nil.
func Wrap(kind Kind, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf extracts the kind from an error chain. Context deadline errors
// classify as timeout even when no stage wrapped them.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var fe *Error
	if errors.As(err, &fe) {
		if fe.Kind == KindTimeout {
			return KindTimeout
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return KindTimeout
		}
		return fe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindUnknown
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
