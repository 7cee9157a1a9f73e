package model

import (
	"errors"
	"fmt"
)

// Kind classifies a failure returned across the core boundary.
type Kind string

const (
	KindPermissionDenied     Kind = "permission_denied"
	KindInvalidConfiguration Kind = "invalid_configuration"
	KindFileNotFound         Kind = "file_not_found"
	KindAudioService         Kind = "audio_service_error"
	KindDatabase             Kind = "database_error"
	KindFileSystem           Kind = "filesystem_error"
	KindBusy                 Kind = "busy"
	KindInvalidState         Kind = "invalid_state"
	KindNotFound             Kind = "not_found"
	KindUnexpected           Kind = "unexpected"
)

// Error is the typed failure every exposed operation returns.
type Error struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

// E builds an *Error. err may be nil.
func E(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Errorf builds an *Error with a formatted message and no cause.
func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by kind, so errors.Is(err, &Error{Kind: KindBusy}) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// UserMessage returns the short message meant for display.
func (e *Error) UserMessage() string {
	return e.Message
}

// Retryable reports whether the user can reasonably retry the same action.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindAudioService, KindDatabase, KindFileSystem, KindBusy:
		return true
	default:
		return false
	}
}

// KindOf extracts the Kind of err, or KindUnexpected if err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnexpected
}

// Wrap converts any error into an *Error, keeping an existing kind.
// A nil err stays nil.
func Wrap(err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return E(KindUnexpected, "unexpected error", err)
}
