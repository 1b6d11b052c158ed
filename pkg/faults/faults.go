// Package faults defines the error categories shared by the fingerprint store,
// the inference adapter, and the audit engine.
//
// Callers branch on Kind via IsKind. Error() text is for humans.
package faults

import "errors"

// Kind is a stable category for programmatic error handling.
type Kind string

const (
	// KindProvisioning means the master fingerprint set is absent or empty.
	KindProvisioning Kind = "provisioning"
	// KindResource means a model could not be resolved or loaded.
	KindResource Kind = "resource"
	// KindInference means a single generation failed.
	KindInference Kind = "inference"
	// KindDecryption means a fingerprint file could not be opened with the configured key.
	KindDecryption Kind = "decryption"
	// KindNotFound means a fingerprint file does not exist.
	KindNotFound Kind = "not_found"
	// KindCapacity is reserved for rejecting oversized cache entries. Nothing raises it today.
	KindCapacity Kind = "capacity"
	// KindInvalid means input failed validation.
	KindInvalid Kind = "invalid"
)

// Error is a categorized error. Op names the failing operation.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := e.Message
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// New returns an *Error without a cause.
func New(kind Kind, op, msg string) error {
	return &Error{Kind: kind, Op: op, Message: msg}
}

// Wrap returns an *Error carrying cause. A nil cause behaves like New.
func Wrap(kind Kind, op, msg string, cause error) error {
	return &Error{Kind: kind, Op: op, Message: msg, Cause: cause}
}

// IsKind reports whether err is (or wraps) an *Error with the given Kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}

// KindOf returns the Kind of the outermost *Error in err's chain, or "".
func KindOf(err error) Kind {
	var e *Error
	if !errors.As(err, &e) {
		return ""
	}
	return e.Kind
}
