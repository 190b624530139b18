package failure

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a terminal failure. It implements error so callers can
// match on it directly with errors.Is.
type Kind string

const (
	InvalidInput       Kind = "invalid_input"
	Busy               Kind = "busy"
	UnsupportedFormat  Kind = "unsupported_format"
	NormalizationError Kind = "normalization_error"
	MissingModel       Kind = "missing_model"
	MissingCredential  Kind = "missing_credential"
	EngineError        Kind = "engine_error"
	Cancelled          Kind = "cancelled"
	CryptoError        Kind = "crypto_error"
)

func (k Kind) Error() string {
	return string(k)
}

// Error attaches a Kind and the failing operation to an underlying cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}

	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Op)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches a bare Kind target so errors.Is(err, failure.Busy) works on wrapped errors.
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	kind, ok := target.(Kind)
	return ok && kind == e.Kind
}

func New(kind Kind, op string) error {
	return &Error{Kind: kind, Op: op}
}

func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf reports the kind of err. Context cancellation maps to Cancelled and
// anything unclassified is an EngineError.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}

	var typed *Error
	if errors.As(err, &typed) {
		return typed.Kind
	}

	var kind Kind
	if errors.As(err, &kind) {
		return kind
	}

	if errors.Is(err, context.Canceled) {
		return Cancelled
	}

	return EngineError
}

func IsCancelled(err error) bool {
	return KindOf(err) == Cancelled
}
