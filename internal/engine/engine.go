package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fmueller/audiotext/internal/failure"
	"github.com/fmueller/audiotext/internal/normalize"
	"github.com/fmueller/audiotext/internal/progress"
)

// Kind selects a transcription backend. The set is closed.
type Kind string

const (
	Local Kind = "local"
	Cloud Kind = "cloud"
)

func Kinds() []Kind {
	return []Kind{Local, Cloud}
}

// ParseKind accepts exactly "local" or "cloud" (case-insensitive).
func ParseKind(value string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(value))) {
	case Local:
		return Local, nil
	case Cloud:
		return Cloud, nil
	default:
		return "", failure.Wrap(failure.InvalidInput, "engine", fmt.Errorf("unknown engine %q (want local or cloud)", value))
	}
}

func (k Kind) Valid() bool {
	return k == Local || k == Cloud
}

type Result struct {
	Text string
}

// Engine turns a prepared audio file into text. Implementations report progress
// through sink only while Transcribe is running.
type Engine interface {
	Kind() Kind
	Policy() normalize.Policy
	Transcribe(ctx context.Context, path string, sink progress.Sink) (Result, error)
}

// Readiness reports whether an engine could run right now without starting a job.
type Readiness interface {
	Ready() error
}

// classify maps an engine failure to a failure kind, preferring cancellation
// whenever the context is done.
func classify(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return failure.Wrap(failure.Cancelled, op, ctxErr)
	}

	var typed *failure.Error
	if errors.As(err, &typed) {
		return err
	}
	return failure.Wrap(failure.EngineError, op, err)
}
