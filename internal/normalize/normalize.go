package normalize

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/fmueller/audiotext/internal/audio"
	"github.com/fmueller/audiotext/internal/failure"
)

// ErrUndecodable is returned by a backend that cannot read the source at all.
// The normalizer moves on to the next backend only for this error.
var ErrUndecodable = errors.New("source not decodable by backend")

const outputName = "normalized.wav"

// Target is the sample rate and channel count an engine requires.
type Target struct {
	SampleRate int
	Channels   int
}

func (t Target) String() string {
	return fmt.Sprintf("%dHz/%dch", t.SampleRate, t.Channels)
}

// Policy is the static input constraint of one engine kind. A nil Target means
// any container whose extension is listed in Accept goes through unchanged.
type Policy struct {
	Target *Target
	Accept []string
}

// Satisfied reports whether path can be handed to the engine without conversion.
func (p Policy) Satisfied(path string) bool {
	if p.Target != nil {
		info, err := audio.Probe(path)
		if err != nil {
			return false
		}
		return info.Matches(p.Target.SampleRate, p.Target.Channels)
	}

	ext := strings.ToLower(filepath.Ext(path))
	return ext != "" && slices.Contains(p.Accept, ext)
}

type Backend interface {
	Name() string
	Available() bool
	// Convert writes a 16-bit PCM WAV to dst. A nil target keeps the source layout.
	Convert(ctx context.Context, src, dst string, target *Target) error
}

// Output is a normalized temporary file owned by the caller.
type Output struct {
	Path string

	dir       string
	removeAll func(string) error
	once      sync.Once
	err       error
}

// Cleanup removes the temporary directory. Calling it again is a no-op.
func (o *Output) Cleanup() error {
	if o == nil {
		return nil
	}
	o.once.Do(func() {
		if o.dir == "" {
			return
		}
		o.err = o.removeAll(o.dir)
	})
	return o.err
}

type Normalizer struct {
	backends  []Backend
	logger    *zap.Logger
	mkdirTemp func(dir, pattern string) (string, error)
	removeAll func(path string) error
}

func New(logger *zap.Logger, backends ...Backend) *Normalizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Normalizer{
		backends:  backends,
		logger:    logger,
		mkdirTemp: os.MkdirTemp,
		removeAll: os.RemoveAll,
	}
}

// DefaultBackends returns the pure-Go WAV backend followed by ffmpeg.
func DefaultBackends(ffmpegPath string) []Backend {
	return []Backend{NewWAVBackend(), NewFFmpegBackend(ffmpegPath)}
}

// Prepare converts sourcePath into a fresh WAV inside a private temp directory.
// The source file is only ever read.
func (n *Normalizer) Prepare(ctx context.Context, sourcePath string, target *Target) (*Output, error) {
	if err := ctx.Err(); err != nil {
		return nil, failure.Wrap(failure.Cancelled, "normalize", err)
	}

	if len(n.backends) == 0 {
		return nil, failure.New(failure.NormalizationError, "no normalization backends configured")
	}

	dir, err := n.mkdirTemp("", "audiotext-norm-*")
	if err != nil {
		return nil, failure.Wrap(failure.NormalizationError, "create temporary workspace", err)
	}

	out := &Output{
		Path:      filepath.Join(dir, outputName),
		dir:       dir,
		removeAll: n.removeAll,
	}

	var errs []error
	for _, backend := range n.backends {
		if err := ctx.Err(); err != nil {
			_ = out.Cleanup()
			return nil, failure.Wrap(failure.Cancelled, "normalize", err)
		}

		if !backend.Available() {
			n.logger.Debug("normalization backend unavailable", zap.String("backend", backend.Name()))
			errs = append(errs, fmt.Errorf("%s: %w", backend.Name(), ErrUndecodable))
			continue
		}

		n.logger.Debug("normalizing audio",
			zap.String("backend", backend.Name()),
			zap.String("source", sourcePath),
			zap.Stringer("target", targetField{target}),
		)

		err := backend.Convert(ctx, sourcePath, out.Path, target)
		if err == nil {
			if _, statErr := os.Stat(out.Path); statErr != nil {
				_ = out.Cleanup()
				return nil, failure.Wrap(failure.NormalizationError, backend.Name()+" produced no output", statErr)
			}
			return out, nil
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			_ = out.Cleanup()
			return nil, failure.Wrap(failure.Cancelled, "normalize", ctxErr)
		}

		if !errors.Is(err, ErrUndecodable) {
			_ = out.Cleanup()
			return nil, failure.Wrap(failure.NormalizationError, backend.Name(), err)
		}

		n.logger.Debug("backend cannot decode source", zap.String("backend", backend.Name()), zap.Error(err))
		errs = append(errs, fmt.Errorf("%s: %w", backend.Name(), err))
		_ = os.Remove(out.Path)
	}

	_ = out.Cleanup()
	return nil, failure.Wrap(failure.UnsupportedFormat, filepath.Base(sourcePath), errors.Join(errs...))
}

type targetField struct {
	target *Target
}

func (f targetField) String() string {
	if f.target == nil {
		return "source layout"
	}
	return f.target.String()
}
