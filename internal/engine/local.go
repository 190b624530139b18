package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fmueller/audiotext/internal/audio"
	"github.com/fmueller/audiotext/internal/failure"
	"github.com/fmueller/audiotext/internal/normalize"
	"github.com/fmueller/audiotext/internal/progress"
	"github.com/fmueller/audiotext/internal/whisper"
)

// SegmentRunner executes a local speech model and reports segments in order.
type SegmentRunner interface {
	Transcribe(ctx context.Context, req whisper.Request, onSegment func(whisper.Segment) error) error
}

type LocalConfig struct {
	ModelPath string
	// ModelErr is why ModelPath could not be resolved. Ready reports it, so
	// only jobs that use the local engine fail on it.
	ModelErr error
	Language string
	Threads  int
	// SilenceThresholdDBFS skips the model for near-silent input. Zero disables the gate.
	SilenceThresholdDBFS float64
	Logger               *zap.Logger
}

// LocalEngine runs whisper.cpp on 16 kHz mono PCM WAV.
type LocalEngine struct {
	cfg    LocalConfig
	runner SegmentRunner
	probe  func(string) (audio.Info, error)
	stat   func(string) (os.FileInfo, error)
}

func NewLocal(cfg LocalConfig, runner SegmentRunner) *LocalEngine {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &LocalEngine{
		cfg:    cfg,
		runner: runner,
		probe:  audio.Probe,
		stat:   os.Stat,
	}
}

func (e *LocalEngine) Kind() Kind {
	return Local
}

func (e *LocalEngine) Policy() normalize.Policy {
	return normalize.Policy{Target: &normalize.Target{SampleRate: 16000, Channels: 1}}
}

func (e *LocalEngine) ModelPath() string {
	return e.cfg.ModelPath
}

// Ready checks that the model file is present.
func (e *LocalEngine) Ready() error {
	if e.cfg.ModelErr != nil {
		return failure.Wrap(failure.InvalidInput, "model", e.cfg.ModelErr)
	}

	path := strings.TrimSpace(e.cfg.ModelPath)
	if path == "" {
		return failure.New(failure.MissingModel, "no model configured")
	}

	info, err := e.stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return failure.Wrap(failure.MissingModel, path, fmt.Errorf("model file not found; run `audiotext setup`"))
		}
		return failure.Wrap(failure.MissingModel, path, err)
	}
	if info.IsDir() {
		return failure.Wrap(failure.MissingModel, path, errors.New("model path is a directory"))
	}
	return nil
}

func (e *LocalEngine) Transcribe(ctx context.Context, path string, sink progress.Sink) (Result, error) {
	if sink == nil {
		sink = progress.Discard
	}

	if err := e.Ready(); err != nil {
		return Result{}, err
	}

	if err := ctx.Err(); err != nil {
		return Result{}, failure.Wrap(failure.Cancelled, "local transcribe", err)
	}

	info, err := e.probe(path)
	if err != nil {
		return Result{}, failure.Wrap(failure.EngineError, "probe audio duration", err)
	}

	if e.cfg.SilenceThresholdDBFS < 0 {
		silent, metrics, err := audio.IsSilentWAV(path, e.cfg.SilenceThresholdDBFS)
		if err != nil {
			return Result{}, failure.Wrap(failure.EngineError, "measure audio level", err)
		}
		if silent {
			e.cfg.Logger.Warn("audio is below silence threshold, skipping model",
				zap.Float64("rms_dbfs", metrics.RMSdBFS),
				zap.Float64("peak_dbfs", metrics.PeakdBFS),
				zap.Float64("threshold_dbfs", e.cfg.SilenceThresholdDBFS),
			)
			sink.Percent(100)
			return Result{}, nil
		}
	}

	e.cfg.Logger.Debug("starting local transcription",
		zap.String("model", e.cfg.ModelPath),
		zap.Duration("duration", info.Duration),
	)

	var texts []string
	start := time.Now()
	req := whisper.Request{
		AudioPath: path,
		ModelPath: e.cfg.ModelPath,
		Language:  e.cfg.Language,
		Threads:   e.cfg.Threads,
	}

	err = e.runner.Transcribe(ctx, req, func(segment whisper.Segment) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if segment.Text != "" {
			texts = append(texts, segment.Text)
			sink.Text(segment.Text)
		}
		if info.Duration > 0 {
			sink.Percent(percentOf(segment.End, info.Duration))
		}
		return nil
	})
	if err != nil {
		return Result{}, classify(ctx, "local transcribe", err)
	}

	sink.Percent(100)
	e.cfg.Logger.Debug("local transcription finished",
		zap.Int("segments", len(texts)),
		zap.Duration("elapsed", time.Since(start)),
	)

	return Result{Text: strings.TrimSpace(strings.Join(texts, " "))}, nil
}

func percentOf(position, total time.Duration) int {
	if total <= 0 {
		return 0
	}
	return progress.Clamp(int(float64(position) / float64(total) * 100))
}
