package jobs

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fmueller/audiotext/internal/engine"
	"github.com/fmueller/audiotext/internal/failure"
	"github.com/fmueller/audiotext/internal/normalize"
)

// Preparer converts a source file into the format an engine requires.
type Preparer interface {
	Prepare(ctx context.Context, sourcePath string, target *normalize.Target) (*normalize.Output, error)
}

// Orchestrator runs at most one transcription job at a time.
type Orchestrator struct {
	engines    map[engine.Kind]engine.Engine
	normalizer Preparer
	logger     *zap.Logger
	newID      func() string
	stat       func(string) (os.FileInfo, error)

	mu     sync.Mutex
	active *Job
}

// New copies engines; the set cannot change afterwards.
func New(engines map[engine.Kind]engine.Engine, normalizer Preparer, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		engines:    maps.Clone(engines),
		normalizer: normalizer,
		logger:     logger,
		newID:      uuid.NewString,
		stat:       os.Stat,
	}
}

// Start validates req and launches the job in the background. The job's
// context derives from ctx, so cancelling ctx cancels the job too.
func (o *Orchestrator) Start(ctx context.Context, req Request) (*Job, error) {
	eng, err := o.validate(req)
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	if o.active != nil {
		activeID := o.active.id
		o.mu.Unlock()
		return nil, failure.Wrap(failure.Busy, "start", fmt.Errorf("job %s is still running", activeID))
	}

	jobCtx, cancel := context.WithCancel(ctx)
	job := newJob(o.newID(), req, cancel)
	o.active = job
	o.mu.Unlock()

	o.logger.Debug("job started",
		zap.String("job", job.id),
		zap.String("engine", string(req.Engine)),
		zap.String("source", req.SourcePath),
	)

	go o.run(jobCtx, job, eng)
	return job, nil
}

// Cancel signals the active job with the given id. It reports false when no
// such job is running, which includes jobs that already settled.
func (o *Orchestrator) Cancel(id string) bool {
	o.mu.Lock()
	job := o.active
	o.mu.Unlock()

	if job == nil || job.id != id {
		return false
	}
	job.Cancel()
	return true
}

// Active returns the running job, if any.
func (o *Orchestrator) Active() (Snapshot, bool) {
	o.mu.Lock()
	job := o.active
	o.mu.Unlock()

	if job == nil {
		return Snapshot{}, false
	}
	return job.snapshot(), true
}

func (o *Orchestrator) validate(req Request) (engine.Engine, error) {
	path := strings.TrimSpace(req.SourcePath)
	if path == "" {
		return nil, failure.New(failure.InvalidInput, "source path is required")
	}

	info, err := o.stat(req.SourcePath)
	if err != nil {
		return nil, failure.Wrap(failure.InvalidInput, req.SourcePath, err)
	}
	if info.IsDir() {
		return nil, failure.Wrap(failure.InvalidInput, req.SourcePath, errors.New("source is a directory"))
	}

	f, err := os.Open(req.SourcePath)
	if err != nil {
		return nil, failure.Wrap(failure.InvalidInput, req.SourcePath, fmt.Errorf("source is not readable: %w", err))
	}
	_ = f.Close()

	if !req.Engine.Valid() {
		return nil, failure.Wrap(failure.InvalidInput, "engine", fmt.Errorf("unknown engine %q", req.Engine))
	}
	eng, ok := o.engines[req.Engine]
	if !ok || eng == nil {
		return nil, failure.Wrap(failure.InvalidInput, "engine", fmt.Errorf("engine %q is not configured", req.Engine))
	}
	return eng, nil
}

func (o *Orchestrator) run(ctx context.Context, job *Job, eng engine.Engine) {
	defer job.cancel()

	start := time.Now()
	var prepared *normalize.Output
	text, err := o.execute(ctx, job, eng, &prepared)

	if prepared != nil {
		if cleanupErr := prepared.Cleanup(); cleanupErr != nil {
			o.logger.Warn("failed to remove normalized audio", zap.String("job", job.id), zap.Error(cleanupErr))
		}
	}

	o.settle(job, text, err, time.Since(start))
}

// execute runs the pipeline phases. A panic anywhere below is recovered into
// an EngineError so the job still settles.
func (o *Orchestrator) execute(ctx context.Context, job *Job, eng engine.Engine, prepared **normalize.Output) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("job panicked", zap.String("job", job.id), zap.Any("panic", r), zap.Stack("stack"))
			text = ""
			err = failure.Wrap(failure.EngineError, "panic", fmt.Errorf("%v", r))
		}
	}()

	o.transition(job, StatePreparing)
	if err := ctx.Err(); err != nil {
		return "", failure.Wrap(failure.Cancelled, "prepare", err)
	}

	path := job.req.SourcePath
	policy := eng.Policy()
	if !policy.Satisfied(path) {
		o.transition(job, StateNormalizing)
		if o.normalizer == nil {
			return "", failure.New(failure.NormalizationError, "no normalizer configured")
		}
		out, err := o.normalizer.Prepare(ctx, path, policy.Target)
		if err != nil {
			return "", err
		}
		*prepared = out
		path = out.Path
	}

	if err := ctx.Err(); err != nil {
		return "", failure.Wrap(failure.Cancelled, "prepare", err)
	}

	o.transition(job, StateTranscribing)
	result, err := eng.Transcribe(ctx, path, job.stream)
	if err != nil {
		return "", err
	}
	return result.Text, nil
}

func (o *Orchestrator) settle(job *Job, text string, err error, elapsed time.Duration) {
	outcome := Outcome{Text: text}

	switch {
	case err == nil:
		job.stream.Complete(text)
		outcome.State = StateCompleted
	case failure.IsCancelled(err):
		job.stream.Cancelled()
		outcome.State = StateCancelled
		outcome.Kind = failure.Cancelled
		outcome.Err = err
	default:
		outcome.State = StateFailed
		outcome.Kind = failure.KindOf(err)
		outcome.Err = err
		job.stream.Fail(outcome.Kind, err.Error())
	}

	o.transition(job, outcome.State)

	fields := []zap.Field{
		zap.String("job", job.id),
		zap.String("state", string(outcome.State)),
		zap.Duration("elapsed", elapsed),
	}
	if outcome.State == StateCompleted {
		o.logger.Info("job completed", append(fields, zap.Int("chars", len(text)))...)
	} else {
		o.logger.Warn("job ended without result", append(fields, zap.String("kind", string(outcome.Kind)), zap.Error(err))...)
	}

	o.mu.Lock()
	if o.active == job {
		o.active = nil
	}
	o.mu.Unlock()

	job.finish(outcome)
}

func (o *Orchestrator) transition(job *Job, to State) {
	from := job.State()
	if err := job.transition(to); err != nil {
		o.logger.Warn("rejected job transition", zap.String("job", job.id), zap.Error(err))
		return
	}
	o.logger.Debug("job transition",
		zap.String("job", job.id),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
	)
}
