package jobs

import (
	"context"
	"fmt"
	"sync"

	"github.com/fmueller/audiotext/internal/engine"
	"github.com/fmueller/audiotext/internal/failure"
	"github.com/fmueller/audiotext/internal/progress"
)

// Request is validated once by Start and never changes afterwards.
type Request struct {
	SourcePath string
	Engine     engine.Kind
}

// Outcome is the settled result of a job.
type Outcome struct {
	State State
	Text  string
	Kind  failure.Kind
	Err   error
}

// Snapshot is a point-in-time view of a job.
type Snapshot struct {
	ID      string
	Request Request
	State   State
}

type Job struct {
	id     string
	req    Request
	cancel context.CancelFunc
	stream *progress.Stream

	mu      sync.Mutex
	state   State
	outcome Outcome
	done    chan struct{}
}

func newJob(id string, req Request, cancel context.CancelFunc) *Job {
	return &Job{
		id:     id,
		req:    req,
		cancel: cancel,
		stream: progress.NewStream(id),
		state:  StateIdle,
		done:   make(chan struct{}),
	}
}

func (j *Job) ID() string {
	return j.id
}

func (j *Job) Request() Request {
	return j.req
}

func (j *Job) State() State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// Events is the job's single ordered progress channel. It closes after the
// terminal event and is meant for one reader. A reader that stops before the
// terminal event calls Release. Callers that only Wait never need Events.
func (j *Job) Events() <-chan progress.Event {
	return j.stream.Events()
}

// Release drops undelivered events and closes the Events channel. It does not
// cancel the job.
func (j *Job) Release() {
	j.stream.Abandon()
}

// Done is closed once the outcome is settled and the orchestrator is free again.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Cancel requests cooperative cancellation. It is a no-op after the job settled.
func (j *Job) Cancel() {
	j.cancel()
}

// Wait blocks until the job settles or ctx ends.
func (j *Job) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-j.done:
		return j.Outcome(), nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

// Outcome returns the settled outcome, or a zero value while the job runs.
func (j *Job) Outcome() Outcome {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.outcome
}

func (j *Job) snapshot() Snapshot {
	return Snapshot{ID: j.id, Request: j.req, State: j.State()}
}

func (j *Job) transition(to State) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.state == to {
		return nil
	}
	if !isValidTransition(j.state, to) {
		return fmt.Errorf("invalid transition: %s -> %s", j.state, to)
	}
	j.state = to
	return nil
}

func (j *Job) finish(outcome Outcome) {
	j.mu.Lock()
	j.outcome = outcome
	j.mu.Unlock()
	close(j.done)
}
