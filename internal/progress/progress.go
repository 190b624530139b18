package progress

import (
	"sync"
	"time"

	"github.com/fmueller/audiotext/internal/failure"
)

type EventType string

const (
	EventTypeText      EventType = "text"
	EventTypePercent   EventType = "percent"
	EventTypeResult    EventType = "result"
	EventTypeError     EventType = "error"
	EventTypeCancelled EventType = "cancelled"
)

// Event is one ordered message delivered to a job observer.
type Event struct {
	Seq       int64
	Timestamp time.Time
	JobID     string
	Type      EventType
	Text      string
	Percent   int
	Kind      failure.Kind
	Message   string
}

// Terminal reports whether the event settles the job.
func (e Event) Terminal() bool {
	switch e.Type {
	case EventTypeResult, EventTypeError, EventTypeCancelled:
		return true
	default:
		return false
	}
}

// Sink receives progress from a pipeline phase.
type Sink interface {
	Text(chunk string)
	Percent(value int)
}

// Discard is a Sink that drops everything.
var Discard Sink = discard{}

type discard struct{}

func (discard) Text(string) {}
func (discard) Percent(int) {}

// Stream serializes every event of one job through a single channel. Emitters
// never block. Delivery starts with the first call to Events: a goroutine
// forwards queued events in order and closes the channel after the terminal
// event. A stream nobody subscribes to holds no goroutine.
type Stream struct {
	jobID string
	now   func() time.Time

	mu          sync.Mutex
	queue       []Event
	nextSeq     int64
	lastPercent int
	sawPercent  bool
	last        Event
	settled     bool
	wake        chan struct{}

	startOnce   sync.Once
	abandonOnce sync.Once
	stop        chan struct{}
	out         chan Event
	done        chan struct{}
}

func NewStream(jobID string) *Stream {
	return &Stream{
		jobID: jobID,
		now:   time.Now,
		wake:  make(chan struct{}, 1),
		stop:  make(chan struct{}),
		out:   make(chan Event),
		done:  make(chan struct{}),
	}
}

// Events returns the ordered event channel and starts delivery. The channel is
// closed after the terminal event, or early once the stream is abandoned.
func (s *Stream) Events() <-chan Event {
	s.startOnce.Do(func() { go s.deliver() })
	return s.out
}

// Delivered is closed once the terminal event has been handed to the reader
// or the stream was abandoned.
func (s *Stream) Delivered() <-chan struct{} {
	return s.done
}

// Abandon drops undelivered events and ends delivery. Readers that stop
// consuming Events before the terminal event call it to release the stream.
func (s *Stream) Abandon() {
	s.abandonOnce.Do(func() {
		close(s.stop)
		s.mu.Lock()
		s.queue = nil
		s.mu.Unlock()
		// Without a subscriber there is no goroutine to close the channels.
		s.startOnce.Do(func() {
			close(s.out)
			close(s.done)
		})
	})
}

func (s *Stream) Text(chunk string) {
	if chunk == "" {
		return
	}
	s.push(Event{Type: EventTypeText, Text: chunk})
}

// Percent clamps value to [0,100] and never lets it fall below the last value.
func (s *Stream) Percent(value int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.settled {
		return
	}
	s.percentLocked(value)
}

func (s *Stream) percentLocked(value int) {
	value = Clamp(value)
	if s.sawPercent && value < s.lastPercent {
		value = s.lastPercent
	}
	s.lastPercent = value
	s.sawPercent = true
	s.enqueueLocked(Event{Type: EventTypePercent, Percent: value})
}

// LastPercent returns the highest percent emitted so far and whether any was emitted.
func (s *Stream) LastPercent() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastPercent, s.sawPercent
}

func (s *Stream) Result(text string) bool {
	return s.settle(Event{Type: EventTypeResult, Text: text})
}

// Complete settles with a Result that directly follows a Percent(100). The
// percent is only added when it is not already the last event.
func (s *Stream) Complete(text string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.settled {
		return false
	}
	if s.last.Type != EventTypePercent || s.last.Percent != 100 {
		s.percentLocked(100)
	}
	s.settleLocked(Event{Type: EventTypeResult, Text: text})
	return true
}

func (s *Stream) Fail(kind failure.Kind, message string) bool {
	return s.settle(Event{Type: EventTypeError, Kind: kind, Message: message})
}

func (s *Stream) Cancelled() bool {
	return s.settle(Event{Type: EventTypeCancelled, Kind: failure.Cancelled})
}

func (s *Stream) settle(event Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.settled {
		return false
	}
	s.settleLocked(event)
	return true
}

func (s *Stream) settleLocked(event Event) {
	s.enqueueLocked(event)
	s.settled = true
}

func (s *Stream) push(event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.settled {
		return
	}
	s.enqueueLocked(event)
}

func (s *Stream) enqueueLocked(event Event) {
	s.nextSeq++
	event.Seq = s.nextSeq
	event.JobID = s.jobID
	if event.Timestamp.IsZero() {
		event.Timestamp = s.now().UTC()
	}
	s.last = event

	select {
	case <-s.stop:
		return
	default:
	}
	s.queue = append(s.queue, event)

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Stream) deliver() {
	defer close(s.done)
	defer close(s.out)

	for {
		s.mu.Lock()
		batch := s.queue
		s.queue = nil
		s.mu.Unlock()

		for _, event := range batch {
			select {
			case s.out <- event:
			case <-s.stop:
				return
			}
			if event.Terminal() {
				return
			}
		}

		select {
		case <-s.wake:
		case <-s.stop:
			return
		}
	}
}

// Collect drains events until the channel closes.
func Collect(events <-chan Event) []Event {
	var out []Event
	for event := range events {
		out = append(out, event)
	}
	return out
}

func Clamp(value int) int {
	switch {
	case value < 0:
		return 0
	case value > 100:
		return 100
	default:
		return value
	}
}
