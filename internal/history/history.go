package history

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"
)

// EventType defines the kind of lifecycle event.
type EventType string

const (
	EventWorkerSpawned    EventType = "worker_spawned"
	EventWorkerExited     EventType = "worker_exited"
	EventWorkerTerminated EventType = "worker_terminated"
	EventHealthChanged    EventType = "health_changed"
)

// Record is the flat payload stored by every sink.
type Record struct {
	Name string `json:"name"`
	PID  int    `json:"pid"`
	// LastStatus is "running"/"stopped" for worker events and the new health
	// state for health_changed.
	LastStatus  string    `json:"last_status"`
	PrevStatus  string    `json:"prev_status,omitempty"`
	Error       string    `json:"error,omitempty"`
	Descendants int       `json:"descendants,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Event represents a lifecycle event to be exported to external systems.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Record     Record    `json:"record"`
}

var ErrInvalidEvent = errors.New("invalid history event")

// Validate reports whether e carries the fields every sink requires.
func (e Event) Validate() error {
	switch {
	case e.Type == "":
		return errors.Join(ErrInvalidEvent, errors.New("empty type"))
	case e.OccurredAt.IsZero():
		return errors.Join(ErrInvalidEvent, errors.New("zero occurred_at"))
	case e.Record.Name == "":
		return errors.Join(ErrInvalidEvent, errors.New("empty name"))
	}
	return nil
}

// Sink is a destination for history events (analytics/statistics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// Recorder fans events out to a set of sinks from its own goroutine, so
// callers never wait on a sink. A nil Recorder drops events.
type Recorder struct {
	sinks   []Sink
	timeout time.Duration
	log     *slog.Logger

	queue chan Event
	done  chan struct{}

	mu     sync.RWMutex
	closed bool
}

// DefaultQueueSize bounds the events waiting for delivery. Events recorded
// while the queue is full are dropped.
const DefaultQueueSize = 256

func NewRecorder(log *slog.Logger, sinks ...Sink) *Recorder {
	if log == nil {
		log = slog.Default()
	}
	r := &Recorder{
		sinks:   append([]Sink(nil), sinks...),
		timeout: 5 * time.Second,
		log:     log,
		queue:   make(chan Event, DefaultQueueSize),
		done:    make(chan struct{}),
	}
	go r.run()
	return r
}

// Record stamps and validates e and queues it for delivery. It never blocks.
func (r *Recorder) Record(e Event) {
	if r == nil || len(r.sinks) == 0 {
		return
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	if err := e.Validate(); err != nil {
		r.log.Warn("drop history event", "type", string(e.Type), "error", err)
		return
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	select {
	case r.queue <- e:
	default:
		r.log.Warn("history queue full; event dropped", "type", string(e.Type))
	}
}

func (r *Recorder) run() {
	defer close(r.done)
	for e := range r.queue {
		r.dispatch(e)
	}
}

// dispatch sends e to every sink. Sink errors are logged and dropped.
func (r *Recorder) dispatch(e Event) {
	for _, s := range r.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		if err := s.Send(ctx, e); err != nil {
			r.log.Warn("history sink send failed", "type", string(e.Type), "error", err)
		}
		cancel()
	}
}

// Close stops accepting events, delivers the queued ones and closes every
// sink that holds resources.
func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()
	<-r.done

	var errs []error
	for _, s := range r.sinks {
		if c, ok := s.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
