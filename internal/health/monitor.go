package health

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/loykin/sidekeeper/internal/history"
	"github.com/loykin/sidekeeper/internal/metrics"
)

var ErrTimeoutNotShorter = errors.New("health timeout must be shorter than the poll interval")

// Callback receives the new state on every transition.
type Callback func(State)

// ShutdownSignal is the shared flag the monitor checks every cycle.
type ShutdownSignal interface {
	ShuttingDown() bool
	Done() <-chan struct{}
}

// Options configures a Monitor.
type Options struct {
	Prober   Prober
	Interval time.Duration
	Timeout  time.Duration
	OnChange Callback
	Shutdown ShutdownSignal // optional
	Logger   *slog.Logger
	Recorder *history.Recorder // optional
	Name     string            // worker name attached to history events
	PID      func() int        // optional; current worker pid for history events
}

// Snapshot is the monitor's latest observation.
type Snapshot struct {
	State     State     `json:"state"`
	Sample    *Sample   `json:"sample,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
	Err       error     `json:"-"`
}

// Monitor polls a Prober on a fixed interval and reports state transitions.
type Monitor struct {
	prober   Prober
	interval time.Duration
	timeout  time.Duration
	onChange Callback
	shutdown ShutdownSignal
	log      *slog.Logger
	rec      *history.Recorder
	name     string
	pid      func() int

	mu   sync.RWMutex
	last Snapshot
}

func NewMonitor(opts Options) (*Monitor, error) {
	if opts.Prober == nil {
		return nil, errors.New("health: prober is required")
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Timeout >= opts.Interval {
		return nil, ErrTimeoutNotShorter
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Name == "" {
		opts.Name = "worker"
	}
	if opts.PID == nil {
		opts.PID = func() int { return 0 }
	}
	return &Monitor{
		prober:   opts.Prober,
		interval: opts.Interval,
		timeout:  opts.Timeout,
		onChange: opts.OnChange,
		shutdown: opts.Shutdown,
		log:      opts.Logger,
		rec:      opts.Recorder,
		name:     opts.Name,
		pid:      opts.PID,
		last:     Snapshot{State: Stopped},
	}, nil
}

// Current returns the latest observation. Before the first poll it reports
// Stopped.
func (m *Monitor) Current() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := m.last
	if s.Sample != nil {
		cp := *s.Sample
		s.Sample = &cp
	}
	return s
}

// Run polls until ctx is done or shutdown is requested. A poll already in
// flight is allowed to finish; the sleep between polls is interrupted.
func (m *Monitor) Run(ctx context.Context) {
	metrics.SetHealthState(Stopped.String(), stateNames())
	prev := Stopped
	for {
		if m.stopped(ctx) {
			return
		}
		next := m.Check(ctx)
		if next != prev {
			// no presentation updates once shutdown has been requested
			if m.stopped(ctx) {
				return
			}
			m.transition(prev, next)
			prev = next
		}

		if !m.sleep(ctx) {
			return
		}
	}
}

// Check performs one poll, records it as the current observation and returns
// its classification. It never reports a transition.
func (m *Monitor) Check(ctx context.Context) State {
	pctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	start := time.Now()
	sample, err := m.prober.Probe(pctx)
	metrics.ObserveProbe(time.Since(start).Seconds(), err == nil)

	snap := Snapshot{CheckedAt: time.Now(), Err: err}
	if err != nil {
		m.log.Debug("health poll failed", "error", err)
		snap.State = Classify(nil)
	} else {
		snap.Sample = &sample
		snap.State = Classify(&sample)
	}

	m.mu.Lock()
	m.last = snap
	m.mu.Unlock()
	return snap.State
}

func (m *Monitor) transition(prev, next State) {
	m.log.Info("health state changed", "from", prev.String(), "to", next.String())
	metrics.RecordHealthTransition(prev.String(), next.String())
	metrics.SetHealthState(next.String(), stateNames())
	// presentation first; history delivery is queued and never delays it
	m.notify(next)
	m.rec.Record(history.Event{
		Type:       history.EventHealthChanged,
		OccurredAt: time.Now().UTC(),
		Record: history.Record{
			Name:       m.name,
			PID:        m.pid(),
			LastStatus: next.String(),
			PrevStatus: prev.String(),
			UpdatedAt:  time.Now().UTC(),
		},
	})
}

func (m *Monitor) notify(s State) {
	if m.onChange == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("health callback panicked", "state", s.String(), "panic", r)
		}
	}()
	m.onChange(s)
}

func (m *Monitor) sleep(ctx context.Context) bool {
	t := time.NewTimer(m.interval)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-m.done():
		return false
	case <-t.C:
		return true
	}
}

func (m *Monitor) stopped(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	return m.shutdown != nil && m.shutdown.ShuttingDown()
}

func (m *Monitor) done() <-chan struct{} {
	if m.shutdown == nil {
		return nil
	}
	return m.shutdown.Done()
}
