package process

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/loykin/sidekeeper/internal/metrics"
)

// EventType names a worker lifecycle event.
type EventType string

const (
	EventSpawned    EventType = "worker_spawned"
	EventExited     EventType = "worker_exited"
	EventTerminated EventType = "worker_terminated"
)

// Event is emitted to the supervisor's listener on lifecycle changes.
type Event struct {
	Type        EventType
	Name        string
	PID         int
	At          time.Time
	Err         error
	Descendants int // for EventTerminated: descendants signalled
}

// Handle is the live worker. It is owned by the Supervisor and taken exactly
// once on termination.
type Handle struct {
	name      string
	pid       int
	startedAt time.Time
	grace     time.Duration
	done      chan struct{}

	mu       sync.Mutex
	exitErr  error
	exitedAt time.Time
}

// PID returns the worker's OS process id.
func (h *Handle) PID() int { return h.pid }

// Done is closed once the worker has exited and been reaped.
func (h *Handle) Done() <-chan struct{} { return h.done }

// ExitErr returns the error from Wait once Done is closed.
func (h *Handle) ExitErr() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exitErr
}

func (h *Handle) exited() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

func (h *Handle) markExited(err error) {
	h.mu.Lock()
	h.exitErr = err
	h.exitedAt = time.Now()
	h.mu.Unlock()
}

// Options configures a Supervisor.
type Options struct {
	Logger   *slog.Logger
	Lister   ProcessLister // defaults to SystemLister
	Listener func(Event)   // optional; called synchronously
	// ScanTimeout bounds the process enumeration during TerminateTree.
	ScanTimeout time.Duration
}

// Supervisor owns at most one worker handle. Spawn and TerminateTree may be
// called from different goroutines.
type Supervisor struct {
	mu     sync.Mutex
	handle *Handle
	last   Status
	closed bool // set by TerminateTree; no spawns afterwards

	log         *slog.Logger
	lister      ProcessLister
	listener    func(Event)
	scanTimeout time.Duration

	// signal hooks; replaced in tests
	terminate func(pid int) error
	kill      func(pid int) error
}

func NewSupervisor(opts Options) *Supervisor {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Lister == nil {
		opts.Lister = SystemLister{}
	}
	if opts.ScanTimeout <= 0 {
		opts.ScanTimeout = 5 * time.Second
	}
	return &Supervisor{
		log:         opts.Logger,
		lister:      opts.Lister,
		listener:    opts.Listener,
		scanTimeout: opts.ScanTimeout,
		terminate:   terminateProcess,
		kill:        killProcess,
	}
}

// Spawn launches the worker described by spec. On failure it returns a
// *SpawnError and the supervisor stays without a handle.
func (s *Supervisor) Spawn(spec Spec) (*Handle, error) {
	name := spec.DisplayName()

	h, path, err := s.start(spec, name)
	if err != nil {
		metrics.IncSpawnFailure(name)
		return nil, err
	}

	metrics.IncSpawn(name)
	metrics.SetWorkerUp(name, true)
	s.log.Info("worker started", "name", name, "pid", h.pid, "path", path)
	s.emit(Event{Type: EventSpawned, Name: name, PID: h.pid, At: h.startedAt})
	return h, nil
}

func (s *Supervisor) start(spec Spec, name string) (*Handle, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, "", &SpawnError{Name: name, Err: ErrClosed}
	}
	if s.handle != nil && !s.handle.exited() {
		return nil, "", &SpawnError{Name: name, Err: ErrAlreadyRunning}
	}

	cmd, err := spec.BuildCommand()
	if err != nil {
		return nil, "", &SpawnError{Name: name, Err: err}
	}
	outW, errW := s.outputs(spec, name)
	cmd.Stdout, cmd.Stderr = outW, errW
	// children that inherit the output pipes must not keep Wait blocked
	cmd.WaitDelay = time.Second

	if err := cmd.Start(); err != nil {
		closeAll(outW, errW)
		return nil, "", &SpawnError{Name: name, Err: err}
	}

	h := &Handle{
		name:      name,
		pid:       cmd.Process.Pid,
		startedAt: time.Now(),
		grace:     spec.StopGrace,
		done:      make(chan struct{}),
	}
	s.handle = h
	s.last = Status{Name: name, Running: true, PID: h.pid, StartedAt: h.startedAt, Spawned: true}
	if err := writePIDFile(spec.PIDFile, h.pid); err != nil {
		s.log.Warn("write pid file", "path", spec.PIDFile, "error", err)
	}

	go func() {
		err := cmd.Wait()
		h.markExited(err)
		closeAll(outW, errW)
		removePIDFile(spec.PIDFile, h.pid)
		close(h.done)
		s.recordExit(h, err)
	}()
	return h, cmd.Path, nil
}

func (s *Supervisor) outputs(spec Spec, name string) (io.WriteCloser, io.WriteCloser) {
	var outW, errW io.WriteCloser
	if spec.Log.Enabled() {
		if spec.Log.Dir != "" {
			_ = os.MkdirAll(spec.Log.Dir, 0o750)
		}
		outW, errW, _ = spec.Log.ProcessWriters(name)
	}
	if outW == nil {
		outW = devNull()
	}
	if errW == nil {
		errW = devNull()
	}
	return outW, errW
}

func (s *Supervisor) recordExit(h *Handle, err error) {
	s.mu.Lock()
	if s.last.PID == h.pid {
		s.last.Running = false
		s.last.StoppedAt = time.Now()
		s.last.ExitErr = err
	}
	s.mu.Unlock()

	metrics.IncExit(h.name)
	metrics.SetWorkerUp(h.name, false)
	if err != nil {
		s.log.Info("worker exited", "name", h.name, "pid", h.pid, "error", err)
	} else {
		s.log.Info("worker exited", "name", h.name, "pid", h.pid)
	}
	s.emit(Event{Type: EventExited, Name: h.name, PID: h.pid, At: time.Now(), Err: err})
}

// TerminateTree signals the worker and its direct children, then forgets the
// handle. It never fails: kill errors are logged at debug level and dropped.
// A second call, or a call without a handle, is a no-op. The supervisor is
// closed afterwards: a Spawn racing with or following it fails with ErrClosed.
func (s *Supervisor) TerminateTree() {
	s.mu.Lock()
	s.closed = true
	h := s.handle
	s.handle = nil
	s.mu.Unlock()
	if h == nil {
		return
	}

	pid := h.pid
	if h.exited() {
		// pid may already belong to another process; do not signal it or scan its children
		s.log.Debug("worker already exited; nothing to terminate", "pid", pid)
		s.emit(Event{Type: EventTerminated, Name: h.name, PID: pid, At: time.Now()})
		return
	}

	// Snapshot children before the worker dies, while they are still parented to it.
	children := s.children(pid)

	if err := s.terminate(pid); err != nil {
		s.log.Debug("terminate worker", "pid", pid, "error", err)
	} else {
		metrics.IncSignal("worker")
	}
	for _, c := range children {
		if err := s.terminate(c); err != nil {
			s.log.Debug("terminate descendant", "pid", c, "parent", pid, "error", err)
			continue
		}
		metrics.IncSignal("descendant")
	}

	if h.grace > 0 {
		select {
		case <-h.done:
		case <-time.After(h.grace):
			if err := s.kill(pid); err != nil {
				s.log.Debug("kill worker", "pid", pid, "error", err)
			}
		}
	}

	s.log.Info("worker tree terminated", "name", h.name, "pid", pid, "descendants", len(children))
	s.emit(Event{Type: EventTerminated, Name: h.name, PID: pid, At: time.Now(), Descendants: len(children)})
}

func (s *Supervisor) children(pid int) []int {
	ctx, cancel := context.WithTimeout(context.Background(), s.scanTimeout)
	defer cancel()
	procs, err := s.lister.List(ctx)
	if err != nil {
		s.log.Debug("list processes", "error", err)
		return nil
	}
	return childrenOf(procs, pid)
}

// PID returns the live worker pid or 0.
func (s *Supervisor) PID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handle == nil || s.handle.exited() {
		return 0
	}
	return s.handle.pid
}

// Snapshot returns the latest worker status. It keeps describing the last
// worker after it has been terminated.
func (s *Supervisor) Snapshot() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

func (s *Supervisor) emit(e Event) {
	if s.listener == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("event listener panicked", "event", string(e.Type), "panic", r)
		}
	}()
	s.listener(e)
}

func devNull() io.WriteCloser {
	f, err := os.OpenFile(os.DevNull, os.O_WRONLY, 0)
	if err != nil {
		return nopWriteCloser{io.Discard}
	}
	return f
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

func closeAll(cs ...io.Closer) {
	for _, c := range cs {
		if c != nil {
			_ = c.Close()
		}
	}
}
