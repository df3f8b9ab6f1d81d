package shutdown

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Terminator tears down the worker tree. process.Supervisor implements it.
type Terminator interface {
	TerminateTree()
}

// Coordinator owns the process-wide shutdown flag and the ordered teardown
// that runs once when the host exits.
type Coordinator struct {
	term Terminator
	log  *slog.Logger

	flag atomic.Bool
	done chan struct{}
	once sync.Once

	wg sync.WaitGroup
}

func New(term Terminator, log *slog.Logger) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{term: term, log: log, done: make(chan struct{})}
}

// RequestShutdown sets the shutdown flag and then terminates the worker tree.
// Only the first call has any effect; it never returns an error or panics.
func (c *Coordinator) RequestShutdown() {
	c.once.Do(func() {
		c.flag.Store(true)
		close(c.done)
		c.log.Info("shutdown requested")
		c.terminate()
	})
}

func (c *Coordinator) terminate() {
	if c.term == nil {
		return
	}
	defer func() {
		// a broken supervisor is treated as having no handle
		if r := recover(); r != nil {
			c.log.Error("worker termination aborted", "panic", r)
		}
	}()
	c.term.TerminateTree()
}

// ShuttingDown reports whether RequestShutdown has been called.
func (c *Coordinator) ShuttingDown() bool { return c.flag.Load() }

// Done is closed when shutdown is requested.
func (c *Coordinator) Done() <-chan struct{} { return c.done }

// Go runs f in a goroutine tracked by Wait.
func (c *Coordinator) Go(f func()) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		f()
	}()
}

// Wait blocks until every goroutine started with Go has returned or ctx is
// done.
func (c *Coordinator) Wait(ctx context.Context) error {
	ch := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(ch)
	}()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
