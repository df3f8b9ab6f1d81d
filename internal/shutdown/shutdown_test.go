package shutdown

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTerminator struct {
	mu     sync.Mutex
	calls  int
	sawSet bool
	c      *Coordinator
	panics bool
}

func (f *fakeTerminator) TerminateTree() {
	f.mu.Lock()
	f.calls++
	f.sawSet = f.c.ShuttingDown()
	f.mu.Unlock()
	if f.panics {
		panic("lock poisoned")
	}
}

func TestRequestShutdownSetsFlagBeforeTerminating(t *testing.T) {
	term := &fakeTerminator{}
	c := New(term, nil)
	term.c = c

	assert.False(t, c.ShuttingDown())
	select {
	case <-c.Done():
		t.Fatal("Done closed before shutdown")
	default:
	}

	c.RequestShutdown()
	assert.True(t, c.ShuttingDown())
	assert.Equal(t, 1, term.calls)
	assert.True(t, term.sawSet, "flag must be set before the tree is terminated")
	select {
	case <-c.Done():
	default:
		t.Fatal("Done not closed after shutdown")
	}
}

func TestRequestShutdownIsIdempotent(t *testing.T) {
	term := &fakeTerminator{}
	c := New(term, nil)
	term.c = c

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.RequestShutdown()
		}()
	}
	wg.Wait()
	c.RequestShutdown()
	assert.Equal(t, 1, term.calls)
}

func TestRequestShutdownWithoutWorker(t *testing.T) {
	c := New(nil, nil)
	c.RequestShutdown()
	assert.True(t, c.ShuttingDown())
}

func TestRequestShutdownSurvivesTerminatorPanic(t *testing.T) {
	term := &fakeTerminator{panics: true}
	c := New(term, nil)
	term.c = c

	require.NotPanics(t, c.RequestShutdown)
	assert.True(t, c.ShuttingDown())
	require.NotPanics(t, c.RequestShutdown)
	assert.Equal(t, 1, term.calls)
}

func TestWaitTracksGoroutines(t *testing.T) {
	c := New(nil, nil)
	var stopped atomic.Bool
	c.Go(func() {
		<-c.Done()
		stopped.Store(true)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, c.Wait(ctx), context.DeadlineExceeded)

	c.RequestShutdown()
	ctx2, cancel2 := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel2()
	require.NoError(t, c.Wait(ctx2))
	assert.True(t, stopped.Load())
}
