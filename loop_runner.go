package statebox

import (
	"context"
	"errors"
	"sync"

	eventloop "github.com/joeycumines/go-eventloop"

	"github.com/petrijr/statebox/pkg/clock"
)

// LoopRunner runs a single-threaded event loop that containers can share:
// debounce timers fire on the loop goroutine, and Do runs application code
// there too, so a set of containers driven only from the loop never sees
// two callbacks at once.
//
// Typical usage:
//
//	runner, _ := statebox.NewLoopRunner()
//	_ = runner.Start(ctx)
//	defer runner.Stop(ctx)
//
//	search := statebox.Of("").Debounce(300 * time.Millisecond).Timer(runner.Timer()).MustBuild()
//	_ = runner.Do(ctx, func() { _ = search.Set("go") })
type LoopRunner struct {
	loop  *eventloop.Loop
	timer *clock.Loop

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
	stopped bool
}

var (
	// ErrRunnerStarted is returned by Start when the loop is already running.
	ErrRunnerStarted = errors.New("statebox: LoopRunner already started")

	// ErrRunnerStopped is returned once the loop has been stopped.
	ErrRunnerStopped = errors.New("statebox: LoopRunner stopped")
)

// NewLoopRunner constructs a LoopRunner. The loop does not run until Start.
func NewLoopRunner() (*LoopRunner, error) {
	loop, err := eventloop.New()
	if err != nil {
		return nil, err
	}
	js, err := eventloop.NewJS(loop)
	if err != nil {
		_ = loop.Close()
		return nil, err
	}
	return &LoopRunner{
		loop:  loop,
		timer: clock.NewLoop(js),
	}, nil
}

// Timer returns the loop's timer for use as Options.Timer.
func (r *LoopRunner) Timer() Timer {
	return r.timer
}

// Start runs the loop on a new goroutine until Stop or ctx cancellation.
func (r *LoopRunner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped {
		return ErrRunnerStopped
	}
	if r.running {
		return ErrRunnerStarted
	}

	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	r.running = true

	done := r.done
	go func() {
		defer close(done)
		_ = r.loop.Run(ctx)
	}()
	return nil
}

// Go submits fn to run on the loop without waiting for it.
func (r *LoopRunner) Go(fn func()) error {
	if err := r.loop.Submit(fn); err != nil {
		if errors.Is(err, eventloop.ErrLoopTerminated) {
			return ErrRunnerStopped
		}
		return err
	}
	return nil
}

// Do runs fn on the loop and waits for it to return. It must not be called
// from the loop goroutine itself.
func (r *LoopRunner) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if err := r.Go(func() {
		defer close(finished)
		fn()
	}); err != nil {
		return err
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop drains queued work, stops the loop and waits for it to exit. Timers
// still pending are dropped, so containers using Timer should be flushed or
// destroyed first.
func (r *LoopRunner) Stop(ctx context.Context) error {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return nil
	}
	r.stopped = true
	running := r.running
	cancel, done := r.cancel, r.done
	r.running = false
	r.mu.Unlock()

	if !running {
		return r.loop.Close()
	}

	err := r.loop.Shutdown(ctx)
	if errors.Is(err, eventloop.ErrLoopTerminated) {
		err = nil
	}
	cancel()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return err
}
