package engine

import (
	"errors"
	"fmt"

	"github.com/petrijr/statebox/pkg/api"
)

// Destroy tears the container down. Every step runs even if an earlier one
// fails; failures are dispatched as one KindLifecycle error and never
// returned. Calling Destroy again is a no-op.
func (c *Container[T]) Destroy() {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return
	}

	var errs []error
	step := func(name string, fn func()) {
		if err := runStep(fn); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	step("mark destroyed", func() { c.destroyed = true })
	step("clear subscribers", c.bus.Clear)
	step("release storage listener", c.releaseWatch)
	step("cancel pending commit", func() { c.sched.Cancel() })
	step("clear history", func() {
		if c.hist != nil {
			c.hist.Clear()
		}
	})
	step("reset guards", func() {
		c.processingDebounce = false
		c.processingStorage = false
	})
	// A panicking listener stop leaves its handle behind; drop it anyway.
	c.stopWatch = nil
	c.destroyed = true

	c.observer.OnDestroy(c.ctx, c.id, c.key)
	if len(errs) > 0 {
		c.enqueueError(api.NewError(api.KindLifecycle, "destroy", c.key, errors.Join(errs...)))
	}
	c.mu.Unlock()

	c.drain()
}

func runStep(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &api.PanicError{Value: r}
		}
	}()
	fn()
	return nil
}
