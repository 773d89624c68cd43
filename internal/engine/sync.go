package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/petrijr/statebox/internal/codec"
	"github.com/petrijr/statebox/pkg/api"
)

// persistHistory reports whether payloads carry the history envelope.
func (c *Container[T]) persistHistory() bool {
	return c.cfg.PersistHistory && c.hist != nil
}

// load adopts a previously persisted value. Any read or decode failure
// leaves the initial value in place. Called with mu held.
func (c *Container[T]) load() {
	if c.store == nil {
		return
	}

	ctx, cancel := context.WithTimeout(c.ctx, c.cfg.StorageTimeout)
	defer cancel()

	raw, found, err := c.store.Load(ctx, c.key)
	if err != nil {
		c.logger.Debug("load failed, keeping initial value", slog.String("key", c.key), slog.Any("error", err))
		return
	}
	if !found {
		return
	}

	p, err := codec.Decode[T](raw, c.persistHistory())
	if err != nil {
		c.logger.Debug("stored payload unreadable, keeping initial value", slog.String("key", c.key), slog.Any("error", err))
		return
	}

	c.current = p.Value
	c.previous = p.Value
	if c.hist != nil {
		if c.persistHistory() && len(p.History) > 0 {
			c.hist.Replace(p.History)
		} else {
			c.hist.Reset(p.Value)
		}
	}

	ev := api.CommitEvent{ContainerID: c.id, Key: c.key, Source: api.SourceLoad}
	if c.hist != nil {
		ev.HistoryLen = c.hist.Len()
	}
	c.observer.OnCommit(c.ctx, ev)
}

// persist writes the current state. Failures are queued for the error
// handlers and never affect in-memory state. Called with mu held.
func (c *Container[T]) persist() {
	if c.store == nil {
		return
	}

	var (
		payload []byte
		err     error
	)
	if c.persistHistory() {
		payload, err = codec.EncodeEnvelope(c.current, c.hist.Values(), c.opts.Fallback)
	} else {
		payload, err = codec.EncodeValue(c.current, c.opts.Fallback)
	}
	if err != nil {
		c.enqueueError(api.NewError(api.KindSerialization, "persist", c.key, err))
		return
	}

	start := time.Now()
	err = c.write(string(payload))
	c.observer.OnPersist(c.ctx, c.key, err, time.Since(start))
	if err != nil {
		c.enqueueError(api.NewError(api.KindPersistence, "persist", c.key, err))
	}
}

// write stores payload, retrying according to the configured policy.
func (c *Container[T]) write(payload string) error {
	attempts := c.cfg.Retry.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 && !sleepContext(c.ctx, c.cfg.Retry.Delay(attempt-1)) {
			break
		}

		ctx, cancel := context.WithTimeout(c.ctx, c.cfg.StorageTimeout)
		err = c.store.Store(ctx, c.key, payload)
		cancel()
		if err == nil {
			return nil
		}
		c.logger.Debug("storage write failed",
			slog.String("key", c.key),
			slog.Int("attempt", attempt),
			slog.Any("error", err),
		)
		if !c.cfg.Retry.ShouldRetry(err) {
			break
		}
	}
	return err
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// ensureWatch subscribes to external changes if a feed is configured and
// no watch is active. Called with mu held.
func (c *Container[T]) ensureWatch() {
	if c.feed == nil || c.stopWatch != nil || c.destroyed {
		return
	}

	stop, err := c.feed.Watch(c.ctx, c.key, c.onChange)
	if err != nil {
		c.enqueueError(api.NewError(api.KindSync, "watch", c.key, err))
		return
	}
	c.stopWatch = stop
}

// releaseWatch stops the active watch, if any. Called with mu held.
func (c *Container[T]) releaseWatch() {
	stop := c.stopWatch
	c.stopWatch = nil
	if stop != nil {
		stop()
	}
}

// onChange applies a write made elsewhere to the same key. It cancels any
// pending commit first, never writes storage, and notifies subscribers.
func (c *Container[T]) onChange(ch api.Change) {
	if ch.Key != c.key {
		return
	}

	c.mu.Lock()
	if c.destroyed || c.processingStorage {
		c.mu.Unlock()
		return
	}
	c.processingStorage = true
	c.applyChange(ch)
	c.processingStorage = false
	c.mu.Unlock()

	c.drain()
}

// applyChange is onChange's body. Called with mu held.
func (c *Container[T]) applyChange(ch api.Change) {
	c.sched.Cancel()

	if ch.Value == nil {
		target, err := c.pipe.Transform(c.resetTarget)
		if err != nil {
			c.annotate(err, "sync")
			c.enqueueError(err)
			return
		}
		if c.hist != nil {
			c.hist.Reset(target)
		}
		c.apply(target, api.SourceSync, false)
		c.observer.OnSync(c.ctx, c.key, ch.Origin)
		return
	}

	p, err := codec.Decode[T](*ch.Value, c.persistHistory())
	if err != nil {
		c.enqueueError(api.NewError(api.KindSync, "sync", c.key, err))
		return
	}

	if c.hist != nil {
		switch {
		case len(p.History) > 0:
			c.hist.Replace(p.History)
			c.hist.ClearRedo()
		case p.Envelope:
			c.hist.Reset(p.Value)
		default:
			c.hist.Push(p.Value)
		}
	}
	c.apply(p.Value, api.SourceSync, false)
	c.observer.OnSync(c.ctx, c.key, ch.Origin)

	c.logger.Debug("applied external change", slog.String("key", c.key), slog.String("origin", ch.Origin))
}
