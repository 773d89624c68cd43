// Package engine implements the container state machine: the commit path,
// debounced commits, history, persistence, cross-process sync and teardown.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/petrijr/statebox/internal/debounce"
	"github.com/petrijr/statebox/internal/history"
	"github.com/petrijr/statebox/internal/notify"
	"github.com/petrijr/statebox/internal/pipeline"
	"github.com/petrijr/statebox/pkg/api"
	"github.com/petrijr/statebox/pkg/clock"
)

// DefaultStorageTimeout bounds each storage call when none is configured.
const DefaultStorageTimeout = 5 * time.Second

// Container is the engine behind api.Container.
//
// All state transitions run under mu: the pipeline, the commit, the history
// update and the storage write. Subscribers and error handlers run outside
// mu through an ordered outbox, so they may call back into the container.
// Transforms, validators and Equal run under mu and must not.
type Container[T any] struct {
	id       string
	key      string
	opts     api.Options[T]
	cfg      api.Config
	ctx      context.Context
	logger   *slog.Logger
	observer api.Observer

	pipe  *pipeline.Pipeline[T]
	bus   *notify.Bus[T]
	errs  *notify.Dispatcher
	store api.Storage
	feed  api.ChangeFeed

	mu          sync.Mutex
	current     T
	previous    T
	initial     T
	resetTarget T
	hist        *history.Manager[T]
	sched       *debounce.Scheduler[T]
	stopWatch   func()

	processingDebounce bool
	processingStorage  bool
	destroyed          bool

	outMu    sync.Mutex
	outbox   []func()
	flushing bool
}

var _ api.Container[int] = (*Container[int])(nil)

// New builds a container from initial and opts. If a storage key is
// configured, a previously persisted value replaces initial.
func New[T any](initial T, opts api.Options[T]) (*Container[T], error) {
	if isNilValue(initial) {
		return nil, api.NewError(api.KindInitialization, "new", opts.StorageKey, nil)
	}
	if err := opts.Validate(); err != nil {
		return nil, api.NewError(api.KindInitialization, "new", opts.StorageKey, err)
	}

	cfg := normalizeConfig(opts.Config)
	c := &Container[T]{
		id:       uuid.NewString(),
		key:      cfg.StorageKey,
		opts:     opts,
		cfg:      cfg,
		ctx:      cfg.Context,
		logger:   cfg.Logger.With(slog.String("component", "statebox")),
		observer: cfg.Observer,
		pipe:     pipeline.New(opts.Transforms, opts.Validators, cfg.Distinct, opts.Equal),
		bus:      notify.NewBus[T](cfg.StorageKey),
		errs:     notify.NewDispatcher(cfg.StorageKey, opts.ErrorHandlers, cfg.Production, cfg.Logger),
		sched:    debounce.New[T](cfg.Timer, cfg.Debounce),
		current:  initial,
		previous: initial,
		initial:  initial,
	}
	if cfg.StorageKey != "" {
		c.store = cfg.Storage
		c.feed = cfg.Feed
	}

	c.resetTarget = initial
	if opts.Default != nil {
		c.resetTarget = *opts.Default
	}
	if cfg.HistoryEnabled() {
		c.hist = history.New(cfg.HistorySize, initial)
	}

	c.mu.Lock()
	c.load()
	c.ensureWatch()
	c.mu.Unlock()

	return c, nil
}

func normalizeConfig(cfg api.Config) api.Config {
	if cfg.HistorySize > 0 {
		cfg.History = true
	}
	if cfg.Context == nil {
		cfg.Context = context.Background()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Observer == nil {
		cfg.Observer = api.NoopObserver{}
	}
	if cfg.Debounce > 0 && cfg.Timer == nil {
		cfg.Timer = clock.NewReal()
	}
	if cfg.StorageTimeout <= 0 {
		cfg.StorageTimeout = DefaultStorageTimeout
	}
	if cfg.Feed == nil {
		if feed, ok := cfg.Storage.(api.ChangeFeed); ok {
			cfg.Feed = feed
		}
	}
	return cfg
}

// isNilValue reports a missing initial value: a nil interface or a nil
// pointer. Nil maps and slices are valid empty values.
func isNilValue[T any](v T) bool {
	rv := reflect.ValueOf(any(v))
	if !rv.IsValid() {
		return true
	}
	return rv.Kind() == reflect.Pointer && rv.IsNil()
}

// ID returns the container's process-unique id.
func (c *Container[T]) ID() string {
	return c.id
}

func (c *Container[T]) Key() string {
	return c.key
}

func (c *Container[T]) Config() api.Config {
	return c.cfg
}

func (c *Container[T]) Value() T {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *Container[T]) Previous() T {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.previous
}

func (c *Container[T]) Initial() T {
	return c.initial
}

func (c *Container[T]) History() []T {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.hist == nil {
		return nil
	}
	return c.hist.Values()
}

// RedoStack returns a copy of the redo stack, oldest first.
func (c *Container[T]) RedoStack() []T {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.hist == nil {
		return nil
	}
	return c.hist.RedoValues()
}

func (c *Container[T]) CanUndo() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hist != nil && c.hist.CanUndo()
}

func (c *Container[T]) CanRedo() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hist != nil && c.hist.CanRedo()
}

func (c *Container[T]) Dirty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.pipe.Equal(c.current, c.initial)
}

func (c *Container[T]) Pending() (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sched.Pending()
}

func (c *Container[T]) Destroyed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.destroyed
}

func (c *Container[T]) OnError(h api.ErrorHandler) (remove func()) {
	if h == nil {
		return func() {}
	}
	return c.errs.Add(h)
}

func (c *Container[T]) Set(v T) error {
	return c.request(v, "set")
}

// Update applies fn to the committed value and sets the result. A pending
// debounced value is not visible to fn.
func (c *Container[T]) Update(fn func(T) T) error {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return nil
	}
	base := c.current
	c.mu.Unlock()

	next, err := callUpdate(fn, base)
	if err != nil {
		err = api.NewError(api.KindTransform, "update", c.key, err)
		return errors.Join(err, c.report(err))
	}
	return c.request(next, "update")
}

func callUpdate[T any](fn func(T) T, v T) (out T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &api.PanicError{Value: r}
		}
	}()
	return fn(v), nil
}

func (c *Container[T]) request(v T, op string) error {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return nil
	}

	if c.sched.Enabled() {
		err := c.sched.Request(v, c.onTimer)
		if err == nil {
			c.mu.Unlock()
			return nil
		}
		// The timer is gone (e.g. a stopped event loop); commit now rather
		// than lose the value.
		c.enqueueError(api.NewError(api.KindSchedule, op, c.key, err))
	}

	err := c.commitCandidate(v, op, api.SourceSet)
	c.mu.Unlock()

	var herr error
	if err != nil {
		herr = c.report(err)
	}
	c.drain()
	return errors.Join(err, herr)
}

// Flush commits the pending debounced value now.
func (c *Container[T]) Flush() (bool, error) {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return false, nil
	}
	v, ok := c.sched.TakeNow()
	if !ok {
		c.mu.Unlock()
		return false, nil
	}

	c.processingDebounce = true
	err := c.commitCandidate(v, "flush", api.SourceDebounce)
	c.processingDebounce = false
	c.mu.Unlock()

	var herr error
	if err != nil {
		herr = c.report(err)
	}
	c.drain()
	return true, errors.Join(err, herr)
}

// onTimer runs on the timer's goroutine. Errors here have no caller to
// return to and are only dispatched.
func (c *Container[T]) onTimer(gen uint64) {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return
	}
	v, ok := c.sched.Take(gen)
	if !ok {
		c.mu.Unlock()
		return
	}

	c.processingDebounce = true
	if err := c.commitCandidate(v, "debounce", api.SourceDebounce); err != nil {
		c.enqueueError(err)
	}
	c.processingDebounce = false
	c.mu.Unlock()

	c.drain()
}

func (c *Container[T]) Undo() bool {
	c.mu.Lock()
	if c.destroyed || c.hist == nil {
		c.mu.Unlock()
		return false
	}

	c.sched.Cancel()
	v, ok := c.hist.Undo()
	if ok {
		c.apply(v, api.SourceUndo, true)
	}
	c.mu.Unlock()

	c.drain()
	return ok
}

func (c *Container[T]) Redo() bool {
	c.mu.Lock()
	if c.destroyed || c.hist == nil {
		c.mu.Unlock()
		return false
	}

	c.sched.Cancel()
	v, ok := c.hist.Redo()
	if ok {
		c.apply(v, api.SourceRedo, true)
	}
	c.mu.Unlock()

	c.drain()
	return ok
}

// Reset restores the reset target. It passes through the transforms but
// skips validation.
func (c *Container[T]) Reset() error {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return nil
	}

	c.sched.Cancel()
	target, err := c.pipe.Transform(c.resetTarget)
	if err != nil {
		c.annotate(err, "reset")
		c.mu.Unlock()
		herr := c.report(err)
		c.drain()
		return errors.Join(err, herr)
	}

	if c.hist != nil {
		c.hist.Reset(target)
	}
	c.apply(target, api.SourceReset, true)
	c.mu.Unlock()

	c.drain()
	return nil
}

// commitCandidate runs the pipeline on raw and commits the result. A nil
// error with no commit means the distinct check dropped the candidate.
// Called with mu held.
func (c *Container[T]) commitCandidate(raw T, op string, source api.CommitSource) error {
	out, ok, err := c.pipe.Run(raw, c.current)
	if err != nil {
		c.annotate(err, op)
		return err
	}
	if !ok {
		c.observer.OnDiscard(c.ctx, c.id, c.key)
		return nil
	}

	if c.hist != nil {
		c.hist.Push(out)
	}
	c.apply(out, source, true)
	return nil
}

// apply makes v current: previous, then persistence, then the observer,
// then the queued notification. History has already been updated by the
// caller. Called with mu held.
func (c *Container[T]) apply(v T, source api.CommitSource, persist bool) {
	c.previous = c.current
	c.current = v
	if persist {
		c.persist()
	}

	ev := api.CommitEvent{ContainerID: c.id, Key: c.key, Source: source}
	if c.hist != nil {
		ev.HistoryLen = c.hist.Len()
		ev.RedoLen = c.hist.RedoLen()
	}
	c.observer.OnCommit(c.ctx, ev)
	c.enqueueNotify(v)
}

func (c *Container[T]) annotate(err error, op string) {
	var e *api.Error
	if errors.As(err, &e) {
		if e.Op == "" {
			e.Op = op
		}
		if e.Key == "" {
			e.Key = c.key
		}
	}
}

func (c *Container[T]) Subscribe(fn api.Subscriber[T]) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}

	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return func() {}
	}
	id := c.bus.Add(fn)
	c.ensureWatch()
	v := c.current
	c.mu.Unlock()

	if err := c.bus.Deliver(id, fn, v); err != nil {
		_ = c.report(err)
	}

	var once sync.Once
	return func() {
		once.Do(func() { c.unsubscribe(id) })
	}
}

// unsubscribe removes id. Removing the last subscriber releases the
// storage listener and cancels any pending commit; a later Subscribe
// re-acquires the listener.
func (c *Container[T]) unsubscribe(id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed, empty := c.bus.Remove(id)
	if !removed || !empty || c.destroyed {
		return
	}
	c.releaseWatch()
	c.sched.Cancel()
}

// SubscriberCount returns the number of live subscriptions.
func (c *Container[T]) SubscriberCount() int {
	return c.bus.Len()
}

// report dispatches err to the observer and the handlers. It returns the
// first handler failure outside production mode.
func (c *Container[T]) report(err error) error {
	c.observer.OnError(c.ctx, err)
	return c.errs.Dispatch(err)
}

// enqueueNotify is called with mu held. Subscribe also registers under mu,
// so upTo excludes anyone who subscribes after this commit; they are
// handed the current value directly.
func (c *Container[T]) enqueueNotify(v T) {
	upTo := c.bus.Seq()
	c.enqueue(func() {
		for _, err := range c.bus.NotifyUpTo(v, upTo) {
			_ = c.report(err)
		}
	})
}

// enqueueError queues a failure from a passive path. Handler failures are
// logged by the dispatcher and go no further.
func (c *Container[T]) enqueueError(err error) {
	c.enqueue(func() { _ = c.report(err) })
}

func (c *Container[T]) enqueue(task func()) {
	c.outMu.Lock()
	c.outbox = append(c.outbox, task)
	c.outMu.Unlock()
}

// drain runs queued callbacks in order. Only one goroutine drains at a
// time; a re-entrant call from a callback returns immediately and its
// tasks run after the current one.
func (c *Container[T]) drain() {
	c.outMu.Lock()
	if c.flushing {
		c.outMu.Unlock()
		return
	}
	c.flushing = true
	for len(c.outbox) > 0 {
		task := c.outbox[0]
		c.outbox[0] = nil
		c.outbox = c.outbox[1:]
		c.outMu.Unlock()
		task()
		c.outMu.Lock()
	}
	c.outbox = nil
	c.flushing = false
	c.outMu.Unlock()
}

func (c *Container[T]) String() string {
	if c.key == "" {
		return fmt.Sprintf("statebox.Container(%s)", c.id)
	}
	return fmt.Sprintf("statebox.Container(%s, key=%q)", c.id, c.key)
}
