package api

// Readable is the minimal observable state slot: a current value and a way
// to follow it.
type Readable[T any] interface {
	// Value returns the current committed value.
	Value() T

	// Subscribe registers fn, calls it once with the current value before
	// returning, and then on every commit. The returned function removes
	// the subscription and is safe to call more than once.
	Subscribe(fn Subscriber[T]) (unsubscribe func())
}

// Container is the high-level container API.
type Container[T any] interface {
	Readable[T]

	// Set requests that v become the current value. With debounce
	// configured the commit is deferred and Set returns nil immediately.
	// Pipeline failures are returned and dispatched to error handlers;
	// the container state is left untouched.
	Set(v T) error

	// Update is Set(fn(Value())).
	Update(fn func(T) T) error

	// Undo steps back one history entry. It reports whether anything changed.
	Undo() bool

	// Redo re-applies the most recently undone value.
	Redo() bool

	// Reset restores the reset target (passed through the transforms,
	// never validated) and collapses history to it.
	Reset() error

	// Flush commits a pending debounced value immediately. It reports
	// whether there was one.
	Flush() (bool, error)

	// Pending returns the value waiting on the debounce timer, if any.
	Pending() (T, bool)

	Previous() T
	Initial() T

	// History returns a copy of the committed values, oldest first. Nil
	// when history is disabled.
	History() []T

	CanUndo() bool
	CanRedo() bool

	// Dirty reports whether the value differs from the initial value.
	Dirty() bool

	// OnError registers an error handler.
	OnError(h ErrorHandler) (remove func())

	// Destroy releases every resource. It is idempotent; afterwards
	// mutating calls are ignored.
	Destroy()
	Destroyed() bool

	Key() string

	// Config returns the type-agnostic configuration.
	Config() Config
}
