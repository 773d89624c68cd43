package statebox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/petrijr/statebox/pkg/api"
	"github.com/petrijr/statebox/pkg/config"
	"github.com/petrijr/statebox/pkg/rules"
)

// Builder provides a fluent API for declaring containers:
//
//	count, err := statebox.Of(0).
//	    Transform(statebox.Clamp(0, 100)).
//	    Validate(statebox.Predicate[int](func(v int) bool { return v%2 == 0 })).
//	    Distinct().
//	    History(50).
//	    Persist("count", storage).
//	    Build()
//
// A Builder is not safe for concurrent use. Build may be called more than
// once; each call returns an independent container.
type Builder[T any] struct {
	initial T
	opts    api.Options[T]
	errs    []error
}

// Of starts a builder for a container holding initial.
func Of[T any](initial T) *Builder[T] {
	return &Builder[T]{initial: initial}
}

// FromConfig starts a builder from a YAML configuration. Expression
// validators are compiled here; compile errors are reported by Build.
// Attach storage with Storage (the key comes from cfg) or Persist.
func FromConfig[T any](cfg *config.Config, initial T) *Builder[T] {
	b := Of(initial)
	if cfg == nil {
		return b
	}

	b.opts.StorageKey = cfg.Key
	b.opts.Distinct = cfg.Distinct
	b.opts.Debounce = cfg.Debounce
	b.opts.History = cfg.HistoryEnabled()
	b.opts.HistorySize = cfg.History.Size
	b.opts.PersistHistory = cfg.History.Persist
	b.opts.Production = cfg.Production
	b.opts.StorageTimeout = cfg.StorageTimeout
	b.opts.Retry = RetryFromConfig(cfg.Retry)

	for i, rc := range cfg.Validators {
		var (
			v   api.Validator[T]
			err error
		)
		switch {
		case rc.Expr != "":
			v, err = rules.Expr[T](rc.Expr)
		case rc.CEL != "":
			v, err = rules.CEL[T](rc.CEL)
		}
		if err != nil {
			b.errs = append(b.errs, fmt.Errorf("validators[%d]: %w", i, err))
			continue
		}
		if v != nil {
			b.opts.Validators = append(b.opts.Validators, v)
		}
	}
	return b
}

// Transform appends transforms, applied left to right.
func (b *Builder[T]) Transform(fns ...api.Transform[T]) *Builder[T] {
	for i, fn := range fns {
		if fn == nil {
			panic(fmt.Sprintf("statebox: transform %d is nil", i))
		}
	}
	b.opts.Transforms = append(b.opts.Transforms, fns...)
	return b
}

// Filter appends a transform rejecting values for which pred is false.
func (b *Builder[T]) Filter(pred func(T) bool) *Builder[T] {
	if pred == nil {
		panic("statebox: filter predicate is nil")
	}
	return b.Transform(api.Filter(pred))
}

// Validate appends validators, evaluated in order until the first failure.
func (b *Builder[T]) Validate(vs ...api.Validator[T]) *Builder[T] {
	for i, v := range vs {
		if v == nil {
			panic(fmt.Sprintf("statebox: validator %d is nil", i))
		}
	}
	b.opts.Validators = append(b.opts.Validators, vs...)
	return b
}

// Require appends a boolean validator.
func (b *Builder[T]) Require(pred func(T) bool) *Builder[T] {
	if pred == nil {
		panic("statebox: validator predicate is nil")
	}
	return b.Validate(api.Predicate[T](pred))
}

// Distinct drops candidates equal to the current value.
func (b *Builder[T]) Distinct() *Builder[T] {
	b.opts.Distinct = true
	return b
}

// Equal overrides the equality used by Distinct and Dirty.
func (b *Builder[T]) Equal(fn func(x, y T) bool) *Builder[T] {
	b.opts.Equal = fn
	return b
}

// Debounce defers commits until no Set happened for d.
func (b *Builder[T]) Debounce(d time.Duration) *Builder[T] {
	b.opts.Debounce = d
	return b
}

// History enables undo/redo keeping at most size entries; zero keeps all.
func (b *Builder[T]) History(size int) *Builder[T] {
	b.opts.History = true
	b.opts.HistorySize = size
	return b
}

// Persist stores the value under key in storage.
func (b *Builder[T]) Persist(key string, storage api.Storage) *Builder[T] {
	b.opts.StorageKey = key
	b.opts.Storage = storage
	return b
}

// Storage sets the storage, keeping the configured key.
func (b *Builder[T]) Storage(storage api.Storage) *Builder[T] {
	b.opts.Storage = storage
	return b
}

// PersistHistory stores history alongside the value.
func (b *Builder[T]) PersistHistory() *Builder[T] {
	b.opts.PersistHistory = true
	return b
}

// Feed overrides the change feed derived from the storage.
func (b *Builder[T]) Feed(feed api.ChangeFeed) *Builder[T] {
	b.opts.Feed = feed
	return b
}

// Timer sets the timer used for debounced commits.
func (b *Builder[T]) Timer(t api.Timer) *Builder[T] {
	b.opts.Timer = t
	return b
}

// Default sets the reset target.
func (b *Builder[T]) Default(v T) *Builder[T] {
	b.opts.Default = &v
	return b
}

// Fallback sets the simplified payload used when a value cannot be encoded.
func (b *Builder[T]) Fallback(fn func(T) any) *Builder[T] {
	b.opts.Fallback = fn
	return b
}

// OnError appends an error handler.
func (b *Builder[T]) OnError(h api.ErrorHandler) *Builder[T] {
	if h == nil {
		panic("statebox: error handler is nil")
	}
	b.opts.ErrorHandlers = append(b.opts.ErrorHandlers, h)
	return b
}

func (b *Builder[T]) Observer(o api.Observer) *Builder[T] {
	b.opts.Observer = o
	return b
}

func (b *Builder[T]) Logger(l *slog.Logger) *Builder[T] {
	b.opts.Logger = l
	return b
}

// Production stops error handler failures from reaching callers.
func (b *Builder[T]) Production() *Builder[T] {
	b.opts.Production = true
	return b
}

// Retry sets the storage write retry policy.
func (b *Builder[T]) Retry(p api.RetryPolicy) *Builder[T] {
	b.opts.Retry = p
	return b
}

// StorageTimeout bounds each storage call.
func (b *Builder[T]) StorageTimeout(d time.Duration) *Builder[T] {
	b.opts.StorageTimeout = d
	return b
}

// Context sets the parent context of storage calls and watches.
func (b *Builder[T]) Context(ctx context.Context) *Builder[T] {
	b.opts.Context = ctx
	return b
}

// Options returns a copy of the accumulated options.
func (b *Builder[T]) Options() api.Options[T] {
	opts := b.opts
	opts.Transforms = append([]api.Transform[T](nil), b.opts.Transforms...)
	opts.Validators = append([]api.Validator[T](nil), b.opts.Validators...)
	opts.ErrorHandlers = append([]api.ErrorHandler(nil), b.opts.ErrorHandlers...)
	return opts
}

// Build creates the container.
func (b *Builder[T]) Build() (Container[T], error) {
	if len(b.errs) > 0 {
		return nil, api.NewError(api.KindInitialization, "build", b.opts.StorageKey, errors.Join(b.errs...))
	}
	return New(b.initial, b.Options())
}

// MustBuild is like Build but panics on error.
// Useful for initialization in main().
func (b *Builder[T]) MustBuild() Container[T] {
	c, err := b.Build()
	if err != nil {
		panic(err)
	}
	return c
}
