package notify

import (
	"fmt"
	"sync"

	"github.com/petrijr/statebox/pkg/api"
)

type subscription[T any] struct {
	id uint64
	fn api.Subscriber[T]
}

// Bus is an insertion-ordered subscriber registry. It is safe for
// concurrent use; Notify works on a snapshot so callbacks may subscribe or
// unsubscribe while being notified.
type Bus[T any] struct {
	key string

	mu   sync.Mutex
	seq  uint64
	subs []subscription[T]
}

// NewBus returns an empty Bus. key labels subscriber errors.
func NewBus[T any](key string) *Bus[T] {
	return &Bus[T]{key: key}
}

// Add registers fn and returns its sequence id.
func (b *Bus[T]) Add(fn api.Subscriber[T]) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.seq++
	b.subs = append(b.subs, subscription[T]{id: b.seq, fn: fn})
	return b.seq
}

// Remove unregisters id. removed is false when id was unknown; empty
// reports whether the registry is now empty.
func (b *Bus[T]) Remove(id uint64) (removed, empty bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return true, len(b.subs) == 0
		}
	}
	return false, len(b.subs) == 0
}

// Len returns the number of subscribers.
func (b *Bus[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Clear drops every subscriber.
func (b *Bus[T]) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = nil
}

func (b *Bus[T]) snapshot() []subscription[T] {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]subscription[T](nil), b.subs...)
}

// Seq returns the id of the most recent subscription.
func (b *Bus[T]) Seq() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.seq
}

// Notify calls every subscriber in registration order with v. Panics are
// recovered and returned as KindSubscriber errors after all subscribers
// ran.
func (b *Bus[T]) Notify(v T) []error {
	return b.NotifyUpTo(v, ^uint64(0))
}

// NotifyUpTo is Notify restricted to subscriptions with id <= upTo. A
// notification queued at sequence upTo never reaches a subscriber that
// registered later and already received a newer value.
func (b *Bus[T]) NotifyUpTo(v T, upTo uint64) []error {
	var errs []error
	for _, s := range b.snapshot() {
		if s.id > upTo {
			break
		}
		if err := b.Deliver(s.id, s.fn, v); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// Deliver calls a single subscriber, converting a panic into an error.
func (b *Bus[T]) Deliver(id uint64, fn api.Subscriber[T], v T) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = api.NewError(api.KindSubscriber, "notify", b.key,
				fmt.Errorf("subscriber %d: %w", id, &api.PanicError{Value: r}))
		}
	}()
	fn(v)
	return nil
}
