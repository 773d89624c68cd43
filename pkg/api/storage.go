package api

import (
	"context"
	"time"
)

// Storage is the durable key-value area a container persists to.
//
// Load reports found=false (and a nil error) for missing keys.
type Storage interface {
	Load(ctx context.Context, key string) (value string, found bool, err error)
	Store(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// Change is an externally observed write to a watched key.
type Change struct {
	Key string
	// Value is nil when the key was removed.
	Value *string
	// Origin identifies the writer.
	Origin string
}

// ChangeFeed delivers writes made by other processes or storage views to
// the same storage area. Implementations never deliver a view's own writes.
type ChangeFeed interface {
	Watch(ctx context.Context, key string, fn func(Change)) (stop func(), err error)
}

// SyncStorage is a Storage that also exposes its change feed.
type SyncStorage interface {
	Storage
	ChangeFeed
}

// TimerHandle identifies a scheduled timer.
type TimerHandle uint64

// Timer schedules deferred callbacks. Cancel of an unknown or already fired
// handle is a no-op.
type Timer interface {
	Schedule(delay time.Duration, fn func()) (TimerHandle, error)
	Cancel(h TimerHandle)
}
