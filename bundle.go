package statebox

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/petrijr/statebox/internal/persistence"
	"github.com/petrijr/statebox/pkg/api"
)

// Bundle wires many containers to one storage, timer, logger and metrics
// collector, and tears them all down together.
//
// Typical usage:
//
//	db, _ := sql.Open("sqlite", "file:app.db?_journal=WAL")
//	bundle, err := statebox.NewSQLiteBundle(db)
//	cart, err := statebox.Add(bundle, "cart", Cart{}, statebox.Options[Cart]{})
//	theme, err := statebox.Add(bundle, "theme", "light", statebox.Options[string]{})
//	defer bundle.Close()
type Bundle struct {
	// Storage is shared by every container in the bundle.
	Storage SyncStorage

	// Timer schedules debounced commits; nil selects a real-time timer
	// per container.
	Timer Timer

	// Metrics counts commits, writes and errors across the bundle.
	Metrics *BasicMetrics

	Logger *slog.Logger
	Retry  RetryPolicy

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	containers map[string]func()
	closed     bool
}

// NewBundle constructs a Bundle around storage.
func NewBundle(storage SyncStorage) *Bundle {
	ctx, cancel := context.WithCancel(context.Background())
	return &Bundle{
		Storage:    storage,
		Metrics:    &BasicMetrics{},
		Logger:     slog.Default(),
		ctx:        ctx,
		cancel:     cancel,
		containers: make(map[string]func()),
	}
}

// NewMemoryBundle constructs a non-durable Bundle, mostly useful in tests.
func NewMemoryBundle() *Bundle {
	return NewBundle(persistence.NewMemoryStore())
}

// NewSQLiteBundle constructs a Bundle persisting to db. The caller is
// responsible for importing the driver, e.g. _ "modernc.org/sqlite".
func NewSQLiteBundle(db *sql.DB, opts ...SQLiteOption) (*Bundle, error) {
	store, err := NewSQLiteStorage(db, opts...)
	if err != nil {
		return nil, err
	}
	return NewBundle(store), nil
}

// NewRedisBundle constructs a Bundle persisting to Redis under prefix.
func NewRedisBundle(client *redis.Client, prefix string) *Bundle {
	return NewBundle(NewRedisStorage(client, prefix))
}

// ErrBundleClosed is returned by Add after Close.
var ErrBundleClosed = errors.New("statebox: bundle closed")

// ErrDuplicateKey is returned by Add when key is already in use.
var ErrDuplicateKey = errors.New("statebox: key already registered in bundle")

// Add builds a container persisted under key in b. Options that are unset
// are filled from the bundle; an Observer in opts is combined with the
// bundle's metrics.
func Add[T any](b *Bundle, key string, initial T, opts Options[T]) (Container[T], error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrBundleClosed
	}
	if _, dup := b.containers[key]; dup {
		return nil, api.NewError(api.KindInitialization, "add", key, ErrDuplicateKey)
	}

	opts.StorageKey = key
	opts.Storage = b.Storage
	if opts.Timer == nil {
		opts.Timer = b.Timer
	}
	if opts.Logger == nil {
		opts.Logger = b.Logger
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = b.Retry
	}
	if opts.Context == nil {
		opts.Context = b.ctx
	}
	opts.Observer = NewCompositeObserver(b.Metrics, opts.Observer)

	c, err := New(initial, opts)
	if err != nil {
		return nil, err
	}
	b.containers[key] = c.Destroy
	return c, nil
}

// Len returns the number of containers in the bundle.
func (b *Bundle) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.containers)
}

// Close destroys every container and cancels in-flight storage calls.
// It is safe to call more than once.
func (b *Bundle) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	destroy := make([]func(), 0, len(b.containers))
	for _, fn := range b.containers {
		destroy = append(destroy, fn)
	}
	b.containers = nil
	b.mu.Unlock()

	for _, fn := range destroy {
		fn()
	}
	b.cancel()
}
