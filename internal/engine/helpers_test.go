package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/petrijr/statebox/internal/persistence"
	"github.com/petrijr/statebox/pkg/api"
)

// recorder collects values passed to a subscriber or handler.
type recorder[T any] struct {
	mu  sync.Mutex
	got []T
}

func (r *recorder[T]) add(v T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, v)
}

func (r *recorder[T]) values() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]T(nil), r.got...)
}

func (r *recorder[T]) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = nil
}

// manualFeed is a ChangeFeed whose changes are fired by the test.
type manualFeed struct {
	mu       sync.Mutex
	seq      int
	watchers map[int]func(api.Change)
	watches  int
	fail     error
}

func newManualFeed() *manualFeed {
	return &manualFeed{watchers: make(map[int]func(api.Change))}
}

func (f *manualFeed) Watch(ctx context.Context, key string, fn func(api.Change)) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.fail != nil {
		return nil, f.fail
	}
	f.seq++
	f.watches++
	id := f.seq
	f.watchers[id] = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.watchers, id)
	}, nil
}

func (f *manualFeed) fire(c api.Change) {
	f.mu.Lock()
	fns := make([]func(api.Change), 0, len(f.watchers))
	for _, fn := range f.watchers {
		fns = append(fns, fn)
	}
	f.mu.Unlock()

	for _, fn := range fns {
		fn(c)
	}
}

func (f *manualFeed) active() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.watchers)
}

// countingStorage wraps a memory view, counts writes and can fail them.
type countingStorage struct {
	mem *persistence.MemoryStore

	mu       sync.Mutex
	stores   int
	failures int // remaining writes to fail
	failErr  error
}

func newCountingStorage() *countingStorage {
	return &countingStorage{mem: persistence.NewMemoryStore()}
}

func (s *countingStorage) Load(ctx context.Context, key string) (string, bool, error) {
	return s.mem.Load(ctx, key)
}

func (s *countingStorage) Store(ctx context.Context, key, value string) error {
	s.mu.Lock()
	s.stores++
	if s.failures != 0 {
		if s.failures > 0 {
			s.failures--
		}
		err := s.failErr
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()
	return s.mem.Store(ctx, key, value)
}

func (s *countingStorage) Delete(ctx context.Context, key string) error {
	return s.mem.Delete(ctx, key)
}

func (s *countingStorage) writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stores
}

// failWrites makes the next n writes fail; n < 0 fails every write.
func (s *countingStorage) failWrites(n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = n
	s.failErr = err
}

func (s *countingStorage) raw(key string) string {
	v, _ := s.mem.Area().Get(key)
	return v
}

type failingTimer struct{}

func (failingTimer) Schedule(time.Duration, func()) (api.TimerHandle, error) {
	return 0, errors.New("loop stopped")
}

func (failingTimer) Cancel(api.TimerHandle) {}

func strPtr(s string) *string {
	return &s
}
