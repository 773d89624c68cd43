package persistence

import (
	"context"
	"sync"

	"github.com/petrijr/statebox/pkg/api"
)

// MemoryArea is a process-local storage area shared by any number of
// MemoryStore views, the way browser tabs share one origin's storage.
type MemoryArea struct {
	mu       sync.RWMutex
	data     map[string]string
	seq      uint64
	watchers map[uint64]*memoryWatcher
}

type memoryWatcher struct {
	key    string
	origin string
	d      *delivery
}

// NewMemoryArea creates an empty MemoryArea.
func NewMemoryArea() *MemoryArea {
	return &MemoryArea{
		data:     make(map[string]string),
		watchers: make(map[uint64]*memoryWatcher),
	}
}

// Tab returns a new view with its own origin.
func (a *MemoryArea) Tab() *MemoryStore {
	return &MemoryStore{area: a, origin: newOrigin()}
}

// Put writes key as an anonymous external writer; every view watching key
// is notified.
func (a *MemoryArea) Put(key, value string) {
	a.write("", key, &value)
}

// Remove deletes key as an anonymous external writer.
func (a *MemoryArea) Remove(key string) {
	a.write("", key, nil)
}

// Get returns the raw value stored under key.
func (a *MemoryArea) Get(key string) (string, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	v, ok := a.data[key]
	if !ok {
		return "", ErrKeyNotFound
	}
	return v, nil
}

// Keys returns the number of stored keys.
func (a *MemoryArea) Keys() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.data)
}

func (a *MemoryArea) write(origin, key string, value *string) {
	a.mu.Lock()
	if value == nil {
		delete(a.data, key)
	} else {
		a.data[key] = *value
	}
	var targets []*memoryWatcher
	for _, w := range a.watchers {
		if w.key == key && (origin == "" || w.origin != origin) {
			targets = append(targets, w)
		}
	}
	a.mu.Unlock()

	for _, w := range targets {
		w.d.push(api.Change{Key: key, Value: value, Origin: origin})
	}
}

func (a *MemoryArea) watch(origin, key string, fn func(api.Change)) func() {
	w := &memoryWatcher{key: key, origin: origin, d: newDelivery(fn)}

	a.mu.Lock()
	a.seq++
	id := a.seq
	a.watchers[id] = w
	a.mu.Unlock()

	return func() {
		a.mu.Lock()
		delete(a.watchers, id)
		a.mu.Unlock()
		w.d.stop()
	}
}

// MemoryStore is one view of a MemoryArea. It is goroutine-safe.
type MemoryStore struct {
	area   *MemoryArea
	origin string
}

// NewMemoryStore returns a view over a fresh, private MemoryArea.
func NewMemoryStore() *MemoryStore {
	return NewMemoryArea().Tab()
}

// Ensure MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)

// Area returns the shared area behind this view.
func (s *MemoryStore) Area() *MemoryArea {
	return s.area
}

func (s *MemoryStore) Origin() string {
	return s.origin
}

func (s *MemoryStore) Load(ctx context.Context, key string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	v, err := s.area.Get(key)
	if err != nil {
		return "", false, nil
	}
	return v, true, nil
}

func (s *MemoryStore) Store(ctx context.Context, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.area.write(s.origin, key, &value)
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.area.write(s.origin, key, nil)
	return nil
}

// Watch delivers changes to key made by other views, in write order, on a
// dedicated goroutine. The watch ends when stop is called or ctx is done.
func (s *MemoryStore) Watch(ctx context.Context, key string, fn func(api.Change)) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	stop := s.area.watch(s.origin, key, fn)
	detach := context.AfterFunc(ctx, stop)
	return func() {
		detach()
		stop()
	}, nil
}
