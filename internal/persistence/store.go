// Package persistence provides the storage areas containers persist to and
// the change feeds that report writes made by other views of the same area.
package persistence

import (
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/petrijr/statebox/pkg/api"
)

// ErrKeyNotFound is returned by Get helpers when a key is absent.
var ErrKeyNotFound = errors.New("key not found")

// Store is a storage area view. Every view has its own origin; its change
// feed reports writes made by any other origin.
type Store interface {
	api.SyncStorage
	Origin() string
}

func newOrigin() string {
	return uuid.NewString()
}

// delivery runs fn on its own goroutine in push order, so a slow watcher
// never blocks writers.
type delivery struct {
	fn func(api.Change)

	mu    sync.Mutex
	queue []api.Change

	wake chan struct{}
	done chan struct{}
	once sync.Once
}

func newDelivery(fn func(api.Change)) *delivery {
	d := &delivery{
		fn:   fn,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *delivery) push(c api.Change) {
	d.mu.Lock()
	d.queue = append(d.queue, c)
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// stop never waits for the goroutine: it may be called from inside fn.
func (d *delivery) stop() {
	d.once.Do(func() { close(d.done) })
}

func (d *delivery) stopped() bool {
	select {
	case <-d.done:
		return true
	default:
		return false
	}
}

func (d *delivery) run() {
	for {
		select {
		case <-d.done:
			return
		case <-d.wake:
		}

		for {
			d.mu.Lock()
			if len(d.queue) == 0 {
				d.mu.Unlock()
				break
			}
			c := d.queue[0]
			d.queue = d.queue[1:]
			d.mu.Unlock()

			if d.stopped() {
				return
			}
			d.fn(c)
		}
	}
}
