package clock

import (
	"sync"
	"time"

	"github.com/petrijr/statebox/pkg/api"
)

// Real is a goroutine-safe api.Timer backed by time.AfterFunc.
type Real struct {
	mu     sync.Mutex
	next   api.TimerHandle
	timers map[api.TimerHandle]*time.Timer
}

var _ api.Timer = (*Real)(nil)

// NewReal returns a Real timer.
func NewReal() *Real {
	return &Real{timers: make(map[api.TimerHandle]*time.Timer)}
}

func (r *Real) Schedule(delay time.Duration, fn func()) (api.TimerHandle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.next++
	h := r.next
	r.timers[h] = time.AfterFunc(delay, func() {
		r.mu.Lock()
		_, live := r.timers[h]
		delete(r.timers, h)
		r.mu.Unlock()
		if live {
			fn()
		}
	})
	return h, nil
}

func (r *Real) Cancel(h api.TimerHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t, ok := r.timers[h]; ok {
		t.Stop()
		delete(r.timers, h)
	}
}

// Len returns the number of armed timers.
func (r *Real) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.timers)
}
