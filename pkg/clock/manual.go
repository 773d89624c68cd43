package clock

import (
	"sort"
	"sync"
	"time"

	"github.com/petrijr/statebox/pkg/api"
)

type manualTimer struct {
	handle api.TimerHandle
	due    time.Time
	fn     func()
}

// Manual is an api.Timer whose time only moves through Advance.
type Manual struct {
	mu     sync.Mutex
	now    time.Time
	next   api.TimerHandle
	timers []manualTimer
}

var _ api.Timer = (*Manual)(nil)

// NewManual returns a Manual clock starting at start.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

func (m *Manual) Schedule(delay time.Duration, fn func()) (api.TimerHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if delay < 0 {
		delay = 0
	}
	m.next++
	m.timers = append(m.timers, manualTimer{handle: m.next, due: m.now.Add(delay), fn: fn})
	// Stable sort keeps scheduling order for equal deadlines.
	sort.SliceStable(m.timers, func(i, j int) bool {
		return m.timers[i].due.Before(m.timers[j].due)
	})
	return m.next, nil
}

func (m *Manual) Cancel(h api.TimerHandle) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, t := range m.timers {
		if t.handle == h {
			m.timers = append(m.timers[:i], m.timers[i+1:]...)
			return
		}
	}
}

// Now returns the current manual time.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Pending returns the number of armed timers.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}

// Advance moves time forward by d, running every timer that becomes due in
// deadline order. Callbacks run without the clock lock held and may
// schedule or cancel timers; new timers that fall within the window fire too.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now.Add(d)
	m.mu.Unlock()

	for {
		m.mu.Lock()
		if len(m.timers) == 0 || m.timers[0].due.After(target) {
			m.now = target
			m.mu.Unlock()
			return
		}
		t := m.timers[0]
		m.timers = m.timers[1:]
		if t.due.After(m.now) {
			m.now = t.due
		}
		m.mu.Unlock()

		t.fn()
	}
}
