package clock

import (
	"time"

	eventloop "github.com/joeycumines/go-eventloop"

	"github.com/petrijr/statebox/pkg/api"
)

// Loop schedules timers on a go-eventloop JS adapter. Callbacks run on the
// loop goroutine, so a container driven only from that loop never sees two
// callbacks at once.
type Loop struct {
	js *eventloop.JS
}

var _ api.Timer = (*Loop)(nil)

// NewLoop wraps js.
func NewLoop(js *eventloop.JS) *Loop {
	return &Loop{js: js}
}

func (l *Loop) Schedule(delay time.Duration, fn func()) (api.TimerHandle, error) {
	ms := int(delay / time.Millisecond)
	if delay > 0 && ms == 0 {
		ms = 1
	}
	id, err := l.js.SetTimeout(fn, ms)
	if err != nil {
		return 0, err
	}
	return api.TimerHandle(id), nil
}

func (l *Loop) Cancel(h api.TimerHandle) {
	// ErrTimerNotFound only means the timer already fired.
	_ = l.js.ClearTimeout(uint64(h))
}
