package notify

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/petrijr/statebox/pkg/api"
)

type handlerEntry struct {
	id uint64
	fn api.ErrorHandler
}

// Dispatcher fans errors out to an ordered list of handlers.
type Dispatcher struct {
	key        string
	production bool
	logger     *slog.Logger

	mu       sync.Mutex
	seq      uint64
	handlers []handlerEntry
}

// NewDispatcher returns a Dispatcher seeded with handlers. In production
// mode Dispatch never returns handler failures, it only logs them.
func NewDispatcher(key string, handlers []api.ErrorHandler, production bool, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{key: key, production: production, logger: logger}
	for _, h := range handlers {
		if h != nil {
			d.Add(h)
		}
	}
	return d
}

// Add appends h and returns a function that removes it again.
func (d *Dispatcher) Add(h api.ErrorHandler) (remove func()) {
	d.mu.Lock()
	d.seq++
	id := d.seq
	d.handlers = append(d.handlers, handlerEntry{id: id, fn: h})
	d.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			defer d.mu.Unlock()
			for i, e := range d.handlers {
				if e.id == id {
					d.handlers = append(d.handlers[:i:i], d.handlers[i+1:]...)
					return
				}
			}
		})
	}
}

// Len returns the number of handlers.
func (d *Dispatcher) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.handlers)
}

// Dispatch invokes every handler with err, in order. A panicking handler is
// logged with its position and the original error. Outside production mode
// the first handler failure is returned.
func (d *Dispatcher) Dispatch(err error) error {
	if err == nil {
		return nil
	}

	d.mu.Lock()
	handlers := append([]handlerEntry(nil), d.handlers...)
	d.mu.Unlock()

	var first error
	for i, h := range handlers {
		herr := d.call(h.fn, err)
		if herr == nil {
			continue
		}
		d.logger.Error("error handler failed",
			slog.String("key", d.key),
			slog.Int("handler", i),
			slog.Any("original_error", err),
			slog.Any("error", herr),
		)
		if first == nil {
			first = api.NewError(api.KindHandler, "dispatch", d.key, fmt.Errorf("handler %d: %w", i, herr))
		}
	}

	if d.production {
		return nil
	}
	return first
}

func (d *Dispatcher) call(h api.ErrorHandler, err error) (out error) {
	defer func() {
		if r := recover(); r != nil {
			out = &api.PanicError{Value: r}
		}
	}()
	h(err)
	return nil
}
