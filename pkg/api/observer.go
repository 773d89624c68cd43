package api

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Observer receives callbacks from the container engine for logging and
// metrics.
//
// Implementations should be fast and non-blocking. Persistence callbacks run
// while the container is locked.
type Observer interface {
	// OnCommit is called after a value became current, history was updated
	// and the value was persisted, before subscribers are notified.
	OnCommit(ctx context.Context, ev CommitEvent)

	// OnDiscard is called when a candidate equal to the current value was
	// dropped by the distinct check.
	OnDiscard(ctx context.Context, containerID, key string)

	// OnPersist is called after every storage write attempt sequence.
	OnPersist(ctx context.Context, key string, err error, d time.Duration)

	// OnSync is called after an external change was applied.
	OnSync(ctx context.Context, key, origin string)

	// OnError is called for every error dispatched to handlers.
	OnError(ctx context.Context, err error)

	// OnDestroy is called once when a container is destroyed.
	OnDestroy(ctx context.Context, containerID, key string)
}

// NoopObserver is an Observer that does nothing.
// It is used as the default when no observer is configured.
type NoopObserver struct{}

func (NoopObserver) OnCommit(ctx context.Context, ev CommitEvent)                          {}
func (NoopObserver) OnDiscard(ctx context.Context, containerID, key string)                {}
func (NoopObserver) OnPersist(ctx context.Context, key string, err error, d time.Duration) {}
func (NoopObserver) OnSync(ctx context.Context, key, origin string)                        {}
func (NoopObserver) OnError(ctx context.Context, err error)                                {}
func (NoopObserver) OnDestroy(ctx context.Context, containerID, key string)                {}

// CompositeObserver fans out events to multiple observers.
type CompositeObserver struct {
	observers []Observer
}

// NewCompositeObserver creates an Observer that forwards events to each
// non-nil observer in obs.
func NewCompositeObserver(obs ...Observer) Observer {
	filtered := make([]Observer, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			filtered = append(filtered, o)
		}
	}
	if len(filtered) == 0 {
		return NoopObserver{}
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &CompositeObserver{observers: filtered}
}

func (c *CompositeObserver) OnCommit(ctx context.Context, ev CommitEvent) {
	for _, o := range c.observers {
		o.OnCommit(ctx, ev)
	}
}

func (c *CompositeObserver) OnDiscard(ctx context.Context, containerID, key string) {
	for _, o := range c.observers {
		o.OnDiscard(ctx, containerID, key)
	}
}

func (c *CompositeObserver) OnPersist(ctx context.Context, key string, err error, d time.Duration) {
	for _, o := range c.observers {
		o.OnPersist(ctx, key, err, d)
	}
}

func (c *CompositeObserver) OnSync(ctx context.Context, key, origin string) {
	for _, o := range c.observers {
		o.OnSync(ctx, key, origin)
	}
}

func (c *CompositeObserver) OnError(ctx context.Context, err error) {
	for _, o := range c.observers {
		o.OnError(ctx, err)
	}
}

func (c *CompositeObserver) OnDestroy(ctx context.Context, containerID, key string) {
	for _, o := range c.observers {
		o.OnDestroy(ctx, containerID, key)
	}
}

// LoggingObserver writes structured logs using log/slog.
type LoggingObserver struct {
	Logger *slog.Logger
}

// NewLoggingObserver creates an Observer that logs container lifecycle
// events using the provided slog.Logger. If logger is nil, slog.Default()
// is used.
func NewLoggingObserver(logger *slog.Logger) Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingObserver{Logger: logger}
}

func (o *LoggingObserver) OnCommit(ctx context.Context, ev CommitEvent) {
	o.Logger.DebugContext(ctx, "container_commit",
		slog.String("container_id", ev.ContainerID),
		slog.String("key", ev.Key),
		slog.String("source", string(ev.Source)),
		slog.Int("history_len", ev.HistoryLen),
		slog.Int("redo_len", ev.RedoLen),
	)
}

func (o *LoggingObserver) OnDiscard(ctx context.Context, containerID, key string) {
	o.Logger.DebugContext(ctx, "container_discard",
		slog.String("container_id", containerID),
		slog.String("key", key),
	)
}

func (o *LoggingObserver) OnPersist(ctx context.Context, key string, err error, d time.Duration) {
	level := slog.LevelDebug
	if err != nil {
		level = slog.LevelWarn
	}
	o.Logger.Log(ctx, level, "container_persist",
		slog.String("key", key),
		slog.Duration("duration", d),
		slog.Any("error", err),
	)
}

func (o *LoggingObserver) OnSync(ctx context.Context, key, origin string) {
	o.Logger.InfoContext(ctx, "container_sync",
		slog.String("key", key),
		slog.String("origin", origin),
	)
}

func (o *LoggingObserver) OnError(ctx context.Context, err error) {
	o.Logger.ErrorContext(ctx, "container_error",
		slog.String("kind", KindOf(err).String()),
		slog.Any("error", err),
	)
}

func (o *LoggingObserver) OnDestroy(ctx context.Context, containerID, key string) {
	o.Logger.InfoContext(ctx, "container_destroy",
		slog.String("container_id", containerID),
		slog.String("key", key),
	)
}

// BasicMetrics collects simple counters and aggregate write durations.
// It implements Observer, and can be combined with LoggingObserver via
// NewCompositeObserver.
type BasicMetrics struct {
	NoopObserver

	commits       atomic.Int64
	discards      atomic.Int64
	syncs         atomic.Int64
	errors        atomic.Int64
	writes        atomic.Int64
	writeFailures atomic.Int64
	totalWrite    atomic.Int64 // nanoseconds
}

// BasicMetricsSnapshot is an immutable snapshot of BasicMetrics.
type BasicMetricsSnapshot struct {
	Commits  int64
	Discards int64
	Syncs    int64
	Errors   int64

	Writes          int64
	WriteFailures   int64
	AvgWriteLatency time.Duration
}

func (m *BasicMetrics) OnCommit(ctx context.Context, ev CommitEvent) {
	m.commits.Add(1)
}

func (m *BasicMetrics) OnDiscard(ctx context.Context, containerID, key string) {
	m.discards.Add(1)
}

func (m *BasicMetrics) OnPersist(ctx context.Context, key string, err error, d time.Duration) {
	if err != nil {
		m.writeFailures.Add(1)
		return
	}
	m.writes.Add(1)
	m.totalWrite.Add(d.Nanoseconds())
}

func (m *BasicMetrics) OnSync(ctx context.Context, key, origin string) {
	m.syncs.Add(1)
}

func (m *BasicMetrics) OnError(ctx context.Context, err error) {
	m.errors.Add(1)
}

// Snapshot returns a snapshot of the current metrics.
func (m *BasicMetrics) Snapshot() BasicMetricsSnapshot {
	writes := m.writes.Load()
	totalNs := m.totalWrite.Load()

	var avg time.Duration
	if writes > 0 {
		avg = time.Duration(totalNs / writes)
	}

	return BasicMetricsSnapshot{
		Commits:         m.commits.Load(),
		Discards:        m.discards.Load(),
		Syncs:           m.syncs.Load(),
		Errors:          m.errors.Load(),
		Writes:          writes,
		WriteFailures:   m.writeFailures.Load(),
		AvgWriteLatency: avg,
	}
}
