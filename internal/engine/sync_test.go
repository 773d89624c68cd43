package engine

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/petrijr/statebox/internal/codec"
	"github.com/petrijr/statebox/internal/persistence"
	"github.com/petrijr/statebox/pkg/api"
)

const testKey = "counter"

func persisted(store api.Storage, feed api.ChangeFeed, cfg api.Config) api.Config {
	cfg.StorageKey = testKey
	cfg.Storage = store
	cfg.Feed = feed
	return cfg
}

func TestPersist_WritesEveryCommit(t *testing.T) {
	store := newCountingStorage()
	c, err := New(0, api.Options[int]{Config: persisted(store, nil, api.Config{})})
	require.NoError(t, err)
	require.Equal(t, 0, store.writes(), "construction never writes")

	require.NoError(t, c.Set(4))
	require.Equal(t, "4", store.raw(testKey))

	require.NoError(t, c.Reset())
	require.Equal(t, "0", store.raw(testKey))
	require.Equal(t, 2, store.writes())
}

func TestPersist_HistoryEnvelope(t *testing.T) {
	store := newCountingStorage()
	c, err := New(0, api.Options[int]{
		Config: persisted(store, nil, api.Config{HistorySize: 3, PersistHistory: true}),
	})
	require.NoError(t, err)

	for i := 1; i <= 4; i++ {
		require.NoError(t, c.Set(i))
	}
	require.JSONEq(t, `{"value":4,"history":[2,3,4]}`, store.raw(testKey))
}

func TestLoad_AdoptsStoredValue(t *testing.T) {
	store := newCountingStorage()
	require.NoError(t, store.mem.Store(t.Context(), testKey, "5"))

	c, err := New(0, api.Options[int]{Config: persisted(store, nil, api.Config{History: true})})
	require.NoError(t, err)

	require.Equal(t, 5, c.Value())
	require.Equal(t, 5, c.Previous())
	require.Equal(t, 0, c.Initial())
	require.Equal(t, []int{5}, c.History())
	require.True(t, c.Dirty())
	require.Equal(t, 0, store.writes())
}

func TestLoad_StoredValueIsHistoryBaseline(t *testing.T) {
	store := newCountingStorage()
	require.NoError(t, store.mem.Store(t.Context(), testKey, "5"))

	c, err := New(0, api.Options[int]{Config: persisted(store, nil, api.Config{History: true})})
	require.NoError(t, err)

	require.Equal(t, []int{5}, c.History())
	require.False(t, c.CanUndo(), "a loaded value cannot be undone")
	require.False(t, c.Undo())
	require.Equal(t, 5, c.Value())

	require.NoError(t, c.Reset())
	require.Equal(t, 0, c.Value(), "reset still targets the configured initial value")
	require.Equal(t, []int{0}, c.History())
	require.Equal(t, "0", store.raw(testKey))
}

func TestLoad_MalformedPayloadKeepsInitial(t *testing.T) {
	store := newCountingStorage()
	require.NoError(t, store.mem.Store(t.Context(), testKey, "{not json"))

	c, err := New(7, api.Options[int]{Config: persisted(store, nil, api.Config{})})
	require.NoError(t, err)
	require.Equal(t, 7, c.Value())

	require.NoError(t, store.mem.Store(t.Context(), testKey, `"a string"`))
	c, err = New(7, api.Options[int]{Config: persisted(store, nil, api.Config{})})
	require.NoError(t, err)
	require.Equal(t, 7, c.Value())
}

func TestLoad_EnvelopeHistoryIsBounded(t *testing.T) {
	store := newCountingStorage()
	require.NoError(t, store.mem.Store(t.Context(), testKey, `{"value":10,"history":[1,2,3,4,5,6,7,8,9,10]}`))

	c, err := New(0, api.Options[int]{
		Config: persisted(store, nil, api.Config{HistorySize: 3, PersistHistory: true}),
	})
	require.NoError(t, err)

	require.Equal(t, 10, c.Value())
	require.Equal(t, []int{8, 9, 10}, c.History())
	require.True(t, c.Undo())
	require.Equal(t, 9, c.Value())
}

type node struct {
	Name string `json:"name"`
	Self *node  `json:"self"`
}

func TestPersist_CyclicValue(t *testing.T) {
	store := newCountingStorage()
	handled := &recorder[error]{}
	c, err := New(&node{Name: "seed"}, api.Options[*node]{
		Config:        persisted(store, nil, api.Config{}),
		ErrorHandlers: []api.ErrorHandler{handled.add},
	})
	require.NoError(t, err)

	n := &node{Name: "loop"}
	n.Self = n
	require.NoError(t, c.Set(n))
	require.Empty(t, handled.values())

	var stored map[string]any
	require.NoError(t, json.Unmarshal([]byte(store.raw(testKey)), &stored))
	require.Equal(t, "loop", stored["name"])
	require.Equal(t, codec.CircularMarker, stored["self"])

	live := c.Value()
	require.Same(t, live, live.Self, "the in-memory value keeps its cycle")

	// The marker cannot be decoded back into a *node.
	reloaded, err := New(&node{Name: "fresh"}, api.Options[*node]{Config: persisted(store, nil, api.Config{})})
	require.NoError(t, err)
	require.Equal(t, "fresh", reloaded.Value().Name)
}

func TestPersist_FallbackPayload(t *testing.T) {
	store := newCountingStorage()
	c, err := New(1.5, api.Options[float64]{
		Config:   persisted(store, nil, api.Config{}),
		Fallback: func(v float64) any { return map[string]string{"unencodable": "NaN"} },
	})
	require.NoError(t, err)

	require.NoError(t, c.Set(math.NaN()))
	require.JSONEq(t, `{"unencodable":"NaN"}`, store.raw(testKey))
	require.True(t, math.IsNaN(c.Value()))
}

func TestPersist_SerializationFailureIsDispatched(t *testing.T) {
	store := newCountingStorage()
	handled := &recorder[error]{}
	c, err := New(1.5, api.Options[float64]{
		Config:        persisted(store, nil, api.Config{}),
		ErrorHandlers: []api.ErrorHandler{handled.add},
	})
	require.NoError(t, err)

	require.NoError(t, c.Set(math.Inf(1)))
	require.True(t, math.IsInf(c.Value(), 1))
	require.Len(t, handled.values(), 1)
	require.Equal(t, api.KindSerialization, api.KindOf(handled.values()[0]))
	require.Equal(t, 0, store.writes())
}

func TestPersist_FailureKeepsValueAndDispatches(t *testing.T) {
	store := newCountingStorage()
	store.failWrites(-1, errors.New("quota exceeded"))
	handled := &recorder[error]{}
	metrics := &api.BasicMetrics{}

	c, err := New(0, api.Options[int]{
		Config:        persisted(store, nil, api.Config{Observer: metrics}),
		ErrorHandlers: []api.ErrorHandler{handled.add},
	})
	require.NoError(t, err)

	rec := &recorder[int]{}
	c.Subscribe(rec.add)
	rec.reset()

	require.NoError(t, c.Set(3), "storage failures never fail the caller")
	require.Equal(t, 3, c.Value())
	require.Equal(t, []int{3}, rec.values())

	require.Len(t, handled.values(), 1)
	require.ErrorIs(t, handled.values()[0], api.ErrPersistence)
	require.Contains(t, handled.values()[0].Error(), "quota exceeded")
	require.Equal(t, int64(1), metrics.Snapshot().WriteFailures)
}

func TestPersist_RetriesWrites(t *testing.T) {
	store := newCountingStorage()
	store.failWrites(2, errors.New("busy"))
	handled := &recorder[error]{}

	c, err := New(0, api.Options[int]{
		Config: persisted(store, nil, api.Config{
			Retry: api.RetryPolicy{MaxAttempts: 3, InitialBackoff: time.Millisecond},
		}),
		ErrorHandlers: []api.ErrorHandler{handled.add},
	})
	require.NoError(t, err)

	require.NoError(t, c.Set(9))
	require.Equal(t, 3, store.writes())
	require.Equal(t, "9", store.raw(testKey))
	require.Empty(t, handled.values())
}

func TestPersist_StopsOnNonRetryableError(t *testing.T) {
	readOnly := errors.New("read-only database")
	store := newCountingStorage()
	store.failWrites(-1, readOnly)
	handled := &recorder[error]{}

	c, err := New(0, api.Options[int]{
		Config: persisted(store, nil, api.Config{
			Retry: api.RetryPolicy{
				MaxAttempts: 5,
				Retryable:   func(err error) bool { return !errors.Is(err, readOnly) },
			},
		}),
		ErrorHandlers: []api.ErrorHandler{handled.add},
	})
	require.NoError(t, err)

	require.NoError(t, c.Set(4))
	require.Equal(t, 1, store.writes(), "a permanent failure is not retried")
	require.Equal(t, 4, c.Value())
	require.Len(t, handled.values(), 1)
	require.ErrorIs(t, handled.values()[0], readOnly)
}

func TestSync_AppliesExternalChangeWithoutWriting(t *testing.T) {
	store := newCountingStorage()
	feed := newManualFeed()
	metrics := &api.BasicMetrics{}
	c, err := New(0, api.Options[int]{
		Config: persisted(store, feed, api.Config{History: true, Observer: metrics}),
	})
	require.NoError(t, err)

	rec := &recorder[int]{}
	c.Subscribe(rec.add)
	rec.reset()

	feed.fire(api.Change{Key: testKey, Value: strPtr("7"), Origin: "other-tab"})
	feed.fire(api.Change{Key: "unrelated", Value: strPtr("99"), Origin: "other-tab"})

	require.Equal(t, 7, c.Value())
	require.Equal(t, 0, c.Previous())
	require.Equal(t, []int{7}, rec.values())
	require.Equal(t, []int{0, 7}, c.History())
	require.Equal(t, 0, store.writes(), "applying a remote change must not echo it back")
	require.Equal(t, int64(1), metrics.Snapshot().Syncs)
}

func TestSync_RemovalResetsWithoutWriting(t *testing.T) {
	store := newCountingStorage()
	feed := newManualFeed()
	def := 1
	c, err := New(0, api.Options[int]{
		Config:     persisted(store, feed, api.Config{History: true}),
		Default:    &def,
		Transforms: []api.Transform[int]{func(v int) (int, error) { return v * 10, nil }},
	})
	require.NoError(t, err)

	require.NoError(t, c.Set(5))
	writes := store.writes()

	feed.fire(api.Change{Key: testKey, Origin: "other-tab"})
	require.Equal(t, 10, c.Value())
	require.Equal(t, []int{10}, c.History())
	require.Equal(t, writes, store.writes())
}

func TestSync_CancelsPendingCommit(t *testing.T) {
	store := newCountingStorage()
	feed := newManualFeed()
	c, clk := newDebounced(t, 0, time.Second, persisted(store, feed, api.Config{}))

	require.NoError(t, c.Set(3))
	feed.fire(api.Change{Key: testKey, Value: strPtr("8"), Origin: "other-tab"})
	clk.Advance(time.Second)

	require.Equal(t, 8, c.Value())
	require.Equal(t, 0, store.writes())
}

func TestSync_HistoryBoundedOnBarePayload(t *testing.T) {
	store := newCountingStorage()
	feed := newManualFeed()
	c, err := New(0, api.Options[int]{Config: persisted(store, feed, api.Config{HistorySize: 3})})
	require.NoError(t, err)

	for i := 1; i <= 9; i++ {
		require.NoError(t, c.Set(i))
	}
	feed.fire(api.Change{Key: testKey, Value: strPtr("10"), Origin: "other-tab"})
	require.Equal(t, []int{8, 9, 10}, c.History())
}

func TestSync_EnvelopeReplacesHistoryAndClearsRedo(t *testing.T) {
	store := newCountingStorage()
	feed := newManualFeed()
	c, err := New(0, api.Options[int]{
		Config: persisted(store, feed, api.Config{HistorySize: 3, PersistHistory: true}),
	})
	require.NoError(t, err)

	require.NoError(t, c.Set(1))
	require.NoError(t, c.Set(2))
	require.True(t, c.Undo())
	require.True(t, c.CanRedo())

	feed.fire(api.Change{Key: testKey, Value: strPtr(`{"value":6,"history":[3,4,5,6]}`), Origin: "other-tab"})
	require.Equal(t, 6, c.Value())
	require.Equal(t, []int{4, 5, 6}, c.History())
	require.False(t, c.CanRedo())
}

func TestSync_UndecodableChangeIsDispatched(t *testing.T) {
	feed := newManualFeed()
	handled := &recorder[error]{}
	c, err := New(1, api.Options[int]{
		Config:        persisted(newCountingStorage(), feed, api.Config{}),
		ErrorHandlers: []api.ErrorHandler{handled.add},
	})
	require.NoError(t, err)

	feed.fire(api.Change{Key: testKey, Value: strPtr("oops"), Origin: "other-tab"})
	require.Equal(t, 1, c.Value())
	require.Len(t, handled.values(), 1)
	require.ErrorIs(t, handled.values()[0], api.ErrSync)
}

func TestSync_WatchFailureIsDispatched(t *testing.T) {
	feed := newManualFeed()
	feed.fail = errors.New("no listener")
	handled := &recorder[error]{}

	c, err := New(1, api.Options[int]{
		Config:        persisted(newCountingStorage(), feed, api.Config{}),
		ErrorHandlers: []api.ErrorHandler{handled.add},
	})
	require.NoError(t, err)

	// The failure is queued at construction and delivered with the next
	// drained callback.
	require.NoError(t, c.Set(2))
	require.Len(t, handled.values(), 1)
	require.Equal(t, api.KindSync, api.KindOf(handled.values()[0]))
}

func TestWatch_ReleasedWithLastSubscriberAndReacquired(t *testing.T) {
	store := newCountingStorage()
	feed := newManualFeed()
	c, clk := newDebounced(t, 0, time.Second, persisted(store, feed, api.Config{}))
	require.Equal(t, 1, feed.active())

	first := c.Subscribe(func(int) {})
	second := c.Subscribe(func(int) {})
	require.Equal(t, 1, feed.active(), "one watch per container")

	require.NoError(t, c.Set(4))
	first()
	_, pending := c.Pending()
	require.True(t, pending)

	second()
	require.Equal(t, 0, feed.active())
	_, pending = c.Pending()
	require.False(t, pending, "releasing the last subscriber cancels the pending commit")
	clk.Advance(time.Second)
	require.Equal(t, 0, c.Value())

	again := c.Subscribe(func(int) {})
	defer again()
	require.Equal(t, 1, feed.active())
	require.Equal(t, 2, feed.watches)
}

func TestSync_MemoryTabs(t *testing.T) {
	area := persistence.NewMemoryArea()
	tab1, tab2 := area.Tab(), area.Tab()

	a, err := New(0, api.Options[int]{Config: persisted(tab1, nil, api.Config{})})
	require.NoError(t, err)
	b, err := New(0, api.Options[int]{Config: persisted(tab2, nil, api.Config{})})
	require.NoError(t, err)
	defer a.Destroy()
	defer b.Destroy()

	rec := &recorder[int]{}
	b.Subscribe(rec.add)

	require.NoError(t, a.Set(11))
	require.Eventually(t, func() bool { return b.Value() == 11 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		got := rec.values()
		return len(got) == 2 && got[1] == 11
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, tab1.Delete(t.Context(), testKey))
	require.Eventually(t, func() bool { return b.Value() == 0 && len(rec.values()) == 3 }, time.Second, 5*time.Millisecond)
	require.Equal(t, 11, a.Value(), "a view never receives its own writes")
}

func TestMetrics_CountCommitsAndWrites(t *testing.T) {
	store := newCountingStorage()
	metrics := &api.BasicMetrics{}
	c, err := New(0, api.Options[int]{
		Config:     persisted(store, nil, api.Config{Observer: metrics}),
		Validators: []api.Validator[int]{api.Predicate[int](func(v int) bool { return v >= 0 })},
	})
	require.NoError(t, err)

	require.NoError(t, c.Set(1))
	require.NoError(t, c.Set(2))
	require.Error(t, c.Set(-1))

	snap := metrics.Snapshot()
	require.Equal(t, int64(2), snap.Commits)
	require.Equal(t, int64(2), snap.Writes)
	require.Equal(t, int64(1), snap.Errors)
}
