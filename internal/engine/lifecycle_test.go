package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/petrijr/statebox/pkg/api"
)

type destroyCounter struct {
	api.NoopObserver
	destroys int
}

func (d *destroyCounter) OnDestroy(ctx context.Context, containerID, key string) {
	d.destroys++
}

func TestDestroy_IsIdempotentAndDisablesMutators(t *testing.T) {
	store := newCountingStorage()
	feed := newManualFeed()
	obs := &destroyCounter{}
	cfg := persisted(store, feed, api.Config{History: true, Observer: obs})
	c, clk := newDebounced(t, 0, time.Second, cfg)

	rec := &recorder[int]{}
	c.Subscribe(rec.add)
	rec.reset()

	require.NoError(t, c.Set(1))
	require.NoError(t, c.Set(2))
	_, err := c.Flush()
	require.NoError(t, err)
	require.NoError(t, c.Set(3))

	c.Destroy()
	c.Destroy()
	c.Destroy()

	require.True(t, c.Destroyed())
	require.Equal(t, 1, obs.destroys)
	require.Equal(t, 0, feed.active())
	require.Equal(t, 0, c.SubscriberCount())
	require.Equal(t, 0, clk.Pending())
	require.False(t, c.CanUndo())
	require.False(t, c.CanRedo())

	writes := store.writes()
	require.NoError(t, c.Set(10))
	require.NoError(t, c.Update(func(v int) int { return v + 1 }))
	require.NoError(t, c.Reset())
	require.False(t, c.Undo())
	require.False(t, c.Redo())
	flushed, err := c.Flush()
	require.NoError(t, err)
	require.False(t, flushed)
	clk.Advance(time.Hour)

	require.Equal(t, 2, c.Value())
	require.Equal(t, writes, store.writes())
	require.Equal(t, []int{2}, rec.values())

	feed.fire(api.Change{Key: testKey, Value: strPtr("50"), Origin: "other-tab"})
	require.Equal(t, 2, c.Value())

	unsubscribe := c.Subscribe(rec.add)
	unsubscribe()
	require.Equal(t, []int{2}, rec.values(), "no delivery after destroy")
}

type panickingFeed struct{}

func (panickingFeed) Watch(ctx context.Context, key string, fn func(api.Change)) (func(), error) {
	return func() { panic("listener already gone") }, nil
}

func TestDestroy_ContinuesPastFailingStep(t *testing.T) {
	handled := &recorder[error]{}
	c, clk := newDebounced(t, 0, time.Second, persisted(newCountingStorage(), panickingFeed{}, api.Config{}))
	c.OnError(handled.add)

	require.NoError(t, c.Set(5))
	c.Destroy()

	require.True(t, c.Destroyed())
	require.Equal(t, 0, clk.Pending(), "later steps still ran")
	require.Len(t, handled.values(), 1)
	require.ErrorIs(t, handled.values()[0], api.ErrLifecycle)
	require.Contains(t, handled.values()[0].Error(), "listener already gone")

	c.Destroy()
	require.Len(t, handled.values(), 1)
}

func TestDestroy_FromSubscriber(t *testing.T) {
	c, err := New(0, api.Options[int]{})
	require.NoError(t, err)

	rec := &recorder[int]{}
	c.Subscribe(func(v int) {
		if v == 1 {
			c.Destroy()
		}
	})
	c.Subscribe(rec.add)
	rec.reset()

	require.NoError(t, c.Set(1))
	require.True(t, c.Destroyed())
	// The notification was already snapshotted when Destroy ran.
	require.Equal(t, []int{1}, rec.values())

	require.NoError(t, c.Set(2))
	require.Equal(t, 1, c.Value())
}
