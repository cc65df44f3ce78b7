package bus

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEvent(t *testing.T) {
	e := ModuleEvent(EventModuleStart, "req-1", "spiking", "memory")
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, EventModuleStart, e.Type)
	assert.Equal(t, "req-1", e.RequestID)
	assert.Equal(t, "spiking", e.Module)
	assert.Equal(t, "memory", e.Task)
	assert.False(t, e.Timestamp.IsZero())
	assert.NotEqual(t, e.ID, NewEvent(EventModuleStart).ID)
}

func TestSubscribeAndPublish(t *testing.T) {
	b := New()
	defer b.Close()

	got := make(chan Event, 1)
	id := b.Subscribe(func(e Event) { got <- e }, EventModuleComplete)
	require.NotEmpty(t, id)

	e := NewEvent(EventModuleComplete)
	e.Module = "agent"
	require.NoError(t, b.Publish(e))

	select {
	case r := <-got:
		assert.Equal(t, e.ID, r.ID)
		assert.Equal(t, "agent", r.Module)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestTypedSubscriberIgnoresOtherTypes(t *testing.T) {
	b := New()
	defer b.Close()

	var calls atomic.Int32
	b.Subscribe(func(Event) { calls.Add(1) }, EventModuleDropped)

	require.NoError(t, b.Publish(NewEvent(EventModuleStart)))
	require.NoError(t, b.Publish(NewEvent(EventModuleDropped)))

	assert.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Never(t, func() bool { return calls.Load() > 1 }, 50*time.Millisecond, 5*time.Millisecond)
}

func TestWildcardSubscription(t *testing.T) {
	b := New()
	defer b.Close()

	var calls atomic.Int32
	b.Subscribe(func(Event) { calls.Add(1) })

	b.Publish(NewEvent(EventModuleStart))
	b.Publish(NewEvent(EventFusionComplete))
	b.Publish(NewEvent(EventEngineOptimize))

	assert.Eventually(t, func() bool { return calls.Load() == 3 }, time.Second, 5*time.Millisecond)
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	defer b.Close()

	var calls atomic.Int32
	id := b.Subscribe(func(Event) { calls.Add(1) }, EventEngineLearn)

	b.Publish(NewEvent(EventEngineLearn))
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, b.Unsubscribe(id))
	assert.Error(t, b.Unsubscribe(id))
	assert.Equal(t, 0, b.SubscriptionsCount())

	b.Publish(NewEvent(EventEngineLearn))
	assert.Never(t, func() bool { return calls.Load() > 1 }, 50*time.Millisecond, 5*time.Millisecond)
}

func TestHistoryIsBounded(t *testing.T) {
	b := NewWithHistory(3)
	defer b.Close()

	var ids []string
	for i := 0; i < 5; i++ {
		e := NewEvent(EventModuleStart)
		ids = append(ids, e.ID)
		b.Publish(e)
	}

	h := b.History()
	require.Len(t, h, 3)
	assert.Equal(t, ids[2], h[0].ID)
	assert.Equal(t, ids[4], h[2].ID)

	recent := b.Recent(2)
	require.Len(t, recent, 2)
	assert.Equal(t, ids[3], recent[0].ID)
	assert.Len(t, b.Recent(10), 3)
}

func TestFullChannelDropsForSlowSubscriber(t *testing.T) {
	b := New()
	defer b.Close()

	release := make(chan struct{})
	var once sync.Once
	b.Subscribe(func(Event) { <-release }, EventModuleStart)
	defer once.Do(func() { close(release) })

	for i := 0; i < DefaultChannelBuffer+10; i++ {
		require.NoError(t, b.Publish(NewEvent(EventModuleStart)))
	}
	assert.Greater(t, b.Dropped(), uint64(0))
	once.Do(func() { close(release) })
}

func TestClose(t *testing.T) {
	b := New()
	b.Subscribe(func(Event) {}, EventModuleStart)

	require.NoError(t, b.Close())
	assert.Error(t, b.Close())
	assert.ErrorIs(t, b.Publish(NewEvent(EventModuleStart)), ErrClosed)
	assert.Empty(t, b.Subscribe(func(Event) {}, EventModuleStart))
}

func TestConcurrentPublish(t *testing.T) {
	b := New()
	defer b.Close()

	var calls atomic.Int32
	b.Subscribe(func(Event) { calls.Add(1) })

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				b.Publish(NewEvent(EventModuleComplete))
			}
		}()
	}
	wg.Wait()

	assert.Eventually(t, func() bool { return calls.Load() == 100 }, 2*time.Second, 5*time.Millisecond)
	assert.Len(t, b.History(), 100)
}

func TestMultiTypeSubscription(t *testing.T) {
	b := New()
	defer b.Close()

	var calls atomic.Int32
	b.Subscribe(func(Event) { calls.Add(1) }, EventEngineLearn, EventEngineReset)

	b.Publish(NewEvent(EventEngineLearn))
	b.Publish(NewEvent(EventModuleStart))
	b.Publish(NewEvent(EventEngineReset))

	assert.Eventually(t, func() bool { return calls.Load() == 2 }, time.Second, 5*time.Millisecond)
	assert.Never(t, func() bool { return calls.Load() > 2 }, 50*time.Millisecond, 5*time.Millisecond)
}

func TestCloseDrainsQueuedEvents(t *testing.T) {
	b := New()

	var calls atomic.Int32
	b.Subscribe(func(Event) {
		time.Sleep(time.Millisecond)
		calls.Add(1)
	})
	for i := 0; i < 10; i++ {
		require.NoError(t, b.Publish(NewEvent(EventModuleComplete)))
	}

	require.NoError(t, b.Close())
	assert.Equal(t, int32(10), calls.Load())
}
