package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/cortexmind/internal/bus"
)

func complete(module string, conf float64, ms int64) bus.Event {
	e := bus.ModuleEvent(bus.EventModuleComplete, "r", module, "memory")
	e.Confidence = conf
	e.DurationMs = ms
	return e
}

func TestHandleAggregates(t *testing.T) {
	c := NewCollector(nil)

	c.Handle(bus.ModuleEvent(bus.EventModuleStart, "r", "spiking", "memory"))
	c.Handle(bus.ModuleEvent(bus.EventModuleStart, "r", "spiking", "memory"))
	c.Handle(bus.ModuleEvent(bus.EventModuleStart, "r", "spiking", "memory"))
	c.Handle(complete("spiking", 0.2, 10))
	c.Handle(complete("spiking", 0.6, 30))
	dropped := bus.ModuleEvent(bus.EventModuleDropped, "r", "spiking", "memory")
	dropped.Error = "deadline exceeded"
	c.Handle(dropped)

	m := c.Module("spiking")
	assert.Equal(t, 3, m.Invocations)
	assert.Equal(t, 2, m.Completed)
	assert.Equal(t, 1, m.Dropped)
	assert.InDelta(t, 0.4, m.MeanConfidence, 1e-12)
	assert.Equal(t, 20*time.Millisecond, m.MeanLatency)
	assert.Equal(t, "deadline exceeded", m.LastDropReason)

	assert.Equal(t, ModuleStats{Module: "agent"}, c.Module("agent"))
}

func TestEngineCounters(t *testing.T) {
	c := NewCollector(nil)
	for _, typ := range []bus.EventType{
		bus.EventFusionComplete, bus.EventFusionComplete,
		bus.EventEngineLearn, bus.EventEngineOptimize, bus.EventEngineReset,
	} {
		c.Handle(bus.NewEvent(typ))
	}

	e := c.Engine()
	assert.Equal(t, 2, e.Fusions)
	assert.Equal(t, 1, e.Learns)
	assert.Equal(t, 1, e.Optimizations)
	assert.Equal(t, 1, e.Resets)
	assert.Equal(t, string(bus.EventEngineReset), e.LastEvent)
}

func TestModulesSorted(t *testing.T) {
	c := NewCollector(nil)
	c.Handle(complete("spiking", 1, 1))
	c.Handle(complete("agent", 1, 1))
	c.Handle(complete("learner", 1, 1))

	var names []string
	for _, m := range c.Modules() {
		names = append(names, m.Module)
	}
	assert.Equal(t, []string{"agent", "learner", "spiking"}, names)
}

func TestCollectorListensOnBus(t *testing.T) {
	b := bus.New()
	defer b.Close()

	c := NewCollector(b)
	c.Start()
	c.Start()
	assert.Equal(t, 1, b.SubscriptionsCount())

	require.NoError(t, b.Publish(bus.ModuleEvent(bus.EventModuleStart, "r", "agent", "reasoning")))
	require.NoError(t, b.Publish(complete("agent", 0.9, 5)))

	assert.Eventually(t, func() bool {
		m := c.Module("agent")
		return m.Invocations == 1 && m.Completed == 1
	}, time.Second, 5*time.Millisecond)

	c.Stop()
	assert.Equal(t, 0, b.SubscriptionsCount())
}
