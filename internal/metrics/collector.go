// Package metrics aggregates per-module statistics from bus events.
package metrics

import (
	"sort"
	"sync"
	"time"

	"github.com/normanking/cortexmind/internal/bus"
)

// ModuleStats summarizes one module's invocations.
type ModuleStats struct {
	Module         string        `json:"module"`
	Invocations    int           `json:"invocations"`
	Completed      int           `json:"completed"`
	Dropped        int           `json:"dropped"`
	MeanConfidence float64       `json:"mean_confidence"`
	MeanLatency    time.Duration `json:"mean_latency"`
	LastDropReason string        `json:"last_drop_reason,omitempty"`

	totalConfidence float64
	totalLatency    time.Duration
}

// EngineStats counts engine-level events.
type EngineStats struct {
	StartTime     time.Time `json:"start_time"`
	Fusions       int       `json:"fusions"`
	Learns        int       `json:"learns"`
	Optimizations int       `json:"optimizations"`
	Resets        int       `json:"resets"`
	LastEvent     string    `json:"last_event"`
	LastEventTime time.Time `json:"last_event_time"`
}

// Collector subscribes to the bus and aggregates metrics.
type Collector struct {
	bus     *bus.Bus
	modules map[string]*ModuleStats
	engine  EngineStats
	mu      sync.RWMutex
	sub     bus.SubscriptionID
	stopped bool
}

// NewCollector creates a collector for b. Call Start to begin listening.
func NewCollector(b *bus.Bus) *Collector {
	return &Collector{
		bus:     b,
		modules: make(map[string]*ModuleStats),
		engine:  EngineStats{StartTime: time.Now()},
	}
}

// Start subscribes to every event type the collector understands.
// Calling it again is a no-op.
func (c *Collector) Start() {
	if c.bus == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped || c.sub != "" {
		return
	}
	c.sub = c.bus.Subscribe(c.Handle,
		bus.EventModuleStart,
		bus.EventModuleComplete,
		bus.EventModuleDropped,
		bus.EventFusionComplete,
		bus.EventEngineLearn,
		bus.EventEngineOptimize,
		bus.EventEngineReset,
	)
}

// Stop unsubscribes from the bus.
func (c *Collector) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return
	}
	c.stopped = true
	if c.sub != "" {
		_ = c.bus.Unsubscribe(c.sub)
		c.sub = ""
	}
}

// Handle folds one event into the aggregates.
func (c *Collector) Handle(e bus.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.engine.LastEvent = string(e.Type)
	c.engine.LastEventTime = e.Timestamp

	switch e.Type {
	case bus.EventModuleStart:
		c.module(e.Module).Invocations++
	case bus.EventModuleComplete:
		m := c.module(e.Module)
		m.Completed++
		m.totalConfidence += e.Confidence
		m.totalLatency += time.Duration(e.DurationMs) * time.Millisecond
		m.MeanConfidence = m.totalConfidence / float64(m.Completed)
		m.MeanLatency = m.totalLatency / time.Duration(m.Completed)
	case bus.EventModuleDropped:
		m := c.module(e.Module)
		m.Dropped++
		m.LastDropReason = e.Error
	case bus.EventFusionComplete:
		c.engine.Fusions++
	case bus.EventEngineLearn:
		c.engine.Learns++
	case bus.EventEngineOptimize:
		c.engine.Optimizations++
	case bus.EventEngineReset:
		c.engine.Resets++
	}
}

func (c *Collector) module(name string) *ModuleStats {
	m, ok := c.modules[name]
	if !ok {
		m = &ModuleStats{Module: name}
		c.modules[name] = m
	}
	return m
}

// Module returns a copy of one module's stats.
func (c *Collector) Module(name string) ModuleStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if m, ok := c.modules[name]; ok {
		return *m
	}
	return ModuleStats{Module: name}
}

// Modules returns copies of every module's stats sorted by name.
func (c *Collector) Modules() []ModuleStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]ModuleStats, 0, len(c.modules))
	for _, m := range c.modules {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Module < out[j].Module })
	return out
}

// Engine returns a copy of the engine counters.
func (c *Collector) Engine() EngineStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.engine
}
