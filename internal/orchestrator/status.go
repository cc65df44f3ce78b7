package orchestrator

import (
	"time"

	"github.com/normanking/cortexmind/internal/agent"
	"github.com/normanking/cortexmind/internal/memory"
	"github.com/normanking/cortexmind/internal/metrics"
	"github.com/normanking/cortexmind/internal/router"
	"github.com/normanking/cortexmind/internal/spiking"
	"github.com/normanking/cortexmind/pkg/brain"
)

// ModuleStatus is the per-module part of Status.
type ModuleStatus struct {
	ID             brain.ModuleID `json:"id"`
	Ready          bool           `json:"ready"`
	Invocations    int            `json:"invocations"`
	Completed      int            `json:"completed"`
	Dropped        int            `json:"dropped"`
	MeanConfidence float64        `json:"mean_confidence"`
	MeanLatency    time.Duration  `json:"mean_latency"`
	LastDropReason string         `json:"last_drop_reason,omitempty"`

	// Module-specific counters; only the field for ID is set.
	Spiking   *spiking.Stats   `json:"spiking,omitempty"`
	Amplitude *AmplitudeStatus `json:"amplitude,omitempty"`
	Learner   *LearnerStatus   `json:"learner,omitempty"`
	Agent     *AgentStatus     `json:"agent,omitempty"`
}

// AmplitudeStatus describes the sampler.
type AmplitudeStatus struct {
	Qubits int `json:"qubits"`
	Calls  int `json:"calls"`
}

// LearnerStatus describes the feed-forward network.
type LearnerStatus struct {
	Architecture  []int  `json:"architecture"`
	Hidden        string `json:"hidden_activation"`
	EpochsTrained int    `json:"epochs_trained"`
}

// AgentStatus describes the symbolic agent.
type AgentStatus struct {
	ID        string        `json:"id"`
	State     agent.State   `json:"state"`
	Metrics   agent.Metrics `json:"metrics"`
	Knowledge int           `json:"knowledge_items"`
	Goals     int           `json:"goals"`
}

// Status is a snapshot of the engine.
type Status struct {
	Modules         []ModuleStatus                       `json:"modules"`
	HistorySize     int                                  `json:"history_size"`
	HistoryCapacity int                                  `json:"history_capacity"`
	RoutingTable    map[router.TaskType][]brain.ModuleID `json:"routing_table"`
	Memory          memory.Counts                        `json:"memory"`
	Router          router.Stats                         `json:"router"`
	Engine          metrics.EngineStats                  `json:"engine"`
	Seeded          bool                                 `json:"seeded"`
}

// Module returns the status of id, if present.
func (s *Status) Module(id brain.ModuleID) (ModuleStatus, bool) {
	for _, m := range s.Modules {
		if m.ID == id {
			return m, true
		}
	}
	return ModuleStatus{}, false
}

// Status reports every module in canonical order with its ready flag,
// invocation metrics and module-specific counters, plus history size and the
// routing table. Invocation metrics arrive over the bus and may trail the
// most recent call slightly.
func (e *Engine) Status() *Status {
	e.mu.RLock()
	defer e.mu.RUnlock()
	st := e.st

	s := &Status{
		HistorySize:     st.history.Len(),
		HistoryCapacity: st.history.Cap(),
		RoutingTable:    st.router.Table(),
		Memory:          st.memory.Counts(),
		Router:          st.router.Stats(),
		Engine:          e.metrics.Engine(),
		Seeded:          st.seeder.Seeded(),
	}

	for _, id := range brain.AllModules() {
		stats := e.metrics.Module(id.String())
		ms := ModuleStatus{
			ID:             id,
			Ready:          st.registry.IsReady(id),
			Invocations:    stats.Invocations,
			Completed:      stats.Completed,
			Dropped:        stats.Dropped,
			MeanConfidence: stats.MeanConfidence,
			MeanLatency:    stats.MeanLatency,
			LastDropReason: stats.LastDropReason,
		}
		switch id {
		case brain.ModuleSpiking:
			sp := st.spiking.Stats()
			ms.Spiking = &sp
		case brain.ModuleAmplitude:
			ms.Amplitude = &AmplitudeStatus{Qubits: st.sampler.Qubits(), Calls: st.sampler.Calls()}
		case brain.ModuleLearner:
			net := st.learner.network()
			ms.Learner = &LearnerStatus{
				Architecture:  net.Architecture(),
				Hidden:        string(net.Hidden()),
				EpochsTrained: net.EpochsTrained(),
			}
		case brain.ModuleAgent:
			ms.Agent = &AgentStatus{
				ID:        st.agent.ID(),
				State:     st.agent.State(),
				Metrics:   st.agent.Metrics(),
				Knowledge: len(st.agent.Knowledge()),
				Goals:     len(st.agent.Goals()),
			}
		}
		s.Modules = append(s.Modules, ms)
	}
	return s
}
