package router

import (
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/normanking/cortexmind/internal/logging"
	"github.com/normanking/cortexmind/pkg/brain"
)

const (
	// OptimizeWindow is how many recent observations Optimize considers.
	OptimizeWindow = 100
	// QuantumScoreThreshold is the complexity score above which sampling helps.
	QuantumScoreThreshold = 50
)

// ReadySource reports which modules may currently be routed to.
type ReadySource interface {
	ReadySet() map[brain.ModuleID]bool
}

// DefaultTable returns the initial routing table.
func DefaultTable() map[TaskType][]brain.ModuleID {
	return map[TaskType][]brain.ModuleID{
		TaskPatternRecognition: {brain.ModuleLearner, brain.ModuleSpiking},
		TaskOptimization:       {brain.ModuleAmplitude, brain.ModuleAgent},
		TaskDecisionMaking:     {brain.ModuleAgent, brain.ModuleSpiking},
		TaskLearning:           {brain.ModuleLearner, brain.ModuleSpiking, brain.ModuleAgent},
		TaskPrediction:         {brain.ModuleLearner, brain.ModuleSpiking},
		TaskSearch:             {brain.ModuleAmplitude, brain.ModuleAgent},
		TaskMemory:             {brain.ModuleSpiking},
		TaskReasoning:          {brain.ModuleAgent, brain.ModuleSpiking},
	}
}

// UnknownRoute is used for tags without a table entry.
func UnknownRoute() []brain.ModuleID {
	return []brain.ModuleID{brain.ModuleSpiking, brain.ModuleLearner, brain.ModuleAgent}
}

// FallbackRoute is used when no routed module is ready.
func FallbackRoute() []brain.ModuleID {
	return []brain.ModuleID{brain.ModuleSpiking}
}

var quantumTasks = map[TaskType]bool{
	TaskOptimization: true,
	TaskSearch:       true,
	TaskSimulation:   true,
}

// Router owns the routing table.
type Router struct {
	mu    sync.RWMutex
	table map[TaskType][]brain.ModuleID
	ready ReadySource
	log   zerolog.Logger

	// Statistics
	routes    map[TaskType]int
	optimized int
}

// Stats summarizes router activity.
type Stats struct {
	Routes        map[TaskType]int `json:"routes"`
	Optimizations int              `json:"optimizations"`
}

// Option configures New.
type Option func(*Router)

// WithLogger sets the logger routing decisions go to.
func WithLogger(l *logging.Logger) Option {
	return func(r *Router) {
		if l != nil {
			r.log = l.WithComponent("router").Zerolog()
		}
	}
}

// New creates a router with the default table. A nil ready source treats
// every module as ready.
func New(ready ReadySource, opts ...Option) *Router {
	r := &Router{
		table:  DefaultTable(),
		ready:  ready,
		routes: make(map[TaskType]int),
		log:    logging.Global().WithComponent("router").Zerolog(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Route returns the table entry for task filtered to ready modules, falling
// back to [spiking] when nothing is left.
func (r *Router) Route(task TaskType) []brain.ModuleID {
	r.mu.Lock()
	entry, ok := r.table[task]
	if !ok {
		entry = UnknownRoute()
	}
	entry = append([]brain.ModuleID(nil), entry...)
	r.routes[task]++
	r.mu.Unlock()

	if r.ready == nil {
		return entry
	}

	ready := r.ready.ReadySet()
	out := make([]brain.ModuleID, 0, len(entry))
	for _, id := range entry {
		if ready[id] {
			out = append(out, id)
		}
	}
	if len(out) == 0 {
		r.log.Debug().Str("task", task.String()).Msg("router: no ready module routed, using fallback")
		return FallbackRoute()
	}
	return out
}

// Entry returns the raw table entry for task, or the unknown-tag route.
func (r *Router) Entry(task TaskType) []brain.ModuleID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if entry, ok := r.table[task]; ok {
		return append([]brain.ModuleID(nil), entry...)
	}
	return UnknownRoute()
}

// QuantumUseful reports whether the amplitude sampler should join a call.
func (r *Router) QuantumUseful(task TaskRecord) bool {
	return quantumTasks[task.Type] && task.Score > QuantumScoreThreshold
}

// Optimize reorders each table entry by descending mean weight observed over
// the last OptimizeWindow observations. Modules never observed for a tag sort
// after observed ones; ties keep their previous order. Tags without a table
// entry are ignored.
func (r *Router) Optimize(history []Observation) {
	if len(history) > OptimizeWindow {
		history = history[len(history)-OptimizeWindow:]
	}

	sums := make(map[TaskType]map[brain.ModuleID]float64)
	counts := make(map[TaskType]map[brain.ModuleID]int)
	for _, obs := range history {
		if sums[obs.Task] == nil {
			sums[obs.Task] = make(map[brain.ModuleID]float64)
			counts[obs.Task] = make(map[brain.ModuleID]int)
		}
		for id, w := range obs.Weights {
			sums[obs.Task][id] += w
			counts[obs.Task][id]++
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for task, moduleSums := range sums {
		entry, ok := r.table[task]
		if !ok {
			continue
		}
		mean := make(map[brain.ModuleID]float64, len(moduleSums))
		for id, s := range moduleSums {
			mean[id] = s / float64(counts[task][id])
		}

		reordered := append([]brain.ModuleID(nil), entry...)
		sort.SliceStable(reordered, func(i, j int) bool {
			mi, iSeen := mean[reordered[i]]
			mj, jSeen := mean[reordered[j]]
			if iSeen != jSeen {
				return iSeen
			}
			return mi > mj
		})
		r.table[task] = reordered
	}
	r.optimized++

	r.log.Debug().Int("observations", len(history)).Msg("router: table optimized")
}

// Table returns a copy of the routing table.
func (r *Router) Table() map[TaskType][]brain.ModuleID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[TaskType][]brain.ModuleID, len(r.table))
	for task, entry := range r.table {
		out[task] = append([]brain.ModuleID(nil), entry...)
	}
	return out
}

// Stats returns a snapshot of router statistics.
func (r *Router) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	routes := make(map[TaskType]int, len(r.routes))
	for k, v := range r.routes {
		routes[k] = v
	}
	return Stats{Routes: routes, Optimizations: r.optimized}
}
