package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/cortexmind/pkg/brain"
)

type staticReady map[brain.ModuleID]bool

func (s staticReady) ReadySet() map[brain.ModuleID]bool { return s }

func allReady() staticReady {
	return staticReady{
		brain.ModuleSpiking:   true,
		brain.ModuleAmplitude: true,
		brain.ModuleLearner:   true,
		brain.ModuleAgent:     true,
	}
}

func TestTaskType_IsValid(t *testing.T) {
	for _, tt := range AllTaskTypes() {
		assert.True(t, tt.IsValid(), "%s should be valid", tt)
	}
	assert.Len(t, AllTaskTypes(), 9)
	assert.False(t, TaskSimulation.IsValid())
	assert.False(t, TaskType("unknown").IsValid())
}

func TestComplexity(t *testing.T) {
	tests := []struct {
		length int
		want   Complexity
	}{
		{0, ComplexitySimple},
		{19, ComplexitySimple},
		{20, ComplexityModerate},
		{99, ComplexityModerate},
		{100, ComplexityComplex},
		{5000, ComplexityComplex},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ComplexityOf(tt.length), "length %d", tt.length)
	}

	assert.Equal(t, 13.0, ComplexityScore(13))
	assert.Equal(t, 100.0, ComplexityScore(1000))

	rec := NewTaskRecord(TaskSearch, 64)
	assert.Equal(t, ComplexityModerate, rec.Complexity)
	assert.Equal(t, 64.0, rec.Score)
}

func TestRouteDefaultTable(t *testing.T) {
	r := New(allReady())

	tests := []struct {
		task TaskType
		want []brain.ModuleID
	}{
		{TaskPatternRecognition, []brain.ModuleID{brain.ModuleLearner, brain.ModuleSpiking}},
		{TaskOptimization, []brain.ModuleID{brain.ModuleAmplitude, brain.ModuleAgent}},
		{TaskDecisionMaking, []brain.ModuleID{brain.ModuleAgent, brain.ModuleSpiking}},
		{TaskLearning, []brain.ModuleID{brain.ModuleLearner, brain.ModuleSpiking, brain.ModuleAgent}},
		{TaskPrediction, []brain.ModuleID{brain.ModuleLearner, brain.ModuleSpiking}},
		{TaskSearch, []brain.ModuleID{brain.ModuleAmplitude, brain.ModuleAgent}},
		{TaskMemory, []brain.ModuleID{brain.ModuleSpiking}},
		{TaskReasoning, []brain.ModuleID{brain.ModuleAgent, brain.ModuleSpiking}},
		{TaskGeneral, []brain.ModuleID{brain.ModuleSpiking, brain.ModuleLearner, brain.ModuleAgent}},
		{TaskType("unknown"), []brain.ModuleID{brain.ModuleSpiking, brain.ModuleLearner, brain.ModuleAgent}},
	}
	for _, tt := range tests {
		t.Run(tt.task.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, r.Route(tt.task))
		})
	}
	assert.Equal(t, 1, r.Stats().Routes[TaskSearch])
}

func TestRouteFiltersByReadiness(t *testing.T) {
	ready := allReady()
	ready[brain.ModuleLearner] = false
	r := New(ready)

	assert.Equal(t, []brain.ModuleID{brain.ModuleSpiking}, r.Route(TaskPrediction))

	none := staticReady{}
	r = New(none)
	assert.Equal(t, FallbackRoute(), r.Route(TaskOptimization))
}

func TestRouteReturnsCopy(t *testing.T) {
	r := New(nil)
	got := r.Route(TaskSearch)
	got[0] = brain.ModuleSpiking
	assert.Equal(t, brain.ModuleAmplitude, r.Route(TaskSearch)[0])
}

func TestQuantumUseful(t *testing.T) {
	r := New(nil)

	assert.True(t, r.QuantumUseful(TaskRecord{Type: TaskOptimization, Score: 51}))
	assert.True(t, r.QuantumUseful(TaskRecord{Type: TaskSimulation, Score: 80}))
	assert.False(t, r.QuantumUseful(TaskRecord{Type: TaskSearch, Score: 50}))
	assert.False(t, r.QuantumUseful(TaskRecord{Type: TaskReasoning, Score: 100}))
}

func TestOptimizeReordersByMeanWeight(t *testing.T) {
	r := New(allReady())

	history := make([]Observation, 0, 20)
	for i := 0; i < 20; i++ {
		history = append(history, Observation{
			Task:    TaskPrediction,
			Weights: map[brain.ModuleID]float64{brain.ModuleSpiking: 0.7, brain.ModuleLearner: 0.3},
		})
	}
	r.Optimize(history)

	assert.Equal(t, brain.ModuleSpiking, r.Route(TaskPrediction)[0])
	assert.Equal(t, []brain.ModuleID{brain.ModuleLearner, brain.ModuleSpiking}, r.Entry(TaskPatternRecognition), "other tags untouched")
	assert.Equal(t, 1, r.Stats().Optimizations)
}

func TestOptimizeUsesLastWindowOnly(t *testing.T) {
	r := New(nil)

	var history []Observation
	for i := 0; i < 150; i++ {
		w := map[brain.ModuleID]float64{brain.ModuleAgent: 0.9, brain.ModuleSpiking: 0.1}
		if i >= 50 {
			w = map[brain.ModuleID]float64{brain.ModuleAgent: 0.2, brain.ModuleSpiking: 0.8}
		}
		history = append(history, Observation{Task: TaskReasoning, Weights: w})
	}
	r.Optimize(history)

	assert.Equal(t, []brain.ModuleID{brain.ModuleSpiking, brain.ModuleAgent}, r.Entry(TaskReasoning))
}

func TestOptimizeTiesAndUnseen(t *testing.T) {
	r := New(nil)

	r.Optimize([]Observation{
		{Task: TaskLearning, Weights: map[brain.ModuleID]float64{brain.ModuleAgent: 0.5, brain.ModuleSpiking: 0.5}},
	})
	// learner was not observed and sinks; agent and spiking tie and keep order.
	assert.Equal(t, []brain.ModuleID{brain.ModuleSpiking, brain.ModuleAgent, brain.ModuleLearner}, r.Entry(TaskLearning))
}

func TestOptimizeIgnoresUnknownTagsAndEmptyHistory(t *testing.T) {
	r := New(nil)
	before := r.Table()

	r.Optimize(nil)
	assert.Equal(t, before, r.Table())

	r.Optimize([]Observation{{Task: TaskType("mystery"), Weights: map[brain.ModuleID]float64{brain.ModuleAgent: 1}}})
	r.Optimize([]Observation{{Task: TaskGeneral, Weights: map[brain.ModuleID]float64{brain.ModuleAgent: 1}}})
	after := r.Table()
	assert.Equal(t, before, after)
	_, ok := after[TaskType("mystery")]
	require.False(t, ok)
}
