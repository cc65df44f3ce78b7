package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/cortexmind/internal/router"
	"github.com/normanking/cortexmind/pkg/brain"
)

func TestHistoryEvictsOldest(t *testing.T) {
	h := NewHistory(3)
	for _, task := range []router.TaskType{router.TaskMemory, router.TaskSearch, router.TaskReasoning, router.TaskPrediction} {
		h.Append(Entry{Task: task})
	}

	entries := h.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, router.TaskSearch, entries[0].Task)
	assert.Equal(t, router.TaskPrediction, entries[2].Task)
	assert.Equal(t, 3, h.Cap())
}

func TestHistoryFillsIdentity(t *testing.T) {
	h := NewHistory(2)
	a := h.Append(Entry{Task: router.TaskMemory})
	b := h.Append(Entry{Task: router.TaskMemory})

	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID)
	assert.False(t, a.CreatedAt.IsZero())
}

func TestHistoryRecordCopiesFusedResult(t *testing.T) {
	h := NewHistory(10)
	fused := &brain.FusedResult{
		SystemsUsed:        []brain.ModuleID{brain.ModuleAgent, brain.ModuleSpiking},
		Weights:            map[brain.ModuleID]float64{brain.ModuleAgent: 0.75, brain.ModuleSpiking: 0.25},
		CombinedConfidence: 0.6,
		PrimaryModule:      brain.ModuleAgent,
		Dropped:            []brain.DroppedModule{{Module: brain.ModuleLearner, Reason: "deadline exceeded"}},
	}

	e := h.Record(router.TaskReasoning, fused)
	fused.Weights[brain.ModuleAgent] = 0

	assert.Equal(t, 0.75, e.Weights[brain.ModuleAgent])
	assert.Equal(t, []brain.ModuleID{brain.ModuleAgent, brain.ModuleSpiking}, e.Modules)
	assert.Equal(t, []brain.ModuleID{brain.ModuleLearner}, e.Dropped)
	assert.Equal(t, brain.ModuleAgent, e.Primary)
}

func TestHistoryObservationsAreSnapshots(t *testing.T) {
	h := NewHistory(10)
	h.Append(Entry{Task: router.TaskPrediction, Weights: map[brain.ModuleID]float64{brain.ModuleLearner: 1}})

	obs := h.Observations()
	require.Len(t, obs, 1)
	obs[0].Weights[brain.ModuleLearner] = 0

	assert.Equal(t, 1.0, h.Entries()[0].Weights[brain.ModuleLearner])
}

func TestHistoryReplaceKeepsNewest(t *testing.T) {
	h := NewHistory(2)
	h.Replace([]Entry{{ID: "a"}, {ID: "b"}, {ID: "c"}})

	entries := h.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "b", entries[0].ID)
	assert.Equal(t, "c", entries[1].ID)

	h.Clear()
	assert.Zero(t, h.Len())
	assert.Empty(t, h.Tail(5))
}

func TestRecordConversionRoundTrip(t *testing.T) {
	h := NewHistory(1)
	e := h.Append(Entry{
		Task:       router.TaskSearch,
		Modules:    []brain.ModuleID{brain.ModuleAmplitude},
		Weights:    map[brain.ModuleID]float64{brain.ModuleAmplitude: 1},
		Primary:    brain.ModuleAmplitude,
		Confidence: 0.4,
		Dropped:    []brain.ModuleID{brain.ModuleAgent},
	})

	assert.Equal(t, e, fromRecord(toRecord(e)))
}
