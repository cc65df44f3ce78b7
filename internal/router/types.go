// Package router maps task tags to ordered module candidates and adapts the
// ordering from observed fusion weights.
package router

import "github.com/normanking/cortexmind/pkg/brain"

// TaskType is the task tag supplied with every input.
type TaskType string

const (
	// TaskPatternRecognition is for finding structure in sequences and signals.
	TaskPatternRecognition TaskType = "pattern_recognition"
	// TaskOptimization is for minimizing or maximizing an objective.
	TaskOptimization TaskType = "optimization"
	// TaskDecisionMaking is for picking among alternatives.
	TaskDecisionMaking TaskType = "decision_making"
	// TaskLearning is for absorbing examples.
	TaskLearning TaskType = "learning"
	// TaskPrediction is for extrapolating from inputs.
	TaskPrediction TaskType = "prediction"
	// TaskSearch is for exploring a space of candidates.
	TaskSearch TaskType = "search"
	// TaskMemory is for recall-oriented inputs.
	TaskMemory TaskType = "memory"
	// TaskReasoning is for symbolic problem solving.
	TaskReasoning TaskType = "reasoning"
	// TaskGeneral is the catch-all tag.
	TaskGeneral TaskType = "general"

	// TaskSimulation is not a routable tag but counts as sampling-friendly
	// for QuantumUseful.
	TaskSimulation TaskType = "simulation"
)

// AllTaskTypes returns the closed set of routable task tags.
func AllTaskTypes() []TaskType {
	return []TaskType{
		TaskPatternRecognition,
		TaskOptimization,
		TaskDecisionMaking,
		TaskLearning,
		TaskPrediction,
		TaskSearch,
		TaskMemory,
		TaskReasoning,
		TaskGeneral,
	}
}

// String returns the string representation of a TaskType.
func (t TaskType) String() string {
	return string(t)
}

// IsValid checks if a TaskType is in the closed set.
func (t TaskType) IsValid() bool {
	for _, valid := range AllTaskTypes() {
		if t == valid {
			return true
		}
	}
	return false
}

// Complexity is the coarse size class of a payload.
type Complexity string

const (
	ComplexitySimple   Complexity = "simple"
	ComplexityModerate Complexity = "moderate"
	ComplexityComplex  Complexity = "complex"
)

// Payload-length thresholds for Complexity.
const (
	SimpleMaxLen   = 20
	ModerateMaxLen = 100
)

// ComplexityOf classifies a payload string length.
func ComplexityOf(length int) Complexity {
	switch {
	case length < SimpleMaxLen:
		return ComplexitySimple
	case length < ModerateMaxLen:
		return ComplexityModerate
	default:
		return ComplexityComplex
	}
}

// ComplexityScore maps a payload length onto [0,100].
func ComplexityScore(length int) float64 {
	if length > 100 {
		return 100
	}
	if length < 0 {
		return 0
	}
	return float64(length)
}

// TaskRecord describes one input as seen by the router.
type TaskRecord struct {
	Type       TaskType   `json:"type"`
	Complexity Complexity `json:"complexity"`
	Score      float64    `json:"score"`
}

// NewTaskRecord builds the record for a payload of the given string length.
func NewTaskRecord(task TaskType, length int) TaskRecord {
	return TaskRecord{
		Type:       task,
		Complexity: ComplexityOf(length),
		Score:      ComplexityScore(length),
	}
}

// Observation is the part of a history entry the router learns from.
type Observation struct {
	Task    TaskType
	Weights map[brain.ModuleID]float64
}
