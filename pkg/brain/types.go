package brain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ModuleID identifies a reasoning module.
type ModuleID string

const (
	// ModuleSpiking maps inputs to firing traces over a neuron population.
	ModuleSpiking ModuleID = "spiking"
	// ModuleAmplitude samples from a normalized complex amplitude register.
	ModuleAmplitude ModuleID = "amplitude"
	// ModuleLearner is the layered feed-forward function approximator.
	ModuleLearner ModuleID = "learner"
	// ModuleAgent is the symbolic perceive/reason/decide agent.
	ModuleAgent ModuleID = "agent"
)

// AllModules returns every reasoning module in canonical order.
func AllModules() []ModuleID {
	return []ModuleID{ModuleSpiking, ModuleAmplitude, ModuleLearner, ModuleAgent}
}

// String returns the string representation of the ModuleID.
func (m ModuleID) String() string {
	return string(m)
}

// Valid returns true if the ModuleID is a known module.
func (m ModuleID) Valid() bool {
	switch m {
	case ModuleSpiking, ModuleAmplitude, ModuleLearner, ModuleAgent:
		return true
	}
	return false
}

// DefaultConfidence is reported when a module has no basis to choose.
const DefaultConfidence = 0.5

// ═══════════════════════════════════════════════════════════════════════════════
// PAYLOAD
// ═══════════════════════════════════════════════════════════════════════════════

// PayloadKind tags the variant held by a Payload.
type PayloadKind int

const (
	PayloadText PayloadKind = iota
	PayloadVector
)

// Payload is the opaque input handed to modules: either text or a numeric vector.
type Payload struct {
	kind   PayloadKind
	text   string
	vector []float64
}

// Text creates a text payload.
func Text(s string) Payload {
	return Payload{kind: PayloadText, text: s}
}

// Vector creates a numeric payload. The slice is copied.
func Vector(v []float64) Payload {
	return Payload{kind: PayloadVector, vector: append([]float64(nil), v...)}
}

// Kind returns the payload variant.
func (p Payload) Kind() PayloadKind {
	return p.kind
}

// IsVector reports whether the payload is numeric.
func (p Payload) IsVector() bool {
	return p.kind == PayloadVector
}

// String returns the canonical string form. Vectors render as comma-joined numbers.
func (p Payload) String() string {
	if p.kind == PayloadText {
		return p.text
	}
	parts := make([]string, len(p.vector))
	for i, v := range p.vector {
		parts[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	return strings.Join(parts, ",")
}

// Bytes returns the bytes fingerprints are derived from.
func (p Payload) Bytes() []byte {
	return []byte(p.String())
}

// Len returns the length of the canonical string form.
func (p Payload) Len() int {
	return len(p.String())
}

// Numeric returns the payload as numbers. Text qualifies when every
// comma-separated field parses as a float.
func (p Payload) Numeric() ([]float64, bool) {
	if p.kind == PayloadVector {
		return append([]float64(nil), p.vector...), true
	}
	s := strings.TrimSpace(p.text)
	if s == "" {
		return nil, false
	}
	fields := strings.Split(s, ",")
	out := make([]float64, 0, len(fields))
	for _, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return nil, false
		}
		out = append(out, v)
	}
	return out, true
}

// Clone returns an independent copy.
func (p Payload) Clone() Payload {
	if p.kind == PayloadVector {
		return Vector(p.vector)
	}
	return p
}

// IsEmpty reports whether the payload carries nothing.
func (p Payload) IsEmpty() bool {
	if p.kind == PayloadVector {
		return len(p.vector) == 0
	}
	return p.text == ""
}

// ═══════════════════════════════════════════════════════════════════════════════
// RESULTS
// ═══════════════════════════════════════════════════════════════════════════════

// Output is the module-specific part of a ModuleResult. Its string form is
// what consensus compares.
type Output interface {
	fmt.Stringer
}

// TextOutput is a plain string output.
type TextOutput string

func (t TextOutput) String() string { return string(t) }

// ModuleResult is the envelope every module returns.
type ModuleResult struct {
	Module      ModuleID       `json:"module"`
	Output      Output         `json:"output"`
	Confidence  float64        `json:"confidence"`
	Explanation map[string]any `json:"explanation,omitempty"`
	Meta        ModuleMeta     `json:"meta"`
}

// ModuleMeta contains execution metadata.
type ModuleMeta struct {
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// NewResult creates a result with confidence clipped to [0,1].
func NewResult(module ModuleID, output Output, confidence float64) *ModuleResult {
	return &ModuleResult{
		Module:      module,
		Output:      output,
		Confidence:  Clamp01(confidence),
		Explanation: make(map[string]any),
	}
}

// Explain adds an explanation entry and returns the result for chaining.
func (r *ModuleResult) Explain(key string, value any) *ModuleResult {
	if r.Explanation == nil {
		r.Explanation = make(map[string]any)
	}
	r.Explanation[key] = value
	return r
}

// OutputString stringifies the output; nil outputs are empty.
func (r *ModuleResult) OutputString() string {
	if r == nil || r.Output == nil {
		return ""
	}
	return r.Output.String()
}

// DroppedModule records a module whose contribution was not fused.
type DroppedModule struct {
	Module ModuleID `json:"module"`
	Reason string   `json:"reason"`
}

// FusedResult is the engine-level answer for one process call.
type FusedResult struct {
	Task               string                     `json:"task"`
	SystemsUsed        []ModuleID                 `json:"systems_used"`
	Weights            map[ModuleID]float64       `json:"weights"`
	CombinedConfidence float64                    `json:"combined_confidence"`
	Consensus          bool                       `json:"consensus"`
	PrimaryModule      ModuleID                   `json:"primary_module"`
	PrimaryResult      *ModuleResult              `json:"primary_result"`
	AllResults         map[ModuleID]*ModuleResult `json:"all_results"`
	Dropped            []DroppedModule            `json:"dropped"`
}

// Clamp01 clips v into [0,1].
func Clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
