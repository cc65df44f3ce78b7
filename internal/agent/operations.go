package agent

import (
	"fmt"
	"hash/fnv"
	"math"
	"strings"
)

// ═══════════════════════════════════════════════════════════════════════════════
// PERCEIVE
// ═══════════════════════════════════════════════════════════════════════════════

// Feature names used as belief keys.
const (
	FeatureLength   = "length"
	FeatureHash     = "hash"
	FeatureCharMean = "char_mean"
)

// Perception is the descriptor extracted from one observation.
type Perception struct {
	Observation string             `json:"observation"`
	Features    map[string]float64 `json:"features"`
	Importance  float64            `json:"importance"`
	Beliefs     map[string]float64 `json:"beliefs"`
	Confidence  float64            `json:"confidence"`
}

// Perceive extracts length, a stable hash mod 100 and the mean character code
// of the first 10 bytes, then updates each feature belief with
// posterior = prior·L / (prior·L + (1-prior)·(1-L)), L = sigmoid(feature).
func (a *Agent) Perceive(obs string) *Perception {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state = StateThinking
	defer func() { a.state = StateIdle }()

	features := map[string]float64{
		FeatureLength:   float64(len(obs)),
		FeatureHash:     float64(stableHash(obs) % 100),
		FeatureCharMean: charMean(obs),
	}

	p := &Perception{
		Observation: obs,
		Features:    features,
		Importance:  math.Min(1, float64(len(obs))/100),
		Beliefs:     make(map[string]float64, len(features)),
		Confidence:  PerceptionConfidence,
	}
	for name, v := range features {
		prior, ok := a.beliefs[name]
		if !ok {
			prior = DefaultPrior
		}
		l := sigmoid(v)
		den := prior*l + (1-prior)*(1-l)
		post := prior
		if den > 0 {
			post = prior * l / den
		}
		a.beliefs[name] = post
		p.Beliefs[name] = post
	}

	a.metrics.Perceptions++
	a.record("perceive", obs, fmt.Sprintf("importance=%.2f", p.Importance))
	return p
}

func stableHash(s string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(s))
	return h.Sum32()
}

func charMean(s string) float64 {
	if len(s) > 10 {
		s = s[:10]
	}
	if s == "" {
		return 0
	}
	var sum float64
	for i := 0; i < len(s); i++ {
		sum += float64(s[i])
	}
	return sum / float64(len(s))
}

// ═══════════════════════════════════════════════════════════════════════════════
// REASON
// ═══════════════════════════════════════════════════════════════════════════════

// Complexity tags a problem by length.
type Complexity string

const (
	ComplexitySimple   Complexity = "simple"
	ComplexityModerate Complexity = "moderate"
	ComplexityComplex  Complexity = "complex"
)

// ComplexityOf classifies by length: under 10 simple, under 100 moderate.
func ComplexityOf(problem string) Complexity {
	switch n := len(problem); {
	case n < SimpleThreshold:
		return ComplexitySimple
	case n < ComplexThreshold:
		return ComplexityModerate
	default:
		return ComplexityComplex
	}
}

// Reasoning is the result of Reason.
type Reasoning struct {
	Problem    string     `json:"problem"`
	Complexity Complexity `json:"complexity"`
	Knowledge  []Item     `json:"knowledge"`
	Solution   string     `json:"solution"`
	Quality    float64    `json:"quality"`
	Confidence float64    `json:"confidence"`
}

// Reason retrieves up to 5 knowledge items whose value contains the problem,
// templates a solution by complexity, and scores quality as
// min(1, len(solution)/50) with confidence 0.5 + quality/2.
func (a *Agent) Reason(problem string) *Reasoning {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state = StateThinking
	defer func() { a.state = StateIdle }()

	r := &Reasoning{Problem: problem, Complexity: ComplexityOf(problem)}
	for _, it := range a.sortedKnowledge() {
		if len(r.Knowledge) == MaxRetrieved {
			break
		}
		if strings.Contains(it.Value, problem) {
			r.Knowledge = append(r.Knowledge, it)
		}
	}

	switch r.Complexity {
	case ComplexitySimple:
		r.Solution = fmt.Sprintf("direct answer for %q", problem)
	case ComplexityModerate:
		r.Solution = fmt.Sprintf("stepwise analysis using %d related facts", len(r.Knowledge))
	default:
		r.Solution = fmt.Sprintf("decompose into subproblems, solve each, combine; %d related facts", len(r.Knowledge))
	}
	r.Quality = math.Min(1, float64(len(r.Solution))/50)
	r.Confidence = 0.5 + r.Quality*0.5

	a.metrics.Reasonings++
	a.record("reason", problem, r.Solution)
	return r
}

// ═══════════════════════════════════════════════════════════════════════════════
// DECIDE
// ═══════════════════════════════════════════════════════════════════════════════

// OptionScore breaks down one option's score.
type OptionScore struct {
	Option    string  `json:"option"`
	Alignment float64 `json:"alignment"`
	Utility   float64 `json:"utility"`
	Risk      float64 `json:"risk"`
	Score     float64 `json:"score"`
}

// Decision is the result of Decide. Index is -1 when there were no options.
type Decision struct {
	Index      int           `json:"index"`
	Choice     string        `json:"choice"`
	Scores     []OptionScore `json:"scores"`
	Confidence float64       `json:"confidence"`
}

// Decide scores each option as the mean of goal alignment, utility and
// 1 - risk, and picks the highest (lowest index on ties).
func (a *Agent) Decide(options []string) *Decision {
	a.mu.Lock()
	defer a.mu.Unlock()

	d := &Decision{Index: -1}
	if len(options) == 0 {
		return d
	}
	a.state = StateActing
	defer func() { a.state = StateIdle }()

	var goal string
	if len(a.goals) > 0 {
		goal = a.goals[0].Description
	}

	for i, opt := range options {
		s := OptionScore{
			Option:    opt,
			Alignment: alignment(opt, goal),
			Utility:   a.utility(opt),
			Risk:      risk(opt),
		}
		s.Score = (s.Alignment + s.Utility + (1 - s.Risk)) / 3
		d.Scores = append(d.Scores, s)
		if d.Index < 0 || s.Score > d.Scores[d.Index].Score {
			d.Index = i
		}
	}
	d.Choice = options[d.Index]
	d.Confidence = d.Scores[d.Index].Score

	a.metrics.Decisions++
	a.record("decide", strings.Join(options, " | "), d.Choice)

	a.log.Debug().
		Str("choice", d.Choice).
		Float64("score", d.Confidence).
		Msg("agent: decided")
	return d
}

// alignment is the fraction of the option's words that appear in the goal.
func alignment(option, goal string) float64 {
	ow := words(option)
	if len(ow) == 0 || goal == "" {
		return 0
	}
	gw := make(map[string]bool)
	for _, w := range words(goal) {
		gw[w] = true
	}
	var common int
	for _, w := range ow {
		if gw[w] {
			common++
		}
	}
	return float64(common) / float64(len(ow))
}

// risk is RiskPerKeyword per danger keyword present, capped at 1.
func risk(option string) float64 {
	lower := strings.ToLower(option)
	var hits int
	for _, k := range DangerKeywords {
		if strings.Contains(lower, k) {
			hits++
		}
	}
	return math.Min(1, float64(hits)*RiskPerKeyword)
}

// ═══════════════════════════════════════════════════════════════════════════════
// PLAN
// ═══════════════════════════════════════════════════════════════════════════════

// Step is one ordered plan step.
type Step struct {
	Order       int     `json:"order"`
	Description string  `json:"description"`
	Priority    float64 `json:"priority"`
}

var phases = []string{"analyze", "prepare", "execute", "verify", "review"}

// Plan emits min(5, max(2, len(description)/20)) steps with decreasing priority.
func (a *Agent) Plan(goal Goal) []Step {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state = StatePlanning
	defer func() { a.state = StateIdle }()

	n := len(goal.Description) / 20
	if n < 2 {
		n = 2
	}
	if n > len(phases) {
		n = len(phases)
	}

	steps := make([]Step, n)
	for i := range steps {
		steps[i] = Step{
			Order:       i + 1,
			Description: fmt.Sprintf("%s: %s", phases[i], goal.Description),
			Priority:    goal.Priority * float64(n-i) / float64(n),
		}
	}

	a.metrics.Plans++
	a.record("plan", goal.Description, fmt.Sprintf("%d steps", n))
	return steps
}

// ═══════════════════════════════════════════════════════════════════════════════
// LEARN
// ═══════════════════════════════════════════════════════════════════════════════

// Experience is an observed input/outcome pair.
type Experience struct {
	Input   string `json:"input"`
	Outcome string `json:"outcome"`
	Success bool   `json:"success"`
}

// Learn stores a derived lesson under the next lesson-N key and updates the
// success counters. It returns the new item.
func (a *Agent) Learn(exp Experience) Item {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state = StateLearning
	defer func() { a.state = StateIdle }()

	a.lessons++
	key := fmt.Sprintf("lesson-%d", a.lessons)
	for a.knowledge[key].Key != "" {
		a.lessons++
		key = fmt.Sprintf("lesson-%d", a.lessons)
	}

	verb := "leads to"
	if !exp.Success {
		verb = "failed with"
	}
	item := Item{
		Key:    key,
		Value:  fmt.Sprintf("%s %s %s", exp.Input, verb, exp.Outcome),
		Source: SourceDerived,
	}
	a.knowledge[key] = item

	a.metrics.LearningIterations++
	if exp.Success {
		a.metrics.Successes++
	} else {
		a.metrics.Failures++
	}
	a.record("learn", exp.Input, item.Value)
	return item
}
