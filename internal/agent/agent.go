// Package agent implements a symbolic agent: perceive, reason, decide, plan and
// learn over a keyed knowledge store with heuristic scoring.
package agent

import (
	"encoding/binary"
	"hash/fnv"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/normanking/cortexmind/internal/fingerprint"
	"github.com/normanking/cortexmind/internal/logging"
)

// ═══════════════════════════════════════════════════════════════════════════════
// TYPES
// ═══════════════════════════════════════════════════════════════════════════════

// State is the agent's current activity.
type State string

const (
	StateIdle     State = "idle"
	StateThinking State = "thinking"
	StateLearning State = "learning"
	StateActing   State = "acting"
	StatePlanning State = "planning"
)

// Source marks where a knowledge item came from.
type Source string

const (
	SourceObserved Source = "observed"
	SourceDerived  Source = "derived"
)

// Item is one knowledge entry.
type Item struct {
	Key    string `json:"key" yaml:"key"`
	Value  string `json:"value" yaml:"value"`
	Source Source `json:"source" yaml:"source"`
}

// Goal is a prioritized objective. Higher priority comes first.
type Goal struct {
	Description string  `json:"description"`
	Priority    float64 `json:"priority"`
}

// Action is one entry in the bounded history.
type Action struct {
	ID      string    `json:"id"`
	Kind    string    `json:"kind"`
	Input   string    `json:"input"`
	Outcome string    `json:"outcome"`
	At      time.Time `json:"at"`
}

// Metrics counts agent activity.
type Metrics struct {
	Perceptions        int `json:"perceptions"`
	Reasonings         int `json:"reasonings"`
	Decisions          int `json:"decisions"`
	Plans              int `json:"plans"`
	LearningIterations int `json:"learning_iterations"`
	Successes          int `json:"successes"`
	Failures           int `json:"failures"`
}

// Limits and heuristic constants.
const (
	HistorySize          = 100
	MaxRetrieved         = 5
	PerceptionConfidence = 0.7
	RiskPerKeyword       = 0.25
	SimpleThreshold      = 10
	ComplexThreshold     = 100
	DefaultPrior         = 0.5
)

// DangerKeywords raise the risk of an option by RiskPerKeyword each.
var DangerKeywords = []string{"delete", "destroy", "drop", "kill", "force", "danger", "unsafe", "risk"}

// ═══════════════════════════════════════════════════════════════════════════════
// AGENT
// ═══════════════════════════════════════════════════════════════════════════════

// Agent owns its knowledge, goals, beliefs and history. Safe for concurrent use.
type Agent struct {
	mu sync.Mutex

	id        string
	state     State
	knowledge map[string]Item
	goals     []Goal
	beliefs   map[string]float64
	history   []Action
	metrics   Metrics
	lessons   int

	salt uint64
	now  func() time.Time
	log  zerolog.Logger
}

// Option configures New.
type Option func(*Agent)

// WithLogger sets the logger the agent reports through.
func WithLogger(l *logging.Logger) Option {
	return func(a *Agent) {
		if l != nil {
			a.log = l.WithComponent("agent").Zerolog()
		}
	}
}

// New creates an idle agent. The option-utility salt is drawn from the
// seeder's "agent.options" stream.
func New(seeder *fingerprint.Seeder, opts ...Option) *Agent {
	if seeder == nil {
		seeder = fingerprint.NewSeeder(nil)
	}
	a := &Agent{
		id:        uuid.NewString(),
		state:     StateIdle,
		knowledge: make(map[string]Item),
		beliefs:   make(map[string]float64),
		salt:      seeder.Stream("agent.options").Uint64(),
		now:       time.Now,
		log:       logging.Global().WithComponent("agent").Zerolog(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// ID returns the agent's identifier.
func (a *Agent) ID() string { return a.id }

// State returns the current activity.
func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Metrics returns a copy of the counters.
func (a *Agent) Metrics() Metrics {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.metrics
}

// Beliefs returns a copy of the belief map.
func (a *Agent) Beliefs() map[string]float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]float64, len(a.beliefs))
	for k, v := range a.beliefs {
		out[k] = v
	}
	return out
}

// History returns a copy of the action log, oldest first.
func (a *Agent) History() []Action {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Action(nil), a.history...)
}

// AddKnowledge stores an observed fact.
func (a *Agent) AddKnowledge(key, value string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.knowledge[key] = Item{Key: key, Value: value, Source: SourceObserved}
}

// Knowledge returns every item sorted by key.
func (a *Agent) Knowledge() []Item {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sortedKnowledge()
}

func (a *Agent) sortedKnowledge() []Item {
	items := make([]Item, 0, len(a.knowledge))
	for _, it := range a.knowledge {
		items = append(items, it)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Key < items[j].Key })
	return items
}

// RestoreKnowledge replaces the knowledge map.
func (a *Agent) RestoreKnowledge(items []Item) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.knowledge = make(map[string]Item, len(items))
	for _, it := range items {
		a.knowledge[it.Key] = it
	}
	a.lessons = 0
	for _, it := range items {
		if it.Source == SourceDerived {
			a.lessons++
		}
	}
}

// AddGoal inserts a goal, keeping the list sorted by descending priority.
// Equal priorities keep insertion order.
func (a *Agent) AddGoal(g Goal) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.goals = append(a.goals, g)
	sort.SliceStable(a.goals, func(i, j int) bool { return a.goals[i].Priority > a.goals[j].Priority })
}

// Goals returns the goals in priority order.
func (a *Agent) Goals() []Goal {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Goal(nil), a.goals...)
}

// Reset clears the action history and beliefs and returns to idle.
// Knowledge, goals and metrics survive.
func (a *Agent) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.history = nil
	a.beliefs = make(map[string]float64)
	a.state = StateIdle
}

func (a *Agent) record(kind, input, outcome string) {
	a.history = append(a.history, Action{
		ID:      uuid.NewString(),
		Kind:    kind,
		Input:   input,
		Outcome: outcome,
		At:      a.now(),
	})
	if len(a.history) > HistorySize {
		a.history = a.history[len(a.history)-HistorySize:]
	}
}

// utility maps an option to [0,1) by a salted stable hash mod 100.
func (a *Agent) utility(option string) float64 {
	h := fnv.New64a()
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], a.salt)
	h.Write(buf[:])
	h.Write([]byte(option))
	return float64(h.Sum64()%100) / 100
}

func sigmoid(v float64) float64 {
	return 1 / (1 + math.Exp(-v))
}

func words(s string) []string {
	return strings.Fields(strings.ToLower(s))
}
