package orchestrator

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/normanking/cortexmind/internal/data"
	"github.com/normanking/cortexmind/internal/router"
	"github.com/normanking/cortexmind/pkg/brain"
)

// PersistedHistory is how many of the newest entries a state bundle keeps.
const PersistedHistory = 100

// Entry is one history record: the task, the modules whose results were
// fused and the weights actually used.
type Entry struct {
	ID         string
	Task       router.TaskType
	Modules    []brain.ModuleID
	Weights    map[brain.ModuleID]float64
	Primary    brain.ModuleID
	Confidence float64
	Consensus  bool
	Dropped    []brain.ModuleID
	CreatedAt  time.Time
}

// History is a bounded ring of entries. The oldest entry is evicted when full.
type History struct {
	mu      sync.RWMutex
	entries []Entry
	size    int
}

// NewHistory creates a ring holding at most size entries.
func NewHistory(size int) *History {
	if size <= 0 {
		size = 1
	}
	return &History{entries: make([]Entry, 0, min(size, 1024)), size: size}
}

// Record appends the outcome of one Process call and returns the new entry.
// A nil result (nothing fused) is recorded with no modules.
func (h *History) Record(task router.TaskType, fused *brain.FusedResult) Entry {
	e := Entry{
		Task:    task,
		Modules: []brain.ModuleID{},
		Weights: make(map[brain.ModuleID]float64),
	}
	if fused != nil {
		e.Modules = append(e.Modules, fused.SystemsUsed...)
		for id, w := range fused.Weights {
			e.Weights[id] = w
		}
		e.Primary = fused.PrimaryModule
		e.Confidence = fused.CombinedConfidence
		e.Consensus = fused.Consensus
		for _, d := range fused.Dropped {
			e.Dropped = append(e.Dropped, d.Module)
		}
	}
	return h.Append(e)
}

// Append adds e, evicting the oldest entry when the ring is full. Missing IDs
// and timestamps are filled in.
func (h *History) Append(e Entry) Entry {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, e)
	if len(h.entries) > h.size {
		h.entries = h.entries[len(h.entries)-h.size:]
	}
	return e
}

// Len returns the number of entries held.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.entries)
}

// Cap returns the ring capacity.
func (h *History) Cap() int { return h.size }

// Entries returns a copy of all entries, oldest first.
func (h *History) Entries() []Entry {
	return h.Tail(h.size)
}

// Tail returns a copy of the newest n entries, oldest first.
func (h *History) Tail(n int) []Entry {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if n > len(h.entries) {
		n = len(h.entries)
	}
	if n < 0 {
		n = 0
	}
	return append([]Entry(nil), h.entries[len(h.entries)-n:]...)
}

// Observations returns a consistent snapshot of the ring in the form the
// router learns from.
func (h *History) Observations() []router.Observation {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]router.Observation, len(h.entries))
	for i, e := range h.entries {
		w := make(map[brain.ModuleID]float64, len(e.Weights))
		for id, v := range e.Weights {
			w[id] = v
		}
		out[i] = router.Observation{Task: e.Task, Weights: w}
	}
	return out
}

// Clear drops every entry.
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = h.entries[:0]
}

// Replace swaps the ring contents for entries, keeping the newest that fit.
func (h *History) Replace(entries []Entry) {
	if len(entries) > h.size {
		entries = entries[len(entries)-h.size:]
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries[:0:0], entries...)
}

// ═══════════════════════════════════════════════════════════════════════════════
// PERSISTED FORM
// ═══════════════════════════════════════════════════════════════════════════════

func toRecord(e Entry) data.HistoryRecord {
	r := data.HistoryRecord{
		ID:         e.ID,
		Task:       e.Task.String(),
		Modules:    make([]string, len(e.Modules)),
		Weights:    make(map[string]float64, len(e.Weights)),
		Primary:    e.Primary.String(),
		Confidence: e.Confidence,
		Consensus:  e.Consensus,
		Dropped:    make([]string, len(e.Dropped)),
		CreatedAt:  e.CreatedAt,
	}
	for i, id := range e.Modules {
		r.Modules[i] = id.String()
	}
	for id, w := range e.Weights {
		r.Weights[id.String()] = w
	}
	for i, id := range e.Dropped {
		r.Dropped[i] = id.String()
	}
	return r
}

func fromRecord(r data.HistoryRecord) Entry {
	e := Entry{
		ID:         r.ID,
		Task:       router.TaskType(r.Task),
		Modules:    make([]brain.ModuleID, len(r.Modules)),
		Weights:    make(map[brain.ModuleID]float64, len(r.Weights)),
		Primary:    brain.ModuleID(r.Primary),
		Confidence: r.Confidence,
		Consensus:  r.Consensus,
		CreatedAt:  r.CreatedAt,
	}
	for i, m := range r.Modules {
		e.Modules[i] = brain.ModuleID(m)
	}
	for m, w := range r.Weights {
		e.Weights[brain.ModuleID(m)] = w
	}
	for _, m := range r.Dropped {
		e.Dropped = append(e.Dropped, brain.ModuleID(m))
	}
	return e
}
