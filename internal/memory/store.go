// Package memory implements the tiered memory store: a small working set, a
// FIFO short-term buffer, and a keyed long-term store with access-count
// eviction. Short-term items are queued for consolidation into long-term.
package memory

import (
	"fmt"
	"hash/fnv"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/normanking/cortexmind/internal/logging"
	"github.com/normanking/cortexmind/pkg/brain"
)

// Tier capacities.
const (
	WorkingCapacity   = 7
	ShortTermCapacity = 100
	// ShortTermRetained is how many short-term items survive consolidation.
	ShortTermRetained = 50
	// DefaultLongTermCapacity is used when the configured capacity is not positive.
	DefaultLongTermCapacity = 10000

	defaultImportance = 0.5
	longImportance    = 1.0
)

// Cell is one stored memory.
type Cell struct {
	Key         string    `json:"key,omitempty"`
	Content     string    `json:"content"`
	CreatedAt   time.Time `json:"created_at"`
	AccessCount int       `json:"access_count"`
	Importance  float64   `json:"importance"`

	seq uint64
}

// Counts reports tier sizes.
type Counts struct {
	Working   int `json:"working"`
	ShortTerm int `json:"short_term"`
	LongTerm  int `json:"long_term"`
	Pending   int `json:"pending"`
}

// Store is the tiered memory. All methods are safe for concurrent use.
type Store struct {
	mu       sync.Mutex
	capacity int
	working  []*Cell
	short    []*Cell
	long     map[string]*Cell
	queue    []*Cell
	seq      uint64
	now      func() time.Time
	log      zerolog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithLogger sets the logger evictions and consolidations go to.
func WithLogger(l *logging.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.log = l.WithComponent("memory").Zerolog()
		}
	}
}

// NewStore creates a store whose long-term tier holds at most capacity cells.
func NewStore(capacity int, opts ...Option) *Store {
	if capacity <= 0 {
		capacity = DefaultLongTermCapacity
	}
	s := &Store{
		capacity: capacity,
		long:     make(map[string]*Cell),
		now:      time.Now,
		log:      logging.Global().WithComponent("memory").Zerolog(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Capacity returns the long-term capacity.
func (s *Store) Capacity() int {
	return s.capacity
}

func (s *Store) newCell(content string, importance float64) *Cell {
	s.seq++
	return &Cell{
		Content:    content,
		CreatedAt:  s.now(),
		Importance: importance,
		seq:        s.seq,
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// TIER OPERATIONS
// ═══════════════════════════════════════════════════════════════════════════════

// AddWorking appends to working memory. Past capacity the oldest working
// item cascades into short-term.
func (s *Store) AddWorking(content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.working = append(s.working, s.newCell(content, defaultImportance))
	if len(s.working) > WorkingCapacity {
		oldest := s.working[0]
		s.working = s.working[1:]
		s.rememberShort(oldest)
	}
	return s.validate()
}

// RememberShort appends to short-term memory and queues the item for
// consolidation.
func (s *Store) RememberShort(content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rememberShort(s.newCell(content, defaultImportance))
	return s.validate()
}

func (s *Store) rememberShort(c *Cell) {
	s.short = append(s.short, c)
	if len(s.short) > ShortTermCapacity {
		s.short = s.short[1:]
	}
	s.queue = append(s.queue, c)
	if len(s.queue) > s.capacity {
		s.queue = s.queue[1:]
	}
}

// RememberLong stores content under key. When the tier is full the cell with
// the lowest access count is evicted first, oldest on ties. Rewriting an
// existing key replaces it in place.
func (s *Store) RememberLong(key, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rememberLong(key, s.newCell(content, longImportance))
	return s.validate()
}

func (s *Store) rememberLong(key string, c *Cell) {
	if _, exists := s.long[key]; !exists && len(s.long) >= s.capacity {
		s.evictOne()
	}
	c.Key = key
	c.AccessCount = 0
	c.Importance = longImportance
	s.long[key] = c
}

func (s *Store) evictOne() {
	var victim *Cell
	for _, c := range s.long {
		if victim == nil ||
			c.AccessCount < victim.AccessCount ||
			(c.AccessCount == victim.AccessCount && c.seq < victim.seq) {
			victim = c
		}
	}
	if victim != nil {
		delete(s.long, victim.Key)
		s.log.Debug().Str("key", victim.Key).Int("access_count", victim.AccessCount).Msg("memory: evicted long-term cell")
	}
}

// Recall returns the long-term cell for key and counts the access. A miss
// is reported by ok=false.
func (s *Store) Recall(key string) (Cell, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.long[key]
	if !ok {
		return Cell{}, false
	}
	c.AccessCount++
	return *c, true
}

// Search returns every cell in any tier whose content contains substr,
// ignoring case. Each hit counts as an access.
func (s *Store) Search(substr string) []Cell {
	s.mu.Lock()
	defer s.mu.Unlock()

	needle := strings.ToLower(substr)
	var hits []Cell
	visit := func(c *Cell) {
		if strings.Contains(strings.ToLower(c.Content), needle) {
			c.AccessCount++
			hits = append(hits, *c)
		}
	}

	for _, c := range s.working {
		visit(c)
	}
	for _, c := range s.short {
		visit(c)
	}
	for _, key := range s.sortedKeys() {
		visit(s.long[key])
	}
	return hits
}

// Consolidate drains the consolidation queue into long-term memory under
// synthetic mem-<timestamp>-<hash> keys and trims short-term to its most
// recent ShortTermRetained items. It returns the number of cells moved.
func (s *Store) Consolidate() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	moved := 0
	for _, c := range s.queue {
		key := s.syntheticKey(c.Content)
		s.rememberLong(key, &Cell{
			Content:   c.Content,
			CreatedAt: c.CreatedAt,
			seq:       c.seq,
		})
		moved++
	}
	s.queue = nil

	if len(s.short) > ShortTermRetained {
		s.short = append([]*Cell(nil), s.short[len(s.short)-ShortTermRetained:]...)
	}

	s.log.Debug().Int("moved", moved).Int("long_term", len(s.long)).Msg("memory: consolidated")
	return moved, s.validate()
}

func (s *Store) syntheticKey(content string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(content))
	ts := s.now().UnixNano()
	key := fmt.Sprintf("mem-%d-%08x", ts, h.Sum32())
	for {
		if _, taken := s.long[key]; !taken {
			return key
		}
		ts++
		key = fmt.Sprintf("mem-%d-%08x", ts, h.Sum32())
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// INSPECTION
// ═══════════════════════════════════════════════════════════════════════════════

// Counts returns the current tier sizes.
func (s *Store) Counts() Counts {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Counts{
		Working:   len(s.working),
		ShortTerm: len(s.short),
		LongTerm:  len(s.long),
		Pending:   len(s.queue),
	}
}

// Working returns the working-memory contents, oldest first.
func (s *Store) Working() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.working))
	for i, c := range s.working {
		out[i] = c.Content
	}
	return out
}

// Validate checks the tier capacity invariants.
func (s *Store) Validate() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.validate()
}

func (s *Store) validate() error {
	switch {
	case len(s.working) > WorkingCapacity:
		return fmt.Errorf("%w: working memory holds %d > %d", brain.ErrInvariantBreach, len(s.working), WorkingCapacity)
	case len(s.short) > ShortTermCapacity:
		return fmt.Errorf("%w: short-term memory holds %d > %d", brain.ErrInvariantBreach, len(s.short), ShortTermCapacity)
	case len(s.long) > s.capacity:
		return fmt.Errorf("%w: long-term memory holds %d > %d", brain.ErrInvariantBreach, len(s.long), s.capacity)
	}
	return nil
}

// Inventory returns the long-term cells ordered by key.
func (s *Store) Inventory() []Cell {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Cell, 0, len(s.long))
	for _, key := range s.sortedKeys() {
		c := *s.long[key]
		c.seq = 0
		out = append(out, c)
	}
	return out
}

// Restore replaces the long-term tier with cells. Cells beyond capacity are
// rejected rather than evicted.
func (s *Store) Restore(cells []Cell) error {
	if len(cells) > s.capacity {
		return fmt.Errorf("%w: %d long-term cells exceed capacity %d", brain.ErrInvalidInput, len(cells), s.capacity)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ordered := append([]Cell(nil), cells...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].CreatedAt.Before(ordered[j].CreatedAt)
	})

	s.long = make(map[string]*Cell, len(ordered))
	for _, c := range ordered {
		s.seq++
		cp := c
		cp.seq = s.seq
		s.long[cp.Key] = &cp
	}
	return s.validate()
}

func (s *Store) sortedKeys() []string {
	keys := make([]string, 0, len(s.long))
	for k := range s.long {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
