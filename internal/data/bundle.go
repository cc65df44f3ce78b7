package data

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/normanking/cortexmind/internal/agent"
	"github.com/normanking/cortexmind/internal/config"
	"github.com/normanking/cortexmind/internal/learner"
	"github.com/normanking/cortexmind/internal/memory"
)

// FormatVersion is written into every bundle.
const FormatVersion = 1

// ErrNotBundle is returned when a file is a database but not a state bundle.
var ErrNotBundle = errors.New("not a state bundle")

// HistoryRecord is one persisted history entry.
type HistoryRecord struct {
	ID         string             `json:"id"`
	Task       string             `json:"task"`
	Modules    []string           `json:"modules"`
	Weights    map[string]float64 `json:"weights"`
	Primary    string             `json:"primary"`
	Confidence float64            `json:"combined_confidence"`
	Consensus  bool               `json:"consensus"`
	Dropped    []string           `json:"dropped"`
	CreatedAt  time.Time          `json:"created_at"`
}

// Digest summarizes the state at save time.
type Digest struct {
	Memory         memory.Counts `json:"memory"`
	KnowledgeItems int           `json:"knowledge_items"`
	HistoryEntries int           `json:"history_entries"`
}

// Bundle is a complete persisted snapshot.
type Bundle struct {
	Version   int
	SavedAt   time.Time
	Config    *config.Config
	Digest    Digest
	History   []HistoryRecord
	Memory    []memory.Cell
	Knowledge []agent.Item
	Learner   *learner.Params
}

// ═══════════════════════════════════════════════════════════════════════════════
// FILE-LEVEL API
// ═══════════════════════════════════════════════════════════════════════════════

// Save writes b to path. The bundle is built in a sibling temp file and
// renamed over path, so a failed save leaves any previous bundle intact.
func Save(ctx context.Context, path string, b *Bundle) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create bundle directory: %w", err)
	}
	tmp := filepath.Join(dir, "."+filepath.Base(path)+"."+uuid.NewString()+".tmp")
	defer os.Remove(tmp)

	s, err := Open(tmp)
	if err != nil {
		return err
	}
	if err := s.Write(ctx, b); err != nil {
		s.Close()
		return err
	}
	if err := s.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace bundle: %w", err)
	}
	return nil
}

// Load reads the bundle at path without modifying it. A missing file is an
// error.
func Load(ctx context.Context, path string) (*Bundle, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("stat bundle: %w", err)
	}
	s, err := OpenReadOnly(path)
	if err != nil {
		return nil, err
	}
	defer s.Close()
	return s.Read(ctx)
}

// ═══════════════════════════════════════════════════════════════════════════════
// WRITE
// ═══════════════════════════════════════════════════════════════════════════════

// Write replaces the store's contents with b.
func (s *Store) Write(ctx context.Context, b *Bundle) error {
	if b == nil || b.Config == nil {
		return fmt.Errorf("write bundle: missing configuration")
	}
	cfgYAML, err := b.Config.Marshal()
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	digest, err := json.Marshal(b.Digest)
	if err != nil {
		return fmt.Errorf("marshal digest: %w", err)
	}
	savedAt := b.SavedAt
	if savedAt.IsZero() {
		savedAt = time.Now()
	}

	return s.WithTx(ctx, func(tx *sql.Tx) error {
		for _, table := range []string{"learner_tensors", "learner_layers", "knowledge", "memory_cells", "history", "bundle_meta"} {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return fmt.Errorf("clear %s: %w", table, err)
			}
		}

		meta := map[string]string{
			"format_version": strconv.Itoa(FormatVersion),
			"saved_at":       savedAt.UTC().Format(time.RFC3339Nano),
			"config":         string(cfgYAML),
			"digest":         string(digest),
		}
		if b.Learner != nil {
			arch, err := json.Marshal(b.Learner.Architecture)
			if err != nil {
				return fmt.Errorf("marshal architecture: %w", err)
			}
			meta["learner.architecture"] = string(arch)
			meta["learner.hidden_activation"] = string(b.Learner.Hidden)
			meta["learner.epochs_trained"] = strconv.Itoa(b.Learner.EpochsTrained)
		}
		for k, v := range meta {
			if _, err := tx.ExecContext(ctx, `INSERT INTO bundle_meta (key, value) VALUES (?, ?)`, k, v); err != nil {
				return fmt.Errorf("insert meta %s: %w", k, err)
			}
		}

		if err := writeHistory(ctx, tx, b.History); err != nil {
			return err
		}
		for _, c := range b.Memory {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO memory_cells (key, content, created_at, access_count, importance) VALUES (?, ?, ?, ?, ?)`,
				c.Key, c.Content, c.CreatedAt.UTC().Format(time.RFC3339Nano), c.AccessCount, c.Importance,
			); err != nil {
				return fmt.Errorf("insert memory cell %s: %w", c.Key, err)
			}
		}
		for _, it := range b.Knowledge {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO knowledge (key, value, source) VALUES (?, ?, ?)`,
				it.Key, it.Value, string(it.Source),
			); err != nil {
				return fmt.Errorf("insert knowledge %s: %w", it.Key, err)
			}
		}
		if b.Learner != nil {
			return writeLearner(ctx, tx, b.Learner)
		}
		return nil
	})
}

func writeHistory(ctx context.Context, tx *sql.Tx, records []HistoryRecord) error {
	for i, h := range records {
		modules, err := json.Marshal(h.Modules)
		if err != nil {
			return fmt.Errorf("marshal history modules: %w", err)
		}
		weights, err := json.Marshal(h.Weights)
		if err != nil {
			return fmt.Errorf("marshal history weights: %w", err)
		}
		dropped, err := json.Marshal(h.Dropped)
		if err != nil {
			return fmt.Errorf("marshal history drops: %w", err)
		}
		consensus := 0
		if h.Consensus {
			consensus = 1
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO history (seq, id, task, modules, weights, primary_module, combined_confidence, consensus, dropped, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			i, h.ID, h.Task, string(modules), string(weights), h.Primary, h.Confidence, consensus, string(dropped),
			h.CreatedAt.UTC().Format(time.RFC3339Nano),
		); err != nil {
			return fmt.Errorf("insert history %s: %w", h.ID, err)
		}
	}
	return nil
}

func writeLearner(ctx context.Context, tx *sql.Tx, p *learner.Params) error {
	for i, l := range p.Layers {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO learner_layers (position, kind, activation, rate, fan_in, fan_out) VALUES (?, ?, ?, ?, ?, ?)`,
			i, string(l.Kind), string(l.Activation), l.Rate, l.In, l.Out,
		); err != nil {
			return fmt.Errorf("insert learner layer %d: %w", i, err)
		}
	}
	for _, t := range p.Tensors {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO learner_tensors (layer, name, size, data) VALUES (?, ?, ?, ?)`,
			t.Layer, t.Name, len(t.Data), encodeFloats(t.Data),
		); err != nil {
			return fmt.Errorf("insert tensor %d/%s: %w", t.Layer, t.Name, err)
		}
	}
	return nil
}

// ═══════════════════════════════════════════════════════════════════════════════
// READ
// ═══════════════════════════════════════════════════════════════════════════════

// Read loads the bundle stored in the database.
func (s *Store) Read(ctx context.Context) (*Bundle, error) {
	meta, err := s.readMeta(ctx)
	if err != nil {
		return nil, err
	}
	version, err := strconv.Atoi(meta["format_version"])
	if err != nil {
		return nil, ErrNotBundle
	}
	if version > FormatVersion {
		return nil, fmt.Errorf("bundle format %d is newer than supported %d", version, FormatVersion)
	}

	b := &Bundle{Version: version}
	if b.SavedAt, err = time.Parse(time.RFC3339Nano, meta["saved_at"]); err != nil {
		return nil, fmt.Errorf("parse saved_at: %w", err)
	}
	if b.Config, err = config.Unmarshal([]byte(meta["config"])); err != nil {
		return nil, fmt.Errorf("parse config snapshot: %w", err)
	}
	if err := json.Unmarshal([]byte(meta["digest"]), &b.Digest); err != nil {
		return nil, fmt.Errorf("parse digest: %w", err)
	}
	if b.History, err = s.readHistory(ctx); err != nil {
		return nil, err
	}
	if b.Memory, err = s.readMemory(ctx); err != nil {
		return nil, err
	}
	if b.Knowledge, err = s.readKnowledge(ctx); err != nil {
		return nil, err
	}
	if _, ok := meta["learner.architecture"]; ok {
		if b.Learner, err = s.readLearner(ctx, meta); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func (s *Store) readMeta(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM bundle_meta`)
	if err != nil {
		return nil, fmt.Errorf("query meta: %w", err)
	}
	defer rows.Close()

	meta := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scan meta: %w", err)
		}
		meta[k] = v
	}
	return meta, rows.Err()
}

func (s *Store) readHistory(ctx context.Context) ([]HistoryRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, task, modules, weights, primary_module, combined_confidence, consensus, dropped, created_at
		 FROM history ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []HistoryRecord
	for rows.Next() {
		var (
			h                         HistoryRecord
			modules, weights, dropped string
			consensus                 int
			created                   string
		)
		if err := rows.Scan(&h.ID, &h.Task, &modules, &weights, &h.Primary, &h.Confidence, &consensus, &dropped, &created); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		if err := json.Unmarshal([]byte(modules), &h.Modules); err != nil {
			return nil, fmt.Errorf("parse history modules: %w", err)
		}
		if err := json.Unmarshal([]byte(weights), &h.Weights); err != nil {
			return nil, fmt.Errorf("parse history weights: %w", err)
		}
		if err := json.Unmarshal([]byte(dropped), &h.Dropped); err != nil {
			return nil, fmt.Errorf("parse history drops: %w", err)
		}
		h.Consensus = consensus != 0
		if h.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
			return nil, fmt.Errorf("parse history time: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (s *Store) readMemory(ctx context.Context) ([]memory.Cell, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, content, created_at, access_count, importance FROM memory_cells ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("query memory: %w", err)
	}
	defer rows.Close()

	var out []memory.Cell
	for rows.Next() {
		var (
			c       memory.Cell
			created string
		)
		if err := rows.Scan(&c.Key, &c.Content, &created, &c.AccessCount, &c.Importance); err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		if c.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
			return nil, fmt.Errorf("parse memory time: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) readKnowledge(ctx context.Context) ([]agent.Item, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value, source FROM knowledge ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("query knowledge: %w", err)
	}
	defer rows.Close()

	var out []agent.Item
	for rows.Next() {
		var (
			it     agent.Item
			source string
		)
		if err := rows.Scan(&it.Key, &it.Value, &source); err != nil {
			return nil, fmt.Errorf("scan knowledge: %w", err)
		}
		it.Source = agent.Source(source)
		out = append(out, it)
	}
	return out, rows.Err()
}

func (s *Store) readLearner(ctx context.Context, meta map[string]string) (*learner.Params, error) {
	p := &learner.Params{Hidden: learner.ActivationKind(meta["learner.hidden_activation"])}
	if err := json.Unmarshal([]byte(meta["learner.architecture"]), &p.Architecture); err != nil {
		return nil, fmt.Errorf("parse architecture: %w", err)
	}
	epochs, err := strconv.Atoi(meta["learner.epochs_trained"])
	if err != nil {
		return nil, fmt.Errorf("parse epochs_trained: %w", err)
	}
	p.EpochsTrained = epochs

	rows, err := s.db.QueryContext(ctx,
		`SELECT kind, activation, rate, fan_in, fan_out FROM learner_layers ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("query learner layers: %w", err)
	}
	for rows.Next() {
		var (
			l                learner.LayerSpec
			kind, activation string
		)
		if err := rows.Scan(&kind, &activation, &l.Rate, &l.In, &l.Out); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan learner layer: %w", err)
		}
		l.Kind, l.Activation = learner.Kind(kind), learner.ActivationKind(activation)
		p.Layers = append(p.Layers, l)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.db.QueryContext(ctx,
		`SELECT layer, name, size, data FROM learner_tensors ORDER BY layer, rowid`)
	if err != nil {
		return nil, fmt.Errorf("query learner tensors: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			t    learner.Tensor
			size int
			blob []byte
		)
		if err := rows.Scan(&t.Layer, &t.Name, &size, &blob); err != nil {
			return nil, fmt.Errorf("scan learner tensor: %w", err)
		}
		if len(blob) != size*8 {
			return nil, fmt.Errorf("tensor %d/%s: blob holds %d bytes for %d values", t.Layer, t.Name, len(blob), size)
		}
		t.Data = decodeFloats(blob)
		p.Tensors = append(p.Tensors, t)
	}
	return p, rows.Err()
}

// ═══════════════════════════════════════════════════════════════════════════════
// TENSOR ENCODING
// ═══════════════════════════════════════════════════════════════════════════════

func encodeFloats(v []float64) []byte {
	buf := make([]byte, len(v)*8)
	for i, f := range v {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(f))
	}
	return buf
}

func decodeFloats(b []byte) []float64 {
	v := make([]float64, len(b)/8)
	for i := range v {
		v[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[i*8:]))
	}
	return v
}
