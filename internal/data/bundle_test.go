package data

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/cortexmind/internal/agent"
	"github.com/normanking/cortexmind/internal/config"
	"github.com/normanking/cortexmind/internal/learner"
	"github.com/normanking/cortexmind/internal/memory"
)

func sampleBundle(t *testing.T) *Bundle {
	t.Helper()

	net, err := learner.Build([]int{3, 4, 2}, learner.Tanh)
	require.NoError(t, err)
	params := net.Params()

	cfg := config.Default()
	cfg.Amplitude.Qubits = 4
	at := time.Date(2026, 3, 14, 15, 9, 26, 535897000, time.UTC)

	return &Bundle{
		SavedAt: at,
		Config:  cfg,
		Digest: Digest{
			Memory:         memory.Counts{Working: 2, ShortTerm: 5, LongTerm: 2},
			KnowledgeItems: 2,
			HistoryEntries: 2,
		},
		History: []HistoryRecord{
			{
				ID: "h1", Task: "prediction",
				Modules:    []string{"learner", "spiking"},
				Weights:    map[string]float64{"learner": 0.25, "spiking": 0.75},
				Primary:    "spiking",
				Confidence: 0.6,
				Dropped:    []string{},
				CreatedAt:  at,
			},
			{
				ID: "h2", Task: "search",
				Modules:    []string{"amplitude", "agent"},
				Weights:    map[string]float64{"agent": 1},
				Primary:    "agent",
				Confidence: 0.9,
				Consensus:  true,
				Dropped:    []string{"amplitude"},
				CreatedAt:  at.Add(time.Second),
			},
		},
		Memory: []memory.Cell{
			{Key: "a", Content: "alpha", CreatedAt: at, AccessCount: 3, Importance: 1},
			{Key: "b", Content: "beta", CreatedAt: at, AccessCount: 0, Importance: 1},
		},
		Knowledge: []agent.Item{
			{Key: "fact", Value: "sky is blue", Source: agent.SourceObserved},
			{Key: "lesson-1", Value: "x leads to y", Source: agent.SourceDerived},
		},
		Learner: &params,
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	in := sampleBundle(t)

	require.NoError(t, Save(context.Background(), path, in))
	out, err := Load(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, FormatVersion, out.Version)
	assert.True(t, in.SavedAt.Equal(out.SavedAt))
	assert.Equal(t, in.Config, out.Config)
	assert.Equal(t, in.Digest, out.Digest)
	assert.Equal(t, in.History, out.History)
	assert.Equal(t, in.Memory, out.Memory)
	assert.Equal(t, in.Knowledge, out.Knowledge)
	assert.Equal(t, in.Learner, out.Learner)

	restored, err := learner.FromParams(*out.Learner)
	require.NoError(t, err)
	assert.Equal(t, in.Learner.Tensors, restored.Params().Tensors)
}

func TestSaveWithoutLearner(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.db")
	in := sampleBundle(t)
	in.Learner = nil
	in.History = nil

	require.NoError(t, Save(context.Background(), path, in))
	out, err := Load(context.Background(), path)
	require.NoError(t, err)
	assert.Nil(t, out.Learner)
	assert.Empty(t, out.History)
}

func TestSaveOverwritesPreviousBundle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	first := sampleBundle(t)
	require.NoError(t, Save(context.Background(), path, first))

	second := sampleBundle(t)
	second.Knowledge = second.Knowledge[:1]
	second.History = second.History[1:]
	require.NoError(t, Save(context.Background(), path, second))

	out, err := Load(context.Background(), path)
	require.NoError(t, err)
	assert.Len(t, out.Knowledge, 1)
	require.Len(t, out.History, 1)
	assert.Equal(t, "h2", out.History[0].ID)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files are cleaned up")
}

func TestSaveRejectsMissingConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	err := Save(context.Background(), path, &Bundle{})
	assert.Error(t, err)
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(context.Background(), filepath.Join(t.TempDir(), "missing.db"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadRejectsForeignFiles(t *testing.T) {
	dir := t.TempDir()

	empty := filepath.Join(dir, "empty.db")
	s, err := Open(empty)
	require.NoError(t, err)
	require.NoError(t, s.Health())
	require.NoError(t, s.Close())
	_, err = Load(context.Background(), empty)
	assert.ErrorIs(t, err, ErrNotBundle)

	junk := filepath.Join(dir, "junk.db")
	require.NoError(t, os.WriteFile(junk, []byte("this is not a database at all, not even close......"), 0o644))
	_, err = Load(context.Background(), junk)
	assert.Error(t, err)
}

func TestLoadLeavesForeignDatabaseUntouched(t *testing.T) {
	path := filepath.Join(t.TempDir(), "other.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE notes (body TEXT)`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	_, err = Load(context.Background(), path)
	assert.ErrorIs(t, err, ErrNotBundle)

	db, err = sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()
	var tables []string
	rows, err := db.Query(`SELECT name FROM sqlite_master WHERE type = 'table' ORDER BY name`)
	require.NoError(t, err)
	defer rows.Close()
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		tables = append(tables, name)
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, []string{"notes"}, tables)
}

func TestMigrateIsIdempotent(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	defer s.Close()

	assert.NoError(t, s.Migrate())
	assert.NoError(t, s.Migrate())
}

func TestSplitSQL(t *testing.T) {
	stmts := splitSQL("-- comment\nCREATE TABLE a (x INT);\n\nCREATE TABLE b (\n  y INT\n);\n")
	require.Len(t, stmts, 2)
	assert.Equal(t, "CREATE TABLE a (x INT)", stmts[0])
	assert.Contains(t, stmts[1], "y INT")
}

func TestFloatEncoding(t *testing.T) {
	v := []float64{0, -1.5, 3.14159, 1e-300}
	assert.Equal(t, v, decodeFloats(encodeFloats(v)))
	assert.Len(t, encodeFloats(v), 32)
}
