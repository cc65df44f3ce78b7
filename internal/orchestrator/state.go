package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/normanking/cortexmind/internal/data"
	"github.com/normanking/cortexmind/internal/learner"
)

// SaveState writes the configuration, the newest PersistedHistory history
// entries, the long-term memory and knowledge inventories, and the learner
// parameters to a bundle at path. Spiking and amplitude state is rebuilt from
// the seed and is not saved.
func (e *Engine) SaveState(ctx context.Context, path string) error {
	e.mu.RLock()
	st := e.st
	b := &data.Bundle{
		Version:   data.FormatVersion,
		SavedAt:   time.Now().UTC(),
		Config:    st.cfg.Clone(),
		Memory:    st.memory.Inventory(),
		Knowledge: st.agent.Knowledge(),
	}
	params := st.learner.network().Params()
	b.Learner = &params
	for _, entry := range st.history.Tail(PersistedHistory) {
		b.History = append(b.History, toRecord(entry))
	}
	b.Digest = data.Digest{
		Memory:         st.memory.Counts(),
		KnowledgeItems: len(b.Knowledge),
		HistoryEntries: st.history.Len(),
	}
	e.mu.RUnlock()

	if err := data.Save(ctx, path, b); err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	e.log.Info("state saved to %s: %d history, %d memories, %d knowledge items",
		path, len(b.History), len(b.Memory), len(b.Knowledge))
	return nil
}

// LoadState replaces the engine state with the bundle at path. The new state
// is rebuilt from the bundle's configuration and fully restored before it is
// swapped in, so a failed load leaves the engine unchanged. The routing table
// starts from its defaults.
func (e *Engine) LoadState(ctx context.Context, path string) error {
	b, err := data.Load(ctx, path)
	if err != nil {
		return fmt.Errorf("load state: %w", err)
	}

	cfg := b.Config
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("load state: invalid configuration: %w", err)
	}

	st, err := e.newState(cfg)
	if err != nil {
		return fmt.Errorf("load state: %w", err)
	}
	if b.Learner != nil {
		net, err := learner.FromParams(*b.Learner, learner.WithSeeder(st.seeder), learner.WithLogger(e.log))
		if err != nil {
			return fmt.Errorf("load state: %w", err)
		}
		st.learner.swap(net)
	}
	if err := st.memory.Restore(b.Memory); err != nil {
		return fmt.Errorf("load state: %w", err)
	}
	st.agent.RestoreKnowledge(b.Knowledge)

	entries := make([]Entry, len(b.History))
	for i, r := range b.History {
		entries[i] = fromRecord(r)
	}
	st.history.Replace(entries)

	e.mu.Lock()
	e.inflight.Wait()
	e.st = st
	e.mu.Unlock()

	e.log.Info("state loaded from %s (saved %s): %d history, %d memories, %d knowledge items",
		path, b.SavedAt.Format(time.RFC3339), len(b.History), len(b.Memory), len(b.Knowledge))
	return nil
}
