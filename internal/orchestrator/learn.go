package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/normanking/cortexmind/internal/agent"
	"github.com/normanking/cortexmind/internal/bus"
	"github.com/normanking/cortexmind/internal/router"
	"github.com/normanking/cortexmind/pkg/brain"
)

// PairText renders a learning pair the way memory and the spiking network
// receive it.
func PairText(payload, target brain.Payload) string {
	return fmt.Sprintf("{input: %s, target: %s}", payload, target)
}

// Learn feeds an (input, target) pair to every module that can absorb it:
// short-term memory, the learner when both sides are numeric, the agent as an
// experience, and the spiking network as a combined input. A numeric pair
// that does not fit the learner is rejected before any module sees it. The
// modules are independent and run concurrently; the first error is returned.
func (e *Engine) Learn(ctx context.Context, payload, target brain.Payload, task router.TaskType) error {
	if payload.IsEmpty() || target.IsEmpty() {
		return fmt.Errorf("learn: %w: empty input or target", brain.ErrInvalidInput)
	}
	if task == "" {
		task = router.TaskLearning
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	st := e.st

	pair := PairText(payload, target)
	x, xok := payload.Numeric()
	y, yok := target.Numeric()
	numeric := xok && yok
	if numeric {
		if err := st.learner.network().CheckPair(x, y); err != nil {
			return fmt.Errorf("learn %s: %w", task, err)
		}
	}

	var (
		fed   []string
		fedMu sync.Mutex
	)
	mark := func(id brain.ModuleID) {
		fedMu.Lock()
		fed = append(fed, id.String())
		fedMu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := st.memory.RememberShort(pair); err != nil {
			return fmt.Errorf("memory: %w", err)
		}
		mark("memory")
		return nil
	})

	if numeric {
		g.Go(func() error {
			report, err := st.learner.network().Learn(gctx, x, y, st.cfg.Learner.LearnEpochs, st.cfg.Learner.LearningRate)
			if err != nil {
				return fmt.Errorf("%s: %w", brain.ModuleLearner, err)
			}
			e.log.WithFields(map[string]any{
				"task":   task.String(),
				"epochs": report.Epochs,
			}).Debug("learner fitted, loss=%.5f", lastLoss(report.Loss))
			mark(brain.ModuleLearner)
			return nil
		})
	}

	g.Go(func() error {
		st.agent.Learn(agent.Experience{Input: payload.String(), Outcome: target.String(), Success: true})
		mark(brain.ModuleAgent)
		return nil
	})

	g.Go(func() error {
		if _, err := st.spiking.Process(gctx, brain.Text(pair)); err != nil {
			return fmt.Errorf("%s: %w", brain.ModuleSpiking, err)
		}
		mark(brain.ModuleSpiking)
		return nil
	})

	err := g.Wait()

	ev := bus.NewEvent(bus.EventEngineLearn)
	ev.Task = task.String()
	ev.Modules = fed
	if err != nil {
		ev.Error = err.Error()
	}
	e.publish(ev)

	if err != nil {
		return fmt.Errorf("learn %s: %w", task, err)
	}
	return nil
}

func lastLoss(losses []float64) float64 {
	if len(losses) == 0 {
		return 0
	}
	return losses[len(losses)-1]
}

// ═══════════════════════════════════════════════════════════════════════════════
// OPTIMIZE / RESET
// ═══════════════════════════════════════════════════════════════════════════════

// OptimizeReport summarizes one Optimize call.
type OptimizeReport struct {
	Observations int `json:"observations"`
	Consolidated int `json:"consolidated"`
}

// Optimize reorders the routing table from a snapshot of history,
// consolidates memory and returns the amplitude register to uniform.
func (e *Engine) Optimize(ctx context.Context) (*OptimizeReport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.inflight.Wait()
	st := e.st

	obs := st.history.Observations()
	st.router.Optimize(obs)

	moved, err := st.memory.Consolidate()
	if err != nil {
		return nil, fmt.Errorf("optimize: %w", err)
	}
	st.sampler.Reset()

	report := &OptimizeReport{Observations: len(obs), Consolidated: moved}
	ev := bus.NewEvent(bus.EventEngineOptimize)
	ev.Details = fmt.Sprintf("observations=%d consolidated=%d", report.Observations, report.Consolidated)
	e.publish(ev)

	e.log.Info("optimized routing from %d observations, consolidated %d memories", report.Observations, report.Consolidated)
	return report, nil
}

// Reset clears per-call state: spiking activations, the amplitude register,
// agent beliefs and action log, and the history ring. Learned weights,
// memory and knowledge are kept.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.inflight.Wait()
	st := e.st

	st.spiking.Reset()
	st.sampler.Reset()
	st.agent.Reset()
	for _, m := range e.overrides {
		if r, ok := m.(brain.Resetter); ok {
			r.Reset()
		}
	}
	st.history.Clear()

	e.publish(bus.NewEvent(bus.EventEngineReset))
	e.log.Info("engine reset")
}
