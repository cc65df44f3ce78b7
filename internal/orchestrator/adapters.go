package orchestrator

import (
	"context"
	"strings"
	"sync"

	"github.com/normanking/cortexmind/internal/agent"
	"github.com/normanking/cortexmind/internal/amplitude"
	"github.com/normanking/cortexmind/internal/learner"
	"github.com/normanking/cortexmind/internal/router"
	"github.com/normanking/cortexmind/internal/spiking"
	"github.com/normanking/cortexmind/pkg/brain"
)

// ═══════════════════════════════════════════════════════════════════════════════
// SPIKING
// ═══════════════════════════════════════════════════════════════════════════════

// spikingModule wraps the spiking network as a brain.Module.
type spikingModule struct {
	net *spiking.Network
}

func (m *spikingModule) ID() brain.ModuleID { return brain.ModuleSpiking }

func (m *spikingModule) Process(ctx context.Context, in brain.ModuleInput) (*brain.ModuleResult, error) {
	out, err := m.net.Process(ctx, in.Payload)
	if err != nil {
		return nil, err
	}
	return brain.NewResult(m.ID(), out, out.Confidence()).
		Explain("decision_tag", out.DecisionTag).
		Explain("total_activations", out.TotalActivations).
		Explain("region_activity", out.RegionActivity), nil
}

func (m *spikingModule) Reset() { m.net.Reset() }

var _ brain.Resetter = (*spikingModule)(nil)

// ═══════════════════════════════════════════════════════════════════════════════
// AMPLITUDE
// ═══════════════════════════════════════════════════════════════════════════════

// amplitudeModule wraps the amplitude sampler. Confidence is 1 - entropy/n.
type amplitudeModule struct {
	sampler *amplitude.Sampler
}

func (m *amplitudeModule) ID() brain.ModuleID { return brain.ModuleAmplitude }

func (m *amplitudeModule) Process(ctx context.Context, in brain.ModuleInput) (*brain.ModuleResult, error) {
	out, err := m.sampler.Process(ctx, in.Payload)
	if err != nil {
		return nil, err
	}
	res := brain.NewResult(m.ID(), out, out.Confidence()).
		Explain("entropy", out.Entropy).
		Explain("sample", out.Sample).
		Explain("probability", out.Probability).
		Explain("qubits", out.Qubits).
		Explain("entangled_pairs", len(out.Pairs))
	if out.Choice >= 0 {
		res.Explain("choice", out.Choice).Explain("scores", out.Scores)
	}
	return res, nil
}

func (m *amplitudeModule) Reset() { m.sampler.Reset() }

var _ brain.Resetter = (*amplitudeModule)(nil)

// ═══════════════════════════════════════════════════════════════════════════════
// LEARNER
// ═══════════════════════════════════════════════════════════════════════════════

// learnerModule wraps the feed-forward network. The network is swapped
// wholesale when state is loaded.
type learnerModule struct {
	mu  sync.RWMutex
	net *learner.Network
}

func (m *learnerModule) ID() brain.ModuleID { return brain.ModuleLearner }

func (m *learnerModule) network() *learner.Network {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.net
}

func (m *learnerModule) swap(net *learner.Network) {
	m.mu.Lock()
	m.net = net
	m.mu.Unlock()
}

func (m *learnerModule) Process(ctx context.Context, in brain.ModuleInput) (*brain.ModuleResult, error) {
	out, err := m.network().Process(ctx, in.Payload)
	if err != nil {
		return nil, err
	}
	return brain.NewResult(m.ID(), out, out.Confidence).
		Explain("class", out.Class).
		Explain("output", out.Output), nil
}

// ═══════════════════════════════════════════════════════════════════════════════
// AGENT
// ═══════════════════════════════════════════════════════════════════════════════

// agentModule perceives every payload, then decides between "|" separated
// alternatives on decision tasks and reasons otherwise.
type agentModule struct {
	agent *agent.Agent
}

func (m *agentModule) ID() brain.ModuleID { return brain.ModuleAgent }

func (m *agentModule) Process(ctx context.Context, in brain.ModuleInput) (*brain.ModuleResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	text := in.Payload.String()
	perception := m.agent.Perceive(text)

	if options := splitOptions(text); router.TaskType(in.Task) == router.TaskDecisionMaking && len(options) > 1 {
		d := m.agent.Decide(options)
		return brain.NewResult(m.ID(), brain.TextOutput(d.Choice), d.Confidence).
			Explain("mode", "decide").
			Explain("scores", d.Scores).
			Explain("importance", perception.Importance), nil
	}

	r := m.agent.Reason(text)
	return brain.NewResult(m.ID(), brain.TextOutput(r.Solution), r.Confidence).
		Explain("mode", "reason").
		Explain("complexity", string(r.Complexity)).
		Explain("quality", r.Quality).
		Explain("knowledge_used", len(r.Knowledge)).
		Explain("importance", perception.Importance), nil
}

func (m *agentModule) Reset() { m.agent.Reset() }

var _ brain.Resetter = (*agentModule)(nil)

func splitOptions(text string) []string {
	var out []string
	for _, part := range strings.Split(text, amplitude.OptionSeparator) {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
