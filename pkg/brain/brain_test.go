package brain

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeModule returns a fixed output after an optional delay.
type fakeModule struct {
	id         ModuleID
	output     string
	confidence float64
	delay      time.Duration
	err        error
	calls      int
	mu         sync.Mutex
	seen       []Payload
}

func (f *fakeModule) ID() ModuleID { return f.id }

func (f *fakeModule) Process(ctx context.Context, input ModuleInput) (*ModuleResult, error) {
	f.mu.Lock()
	f.calls++
	f.seen = append(f.seen, input.Payload)
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return NewResult(f.id, TextOutput(f.output), f.confidence), nil
}

type recordingObserver struct {
	mu        sync.Mutex
	started   []ModuleID
	completed []ModuleID
	dropped   []ModuleID
}

func (o *recordingObserver) ModuleStarted(id ModuleID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.started = append(o.started, id)
}

func (o *recordingObserver) ModuleCompleted(id ModuleID, _ *ModuleResult) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.completed = append(o.completed, id)
}

func (o *recordingObserver) ModuleDropped(id ModuleID, _ string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.dropped = append(o.dropped, id)
}

func completed(id ModuleID, output string, conf float64) *Invocation {
	return &Invocation{Module: id, Status: InvocationCompleted, Result: NewResult(id, TextOutput(output), conf)}
}

func weightSum(w map[ModuleID]float64) float64 {
	var s float64
	for _, v := range w {
		s += v
	}
	return s
}

// ═══════════════════════════════════════════════════════════════════════════════
// TYPES
// ═══════════════════════════════════════════════════════════════════════════════

func TestModuleID_Valid(t *testing.T) {
	tests := []struct {
		id    ModuleID
		valid bool
	}{
		{ModuleSpiking, true},
		{ModuleAmplitude, true},
		{ModuleLearner, true},
		{ModuleAgent, true},
		{ModuleID("memory"), false},
		{ModuleID(""), false},
	}

	for _, tt := range tests {
		t.Run(string(tt.id), func(t *testing.T) {
			assert.Equal(t, tt.valid, tt.id.Valid())
		})
	}
	assert.Len(t, AllModules(), 4)
}

func TestPayload(t *testing.T) {
	text := Text("1,1,2,3,5,8")
	assert.False(t, text.IsVector())
	assert.Equal(t, "1,1,2,3,5,8", text.String())
	nums, ok := text.Numeric()
	require.True(t, ok)
	assert.Equal(t, []float64{1, 1, 2, 3, 5, 8}, nums)

	_, ok = Text("find min of f").Numeric()
	assert.False(t, ok)
	_, ok = Text("").Numeric()
	assert.False(t, ok)

	vec := Vector([]float64{0.5, 2, -1})
	assert.True(t, vec.IsVector())
	assert.Equal(t, "0.5,2,-1", vec.String())
	assert.Equal(t, []byte("0.5,2,-1"), vec.Bytes())
	assert.Equal(t, 8, vec.Len())

	clone := vec.Clone()
	got, _ := clone.Numeric()
	got[0] = 99
	orig, _ := vec.Numeric()
	assert.Equal(t, 0.5, orig[0])

	assert.True(t, Text("").IsEmpty())
	assert.True(t, Vector(nil).IsEmpty())
}

func TestNewResultClampsConfidence(t *testing.T) {
	assert.Equal(t, 1.0, NewResult(ModuleAgent, TextOutput("x"), 3).Confidence)
	assert.Equal(t, 0.0, NewResult(ModuleAgent, TextOutput("x"), -1).Confidence)

	r := NewResult(ModuleAgent, TextOutput("x"), 0.4).Explain("op", "reason")
	assert.Equal(t, "reason", r.Explanation["op"])
	assert.Equal(t, "x", r.OutputString())
	assert.Equal(t, "", (*ModuleResult)(nil).OutputString())
}

func TestIsFatal(t *testing.T) {
	assert.True(t, IsFatal(fmt.Errorf("wrap: %w", ErrInvalidInput)))
	assert.True(t, IsFatal(ErrInvariantBreach))
	assert.False(t, IsFatal(ErrModuleDropped))
	assert.False(t, IsFatal(context.DeadlineExceeded))
}

// ═══════════════════════════════════════════════════════════════════════════════
// REGISTRY
// ═══════════════════════════════════════════════════════════════════════════════

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&fakeModule{id: ModuleAgent})
	reg.Register(&fakeModule{id: ModuleSpiking})

	assert.Equal(t, 2, reg.Count())
	assert.True(t, reg.IsReady(ModuleAgent))
	assert.False(t, reg.IsReady(ModuleLearner))

	reg.SetReady(ModuleAgent, false)
	reg.SetReady(ModuleLearner, true)
	assert.Equal(t, map[ModuleID]bool{ModuleSpiking: true}, reg.ReadySet())

	all := reg.All()
	require.Len(t, all, 2)
	assert.Equal(t, ModuleSpiking, all[0].ID(), "canonical order")

	got := reg.GetAll([]ModuleID{ModuleAgent, ModuleAmplitude})
	require.Len(t, got, 1)
	_, ok := reg.Get(ModuleAmplitude)
	assert.False(t, ok)
}

// ═══════════════════════════════════════════════════════════════════════════════
// INVOKER
// ═══════════════════════════════════════════════════════════════════════════════

func TestInvokerRunsAllModules(t *testing.T) {
	obs := &recordingObserver{}
	a := &fakeModule{id: ModuleAgent, output: "a", confidence: 0.9}
	s := &fakeModule{id: ModuleSpiking, output: "s", confidence: 0.4}

	out, err := NewInvoker(WithObserver(obs)).Invoke(context.Background(), []Module{a, s}, ModuleInput{Payload: Vector([]float64{1, 2}), Task: "reasoning"})
	require.NoError(t, err)
	require.Len(t, out, 2)

	assert.Equal(t, ModuleAgent, out[0].Module)
	assert.Equal(t, InvocationCompleted, out[0].Status)
	assert.Equal(t, ModuleAgent, out[0].Result.Module)
	assert.False(t, out[0].Result.Meta.StartedAt.IsZero())
	assert.Equal(t, ModuleSpiking, out[1].Module)

	assert.ElementsMatch(t, []ModuleID{ModuleAgent, ModuleSpiking}, obs.started)
	assert.ElementsMatch(t, []ModuleID{ModuleAgent, ModuleSpiking}, obs.completed)
	assert.Empty(t, obs.dropped)
}

func TestInvokerGivesEachModuleItsOwnPayload(t *testing.T) {
	a := &fakeModule{id: ModuleAgent, output: "a", confidence: 1}
	b := &fakeModule{id: ModuleLearner, output: "b", confidence: 1}
	_, err := NewInvoker().Invoke(context.Background(), []Module{a, b}, ModuleInput{Payload: Vector([]float64{1})})
	require.NoError(t, err)

	va, _ := a.seen[0].Numeric()
	va[0] = 42
	vb, _ := b.seen[0].Numeric()
	assert.Equal(t, 1.0, vb[0])
}

func TestInvokerDeadlineDropsSlowModules(t *testing.T) {
	obs := &recordingObserver{}
	slow := &fakeModule{id: ModuleLearner, output: "slow", confidence: 1, delay: 200 * time.Millisecond}
	fast := &fakeModule{id: ModuleAgent, output: "fast", confidence: 1}

	inv := NewInvoker(WithDeadline(50*time.Millisecond), WithObserver(obs))
	out, err := inv.Invoke(context.Background(), []Module{slow, fast}, ModuleInput{Payload: Text("x")})
	require.NoError(t, err)

	assert.Equal(t, InvocationDropped, out[0].Status)
	assert.ErrorIs(t, out[0].Err, context.DeadlineExceeded)
	assert.Equal(t, InvocationCompleted, out[1].Status)
	assert.Equal(t, []ModuleID{ModuleLearner}, obs.dropped)
}

// stubbornModule ignores cancellation and returns only when release closes.
type stubbornModule struct {
	id       ModuleID
	release  chan struct{}
	finished chan struct{}
}

func (m *stubbornModule) ID() ModuleID { return m.id }

func (m *stubbornModule) Process(ctx context.Context, _ ModuleInput) (*ModuleResult, error) {
	<-m.release
	close(m.finished)
	return NewResult(m.id, TextOutput("late"), 1), nil
}

func TestInvokerTracksModulesPastTheirDeadline(t *testing.T) {
	m := &stubbornModule{id: ModuleAgent, release: make(chan struct{}), finished: make(chan struct{})}
	var inflight sync.WaitGroup

	inv := NewInvoker(WithDeadline(10*time.Millisecond), WithInFlight(&inflight))
	out, err := inv.Invoke(context.Background(), []Module{m}, ModuleInput{Payload: Text("x")})
	require.NoError(t, err)
	assert.Equal(t, InvocationDropped, out[0].Status)

	waited := make(chan struct{})
	go func() {
		inflight.Wait()
		close(waited)
	}()

	select {
	case <-waited:
		t.Fatal("in-flight wait returned while the module was still running")
	case <-time.After(30 * time.Millisecond):
	}

	close(m.release)
	select {
	case <-waited:
	case <-time.After(time.Second):
		t.Fatal("in-flight wait did not return after the module finished")
	}
	select {
	case <-m.finished:
	default:
		t.Fatal("module had not finished when the wait returned")
	}
}

func TestInvokerRecoverableErrorDrops(t *testing.T) {
	m := &fakeModule{id: ModuleSpiking, err: fmt.Errorf("%w: scratch buffer busy", ErrModuleDropped)}
	out, err := NewInvoker().Invoke(context.Background(), []Module{m}, ModuleInput{Payload: Text("x")})
	require.NoError(t, err)
	assert.Equal(t, InvocationDropped, out[0].Status)
}

func TestInvokerFatalErrorAborts(t *testing.T) {
	bad := &fakeModule{id: ModuleAmplitude, err: fmt.Errorf("%w: 11 qubits", ErrInvalidInput)}
	ok := &fakeModule{id: ModuleAgent, output: "ok", confidence: 1}

	out, err := NewInvoker().Invoke(context.Background(), []Module{bad, ok}, ModuleInput{Payload: Text("x")})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Contains(t, err.Error(), "amplitude")
	assert.Equal(t, InvocationFailed, out[0].Status)
	assert.Equal(t, InvocationCompleted, out[1].Status)
}

func TestInvokerCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m := &fakeModule{id: ModuleAgent, output: "a", confidence: 1}
	out, err := NewInvoker().Invoke(ctx, []Module{m}, ModuleInput{Payload: Text("x")})
	require.NoError(t, err)
	assert.Equal(t, InvocationDropped, out[0].Status)
	assert.Equal(t, 0, m.calls)
}

func TestDropReason(t *testing.T) {
	assert.Equal(t, "deadline exceeded", DropReason(context.DeadlineExceeded))
	assert.Equal(t, "canceled", DropReason(context.Canceled))
	assert.Equal(t, "dropped", DropReason(nil))
	assert.Equal(t, "boom", DropReason(errors.New("boom")))
}

// ═══════════════════════════════════════════════════════════════════════════════
// FUSION
// ═══════════════════════════════════════════════════════════════════════════════

func TestFuseWeights(t *testing.T) {
	routing := []ModuleID{ModuleLearner, ModuleSpiking}
	fused, err := Fuse("pattern_recognition", routing, []*Invocation{
		completed(ModuleLearner, "class=3", 0.8),
		completed(ModuleSpiking, "medium", 0.6),
	})
	require.NoError(t, err)

	// raw: learner 1*0.8 = 0.8, spiking 0.5*0.6 = 0.3
	assert.InDelta(t, 0.8/1.1, fused.Weights[ModuleLearner], 1e-12)
	assert.InDelta(t, 0.3/1.1, fused.Weights[ModuleSpiking], 1e-12)
	assert.InDelta(t, 1.0, weightSum(fused.Weights), 1e-9)
	assert.InDelta(t, (0.8*0.8+0.3*0.6)/1.1, fused.CombinedConfidence, 1e-12)
	assert.False(t, fused.Consensus)
	assert.Equal(t, ModuleLearner, fused.PrimaryModule)
	assert.Equal(t, "class=3", fused.PrimaryResult.OutputString())
	assert.Equal(t, []ModuleID{ModuleLearner, ModuleSpiking}, fused.SystemsUsed)
	assert.Empty(t, fused.Dropped)
}

func TestFuseUnroutedModuleGetsHalfWeight(t *testing.T) {
	fused, err := Fuse("search", []ModuleID{ModuleAgent}, []*Invocation{
		completed(ModuleAmplitude, "sample=3", 1),
		completed(ModuleAgent, "plan", 1),
	})
	require.NoError(t, err)
	assert.InDelta(t, 0.5/1.5, fused.Weights[ModuleAmplitude], 1e-12)
	assert.Equal(t, ModuleAgent, fused.PrimaryModule)
}

func TestFuseUniformFallback(t *testing.T) {
	fused, err := Fuse("general", []ModuleID{ModuleSpiking, ModuleLearner}, []*Invocation{
		completed(ModuleSpiking, "low", 0),
		completed(ModuleLearner, "class=0", 0),
	})
	require.NoError(t, err)
	assert.Equal(t, 0.5, fused.Weights[ModuleSpiking])
	assert.Equal(t, 0.5, fused.Weights[ModuleLearner])
	assert.Equal(t, 0.0, fused.CombinedConfidence)
	assert.Equal(t, ModuleSpiking, fused.PrimaryModule, "tie broken by routing position")
}

func TestFusePrimaryTieBreaksByRoutingPosition(t *testing.T) {
	// Position 1 with conf 1.0 and position 0 with conf 0.5 both score 0.5.
	fused, err := Fuse("decision_making", []ModuleID{ModuleAgent, ModuleSpiking}, []*Invocation{
		completed(ModuleSpiking, "high", 1.0),
		completed(ModuleAgent, "go", 0.5),
	})
	require.NoError(t, err)
	assert.Equal(t, ModuleAgent, fused.PrimaryModule)
}

func TestFuseConsensus(t *testing.T) {
	routing := []ModuleID{ModuleAgent, ModuleSpiking, ModuleLearner}
	fused, err := Fuse("decision_making", routing, []*Invocation{
		completed(ModuleAgent, "yes", 0.6),
		completed(ModuleSpiking, "yes", 0.5),
		completed(ModuleLearner, "yes", 0.4),
	})
	require.NoError(t, err)
	require.True(t, fused.Consensus)

	var plain, maxTerm float64
	for id, w := range fused.Weights {
		term := w * fused.AllResults[id].Confidence
		plain += term
		maxTerm = math.Max(maxTerm, term)
	}
	assert.InDelta(t, math.Min(1, 1.5*plain), fused.CombinedConfidence, 1e-12)
	assert.GreaterOrEqual(t, fused.CombinedConfidence, maxTerm)
}

func TestFuseConsensusClipsToOne(t *testing.T) {
	fused, err := Fuse("reasoning", []ModuleID{ModuleAgent, ModuleSpiking}, []*Invocation{
		completed(ModuleAgent, "same", 1),
		completed(ModuleSpiking, "same", 1),
	})
	require.NoError(t, err)
	assert.Equal(t, 1.0, fused.CombinedConfidence)
}

func TestFuseSingleModuleHasNoConsensus(t *testing.T) {
	fused, err := Fuse("memory", []ModuleID{ModuleSpiking}, []*Invocation{completed(ModuleSpiking, "low", 0.2)})
	require.NoError(t, err)
	assert.False(t, fused.Consensus)
	assert.Equal(t, 1.0, fused.Weights[ModuleSpiking])
	assert.InDelta(t, 0.2, fused.CombinedConfidence, 1e-12)
}

func TestFuseDropped(t *testing.T) {
	dropped := &Invocation{Module: ModuleLearner, Status: InvocationDropped, Err: context.DeadlineExceeded}

	fused, err := Fuse("prediction", []ModuleID{ModuleLearner, ModuleSpiking}, []*Invocation{
		dropped,
		completed(ModuleSpiking, "medium", 0.3),
	})
	require.NoError(t, err)
	assert.Equal(t, []DroppedModule{{Module: ModuleLearner, Reason: "deadline exceeded"}}, fused.Dropped)
	assert.Equal(t, []ModuleID{ModuleSpiking}, fused.SystemsUsed)
	assert.NotContains(t, fused.Weights, ModuleLearner)

	fused, err = Fuse("prediction", []ModuleID{ModuleLearner}, []*Invocation{dropped})
	require.ErrorIs(t, err, ErrNoModulesAvailable)
	require.NotNil(t, fused)
	assert.Len(t, fused.Dropped, 1)
	assert.Empty(t, fused.SystemsUsed)
}

func TestFuseWeightsAlwaysNormalized(t *testing.T) {
	confs := [][]float64{{0.1, 0.9, 0.3}, {1, 1, 1}, {0, 0, 0.0001}, {0.33, 0, 0}}
	ids := []ModuleID{ModuleAmplitude, ModuleAgent, ModuleSpiking}
	for _, c := range confs {
		invs := make([]*Invocation, len(ids))
		for i, id := range ids {
			invs[i] = completed(id, fmt.Sprint(i), c[i])
		}
		fused, err := Fuse("optimization", []ModuleID{ModuleAmplitude, ModuleAgent}, invs)
		require.NoError(t, err)
		assert.InDelta(t, 1.0, weightSum(fused.Weights), 1e-9)
		for _, w := range fused.Weights {
			assert.GreaterOrEqual(t, w, 0.0)
		}
		assert.GreaterOrEqual(t, fused.CombinedConfidence, 0.0)
		assert.LessOrEqual(t, fused.CombinedConfidence, 1.0)
	}
}
