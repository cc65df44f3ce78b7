// Package orchestrator drives the cognitive engine end to end: it routes each
// input to the reasoning modules, runs them concurrently under a deadline,
// fuses their results, and keeps the history the router adapts from.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/normanking/cortexmind/internal/agent"
	"github.com/normanking/cortexmind/internal/amplitude"
	"github.com/normanking/cortexmind/internal/bus"
	"github.com/normanking/cortexmind/internal/config"
	"github.com/normanking/cortexmind/internal/fingerprint"
	"github.com/normanking/cortexmind/internal/learner"
	"github.com/normanking/cortexmind/internal/logging"
	"github.com/normanking/cortexmind/internal/memory"
	"github.com/normanking/cortexmind/internal/metrics"
	"github.com/normanking/cortexmind/internal/router"
	"github.com/normanking/cortexmind/internal/spiking"
	"github.com/normanking/cortexmind/pkg/brain"
)

// FingerprintCacheSize bounds the shared fingerprint cache.
const FingerprintCacheSize = 4096

// Option configures an Engine.
type Option func(*Engine)

// WithModule registers m in place of the built-in module with the same ID.
// Learning still goes to the built-in modules.
func WithModule(m brain.Module) Option {
	return func(e *Engine) {
		e.overrides = append(e.overrides, m)
	}
}

// WithLogger sets the engine logger.
func WithLogger(l *logging.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithBus publishes lifecycle events on b. The engine does not close a bus it
// was given.
func WithBus(b *bus.Bus) Option {
	return func(e *Engine) {
		e.bus = b
	}
}

// state is everything LoadState replaces. It is built completely before it
// is swapped in.
type state struct {
	cfg     *config.Config
	seeder  *fingerprint.Seeder
	prints  *fingerprint.Cache
	spiking *spiking.Network
	sampler *amplitude.Sampler
	learner *learnerModule
	memory  *memory.Store
	agent   *agent.Agent

	registry *brain.Registry
	router   *router.Router
	history  *History
}

// Engine is the orchestrator. Process and Learn may run concurrently with
// each other; Optimize, Reset and LoadState run exclusively and first wait
// for module calls that outlived their deadline.
type Engine struct {
	mu       sync.RWMutex
	st       *state
	inflight sync.WaitGroup

	overrides []brain.Module
	log       *logging.Logger

	bus     *bus.Bus
	ownsBus bool
	metrics *metrics.Collector
}

// New builds an engine from cfg. A nil cfg uses the defaults. The config is
// copied and normalized; the engine reads no files or environment itself.
func New(cfg *config.Config, opts ...Option) (*Engine, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	cfg = cfg.Clone()
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", brain.ErrInvalidInput, err)
	}

	e := &Engine{log: logging.Global().WithComponent("orchestrator")}
	for _, opt := range opts {
		opt(e)
	}

	st, err := e.newState(cfg)
	if err != nil {
		return nil, err
	}
	e.st = st

	if e.bus == nil {
		e.bus = bus.New()
		e.ownsBus = true
	}
	e.metrics = metrics.NewCollector(e.bus)
	e.metrics.Start()

	e.log.Info("engine ready: %d modules, seeded=%t", st.registry.Count(), st.seeder.Seeded())
	return e, nil
}

// newState constructs every module from cfg and registers them.
func (e *Engine) newState(cfg *config.Config) (*state, error) {
	st := &state{
		cfg:      cfg,
		seeder:   fingerprint.NewSeeder(cfg.RNG.Seed),
		registry: brain.NewRegistry(),
		history:  NewHistory(cfg.Orchestrator.HistorySize),
		memory:   memory.NewStore(cfg.Memory.LongTermCapacity, memory.WithLogger(e.log)),
	}

	var err error
	if st.prints, err = fingerprint.NewCache(FingerprintCacheSize); err != nil {
		return nil, err
	}
	st.spiking, err = spiking.New(spiking.Config{
		NeuronCount:  cfg.Spiking.NeuronCount,
		LearningRate: cfg.Spiking.LearningRate,
		Ticks:        cfg.Spiking.Ticks,
	}, st.seeder, st.prints, spiking.WithLogger(e.log))
	if err != nil {
		return nil, fmt.Errorf("build spiking network: %w", err)
	}
	if st.sampler, err = amplitude.NewSampler(cfg.Amplitude.Qubits, st.seeder, st.prints, amplitude.WithLogger(e.log)); err != nil {
		return nil, fmt.Errorf("build amplitude sampler: %w", err)
	}
	net, err := learner.Build(cfg.Learner.Architecture, learner.ActivationKind(cfg.Learner.HiddenActivation),
		learner.WithSeeder(st.seeder), learner.WithLogger(e.log))
	if err != nil {
		return nil, fmt.Errorf("build learner: %w", err)
	}
	st.learner = &learnerModule{net: net}
	st.agent = agent.New(st.seeder, agent.WithLogger(e.log))

	st.registry.Register(&spikingModule{net: st.spiking})
	st.registry.Register(&amplitudeModule{sampler: st.sampler})
	st.registry.Register(st.learner)
	st.registry.Register(&agentModule{agent: st.agent})
	for _, m := range e.overrides {
		st.registry.Register(m)
	}
	for _, id := range cfg.Orchestrator.DisabledModules {
		st.registry.SetReady(brain.ModuleID(id), false)
	}

	st.router = router.New(st.registry, router.WithLogger(e.log))
	return st, nil
}

// Close stops metrics collection and closes the bus if the engine owns it.
func (e *Engine) Close() error {
	e.metrics.Stop()
	if e.ownsBus {
		return e.bus.Close()
	}
	return nil
}

// Config returns a copy of the active configuration.
func (e *Engine) Config() *config.Config {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.st.cfg.Clone()
}

// Bus returns the lifecycle event bus.
func (e *Engine) Bus() *bus.Bus { return e.bus }

// ═══════════════════════════════════════════════════════════════════════════════
// PROCESS
// ═══════════════════════════════════════════════════════════════════════════════

// Process routes payload by task, runs the selected modules concurrently,
// fuses their results and records the call in history.
//
// When every module dropped, the partial result (with Dropped filled) is
// returned together with brain.ErrNoModulesAvailable. Invalid input and
// invariant breaches abort the call without a result.
func (e *Engine) Process(ctx context.Context, payload brain.Payload, task router.TaskType) (*brain.FusedResult, error) {
	if payload.IsEmpty() {
		return nil, fmt.Errorf("process: %w: empty payload", brain.ErrInvalidInput)
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	st := e.st

	record := router.NewTaskRecord(task, payload.Len())
	ids := st.router.Route(task)
	if !slices.Contains(ids, brain.ModuleAmplitude) && st.router.QuantumUseful(record) && st.registry.IsReady(brain.ModuleAmplitude) {
		ids = append([]brain.ModuleID{brain.ModuleAmplitude}, ids...)
	}
	var modules []brain.Module
	for _, m := range st.registry.GetAll(ids) {
		if st.registry.IsReady(m.ID()) {
			modules = append(modules, m)
		}
	}

	requestID := uuid.NewString()
	log := e.log.WithField("request_id", requestID)
	log.Debug("process: task=%s complexity=%s modules=%v", task, record.Complexity, ids)

	invoker := brain.NewInvoker(
		brain.WithDeadline(st.cfg.ModuleDeadline()),
		brain.WithObserver(&busObserver{bus: e.bus, requestID: requestID, task: task.String()}),
		brain.WithInFlight(&e.inflight),
	)
	invocations, err := invoker.Invoke(ctx, modules, brain.ModuleInput{Payload: payload, Task: task.String()})
	if err != nil {
		log.Warn("process aborted: %v", err)
		return nil, fmt.Errorf("process %s: %w", task, err)
	}

	fused, fuseErr := brain.Fuse(task.String(), ids, invocations)
	entry := st.history.Record(task, fused)

	if err := st.memory.AddWorking(payload.String()); err != nil {
		return nil, fmt.Errorf("process %s: %w", task, err)
	}

	ev := bus.NewEvent(bus.EventFusionComplete)
	ev.RequestID = requestID
	ev.Task = task.String()
	ev.Modules = moduleNames(fused.SystemsUsed)
	ev.Confidence = fused.CombinedConfidence
	ev.Details = fused.PrimaryModule.String()
	if fuseErr != nil {
		ev.Error = fuseErr.Error()
	}
	e.publish(ev)

	if fuseErr != nil {
		log.Warn("process: all %d modules dropped", len(entry.Dropped))
		return fused, fuseErr
	}

	log.Debug("process: primary=%s confidence=%.3f consensus=%t",
		fused.PrimaryModule, fused.CombinedConfidence, fused.Consensus)
	return fused, nil
}

func (e *Engine) publish(ev bus.Event) {
	if err := e.bus.Publish(ev); err != nil {
		e.log.Debug("event %s not published: %v", ev.Type, err)
	}
}

func moduleNames(ids []brain.ModuleID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

// IsNoModules reports whether err means nothing survived to fusion.
func IsNoModules(err error) bool {
	return errors.Is(err, brain.ErrNoModulesAvailable)
}

// ═══════════════════════════════════════════════════════════════════════════════
// LIFECYCLE EVENTS
// ═══════════════════════════════════════════════════════════════════════════════

// busObserver publishes module lifecycle events for one Process call.
type busObserver struct {
	bus       *bus.Bus
	requestID string
	task      string
}

func (o *busObserver) ModuleStarted(id brain.ModuleID) {
	_ = o.bus.Publish(bus.ModuleEvent(bus.EventModuleStart, o.requestID, id.String(), o.task))
}

func (o *busObserver) ModuleCompleted(id brain.ModuleID, result *brain.ModuleResult) {
	ev := bus.ModuleEvent(bus.EventModuleComplete, o.requestID, id.String(), o.task)
	ev.Confidence = result.Confidence
	ev.DurationMs = result.Meta.Duration.Milliseconds()
	_ = o.bus.Publish(ev)
}

func (o *busObserver) ModuleDropped(id brain.ModuleID, reason string) {
	ev := bus.ModuleEvent(bus.EventModuleDropped, o.requestID, id.String(), o.task)
	ev.Error = reason
	_ = o.bus.Publish(ev)
}

var _ brain.Observer = (*busObserver)(nil)
