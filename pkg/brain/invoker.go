package brain

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// InvocationStatus represents the state of one module invocation.
type InvocationStatus string

const (
	// InvocationCompleted indicates the module returned a result.
	InvocationCompleted InvocationStatus = "completed"
	// InvocationDropped indicates the module missed its deadline or failed recoverably.
	InvocationDropped InvocationStatus = "dropped"
	// InvocationFailed indicates a fatal error that aborts the call.
	InvocationFailed InvocationStatus = "failed"
)

// Invocation is the outcome of running a single module.
type Invocation struct {
	Module    ModuleID
	Status    InvocationStatus
	Result    *ModuleResult
	Err       error
	StartedAt time.Time
	Duration  time.Duration
}

// Observer receives module lifecycle notifications. Calls may arrive from
// several goroutines at once.
type Observer interface {
	ModuleStarted(id ModuleID)
	ModuleCompleted(id ModuleID, result *ModuleResult)
	ModuleDropped(id ModuleID, reason string)
}

// Invoker runs modules concurrently, each on its own copy of the input and
// under its own deadline.
type Invoker struct {
	deadline time.Duration
	observer Observer
	inflight *sync.WaitGroup
}

// InvokerOption configures the Invoker.
type InvokerOption func(*Invoker)

// WithDeadline bounds every module invocation. Zero means no limit.
func WithDeadline(d time.Duration) InvokerOption {
	return func(inv *Invoker) {
		if d >= 0 {
			inv.deadline = d
		}
	}
}

// WithObserver attaches a lifecycle observer.
func WithObserver(o Observer) InvokerOption {
	return func(inv *Invoker) {
		inv.observer = o
	}
}

// WithInFlight counts every module goroutine on wg until its Process call
// returns, including calls that outlive their deadline. Owners wait on wg
// before touching module state exclusively.
func WithInFlight(wg *sync.WaitGroup) InvokerOption {
	return func(inv *Invoker) {
		inv.inflight = wg
	}
}

// NewInvoker creates an Invoker with the given options.
func NewInvoker(opts ...InvokerOption) *Invoker {
	inv := &Invoker{}
	for _, opt := range opts {
		opt(inv)
	}
	return inv
}

// Invoke runs every module and waits for all of them. Results come back in
// the order of modules. A fatal error from any module is returned after all
// invocations finish; recoverable failures only mark the invocation dropped.
func (inv *Invoker) Invoke(ctx context.Context, modules []Module, input ModuleInput) ([]*Invocation, error) {
	out := make([]*Invocation, len(modules))

	var wg sync.WaitGroup
	for i, m := range modules {
		wg.Add(1)
		go func(i int, m Module) {
			defer wg.Done()
			out[i] = inv.invokeOne(ctx, m, ModuleInput{Payload: input.Payload.Clone(), Task: input.Task})
		}(i, m)
	}
	wg.Wait()

	var fatal []error
	for _, o := range out {
		if o.Status == InvocationFailed {
			fatal = append(fatal, fmt.Errorf("%s: %w", o.Module, o.Err))
		}
	}
	if len(fatal) > 0 {
		return out, errors.Join(fatal...)
	}
	return out, nil
}

type moduleReturn struct {
	result *ModuleResult
	err    error
}

// invokeOne runs a module under the deadline. A module that outlives its
// deadline keeps running in the background with a canceled context; its late
// result is discarded.
func (inv *Invoker) invokeOne(ctx context.Context, m Module, input ModuleInput) *Invocation {
	o := &Invocation{Module: m.ID(), StartedAt: time.Now()}

	if inv.deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, inv.deadline)
		defer cancel()
	}

	if inv.observer != nil {
		inv.observer.ModuleStarted(o.Module)
	}

	// Check for cancellation before starting
	if err := ctx.Err(); err != nil {
		return inv.drop(o, err)
	}

	done := make(chan moduleReturn, 1)
	if inv.inflight != nil {
		inv.inflight.Add(1)
	}
	go func() {
		if inv.inflight != nil {
			defer inv.inflight.Done()
		}
		res, err := m.Process(ctx, input)
		done <- moduleReturn{result: res, err: err}
	}()

	select {
	case <-ctx.Done():
		return inv.drop(o, ctx.Err())
	case r := <-done:
		o.Duration = time.Since(o.StartedAt)
		switch {
		case r.err != nil && IsFatal(r.err):
			o.Status = InvocationFailed
			o.Err = r.err
			return o
		case r.err != nil:
			return inv.drop(o, r.err)
		case r.result == nil:
			return inv.drop(o, fmt.Errorf("%w: module returned no result", ErrModuleDropped))
		case ctx.Err() != nil:
			return inv.drop(o, ctx.Err())
		}

		r.result.Module = o.Module
		r.result.Meta = ModuleMeta{StartedAt: o.StartedAt, Duration: o.Duration}
		o.Status = InvocationCompleted
		o.Result = r.result
		if inv.observer != nil {
			inv.observer.ModuleCompleted(o.Module, r.result)
		}
		return o
	}
}

func (inv *Invoker) drop(o *Invocation, err error) *Invocation {
	o.Status = InvocationDropped
	o.Err = err
	if o.Duration == 0 {
		o.Duration = time.Since(o.StartedAt)
	}
	if inv.observer != nil {
		inv.observer.ModuleDropped(o.Module, DropReason(err))
	}
	return o
}

// DropReason renders err as the warning stored in a fused result.
func DropReason(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "deadline exceeded"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case err == nil:
		return "dropped"
	default:
		return err.Error()
	}
}
