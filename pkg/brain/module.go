package brain

import "context"

// Module is the interface every reasoning module implements.
// Modules own their state and never reference each other.
type Module interface {
	// ID returns the unique identifier for this module
	ID() ModuleID

	// Process runs the module on its own copy of the input
	Process(ctx context.Context, input ModuleInput) (*ModuleResult, error)
}

// Resetter is implemented by modules with per-call state to clear.
type Resetter interface {
	Reset()
}

// ModuleInput is what a module receives for one invocation.
type ModuleInput struct {
	Payload Payload `json:"payload"`
	Task    string  `json:"task"`
}
