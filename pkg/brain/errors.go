package brain

import "errors"

var (
	// ErrInvalidInput marks a payload that fails a module precondition.
	ErrInvalidInput = errors.New("invalid input")

	// ErrModuleDropped marks a recoverable module failure. The module is
	// removed from the fusion set and the call continues.
	ErrModuleDropped = errors.New("module dropped")

	// ErrNoModulesAvailable is returned when nothing survives to fusion.
	ErrNoModulesAvailable = errors.New("no modules available")

	// ErrInvariantBreach marks broken internal state. Never recovered.
	ErrInvariantBreach = errors.New("invariant breach")
)

// IsFatal reports whether err must abort the whole call instead of dropping
// the module that produced it.
func IsFatal(err error) bool {
	return errors.Is(err, ErrInvalidInput) || errors.Is(err, ErrInvariantBreach)
}
