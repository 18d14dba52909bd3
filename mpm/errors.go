package mpm

import (
	"errors"
	"fmt"
)

// Driver usage and precondition errors.
var (
	// ErrInvalidTransition indicates a driver call out of lifecycle order,
	// such as Backward before the forward pass finished or Step past the last step.
	ErrInvalidTransition = errors.New("mpm: invalid step transition")

	// ErrOutOfDomain indicates a particle whose 3×3 stencil leaves the grid.
	ErrOutOfDomain = errors.New("mpm: particle stencil outside grid")

	// ErrBadInit indicates an initializer that failed or produced no particles.
	ErrBadInit = errors.New("mpm: initialization failed")
)

// StepError wraps an error with the step and particle it happened at.
type StepError struct {
	Step     int
	Particle int // -1 when not particle specific
	Phase    Phase
	Wrapped  error
}

func (e *StepError) Error() string {
	if e.Particle >= 0 {
		return fmt.Sprintf("%v (step %d, particle %d, %s)", e.Wrapped, e.Step, e.Particle, e.Phase)
	}
	return fmt.Sprintf("%v (step %d, %s)", e.Wrapped, e.Step, e.Phase)
}

func (e *StepError) Unwrap() error {
	return e.Wrapped
}
