package physics

import "errors"

// Proxy table errors are recoverable. ErrStepFailed is fatal for the tick
// that produced it.
var (
	ErrAlreadyBound    = errors.New("node already has a physics proxy")
	ErrUnknownProxy    = errors.New("unknown physics proxy")
	ErrNotKinematic    = errors.New("physics proxy is not kinematic")
	ErrNotDynamic      = errors.New("physics proxy is not dynamic")
	ErrNoSimulationYet = errors.New("no simulation tick has completed for proxy")
	ErrUnsupported     = errors.New("physics engine does not support operation")
	ErrStepFailed      = errors.New("physics step failed")

	// Oracle errors

	ErrUnknownBody     = errors.New("unknown rigid body")
	ErrInvalidBodySpec = errors.New("invalid rigid body spec")
	ErrUnstable        = errors.New("numerical instability")
)
