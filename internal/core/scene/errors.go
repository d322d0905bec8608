package scene

import "errors"

// Scene graph errors. All of them are recoverable: the graph is left
// unchanged when an operation returns one.
var (
	ErrUnknownNode      = errors.New("unknown node")
	ErrInvalidParent    = errors.New("invalid parent")
	ErrCycleDetected    = errors.New("reparent would create a cycle")
	ErrInvalidPolicy    = errors.New("invalid destroy policy")
	ErrInvalidTransform = errors.New("invalid transform")
)
