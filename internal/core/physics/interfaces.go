// Package physics correlates scene nodes with rigid bodies owned by an
// external solver. The solver is treated as a stepping oracle: the package
// schedules and records its results but never resolves contacts itself.
package physics

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/zeusync/scenesync/internal/core/spatial"
)

// BodyHandle is the solver's identifier for a rigid body.
type BodyHandle uint64

// Engine is the stepping oracle contract. Any rigid-body solver can sit
// behind it without the synchronization logic changing.
type Engine interface {
	// CreateBody registers a body seeded at initial.
	CreateBody(spec BodySpec, initial Pose) (BodyHandle, error)
	// Step advances one body by dt seconds and returns its new pose.
	// Numerical trouble is reported as an error wrapping ErrUnstable.
	Step(body BodyHandle, dt float64) (Pose, error)
	// SetPose teleports a body; used for kinematic bodies before a tick.
	SetPose(body BodyHandle, pose Pose) error
	DestroyBody(body BodyHandle) error
}

// Forcer is an optional Engine capability for pushing dynamic bodies.
type Forcer interface {
	// ApplyImpulse changes velocity immediately.
	ApplyImpulse(body BodyHandle, impulse mgl64.Vec3) error
	// ApplyForce accumulates a force consumed by the next step.
	ApplyForce(body BodyHandle, force mgl64.Vec3) error
}

// Pose is a rigid placement. Rigid bodies do not scale.
type Pose struct {
	Position    mgl64.Vec3
	Orientation mgl64.Quat
}

// PoseOf drops the scale of a world transform.
func PoseOf(t spatial.Transform) Pose {
	return Pose{Position: t.Position, Orientation: t.Orientation}
}

// Transform rebuilds a transform around the pose with the given scale.
func (p Pose) Transform(scale mgl64.Vec3) spatial.Transform {
	return spatial.Transform{Position: p.Position, Orientation: p.Orientation, Scale: scale}
}

// BodySpec describes a rigid body to create.
type BodySpec struct {
	// Mass in kilograms. Zero on a non-kinematic body makes it static.
	Mass float64
	// Kinematic bodies are moved by PushKinematic only. Bind overrides it
	// with the owning node's kinematic flag.
	Kinematic       bool
	LinearVelocity  mgl64.Vec3
	AngularVelocity mgl64.Vec3
	// Damping is the fraction of velocity removed per second.
	LinearDamping  float64
	AngularDamping float64
	DisableGravity bool
}

// Static reports whether the body never moves.
func (s BodySpec) Static() bool {
	return !s.Kinematic && s.Mass == 0
}

func (s BodySpec) Validate() error {
	if s.Mass < 0 || math.IsNaN(s.Mass) || math.IsInf(s.Mass, 0) {
		return fmt.Errorf("%w: mass %v", ErrInvalidBodySpec, s.Mass)
	}
	if s.LinearDamping < 0 || s.AngularDamping < 0 {
		return fmt.Errorf("%w: negative damping", ErrInvalidBodySpec)
	}
	for i := 0; i < 3; i++ {
		if !finite(s.LinearVelocity[i]) || !finite(s.AngularVelocity[i]) {
			return fmt.Errorf("%w: non-finite velocity", ErrInvalidBodySpec)
		}
	}
	return nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
