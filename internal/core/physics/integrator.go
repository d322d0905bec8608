package physics

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// DefaultGravity points down the Y axis in m/s².
var DefaultGravity = mgl64.Vec3{0, -9.81, 0}

// DefaultMaxCoordinate bounds positions before a body is reported unstable.
const DefaultMaxCoordinate = 1e6

// IntegratorConfig configures the built-in solver.
type IntegratorConfig struct {
	Gravity       mgl64.Vec3
	MaxCoordinate float64
}

// DefaultIntegratorConfig returns standard earth gravity.
func DefaultIntegratorConfig() IntegratorConfig {
	return IntegratorConfig{Gravity: DefaultGravity, MaxCoordinate: DefaultMaxCoordinate}
}

type body struct {
	spec    BodySpec
	pose    Pose
	vel     mgl64.Vec3
	angVel  mgl64.Vec3
	force   mgl64.Vec3
	invMass float64
}

// Integrator is a contact-free rigid body solver using semi-implicit Euler.
// It implements Engine and Forcer and is meant for tests, demos and scenes
// that only need ballistic motion.
type Integrator struct {
	cfg    IntegratorConfig
	bodies map[BodyHandle]*body
	next   BodyHandle
}

func NewIntegrator(cfg IntegratorConfig) *Integrator {
	if cfg.MaxCoordinate <= 0 {
		cfg.MaxCoordinate = DefaultMaxCoordinate
	}
	return &Integrator{
		cfg:    cfg,
		bodies: make(map[BodyHandle]*body),
	}
}

func (in *Integrator) CreateBody(spec BodySpec, initial Pose) (BodyHandle, error) {
	if err := spec.Validate(); err != nil {
		return 0, err
	}
	b := &body{
		spec:   spec,
		pose:   normalizePose(initial),
		vel:    spec.LinearVelocity,
		angVel: spec.AngularVelocity,
	}
	if !spec.Kinematic && spec.Mass > 0 {
		b.invMass = 1 / spec.Mass
	}
	in.next++
	in.bodies[in.next] = b
	return in.next, nil
}

func (in *Integrator) Step(h BodyHandle, dt float64) (Pose, error) {
	b, err := in.body(h)
	if err != nil {
		return Pose{}, err
	}
	if b.spec.Kinematic || b.spec.Static() {
		return b.pose, nil
	}

	acc := b.force.Mul(b.invMass)
	if !b.spec.DisableGravity {
		acc = acc.Add(in.cfg.Gravity)
	}
	b.force = mgl64.Vec3{}

	b.vel = b.vel.Add(acc.Mul(dt)).Mul(damp(b.spec.LinearDamping, dt))
	b.angVel = b.angVel.Mul(damp(b.spec.AngularDamping, dt))

	pos := b.pose.Position.Add(b.vel.Mul(dt))
	rot := b.pose.Orientation
	if w := b.angVel.Len(); w > 0 {
		delta := mgl64.QuatRotate(w*dt, b.angVel.Mul(1/w))
		rot = delta.Mul(rot).Normalize()
	}

	for i := 0; i < 3; i++ {
		if !finite(pos[i]) || math.Abs(pos[i]) > in.cfg.MaxCoordinate {
			return Pose{}, fmt.Errorf("%w: body %d at %v", ErrUnstable, h, pos)
		}
	}
	if !finite(rot.W) || !finite(rot.V[0]) || !finite(rot.V[1]) || !finite(rot.V[2]) {
		return Pose{}, fmt.Errorf("%w: body %d orientation", ErrUnstable, h)
	}

	b.pose = Pose{Position: pos, Orientation: rot}
	return b.pose, nil
}

func (in *Integrator) SetPose(h BodyHandle, pose Pose) error {
	b, err := in.body(h)
	if err != nil {
		return err
	}
	b.pose = normalizePose(pose)
	return nil
}

func (in *Integrator) DestroyBody(h BodyHandle) error {
	if _, err := in.body(h); err != nil {
		return err
	}
	delete(in.bodies, h)
	return nil
}

func (in *Integrator) ApplyImpulse(h BodyHandle, impulse mgl64.Vec3) error {
	b, err := in.body(h)
	if err != nil {
		return err
	}
	b.vel = b.vel.Add(impulse.Mul(b.invMass))
	return nil
}

func (in *Integrator) ApplyForce(h BodyHandle, force mgl64.Vec3) error {
	b, err := in.body(h)
	if err != nil {
		return err
	}
	b.force = b.force.Add(force)
	return nil
}

// Velocity returns the body's linear velocity.
func (in *Integrator) Velocity(h BodyHandle) (mgl64.Vec3, error) {
	b, err := in.body(h)
	if err != nil {
		return mgl64.Vec3{}, err
	}
	return b.vel, nil
}

// Bodies returns the number of live bodies.
func (in *Integrator) Bodies() int { return len(in.bodies) }

func (in *Integrator) body(h BodyHandle) (*body, error) {
	b, ok := in.bodies[h]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownBody, h)
	}
	return b, nil
}

func damp(rate, dt float64) float64 {
	return math.Max(0, 1-rate*dt)
}

func normalizePose(p Pose) Pose {
	if p.Orientation.Len() == 0 {
		p.Orientation = mgl64.QuatIdent()
	} else {
		p.Orientation = p.Orientation.Normalize()
	}
	return p
}

var (
	_ Engine = (*Integrator)(nil)
	_ Forcer = (*Integrator)(nil)
)
