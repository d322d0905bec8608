package config

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/zeusync/scenesync/internal/core/physics"
	"github.com/zeusync/scenesync/internal/core/spatial"
)

// NodeConfig spawns one scene node at startup. Parents are referenced by
// name and must be listed before their children.
type NodeConfig struct {
	Name      string          `json:"name" yaml:"name"`
	Parent    string          `json:"parent,omitempty" yaml:"parent,omitempty"`
	Position  [3]float64      `json:"position" yaml:"position"`
	Rotation  *RotationConfig `json:"rotation,omitempty" yaml:"rotation,omitempty"`
	Scale     *[3]float64     `json:"scale,omitempty" yaml:"scale,omitempty"`
	Kinematic bool            `json:"kinematic" yaml:"kinematic"`
	Body      *BodyConfig     `json:"body,omitempty" yaml:"body,omitempty"`
}

// RotationConfig is an axis-angle rotation in degrees.
type RotationConfig struct {
	Axis  [3]float64 `json:"axis" yaml:"axis"`
	Angle float64    `json:"angle" yaml:"angle"`
}

type BodyConfig struct {
	Mass            float64    `json:"mass" yaml:"mass"`
	Velocity        [3]float64 `json:"velocity" yaml:"velocity"`
	AngularVelocity [3]float64 `json:"angular_velocity" yaml:"angular_velocity"`
	LinearDamping   float64    `json:"linear_damping" yaml:"linear_damping"`
	AngularDamping  float64    `json:"angular_damping" yaml:"angular_damping"`
	DisableGravity  bool       `json:"disable_gravity" yaml:"disable_gravity"`
}

// Transform is the node's initial local transform.
func (n NodeConfig) Transform() spatial.Transform {
	rot := mgl64.QuatIdent()
	if n.Rotation != nil && n.Rotation.Angle != 0 {
		axis := mgl64.Vec3(n.Rotation.Axis)
		rot = mgl64.QuatRotate(mgl64.DegToRad(n.Rotation.Angle), axis.Normalize())
	}
	scale := mgl64.Vec3{1, 1, 1}
	if n.Scale != nil {
		scale = *n.Scale
	}
	return spatial.New(n.Position, rot, scale)
}

// Spec converts the body settings. Kinematic is decided by the node.
func (b BodyConfig) Spec() physics.BodySpec {
	return physics.BodySpec{
		Mass:            b.Mass,
		LinearVelocity:  b.Velocity,
		AngularVelocity: b.AngularVelocity,
		LinearDamping:   b.LinearDamping,
		AngularDamping:  b.AngularDamping,
		DisableGravity:  b.DisableGravity,
	}
}

func (s SceneConfig) Validate() error {
	seen := make(map[string]struct{}, len(s.Nodes))
	for i, n := range s.Nodes {
		if n.Name == "" {
			return fmt.Errorf("scene.nodes[%d]: name is required", i)
		}
		if _, dup := seen[n.Name]; dup {
			return fmt.Errorf("scene.nodes[%d]: duplicate name %q", i, n.Name)
		}
		if n.Parent != "" {
			if _, ok := seen[n.Parent]; !ok {
				return fmt.Errorf("scene.nodes[%d]: parent %q must be declared before %q", i, n.Parent, n.Name)
			}
		}
		if n.Rotation != nil && n.Rotation.Angle != 0 && mgl64.Vec3(n.Rotation.Axis).Len() == 0 {
			return fmt.Errorf("scene.nodes[%d]: rotation axis is zero", i)
		}
		if !n.Transform().Valid() {
			return fmt.Errorf("scene.nodes[%d]: invalid transform", i)
		}
		if n.Body != nil {
			if err := n.Body.Spec().Validate(); err != nil {
				return fmt.Errorf("scene.nodes[%d]: %w", i, err)
			}
		}
		seen[n.Name] = struct{}{}
	}
	return nil
}
