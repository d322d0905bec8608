// Package spatial holds the translation/rotation/scale value type shared by
// the scene graph, the physics proxies and the render snapshots.
package spatial

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// Transform is a TRS transform. Orientation is kept as a unit quaternion.
// The zero value is not usable; start from Identity.
type Transform struct {
	Position    mgl64.Vec3
	Orientation mgl64.Quat
	Scale       mgl64.Vec3
}

// Identity returns the transform that leaves points unchanged.
func Identity() Transform {
	return Transform{
		Orientation: mgl64.QuatIdent(),
		Scale:       mgl64.Vec3{1, 1, 1},
	}
}

// New builds a transform and normalizes the orientation.
func New(position mgl64.Vec3, orientation mgl64.Quat, scale mgl64.Vec3) Transform {
	return Transform{
		Position:    position,
		Orientation: orientation.Normalize(),
		Scale:       scale,
	}
}

// Translation is a shortcut for an unrotated, unscaled transform at p.
func Translation(p mgl64.Vec3) Transform {
	t := Identity()
	t.Position = p
	return t
}

// Compose returns t ∘ child: the child expressed in t's parent space.
// Scale is composed per axis in the child's frame, so non-uniform parent
// scale under a rotated child is approximated (no shear is produced).
func (t Transform) Compose(child Transform) Transform {
	return Transform{
		Position:    t.Position.Add(t.Orientation.Rotate(mulElem(t.Scale, child.Position))),
		Orientation: t.Orientation.Mul(child.Orientation).Normalize(),
		Scale:       mulElem(t.Scale, child.Scale),
	}
}

// ToLocal is the inverse of Compose: it returns l such that
// t.Compose(l) reproduces world.
func (t Transform) ToLocal(world Transform) Transform {
	inv := t.Orientation.Inverse()
	return Transform{
		Position:    divElem(inv.Rotate(world.Position.Sub(t.Position)), t.Scale),
		Orientation: inv.Mul(world.Orientation).Normalize(),
		Scale:       divElem(world.Scale, t.Scale),
	}
}

// TransformPoint maps a point from local space into t's parent space.
func (t Transform) TransformPoint(p mgl64.Vec3) mgl64.Vec3 {
	return t.Position.Add(t.Orientation.Rotate(mulElem(t.Scale, p)))
}

// Mat4 returns the column-major model matrix T*R*S.
func (t Transform) Mat4() mgl64.Mat4 {
	return mgl64.Translate3D(t.Position[0], t.Position[1], t.Position[2]).
		Mul4(t.Orientation.Mat4()).
		Mul4(mgl64.Scale3D(t.Scale[0], t.Scale[1], t.Scale[2]))
}

// Valid reports whether every component is finite, the orientation is
// non-degenerate and no scale axis is zero.
func (t Transform) Valid() bool {
	for i := 0; i < 3; i++ {
		if !finite(t.Position[i]) || !finite(t.Scale[i]) || t.Scale[i] == 0 {
			return false
		}
	}
	if !finite(t.Orientation.W) || !finite(t.Orientation.V[0]) ||
		!finite(t.Orientation.V[1]) || !finite(t.Orientation.V[2]) {
		return false
	}
	return t.Orientation.Len() > 1e-9
}

// ApproxEqual compares component-wise within eps. q and -q are treated as
// the same rotation.
func (t Transform) ApproxEqual(o Transform, eps float64) bool {
	if !VecApproxEqual(t.Position, o.Position, eps) || !VecApproxEqual(t.Scale, o.Scale, eps) {
		return false
	}
	return QuatApproxEqual(t.Orientation, o.Orientation, eps)
}

// VecApproxEqual compares with an absolute tolerance per component.
func VecApproxEqual(a, b mgl64.Vec3, eps float64) bool {
	for i := 0; i < 3; i++ {
		if math.Abs(a[i]-b[i]) > eps {
			return false
		}
	}
	return true
}

// QuatApproxEqual compares two rotations with an absolute tolerance,
// ignoring quaternion sign.
func QuatApproxEqual(a, b mgl64.Quat, eps float64) bool {
	same := func(q mgl64.Quat) bool {
		return math.Abs(a.W-q.W) <= eps && VecApproxEqual(a.V, q.V, eps)
	}
	return same(b) || same(b.Scale(-1))
}

// Lerp linearly interpolates two positions. alpha == 0 returns a exactly.
func Lerp(a, b mgl64.Vec3, alpha float64) mgl64.Vec3 {
	if alpha == 0 {
		return a
	}
	return a.Add(b.Sub(a).Mul(alpha))
}

// Slerp spherically interpolates along the shortest arc and returns a unit
// quaternion. alpha == 0 returns a exactly.
func Slerp(a, b mgl64.Quat, alpha float64) mgl64.Quat {
	if alpha == 0 {
		return a
	}
	if a.Dot(b) < 0 {
		b = b.Scale(-1)
	}
	return mgl64.QuatSlerp(a, b, alpha).Normalize()
}

func mulElem(a, b mgl64.Vec3) mgl64.Vec3 {
	return mgl64.Vec3{a[0] * b[0], a[1] * b[1], a[2] * b[2]}
}

func divElem(a, b mgl64.Vec3) mgl64.Vec3 {
	return mgl64.Vec3{a[0] / b[0], a[1] / b[1], a[2] / b[2]}
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
