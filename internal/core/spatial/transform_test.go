package spatial

import (
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
)

const eps = 1e-9

func TestComposeTranslatesChild(t *testing.T) {
	parent := Translation(mgl64.Vec3{5, 0, 0})
	child := Translation(mgl64.Vec3{1, 0, 0})

	world := parent.Compose(child)

	assert.True(t, VecApproxEqual(world.Position, mgl64.Vec3{6, 0, 0}, eps), world.Position)
}

func TestComposeOrderIsParentThenChild(t *testing.T) {
	parent := Identity()
	parent.Orientation = mgl64.QuatRotate(math.Pi/2, mgl64.Vec3{0, 0, 1})
	parent.Scale = mgl64.Vec3{2, 2, 2}
	child := Translation(mgl64.Vec3{1, 0, 0})

	world := parent.Compose(child)

	// (1,0,0) scaled by 2 then rotated 90° about Z lands on (0,2,0).
	assert.True(t, VecApproxEqual(world.Position, mgl64.Vec3{0, 2, 0}, eps), world.Position)
	assert.True(t, VecApproxEqual(world.Scale, mgl64.Vec3{2, 2, 2}, eps))

	reversed := child.Compose(parent)
	assert.False(t, VecApproxEqual(reversed.Position, world.Position, eps))
}

func TestToLocalInvertsCompose(t *testing.T) {
	parent := New(
		mgl64.Vec3{1, -2, 3},
		mgl64.QuatRotate(0.7, mgl64.Vec3{1, 1, 0}.Normalize()),
		mgl64.Vec3{2, 0.5, 3},
	)
	local := New(
		mgl64.Vec3{0.25, 4, -1},
		mgl64.QuatRotate(-1.1, mgl64.Vec3{0, 1, 0}),
		mgl64.Vec3{1, 2, 1},
	)

	world := parent.Compose(local)
	back := parent.ToLocal(world)

	assert.True(t, back.ApproxEqual(local, 1e-9), "%+v != %+v", back, local)
}

func TestMat4MatchesTransformPoint(t *testing.T) {
	tr := New(mgl64.Vec3{1, 2, 3}, mgl64.QuatRotate(0.3, mgl64.Vec3{0, 0, 1}), mgl64.Vec3{2, 1, 1})
	p := mgl64.Vec3{1, 1, 1}

	viaMatrix := tr.Mat4().Mul4x1(p.Vec4(1)).Vec3()

	assert.True(t, VecApproxEqual(viaMatrix, tr.TransformPoint(p), 1e-9))
}

func TestValid(t *testing.T) {
	assert.True(t, Identity().Valid())

	zeroScale := Identity()
	zeroScale.Scale = mgl64.Vec3{1, 0, 1}
	assert.False(t, zeroScale.Valid())

	nan := Identity()
	nan.Position = mgl64.Vec3{math.NaN(), 0, 0}
	assert.False(t, nan.Valid())

	assert.False(t, Transform{Scale: mgl64.Vec3{1, 1, 1}}.Valid())
}

func TestInterpolationEndpoints(t *testing.T) {
	a := mgl64.Vec3{0, 10, 0}
	b := mgl64.Vec3{0, 9, 0}
	qa := mgl64.QuatRotate(0.1, mgl64.Vec3{0, 1, 0})
	qb := mgl64.QuatRotate(0.9, mgl64.Vec3{0, 1, 0})

	assert.Equal(t, a, Lerp(a, b, 0))
	assert.Equal(t, qa, Slerp(qa, qb, 0))

	nearEnd := 1 - 1e-6
	assert.NotEqual(t, b, Lerp(a, b, nearEnd))
	assert.Less(t, b.Sub(Lerp(a, b, nearEnd)).Len(), 1e-5)
	assert.False(t, QuatApproxEqual(Slerp(qa, qb, nearEnd), qb, 1e-12))
	assert.True(t, QuatApproxEqual(Slerp(qa, qb, nearEnd), qb, 1e-5))
}

func TestSlerpTakesShortestArc(t *testing.T) {
	a := mgl64.QuatIdent()
	b := mgl64.QuatRotate(0.4, mgl64.Vec3{0, 0, 1}).Scale(-1)

	mid := Slerp(a, b, 0.5)

	assert.True(t, QuatApproxEqual(mid, mgl64.QuatRotate(0.2, mgl64.Vec3{0, 0, 1}), 1e-9))
	assert.InDelta(t, 1.0, mid.Len(), 1e-12)
}
