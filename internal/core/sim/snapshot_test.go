package sim

import (
	"sync"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/scenesync/internal/core/physics"
	"github.com/zeusync/scenesync/internal/core/scene"
	"github.com/zeusync/scenesync/internal/core/spatial"
)

func fallingPair(t *testing.T, inherit bool) (*harness, scene.NodeID, scene.NodeID) {
	t.Helper()
	h := newHarness(t, 5, inherit)
	body, err := h.engine.CreateNode(scene.NoNode, scene.WithLocal(at(0, 10, 0)))
	require.NoError(t, err)
	prop, err := h.engine.CreateNode(body, scene.WithLocal(at(1, 0, 0)))
	require.NoError(t, err)
	_, err = h.engine.Bind(body, physics.BodySpec{Mass: 1})
	require.NoError(t, err)

	// one tick and half a tick of leftover
	_, err = h.engine.Frame(25 * time.Millisecond)
	require.NoError(t, err)
	return h, body, prop
}

func TestSnapshotInterpolatesSimulatedNodes(t *testing.T) {
	h, body, prop := fallingPair(t, false)
	s, err := h.engine.Sample(body)
	require.NoError(t, err)

	snap := h.engine.Snapshot()
	assert.InDelta(t, 0.5, snap.Alpha(), 1e-9)
	assert.Equal(t, uint64(1), snap.Tick())
	assert.Equal(t, uint64(1), snap.Frame())
	assert.Equal(t, h.engine.RunID(), snap.RunID())

	got, ok := snap.Get(body)
	require.True(t, ok)
	want := spatial.Lerp(s.Previous.Position, s.Current.Position, snap.Alpha())
	assert.Equal(t, want, got.Position)
	assert.Greater(t, got.Position.Y(), s.Current.Position.Y())
	assert.Less(t, got.Position.Y(), s.Previous.Position.Y())

	// unbound nodes use the raw world transform
	pw, err := h.engine.WorldTransform(prop)
	require.NoError(t, err)
	pg, ok := snap.Get(prop)
	require.True(t, ok)
	assert.Equal(t, pw, pg)
}

func TestSnapshotAlphaEndpoints(t *testing.T) {
	h, body, _ := fallingPair(t, false)
	s, err := h.engine.Sample(body)
	require.NoError(t, err)

	zero := h.engine.builder.Build(h.engine.RunID(), 0, 0, 0)
	got, _ := zero.Get(body)
	assert.Equal(t, s.Previous.Position, got.Position)
	assert.Equal(t, s.Previous.Orientation, got.Orientation)

	almost := h.engine.builder.Build(h.engine.RunID(), 0, 0, 1-1e-12)
	got, _ = almost.Get(body)
	assert.InDelta(t, s.Current.Position.Y(), got.Position.Y(), 1e-9)
}

func TestSnapshotInheritInterpolation(t *testing.T) {
	h, body, prop := fallingPair(t, true)
	snap := h.engine.Snapshot()

	b, _ := snap.Get(body)
	p, _ := snap.Get(prop)
	assert.Equal(t, b.Position.Add(mgl64.Vec3{1, 0, 0}), p.Position)

	pw, err := h.engine.WorldTransform(prop)
	require.NoError(t, err)
	assert.NotEqual(t, pw.Position, p.Position)
}

func TestSnapshotIsDetachedFromScene(t *testing.T) {
	h := newHarness(t, 5, false)
	a, _ := h.engine.CreateNode(scene.NoNode, scene.WithLocal(at(1, 2, 3)))
	b, _ := h.engine.CreateNode(a, scene.WithLocal(at(1, 0, 0)))

	first := h.engine.Snapshot()
	assert.Equal(t, []scene.NodeID{a, b}, first.IDs())
	assert.Equal(t, a, first.Parent(b))
	assert.Equal(t, scene.NoNode, first.Parent(a))
	assert.Equal(t, scene.NoNode, first.Parent(scene.NodeID(999)))
	assert.Equal(t, first.Digest(), h.engine.Snapshot().Digest())

	require.NoError(t, h.engine.SetLocalTransform(a, at(9, 9, 9)))
	got, _ := first.Get(b)
	assert.Equal(t, mgl64.Vec3{2, 2, 3}, got.Position)

	second := h.engine.Snapshot()
	assert.NotEqual(t, first.Digest(), second.Digest())

	ids := first.IDs()
	ids[0] = scene.NoNode
	assert.Equal(t, a, first.IDs()[0])

	_, ok := first.Get(scene.NodeID(999))
	assert.False(t, ok)
}

func TestSnapshotEachWalksInOrder(t *testing.T) {
	h := newHarness(t, 5, false)
	root, _ := h.engine.CreateNode(scene.NoNode)
	x, _ := h.engine.CreateNode(root)
	y, _ := h.engine.CreateNode(x)
	z, _ := h.engine.CreateNode(root)

	var order []scene.NodeID
	h.engine.Snapshot().Each(func(id, parent scene.NodeID, _ spatial.Transform) bool {
		order = append(order, id)
		return true
	})
	assert.Equal(t, []scene.NodeID{root, x, y, z}, order)
}

func TestExchangeHandsOffLatest(t *testing.T) {
	h := newHarness(t, 5, false)
	_, _ = h.engine.CreateNode(scene.NoNode)
	x := NewExchange()
	assert.Nil(t, x.Latest())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			if s := x.Latest(); s != nil {
				_ = s.Digest()
			}
		}
	}()
	for i := 0; i < 10; i++ {
		_, err := h.engine.Frame(20 * time.Millisecond)
		require.NoError(t, err)
		x.Publish(h.engine.Snapshot())
	}
	wg.Wait()

	assert.Equal(t, uint64(10), x.Published())
	assert.Equal(t, uint64(10), x.Latest().Frame())
}
