package sim

import (
	"encoding/binary"
	"math"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"

	"github.com/zeusync/scenesync/internal/core/physics"
	"github.com/zeusync/scenesync/internal/core/scene"
	"github.com/zeusync/scenesync/internal/core/spatial"
)

// Snapshot is the presentation state of one frame. It holds copies only and
// is never modified after Build returns, so it can be handed to any number
// of readers on other goroutines.
type Snapshot struct {
	runID string
	frame uint64
	tick  uint64
	alpha float64

	ids        []scene.NodeID
	parents    []scene.NodeID
	index      map[scene.NodeID]int
	transforms map[scene.NodeID]spatial.Transform
}

func (s *Snapshot) Get(id scene.NodeID) (spatial.Transform, bool) {
	t, ok := s.transforms[id]
	return t, ok
}

func (s *Snapshot) Len() int { return len(s.ids) }

// IDs returns the nodes in scene walk order.
func (s *Snapshot) IDs() []scene.NodeID {
	return append([]scene.NodeID(nil), s.ids...)
}

// Parent returns the node's parent at build time.
func (s *Snapshot) Parent(id scene.NodeID) scene.NodeID {
	if i, ok := s.index[id]; ok {
		return s.parents[i]
	}
	return scene.NoNode
}

// Each visits nodes in walk order until fn returns false.
func (s *Snapshot) Each(fn func(id, parent scene.NodeID, t spatial.Transform) bool) {
	for i, id := range s.ids {
		if !fn(id, s.parents[i], s.transforms[id]) {
			return
		}
	}
}

func (s *Snapshot) RunID() string  { return s.runID }
func (s *Snapshot) Frame() uint64  { return s.frame }
func (s *Snapshot) Tick() uint64   { return s.tick }
func (s *Snapshot) Alpha() float64 { return s.alpha }

// Digest hashes node ids and transforms in walk order. Two snapshots with
// the same digest present the same scene.
func (s *Snapshot) Digest() uint64 {
	h := xxhash.New()
	var buf [8]byte
	put := func(v uint64) {
		binary.LittleEndian.PutUint64(buf[:], v)
		_, _ = h.Write(buf[:])
	}
	for i, id := range s.ids {
		t := s.transforms[id]
		put(uint64(id))
		put(uint64(s.parents[i]))
		for _, f := range [...]float64{
			t.Position[0], t.Position[1], t.Position[2],
			t.Orientation.W, t.Orientation.V[0], t.Orientation.V[1], t.Orientation.V[2],
			t.Scale[0], t.Scale[1], t.Scale[2],
		} {
			put(math.Float64bits(f))
		}
	}
	return h.Sum64()
}

// SnapshotBuilder renders the scene graph into snapshots.
//
// Simulated nodes are interpolated between their last two ticks. Kinematic
// and unbound nodes use their world transform, unless inherit is set and an
// ancestor was interpolated, in which case they are composed onto the
// ancestor's presented transform so attached props stay attached.
type SnapshotBuilder struct {
	graph   *scene.Graph
	proxies *physics.ProxyTable
	inherit bool

	shifted map[scene.NodeID]bool
}

func NewSnapshotBuilder(graph *scene.Graph, proxies *physics.ProxyTable, inheritInterpolation bool) *SnapshotBuilder {
	return &SnapshotBuilder{
		graph:   graph,
		proxies: proxies,
		inherit: inheritInterpolation,
		shifted: make(map[scene.NodeID]bool),
	}
}

// Build walks the whole graph. Reading world transforms refreshes the
// graph's caches; nothing else in the graph changes.
func (b *SnapshotBuilder) Build(runID string, frame, tick uint64, alpha float64) *Snapshot {
	n := b.graph.Len()
	s := &Snapshot{
		runID:      runID,
		frame:      frame,
		tick:       tick,
		alpha:      alpha,
		ids:        make([]scene.NodeID, 0, n),
		parents:    make([]scene.NodeID, 0, n),
		index:      make(map[scene.NodeID]int, n),
		transforms: make(map[scene.NodeID]spatial.Transform, n),
	}
	clear(b.shifted)

	b.graph.Walk(func(id scene.NodeID, _ int) bool {
		parent, _ := b.graph.Parent(id)
		t, shifted := b.present(id, parent, s, alpha)
		if shifted {
			b.shifted[id] = true
		}
		s.index[id] = len(s.ids)
		s.ids = append(s.ids, id)
		s.parents = append(s.parents, parent)
		s.transforms[id] = t
		return true
	})
	return s
}

func (b *SnapshotBuilder) present(id, parent scene.NodeID, s *Snapshot, alpha float64) (spatial.Transform, bool) {
	world, _ := b.graph.WorldTransform(id)

	if pid, ok := b.proxies.Lookup(id); ok {
		kinematic, _ := b.proxies.IsKinematic(pid)
		if !kinematic {
			if sample, err := b.proxies.Sample(pid); err == nil {
				return spatial.Transform{
					Position:    spatial.Lerp(sample.Previous.Position, sample.Current.Position, alpha),
					Orientation: spatial.Slerp(sample.Previous.Orientation, sample.Current.Orientation, alpha),
					Scale:       world.Scale,
				}, true
			}
		}
	}

	if b.inherit && parent != scene.NoNode && b.shifted[parent] {
		local, _ := b.graph.LocalTransform(id)
		return s.transforms[parent].Compose(local), true
	}
	return world, false
}

// Exchange hands the latest snapshot from the simulation goroutine to any
// number of readers.
type Exchange struct {
	latest    atomic.Pointer[Snapshot]
	published atomic.Uint64
}

func NewExchange() *Exchange {
	return &Exchange{}
}

// Publish replaces the current snapshot. The caller must not touch s
// afterwards.
func (x *Exchange) Publish(s *Snapshot) {
	x.latest.Store(s)
	x.published.Add(1)
}

// Latest returns the most recent snapshot or nil.
func (x *Exchange) Latest() *Snapshot {
	return x.latest.Load()
}

// Published counts Publish calls.
func (x *Exchange) Published() uint64 {
	return x.published.Load()
}
