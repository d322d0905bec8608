package sim

import (
	"errors"
	"fmt"
	"sort"

	"github.com/zeusync/scenesync/internal/core/clock"
	"github.com/zeusync/scenesync/internal/core/physics"
	"github.com/zeusync/scenesync/internal/core/scene"
)

// Synchronizer runs the per-frame pass between scene graph and physics:
// push kinematic poses, advance the clock (which steps the proxies), pull
// simulated poses back into local transforms. World transforms are left
// dirty for whoever reads them next.
type Synchronizer struct {
	graph   *scene.Graph
	proxies *physics.ProxyTable
	clock   *clock.Clock

	pull []pullItem
}

type pullItem struct {
	binding physics.Binding
	depth   int
}

func NewSynchronizer(graph *scene.Graph, proxies *physics.ProxyTable, clk *clock.Clock) *Synchronizer {
	return &Synchronizer{graph: graph, proxies: proxies, clock: clk}
}

// Run executes one pass for elapsed seconds of wall time. If a tick fails
// the whole frame is abandoned: proxy history returns to its pre-frame
// state, the pull-back is skipped and the scene keeps its pre-frame local
// transforms.
//
// Nodes that cannot be pushed or pulled are reported in the returned error
// without holding back the rest of the scene.
func (s *Synchronizer) Run(elapsed float64) (clock.Frame, error) {
	pushErr := s.pushKinematic()
	s.proxies.Checkpoint()
	frame, err := s.clock.Advance(elapsed, s.proxies.Step)
	if err != nil {
		s.proxies.Rollback()
		return frame, errors.Join(err, pushErr)
	}
	if frame.Ticks == 0 {
		return frame, pushErr
	}
	return frame, errors.Join(pushErr, s.pullBack())
}

func (s *Synchronizer) pushKinematic() error {
	var errs []error
	s.proxies.Each(func(b physics.Binding) bool {
		if !b.Kinematic {
			return true
		}
		world, err := s.graph.WorldTransform(b.Node)
		if err == nil {
			err = s.proxies.PushKinematic(b.ID, world)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("push kinematic %s: %w", b.Node, err))
		}
		return true
	})
	return errors.Join(errs...)
}

// pullBack writes the latest tick into the owning nodes. Shallow nodes go
// first so a simulated child is converted against its parent's new pose.
// A node that cannot be written does not stop the others.
func (s *Synchronizer) pullBack() error {
	items := s.pull[:0]
	s.proxies.Each(func(b physics.Binding) bool {
		if !b.Kinematic {
			items = append(items, pullItem{binding: b, depth: s.depth(b.Node)})
		}
		return true
	})
	sort.SliceStable(items, func(i, j int) bool { return items[i].depth < items[j].depth })

	var errs []error
	for _, it := range items {
		if err := s.pullOne(it.binding); err != nil {
			errs = append(errs, fmt.Errorf("pull back %s: %w", it.binding.Node, err))
		}
	}
	clear(items)
	s.pull = items[:0]
	return errors.Join(errs...)
}

func (s *Synchronizer) pullOne(b physics.Binding) error {
	sample, err := s.proxies.Sample(b.ID)
	if errors.Is(err, physics.ErrNoSimulationYet) {
		return nil
	}
	if err != nil {
		return err
	}
	local, err := s.graph.LocalTransform(b.Node)
	if err != nil {
		return err
	}
	parent, err := s.graph.Parent(b.Node)
	if err != nil {
		return err
	}

	if parent == scene.NoNode {
		return s.graph.SetLocalTransform(b.Node, sample.Current.Transform(local.Scale))
	}
	parentWorld, err := s.graph.WorldTransform(parent)
	if err != nil {
		return err
	}
	next := parentWorld.ToLocal(sample.Current.Transform(local.Scale))
	// bodies do not scale; keep the authored scale bit for bit
	next.Scale = local.Scale
	return s.graph.SetLocalTransform(b.Node, next)
}

func (s *Synchronizer) depth(id scene.NodeID) int {
	d := 0
	for {
		p, err := s.graph.Parent(id)
		if err != nil || p == scene.NoNode {
			return d
		}
		id = p
		d++
	}
}
