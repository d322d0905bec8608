// Package scene owns the spatial hierarchy: an arena of transform nodes
// forming a forest, with lazily recomputed world transforms.
//
// A Graph is owned by the simulation thread and is not safe for concurrent
// use. Readers on other goroutines consume render snapshots instead.
package scene

import (
	"fmt"

	"github.com/zeusync/scenesync/internal/core/spatial"
)

type slot struct {
	generation uint32
	alive      bool
	node       node
}

// Graph is an index-addressed forest of nodes.
//
// Dirty flags are pushed on write and pulled on read: writes mark the
// subtree dirty, WorldTransform recomputes from the nearest clean ancestor.
// A clean node always has a clean parent, so a dirty node always has an
// entirely dirty subtree.
type Graph struct {
	slots []slot
	free  []uint32
	roots []NodeID
	count int

	chain []*node
	stack []NodeID
}

// NewGraph returns an empty graph.
func NewGraph() *Graph {
	return &Graph{}
}

// Len returns the number of live nodes.
func (g *Graph) Len() int { return g.count }

// Exists reports whether id refers to a live node.
func (g *Graph) Exists(id NodeID) bool {
	_, ok := g.lookup(id)
	return ok
}

func (g *Graph) lookup(id NodeID) (*node, bool) {
	if id == NoNode {
		return nil, false
	}
	idx := id.slot()
	if int(idx) >= len(g.slots) {
		return nil, false
	}
	s := &g.slots[idx]
	if !s.alive || s.generation != id.generation() {
		return nil, false
	}
	return &s.node, true
}

func (g *Graph) mustLookup(id NodeID) (*node, error) {
	n, ok := g.lookup(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownNode, id)
	}
	return n, nil
}

// CreateNode adds a node under parent, or as a root when parent is NoNode.
func (g *Graph) CreateNode(parent NodeID, opts ...NodeOption) (NodeID, error) {
	var p *node
	if parent != NoNode {
		var ok bool
		if p, ok = g.lookup(parent); !ok {
			return NoNode, fmt.Errorf("%w: %s", ErrInvalidParent, parent)
		}
	}

	n := node{local: spatial.Identity()}
	for _, opt := range opts {
		opt(&n)
	}
	if !n.local.Valid() {
		return NoNode, ErrInvalidTransform
	}
	n.parent = parent
	n.dirty = true
	n.children = nil

	var idx uint32
	if k := len(g.free); k > 0 {
		idx = g.free[k-1]
		g.free = g.free[:k-1]
	} else {
		idx = uint32(len(g.slots))
		g.slots = append(g.slots, slot{})
		// slots may have moved
		if parent != NoNode {
			p, _ = g.lookup(parent)
		}
	}
	s := &g.slots[idx]
	if s.generation == 0 {
		s.generation = 1
	}
	s.alive = true
	s.node = n
	id := makeNodeID(idx, s.generation)

	if p != nil {
		p.children = append(p.children, id)
	} else {
		g.roots = append(g.roots, id)
	}
	g.count++
	return id, nil
}

// SetLocalTransform replaces the node's local transform and invalidates the
// cached world transform of the node and its descendants.
func (g *Graph) SetLocalTransform(id NodeID, t spatial.Transform) error {
	n, err := g.mustLookup(id)
	if err != nil {
		return err
	}
	if !t.Valid() {
		return fmt.Errorf("%w: %s", ErrInvalidTransform, id)
	}
	n.local = t
	g.markDirty(id)
	return nil
}

// LocalTransform returns the node's authored local transform.
func (g *Graph) LocalTransform(id NodeID) (spatial.Transform, error) {
	n, err := g.mustLookup(id)
	if err != nil {
		return spatial.Transform{}, err
	}
	return n.local, nil
}

// WorldTransform returns the cached world transform, recomputing it from
// the nearest clean ancestor down if needed. Recomputed nodes on the path
// are left clean.
func (g *Graph) WorldTransform(id NodeID) (spatial.Transform, error) {
	n, err := g.mustLookup(id)
	if err != nil {
		return spatial.Transform{}, err
	}
	if !n.dirty {
		return n.world, nil
	}

	chain := g.chain[:0]
	for cur := n; ; {
		if !cur.dirty {
			break
		}
		chain = append(chain, cur)
		if cur.parent == NoNode {
			break
		}
		cur, _ = g.lookup(cur.parent)
	}

	top := chain[len(chain)-1]
	var parentWorld spatial.Transform
	hasParent := false
	if top.parent != NoNode {
		p, _ := g.lookup(top.parent)
		parentWorld, hasParent = p.world, true
	}
	for i := len(chain) - 1; i >= 0; i-- {
		c := chain[i]
		if hasParent {
			c.world = parentWorld.Compose(c.local)
		} else {
			c.world = c.local
		}
		c.dirty = false
		parentWorld, hasParent = c.world, true
	}

	clear(chain)
	g.chain = chain[:0]
	return n.world, nil
}

// Reparent moves id under newParent (NoNode makes it a root). The local
// transform is kept, so the world transform generally changes.
func (g *Graph) Reparent(id, newParent NodeID) error {
	n, err := g.mustLookup(id)
	if err != nil {
		return err
	}
	if newParent != NoNode {
		if _, ok := g.lookup(newParent); !ok {
			return fmt.Errorf("%w: %s", ErrInvalidParent, newParent)
		}
		if g.isAncestorOrSelf(id, newParent) {
			return fmt.Errorf("%w: %s under %s", ErrCycleDetected, id, newParent)
		}
	}
	if n.parent == newParent {
		return nil
	}

	g.detach(id, n)
	n.parent = newParent
	g.attach(id, newParent, -1)
	g.markDirty(id)
	return nil
}

// ReparentKeepWorld is Reparent followed by a local transform rewrite that
// keeps the node where it currently is in world space.
func (g *Graph) ReparentKeepWorld(id, newParent NodeID) error {
	world, err := g.WorldTransform(id)
	if err != nil {
		return err
	}
	if err = g.Reparent(id, newParent); err != nil {
		return err
	}
	if newParent == NoNode {
		return g.SetLocalTransform(id, world)
	}
	parentWorld, err := g.WorldTransform(newParent)
	if err != nil {
		return err
	}
	return g.SetLocalTransform(id, parentWorld.ToLocal(world))
}

// Destroy removes id according to policy and returns every removed node,
// id first.
func (g *Graph) Destroy(id NodeID, policy DestroyPolicy) ([]NodeID, error) {
	n, err := g.mustLookup(id)
	if err != nil {
		return nil, err
	}

	switch policy {
	case CascadeDestroy:
		removed := g.subtree(id)
		g.detach(id, n)
		for _, r := range removed {
			g.release(r)
		}
		return removed, nil

	case PromoteChildren:
		children := append([]NodeID(nil), n.children...)
		parent := n.parent
		at := g.detach(id, n)
		for i, c := range children {
			cn, _ := g.lookup(c)
			cn.parent = parent
			g.attach(c, parent, at+i)
			g.markDirty(c)
		}
		g.release(id)
		return []NodeID{id}, nil

	default:
		return nil, fmt.Errorf("%w: %d", ErrInvalidPolicy, policy)
	}
}

// SetKinematic flags the node as externally authored (true) or physics
// driven (false).
func (g *Graph) SetKinematic(id NodeID, kinematic bool) error {
	n, err := g.mustLookup(id)
	if err != nil {
		return err
	}
	n.kinematic = kinematic
	return nil
}

func (g *Graph) IsKinematic(id NodeID) (bool, error) {
	n, err := g.mustLookup(id)
	if err != nil {
		return false, err
	}
	return n.kinematic, nil
}

func (g *Graph) Parent(id NodeID) (NodeID, error) {
	n, err := g.mustLookup(id)
	if err != nil {
		return NoNode, err
	}
	return n.parent, nil
}

// Children returns a copy of the ordered child list.
func (g *Graph) Children(id NodeID) ([]NodeID, error) {
	n, err := g.mustLookup(id)
	if err != nil {
		return nil, err
	}
	return append([]NodeID(nil), n.children...), nil
}

// Roots returns a copy of the ordered root list.
func (g *Graph) Roots() []NodeID {
	return append([]NodeID(nil), g.roots...)
}

func (g *Graph) Name(id NodeID) (string, error) {
	n, err := g.mustLookup(id)
	if err != nil {
		return "", err
	}
	return n.name, nil
}

func (g *Graph) SetName(id NodeID, name string) error {
	n, err := g.mustLookup(id)
	if err != nil {
		return err
	}
	n.name = name
	return nil
}

func (g *Graph) isDirty(id NodeID) bool {
	n, ok := g.lookup(id)
	return ok && n.dirty
}

func (g *Graph) markDirty(id NodeID) {
	stack := append(g.stack[:0], id)
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		n, _ := g.lookup(cur)
		if n.dirty {
			continue
		}
		n.dirty = true
		stack = append(stack, n.children...)
	}
	g.stack = stack[:0]
}

// isAncestorOrSelf walks up from candidate looking for id.
func (g *Graph) isAncestorOrSelf(id, candidate NodeID) bool {
	for cur := candidate; cur != NoNode; {
		if cur == id {
			return true
		}
		n, _ := g.lookup(cur)
		cur = n.parent
	}
	return false
}

// detach unlinks id from its parent's child list (or the root list) and
// returns the index it occupied.
func (g *Graph) detach(id NodeID, n *node) int {
	if n.parent == NoNode {
		var at int
		g.roots, at = removeID(g.roots, id)
		return at
	}
	p, _ := g.lookup(n.parent)
	var at int
	p.children, at = removeID(p.children, id)
	return at
}

// attach links id under parent at position at, or at the end when at < 0.
func (g *Graph) attach(id, parent NodeID, at int) {
	if parent == NoNode {
		g.roots = insertID(g.roots, id, at)
		return
	}
	p, _ := g.lookup(parent)
	p.children = insertID(p.children, id, at)
}

func (g *Graph) release(id NodeID) {
	idx := id.slot()
	s := &g.slots[idx]
	s.alive = false
	s.node = node{}
	s.generation++
	if s.generation == 0 {
		s.generation = 1
	}
	g.free = append(g.free, idx)
	g.count--
}

func removeID(ids []NodeID, id NodeID) ([]NodeID, int) {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...), i
		}
	}
	return ids, len(ids)
}

func insertID(ids []NodeID, id NodeID, at int) []NodeID {
	if at < 0 || at >= len(ids) {
		return append(ids, id)
	}
	ids = append(ids, NoNode)
	copy(ids[at+1:], ids[at:])
	ids[at] = id
	return ids
}
