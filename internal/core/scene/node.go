package scene

import (
	"fmt"
	"strings"

	"github.com/zeusync/scenesync/internal/core/spatial"
)

// NodeID is a stable handle to a node. It packs the arena slot in the low
// 32 bits (offset by one) and the slot generation in the high 32 bits, so a
// handle to a destroyed node never resolves to the slot's next occupant.
type NodeID uint64

// NoNode is the absent parent: passing it to CreateNode or Reparent makes
// the node a root.
const NoNode NodeID = 0

func makeNodeID(slot, generation uint32) NodeID {
	return NodeID(uint64(generation)<<32 | uint64(slot+1))
}

func (id NodeID) slot() uint32       { return uint32(id) - 1 }
func (id NodeID) generation() uint32 { return uint32(id >> 32) }

func (id NodeID) String() string {
	if id == NoNode {
		return "node(none)"
	}
	return fmt.Sprintf("node(%d:%d)", id.slot(), id.generation())
}

// DestroyPolicy decides what happens to the children of a destroyed node.
type DestroyPolicy uint8

const (
	// CascadeDestroy destroys the whole subtree.
	CascadeDestroy DestroyPolicy = iota
	// PromoteChildren re-parents the children to the destroyed node's parent,
	// or makes them roots.
	PromoteChildren
)

func (p DestroyPolicy) String() string {
	switch p {
	case CascadeDestroy:
		return "cascade"
	case PromoteChildren:
		return "promote"
	default:
		return "unknown"
	}
}

// ParseDestroyPolicy accepts "cascade" or "promote".
func ParseDestroyPolicy(s string) (DestroyPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "cascade", "cascade_destroy":
		return CascadeDestroy, nil
	case "promote", "promote_children":
		return PromoteChildren, nil
	default:
		return CascadeDestroy, fmt.Errorf("%w: %q", ErrInvalidPolicy, s)
	}
}

type node struct {
	name      string
	parent    NodeID
	children  []NodeID
	local     spatial.Transform
	world     spatial.Transform
	dirty     bool
	kinematic bool
}

// NodeOption configures a node at creation.
type NodeOption func(*node)

// WithName labels the node. Names are not required to be unique.
func WithName(name string) NodeOption {
	return func(n *node) { n.name = name }
}

// WithLocal sets the initial local transform.
func WithLocal(t spatial.Transform) NodeOption {
	return func(n *node) { n.local = t }
}

// WithKinematic marks the node's pose as authored outside the physics solver.
func WithKinematic(kinematic bool) NodeOption {
	return func(n *node) { n.kinematic = kinematic }
}
