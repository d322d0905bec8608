package physics

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/zeusync/scenesync/internal/core/scene"
	"github.com/zeusync/scenesync/internal/core/spatial"
)

// ProxyID identifies a node/body binding. IDs are never reused by a table.
type ProxyID uint64

// NoProxy is the zero ProxyID.
const NoProxy ProxyID = 0

// NodeSource is the slice of the scene graph the proxy table reads.
type NodeSource interface {
	WorldTransform(scene.NodeID) (spatial.Transform, error)
	IsKinematic(scene.NodeID) (bool, error)
}

// Sample is the pose of a body at the two most recent completed ticks.
type Sample struct {
	Previous Pose
	Current  Pose
	// Tick is the table tick at which Current was produced.
	Tick uint64
}

// Binding describes a live proxy.
type Binding struct {
	ID        ProxyID
	Node      scene.NodeID
	Kinematic bool
}

type proxy struct {
	id        ProxyID
	node      scene.NodeID
	body      BodyHandle
	spec      BodySpec
	previous  Pose
	current   Pose
	sampled   bool
	sampledAt uint64
}

// ProxyTable maps scene nodes to solver bodies one to one and keeps a two
// tick pose history per body.
//
// Step is transactional: every body is stepped before any history is
// written, so a failure leaves the recorded poses untouched.
type ProxyTable struct {
	engine Engine
	nodes  NodeSource

	proxies map[ProxyID]*proxy
	byNode  map[scene.NodeID]ProxyID
	order   []ProxyID
	nextID  ProxyID
	tick    uint64

	staged []Pose
	mark   checkpoint
}

type checkpoint struct {
	tick    uint64
	history []history
}

type history struct {
	id        ProxyID
	previous  Pose
	current   Pose
	sampled   bool
	sampledAt uint64
}

func NewProxyTable(engine Engine, nodes NodeSource) *ProxyTable {
	return &ProxyTable{
		engine:  engine,
		nodes:   nodes,
		proxies: make(map[ProxyID]*proxy),
		byNode:  make(map[scene.NodeID]ProxyID),
	}
}

// Bind creates a body for node seeded at its current world pose. The body
// is kinematic exactly when the node is.
func (t *ProxyTable) Bind(node scene.NodeID, spec BodySpec) (ProxyID, error) {
	if id, ok := t.byNode[node]; ok {
		return NoProxy, fmt.Errorf("%w: node %s has proxy %d", ErrAlreadyBound, node, id)
	}
	world, err := t.nodes.WorldTransform(node)
	if err != nil {
		return NoProxy, err
	}
	kinematic, err := t.nodes.IsKinematic(node)
	if err != nil {
		return NoProxy, err
	}
	spec.Kinematic = kinematic

	pose := PoseOf(world)
	h, err := t.engine.CreateBody(spec, pose)
	if err != nil {
		return NoProxy, err
	}

	t.nextID++
	p := &proxy{
		id:       t.nextID,
		node:     node,
		body:     h,
		spec:     spec,
		previous: pose,
		current:  pose,
	}
	t.proxies[p.id] = p
	t.byNode[node] = p.id
	t.order = append(t.order, p.id)
	return p.id, nil
}

// Unbind destroys the proxy's body. The node is untouched. If the engine
// refuses to destroy the body the proxy stays bound.
func (t *ProxyTable) Unbind(id ProxyID) error {
	p, err := t.get(id)
	if err != nil {
		return err
	}
	if err = t.engine.DestroyBody(p.body); err != nil {
		return fmt.Errorf("unbind proxy %d: %w", id, err)
	}
	delete(t.proxies, id)
	delete(t.byNode, p.node)
	for i, v := range t.order {
		if v == id {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
	return nil
}

// UnbindNode unbinds whatever proxy node has, reporting whether one existed.
func (t *ProxyTable) UnbindNode(node scene.NodeID) (bool, error) {
	id, ok := t.byNode[node]
	if !ok {
		return false, nil
	}
	return true, t.Unbind(id)
}

// Lookup returns the proxy bound to node.
func (t *ProxyTable) Lookup(node scene.NodeID) (ProxyID, bool) {
	id, ok := t.byNode[node]
	return id, ok
}

func (t *ProxyTable) Node(id ProxyID) (scene.NodeID, error) {
	p, err := t.get(id)
	if err != nil {
		return scene.NoNode, err
	}
	return p.node, nil
}

func (t *ProxyTable) IsKinematic(id ProxyID) (bool, error) {
	p, err := t.get(id)
	if err != nil {
		return false, err
	}
	return p.spec.Kinematic, nil
}

// PushKinematic teleports a kinematic body to the given world transform.
func (t *ProxyTable) PushKinematic(id ProxyID, world spatial.Transform) error {
	p, err := t.get(id)
	if err != nil {
		return err
	}
	if !p.spec.Kinematic {
		return fmt.Errorf("%w: %d", ErrNotKinematic, id)
	}
	return t.engine.SetPose(p.body, PoseOf(world))
}

// Sample returns the last two recorded poses of a proxy.
func (t *ProxyTable) Sample(id ProxyID) (Sample, error) {
	p, err := t.get(id)
	if err != nil {
		return Sample{}, err
	}
	if !p.sampled {
		return Sample{}, fmt.Errorf("%w: %d", ErrNoSimulationYet, id)
	}
	return Sample{Previous: p.previous, Current: p.current, Tick: p.sampledAt}, nil
}

// Step advances every body by dt. Either all histories advance or, on the
// first solver error, none do and the error wraps ErrStepFailed.
func (t *ProxyTable) Step(dt float64) error {
	staged := t.staged[:0]
	for _, id := range t.order {
		p := t.proxies[id]
		pose, err := t.engine.Step(p.body, dt)
		if err != nil {
			t.staged = staged[:0]
			return fmt.Errorf("%w: proxy %d: %w", ErrStepFailed, id, err)
		}
		staged = append(staged, pose)
	}

	t.tick++
	for i, id := range t.order {
		p := t.proxies[id]
		p.previous = p.current
		p.current = staged[i]
		p.sampled = true
		p.sampledAt = t.tick
	}
	t.staged = staged[:0]
	return nil
}

// SetKinematic swaps the proxy's body for one of the requested kind seeded
// at the node's current world pose, as Bind does. The ProxyID survives and
// both history entries move to the seed pose.
func (t *ProxyTable) SetKinematic(id ProxyID, kinematic bool) error {
	p, err := t.get(id)
	if err != nil {
		return err
	}
	if p.spec.Kinematic == kinematic {
		return nil
	}
	world, err := t.nodes.WorldTransform(p.node)
	if err != nil {
		return err
	}
	spec := p.spec
	spec.Kinematic = kinematic
	pose := PoseOf(world)
	if err = t.replaceBody(p, spec, pose); err != nil {
		return err
	}
	p.previous, p.current = pose, pose
	return nil
}

// Checkpoint remembers every proxy's history and the table tick so a frame
// whose later tick fails can be undone with Rollback.
func (t *ProxyTable) Checkpoint() {
	t.mark.tick = t.tick
	t.mark.history = t.mark.history[:0]
	for _, id := range t.order {
		p := t.proxies[id]
		t.mark.history = append(t.mark.history, history{
			id:        id,
			previous:  p.previous,
			current:   p.current,
			sampled:   p.sampled,
			sampledAt: p.sampledAt,
		})
	}
}

// Rollback restores the history recorded by the last Checkpoint. Solver
// bodies are not rewound; callers reseed them before stepping again.
func (t *ProxyTable) Rollback() {
	for _, h := range t.mark.history {
		p, ok := t.proxies[h.id]
		if !ok {
			continue
		}
		p.previous, p.current = h.previous, h.current
		p.sampled, p.sampledAt = h.sampled, h.sampledAt
	}
	t.tick = t.mark.tick
}

// Reseed recreates the proxy's body at world with its original spec and
// clears the history.
func (t *ProxyTable) Reseed(id ProxyID, world spatial.Transform) error {
	p, err := t.get(id)
	if err != nil {
		return err
	}
	pose := PoseOf(world)
	if err = t.replaceBody(p, p.spec, pose); err != nil {
		return err
	}
	p.previous, p.current = pose, pose
	p.sampled = false
	p.sampledAt = 0
	return nil
}

func (t *ProxyTable) replaceBody(p *proxy, spec BodySpec, pose Pose) error {
	h, err := t.engine.CreateBody(spec, pose)
	if err != nil {
		return err
	}
	old := p.body
	p.body, p.spec = h, spec
	return t.engine.DestroyBody(old)
}

// ApplyImpulse pushes a dynamic body when the engine supports it.
func (t *ProxyTable) ApplyImpulse(id ProxyID, impulse mgl64.Vec3) error {
	p, f, err := t.forcer(id)
	if err != nil {
		return err
	}
	return f.ApplyImpulse(p.body, impulse)
}

// ApplyForce accumulates a force for the next tick when the engine
// supports it.
func (t *ProxyTable) ApplyForce(id ProxyID, force mgl64.Vec3) error {
	p, f, err := t.forcer(id)
	if err != nil {
		return err
	}
	return f.ApplyForce(p.body, force)
}

func (t *ProxyTable) forcer(id ProxyID) (*proxy, Forcer, error) {
	p, err := t.get(id)
	if err != nil {
		return nil, nil, err
	}
	if p.spec.Kinematic || p.spec.Static() {
		return nil, nil, fmt.Errorf("%w: %d", ErrNotDynamic, id)
	}
	f, ok := t.engine.(Forcer)
	if !ok {
		return nil, nil, ErrUnsupported
	}
	return p, f, nil
}

// Each calls fn for every proxy in bind order until fn returns false.
func (t *ProxyTable) Each(fn func(Binding) bool) {
	for _, id := range t.order {
		p := t.proxies[id]
		if !fn(Binding{ID: id, Node: p.node, Kinematic: p.spec.Kinematic}) {
			return
		}
	}
}

func (t *ProxyTable) Len() int { return len(t.order) }

// Tick returns the number of completed steps.
func (t *ProxyTable) Tick() uint64 { return t.tick }

func (t *ProxyTable) get(id ProxyID) (*proxy, error) {
	p, ok := t.proxies[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownProxy, id)
	}
	return p, nil
}
