// Package sim ties the scene graph, the physics proxies and the fixed-step
// clock into a frame-driven engine and produces render snapshots.
package sim

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"

	"github.com/zeusync/scenesync/internal/core/clock"
	"github.com/zeusync/scenesync/internal/core/events/bus"
	"github.com/zeusync/scenesync/internal/core/observability/log"
	"github.com/zeusync/scenesync/internal/core/physics"
	"github.com/zeusync/scenesync/internal/core/scene"
	"github.com/zeusync/scenesync/internal/core/spatial"
)

// ErrEngineFailed is returned by Frame after a physics tick failed. The
// engine stays halted until Restart.
var ErrEngineFailed = errors.New("simulation engine failed")

// Config is fixed for the lifetime of an Engine.
type Config struct {
	Clock                clock.Config
	DestroyPolicy        scene.DestroyPolicy
	InheritInterpolation bool
}

// FrameResult summarizes one Frame call.
type FrameResult struct {
	Frame   uint64
	Ticks   int
	Dropped int
	Alpha   float64
	// Tick is the total number of completed ticks.
	Tick uint64
}

// Engine owns the scene graph, the proxy table and the clock. All methods
// must be called from the simulation goroutine; snapshots are the only
// values meant to leave it.
type Engine struct {
	cfg    Config
	runID  string
	logger log.Log
	bus    bus.EventBus

	graph   *scene.Graph
	proxies *physics.ProxyTable
	clock   *clock.Clock
	sync    *Synchronizer
	builder *SnapshotBuilder

	frames uint64
	failed error
	// tick and alpha of the last frame that committed; snapshots fall back
	// to them while the engine is halted
	committedTick  uint64
	committedAlpha float64
}

// SceneView is the read side of the scene graph. Structural and kinematic
// changes go through the Engine so every proxy keeps its owning node.
type SceneView interface {
	Exists(id scene.NodeID) bool
	Len() int
	LocalTransform(id scene.NodeID) (spatial.Transform, error)
	WorldTransform(id scene.NodeID) (spatial.Transform, error)
	Parent(id scene.NodeID) (scene.NodeID, error)
	Children(id scene.NodeID) ([]scene.NodeID, error)
	Descendants(id scene.NodeID) ([]scene.NodeID, error)
	Roots() []scene.NodeID
	Name(id scene.NodeID) (string, error)
	FindByName(name string) (scene.NodeID, bool)
	IsKinematic(id scene.NodeID) (bool, error)
	Walk(fn scene.WalkFunc)
}

func NewEngine(cfg Config, oracle physics.Engine, eventBus bus.EventBus, logger log.Log) (*Engine, error) {
	if oracle == nil {
		return nil, errors.New("sim: nil physics engine")
	}
	if logger == nil {
		logger = log.NewNop()
	}
	if cfg.DestroyPolicy != scene.CascadeDestroy && cfg.DestroyPolicy != scene.PromoteChildren {
		return nil, fmt.Errorf("%w: %d", scene.ErrInvalidPolicy, cfg.DestroyPolicy)
	}

	e := &Engine{
		cfg:   cfg,
		runID: uuid.NewString(),
		bus:   eventBus,
		graph: scene.NewGraph(),
	}
	e.logger = logger.With(log.String("component", "sim"), log.String("run_id", e.runID))

	clk, err := clock.New(cfg.Clock, clock.WithOverrunHandler(e.onOverrun))
	if err != nil {
		return nil, err
	}
	e.clock = clk
	e.proxies = physics.NewProxyTable(oracle, e.graph)
	e.sync = NewSynchronizer(e.graph, e.proxies, e.clock)
	e.builder = NewSnapshotBuilder(e.graph, e.proxies, cfg.InheritInterpolation)

	if eventBus != nil {
		if err = eventBus.CreateTopic(DiagnosticsTopic); err != nil {
			return nil, err
		}
	}
	e.logger.Info("Simulation engine created",
		log.Float64("tick_duration", clk.TickDuration()),
		log.Int("max_steps_per_frame", clk.MaxSteps()),
		log.String("destroy_policy", cfg.DestroyPolicy.String()),
	)
	return e, nil
}

func (e *Engine) RunID() string { return e.runID }

// Graph exposes the scene graph read-only.
func (e *Engine) Graph() SceneView { return e.graph }

func (e *Engine) Clock() *clock.Clock { return e.clock }

func (e *Engine) CreateNode(parent scene.NodeID, opts ...scene.NodeOption) (scene.NodeID, error) {
	return e.graph.CreateNode(parent, opts...)
}

func (e *Engine) SetLocalTransform(id scene.NodeID, t spatial.Transform) error {
	return e.graph.SetLocalTransform(id, t)
}

func (e *Engine) WorldTransform(id scene.NodeID) (spatial.Transform, error) {
	return e.graph.WorldTransform(id)
}

func (e *Engine) Reparent(id, parent scene.NodeID) error {
	return e.graph.Reparent(id, parent)
}

func (e *Engine) FindByName(name string) (scene.NodeID, bool) {
	return e.graph.FindByName(name)
}

// DestroyNode removes id under the configured policy.
func (e *Engine) DestroyNode(id scene.NodeID) ([]scene.NodeID, error) {
	return e.DestroyNodeWith(id, e.cfg.DestroyPolicy)
}

// DestroyNodeWith removes id under policy and releases the bodies of every
// removed node.
func (e *Engine) DestroyNodeWith(id scene.NodeID, policy scene.DestroyPolicy) ([]scene.NodeID, error) {
	removed, err := e.graph.Destroy(id, policy)
	if err != nil {
		return nil, err
	}
	var unbound []physics.ProxyID
	var errs []error
	for _, n := range removed {
		pid, ok := e.proxies.Lookup(n)
		if !ok {
			continue
		}
		if err = e.proxies.Unbind(pid); err != nil {
			errs = append(errs, err)
			continue
		}
		unbound = append(unbound, pid)
	}

	e.logger.Debug("Node destroyed",
		log.String("node", id.String()),
		log.String("policy", policy.String()),
		log.Int("removed", len(removed)),
		log.Int("unbound", len(unbound)),
	)
	e.emit(EventNodeDestroyed, NodeDestroyed{Node: id, Policy: policy, Removed: removed, Unbound: unbound})
	return removed, errors.Join(errs...)
}

// SetKinematic flips the node between authored and simulated control. A
// bound body is swapped for one of the matching kind, seeded at the node's
// current world pose.
func (e *Engine) SetKinematic(id scene.NodeID, kinematic bool) error {
	if err := e.graph.SetKinematic(id, kinematic); err != nil {
		return err
	}
	if pid, ok := e.proxies.Lookup(id); ok {
		return e.proxies.SetKinematic(pid, kinematic)
	}
	return nil
}

// Bind attaches a rigid body to the node.
func (e *Engine) Bind(id scene.NodeID, spec physics.BodySpec) (physics.ProxyID, error) {
	pid, err := e.proxies.Bind(id, spec)
	if err != nil {
		return physics.NoProxy, err
	}
	e.logger.Debug("Proxy bound", log.String("node", id.String()), log.Uint64("proxy", uint64(pid)))
	e.emit(EventProxyBound, ProxyChanged{Proxy: pid, Node: id})
	return pid, nil
}

// Unbind removes the node's body; the node keeps its current transform.
func (e *Engine) Unbind(id scene.NodeID) error {
	pid, ok := e.proxies.Lookup(id)
	if !ok {
		return fmt.Errorf("%w: node %s", physics.ErrUnknownProxy, id)
	}
	if err := e.proxies.Unbind(pid); err != nil {
		return err
	}
	e.logger.Debug("Proxy unbound", log.String("node", id.String()), log.Uint64("proxy", uint64(pid)))
	e.emit(EventProxyUnbound, ProxyChanged{Proxy: pid, Node: id})
	return nil
}

func (e *Engine) Proxy(id scene.NodeID) (physics.ProxyID, bool) {
	return e.proxies.Lookup(id)
}

func (e *Engine) Sample(id scene.NodeID) (physics.Sample, error) {
	pid, ok := e.proxies.Lookup(id)
	if !ok {
		return physics.Sample{}, fmt.Errorf("%w: node %s", physics.ErrUnknownProxy, id)
	}
	return e.proxies.Sample(pid)
}

func (e *Engine) ApplyImpulse(id scene.NodeID, impulse mgl64.Vec3) error {
	pid, ok := e.proxies.Lookup(id)
	if !ok {
		return fmt.Errorf("%w: node %s", physics.ErrUnknownProxy, id)
	}
	return e.proxies.ApplyImpulse(pid, impulse)
}

func (e *Engine) ApplyForce(id scene.NodeID, force mgl64.Vec3) error {
	pid, ok := e.proxies.Lookup(id)
	if !ok {
		return fmt.Errorf("%w: node %s", physics.ErrUnknownProxy, id)
	}
	return e.proxies.ApplyForce(pid, force)
}

// Frame runs one synchronization pass for elapsed wall time.
func (e *Engine) Frame(elapsed time.Duration) (FrameResult, error) {
	if e.failed != nil {
		return FrameResult{Frame: e.frames, Tick: e.clock.Ticks()}, fmt.Errorf("%w: %w", ErrEngineFailed, e.failed)
	}
	if elapsed < 0 {
		return FrameResult{Frame: e.frames, Tick: e.clock.Ticks()}, fmt.Errorf("%w: %v", clock.ErrInvalidElapsed, elapsed)
	}
	e.frames++

	f, err := e.sync.Run(elapsed.Seconds())
	res := FrameResult{
		Frame:   e.frames,
		Ticks:   f.Ticks,
		Dropped: f.Dropped,
		Alpha:   f.Alpha,
		Tick:    e.clock.Ticks(),
	}
	if !errors.Is(err, clock.ErrTickFailed) {
		e.committedTick, e.committedAlpha = e.clock.Ticks(), e.clock.Alpha()
		return res, err
	}

	e.failed = err
	e.logger.Error("Physics step failed, simulation halted",
		log.Uint64("frame", e.frames),
		log.Uint64("tick", e.clock.Ticks()+1),
		log.Error(err),
	)
	e.emit(EventStepFailed, StepFailed{Frame: e.frames, Tick: e.clock.Ticks() + 1, Err: err})
	return res, fmt.Errorf("%w: %w", ErrEngineFailed, err)
}

// Failed returns the error that halted the engine, or nil.
func (e *Engine) Failed() error { return e.failed }

// Snapshot renders the current state. After a failure it renders the last
// committed frame: the halted frame's ticks were rolled back and its
// accumulated time is ignored.
func (e *Engine) Snapshot() *Snapshot {
	if e.failed != nil {
		return e.builder.Build(e.runID, e.frames, e.committedTick, e.committedAlpha)
	}
	return e.builder.Build(e.runID, e.frames, e.clock.Ticks(), e.clock.Alpha())
}

// Restart clears the failure, resets the clock and reseeds every body at
// its node's current world pose.
func (e *Engine) Restart() error {
	e.clock.Reset()

	var errs []error
	e.proxies.Each(func(b physics.Binding) bool {
		world, err := e.graph.WorldTransform(b.Node)
		if err == nil {
			err = e.proxies.Reseed(b.ID, world)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("reseed %s: %w", b.Node, err))
		}
		return true
	})
	if err := errors.Join(errs...); err != nil {
		return err
	}

	e.failed = nil
	e.committedTick, e.committedAlpha = 0, 0
	e.logger.Info("Simulation restarted", log.Int("proxies", e.proxies.Len()))
	e.emit(EventRestarted, Restarted{RunID: e.runID, Proxies: e.proxies.Len()})
	return nil
}

func (e *Engine) onOverrun(o clock.Overrun) {
	e.logger.Warn("Clock overrun, ticks dropped",
		log.Uint64("frame", e.frames),
		log.Int("executed", o.Executed),
		log.Int("dropped", o.Dropped),
		log.Uint64("tick", o.Tick),
	)
	e.emit(EventOverrunDropped, OverrunDropped{Overrun: o, Frame: e.frames})
}
