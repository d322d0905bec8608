package sim

import (
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/zeusync/scenesync/internal/config"
	"github.com/zeusync/scenesync/internal/core/clock"
	"github.com/zeusync/scenesync/internal/core/events/bus"
	"github.com/zeusync/scenesync/internal/core/observability/log"
	"github.com/zeusync/scenesync/internal/core/physics"
	"github.com/zeusync/scenesync/internal/core/scene"
	"github.com/zeusync/scenesync/internal/core/spatial"
)

// recorder wraps the integrator and logs what the engine asks of it.
type recorder struct {
	*physics.Integrator
	calls   []string
	heights map[physics.BodyHandle][]float64
	steps   int
	failAt  int
}

func newRecorder() *recorder {
	return &recorder{
		Integrator: physics.NewIntegrator(physics.DefaultIntegratorConfig()),
		heights:    make(map[physics.BodyHandle][]float64),
	}
}

func (r *recorder) Step(h physics.BodyHandle, dt float64) (physics.Pose, error) {
	r.steps++
	if r.failAt > 0 && r.steps >= r.failAt {
		return physics.Pose{}, physics.ErrUnstable
	}
	p, err := r.Integrator.Step(h, dt)
	if err != nil {
		return p, err
	}
	r.calls = append(r.calls, "step")
	r.heights[h] = append(r.heights[h], p.Position.Y())
	return p, nil
}

func (r *recorder) SetPose(h physics.BodyHandle, p physics.Pose) error {
	r.calls = append(r.calls, "set")
	return r.Integrator.SetPose(h, p)
}

type harness struct {
	engine *Engine
	oracle *recorder
	bus    bus.EventBus
	logs   *observer.ObservedLogs
	events map[string][]bus.Event
}

func newHarness(t *testing.T, maxSteps int, inherit bool) *harness {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	h := &harness{
		oracle: newRecorder(),
		bus:    bus.New(),
		logs:   logs,
		events: make(map[string][]bus.Event),
	}
	cfg := Config{
		Clock:                clock.FromRate(60, maxSteps),
		DestroyPolicy:        scene.CascadeDestroy,
		InheritInterpolation: inherit,
	}
	e, err := NewEngine(cfg, h.oracle, h.bus, log.NewWithCore(core))
	require.NoError(t, err)
	h.engine = e

	for _, typ := range []string{
		EventOverrunDropped, EventStepFailed, EventNodeDestroyed,
		EventProxyBound, EventProxyUnbound, EventRestarted,
	} {
		_, err = h.bus.SubscribeTopic(DiagnosticsTopic, typ, func(ev bus.Event) error {
			h.events[ev.Type()] = append(h.events[ev.Type()], ev)
			return nil
		})
		require.NoError(t, err)
	}
	return h
}

func at(x, y, z float64) spatial.Transform {
	return spatial.Translation(mgl64.Vec3{x, y, z})
}

func TestFallingBodyScenario(t *testing.T) {
	h := newHarness(t, 60, false)
	c, err := h.engine.CreateNode(scene.NoNode, scene.WithName("C"), scene.WithLocal(at(0, 10, 0)))
	require.NoError(t, err)
	_, err = h.engine.Bind(c, physics.BodySpec{Mass: 1})
	require.NoError(t, err)

	res, err := h.engine.Frame(time.Second)
	require.NoError(t, err)
	assert.Equal(t, 60, res.Ticks)
	assert.Equal(t, 0, res.Dropped)
	assert.Equal(t, uint64(60), res.Tick)

	heights := h.oracle.heights[physics.BodyHandle(1)]
	require.Len(t, heights, 60)
	last := 10.0
	for i, y := range heights {
		assert.Less(t, y, last, "tick %d", i+1)
		last = y
	}

	w, err := h.engine.WorldTransform(c)
	require.NoError(t, err)
	assert.Equal(t, last, w.Position.Y())
}

func TestKinematicPushPrecedesStep(t *testing.T) {
	h := newHarness(t, 5, false)
	platform, err := h.engine.CreateNode(scene.NoNode, scene.WithKinematic(true))
	require.NoError(t, err)
	_, err = h.engine.Bind(platform, physics.BodySpec{Mass: 10})
	require.NoError(t, err)

	moved := at(3, 0, 0)
	require.NoError(t, h.engine.SetLocalTransform(platform, moved))
	_, err = h.engine.Frame(20 * time.Millisecond)
	require.NoError(t, err)

	assert.Equal(t, []string{"set", "step"}, h.oracle.calls)
	s, err := h.engine.Sample(platform)
	require.NoError(t, err)
	assert.Equal(t, mgl64.Vec3{3, 0, 0}, s.Current.Position)

	local, err := h.engine.Graph().LocalTransform(platform)
	require.NoError(t, err)
	assert.Equal(t, moved, local)
}

func TestPullBackUnderTransformedParent(t *testing.T) {
	h := newHarness(t, 5, false)
	parent, err := h.engine.CreateNode(scene.NoNode, scene.WithLocal(spatial.New(
		mgl64.Vec3{0, 10, 0},
		mgl64.QuatRotate(mgl64.DegToRad(90), mgl64.Vec3{0, 1, 0}),
		mgl64.Vec3{2, 2, 2},
	)))
	require.NoError(t, err)
	child, err := h.engine.CreateNode(parent, scene.WithLocal(at(1, 0, 0)))
	require.NoError(t, err)
	_, err = h.engine.Bind(child, physics.BodySpec{Mass: 1})
	require.NoError(t, err)

	_, err = h.engine.Frame(20 * time.Millisecond)
	require.NoError(t, err)

	s, err := h.engine.Sample(child)
	require.NoError(t, err)
	w, err := h.engine.WorldTransform(child)
	require.NoError(t, err)
	assert.True(t, spatial.VecApproxEqual(s.Current.Position, w.Position, 1e-9), "%v vs %v", s.Current.Position, w.Position)

	local, err := h.engine.Graph().LocalTransform(child)
	require.NoError(t, err)
	assert.Equal(t, mgl64.Vec3{1, 1, 1}, local.Scale)
}

func TestStepFailureHaltsUntilRestart(t *testing.T) {
	h := newHarness(t, 5, false)
	n, err := h.engine.CreateNode(scene.NoNode, scene.WithLocal(at(0, 10, 0)))
	require.NoError(t, err)
	_, err = h.engine.Bind(n, physics.BodySpec{Mass: 1})
	require.NoError(t, err)

	_, err = h.engine.Frame(20 * time.Millisecond)
	require.NoError(t, err)
	before, err := h.engine.Graph().LocalTransform(n)
	require.NoError(t, err)

	// second tick of the next frame fails
	h.oracle.failAt = 3
	res, err := h.engine.Frame(45 * time.Millisecond)
	assert.ErrorIs(t, err, ErrEngineFailed)
	assert.ErrorIs(t, err, clock.ErrTickFailed)
	assert.ErrorIs(t, err, physics.ErrStepFailed)
	assert.Equal(t, 1, res.Ticks)
	assert.Error(t, h.engine.Failed())

	after, err := h.engine.Graph().LocalTransform(n)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	require.Len(t, h.events[EventStepFailed], 1)
	payload := h.events[EventStepFailed][0].Data().(StepFailed)
	assert.Equal(t, uint64(3), payload.Tick)
	assert.Equal(t, 1, h.logs.FilterMessage("Physics step failed, simulation halted").Len())

	_, err = h.engine.Frame(20 * time.Millisecond)
	assert.ErrorIs(t, err, ErrEngineFailed)

	h.oracle.failAt = 0
	require.NoError(t, h.engine.Restart())
	assert.NoError(t, h.engine.Failed())
	assert.Equal(t, uint64(0), h.engine.Clock().Ticks())
	_, err = h.engine.Sample(n)
	assert.ErrorIs(t, err, physics.ErrNoSimulationYet)

	res, err = h.engine.Frame(20 * time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), res.Tick)
	assert.Len(t, h.events[EventRestarted], 1)
}

func TestOverrunIsReportedOnce(t *testing.T) {
	h := newHarness(t, 5, false)
	res, err := h.engine.Frame(time.Second)
	require.NoError(t, err)
	assert.Equal(t, 5, res.Ticks)
	assert.Equal(t, 55, res.Dropped)

	require.Len(t, h.events[EventOverrunDropped], 1)
	o := h.events[EventOverrunDropped][0].Data().(OverrunDropped)
	assert.Equal(t, 5, o.Executed)
	assert.Equal(t, uint64(1), o.Frame)
	assert.Equal(t, 1, h.logs.FilterMessage("Clock overrun, ticks dropped").FilterField(zapcore.Field{
		Key: "dropped", Type: zapcore.Int64Type, Integer: 55,
	}).Len())
}

func TestDestroyReleasesProxies(t *testing.T) {
	h := newHarness(t, 5, false)
	parent, _ := h.engine.CreateNode(scene.NoNode)
	child, _ := h.engine.CreateNode(parent)
	loose, _ := h.engine.CreateNode(scene.NoNode)
	for _, n := range []scene.NodeID{parent, child, loose} {
		_, err := h.engine.Bind(n, physics.BodySpec{Mass: 1})
		require.NoError(t, err)
	}
	assert.Equal(t, 3, h.oracle.Bodies())

	removed, err := h.engine.DestroyNode(parent)
	require.NoError(t, err)
	assert.Equal(t, []scene.NodeID{parent, child}, removed)
	assert.Equal(t, 1, h.oracle.Bodies())
	_, ok := h.engine.Proxy(child)
	assert.False(t, ok)

	require.Len(t, h.events[EventNodeDestroyed], 1)
	payload := h.events[EventNodeDestroyed][0].Data().(NodeDestroyed)
	assert.Len(t, payload.Unbound, 2)
	assert.Equal(t, scene.CascadeDestroy, payload.Policy)
}

func TestDestroyPromoteKeepsChildProxy(t *testing.T) {
	h := newHarness(t, 5, false)
	parent, _ := h.engine.CreateNode(scene.NoNode, scene.WithLocal(at(0, 5, 0)))
	child, _ := h.engine.CreateNode(parent, scene.WithLocal(at(1, 0, 0)))
	_, err := h.engine.Bind(child, physics.BodySpec{Mass: 1})
	require.NoError(t, err)

	removed, err := h.engine.DestroyNodeWith(parent, scene.PromoteChildren)
	require.NoError(t, err)
	assert.Equal(t, []scene.NodeID{parent}, removed)
	_, ok := h.engine.Proxy(child)
	assert.True(t, ok)
	assert.Equal(t, []scene.NodeID{child}, h.engine.Graph().Roots())
}

func TestSetKinematicSwapsBody(t *testing.T) {
	h := newHarness(t, 5, false)
	n, _ := h.engine.CreateNode(scene.NoNode, scene.WithLocal(at(0, 10, 0)))
	_, err := h.engine.Bind(n, physics.BodySpec{Mass: 1})
	require.NoError(t, err)
	_, err = h.engine.Frame(20 * time.Millisecond)
	require.NoError(t, err)

	require.NoError(t, h.engine.SetKinematic(n, true))
	held, err := h.engine.Graph().LocalTransform(n)
	require.NoError(t, err)
	_, err = h.engine.Frame(20 * time.Millisecond)
	require.NoError(t, err)
	now, err := h.engine.Graph().LocalTransform(n)
	require.NoError(t, err)
	assert.Equal(t, held, now)

	assert.ErrorIs(t, h.engine.ApplyImpulse(n, mgl64.Vec3{0, 1, 0}), physics.ErrNotDynamic)
}

func TestUnbindAndEvents(t *testing.T) {
	h := newHarness(t, 5, false)
	n, _ := h.engine.CreateNode(scene.NoNode)
	_, err := h.engine.Bind(n, physics.BodySpec{Mass: 1})
	require.NoError(t, err)
	_, err = h.engine.Bind(n, physics.BodySpec{Mass: 1})
	assert.ErrorIs(t, err, physics.ErrAlreadyBound)

	require.NoError(t, h.engine.Unbind(n))
	assert.ErrorIs(t, h.engine.Unbind(n), physics.ErrUnknownProxy)
	assert.Len(t, h.events[EventProxyBound], 1)
	assert.Len(t, h.events[EventProxyUnbound], 1)
}

func TestPopulateFromConfig(t *testing.T) {
	h := newHarness(t, 5, false)
	scale := [3]float64{2, 2, 2}
	nodes := []config.NodeConfig{
		{Name: "ground", Body: &config.BodyConfig{}},
		{Name: "crate", Position: [3]float64{0, 5, 0}, Scale: &scale, Body: &config.BodyConfig{Mass: 1}},
		{Name: "lamp", Parent: "crate", Position: [3]float64{0, 1, 0}},
		{Name: "lift", Kinematic: true, Body: &config.BodyConfig{Mass: 50},
			Rotation: &config.RotationConfig{Axis: [3]float64{0, 1, 0}, Angle: 90}},
	}
	ids, err := Populate(h.engine, nodes)
	require.NoError(t, err)
	assert.Len(t, ids, 4)

	lamp, ok := h.engine.FindByName("lamp")
	require.True(t, ok)
	assert.Equal(t, ids["lamp"], lamp)
	w, err := h.engine.WorldTransform(lamp)
	require.NoError(t, err)
	assert.Equal(t, mgl64.Vec3{0, 7, 0}, w.Position)

	_, ok = h.engine.Proxy(ids["lamp"])
	assert.False(t, ok)
	assert.Equal(t, 3, h.oracle.Bodies())

	kin, err := h.engine.Graph().IsKinematic(ids["lift"])
	require.NoError(t, err)
	assert.True(t, kin)

	_, err = h.engine.Frame(20 * time.Millisecond)
	require.NoError(t, err)
	gw, err := h.engine.WorldTransform(ids["ground"])
	require.NoError(t, err)
	assert.Equal(t, mgl64.Vec3{}, gw.Position)

	_, err = Populate(h.engine, []config.NodeConfig{{Name: "orphan", Parent: "missing"}})
	assert.Error(t, err)
}

func TestNewEngineValidates(t *testing.T) {
	_, err := NewEngine(Config{Clock: clock.FromRate(60, 5)}, nil, nil, nil)
	assert.Error(t, err)

	_, err = NewEngine(Config{Clock: clock.Config{TickDuration: -1}}, newRecorder(), nil, nil)
	assert.ErrorIs(t, err, clock.ErrInvalidTickDuration)

	_, err = NewEngine(Config{Clock: clock.FromRate(60, 5), DestroyPolicy: 9}, newRecorder(), nil, nil)
	assert.ErrorIs(t, err, scene.ErrInvalidPolicy)

	e, err := NewEngine(Config{Clock: clock.FromRate(60, 5)}, newRecorder(), nil, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, e.RunID())
}

func TestPullBackParentsBeforeChildren(t *testing.T) {
	h := newHarness(t, 5, false)
	parent, _ := h.engine.CreateNode(scene.NoNode, scene.WithLocal(at(0, 10, 0)))
	child, _ := h.engine.CreateNode(parent, scene.WithLocal(at(2, 0, 0)))

	// bind order deliberately opposite to the hierarchy
	_, err := h.engine.Bind(child, physics.BodySpec{Mass: 1, DisableGravity: true})
	require.NoError(t, err)
	_, err = h.engine.Bind(parent, physics.BodySpec{Mass: 1})
	require.NoError(t, err)

	_, err = h.engine.Frame(100 * time.Millisecond)
	require.NoError(t, err)

	s, err := h.engine.Sample(child)
	require.NoError(t, err)
	w, err := h.engine.WorldTransform(child)
	require.NoError(t, err)
	assert.True(t, spatial.VecApproxEqual(mgl64.Vec3{2, 10, 0}, s.Current.Position, 1e-12))
	assert.True(t, spatial.VecApproxEqual(s.Current.Position, w.Position, 1e-9), "%v", w.Position)
}

func TestSnapshotAfterFailureShowsCommittedFrame(t *testing.T) {
	h := newHarness(t, 5, false)
	n, err := h.engine.CreateNode(scene.NoNode, scene.WithLocal(at(0, 10, 0)))
	require.NoError(t, err)
	_, err = h.engine.Bind(n, physics.BodySpec{Mass: 1})
	require.NoError(t, err)

	_, err = h.engine.Frame(20 * time.Millisecond)
	require.NoError(t, err)
	want := h.engine.Snapshot()

	// the first tick of the frame completes, the second fails
	h.oracle.failAt = 3
	_, err = h.engine.Frame(45 * time.Millisecond)
	require.ErrorIs(t, err, ErrEngineFailed)

	got := h.engine.Snapshot()
	assert.Equal(t, want.Digest(), got.Digest())
	assert.Equal(t, want.Tick(), got.Tick())
	assert.Equal(t, want.Alpha(), got.Alpha())

	sample, err := h.engine.Sample(n)
	require.NoError(t, err)
	world, err := h.engine.WorldTransform(n)
	require.NoError(t, err)
	assert.Equal(t, world.Position, sample.Current.Position)
	assert.Equal(t, uint64(1), sample.Tick)
}

func TestPullBackContinuesPastBrokenNode(t *testing.T) {
	h := newHarness(t, 5, false)
	a, _ := h.engine.CreateNode(scene.NoNode, scene.WithLocal(at(0, 10, 0)))
	b, _ := h.engine.CreateNode(scene.NoNode, scene.WithLocal(at(5, 10, 0)))
	for _, n := range []scene.NodeID{a, b} {
		_, err := h.engine.Bind(n, physics.BodySpec{Mass: 1})
		require.NoError(t, err)
	}

	// bypass the engine so a's proxy loses its node
	_, err := h.engine.graph.Destroy(a, scene.CascadeDestroy)
	require.NoError(t, err)

	res, err := h.engine.Frame(20 * time.Millisecond)
	assert.ErrorIs(t, err, scene.ErrUnknownNode)
	assert.NoError(t, h.engine.Failed())
	assert.Equal(t, 1, res.Ticks)

	w, err := h.engine.WorldTransform(b)
	require.NoError(t, err)
	assert.Less(t, w.Position.Y(), 10.0)
}

func TestSetKinematicSeedsFromMovedNode(t *testing.T) {
	h := newHarness(t, 5, false)
	n, err := h.engine.CreateNode(scene.NoNode, scene.WithKinematic(true))
	require.NoError(t, err)
	_, err = h.engine.Bind(n, physics.BodySpec{Mass: 1})
	require.NoError(t, err)
	_, err = h.engine.Frame(20 * time.Millisecond)
	require.NoError(t, err)

	require.NoError(t, h.engine.SetLocalTransform(n, at(5, 0, 0)))
	require.NoError(t, h.engine.SetKinematic(n, false))
	_, err = h.engine.Frame(20 * time.Millisecond)
	require.NoError(t, err)

	w, err := h.engine.WorldTransform(n)
	require.NoError(t, err)
	assert.InDelta(t, 5, w.Position.X(), 1e-12)
	assert.Less(t, w.Position.Y(), 0.0)
}

func TestInvalidElapsedKeepsFrameNumber(t *testing.T) {
	h := newHarness(t, 5, false)
	_, err := h.engine.Frame(-time.Millisecond)
	assert.ErrorIs(t, err, clock.ErrInvalidElapsed)
	assert.NoError(t, h.engine.Failed())

	res, err := h.engine.Frame(20 * time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), res.Frame)
}
