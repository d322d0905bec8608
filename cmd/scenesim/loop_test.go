package main

import (
	"context"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/scenesync/internal/core/clock"
	"github.com/zeusync/scenesync/internal/core/observability/log"
	"github.com/zeusync/scenesync/internal/core/physics"
	"github.com/zeusync/scenesync/internal/core/scene"
	"github.com/zeusync/scenesync/internal/core/sim"
	"github.com/zeusync/scenesync/internal/core/spatial"
)

type failOnce struct {
	*physics.Integrator
	failed bool
}

func (f *failOnce) Step(body physics.BodyHandle, dt float64) (physics.Pose, error) {
	if !f.failed {
		f.failed = true
		return physics.Pose{}, physics.ErrUnstable
	}
	return f.Integrator.Step(body, dt)
}

func newLoop(t *testing.T, oracle physics.Engine, restart bool) *frameLoop {
	t.Helper()
	e, err := sim.NewEngine(sim.Config{Clock: clock.FromRate(60, 5)}, oracle, nil, log.NewNop())
	require.NoError(t, err)
	id, err := e.CreateNode(scene.NoNode, scene.WithLocal(spatial.Translation(mgl64.Vec3{0, 10, 0})))
	require.NoError(t, err)
	_, err = e.Bind(id, physics.BodySpec{Mass: 1})
	require.NoError(t, err)

	return &frameLoop{
		engine:   e,
		exchange: sim.NewExchange(),
		interval: 5 * time.Millisecond,
		logger:   log.NewNop(),
		restart:  restart,
		now:      time.Now,
	}
}

func TestFramePublishesSnapshot(t *testing.T) {
	l := newLoop(t, physics.NewIntegrator(physics.DefaultIntegratorConfig()), false)

	require.NoError(t, l.frame(25*time.Millisecond))
	s := l.exchange.Latest()
	require.NotNil(t, s)
	assert.Equal(t, uint64(1), s.Tick())
	assert.Equal(t, uint64(1), l.exchange.Published())
}

func TestFrameRestartsAfterFailure(t *testing.T) {
	l := newLoop(t, &failOnce{Integrator: physics.NewIntegrator(physics.DefaultIntegratorConfig())}, true)

	require.NoError(t, l.frame(25*time.Millisecond))
	assert.NoError(t, l.engine.Failed())
	assert.Equal(t, uint64(0), l.exchange.Latest().Tick())

	require.NoError(t, l.frame(25*time.Millisecond))
	assert.Equal(t, uint64(1), l.exchange.Latest().Tick())
}

func TestFrameFailureWithoutRestart(t *testing.T) {
	l := newLoop(t, &failOnce{Integrator: physics.NewIntegrator(physics.DefaultIntegratorConfig())}, false)

	err := l.frame(25 * time.Millisecond)
	assert.ErrorIs(t, err, sim.ErrEngineFailed)
	assert.ErrorIs(t, err, physics.ErrUnstable)
	assert.Nil(t, l.exchange.Latest())
}

func TestRunStopsWithContext(t *testing.T) {
	l := newLoop(t, physics.NewIntegrator(physics.DefaultIntegratorConfig()), false)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.run(ctx) }()

	require.Eventually(t, func() bool { return l.exchange.Published() >= 3 }, 2*time.Second, time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("frame loop did not stop")
	}
}
