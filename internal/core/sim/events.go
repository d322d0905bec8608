package sim

import (
	"github.com/zeusync/scenesync/internal/core/clock"
	"github.com/zeusync/scenesync/internal/core/events/bus"
	"github.com/zeusync/scenesync/internal/core/observability/log"
	"github.com/zeusync/scenesync/internal/core/physics"
	"github.com/zeusync/scenesync/internal/core/scene"
)

// DiagnosticsTopic carries every event the engine publishes.
const DiagnosticsTopic = "diagnostics"

const eventSource = "sim.engine"

// Event types published on DiagnosticsTopic.
const (
	EventOverrunDropped = "clock.overrun_dropped"
	EventStepFailed     = "physics.step_failed"
	EventNodeDestroyed  = "scene.node_destroyed"
	EventProxyBound     = "physics.proxy_bound"
	EventProxyUnbound   = "physics.proxy_unbound"
	EventRestarted      = "sim.restarted"
)

// OverrunDropped is the payload of EventOverrunDropped.
type OverrunDropped struct {
	clock.Overrun
	Frame uint64
}

// StepFailed is the payload of EventStepFailed.
type StepFailed struct {
	Frame uint64
	Tick  uint64
	Err   error
}

// NodeDestroyed is the payload of EventNodeDestroyed.
type NodeDestroyed struct {
	Node    scene.NodeID
	Policy  scene.DestroyPolicy
	Removed []scene.NodeID
	// Unbound lists the proxies released with the removed nodes.
	Unbound []physics.ProxyID
}

// ProxyChanged is the payload of EventProxyBound and EventProxyUnbound.
type ProxyChanged struct {
	Proxy physics.ProxyID
	Node  scene.NodeID
}

// Restarted is the payload of EventRestarted.
type Restarted struct {
	RunID   string
	Proxies int
}

// emit publishes a diagnostic. Subscriber errors never reach the
// simulation; they are logged.
func (e *Engine) emit(eventType string, data any) {
	if e.bus == nil {
		return
	}
	if err := e.bus.PublishToTopic(DiagnosticsTopic, bus.NewEvent(eventType, eventSource, data)); err != nil {
		e.logger.Warn("Diagnostic subscriber failed",
			log.String("event", eventType),
			log.Error(err),
		)
	}
}
