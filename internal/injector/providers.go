package injector

import (
	"github.com/google/wire"

	"github.com/zeusync/scenesync/internal/config"
	"github.com/zeusync/scenesync/internal/core/events/bus"
	"github.com/zeusync/scenesync/internal/core/observability/log"
	"github.com/zeusync/scenesync/internal/core/physics"
	"github.com/zeusync/scenesync/internal/core/sim"
	"github.com/zeusync/scenesync/internal/stream"
)

// App is everything the daemon runs.
type App struct {
	Config    config.Config
	Logger    *log.Logger
	Bus       bus.EventBus
	Engine    *sim.Engine
	Exchange  *sim.Exchange
	WebSocket *stream.WebSocketFeed
	QUIC      *stream.QUICFeed
}

var ProviderSet = wire.NewSet(
	ProvideLogger,
	wire.Bind(new(log.Log), new(*log.Logger)),
	bus.New,
	ProvideOracle,
	ProvideEngineConfig,
	sim.NewEngine,
	sim.NewExchange,
	ProvideStreamConfig,
	stream.NewWebSocketFeed,
	stream.SelfSignedTLS,
	stream.NewQUICFeed,
	wire.Struct(new(App), "*"),
)

// ProvideLogger builds the process logger at the configured level.
func ProvideLogger(cfg config.Config) *log.Logger {
	level, err := log.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = log.LevelInfo
	}
	return log.New(level)
}

// ProvideOracle returns the built-in rigid body solver.
func ProvideOracle(cfg config.Config) physics.Engine {
	return physics.NewIntegrator(cfg.Integrator())
}

func ProvideEngineConfig(cfg config.Config) sim.Config {
	return sim.Config{
		Clock:                cfg.Clock(),
		DestroyPolicy:        cfg.Policy(),
		InheritInterpolation: cfg.Snapshot.InheritInterpolation,
	}
}

func ProvideStreamConfig(cfg config.Config) stream.Config {
	return stream.Config{
		Interval: cfg.PublishInterval(),
		Auth:     stream.TokenAuth{Token: cfg.Stream.Token},
	}
}
