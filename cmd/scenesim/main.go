package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zeusync/scenesync/internal/config"
	"github.com/zeusync/scenesync/internal/core/observability/log"
	"github.com/zeusync/scenesync/internal/core/sim"
	"github.com/zeusync/scenesync/internal/injector"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML or JSON config file")
	restart := flag.Bool("restart", true, "restart the simulation after a failed physics step")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Println("Error loading config:", err)
		os.Exit(1)
	}

	app, err := injector.InitializeApp(cfg)
	if err != nil {
		fmt.Println("Error initializing:", err)
		os.Exit(1)
	}
	defer func() { _ = app.Logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err = run(ctx, app, *restart); err != nil {
		app.Logger.Error("Simulation stopped", log.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, app *injector.App, restart bool) error {
	nodes, err := sim.Populate(app.Engine, app.Config.Scene.Nodes)
	if err != nil {
		return fmt.Errorf("populate scene: %w", err)
	}
	app.Logger.Info("Simulation started",
		log.String("run_id", app.Engine.RunID()),
		log.Int("nodes", len(nodes)),
		log.Duration("tick", time.Duration(app.Engine.Clock().TickDuration()*float64(time.Second))),
	)

	loop := &frameLoop{
		engine:   app.Engine,
		exchange: app.Exchange,
		interval: app.Config.FrameInterval(),
		logger:   app.Logger,
		restart:  restart,
		now:      time.Now,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return loop.run(ctx) })
	if addr := app.Config.Stream.WebSocketAddr; addr != "" {
		g.Go(func() error { return app.WebSocket.Run(ctx, addr) })
	}
	if addr := app.Config.Stream.QUICAddr; addr != "" {
		g.Go(func() error { return app.QUIC.Run(ctx, addr) })
	}
	return g.Wait()
}
