package main

import (
	"context"
	"errors"
	"time"

	"github.com/zeusync/scenesync/internal/core/observability/log"
	"github.com/zeusync/scenesync/internal/core/sim"
)

// frameLoop drives the engine from the wall clock and publishes one snapshot
// per frame.
type frameLoop struct {
	engine   *sim.Engine
	exchange *sim.Exchange
	interval time.Duration
	logger   log.Log
	// restart resumes a halted engine on the next frame instead of exiting.
	restart bool
	now     func() time.Time
}

func (l *frameLoop) run(ctx context.Context) error {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	last := l.now()
	l.exchange.Publish(l.engine.Snapshot())
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		now := l.now()
		elapsed := now.Sub(last)
		last = now
		if err := l.frame(elapsed); err != nil {
			return err
		}
	}
}

func (l *frameLoop) frame(elapsed time.Duration) error {
	_, err := l.engine.Frame(elapsed)
	switch {
	case err == nil:
	case errors.Is(err, sim.ErrEngineFailed) && l.restart:
		l.logger.Warn("Restarting simulation", log.Error(err))
		if rerr := l.engine.Restart(); rerr != nil {
			return rerr
		}
	default:
		return err
	}
	l.exchange.Publish(l.engine.Snapshot())
	return nil
}
