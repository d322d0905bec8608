// Package clock turns variable wall-clock frame times into a whole number
// of fixed-duration simulation ticks plus an interpolation fraction.
package clock

import (
	"errors"
	"fmt"
	"math"
)

var (
	ErrInvalidTickDuration = errors.New("tick duration must be positive and finite")
	ErrInvalidStepCap      = errors.New("max steps per frame must be positive")
	ErrInvalidTimeScale    = errors.New("time scale must be non-negative and finite")
	ErrInvalidElapsed      = errors.New("elapsed time must be non-negative and finite")
	ErrTickFailed          = errors.New("simulation tick failed")
)

// DefaultMaxSteps caps catch-up ticks per frame.
const DefaultMaxSteps = 5

// fpsWindow is the span of frame history AverageFPS looks at, in seconds.
const fpsWindow = 1.0

// maxFPSSamples bounds the frame history when frames are shorter than the
// window can resolve, e.g. a run of zero-length frames.
const maxFPSSamples = 1024

// State is the accumulator state machine position.
type State uint8

const (
	Idle State = iota
	Accumulating
	Stepping
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Accumulating:
		return "accumulating"
	case Stepping:
		return "stepping"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// Config is fixed for the lifetime of a Clock.
type Config struct {
	// TickDuration in seconds.
	TickDuration float64
	// MaxStepsPerFrame bounds catch-up work. Zero selects DefaultMaxSteps.
	MaxStepsPerFrame int
	// TimeScale multiplies elapsed time before accumulation. Zero pauses.
	TimeScale float64
}

// FromRate builds a config ticking rate times per second at normal speed.
func FromRate(rate float64, maxSteps int) Config {
	return Config{TickDuration: 1 / rate, MaxStepsPerFrame: maxSteps, TimeScale: 1}
}

// Overrun describes a frame whose backlog exceeded the step cap. The excess
// whole ticks are discarded; simulation fidelity is traded for liveness.
type Overrun struct {
	Executed int
	Dropped  int
	// Tick is the tick counter after the executed ticks.
	Tick uint64
}

// Frame summarizes one Advance call.
type Frame struct {
	Ticks   int
	Dropped int
	Alpha   float64
	Elapsed float64
}

// Overran reports whether ticks were dropped.
func (f Frame) Overran() bool { return f.Dropped > 0 }

// StepFunc runs one tick of dt seconds.
type StepFunc func(dt float64) error

type Option func(*Clock)

// WithOverrunHandler registers fn to be called at most once per frame when
// ticks are dropped.
func WithOverrunHandler(fn func(Overrun)) Option {
	return func(c *Clock) {
		c.onOverrun = fn
	}
}

// Clock is a fixed-step accumulator. It is not safe for concurrent use.
type Clock struct {
	tick      float64
	eps       float64
	maxSteps  int
	timeScale float64

	leftover float64
	ticks    uint64
	state    State

	frames    []float64
	framesSum float64

	onOverrun func(Overrun)
}

func New(cfg Config, opts ...Option) (*Clock, error) {
	if !(cfg.TickDuration > 0) || math.IsInf(cfg.TickDuration, 0) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTickDuration, cfg.TickDuration)
	}
	if cfg.MaxStepsPerFrame == 0 {
		cfg.MaxStepsPerFrame = DefaultMaxSteps
	}
	if cfg.MaxStepsPerFrame < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidStepCap, cfg.MaxStepsPerFrame)
	}
	if cfg.TimeScale < 0 || math.IsNaN(cfg.TimeScale) || math.IsInf(cfg.TimeScale, 0) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTimeScale, cfg.TimeScale)
	}

	c := &Clock{
		tick:      cfg.TickDuration,
		eps:       cfg.TickDuration * 1e-9,
		maxSteps:  cfg.MaxStepsPerFrame,
		timeScale: cfg.TimeScale,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Advance accumulates elapsed wall seconds and runs step once per whole
// tick, at most MaxStepsPerFrame times. Residue within a rounding epsilon
// of a full tick counts as a full tick, so slicing the same total time into
// different frames yields the same tick count.
//
// If step fails the failed tick is not counted, its time stays in the
// accumulator and the error wraps ErrTickFailed.
func (c *Clock) Advance(elapsed float64, step StepFunc) (Frame, error) {
	if elapsed < 0 || math.IsNaN(elapsed) || math.IsInf(elapsed, 0) {
		return Frame{}, fmt.Errorf("%w: %v", ErrInvalidElapsed, elapsed)
	}
	c.recordFrame(elapsed)

	frame := Frame{Elapsed: elapsed}
	c.state = Accumulating
	c.leftover += elapsed * c.timeScale

	for c.leftover+c.eps >= c.tick {
		if frame.Ticks == c.maxSteps {
			frame.Dropped = int((c.leftover + c.eps) / c.tick)
			c.leftover = math.Mod(c.leftover, c.tick)
			if c.leftover+c.eps >= c.tick {
				c.leftover = 0
			}
			if c.onOverrun != nil {
				c.onOverrun(Overrun{Executed: frame.Ticks, Dropped: frame.Dropped, Tick: c.ticks})
			}
			break
		}

		c.state = Stepping
		if step != nil {
			if err := step(c.tick); err != nil {
				c.state = Idle
				frame.Alpha = c.Alpha()
				return frame, fmt.Errorf("%w: tick %d: %w", ErrTickFailed, c.ticks+1, err)
			}
		}
		c.leftover -= c.tick
		c.ticks++
		frame.Ticks++
		c.state = Accumulating
	}

	if c.leftover < 0 {
		c.leftover = 0
	}
	c.state = Idle
	frame.Alpha = c.Alpha()
	return frame, nil
}

// Alpha is the fraction of a tick accumulated past the last completed one,
// in [0, 1).
func (c *Clock) Alpha() float64 {
	a := c.leftover / c.tick
	if a >= 1 {
		return math.Nextafter(1, 0)
	}
	return a
}

// Ticks returns the number of completed ticks.
func (c *Clock) Ticks() uint64 { return c.ticks }

// SimulatedTime is Ticks times the tick duration.
func (c *Clock) SimulatedTime() float64 { return float64(c.ticks) * c.tick }

func (c *Clock) Leftover() float64 { return c.leftover }

func (c *Clock) State() State { return c.state }

func (c *Clock) TickDuration() float64 { return c.tick }

func (c *Clock) MaxSteps() int { return c.maxSteps }

func (c *Clock) TimeScale() float64 { return c.timeScale }

// SetTimeScale changes how fast simulated time runs relative to wall time.
func (c *Clock) SetTimeScale(scale float64) error {
	if scale < 0 || math.IsNaN(scale) || math.IsInf(scale, 0) {
		return fmt.Errorf("%w: %v", ErrInvalidTimeScale, scale)
	}
	c.timeScale = scale
	return nil
}

// AverageFPS is the frame rate over the most recent second of frames.
func (c *Clock) AverageFPS() float64 {
	if c.framesSum <= 0 {
		return 0
	}
	return float64(len(c.frames)) / c.framesSum
}

// Reset returns the clock to tick zero with an empty accumulator.
func (c *Clock) Reset() {
	c.leftover = 0
	c.ticks = 0
	c.state = Idle
	c.frames = c.frames[:0]
	c.framesSum = 0
}

func (c *Clock) recordFrame(elapsed float64) {
	c.frames = append(c.frames, elapsed)
	c.framesSum += elapsed
	drop := 0
	for len(c.frames)-drop > 1 && c.framesSum-c.frames[drop] >= fpsWindow {
		c.framesSum -= c.frames[drop]
		drop++
	}
	for len(c.frames)-drop > maxFPSSamples {
		c.framesSum -= c.frames[drop]
		drop++
	}
	if drop > 0 {
		c.frames = append(c.frames[:0], c.frames[drop:]...)
	}
}
