// Package config describes a simulation run. A Config is decoded once at
// startup and is treated as immutable afterwards.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/zeusync/scenesync/internal/core/clock"
	"github.com/zeusync/scenesync/internal/core/observability/log"
	"github.com/zeusync/scenesync/internal/core/physics"
	"github.com/zeusync/scenesync/internal/core/scene"
)

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	Simulation SimulationConfig `json:"simulation" yaml:"simulation"`
	Physics    PhysicsConfig    `json:"physics" yaml:"physics"`
	Snapshot   SnapshotConfig   `json:"snapshot" yaml:"snapshot"`
	Stream     StreamConfig     `json:"stream" yaml:"stream"`
	Log        LogConfig        `json:"log" yaml:"log"`
	Scene      SceneConfig      `json:"scene" yaml:"scene"`
}

type SimulationConfig struct {
	// TickRate is the number of physics ticks per simulated second.
	TickRate         float64 `json:"tick_rate" yaml:"tick_rate"`
	MaxStepsPerFrame int     `json:"max_steps_per_frame" yaml:"max_steps_per_frame"`
	DestroyPolicy    string  `json:"destroy_policy" yaml:"destroy_policy"`
	TimeScale        float64 `json:"time_scale" yaml:"time_scale"`
	// FrameRate is how often the daemon runs a frame.
	FrameRate float64 `json:"frame_rate" yaml:"frame_rate"`
}

type PhysicsConfig struct {
	Gravity       [3]float64 `json:"gravity" yaml:"gravity"`
	MaxCoordinate float64    `json:"max_coordinate" yaml:"max_coordinate"`
}

type SnapshotConfig struct {
	// InheritInterpolation presents children of interpolated nodes relative
	// to the interpolated parent instead of the raw world transform.
	InheritInterpolation bool `json:"inherit_interpolation" yaml:"inherit_interpolation"`
}

type StreamConfig struct {
	WebSocketAddr string `json:"websocket_addr" yaml:"websocket_addr"`
	QUICAddr      string `json:"quic_addr" yaml:"quic_addr"`
	// PublishRate is snapshots per second pushed to each subscriber; 0 means the feed default.
	PublishRate float64 `json:"publish_rate" yaml:"publish_rate"`
	// Token, when set, must be presented by every subscriber.
	Token string `json:"token,omitempty" yaml:"token,omitempty"`
}

type LogConfig struct {
	Level string `json:"level" yaml:"level"`
}

type SceneConfig struct {
	Nodes []NodeConfig `json:"nodes" yaml:"nodes"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Simulation: SimulationConfig{
			TickRate:         60,
			MaxStepsPerFrame: clock.DefaultMaxSteps,
			DestroyPolicy:    scene.CascadeDestroy.String(),
			TimeScale:        1,
			FrameRate:        120,
		},
		Physics: PhysicsConfig{
			Gravity:       physics.DefaultGravity,
			MaxCoordinate: physics.DefaultMaxCoordinate,
		},
		Stream: StreamConfig{
			WebSocketAddr: ":8080",
			PublishRate:   30,
		},
		Log: LogConfig{Level: "info"},
	}
}

// LoadYAML decodes YAML over the defaults and validates the result.
func LoadYAML(r io.Reader) (Config, error) {
	c := Default()
	if err := yaml.NewDecoder(r).Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("decode yaml config: %w", err)
	}
	return c, c.Validate()
}

// LoadJSON decodes JSON over the defaults and validates the result.
func LoadJSON(r io.Reader) (Config, error) {
	c := Default()
	if err := json.NewDecoder(r).Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("decode json config: %w", err)
	}
	return c, c.Validate()
}

// Load reads a config file, picking the decoder from the extension. An
// empty path yields Default().
func Load(path string) (Config, error) {
	if path == "" {
		c := Default()
		return c, c.Validate()
	}
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("open config: %w", err)
	}
	defer func() { _ = f.Close() }()

	if strings.EqualFold(filepath.Ext(path), ".json") {
		return LoadJSON(f)
	}
	return LoadYAML(f)
}

func (c Config) Validate() error {
	var errs []error
	s := c.Simulation
	if !(s.TickRate > 0) || math.IsInf(s.TickRate, 0) {
		errs = append(errs, fmt.Errorf("simulation.tick_rate must be positive, got %v", s.TickRate))
	}
	if s.MaxStepsPerFrame <= 0 {
		errs = append(errs, fmt.Errorf("simulation.max_steps_per_frame must be positive, got %d", s.MaxStepsPerFrame))
	}
	if _, err := scene.ParseDestroyPolicy(s.DestroyPolicy); err != nil {
		errs = append(errs, fmt.Errorf("simulation.destroy_policy: %w", err))
	}
	if s.TimeScale < 0 || math.IsNaN(s.TimeScale) {
		errs = append(errs, fmt.Errorf("simulation.time_scale must be non-negative, got %v", s.TimeScale))
	}
	if !(s.FrameRate > 0) {
		errs = append(errs, fmt.Errorf("simulation.frame_rate must be positive, got %v", s.FrameRate))
	}
	if !(c.Physics.MaxCoordinate > 0) {
		errs = append(errs, fmt.Errorf("physics.max_coordinate must be positive, got %v", c.Physics.MaxCoordinate))
	}
	if c.Stream.PublishRate < 0 {
		errs = append(errs, fmt.Errorf("stream.publish_rate must be non-negative, got %v", c.Stream.PublishRate))
	}
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	if err := c.Scene.Validate(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// Clock returns the clock settings of the run.
func (c Config) Clock() clock.Config {
	return clock.Config{
		TickDuration:     1 / c.Simulation.TickRate,
		MaxStepsPerFrame: c.Simulation.MaxStepsPerFrame,
		TimeScale:        c.Simulation.TimeScale,
	}
}

func (c Config) Policy() scene.DestroyPolicy {
	p, _ := scene.ParseDestroyPolicy(c.Simulation.DestroyPolicy)
	return p
}

func (c Config) Integrator() physics.IntegratorConfig {
	return physics.IntegratorConfig{
		Gravity:       c.Physics.Gravity,
		MaxCoordinate: c.Physics.MaxCoordinate,
	}
}

// FrameInterval is the daemon's wall-clock frame period.
func (c Config) FrameInterval() time.Duration {
	return time.Duration(float64(time.Second) / c.Simulation.FrameRate)
}

// PublishInterval is the feed push period; zero leaves the feed default.
func (c Config) PublishInterval() time.Duration {
	if c.Stream.PublishRate <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / c.Stream.PublishRate)
}
