// Package config provides configuration loading and access for the simulator.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// Config holds all simulation configuration parameters.
type Config struct {
	Sim       SimConfig       `yaml:"sim"`
	Scene     SceneConfig     `yaml:"scene"`
	Parallel  ParallelConfig  `yaml:"parallel"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Render    RenderConfig    `yaml:"render"`
	Stream    StreamConfig    `yaml:"stream"`
	Optimize  OptimizeConfig  `yaml:"optimize"`

	// Derived values computed after loading
	Derived DerivedConfig `yaml:"-"`
}

// SimConfig holds the MPM constants. They are fixed for the lifetime of a run.
type SimConfig struct {
	NParticles  int     `yaml:"n_particles"`
	NGrid       int     `yaml:"n_grid"`
	DT          float64 `yaml:"dt"`
	PMass       float64 `yaml:"p_mass"`
	PVol        float64 `yaml:"p_vol"`
	E           float64 `yaml:"e"`            // Stiffness of the volumetric response
	Steps       int     `yaml:"steps"`        // History length, including step 0
	Gravity     float64 `yaml:"gravity"`      // Subtracted from grid velocity y each step
	Bound       int     `yaml:"bound"`        // Boundary layer thickness in cells
	CheckDomain bool    `yaml:"check_domain"` // Verify particle stencils after every step
}

// SceneConfig describes the initial particle layout.
type SceneConfig struct {
	Seed   int64         `yaml:"seed"`
	Blocks []BlockConfig `yaml:"blocks"`
}

// BlockConfig is a rectangle of particles launched with a common velocity.
type BlockConfig struct {
	Name     string     `yaml:"name"`
	Min      [2]float64 `yaml:"min"`      // Lower-left corner in world units [0,1]
	Size     [2]float64 `yaml:"size"`     // Extent in world units
	Velocity [2]float64 `yaml:"velocity"` // Initial velocity of every particle
	Fraction float64    `yaml:"fraction"` // Share of n_particles; normalized over all blocks
}

// ParallelConfig controls kernel dispatch.
type ParallelConfig struct {
	Workers  int    `yaml:"workers"`   // 0 = GOMAXPROCS
	Chunks   int    `yaml:"chunks"`    // Fixed chunk count per sweep; 0 = one per worker
	MinChunk int    `yaml:"min_chunk"` // Below this domain size kernels run inline
	Scatter  string `yaml:"scatter"`   // "partitioned" or "atomic"
}

// TelemetryConfig holds telemetry parameters.
type TelemetryConfig struct {
	StatsEvery int `yaml:"stats_every"` // Log step stats every N steps (0 disables)
	PerfWindow int `yaml:"perf_window"`
}

// RenderConfig holds replay viewer settings.
type RenderConfig struct {
	Scale       int `yaml:"scale"` // Screen pixels per grid cell
	FrameStride int `yaml:"frame_stride"`
	TargetFPS   int `yaml:"target_fps"`
}

// StreamConfig holds websocket frame streaming settings.
type StreamConfig struct {
	Addr        string `yaml:"addr"`
	FrameStride int    `yaml:"frame_stride"`
}

// OptimizeConfig holds defaults for cmd/optimize.
type OptimizeConfig struct {
	Iterations int        `yaml:"iterations"`
	Target     [2]float64 `yaml:"target"` // Desired centre of mass at the final step
}

// Scatter modes.
const (
	ScatterPartitioned = "partitioned"
	ScatterAtomic      = "atomic"
)

// DerivedConfig holds computed values derived from the loaded config.
type DerivedConfig struct {
	DX    float64 // Grid spacing, 1/n_grid
	InvDX float64
}

// global holds the loaded configuration.
var global *Config

// Init loads configuration from the given path, or uses embedded defaults if path is empty.
// Must be called before Cfg().
func Init(path string) error {
	cfg, err := Load(path)
	if err != nil {
		return err
	}
	global = cfg
	return nil
}

// MustInit is like Init but panics on error.
func MustInit(path string) {
	if err := Init(path); err != nil {
		panic(fmt.Sprintf("config: failed to initialize: %v", err))
	}
}

// Cfg returns the global configuration. Panics if Init was not called.
func Cfg() *Config {
	if global == nil {
		panic("config: Cfg() called before Init()")
	}
	return global
}

// Default returns a fresh copy of the embedded defaults.
func Default() *Config {
	cfg, err := Load("")
	if err != nil {
		panic(fmt.Sprintf("config: embedded defaults are invalid: %v", err))
	}
	return cfg
}

// Load loads configuration from a YAML file, merging with embedded defaults.
// If path is empty, only embedded defaults are used.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(defaultsYAML, cfg); err != nil {
		return nil, fmt.Errorf("parsing embedded defaults: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Unmarshal into same struct - only overwrites fields present in file
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.computeDerived()

	return cfg, nil
}

// ErrInvalid is returned by Validate for any rejected value.
var ErrInvalid = errors.New("config: invalid value")

// Validate rejects configurations the simulator cannot run.
func (c *Config) Validate() error {
	s := &c.Sim
	switch {
	case s.NParticles <= 0:
		return fmt.Errorf("%w: sim.n_particles must be positive, got %d", ErrInvalid, s.NParticles)
	case s.NGrid < 3:
		return fmt.Errorf("%w: sim.n_grid must hold a 3x3 stencil, got %d", ErrInvalid, s.NGrid)
	case s.DT <= 0:
		return fmt.Errorf("%w: sim.dt must be positive, got %g", ErrInvalid, s.DT)
	case s.PMass <= 0 || s.PVol <= 0:
		return fmt.Errorf("%w: sim.p_mass and sim.p_vol must be positive", ErrInvalid)
	case s.Steps < 2:
		return fmt.Errorf("%w: sim.steps must be at least 2, got %d", ErrInvalid, s.Steps)
	case s.Bound < 1:
		return fmt.Errorf("%w: sim.bound must be at least 1, got %d", ErrInvalid, s.Bound)
	}
	switch c.Parallel.Scatter {
	case ScatterPartitioned, ScatterAtomic:
	default:
		return fmt.Errorf("%w: parallel.scatter %q", ErrInvalid, c.Parallel.Scatter)
	}
	if c.Parallel.Workers < 0 {
		return fmt.Errorf("%w: parallel.workers must not be negative", ErrInvalid)
	}
	if c.Parallel.Chunks < 0 {
		return fmt.Errorf("%w: parallel.chunks must not be negative", ErrInvalid)
	}
	for _, b := range c.Scene.Blocks {
		if b.Size[0] < 0 || b.Size[1] < 0 || b.Fraction < 0 {
			return fmt.Errorf("%w: scene block %q has negative size or fraction", ErrInvalid, b.Name)
		}
	}
	return nil
}

// computeDerived calculates values derived from loaded config.
func (c *Config) computeDerived() {
	c.Derived.DX = 1 / float64(c.Sim.NGrid)
	c.Derived.InvDX = float64(c.Sim.NGrid)

	if c.Telemetry.PerfWindow < 1 {
		c.Telemetry.PerfWindow = 60
	}
	if c.Render.FrameStride < 1 {
		c.Render.FrameStride = 1
	}
	if c.Stream.FrameStride < 1 {
		c.Stream.FrameStride = 1
	}
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}
