// Package sim wires the MPM driver to its collaborators: the scene that
// seeds it, telemetry, the frame stream and run output.
package sim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pthm-cable/diffmpm/config"
	"github.com/pthm-cable/diffmpm/mpm"
	"github.com/pthm-cable/diffmpm/parallel"
	"github.com/pthm-cable/diffmpm/scene"
	"github.com/pthm-cable/diffmpm/stream"
	"github.com/pthm-cable/diffmpm/telemetry"
)

// Loss names accepted by LossByName.
const (
	LossCenterOfMass = "com"
	LossMeanHeight   = "height"
)

// ErrUnknownLoss is returned for a loss name LossByName does not know.
var ErrUnknownLoss = errors.New("sim: unknown loss")

// LossByName returns the named objective. The centre of mass loss aims at
// the optimize target from the config.
func LossByName(name string, cfg *config.Config) (mpm.Loss, error) {
	switch name {
	case LossCenterOfMass, "":
		return mpm.CenterOfMassLoss{Target: mpm.Vec2(cfg.Optimize.Target)}, nil
	case LossMeanHeight:
		return mpm.MeanHeightLoss{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownLoss, name)
}

// Options configures a Runner.
type Options struct {
	Loss      string
	OutputDir string // Empty disables CSV and snapshot output
	LogStats  bool
	Hub       *stream.Hub // Optional frame stream
}

// Runner owns one driver and runs it forward and backward with telemetry.
type Runner struct {
	cfg    *config.Config
	params mpm.Params
	opts   Options

	scene  *scene.Scene
	driver *mpm.Driver
	loss   mpm.Loss

	perfCollector *telemetry.PerfCollector
	outputManager *telemetry.OutputManager

	lastStats telemetry.StepStats
	grads     *mpm.Gradients
}

// NewRunner builds the scene, driver and output for cfg.
func NewRunner(cfg *config.Config, opts Options) (*Runner, error) {
	loss, err := LossByName(opts.Loss, cfg)
	if err != nil {
		return nil, err
	}
	sc, err := scene.FromConfig(cfg.Scene)
	if err != nil {
		return nil, err
	}
	mode, err := parallel.ParseMode(cfg.Parallel.Scatter)
	if err != nil {
		return nil, err
	}
	om, err := telemetry.NewOutputManager(opts.OutputDir)
	if err != nil {
		return nil, err
	}
	if err := om.WriteConfig(cfg); err != nil {
		om.Close()
		return nil, err
	}

	r := &Runner{
		cfg:           cfg,
		params:        mpm.ParamsFromConfig(cfg),
		opts:          opts,
		scene:         sc,
		loss:          loss,
		perfCollector: telemetry.NewPerfCollector(cfg.Telemetry.PerfWindow),
		outputManager: om,
	}
	r.driver = mpm.NewDriver(r.params, mpm.Options{
		Pool:        parallel.New(cfg.Parallel.Workers, cfg.Parallel.MinChunk).WithChunks(cfg.Parallel.Chunks),
		Scatter:     mode,
		CheckDomain: cfg.Sim.CheckDomain,
		Timer:       r.perfCollector,
		OnStep:      r.onStep,
	})
	return r, nil
}

// Params returns the simulation constants.
func (r *Runner) Params() mpm.Params { return r.params }

// Scene returns the scene used to seed the driver.
func (r *Runner) Scene() *scene.Scene { return r.scene }

// Driver returns the underlying driver.
func (r *Runner) Driver() *mpm.Driver { return r.driver }

// LastStats returns the most recently recorded step stats.
func (r *Runner) LastStats() telemetry.StepStats { return r.lastStats }

// Forward resets the driver, seeds it from the scene and runs every step.
func (r *Runner) Forward(ctx context.Context) error {
	r.driver.Reset()
	r.perfCollector.Reset()
	r.grads = nil

	if err := r.driver.Init(r.scene); err != nil {
		return err
	}
	r.recordStep(0, nil)
	if r.opts.Hub != nil {
		r.opts.Hub.BroadcastFrame(0, telemetry.PackPositions(r.driver.History(), 0))
	}

	if err := r.driver.Forward(ctx); err != nil {
		return err
	}
	r.flushPerf("forward", r.params.Steps-1)
	if r.opts.Hub != nil {
		r.opts.Hub.BroadcastDone("forward", nil)
	}
	return nil
}

// Backward runs the reverse pass and writes gradients.csv.
func (r *Runner) Backward() (*mpm.Gradients, error) {
	r.perfCollector.Reset()
	grads, err := r.driver.Backward(r.loss)
	if err != nil {
		return nil, err
	}
	r.grads = grads
	r.flushPerf("backward", 0)

	summary := telemetry.Summarize(grads)
	slog.Info("backward done", "grads", summary)
	if err := r.outputManager.WriteGradients(telemetry.ParticleGrads(r.driver.History(), grads)); err != nil {
		slog.Error("failed to write gradients", "error", err)
	}
	if r.opts.Hub != nil {
		r.opts.Hub.BroadcastDone("backward", &grads.Loss)
	}
	return grads, nil
}

// Run does a forward and a backward pass and saves the trajectory.
func (r *Runner) Run(ctx context.Context) (*mpm.Gradients, error) {
	if err := r.Forward(ctx); err != nil {
		return nil, err
	}
	grads, err := r.Backward()
	if err != nil {
		return nil, err
	}
	if r.outputManager != nil {
		snap := r.Snapshot()
		path, err := telemetry.SaveSnapshot(snap, r.outputManager.Dir())
		if err != nil {
			slog.Error("failed to save snapshot", "error", err)
		} else {
			slog.Info("snapshot saved", "path", path)
		}
	}
	return grads, nil
}

// Snapshot records the trajectory at the render frame stride.
func (r *Runner) Snapshot() *telemetry.Snapshot {
	snap := telemetry.NewSnapshot(r.params, r.scene.Seed(), r.driver.History(), r.cfg.Render.FrameStride)
	if r.grads != nil {
		loss := r.grads.Loss
		snap.Loss = &loss
	}
	return snap
}

// Close flushes and closes output files.
func (r *Runner) Close() error {
	return r.outputManager.Close()
}
