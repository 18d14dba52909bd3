package sim

import (
	"log/slog"

	"github.com/pthm-cable/diffmpm/mpm"
	"github.com/pthm-cable/diffmpm/telemetry"
)

// onStep runs after every forward step. The grid holds the transfer into
// step f+1, which is the step reported.
func (r *Runner) onStep(f int, h *mpm.History, g *mpm.Grid) {
	s := f + 1
	last := s == r.params.Steps-1

	if every := r.cfg.Telemetry.StatsEvery; last || (every > 0 && s%every == 0) {
		r.recordStep(s, g)
	}
	if window := r.cfg.Telemetry.PerfWindow; !last && s%window == 0 {
		r.flushPerf("forward", s)
	}
	if r.opts.Hub != nil && (last || s%r.cfg.Stream.FrameStride == 0) {
		r.opts.Hub.BroadcastFrame(s, telemetry.PackPositions(h, s))
	}
}

// recordStep computes stats for step s, logs them if enabled and appends
// them to steps.csv.
func (r *Runner) recordStep(s int, g *mpm.Grid) {
	stats := telemetry.ComputeStepStats(r.params, s, r.driver.History(), g)
	r.lastStats = stats

	if r.opts.LogStats {
		stats.LogStats()
	}
	if err := r.outputManager.WriteStep(stats); err != nil {
		slog.Error("failed to write step stats", "error", err)
	}
}

// flushPerf writes the current perf window.
func (r *Runner) flushPerf(pass string, windowEnd int) {
	perfStats := r.perfCollector.Stats()
	if r.opts.LogStats {
		perfStats.LogStats()
	}
	if err := r.outputManager.WritePerf(perfStats, pass, windowEnd); err != nil {
		slog.Error("failed to write perf", "error", err)
	}
}
