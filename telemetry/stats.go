// Package telemetry collects per-step statistics, kernel timings and
// gradient summaries, and writes them as CSV.
package telemetry

import (
	"log/slog"
	"math"
	"slices"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/pthm-cable/diffmpm/mpm"
)

// StepStats is a snapshot of the particle state at one step.
type StepStats struct {
	Step    int     `csv:"step"`
	SimTime float64 `csv:"sim_time"`

	// Grid mass after P2G; equals n_particles*p_mass up to rounding
	GridMass float64 `csv:"grid_mass"`

	KineticEnergy float64 `csv:"kinetic_energy"`
	MomentumX     float64 `csv:"momentum_x"`
	MomentumY     float64 `csv:"momentum_y"`
	MaxSpeed      float64 `csv:"max_speed"`

	ComX float64 `csv:"com_x"`
	ComY float64 `csv:"com_y"`

	// Volume ratio distribution
	JMean float64 `csv:"j_mean"`
	JStd  float64 `csv:"j_std"`
	JMin  float64 `csv:"j_min"`
	JP50  float64 `csv:"j_p50"`
	JMax  float64 `csv:"j_max"`
}

// ComputeStepStats summarizes step s of h. g supplies the grid mass and may
// be nil.
func ComputeStepStats(p mpm.Params, s int, h *mpm.History, g *mpm.Grid) StepStats {
	fr := h.Frame(s)
	n := len(fr.X)
	out := StepStats{Step: s, SimTime: float64(s) * p.DT}
	if g != nil {
		out.GridMass = g.TotalMass()
	}
	if n == 0 {
		return out
	}

	speed2 := make([]float64, n)
	vx := make([]float64, n)
	vy := make([]float64, n)
	for i, v := range fr.V {
		vx[i], vy[i] = v[0], v[1]
		speed2[i] = v.Dot(v)
	}
	out.KineticEnergy = 0.5 * p.PMass * floats.Sum(speed2)
	out.MomentumX = p.PMass * floats.Sum(vx)
	out.MomentumY = p.PMass * floats.Sum(vy)
	out.MaxSpeed = math.Sqrt(floats.Max(speed2))

	com := mpm.CenterOfMass(h, s)
	out.ComX, out.ComY = com[0], com[1]

	js := slices.Clone(fr.J)
	slices.Sort(js)
	out.JMean, out.JStd = stat.PopMeanStdDev(js, nil)
	out.JMin = js[0]
	out.JMax = js[n-1]
	out.JP50 = stat.Quantile(0.5, stat.Empirical, js, nil)
	return out
}

// LogValue implements slog.LogValuer for structured logging.
func (s StepStats) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("step", s.Step),
		slog.Float64("sim_time", s.SimTime),
		slog.Float64("grid_mass", s.GridMass),
		slog.Float64("kinetic_energy", s.KineticEnergy),
		slog.Float64("max_speed", s.MaxSpeed),
		slog.Float64("com_x", s.ComX),
		slog.Float64("com_y", s.ComY),
		slog.Float64("j_mean", s.JMean),
		slog.Float64("j_min", s.JMin),
		slog.Float64("j_max", s.JMax),
	)
}

// LogStats logs the step stats using slog.
func (s StepStats) LogStats() {
	slog.Info("stats",
		"step", s.Step,
		"sim_time", s.SimTime,
		"grid_mass", s.GridMass,
		"kinetic_energy", s.KineticEnergy,
		"max_speed", s.MaxSpeed,
		"com_x", s.ComX,
		"com_y", s.ComY,
		"j_mean", s.JMean,
		"j_min", s.JMin,
		"j_max", s.JMax,
	)
}

// ParticleGrad is one row of gradients.csv: a particle's initial state and
// the loss gradient with respect to it.
type ParticleGrad struct {
	Particle int     `csv:"particle"`
	X        float64 `csv:"x"`
	Y        float64 `csv:"y"`
	GradX    float64 `csv:"grad_x"`
	GradY    float64 `csv:"grad_y"`
	GradVX   float64 `csv:"grad_vx"`
	GradVY   float64 `csv:"grad_vy"`
}

// ParticleGrads pairs step 0 of h with step 0 of the gradient history.
func ParticleGrads(h *mpm.History, grads *mpm.Gradients) []ParticleGrad {
	fr, gfr := h.Frame(0), grads.History.Frame(0)
	out := make([]ParticleGrad, len(fr.X))
	for i := range out {
		out[i] = ParticleGrad{
			Particle: i,
			X:        fr.X[i][0],
			Y:        fr.X[i][1],
			GradX:    gfr.X[i][0],
			GradY:    gfr.X[i][1],
			GradVX:   gfr.V[i][0],
			GradVY:   gfr.V[i][1],
		}
	}
	return out
}

// GradSummary is the headline result of a reverse pass.
type GradSummary struct {
	Loss        float64
	GradE       float64
	GradGravity float64

	// Mean launch-velocity gradient over all particles
	GradVX float64
	GradVY float64
	// Largest per-particle position gradient
	MaxGradX float64
}

// Summarize reduces a reverse pass to a GradSummary.
func Summarize(grads *mpm.Gradients) GradSummary {
	gfr := grads.History.Frame(0)
	n := len(gfr.X)
	s := GradSummary{Loss: grads.Loss, GradE: grads.E, GradGravity: grads.Gravity}
	if n == 0 {
		return s
	}
	vx := make([]float64, n)
	vy := make([]float64, n)
	gx := make([]float64, n)
	for i := range gfr.V {
		vx[i], vy[i] = gfr.V[i][0], gfr.V[i][1]
		gx[i] = math.Hypot(gfr.X[i][0], gfr.X[i][1])
	}
	s.GradVX = stat.Mean(vx, nil)
	s.GradVY = stat.Mean(vy, nil)
	s.MaxGradX = floats.Max(gx)
	return s
}

// LogValue implements slog.LogValuer for structured logging.
func (s GradSummary) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Float64("loss", s.Loss),
		slog.Float64("grad_e", s.GradE),
		slog.Float64("grad_gravity", s.GradGravity),
		slog.Float64("grad_vx", s.GradVX),
		slog.Float64("grad_vy", s.GradVY),
		slog.Float64("max_grad_x", s.MaxGradX),
	)
}
