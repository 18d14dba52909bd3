package main

import (
	"context"
	"math"
	"slices"
	"sync"

	"gonum.org/v1/gonum/floats"

	"github.com/pthm-cable/diffmpm/config"
	"github.com/pthm-cable/diffmpm/mpm"
	"github.com/pthm-cable/diffmpm/sim"
)

// EvalRecord is one row of optimize_log.csv.
type EvalRecord struct {
	Eval     int     `csv:"eval"`
	Loss     float64 `csv:"loss"`
	LaunchVX float64 `csv:"launch_vx"`
	LaunchVY float64 `csv:"launch_vy"`
	E        float64 `csv:"e"`
	GradVX   float64 `csv:"grad_vx"`
	GradVY   float64 `csv:"grad_vy"`
	GradE    float64 `csv:"grad_e"`
	ComX     float64 `csv:"com_x"`
	ComY     float64 `csv:"com_y"`
}

// FitnessEvaluator runs a forward and reverse pass per parameter vector and
// caches the last result, since the optimizer asks for the value and the
// gradient at the same point separately.
type FitnessEvaluator struct {
	params     *ParamVector
	baseConfig *config.Config
	loss       string

	mu       sync.Mutex
	lastX    []float64
	lastLoss float64
	lastGrad []float64
	evals    int

	best     EvalRecord
	bestRaw  []float64
	onRecord func(EvalRecord)
}

// NewFitnessEvaluator creates a new evaluator.
func NewFitnessEvaluator(params *ParamVector, baseCfg *config.Config, loss string) *FitnessEvaluator {
	return &FitnessEvaluator{
		params:     params,
		baseConfig: baseCfg,
		loss:       loss,
		best:       EvalRecord{Loss: math.Inf(1)},
	}
}

// OnRecord registers a callback invoked after every fresh evaluation.
func (fe *FitnessEvaluator) OnRecord(f func(EvalRecord)) {
	fe.onRecord = f
}

// Func returns the loss at normalized parameters x.
func (fe *FitnessEvaluator) Func(x []float64) float64 {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	fe.evaluate(x)
	return fe.lastLoss
}

// Grad writes the loss gradient at normalized parameters x into grad.
func (fe *FitnessEvaluator) Grad(grad, x []float64) {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	fe.evaluate(x)
	copy(grad, fe.lastGrad)
}

// Best returns the lowest-loss record and its raw parameters.
func (fe *FitnessEvaluator) Best() (EvalRecord, []float64) {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	return fe.best, fe.bestRaw
}

// Evals returns the number of simulations run.
func (fe *FitnessEvaluator) Evals() int {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	return fe.evals
}

// evaluate runs the simulation at x unless x is the cached point. A failed
// run yields +Inf and a zero gradient so the line search backs off.
func (fe *FitnessEvaluator) evaluate(x []float64) {
	if fe.lastX != nil && floats.Equal(fe.lastX, x) {
		return
	}
	fe.lastX = slices.Clone(x)
	fe.evals++

	raw := fe.params.Clamp(fe.params.Denormalize(x))
	cfg := fe.copyConfig()
	fe.params.ApplyToConfig(cfg, raw)

	rec, rawGrad, err := fe.run(cfg)
	rec.Eval = fe.evals
	rec.LaunchVX, rec.LaunchVY, rec.E = raw[paramLaunchVX], raw[paramLaunchVY], raw[paramE]
	if err != nil {
		rec.Loss = math.Inf(1)
		fe.lastLoss = rec.Loss
		fe.lastGrad = make([]float64, fe.params.Dim())
	} else {
		fe.lastLoss = rec.Loss
		fe.lastGrad = fe.params.NormalizeGrad(rawGrad)
		// A parameter pinned at a bound cannot move further out
		for i, v := range raw {
			spec := fe.params.Specs[i]
			if (v <= spec.Min && fe.lastGrad[i] > 0) || (v >= spec.Max && fe.lastGrad[i] < 0) {
				fe.lastGrad[i] = 0
			}
		}
	}

	if rec.Loss < fe.best.Loss {
		fe.best = rec
		fe.bestRaw = raw
	}
	if fe.onRecord != nil {
		fe.onRecord(rec)
	}
}

// run simulates cfg and returns the record and ∂L/∂(raw parameters).
func (fe *FitnessEvaluator) run(cfg *config.Config) (EvalRecord, []float64, error) {
	r, err := sim.NewRunner(cfg, sim.Options{Loss: fe.loss})
	if err != nil {
		return EvalRecord{}, nil, err
	}
	defer r.Close()

	grads, err := r.Run(context.Background())
	if err != nil {
		return EvalRecord{}, nil, err
	}

	// Every particle starts with the launch velocity, so its gradient is the
	// sum of the per-particle velocity gradients.
	g0 := grads.History.Frame(0)
	gvx := make([]float64, len(g0.V))
	gvy := make([]float64, len(g0.V))
	for i, v := range g0.V {
		gvx[i], gvy[i] = v[0], v[1]
	}
	rawGrad := make([]float64, fe.params.Dim())
	rawGrad[paramLaunchVX] = floats.Sum(gvx)
	rawGrad[paramLaunchVY] = floats.Sum(gvy)
	rawGrad[paramE] = grads.E

	com := mpm.CenterOfMass(r.Driver().History(), r.Params().Steps-1)
	return EvalRecord{
		Loss:   grads.Loss,
		GradVX: rawGrad[paramLaunchVX],
		GradVY: rawGrad[paramLaunchVY],
		GradE:  rawGrad[paramE],
		ComX:   com[0],
		ComY:   com[1],
	}, rawGrad, nil
}

// copyConfig returns a copy of the base config that can be modified freely.
func (fe *FitnessEvaluator) copyConfig() *config.Config {
	cfg := *fe.baseConfig
	cfg.Scene.Blocks = slices.Clone(fe.baseConfig.Scene.Blocks)
	return &cfg
}
