package mpm

import (
	"context"
	"fmt"

	"github.com/pthm-cable/diffmpm/parallel"
)

// Phase is the driver lifecycle state.
type Phase uint8

const (
	Uninitialized Phase = iota
	Running
	ForwardDone
	BackwardDone
)

func (p Phase) String() string {
	switch p {
	case Uninitialized:
		return "uninitialized"
	case Running:
		return "running"
	case ForwardDone:
		return "forward_done"
	case BackwardDone:
		return "backward_done"
	}
	return fmt.Sprintf("phase(%d)", uint8(p))
}

// Kernel names reported to a Timer.
const (
	KernelClearGrid  = "clear_grid"
	KernelP2G        = "p2g"
	KernelGridOp     = "grid_op"
	KernelG2P        = "g2p"
	KernelRecompute  = "recompute"
	KernelG2PGrad    = "g2p_grad"
	KernelGridOpGrad = "grid_op_grad"
	KernelP2GGrad    = "p2g_grad"
)

// Timer receives kernel boundaries. telemetry.PerfCollector implements it.
type Timer interface {
	StartTick()
	StartPhase(name string)
	EndTick()
}

// Initializer writes the step-0 particle state.
type Initializer interface {
	Initialize(h *History) error
}

// InitializerFunc adapts a function to Initializer.
type InitializerFunc func(h *History) error

// Initialize implements Initializer.
func (f InitializerFunc) Initialize(h *History) error { return f(h) }

// Options configures a Driver.
type Options struct {
	Pool        *parallel.Pool // nil = serial
	Scatter     parallel.Mode
	CheckDomain bool  // verify stencils after every forward step
	Timer       Timer // optional

	// OnStep runs after the kernels of step f, before the index advances.
	// The grid holds step f's transfer state and h holds step f+1.
	OnStep func(f int, h *History, g *Grid)
}

// Gradients is the result of a reverse pass.
type Gradients struct {
	Loss    float64
	E       float64 // ∂L/∂E
	Gravity float64 // ∂L/∂gravity

	// History holds ∂L/∂(x, v, C, J) for every step.
	History *History
}

// Driver owns the particle history, the grid and the step index, and runs
// the forward and reverse passes.
type Driver struct {
	p     Params
	opts  Options
	hist  *History
	grad  *History
	grid  *Grid
	k     *Kernels
	phase Phase
	f     int
	err   error
}

// NewDriver allocates the full history and grid for p.
func NewDriver(p Params, opts Options) *Driver {
	if opts.Pool == nil {
		opts.Pool = parallel.Serial()
	}
	grid := NewGrid(p.NGrid)
	return &Driver{
		p:    p,
		opts: opts,
		hist: NewHistory(p.Steps, p.NParticles),
		grad: NewHistory(p.Steps, p.NParticles),
		grid: grid,
		k:    NewKernels(p, grid, opts.Pool, opts.Scatter),
	}
}

// Params returns the simulation constants.
func (d *Driver) Params() Params { return d.p }

// Phase returns the lifecycle state.
func (d *Driver) Phase() Phase { return d.phase }

// StepIndex returns the current step index.
func (d *Driver) StepIndex() int { return d.f }

// History returns the particle trajectory.
func (d *Driver) History() *History { return d.hist }

// Grid returns the transfer grid.
func (d *Driver) Grid() *Grid { return d.grid }

// Kernels returns the kernels bound to the driver's grid.
func (d *Driver) Kernels() *Kernels { return d.k }

// inc and dec are the only writers of the step index.
func (d *Driver) inc() { d.f++ }
func (d *Driver) dec() { d.f-- }

// Init fills step 0 and enters Running(0). J defaults to 1 and C to zero
// before the initializer runs.
func (d *Driver) Init(init Initializer) error {
	if d.phase != Uninitialized {
		return d.transitionError("init")
	}
	d.hist.Zero()
	fr := d.hist.Frame(0)
	for pi := range fr.J {
		fr.J[pi] = 1
	}
	if err := init.Initialize(d.hist); err != nil {
		return fmt.Errorf("%w: %w", ErrBadInit, err)
	}
	if pi := d.k.CheckDomain(d.hist, 0); pi >= 0 {
		return &StepError{Step: 0, Particle: pi, Phase: d.phase, Wrapped: ErrOutOfDomain}
	}
	d.f = 0
	d.phase = Running
	d.err = nil
	if d.p.Steps == 1 {
		d.phase = ForwardDone
	}
	return nil
}

// Step runs ClearGrid, P2G, GridOp and G2P for the current step and
// advances the index. Reaching the last step ends the forward pass.
func (d *Driver) Step() error {
	if d.err != nil {
		return d.err
	}
	if d.phase != Running {
		return d.transitionError("step")
	}
	f := d.f
	t := d.opts.Timer
	if t != nil {
		t.StartTick()
		t.StartPhase(KernelClearGrid)
	}
	d.k.ClearGrid()
	if t != nil {
		t.StartPhase(KernelP2G)
	}
	d.k.P2G(d.hist, f)
	if t != nil {
		t.StartPhase(KernelGridOp)
	}
	d.k.GridOp()
	if t != nil {
		t.StartPhase(KernelG2P)
	}
	d.k.G2P(d.hist, f)
	if t != nil {
		t.EndTick()
	}

	if d.opts.OnStep != nil {
		d.opts.OnStep(f, d.hist, d.grid)
	}
	d.inc()

	if d.opts.CheckDomain {
		if pi := d.k.CheckDomain(d.hist, d.f); pi >= 0 {
			d.err = &StepError{Step: d.f, Particle: pi, Phase: d.phase, Wrapped: ErrOutOfDomain}
			return d.err
		}
	}
	if d.f == d.p.Steps-1 {
		d.phase = ForwardDone
	}
	return nil
}

// Forward steps until the forward pass is done. The context is only checked
// between steps.
func (d *Driver) Forward(ctx context.Context) error {
	for d.phase == Running {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("forward aborted at step %d: %w", d.f, err)
		}
		if err := d.Step(); err != nil {
			return err
		}
	}
	if d.phase != ForwardDone {
		return d.transitionError("forward")
	}
	return nil
}

// Backward evaluates loss at the last step and propagates its gradient back
// to step 0. For every step, newest first, the grid is recomputed and then
// G2PGrad, GridOpGrad and P2GGrad run in reverse kernel order.
func (d *Driver) Backward(loss Loss) (*Gradients, error) {
	if d.phase != ForwardDone {
		return nil, d.transitionError("backward")
	}
	d.grad.Zero()
	out := &Gradients{History: d.grad}
	out.Loss = loss.Eval(d.hist, d.f, d.grad)

	t := d.opts.Timer
	for d.f > 0 {
		d.dec()
		f := d.f
		if t != nil {
			t.StartTick()
			t.StartPhase(KernelRecompute)
		}
		d.k.ClearGrid()
		d.k.P2G(d.hist, f)
		d.k.GridOp()
		if t != nil {
			t.StartPhase(KernelG2PGrad)
		}
		d.k.G2PGrad(d.hist, d.grad, f)
		if t != nil {
			t.StartPhase(KernelGridOpGrad)
		}
		out.Gravity += d.k.GridOpGrad()
		if t != nil {
			t.StartPhase(KernelP2GGrad)
		}
		out.E += d.k.P2GGrad(d.hist, d.grad, f)
		if t != nil {
			t.EndTick()
		}
	}

	d.phase = BackwardDone
	return out, nil
}

// Reset returns the driver to Uninitialized, keeping its allocations.
func (d *Driver) Reset() {
	d.phase = Uninitialized
	d.f = 0
	d.err = nil
}

func (d *Driver) transitionError(op string) error {
	return &StepError{
		Step:     d.f,
		Particle: -1,
		Phase:    d.phase,
		Wrapped:  fmt.Errorf("%w: %s", ErrInvalidTransition, op),
	}
}
