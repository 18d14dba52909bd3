package mpm

import (
	"github.com/pthm-cable/diffmpm/parallel"
)

// Kernels runs the forward transfer kernels and their adjoints over one grid.
// Every kernel is a single synchronous sweep; the step index is always an
// argument, never state.
type Kernels struct {
	p       Params
	grid    *Grid
	pool    *parallel.Pool
	scatter *parallel.Scatter

	// Per-item scratch for deterministic parameter-gradient reductions
	cellScratch     []float64
	particleScratch []float64
}

// NewKernels binds kernels to a grid.
func NewKernels(p Params, grid *Grid, pool *parallel.Pool, mode parallel.Mode) *Kernels {
	return &Kernels{
		p:               p,
		grid:            grid,
		pool:            pool,
		scatter:         parallel.NewScatter(pool, mode),
		cellScratch:     make([]float64, grid.Cells()),
		particleScratch: make([]float64, p.NParticles),
	}
}

// ClearGrid zeroes mass_in, momentum_in and the adjoint buffers.
func (k *Kernels) ClearGrid() {
	g := k.grid
	k.pool.For(g.Cells(), func(c int) {
		g.In[3*c], g.In[3*c+1], g.In[3*c+2] = 0, 0, 0
		g.InGrad[3*c], g.InGrad[3*c+1], g.InGrad[3*c+2] = 0, 0, 0
		g.OutGrad[2*c], g.OutGrad[2*c+1] = 0, 0
	})
}

// P2G scatters the particles of step f onto the grid.
func (k *Kernels) P2G(h *History, f int) {
	p := &k.p
	g := k.grid
	fr := h.Frame(f)
	coeff := p.stressCoeff() * p.E

	k.scatter.Run(p.NParticles, g.In, func(pi int, acc parallel.Adder) {
		st := newStencil(fr.X[pi], p.InvDX)
		stress := coeff * (fr.J[pi] - 1)
		affine := fr.C[pi]
		for a := 0; a < 2; a++ {
			for b := 0; b < 2; b++ {
				affine[a][b] *= p.PMass
			}
			affine[a][a] += stress
		}
		mv := fr.V[pi].Scale(p.PMass)

		for i := 0; i < 3; i++ {
			for j := 0; j < 3; j++ {
				dpos := st.offset(i, j).Scale(p.DX)
				w := st.weight(i, j)
				mom := mv.Add(affine.MulVec(dpos))
				c := 3 * g.Index(st.base[0]+i, st.base[1]+j)
				acc.Add(c, w*mom[0])
				acc.Add(c+1, w*mom[1])
				acc.Add(c+2, w*p.PMass)
			}
		}
	})
}

// GridOp converts momentum to velocity, applies gravity and the boundary.
func (k *Kernels) GridOp() {
	g := k.grid
	k.pool.For(g.Cells(), func(c int) {
		m := g.In[3*c+2]
		if m <= 0 {
			g.Out[c] = Vec2{}
			return
		}
		v := k.preBoundVelocity(c)
		keep := k.boundMask(c/g.N, c%g.N, v)
		for a := 0; a < 2; a++ {
			if keep[a] == 0 {
				v[a] = 0
			}
		}
		g.Out[c] = v
	})
}

// preBoundVelocity is momentum/mass with gravity applied, before the boundary.
func (k *Kernels) preBoundVelocity(c int) Vec2 {
	g := k.grid
	inv := 1 / g.In[3*c+2]
	return Vec2{inv * g.In[3*c], inv*g.In[3*c+1] - k.p.DT*k.p.Gravity}
}

// boundMask returns 1 for velocity components that survive the boundary and
// 0 for components pointing out of the domain inside the boundary layer.
func (k *Kernels) boundMask(i, j int, v Vec2) Vec2 {
	keep := Vec2{1, 1}
	n, bound := k.p.NGrid, k.p.Bound
	idx := [2]int{i, j}
	for a := 0; a < 2; a++ {
		if idx[a] < bound && v[a] < 0 {
			keep[a] = 0
		}
		if idx[a] > n-bound && v[a] > 0 {
			keep[a] = 0
		}
	}
	return keep
}

// G2P gathers grid velocities back to the particles of step f and writes
// step f+1.
func (k *Kernels) G2P(h *History, f int) {
	p := &k.p
	g := k.grid
	cur, next := h.Frame(f), h.Frame(f+1)

	k.pool.For(p.NParticles, func(pi int) {
		st := newStencil(cur.X[pi], p.InvDX)
		var newV Vec2
		var newC Mat2
		for i := 0; i < 3; i++ {
			for j := 0; j < 3; j++ {
				gv := g.Out[g.Index(st.base[0]+i, st.base[1]+j)]
				d := st.offset(i, j)
				w := st.weight(i, j)
				newV = newV.Add(gv.Scale(w))
				s := 4 * w * p.InvDX
				for a := 0; a < 2; a++ {
					for b := 0; b < 2; b++ {
						newC[a][b] += s * gv[a] * d[b]
					}
				}
			}
		}
		next.V[pi] = newV
		next.X[pi] = cur.X[pi].Add(newV.Scale(p.DT))
		next.J[pi] = cur.J[pi] * (1 + p.DT*newC.Trace())
		next.C[pi] = newC
	})
}

// CheckDomain returns the first particle of step f whose stencil leaves the grid,
// or -1 if all are inside.
func (k *Kernels) CheckDomain(h *History, f int) int {
	fr := h.Frame(f)
	for pi, x := range fr.X {
		st := newStencil(x, k.p.InvDX)
		if !st.inside(k.p.NGrid) {
			return pi
		}
	}
	return -1
}
