package mpm

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pthm-cable/diffmpm/parallel"
)

func testParams(n, nGrid, steps int) Params {
	return Params{
		NParticles: n,
		NGrid:      nGrid,
		Steps:      steps,
		DX:         1 / float64(nGrid),
		InvDX:      float64(nGrid),
		DT:         1e-4,
		PMass:      1,
		PVol:       1,
		E:          100,
		Gravity:    9.8,
		Bound:      3,
	}
}

// randomBlock fills step 0 with particles uniform in [lo, lo+size]² and
// velocities jittered around v.
func randomBlock(seed int64, lo, size float64, v Vec2, jitter float64) InitializerFunc {
	return func(h *History) error {
		rng := rand.New(rand.NewSource(seed))
		fr := h.Frame(0)
		for pi := range fr.X {
			fr.X[pi] = Vec2{lo + size*rng.Float64(), lo + size*rng.Float64()}
			fr.V[pi] = Vec2{
				v[0] + jitter*(2*rng.Float64()-1),
				v[1] + jitter*(2*rng.Float64()-1),
			}
		}
		return nil
	}
}

func TestStencilWeightsPartitionOfUnity(t *testing.T) {
	for k := 0; k <= 1000; k++ {
		x := 0.2 + 0.1*float64(k)/1000
		st := newStencil(Vec2{x, x}, 64)
		for a := 0; a < 2; a++ {
			sum := st.w[0][a] + st.w[1][a] + st.w[2][a]
			require.InDelta(t, 1.0, sum, 1e-12, "x=%v axis %d", x, a)
			require.GreaterOrEqual(t, st.fx[a], 0.5)
			require.Less(t, st.fx[a], 1.5)
		}
	}
}

func TestStencilWeightsFormulaCoversUnitInterval(t *testing.T) {
	// The quadratic weights sum to one for any offset, not just the ones floor produces
	for k := 0; k < 100; k++ {
		f := float64(k) / 100
		sum := 0.5*sqr(1.5-f) + 0.75 - sqr(f-1) + 0.5*sqr(f-0.5)
		assert.InDelta(t, 1.0, sum, 1e-12, "fx=%v", f)
	}
}

func TestStencilOnNode(t *testing.T) {
	const invDX = 16.0
	st := newStencil(Vec2{5 / invDX, 7 / invDX}, invDX)

	assert.Equal(t, [2]int{4, 6}, st.base)
	assert.InDelta(t, 1.0, st.fx[0], 1e-12)
	assert.InDelta(t, 0.75, st.w[1][0], 1e-12)
	assert.InDelta(t, 0.125, st.w[0][0], 1e-12)
	assert.InDelta(t, 0.125, st.w[2][0], 1e-12)
	assert.InDelta(t, 0.75*0.75, st.weight(1, 1), 1e-12)
}

func TestStencilWeightGradMatchesFiniteDifference(t *testing.T) {
	const invDX = 32.0
	x := Vec2{0.4137, 0.5521}
	const eps = 1e-7
	st := newStencil(x, invDX)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			for a := 0; a < 2; a++ {
				xp, xm := x, x
				xp[a] += eps / invDX
				xm[a] -= eps / invDX
				sp, sm := newStencil(xp, invDX), newStencil(xm, invDX)
				fd := (sp.weight(i, j) - sm.weight(i, j)) / (2 * eps)
				assert.InDelta(t, fd, st.weightGrad(i, j)[a], 1e-6, "offset (%d,%d) axis %d", i, j, a)
			}
		}
	}
}

func TestP2GConservesMass(t *testing.T) {
	for _, mode := range []parallel.Mode{parallel.Partitioned, parallel.Atomic} {
		t.Run(mode.String(), func(t *testing.T) {
			p := testParams(2000, 64, 2)
			p.PMass = 0.37
			d := NewDriver(p, Options{Pool: parallel.New(4, 64), Scatter: mode})
			require.NoError(t, d.Init(randomBlock(3, 0.1, 0.8, Vec2{1, -2}, 1)))

			k := d.Kernels()
			k.ClearGrid()
			k.P2G(d.History(), 0)

			assert.InDelta(t, float64(p.NParticles)*p.PMass, d.Grid().TotalMass(), 1e-8)
		})
	}
}

func TestP2GSingleParticleStencilOnly(t *testing.T) {
	p := testParams(1, 16, 2)
	d := NewDriver(p, Options{})
	require.NoError(t, d.Init(InitializerFunc(func(h *History) error {
		h.Frame(0).X[0] = Vec2{0.5, 0.5}
		h.Frame(0).V[0] = Vec2{2, -1}
		return nil
	})))

	k := d.Kernels()
	k.ClearGrid()
	k.P2G(d.History(), 0)

	g := d.Grid()
	st := newStencil(Vec2{0.5, 0.5}, p.InvDX)
	for i := 0; i < g.N; i++ {
		for j := 0; j < g.N; j++ {
			di, dj := i-st.base[0], j-st.base[1]
			inStencil := di >= 0 && di < 3 && dj >= 0 && dj < 3
			if !inStencil {
				require.Zero(t, g.Mass(i, j), "cell (%d,%d)", i, j)
				continue
			}
			w := st.weight(di, dj)
			assert.InDelta(t, w*p.PMass, g.Mass(i, j), 1e-12)
			// J=1 and C=0 leave only the velocity term
			assert.InDelta(t, w*p.PMass*2, g.Momentum(i, j)[0], 1e-12)
			assert.InDelta(t, -w*p.PMass, g.Momentum(i, j)[1], 1e-12)
		}
	}
}

func newGridKernels(p Params) (*Kernels, *Grid) {
	g := NewGrid(p.NGrid)
	return NewKernels(p, g, parallel.Serial(), parallel.Partitioned), g
}

func setCell(g *Grid, i, j int, mom Vec2, mass float64) {
	c := 3 * g.Index(i, j)
	g.In[c], g.In[c+1], g.In[c+2] = mom[0], mom[1], mass
}

func TestGridOpBoundaryReflection(t *testing.T) {
	p := testParams(1, 16, 2)
	k, g := newGridKernels(p)
	n := p.NGrid

	setCell(g, 0, 8, Vec2{-2, 0}, 2)    // moving out through x-
	setCell(g, n-1, 8, Vec2{3, 0}, 1)   // moving out through x+
	setCell(g, 8, 0, Vec2{0, -1}, 1)    // falling through y-
	setCell(g, 8, n-1, Vec2{0, 5}, 1)   // rising through y+
	setCell(g, 1, 8, Vec2{4, 0}, 2)     // inside the layer but moving inward
	setCell(g, 8, 8, Vec2{-1, -1}, 0.5) // interior
	setCell(g, 9, 9, Vec2{1, 1}, 0)     // massless
	k.GridOp()

	assert.Equal(t, 0.0, g.Velocity(0, 8)[0])
	assert.Equal(t, 0.0, g.Velocity(n-1, 8)[0])
	assert.Equal(t, 0.0, g.Velocity(8, 0)[1])
	assert.Equal(t, 0.0, g.Velocity(8, n-1)[1])
	assert.InDelta(t, 2.0, g.Velocity(1, 8)[0], 1e-12)

	interior := g.Velocity(8, 8)
	assert.InDelta(t, -2.0, interior[0], 1e-12)
	assert.InDelta(t, -2.0-p.DT*p.Gravity, interior[1], 1e-12)

	assert.Equal(t, Vec2{}, g.Velocity(9, 9))
}

func TestGridOpGravityOnly(t *testing.T) {
	p := testParams(1, 16, 2)
	k, g := newGridKernels(p)
	setCell(g, 7, 7, Vec2{0, 0}, 1)
	k.GridOp()
	assert.InDelta(t, -p.DT*p.Gravity, g.Velocity(7, 7)[1], 1e-15)
	assert.Equal(t, 0.0, g.Velocity(7, 7)[0])
}

func TestG2PUniformFieldTranslates(t *testing.T) {
	p := testParams(1, 16, 2)
	k, g := newGridKernels(p)
	vel := Vec2{0.3, -0.7}
	for c := range g.Out {
		g.Out[c] = vel
	}

	h := NewHistory(2, 1)
	h.Frame(0).X[0] = Vec2{0.43, 0.61}
	h.Frame(0).J[0] = 1
	k.G2P(h, 0)

	next := h.Frame(1)
	assert.InDelta(t, vel[0], next.V[0][0], 1e-12)
	assert.InDelta(t, vel[1], next.V[0][1], 1e-12)
	assert.InDelta(t, 0.43+p.DT*vel[0], next.X[0][0], 1e-12)
	assert.InDelta(t, 0.61+p.DT*vel[1], next.X[0][1], 1e-12)
	// A uniform field has no velocity gradient
	for a := 0; a < 2; a++ {
		for b := 0; b < 2; b++ {
			assert.InDelta(t, 0, next.C[0][a][b], 1e-9)
		}
	}
	assert.InDelta(t, 1.0, next.J[0], 1e-12)
}

func TestG2PLinearFieldRecoversGradient(t *testing.T) {
	// v(x) = A x on the nodes; APIC reconstructs A exactly for quadratic splines
	p := testParams(1, 32, 2)
	k, g := newGridKernels(p)
	A := Mat2{{0.5, -1.25}, {2, 0.75}}
	for i := 0; i < g.N; i++ {
		for j := 0; j < g.N; j++ {
			node := Vec2{float64(i) * p.DX, float64(j) * p.DX}
			g.Out[g.Index(i, j)] = A.MulVec(node)
		}
	}

	h := NewHistory(2, 1)
	h.Frame(0).X[0] = Vec2{0.47, 0.52}
	h.Frame(0).J[0] = 1
	k.G2P(h, 0)

	C := h.Frame(1).C[0]
	for a := 0; a < 2; a++ {
		for b := 0; b < 2; b++ {
			assert.InDelta(t, A[a][b], C[a][b], 1e-9, "C[%d][%d]", a, b)
		}
	}
	assert.InDelta(t, 1+p.DT*A.Trace(), h.Frame(1).J[0], 1e-12)
}

func TestCheckDomain(t *testing.T) {
	p := testParams(3, 16, 2)
	k, _ := newGridKernels(p)
	h := NewHistory(2, 3)
	fr := h.Frame(0)
	fr.X[0] = Vec2{0.5, 0.5}
	fr.X[1] = Vec2{0.5, 0.5}
	fr.X[2] = Vec2{0.5, 0.5}
	assert.Equal(t, -1, k.CheckDomain(h, 0))

	fr.X[1] = Vec2{0.5, 0.01}
	assert.Equal(t, 1, k.CheckDomain(h, 0))

	fr.X[1] = Vec2{0.5, 0.5}
	fr.X[2] = Vec2{0.99, 0.5}
	assert.Equal(t, 2, k.CheckDomain(h, 0))
}
