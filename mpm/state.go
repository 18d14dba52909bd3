package mpm

// Vec2 is a 2D vector.
type Vec2 [2]float64

// Mat2 is a row-major 2x2 matrix.
type Mat2 [2][2]float64

// Add returns v + o.
func (v Vec2) Add(o Vec2) Vec2 { return Vec2{v[0] + o[0], v[1] + o[1]} }

// Scale returns s*v.
func (v Vec2) Scale(s float64) Vec2 { return Vec2{v[0] * s, v[1] * s} }

// Dot returns the inner product.
func (v Vec2) Dot(o Vec2) float64 { return v[0]*o[0] + v[1]*o[1] }

// MulVec returns m·v.
func (m Mat2) MulVec(v Vec2) Vec2 {
	return Vec2{m[0][0]*v[0] + m[0][1]*v[1], m[1][0]*v[0] + m[1][1]*v[1]}
}

// Trace returns m00 + m11.
func (m Mat2) Trace() float64 { return m[0][0] + m[1][1] }

// History is the full particle trajectory: one independent copy of every
// attribute per step, laid out as flat arrays indexed step*N + particle.
// It is allocated once and never resized. The same layout holds gradients.
type History struct {
	Steps int
	N     int

	X []Vec2    // position
	V []Vec2    // velocity
	C []Mat2    // APIC affine velocity
	J []float64 // volume ratio
}

// Frame is a view of one step of a History. Slices alias the history.
type Frame struct {
	X []Vec2
	V []Vec2
	C []Mat2
	J []float64
}

// NewHistory allocates steps × n particle slots, zeroed.
func NewHistory(steps, n int) *History {
	total := steps * n
	return &History{
		Steps: steps,
		N:     n,
		X:     make([]Vec2, total),
		V:     make([]Vec2, total),
		C:     make([]Mat2, total),
		J:     make([]float64, total),
	}
}

// Frame returns the particle state at step s.
func (h *History) Frame(s int) Frame {
	lo, hi := s*h.N, (s+1)*h.N
	return Frame{
		X: h.X[lo:hi:hi],
		V: h.V[lo:hi:hi],
		C: h.C[lo:hi:hi],
		J: h.J[lo:hi:hi],
	}
}

// Zero clears every step.
func (h *History) Zero() {
	clear(h.X)
	clear(h.V)
	clear(h.C)
	clear(h.J)
}

// Grid holds the per-cell transfer buffers over an NGrid × NGrid lattice.
// Cells are indexed i*N + j with i along x. The grid is reused every step.
type Grid struct {
	N int

	// In holds momentum_in.x, momentum_in.y, mass_in for each cell (stride 3).
	In []float64
	// Out is velocity_out.
	Out []Vec2

	// Adjoint buffers: ∂L/∂velocity_out (stride 2) and ∂L/∂In (stride 3).
	OutGrad []float64
	InGrad  []float64
}

// NewGrid allocates an n × n grid.
func NewGrid(n int) *Grid {
	cells := n * n
	return &Grid{
		N:       n,
		In:      make([]float64, 3*cells),
		Out:     make([]Vec2, cells),
		OutGrad: make([]float64, 2*cells),
		InGrad:  make([]float64, 3*cells),
	}
}

// Cells returns the number of cells.
func (g *Grid) Cells() int { return g.N * g.N }

// Index returns the flat index of cell (i, j).
func (g *Grid) Index(i, j int) int { return i*g.N + j }

// Momentum returns momentum_in of cell (i, j).
func (g *Grid) Momentum(i, j int) Vec2 {
	c := 3 * g.Index(i, j)
	return Vec2{g.In[c], g.In[c+1]}
}

// Mass returns mass_in of cell (i, j).
func (g *Grid) Mass(i, j int) float64 {
	return g.In[3*g.Index(i, j)+2]
}

// Velocity returns velocity_out of cell (i, j).
func (g *Grid) Velocity(i, j int) Vec2 {
	return g.Out[g.Index(i, j)]
}

// TotalMass sums mass_in over all cells.
func (g *Grid) TotalMass() float64 {
	var sum float64
	for c := 2; c < len(g.In); c += 3 {
		sum += g.In[c]
	}
	return sum
}
