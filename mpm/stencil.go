package mpm

import "math"

// stencil is the 3×3 quadratic B-spline footprint of one particle.
type stencil struct {
	base [2]int
	fx   Vec2    // position in cell units relative to base
	w    [3]Vec2 // w[k][axis]
	dw   [3]Vec2 // ∂w[k][axis]/∂fx[axis]
}

// newStencil computes the footprint of a particle at x.
// base is floor(x/dx - 0.5); the floor has zero derivative almost everywhere.
func newStencil(x Vec2, invDX float64) stencil {
	var s stencil
	for a := 0; a < 2; a++ {
		xg := x[a] * invDX
		b := math.Floor(xg - 0.5)
		f := xg - b
		s.base[a] = int(b)
		s.fx[a] = f
		s.w[0][a], s.dw[0][a] = 0.5*sqr(1.5-f), f-1.5
		s.w[1][a], s.dw[1][a] = 0.75-sqr(f-1), -2*(f-1)
		s.w[2][a], s.dw[2][a] = 0.5*sqr(f-0.5), f-0.5
	}
	return s
}

// weight returns the tensor-product weight of stencil offset (i, j).
func (s *stencil) weight(i, j int) float64 {
	return s.w[i][0] * s.w[j][1]
}

// weightGrad returns ∂weight(i, j)/∂fx.
func (s *stencil) weightGrad(i, j int) Vec2 {
	return Vec2{s.dw[i][0] * s.w[j][1], s.w[i][0] * s.dw[j][1]}
}

// offset returns (i, j) - fx, the offset from the particle to the node in cell units.
func (s *stencil) offset(i, j int) Vec2 {
	return Vec2{float64(i) - s.fx[0], float64(j) - s.fx[1]}
}

// inside reports whether the whole footprint lies on an n × n grid.
func (s *stencil) inside(n int) bool {
	return s.base[0] >= 0 && s.base[1] >= 0 && s.base[0]+2 < n && s.base[1]+2 < n
}

func sqr(x float64) float64 { return x * x }
