package mpm

import (
	"gonum.org/v1/gonum/floats"

	"github.com/pthm-cable/diffmpm/parallel"
)

// The adjoint kernels are the transposes of P2G, GridOp and G2P. Each reads
// the forward values of its step (the grid must hold the recomputed forward
// state of that step) and accumulates into gradient buffers with +=.
//
// Gradient discontinuities: the floor in the stencil base, the mass > 0 test
// in GridOp and the boundary zeroing. All three are treated as locally
// constant.

// G2PGrad propagates ∂L/∂state[f+1] back to ∂L/∂x[f], ∂L/∂J[f] and scatters
// ∂L/∂velocity_out into the grid.
func (k *Kernels) G2PGrad(h, grad *History, f int) {
	p := &k.p
	g := k.grid
	cur := h.Frame(f)
	gcur, gnext := grad.Frame(f), grad.Frame(f+1)

	k.scatter.Run(p.NParticles, g.OutGrad, func(pi int, acc parallel.Adder) {
		st := newStencil(cur.X[pi], p.InvDX)

		// The J update needs trace(new_C) from the forward gather
		var trace float64
		for i := 0; i < 3; i++ {
			for j := 0; j < 3; j++ {
				gv := g.Out[g.Index(st.base[0]+i, st.base[1]+j)]
				d := st.offset(i, j)
				trace += 4 * st.weight(i, j) * p.InvDX * (gv[0]*d[0] + gv[1]*d[1])
			}
		}

		gx, gJ := gnext.X[pi], gnext.J[pi]
		gNewV := gnext.V[pi].Add(gx.Scale(p.DT))
		gNewC := gnext.C[pi]
		gTrace := gJ * cur.J[pi] * p.DT
		gNewC[0][0] += gTrace
		gNewC[1][1] += gTrace

		var gfx Vec2
		for i := 0; i < 3; i++ {
			for j := 0; j < 3; j++ {
				cell := g.Index(st.base[0]+i, st.base[1]+j)
				gv := g.Out[cell]
				d := st.offset(i, j)
				w := st.weight(i, j)
				s := 4 * p.InvDX

				gw := gNewV.Dot(gv)
				gGV := gNewV.Scale(w)
				var gd Vec2
				for a := 0; a < 2; a++ {
					for b := 0; b < 2; b++ {
						gc := gNewC[a][b]
						gw += s * gc * gv[a] * d[b]
						gGV[a] += s * w * gc * d[b]
						gd[b] += s * w * gc * gv[a]
					}
				}

				dw := st.weightGrad(i, j)
				gfx[0] += gw*dw[0] - gd[0]
				gfx[1] += gw*dw[1] - gd[1]

				acc.Add(2*cell, gGV[0])
				acc.Add(2*cell+1, gGV[1])
			}
		}

		gcur.X[pi] = gcur.X[pi].Add(gx).Add(gfx.Scale(p.InvDX))
		gcur.J[pi] += gJ * (1 + p.DT*trace)
	})
}

// GridOpGrad turns ∂L/∂velocity_out into ∂L/∂momentum_in and ∂L/∂mass_in.
// It returns ∂L/∂gravity for this step.
func (k *Kernels) GridOpGrad() float64 {
	p := &k.p
	g := k.grid
	gGravity := k.cellScratch

	k.pool.For(g.Cells(), func(c int) {
		m := g.In[3*c+2]
		if m <= 0 {
			g.InGrad[3*c], g.InGrad[3*c+1], g.InGrad[3*c+2] = 0, 0, 0
			gGravity[c] = 0
			return
		}
		v := k.preBoundVelocity(c)
		keep := k.boundMask(c/g.N, c%g.N, v)
		gv := Vec2{g.OutGrad[2*c] * keep[0], g.OutGrad[2*c+1] * keep[1]}

		inv := 1 / m
		g.InGrad[3*c] = gv[0] * inv
		g.InGrad[3*c+1] = gv[1] * inv
		g.InGrad[3*c+2] = -(gv[0]*g.In[3*c] + gv[1]*g.In[3*c+1]) * inv * inv
		gGravity[c] = -p.DT * gv[1]
	})

	return floats.Sum(gGravity)
}

// P2GGrad propagates ∂L/∂momentum_in and ∂L/∂mass_in back to the particle
// state of step f. It returns ∂L/∂E for this step.
func (k *Kernels) P2GGrad(h, grad *History, f int) float64 {
	p := &k.p
	g := k.grid
	fr := h.Frame(f)
	gfr := grad.Frame(f)
	coeff := p.stressCoeff()
	gE := k.particleScratch

	k.pool.For(p.NParticles, func(pi int) {
		st := newStencil(fr.X[pi], p.InvDX)
		stress := coeff * p.E * (fr.J[pi] - 1)
		affine := fr.C[pi]
		for a := 0; a < 2; a++ {
			for b := 0; b < 2; b++ {
				affine[a][b] *= p.PMass
			}
			affine[a][a] += stress
		}
		mv := fr.V[pi].Scale(p.PMass)

		var gfx, gV Vec2
		var gAffine Mat2
		for i := 0; i < 3; i++ {
			for j := 0; j < 3; j++ {
				c := 3 * g.Index(st.base[0]+i, st.base[1]+j)
				gm := Vec2{g.InGrad[c], g.InGrad[c+1]}
				gMass := g.InGrad[c+2]
				dpos := st.offset(i, j).Scale(p.DX)
				w := st.weight(i, j)
				mom := mv.Add(affine.MulVec(dpos))

				gw := gm.Dot(mom) + gMass*p.PMass
				gV = gV.Add(gm.Scale(w * p.PMass))

				var gdpos Vec2
				for a := 0; a < 2; a++ {
					for b := 0; b < 2; b++ {
						gAffine[a][b] += w * gm[a] * dpos[b]
						gdpos[b] += w * affine[a][b] * gm[a]
					}
				}

				dw := st.weightGrad(i, j)
				gfx[0] += gw*dw[0] - p.DX*gdpos[0]
				gfx[1] += gw*dw[1] - p.DX*gdpos[1]
			}
		}

		gStress := gAffine.Trace()
		gE[pi] = gStress * coeff * (fr.J[pi] - 1)

		gfr.X[pi] = gfr.X[pi].Add(gfx.Scale(p.InvDX))
		gfr.V[pi] = gfr.V[pi].Add(gV)
		gfr.J[pi] += gStress * coeff * p.E
		for a := 0; a < 2; a++ {
			for b := 0; b < 2; b++ {
				gfr.C[pi][a][b] += p.PMass * gAffine[a][b]
			}
		}
	})

	return floats.Sum(gE)
}
