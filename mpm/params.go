// Package mpm implements a differentiable 2D Material Point Method simulator.
//
// A run advances a particle cloud through a background grid for a fixed number
// of explicit steps. Every step stores a fresh copy of the particle state, so
// the whole trajectory stays addressable and the reverse pass can walk it
// backwards to produce gradients of a scalar loss.
//
// One forward step is four kernels, always in this order:
//
//	ClearGrid -> P2G -> GridOp -> G2P
//
// The reverse pass recomputes the grid for a step and then runs
// G2PGrad -> GridOpGrad -> P2GGrad.
package mpm

import "github.com/pthm-cable/diffmpm/config"

// Params are the simulation constants, fixed for the lifetime of a Driver.
type Params struct {
	NParticles int
	NGrid      int
	Steps      int
	DX         float64
	InvDX      float64
	DT         float64
	PMass      float64
	PVol       float64
	E          float64
	Gravity    float64
	Bound      int
}

// ParamsFromConfig extracts the simulation constants from a loaded config.
func ParamsFromConfig(cfg *config.Config) Params {
	s := cfg.Sim
	return Params{
		NParticles: s.NParticles,
		NGrid:      s.NGrid,
		Steps:      s.Steps,
		DX:         1 / float64(s.NGrid),
		InvDX:      float64(s.NGrid),
		DT:         s.DT,
		PMass:      s.PMass,
		PVol:       s.PVol,
		E:          s.E,
		Gravity:    s.Gravity,
		Bound:      s.Bound,
	}
}

// stressCoeff is the factor turning (J-1)*E into the P2G stress term.
func (p *Params) stressCoeff() float64 {
	return -p.DT * p.PVol * 4 * p.InvDX * p.InvDX
}
