package mpm

import "gonum.org/v1/gonum/floats"

// Loss is a scalar objective over one step of a trajectory.
type Loss interface {
	// Eval returns the loss at step f of h and adds ∂L/∂state[f] into grad.
	Eval(h *History, f int, grad *History) float64
}

// CenterOfMassLoss is the squared distance between the particles' mean
// position and Target.
type CenterOfMassLoss struct {
	Target Vec2
}

// Eval implements Loss.
func (l CenterOfMassLoss) Eval(h *History, f int, grad *History) float64 {
	fr := h.Frame(f)
	com := meanPosition(fr.X)
	diff := Vec2{com[0] - l.Target[0], com[1] - l.Target[1]}

	g := grad.Frame(f)
	scale := 2 / float64(len(fr.X))
	for pi := range g.X {
		g.X[pi] = g.X[pi].Add(diff.Scale(scale))
	}
	return diff.Dot(diff)
}

// MeanHeightLoss is the mean y coordinate of the particles.
type MeanHeightLoss struct{}

// Eval implements Loss.
func (MeanHeightLoss) Eval(h *History, f int, grad *History) float64 {
	fr := h.Frame(f)
	g := grad.Frame(f)
	inv := 1 / float64(len(fr.X))
	for pi := range g.X {
		g.X[pi][1] += inv
	}
	return meanPosition(fr.X)[1]
}

// meanPosition returns the centroid of xs.
func meanPosition(xs []Vec2) Vec2 {
	comp := make([]float64, len(xs))
	var out Vec2
	for a := 0; a < 2; a++ {
		for i, x := range xs {
			comp[i] = x[a]
		}
		out[a] = floats.Sum(comp) / float64(len(xs))
	}
	return out
}

// CenterOfMass returns the centroid of the particles at step f.
func CenterOfMass(h *History, f int) Vec2 {
	return meanPosition(h.Frame(f).X)
}
