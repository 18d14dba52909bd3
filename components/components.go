// Package components defines ECS components for scene emitters.
package components

// Block identifies an emitter. Order is its insertion index and fixes the
// order in which emitters are sampled.
type Block struct {
	Name  string
	Order int
}

// Region is the axis-aligned rectangle particles are sampled from.
type Region struct {
	MinX, MinY   float64
	SizeX, SizeY float64
}

// Contains reports whether (x, y) lies in the closed rectangle.
func (r *Region) Contains(x, y float64) bool {
	return x >= r.MinX && x <= r.MinX+r.SizeX && y >= r.MinY && y <= r.MinY+r.SizeY
}

// Launch is the initial velocity given to every particle of an emitter.
type Launch struct {
	X, Y float64
}

// Share is an emitter's weight in the particle budget. Shares are
// normalized over all emitters.
type Share struct {
	Fraction float64
}
