package main

import (
	"github.com/pthm-cable/diffmpm/config"
)

// ParamSpec defines a single optimizable parameter.
type ParamSpec struct {
	Name    string  // Human-readable name
	Path    string  // Config path for logging
	Min     float64 // Lower bound
	Max     float64 // Upper bound
	Default float64 // Default value
}

// ParamVector holds the set of all optimizable parameters.
type ParamVector struct {
	Specs []ParamSpec
}

// Indices into the parameter vector.
const (
	paramLaunchVX = iota
	paramLaunchVY
	paramE
)

// NewParamVector creates the optimizable parameters: the launch velocity
// shared by every block and the stiffness. Defaults come from cfg.
func NewParamVector(cfg *config.Config) *ParamVector {
	pv := &ParamVector{
		Specs: []ParamSpec{
			{Name: "launch_vx", Path: "scene.blocks[*].velocity[0]", Min: -20, Max: 20},
			{Name: "launch_vy", Path: "scene.blocks[*].velocity[1]", Min: -20, Max: 20},
			{Name: "e", Path: "sim.e", Min: 10, Max: 1000},
		},
	}
	for i, v := range pv.ExtractFromConfig(cfg) {
		pv.Specs[i].Default = pv.Clamp1(i, v)
	}
	return pv
}

// Dim returns the number of parameters.
func (pv *ParamVector) Dim() int {
	return len(pv.Specs)
}

// DefaultVector returns the default parameter values as a slice.
func (pv *ParamVector) DefaultVector() []float64 {
	v := make([]float64, len(pv.Specs))
	for i, spec := range pv.Specs {
		v[i] = spec.Default
	}
	return v
}

// Normalize converts raw parameter values to [0,1] range.
func (pv *ParamVector) Normalize(raw []float64) []float64 {
	normalized := make([]float64, len(pv.Specs))
	for i, spec := range pv.Specs {
		normalized[i] = (raw[i] - spec.Min) / (spec.Max - spec.Min)
	}
	return normalized
}

// Denormalize converts [0,1] values back to raw parameter values.
func (pv *ParamVector) Denormalize(normalized []float64) []float64 {
	raw := make([]float64, len(pv.Specs))
	for i, spec := range pv.Specs {
		raw[i] = spec.Min + normalized[i]*(spec.Max-spec.Min)
	}
	return raw
}

// NormalizeGrad converts a gradient with respect to raw values into one
// with respect to normalized values.
func (pv *ParamVector) NormalizeGrad(grad []float64) []float64 {
	out := make([]float64, len(pv.Specs))
	for i, spec := range pv.Specs {
		out[i] = grad[i] * (spec.Max - spec.Min)
	}
	return out
}

// Clamp1 clamps a single value to the bounds of parameter i.
func (pv *ParamVector) Clamp1(i int, v float64) float64 {
	spec := pv.Specs[i]
	return min(max(v, spec.Min), spec.Max)
}

// Clamp ensures all values are within bounds.
func (pv *ParamVector) Clamp(v []float64) []float64 {
	clamped := make([]float64, len(pv.Specs))
	for i := range pv.Specs {
		clamped[i] = pv.Clamp1(i, v[i])
	}
	return clamped
}

// ApplyToConfig applies parameter values to a Config struct.
func (pv *ParamVector) ApplyToConfig(cfg *config.Config, values []float64) {
	clamped := pv.Clamp(values)

	// Blocks share one launch velocity
	blocks := make([]config.BlockConfig, len(cfg.Scene.Blocks))
	copy(blocks, cfg.Scene.Blocks)
	for i := range blocks {
		blocks[i].Velocity = [2]float64{clamped[paramLaunchVX], clamped[paramLaunchVY]}
	}
	cfg.Scene.Blocks = blocks
	cfg.Sim.E = clamped[paramE]
}

// ExtractFromConfig extracts current parameter values from a Config struct.
// The launch velocity is taken from the first block.
func (pv *ParamVector) ExtractFromConfig(cfg *config.Config) []float64 {
	var v [2]float64
	if len(cfg.Scene.Blocks) > 0 {
		v = cfg.Scene.Blocks[0].Velocity
	}
	return []float64{v[0], v[1], cfg.Sim.E}
}
