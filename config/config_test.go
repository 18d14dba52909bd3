package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsLoad(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8192, cfg.Sim.NParticles)
	assert.Equal(t, 128, cfg.Sim.NGrid)
	assert.Equal(t, 1e-4, cfg.Sim.DT)
	assert.Equal(t, 3, cfg.Sim.Bound)
	assert.Equal(t, ScatterPartitioned, cfg.Parallel.Scatter)
	assert.Equal(t, 16, cfg.Parallel.Chunks)
	require.Len(t, cfg.Scene.Blocks, 1)
	assert.Equal(t, [2]float64{0, -10}, cfg.Scene.Blocks[0].Velocity)

	assert.Equal(t, 1.0/128, cfg.Derived.DX)
	assert.Equal(t, 128.0, cfg.Derived.InvDX)
}

func TestLoadOverlaysFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
sim:
  n_grid: 64
  steps: 32
parallel:
  scatter: atomic
scene:
  blocks:
    - name: left
      min: [0.1, 0.5]
      size: [0.1, 0.1]
      fraction: 1
    - name: right
      min: [0.6, 0.5]
      size: [0.1, 0.1]
      velocity: [-3, 0]
      fraction: 2
`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 64, cfg.Sim.NGrid)
	assert.Equal(t, 32, cfg.Sim.Steps)
	assert.Equal(t, 8192, cfg.Sim.NParticles, "fields absent from the file keep their defaults")
	assert.Equal(t, ScatterAtomic, cfg.Parallel.Scatter)
	require.Len(t, cfg.Scene.Blocks, 2)
	assert.Equal(t, "right", cfg.Scene.Blocks[1].Name)
	assert.Equal(t, 64.0, cfg.Derived.InvDX)
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"no particles", "sim: {n_particles: 0}"},
		{"tiny grid", "sim: {n_grid: 2}"},
		{"zero dt", "sim: {dt: 0}"},
		{"negative mass", "sim: {p_mass: -1}"},
		{"single step", "sim: {steps: 1}"},
		{"no boundary", "sim: {bound: 0}"},
		{"unknown scatter", "parallel: {scatter: magic}"},
		{"negative workers", "parallel: {workers: -2}"},
		{"negative chunks", "parallel: {chunks: -1}"},
		{"negative block", "scene: {blocks: [{name: b, size: [-0.1, 0.1], fraction: 1}]}"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "bad.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tc.yaml), 0644))
			_, err := Load(path)
			require.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalid)
}

func TestWriteYAMLRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Sim.E = 250
	cfg.Scene.Blocks[0].Velocity = [2]float64{1.5, -4}

	path := filepath.Join(t.TempDir(), "out.yaml")
	require.NoError(t, cfg.WriteYAML(path))

	back, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Sim, back.Sim)
	assert.Equal(t, cfg.Scene, back.Scene)
	assert.Equal(t, cfg.Derived, back.Derived)
}

func TestCfgAfterInit(t *testing.T) {
	old := global
	t.Cleanup(func() { global = old })

	global = nil
	assert.Panics(t, func() { Cfg() })

	MustInit("")
	assert.Equal(t, 128, Cfg().Sim.NGrid)
}
