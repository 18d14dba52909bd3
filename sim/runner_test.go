package sim

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pthm-cable/diffmpm/config"
	"github.com/pthm-cable/diffmpm/mpm"
	"github.com/pthm-cable/diffmpm/telemetry"
)

func smallConfig() *config.Config {
	cfg := config.Default()
	cfg.Sim.NParticles = 128
	cfg.Sim.NGrid = 32
	cfg.Sim.Steps = 17
	cfg.Sim.DT = 2e-4
	cfg.Scene.Blocks[0].Velocity = [2]float64{1, -2}
	cfg.Parallel.MinChunk = 16
	cfg.Telemetry.StatsEvery = 4
	cfg.Telemetry.PerfWindow = 8
	cfg.Render.FrameStride = 5
	return cfg
}

func TestLossByName(t *testing.T) {
	cfg := smallConfig()
	l, err := LossByName("", cfg)
	require.NoError(t, err)
	assert.Equal(t, mpm.CenterOfMassLoss{Target: mpm.Vec2{0.4, 0.2}}, l)

	l, err = LossByName(LossMeanHeight, cfg)
	require.NoError(t, err)
	assert.Equal(t, mpm.MeanHeightLoss{}, l)

	_, err = LossByName("speed", cfg)
	require.ErrorIs(t, err, ErrUnknownLoss)
}

func TestRunWritesOutputs(t *testing.T) {
	dir := t.TempDir()
	r, err := NewRunner(smallConfig(), Options{OutputDir: dir})
	require.NoError(t, err)

	grads, err := r.Run(context.Background())
	require.NoError(t, err)
	require.NoError(t, r.Close())

	assert.Equal(t, mpm.BackwardDone, r.Driver().Phase())
	assert.Greater(t, grads.Loss, 0.0)
	assert.Equal(t, 16, r.LastStats().Step)
	assert.InDelta(t, 128.0, r.LastStats().GridMass, 1e-9)

	for _, name := range []string{"config.yaml", "steps.csv", "perf.csv", "gradients.csv", "trajectory.json"} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.NoError(t, err, name)
	}

	// Step 0, every 4th step and the last step
	data, err := os.ReadFile(filepath.Join(dir, "steps.csv"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Len(t, lines, 1+5)

	snap, err := telemetry.LoadSnapshot(filepath.Join(dir, "trajectory.json"))
	require.NoError(t, err)
	require.NotNil(t, snap.Loss)
	assert.Equal(t, grads.Loss, *snap.Loss)
	assert.Equal(t, 16, snap.Frames[len(snap.Frames)-1].Step)
}

func TestRunnerCanRepeat(t *testing.T) {
	r, err := NewRunner(smallConfig(), Options{Loss: LossMeanHeight})
	require.NoError(t, err)
	defer r.Close()

	first, err := r.Run(context.Background())
	require.NoError(t, err)
	loss := first.Loss

	second, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, loss, second.Loss)

	// A faster launch downwards lowers the mean height
	r.Scene().SetLaunch(mpm.Vec2{1, -6})
	third, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Less(t, third.Loss, loss)
}

func TestBackwardBeforeForwardFails(t *testing.T) {
	r, err := NewRunner(smallConfig(), Options{})
	require.NoError(t, err)
	defer r.Close()

	_, err = r.Backward()
	require.ErrorIs(t, err, mpm.ErrInvalidTransition)
}
