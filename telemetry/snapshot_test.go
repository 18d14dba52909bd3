package telemetry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pthm-cable/diffmpm/mpm"
)

func testHistory(steps, n int) *mpm.History {
	h := mpm.NewHistory(steps, n)
	for s := 0; s < steps; s++ {
		fr := h.Frame(s)
		for i := range fr.X {
			fr.X[i] = mpm.Vec2{0.25 + 0.01*float64(i), 0.5 - 0.01*float64(s)}
			fr.V[i] = mpm.Vec2{1, -float64(i)}
			fr.J[i] = 1 + 0.1*float64(i)
		}
	}
	return h
}

func TestSnapshotSaveLoad(t *testing.T) {
	p := mpm.Params{NParticles: 3, NGrid: 16, DT: 1e-3}
	h := testHistory(10, 3)
	snap := NewSnapshot(p, 42, h, 4)

	steps := make([]int, len(snap.Frames))
	for i, f := range snap.Frames {
		steps[i] = f.Step
	}
	assert.Equal(t, []int{0, 4, 8, 9}, steps, "the last step is always recorded")

	path, err := SaveSnapshot(snap, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "trajectory.json", filepath.Base(path))

	back, err := LoadSnapshot(path)
	require.NoError(t, err)
	assert.Equal(t, snap, back)
	assert.Equal(t, float32(0.27), back.Frames[1].X[4])
}

func TestLoadSnapshotRejectsMismatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"version":1,"n_particles":2,"frames":[{"step":0,"x":[0.1,0.2]}]}`), 0644))
	_, err := LoadSnapshot(path)
	require.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte(`{"version":99}`), 0644))
	_, err = LoadSnapshot(path)
	require.Error(t, err)

	_, err = LoadSnapshot(filepath.Join(dir, "missing.json"))
	require.Error(t, err)
}
