package telemetry

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pthm-cable/diffmpm/mpm"
)

func TestComputeStepStats(t *testing.T) {
	p := mpm.Params{PMass: 2, DT: 1e-3}
	h := testHistory(3, 4)
	s := ComputeStepStats(p, 2, h, nil)

	assert.Equal(t, 2, s.Step)
	assert.InDelta(t, 2e-3, s.SimTime, 1e-15)
	assert.Zero(t, s.GridMass)

	// v_i = (1, -i): |v|² = 1, 2, 5, 10
	assert.InDelta(t, 0.5*2*18, s.KineticEnergy, 1e-12)
	assert.InDelta(t, 2*4, s.MomentumX, 1e-12)
	assert.InDelta(t, -2*6, s.MomentumY, 1e-12)
	assert.InDelta(t, math.Sqrt(10), s.MaxSpeed, 1e-12)

	assert.InDelta(t, 0.265, s.ComX, 1e-12)
	assert.InDelta(t, 0.48, s.ComY, 1e-12)

	assert.InDelta(t, 1.15, s.JMean, 1e-12)
	assert.InDelta(t, 1.0, s.JMin, 1e-12)
	assert.InDelta(t, 1.3, s.JMax, 1e-12)
	assert.InDelta(t, math.Sqrt(0.0125), s.JStd, 1e-12)
	assert.InDelta(t, 1.1, s.JP50, 1e-12)
}

func TestComputeStepStatsReadsGridMass(t *testing.T) {
	g := mpm.NewGrid(4)
	g.In[2], g.In[5] = 1.5, 2.5
	s := ComputeStepStats(mpm.Params{PMass: 1}, 0, testHistory(1, 2), g)
	assert.InDelta(t, 4.0, s.GridMass, 1e-15)
}

func TestParticleGradsAndSummary(t *testing.T) {
	h := testHistory(2, 3)
	grad := mpm.NewHistory(2, 3)
	g0 := grad.Frame(0)
	for i := range g0.X {
		g0.X[i] = mpm.Vec2{3 * float64(i), 4 * float64(i)}
		g0.V[i] = mpm.Vec2{float64(i), 1}
	}
	grads := &mpm.Gradients{Loss: 0.5, E: -1e-3, Gravity: 2e-4, History: grad}

	rows := ParticleGrads(h, grads)
	require.Len(t, rows, 3)
	assert.Equal(t, ParticleGrad{Particle: 2, X: 0.27, Y: 0.5, GradX: 6, GradY: 8, GradVX: 2, GradVY: 1}, rows[2])

	s := Summarize(grads)
	assert.Equal(t, 0.5, s.Loss)
	assert.Equal(t, -1e-3, s.GradE)
	assert.InDelta(t, 1.0, s.GradVX, 1e-12)
	assert.InDelta(t, 1.0, s.GradVY, 1e-12)
	assert.InDelta(t, 10.0, s.MaxGradX, 1e-12)
}
