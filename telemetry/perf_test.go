package telemetry

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/pthm-cable/diffmpm/mpm"
)

func TestPerfCollector_BasicTiming(t *testing.T) {
	pc := NewPerfCollector(10)

	// Simulate a few steps
	for i := 0; i < 5; i++ {
		pc.StartTick()
		pc.StartPhase(mpm.KernelP2G)
		time.Sleep(100 * time.Microsecond)
		pc.StartPhase(mpm.KernelG2P)
		time.Sleep(200 * time.Microsecond)
		pc.EndTick()
	}

	stats := pc.Stats()

	// Verify we got timing data
	if stats.AvgTickDuration <= 0 {
		t.Error("expected positive average tick duration")
	}

	// Verify phases are tracked
	if len(stats.PhaseAvg) == 0 {
		t.Error("expected phase averages to be populated")
	}

	if _, ok := stats.PhaseAvg[mpm.KernelP2G]; !ok {
		t.Error("expected p2g kernel to be tracked")
	}

	if _, ok := stats.PhaseAvg[mpm.KernelG2P]; !ok {
		t.Error("expected g2p kernel to be tracked")
	}
}

func TestPerfCollector_RollingWindow(t *testing.T) {
	pc := NewPerfCollector(5) // Small window

	// Fill window completely
	for i := 0; i < 10; i++ {
		pc.StartTick()
		pc.StartPhase(mpm.KernelP2G)
		pc.EndTick()
	}

	stats := pc.Stats()

	// Should have data
	if stats.AvgTickDuration <= 0 {
		t.Error("expected positive average tick duration after window filled")
	}

	if stats.TicksPerSecond <= 0 {
		t.Error("expected positive ticks per second")
	}
}

func TestPerfCollector_PhasePercentages(t *testing.T) {
	pc := NewPerfCollector(10)
	clock := newFakeClock(pc)

	// Uneven phase durations on a controlled clock
	for i := 0; i < 5; i++ {
		pc.StartTick()
		pc.StartPhase("fast")
		clock.advance(10 * time.Microsecond)
		pc.StartPhase("slow")
		clock.advance(100 * time.Microsecond)
		pc.EndTick()
	}

	stats := pc.Stats()

	fastPct := stats.PhasePct["fast"]
	slowPct := stats.PhasePct["slow"]

	if slowPct <= fastPct {
		t.Errorf("expected slow phase (%v%%) > fast phase (%v%%)", slowPct, fastPct)
	}
	if math.Abs(fastPct-100.0/11) > 1e-9 || math.Abs(slowPct-1000.0/11) > 1e-9 {
		t.Errorf("expected 1:10 split, got fast=%v%% slow=%v%%", fastPct, slowPct)
	}
	if stats.AvgTickDuration != 110*time.Microsecond {
		t.Errorf("expected 110µs ticks, got %v", stats.AvgTickDuration)
	}
}

func TestPerfCollector_EmptyStats(t *testing.T) {
	pc := NewPerfCollector(10)

	stats := pc.Stats()

	// Empty collector should return zero values without panicking
	if stats.AvgTickDuration != 0 {
		t.Error("expected zero avg tick duration for empty collector")
	}

	if stats.PhaseAvg == nil {
		t.Error("expected non-nil PhaseAvg map")
	}

	if stats.PhasePct == nil {
		t.Error("expected non-nil PhasePct map")
	}
}

func TestPerfCollector_FrameTiming(t *testing.T) {
	pc := NewPerfCollector(10)

	clock := newFakeClock(pc)

	// First call establishes baseline
	pc.RecordFrame()
	clock.advance(16 * time.Millisecond) // ~60fps frame time
	// Second call measures duration
	pc.RecordFrame()

	stats := pc.Stats()

	if stats.FrameDuration != 16*time.Millisecond {
		t.Errorf("expected frame duration 16ms, got %v", stats.FrameDuration)
	}

	if stats.FPS != 62.5 {
		t.Errorf("expected 62.5 FPS with 16ms frame time, got %v", stats.FPS)
	}
}

func TestPerfCollector_TimesDriverKernels(t *testing.T) {
	p := mpm.Params{NParticles: 16, NGrid: 16, Steps: 4, DX: 1.0 / 16, InvDX: 16, DT: 1e-4, PMass: 1, PVol: 1, E: 100, Gravity: 9.8, Bound: 3}
	pc := NewPerfCollector(10)
	d := mpm.NewDriver(p, mpm.Options{Timer: pc})
	err := d.Init(mpm.InitializerFunc(func(h *mpm.History) error {
		for i := range h.Frame(0).X {
			h.Frame(0).X[i] = mpm.Vec2{0.4 + 0.01*float64(i), 0.5}
		}
		return nil
	}))
	if err != nil {
		t.Fatal(err)
	}
	if err := d.Forward(context.Background()); err != nil {
		t.Fatal(err)
	}

	stats := pc.Stats()
	for _, k := range []string{mpm.KernelClearGrid, mpm.KernelP2G, mpm.KernelGridOp, mpm.KernelG2P} {
		if _, ok := stats.PhaseAvg[k]; !ok {
			t.Errorf("expected %s to be timed", k)
		}
	}
	if _, ok := stats.PhaseAvg[mpm.KernelP2GGrad]; ok {
		t.Error("reverse kernels should not appear before Backward")
	}

	row := stats.ToCSV("forward", 3)
	if row.Pass != "forward" || row.WindowEnd != 3 {
		t.Errorf("unexpected csv row %+v", row)
	}

	pc.Reset()
	if pc.Stats().AvgTickDuration != 0 {
		t.Error("expected empty stats after Reset")
	}
}

// fakeClock replaces a collector's time source with one that only moves
// when advanced.
type fakeClock struct {
	t time.Time
}

func newFakeClock(pc *PerfCollector) *fakeClock {
	c := &fakeClock{t: time.Unix(1700000000, 0)}
	pc.now = func() time.Time { return c.t }
	return c
}

func (c *fakeClock) advance(d time.Duration) {
	c.t = c.t.Add(d)
}
