package telemetry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pthm-cable/diffmpm/mpm"
)

// SnapshotVersion is incremented when the format changes.
const SnapshotVersion = 1

// Snapshot holds a recorded trajectory for later replay.
type Snapshot struct {
	Version int   `json:"version"`
	Seed    int64 `json:"seed"`

	NGrid      int     `json:"n_grid"`
	NParticles int     `json:"n_particles"`
	DT         float64 `json:"dt"`
	Stride     int     `json:"stride"`

	Frames []FrameState `json:"frames"`

	Loss *float64 `json:"loss,omitempty"`
}

// FrameState holds particle positions of one recorded step as flat
// x0, y0, x1, y1, ... pairs.
type FrameState struct {
	Step int       `json:"step"`
	X    []float32 `json:"x"`
}

// NewSnapshot records every stride-th step of h, always including the last.
func NewSnapshot(p mpm.Params, seed int64, h *mpm.History, stride int) *Snapshot {
	if stride < 1 {
		stride = 1
	}
	s := &Snapshot{
		Version:    SnapshotVersion,
		Seed:       seed,
		NGrid:      p.NGrid,
		NParticles: p.NParticles,
		DT:         p.DT,
		Stride:     stride,
	}
	last := h.Steps - 1
	for step := 0; step <= last; step += stride {
		s.Frames = append(s.Frames, FrameState{Step: step, X: PackPositions(h, step)})
	}
	if last%stride != 0 {
		s.Frames = append(s.Frames, FrameState{Step: last, X: PackPositions(h, last)})
	}
	return s
}

// PackPositions flattens the positions of step s to float32 pairs.
func PackPositions(h *mpm.History, s int) []float32 {
	fr := h.Frame(s)
	out := make([]float32, 2*len(fr.X))
	for i, x := range fr.X {
		out[2*i] = float32(x[0])
		out[2*i+1] = float32(x[1])
	}
	return out
}

// SaveSnapshot writes a snapshot to dir/trajectory.json and returns the path.
func SaveSnapshot(snapshot *Snapshot, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create snapshot dir: %w", err)
	}
	path := filepath.Join(dir, "trajectory.json")

	data, err := json.Marshal(snapshot)
	if err != nil {
		return "", fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("write snapshot: %w", err)
	}
	return path, nil
}

// LoadSnapshot reads a snapshot from disk.
func LoadSnapshot(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	var snapshot Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	if snapshot.Version != SnapshotVersion {
		return nil, fmt.Errorf("snapshot version %d, want %d", snapshot.Version, SnapshotVersion)
	}
	for i, f := range snapshot.Frames {
		if len(f.X) != 2*snapshot.NParticles {
			return nil, fmt.Errorf("snapshot frame %d has %d coordinates, want %d", i, len(f.X), 2*snapshot.NParticles)
		}
	}
	return &snapshot, nil
}
