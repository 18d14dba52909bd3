// Package renderer replays recorded trajectories in a raylib window.
package renderer

import (
	"fmt"
	"math"

	gui "github.com/gen2brain/raylib-go/raygui"
	rl "github.com/gen2brain/raylib-go/raylib"

	"github.com/pthm-cable/diffmpm/camera"
	"github.com/pthm-cable/diffmpm/config"
	"github.com/pthm-cable/diffmpm/telemetry"
)

const (
	panelHeight = 90
	minWidth    = 480
)

// Viewer plays back a snapshot. It never touches the simulation.
type Viewer struct {
	snap  *telemetry.Snapshot
	size  float32 // Side of the domain in pixels
	bound int

	frame   int
	playing bool
	fps     float32 // Recorded frames per second of playback
	clock   float32

	cam  *camera.Camera
	perf *telemetry.PerfCollector
}

// NewViewer prepares a viewer for snap. bound is drawn as the wall layer.
func NewViewer(snap *telemetry.Snapshot, cfg config.RenderConfig, bound int) *Viewer {
	scale := cfg.Scale
	if scale < 1 {
		scale = 1
	}
	size := float32(snap.NGrid * scale)
	return &Viewer{
		snap:    snap,
		size:    size,
		bound:   bound,
		playing: true,
		fps:     30,
		cam:     camera.New(size, size),
		perf:    telemetry.NewPerfCollector(60),
	}
}

// Run opens the window and blocks until it is closed.
func (v *Viewer) Run(targetFPS int) {
	w := int32(max(int(v.size), minWidth))
	rl.InitWindow(w, int32(v.size)+panelHeight, "diffmpm")
	defer rl.CloseWindow()
	rl.SetTargetFPS(int32(targetFPS))

	for !rl.WindowShouldClose() {
		v.Update(rl.GetFrameTime())
		v.Draw()
	}
}

// Update advances playback.
func (v *Viewer) Update(dt float32) {
	v.perf.RecordFrame()
	if rl.IsKeyPressed(rl.KeySpace) {
		v.playing = !v.playing
	}
	if rl.IsKeyPressed(rl.KeyRight) {
		v.step(1)
	}
	if rl.IsKeyPressed(rl.KeyLeft) {
		v.step(-1)
	}
	v.updateCamera()
	if !v.playing {
		return
	}
	v.clock += dt
	for v.clock >= 1/v.fps {
		v.clock -= 1 / v.fps
		if v.frame == len(v.snap.Frames)-1 {
			v.playing = false
			break
		}
		v.step(1)
	}
}

func (v *Viewer) step(d int) {
	v.frame = min(max(v.frame+d, 0), len(v.snap.Frames)-1)
}

// updateCamera zooms with the wheel and pans with a right-button drag while
// the mouse is over the domain.
func (v *Viewer) updateCamera() {
	if rl.IsKeyPressed(rl.KeyR) {
		v.cam.Reset()
	}
	if rl.IsKeyPressed(rl.KeyEqual) {
		v.cam.ZoomBy(1.5)
	}
	if rl.IsKeyPressed(rl.KeyMinus) {
		v.cam.ZoomBy(1 / 1.5)
	}
	mouse := rl.GetMousePosition()
	if mouse.X >= v.size || mouse.Y >= v.size {
		return
	}
	if wheel := rl.GetMouseWheelMove(); wheel != 0 {
		v.cam.ZoomAt(float32(math.Pow(1.15, float64(wheel))), mouse.X, mouse.Y)
	}
	if rl.IsMouseButtonDown(rl.MouseButtonRight) {
		d := rl.GetMouseDelta()
		v.cam.Pan(d.X, d.Y)
	}
}

// Draw renders the current frame and the control panel.
func (v *Viewer) Draw() {
	rl.BeginDrawing()
	defer rl.EndDrawing()
	rl.ClearBackground(rl.Color{R: 18, G: 20, B: 26, A: 255})

	rl.BeginScissorMode(0, 0, int32(v.size), int32(v.size))
	v.drawDomain()
	v.drawParticles()
	rl.EndScissorMode()
	v.drawPanel()
}

// drawWorldRect fills the world rectangle with lower-left corner (x, y).
func (v *Viewer) drawWorldRect(x, y, w, h float32, c rl.Color) {
	sx0, sy0 := v.cam.WorldToScreen(x, y+h)
	sx1, sy1 := v.cam.WorldToScreen(x+w, y)
	rl.DrawRectangleV(rl.Vector2{X: sx0, Y: sy0}, rl.Vector2{X: sx1 - sx0, Y: sy1 - sy0}, c)
}

func (v *Viewer) drawDomain() {
	wall := float32(v.bound) / float32(v.snap.NGrid)
	wallColor := rl.Color{R: 60, G: 64, B: 76, A: 255}
	v.drawWorldRect(0, 0, 1, wall, wallColor)
	v.drawWorldRect(0, 1-wall, 1, wall, wallColor)
	v.drawWorldRect(0, 0, wall, 1, wallColor)
	v.drawWorldRect(1-wall, 0, wall, 1, wallColor)
}

func (v *Viewer) drawParticles() {
	if len(v.snap.Frames) == 0 {
		return
	}
	cur := v.snap.Frames[v.frame]
	prev := cur
	if v.frame > 0 {
		prev = v.snap.Frames[v.frame-1]
	}
	span := float32(cur.Step - prev.Step)
	if span == 0 {
		span = 1
	}

	radius := min(1.5*v.cam.Zoom, 4)
	for i := 0; i+1 < len(cur.X); i += 2 {
		if !v.cam.IsVisible(cur.X[i], cur.X[i+1], 0) {
			continue
		}
		// Colour by displacement per step, relative to a cell width
		dx, dy := cur.X[i]-prev.X[i], cur.X[i+1]-prev.X[i+1]
		speed := float32(math.Hypot(float64(dx), float64(dy))) / span * float32(v.snap.NGrid) * 50
		sx, sy := v.cam.WorldToScreen(cur.X[i], cur.X[i+1])
		rl.DrawCircleV(rl.Vector2{X: sx, Y: sy}, radius, speedColor(speed))
	}
}

// speedColor ramps from blue at rest to orange at t >= 1.
func speedColor(t float32) rl.Color {
	t = min(max(t, 0), 1)
	return rl.Color{
		R: uint8(80 + 175*t),
		G: uint8(160 - 20*t),
		B: uint8(255 - 215*t),
		A: 255,
	}
}

func (v *Viewer) drawPanel() {
	if len(v.snap.Frames) == 0 {
		return
	}
	y := v.size + 10
	width := float32(max(int(v.size), minWidth))

	cur := v.snap.Frames[v.frame]
	rl.DrawText(fmt.Sprintf("step %d / %d   t=%.4fs", cur.Step, v.snap.Frames[len(v.snap.Frames)-1].Step, float64(cur.Step)*v.snap.DT),
		10, int32(y), 16, rl.LightGray)
	if v.snap.Loss != nil {
		rl.DrawText(fmt.Sprintf("loss %.6g", *v.snap.Loss), int32(width-180), int32(y), 16, rl.LightGray)
	}
	y += 24

	last := float32(len(v.snap.Frames) - 1)
	picked := gui.SliderBar(
		rl.Rectangle{X: 40, Y: y, Width: width - 200, Height: 20},
		"0", fmt.Sprintf("%d", int(last)),
		float32(v.frame), 0, last,
	)
	if f := int(picked + 0.5); f != v.frame {
		v.frame = f
		v.playing = false
	}
	if gui.Button(rl.Rectangle{X: width - 140, Y: y, Width: 60, Height: 20}, toggleText(v.playing, "Pause", "Play")) {
		if !v.playing && v.frame == int(last) {
			v.frame = 0
		}
		v.playing = !v.playing
	}
	if gui.Button(rl.Rectangle{X: width - 70, Y: y, Width: 60, Height: 20}, "Reset") {
		v.frame = 0
		v.clock = 0
	}
	y += 28

	v.fps = gui.SliderBar(
		rl.Rectangle{X: 40, Y: y, Width: 160, Height: 16},
		"fps", fmt.Sprintf("%.0f", v.fps),
		v.fps, 1, 120,
	)
	if v.cam.Zoom > 1 {
		rl.DrawText(fmt.Sprintf("zoom %.1fx (R resets)", v.cam.Zoom), 220, int32(y), 14, rl.Gray)
	}
	if stats := v.perf.Stats(); stats.FPS > 0 {
		rl.DrawText(fmt.Sprintf("render %.0f fps", stats.FPS), int32(width-150), int32(y), 14, rl.Gray)
	}
}

func toggleText(on bool, onText, offText string) string {
	if on {
		return onText
	}
	return offText
}
