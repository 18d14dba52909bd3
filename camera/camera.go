// Package camera provides a 2D camera over the unit simulation domain.
package camera

// Camera controls the viewport into the domain [0,1]x[0,1].
// World y points up and screen y points down.
type Camera struct {
	// Position is the camera center in world coordinates
	X, Y float32

	// Zoom level (1.0 = whole domain, 2.0 = 2x magnification)
	Zoom float32

	// Viewport dimensions (screen size)
	ViewportW, ViewportH float32

	// Pixels per world unit at zoom 1
	Scale float32

	// Zoom constraints
	MinZoom, MaxZoom float32
}

// New creates a camera showing the whole domain in a viewport of the given
// size, centered and at 1:1 zoom.
func New(viewportW, viewportH float32) *Camera {
	c := &Camera{
		ViewportW: viewportW,
		ViewportH: viewportH,
		MinZoom:   1.0,
		MaxZoom:   8.0,
	}
	c.Scale = min(viewportW, viewportH)
	c.Reset()
	return c
}

// pixels returns the number of screen pixels per world unit.
func (c *Camera) pixels() float32 {
	return c.Scale * c.Zoom
}

// WorldToScreen converts world coordinates to screen coordinates.
func (c *Camera) WorldToScreen(wx, wy float32) (sx, sy float32) {
	sx = c.ViewportW/2 + (wx-c.X)*c.pixels()
	sy = c.ViewportH/2 - (wy-c.Y)*c.pixels()
	return sx, sy
}

// ScreenToWorld converts screen coordinates to world coordinates.
func (c *Camera) ScreenToWorld(sx, sy float32) (wx, wy float32) {
	wx = c.X + (sx-c.ViewportW/2)/c.pixels()
	wy = c.Y - (sy-c.ViewportH/2)/c.pixels()
	return wx, wy
}

// IsVisible returns true if a circle at (wx, wy) with given world radius
// could be visible on screen (conservative check for culling).
func (c *Camera) IsVisible(wx, wy, radius float32) bool {
	minX, minY, maxX, maxY := c.VisibleWorldBounds()
	return wx+radius >= minX && wx-radius <= maxX && wy+radius >= minY && wy-radius <= maxY
}

// Pan moves the view by the given delta in screen pixels, as if dragging
// the domain with the mouse.
func (c *Camera) Pan(dx, dy float32) {
	c.X -= dx / c.pixels()
	c.Y += dy / c.pixels()
	c.clampCenter()
}

// SetZoom sets the zoom level, clamped to min/max.
func (c *Camera) SetZoom(zoom float32) {
	c.Zoom = clamp(zoom, c.MinZoom, c.MaxZoom)
	c.clampCenter()
}

// ZoomBy multiplies the current zoom by the given factor.
func (c *Camera) ZoomBy(factor float32) {
	c.SetZoom(c.Zoom * factor)
}

// ZoomAt zooms by factor keeping the world point under (sx, sy) fixed,
// unless that would show space outside the domain.
func (c *Camera) ZoomAt(factor, sx, sy float32) {
	wx, wy := c.ScreenToWorld(sx, sy)
	c.Zoom = clamp(c.Zoom*factor, c.MinZoom, c.MaxZoom)
	c.X = wx - (sx-c.ViewportW/2)/c.pixels()
	c.Y = wy + (sy-c.ViewportH/2)/c.pixels()
	c.clampCenter()
}

// Resize updates viewport dimensions and the zoom-1 scale.
func (c *Camera) Resize(viewportW, viewportH float32) {
	if viewportW == c.ViewportW && viewportH == c.ViewportH {
		return
	}
	c.ViewportW = viewportW
	c.ViewportH = viewportH
	c.Scale = min(viewportW, viewportH)
	c.clampCenter()
}

// Reset returns the camera to the default position and zoom.
func (c *Camera) Reset() {
	c.X = 0.5
	c.Y = 0.5
	c.Zoom = 1.0
}

// VisibleWorldBounds returns the world-coordinate bounds of the visible area.
// Returns (minX, minY, maxX, maxY) in world coordinates.
func (c *Camera) VisibleWorldBounds() (minX, minY, maxX, maxY float32) {
	halfW := c.ViewportW / (2 * c.pixels())
	halfH := c.ViewportH / (2 * c.pixels())

	minX = c.X - halfW
	maxX = c.X + halfW
	minY = c.Y - halfH
	maxY = c.Y + halfH
	return
}

// clampCenter keeps the view inside the domain where it is large enough to
// fill the viewport, and centered on it otherwise.
func (c *Camera) clampCenter() {
	halfW := c.ViewportW / (2 * c.pixels())
	halfH := c.ViewportH / (2 * c.pixels())
	c.X = clampAxis(c.X, halfW)
	c.Y = clampAxis(c.Y, halfH)
}

func clampAxis(center, half float32) float32 {
	if half >= 0.5 {
		return 0.5
	}
	return clamp(center, half, 1-half)
}

// clamp restricts a value to a range.
func clamp(x, min, max float32) float32 {
	if x < min {
		return min
	}
	if x > max {
		return max
	}
	return x
}
