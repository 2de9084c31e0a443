// Package canvas converts between page coordinates (pointer events) and the
// logical world space nodes live in, given the current pan offset and zoom.
package canvas

const (
	MinZoom = 0.1
	MaxZoom = 10.0
)

// Point is a 2D coordinate, in page or world space depending on context.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Pt is shorthand for Point{X: x, Y: y}.
func Pt(x, y float64) Point { return Point{X: x, Y: y} }

// Projector maps page coordinates into world coordinates.
// *Viewport implements it; the workflow package only needs this much.
type Projector interface {
	PageToWorld(p Point) Point
}

// Viewport holds the pan offset and zoom of the canvas, plus the transient
// state of an in-progress pan gesture.
type Viewport struct {
	OffsetX float64 `json:"offset_x"`
	OffsetY float64 `json:"offset_y"`
	Zoom    float64 `json:"zoom"`

	panning    bool
	panStart   Point
	panOriginX float64
	panOriginY float64
}

// NewViewport returns a viewport with no offset and zoom 1.
func NewViewport() *Viewport {
	return &Viewport{Zoom: 1}
}

// PageToWorld converts a page-space point into world space.
func (v *Viewport) PageToWorld(p Point) Point {
	z := v.zoom()
	return Point{
		X: (p.X - v.OffsetX) / z,
		Y: (p.Y - v.OffsetY) / z,
	}
}

// WorldToPage converts a world-space point into page space.
func (v *Viewport) WorldToPage(w Point) Point {
	z := v.zoom()
	return Point{
		X: w.X*z + v.OffsetX,
		Y: w.Y*z + v.OffsetY,
	}
}

// ZoomAt scales the viewport by (1+delta) while keeping the world point under
// cursor fixed on screen. The resulting zoom is clamped to [MinZoom, MaxZoom].
func (v *Viewport) ZoomAt(cursor Point, delta float64) {
	oldZoom := v.zoom()
	newZoom := ClampZoom(oldZoom * (1 + delta))

	worldX := (cursor.X - v.OffsetX) / oldZoom
	worldY := (cursor.Y - v.OffsetY) / oldZoom

	v.OffsetX = cursor.X - worldX*newZoom
	v.OffsetY = cursor.Y - worldY*newZoom
	v.Zoom = newZoom
}

// ClampZoom bounds z to [MinZoom, MaxZoom].
func ClampZoom(z float64) float64 {
	if z < MinZoom {
		return MinZoom
	}
	if z > MaxZoom {
		return MaxZoom
	}
	return z
}

// zoom treats an unset (zero) zoom as 1 so a zero-value Viewport is usable.
func (v *Viewport) zoom() float64 {
	if v.Zoom <= 0 {
		return 1
	}
	return v.Zoom
}

// StartPan begins a pan gesture at page point p.
func (v *Viewport) StartPan(p Point) {
	v.panning = true
	v.panStart = p
	v.panOriginX = v.OffsetX
	v.panOriginY = v.OffsetY
}

// Panning reports whether a pan gesture is in progress.
func (v *Viewport) Panning() bool { return v.panning }

// PanTo moves the offset by the distance travelled since StartPan.
// It does nothing when no pan is in progress.
func (v *Viewport) PanTo(p Point) {
	if !v.panning {
		return
	}
	v.OffsetX = v.panOriginX + (p.X - v.panStart.X)
	v.OffsetY = v.panOriginY + (p.Y - v.panStart.Y)
}

// EndPan finishes the pan gesture.
func (v *Viewport) EndPan() { v.panning = false }
