package canvas

// WheelMode is the unit a wheel delta is expressed in.
type WheelMode int

const (
	WheelPixels WheelMode = iota
	WheelLines
	WheelPages
)

// WheelDelta turns a raw vertical wheel delta into the zoom delta passed to
// ZoomAt. Scrolling up (negative dy) zooms in.
func WheelDelta(mode WheelMode, dy float64) float64 {
	switch mode {
	case WheelLines:
		return dy * -0.05
	case WheelPages:
		return dy * -0.2
	default:
		return dy * -0.01
	}
}
