package workflow

import (
	"fmt"

	"github.com/ravi-parthasarathy/mosaik/pkg/canvas"
)

// DrawingState is the in-progress connection drag. The zero value is idle.
type DrawingState struct {
	Active     bool         `json:"active"`
	Source     int          `json:"source"`
	SourcePort canvas.Point `json:"source_port"`
	Mouse      canvas.Point `json:"mouse"`
	Target     *int         `json:"target,omitempty"`
}

func (d DrawingState) clone() DrawingState {
	if d.Target != nil {
		t := *d.Target
		d.Target = &t
	}
	return d
}

// Drawing returns a copy of the drawing state.
func (g *Graph) Drawing() DrawingState { return g.drawing.clone() }

// StartDrawing begins a connection from source's output port. The pointer
// position is given in page space. Unknown sources are ignored.
func (g *Graph) StartDrawing(source int, page canvas.Point, proj canvas.Projector) {
	n, ok := g.nodes[source]
	if !ok {
		return
	}
	g.drawing = DrawingState{
		Active:     true,
		Source:     source,
		SourcePort: PortWorldPos(n, PortOutput),
		Mouse:      proj.PageToWorld(page),
	}
}

// UpdateDrawing moves the loose end of the connection being drawn.
func (g *Graph) UpdateDrawing(page canvas.Point, proj canvas.Projector) {
	if !g.drawing.Active {
		return
	}
	g.drawing.Mouse = proj.PageToWorld(page)
}

// SetDrawingTarget records the node under the pointer as the candidate
// target. The source itself is never a candidate.
func (g *Graph) SetDrawingTarget(id int) {
	if !g.drawing.Active || id == g.drawing.Source {
		return
	}
	if _, ok := g.nodes[id]; !ok {
		return
	}
	g.drawing.Target = &id
}

// ClearDrawingTarget forgets the candidate target.
func (g *Graph) ClearDrawingTarget() { g.drawing.Target = nil }

// CancelDrawing abandons the connection being drawn.
func (g *Graph) CancelDrawing() { g.drawing = DrawingState{} }

// CompleteDrawing turns the draw into a connection to the candidate target.
// The machine is idle afterwards whatever the outcome.
func (g *Graph) CompleteDrawing() (int, error) {
	d := g.drawing
	g.drawing = DrawingState{}
	if !d.Active || d.Target == nil {
		return 0, ErrNoTarget
	}
	if _, ok := g.nodes[d.Source]; !ok {
		return 0, fmt.Errorf("drawing source %d: %w", d.Source, ErrNodeNotFound)
	}
	return g.AddConnection(d.Source, *d.Target)
}

// RedirectConnection picks up the connection feeding target so it can be
// dropped elsewhere: the connection is removed and a draw starts from its
// original source. It reports false when nothing feeds target.
func (g *Graph) RedirectConnection(target int) bool {
	var (
		conn  *Connection
		mouse canvas.Point
	)
	for _, c := range g.connections {
		if c.To == target && (conn == nil || c.ID < conn.ID) {
			conn = c
		}
	}
	if conn == nil {
		return false
	}
	src, ok := g.nodes[conn.From]
	if !ok {
		return false
	}
	if g.drawing.Active {
		mouse = g.drawing.Mouse
	} else if t, ok := g.nodes[target]; ok {
		mouse = PortWorldPos(t, PortInput)
	}

	g.RemoveConnectionTargeting(target)
	g.drawing = DrawingState{
		Active:     true,
		Source:     src.ID,
		SourcePort: PortWorldPos(src, PortOutput),
		Mouse:      mouse,
	}
	return true
}
