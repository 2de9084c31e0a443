// Package editor turns raw pointer input into canvas and workflow changes.
// Callers translate their UI toolkit's events into the page-space primitives
// defined here and act on the returned Outcome.
package editor

import (
	"log/slog"
	"sync"

	"github.com/ravi-parthasarathy/mosaik/pkg/canvas"
	"github.com/ravi-parthasarathy/mosaik/pkg/workflow"
)

// Button identifies the pointer button of an event.
type Button int

const (
	ButtonPrimary Button = iota
	ButtonMiddle
	ButtonSecondary
)

// PointerEvent is a press, move or release in page space.
type PointerEvent struct {
	Page   canvas.Point
	Button Button
}

// WheelEvent is a vertical wheel movement at a page position.
type WheelEvent struct {
	Page canvas.Point
	Mode canvas.WheelMode
	DY   float64
}

// OutcomeKind tells the caller what, if anything, it should react to.
type OutcomeKind int

const (
	OutcomeNone OutcomeKind = iota
	// OutcomeOpenAddMenu asks for the "add node" menu at Outcome.Page.
	OutcomeOpenAddMenu
	// OutcomeOpenNodeMenu asks for the node menu of Outcome.NodeID.
	OutcomeOpenNodeMenu
	// OutcomeCloseMenu asks for any open menu to close.
	OutcomeCloseMenu
	OutcomeConnectionCreated
	OutcomeConnectionFailed
	OutcomeNodeAdded
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeOpenAddMenu:
		return "open_add_menu"
	case OutcomeOpenNodeMenu:
		return "open_node_menu"
	case OutcomeCloseMenu:
		return "close_menu"
	case OutcomeConnectionCreated:
		return "connection_created"
	case OutcomeConnectionFailed:
		return "connection_failed"
	case OutcomeNodeAdded:
		return "node_added"
	default:
		return "none"
	}
}

// Outcome is the result of handling one input event.
type Outcome struct {
	Kind         OutcomeKind
	Page         canvas.Point
	NodeID       int
	ConnectionID int
	Err          error
}

// Controller routes pointer input to the viewport and the workflow graph.
// It is safe for concurrent use; the graph lives in a workflow.Store shared
// with the engine.
type Controller struct {
	store *workflow.Store

	mu       sync.Mutex
	view     *canvas.Viewport
	menuOpen bool
	menuPage canvas.Point
}

// New returns a Controller with an identity viewport.
func New(store *workflow.Store) *Controller {
	return &Controller{store: store, view: canvas.NewViewport()}
}

// Viewport returns a copy of the current pan and zoom.
func (c *Controller) Viewport() canvas.Viewport {
	c.mu.Lock()
	defer c.mu.Unlock()
	return canvas.Viewport{OffsetX: c.view.OffsetX, OffsetY: c.view.OffsetY, Zoom: c.view.Zoom}
}

// MenuOpen reports whether the add-node menu is open and where.
func (c *Controller) MenuOpen() (canvas.Point, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.menuPage, c.menuOpen
}

// PointerDown handles a press on empty canvas. The secondary button opens
// the add-node menu; the primary button closes it and starts a pan.
func (c *Controller) PointerDown(ev PointerEvent) Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch ev.Button {
	case ButtonSecondary:
		c.menuOpen, c.menuPage = true, ev.Page
		return Outcome{Kind: OutcomeOpenAddMenu, Page: ev.Page}
	case ButtonPrimary:
		c.view.StartPan(ev.Page)
		if c.menuOpen {
			c.menuOpen = false
			return Outcome{Kind: OutcomeCloseMenu}
		}
	}
	return Outcome{}
}

// PointerMove feeds, in priority order, a connection draw, a node drag or a
// canvas pan.
func (c *Controller) PointerMove(ev PointerEvent) Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	var handled bool
	_ = c.store.Update(func(g *workflow.Graph) error {
		if g.Drawing().Active {
			g.UpdateDrawing(ev.Page, c.view)
			handled = true
			return nil
		}
		if _, ok := g.DraggingNode(); ok {
			g.DragNode(ev.Page, c.view)
			handled = true
		}
		return nil
	})
	if !handled {
		c.view.PanTo(ev.Page)
	}
	return Outcome{}
}

// PointerUp ends whatever gesture is in progress. Releasing a draw over
// empty canvas cancels it and opens the add-node menu there.
func (c *Controller) PointerUp(ev PointerEvent) Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out Outcome
	_ = c.store.Update(func(g *workflow.Graph) error {
		if d := g.Drawing(); d.Active {
			if d.Target == nil {
				g.CancelDrawing()
				c.menuOpen, c.menuPage = true, ev.Page
				out = Outcome{Kind: OutcomeOpenAddMenu, Page: ev.Page}
			} else {
				id, err := g.CompleteDrawing()
				if err != nil {
					slog.Warn("failed to create connection", "error", err)
					out = Outcome{Kind: OutcomeConnectionFailed, Err: err}
				} else {
					slog.Info("connection created", "connection", id)
					out = Outcome{Kind: OutcomeConnectionCreated, ConnectionID: id}
				}
			}
		}
		if _, ok := g.DraggingNode(); ok {
			g.EndDraggingNode()
		}
		return nil
	})
	c.view.EndPan()
	return out
}

// PointerLeave is treated as a release at the last position.
func (c *Controller) PointerLeave(ev PointerEvent) Outcome { return c.PointerUp(ev) }

// Wheel zooms around the pointer.
func (c *Controller) Wheel(ev WheelEvent) Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.view.ZoomAt(ev.Page, canvas.WheelDelta(ev.Mode, ev.DY))
	return Outcome{}
}

// NodePointerDown handles a press on a node body. The secondary button asks
// for the node menu; any other button selects the node and starts a drag.
func (c *Controller) NodePointerDown(id int, ev PointerEvent) Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ev.Button == ButtonSecondary {
		return Outcome{Kind: OutcomeOpenNodeMenu, NodeID: id, Page: ev.Page}
	}
	_ = c.store.Update(func(g *workflow.Graph) error {
		g.Select(id)
		g.StartDraggingNode(id, ev.Page, c.view)
		return nil
	})
	if c.menuOpen {
		c.menuOpen = false
		return Outcome{Kind: OutcomeCloseMenu}
	}
	return Outcome{}
}

// OutputPortDown starts drawing a connection from the node's output port.
func (c *Controller) OutputPortDown(id int) Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.store.Update(func(g *workflow.Graph) error {
		n, ok := g.Node(id)
		if !ok {
			return nil
		}
		port := c.view.WorldToPage(workflow.PortWorldPos(n, workflow.PortOutput))
		g.StartDrawing(id, port, c.view)
		return nil
	})
	return Outcome{}
}

// InputPortDown detaches the connection feeding the node's input and starts
// redrawing it from its original source.
func (c *Controller) InputPortDown(id int) Outcome {
	_ = c.store.Update(func(g *workflow.Graph) error {
		g.RedirectConnection(id)
		return nil
	})
	return Outcome{}
}

// NodeHoverEnter offers the node as the target of the connection being drawn.
func (c *Controller) NodeHoverEnter(id int) Outcome {
	_ = c.store.Update(func(g *workflow.Graph) error {
		if g.Drawing().Active {
			g.SetDrawingTarget(id)
		}
		return nil
	})
	return Outcome{}
}

// NodeHoverLeave withdraws the node as candidate target.
func (c *Controller) NodeHoverLeave(id int) Outcome {
	_ = c.store.Update(func(g *workflow.Graph) error {
		if t := g.Drawing().Target; t != nil && *t == id {
			g.ClearDrawingTarget()
		}
		return nil
	})
	return Outcome{}
}

// AddNodeFromMenu places a node of kind where the add-node menu was opened
// and closes the menu. Model nodes use provider.
func (c *Controller) AddNodeFromMenu(kind workflow.Kind, provider workflow.Provider) Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	w := c.view.PageToWorld(c.menuPage)
	c.menuOpen = false
	var id int
	_ = c.store.Update(func(g *workflow.Graph) error {
		if kind == workflow.KindModel {
			id = g.AddModelNode(provider, w.X, w.Y)
		} else {
			id = g.AddNode(kind, w.X, w.Y)
		}
		return nil
	})
	return Outcome{Kind: OutcomeNodeAdded, NodeID: id, Page: c.menuPage}
}

// DeleteNode removes a node from its context menu.
func (c *Controller) DeleteNode(id int) Outcome {
	_ = c.store.Update(func(g *workflow.Graph) error {
		g.RemoveNode(id)
		return nil
	})
	return Outcome{Kind: OutcomeCloseMenu, NodeID: id}
}

// ResetNode clears a node from its context menu.
func (c *Controller) ResetNode(id int) Outcome {
	err := c.store.Update(func(g *workflow.Graph) error { return g.ResetNode(id) })
	return Outcome{Kind: OutcomeCloseMenu, NodeID: id, Err: err}
}

// ToggleMaximize enlarges or restores a node from its header button.
func (c *Controller) ToggleMaximize(id int) Outcome {
	_ = c.store.Update(func(g *workflow.Graph) error {
		g.ToggleMaximize(id)
		return nil
	})
	return Outcome{NodeID: id}
}
