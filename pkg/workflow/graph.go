// Package workflow holds the node graph of an LLM workflow: nodes, the
// connections between them, input aggregation, the connection-drawing
// interaction and the execution order of model nodes.
//
// A Graph is not safe for concurrent use. Share it through a Store.
package workflow

import (
	"fmt"
	"sort"

	"github.com/ravi-parthasarathy/mosaik/pkg/canvas"
)

// maximizedScale is how much larger a maximized node renders.
const maximizedScale = 3.0

// Connection is a directed edge from one node's output to another's input.
type Connection struct {
	ID   int `json:"id"`
	From int `json:"from_node_id"`
	To   int `json:"to_node_id"`
}

// Graph owns the nodes and connections of a workflow.
type Graph struct {
	nodes       map[int]*Node
	connections map[int]*Connection
	nextNodeID  int
	nextConnID  int
	selected    *int
	dragging    *int
	drawing     DrawingState
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{
		nodes:       make(map[int]*Node),
		connections: make(map[int]*Connection),
		nextNodeID:  1,
		nextConnID:  1,
	}
}

// Default returns the starter workflow: one prompt wired into one Ollama
// model node.
func Default() *Graph {
	g := New()
	prompt := g.AddNode(KindPrompt, 50, 100)
	model := g.AddModelNode(ProviderOllama, 400, 100)
	_, _ = g.AddConnection(prompt, model)
	return g
}

// AddNode inserts a node of kind at world position (x, y) and returns its id.
// Model nodes get the Ollama provider; use AddModelNode to choose another.
func (g *Graph) AddNode(kind Kind, x, y float64) int {
	return g.insert(newNode(g.nextNodeID, kind, ProviderOllama, x, y))
}

// AddModelNode inserts a model node backed by provider.
func (g *Graph) AddModelNode(provider Provider, x, y float64) int {
	return g.insert(newNode(g.nextNodeID, KindModel, provider, x, y))
}

func (g *Graph) insert(n *Node) int {
	g.nodes[n.ID] = n
	g.nextNodeID++
	return n.ID
}

// RemoveNode deletes a node and every connection touching it. Nodes that lose
// an upstream source get their input recomputed.
func (g *Graph) RemoveNode(id int) {
	if _, ok := g.nodes[id]; !ok {
		return
	}
	delete(g.nodes, id)

	affected := map[int]bool{}
	for cid, c := range g.connections {
		if c.From != id && c.To != id {
			continue
		}
		if c.From == id && c.To != id {
			affected[c.To] = true
		}
		delete(g.connections, cid)
	}
	for _, t := range sortedKeys(affected) {
		g.recomputeInput(t)
		if n, ok := g.nodes[t]; ok {
			n.NeedsExecution = true
		}
	}

	if g.selected != nil && *g.selected == id {
		g.selected = nil
	}
	if g.dragging != nil && *g.dragging == id {
		g.dragging = nil
	}
	if g.drawing.Active && g.drawing.Source == id {
		g.CancelDrawing()
	}
	if g.drawing.Target != nil && *g.drawing.Target == id {
		g.drawing.Target = nil
	}
}

// AddConnection wires from's output into to's input and returns the new
// connection id. Duplicate connections are allowed.
func (g *Graph) AddConnection(from, to int) (int, error) {
	if from == to {
		return 0, ErrSelfConnection
	}
	if _, ok := g.nodes[from]; !ok {
		return 0, fmt.Errorf("connection source %d: %w", from, ErrNodeNotFound)
	}
	target, ok := g.nodes[to]
	if !ok {
		return 0, fmt.Errorf("connection target %d: %w", to, ErrNodeNotFound)
	}

	id := g.nextConnID
	g.connections[id] = &Connection{ID: id, From: from, To: to}
	g.nextConnID++

	g.recomputeInput(to)
	target.NeedsExecution = true
	return id, nil
}

// RemoveConnectionTargeting detaches the lowest-id connection into nodeID and
// clears that node's input. It reports the removed connection, if any.
func (g *Graph) RemoveConnectionTargeting(nodeID int) (Connection, bool) {
	var found *Connection
	for _, c := range g.connections {
		if c.To != nodeID {
			continue
		}
		if found == nil || c.ID < found.ID {
			found = c
		}
	}
	if found == nil {
		return Connection{}, false
	}
	delete(g.connections, found.ID)
	if n, ok := g.nodes[nodeID]; ok {
		n.Input = nil
	}
	return *found, true
}

// StartDraggingNode begins moving a node. The offset between the pointer and
// the node's origin is kept so the node does not jump to the pointer.
func (g *Graph) StartDraggingNode(id int, page canvas.Point, proj canvas.Projector) {
	n, ok := g.nodes[id]
	if !ok {
		return
	}
	g.dragging = &id
	w := proj.PageToWorld(page)
	n.dragOffset = canvas.Pt(w.X-n.X, w.Y-n.Y)
}

// DragNode moves the node being dragged to follow the pointer.
func (g *Graph) DragNode(page canvas.Point, proj canvas.Projector) {
	if g.dragging == nil {
		return
	}
	n, ok := g.nodes[*g.dragging]
	if !ok {
		return
	}
	w := proj.PageToWorld(page)
	n.X = w.X - n.dragOffset.X
	n.Y = w.Y - n.dragOffset.Y
}

// EndDraggingNode releases the dragged node. Position decides fan-in order, so
// the node's direct targets are re-aggregated.
func (g *Graph) EndDraggingNode() {
	if g.dragging == nil {
		return
	}
	id := *g.dragging
	g.dragging = nil
	g.propagate(id)
}

// MoveNode places a node at a world position in one step, with the same
// re-aggregation as a finished drag.
func (g *Graph) MoveNode(id int, x, y float64) error {
	n, ok := g.nodes[id]
	if !ok {
		return fmt.Errorf("move node %d: %w", id, ErrNodeNotFound)
	}
	n.X, n.Y = x, y
	g.propagate(id)
	return nil
}

// DraggingNode returns the id of the node being dragged.
func (g *Graph) DraggingNode() (int, bool) {
	if g.dragging == nil {
		return 0, false
	}
	return *g.dragging, true
}

// InputOrderNumber returns nodeID's 1-based rank among the sources feeding
// targetID, ordered top-to-bottom then left-to-right. It reports false when
// targetID has fewer than two sources or nodeID does not feed it.
func (g *Graph) InputOrderNumber(nodeID, targetID int) (int, bool) {
	sources := g.orderedSources(targetID, false)
	if len(sources) <= 1 {
		return 0, false
	}
	for i, s := range sources {
		if s.node.ID == nodeID {
			return i + 1, true
		}
	}
	return 0, false
}

// BadgeNumber returns the order number shown on nodeID: its rank in the first
// (lowest connection id) multi-input target it feeds.
func (g *Graph) BadgeNumber(nodeID int) (int, bool) {
	for _, c := range g.Connections() {
		if c.From != nodeID {
			continue
		}
		if n, ok := g.InputOrderNumber(nodeID, c.To); ok {
			return n, true
		}
	}
	return 0, false
}

// SetOutput records a user-provided output (e.g. prompt text). The node is
// considered up to date and its targets are re-aggregated.
func (g *Graph) SetOutput(id int, text string) error {
	n, ok := g.nodes[id]
	if !ok {
		return fmt.Errorf("set output on node %d: %w", id, ErrNodeNotFound)
	}
	n.Output = strPtr(text)
	n.NeedsExecution = false
	g.propagate(id)
	return nil
}

// Select marks id as the selected node.
func (g *Graph) Select(id int) {
	if _, ok := g.nodes[id]; ok {
		g.selected = &id
	}
}

// Selected returns the selected node id.
func (g *Graph) Selected() (int, bool) {
	if g.selected == nil {
		return 0, false
	}
	return *g.selected, true
}

// ToggleMaximize flips the node's maximized flag.
func (g *Graph) ToggleMaximize(id int) {
	if n, ok := g.nodes[id]; ok {
		n.Maximized = !n.Maximized
	}
}

// ResetNode clears a node's output and kind-specific state (chat history,
// file selection) and marks it for execution.
func (g *Graph) ResetNode(id int) error {
	n, ok := g.nodes[id]
	if !ok {
		return fmt.Errorf("reset node %d: %w", id, ErrNodeNotFound)
	}
	if n.IsExecuting {
		return fmt.Errorf("reset node %d: %w", id, ErrAlreadyExecuting)
	}
	n.reset()
	g.propagate(id)
	return nil
}

// SetModel changes which model a model node calls.
func (g *Graph) SetModel(id int, name string) error {
	mp, err := g.modelPayload(id)
	if err != nil {
		return err
	}
	mp.ModelName = name
	return nil
}

// SetProvider switches a model node's provider, resetting the model name and
// title to the provider's defaults.
func (g *Graph) SetProvider(id int, p Provider) error {
	mp, err := g.modelPayload(id)
	if err != nil {
		return err
	}
	d, ok := providerDefaults[p]
	if !ok {
		return fmt.Errorf("%w %q", ErrUnknownProvider, p)
	}
	mp.Provider = p
	mp.ModelName = d.model
	g.nodes[id].Title = d.title
	return nil
}

// SetThinking toggles extended thinking for a model node.
func (g *Graph) SetThinking(id int, on bool) error {
	mp, err := g.modelPayload(id)
	if err != nil {
		return err
	}
	mp.Thinking = on
	return nil
}

// AppendUserMessage adds a user turn to a model node's history.
func (g *Graph) AppendUserMessage(id int, text string) error {
	mp, err := g.modelPayload(id)
	if err != nil {
		return err
	}
	if g.nodes[id].IsExecuting {
		return fmt.Errorf("message node %d: %w", id, ErrAlreadyExecuting)
	}
	mp.Messages = append(mp.Messages, ChatMessage{Role: RoleUser, Content: text})
	return nil
}

// SetFileImport records the file chosen for an import node.
func (g *Graph) SetFileImport(id int, path, name string) error {
	n, ok := g.nodes[id]
	if !ok {
		return fmt.Errorf("file import node %d: %w", id, ErrNodeNotFound)
	}
	p, ok := n.Payload.(*FileImportPayload)
	if !ok {
		return fmt.Errorf("node %d is %s, not %s: %w", id, n.Kind(), KindFileImport, ErrWrongKind)
	}
	p.FilePath, p.FileName = strPtr(path), strPtr(name)
	return nil
}

// SetFileExport records where an export node writes. An empty fileType
// keeps the current one.
func (g *Graph) SetFileExport(id int, folder, name, fileType string) error {
	n, ok := g.nodes[id]
	if !ok {
		return fmt.Errorf("file export node %d: %w", id, ErrNodeNotFound)
	}
	p, ok := n.Payload.(*FileExportPayload)
	if !ok {
		return fmt.Errorf("node %d is %s, not %s: %w", id, n.Kind(), KindFileExport, ErrWrongKind)
	}
	p.FolderPath, p.FileName = strPtr(folder), strPtr(name)
	if fileType != "" {
		p.FileType = fileType
	}
	return nil
}

func (g *Graph) modelPayload(id int) (*ModelPayload, error) {
	n, ok := g.nodes[id]
	if !ok {
		return nil, fmt.Errorf("model node %d: %w", id, ErrNodeNotFound)
	}
	mp, ok := n.Model()
	if !ok {
		return nil, fmt.Errorf("node %d: %w", id, ErrNotModelNode)
	}
	return mp, nil
}

// Node returns the node with id. The pointer must not be retained across
// Store boundaries.
func (g *Graph) Node(id int) (*Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Nodes returns every node ordered by id.
func (g *Graph) Nodes() []*Node {
	out := make([]*Node, 0, len(g.nodes))
	for _, id := range sortedKeys(g.nodes) {
		out = append(out, g.nodes[id])
	}
	return out
}

// Connections returns every connection ordered by id.
func (g *Graph) Connections() []Connection {
	out := make([]Connection, 0, len(g.connections))
	for _, id := range sortedKeys(g.connections) {
		out = append(out, *g.connections[id])
	}
	return out
}

// Len returns the number of nodes.
func (g *Graph) Len() int { return len(g.nodes) }

// Port names a node's connection socket.
type Port int

const (
	PortInput Port = iota
	PortOutput
)

// PortWorldPos returns the world position of a node's socket: inputs sit on
// the left edge, outputs on the right, both vertically centred.
func PortWorldPos(n *Node, port Port) canvas.Point {
	switch port {
	case PortInput:
		return canvas.Pt(n.X, n.Y+n.Height/2)
	case PortOutput:
		return canvas.Pt(n.X+n.Width, n.Y+n.Height/2)
	}
	return canvas.Pt(n.X, n.Y)
}

// RenderedBounds returns the world rectangle a node occupies on screen.
// Maximized nodes grow around their horizontal centre but keep their top.
func RenderedBounds(n *Node) (x, y, w, h float64) {
	if !n.Maximized {
		return n.X, n.Y, n.Width, n.Height
	}
	w, h = n.Width*maximizedScale, n.Height*maximizedScale
	return n.X - (w-n.Width)/2, n.Y, w, h
}

// Clone returns a deep copy of the graph.
func (g *Graph) Clone() *Graph {
	c := &Graph{
		nodes:       make(map[int]*Node, len(g.nodes)),
		connections: make(map[int]*Connection, len(g.connections)),
		nextNodeID:  g.nextNodeID,
		nextConnID:  g.nextConnID,
		drawing:     g.drawing.clone(),
	}
	for id, n := range g.nodes {
		c.nodes[id] = n.clone()
	}
	for id, conn := range g.connections {
		cc := *conn
		c.connections[id] = &cc
	}
	if g.selected != nil {
		v := *g.selected
		c.selected = &v
	}
	if g.dragging != nil {
		v := *g.dragging
		c.dragging = &v
	}
	return c
}

// ClearStaleExecutions resets IsExecuting on every node. A graph loaded from
// disk cannot have calls in flight.
func (g *Graph) ClearStaleExecutions() int {
	cleared := 0
	for _, n := range g.nodes {
		if n.IsExecuting {
			n.IsExecuting = false
			cleared++
		}
	}
	return cleared
}

func sortedKeys[V any](m map[int]V) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}
