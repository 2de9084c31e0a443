package workflow

import (
	"encoding/json"
	"fmt"
)

// nodeJSON is the saved form of a Node. The payload is decoded by kind.
type nodeJSON struct {
	ID             int             `json:"id"`
	Kind           Kind            `json:"kind"`
	Title          string          `json:"title"`
	X              float64         `json:"x"`
	Y              float64         `json:"y"`
	Width          float64         `json:"width"`
	Height         float64         `json:"height"`
	Maximized      bool            `json:"maximized"`
	Input          *string         `json:"input,omitempty"`
	Output         *string         `json:"output,omitempty"`
	NeedsExecution bool            `json:"needs_execution"`
	IsExecuting    bool            `json:"is_executing"`
	Payload        json.RawMessage `json:"payload"`
}

// graphJSON is the saved form of a Graph.
type graphJSON struct {
	Nodes            []nodeJSON   `json:"nodes"`
	Connections      []Connection `json:"connections"`
	NextNodeID       int          `json:"next_node_id"`
	NextConnectionID int          `json:"next_connection_id"`
	Selected         *int         `json:"selected_node_id,omitempty"`
	Dragging         *int         `json:"dragging_node_id,omitempty"`
	Drawing          DrawingState `json:"drawing"`
}

// Marshal encodes the graph as indented JSON.
func Marshal(g *Graph) ([]byte, error) {
	data, err := json.MarshalIndent(g, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("workflow marshal: %w", err)
	}
	return data, nil
}

// Unmarshal decodes a graph saved by Marshal.
func Unmarshal(data []byte) (*Graph, error) {
	g := New()
	if err := json.Unmarshal(data, g); err != nil {
		return nil, fmt.Errorf("workflow unmarshal: %w", err)
	}
	return g, nil
}

// MarshalJSON implements json.Marshaler.
func (g *Graph) MarshalJSON() ([]byte, error) {
	out := graphJSON{
		Nodes:            make([]nodeJSON, 0, len(g.nodes)),
		Connections:      g.Connections(),
		NextNodeID:       g.nextNodeID,
		NextConnectionID: g.nextConnID,
		Selected:         g.selected,
		Dragging:         g.dragging,
		Drawing:          g.drawing,
	}
	for _, n := range g.Nodes() {
		payload, err := json.Marshal(n.Payload)
		if err != nil {
			return nil, fmt.Errorf("node %d payload: %w", n.ID, err)
		}
		out.Nodes = append(out.Nodes, nodeJSON{
			ID:             n.ID,
			Kind:           n.Kind(),
			Title:          n.Title,
			X:              n.X,
			Y:              n.Y,
			Width:          n.Width,
			Height:         n.Height,
			Maximized:      n.Maximized,
			Input:          n.Input,
			Output:         n.Output,
			NeedsExecution: n.NeedsExecution,
			IsExecuting:    n.IsExecuting,
			Payload:        payload,
		})
	}
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler. Id counters found behind the
// highest saved id are moved past it.
func (g *Graph) UnmarshalJSON(data []byte) error {
	var in graphJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}

	fresh := New()
	in.NextNodeID = max(in.NextNodeID, 1)
	in.NextConnectionID = max(in.NextConnectionID, 1)
	for _, nj := range in.Nodes {
		if _, dup := fresh.nodes[nj.ID]; dup {
			return fmt.Errorf("duplicate node id %d", nj.ID)
		}
		p, err := decodePayload(nj.Kind, nj.Payload)
		if err != nil {
			return fmt.Errorf("node %d: %w", nj.ID, err)
		}
		fresh.nodes[nj.ID] = &Node{
			ID:             nj.ID,
			Title:          nj.Title,
			Payload:        p,
			X:              nj.X,
			Y:              nj.Y,
			Width:          nj.Width,
			Height:         nj.Height,
			Maximized:      nj.Maximized,
			Input:          nj.Input,
			Output:         nj.Output,
			NeedsExecution: nj.NeedsExecution,
			IsExecuting:    nj.IsExecuting,
		}
		if nj.ID >= in.NextNodeID {
			in.NextNodeID = nj.ID + 1
		}
	}
	for _, c := range in.Connections {
		if _, dup := fresh.connections[c.ID]; dup {
			return fmt.Errorf("duplicate connection id %d", c.ID)
		}
		cc := c
		fresh.connections[c.ID] = &cc
		if c.ID >= in.NextConnectionID {
			in.NextConnectionID = c.ID + 1
		}
	}

	fresh.nextNodeID = in.NextNodeID
	fresh.nextConnID = in.NextConnectionID
	fresh.selected = in.Selected
	fresh.dragging = in.Dragging
	fresh.drawing = in.Drawing
	*g = *fresh
	return nil
}

func decodePayload(kind Kind, raw json.RawMessage) (Payload, error) {
	var p Payload
	switch kind {
	case KindPrompt:
		p = &PromptPayload{}
	case KindFileImport:
		p = &FileImportPayload{}
	case KindFileExport:
		p = &FileExportPayload{}
	case KindModel:
		p = &ModelPayload{}
	default:
		return nil, fmt.Errorf("unknown node kind %q", kind)
	}
	if len(raw) == 0 || string(raw) == "null" {
		return p, nil
	}
	if err := json.Unmarshal(raw, p); err != nil {
		return nil, fmt.Errorf("%s payload: %w", kind, err)
	}
	return p, nil
}
