package workflow

import (
	"fmt"
	"strconv"
	"strings"

	gographviz "github.com/awalterschulze/gographviz"
)

// MarshalDOT renders the graph as a Graphviz digraph. Node names are node
// ids; kind, position and model settings travel as attributes so ParseDOT
// can rebuild the workflow.
func MarshalDOT(g *Graph, name string) string {
	var sb strings.Builder
	if name == "" {
		name = "workflow"
	}
	fmt.Fprintf(&sb, "digraph %s {\n", dotQuote(name))
	for _, n := range g.Nodes() {
		parts := []string{
			"kind=" + dotQuote(string(n.Kind())),
			"label=" + dotQuote(n.Title),
			"x=" + dotQuote(formatFloat(n.X)),
			"y=" + dotQuote(formatFloat(n.Y)),
		}
		switch p := n.Payload.(type) {
		case *ModelPayload:
			parts = append(parts, "provider="+dotQuote(string(p.Provider)))
			if p.ModelName != "" {
				parts = append(parts, "model="+dotQuote(p.ModelName))
			}
			if p.Thinking {
				parts = append(parts, "thinking=true")
			}
		case *FileImportPayload:
			if p.FilePath != nil {
				parts = append(parts, "file_path="+dotQuote(*p.FilePath))
			}
		case *FileExportPayload:
			if p.FolderPath != nil {
				parts = append(parts, "folder_path="+dotQuote(*p.FolderPath))
			}
			if p.FileName != nil {
				parts = append(parts, "file_name="+dotQuote(*p.FileName))
			}
			parts = append(parts, "file_type="+dotQuote(p.FileType))
		}
		if n.Kind() == KindPrompt && n.Output != nil {
			parts = append(parts, "output="+dotQuote(*n.Output))
		}
		fmt.Fprintf(&sb, "    %d [%s]\n", n.ID, strings.Join(parts, " "))
	}
	for _, c := range g.Connections() {
		fmt.Fprintf(&sb, "    %d -> %d\n", c.From, c.To)
	}
	sb.WriteString("}\n")
	return sb.String()
}

// ParseDOT builds a workflow from a DOT digraph. Numeric node names are kept
// as ids; other names get fresh ids in order of appearance. Nodes without a
// kind attribute are prompts.
func ParseDOT(src string) (*Graph, error) {
	ast, err := gographviz.ParseString(src)
	if err != nil {
		return nil, fmt.Errorf("dot parse error: %w", err)
	}
	collector := newDOTCollector()
	if err := gographviz.Analyse(ast, collector); err != nil {
		return nil, fmt.Errorf("dot analyse error: %w", err)
	}

	g := New()
	ids := make(map[string]int, len(collector.order))
	for _, name := range collector.order {
		if id, err := strconv.Atoi(name); err == nil && id > 0 {
			ids[name] = id
			if id >= g.nextNodeID {
				g.nextNodeID = id + 1
			}
		}
	}
	for _, name := range collector.order {
		if _, ok := ids[name]; !ok {
			ids[name] = g.nextNodeID
			g.nextNodeID++
		}
	}

	for _, name := range collector.order {
		attrs := collector.nodes[name]
		kind := Kind(attrs["kind"])
		if kind == "" {
			kind = KindPrompt
		}
		if _, err := decodePayload(kind, nil); err != nil {
			return nil, fmt.Errorf("node %s: %w", name, err)
		}
		x, _ := strconv.ParseFloat(attrs["x"], 64)
		y, _ := strconv.ParseFloat(attrs["y"], 64)
		n := newNode(ids[name], kind, Provider(attrs["provider"]), x, y)
		if l, ok := attrs["label"]; ok && l != "" {
			n.Title = l
		}
		applyDOTAttrs(n, attrs)
		g.nodes[n.ID] = n
	}

	for _, e := range collector.edges {
		if _, err := g.AddConnection(ids[e.from], ids[e.to]); err != nil {
			return nil, fmt.Errorf("edge %s -> %s: %w", e.from, e.to, err)
		}
	}
	return g, nil
}

func applyDOTAttrs(n *Node, attrs map[string]string) {
	switch p := n.Payload.(type) {
	case *ModelPayload:
		if m, ok := attrs["model"]; ok {
			p.ModelName = m
		}
		p.Thinking = attrs["thinking"] == "true"
	case *FileImportPayload:
		if v, ok := attrs["file_path"]; ok {
			p.FilePath = strPtr(v)
			p.FileName = strPtr(baseName(v))
		}
	case *FileExportPayload:
		if v, ok := attrs["folder_path"]; ok {
			p.FolderPath = strPtr(v)
		}
		if v, ok := attrs["file_name"]; ok {
			p.FileName = strPtr(v)
		}
		if v := attrs["file_type"]; v != "" {
			p.FileType = v
		}
	case *PromptPayload:
		if v, ok := attrs["output"]; ok {
			n.Output = strPtr(v)
			n.NeedsExecution = false
		}
	}
}

// ─── permissive DOT collector ─────────────────────────────────────────────────

type rawEdge struct {
	from, to string
}

// dotCollector implements gographviz.Interface without attribute validation.
type dotCollector struct {
	name  string
	order []string
	nodes map[string]map[string]string
	edges []rawEdge
}

func newDOTCollector() *dotCollector {
	return &dotCollector{nodes: make(map[string]map[string]string)}
}

func (c *dotCollector) SetStrict(_ bool) error { return nil }
func (c *dotCollector) SetDir(_ bool) error    { return nil }
func (c *dotCollector) SetName(n string) error { c.name = unquote(n); return nil }
func (c *dotCollector) String() string         { return c.name }

func (c *dotCollector) AddNode(_ string, name string, attrs map[string]string) error {
	id := unquote(name)
	if _, ok := c.nodes[id]; !ok {
		c.nodes[id] = make(map[string]string, len(attrs))
		c.order = append(c.order, id)
	}
	for k, v := range attrs {
		c.nodes[id][k] = unescape(unquote(v))
	}
	return nil
}

func (c *dotCollector) AddEdge(src, dst string, _ bool, _ map[string]string) error {
	from, to := unquote(src), unquote(dst)
	// Edges may name nodes that have no statement of their own.
	for _, id := range []string{from, to} {
		if _, ok := c.nodes[id]; !ok {
			c.nodes[id] = map[string]string{}
			c.order = append(c.order, id)
		}
	}
	c.edges = append(c.edges, rawEdge{from: from, to: to})
	return nil
}

func (c *dotCollector) AddPortEdge(src, _, dst, _ string, directed bool, attrs map[string]string) error {
	return c.AddEdge(src, dst, directed, attrs)
}

func (c *dotCollector) AddAttr(_ string, _, _ string) error                  { return nil }
func (c *dotCollector) AddSubGraph(_, _ string, _ map[string]string) error { return nil }

// ─── helpers ─────────────────────────────────────────────────────────────────

// dotQuote returns the value as a DOT-safe string, quoting if necessary.
func dotQuote(s string) string {
	needsQuote := s == "" ||
		strings.ContainsAny(s, " \t\n\\\"{}[]<>=;,:.-/")
	if needsQuote {
		escaped := strings.ReplaceAll(s, `\`, `\\`)
		escaped = strings.ReplaceAll(escaped, `"`, `\"`)
		escaped = strings.ReplaceAll(escaped, "\n", `\n`)
		return `"` + escaped + `"`
	}
	return s
}

// unquote strips surrounding double-quotes from a DOT attribute value.
func unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}

// unescape reverses the escaping dotQuote applies inside quotes.
func unescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			i++
			switch s[i] {
			case 'n':
				sb.WriteByte('\n')
			default:
				sb.WriteByte(s[i])
			}
			continue
		}
		sb.WriteByte(s[i])
	}
	return sb.String()
}

func formatFloat(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }

func baseName(p string) string {
	if i := strings.LastIndexAny(p, `/\`); i >= 0 {
		return p[i+1:]
	}
	return p
}
