package workflow

import (
	"sort"
	"strings"
)

// inputSeparator joins upstream outputs into one input.
const inputSeparator = "\n\n"

type source struct {
	conn Connection
	node *Node
}

// orderedSources lists the nodes feeding target, top-to-bottom then
// left-to-right. Ties keep connection id order. With withOutput set, sources
// that have not produced an output are skipped.
func (g *Graph) orderedSources(target int, withOutput bool) []source {
	var out []source
	for _, c := range g.Connections() {
		if c.To != target {
			continue
		}
		n, ok := g.nodes[c.From]
		if !ok {
			continue
		}
		if withOutput && n.Output == nil {
			continue
		}
		out = append(out, source{conn: c, node: n})
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].node, out[j].node
		if a.Y != b.Y {
			return a.Y < b.Y
		}
		return a.X < b.X
	})
	return out
}

// recomputeInput rebuilds target's input from the outputs of its sources.
func (g *Graph) recomputeInput(target int) {
	n, ok := g.nodes[target]
	if !ok {
		return
	}
	sources := g.orderedSources(target, true)
	if len(sources) == 0 {
		n.Input = nil
		return
	}
	parts := make([]string, len(sources))
	for i, s := range sources {
		parts[i] = *s.node.Output
	}
	n.Input = strPtr(strings.Join(parts, inputSeparator))
}

// RecomputeInput rebuilds a node's input from its upstream outputs. Calling it
// again without intervening changes yields the same input.
func (g *Graph) RecomputeInput(id int) { g.recomputeInput(id) }

// propagate pushes source's output one hop: every direct target is
// re-aggregated and marked for execution. Targets are visited once even when
// wired by duplicate connections.
func (g *Graph) propagate(source int) {
	seen := map[int]bool{}
	for _, c := range g.Connections() {
		if c.From != source || seen[c.To] {
			continue
		}
		seen[c.To] = true
		g.recomputeInput(c.To)
		if n, ok := g.nodes[c.To]; ok {
			n.NeedsExecution = true
		}
	}
}
