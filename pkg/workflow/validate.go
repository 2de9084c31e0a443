package workflow

import (
	"fmt"
	"strings"
)

// LintError describes a structural problem in a workflow. NodeID 0 means the
// problem is graph-wide. Warnings do not fail ValidateErr.
type LintError struct {
	NodeID  int
	Message string
	Warning bool
}

func (e LintError) Error() string {
	prefix := ""
	if e.Warning {
		prefix = "warning: "
	}
	if e.NodeID != 0 {
		return fmt.Sprintf("%snode %d: %s", prefix, e.NodeID, e.Message)
	}
	return prefix + e.Message
}

// Validate checks a workflow for structural problems.
// Returns all discovered errors (not just the first).
func Validate(g *Graph) []LintError {
	var errs []LintError

	// Connection endpoints must reference existing nodes
	maxConn := 0
	for _, c := range g.Connections() {
		maxConn = max(maxConn, c.ID)
		if _, ok := g.nodes[c.From]; !ok {
			errs = append(errs, LintError{Message: fmt.Sprintf("connection %d references unknown source node %d", c.ID, c.From)})
		}
		if _, ok := g.nodes[c.To]; !ok {
			errs = append(errs, LintError{Message: fmt.Sprintf("connection %d references unknown target node %d", c.ID, c.To)})
		}
		if c.From == c.To {
			errs = append(errs, LintError{NodeID: c.From, Message: fmt.Sprintf("connection %d connects the node to itself", c.ID)})
		}
	}

	// Id counters must stay ahead of every id in use
	maxNode := 0
	for id := range g.nodes {
		maxNode = max(maxNode, id)
	}
	if g.nextNodeID <= maxNode {
		errs = append(errs, LintError{Message: fmt.Sprintf("next node id %d is not above highest node id %d", g.nextNodeID, maxNode)})
	}
	if g.nextConnID <= maxConn {
		errs = append(errs, LintError{Message: fmt.Sprintf("next connection id %d is not above highest connection id %d", g.nextConnID, maxConn)})
	}

	if g.drawing.Active {
		if _, ok := g.nodes[g.drawing.Source]; !ok {
			errs = append(errs, LintError{Message: fmt.Sprintf("connection draw starts at unknown node %d", g.drawing.Source)})
		}
	}

	// Model cycles run, minus the cyclic nodes
	for _, id := range modelCycleNodes(g) {
		errs = append(errs, LintError{NodeID: id, Message: "model node is on or behind a cycle and will not be scheduled", Warning: true})
	}

	for _, n := range g.Nodes() {
		p, ok := n.Payload.(*FileExportPayload)
		if !ok {
			continue
		}
		if p.FolderPath == nil || p.FileName == nil {
			errs = append(errs, LintError{NodeID: n.ID, Message: "file export node has no target folder or file name", Warning: true})
		}
	}

	return errs
}

// ValidateErr calls Validate and returns nil if there are no errors, or a
// combined error message listing all lint errors. Warnings are ignored.
func ValidateErr(g *Graph) error {
	var msgs []string
	for _, e := range Validate(g) {
		if !e.Warning {
			msgs = append(msgs, e.Error())
		}
	}
	if len(msgs) == 0 {
		return nil
	}
	return fmt.Errorf("workflow validation failed:\n  %s", strings.Join(msgs, "\n  "))
}

// modelCycleNodes returns the model nodes that sit on a cycle of model-to-model
// connections, sorted by id.
func modelCycleNodes(g *Graph) []int {
	adj := map[int][]int{}
	inDegree := map[int]int{}
	for id, n := range g.nodes {
		if n.Kind() == KindModel {
			inDegree[id] = 0
		}
	}
	for _, c := range g.Connections() {
		_, fromModel := inDegree[c.From]
		_, toModel := inDegree[c.To]
		if fromModel && toModel {
			adj[c.From] = append(adj[c.From], c.To)
			inDegree[c.To]++
		}
	}
	var queue []int
	for id, d := range inDegree {
		if d == 0 {
			queue = append(queue, id)
		}
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		delete(inDegree, id)
		for _, t := range adj[id] {
			inDegree[t]--
			if inDegree[t] == 0 {
				queue = append(queue, t)
			}
		}
	}
	// Whatever Kahn could not drain is on, or downstream of, a cycle.
	return sortedKeys(inDegree)
}
