package workflow

import "sort"

// ExecutionOrder returns the model nodes that need execution in dependency
// order. Only edges between such nodes constrain the order; nodes of the same
// tier are ordered by id. Nodes caught in a cycle are left out.
func (g *Graph) ExecutionOrder() []int {
	eligible := map[int]bool{}
	for id, n := range g.nodes {
		if n.Kind() == KindModel && n.NeedsExecution {
			eligible[id] = true
		}
	}

	inDegree := make(map[int]int, len(eligible))
	adj := make(map[int][]int, len(eligible))
	for id := range eligible {
		inDegree[id] = 0
	}
	for _, c := range g.Connections() {
		if !eligible[c.From] || !eligible[c.To] {
			continue
		}
		adj[c.From] = append(adj[c.From], c.To)
		inDegree[c.To]++
	}

	var tier []int
	for id, d := range inDegree {
		if d == 0 {
			tier = append(tier, id)
		}
	}

	order := make([]int, 0, len(eligible))
	for len(tier) > 0 {
		sort.Ints(tier)
		order = append(order, tier...)
		var next []int
		for _, id := range tier {
			for _, t := range adj[id] {
				inDegree[t]--
				if inDegree[t] == 0 {
					next = append(next, t)
				}
			}
		}
		tier = next
	}
	return order
}

// ExecutionTiers groups ExecutionOrder into tiers whose nodes do not depend
// on one another.
func (g *Graph) ExecutionTiers() [][]int {
	order := g.ExecutionOrder()
	if len(order) == 0 {
		return nil
	}
	pos := make(map[int]int, len(order))
	for i, id := range order {
		pos[id] = i
	}
	level := make(map[int]int, len(order))
	for _, id := range order {
		for _, c := range g.Connections() {
			if c.To != id {
				continue
			}
			if _, ok := pos[c.From]; !ok {
				continue
			}
			if l := level[c.From] + 1; l > level[id] {
				level[id] = l
			}
		}
	}
	var tiers [][]int
	for _, id := range order {
		l := level[id]
		for len(tiers) <= l {
			tiers = append(tiers, nil)
		}
		tiers[l] = append(tiers[l], id)
	}
	return tiers
}
