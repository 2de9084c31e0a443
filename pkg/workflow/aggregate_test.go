package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fanIn wires prompts with the given outputs and positions into one model node.
func fanIn(t *testing.T, sources []struct {
	out  string
	x, y float64
}) (*Graph, int) {
	t.Helper()
	g := New()
	target := g.AddNode(KindModel, 1000, 1000)
	for _, s := range sources {
		id := g.AddNode(KindPrompt, s.x, s.y)
		require.NoError(t, g.SetOutput(id, s.out))
		_, err := g.AddConnection(id, target)
		require.NoError(t, err)
	}
	return g, target
}

func TestAggregation_OrdersByYThenX(t *testing.T) {
	g, target := fanIn(t, []struct {
		out  string
		x, y float64
	}{
		{"A", 10, 0},
		{"B", 10, 50},
		{"C", 0, 0},
	})
	n, _ := g.Node(target)
	require.NotNil(t, n.Input)
	assert.Equal(t, "C\n\nA\n\nB", *n.Input)
}

func TestAggregation_Idempotent(t *testing.T) {
	g, target := fanIn(t, []struct {
		out  string
		x, y float64
	}{
		{"one", 5, 5},
		{"two", 5, 5},
		{"three", 0, 9},
	})
	n, _ := g.Node(target)
	first := *n.Input
	g.RecomputeInput(target)
	g.RecomputeInput(target)
	assert.Equal(t, first, *n.Input)
	assert.Equal(t, "one\n\ntwo\n\nthree", first, "ties keep connection order")
}

func TestAggregation_SkipsSourcesWithoutOutput(t *testing.T) {
	g := New()
	target := g.AddNode(KindModel, 500, 0)
	silent := g.AddNode(KindPrompt, 0, 0)
	empty := g.AddNode(KindPrompt, 0, 100)
	_, _ = g.AddConnection(silent, target)

	n, _ := g.Node(target)
	assert.Nil(t, n.Input, "no source has output")

	require.NoError(t, g.SetOutput(empty, ""))
	_, _ = g.AddConnection(empty, target)
	require.NotNil(t, n.Input, "an empty output still counts")
	assert.Equal(t, "", *n.Input)
}

func TestPropagation_IsOneHop(t *testing.T) {
	g := New()
	p := g.AddNode(KindPrompt, 0, 0)
	m1 := g.AddNode(KindModel, 300, 0)
	m2 := g.AddNode(KindModel, 600, 0)
	_, _ = g.AddConnection(p, m1)
	_, _ = g.AddConnection(m1, m2)
	second, _ := g.Node(m2)
	second.NeedsExecution = false

	require.NoError(t, g.SetOutput(p, "hello"))

	first, _ := g.Node(m1)
	require.NotNil(t, first.Input)
	assert.Equal(t, "hello", *first.Input)
	assert.True(t, first.NeedsExecution)
	assert.Nil(t, second.Input)
	assert.False(t, second.NeedsExecution)
}
