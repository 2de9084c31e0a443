package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ravi-parthasarathy/mosaik/pkg/canvas"
)

// sampleGraph has one node of each kind plus a second model, four
// connections including a fan-in, chat history and an active draw.
func sampleGraph(t *testing.T) *Graph {
	t.Helper()
	g := New()
	prompt := g.AddNode(KindPrompt, 10.5, 20)
	imp := g.AddNode(KindFileImport, -40, 300)
	model := g.AddModelNode(ProviderAnthropic, 400, 80)
	second := g.AddModelNode(ProviderOpenAI, 800, 80)
	exp := g.AddNode(KindFileExport, 1200, 80)

	require.NoError(t, g.SetOutput(prompt, "Summarize"))
	require.NoError(t, g.SetFileImport(imp, "/data/notes.md", "notes.md"))
	require.NoError(t, g.SetOutput(imp, ""))
	require.NoError(t, g.SetThinking(model, true))
	require.NoError(t, g.AppendUserMessage(model, "and be brief"))
	require.NoError(t, g.SetFileExport(exp, "/out", "summary", "md"))

	for _, c := range [][2]int{{prompt, model}, {imp, model}, {model, second}, {second, exp}} {
		_, err := g.AddConnection(c[0], c[1])
		require.NoError(t, err)
	}

	x, err := g.BeginExecution(model)
	require.NoError(t, err)
	g.ApplyChunk(x, "Short.", "thinking about it")
	g.FinishExecution(x, nil)

	g.ToggleMaximize(second)
	g.Select(model)
	g.StartDrawing(second, canvas.Pt(5, 5), canvas.NewViewport())
	g.SetDrawingTarget(prompt)
	return g
}

func TestRoundTrip(t *testing.T) {
	g := sampleGraph(t)
	require.Equal(t, 5, g.Len())
	require.Len(t, g.Connections(), 4)

	data, err := Marshal(g)
	require.NoError(t, err)
	back, err := Unmarshal(data)
	require.NoError(t, err)

	assert.Equal(t, g, back)

	again, err := Marshal(back)
	require.NoError(t, err)
	assert.JSONEq(t, string(data), string(again))
}

func TestUnmarshal_RepairsCounters(t *testing.T) {
	src := `{
		"nodes": [{"id": 7, "kind": "prompt", "title": "Prompt", "payload": {}}],
		"connections": [{"id": 3, "from_node_id": 7, "to_node_id": 7}],
		"next_node_id": 2,
		"next_connection_id": 0
	}`
	g, err := Unmarshal([]byte(src))
	require.NoError(t, err)
	assert.Equal(t, 8, g.nextNodeID)
	assert.Equal(t, 4, g.nextConnID)
	assert.Equal(t, 8, g.AddNode(KindPrompt, 0, 0))
}

func TestUnmarshal_Errors(t *testing.T) {
	tests := map[string]string{
		"duplicate ids": `{"nodes": [{"id": 1, "kind": "prompt"}, {"id": 1, "kind": "model"}]}`,
		"unknown kind":  `{"nodes": [{"id": 1, "kind": "widget"}]}`,
		"bad payload":   `{"nodes": [{"id": 1, "kind": "model", "payload": {"thinking": "yes"}}]}`,
		"not json":      `{nodes`,
	}
	for name, src := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Unmarshal([]byte(src))
			assert.Error(t, err)
		})
	}
}

func TestClearStaleExecutions(t *testing.T) {
	g := chain(t, "hi")
	_, err := g.BeginExecution(2)
	require.NoError(t, err)

	data, err := Marshal(g)
	require.NoError(t, err)
	back, err := Unmarshal(data)
	require.NoError(t, err)

	assert.Equal(t, 1, back.ClearStaleExecutions())
	n, _ := back.Node(2)
	assert.False(t, n.IsExecuting)
	_, err = back.BeginExecution(2)
	assert.NoError(t, err)
}
