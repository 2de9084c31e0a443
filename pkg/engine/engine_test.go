package engine_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ravi-parthasarathy/mosaik/pkg/engine"
	"github.com/ravi-parthasarathy/mosaik/pkg/llm"
	"github.com/ravi-parthasarathy/mosaik/pkg/workflow"
)

// echoClient replies "echo:" plus the last message, split into two chunks.
// Models named "bad" fail before streaming; "midway" fails after one chunk.
type echoClient struct {
	mu       sync.Mutex
	requests []llm.Request
	onCall   func(req llm.Request)
}

func (c *echoClient) Generate(ctx context.Context, req llm.Request) (<-chan llm.StreamEvent, error) {
	c.mu.Lock()
	c.requests = append(c.requests, req)
	c.mu.Unlock()
	if c.onCall != nil {
		c.onCall(req)
	}
	if req.Model == "bad" {
		return nil, errors.New("model unavailable")
	}
	last := req.Messages[len(req.Messages)-1].Content
	ch := make(chan llm.StreamEvent, 4)
	if req.Thinking {
		ch <- llm.StreamEvent{Thinking: "hmm"}
	}
	ch <- llm.StreamEvent{Content: "echo:"}
	if req.Model == "midway" {
		ch <- llm.StreamEvent{Err: errors.New("connection reset")}
	} else {
		ch <- llm.StreamEvent{Content: last}
	}
	close(ch)
	return ch, nil
}

func (c *echoClient) Models(context.Context) ([]string, error) { return []string{"echo"}, nil }

type staticResolver struct{ client llm.Client }

func (r staticResolver) Client(workflow.Provider) (llm.Client, error) { return r.client, nil }

// chain builds prompt(1) -> model(2) -> model(3).
func chain(t *testing.T, prompt string) *workflow.Graph {
	t.Helper()
	g := workflow.New()
	p := g.AddNode(workflow.KindPrompt, 0, 0)
	m1 := g.AddModelNode(workflow.ProviderOllama, 300, 0)
	m2 := g.AddModelNode(workflow.ProviderOllama, 600, 0)
	require.NoError(t, g.SetModel(m1, "echo"))
	require.NoError(t, g.SetModel(m2, "echo"))
	_, err := g.AddConnection(p, m1)
	require.NoError(t, err)
	_, err = g.AddConnection(m1, m2)
	require.NoError(t, err)
	require.NoError(t, g.SetOutput(p, prompt))
	return g
}

func newEngine(t *testing.T, g *workflow.Graph, c llm.Client, opts engine.Options) (*engine.Engine, *workflow.Store) {
	t.Helper()
	s := workflow.NewStore(g)
	e, err := engine.New(s, staticResolver{c}, opts)
	require.NoError(t, err)
	return e, s
}

func output(t *testing.T, s *workflow.Store, id int) string {
	t.Helper()
	var out string
	s.View(func(g *workflow.Graph) {
		n, ok := g.Node(id)
		require.True(t, ok)
		if n.Output != nil {
			out = *n.Output
		}
	})
	return out
}

func TestNew_RequiresDependencies(t *testing.T) {
	_, err := engine.New(nil, staticResolver{}, engine.Options{})
	assert.Error(t, err)
	_, err = engine.New(workflow.NewStore(nil), nil, engine.Options{})
	assert.Error(t, err)
}

func TestRun_Chain(t *testing.T) {
	c := &echoClient{}
	e, s := newEngine(t, chain(t, "hi"), c, engine.Options{})

	require.NoError(t, e.Run(context.Background()))

	assert.Equal(t, "echo:hi", output(t, s, 2))
	assert.Equal(t, "echo:echo:hi", output(t, s, 3))
	require.Len(t, c.requests, 2)
	assert.Equal(t, "hi", c.requests[0].Messages[0].Content)
	assert.Equal(t, "echo", c.requests[0].Model)

	s.View(func(g *workflow.Graph) {
		n, _ := g.Node(3)
		assert.False(t, n.NeedsExecution)
		assert.False(t, n.IsExecuting)
		mp, _ := n.Model()
		require.Len(t, mp.Messages, 1)
		assert.Equal(t, workflow.RoleAssistant, mp.Messages[0].Role)
		assert.Equal(t, "echo:echo:hi", mp.Messages[0].Content)
	})
}

func TestRun_SecondRunIsNoop(t *testing.T) {
	c := &echoClient{}
	e, _ := newEngine(t, chain(t, "hi"), c, engine.Options{})
	require.NoError(t, e.Run(context.Background()))
	require.NoError(t, e.Run(context.Background()))
	assert.Len(t, c.requests, 2)
}

func TestRun_ThinkingIsStored(t *testing.T) {
	g := chain(t, "hi")
	require.NoError(t, g.SetThinking(2, true))
	e, s := newEngine(t, g, &echoClient{}, engine.Options{})

	require.NoError(t, e.Run(context.Background()))

	s.View(func(g *workflow.Graph) {
		n, _ := g.Node(2)
		mp, _ := n.Model()
		require.Len(t, mp.Messages, 1)
		require.NotNil(t, mp.Messages[0].Thinking)
		assert.Equal(t, "hmm", *mp.Messages[0].Thinking)
	})
}

func TestRun_FailureIsIsolated(t *testing.T) {
	g := chain(t, "hi")
	require.NoError(t, g.SetModel(2, "bad"))
	// An independent model fed by the same prompt.
	m := g.AddModelNode(workflow.ProviderOllama, 300, 400)
	require.NoError(t, g.SetModel(m, "echo"))
	_, err := g.AddConnection(1, m)
	require.NoError(t, err)

	e, s := newEngine(t, g, &echoClient{}, engine.Options{})
	err = e.Run(context.Background())
	require.Error(t, err)

	var ne *engine.NodeError
	require.ErrorAs(t, err, &ne)
	assert.Equal(t, 2, ne.NodeID)
	assert.Contains(t, err.Error(), "model unavailable")

	assert.Equal(t, "echo:hi", output(t, s, m))
	s.View(func(g *workflow.Graph) {
		n, _ := g.Node(2)
		assert.True(t, n.NeedsExecution)
		assert.False(t, n.IsExecuting)
		mp, _ := n.Model()
		assert.Empty(t, mp.Messages)
	})
}

func TestRun_MidStreamFailureRollsBack(t *testing.T) {
	g := chain(t, "hi")
	require.NoError(t, g.SetModel(2, "midway"))
	e, s := newEngine(t, g, &echoClient{}, engine.Options{})

	err := e.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")

	assert.Equal(t, "", output(t, s, 2))
	s.View(func(g *workflow.Graph) {
		n, _ := g.Node(2)
		mp, _ := n.Model()
		assert.Empty(t, mp.Messages)
		assert.True(t, n.NeedsExecution)
	})
}

func TestRun_CancelledBeforeStart(t *testing.T) {
	c := &echoClient{}
	e, _ := newEngine(t, chain(t, "hi"), c, engine.Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := e.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, c.requests)
}

func TestRun_Parallel(t *testing.T) {
	g := workflow.New()
	p := g.AddNode(workflow.KindPrompt, 0, 0)
	require.NoError(t, g.SetOutput(p, "go"))
	var models []int
	for i := range 3 {
		m := g.AddModelNode(workflow.ProviderOllama, 300, float64(i*200))
		require.NoError(t, g.SetModel(m, "echo"))
		_, err := g.AddConnection(p, m)
		require.NoError(t, err)
		models = append(models, m)
	}
	c := &echoClient{}
	e, s := newEngine(t, g, c, engine.Options{Parallel: true})

	require.NoError(t, e.Run(context.Background()))
	for _, m := range models {
		assert.Equal(t, "echo:go", output(t, s, m))
	}
	assert.Len(t, c.requests, 3)
}

func TestRun_NodeRemovedMidCall(t *testing.T) {
	var s *workflow.Store
	c := &echoClient{onCall: func(llm.Request) {
		_ = s.Update(func(g *workflow.Graph) error {
			g.RemoveNode(2)
			return nil
		})
	}}
	g := chain(t, "hi")
	// Node 3 loses its input once 2 is gone.
	var e *engine.Engine
	e, s = newEngine(t, g, c, engine.Options{})

	err := e.Run(context.Background())
	require.Error(t, err)
	var ne *engine.NodeError
	require.ErrorAs(t, err, &ne)
	assert.Equal(t, 3, ne.NodeID)
	assert.ErrorIs(t, err, workflow.ErrEmptyPrompt)
	s.View(func(g *workflow.Graph) {
		_, ok := g.Node(2)
		assert.False(t, ok)
	})
}

// gatedClient streams "Hel", then holds the stream open until release is
// closed before sending "lo".
type gatedClient struct {
	sent    chan struct{}
	release chan struct{}
}

func (c *gatedClient) Generate(ctx context.Context, req llm.Request) (<-chan llm.StreamEvent, error) {
	ch := make(chan llm.StreamEvent)
	go func() {
		defer close(ch)
		ch <- llm.StreamEvent{Content: "Hel"}
		close(c.sent)
		<-c.release
		ch <- llm.StreamEvent{Content: "lo"}
	}()
	return ch, nil
}

func (c *gatedClient) Models(context.Context) ([]string, error) { return []string{"echo"}, nil }

func TestRun_ResetWhileStreamingIsRejected(t *testing.T) {
	for _, tc := range []struct {
		name     string
		parallel bool
	}{
		{"sequential", false},
		{"parallel", true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			g := workflow.New()
			p := g.AddNode(workflow.KindPrompt, 0, 0)
			m := g.AddModelNode(workflow.ProviderOllama, 300, 0)
			require.NoError(t, g.SetModel(m, "echo"))
			_, err := g.AddConnection(p, m)
			require.NoError(t, err)
			require.NoError(t, g.SetOutput(p, "hi"))

			c := &gatedClient{sent: make(chan struct{}), release: make(chan struct{})}
			e, s := newEngine(t, g, c, engine.Options{Parallel: tc.parallel})

			done := make(chan error, 1)
			go func() { done <- e.Run(context.Background()) }()
			<-c.sent

			err = s.Update(func(g *workflow.Graph) error { return g.ResetNode(m) })
			assert.ErrorIs(t, err, workflow.ErrAlreadyExecuting)
			assert.ErrorIs(t, s.Replace(workflow.New()), workflow.ErrAlreadyExecuting)

			close(c.release)
			require.NoError(t, <-done)

			assert.Equal(t, "Hello", output(t, s, m))
			s.View(func(g *workflow.Graph) {
				n, _ := g.Node(m)
				assert.False(t, n.IsExecuting)
			})
			assert.NoError(t, s.Update(func(g *workflow.Graph) error { return g.ResetNode(m) }))
		})
	}
}

func TestRun_Checkpoint(t *testing.T) {
	var saved []string
	opts := engine.Options{Checkpoint: func(g *workflow.Graph) error {
		data, err := workflow.Marshal(g)
		if err != nil {
			return err
		}
		saved = append(saved, string(data))
		return nil
	}}
	e, _ := newEngine(t, chain(t, "hi"), &echoClient{}, opts)

	require.NoError(t, e.Run(context.Background()))
	require.Len(t, saved, 2)
	assert.True(t, strings.Contains(saved[1], "echo:echo:hi"))
}

func TestSend(t *testing.T) {
	g := workflow.New()
	m := g.AddModelNode(workflow.ProviderOllama, 0, 0)
	require.NoError(t, g.SetModel(m, "echo"))
	c := &echoClient{}
	e, s := newEngine(t, g, c, engine.Options{})

	require.NoError(t, e.Send(context.Background(), m, "ping"))
	require.NoError(t, e.Send(context.Background(), m, "again"))

	assert.Equal(t, "echo:again", output(t, s, m))
	s.View(func(g *workflow.Graph) {
		n, _ := g.Node(m)
		mp, _ := n.Model()
		require.Len(t, mp.Messages, 4)
		assert.Equal(t, workflow.RoleUser, mp.Messages[2].Role)
		assert.Equal(t, "again", mp.Messages[2].Content)
	})
	require.Len(t, c.requests, 2)
	assert.Len(t, c.requests[1].Messages, 3)
}

func TestSend_Errors(t *testing.T) {
	g := workflow.New()
	p := g.AddNode(workflow.KindPrompt, 0, 0)
	m := g.AddModelNode(workflow.ProviderOllama, 300, 0)
	e, s := newEngine(t, g, &echoClient{}, engine.Options{})

	assert.ErrorIs(t, e.Send(context.Background(), 99, "x"), workflow.ErrNodeNotFound)
	assert.ErrorIs(t, e.Send(context.Background(), p, "x"), workflow.ErrNotModelNode)

	require.NoError(t, s.Update(func(g *workflow.Graph) error {
		if err := g.AppendUserMessage(m, "seed"); err != nil {
			return err
		}
		_, err := g.BeginExecution(m)
		return err
	}))
	err := e.Send(context.Background(), m, "x")
	assert.ErrorIs(t, err, workflow.ErrAlreadyExecuting)
	s.View(func(g *workflow.Graph) {
		n, _ := g.Node(m)
		mp, _ := n.Model()
		assert.Len(t, mp.Messages, 1, "rejected send must not append")
	})
}

func TestClients_UnknownProvider(t *testing.T) {
	c := engine.NewClients(nil)
	_, err := c.Client(workflow.Provider("nope"))
	assert.Error(t, err)
}
