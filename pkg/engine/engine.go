// Package engine runs the model nodes of a workflow against their providers,
// streaming each reply back into the graph as it arrives.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ravi-parthasarathy/mosaik/pkg/llm"
	"github.com/ravi-parthasarathy/mosaik/pkg/workflow"
)

// NodeError reports the failure of one node during a run.
type NodeError struct {
	NodeID int
	Err    error
}

func (e *NodeError) Error() string { return fmt.Sprintf("node %d: %v", e.NodeID, e.Err) }

func (e *NodeError) Unwrap() error { return e.Err }

// Options tunes an Engine.
type Options struct {
	// Parallel runs the nodes of each dependency tier concurrently. By
	// default nodes run one at a time.
	Parallel bool
	// Checkpoint, if set, receives a snapshot of the graph after every node.
	Checkpoint func(g *workflow.Graph) error
}

// Engine executes model nodes held in a Store.
type Engine struct {
	store   *workflow.Store
	clients Resolver
	opts    Options
}

// New creates an Engine.
func New(store *workflow.Store, clients Resolver, opts Options) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("workflow store must not be nil")
	}
	if clients == nil {
		return nil, fmt.Errorf("client resolver must not be nil")
	}
	return &Engine{store: store, clients: clients, opts: opts}, nil
}

// Run executes every model node that needs it, in dependency order. A node
// that fails is reported and the run moves on; the returned error joins the
// NodeErrors of all failed nodes. Cancelling ctx stops the run before the
// next node starts.
func (e *Engine) Run(ctx context.Context) error {
	var tiers [][]int
	e.store.View(func(g *workflow.Graph) {
		if e.opts.Parallel {
			tiers = g.ExecutionTiers()
			return
		}
		for _, id := range g.ExecutionOrder() {
			tiers = append(tiers, []int{id})
		}
	})
	slog.Info("run starting", "tiers", len(tiers), "parallel", e.opts.Parallel)

	var (
		mu   sync.Mutex
		errs []error
	)
	fail := func(id int, err error) {
		slog.Warn("node failed", "node", id, "error", err)
		mu.Lock()
		errs = append(errs, &NodeError{NodeID: id, Err: err})
		mu.Unlock()
	}

	for _, tier := range tiers {
		// Respect context cancellation between nodes.
		if err := ctx.Err(); err != nil {
			errs = append(errs, fmt.Errorf("run cancelled before node %d: %w", tier[0], err))
			break
		}

		if len(tier) == 1 {
			if err := e.execute(ctx, tier[0]); err != nil {
				fail(tier[0], err)
			}
			continue
		}

		var wg sync.WaitGroup
		for _, id := range tier {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := e.execute(ctx, id); err != nil {
					fail(id, err)
				}
			}()
		}
		wg.Wait()
	}

	slog.Info("run complete", "failed", len(errs))
	return errors.Join(errs...)
}

// Send appends a user turn to a model node and executes it immediately. It
// may run while Run is executing other nodes.
func (e *Engine) Send(ctx context.Context, nodeID int, text string) error {
	var x *workflow.Execution
	err := e.store.Update(func(g *workflow.Graph) error {
		n, ok := g.Node(nodeID)
		if !ok {
			return workflow.ErrNodeNotFound
		}
		if n.IsExecuting {
			return workflow.ErrAlreadyExecuting
		}
		if err := g.AppendUserMessage(nodeID, text); err != nil {
			return err
		}
		var err error
		x, err = g.BeginExecution(nodeID)
		return err
	})
	if err != nil {
		return &NodeError{NodeID: nodeID, Err: err}
	}
	if err := e.finish(ctx, x); err != nil {
		return &NodeError{NodeID: nodeID, Err: err}
	}
	return nil
}

// execute drives one node through begin, stream and finish.
func (e *Engine) execute(ctx context.Context, id int) error {
	var x *workflow.Execution
	err := e.store.Update(func(g *workflow.Graph) error {
		var err error
		x, err = g.BeginExecution(id)
		return err
	})
	if err != nil {
		return err
	}
	return e.finish(ctx, x)
}

func (e *Engine) finish(ctx context.Context, x *workflow.Execution) error {
	slog.Info("executing node", "node", x.NodeID, "provider", x.Provider, "model", x.Model)

	streamErr := e.stream(ctx, x)
	_ = e.store.Update(func(g *workflow.Graph) error {
		g.FinishExecution(x, streamErr)
		return nil
	})
	if streamErr != nil {
		return streamErr
	}
	slog.Info("node complete", "node", x.NodeID, "output_len", len(x.Output()))

	if e.opts.Checkpoint != nil {
		if err := e.opts.Checkpoint(e.store.Snapshot()); err != nil {
			return fmt.Errorf("save checkpoint: %w", err)
		}
	}
	return nil
}

// stream calls the provider and applies each chunk as its own store update.
func (e *Engine) stream(ctx context.Context, x *workflow.Execution) error {
	client, err := e.clients.Client(x.Provider)
	if err != nil {
		return err
	}
	ch, err := client.Generate(ctx, llm.Request{
		Model:    x.Model,
		Messages: toLLMMessages(x.Messages),
		Thinking: x.Thinking,
	})
	if err != nil {
		return err
	}

	var streamErr error
	for ev := range ch {
		if ev.Err != nil {
			streamErr = ev.Err
			continue
		}
		var alive bool
		_ = e.store.Update(func(g *workflow.Graph) error {
			alive = g.ApplyChunk(x, ev.Content, ev.Thinking)
			return nil
		})
		if !alive {
			slog.Debug("dropping chunk for detached node", "node", x.NodeID)
		}
	}
	if streamErr != nil {
		return streamErr
	}
	// Providers stop quietly on cancellation; a cut-off reply is a failure.
	return ctx.Err()
}

func toLLMMessages(msgs []workflow.ChatMessage) []llm.Message {
	out := make([]llm.Message, 0, len(msgs))
	for _, m := range msgs {
		lm := llm.TextMessage(llm.Role(m.Role), m.Content)
		if m.Thinking != nil {
			lm.Thinking = *m.Thinking
		}
		out = append(out, lm)
	}
	return out
}
