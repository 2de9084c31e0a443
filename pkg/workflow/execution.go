package workflow

import (
	"fmt"
	"strings"
)

// Execution tracks one in-flight model call for a node. It is created by
// BeginExecution and fed back through ApplyChunk and FinishExecution.
type Execution struct {
	NodeID   int
	Provider Provider
	Model    string
	Thinking bool
	Messages []ChatMessage

	graph      *Graph
	started    bool
	turn       int // index of the assistant turn once started
	output     strings.Builder
	prevOutput *string
}

// BeginExecution marks a model node as executing and captures the prompt to
// send: the node's non-blank input as a leading user turn, then its history.
func (g *Graph) BeginExecution(id int) (*Execution, error) {
	n, ok := g.nodes[id]
	if !ok {
		return nil, fmt.Errorf("execute node %d: %w", id, ErrNodeNotFound)
	}
	mp, ok := n.Model()
	if !ok {
		return nil, fmt.Errorf("execute node %d: %w", id, ErrNotModelNode)
	}
	if n.IsExecuting {
		return nil, fmt.Errorf("execute node %d: %w", id, ErrAlreadyExecuting)
	}
	msgs, err := n.preparePrompt()
	if err != nil {
		return nil, fmt.Errorf("execute node %d: %w", id, err)
	}
	n.IsExecuting = true
	return &Execution{
		graph:      g,
		NodeID:     id,
		Provider:   mp.Provider,
		Model:      mp.ModelName,
		Thinking:   mp.Thinking,
		Messages:   msgs,
		prevOutput: cloneString(n.Output),
	}, nil
}

// target resolves the node x is streaming into. It fails when the node was
// removed, or when g is not the graph the call started on.
func (g *Graph) target(x *Execution) (*Node, *ModelPayload, bool) {
	if x.graph != g {
		return nil, nil, false
	}
	n, ok := g.nodes[x.NodeID]
	if !ok {
		return nil, nil, false
	}
	mp, ok := n.Model()
	return n, mp, ok
}

// ownTurn reports whether the assistant turn opened by x is still in place.
func (x *Execution) ownTurn(mp *ModelPayload) bool {
	return x.started && x.turn < len(mp.Messages) && mp.Messages[x.turn].Role == RoleAssistant
}

// ApplyChunk folds one streamed fragment into the node. The first chunk opens
// a new assistant turn. The running output is published on every chunk so
// downstream inputs follow the stream. It reports false, dropping the chunk,
// when the node has been removed, the graph was replaced, or the turn is gone.
func (g *Graph) ApplyChunk(x *Execution, content, thinking string) bool {
	n, mp, ok := g.target(x)
	if !ok || !n.IsExecuting {
		return false
	}
	if !x.started {
		mp.Messages = append(mp.Messages, ChatMessage{Role: RoleAssistant})
		x.turn = len(mp.Messages) - 1
		x.started = true
	}
	if !x.ownTurn(mp) {
		return false
	}
	turn := &mp.Messages[x.turn]
	if thinking != "" {
		if turn.Thinking == nil {
			turn.Thinking = strPtr(thinking)
		} else {
			*turn.Thinking += thinking
		}
	}
	if content != "" {
		turn.Content += content
		x.output.WriteString(content)
	}
	n.Output = strPtr(x.output.String())
	g.propagate(n.ID)
	return true
}

// FinishExecution ends the call. On success the node is up to date. On
// failure any assistant turn this call added is dropped and the previous
// output restored, leaving the node marked for execution.
func (g *Graph) FinishExecution(x *Execution, err error) {
	n, mp, ok := g.target(x)
	if !ok {
		return
	}
	n.IsExecuting = false
	if err == nil {
		n.NeedsExecution = false
		return
	}
	n.NeedsExecution = true
	if !x.started {
		return
	}
	if x.ownTurn(mp) {
		mp.Messages = mp.Messages[:x.turn]
		if len(mp.Messages) == 0 {
			mp.Messages = nil
		}
	}
	n.Output = cloneString(x.prevOutput)
	g.propagate(n.ID)
}

// Output returns what the call has streamed so far.
func (x *Execution) Output() string { return x.output.String() }
