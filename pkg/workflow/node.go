package workflow

import (
	"strings"

	"github.com/ravi-parthasarathy/mosaik/pkg/canvas"
)

// Kind identifies what a node does.
type Kind string

const (
	KindPrompt     Kind = "prompt"
	KindFileImport Kind = "file_import"
	KindFileExport Kind = "file_export"
	KindModel      Kind = "model"
)

// Provider names a model backend. The values double as llm registry names.
type Provider string

const (
	ProviderOllama    Provider = "ollama"
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
	ProviderGemini    Provider = "gemini"
)

// providerDefaults holds the node title and initial model name per provider.
var providerDefaults = map[Provider]struct{ title, model string }{
	ProviderOllama:    {"Ollama", ""},
	ProviderAnthropic: {"Anthropic", "claude-sonnet-4-20250514"},
	ProviderOpenAI:    {"OpenAI", "gpt-4o"},
	ProviderGemini:    {"Gemini", "gemini-1.5-flash"},
}

// KnownProvider reports whether p is one of the supported providers.
func KnownProvider(p Provider) bool {
	_, ok := providerDefaults[p]
	return ok
}

// Role is the author of a chat turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ChatMessage is one turn of a model node's conversation.
type ChatMessage struct {
	Role     Role    `json:"role"`
	Content  string  `json:"content"`
	Thinking *string `json:"thinking,omitempty"`
}

// Payload is the kind-specific part of a node. The set of implementations is
// closed: PromptPayload, FileImportPayload, FileExportPayload, ModelPayload.
type Payload interface {
	Kind() Kind
	clone() Payload
	reset()
}

// PromptPayload carries nothing; a prompt's text is its output.
type PromptPayload struct{}

func (*PromptPayload) Kind() Kind     { return KindPrompt }
func (*PromptPayload) clone() Payload { return &PromptPayload{} }
func (*PromptPayload) reset()         {}

// FileImportPayload names the file whose contents become the node's output.
type FileImportPayload struct {
	FilePath *string `json:"file_path,omitempty"`
	FileName *string `json:"file_name,omitempty"`
}

func (*FileImportPayload) Kind() Kind { return KindFileImport }

func (p *FileImportPayload) clone() Payload {
	return &FileImportPayload{FilePath: cloneString(p.FilePath), FileName: cloneString(p.FileName)}
}

func (p *FileImportPayload) reset() {
	p.FilePath = nil
	p.FileName = nil
}

// FileExportPayload names where the node's input is written.
type FileExportPayload struct {
	FolderPath *string `json:"folder_path,omitempty"`
	FileName   *string `json:"file_name,omitempty"`
	FileType   string  `json:"file_type"` // "txt" or "md"
}

func (*FileExportPayload) Kind() Kind { return KindFileExport }

func (p *FileExportPayload) clone() Payload {
	return &FileExportPayload{
		FolderPath: cloneString(p.FolderPath),
		FileName:   cloneString(p.FileName),
		FileType:   p.FileType,
	}
}

func (p *FileExportPayload) reset() {
	p.FolderPath = nil
	p.FileName = nil
	p.FileType = "txt"
}

// ModelPayload configures a model call and holds its chat history.
type ModelPayload struct {
	Provider  Provider      `json:"provider"`
	ModelName string        `json:"model_name"`
	Messages  []ChatMessage `json:"messages,omitempty"`
	Thinking  bool          `json:"thinking"`
}

func (*ModelPayload) Kind() Kind { return KindModel }

func (p *ModelPayload) clone() Payload {
	c := *p
	if p.Messages != nil {
		c.Messages = make([]ChatMessage, len(p.Messages))
		for i, m := range p.Messages {
			m.Thinking = cloneString(m.Thinking)
			c.Messages[i] = m
		}
	}
	return &c
}

func (p *ModelPayload) reset() { p.Messages = nil }

// Node is a vertex of the workflow graph.
type Node struct {
	ID        int
	Title     string
	Payload   Payload
	X, Y      float64
	Width     float64
	Height    float64
	Maximized bool

	// Input is derived from upstream outputs; nil means no upstream output.
	Input  *string
	Output *string

	NeedsExecution bool
	IsExecuting    bool

	dragOffset canvas.Point
}

// Kind returns the node's kind.
func (n *Node) Kind() Kind { return n.Payload.Kind() }

// Model returns the node's model payload when it is a model node.
func (n *Node) Model() (*ModelPayload, bool) {
	p, ok := n.Payload.(*ModelPayload)
	return p, ok
}

// newNode builds a node with the title, size and payload defaults of kind.
func newNode(id int, kind Kind, provider Provider, x, y float64) *Node {
	n := &Node{ID: id, X: x, Y: y, NeedsExecution: true}
	switch kind {
	case KindFileImport:
		n.Title, n.Width, n.Height = "File Import", 200, 150
		n.Payload = &FileImportPayload{}
	case KindFileExport:
		n.Title, n.Width, n.Height = "File Export", 200, 150
		n.Payload = &FileExportPayload{FileType: "txt"}
	case KindModel:
		if _, ok := providerDefaults[provider]; !ok {
			provider = ProviderOllama
		}
		d := providerDefaults[provider]
		n.Title, n.Width, n.Height = d.title, 250, 300
		n.Payload = &ModelPayload{Provider: provider, ModelName: d.model}
	default:
		n.Title, n.Width, n.Height = "Prompt", 200, 200
		n.Payload = &PromptPayload{}
	}
	return n
}

// preparePrompt builds the message list for a model call: the aggregated
// input (when not blank) as a leading user turn, then the stored history.
func (n *Node) preparePrompt() ([]ChatMessage, error) {
	mp, ok := n.Model()
	if !ok {
		return nil, ErrNotModelNode
	}
	var msgs []ChatMessage
	if n.Input != nil && strings.TrimSpace(*n.Input) != "" {
		msgs = append(msgs, ChatMessage{Role: RoleUser, Content: *n.Input})
	}
	for _, m := range mp.Messages {
		m.Thinking = cloneString(m.Thinking)
		msgs = append(msgs, m)
	}
	if len(msgs) == 0 {
		return nil, ErrEmptyPrompt
	}
	return msgs, nil
}

// reset clears the node's output and kind-specific state.
func (n *Node) reset() {
	n.Output = nil
	n.NeedsExecution = true
	n.Payload.reset()
}

func (n *Node) clone() *Node {
	c := *n
	c.Payload = n.Payload.clone()
	c.Input = cloneString(n.Input)
	c.Output = cloneString(n.Output)
	return &c
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func strPtr(s string) *string { return &s }
