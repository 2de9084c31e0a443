package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/ravi-parthasarathy/mosaik/pkg/llm"
)

const ollamaDefaultURL = "http://localhost:11434"

// maxErrorBody caps how much of a failed response is read into the error.
const maxErrorBody = 64 * 1024

func init() {
	llm.RegisterProvider("ollama", func(opts llm.ProviderOptions) (llm.Client, error) {
		return newOllamaClient(opts), nil
	})
}

// ollamaClient talks to a local Ollama server. It needs no credentials.
type ollamaClient struct {
	baseURL string
	http    *http.Client
}

func newOllamaClient(opts llm.ProviderOptions) *ollamaClient {
	base := opts.BaseURL
	if base == "" {
		base = os.Getenv("OLLAMA_HOST")
	}
	if base == "" {
		base = ollamaDefaultURL
	}
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	return &ollamaClient{baseURL: strings.TrimRight(base, "/"), http: hc}
}

type ollamaMessage struct {
	Role     string `json:"role"`
	Content  string `json:"content"`
	Thinking string `json:"thinking,omitempty"`
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Think    *bool           `json:"think,omitempty"`
}

type ollamaChatChunk struct {
	Message struct {
		Content  string `json:"content"`
		Thinking string `json:"thinking"`
	} `json:"message"`
	Done  bool   `json:"done"`
	Error string `json:"error"`
}

// Generate posts to /api/chat with streaming on and reads the NDJSON reply.
// Without a model name the first installed model is used.
func (c *ollamaClient) Generate(ctx context.Context, req llm.Request) (<-chan llm.StreamEvent, error) {
	model := req.Model
	if model == "" {
		models, err := c.Models(ctx)
		if err != nil {
			return nil, err
		}
		if len(models) == 0 {
			return nil, fmt.Errorf("ollama: no model selected and none installed")
		}
		model = models[0]
	}

	body := ollamaChatRequest{Model: model, Messages: buildOllamaMessages(req.Messages), Stream: true}
	if req.Thinking {
		think := true
		body.Think = &think
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("ollama: marshal request: %w", err)
	}

	var resp *http.Response
	err = llm.WithRetry(ctx, 3, func() error {
		var innerErr error
		resp, innerErr = c.post(ctx, "/api/chat", payload)
		return innerErr
	})
	if err != nil {
		return nil, err
	}

	ch := make(chan llm.StreamEvent, llm.StreamBuffer)
	go func() {
		defer close(ch)
		defer resp.Body.Close()
		lr := llm.NewLineReader(resp.Body)
		for {
			line, err := lr.Next()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				send(ctx, ch, llm.StreamEvent{Err: &llm.LLMError{Message: "ollama stream", Cause: err}})
				return
			}
			ev, done, err := parseOllamaLine(line)
			if err != nil {
				send(ctx, ch, llm.StreamEvent{Err: err})
				return
			}
			if ev.Content != "" || ev.Thinking != "" {
				if !send(ctx, ch, ev) {
					return
				}
			}
			if done {
				return
			}
		}
	}()
	return ch, nil
}

// parseOllamaLine decodes one NDJSON line. Lines that are not valid JSON are
// dropped. An "error" field ends the stream with an error.
func parseOllamaLine(line string) (ev llm.StreamEvent, done bool, err error) {
	var chunk ollamaChatChunk
	if jsonErr := json.Unmarshal([]byte(line), &chunk); jsonErr != nil {
		slog.Debug("dropping malformed ollama line", "line", line, "error", jsonErr)
		return llm.StreamEvent{}, false, nil
	}
	if chunk.Error != "" {
		return llm.StreamEvent{}, true, &llm.LLMError{Message: "ollama: " + chunk.Error}
	}
	ev = llm.StreamEvent{Content: chunk.Message.Content, Thinking: chunk.Message.Thinking}
	return ev, chunk.Done, nil
}

func (c *ollamaClient) post(ctx context.Context, path string, payload []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("ollama: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

func (c *ollamaClient) do(req *http.Request) (*http.Response, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &llm.LLMError{Message: "ollama request failed", Cause: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, llm.StatusError(resp.StatusCode, "ollama: "+strings.TrimSpace(string(msg)), nil)
	}
	return resp, nil
}

// Models lists the locally installed models via /api/tags.
func (c *ollamaClient) Models(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("ollama: build request: %w", err)
	}
	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var tags struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, fmt.Errorf("ollama: decode tags: %w", err)
	}
	names := make([]string, 0, len(tags.Models))
	for _, m := range tags.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

func buildOllamaMessages(msgs []llm.Message) []ollamaMessage {
	out := make([]ollamaMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, ollamaMessage{Role: string(m.Role), Content: m.Content, Thinking: m.Thinking})
	}
	return out
}
