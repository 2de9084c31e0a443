package providers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	openai "github.com/sashabaranov/go-openai"

	"github.com/ravi-parthasarathy/mosaik/pkg/llm"
)

const (
	openaiDefaultModel = "gpt-4o"
	// openaiReasoningEffort is sent when thinking is enabled.
	openaiReasoningEffort = "medium"
)

func init() {
	llm.RegisterProvider("openai", func(opts llm.ProviderOptions) (llm.Client, error) {
		return newOpenAIClient(opts)
	})
}

type openaiClient struct {
	sdk *openai.Client
}

func newOpenAIClient(opts llm.ProviderOptions) (*openaiClient, error) {
	key := opts.APIKey
	if key == "" {
		key = os.Getenv("OPENAI_API_KEY")
	}
	if key == "" {
		return nil, fmt.Errorf("openai: OPENAI_API_KEY environment variable not set")
	}
	cfg := openai.DefaultConfig(key)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	if opts.HTTPClient != nil {
		cfg.HTTPClient = opts.HTTPClient
	}
	return &openaiClient{sdk: openai.NewClientWithConfig(cfg)}, nil
}

// Generate streams a chat completion. Content and reasoning deltas become
// chunks; tool calls are not requested.
func (c *openaiClient) Generate(ctx context.Context, req llm.Request) (<-chan llm.StreamEvent, error) {
	params := buildOpenAIRequest(req)

	var stream *openai.ChatCompletionStream
	err := llm.WithRetry(ctx, 4, func() error {
		var innerErr error
		stream, innerErr = c.sdk.CreateChatCompletionStream(ctx, params)
		return mapOpenAIError(innerErr)
	})
	if err != nil {
		return nil, err
	}

	ch := make(chan llm.StreamEvent, llm.StreamBuffer)
	go func() {
		defer close(ch)
		defer func() { _ = stream.Close() }()
		for {
			chunk, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				send(ctx, ch, llm.StreamEvent{Err: mapOpenAIError(err)})
				return
			}
			ev, ok := openaiEvent(chunk)
			if !ok {
				continue
			}
			if !send(ctx, ch, ev) {
				return
			}
		}
	}()
	return ch, nil
}

// Models lists the model ids visible to the key, sorted.
func (c *openaiClient) Models(ctx context.Context) ([]string, error) {
	list, err := c.sdk.ListModels(ctx)
	if err != nil {
		return nil, mapOpenAIError(err)
	}
	names := make([]string, 0, len(list.Models))
	for _, m := range list.Models {
		names = append(names, m.ID)
	}
	sort.Strings(names)
	return names, nil
}

// ─── message conversion ───────────────────────────────────────────────────────

func buildOpenAIRequest(req llm.Request) openai.ChatCompletionRequest {
	model := req.Model
	if model == "" {
		model = openaiDefaultModel
	}
	params := openai.ChatCompletionRequest{
		Model:    model,
		Messages: buildMessages(req.Messages),
		Stream:   true,
	}
	if req.Thinking {
		params.ReasoningEffort = openaiReasoningEffort
	}
	return params
}

// buildMessages converts unified messages to OpenAI's chat completion format.
// Prior thinking is not sent back.
func buildMessages(msgs []llm.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		role := openai.ChatMessageRoleUser
		if m.Role == llm.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		out = append(out, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	return out
}

// openaiEvent maps a stream chunk to an event. Chunks without choices (e.g.
// the trailing usage chunk) or without text are skipped.
func openaiEvent(chunk openai.ChatCompletionStreamResponse) (llm.StreamEvent, bool) {
	if len(chunk.Choices) == 0 {
		return llm.StreamEvent{}, false
	}
	d := chunk.Choices[0].Delta
	ev := llm.StreamEvent{Content: d.Content, Thinking: d.ReasoningContent}
	return ev, ev.Content != "" || ev.Thinking != ""
}

// ─── error mapping ────────────────────────────────────────────────────────────

func mapOpenAIError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		base := llm.LLMError{
			Code:    apiErr.HTTPStatusCode,
			Message: apiErr.Message,
			Cause:   err,
		}
		switch apiErr.HTTPStatusCode {
		case 429:
			return &llm.RateLimitError{LLMError: base}
		case 401, 403:
			return &llm.AuthError{LLMError: base}
		case 400:
			return &llm.ContextLengthError{LLMError: base}
		case 500, 502, 503:
			return &llm.ServerError{LLMError: base}
		default:
			return &base
		}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return llm.StatusError(reqErr.HTTPStatusCode, reqErr.Error(), err)
	}
	return fmt.Errorf("openai: %w", err)
}
