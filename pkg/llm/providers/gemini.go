package providers

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/ravi-parthasarathy/mosaik/pkg/llm"
)

const geminiDefaultModel = "gemini-1.5-flash"

func init() {
	llm.RegisterProvider("gemini", func(opts llm.ProviderOptions) (llm.Client, error) {
		return newGeminiClient(opts)
	})
}

type geminiClient struct {
	sdk *genai.Client
}

func newGeminiClient(opts llm.ProviderOptions) (*geminiClient, error) {
	key := opts.APIKey
	if key == "" {
		key = os.Getenv("GEMINI_API_KEY")
	}
	if key == "" {
		return nil, fmt.Errorf("gemini: GEMINI_API_KEY environment variable not set")
	}
	clientOpts := []option.ClientOption{option.WithAPIKey(key)}
	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithEndpoint(opts.BaseURL))
	}
	// genai.NewClient requires a context; use Background for construction.
	sdk, err := genai.NewClient(context.Background(), clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	return &geminiClient{sdk: sdk}, nil
}

// Generate streams a chat turn. Earlier messages become the chat history and
// the last one is sent. Thought parts are not surfaced.
func (c *geminiClient) Generate(ctx context.Context, req llm.Request) (<-chan llm.StreamEvent, error) {
	name := req.Model
	if name == "" {
		name = geminiDefaultModel
	}
	history, last := buildContents(req.Messages)
	if last == nil {
		return nil, fmt.Errorf("gemini: no message to send")
	}

	var (
		iter  *genai.GenerateContentResponseIterator
		first *genai.GenerateContentResponse
		done  bool
	)
	err := llm.WithRetry(ctx, 4, func() error {
		cs := c.sdk.GenerativeModel(name).StartChat()
		cs.History = history
		iter = cs.SendMessageStream(ctx, last.Parts...)
		resp, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			done = true
			return nil
		}
		if err != nil {
			return mapGeminiError(err)
		}
		first = resp
		return nil
	})
	if err != nil {
		return nil, err
	}

	ch := make(chan llm.StreamEvent, llm.StreamBuffer)
	go func() {
		defer close(ch)
		for resp := first; !done; {
			if ev, ok := geminiEvent(resp); ok {
				if !send(ctx, ch, ev) {
					return
				}
			}
			next, err := iter.Next()
			if errors.Is(err, iterator.Done) {
				return
			}
			if err != nil {
				send(ctx, ch, llm.StreamEvent{Err: mapGeminiError(err)})
				return
			}
			resp = next
		}
	}()
	return ch, nil
}

// Models lists the generative models, without the "models/" prefix.
func (c *geminiClient) Models(ctx context.Context) ([]string, error) {
	it := c.sdk.ListModels(ctx)
	var names []string
	for {
		m, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return names, nil
		}
		if err != nil {
			return nil, mapGeminiError(err)
		}
		names = append(names, strings.TrimPrefix(m.Name, "models/"))
	}
}

// ─── message translation ─────────────────────────────────────────────────────

// buildContents translates unified messages into Gemini's format.
// History contains all messages except the last one; the last message
// is returned separately for use with cs.SendMessageStream().
func buildContents(msgs []llm.Message) ([]*genai.Content, *genai.Content) {
	var contents []*genai.Content
	for _, m := range msgs {
		if m.Content == "" {
			continue
		}
		role := "user"
		if m.Role == llm.RoleAssistant {
			role = "model"
		}
		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []genai.Part{genai.Text(m.Content)},
		})
	}
	if len(contents) == 0 {
		return nil, nil
	}
	return contents[:len(contents)-1], contents[len(contents)-1]
}

// ─── response conversion ─────────────────────────────────────────────────────

func geminiEvent(resp *genai.GenerateContentResponse) (llm.StreamEvent, bool) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return llm.StreamEvent{}, false
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			sb.WriteString(string(t))
		}
	}
	return llm.StreamEvent{Content: sb.String()}, sb.Len() > 0
}

// ─── error mapping ────────────────────────────────────────────────────────────

func mapGeminiError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		base := llm.LLMError{
			Code:    apiErr.Code,
			Message: apiErr.Message,
			Cause:   err,
		}
		switch apiErr.Code {
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
	return fmt.Errorf("gemini: %w", err)
}
