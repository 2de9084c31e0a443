// Package providers registers LLM provider adapters.
// Import this package with a blank identifier to activate all providers:
//
//	import _ "github.com/ravi-parthasarathy/mosaik/pkg/llm/providers"
package providers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/ravi-parthasarathy/mosaik/pkg/llm"
)

const (
	anthropicDefaultModel   = "claude-sonnet-4-20250514"
	anthropicMaxTokens      = 32000
	anthropicThinkingBudget = 2000
)

// knownAnthropicModels is offered when the model listing endpoint is unavailable.
var knownAnthropicModels = []string{
	"claude-opus-4-20250514",
	"claude-sonnet-4-20250514",
	"claude-3-7-sonnet-20250219",
	"claude-3-5-haiku-20241022",
}

func init() {
	llm.RegisterProvider("anthropic", func(opts llm.ProviderOptions) (llm.Client, error) {
		return newAnthropicClient(opts), nil
	})
}

type anthropicClient struct {
	sdk anthropicsdk.Client
}

func newAnthropicClient(opts llm.ProviderOptions) *anthropicClient {
	// Without an explicit key the SDK reads ANTHROPIC_API_KEY.
	var reqOpts []option.RequestOption
	if opts.APIKey != "" {
		reqOpts = append(reqOpts, option.WithAPIKey(opts.APIKey))
	}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	if opts.HTTPClient != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(opts.HTTPClient))
	}
	return &anthropicClient{sdk: anthropicsdk.NewClient(reqOpts...)}
}

// Generate opens a Messages stream. The first event is read before returning
// so that request-level failures surface as an error, with retry on
// transient ones.
func (a *anthropicClient) Generate(ctx context.Context, req llm.Request) (<-chan llm.StreamEvent, error) {
	params := buildAnthropicParams(req)

	var (
		stream *ssestream.Stream[anthropicsdk.MessageStreamEventUnion]
		more   bool
	)
	err := llm.WithRetry(ctx, 4, func() error {
		stream = a.sdk.Messages.NewStreaming(ctx, params)
		more = stream.Next()
		if !more {
			if err := stream.Err(); err != nil {
				_ = stream.Close()
				return mapError(err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	ch := make(chan llm.StreamEvent, llm.StreamBuffer)
	go func() {
		defer close(ch)
		defer func() { _ = stream.Close() }()
		for ; more; more = stream.Next() {
			ev, ok := anthropicEvent(stream.Current())
			if !ok {
				continue
			}
			if !send(ctx, ch, ev) {
				return
			}
		}
		if err := stream.Err(); err != nil {
			send(ctx, ch, llm.StreamEvent{Err: mapError(err)})
		}
	}()
	return ch, nil
}

// Models lists the models the API key can use, falling back to a built-in
// list when the listing call fails.
func (a *anthropicClient) Models(ctx context.Context) ([]string, error) {
	pager := a.sdk.Models.ListAutoPaging(ctx, anthropicsdk.ModelListParams{})
	var names []string
	for pager.Next() {
		names = append(names, pager.Current().ID)
	}
	if err := pager.Err(); err != nil {
		slog.Debug("anthropic model listing failed, using built-in list", "error", err)
		return append([]string(nil), knownAnthropicModels...), nil
	}
	return names, nil
}

// ─── request / event conversion ───────────────────────────────────────────────

func buildAnthropicParams(req llm.Request) anthropicsdk.MessageNewParams {
	model := req.Model
	if model == "" {
		model = anthropicDefaultModel
	}
	msgs := make([]anthropicsdk.MessageParam, 0, len(req.Messages))
	for _, m := range req.Messages {
		// The API rejects empty text blocks.
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		block := anthropicsdk.NewTextBlock(m.Content)
		switch m.Role {
		case llm.RoleUser:
			msgs = append(msgs, anthropicsdk.NewUserMessage(block))
		case llm.RoleAssistant:
			msgs = append(msgs, anthropicsdk.NewAssistantMessage(block))
		}
	}
	params := anthropicsdk.MessageNewParams{
		Model:     anthropicsdk.Model(model),
		MaxTokens: anthropicMaxTokens,
		Messages:  msgs,
	}
	if req.Thinking {
		params.Thinking = anthropicsdk.ThinkingConfigParamUnion{
			OfEnabled: &anthropicsdk.ThinkingConfigEnabledParam{BudgetTokens: anthropicThinkingBudget},
		}
	}
	return params
}

// anthropicEvent maps a stream event to a chunk. Only text and thinking
// deltas carry anything; everything else is skipped.
func anthropicEvent(ev anthropicsdk.MessageStreamEventUnion) (llm.StreamEvent, bool) {
	delta, ok := ev.AsAny().(anthropicsdk.ContentBlockDeltaEvent)
	if !ok {
		return llm.StreamEvent{}, false
	}
	switch d := delta.Delta.AsAny().(type) {
	case anthropicsdk.TextDelta:
		return llm.StreamEvent{Content: d.Text}, d.Text != ""
	case anthropicsdk.ThinkingDelta:
		return llm.StreamEvent{Thinking: d.Thinking}, d.Thinking != ""
	}
	return llm.StreamEvent{}, false
}

func mapError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *anthropicsdk.Error
	if errors.As(err, &apiErr) {
		base := llm.LLMError{Code: apiErr.StatusCode, Message: apiErr.Error(), Cause: err}
		switch apiErr.StatusCode {
		case 429:
			return &llm.RateLimitError{LLMError: base}
		case 401, 403:
			return &llm.AuthError{LLMError: base}
		case 400:
			return &llm.ContextLengthError{LLMError: base}
		case 500, 502, 503, 529:
			return &llm.ServerError{LLMError: base}
		}
		return &base
	}
	return fmt.Errorf("anthropic: %w", err)
}

// send delivers ev unless ctx is done first.
func send(ctx context.Context, ch chan<- llm.StreamEvent, ev llm.StreamEvent) bool {
	select {
	case ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
