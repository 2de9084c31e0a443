package llm_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/ravi-parthasarathy/mosaik/pkg/llm"
)

func TestParseModelID(t *testing.T) {
	tests := []struct {
		input        string
		wantProvider string
		wantModel    string
		wantErr      bool
	}{
		{"anthropic:claude-sonnet-4-20250514", "anthropic", "claude-sonnet-4-20250514", false},
		{"ollama:llama3.2:latest", "ollama", "llama3.2:latest", false},
		{"invalid", "", "", true},
		{":", "", "", true},
		{":model", "", "", true},
		{"provider:", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			prov, model, err := llm.ParseModelID(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseModelID(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if prov != tt.wantProvider {
				t.Errorf("provider = %q, want %q", prov, tt.wantProvider)
			}
			if model != tt.wantModel {
				t.Errorf("model = %q, want %q", model, tt.wantModel)
			}
		})
	}
}

func TestNewClient_UnknownProvider(t *testing.T) {
	_, err := llm.NewClient("unknown_provider", llm.ProviderOptions{})
	if err == nil {
		t.Fatal("expected error for unknown provider, got nil")
	}
}

type stubClient struct{}

func (stubClient) Generate(context.Context, llm.Request) (<-chan llm.StreamEvent, error) {
	return nil, nil
}
func (stubClient) Models(context.Context) ([]string, error) { return []string{"a"}, nil }

func TestRegisterProvider(t *testing.T) {
	var got llm.ProviderOptions
	llm.RegisterProvider("stub", func(opts llm.ProviderOptions) (llm.Client, error) {
		got = opts
		return stubClient{}, nil
	})
	if _, err := llm.NewClient("stub", llm.ProviderOptions{BaseURL: "http://x"}); err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if got.BaseURL != "http://x" {
		t.Errorf("factory saw BaseURL %q", got.BaseURL)
	}
	found := false
	for _, p := range llm.Providers() {
		found = found || p == "stub"
	}
	if !found {
		t.Errorf("Providers() = %v, missing stub", llm.Providers())
	}
}

func TestRetryable(t *testing.T) {
	base := func(msg string) llm.LLMError { return llm.LLMError{Message: msg} }
	tests := []struct {
		err      error
		wantTrue bool
	}{
		{&llm.RateLimitError{LLMError: base("rate limit")}, true},
		{&llm.ServerError{LLMError: base("5xx")}, true},
		{&llm.AuthError{LLMError: base("auth")}, false},
		{&llm.ContextLengthError{LLMError: base("ctx")}, false},
		{&llm.ContentFilterError{LLMError: base("filter")}, false},
	}
	for _, tt := range tests {
		got := llm.Retryable(tt.err)
		if got != tt.wantTrue {
			t.Errorf("Retryable(%T) = %v, want %v", tt.err, got, tt.wantTrue)
		}
	}
}

func TestStatusError(t *testing.T) {
	var auth *llm.AuthError
	if err := llm.StatusError(401, "bad key", nil); !errors.As(err, &auth) {
		t.Errorf("401 -> %T, want *AuthError", err)
	}
	var rl *llm.RateLimitError
	if err := llm.StatusError(429, "slow down", nil); !errors.As(err, &rl) {
		t.Errorf("429 -> %T, want *RateLimitError", err)
	}
	var se *llm.ServerError
	if err := llm.StatusError(503, "down", nil); !errors.As(err, &se) {
		t.Errorf("503 -> %T, want *ServerError", err)
	}
	var base *llm.LLMError
	err := llm.StatusError(404, "no such model", nil)
	if !errors.As(err, &base) || base.Code != 404 {
		t.Errorf("404 -> %v, want *LLMError with code 404", err)
	}
}

func TestAsLLMError(t *testing.T) {
	wrapped := fmt.Errorf("node 3: %w", llm.StatusError(401, "bad key", nil))
	e, ok := llm.AsLLMError(wrapped)
	if !ok {
		t.Fatal("expected an LLMError")
	}
	if e.Code != 401 || e.Message != "bad key" {
		t.Errorf("got %d %q", e.Code, e.Message)
	}
	if _, ok := llm.AsLLMError(llm.StatusError(400, "bad request", nil)); !ok {
		t.Error("base LLMError not found")
	}
	if _, ok := llm.AsLLMError(errors.New("plain")); ok {
		t.Error("plain error reported as LLMError")
	}
}

func TestCollectStream(t *testing.T) {
	ch := make(chan llm.StreamEvent, llm.StreamBuffer)
	ch <- llm.StreamEvent{Thinking: "hmm"}
	ch <- llm.StreamEvent{Content: "Hel"}
	ch <- llm.StreamEvent{Content: "lo"}
	ch <- llm.StreamEvent{Err: io.ErrUnexpectedEOF}
	close(ch)

	content, thinking, err := llm.CollectStream(ch)
	if content != "Hello" || thinking != "hmm" {
		t.Errorf("got (%q, %q), want (Hello, hmm)", content, thinking)
	}
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("err = %v, want ErrUnexpectedEOF", err)
	}
}

func readAll(t *testing.T, lr *llm.LineReader) []string {
	t.Helper()
	var out []string
	for {
		line, err := lr.Next()
		if errors.Is(err, io.EOF) {
			return out
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		out = append(out, line)
	}
}

func TestLineReader_PartialReads(t *testing.T) {
	body := "{\"a\":1}\n\n  {\"b\":2}  \n{\"c\":3}"
	// OneByteReader delivers the body one byte per Read, splitting every line.
	lr := llm.NewLineReader(iotest.OneByteReader(strings.NewReader(body)))
	got := readAll(t, lr)
	want := []string{`{"a":1}`, `{"b":2}`, `{"c":3}`}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("lines = %q, want %q", got, want)
	}
}

func TestSSEReader(t *testing.T) {
	body := strings.Join([]string{
		": keep-alive",
		"event: content_block_delta",
		`data: {"x":1}`,
		"",
		"data:{\"x\":2}",
		"id: 7",
		"data: [DONE]",
		`data: {"x":3}`,
	}, "\n")
	got := readAll(t, llm.NewSSEReader(iotest.HalfReader(strings.NewReader(body))))
	want := []string{`{"x":1}`, `{"x":2}`}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("data = %q, want %q", got, want)
	}
}
