package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"

	"github.com/ravi-parthasarathy/mosaik/pkg/llm"
)

func sseEvent(w http.ResponseWriter, name, data string) {
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
}

func TestAnthropic_Generate(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("X-Api-Key"); got != "test-key" {
			t.Errorf("x-api-key = %q", got)
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "text/event-stream")
		sseEvent(w, "message_start", `{"type":"message_start","message":{"id":"m1","type":"message","role":"assistant","content":[],"model":"claude-sonnet-4-20250514","usage":{"input_tokens":1,"output_tokens":0}}}`)
		sseEvent(w, "content_block_start", `{"type":"content_block_start","index":0,"content_block":{"type":"thinking","thinking":""}}`)
		sseEvent(w, "content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"thinking_delta","thinking":"t1"}}`)
		fmt.Fprint(w, ": ping\n\n")
		sseEvent(w, "content_block_delta", `{"type":"content_block_delta","index":1,"delta":{"type":"text_delta","text":"Hel"}}`)
		sseEvent(w, "content_block_delta", `{"type":"content_block_delta","index":1,"delta":{"type":"text_delta","text":"lo"}}`)
		sseEvent(w, "message_stop", `{"type":"message_stop"}`)
	}))
	defer srv.Close()

	c := newAnthropicClient(llm.ProviderOptions{BaseURL: srv.URL, APIKey: "test-key"})
	ch, err := c.Generate(context.Background(), llm.Request{
		Messages: []llm.Message{llm.TextMessage(llm.RoleUser, "hi")},
		Thinking: true,
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	content, thinking, err := llm.CollectStream(ch)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if content != "Hello" || thinking != "t1" {
		t.Errorf("got (%q, %q), want (Hello, t1)", content, thinking)
	}

	if body["model"] != anthropicDefaultModel {
		t.Errorf("model = %v", body["model"])
	}
	if body["max_tokens"] != float64(anthropicMaxTokens) {
		t.Errorf("max_tokens = %v", body["max_tokens"])
	}
	if body["stream"] != true {
		t.Errorf("stream = %v", body["stream"])
	}
	th, _ := body["thinking"].(map[string]any)
	if th["type"] != "enabled" || th["budget_tokens"] != float64(anthropicThinkingBudget) {
		t.Errorf("thinking = %v", body["thinking"])
	}
}

func TestAnthropic_AuthError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"type":"error","error":{"type":"authentication_error","message":"invalid x-api-key"}}`)
	}))
	defer srv.Close()

	c := newAnthropicClient(llm.ProviderOptions{BaseURL: srv.URL, APIKey: "bad"})
	_, err := c.Generate(context.Background(), llm.Request{
		Messages: []llm.Message{llm.TextMessage(llm.RoleUser, "hi")},
	})
	var auth *llm.AuthError
	if !errors.As(err, &auth) {
		t.Fatalf("err = %v, want *llm.AuthError", err)
	}
}

func TestBuildAnthropicParams(t *testing.T) {
	p := buildAnthropicParams(llm.Request{
		Model: "claude-3-5-haiku-20241022",
		Messages: []llm.Message{
			llm.TextMessage(llm.RoleUser, "question"),
			{Role: llm.RoleAssistant, Content: "answer", Thinking: "pondering"},
			llm.TextMessage(llm.RoleUser, "   "),
		},
	})
	if string(p.Model) != "claude-3-5-haiku-20241022" {
		t.Errorf("model = %q", p.Model)
	}
	if len(p.Messages) != 2 {
		t.Fatalf("messages = %d, want 2 (blank turn dropped)", len(p.Messages))
	}
	if p.Messages[1].Role != anthropicsdk.MessageParamRoleAssistant {
		t.Errorf("second role = %q", p.Messages[1].Role)
	}
	if p.Thinking.OfEnabled != nil {
		t.Error("thinking enabled without being requested")
	}
}

func TestAnthropicEvent(t *testing.T) {
	tests := []struct {
		raw  string
		want llm.StreamEvent
		ok   bool
	}{
		{`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"x"}}`, llm.StreamEvent{Content: "x"}, true},
		{`{"type":"content_block_delta","index":0,"delta":{"type":"thinking_delta","thinking":"y"}}`, llm.StreamEvent{Thinking: "y"}, true},
		{`{"type":"content_block_delta","index":0,"delta":{"type":"signature_delta","signature":"s"}}`, llm.StreamEvent{}, false},
		{`{"type":"message_stop"}`, llm.StreamEvent{}, false},
	}
	for _, tt := range tests {
		var ev anthropicsdk.MessageStreamEventUnion
		if err := json.Unmarshal([]byte(tt.raw), &ev); err != nil {
			t.Fatalf("unmarshal %s: %v", tt.raw, err)
		}
		got, ok := anthropicEvent(ev)
		if got != tt.want || ok != tt.ok {
			t.Errorf("%s: got (%+v, %v), want (%+v, %v)", tt.raw, got, ok, tt.want, tt.ok)
		}
	}
}
