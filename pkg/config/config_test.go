package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ravi-parthasarathy/mosaik/pkg/workflow"
)

func TestParse(t *testing.T) {
	src := `
log_level    = "debug"
log_format   = "json"
workflow_dir = "/tmp/wf"
parallel     = true

provider "ollama" {
  base_url = "http://gpu:11434"
}

provider "anthropic" {
  default_model = "claude-3-5-haiku-latest"
  api_key_env   = "MOSAIK_TEST_KEY"
}
`
	c, err := Parse([]byte(src), "test.hcl")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if c.LogLevel != "debug" || c.LogFormat != "json" {
		t.Errorf("log = %q/%q, want debug/json", c.LogLevel, c.LogFormat)
	}
	if c.WorkflowDir != "/tmp/wf" {
		t.Errorf("WorkflowDir = %q", c.WorkflowDir)
	}
	if !c.Parallel {
		t.Error("Parallel = false, want true")
	}
	if c.Listen != "127.0.0.1:7777" {
		t.Errorf("Listen = %q, want default", c.Listen)
	}
	if got := c.DefaultModel(workflow.ProviderAnthropic); got != "claude-3-5-haiku-latest" {
		t.Errorf("DefaultModel(anthropic) = %q", got)
	}
	if got := c.DefaultModel(workflow.ProviderOpenAI); got != "" {
		t.Errorf("DefaultModel(openai) = %q, want empty", got)
	}

	t.Setenv("MOSAIK_TEST_KEY", "sk-test")
	opts := c.ProviderOptions()
	if opts[workflow.ProviderOllama].BaseURL != "http://gpu:11434" {
		t.Errorf("ollama base = %q", opts[workflow.ProviderOllama].BaseURL)
	}
	if opts[workflow.ProviderAnthropic].APIKey != "sk-test" {
		t.Errorf("anthropic key = %q", opts[workflow.ProviderAnthropic].APIKey)
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name, src, want string
	}{
		{"syntax", `log_level = `, "parse"},
		{"unknown attribute", `colour = "red"`, "decode"},
		{"bad level", `log_level = "loud"`, "unknown log level"},
		{"bad format", `log_format = "xml"`, "log_format"},
		{"unknown provider", `provider "mistral" {}`, "unknown provider"},
		{"duplicate provider", "provider \"ollama\" {}\nprovider \"ollama\" {}", "twice"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.src), "bad.hcl")
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FileName)
	if err := os.WriteFile(path, []byte(`listen = ":9000"`), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Listen != ":9000" {
		t.Errorf("Listen = %q", c.Listen)
	}

	if _, err := Load(filepath.Join(dir, "missing.hcl")); err == nil {
		t.Error("explicit missing path should fail")
	}
}

func TestLoad_MissingDefaultFile(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("HOME", t.TempDir())
	c, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.LogLevel != "info" || c.LogFormat != "text" {
		t.Errorf("defaults = %q/%q", c.LogLevel, c.LogFormat)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if err != nil || got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, %v; want %v", tt.in, got, err, tt.want)
		}
	}
}
