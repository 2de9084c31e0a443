// Package config loads mosaik's optional HCL settings file.
//
// Example:
//
//	log_level    = "debug"
//	workflow_dir = "/home/me/workflows"
//	listen       = "127.0.0.1:7777"
//
//	provider "ollama" {
//	  base_url = "http://gpu-box:11434"
//	}
//
//	provider "anthropic" {
//	  default_model = "claude-3-5-haiku-latest"
//	  api_key_env   = "WORK_ANTHROPIC_KEY"
//	}
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"

	"github.com/ravi-parthasarathy/mosaik/pkg/llm"
	"github.com/ravi-parthasarathy/mosaik/pkg/workflow"
)

// FileName is the settings file looked up in the user config directory.
const FileName = "config.hcl"

// Config holds process-wide settings. Zero fields fall back to defaults.
type Config struct {
	LogLevel    string      `hcl:"log_level,optional"`
	LogFormat   string      `hcl:"log_format,optional"`
	WorkflowDir string      `hcl:"workflow_dir,optional"`
	Listen      string      `hcl:"listen,optional"`
	DatabaseURL string      `hcl:"database_url,optional"`
	Parallel    bool        `hcl:"parallel,optional"`
	Providers   []*Provider `hcl:"provider,block"`
}

// Provider overrides connection details for one model backend.
type Provider struct {
	Name         string `hcl:"name,label"`
	BaseURL      string `hcl:"base_url,optional"`
	DefaultModel string `hcl:"default_model,optional"`
	// APIKeyEnv names the environment variable holding the credential.
	APIKeyEnv string `hcl:"api_key_env,optional"`
}

// Default returns the settings used when no file is present.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

// DefaultPath returns <user config dir>/mosaik/config.hcl.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("locate config dir: %w", err)
	}
	return filepath.Join(dir, "mosaik", FileName), nil
}

// Load reads the settings file at path. An empty path means DefaultPath,
// which may be absent; an explicit path must exist.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		p, err := DefaultPath()
		if err != nil {
			return Default(), nil
		}
		path = p
	}
	src, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			slog.Debug("no config file, using defaults", "path", path)
			return Default(), nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(src, path)
}

// Parse decodes HCL settings. filename is used in diagnostics only.
func Parse(src []byte, filename string) (*Config, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse config file %s: %w", filename, diags)
	}

	var c Config
	diags = gohcl.DecodeBody(file.Body, nil, &c)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode config file %s: %w", filename, diags)
	}
	c.applyDefaults()
	if err := c.validate(); err != nil {
		return nil, fmt.Errorf("config file %s: %w", filename, err)
	}
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "text"
	}
	if c.Listen == "" {
		c.Listen = "127.0.0.1:7777"
	}
}

func (c *Config) validate() error {
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("log_format must be \"text\" or \"json\", got %q", c.LogFormat)
	}
	seen := make(map[string]bool)
	for _, p := range c.Providers {
		if !workflow.KnownProvider(workflow.Provider(p.Name)) {
			return fmt.Errorf("unknown provider %q", p.Name)
		}
		if seen[p.Name] {
			return fmt.Errorf("provider %q configured twice", p.Name)
		}
		seen[p.Name] = true
	}
	return nil
}

// ParseLevel maps a level name to its slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown log level %q", s)
}

// Provider returns the block for name, if configured.
func (c *Config) Provider(name workflow.Provider) (*Provider, bool) {
	for _, p := range c.Providers {
		if p.Name == string(name) {
			return p, true
		}
	}
	return nil, false
}

// ProviderOptions builds llm client options for every configured provider.
// Keys named by api_key_env are read from the environment here.
func (c *Config) ProviderOptions() map[workflow.Provider]llm.ProviderOptions {
	out := make(map[workflow.Provider]llm.ProviderOptions, len(c.Providers))
	for _, p := range c.Providers {
		opts := llm.ProviderOptions{BaseURL: p.BaseURL}
		if p.APIKeyEnv != "" {
			opts.APIKey = os.Getenv(p.APIKeyEnv)
		}
		out[workflow.Provider(p.Name)] = opts
	}
	return out
}

// DefaultModel returns the configured model for new nodes of a provider, or
// "" to keep the built-in default.
func (c *Config) DefaultModel(name workflow.Provider) string {
	if p, ok := c.Provider(name); ok {
		return p.DefaultModel
	}
	return ""
}
