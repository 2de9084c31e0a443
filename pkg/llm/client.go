package llm

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
)

// Client is the provider-agnostic LLM interface.
type Client interface {
	// Generate starts a streaming generation. Errors that happen before any
	// output (bad credentials, unreachable host) are returned directly; later
	// failures arrive as a final StreamEvent with Err set. The channel is
	// closed when generation ends.
	Generate(ctx context.Context, req Request) (<-chan StreamEvent, error)
	// Models lists the model names the provider offers.
	Models(ctx context.Context) ([]string, error)
}

// ProviderOptions configures a provider client. Zero values fall back to the
// provider's defaults and environment.
type ProviderOptions struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// ProviderFactory creates a Client for a provider.
type ProviderFactory func(opts ProviderOptions) (Client, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]ProviderFactory{}
)

// RegisterProvider registers a factory function for a named provider.
// Call this from init() in provider packages.
func RegisterProvider(name string, factory ProviderFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = factory
}

// NewClient constructs a Client for the named provider.
func NewClient(provider string, opts ProviderOptions) (Client, error) {
	registryMu.RLock()
	factory, ok := registry[provider]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no provider registered for %q; did you import the provider package?", provider)
	}
	return factory(opts)
}

// Providers returns the registered provider names, sorted.
func Providers() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
