package engine

import (
	"fmt"
	"sync"

	"github.com/ravi-parthasarathy/mosaik/pkg/llm"
	"github.com/ravi-parthasarathy/mosaik/pkg/workflow"
)

// Resolver hands out the llm client for a model node's provider.
type Resolver interface {
	Client(provider workflow.Provider) (llm.Client, error)
}

// Clients builds provider clients from the llm registry on first use and
// caches them. Safe for concurrent use.
type Clients struct {
	mu    sync.Mutex
	opts  map[workflow.Provider]llm.ProviderOptions
	cache map[workflow.Provider]llm.Client
}

// NewClients returns a Resolver using opts per provider. Providers missing
// from opts get zero options (environment defaults).
func NewClients(opts map[workflow.Provider]llm.ProviderOptions) *Clients {
	return &Clients{opts: opts, cache: make(map[workflow.Provider]llm.Client)}
}

// Client implements Resolver.
func (c *Clients) Client(provider workflow.Provider) (llm.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cl, ok := c.cache[provider]; ok {
		return cl, nil
	}
	cl, err := llm.NewClient(string(provider), c.opts[provider])
	if err != nil {
		return nil, fmt.Errorf("provider %s: %w", provider, err)
	}
	c.cache[provider] = cl
	return cl, nil
}
