package llm

import (
	"context"
	"fmt"
	"sync"
)

// Client is the provider-agnostic LLM interface.
type Client interface {
	// Complete performs a blocking generation and returns the full response.
	Complete(ctx context.Context, req GenerateRequest) (GenerateResponse, error)
}

// ProviderFactory creates a Client for a given model name within a provider.
type ProviderFactory func(modelName string) (Client, error)

// Factory resolves model IDs to clients. Providers are registered explicitly
// on a factory instance; there is no process-global registry, so two graphs
// can run with different provider sets in one process.
type Factory struct {
	mu              sync.RWMutex
	providers       map[string]ProviderFactory
	defaultProvider string
}

// NewFactory creates a Factory with no providers registered. Model IDs
// without a provider prefix resolve against "anthropic".
func NewFactory() *Factory {
	return &Factory{
		providers:       make(map[string]ProviderFactory),
		defaultProvider: "anthropic",
	}
}

// Register adds a provider under name, replacing any previous registration.
func (f *Factory) Register(name string, factory ProviderFactory) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.providers[name] = factory
}

// SetDefaultProvider changes the provider assumed for bare model names.
func (f *Factory) SetDefaultProvider(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.defaultProvider = name
}

// Client constructs a Client for the given model ID. Model IDs use the form
// "provider:model-name"; a bare model name uses the default provider.
func (f *Factory) Client(modelID string) (Client, error) {
	if modelID == "" {
		return nil, fmt.Errorf("empty model ID")
	}
	provider, modelName, err := ParseModelID(modelID)
	if err != nil {
		f.mu.RLock()
		provider = f.defaultProvider
		f.mu.RUnlock()
		modelName = modelID
	}
	f.mu.RLock()
	factory, ok := f.providers[provider]
	f.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no provider registered for %q (model ID %q)", provider, modelID)
	}
	return factory(modelName)
}
