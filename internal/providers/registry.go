package providers

import (
	"fmt"

	"github.com/aetherpack/aetherbot/internal/config"
)

// Build constructs the provider for one config entry, dispatching on the
// type tag validated at config load.
func Build(pc config.ProviderConfig) (Provider, error) {
	switch pc.Type {
	case "openai":
		return NewOpenAIProvider(pc.ID, pc.APIKey, pc.APIBaseURL, pc.Model), nil
	case "anthropic":
		return NewAnthropicProvider(pc.ID, pc.APIKey, pc.APIBaseURL, pc.Model), nil
	default:
		return nil, fmt.Errorf("provider %q: unknown type %q", pc.ID, pc.Type)
	}
}

// Registry caches built providers by config id.
type Registry struct {
	providers map[string]Provider
}

// NewRegistry builds every configured provider up front so type or
// construction errors surface at startup, not mid-conversation.
func NewRegistry(configs []config.ProviderConfig) (*Registry, error) {
	r := &Registry{providers: make(map[string]Provider, len(configs))}
	for _, pc := range configs {
		p, err := Build(pc)
		if err != nil {
			return nil, err
		}
		r.providers[pc.ID] = p
	}
	return r, nil
}

// Get returns the provider for a config id.
func (r *Registry) Get(id string) (Provider, bool) {
	p, ok := r.providers[id]
	return p, ok
}

// Len returns the number of registered providers.
func (r *Registry) Len() int { return len(r.providers) }
