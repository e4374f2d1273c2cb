package llm

import (
	"fmt"
	"strings"
	"sync"

	"github.com/telellm/telellm/internal/models"
)

// ProviderFactory builds a provider client for one credential.
type ProviderFactory func(cred models.ProviderCredential) (Provider, error)

type cachedClient struct {
	signature string
	provider  Provider
}

// Registry maps vendor names to factories and caches one built client per
// credential. The cache key includes the credential's update time, so editing
// a key in the admin surface rotates the client on the next turn.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]ProviderFactory
	clients   map[uint64]cachedClient
}

func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]ProviderFactory),
		clients:   make(map[uint64]cachedClient),
	}
}

func (r *Registry) Register(vendor string, f ProviderFactory) {
	vendor = strings.ToLower(strings.TrimSpace(vendor))
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[vendor] = f
}

func credentialSignature(cred models.ProviderCredential) string {
	return fmt.Sprintf("%s:%s:%d", strings.ToLower(cred.Vendor), cred.APIKey, cred.UpdatedAt.UnixNano())
}

// ClientFor returns a cached provider for the credential, building one when
// the credential is new or has changed since the cached client was built.
func (r *Registry) ClientFor(cred models.ProviderCredential) (Provider, error) {
	sig := credentialSignature(cred)

	r.mu.RLock()
	if c, ok := r.clients[cred.ID]; ok && c.signature == sig {
		r.mu.RUnlock()
		return c.provider, nil
	}
	r.mu.RUnlock()

	vendor := strings.ToLower(strings.TrimSpace(cred.Vendor))

	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.clients[cred.ID]; ok && c.signature == sig {
		return c.provider, nil
	}
	f, ok := r.factories[vendor]
	if !ok {
		return nil, fmt.Errorf("unknown llm vendor: %s", vendor)
	}
	p, err := f(cred)
	if err != nil {
		return nil, err
	}
	r.clients[cred.ID] = cachedClient{signature: sig, provider: p}
	return p, nil
}
