// Package provider holds the static list of OAuth providers a user can
// connect. The registry is built once from configuration and never changes.
package provider

import (
	"errors"
	"fmt"
	"sort"

	"golang.org/x/oauth2"

	"github.com/perimeter-epitech/area/internal/config"
)

// ErrNotFound is returned by Lookup for an unknown provider name.
var ErrNotFound = errors.New("provider: not found")

// Exchange modes.
const (
	// ExchangeCode sends the authorization code to the backend, which
	// redeems it itself.
	ExchangeCode = "code"
	// ExchangeToken redeems the code client-side and sends the access token.
	ExchangeToken = "token"
)

// Provider is one OAuth authorization server.
type Provider struct {
	Name string
	// Service is the backend service name used in /{service}/auth/callback.
	Service               string
	ClientID              string
	ClientSecret          string
	AuthorizationEndpoint string
	TokenEndpoint         string
	RedirectURI           string
	Scopes                []string
	PKCE                  bool
	Exchange              string
	// Mobile selects the /mobile callback variant.
	Mobile bool
}

// OAuth2Config returns the golang.org/x/oauth2 view of p.
func (p Provider) OAuth2Config() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     p.ClientID,
		ClientSecret: p.ClientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:  p.AuthorizationEndpoint,
			TokenURL: p.TokenEndpoint,
		},
		RedirectURL: p.RedirectURI,
		Scopes:      append([]string(nil), p.Scopes...),
	}
}

// Registry is an immutable name → Provider map.
type Registry struct {
	providers map[string]Provider
}

// NewRegistry merges cfg over the built-in defaults. redirectURI is used for
// any provider that does not set its own.
func NewRegistry(cfg config.OAuthConfig, redirectURI string) (*Registry, error) {
	providers := make(map[string]Provider, len(defaults))
	for _, p := range defaults {
		p.RedirectURI = redirectURI
		providers[p.Name] = p
	}

	for _, pc := range cfg.Providers {
		if pc.Disabled {
			delete(providers, pc.Name)
			continue
		}
		p, known := providers[pc.Name]
		if !known {
			p = Provider{Name: pc.Name, Service: pc.Name, RedirectURI: redirectURI, Exchange: ExchangeCode}
		}
		merge(&p, pc)
		if p.AuthorizationEndpoint == "" {
			return nil, fmt.Errorf("provider %s: auth_url is required", pc.Name)
		}
		providers[p.Name] = p
	}

	return &Registry{providers: providers}, nil
}

// Lookup returns the named provider.
func (r *Registry) Lookup(name string) (Provider, error) {
	p, ok := r.providers[name]
	if !ok {
		return Provider{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return p, nil
}

// Names returns every provider name in lexical order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for n := range r.providers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func merge(p *Provider, pc config.ProviderConfig) {
	if pc.Service != "" {
		p.Service = pc.Service
	}
	if pc.ClientID != "" {
		p.ClientID = pc.ClientID
	}
	if pc.ClientSecret != "" {
		p.ClientSecret = pc.ClientSecret
	}
	if pc.AuthURL != "" {
		p.AuthorizationEndpoint = pc.AuthURL
	}
	if pc.TokenURL != "" {
		p.TokenEndpoint = pc.TokenURL
	}
	if pc.RedirectURI != "" {
		p.RedirectURI = pc.RedirectURI
	}
	if len(pc.Scopes) > 0 {
		p.Scopes = pc.Scopes
	}
	if pc.PKCE != nil {
		p.PKCE = *pc.PKCE
	}
	if pc.Exchange != "" {
		p.Exchange = pc.Exchange
	}
	if pc.Mobile != nil {
		p.Mobile = *pc.Mobile
	}
}
