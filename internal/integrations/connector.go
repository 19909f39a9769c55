// Package integrations implements the per-provider connectors: authorization
// URL construction, OAuth callback handling, single-use credential pickup and
// normalized item listing for Airtable, HubSpot and Notion.
//
// Connectors hold no state between requests. Everything that must survive from
// one request to the next (state records, PKCE verifiers, credentials, item
// listings) lives in the cache with a short TTL.
package integrations

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sort"

	"github.com/rs/zerolog"

	"github.com/fuomag9/integration-broker/internal/cache"
	"github.com/fuomag9/integration-broker/internal/config"
)

// Connector is the capability set every provider implements.
type Connector interface {
	// Name returns the provider identifier used in routes and cache keys.
	Name() string

	// Authorize stores a fresh state record for (user, org) and returns the
	// provider authorization URL.
	Authorize(ctx context.Context, userID, orgID string) (string, error)

	// Callback validates the redirect's state, exchanges the code and stores
	// the resulting credentials.
	Callback(ctx context.Context, query url.Values) error

	// Credentials returns the stored credentials for (user, org) and removes them.
	Credentials(ctx context.Context, userID, orgID string) (json.RawMessage, error)

	// Items returns the normalized item list for the given credentials blob
	// as a serialized JSON array.
	Items(ctx context.Context, credentials []byte) (json.RawMessage, error)
}

// Endpoints are the provider URLs a connector talks to.
type Endpoints struct {
	AuthURL  string
	TokenURL string
	APIURL   string
}

// Option customizes a connector at construction time.
type Option func(*options)

type options struct {
	endpoints Endpoints
}

// WithEndpoints overrides the provider URLs. Empty fields keep their defaults.
func WithEndpoints(e Endpoints) Option {
	return func(o *options) {
		if e.AuthURL != "" {
			o.endpoints.AuthURL = e.AuthURL
		}
		if e.TokenURL != "" {
			o.endpoints.TokenURL = e.TokenURL
		}
		if e.APIURL != "" {
			o.endpoints.APIURL = e.APIURL
		}
	}
}

func applyOptions(defaults Endpoints, opts []Option) options {
	o := options{endpoints: defaults}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Registry maps provider names to connectors
type Registry struct {
	connectors map[string]Connector
}

// NewRegistry creates a registry holding the given connectors
func NewRegistry(connectors ...Connector) *Registry {
	r := &Registry{connectors: make(map[string]Connector, len(connectors))}
	for _, c := range connectors {
		r.connectors[c.Name()] = c
	}
	return r
}

// Get returns a connector by name
func (r *Registry) Get(name string) (Connector, bool) {
	c, ok := r.connectors[name]
	return c, ok
}

// Names returns the registered provider names in sorted order
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.connectors))
	for name := range r.connectors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewRegistryFromConfig builds a connector for every enabled provider.
func NewRegistryFromConfig(cfg *config.Config, store cache.Store, logger zerolog.Logger) *Registry {
	httpClient := &http.Client{Timeout: cfg.HTTPClientTimeout}

	var connectors []Connector
	for _, p := range cfg.EnabledProviders() {
		switch p.Name {
		case config.ProviderAirtable:
			connectors = append(connectors, NewAirtable(p, store, httpClient, logger))
		case config.ProviderHubSpot:
			connectors = append(connectors, NewHubSpot(p, store, httpClient, logger))
		case config.ProviderNotion:
			connectors = append(connectors, NewNotion(p, store, httpClient, logger))
		}
	}

	for name, p := range cfg.Providers {
		if p != nil && !p.Enabled {
			logger.Warn().Str("provider", name).Msg("integration disabled: client id or secret not configured")
		}
	}

	return NewRegistry(connectors...)
}
