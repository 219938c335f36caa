package authorize

import (
	"context"
	"net/http"
	"regexp"
	"sort"

	"github.com/UdeS-STI/udes-node-orchestrator/pkg/request"
)

// PluginID names a Strategy implementation in configuration.
type PluginID string

const (
	PluginNone             PluginID = "none"
	PluginBasic            PluginID = "basic"
	PluginBasicProxyTicket PluginID = "basic-proxy-ticket"
	PluginSessionID        PluginID = "session-id"
	PluginBearer           PluginID = "bearer"
)

// OAuth2Config configures the bearer strategy. TokenURL is discovered from
// Issuer when empty.
type OAuth2Config struct {
	Issuer       string   `yaml:"issuer"`
	TokenURL     string   `yaml:"tokenUrl"`
	ClientID     string   `yaml:"clientId"`
	ClientSecret string   `yaml:"clientSecret"`
	Audience     string   `yaml:"audience"`
	Scopes       []string `yaml:"scopes"`
}

// Pattern selects a strategy for the upstream URLs whose path matches Path.
type Pattern struct {
	Path          string        `yaml:"path"`
	Plugin        PluginID      `yaml:"plugin"`
	SessionURL    string        `yaml:"sessionUrl"`
	TargetService string        `yaml:"targetService"`
	OAuth2        *OAuth2Config `yaml:"oauth2"`
}

// Compile validates the path expression.
func (p Pattern) Compile() (*regexp.Regexp, error) {
	re, err := regexp.Compile(p.Path)
	if err != nil {
		return nil, request.ConfigError("invalid auth pattern %q: %v", p.Path, err)
	}
	return re, nil
}

// Dependencies are handed to every Factory.
type Dependencies struct {
	Credentials CredentialProvider
	// Client performs token requests of the bearer strategy.
	Client *http.Client
}

// Factory builds a Strategy for a pattern. Missing parameters must be
// reported as a configuration error.
type Factory func(ctx context.Context, p Pattern, deps Dependencies) (Strategy, error)

// Registry maps plugin identifiers to factories.
type Registry struct {
	factories map[PluginID]Factory
}

// NewRegistry returns a Registry holding the built-in strategies.
func NewRegistry() *Registry {
	r := &Registry{factories: map[PluginID]Factory{}}
	r.Register(PluginNone, func(context.Context, Pattern, Dependencies) (Strategy, error) {
		return noneStrategy{}, nil
	})
	r.Register(PluginBasic, func(context.Context, Pattern, Dependencies) (Strategy, error) {
		return basicStrategy{}, nil
	})
	r.Register(PluginBasicProxyTicket, func(_ context.Context, p Pattern, deps Dependencies) (Strategy, error) {
		if deps.Credentials == nil {
			return nil, request.ConfigError("plugin %s needs a credential provider", p.Plugin)
		}
		return &proxyTicketStrategy{creds: deps.Credentials, targetService: p.TargetService}, nil
	})
	r.Register(PluginSessionID, func(_ context.Context, p Pattern, deps Dependencies) (Strategy, error) {
		if p.SessionURL == "" {
			return nil, request.ConfigError("plugin %s for %q needs a sessionUrl", p.Plugin, p.Path)
		}
		if deps.Credentials == nil {
			return nil, request.ConfigError("plugin %s needs a credential provider", p.Plugin)
		}
		return &sessionIDStrategy{creds: deps.Credentials, sessionURL: p.SessionURL, targetService: p.TargetService}, nil
	})
	r.Register(PluginBearer, newBearerStrategy)
	return r
}

// Register adds or replaces the factory for id.
func (r *Registry) Register(id PluginID, f Factory) {
	r.factories[id] = f
}

// Plugins lists the registered identifiers.
func (r *Registry) Plugins() []PluginID {
	ids := make([]PluginID, 0, len(r.factories))
	for id := range r.factories {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// New builds the strategy named by p.Plugin.
func (r *Registry) New(ctx context.Context, p Pattern, deps Dependencies) (Strategy, error) {
	f, ok := r.factories[p.Plugin]
	if !ok {
		return nil, request.ConfigError("unknown auth plugin %q, must be one of %v", p.Plugin, r.Plugins())
	}
	return f(ctx, p, deps)
}
