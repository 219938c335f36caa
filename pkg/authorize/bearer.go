package authorize

import (
	"context"
	"net/http"
	"net/url"
	"sync"

	oidc "github.com/coreos/go-oidc"
	"github.com/pkg/errors"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/UdeS-STI/udes-node-orchestrator/pkg/request"
	"github.com/UdeS-STI/udes-node-orchestrator/pkg/session"
)

// tokenStore caches a client-credentials token until it expires or is
// invalidated after a 401.
type tokenStore struct {
	lock   sync.Mutex
	cfg    *clientcredentials.Config
	client *http.Client
	token  *oauth2.Token
}

func (t *tokenStore) Load(ctx context.Context) (*oauth2.Token, error) {
	t.lock.Lock()
	defer t.lock.Unlock()
	if t.token.Valid() {
		return t.token, nil
	}

	if t.client != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, t.client)
	}
	tok, err := t.cfg.Token(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "client credentials token request failed")
	}
	t.token = tok
	return tok, nil
}

func (t *tokenStore) Invalidate() {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.token = nil
}

type bearerStrategy struct {
	tokens *tokenStore
}

func newBearerStrategy(ctx context.Context, p Pattern, deps Dependencies) (Strategy, error) {
	o := p.OAuth2
	if o == nil || o.ClientID == "" {
		return nil, request.ConfigError("plugin %s for %q needs an oauth2 client", p.Plugin, p.Path)
	}

	tokenURL := o.TokenURL
	if tokenURL == "" {
		if o.Issuer == "" {
			return nil, request.ConfigError("plugin %s for %q needs an oauth2 tokenUrl or issuer", p.Plugin, p.Path)
		}
		if deps.Client != nil {
			ctx = oidc.ClientContext(ctx, deps.Client)
		}
		provider, err := oidc.NewProvider(ctx, o.Issuer)
		if err != nil {
			return nil, request.ConfigError("OIDC provider initialization failed for %q: %v", o.Issuer, err)
		}
		tokenURL = provider.Endpoint().TokenURL
	}

	cfg := &clientcredentials.Config{
		ClientID:     o.ClientID,
		ClientSecret: o.ClientSecret,
		TokenURL:     tokenURL,
		Scopes:       o.Scopes,
	}
	if o.Audience != "" {
		cfg.EndpointParams = url.Values{"audience": []string{o.Audience}}
	}
	return &bearerStrategy{tokens: &tokenStore{cfg: cfg, client: deps.Client}}, nil
}

func (s *bearerStrategy) Name() string { return string(PluginBearer) }

func (s *bearerStrategy) Authenticate(ctx context.Context, _ *session.Session, opts *request.Options, firstAttempt bool) (*request.Options, error) {
	if !firstAttempt {
		s.tokens.Invalidate()
	}
	tok, err := s.tokens.Load(ctx)
	if err != nil {
		return nil, request.WrapError(request.KindAuth, http.StatusUnauthorized, err)
	}
	out := opts.Clone()
	if out.Headers == nil {
		out.Headers = http.Header{}
	}
	out.Headers.Set("Authorization", tok.Type()+" "+tok.AccessToken)
	return out, nil
}
