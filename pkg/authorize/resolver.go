package authorize

import (
	"context"
	"net/url"
	"regexp"
)

type rule struct {
	re       *regexp.Regexp
	strategy Strategy
}

// Resolver picks the Strategy for an upstream URL. It is immutable once
// built.
type Resolver struct {
	rules    []rule
	fallback Strategy
}

// NewResolver builds a strategy for every pattern. URLs matching no
// pattern are sent without credentials. Without any pattern, every URL
// uses the strategy built from fallback.
func NewResolver(ctx context.Context, registry *Registry, deps Dependencies, patterns []Pattern, fallback Pattern) (*Resolver, error) {
	r := &Resolver{fallback: noneStrategy{}}
	if len(patterns) == 0 {
		s, err := registry.New(ctx, fallback, deps)
		if err != nil {
			return nil, err
		}
		r.fallback = s
		return r, nil
	}

	for _, p := range patterns {
		re, err := p.Compile()
		if err != nil {
			return nil, err
		}
		s, err := registry.New(ctx, p, deps)
		if err != nil {
			return nil, err
		}
		r.rules = append(r.rules, rule{re: re, strategy: s})
	}
	return r, nil
}

// Resolve returns the strategy of the first pattern matching the path of
// target.
func (r *Resolver) Resolve(target string) Strategy {
	path := target
	if u, err := url.Parse(target); err == nil && u.Path != "" {
		path = u.Path
	}
	for _, rl := range r.rules {
		if rl.re.MatchString(path) {
			return rl.strategy
		}
	}
	return r.fallback
}

// DefaultPattern is the fallback used when no pattern is configured:
// session identifiers when sessionURL is set, proxy tickets otherwise.
// Without CAS, the session password is used.
func DefaultPattern(enableAuth bool, sessionURL string) Pattern {
	switch {
	case !enableAuth:
		return Pattern{Plugin: PluginBasic}
	case sessionURL != "":
		return Pattern{Plugin: PluginSessionID, SessionURL: sessionURL}
	default:
		return Pattern{Plugin: PluginBasicProxyTicket}
	}
}
