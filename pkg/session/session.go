package session

import (
	"context"
	"sync"
	"time"
)

type contextKey int

const (
	sessionKey contextKey = iota
	userCaptureKey
)

// Session is the security context of one end user. The CAS related fields
// are filled by whatever authenticated the user; ProxyTicket and
// APISessionID are caches written by the credential provider. Concurrent
// fetches of one request share the session, so those two are read and
// written through their accessors.
type Session struct {
	ID                  string              `json:"id"`
	User                string              `json:"user"`
	Password            string              `json:"password,omitempty"`
	Attributes          map[string][]string `json:"attributes,omitempty"`
	ProxyGrantingTicket string              `json:"pgt,omitempty"`
	ProxyTicket         string              `json:"pt,omitempty"`
	APISessionID        string              `json:"apiSessionId,omitempty"`
	TargetService       string              `json:"targetService,omitempty"`
	CreatedAt           time.Time           `json:"createdAt"`
	ExpiresAt           time.Time           `json:"expiresAt"`

	mu       sync.Mutex
	modified bool
}

// CachedProxyTicket returns the cached proxy ticket, if any.
func (s *Session) CachedProxyTicket() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ProxyTicket
}

// SetProxyTicket caches pt on the session.
func (s *Session) SetProxyTicket(pt string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ProxyTicket = pt
	s.modified = true
}

// CachedAPISessionID returns the cached API session identifier, if any.
func (s *Session) CachedAPISessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.APISessionID
}

// SetAPISessionID caches id on the session.
func (s *Session) SetAPISessionID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.APISessionID = id
	s.modified = true
}

// Expired reports whether the session is no longer valid at now.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// Modified reports whether the session changed since it was loaded.
func (s *Session) Modified() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.modified
}

func (s *Session) markSaved() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.modified = false
}

// FlattenedAttributes returns the CAS attributes, unwrapping lists of a
// single value.
func (s *Session) FlattenedAttributes() map[string]interface{} {
	if s == nil {
		return map[string]interface{}{}
	}
	out := make(map[string]interface{}, len(s.Attributes))
	for k, v := range s.Attributes {
		if len(v) == 1 {
			out[k] = v[0]
			continue
		}
		out[k] = v
	}
	return out
}

// WithSession returns a copy of ctx carrying s.
func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, sessionKey, s)
}

// FromContext returns the session stored in ctx, if any.
func FromContext(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(sessionKey).(*Session)
	return s, ok && s != nil
}

// User returns the user of the session in ctx, or an empty string.
func User(ctx context.Context) string {
	if s, ok := FromContext(ctx); ok {
		return s.User
	}
	return ""
}

// WithUserCapture returns a copy of ctx in which the session middleware
// records the user it authenticates into dst. Middlewares running before
// the session is loaded use it to log the user.
func WithUserCapture(ctx context.Context, dst *string) context.Context {
	return context.WithValue(ctx, userCaptureKey, dst)
}

func captureUser(ctx context.Context, user string) {
	if dst, ok := ctx.Value(userCaptureKey).(*string); ok && dst != nil {
		*dst = user
	}
}
