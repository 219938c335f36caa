package authorize

import (
	"context"
	"net/http"

	"github.com/UdeS-STI/udes-node-orchestrator/pkg/request"
	"github.com/UdeS-STI/udes-node-orchestrator/pkg/session"
)

// Strategy attaches credentials to an outbound call. firstAttempt is false
// when the previous attempt was answered with 401, in which case cached
// credentials must not be reused.
type Strategy interface {
	Name() string
	Authenticate(ctx context.Context, sess *session.Session, opts *request.Options, firstAttempt bool) (*request.Options, error)
}

type noneStrategy struct{}

func (noneStrategy) Name() string { return string(PluginNone) }

func (noneStrategy) Authenticate(_ context.Context, _ *session.Session, opts *request.Options, _ bool) (*request.Options, error) {
	return opts, nil
}

type basicStrategy struct{}

func (basicStrategy) Name() string { return string(PluginBasic) }

func (basicStrategy) Authenticate(_ context.Context, sess *session.Session, opts *request.Options, _ bool) (*request.Options, error) {
	out := opts.Clone()
	out.Auth = &request.BasicAuth{User: sess.User, Pass: sess.Password}
	return out, nil
}

type proxyTicketStrategy struct {
	creds         CredentialProvider
	targetService string
}

func (s *proxyTicketStrategy) Name() string { return string(PluginBasicProxyTicket) }

func (s *proxyTicketStrategy) Authenticate(ctx context.Context, sess *session.Session, opts *request.Options, firstAttempt bool) (*request.Options, error) {
	pt, err := s.creds.ProxyTicket(ctx, sess, s.targetService, !firstAttempt)
	if err != nil {
		return nil, err
	}
	out := opts.Clone()
	out.Auth = &request.BasicAuth{User: sess.User, Pass: pt}
	return out, nil
}

type sessionIDStrategy struct {
	creds         CredentialProvider
	sessionURL    string
	targetService string
}

func (s *sessionIDStrategy) Name() string { return string(PluginSessionID) }

func (s *sessionIDStrategy) Authenticate(ctx context.Context, sess *session.Session, opts *request.Options, firstAttempt bool) (*request.Options, error) {
	id := sess.CachedAPISessionID()
	if id == "" || !firstAttempt {
		var err error
		if id, err = s.creds.SessionID(ctx, sess, s.sessionURL, s.targetService, firstAttempt); err != nil {
			return nil, err
		}
	}
	out := opts.Clone()
	if out.Headers == nil {
		out.Headers = http.Header{}
	}
	out.Headers.Set(request.SessionIDHeader, id)
	return out, nil
}
