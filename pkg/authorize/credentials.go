package authorize

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/UdeS-STI/udes-node-orchestrator/pkg/cas"
	"github.com/UdeS-STI/udes-node-orchestrator/pkg/request"
	"github.com/UdeS-STI/udes-node-orchestrator/pkg/session"
)

const sessionResponseLimit = 64 * 1024

var errInvalidTicket = errors.New("session endpoint rejected the proxy ticket")

// CredentialProvider acquires and caches upstream credentials on a session.
type CredentialProvider interface {
	ProxyTicket(ctx context.Context, sess *session.Session, targetService string, renew bool) (string, error)
	SessionID(ctx context.Context, sess *session.Session, sessionURL, targetService string, retry bool) (string, error)
}

// Credentials is the CredentialProvider backed by a CAS server. It is the
// only writer of the credential fields of a session.
type Credentials struct {
	logger        log.Logger
	tickets       cas.ProxyTicketer
	client        *http.Client
	targetService string

	renewalsTotal *prometheus.CounterVec
}

// NewCredentials returns a provider requesting tickets for targetService
// unless a pattern overrides it. client is used for session-id endpoints.
func NewCredentials(logger log.Logger, tickets cas.ProxyTicketer, client *http.Client, targetService string, reg prometheus.Registerer) *Credentials {
	if client == nil {
		client = http.DefaultClient
	}
	c := &Credentials{
		logger:        log.With(logger, "component", "credentials"),
		tickets:       tickets,
		client:        client,
		targetService: targetService,
		renewalsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orchestrator_credential_renewals_total",
				Help: "The number of credentials requested again after being rejected.",
			}, []string{"credential"},
		),
	}
	if reg != nil {
		reg.MustRegister(c.renewalsTotal)
	}
	return c
}

// ProxyTicket returns the ticket cached on sess, or requests one when there
// is none or renew is set. The ticket is for targetService, else the target
// service of the session, else the configured one.
func (c *Credentials) ProxyTicket(ctx context.Context, sess *session.Session, targetService string, renew bool) (string, error) {
	if pt := sess.CachedProxyTicket(); !renew && pt != "" {
		return pt, nil
	}
	if targetService == "" {
		targetService = sess.TargetService
	}
	if targetService == "" {
		targetService = c.targetService
	}

	pt, err := c.tickets.ProxyTicket(ctx, sess.ProxyGrantingTicket, targetService)
	if err != nil {
		level.Warn(c.logger).Log("msg", "failed to get proxy ticket", "user", sess.User, "target", targetService, "err", err)
		return "", request.WrapError(request.KindAuth, http.StatusUnauthorized, err)
	}
	if renew {
		c.renewalsTotal.WithLabelValues("proxy_ticket").Inc()
	}
	sess.SetProxyTicket(pt)
	return pt, nil
}

// SessionID requests an API session identifier from sessionURL in exchange
// for a proxy ticket. With retry set, a rejected ticket is renewed and the
// exchange attempted once more; without it the ticket is renewed up front.
func (c *Credentials) SessionID(ctx context.Context, sess *session.Session, sessionURL, targetService string, retry bool) (string, error) {
	attempts := 1
	if retry {
		attempts = 2
	}
	renew := !retry

	for attempt := 0; attempt < attempts; attempt++ {
		pt, err := c.ProxyTicket(ctx, sess, targetService, renew || attempt > 0)
		if err != nil {
			return "", err
		}

		id, err := c.requestSessionID(ctx, sessionURL, pt)
		if err == nil {
			if !retry || attempt > 0 {
				c.renewalsTotal.WithLabelValues("session_id").Inc()
			}
			sess.SetAPISessionID(id)
			return id, nil
		}
		if !errors.Is(err, errInvalidTicket) {
			level.Warn(c.logger).Log("msg", "malformed session id response", "user", sess.User, "err", err)
			return "", request.NewError(request.KindAuth, http.StatusInternalServerError, "Cannot get session id")
		}
		level.Debug(c.logger).Log("msg", "session id request rejected", "user", sess.User, "attempt", attempt, "err", err)
	}

	level.Warn(c.logger).Log("msg", "failed to get session id", "user", sess.User)
	return "", request.NewError(request.KindAuth, http.StatusUnauthorized, "Invalid proxy ticket")
}

func (c *Credentials) requestSessionID(ctx context.Context, sessionURL, pt string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sessionURL+"?ticket="+url.QueryEscape(pt), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/json; charset=utf-8")
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("x-proxy-ticket", pt)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", errors.Join(errInvalidTicket, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return "", errInvalidTicket
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, sessionResponseLimit))
	if err != nil {
		return "", err
	}
	var payload struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", err
	}
	if payload.SessionID == "" {
		return "", errors.New("response has no sessionId")
	}
	return payload.SessionID, nil
}
