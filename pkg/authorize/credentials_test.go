package authorize

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/efficientgo/core/testutil"
	"github.com/go-kit/log"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/UdeS-STI/udes-node-orchestrator/pkg/request"
	"github.com/UdeS-STI/udes-node-orchestrator/pkg/session"
)

// fakeTicketer hands out PT-1, PT-2, ... and records the targets asked for.
type fakeTicketer struct {
	mu      sync.Mutex
	issued  int
	targets []string
	err     error
}

func (f *fakeTicketer) ProxyTicket(_ context.Context, pgt, target string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.issued++
	f.targets = append(f.targets, target)
	return fmt.Sprintf("PT-%d", f.issued), nil
}

func TestProxyTicket(t *testing.T) {
	tickets := &fakeTicketer{}
	c := NewCredentials(log.NewNopLogger(), tickets, nil, "https://api.example.org", prometheus.NewRegistry())
	sess := &session.Session{User: "jdoe", ProxyGrantingTicket: "PGT-1"}
	ctx := context.Background()

	pt, err := c.ProxyTicket(ctx, sess, "", false)
	testutil.Ok(t, err)
	testutil.Equals(t, "PT-1", pt)
	testutil.Equals(t, "PT-1", sess.ProxyTicket)
	testutil.Assert(t, sess.Modified())

	pt, err = c.ProxyTicket(ctx, sess, "", false)
	testutil.Ok(t, err)
	testutil.Equals(t, "PT-1", pt)

	pt, err = c.ProxyTicket(ctx, sess, "https://other.example.org", true)
	testutil.Ok(t, err)
	testutil.Equals(t, "PT-2", pt)
	testutil.Equals(t, []string{"https://api.example.org", "https://other.example.org"}, tickets.targets)

	sess.TargetService = "https://session.example.org"
	pt, err = c.ProxyTicket(ctx, sess, "", true)
	testutil.Ok(t, err)
	testutil.Equals(t, "PT-3", pt)
	pt, err = c.ProxyTicket(ctx, sess, "https://other.example.org", true)
	testutil.Ok(t, err)
	testutil.Equals(t, "PT-4", pt)
	testutil.Equals(t, []string{
		"https://api.example.org",
		"https://other.example.org",
		"https://session.example.org",
		"https://other.example.org",
	}, tickets.targets)

	tickets.err = errors.New("cas down")
	_, err = c.ProxyTicket(ctx, sess, "", true)
	testutil.NotOk(t, err)
	testutil.Equals(t, http.StatusUnauthorized, request.StatusCode(err))
	testutil.Equals(t, request.KindAuth, request.AsError(err).Kind)
}

func TestSessionID(t *testing.T) {
	for _, tc := range []struct {
		name string
		// respond answers the n-th call to the session endpoint.
		respond   func(w http.ResponseWriter, n int)
		retry     bool
		id        string
		status    int
		calls     int
		tickets   []string
		errString string
	}{
		{
			name: "first ticket accepted",
			respond: func(w http.ResponseWriter, _ int) {
				w.Write([]byte(`{"sessionId":"abc"}`))
			},
			retry:   true,
			id:      "abc",
			calls:   1,
			tickets: []string{"PT-0"},
		},
		{
			name: "rejected once then accepted",
			respond: func(w http.ResponseWriter, n int) {
				if n == 1 {
					w.WriteHeader(http.StatusUnauthorized)
					return
				}
				w.Write([]byte(`{"sessionId":"def"}`))
			},
			retry:   true,
			id:      "def",
			calls:   2,
			tickets: []string{"PT-0", "PT-1"},
		},
		{
			name: "rejected twice",
			respond: func(w http.ResponseWriter, _ int) {
				w.WriteHeader(http.StatusUnauthorized)
			},
			retry:     true,
			status:    http.StatusUnauthorized,
			calls:     2,
			tickets:   []string{"PT-0", "PT-1"},
			errString: "Invalid proxy ticket",
		},
		{
			name: "no retry renews up front",
			respond: func(w http.ResponseWriter, _ int) {
				w.WriteHeader(http.StatusUnauthorized)
			},
			status:    http.StatusUnauthorized,
			calls:     1,
			tickets:   []string{"PT-1"},
			errString: "Invalid proxy ticket",
		},
		{
			name: "malformed body",
			respond: func(w http.ResponseWriter, _ int) {
				w.Write([]byte(`<html>`))
			},
			retry:     true,
			status:    http.StatusInternalServerError,
			calls:     1,
			tickets:   []string{"PT-0"},
			errString: "Cannot get session id",
		},
		{
			name: "missing session id",
			respond: func(w http.ResponseWriter, _ int) {
				w.Write([]byte(`{"other":1}`))
			},
			retry:     true,
			status:    http.StatusInternalServerError,
			calls:     1,
			tickets:   []string{"PT-0"},
			errString: "Cannot get session id",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			var (
				calls   int
				tickets []string
			)
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls++
				testutil.Equals(t, r.URL.Query().Get("ticket"), r.Header.Get("x-proxy-ticket"))
				tickets = append(tickets, r.Header.Get("x-proxy-ticket"))
				tc.respond(w, calls)
			}))
			defer srv.Close()

			ticketer := &fakeTicketer{}
			c := NewCredentials(log.NewNopLogger(), ticketer, srv.Client(), "svc", nil)
			sess := &session.Session{User: "jdoe", ProxyTicket: "PT-0"}

			id, err := c.SessionID(context.Background(), sess, srv.URL+"/session", "", tc.retry)
			testutil.Equals(t, tc.calls, calls)
			testutil.Equals(t, tc.tickets, tickets)
			if tc.errString != "" {
				testutil.NotOk(t, err)
				e := request.AsError(err)
				testutil.Equals(t, tc.status, e.StatusCode)
				testutil.Equals(t, tc.errString, e.MessageString())
				return
			}
			testutil.Ok(t, err)
			testutil.Equals(t, tc.id, id)
			testutil.Equals(t, tc.id, sess.APISessionID)
		})
	}
}
