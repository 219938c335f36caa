package authorize

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/efficientgo/core/testutil"

	"github.com/UdeS-STI/udes-node-orchestrator/pkg/request"
)

func TestBearerStrategy(t *testing.T) {
	var issued int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		testutil.Ok(t, r.ParseForm())
		testutil.Equals(t, "client_credentials", r.Form.Get("grant_type"))
		testutil.Equals(t, "https://api.example.org", r.Form.Get("audience"))
		n := atomic.AddInt32(&issued, 1)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"access_token":"token-%d","token_type":"Bearer","expires_in":3600}`, n)
	}))
	defer srv.Close()

	s, err := NewRegistry().New(context.Background(), Pattern{
		Plugin: PluginBearer,
		OAuth2: &OAuth2Config{
			TokenURL:     srv.URL + "/token",
			ClientID:     "orchestrator",
			ClientSecret: "secret",
			Audience:     "https://api.example.org",
		},
	}, Dependencies{Client: srv.Client()})
	testutil.Ok(t, err)

	in := &request.Options{URL: "/items"}
	for _, tc := range []struct {
		firstAttempt bool
		want         string
	}{
		{firstAttempt: true, want: "Bearer token-1"},
		{firstAttempt: true, want: "Bearer token-1"},
		{firstAttempt: false, want: "Bearer token-2"},
	} {
		out, err := s.Authenticate(context.Background(), nil, in, tc.firstAttempt)
		testutil.Ok(t, err)
		testutil.Equals(t, tc.want, out.Headers.Get("Authorization"))
	}
	testutil.Assert(t, in.Headers == nil)
}

func TestBearerStrategyTokenError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid_client"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	s, err := NewRegistry().New(context.Background(), Pattern{
		Plugin: PluginBearer,
		OAuth2: &OAuth2Config{TokenURL: srv.URL, ClientID: "orchestrator"},
	}, Dependencies{Client: srv.Client()})
	testutil.Ok(t, err)

	_, err = s.Authenticate(context.Background(), nil, &request.Options{}, true)
	testutil.NotOk(t, err)
	testutil.Equals(t, http.StatusUnauthorized, request.StatusCode(err))
}
