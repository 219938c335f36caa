package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/efficientgo/core/testutil"
	"github.com/go-kit/log"
	"go.uber.org/goleak"

	"github.com/UdeS-STI/udes-node-orchestrator/pkg/orchestrator"
	"github.com/UdeS-STI/udes-node-orchestrator/pkg/request"
)

const testConfig = `
apiUrl: %s
enableAuth: false
nocasUser: jdoe
nocasPwd: secret
fatalOnPanic: false
routes:
  - name: user
    path: /users/{id}
    upstream: /users/{id}
`

func mockedAPI() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "jdoe" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/users/42":
			fmt.Fprint(w, `{"id":42,"name":"John"}`)
		case "/letters":
			fmt.Fprint(w, `["a","b","c","d"]`)
		default:
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"error":"not found"}`)
		}
	})
}

func TestServer(t *testing.T) {
	defer goleak.VerifyNone(t)

	api := httptest.NewServer(mockedAPI())
	defer api.Close()

	path := filepath.Join(t.TempDir(), "config.yaml")
	testutil.Ok(t, os.WriteFile(path, []byte(fmt.Sprintf(testConfig, api.URL)), 0o600))

	ext, err := net.Listen("tcp", "127.0.0.1:0")
	testutil.Ok(t, err)
	internal, err := net.Listen("tcp", "127.0.0.1:0")
	testutil.Ok(t, err)

	opts := &Options{
		ConfigFile:         path,
		Logger:             log.NewNopLogger(),
		TracingServiceName: "udes-node-orchestrator",
		Routes: func(r *orchestrator.Routes) {
			r.Get("/letters", func(h *orchestrator.Helper) {
				env, err := h.Fetch(&request.Options{URL: "/letters"})
				if err != nil {
					h.HandleError(err)
					return
				}
				h.HandleResponse(map[string]interface{}{"letters": env})
			})
		},
	}

	var wg sync.WaitGroup
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer func() {
		cancel()
		wg.Wait()
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := opts.Run(ctx, ext, internal); !errors.Is(err, context.Canceled) {
			t.Error(err)
		}
	}()

	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}
	base := "http://" + ext.Addr().String()

	// Wait for server to start by pinging it.
	for i := 0; i < 30; i++ {
		time.Sleep(100 * time.Millisecond)

		res, err := client.Get("http://" + internal.Addr().String() + "/healthz/ready")
		if err != nil {
			continue
		}
		res.Body.Close()
		if res.StatusCode == http.StatusOK {
			break
		}
	}

	get := func(t *testing.T, path string, header http.Header) (*http.Response, []byte) {
		t.Helper()
		req, err := http.NewRequest(http.MethodGet, base+path, nil)
		testutil.Ok(t, err)
		for k, v := range header {
			req.Header[k] = v
		}
		res, err := client.Do(req.WithContext(ctx))
		testutil.Ok(t, err)
		defer res.Body.Close()
		body, err := io.ReadAll(res.Body)
		testutil.Ok(t, err)
		return res, body
	}

	t.Run("proxy route", func(t *testing.T) {
		res, body := get(t, "/users/42", nil)
		testutil.Equals(t, http.StatusOK, res.StatusCode, string(body))

		var got map[string]map[string]interface{}
		testutil.Ok(t, json.Unmarshal(body, &got))
		testutil.Equals(t, "John", got["user"]["name"])
		testutil.Equals(t, float64(200), got["user"]["meta"].(map[string]interface{})["status"])
	})

	t.Run("upstream error", func(t *testing.T) {
		res, body := get(t, "/users/7", nil)
		testutil.Equals(t, http.StatusNotFound, res.StatusCode)
		testutil.Equals(t, `{"error":"not found"}`, string(body))
	})

	t.Run("range", func(t *testing.T) {
		res, body := get(t, "/letters", http.Header{"Range": []string{"letters=1-2"}})
		testutil.Equals(t, http.StatusPartialContent, res.StatusCode, string(body))
		testutil.Equals(t, "letters 1-2/4", res.Header.Get("Content-Range"))

		var got map[string]struct {
			Data []string `json:"data"`
		}
		testutil.Ok(t, json.Unmarshal(body, &got))
		testutil.Equals(t, []string{"b", "c"}, got["letters"].Data)
	})

	t.Run("undefined route", func(t *testing.T) {
		res, body := get(t, "/nope", nil)
		testutil.Equals(t, http.StatusNotFound, res.StatusCode)
		testutil.Equals(t, "Undefined route - GET:/nope", string(body))
	})

	t.Run("metrics", func(t *testing.T) {
		res, err := client.Get("http://" + internal.Addr().String() + "/metrics")
		testutil.Ok(t, err)
		defer res.Body.Close()
		body, err := io.ReadAll(res.Body)
		testutil.Ok(t, err)
		testutil.Equals(t, http.StatusOK, res.StatusCode)
		testutil.Assert(t, strings.Contains(string(body), "orchestrator_fetches_total"), "fetch metrics are exposed")
	})
}

func TestRunInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	testutil.Ok(t, os.WriteFile(path, []byte("enableAuth: false\n"), 0o600))

	opts := &Options{ConfigFile: path, Logger: log.NewNopLogger()}
	err := opts.Run(context.Background(), nil, nil)
	testutil.NotOk(t, err)
	testutil.Equals(t, request.KindConfig, request.AsError(err).Kind)
}
