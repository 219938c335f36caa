// Package cache keeps sessions and successful upstream answers in a
// key/value backend.
package cache

import (
	"bufio"
	"bytes"
	"net/http"
	"net/http/httputil"
	"strings"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

// Cacher is able to get, set and delete key value pairs.
type Cacher interface {
	Get(string) ([]byte, bool, error)
	Set(string, []byte) error
	Delete(string) error
}

// KeyFunc names the cache entry of a GET request. An empty key means the
// request must not be cached.
type KeyFunc func(*http.Request) (string, error)

type roundTripper struct {
	c      Cacher
	key    KeyFunc
	next   http.RoundTripper
	logger log.Logger

	ops *prometheus.CounterVec
}

// NewRoundTripper serves repeated GET requests from c. A request with any
// other method invalidates the entry of a GET to the same URL, so that
// handlers reading after writing see their change.
func NewRoundTripper(c Cacher, key KeyFunc, next http.RoundTripper, l log.Logger, reg prometheus.Registerer) http.RoundTripper {
	rt := &roundTripper{
		c:      c,
		key:    key,
		next:   next,
		logger: log.With(l, "component", "cache"),
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orchestrator_upstream_cache_operations_total",
			Help: "Operations of the upstream response cache by outcome.",
		}, []string{"operation", "result"}),
	}
	if reg != nil {
		reg.MustRegister(rt.ops)
	}
	return rt
}

func (rt *roundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Method != http.MethodGet {
		rt.invalidate(req)
		return rt.next.RoundTrip(req)
	}

	key, err := rt.key(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to generate cache key")
	}
	if key == "" || strings.Contains(req.Header.Get("Cache-Control"), "no-cache") {
		return rt.next.RoundTrip(req)
	}

	if resp, ok := rt.lookup(req, key); ok {
		return resp, nil
	}

	resp, err := rt.next.RoundTrip(req)
	if err != nil || resp.StatusCode != http.StatusOK || strings.Contains(resp.Header.Get("Cache-Control"), "no-store") {
		return resp, err
	}
	rt.store(key, resp)
	return resp, nil
}

func (rt *roundTripper) lookup(req *http.Request, key string) (*http.Response, bool) {
	raw, ok, err := rt.c.Get(key)
	switch {
	case err != nil:
		rt.ops.WithLabelValues("get", "error").Inc()
		level.Warn(rt.logger).Log("msg", "failed to read cache", "err", err)
		return nil, false
	case !ok:
		rt.ops.WithLabelValues("get", "miss").Inc()
		return nil, false
	}

	resp, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(raw)), req)
	if err != nil {
		rt.ops.WithLabelValues("get", "error").Inc()
		level.Warn(rt.logger).Log("msg", "dropping unreadable cache entry", "err", err)
		_ = rt.c.Delete(key)
		return nil, false
	}
	rt.ops.WithLabelValues("get", "hit").Inc()
	return resp, true
}

// store buffers the body of resp, which stays readable by the caller.
func (rt *roundTripper) store(key string, resp *http.Response) {
	raw, err := httputil.DumpResponse(resp, true)
	if err != nil {
		level.Error(rt.logger).Log("msg", "failed to dump response", "err", err)
		return
	}
	if err := rt.c.Set(key, raw); err != nil {
		rt.ops.WithLabelValues("set", "error").Inc()
		level.Error(rt.logger).Log("msg", "failed to write cache", "err", err)
		return
	}
	rt.ops.WithLabelValues("set", "success").Inc()
}

func (rt *roundTripper) invalidate(req *http.Request) {
	get := req.Clone(req.Context())
	get.Method = http.MethodGet
	key, err := rt.key(get)
	if err != nil || key == "" {
		return
	}
	if err := rt.c.Delete(key); err != nil {
		rt.ops.WithLabelValues("delete", "error").Inc()
		level.Warn(rt.logger).Log("msg", "failed to invalidate cache", "err", err)
		return
	}
	rt.ops.WithLabelValues("delete", "success").Inc()
}
