package fetch

import (
	"context"
	"io"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/UdeS-STI/udes-node-orchestrator/pkg/request"
	"github.com/UdeS-STI/udes-node-orchestrator/pkg/runutil"
	"github.com/UdeS-STI/udes-node-orchestrator/pkg/session"
)

// hopHeaders are not copied from the upstream answer.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// GetFile streams an upstream document to w in a single attempt. The
// headers of opts, like a Content-Disposition, are sent to the client along
// with the upstream status and headers, the latter taking precedence. Failures are logged; a 500 is
// written when nothing was sent yet.
func (d *Dispatcher) GetFile(ctx context.Context, w http.ResponseWriter, sess *session.Session, opts *request.Options) {
	target := opts.ResolveURL(d.opts.APIURL)
	strategy := d.resolver.Resolve(target)
	logger := log.With(d.logger, "request", middleware.GetReqID(ctx), "user", userOf(sess), "strategy", strategy.Name())

	ctx, span := d.tracer.Start(ctx, "get-file")
	defer span.End()

	call := opts.Clone()
	call.URL = target
	call, err := strategy.Authenticate(ctx, sess, call, true)
	if err != nil {
		level.Error(logger).Log("msg", "failed to authenticate file request", "url", target, "err", err)
		http.Error(w, request.AsError(err).MessageString(), request.StatusCode(err))
		return
	}
	logger = log.With(logger, call.LogKeyvals(d.opts.ShowCredentials)...)

	ctx, cancel := context.WithTimeout(ctx, d.opts.Timeout)
	defer cancel()
	req, err := newRequest(ctx, call)
	if err != nil {
		level.Error(logger).Log("msg", "failed to create file request", "err", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	resp, err := d.fileClient.Do(req)
	if err != nil {
		d.fetchesTotal.WithLabelValues(request.KindTransport.String()).Inc()
		level.Error(logger).Log("msg", "file request failed", "err", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	defer runutil.ExhaustCloseWithLogOnErr(logger, resp.Body, "close upstream file body")

	for k, v := range opts.Headers {
		w.Header()[http.CanonicalHeaderKey(k)] = append([]string(nil), v...)
	}
	for k, v := range resp.Header {
		w.Header()[k] = append([]string(nil), v...)
	}
	for _, h := range hopHeaders {
		w.Header().Del(h)
	}
	w.WriteHeader(resp.StatusCode)

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		level.Error(logger).Log("msg", "failed to stream file", "written", n, "err", err)
		return
	}
	d.fetchesTotal.WithLabelValues("file").Inc()
	level.Debug(logger).Log("msg", "file streamed", "status", resp.StatusCode, "bytes", n)
}
