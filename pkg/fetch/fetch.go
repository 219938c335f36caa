// Package fetch performs authenticated calls to the upstream API.
package fetch

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/middleware"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/UdeS-STI/udes-node-orchestrator/pkg/authorize"
	"github.com/UdeS-STI/udes-node-orchestrator/pkg/request"
	"github.com/UdeS-STI/udes-node-orchestrator/pkg/response"
	"github.com/UdeS-STI/udes-node-orchestrator/pkg/runutil"
	"github.com/UdeS-STI/udes-node-orchestrator/pkg/session"
)

const (
	// DefaultTimeout bounds one upstream call.
	DefaultTimeout = 30 * time.Second

	// DefaultResponseLimit bounds the upstream bodies Fetch reads.
	DefaultResponseLimit = 64 << 20

	// maxAttempts allows a single retry after a 401.
	maxAttempts = 2
)

var errResponseTooLarge = errors.New("upstream response too large")

// State is the progress of one fetch.
type State string

const (
	StateIdle           State = "idle"
	StateAuthenticating State = "authenticating"
	StateRequesting     State = "requesting"
	StateRetrying       State = "retrying"
	StateSuccess        State = "success"
	StateFailed         State = "failed"
)

// Resolver picks the authentication strategy of an upstream URL.
type Resolver interface {
	Resolve(target string) authorize.Strategy
}

// Options configures a Dispatcher.
type Options struct {
	// APIURL prefixes relative request URLs.
	APIURL        string
	Timeout       time.Duration
	CustomHeaders []response.CustomHeader
	// ShowCredentials logs credentials instead of masking them.
	ShowCredentials bool
	// ResponseLimit is the largest body Fetch accepts, in bytes.
	ResponseLimit int64
	// FileClient streams documents for GetFile. It must not buffer bodies,
	// so it is kept apart from a caching client. Defaults to the client of
	// the Dispatcher.
	FileClient *http.Client
}

// Dispatcher sends requests upstream with the credentials of the session.
type Dispatcher struct {
	logger     log.Logger
	client     *http.Client
	fileClient *http.Client
	resolver   Resolver
	opts     Options
	tracer   trace.Tracer

	fetchesTotal *prometheus.CounterVec
	retriesTotal prometheus.Counter
}

// New returns a Dispatcher using client for upstream calls.
func New(logger log.Logger, client *http.Client, resolver Resolver, opts Options, reg prometheus.Registerer) *Dispatcher {
	if client == nil {
		client = http.DefaultClient
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.ResponseLimit <= 0 {
		opts.ResponseLimit = DefaultResponseLimit
	}
	fileClient := opts.FileClient
	if fileClient == nil {
		fileClient = client
	}
	d := &Dispatcher{
		logger:     log.With(logger, "component", "fetch"),
		client:     client,
		fileClient: fileClient,
		resolver:   resolver,
		opts:     opts,
		tracer:   otel.Tracer("github.com/UdeS-STI/udes-node-orchestrator/pkg/fetch"),
		fetchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orchestrator_fetches_total",
				Help: "The number of upstream fetches by outcome.",
			}, []string{"outcome"},
		),
		retriesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "orchestrator_fetch_retries_total",
				Help: "The number of upstream calls repeated after a 401.",
			},
		),
	}
	if reg != nil {
		reg.MustRegister(d.fetchesTotal, d.retriesTotal)
	}
	return d
}

// Fetch calls the upstream API and normalizes its answer. A 401 is retried
// once with renewed credentials. Every failure is a *request.Error.
func (d *Dispatcher) Fetch(ctx context.Context, sess *session.Session, opts *request.Options) (*response.Envelope, error) {
	target := opts.ResolveURL(d.opts.APIURL)
	strategy := d.resolver.Resolve(target)

	ctx, span := d.tracer.Start(ctx, "fetch", trace.WithAttributes(
		attribute.String("http.method", opts.HTTPMethod()),
		attribute.String("http.url", target),
		attribute.String("auth.strategy", strategy.Name()),
	))
	defer span.End()

	logger := log.With(d.logger, "request", middleware.GetReqID(ctx), "user", userOf(sess), "strategy", strategy.Name())
	state := StateIdle
	transition := func(s State) {
		state = s
		span.AddEvent(string(s))
	}
	fail := func(logger log.Logger, err *request.Error) (*response.Envelope, error) {
		transition(StateFailed)
		span.SetStatus(codes.Error, err.MessageString())
		d.fetchesTotal.WithLabelValues(err.Kind.String()).Inc()
		level.Warn(logger).Log("msg", "fetch failed", "state", state, "status", err.HTTPStatusCode(), "err", err)
		return nil, err
	}

	base, err := replayable(opts)
	if err != nil {
		return fail(logger, request.WrapError(request.KindTransport, http.StatusInternalServerError, err))
	}
	base.URL = target

	for attempt := 0; attempt < maxAttempts; attempt++ {
		firstAttempt := attempt == 0
		if !firstAttempt {
			transition(StateRetrying)
			d.retriesTotal.Inc()
		}

		transition(StateAuthenticating)
		call, err := strategy.Authenticate(ctx, sess, base.Clone(), firstAttempt)
		if err != nil {
			var e *request.Error
			if !errors.As(err, &e) {
				e = request.WrapError(request.KindAuth, http.StatusUnauthorized, err)
			}
			return fail(log.With(logger, "url", target), e)
		}
		logger := log.With(logger, call.LogKeyvals(d.opts.ShowCredentials)...)

		transition(StateRequesting)
		resp, body, elapsed, err := d.do(ctx, call)
		if errors.Is(err, errResponseTooLarge) {
			return fail(logger, request.NewError(request.KindUpstream, http.StatusBadGateway, "Upstream response too large"))
		}
		if err != nil {
			return fail(logger, request.WrapError(request.KindTransport, http.StatusInternalServerError, err))
		}
		span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			transition(StateSuccess)
			d.fetchesTotal.WithLabelValues("success").Inc()
			level.Debug(logger).Log("msg", "fetch succeeded", "status", resp.StatusCode, "attempt", attempt+1, "elapsed", elapsed)
			return response.Data(body, response.MetaData(resp, elapsed, d.opts.CustomHeaders)), nil

		case resp.StatusCode == http.StatusUnauthorized && firstAttempt:
			level.Info(logger).Log("msg", "upstream rejected credentials, renewing", "status", resp.StatusCode)

		case resp.StatusCode == http.StatusUnauthorized:
			return fail(logger, request.NewError(request.KindAuth, http.StatusUnauthorized, "Unauthorized"))

		default:
			return fail(logger, request.NewError(request.KindUpstream, resp.StatusCode, string(body)))
		}
	}

	return fail(logger, request.NewError(request.KindAuth, http.StatusUnauthorized, "Unauthorized"))
}

// replayable copies opts with a streamed body read into memory, so that a
// retry sends it again.
func replayable(opts *request.Options) (*request.Options, error) {
	c := opts.Clone()
	if r, ok := c.Body.(io.Reader); ok {
		b, err := io.ReadAll(r)
		if err != nil {
			return nil, errors.Wrap(err, "failed to read request body")
		}
		c.Body = b
	}
	return c, nil
}

// do performs one call bounded by the configured timeout and reads the
// whole body. A body over the response limit is never returned cut short.
func (d *Dispatcher) do(ctx context.Context, opts *request.Options) (*http.Response, []byte, time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, d.opts.Timeout)
	defer cancel()

	req, err := newRequest(ctx, opts)
	if err != nil {
		return nil, nil, 0, err
	}

	start := time.Now()
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, nil, time.Since(start), err
	}
	defer runutil.ExhaustCloseWithLogOnErr(d.logger, resp.Body, "close upstream response body")

	body, err := io.ReadAll(io.LimitReader(resp.Body, d.opts.ResponseLimit+1))
	elapsed := time.Since(start)
	if err != nil {
		return nil, nil, elapsed, err
	}
	if int64(len(body)) > d.opts.ResponseLimit {
		return nil, nil, elapsed, errors.Wrapf(errResponseTooLarge, "more than %d bytes", d.opts.ResponseLimit)
	}
	return resp, body, elapsed, nil
}

func newRequest(ctx context.Context, opts *request.Options) (*http.Request, error) {
	body, err := opts.EncodeBody()
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, opts.HTTPMethod(), opts.URL, body)
	if err != nil {
		return nil, err
	}
	req.Header = opts.MergedHeaders()
	if opts.Auth != nil {
		req.SetBasicAuth(opts.Auth.User, opts.Auth.Pass)
	}
	return req, nil
}

func userOf(sess *session.Session) string {
	if sess == nil {
		return ""
	}
	return sess.User
}
