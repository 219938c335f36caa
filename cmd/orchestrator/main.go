package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"syscall"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"

	"github.com/UdeS-STI/udes-node-orchestrator/pkg/authorize"
	"github.com/UdeS-STI/udes-node-orchestrator/pkg/cache"
	"github.com/UdeS-STI/udes-node-orchestrator/pkg/cache/memcached"
	"github.com/UdeS-STI/udes-node-orchestrator/pkg/cache/memory"
	"github.com/UdeS-STI/udes-node-orchestrator/pkg/cas"
	"github.com/UdeS-STI/udes-node-orchestrator/pkg/config"
	"github.com/UdeS-STI/udes-node-orchestrator/pkg/fetch"
	ohttp "github.com/UdeS-STI/udes-node-orchestrator/pkg/http"
	"github.com/UdeS-STI/udes-node-orchestrator/pkg/logger"
	"github.com/UdeS-STI/udes-node-orchestrator/pkg/orchestrator"
	"github.com/UdeS-STI/udes-node-orchestrator/pkg/runutil"
	"github.com/UdeS-STI/udes-node-orchestrator/pkg/session"
	"github.com/UdeS-STI/udes-node-orchestrator/pkg/tracing"
)

const desc = `
Serve API routes on behalf of CAS authenticated users

The orchestrator keeps a session per user and calls upstream APIs with
credentials derived from it: the CAS user and password, a CAS proxy ticket,
an API session id obtained with a proxy ticket, or an OAuth2 client
credentials token. Upstream answers are normalized into envelopes carrying
their metadata and can be ranged with the Range header.

Routes are read from the configuration file; every route forwards to an
upstream path whose {placeholders} are filled with the route parameters.
`

func main() {
	opt := &Options{}

	var listen, listenInternal string
	cmd := &cobra.Command{
		Short:         "Authenticated API orchestrator.",
		Long:          desc,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			listener, err := net.Listen("tcp", listen)
			if err != nil {
				return err
			}
			internalListener, err := net.Listen("tcp", listenInternal)
			if err != nil {
				return err
			}

			err = opt.Run(context.Background(), listener, internalListener)
			var sig run.SignalError
			if errors.As(err, &sig) {
				return nil
			}
			return err
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "0.0.0.0:8080", "A host:port to listen on for API traffic.")
	cmd.Flags().StringVar(&listenInternal, "listen-internal", "localhost:8081", "A host:port to listen on for health and metrics.")
	cmd.Flags().StringVar(&opt.ConfigFile, "config", "", "Path to the YAML configuration file.")

	cmd.Flags().StringVar(&opt.LogLevel, "log-level", "", "Log filtering level, overriding the configuration. e.g info, debug, warn, error")
	cmd.Flags().StringVar(&opt.LogFormat, "log-format", "", "Log format, overriding the configuration. One of logfmt, json.")
	cmd.Flags().StringSliceVar(&opt.Memcacheds, "memcached", nil, "Memcached servers holding sessions, overriding the configuration.")

	cmd.Flags().StringVar(&opt.TracingServiceName, "internal.tracing.service-name", "udes-node-orchestrator",
		"The service name to report to the tracing backend.")
	cmd.Flags().StringVar(&opt.TracingEndpoint, "internal.tracing.endpoint", "",
		"The full URL of the trace collector. If it's not set, tracing will be disabled.")
	cmd.Flags().Float64Var(&opt.TracingSamplingFraction, "internal.tracing.sampling-fraction", 0.1,
		"The fraction of traces to sample. Thus, if you set this to .5, half of traces will be sampled.")
	cmd.Flags().StringVar(&opt.TracingEndpointType, "internal.tracing.endpoint-type", string(tracing.EndpointTypeAgent),
		fmt.Sprintf("The tracing endpoint type. Options: '%s', '%s', '%s'.", tracing.EndpointTypeAgent, tracing.EndpointTypeCollector, tracing.EndpointTypeOTel))

	if err := cmd.Execute(); err != nil {
		l := logger.New(os.Stderr, "logfmt", "error")
		level.Error(l).Log("err", err)
		os.Exit(1)
	}
}

type Options struct {
	ConfigFile string

	LogLevel   string
	LogFormat  string
	Logger     log.Logger
	Memcacheds []string

	TracingServiceName      string
	TracingEndpoint         string
	TracingEndpointType     string
	TracingSamplingFraction float64

	// Routes adds application routes next to the configured ones.
	Routes func(r *orchestrator.Routes)
}

func (o *Options) Run(ctx context.Context, externalListener, internalListener net.Listener) error {
	cfg, err := config.Load(o.ConfigFile)
	if err != nil {
		return err
	}
	if o.LogLevel != "" {
		cfg.Log.Level = o.LogLevel
	}
	if o.LogFormat != "" {
		cfg.Log.Format = o.LogFormat
	}
	if len(o.Memcacheds) > 0 {
		cfg.Cache.Memcached = o.Memcacheds
	}
	if o.Logger == nil {
		o.Logger = logger.New(os.Stderr, cfg.Log.Format, cfg.Log.Level)
	}
	l := o.Logger

	tp, shutdownTracer, err := tracing.InitTracer(ctx, tracing.Config{
		ServiceName:      o.TracingServiceName,
		Endpoint:         o.TracingEndpoint,
		EndpointType:     tracing.EndpointType(o.TracingEndpointType),
		SamplingFraction: o.TracingSamplingFraction,
	})
	if err != nil {
		return fmt.Errorf("cannot initialize tracer: %v", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			level.Warn(l).Log("msg", "failed to flush traces", "err", err)
		}
	}()
	otel.SetErrorHandler(tracing.OtelErrorHandler{Logger: l})

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	base := &http.Transport{
		DialContext:         (&net.Dialer{Timeout: 10 * time.Second}).DialContext,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     30 * time.Second,
	}
	transport := otelhttp.NewTransport(base)
	clients := ohttp.NewClientMetrics(reg)

	sessions := session.NewStore(newCacher(cfg.Cache.Memcached, cfg.Cache.Expire), cfg.Cookies.MaxAge)

	tickets := cas.NewProxyClient(&http.Client{
		Timeout:   cfg.RequestTimeout,
		Transport: clients.RoundTripper("cas", transport),
	}, cfg.CAS.ServerPath, cfg.CAS.Paths.Proxy)

	credentials := authorize.NewCredentials(l, tickets, &http.Client{
		Timeout:   cfg.RequestTimeout,
		Transport: clients.RoundTripper("session", transport),
	}, cfg.CAS.TargetService, reg)

	resolver, err := authorize.NewResolver(ctx, authorize.NewRegistry(), authorize.Dependencies{
		Credentials: credentials,
		Client: &http.Client{
			Timeout:   cfg.RequestTimeout,
			Transport: clients.RoundTripper("oauth", transport),
		},
	}, cfg.AuthPatterns, cfg.DefaultAuthPattern())
	if err != nil {
		return err
	}

	// Files are streamed, so they never go through the upstream cache.
	files := clients.RoundTripper("upstream", transport)
	upstream := files
	if cfg.Cache.Upstream {
		upstream = cache.NewRoundTripper(newCacher(cfg.Cache.Memcached, cfg.Cache.UpstreamTTL), fetch.CacheKey, upstream, l, reg)
	}
	dispatcher := fetch.New(l, &http.Client{Transport: upstream}, resolver, fetch.Options{
		APIURL:          cfg.APIURL,
		Timeout:         cfg.RequestTimeout,
		CustomHeaders:   cfg.CustomHeaders,
		ShowCredentials: cfg.Log.ShowCredentialsAsClearText,
		FileClient:      &http.Client{Transport: files},
	}, reg)

	lifecycle := orchestrator.NewLifecycle(l, cfg.FatalOnPanic)
	srv, err := orchestrator.New(l, cfg, orchestrator.Components{
		Dispatcher: dispatcher,
		Sessions:   sessions,
		Lifecycle:  lifecycle,
		Instrument: ohttp.NewInstrumentedHandlerFactory(reg),
	})
	if err != nil {
		return err
	}
	if err := srv.SetRoutes(func(r *orchestrator.Routes) {
		orchestrator.ProxyRoutes(cfg.Routes)(r)
		if o.Routes != nil {
			o.Routes(r)
		}
	}); err != nil {
		return err
	}

	var g run.Group
	{
		internal := http.NewServeMux()

		ohttp.DebugRoutes(internal)
		ohttp.HealthRoutes(internal, lifecycle.Ready)
		ohttp.MetricRoutes(internal, reg)
		ohttp.IndexRoute(internal, "/", "/metrics", "/debug/pprof", "/healthz", "/healthz/ready")

		s := &http.Server{
			Handler: otelhttp.NewHandler(internal, "internal", otelhttp.WithTracerProvider(tp)),
		}

		g.Add(func() error {
			if err := s.Serve(internalListener); err != nil && err != http.ErrServerClosed {
				level.Error(l).Log("msg", "internal HTTP server exited", "err", err)
				return err
			}
			return nil
		}, func(error) {
			_ = s.Shutdown(context.TODO())
			internalListener.Close()
		})
	}
	{
		external := http.NewServeMux()
		ohttp.HealthRoutes(external, lifecycle.Ready)
		external.Handle("/", srv)

		s := &http.Server{
			Handler: otelhttp.NewHandler(external, "external", otelhttp.WithTracerProvider(tp)),
		}

		g.Add(func() error {
			if err := s.Serve(externalListener); err != nil && err != http.ErrServerClosed {
				level.Error(l).Log("msg", "external HTTP server exited", "err", err)
				return err
			}
			return nil
		}, func(error) {
			_ = s.Shutdown(context.TODO())
			// Close clients in order to check for leaks properly.
			if err := runutil.CloseAll(externalListener, runutil.CloserFunc(func() error {
				base.CloseIdleConnections()
				return nil
			})); err != nil {
				level.Debug(l).Log("msg", "closing external resources", "err", err)
			}
		})
	}
	{
		// A panicking handler stops every other actor when fatalOnPanic is set.
		lctx, lcancel := context.WithCancel(context.Background())
		g.Add(func() error {
			return lifecycle.Start(lctx)
		}, func(error) {
			lcancel()
		})
	}

	// Kill all when caller requests to.
	gctx, gcancel := context.WithCancel(ctx)
	g.Add(func() error {
		<-gctx.Done()
		return gctx.Err()
	}, func(err error) {
		gcancel()
	})
	g.Add(run.SignalHandler(gctx, os.Interrupt, syscall.SIGTERM))

	level.Info(l).Log("msg", "starting orchestrator", "external", externalListener.Addr().String(), "internal", internalListener.Addr().String(), "api", cfg.APIURL, "auth", cfg.EnableAuth)

	return g.Run()
}

func newCacher(servers []string, expire time.Duration) cache.Cacher {
	if len(servers) > 0 {
		return memcached.New(expire, servers...)
	}
	return memory.New(expire)
}
