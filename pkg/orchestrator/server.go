// Package orchestrator serves the routes of an orchestrator: every route
// handler receives a Helper that calls upstream APIs with the credentials
// of the session of the request.
package orchestrator

import (
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/cors"
	"github.com/go-kit/log"

	"github.com/UdeS-STI/udes-node-orchestrator/pkg/config"
	ohttp "github.com/UdeS-STI/udes-node-orchestrator/pkg/http"
	"github.com/UdeS-STI/udes-node-orchestrator/pkg/request"
	"github.com/UdeS-STI/udes-node-orchestrator/pkg/response"
	"github.com/UdeS-STI/udes-node-orchestrator/pkg/runutil"
	"github.com/UdeS-STI/udes-node-orchestrator/pkg/server"
	"github.com/UdeS-STI/udes-node-orchestrator/pkg/session"
)

var corsAllowedHeaders = []string{
	"Origin",
	"X-Requested-With",
	"Content-Type",
	"Content-Disposition",
	"Accept",
	"x-client-ajax",
	"Range",
}

// Server is the public HTTP handler of an orchestrator.
type Server struct {
	logger     log.Logger
	dispatcher Dispatcher
	handle404  bool
	instrument *ohttp.InstrumentedHandlerFactory

	responseFormatter response.Formatter
	errorFormatter    response.Formatter

	router chi.Router

	mu        sync.Mutex
	routesSet bool
}

// Components are the collaborators of a Server.
type Components struct {
	Dispatcher Dispatcher
	Sessions   session.Store
	Lifecycle  *Lifecycle
	// Instrument is optional.
	Instrument *ohttp.InstrumentedHandlerFactory
}

// New builds the middleware chain described by cfg. Routes are added with
// SetRoutes.
func New(logger log.Logger, cfg *config.Config, c Components) (*Server, error) {
	respFmt, err := response.NewFormatter(cfg.ResponseFormatter)
	if err != nil {
		return nil, err
	}
	errFmt, err := response.NewFormatter(cfg.ErrorFormatter)
	if err != nil {
		return nil, err
	}
	if c.Dispatcher == nil || c.Sessions == nil || c.Lifecycle == nil {
		return nil, request.ConfigError("orchestrator needs a dispatcher, a session store and a lifecycle")
	}

	s := &Server{
		logger:            log.With(logger, "component", "orchestrator"),
		dispatcher:        c.Dispatcher,
		handle404:         cfg.Handle404,
		instrument:        c.Instrument,
		responseFormatter: respFmt,
		errorFormatter:    errFmt,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(server.RequestLogger(logger))
	r.Use(c.Lifecycle.Recoverer)
	if cfg.EnableCORS {
		r.Use(cors.Handler(corsOptions(cfg)))
	}
	r.Use(func(next http.Handler) http.Handler {
		return runutil.ExhaustCloseRequestBodyHandler(logger, next)
	})
	r.Use(func(next http.Handler) http.Handler {
		return session.NewHandler(logger, c.Sessions, sessionOptions(cfg), next)
	})
	if cfg.RateLimit > 0 {
		r.Use(server.NewRateLimiter(cfg.RateLimit, nil).Middleware(logger))
	}
	s.router = r

	return s, nil
}

func corsOptions(cfg *config.Config) cors.Options {
	allowed := make(map[string]struct{}, len(cfg.AllowedOrigins))
	for _, o := range cfg.AllowedOrigins {
		allowed[strings.TrimSuffix(o, "/")] = struct{}{}
	}
	return cors.Options{
		AllowOriginFunc: func(_ *http.Request, origin string) bool {
			if len(allowed) == 0 {
				return true
			}
			_, ok := allowed[origin]
			return ok
		},
		AllowedMethods:   cfg.AllowedMethods,
		AllowedHeaders:   corsAllowedHeaders,
		ExposedHeaders:   []string{"Content-Range", "Content-Disposition"},
		AllowCredentials: true,
	}
}

func sessionOptions(cfg *config.Config) session.Options {
	return session.Options{
		CookieName:  cfg.Cookies.Name,
		CookiePath:  cfg.Cookies.Path,
		MaxAge:      cfg.Cookies.MaxAge,
		HTTPOnly:    cfg.Cookies.HTTPOnly,
		Secure:      cfg.Cookies.Secure,
		EnableAuth:  cfg.EnableAuth,
		NocasUser:   cfg.NocasUser,
		NocasPwd:    cfg.NocasPwd,
		AjaxHeader:  cfg.CAS.FromAjax.Header,
		AjaxStatus:  cfg.CAS.FromAjax.Status,
		LoginURL:    cfg.LoginURL(),
		IgnorePaths: cfg.CAS.Ignore,
	}
}

// Routes registers route handlers.
type Routes struct {
	r   chi.Router
	srv *Server
}

// Handle serves method requests on a chi pattern with fn.
func (rs *Routes) Handle(method, pattern string, fn HandlerFunc) {
	var h http.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fn(rs.srv.helper(w, r))
	})
	if rs.srv.instrument != nil {
		h = rs.srv.instrument.NewHandler(strings.ToLower(method)+" "+pattern, h)
	}
	rs.r.Method(strings.ToUpper(method), pattern, h)
}

func (rs *Routes) Get(pattern string, fn HandlerFunc)    { rs.Handle(http.MethodGet, pattern, fn) }
func (rs *Routes) Post(pattern string, fn HandlerFunc)   { rs.Handle(http.MethodPost, pattern, fn) }
func (rs *Routes) Put(pattern string, fn HandlerFunc)    { rs.Handle(http.MethodPut, pattern, fn) }
func (rs *Routes) Delete(pattern string, fn HandlerFunc) { rs.Handle(http.MethodDelete, pattern, fn) }

// SetRoutes installs the application routes. It may only be called once.
func (s *Server) SetRoutes(routes func(r *Routes)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.routesSet {
		return request.ConfigError("routes are already set")
	}
	s.routesSet = true

	routes(&Routes{r: s.router, srv: s})

	if s.handle404 {
		s.router.NotFound(undefinedRoute)
		s.router.MethodNotAllowed(undefinedRoute)
	}
	return nil
}

func undefinedRoute(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusNotFound)
	fmt.Fprintf(w, "Undefined route - %s:%s", r.Method, r.URL.RequestURI())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
