package session

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/middleware"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// Options configures the session middleware.
type Options struct {
	CookieName string
	CookiePath string
	MaxAge     time.Duration
	HTTPOnly   bool
	Secure     bool

	// EnableAuth false gives every request without a session a fresh one
	// for NocasUser.
	EnableAuth bool
	NocasUser  string
	NocasPwd   string

	// Requests carrying AjaxHeader get AjaxStatus instead of a redirect
	// to LoginURL when they have no session.
	AjaxHeader string
	AjaxStatus int
	LoginURL   string

	// IgnorePaths are path prefixes served without a session.
	IgnorePaths []string
}

// NewHandler loads the session named by the request cookie and stores it in
// the request context. Sessions modified by next are saved afterwards.
func NewHandler(logger log.Logger, store Store, opts Options, next http.Handler) http.Handler {
	logger = log.With(logger, "component", "session")
	if opts.AjaxStatus == 0 {
		opts.AjaxStatus = http.StatusUnauthorized
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger := log.With(logger, "request", middleware.GetReqID(r.Context()))

		for _, p := range opts.IgnorePaths {
			if strings.HasPrefix(r.URL.Path, p) {
				next.ServeHTTP(w, r)
				return
			}
		}

		var (
			sess  *Session
			found bool
		)
		if c, err := r.Cookie(opts.CookieName); err == nil {
			s, ok, err := store.Get(r.Context(), c.Value)
			if err != nil {
				level.Warn(logger).Log("msg", "failed to load session", "err", err)
			}
			sess, found = s, ok
		}

		if !found {
			if opts.EnableAuth {
				unauthenticated(w, r, opts)
				level.Debug(logger).Log("msg", "no session", "path", r.URL.Path)
				return
			}
			sess = New(opts.NocasUser, time.Now(), opts.MaxAge)
			sess.Password = opts.NocasPwd
			http.SetCookie(w, &http.Cookie{
				Name:     opts.CookieName,
				Value:    sess.ID,
				Path:     opts.CookiePath,
				MaxAge:   int(opts.MaxAge / time.Second),
				HttpOnly: opts.HTTPOnly,
				Secure:   opts.Secure,
			})
		}

		captureUser(r.Context(), sess.User)
		next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), sess)))

		if sess.Modified() {
			if err := store.Save(r.Context(), sess); err != nil {
				level.Error(logger).Log("msg", "failed to save session", "user", sess.User, "err", err)
			}
		}
	})
}

func unauthenticated(w http.ResponseWriter, r *http.Request, opts Options) {
	if opts.AjaxHeader != "" && r.Header.Get(opts.AjaxHeader) != "" {
		w.WriteHeader(opts.AjaxStatus)
		return
	}
	if opts.LoginURL == "" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	http.Redirect(w, r, opts.LoginURL, http.StatusFound)
}
