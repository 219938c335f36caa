package server

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/middleware"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"golang.org/x/time/rate"

	"github.com/UdeS-STI/udes-node-orchestrator/pkg/session"
)

// RateLimiter lets one request per interval through for every user. Requests
// without a session are keyed by remote address.
type RateLimiter struct {
	interval time.Duration
	now      func() time.Time

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	lastSeen map[string]time.Time
	swept    time.Time
}

// NewRateLimiter returns a RateLimiter. A nil now uses time.Now.
func NewRateLimiter(interval time.Duration, now func() time.Time) *RateLimiter {
	if now == nil {
		now = time.Now
	}
	return &RateLimiter{
		interval: interval,
		now:      now,
		limiters: map[string]*rate.Limiter{},
		lastSeen: map[string]time.Time{},
	}
}

// Allow reports whether key may be served now. When it may not, it returns
// how long to wait.
func (l *RateLimiter) Allow(key string) (bool, time.Duration) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.sweep(now)
	lim, ok := l.limiters[key]
	if !ok {
		lim = rate.NewLimiter(rate.Every(l.interval), 1)
		l.limiters[key] = lim
	}
	l.lastSeen[key] = now

	r := lim.ReserveN(now, 1)
	if d := r.DelayFrom(now); d > 0 {
		r.CancelAt(now)
		return false, d
	}
	return true, 0
}

// sweep forgets keys idle for longer than an interval, whose limiters are
// full again anyway.
func (l *RateLimiter) sweep(now time.Time) {
	if now.Sub(l.swept) < l.interval {
		return
	}
	for key, seen := range l.lastSeen {
		if now.Sub(seen) >= l.interval {
			delete(l.lastSeen, key)
			delete(l.limiters, key)
		}
	}
	l.swept = now
}

// Len is the number of tracked keys.
func (l *RateLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

// Middleware rejects limited requests with 429 and a Retry-After header.
func (l *RateLimiter) Middleware(logger log.Logger) func(http.Handler) http.Handler {
	logger = log.With(logger, "component", "ratelimit")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := partitionKey(r)
			if ok, wait := l.Allow(key); !ok {
				level.Debug(logger).Log("msg", "rate limited", "request", middleware.GetReqID(r.Context()), "key", key, "wait", wait)
				w.Header().Set("Retry-After", retryAfter(wait))
				http.Error(w, "request limit reached for "+strconv.Quote(key), http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// retryAfter is wait in whole seconds, at least one.
func retryAfter(wait time.Duration) string {
	secs := int(wait.Round(time.Second) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}

func partitionKey(r *http.Request) string {
	if user := session.User(r.Context()); user != "" {
		return user
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
