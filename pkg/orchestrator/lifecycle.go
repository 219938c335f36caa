package orchestrator

import (
	"context"
	"fmt"
	"net/http"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/go-chi/chi/middleware"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// Lifecycle ties the process to the health of its handlers. With
// fatalOnPanic, a panicking handler stops the process since the session
// state it was working on can no longer be trusted.
type Lifecycle struct {
	logger       log.Logger
	fatalOnPanic bool

	once   sync.Once
	done   chan struct{}
	reason error
	ready  atomic.Bool
}

func NewLifecycle(logger log.Logger, fatalOnPanic bool) *Lifecycle {
	return &Lifecycle{
		logger:       log.With(logger, "component", "lifecycle"),
		fatalOnPanic: fatalOnPanic,
		done:         make(chan struct{}),
	}
}

// Start marks the process ready and blocks until ctx is done or Shutdown
// is called. It returns the reason given to Shutdown.
func (l *Lifecycle) Start(ctx context.Context) error {
	l.ready.Store(true)
	defer l.ready.Store(false)

	select {
	case <-ctx.Done():
		return nil
	case <-l.done:
		return l.reason
	}
}

// Shutdown stops Start. A nil reason is a clean stop. Only the first call
// has an effect.
func (l *Lifecycle) Shutdown(reason error) {
	l.once.Do(func() {
		l.reason = reason
		l.ready.Store(false)
		if reason != nil {
			level.Error(l.logger).Log("msg", "shutting down", "err", reason)
		}
		close(l.done)
	})
}

// Ready reports whether Start is running.
func (l *Lifecycle) Ready() bool {
	return l.ready.Load()
}

// Done is closed by Shutdown.
func (l *Lifecycle) Done() <-chan struct{} {
	return l.done
}

// Recoverer answers 500 to requests whose handler panicked.
func (l *Lifecycle) Recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}

			level.Error(l.logger).Log("msg", "handler panicked", "request", middleware.GetReqID(r.Context()), "panic", rec, "stack", string(debug.Stack()))
			w.WriteHeader(http.StatusInternalServerError)
			if l.fatalOnPanic {
				l.Shutdown(fmt.Errorf("panic serving %s %s: %v", r.Method, r.URL.Path, rec))
			}
		}()

		next.ServeHTTP(w, r)
	})
}
