package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/middleware"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/UdeS-STI/udes-node-orchestrator/pkg/session"
)

type serialKey struct{}

// SerialFromContext returns the serial number given to the request by
// RequestLogger.
func SerialFromContext(ctx context.Context) string {
	sn, _ := ctx.Value(serialKey{}).(string)
	return sn
}

// RequestLogger gives every request a serial number and logs it once
// served, with the user its session ended up with.
func RequestLogger(logger log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sn := uuid.NewString()

			var user string
			ctx := session.WithUserCapture(context.WithValue(r.Context(), serialKey{}, sn), &user)
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			sc := trace.SpanContextFromContext(ctx)
			level.Info(logger).Log(
				"msg", "request log",
				"trace_id", sc.TraceID().String(),
				"span_id", sc.SpanID().String(),
				"request", middleware.GetReqID(ctx),
				"sn", sn,
				"user", user,
				"method", r.Method,
				"path", r.URL.Path,
				"status", status,
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
			)
		})
	}
}
