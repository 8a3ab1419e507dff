package server

import (
	"context"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"github.com/marcelosanchez/locateme-web/internal/telemetry"
)

// CommandTelemetry returns a middleware that emits a command event after each
// state-changing request. Best-effort: failures are logged and do not fail the
// request. If emitter is nil, the middleware no-ops.
func CommandTelemetry(emitter telemetry.EventEmitter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if emitter == nil || r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			route := r.URL.Path
			if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
				route = rc.RoutePattern()
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			ev := telemetry.NewEvent(telemetry.EventCommand)
			ev.DeviceID = chi.URLParam(r, "deviceID")
			ev.Metadata = map[string]string{
				"method":      r.Method,
				"route":       route,
				"status_code": strconv.Itoa(status),
				"duration_ms": strconv.FormatInt(time.Since(start).Milliseconds(), 10),
				"client_ip":   r.RemoteAddr,
				"request_id":  middleware.GetReqID(r.Context()),
			}
			go func() {
				emitCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := emitter.Emit(emitCtx, ev); err != nil {
					log.Printf("telemetry: command emit failed: %v", err)
				}
			}()
		})
	}
}

// RateLimit returns a middleware that rejects requests beyond limiter's rate with 429.
func RateLimit(limiter *rate.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				writeError(w, http.StatusTooManyRequests, "too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// SecurityHeaders sets conservative response headers for the local API.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		next.ServeHTTP(w, r)
	})
}
