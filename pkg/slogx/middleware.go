package slogx

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/ezpay/wallet-auth/pkg/idx"
)

// HTTPMiddleware logs requests and attaches a contextual logger into request
// context. The device id header is included when present so that token and
// DPoP failures can be correlated per device.
func HTTPMiddleware(base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}

			reqID := r.Header.Get("X-Request-ID")
			if reqID == "" {
				reqID = idx.New().String()
			}

			logger := base.With(
				"method", r.Method,
				"path", r.URL.Path,
				"remote_addr", r.RemoteAddr,
			)
			if deviceID := r.Header.Get("X-Device-Id"); deviceID != "" {
				logger = logger.With("device_id", deviceID)
			}

			// WithRequestID also makes the id readable downstream via
			// RequestID, even when the edge omitted the header.
			ctx := WithRequestID(WithContext(r.Context(), logger), reqID)
			r = r.WithContext(ctx)

			logger = FromContext(ctx)

			next.ServeHTTP(rw, r)

			duration := time.Since(start).Milliseconds()
			logger.Info("http_request",
				"status", rw.status,
				"duration_ms", duration,
				"user_agent", r.UserAgent(),
			)
		})
	}
}

type responseWriter struct {
	http.ResponseWriter

	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
