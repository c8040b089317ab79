package httpx

import (
	"net"
	"net/http"
	"sync"

	"golang.org/x/time/rate"
)

// KeyExtractor derives the bucketing key for a request.
type KeyExtractor func(r *http.Request) string

// IPKeyExtractor buckets by remote IP, ignoring the port.
func IPKeyExtractor(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// RateLimit applies an in-process token bucket per extracted key. This is an
// edge guard in front of the shared distributed limiter; it exists so a
// single hot client cannot saturate the backend counters.
func RateLimit(rps rate.Limit, burst int, key KeyExtractor) Middleware {
	var limiters sync.Map

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			k := key(r)
			v, _ := limiters.LoadOrStore(k, rate.NewLimiter(rps, burst))
			if !v.(*rate.Limiter).Allow() {
				WriteError(w, http.StatusTooManyRequests, "rate_limit_exceeded", "too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RateLimitByIP is RateLimit keyed by client IP.
func RateLimitByIP(rps rate.Limit, burst int) Middleware {
	return RateLimit(rps, burst, IPKeyExtractor)
}
