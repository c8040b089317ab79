package http

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ezpay/wallet-auth/internal/auth/service"
	"github.com/ezpay/wallet-auth/pkg/httpx"
	"github.com/ezpay/wallet-auth/pkg/jwtx"
	"github.com/ezpay/wallet-auth/pkg/slogx"
)

// Request headers the auth surface consumes.
const (
	headerDPoP         = "DPoP"
	headerDeviceID     = "X-Device-Id"
	headerDeviceIDAlt  = "DeviceId"
	headerRefreshToken = "RefreshToken"
)

type claimsKey struct{}

func claimsFromContext(ctx context.Context) *jwtx.Claims {
	c, _ := ctx.Value(claimsKey{}).(*jwtx.Claims)
	return c
}

// deviceID reads the device id from either accepted header spelling.
func deviceID(r *http.Request) string {
	if id := r.Header.Get(headerDeviceID); id != "" {
		return id
	}
	return r.Header.Get(headerDeviceIDAlt)
}

// requireAccessToken verifies the bearer token and stashes its claims. A
// token matching the device's cached session skips signature verification;
// the cache only ever holds tokens this service minted.
func (rt *Router) requireAccessToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := bearerToken(r)
		if !ok {
			writeServiceError(w, service.ErrInvalidAuthHeader)
			return
		}

		claims, err := rt.verifyOrShortCircuit(r, raw)
		if err != nil {
			writeServiceError(w, service.ErrJWTVerificationFailed)
			return
		}

		ctx := context.WithValue(r.Context(), claimsKey{}, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (rt *Router) verifyOrShortCircuit(r *http.Request, raw string) (*jwtx.Claims, error) {
	if devID := deviceID(r); devID != "" && rt.Tokens != nil {
		if cached, err := rt.Tokens.CachedSession(r.Context(), devID); err == nil && cached == raw {
			claims := &jwtx.Claims{}
			if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err == nil {
				slogx.FromContext(r.Context()).Debug("session_cache_hit", "device_id", devID)
				return claims, nil
			}
		}
	}
	return rt.verifier.Verify(raw)
}

// requireProof runs the DPoP pipeline against the request, using the claims
// the bearer middleware stashed (nil when the route has no bearer step).
func (rt *Router) requireProof(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := service.ValidationRequest{
			Proof:     r.Header.Get(headerDPoP),
			Method:    r.Method,
			URI:       requestURI(r),
			DeviceID:  deviceID(r),
			UserType:  service.UserTypeRegistered,
			RequestID: slogx.RequestID(r.Context()),
			Claims:    claimsFromContext(r.Context()),
		}
		if _, err := rt.Validator.Validate(r.Context(), req); err != nil {
			writeServiceError(w, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(h[len(prefix):]), true
}

// requestURI rebuilds the absolute URI the client signed over. Scheme comes
// from the forwarded header when the edge terminates TLS.
func requestURI(r *http.Request) string {
	scheme := "https"
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	} else if r.TLS == nil {
		scheme = "http"
	}
	return scheme + "://" + r.Host + r.URL.Path
}

func writeServiceError(w http.ResponseWriter, err error) {
	if ae, ok := service.AsAuthError(err); ok {
		httpx.WriteError(w, ae.Status, ae.Code, ae.Message)
		return
	}
	httpx.WriteError(w, http.StatusInternalServerError, "internal_error", "internal error")
}
