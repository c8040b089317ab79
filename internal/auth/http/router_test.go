package http

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/ezpay/wallet-auth/internal/auth/service"
	"github.com/ezpay/wallet-auth/internal/auth/store/drivers/sqlite"
	"github.com/ezpay/wallet-auth/internal/auth/store/ttl/memory"
	"github.com/ezpay/wallet-auth/pkg/cryptox"
	"github.com/ezpay/wallet-auth/pkg/dpopx"
	"github.com/ezpay/wallet-auth/pkg/httpx"
	"github.com/ezpay/wallet-auth/pkg/jwtx"
	"github.com/ezpay/wallet-auth/pkg/slogx"
)

type fixture struct {
	ts     *httptest.Server
	key    *ecdsa.PrivateKey
	pubPEM string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	st, err := sqlite.Open(filepath.Join(t.TempDir(), "auth.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.ApplyMigrations())

	mem := memory.New()

	pemBytes, err := cryptox.GenerateES256Key()
	require.NoError(t, err)
	km, err := jwtx.NewKeyManagerFromPEM("test-key", pemBytes)
	require.NoError(t, err)

	promReg := prometheus.NewRegistry()
	metrics := service.NewMetrics(promReg)
	detector := service.NewDetector()
	publisher := service.NewPublisher(detector, mem, metrics)
	t.Cleanup(publisher.Close)

	tokens := service.NewTokenService(st, mem, km, publisher, metrics, service.TokenConfig{
		Issuer:     "wallet-auth",
		Audience:   "wallet-api",
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 30 * 24 * time.Hour,
		StepUpTTL:  5 * time.Minute,
		BindTokens: true,
	})
	devices := service.NewDeviceService(st, mem, tokens, service.DefaultDeviceConfig())
	limiter := service.NewRateLimiter(mem, publisher, metrics, 100, time.Minute)
	inner := service.NewValidationService(mem, limiter, publisher, metrics, service.DefaultValidationConfig())
	validator := service.NewGuardedValidator(inner, publisher, metrics, service.DefaultBreakerConfig())
	risk := service.NewRiskService(mem, publisher, service.DefaultRiskConfig())
	stepUp := service.NewStepUpService(tokens, service.PinVerifierFunc(
		func(ctx context.Context, userID, pin string) (bool, error) { return pin == "1234", nil }))

	logger := slogx.New(slogx.Config{Service: "wallet-auth", Level: "error", Format: "text"})
	router := NewRouter(jwtx.NewVerifier(km, "wallet-auth", "wallet-api"), km, "test", st, mem, promReg, logger)
	router.Tokens = tokens
	router.Devices = devices
	router.Validator = validator
	router.Risk = risk
	router.StepUp = stepUp
	router.ApplyRoutes()

	ts := httptest.NewServer(router)
	t.Cleanup(ts.Close)

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	pubPEM, err := cryptox.MarshalPublicKeyPEM(&key.PublicKey)
	require.NoError(t, err)

	return &fixture{ts: ts, key: key, pubPEM: pubPEM}
}

func (f *fixture) postJSON(t *testing.T, path string, body any, hdrs map[string]string) *http.Response {
	t.Helper()
	buf, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, f.ts.URL+path, bytes.NewReader(buf))
	require.NoError(t, err)
	for k, v := range hdrs {
		req.Header.Set(k, v)
	}
	resp, err := f.ts.Client().Do(req)
	require.NoError(t, err)
	return resp
}

func (f *fixture) register(t *testing.T) {
	t.Helper()
	resp := f.postJSON(t, "/v1/auth/devices", map[string]string{
		"device_id":      "dev-1",
		"user_id":        "user-1",
		"model":          "Pixel 9",
		"platform":       "android",
		"public_key_pem": f.pubPEM,
	}, nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func (f *fixture) issue(t *testing.T) map[string]any {
	t.Helper()
	resp := f.postJSON(t, "/v1/auth/tokens", map[string]string{
		"user_id":       "user-1",
		"mobile_number": "+61400000000",
		"device_id":     "dev-1",
	}, nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	return decodeJSON(t, resp.Body)
}

func (f *fixture) nonce(t *testing.T) string {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, f.ts.URL+"/v1/auth/nonce", nil)
	require.NoError(t, err)
	req.Header.Set(headerDeviceID, "dev-1")
	resp, err := f.ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "no-store", resp.Header.Get("Cache-Control"))
	return decodeJSON(t, resp.Body)["nonce"].(string)
}

func (f *fixture) proof(t *testing.T, method, uri, nonce string) string {
	t.Helper()
	p, err := dpopx.Sign(f.key, dpopx.SignOptions{Method: method, URI: uri, Nonce: nonce})
	require.NoError(t, err)
	return p
}

func decodeJSON(t *testing.T, r io.Reader) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.NewDecoder(r).Decode(&out))
	return out
}

func TestValidateEndpoint_FullFlow(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.register(t)
	bundle := f.issue(t)
	access := bundle["access_token"].(string)

	uri := f.ts.URL + "/v1/auth/validate"
	nonce := f.nonce(t)

	req, err := http.NewRequest(http.MethodGet, uri, nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+access)
	req.Header.Set(headerDeviceID, "dev-1")
	req.Header.Set(headerDPoP, f.proof(t, "GET", uri, nonce))

	resp, err := f.ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeJSON(t, resp.Body)
	require.Equal(t, "user-1", body["subject"])
	require.Equal(t, "dev-1", body["device_id"])

	// Same proof again: replay.
	resp2, err := f.ts.Client().Do(req.Clone(req.Context()))
	require.NoError(t, err)
	defer resp2.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp2.StatusCode)
	require.Equal(t, "dpop_jti_replay", resp2.Header.Get(httpx.HeaderErrorCode))
	require.Contains(t, resp2.Header.Get("WWW-Authenticate"), `error="dpop_jti_replay"`)
}

func TestValidateEndpoint_MissingAuthHeader(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	req, err := http.NewRequest(http.MethodGet, f.ts.URL+"/v1/auth/validate", nil)
	require.NoError(t, err)
	resp, err := f.ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "invalid_auth_header", resp.Header.Get(httpx.HeaderErrorCode))
}

func TestValidateEndpoint_BogusToken(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	req, err := http.NewRequest(http.MethodGet, f.ts.URL+"/v1/auth/validate", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer not.a.jwt")
	resp, err := f.ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Equal(t, "jwt_verification_failed", resp.Header.Get(httpx.HeaderErrorCode))
}

func TestRefreshEndpoint(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.register(t)
	bundle := f.issue(t)
	refresh := bundle["refresh_token"].(string)

	uri := f.ts.URL + "/v1/auth/refresh"

	rotate := func(secret string) *http.Response {
		nonce := f.nonce(t)
		return f.postJSON(t, "/v1/auth/refresh", nil, map[string]string{
			headerRefreshToken: secret,
			headerDeviceIDAlt:  "dev-1",
			headerDPoP:         f.proof(t, "POST", uri, nonce),
		})
	}

	resp := rotate(refresh)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	rotated := decodeJSON(t, resp.Body)
	require.NotEqual(t, refresh, rotated["refresh_token"])

	// Reusing the rotated secret kills the chain.
	resp2 := rotate(refresh)
	defer resp2.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp2.StatusCode)
	require.Equal(t, "token_expired_or_revoked", resp2.Header.Get(httpx.HeaderErrorCode))

	resp3 := rotate(rotated["refresh_token"].(string))
	defer resp3.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp3.StatusCode)
}

func TestRefreshEndpoint_MissingHeaders(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	resp := f.postJSON(t, "/v1/auth/refresh", nil, nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestNonceEndpoint_RequiresDevice(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	resp, err := f.ts.Client().Get(f.ts.URL + "/v1/auth/nonce")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRequestIDReachesHandlers(t *testing.T) {
	t.Parallel()

	logger := slogx.New(slogx.Config{Service: "wallet-auth", Level: "error", Format: "text"})
	var got string
	h := httpx.Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = slogx.RequestID(r.Context())
	}), slogx.HTTPMiddleware(logger))

	// Minted when the edge omits the header; audit records depend on it.
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	require.NotEmpty(t, got)

	// Reused when the edge supplies one.
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "req-77")
	h.ServeHTTP(httptest.NewRecorder(), req)
	require.Equal(t, "req-77", got)
}

func TestHealthEndpoints(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	resp, err := f.ts.Client().Get(f.ts.URL + "/livez")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp2, err := f.ts.Client().Get(f.ts.URL + "/readyz")
	require.NoError(t, err)
	defer resp2.Body.Close()
	require.Equal(t, http.StatusOK, resp2.StatusCode)
}
