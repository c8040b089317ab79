// Package http wires the auth core to its HTTP surface: token issuance and
// rotation, device registration, nonce minting, the validation endpoint the
// edge proxy calls, and health probes.
package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/ezpay/wallet-auth/internal/auth/service"
	"github.com/ezpay/wallet-auth/internal/auth/store"
	"github.com/ezpay/wallet-auth/internal/auth/store/ttl"
	"github.com/ezpay/wallet-auth/pkg/httpx"
	"github.com/ezpay/wallet-auth/pkg/jwtx"
	"github.com/ezpay/wallet-auth/pkg/slogx"
)

// Edge rate limits, requests per second with burst. These sit in front of
// the shared distributed limiter and only guard against single-client abuse.
const (
	strictLimit  = rate.Limit(2)
	lenientLimit = rate.Limit(10)
)

// Router holds shared dependencies for HTTP handlers.
type Router struct {
	Mux         *http.ServeMux
	middlewares []httpx.Middleware

	verifier     *jwtx.Verifier
	buildVersion string
	startTime    time.Time
	logger       *slog.Logger

	store      store.Store
	ttl        ttl.Store
	keys       *jwtx.KeyManager
	promReg    *prometheus.Registry
	Tokens     *service.TokenService
	Devices    *service.DeviceService
	Validator  *service.GuardedValidator
	Risk       *service.RiskService
	StepUp     *service.StepUpService
}

func NewRouter(
	verifier *jwtx.Verifier,
	keys *jwtx.KeyManager,
	buildVersion string,
	st store.Store,
	ttlStore ttl.Store,
	promReg *prometheus.Registry,
	logger *slog.Logger,
) *Router {
	r := &Router{
		Mux:          http.NewServeMux(),
		verifier:     verifier,
		keys:         keys,
		buildVersion: buildVersion,
		startTime:    time.Now(),
		store:        st,
		ttl:          ttlStore,
		promReg:      promReg,
		logger:       logger,
	}

	r.middlewares = []httpx.Middleware{
		slogx.HTTPMiddleware(r.logger),
	}

	return r
}

func (r *Router) ApplyRoutes() {
	r.registerTokens()
	r.registerDevices()
	r.registerValidation()
	r.registerSystem()
}

// ServeHTTP implements http.Handler and applies the global middleware chain.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	httpx.Chain(r.Mux, r.middlewares...).ServeHTTP(w, req)
}

func (r *Router) registerTokens() {
	issue := &IssueHandler{Tokens: r.Tokens, Risk: r.Risk}
	r.Mux.Handle("POST /v1/auth/tokens",
		httpx.Chain(issue, httpx.RateLimitByIP(strictLimit, 5)),
	)

	refresh := &RefreshHandler{Tokens: r.Tokens, Validator: r.Validator}
	r.Mux.Handle("POST /v1/auth/refresh",
		httpx.Chain(refresh, httpx.RateLimitByIP(strictLimit, 5)),
	)

	stepUp := &StepUpHandler{StepUp: r.StepUp}
	r.Mux.Handle("POST /v1/auth/step-up",
		httpx.Chain(
			r.requireAccessToken(r.requireProof(stepUp)),
			httpx.RateLimitByIP(strictLimit, 5),
		),
	)
}

func (r *Router) registerDevices() {
	register := &RegisterDeviceHandler{Devices: r.Devices}
	r.Mux.Handle("POST /v1/auth/devices",
		httpx.Chain(register, httpx.RateLimitByIP(strictLimit, 5)),
	)

	suspend := &SuspendDeviceHandler{Devices: r.Devices}
	r.Mux.Handle("POST /v1/auth/devices/suspend",
		httpx.Chain(
			r.requireAccessToken(r.requireProof(suspend)),
			httpx.RateLimitByIP(strictLimit, 5),
		),
	)
}

func (r *Router) registerValidation() {
	nonce := &NonceHandler{Validator: r.Validator}
	r.Mux.Handle("GET /v1/auth/nonce",
		httpx.Chain(nonce, httpx.RateLimitByIP(lenientLimit, 20)),
	)

	// The edge proxy calls this for every proof-guarded API request and
	// forwards the verdict headers downstream.
	validate := &ValidateHandler{}
	r.Mux.Handle("GET /v1/auth/validate",
		httpx.Chain(
			r.requireAccessToken(r.requireProof(validate)),
			httpx.RateLimitByIP(lenientLimit, 20),
		),
	)
}

func (r *Router) registerSystem() {
	r.Mux.Handle("GET /livez", LivezHandler(r.startTime, r.buildVersion))
	r.Mux.Handle("GET /readyz", ReadyzHandler(r.startTime, r.buildVersion, r.store, r.ttl, r.keys))
	r.Mux.Handle("GET /metrics", promhttp.HandlerFor(r.promReg, promhttp.HandlerOpts{}))
}
