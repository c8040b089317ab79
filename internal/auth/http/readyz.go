package http

import (
	"net/http"
	"time"

	"github.com/ezpay/wallet-auth/internal/auth/store"
	"github.com/ezpay/wallet-auth/internal/auth/store/ttl"
	"github.com/ezpay/wallet-auth/pkg/httpx"
	"github.com/ezpay/wallet-auth/pkg/jwtx"
)

// ReadyzHandler checks the dependencies a request actually needs: the
// relational store, the TTL store, and a loaded signing key.
func ReadyzHandler(
	startTime time.Time,
	version string,
	st store.Store,
	ttlStore ttl.Store,
	keys *jwtx.KeyManager,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := &healthChecks{Database: "ok", TTLStore: "ok", Signer: "ok"}
		status := "ok"
		code := http.StatusOK

		if err := st.Ping(r.Context()); err != nil {
			checks.Database = "error: " + err.Error()
			status = "degraded"
			code = http.StatusServiceUnavailable
		}
		if err := ttlStore.Ping(r.Context()); err != nil {
			checks.TTLStore = "error: " + err.Error()
			status = "degraded"
			code = http.StatusServiceUnavailable
		}
		if _, err := keys.ActiveKid(); err != nil {
			checks.Signer = "error: no keys loaded"
			status = "degraded"
			code = http.StatusServiceUnavailable
		}

		httpx.WriteJSON(w, code, healthResponse{
			Status:  status,
			Uptime:  time.Since(startTime).String(),
			Version: version,
			Checks:  checks,
		})
	}
}
