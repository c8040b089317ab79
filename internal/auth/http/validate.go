package http

import (
	"net/http"

	"github.com/ezpay/wallet-auth/internal/auth/service"
	"github.com/ezpay/wallet-auth/pkg/httpx"
)

// NonceHandler mints a DPoP nonce for the calling device. The response is
// never cacheable; a replayed nonce would defeat its purpose.
type NonceHandler struct {
	Validator *service.GuardedValidator
}

type nonceResponse struct {
	Nonce string `json:"nonce"`
}

func (h *NonceHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	devID := deviceID(r)
	if devID == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "X-Device-Id header is required")
		return
	}

	nonce, err := h.Validator.NewNonce(r.Context(), devID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httpx.NoCache(w)
	httpx.WriteJSON(w, http.StatusOK, nonceResponse{Nonce: nonce})
}

// ValidateHandler is the verdict endpoint the edge proxy calls per guarded
// request. By the time it runs, the bearer and proof middlewares have
// already accepted the request; it just echoes the authenticated identity
// so the proxy can forward it downstream.
type ValidateHandler struct{}

type validateResponse struct {
	Subject      string `json:"subject"`
	MobileNumber string `json:"mobile_number,omitempty"`
	DeviceID     string `json:"device_id"`
}

func (h *ValidateHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if claims == nil {
		writeServiceError(w, service.ErrJWTVerificationFailed)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, validateResponse{
		Subject:      claims.Subject,
		MobileNumber: claims.MobileNumber,
		DeviceID:     claims.DeviceID,
	})
}
