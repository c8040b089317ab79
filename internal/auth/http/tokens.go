package http

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/ezpay/wallet-auth/internal/auth/service"
	"github.com/ezpay/wallet-auth/pkg/httpx"
	"github.com/ezpay/wallet-auth/pkg/slogx"
)

// IssueHandler mints the first token bundle for an authenticated principal.
// Credential verification happens upstream; this endpoint is reachable only
// from the internal identity service.
type IssueHandler struct {
	Tokens *service.TokenService
	Risk   *service.RiskService
}

type issueRequest struct {
	UserID       string `json:"user_id"`
	MobileNumber string `json:"mobile_number"`
	DeviceID     string `json:"device_id"`
}

func (h *IssueHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body issueRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.UserID == "" || body.DeviceID == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "user_id and device_id are required")
		return
	}

	ip := clientIP(r)
	if h.Risk != nil {
		h.Risk.ObserveAuth(r.Context(), body.UserID, body.DeviceID, ip)
	}

	bundle, err := h.Tokens.Issue(r.Context(), service.IssueRequest{
		UserID:       body.UserID,
		MobileNumber: body.MobileNumber,
		DeviceID:     body.DeviceID,
		IP:           ip,
		UserAgent:    r.UserAgent(),
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, bundle)
}

// RefreshHandler rotates a refresh token. The secret and device id travel
// in headers, never in the body, so they stay out of request logs. A DPoP
// proof is required but unbound: the access token being refreshed is
// usually already expired.
type RefreshHandler struct {
	Tokens    *service.TokenService
	Validator *service.GuardedValidator
}

func (h *RefreshHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	refresh := r.Header.Get(headerRefreshToken)
	devID := deviceID(r)
	if refresh == "" || devID == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "RefreshToken and DeviceId headers are required")
		return
	}

	if _, err := h.Validator.Validate(r.Context(), service.ValidationRequest{
		Proof:     r.Header.Get(headerDPoP),
		Method:    r.Method,
		URI:       requestURI(r),
		DeviceID:  devID,
		UserType:  service.UserTypeExisting,
		RequestID: slogx.RequestID(r.Context()),
	}); err != nil {
		writeServiceError(w, err)
		return
	}

	bundle, err := h.Tokens.Rotate(r.Context(), refresh, devID, clientIP(r), r.UserAgent())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, bundle)
}

// StepUpHandler exchanges a PIN check for a short-lived elevated token.
// Runs behind the bearer and proof middlewares.
type StepUpHandler struct {
	StepUp *service.StepUpService
}

type stepUpRequest struct {
	Pin   string `json:"pin"`
	Scope string `json:"scope"`
}

type stepUpResponse struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at"`
}

func (h *StepUpHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if claims == nil {
		writeServiceError(w, service.ErrJWTVerificationFailed)
		return
	}

	var body stepUpRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Pin == "" || body.Scope == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "pin and scope are required")
		return
	}

	token, exp, err := h.StepUp.Elevate(r.Context(), claims.Subject, claims.DeviceID, body.Pin, body.Scope)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, stepUpResponse{
		Token:     token,
		ExpiresAt: exp.UTC().Format("2006-01-02T15:04:05Z07:00"),
	})
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	return httpx.IPKeyExtractor(r)
}
