package http

import (
	"encoding/json"
	"net/http"

	"github.com/ezpay/wallet-auth/internal/auth/service"
	"github.com/ezpay/wallet-auth/pkg/httpx"
)

// RegisterDeviceHandler enrols a device and marks it trusted. Called during
// onboarding, after the upstream identity service has verified the user.
type RegisterDeviceHandler struct {
	Devices *service.DeviceService
}

type registerDeviceRequest struct {
	DeviceID     string `json:"device_id"`
	UserID       string `json:"user_id"`
	MobileNumber string `json:"mobile_number"`
	Model        string `json:"model"`
	Platform     string `json:"platform"`
	PublicKeyPEM string `json:"public_key_pem"`
}

type registerDeviceResponse struct {
	DeviceID string `json:"device_id"`
	Trusted  bool   `json:"trusted"`
}

func (h *RegisterDeviceHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body registerDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.DeviceID == "" || body.UserID == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "device_id and user_id are required")
		return
	}

	dev, err := h.Devices.Register(r.Context(), service.RegisterRequest{
		DeviceID:     body.DeviceID,
		UserID:       body.UserID,
		MobileNumber: body.MobileNumber,
		Model:        body.Model,
		Platform:     body.Platform,
		PublicKeyPEM: body.PublicKeyPEM,
		UserAgent:    r.UserAgent(),
		IP:           clientIP(r),
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, registerDeviceResponse{
		DeviceID: dev.DeviceID,
		Trusted:  dev.Trusted,
	})
}

// SuspendDeviceHandler suspends a device, revoking its whole refresh chain.
// Runs behind the bearer and proof middlewares.
type SuspendDeviceHandler struct {
	Devices *service.DeviceService
}

type suspendDeviceRequest struct {
	DeviceID string `json:"device_id"`
}

func (h *SuspendDeviceHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body suspendDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.DeviceID == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "device_id is required")
		return
	}

	if err := h.Devices.Suspend(r.Context(), body.DeviceID); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
