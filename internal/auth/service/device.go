package service

import (
	"context"
	"encoding/base64"
	"errors"
	"time"

	"github.com/ezpay/wallet-auth/internal/auth/domain"
	"github.com/ezpay/wallet-auth/internal/auth/store"
	"github.com/ezpay/wallet-auth/internal/auth/store/ttl"
	"github.com/ezpay/wallet-auth/pkg/cryptox"
	"github.com/ezpay/wallet-auth/pkg/slogx"
)

// DeviceConfig tunes device registration.
type DeviceConfig struct {
	// TrustTTL bounds how long a device stays trusted without
	// re-registration. Zero means trust never expires.
	TrustTTL time.Duration
	// PubKeyCacheTTL bounds the registered-key cache entry.
	PubKeyCacheTTL time.Duration
}

// DefaultDeviceConfig matches the deployed gateway settings.
func DefaultDeviceConfig() DeviceConfig {
	return DeviceConfig{
		TrustTTL:       30 * 24 * time.Hour,
		PubKeyCacheTTL: 365 * 24 * time.Hour,
	}
}

// RegisterRequest describes a device registration attempt.
type RegisterRequest struct {
	DeviceID     string
	UserID       string
	MobileNumber string
	Model        string
	Platform     string
	PublicKeyPEM string
	UserAgent    string
	IP           string
}

// DeviceService manages device registration, trust and suspension.
type DeviceService struct {
	store  store.Store
	ttl    ttl.Store
	tokens *TokenService
	cfg    DeviceConfig
	now    func() time.Time
}

func NewDeviceService(st store.Store, ttlStore ttl.Store, tokens *TokenService, cfg DeviceConfig) *DeviceService {
	return &DeviceService{store: st, ttl: ttlStore, tokens: tokens, cfg: cfg, now: time.Now}
}

// Fingerprint derives the device fingerprint from the registering client's
// user agent and network address. A later registration from a different
// fingerprint is rejected, never silently accepted.
func Fingerprint(userAgent, ip string) string {
	return base64.StdEncoding.EncodeToString([]byte(userAgent + ":" + ip))
}

// Register records a device and marks it trusted. Re-registration with the
// same fingerprint refreshes the key and trust window; a fingerprint change
// is treated as a hijack attempt.
func (s *DeviceService) Register(ctx context.Context, req RegisterRequest) (*domain.Device, error) {
	if req.PublicKeyPEM != "" {
		if _, err := cryptox.ParsePublicKeyPEM(req.PublicKeyPEM); err != nil {
			return nil, ErrInvalidDeviceKey
		}
	}

	fp := Fingerprint(req.UserAgent, req.IP)
	now := s.now().UTC()

	existing, err := s.store.Devices().Get(ctx, req.DeviceID)
	switch {
	case err == nil:
		if existing.Suspended {
			return nil, ErrDeviceSuspended
		}
		if existing.Fingerprint != fp {
			slogx.FromContext(ctx).Warn("device_fingerprint_mismatch",
				"device_id", req.DeviceID)
			return nil, ErrDeviceFingerprintChanged
		}
	case errors.Is(err, store.ErrNotFound):
		existing = nil
	default:
		return nil, err
	}

	dev := &domain.Device{
		DeviceID:     req.DeviceID,
		UserID:       req.UserID,
		MobileNumber: req.MobileNumber,
		Model:        req.Model,
		Platform:     req.Platform,
		Fingerprint:  fp,
		PublicKeyPEM: req.PublicKeyPEM,
		Trusted:      true,
		RegisteredAt: now,
		LastSeenAt:   now,
	}
	if existing != nil {
		dev.RegisteredAt = existing.RegisteredAt
		if dev.PublicKeyPEM == "" {
			dev.PublicKeyPEM = existing.PublicKeyPEM
		}
	}
	if err := s.store.Devices().Upsert(ctx, dev); err != nil {
		return nil, err
	}

	if err := s.ttl.Set(ctx, keyTrust(dev.DeviceID), "true", s.cfg.TrustTTL); err != nil {
		return nil, err
	}
	if dev.PublicKeyPEM != "" {
		if err := s.ttl.Set(ctx, keyDevicePubKey(dev.DeviceID), dev.PublicKeyPEM, s.cfg.PubKeyCacheTTL); err != nil {
			slogx.FromContext(ctx).Warn("device_key_cache_failed",
				"device_id", dev.DeviceID, "err", err)
		}
	}

	return dev, nil
}

// Get loads a device, distinguishing unknown from suspended.
func (s *DeviceService) Get(ctx context.Context, deviceID string) (*domain.Device, error) {
	dev, err := s.store.Devices().Get(ctx, deviceID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrUnknownDevice
		}
		return nil, err
	}
	return dev, nil
}

// Suspend marks a device suspended, revokes its refresh chain and clears
// its trust flag so the DPoP pipeline rejects it immediately.
func (s *DeviceService) Suspend(ctx context.Context, deviceID string) error {
	if err := s.store.Devices().SetSuspended(ctx, deviceID, true); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrUnknownDevice
		}
		return err
	}
	if _, err := s.tokens.RevokeAll(ctx, deviceID); err != nil {
		return err
	}
	if err := s.ttl.Del(ctx, keyTrust(deviceID), keyDevicePubKey(deviceID)); err != nil {
		slogx.FromContext(ctx).Warn("trust_clear_failed", "device_id", deviceID, "err", err)
	}
	return nil
}

// Trusted reports whether the device currently holds a live trust flag.
func (s *DeviceService) Trusted(ctx context.Context, deviceID string) (bool, error) {
	v, err := s.ttl.Get(ctx, keyTrust(deviceID))
	if errors.Is(err, ttl.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return v == "true", nil
}
