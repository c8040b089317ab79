package service

import (
	"context"
	"errors"
	"time"

	"github.com/ezpay/wallet-auth/internal/auth/domain"
	"github.com/ezpay/wallet-auth/internal/auth/store"
	"github.com/ezpay/wallet-auth/internal/auth/store/ttl"
	"github.com/ezpay/wallet-auth/pkg/cryptox"
	"github.com/ezpay/wallet-auth/pkg/dpopx"
	"github.com/ezpay/wallet-auth/pkg/idx"
	"github.com/ezpay/wallet-auth/pkg/jwtx"
	"github.com/ezpay/wallet-auth/pkg/slogx"
)

// TokenConfig tunes token lifetimes and claim values.
type TokenConfig struct {
	Issuer     string
	Audience   string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	StepUpTTL  time.Duration
	// BindTokens embeds cnf.jkt in access tokens for devices with a
	// registered proof-of-possession key.
	BindTokens bool
}

// IssueRequest describes a token issuance for an authenticated principal.
type IssueRequest struct {
	UserID       string
	MobileNumber string
	DeviceID     string
	IP           string
	UserAgent    string
}

// TokenService mints access tokens and owns the refresh-token rotation
// chain. All row transitions happen under a transaction so that two
// concurrent rotations of the same secret cannot both succeed.
type TokenService struct {
	store     store.Store
	ttl       ttl.Store
	keys      *jwtx.KeyManager
	publisher *Publisher
	metrics   *Metrics
	cfg       TokenConfig
	now       func() time.Time
}

func NewTokenService(st store.Store, ttlStore ttl.Store, keys *jwtx.KeyManager, publisher *Publisher, metrics *Metrics, cfg TokenConfig) *TokenService {
	return &TokenService{
		store:     st,
		ttl:       ttlStore,
		keys:      keys,
		publisher: publisher,
		metrics:   metrics,
		cfg:       cfg,
		now:       time.Now,
	}
}

// WithClock overrides the service time source for tests.
func (s *TokenService) WithClock(now func() time.Time) *TokenService {
	s.now = now
	return s
}

// Issue mints a fresh access plus refresh pair for the device. The refresh
// secret is returned in plaintext exactly once; only its fingerprint is
// persisted.
func (s *TokenService) Issue(ctx context.Context, req IssueRequest) (*domain.TokenBundle, error) {
	now := s.now().UTC()

	access, accessExp, err := s.signAccess(ctx, req.UserID, req.MobileNumber, req.DeviceID)
	if err != nil {
		return nil, err
	}

	refreshPlain, err := cryptox.GenerateToken(cryptox.TokenSize512)
	if err != nil {
		return nil, err
	}
	refreshExp := now.Add(s.cfg.RefreshTTL)

	row := &domain.RefreshToken{
		ID:           idx.New(),
		TokenHash:    cryptox.FingerprintToken(refreshPlain),
		UserID:       req.UserID,
		MobileNumber: req.MobileNumber,
		DeviceID:     req.DeviceID,
		IssuedAt:     now,
		ExpiresAt:    refreshExp,
		IP:           req.IP,
		UserAgent:    req.UserAgent,
	}
	// A fresh issuance starts a new chain; any earlier chain for the
	// device is retired so at most one stays active.
	err = s.store.WithTx(ctx, func(tx store.Tx) error {
		if _, err := tx.RefreshTokens().RevokeAllForDevice(ctx, req.DeviceID, now); err != nil {
			return err
		}
		return tx.RefreshTokens().Create(ctx, row)
	})
	if err != nil {
		return nil, err
	}

	s.cacheSession(ctx, req.DeviceID, access)
	if s.metrics != nil {
		s.metrics.RotationsTotal.WithLabelValues("issue").Inc()
	}

	return &domain.TokenBundle{
		AccessToken:      access,
		RefreshToken:     refreshPlain,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
		TokenType:        "DPoP",
	}, nil
}

// Rotate exchanges a presented refresh secret for a fresh bundle. A secret
// whose row is already revoked is proof of theft or replay: every token for
// that device is revoked before the reuse verdict is returned.
func (s *TokenService) Rotate(ctx context.Context, refreshPlain, deviceID, ip, userAgent string) (*domain.TokenBundle, error) {
	now := s.now().UTC()
	hash := cryptox.FingerprintToken(refreshPlain)

	old, err := s.store.RefreshTokens().GetByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.rotationResult("invalid")
			return nil, ErrInvalidRefreshToken
		}
		return nil, err
	}

	if old.DeviceID != deviceID {
		s.rotationResult("device_mismatch")
		return nil, ErrDeviceMismatch
	}
	if old.Expired(now) {
		s.rotationResult("expired")
		return nil, ErrTokenExpiredOrRevoked
	}
	if old.Revoked {
		return nil, s.handleReuse(ctx, old, now)
	}

	newID := idx.New()
	refreshNew, err := cryptox.GenerateToken(cryptox.TokenSize512)
	if err != nil {
		return nil, err
	}

	reused := false
	err = s.store.WithTx(ctx, func(tx store.Tx) error {
		// Only one rotation may win the revoke of the old row. Losing
		// the race means someone else already rotated this secret, and
		// a second presentation of a rotated secret is reuse.
		won, err := tx.RefreshTokens().RevokeIfActive(ctx, old.ID, newID, now)
		if err != nil {
			return err
		}
		if !won {
			reused = true
			return nil
		}
		return tx.RefreshTokens().Create(ctx, &domain.RefreshToken{
			ID:           newID,
			TokenHash:    cryptox.FingerprintToken(refreshNew),
			UserID:       old.UserID,
			MobileNumber: old.MobileNumber,
			DeviceID:     old.DeviceID,
			IssuedAt:     now,
			ExpiresAt:    now.Add(s.cfg.RefreshTTL),
			IP:           ip,
			UserAgent:    userAgent,
		})
	})
	if err != nil {
		return nil, err
	}
	if reused {
		return nil, s.handleReuse(ctx, old, now)
	}

	access, accessExp, err := s.signAccess(ctx, old.UserID, old.MobileNumber, old.DeviceID)
	if err != nil {
		return nil, err
	}
	s.cacheSession(ctx, old.DeviceID, access)
	s.rotationResult("ok")

	return &domain.TokenBundle{
		AccessToken:      access,
		RefreshToken:     refreshNew,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: now.Add(s.cfg.RefreshTTL),
		TokenType:        "DPoP",
	}, nil
}

func (s *TokenService) handleReuse(ctx context.Context, old *domain.RefreshToken, now time.Time) error {
	n, err := s.store.RefreshTokens().RevokeAllForDevice(ctx, old.DeviceID, now)
	if err != nil {
		slogx.FromContext(ctx).Error("reuse_cascade_failed",
			"device_id", old.DeviceID, "err", err)
	} else {
		slogx.FromContext(ctx).Warn("refresh_reuse_detected",
			"device_id", old.DeviceID, "revoked", n)
	}
	s.dropSession(ctx, old.DeviceID)

	if s.metrics != nil {
		s.metrics.ReuseDetected.Inc()
	}
	s.rotationResult("reuse")
	if s.publisher != nil {
		s.publisher.Emit(ctx, domain.AnomalyEvent{
			RequestID: requestIDFromContext(ctx),
			DeviceID:  old.DeviceID,
			Reason:    "refresh token reuse",
			Timestamp: now,
		})
	}
	return ErrTokenExpiredOrRevoked
}

// RevokeAll revokes every refresh token for the device and clears its
// cached session. Used on device suspension and on detected reuse.
func (s *TokenService) RevokeAll(ctx context.Context, deviceID string) (int64, error) {
	n, err := s.store.RefreshTokens().RevokeAllForDevice(ctx, deviceID, s.now().UTC())
	if err != nil {
		return 0, err
	}
	s.dropSession(ctx, deviceID)
	return n, nil
}

// StepUp mints a short-lived elevated token after out-of-band verification
// (PIN check handled by the caller's verifier).
func (s *TokenService) StepUp(ctx context.Context, userID, deviceID, scope string) (string, time.Time, error) {
	claims := jwtx.NewStepUpClaims(s.cfg.Issuer, s.cfg.Audience, userID, deviceID, scope, s.cfg.StepUpTTL)
	claims, err := s.bindClaims(ctx, claims, deviceID)
	if err != nil {
		return "", time.Time{}, err
	}
	token, err := s.keys.Sign(claims)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, claims.ExpiresAt.Time, nil
}

// CachedSession returns the device's cached access token, if any. The
// gateway uses it to short-circuit full verification for hot sessions.
func (s *TokenService) CachedSession(ctx context.Context, deviceID string) (string, error) {
	return s.ttl.Get(ctx, keySessionToken(deviceID))
}

func (s *TokenService) signAccess(ctx context.Context, userID, mobileNumber, deviceID string) (string, time.Time, error) {
	claims := jwtx.NewAccessClaims(s.cfg.Issuer, s.cfg.Audience, userID, mobileNumber, deviceID, s.cfg.AccessTTL)
	claims, err := s.bindClaims(ctx, claims, deviceID)
	if err != nil {
		return "", time.Time{}, err
	}
	token, err := s.keys.Sign(claims)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, claims.ExpiresAt.Time, nil
}

// bindClaims embeds cnf.jkt when binding is enabled and the device has a
// registered key. A device without a key gets an unbound token; the DPoP
// pipeline then rejects it at the binding step for proof-guarded routes.
func (s *TokenService) bindClaims(ctx context.Context, claims jwtx.Claims, deviceID string) (jwtx.Claims, error) {
	if !s.cfg.BindTokens || deviceID == "" {
		return claims, nil
	}
	dev, err := s.store.Devices().Get(ctx, deviceID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return claims, nil
		}
		return claims, err
	}
	if dev.PublicKeyPEM == "" {
		return claims, nil
	}
	pub, err := cryptox.ParsePublicKeyPEM(dev.PublicKeyPEM)
	if err != nil {
		return claims, ErrInvalidDeviceKey
	}
	jkt, err := dpopx.ThumbprintRaw(pub)
	if err != nil {
		return claims, err
	}
	return claims.WithBinding(jkt), nil
}

func (s *TokenService) cacheSession(ctx context.Context, deviceID, access string) {
	if err := s.ttl.Set(ctx, keySessionToken(deviceID), access, s.cfg.AccessTTL); err != nil {
		slogx.FromContext(ctx).Warn("session_cache_failed", "device_id", deviceID, "err", err)
	}
}

func (s *TokenService) dropSession(ctx context.Context, deviceID string) {
	if err := s.ttl.Del(ctx, keySessionToken(deviceID)); err != nil {
		slogx.FromContext(ctx).Warn("session_drop_failed", "device_id", deviceID, "err", err)
	}
}

func (s *TokenService) rotationResult(result string) {
	if s.metrics != nil {
		s.metrics.RotationsTotal.WithLabelValues(result).Inc()
	}
}
