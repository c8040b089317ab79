package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v2/jwk"

	"github.com/ezpay/wallet-auth/internal/auth/domain"
	"github.com/ezpay/wallet-auth/internal/auth/store/ttl"
	"github.com/ezpay/wallet-auth/pkg/dpopx"
	"github.com/ezpay/wallet-auth/pkg/jwtx"
	"github.com/ezpay/wallet-auth/pkg/slogx"
)

// ValidationConfig tunes the proof validator.
type ValidationConfig struct {
	// IatMaxAge is how stale a proof's iat may be.
	IatMaxAge time.Duration
	// JTITTL is how long replay markers persist. Must exceed IatMaxAge or
	// a stale-but-unexpired proof could be replayed after its marker dies.
	JTITTL time.Duration
	// NonceTTL is the life of an issued nonce.
	NonceTTL time.Duration
	// PubKeyCacheTTL bounds the per-device proof key cache.
	PubKeyCacheTTL time.Duration
}

// DefaultValidationConfig matches the deployed gateway settings.
func DefaultValidationConfig() ValidationConfig {
	return ValidationConfig{
		IatMaxAge:      5 * time.Minute,
		JTITTL:         15 * time.Minute,
		NonceTTL:       5 * time.Minute,
		PubKeyCacheTTL: 24 * time.Hour,
	}
}

// ValidationRequest carries everything the pipeline needs about one inbound
// request. Claims is the already-verified access token's claim set; it may
// be nil for endpoints that take a proof without a bearer token.
type ValidationRequest struct {
	Proof     string
	Method    string
	URI       string
	DeviceID  string
	UserType  string
	RequestID string
	Claims    *jwtx.Claims
}

// ValidationService runs the ordered DPoP proof checks. The order is a
// security contract: cheap presence and trust checks come before signature
// work, replay marking happens before the nonce is consumed, and the nonce
// is rotated only after every check has passed.
type ValidationService struct {
	ttl       ttl.Store
	limiter   *RateLimiter
	publisher *Publisher
	metrics   *Metrics
	cfg       ValidationConfig
	now       func() time.Time
}

func NewValidationService(ttlStore ttl.Store, limiter *RateLimiter, publisher *Publisher, metrics *Metrics, cfg ValidationConfig) *ValidationService {
	return &ValidationService{
		ttl:       ttlStore,
		limiter:   limiter,
		publisher: publisher,
		metrics:   metrics,
		cfg:       cfg,
		now:       time.Now,
	}
}

// WithClock overrides the validator's time source for tests.
func (s *ValidationService) WithClock(now func() time.Time) *ValidationService {
	s.now = now
	return s
}

// Validate runs the full pipeline and returns the parsed proof on success.
// Any returned error is an *AuthError and a terminal verdict; nothing in
// this path is retried.
func (s *ValidationService) Validate(ctx context.Context, req ValidationRequest) (*dpopx.Proof, error) {
	start := s.now()
	proof, err := s.validate(ctx, req)
	s.observe(ctx, req, start, err)
	return proof, err
}

func (s *ValidationService) validate(ctx context.Context, req ValidationRequest) (*dpopx.Proof, error) {
	// 1. Presence.
	if strings.TrimSpace(req.Proof) == "" {
		return nil, ErrMissingDPoPHeader
	}

	// 2. Device trust.
	trusted, err := s.getRetry(ctx, keyTrust(req.DeviceID))
	if err != nil && !errors.Is(err, ttl.ErrNotFound) {
		return nil, err
	}
	if trusted != "true" {
		return nil, ErrUnauthenticatedDevice
	}

	// 3. Device-scoped rate check.
	if err := s.limiter.CheckDevice(ctx, req.UserType, req.DeviceID); err != nil {
		return nil, err
	}

	// 4. Parse and verify the proof signature.
	proof, err := dpopx.Parse(req.Proof)
	if err != nil {
		return nil, mapProofError(err)
	}

	// 5. Freshness.
	now := s.now()
	if proof.IssuedAt.Unix() <= 0 || proof.IssuedAt.Before(now.Add(-s.cfg.IatMaxAge)) {
		return nil, ErrDPoPBadIat
	}

	// 6. Replay. The marker is written before the remaining checks so a
	// proof that fails later still cannot be replayed into a second
	// attempt.
	if proof.JTI == "" {
		return nil, ErrDPoPMissingJTI
	}
	fresh, err := s.ttl.SetNX(ctx, keyJTI(proof.JTI), req.DeviceID, s.cfg.JTITTL)
	if err != nil {
		return nil, err
	}
	if !fresh {
		s.emitAnomaly(ctx, req, "dpop jti replay")
		return nil, ErrDPoPJTIReplay
	}

	// 7. Method and URI binding.
	if !strings.EqualFold(proof.HTM, req.Method) || normalizeURI(proof.HTU) != normalizeURI(req.URI) {
		return nil, ErrDPoPHtmHtuMismatch
	}

	// 8. Nonce.
	if proof.Nonce == "" {
		return nil, ErrDPoPMissingNonce
	}
	nonceKey := keyNonce(req.DeviceID, proof.Nonce)
	if _, err := s.getRetry(ctx, nonceKey); err != nil {
		if errors.Is(err, ttl.ErrNotFound) {
			return nil, ErrDPoPInvalidNonce
		}
		return nil, err
	}

	// 9. Token binding.
	if req.Claims != nil {
		if !req.Claims.Bound() {
			return nil, ErrMissingCnfJkt
		}
		if req.Claims.Cnf.Jkt != proof.Thumbprint {
			s.emitAnomaly(ctx, req, "dpop token binding mismatch")
			return nil, ErrTokenBindingMismatch
		}
	}

	// 10. Cache the proof key and rotate the nonce. The nonce delete is
	// the consumption point: even if the client disconnects now, this
	// nonce can never validate again.
	s.cacheProofKey(ctx, req.DeviceID, proof)
	if err := s.ttl.Del(ctx, nonceKey); err != nil {
		slogx.FromContext(ctx).Warn("nonce_rotate_failed", "device_id", req.DeviceID, "err", err)
	}
	s.writeAudit(ctx, req, proof)

	return proof, nil
}

// writeAudit records a successful validation for later forensics. Best
// effort: a failed write is logged, never a verdict.
func (s *ValidationService) writeAudit(ctx context.Context, req ValidationRequest, proof *dpopx.Proof) {
	if req.RequestID == "" {
		return
	}
	buf, err := json.Marshal(map[string]string{
		"device_id": req.DeviceID,
		"htm":       proof.HTM,
		"htu":       proof.HTU,
		"jkt":       proof.Thumbprint,
		"ts":        s.now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return
	}
	if err := s.ttl.Set(ctx, keyAudit(req.RequestID), string(buf), auditRetention); err != nil {
		slogx.FromContext(ctx).Warn("audit_write_failed", "request_id", req.RequestID, "err", err)
	}
}

// NewNonce mints a nonce for the device, valid for one validation within the
// nonce TTL.
func (s *ValidationService) NewNonce(ctx context.Context, deviceID string) (string, error) {
	nonce := uuid.NewString()
	if err := s.ttl.Set(ctx, keyNonce(deviceID, nonce), "1", s.cfg.NonceTTL); err != nil {
		return "", err
	}
	return nonce, nil
}

func (s *ValidationService) cacheProofKey(ctx context.Context, deviceID string, proof *dpopx.Proof) {
	raw, err := exportKeyJSON(proof.Key)
	if err != nil {
		return
	}
	k := keyPubKeyCache(deviceID, proof.Thumbprint)
	if err := s.ttl.Set(ctx, k, raw, s.cfg.PubKeyCacheTTL); err != nil {
		slogx.FromContext(ctx).Warn("pubkey_cache_failed", "device_id", deviceID, "err", err)
	}
}

func exportKeyJSON(key jwk.Key) (string, error) {
	pub, err := key.PublicKey()
	if err != nil {
		return "", err
	}
	buf, err := json.Marshal(pub)
	if err != nil {
		return "", err
	}
	return string(buf), nil
}

// getRetry reads a key, retrying transient failures a bounded number of
// times. Only reads are retried; every write primitive is load-bearing for
// an invariant and a failure there is a verdict.
func (s *ValidationService) getRetry(ctx context.Context, key string) (string, error) {
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		v, err := s.ttl.Get(ctx, key)
		if err == nil || errors.Is(err, ttl.ErrNotFound) {
			return v, err
		}
		lastErr = err
	}
	return "", lastErr
}

func (s *ValidationService) emitAnomaly(ctx context.Context, req ValidationRequest, reason string) {
	if s.publisher == nil {
		return
	}
	s.publisher.Emit(ctx, domain.AnomalyEvent{
		RequestID: req.RequestID,
		DeviceID:  req.DeviceID,
		Reason:    reason,
		URI:       req.URI,
		Timestamp: s.now().UTC(),
	})
}

func (s *ValidationService) observe(ctx context.Context, req ValidationRequest, start time.Time, err error) {
	if s.metrics == nil {
		return
	}
	result := "ok"
	if err != nil {
		if ae, ok := AsAuthError(err); ok {
			result = ae.Code
		} else {
			result = "internal_error"
		}
	}
	s.metrics.ValidationsTotal.WithLabelValues(result).Inc()
	s.metrics.ValidationDuration.Observe(s.now().Sub(start).Seconds())
	if err != nil {
		slogx.FromContext(ctx).Info("dpop_validation_failed",
			"device_id", req.DeviceID, "result", result)
	}
}

func mapProofError(err error) *AuthError {
	switch {
	case errors.Is(err, dpopx.ErrMissingJWK):
		return ErrDPoPMissingJWK
	case errors.Is(err, dpopx.ErrUnsupportedKey):
		return ErrDPoPUnsupportedKey
	case errors.Is(err, dpopx.ErrSignatureFailed):
		return ErrDPoPSignatureFailed
	default:
		return ErrDPoPInvalidProof
	}
}

// normalizeURI canonicalizes a URI for htm/htu comparison: scheme and host
// lowercased, default ports dropped, trailing slash trimmed, query and
// fragment ignored.
func normalizeURI(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return strings.ToLower(strings.TrimSpace(raw))
	}
	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Host)
	switch {
	case scheme == "http" && strings.HasSuffix(host, ":80"):
		host = strings.TrimSuffix(host, ":80")
	case scheme == "https" && strings.HasSuffix(host, ":443"):
		host = strings.TrimSuffix(host, ":443")
	}
	path := u.Path
	if len(path) > 1 {
		path = strings.TrimSuffix(path, "/")
	}
	if scheme == "" && host == "" {
		return path
	}
	return scheme + "://" + host + path
}
