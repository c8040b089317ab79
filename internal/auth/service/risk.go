package service

import (
	"context"
	"time"

	"github.com/ezpay/wallet-auth/internal/auth/domain"
	"github.com/ezpay/wallet-auth/internal/auth/store/ttl"
	"github.com/ezpay/wallet-auth/pkg/slogx"
)

// RiskConfig tunes the advisory risk counters.
type RiskConfig struct {
	// IPVelocityLimit is the max distinct auth attempts per IP per window.
	IPVelocityLimit int64
	IPVelocityWin   time.Duration
	// LoginFreqLimit is the max issuances per user per window.
	LoginFreqLimit int64
	LoginFreqWin   time.Duration
}

// DefaultRiskConfig matches the deployed gateway settings.
func DefaultRiskConfig() RiskConfig {
	return RiskConfig{
		IPVelocityLimit: 20,
		IPVelocityWin:   5 * time.Minute,
		LoginFreqLimit:  10,
		LoginFreqWin:    time.Hour,
	}
}

// RiskService keeps advisory velocity counters. It never blocks a request;
// a breach only emits an anomaly event for downstream fraud scoring.
type RiskService struct {
	ttl       ttl.Store
	publisher *Publisher
	cfg       RiskConfig
	now       func() time.Time
}

func NewRiskService(ttlStore ttl.Store, publisher *Publisher, cfg RiskConfig) *RiskService {
	return &RiskService{ttl: ttlStore, publisher: publisher, cfg: cfg, now: time.Now}
}

// ObserveAuth records one authentication attempt against both counters.
// Errors are logged and swallowed: risk accounting must not fail a request.
func (s *RiskService) ObserveAuth(ctx context.Context, userID, deviceID, ip string) {
	now := s.now()

	if ip != "" && s.cfg.IPVelocityLimit > 0 {
		win := now.Unix() / int64(s.cfg.IPVelocityWin.Seconds())
		if n := s.bump(ctx, keyIPVelocity(ip, win), s.cfg.IPVelocityWin); n > s.cfg.IPVelocityLimit {
			s.flag(ctx, deviceID, "ip velocity exceeded")
		}
	}
	if userID != "" && s.cfg.LoginFreqLimit > 0 {
		win := now.Unix() / int64(s.cfg.LoginFreqWin.Seconds())
		if n := s.bump(ctx, keyLoginFreq(userID, win), s.cfg.LoginFreqWin); n > s.cfg.LoginFreqLimit {
			s.flag(ctx, deviceID, "login frequency exceeded")
		}
	}
}

func (s *RiskService) bump(ctx context.Context, key string, window time.Duration) int64 {
	n, err := s.ttl.Incr(ctx, key)
	if err != nil {
		slogx.FromContext(ctx).Warn("risk_counter_failed", "key", key, "err", err)
		return 0
	}
	if n == 1 {
		if err := s.ttl.Expire(ctx, key, window*2); err != nil {
			slogx.FromContext(ctx).Warn("risk_counter_expire_failed", "key", key, "err", err)
		}
	}
	return n
}

func (s *RiskService) flag(ctx context.Context, deviceID, reason string) {
	if s.publisher == nil {
		return
	}
	s.publisher.Emit(ctx, domain.AnomalyEvent{
		RequestID: requestIDFromContext(ctx),
		DeviceID:  deviceID,
		Reason:    reason,
		Timestamp: s.now().UTC(),
	})
}
