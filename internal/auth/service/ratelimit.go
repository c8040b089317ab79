package service

import (
	"context"
	"time"

	"github.com/ezpay/wallet-auth/internal/auth/domain"
	"github.com/ezpay/wallet-auth/internal/auth/store/ttl"
	"github.com/ezpay/wallet-auth/pkg/slogx"
)

// User types recognised by the limiter. Existing users get a tighter budget
// than freshly registered ones because their traffic should already be
// session-token short-circuited.
const (
	UserTypeExisting   = "existing"
	UserTypeRegistered = "registered"
	UserTypeDefault    = "default"
)

// RateLimiter is a fixed-window counter on the shared TTL store. All
// instances agree on the window because it is derived from epoch time, so
// the budget holds across the whole fleet. A breach blocks the request and
// also feeds the fraud loop: the per-type counter is bumped and an anomaly
// event is emitted.
type RateLimiter struct {
	ttl       ttl.Store
	publisher *Publisher
	metrics   *Metrics
	limit     int64
	window    time.Duration
	now       func() time.Time
}

// NewRateLimiter builds a limiter with the given per-window budget.
func NewRateLimiter(store ttl.Store, publisher *Publisher, metrics *Metrics, limit int64, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = 5
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{
		ttl:       store,
		publisher: publisher,
		metrics:   metrics,
		limit:     limit,
		window:    window,
		now:       time.Now,
	}
}

// WithClock overrides the limiter's time source. Tests use it to step across
// window boundaries without sleeping.
func (rl *RateLimiter) WithClock(now func() time.Time) *RateLimiter {
	rl.now = now
	return rl
}

// limitFor maps a user type to its budget.
func (rl *RateLimiter) limitFor(userType string) int64 {
	switch userType {
	case UserTypeExisting:
		l := rl.limit / 2
		if l < 1 {
			l = 1
		}
		return l
	case UserTypeRegistered:
		return rl.limit
	default:
		return 5
	}
}

// Allow counts one hit against the key's current window and reports whether
// it is still under budget. The first writer of a window sets its expiry;
// the TTL is double the window so a slow expire never lets a counter leak
// into the next window uncounted.
func (rl *RateLimiter) Allow(ctx context.Context, userType, key string) (bool, error) {
	window := rl.now().Unix() / int64(rl.window.Seconds())
	k := keyRateWindow(userType, key, window)

	count, err := rl.ttl.Incr(ctx, k)
	if err != nil {
		return false, err
	}
	if count == 1 {
		if err := rl.ttl.Expire(ctx, k, rl.window*2); err != nil {
			slogx.FromContext(ctx).Warn("rate_window_expire_failed", "key", k, "err", err)
		}
	}
	if count > rl.limitFor(userType) {
		rl.breach(ctx, userType, key)
		return false, nil
	}
	return true, nil
}

// breach records an exceeded window for the fraud loop.
func (rl *RateLimiter) breach(ctx context.Context, userType, key string) {
	if rl.metrics != nil {
		rl.metrics.RateLimitExceeded.WithLabelValues(userType).Inc()
	}
	if rl.publisher != nil {
		rl.publisher.Emit(ctx, domain.AnomalyEvent{
			RequestID: requestIDFromContext(ctx),
			DeviceID:  key,
			Reason:    "rate limit exceeded",
			Timestamp: rl.now().UTC(),
		})
	}
}

// CheckDevice applies the limiter to a device-scoped DPoP validation,
// mapping a breach to the dpop_rate_limited verdict.
func (rl *RateLimiter) CheckDevice(ctx context.Context, userType, deviceID string) error {
	ok, err := rl.Allow(ctx, userType, deviceID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrDPoPRateLimited
	}
	return nil
}
