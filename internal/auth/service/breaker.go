package service

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"

	"github.com/ezpay/wallet-auth/internal/auth/domain"
	"github.com/ezpay/wallet-auth/pkg/dpopx"
	"github.com/ezpay/wallet-auth/pkg/slogx"
)

// BreakerConfig tunes the validator circuit breaker.
type BreakerConfig struct {
	// FailureRatio trips the breaker once exceeded within a window.
	FailureRatio float64
	// MinRequests is the minimum window volume before the ratio applies.
	MinRequests uint32
	// Cooldown is how long the breaker stays open before half-open trials.
	Cooldown time.Duration
	// TrialRequests is how many half-open calls may pass through.
	TrialRequests uint32
}

// DefaultBreakerConfig matches the deployed gateway settings.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureRatio:  0.5,
		MinRequests:   10,
		Cooldown:      30 * time.Second,
		TrialRequests: 3,
	}
}

// GuardedValidator wraps the validation pipeline in a circuit breaker.
// Validation verdicts are not failures; only dependency errors (TTL store
// down, timeouts) count toward the trip ratio. While open, calls short
// circuit to a service_unavailable verdict and still emit an anomaly event,
// without touching the real pipeline.
type GuardedValidator struct {
	inner     *ValidationService
	breaker   *gobreaker.CircuitBreaker
	publisher *Publisher
	metrics   *Metrics
}

func NewGuardedValidator(inner *ValidationService, publisher *Publisher, metrics *Metrics, cfg BreakerConfig) *GuardedValidator {
	g := &GuardedValidator{inner: inner, publisher: publisher, metrics: metrics}

	g.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "dpop-validator",
		MaxRequests: cfg.TrialRequests,
		Timeout:     cfg.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return ratio >= cfg.FailureRatio
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			// A terminal auth verdict is the validator working as
			// intended, not the validator failing.
			_, isVerdict := AsAuthError(err)
			return isVerdict
		},
		OnStateChange: g.onStateChange,
	})
	return g
}

// Validate runs the pipeline through the breaker.
func (g *GuardedValidator) Validate(ctx context.Context, req ValidationRequest) (*dpopx.Proof, error) {
	out, err := g.breaker.Execute(func() (any, error) {
		return g.inner.Validate(ctx, req)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, g.fallback(ctx, req)
		}
		return nil, err
	}
	return out.(*dpopx.Proof), nil
}

// NewNonce passes through; nonce issuance is cheap and not breaker-guarded.
func (g *GuardedValidator) NewNonce(ctx context.Context, deviceID string) (string, error) {
	return g.inner.NewNonce(ctx, deviceID)
}

func (g *GuardedValidator) fallback(ctx context.Context, req ValidationRequest) error {
	if g.publisher != nil {
		g.publisher.Emit(ctx, domain.AnomalyEvent{
			RequestID: req.RequestID,
			DeviceID:  req.DeviceID,
			Reason:    "validator circuit open",
			URI:       req.URI,
		})
	}
	if g.metrics != nil {
		g.metrics.ValidationsTotal.WithLabelValues(ErrServiceUnavailable.Code).Inc()
	}
	return ErrServiceUnavailable
}

func (g *GuardedValidator) onStateChange(name string, from, to gobreaker.State) {
	slogx.FromContext(context.Background()).Warn("breaker_state_change",
		"breaker", name, "from", from.String(), "to", to.String())
	if g.metrics == nil {
		return
	}
	switch to {
	case gobreaker.StateClosed:
		g.metrics.BreakerState.Set(0)
	case gobreaker.StateHalfOpen:
		g.metrics.BreakerState.Set(1)
	case gobreaker.StateOpen:
		g.metrics.BreakerState.Set(2)
	}
}
