package service

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is the Prometheus instrumentation for the auth core.
type Metrics struct {
	ValidationsTotal   *prometheus.CounterVec
	ValidationDuration prometheus.Histogram
	RateLimitExceeded  *prometheus.CounterVec
	RotationsTotal     *prometheus.CounterVec
	ReuseDetected      prometheus.Counter
	BreakerState       prometheus.Gauge
	AnomalyEvents      *prometheus.CounterVec
	AnomaliesFlagged   prometheus.Counter
}

// NewMetrics builds and registers the metric set. Passing a fresh registry
// keeps tests isolated from the default one.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ValidationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "walletauth",
			Name:      "dpop_validations_total",
			Help:      "DPoP validation outcomes by result code.",
		}, []string{"result"}),
		ValidationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "walletauth",
			Name:      "dpop_validation_seconds",
			Help:      "DPoP validation latency.",
			Buckets:   prometheus.DefBuckets,
		}),
		RateLimitExceeded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "walletauth",
			Name:      "rate_limit_exceeded_total",
			Help:      "Rate limit breaches by user type.",
		}, []string{"user_type"}),
		RotationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "walletauth",
			Name:      "refresh_rotations_total",
			Help:      "Refresh token rotations by outcome.",
		}, []string{"result"}),
		ReuseDetected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "walletauth",
			Name:      "refresh_reuse_detected_total",
			Help:      "Revoked refresh tokens presented again.",
		}),
		BreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "walletauth",
			Name:      "validator_breaker_state",
			Help:      "Circuit breaker state (0 closed, 1 half-open, 2 open).",
		}),
		AnomalyEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "walletauth",
			Name:      "anomaly_events_total",
			Help:      "Anomaly events emitted by reason.",
		}, []string{"reason"}),
		AnomaliesFlagged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "walletauth",
			Name:      "anomalies_flagged_total",
			Help:      "Observations the adaptive detector flagged.",
		}),
	}

	reg.MustRegister(
		m.ValidationsTotal, m.ValidationDuration, m.RateLimitExceeded,
		m.RotationsTotal, m.ReuseDetected, m.BreakerState,
		m.AnomalyEvents, m.AnomaliesFlagged,
	)
	return m
}
