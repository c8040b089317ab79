package service

import (
	"context"
	"encoding/json"
	"math"
	"sync"
	"time"

	"github.com/ezpay/wallet-auth/internal/auth/domain"
	"github.com/ezpay/wallet-auth/internal/auth/store/ttl"
	"github.com/ezpay/wallet-auth/pkg/slogx"
)

// Detector tuning. The threshold adapts toward observed traffic so a chatty
// but consistent device stops tripping it, while a sudden cadence change on
// a quiet device still does.
const (
	anomalyWindowSize      = 250
	anomalyInitialThresh   = 2.7
	anomalyMinThresh       = 1.5
	anomalyMaxThresh       = 3.8
	anomalyAdjustStep      = 0.1
	anomalyDeviceIdleEvict = 60 * time.Minute

	// unset marks circular-buffer slots that have never been written.
	anomalyUnset = -1.0
)

// deviceWindow is one device's recent issuance timestamps plus its adaptive
// threshold. Guarded by the Detector map lock; windows are small and the
// math is cheap, so a single lock is fine at this traffic level.
type deviceWindow struct {
	samples   [anomalyWindowSize]float64
	next      int
	threshold float64
	lastSeen  time.Time
}

func newDeviceWindow() *deviceWindow {
	w := &deviceWindow{threshold: anomalyInitialThresh}
	for i := range w.samples {
		w.samples[i] = anomalyUnset
	}
	return w
}

// Detector flags abnormal token-issuance cadence per device using a z-score
// against the device's own recent history.
type Detector struct {
	mu      sync.Mutex
	devices map[string]*deviceWindow
	now     func() time.Time
}

func NewDetector() *Detector {
	return &Detector{devices: make(map[string]*deviceWindow), now: time.Now}
}

// WithClock overrides the detector's time source for tests.
func (d *Detector) WithClock(now func() time.Time) *Detector {
	d.now = now
	return d
}

// Observe appends a sample (epoch millis of a token issuance) to the
// device's window and reports whether it is anomalous against the adaptive
// threshold. The threshold nudges itself toward the observed z-score on
// every call, clamped to its working range.
func (d *Detector) Observe(deviceID string, tsMillis float64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	w, ok := d.devices[deviceID]
	if !ok {
		w = newDeviceWindow()
		d.devices[deviceID] = w
	}
	w.lastSeen = d.now()

	w.samples[w.next] = tsMillis
	w.next = (w.next + 1) % anomalyWindowSize

	mean, stddev, n := windowStats(&w.samples)
	if n < 2 || stddev == 0 {
		return false
	}

	z := math.Abs(tsMillis-mean) / stddev

	adjust := anomalyAdjustStep * (z / anomalyInitialThresh)
	if z > w.threshold {
		w.threshold += adjust
	} else {
		w.threshold -= adjust
	}
	w.threshold = math.Min(anomalyMaxThresh, math.Max(anomalyMinThresh, w.threshold))

	return z > w.threshold
}

// Threshold returns the device's current adaptive threshold, or the initial
// value for unknown devices.
func (d *Detector) Threshold(deviceID string) float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if w, ok := d.devices[deviceID]; ok {
		return w.threshold
	}
	return anomalyInitialThresh
}

// EvictIdle removes devices not seen within the idle window, returning how
// many were dropped. Called from the housekeeping sweep.
func (d *Detector) EvictIdle() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	cutoff := d.now().Add(-anomalyDeviceIdleEvict)
	evicted := 0
	for id, w := range d.devices {
		if w.lastSeen.Before(cutoff) {
			delete(d.devices, id)
			evicted++
		}
	}
	return evicted
}

// windowStats computes mean and sample (n-1) standard deviation over the
// written slots only.
func windowStats(samples *[anomalyWindowSize]float64) (mean, stddev float64, n int) {
	var sum float64
	for _, v := range samples {
		if v > 0 {
			sum += v
			n++
		}
	}
	if n == 0 {
		return 0, 0, 0
	}
	mean = sum / float64(n)

	if n < 2 {
		return mean, 0, n
	}
	var sq float64
	for _, v := range samples {
		if v > 0 {
			d := v - mean
			sq += d * d
		}
	}
	stddev = math.Sqrt(sq / float64(n-1))
	return mean, stddev, n
}

// Publisher fans anomaly events out to the fraud pipeline. Delivery is fire
// and forget: a full channel drops the event with a log line rather than
// blocking the request path.
type Publisher struct {
	events   chan domain.AnomalyEvent
	detector *Detector
	ttl      ttl.Store
	metrics  *Metrics

	stopOnce sync.Once
	done     chan struct{}
}

// NewPublisher starts the drain goroutine. Events are recorded to the audit
// namespace and counted; the channel buffer absorbs bursts.
func NewPublisher(detector *Detector, ttlStore ttl.Store, metrics *Metrics) *Publisher {
	p := &Publisher{
		events:   make(chan domain.AnomalyEvent, 256),
		detector: detector,
		ttl:      ttlStore,
		metrics:  metrics,
		done:     make(chan struct{}),
	}
	go p.drain()
	return p
}

// Emit queues an anomaly event without blocking.
func (p *Publisher) Emit(ctx context.Context, ev domain.AnomalyEvent) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	select {
	case p.events <- ev:
	default:
		slogx.FromContext(ctx).Warn("anomaly_event_dropped",
			"device_id", ev.DeviceID, "reason", ev.Reason)
	}
}

func (p *Publisher) drain() {
	defer close(p.done)
	for ev := range p.events {
		p.record(ev)
	}
}

func (p *Publisher) record(ev domain.AnomalyEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if p.detector != nil && ev.DeviceID != "" {
		flagged := p.detector.Observe(ev.DeviceID, float64(ev.Timestamp.UnixMilli()))
		if flagged && p.metrics != nil {
			p.metrics.AnomaliesFlagged.Inc()
		}
	}
	if p.metrics != nil {
		p.metrics.AnomalyEvents.WithLabelValues(ev.Reason).Inc()
	}

	if p.ttl == nil || ev.RequestID == "" {
		return
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := p.ttl.Set(ctx, keyAudit(ev.RequestID), string(body), auditRetention); err != nil {
		slogx.FromContext(ctx).Warn("audit_write_failed", "req_id", ev.RequestID, "err", err)
	}
}

// Close stops the drain goroutine after the queue empties.
func (p *Publisher) Close() {
	p.stopOnce.Do(func() { close(p.events) })
	<-p.done
}
