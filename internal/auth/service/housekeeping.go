package service

import (
	"context"
	"time"

	"github.com/ezpay/wallet-auth/internal/auth/store"
	"github.com/ezpay/wallet-auth/pkg/jwtx"
	"github.com/ezpay/wallet-auth/pkg/slogx"
)

// HousekeepingConfig tunes the background maintenance loop.
type HousekeepingConfig struct {
	Interval time.Duration
	// RefreshRetention is how long expired refresh rows are kept for the
	// audit trail before being purged.
	RefreshRetention time.Duration
	// KeyDir, when set, is re-read every interval so signing key rotation
	// needs no restart.
	KeyDir string
}

// DefaultHousekeepingConfig matches the deployed gateway settings.
func DefaultHousekeepingConfig() HousekeepingConfig {
	return HousekeepingConfig{
		Interval:         10 * time.Minute,
		RefreshRetention: 90 * 24 * time.Hour,
	}
}

// Housekeeper runs periodic maintenance: purging refresh rows past
// retention, evicting idle anomaly windows, and reloading signing keys.
type Housekeeper struct {
	store    store.Store
	detector *Detector
	keys     *jwtx.KeyManager
	cfg      HousekeepingConfig

	stopCh chan struct{}
	doneCh chan struct{}
}

func NewHousekeeper(st store.Store, detector *Detector, keys *jwtx.KeyManager, cfg HousekeepingConfig) *Housekeeper {
	return &Housekeeper{
		store:    st,
		detector: detector,
		keys:     keys,
		cfg:      cfg,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start launches the loop. Call Stop to halt it.
func (h *Housekeeper) Start() {
	go h.run()
}

// Stop halts the loop and waits for the in-flight sweep to finish.
func (h *Housekeeper) Stop() {
	close(h.stopCh)
	<-h.doneCh
}

func (h *Housekeeper) run() {
	defer close(h.doneCh)

	ticker := time.NewTicker(h.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-h.stopCh:
			return
		case <-ticker.C:
			h.sweep()
		}
	}
}

func (h *Housekeeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	log := slogx.FromContext(ctx)

	cutoff := time.Now().UTC().Add(-h.cfg.RefreshRetention)
	if n, err := h.store.RefreshTokens().PurgeExpiredBefore(ctx, cutoff); err != nil {
		log.Error("refresh_purge_failed", "err", err)
	} else if n > 0 {
		log.Info("refresh_purged", "rows", n)
	}

	if h.detector != nil {
		if n := h.detector.EvictIdle(); n > 0 {
			log.Info("anomaly_windows_evicted", "devices", n)
		}
	}

	if h.keys != nil && h.cfg.KeyDir != "" {
		if err := h.keys.Reload(h.cfg.KeyDir); err != nil {
			log.Error("key_reload_failed", "dir", h.cfg.KeyDir, "err", err)
		}
	}
}
