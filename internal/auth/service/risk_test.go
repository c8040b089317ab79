package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ezpay/wallet-auth/internal/auth/store/ttl/memory"
)

func TestRiskService_CountsAttempts(t *testing.T) {
	t.Parallel()

	mem := memory.New()
	svc := NewRiskService(mem, nil, DefaultRiskConfig())
	fixed := time.Unix(1_700_000_000, 0)
	svc.now = func() time.Time { return fixed }

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		svc.ObserveAuth(ctx, "user-1", "dev-1", "203.0.113.7")
	}

	ipWin := fixed.Unix() / int64((5 * time.Minute).Seconds())
	v, err := mem.Get(ctx, keyIPVelocity("203.0.113.7", ipWin))
	require.NoError(t, err)
	require.Equal(t, "3", v)

	loginWin := fixed.Unix() / int64(time.Hour.Seconds())
	v, err = mem.Get(ctx, keyLoginFreq("user-1", loginWin))
	require.NoError(t, err)
	require.Equal(t, "3", v)
}

func TestRiskService_BreachNeverBlocks(t *testing.T) {
	t.Parallel()

	mem := memory.New()
	cfg := RiskConfig{
		IPVelocityLimit: 2,
		IPVelocityWin:   5 * time.Minute,
		LoginFreqLimit:  2,
		LoginFreqWin:    time.Hour,
	}
	detector := NewDetector()
	publisher := NewPublisher(detector, mem, nil)
	t.Cleanup(publisher.Close)

	svc := NewRiskService(mem, publisher, cfg)

	// Well past both limits; the call has no error path to block with.
	for i := 0; i < 10; i++ {
		svc.ObserveAuth(context.Background(), "user-1", "dev-1", "203.0.113.7")
	}
}

func TestRiskService_WindowsAreDisjoint(t *testing.T) {
	t.Parallel()

	mem := memory.New()
	svc := NewRiskService(mem, nil, DefaultRiskConfig())

	base := time.Unix(1_700_000_000, 0)
	svc.now = func() time.Time { return base }
	svc.ObserveAuth(context.Background(), "", "dev-1", "203.0.113.7")

	// Next window: the counter starts over.
	svc.now = func() time.Time { return base.Add(5 * time.Minute) }
	svc.ObserveAuth(context.Background(), "", "dev-1", "203.0.113.7")

	win := base.Add(5*time.Minute).Unix() / int64((5 * time.Minute).Seconds())
	v, err := mem.Get(context.Background(), keyIPVelocity("203.0.113.7", win))
	require.NoError(t, err)
	require.Equal(t, "1", v, "window %d should count only its own attempts", win)
}
