package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDetector_SteadyCadenceNotFlaggedEarly(t *testing.T) {
	t.Parallel()

	d := NewDetector()

	// Regular issuance keeps the z-score well under the threshold while
	// the threshold is still near its starting value.
	base := float64(1_700_000_000_000)
	for i := 0; i < 10; i++ {
		flagged := d.Observe("dev-1", base+float64(i)*1000)
		require.False(t, flagged, "sample %d", i)
	}
}

func TestDetector_ZeroVarianceNotFlagged(t *testing.T) {
	t.Parallel()

	d := NewDetector()

	// Identical timestamps have zero spread; no sample can be an outlier.
	for i := 0; i < 50; i++ {
		require.False(t, d.Observe("dev-1", 1_700_000_000_000))
	}
}

func TestDetector_FewSamplesNeverFlagged(t *testing.T) {
	t.Parallel()

	d := NewDetector()
	require.False(t, d.Observe("dev-1", 1000))
	require.False(t, d.Observe("dev-1", 1_000_000_000))
}

func TestDetector_OutlierFlagged(t *testing.T) {
	t.Parallel()

	d := NewDetector()

	base := float64(1_700_000_000_000)
	for i := 0; i < 50; i++ {
		d.Observe("dev-1", base+float64(i)*1000)
	}

	// A sample far outside the established cadence.
	flagged := d.Observe("dev-1", base+1e9)
	require.True(t, flagged)
}

func TestDetector_ThresholdAdaptsWithinClamp(t *testing.T) {
	t.Parallel()

	d := NewDetector()
	require.InDelta(t, 2.7, d.Threshold("dev-1"), 0.0001, "unknown devices report the initial threshold")

	base := float64(1_700_000_000_000)
	for i := 0; i < 200; i++ {
		d.Observe("dev-1", base+float64(i)*1000)
	}

	th := d.Threshold("dev-1")
	require.GreaterOrEqual(t, th, 1.5)
	require.LessOrEqual(t, th, 3.8)
	require.NotEqual(t, 2.7, th, "threshold should have moved off its start")
}

func TestDetector_EvictIdle(t *testing.T) {
	t.Parallel()

	now := time.Unix(1000, 0)
	d := NewDetector().WithClock(func() time.Time { return now })

	d.Observe("dev-old", 1)
	now = now.Add(61 * time.Minute)
	d.Observe("dev-new", 1)

	evicted := d.EvictIdle()
	require.Equal(t, 1, evicted)
	require.InDelta(t, 2.7, d.Threshold("dev-old"), 0.0001, "evicted device resets to initial threshold")
}
