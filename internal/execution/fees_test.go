package execution

import (
	"testing"
	"time"
)

func TestActiveRate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		rolling float64
		wantBps float64
	}{
		{0, 40},
		{9_999, 40},
		{10_000, 25},
		{50_000, 15},
		{100_000, 10},
		{1_000_000, 8},
		{15_000_000, 6},
		{75_000_000, 3},
		{250_000_000, 0},
		{1_000_000_000, 0},
	}

	for _, c := range cases {
		got := activeRate(defaultFeeTiers, c.rolling)
		if want := c.wantBps / 10000.0; got != want {
			t.Errorf("activeRate(%v) = %v, want %v (%v bps)", c.rolling, got, want, c.wantBps)
		}
	}
}

func TestVolumeHistoryEvictsAfter30Days(t *testing.T) {
	t.Parallel()

	v := newVolumeHistory()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	v.add(1000, base)
	v.add(2000, base.Add(40*24*time.Hour))

	if got, want := v.rollingTotal(), 2000.0; got != want {
		t.Errorf("rollingTotal = %v, want %v", got, want)
	}
}

func TestVolumeHistoryKeepsRecentEntries(t *testing.T) {
	t.Parallel()

	v := newVolumeHistory()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	v.add(500, base)
	v.add(500, base.Add(time.Hour))

	if got, want := v.rollingTotal(), 1000.0; got != want {
		t.Errorf("rollingTotal = %v, want %v", got, want)
	}
}
