package quoting

import (
	"testing"
	"time"
)

func TestComputeOBI(t *testing.T) {
	cases := []struct {
		bidVol, askVol float64
		want           float64
	}{
		{90, 10, 0.8},
		{10, 90, -0.8},
		{50, 50, 0},
		{0, 0, 0}, // empty book reports neutral, not NaN
	}
	for _, c := range cases {
		if got := computeOBI(c.bidVol, c.askVol); got != c.want {
			t.Errorf("computeOBI(%v, %v) = %v, want %v", c.bidVol, c.askVol, got, c.want)
		}
	}
}

func TestClassifyRegime(t *testing.T) {
	const size = 10 // half = 5

	cases := []struct {
		position float64
		want     regime
	}{
		{0, regimeFlat},
		{5, regimeFlat}, // exactly half stays flat
		{-5, regimeFlat},
		{5.1, regimeLong},
		{-5.1, regimeShort},
	}
	for _, c := range cases {
		if got := classifyRegime(c.position, size); got != c.want {
			t.Errorf("classifyRegime(%v) = %v, want %v", c.position, got, c.want)
		}
	}
}

func TestOrderTradeRatio_EvictsOutsideWindow(t *testing.T) {
	r := newOrderTradeRatio(5 * time.Minute)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	r.RecordOrder(base)
	r.RecordOrder(base)
	r.RecordFill(base, 1)

	if ratio, ok := r.Ratio(base); !ok || ratio != 2 {
		t.Fatalf("expected ratio 2 with both orders in-window, got %v ok=%v", ratio, ok)
	}

	// Six minutes later everything has aged out: the ratio is undefined.
	if _, ok := r.Ratio(base.Add(6 * time.Minute)); ok {
		t.Fatalf("expected the ratio to be undefined once the window empties")
	}
}

func TestOrderTradeRatio_UndefinedWithoutFills(t *testing.T) {
	r := newOrderTradeRatio(5 * time.Minute)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	r.RecordOrder(base)
	if _, ok := r.Ratio(base); ok {
		t.Fatalf("expected the ratio to be undefined with zero fills")
	}
}

func TestOrderTradeRatio_ToxicityTracksFillDirection(t *testing.T) {
	r := newOrderTradeRatio(5 * time.Minute)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	if got := r.Toxicity(base); got != 0 {
		t.Fatalf("expected neutral toxicity with no fills, got %v", got)
	}

	r.RecordFill(base, 1)
	r.RecordFill(base, 1)
	r.RecordFill(base, -1)

	want := (1.0 + 1.0 - 1.0) / 3.0
	if got := r.Toxicity(base); got != want {
		t.Fatalf("expected toxicity %v, got %v", want, got)
	}
}
