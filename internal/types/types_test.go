package types

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"
)

func testInstrument() Instrument {
	return Instrument{
		Symbol:        "TEST-SIM",
		TickSize:      decimal.NewFromFloat(0.01),
		BaseIncrement: decimal.NewFromFloat(0.0001),
		MinNotional:   decimal.NewFromFloat(0.50),
	}
}

func TestRoundToTick(t *testing.T) {
	in := testInstrument()

	cases := []struct {
		price float64
		mode  string
		want  float64
	}{
		{100.016, "down", 100.01},
		{100.011, "up", 100.02},
		{100.014, "nearest", 100.01},
		{100.016, "nearest", 100.02},
		{100.019, "down", 100.01},
	}
	for _, c := range cases {
		got := in.RoundToTick(c.price, c.mode)
		if math.Abs(got-c.want) > 1e-9 {
			t.Errorf("RoundToTick(%v, %q) = %v, want %v", c.price, c.mode, got, c.want)
		}
	}
}

func TestMeetsMinNotional(t *testing.T) {
	in := testInstrument()

	if in.MeetsMinNotional(0.04, 10) { // 0.40 < 0.50
		t.Errorf("expected a 0.40 notional to fail the 0.50 minimum")
	}
	if !in.MeetsMinNotional(0.05, 10) { // exactly 0.50
		t.Errorf("expected an exactly-minimum notional to pass")
	}
}

func TestBookSnapshotValid(t *testing.T) {
	good := BookSnapshot{
		Bids: []BookLevel{{Price: 100.00, Size: 10}},
		Asks: []BookLevel{{Price: 100.02, Size: 10}},
	}
	if !good.Valid() {
		t.Fatalf("expected a two-sided finite book to be valid")
	}

	if (BookSnapshot{Asks: good.Asks}).Valid() {
		t.Errorf("expected a book with no bids to be invalid")
	}
	if (BookSnapshot{Bids: good.Bids}).Valid() {
		t.Errorf("expected a book with no asks to be invalid")
	}

	nan := BookSnapshot{
		Bids: []BookLevel{{Price: math.NaN(), Size: 10}},
		Asks: good.Asks,
	}
	if nan.Valid() {
		t.Errorf("expected a NaN price to invalidate the book")
	}

	negative := BookSnapshot{
		Bids: []BookLevel{{Price: 100.00, Size: -1}},
		Asks: good.Asks,
	}
	if negative.Valid() {
		t.Errorf("expected a negative size to invalidate the book")
	}
}

func TestOrderRemainingClampsAtZero(t *testing.T) {
	o := Order{OriginalSize: 10, Filled: 4}
	if got := o.Remaining(); got != 6 {
		t.Fatalf("expected remaining 6, got %v", got)
	}

	o.Filled = 11 // never expected, but remaining must not go negative
	if got := o.Remaining(); got != 0 {
		t.Fatalf("expected remaining to clamp at zero, got %v", got)
	}
}

func TestSideOpposite(t *testing.T) {
	if Buy.Opposite() != Sell || Sell.Opposite() != Buy {
		t.Fatalf("expected buy/sell to be opposites")
	}
}
