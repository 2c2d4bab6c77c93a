package execution

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"mm-engine/internal/bus"
	"mm-engine/internal/clock"
	"mm-engine/internal/types"
)

func testInstrument() types.Instrument {
	return types.Instrument{
		Symbol:        "TEST-SIM",
		TickSize:      decimal.NewFromFloat(0.01),
		BaseIncrement: decimal.NewFromFloat(0.0001),
		MinNotional:   decimal.NewFromFloat(0.50),
	}
}

func newTestSimulator() (*Simulator, *bus.Bus) {
	b := bus.New()
	clk := clock.New(clock.DefaultConfig(), 1)
	sim := New(testInstrument(), 1000, b, clk, 42)
	return sim, b
}

func primeBook(sim *Simulator, now time.Time) {
	sim.OnBookUpdate(types.BookSnapshot{
		Bids:      []types.BookLevel{{Price: 100.00, Size: 10}},
		Asks:      []types.BookLevel{{Price: 100.02, Size: 10}},
		Timestamp: now,
	}, now)
}

// Clean fill: an order with a tiny queue-ahead fully fills when a
// matching-side trade print clears it.
func TestSimulator_CleanFill(t *testing.T) {
	sim, b := newTestSimulator()
	now := time.Now()
	primeBook(sim, now)

	var fills []types.FillEvent
	b.OnFill(func(evt types.FillEvent) { fills = append(fills, evt) })

	order := sim.Submit(types.LiveOrder{Side: types.Buy, Price: 100.00, Original: 1}, now)
	// Force the queue-ahead down deterministically for a clean test.
	forceQueueAhead(sim, order.ID, 0)

	if !sim.OnTrade(100.00, 5, types.Sell, now, now.Add(time.Millisecond)) {
		t.Fatalf("expected OnTrade to accept a fresh timestamp")
	}
	sim.OnBookUpdate(sim.lastBook, now.Add(2*time.Millisecond))
	sim.OnBookUpdate(sim.lastBook, now.Add(2*time.Second)) // ensure the trade_update delay has elapsed

	if len(fills) != 1 {
		t.Fatalf("expected exactly one fill, got %d", len(fills))
	}
	if fills[0].FillQty != 1 {
		t.Fatalf("expected full fill of size 1, got %v", fills[0].FillQty)
	}
	if sim.Position() != 1 {
		t.Fatalf("expected position to increase by 1, got %v", sim.Position())
	}
}

// Partial fill: a trade smaller than queue-ahead+remaining only reduces
// queue-ahead and produces no fill; one that reaches but doesn't fully
// consume remaining produces a partial fill, leaving the order resting.
func TestSimulator_PartialFillLeavesOrderResting(t *testing.T) {
	sim, b := newTestSimulator()
	now := time.Now()
	primeBook(sim, now)

	var fills []types.FillEvent
	b.OnFill(func(evt types.FillEvent) { fills = append(fills, evt) })

	order := sim.Submit(types.LiveOrder{Side: types.Buy, Price: 100.00, Original: 10}, now)
	forceQueueAhead(sim, order.ID, 2)

	// First trade of size 2 exactly clears queue-ahead with nothing left over.
	sim.OnTrade(100.00, 2, types.Sell, now, now.Add(time.Millisecond))
	sim.OnBookUpdate(sim.lastBook, now.Add(2*time.Second))
	if len(fills) != 0 {
		t.Fatalf("expected zero fill when trade size exactly equals queue-ahead, got %d", len(fills))
	}

	// Second trade of size 3 now fills against remaining.
	sim.OnTrade(100.00, 3, types.Sell, now.Add(3*time.Second), now.Add(3*time.Second+time.Millisecond))
	sim.OnBookUpdate(sim.lastBook, now.Add(5*time.Second))

	if len(fills) != 1 {
		t.Fatalf("expected one partial fill, got %d", len(fills))
	}
	if fills[0].FillQty != 3 {
		t.Fatalf("expected partial fill qty 3, got %v", fills[0].FillQty)
	}
	if fills[0].RemainingQty != 7 {
		t.Fatalf("expected 7 remaining after a 3-unit partial fill of a 10-unit order, got %v", fills[0].RemainingQty)
	}
	if _, ok := sim.LiveOrder(order.ID); !ok {
		t.Fatalf("expected the order to still be live after a partial fill")
	}
}

// Boundary: a trade on the same side as the resting order (not the
// opposite/aggressor side) never matches it.
func TestSimulator_SameSideTradeNeverFills(t *testing.T) {
	sim, b := newTestSimulator()
	now := time.Now()
	primeBook(sim, now)

	var fills []types.FillEvent
	b.OnFill(func(evt types.FillEvent) { fills = append(fills, evt) })

	order := sim.Submit(types.LiveOrder{Side: types.Buy, Price: 100.00, Original: 1}, now)
	forceQueueAhead(sim, order.ID, 0)

	sim.OnTrade(100.00, 5, types.Buy, now, now.Add(time.Millisecond)) // aggressor is buy, order is buy: no match
	sim.OnBookUpdate(sim.lastBook, now.Add(2*time.Second))

	if len(fills) != 0 {
		t.Fatalf("expected zero fills for a same-side trade print, got %d", len(fills))
	}
}

// Boundary: a trade print more than half a tick away from the order price
// never matches it.
func TestSimulator_PriceOutsideHalfTickNeverFills(t *testing.T) {
	sim, b := newTestSimulator()
	now := time.Now()
	primeBook(sim, now)

	var fills []types.FillEvent
	b.OnFill(func(evt types.FillEvent) { fills = append(fills, evt) })

	order := sim.Submit(types.LiveOrder{Side: types.Buy, Price: 100.00, Original: 1}, now)
	forceQueueAhead(sim, order.ID, 0)

	sim.OnTrade(100.02, 5, types.Sell, now, now.Add(time.Millisecond)) // two ticks away
	sim.OnBookUpdate(sim.lastBook, now.Add(2*time.Second))

	if len(fills) != 0 {
		t.Fatalf("expected zero fills for a trade print outside half a tick of the order price, got %d", len(fills))
	}
}

// Cancel races a trade: a cancel scheduled before a trade_update should
// remove the order from the table so the later trade has nothing to match.
func TestSimulator_CancelRacesTrade(t *testing.T) {
	sim, b := newTestSimulator()
	now := time.Now()
	primeBook(sim, now)

	var fills []types.FillEvent
	var cancels []types.CancelEvent
	b.OnFill(func(evt types.FillEvent) { fills = append(fills, evt) })
	b.OnCancel(func(evt types.CancelEvent) { cancels = append(cancels, evt) })

	order := sim.Submit(types.LiveOrder{Side: types.Buy, Price: 100.00, Original: 1}, now)
	forceQueueAhead(sim, order.ID, 0)

	sim.Cancel(order.ID, now) // scheduled at now + U(150,400)ms
	sim.OnBookUpdate(sim.lastBook, now.Add(500*time.Millisecond))

	if len(cancels) != 1 {
		t.Fatalf("expected exactly one cancel notification, got %d", len(cancels))
	}
	if _, ok := sim.LiveOrder(order.ID); ok {
		t.Fatalf("expected the order to be gone from the live table after cancel fires")
	}

	sim.OnTrade(100.00, 5, types.Sell, now.Add(500*time.Millisecond), now.Add(501*time.Millisecond))
	sim.OnBookUpdate(sim.lastBook, now.Add(2*time.Second))

	if len(fills) != 0 {
		t.Fatalf("expected zero fills once the order was cancelled before the trade print, got %d", len(fills))
	}
}

// Cancel is idempotent when the order is already gone.
func TestSimulator_CancelAlreadyGoneIsNoop(t *testing.T) {
	sim, b := newTestSimulator()
	now := time.Now()
	primeBook(sim, now)

	var cancels []types.CancelEvent
	b.OnCancel(func(evt types.CancelEvent) { cancels = append(cancels, evt) })

	sim.Cancel("nonexistent-id", now)
	sim.OnBookUpdate(sim.lastBook, now.Add(500*time.Millisecond))

	if len(cancels) != 0 {
		t.Fatalf("expected no cancel notification for an order that was never live, got %d", len(cancels))
	}
}

// OnTrade rejects stale and too-far-future timestamps outright.
func TestSimulator_OnTradeRejectsBadTimestamps(t *testing.T) {
	sim, _ := newTestSimulator()
	now := time.Now()

	if sim.OnTrade(100, 1, types.Sell, now.Add(-10*time.Second), now) {
		t.Fatalf("expected a 10s-stale trade to be rejected")
	}
	if sim.OnTrade(100, 1, types.Sell, now.Add(2*time.Second), now) {
		t.Fatalf("expected a 2s-future trade to be rejected")
	}
	if !sim.OnTrade(100, 1, types.Sell, now.Add(-4*time.Second), now) {
		t.Fatalf("expected a 4s-stale trade to be accepted (within the 5s tolerance)")
	}
}

// Cash and position move atomically and fees are deducted on every fill.
func TestSimulator_CashPositionAndFeeAccounting(t *testing.T) {
	sim, _ := newTestSimulator()
	now := time.Now()
	primeBook(sim, now)

	startCash := sim.Cash()
	order := sim.Submit(types.LiveOrder{Side: types.Buy, Price: 100.00, Original: 2}, now)
	forceQueueAhead(sim, order.ID, 0)

	sim.OnTrade(100.00, 5, types.Sell, now, now.Add(time.Millisecond))
	sim.OnBookUpdate(sim.lastBook, now.Add(2*time.Second))

	fills := sim.Fills()
	if len(fills) != 1 {
		t.Fatalf("expected one fill, got %d", len(fills))
	}
	fee := fills[0].Fee
	if fee <= 0 {
		t.Fatalf("expected a positive maker fee to be charged, got %v", fee)
	}

	wantCash := startCash - 2*100.00 - fee
	if diff := sim.Cash() - wantCash; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("expected cash to debit notional+fee exactly, got %v want %v", sim.Cash(), wantCash)
	}
	if sim.Position() != 2 {
		t.Fatalf("expected position to reflect the full buy fill, got %v", sim.Position())
	}
}

// The 30-day rolling volume total accrues fill notional and feeds the fee
// tier lookup; a later fill must use whatever rate that rolling total maps
// to at the time it is charged.
func TestSimulator_RollingVolumeAccruesAndDrivesFeeRate(t *testing.T) {
	sim, _ := newTestSimulator()
	now := time.Now()
	primeBook(sim, now)

	if sim.RollingVolume() != 0 {
		t.Fatalf("expected zero rolling volume before any fills")
	}

	order := sim.Submit(types.LiveOrder{Side: types.Buy, Price: 100.00, Original: 1}, now)
	forceQueueAhead(sim, order.ID, 0)
	sim.OnTrade(100.00, 5, types.Sell, now, now.Add(time.Millisecond))
	sim.OnBookUpdate(sim.lastBook, now.Add(2*time.Second))

	if sim.RollingVolume() != 100.00 {
		t.Fatalf("expected rolling volume to equal the filled notional, got %v", sim.RollingVolume())
	}
	if sim.FeeRate() != 0.0040 { // still in the lowest (0-10k) tier: 40bps
		t.Fatalf("expected the starting 40bps tier to still apply, got %v", sim.FeeRate())
	}
}

// Equity combines cash and mark-to-market position value.
func TestSimulator_Equity(t *testing.T) {
	sim, _ := newTestSimulator()
	now := time.Now()
	primeBook(sim, now)

	order := sim.Submit(types.LiveOrder{Side: types.Buy, Price: 100.00, Original: 1}, now)
	forceQueueAhead(sim, order.ID, 0)
	sim.OnTrade(100.00, 5, types.Sell, now, now.Add(time.Millisecond))
	sim.OnBookUpdate(sim.lastBook, now.Add(2*time.Second))

	mid := 100.01
	want := sim.Cash() + sim.Position()*mid
	if got := sim.Equity(mid); got != want {
		t.Fatalf("expected equity = cash + position*mid, got %v want %v", got, want)
	}
}

// A trade that fills the order lands before the delayed cancel fires.
// The fill wins; the later cancel finds the order gone and publishes
// nothing.
func TestSimulator_TradeBeatsCancelLatency(t *testing.T) {
	sim, b := newTestSimulator()
	now := time.Now()
	primeBook(sim, now)

	var fills []types.FillEvent
	var cancels []types.CancelEvent
	b.OnFill(func(evt types.FillEvent) { fills = append(fills, evt) })
	b.OnCancel(func(evt types.CancelEvent) { cancels = append(cancels, evt) })

	order := sim.Submit(types.LiveOrder{Side: types.Buy, Price: 100.00, Original: 1}, now)
	forceQueueAhead(sim, order.ID, 0)

	sim.Cancel(order.ID, now.Add(10*time.Millisecond)) // fires no earlier than +160ms
	sim.OnTrade(100.00, 5, types.Sell, now.Add(100*time.Millisecond), now.Add(100*time.Millisecond))

	sim.OnBookUpdate(sim.lastBook, now.Add(2*time.Second))

	if len(fills) != 1 {
		t.Fatalf("expected the trade to fill before the cancel took effect, got %d fills", len(fills))
	}
	if len(cancels) != 0 {
		t.Fatalf("expected no cancel notification once the order was fully filled, got %d", len(cancels))
	}
	if _, ok := sim.LiveOrder(order.ID); ok {
		t.Fatalf("expected the filled order to be gone from the live table")
	}
}

// Amend moves the order's resting price immediately and scales queue-ahead
// by the retention fraction.
func TestSimulator_AmendMovesPriceAndScalesQueue(t *testing.T) {
	sim, _ := newTestSimulator()
	now := time.Now()
	primeBook(sim, now)

	order := sim.Submit(types.LiveOrder{Side: types.Buy, Price: 100.00, Original: 1}, now)
	forceQueueAhead(sim, order.ID, 10)

	if !sim.Amend(order.ID, 100.01, 0.80) {
		t.Fatalf("expected the amend of a live order to succeed")
	}
	live, ok := sim.LiveOrder(order.ID)
	if !ok {
		t.Fatalf("expected the order to stay live across an amend")
	}
	if live.Price != 100.01 {
		t.Fatalf("expected the resting price to move to 100.01, got %v", live.Price)
	}
	if live.QueueAhead != 8 {
		t.Fatalf("expected queue-ahead scaled to 8, got %v", live.QueueAhead)
	}

	if sim.Amend("nonexistent", 1, 1) {
		t.Fatalf("expected amending an unknown id to report false")
	}
}

// forceQueueAhead reaches into the simulator's live-order table to pin
// queue-ahead to an exact value, since Submit's estimate is randomized.
func forceQueueAhead(sim *Simulator, orderID string, qty float64) {
	sim.mu.Lock()
	defer sim.mu.Unlock()
	if o, ok := sim.orders[orderID]; ok {
		o.QueueAhead = qty
	}
}
