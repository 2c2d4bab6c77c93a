// Package types defines the shared data model for the market-making
// simulator — instrument parameters, book/trade events, and the two order
// records (the quoting engine's mirror and the execution simulator's
// authoritative live order).
//
// It has no dependency on any other internal package so it can be imported
// by every layer.
package types

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of an order or a trade aggressor.
type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// Instrument holds the immutable per-run parameters of the traded symbol.
type Instrument struct {
	Symbol        string
	TickSize      decimal.Decimal // minimum price increment
	BaseIncrement decimal.Decimal // minimum size increment
	MinNotional   decimal.Decimal // minimum order value in quote currency
}

// RoundToTick rounds a price to the instrument's tick size using the given
// rounding mode ("down", "up", or "nearest").
func (in Instrument) RoundToTick(price float64, mode string) float64 {
	tick, _ := in.TickSize.Float64()
	if tick <= 0 {
		return price
	}
	units := price / tick
	switch mode {
	case "down":
		units = math.Floor(units)
	case "up":
		units = math.Ceil(units)
	default:
		units = math.Round(units)
	}
	return units * tick
}

// MeetsMinNotional reports whether size*price clears the instrument's
// minimum order value.
func (in Instrument) MeetsMinNotional(price, size float64) bool {
	minNotional, _ := in.MinNotional.Float64()
	return price*size >= minNotional
}

// BookLevel is a single price/size level in an order-book snapshot.
type BookLevel struct {
	Price float64
	Size  float64
}

// BookSnapshot is one side-by-side view of the book as delivered by the
// ingestion interface: bids and asks ordered best-first.
type BookSnapshot struct {
	Bids      []BookLevel
	Asks      []BookLevel
	Timestamp time.Time
}

// BestBid returns the top bid level, or the zero value and false if empty.
func (b BookSnapshot) BestBid() (BookLevel, bool) {
	if len(b.Bids) == 0 {
		return BookLevel{}, false
	}
	return b.Bids[0], true
}

// BestAsk returns the top ask level, or the zero value and false if empty.
func (b BookSnapshot) BestAsk() (BookLevel, bool) {
	if len(b.Asks) == 0 {
		return BookLevel{}, false
	}
	return b.Asks[0], true
}

// Valid rejects malformed books: missing or empty sides, or non-finite
// prices/sizes.
func (b BookSnapshot) Valid() bool {
	if len(b.Bids) == 0 || len(b.Asks) == 0 {
		return false
	}
	for _, lvl := range append(append([]BookLevel{}, b.Bids...), b.Asks...) {
		if !isFinitePositive(lvl.Price) || math.IsNaN(lvl.Size) || math.IsInf(lvl.Size, 0) || lvl.Size < 0 {
			return false
		}
	}
	return true
}

func isFinitePositive(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v > 0
}

// TradePrint is one trade tick from the ingestion interface.
type TradePrint struct {
	Price         float64
	Size          float64
	AggressorSide Side
	Timestamp     time.Time
}

// Order is the quoting engine's view of one of its (at most two) resting
// orders.
type Order struct {
	ID            string
	Side          Side
	Price         float64
	OriginalSize  float64
	Filled        float64
	QueueAhead    float64
	EntryTime     time.Time
	MidAtEntry    float64
	LastReplaceAt time.Time
}

// Remaining returns original size minus filled-to-date.
func (o Order) Remaining() float64 {
	r := o.OriginalSize - o.Filled
	if r < 0 {
		return 0
	}
	return r
}

// LiveOrder is the execution simulator's authoritative record of a resting
// order.
type LiveOrder struct {
	ID          string
	Side        Side
	Price       float64
	Remaining   float64
	Original    float64
	QueueAhead  float64
	SubmittedAt time.Time
}

// FillEvent is published by the execution simulator when a live order
// is (partially) filled.
type FillEvent struct {
	OrderID      string
	Side         Side
	FillQty      float64
	RemainingQty float64
	Price        float64
	Fee          float64
	Timestamp    time.Time
}

// CancelEvent is published when a delayed cancel fires.
type CancelEvent struct {
	OrderID   string
	Side      Side
	Timestamp time.Time
}
