// Package execution implements the execution simulator: the authoritative
// live-order table, queue-position tracking as trades print, fee tiering,
// and the delayed-event queue that models cancel and trade-processing
// latency.
//
// All mutations pass through one mutex, held across table/queue
// enqueue-peek-pop sequences but released before firing bus callbacks.
// The simulator is authoritative for cash and position; the quoting
// engine only ever reads through the bus and a read-through mirror.
package execution

import (
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"mm-engine/internal/bus"
	"mm-engine/internal/clock"
	"mm-engine/internal/types"
)

// Simulator owns the live-order table, cash, and position.
type Simulator struct {
	mu sync.Mutex

	instrument types.Instrument
	bus        *bus.Bus
	clk        *clock.Clock
	rng        *rand.Rand

	cash     float64
	position float64

	orders map[string]*types.LiveOrder
	fills  []types.FillEvent

	bestBid, bestAsk float64
	lastBook         types.BookSnapshot

	volume  *volumeHistory
	feeRate float64

	queue *delayedQueue
}

// New creates a simulator with the given starting cash, seeded from rngSeed
// so replays are deterministic.
func New(instrument types.Instrument, initialCash float64, b *bus.Bus, clk *clock.Clock, rngSeed int64) *Simulator {
	return &Simulator{
		instrument: instrument,
		bus:        b,
		clk:        clk,
		rng:        rand.New(rand.NewSource(rngSeed)),
		cash:       initialCash,
		orders:     make(map[string]*types.LiveOrder),
		volume:     newVolumeHistory(),
		feeRate:    activeRate(defaultFeeTiers, 0),
		queue:      newDelayedQueue(),
	}
}

// Cash returns the current cash balance.
func (s *Simulator) Cash() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cash
}

// Position returns the current net position.
func (s *Simulator) Position() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.position
}

// Equity returns cash + position*mid.
func (s *Simulator) Equity(mid float64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cash + s.position*mid
}

// FeeRate returns the currently active maker-fee rate (fraction, not bps).
func (s *Simulator) FeeRate() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.feeRate
}

// RollingVolume returns the 30-day rolling notional total.
func (s *Simulator) RollingVolume() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.volume.rollingTotal()
}

// Fills returns a copy of the fill history.
func (s *Simulator) Fills() []types.FillEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.FillEvent, len(s.fills))
	copy(out, s.fills)
	return out
}

// LiveOrder returns a copy of the live order by id, if present.
func (s *Simulator) LiveOrder(id string) (types.LiveOrder, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return types.LiveOrder{}, false
	}
	return *o, true
}

// Submit inserts a new order into the live table, minting a stable
// identifier if one wasn't supplied. The estimated queue-ahead is computed
// from the last snapshot: if the order's price matches an existing level
// (within half a tick), queue-ahead is 10-30% of that level's size;
// otherwise a small uniform fallback. No latency gates fill eligibility —
// submission is effective immediately.
func (s *Simulator) Submit(order types.LiveOrder, now time.Time) types.LiveOrder {
	s.mu.Lock()
	defer s.mu.Unlock()

	if order.ID == "" {
		order.ID = uuid.NewString()
	}
	order.SubmittedAt = now
	order.Remaining = order.Original
	order.QueueAhead = s.estimateQueueAheadLocked(order.Side, order.Price)

	stored := order
	s.orders[order.ID] = &stored
	return stored
}

func (s *Simulator) estimateQueueAheadLocked(side types.Side, price float64) float64 {
	tick, _ := s.instrument.TickSize.Float64()
	half := tick / 2

	var levels []types.BookLevel
	if side == types.Buy {
		levels = s.lastBook.Bids
	} else {
		levels = s.lastBook.Asks
	}

	for _, lvl := range levels {
		if diff := lvl.Price - price; diff < half && diff > -half {
			frac := 0.10 + s.rng.Float64()*0.20
			return lvl.Size * frac
		}
	}
	return 1 + s.rng.Float64()*4
}

// Amend moves a live order to a new price in place, scaling its estimated
// queue-ahead by the retention fraction the quoting engine's amend policy
// computed. Unlike Cancel there is no latency: an amend keeps the order
// live and fill-eligible throughout. Amending an unknown id is a no-op.
func (s *Simulator) Amend(orderID string, price, retention float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[orderID]
	if !ok {
		return false
	}
	o.Price = price
	o.QueueAhead *= retention
	return true
}

// Cancel schedules a delayed cancel event at now + U(150ms, 400ms). The
// cancel is idempotent: if the order is already gone when the event fires,
// it is a no-op and no cancel notification is published.
func (s *Simulator) Cancel(orderID string, now time.Time) {
	s.mu.Lock()
	delay := time.Duration(150+s.rng.Intn(251)) * time.Millisecond
	s.queue.schedule(now.Add(delay), EventCancel, cancelPayload{orderID: orderID})
	s.mu.Unlock()
}

// OnTrade validates the timestamp (rejecting anything more than 5s stale or
// more than 1s in the future) and, if valid, schedules a trade_update
// delayed event at now + U(200us, 800us).
func (s *Simulator) OnTrade(price, size float64, aggressorSide types.Side, ts, now time.Time) bool {
	if now.Sub(ts) > 5*time.Second {
		return false
	}
	if ts.Sub(now) > time.Second {
		return false
	}

	s.mu.Lock()
	delay := time.Duration(200+s.rng.Intn(601)) * time.Microsecond
	s.queue.schedule(now.Add(delay), EventTradeUpdate, tradePayload{
		price: price, size: size, aggressorSide: string(aggressorSide), ts: ts,
	})
	s.mu.Unlock()
	return true
}

// OnBookUpdate refreshes top-of-book and the full snapshot, then drains all
// due delayed events in execute-at order, dispatching outside the lock.
func (s *Simulator) OnBookUpdate(book types.BookSnapshot, now time.Time) {
	s.mu.Lock()
	if bid, ok := book.BestBid(); ok {
		s.bestBid = bid.Price
	}
	if ask, ok := book.BestAsk(); ok {
		s.bestAsk = ask.Price
	}
	s.lastBook = book
	s.mu.Unlock()

	s.drain(now)
}

func (s *Simulator) drain(now time.Time) {
	due := s.queue.popDue(now)
	for _, evt := range due {
		switch evt.kind {
		case EventCancel:
			s.dispatchCancel(evt.payload.(cancelPayload), now)
		case EventTradeUpdate:
			s.dispatchTradeUpdate(evt.payload.(tradePayload))
		}
	}
}

func (s *Simulator) dispatchCancel(p cancelPayload, now time.Time) {
	s.mu.Lock()
	order, existed := s.orders[p.orderID]
	side := types.Buy
	if existed {
		side = order.Side
		delete(s.orders, p.orderID)
	}
	s.mu.Unlock()

	if existed {
		s.bus.PublishCancel(types.CancelEvent{OrderID: p.orderID, Side: side, Timestamp: now})
	}
}

// dispatchTradeUpdate runs the queue-consumption and fill rule for one
// trade print, producing zero or more fill events.
func (s *Simulator) dispatchTradeUpdate(p tradePayload) {
	tick, _ := s.instrument.TickSize.Float64()
	half := tick / 2

	type pendingFill struct {
		evt types.FillEvent
	}
	var pending []pendingFill

	s.mu.Lock()
	for id, o := range s.orders {
		if diff := o.Price - p.price; !(diff < half && diff > -half) {
			continue
		}
		if string(o.Side.Opposite()) != p.aggressorSide {
			continue
		}

		oldQ := o.QueueAhead
		newQ := oldQ - p.size
		if newQ < 0 {
			newQ = 0
		}
		o.QueueAhead = newQ

		if newQ > 0 {
			continue
		}

		volumeReached := p.size - oldQ
		if volumeReached < 0 {
			volumeReached = 0
		}
		fillQty := volumeReached
		if fillQty > o.Remaining {
			fillQty = o.Remaining
		}
		if fillQty <= 0 {
			continue
		}

		fee := fillQty * p.price * s.feeRate
		if o.Side == types.Buy {
			s.position += fillQty
			s.cash -= fillQty * p.price
		} else {
			s.position -= fillQty
			s.cash += fillQty * p.price
		}
		s.cash -= fee

		s.volume.add(fillQty*p.price, p.ts)
		s.feeRate = activeRate(defaultFeeTiers, s.volume.rollingTotal())

		o.Remaining -= fillQty

		evt := types.FillEvent{
			OrderID:      id,
			Side:         o.Side,
			FillQty:      fillQty,
			RemainingQty: o.Remaining,
			Price:        p.price,
			Fee:          fee,
			Timestamp:    p.ts,
		}
		s.fills = append(s.fills, evt)
		pending = append(pending, pendingFill{evt: evt})

		if o.Remaining <= 0 {
			delete(s.orders, id)
		} else {
			o.QueueAhead = 0
		}
	}
	s.mu.Unlock()

	for _, pf := range pending {
		s.bus.PublishFill(pf.evt)
	}
}
