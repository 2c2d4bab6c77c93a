// Package quoting implements the quoting engine: the at-most-one-per-side
// order mirror, the OBI-driven state machine, the place/amend/replace
// policy, and mark-to-market/PnL accounting. It is the sole caller of the
// risk manager's pre-trade check and the execution simulator's order
// operations; it never mutates cash or position directly — the simulator
// is the sole authority for both, and the mirror is reconciled against it
// through fill/cancel events.
package quoting

import (
	"log/slog"
	"math/rand"
	"time"

	"mm-engine/internal/bus"
	"mm-engine/internal/clock"
	"mm-engine/internal/config"
	"mm-engine/internal/execution"
	"mm-engine/internal/risk"
	"mm-engine/internal/telemetry"
	"mm-engine/internal/types"
)

// Counters holds the session performance counters.
type Counters struct {
	OrdersSent   int
	Fills        int
	PeakEquity   float64
	MaxDrawdown  float64
	Wins         int
	Total        int
	SessionFees  float64
}

// Engine is the Quoting Engine.
type Engine struct {
	instrument types.Instrument
	strategy   config.StrategyConfig
	risk       *risk.Manager
	sim        *execution.Simulator
	clk        *clock.Clock
	logger     *slog.Logger
	metrics    *telemetry.Metrics

	orders      map[types.Side]*types.Order
	lastReplace map[types.Side]time.Time

	lastManualCancel time.Time
	lastBook         types.BookSnapshot
	state            State

	ratio *orderTradeRatio
	rng   *rand.Rand

	counters Counters
}

// New constructs a Quoting Engine and subscribes to the bus for fill and
// cancel reconciliation. rngSeed seeds the queue-ahead drift estimator so
// runs are reproducible.
func New(instrument types.Instrument, strategy config.StrategyConfig, riskMgr *risk.Manager, sim *execution.Simulator, b *bus.Bus, clk *clock.Clock, logger *slog.Logger, metrics *telemetry.Metrics, rngSeed int64) *Engine {
	e := &Engine{
		instrument:  instrument,
		strategy:    strategy,
		risk:        riskMgr,
		sim:         sim,
		clk:         clk,
		logger:      logger.With("component", "quoting"),
		metrics:     metrics,
		orders:      make(map[types.Side]*types.Order),
		lastReplace: make(map[types.Side]time.Time),
		ratio:       newOrderTradeRatio(5 * time.Minute),
		rng:         rand.New(rand.NewSource(rngSeed)),
		state:       StateIdleNoOrders,
	}
	b.OnFill(e.handleFill)
	b.OnCancel(e.handleCancel)
	return e
}

// State returns the last state emitted by OnBook.
func (e *Engine) State() State { return e.state }

// Counters returns a copy of the session performance counters.
func (e *Engine) Counters() Counters { return e.counters }

// OnBook runs the per-book-update pipeline: age open orders, bail on a
// degenerate spread, skew targets by inventory, honor the manual-cancel
// cooldown, then quote each side according to the OBI regime.
func (e *Engine) OnBook(book types.BookSnapshot, now time.Time) State {
	if !book.Valid() {
		return e.state
	}

	if e.risk.EmergencyShutdown() {
		e.cancelSide(types.Buy, "manual", now)
		e.cancelSide(types.Sell, "manual", now)
		e.state = StateHoldCriticalBreach
		e.lastBook = book
		return e.state
	}

	e.ageOrders(book, now)

	bestBid, _ := book.BestBid()
	bestAsk, _ := book.BestAsk()
	mid := (bestBid.Price + bestAsk.Price) / 2
	spread := bestAsk.Price - bestBid.Price

	tick, _ := e.instrument.TickSize.Float64()
	if spread <= tick/2 {
		e.cancelSide(types.Buy, "tight_spread", now)
		e.cancelSide(types.Sell, "tight_spread", now)
		e.state = StateHoldTightSpread
		e.lastBook = book
		return e.state
	}

	position := e.sim.Position()
	bidSkew, askSkew := risk.InventorySkew(
		position,
		e.strategy.InventoryTarget,
		e.strategy.MaxPosition,
		e.strategy.KTicksPerUnit,
		e.strategy.VolatilityEstimate,
		time.Since(e.lastUpdateTime(now)).Seconds(),
		e.strategy.InventoryHalfLife.Seconds(),
	)

	targetBid := e.instrument.RoundToTick(bestBid.Price+bidSkew*tick, "down")
	targetAsk := e.instrument.RoundToTick(bestAsk.Price+askSkew*tick, "up")
	if targetBid >= targetAsk {
		targetBid, targetAsk = bestBid.Price, bestAsk.Price
		if targetBid >= targetAsk {
			e.state = StateHoldCrossedSkew
			e.lastBook = book
			return e.state
		}
	}

	if now.Sub(e.lastManualCancel) < e.strategy.ManualCooldown {
		e.state = StateHoldCooldownManual
		e.lastBook = book
		return e.state
	}

	bidVol, askVol := depthVolumes(book)
	obi := computeOBI(bidVol, askVol)
	r := classifyRegime(position, e.strategy.DefaultOrderSize)
	th := thresholdsFor(e.strategy.OBI, r)

	bidHeld := e.quoteSide(types.Buy, targetBid, obi, th.ExtremeBid, th.ModerateBid, tick, book, now)
	askHeld := e.quoteSide(types.Sell, targetAsk, obi, th.ExtremeAsk, th.ModerateAsk, tick, book, now)

	e.lastBook = book

	bidWide := bidHeld == StateBidWideModerateOBI
	askWide := askHeld == StateAskWideModerateOBI

	switch {
	case bidHeld == StateHoldBidExtremeOBI && askHeld == StateHoldAskExtremeOBI:
		e.state = StateHoldBothExtremeOBI
	case bidHeld == StateHoldBidExtremeOBI:
		e.state = StateHoldBidExtremeOBI
	case askHeld == StateHoldAskExtremeOBI:
		e.state = StateHoldAskExtremeOBI
	case bidWide && askWide:
		e.state = StateBothWideModerateOBI
	case bidWide:
		e.state = StateBidWideModerateOBI
	case askWide:
		e.state = StateAskWideModerateOBI
	default:
		// Neither threshold fired; report what actually rests.
		hasBid := e.orders[types.Buy] != nil
		hasAsk := e.orders[types.Sell] != nil
		switch {
		case hasBid && hasAsk:
			e.state = StateQuoting
		case hasBid:
			e.state = StateBidOnly
		case hasAsk:
			e.state = StateAskOnly
		default:
			e.state = StateIdleNoOrders
		}
	}

	equity := e.sim.Equity(mid)
	if equity > e.counters.PeakEquity {
		e.counters.PeakEquity = equity
	}
	e.counters.MaxDrawdown = e.risk.MaxDrawdownObserved()

	e.logger.Debug("quote cycle", "state", e.state, "obi", obi, "toxicity", e.ratio.Toxicity(now))
	e.checkOrderTradeRatioAlert(now)
	return e.state
}

// quoteSide evaluates OBI for one side against its negative/positive sense
// (bid reacts to negative OBI, ask to positive OBI), and either cancels the
// side, widens and places, or places at target. Returns a hold state when
// this side was cancelled for extreme OBI, a widen state when it widened
// for moderate OBI, else the engine's usual state.
func (e *Engine) quoteSide(side types.Side, target, obi, extreme, moderate, tick float64, book types.BookSnapshot, now time.Time) State {
	signed := obi
	if side == types.Buy {
		signed = -obi
	}

	switch {
	case signed >= extreme:
		e.cancelSide(side, "manual", now)
		e.lastManualCancel = now
		if side == types.Buy {
			return StateHoldBidExtremeOBI
		}
		return StateHoldAskExtremeOBI
	case signed >= moderate:
		widened := target
		if side == types.Buy {
			widened -= tick
		} else {
			widened += tick
		}
		e.place(side, widened, e.strategy.DefaultOrderSize, book, now)
		if side == types.Buy {
			return StateBidWideModerateOBI
		}
		return StateAskWideModerateOBI
	default:
		if ok, reason := e.place(side, target, e.strategy.DefaultOrderSize, book, now); !ok && reason != reasonHold {
			e.logger.Debug("place rejected", "side", side, "reason", reason)
		}
	}
	return StateQuoting
}

// ageOrders implements step 1 of on_book: TTL, crossed, and too-far
// cancellation, plus a realistic queue-ahead advance from the level's
// observed volume decrease.
func (e *Engine) ageOrders(book types.BookSnapshot, now time.Time) {
	bestBid, hasBid := book.BestBid()
	bestAsk, hasAsk := book.BestAsk()
	tick, _ := e.instrument.TickSize.Float64()
	maxTicks := e.adaptiveMaxTicks()

	for side, o := range e.orders {
		if o == nil {
			continue
		}
		if now.Sub(o.EntryTime) > e.strategy.OrderTTL {
			e.cancelSide(side, "ttl", now)
			continue
		}
		if side == types.Buy && hasBid && o.Price > bestBid.Price {
			e.cancelSide(side, "crossed", now)
			continue
		}
		if side == types.Sell && hasAsk && o.Price < bestAsk.Price {
			e.cancelSide(side, "crossed", now)
			continue
		}

		var distanceTicks float64
		if side == types.Buy && hasBid && tick > 0 {
			distanceTicks = (bestBid.Price - o.Price) / tick
		} else if side == types.Sell && hasAsk && tick > 0 {
			distanceTicks = (o.Price - bestAsk.Price) / tick
		}
		if distanceTicks > maxTicks {
			e.cancelSide(side, "too_far", now)
			continue
		}

		e.updateQueueAheadLocked(side, o, book)
	}
}

func (e *Engine) updateQueueAheadLocked(side types.Side, o *types.Order, book types.BookSnapshot) {
	levels := book.Bids
	if side == types.Sell {
		levels = book.Asks
	}
	prevLevels := e.lastBook.Bids
	if side == types.Sell {
		prevLevels = e.lastBook.Asks
	}

	tick, _ := e.instrument.TickSize.Float64()
	half := tick / 2

	findSize := func(levels []types.BookLevel, price float64) (float64, bool) {
		for _, lvl := range levels {
			if diff := lvl.Price - price; diff < half && diff > -half {
				return lvl.Size, true
			}
		}
		return 0, false
	}

	cur, curOK := findSize(levels, o.Price)
	prev, prevOK := findSize(prevLevels, o.Price)
	if !curOK || !prevOK || cur >= prev {
		return
	}
	decrease := prev - cur
	advance := decrease * (0.80 + 0.20*e.rng.Float64())
	// Occasional small drift: cancels ahead of us in the queue that never
	// show up as a level-size decrease we can attribute.
	if e.rng.Float64() < 0.10 {
		advance += o.QueueAhead * 0.05 * e.rng.Float64()
	}
	o.QueueAhead -= advance
	if o.QueueAhead < 0 {
		o.QueueAhead = 0
	}
}

func (e *Engine) adaptiveMaxTicks() float64 {
	vol := e.strategy.VolatilityEstimate
	if vol > 1 {
		vol = 1
	}
	mult := 1 + (e.strategy.MaxTicksMultiplier-1)*vol
	return e.strategy.BaseMaxTicksAway * mult
}

func (e *Engine) lastUpdateTime(now time.Time) time.Time {
	for _, o := range e.orders {
		if o != nil {
			return o.LastReplaceAt
		}
	}
	return now
}

// Constraint violations are reported as a boolean false plus a short
// reason, never an error.
const (
	reasonHold = "hold" // existing order kept as-is, nothing rejected

	// tickEps absorbs the float error in price-difference-over-tick ratios
	// so a one-tick move never lands in the next retention bucket.
	tickEps = 1e-9
)

// place is the place/amend/replace policy. It returns whether an order
// now rests at (or within amend distance of) the requested price, and a
// short reject reason when it does not.
func (e *Engine) place(side types.Side, price, size float64, book types.BookSnapshot, now time.Time) (bool, string) {
	if !book.Valid() {
		return false, "invalid_book"
	}
	if size <= 0 || size < e.baseIncrement() {
		return false, "sub_minimum_size"
	}
	if !e.instrument.MeetsMinNotional(price, size) {
		return false, "sub_minimum_notional"
	}
	if e.risk.EmergencyShutdown() {
		return false, "no_critical_breaches"
	}

	position := e.sim.Position()
	proposed := position
	if side == types.Buy {
		proposed += size
	} else {
		proposed -= size
	}
	if abs(proposed) > e.strategy.MaxPosition {
		return false, "position_limit"
	}

	placementUs := e.clk.SampleAndRecord(clock.OrderPlacement)
	if e.metrics != nil {
		e.metrics.ObserveLatency(string(clock.OrderPlacement), placementUs)
	}

	equity := e.sim.Equity(price)
	result := e.risk.CheckPreTrade(string(side), size, price, position, equity, float64(placementUs)/1000.0, now)
	e.risk.RecordOrderAttempt(now)
	if !result.Permit {
		e.observeGateTrips(result)
		return false, failedGate(result)
	}

	tick, _ := e.instrument.TickSize.Float64()
	existing := e.orders[side]

	if existing != nil {
		deltaTicks := abs(price-existing.Price) / tick
		if deltaTicks < 0.5 {
			// Already resting at this price; re-amending would only bleed
			// queue priority.
			return true, ""
		}
		if deltaTicks <= 5+tickEps {
			e.amend(side, existing, price, deltaTicks, now)
			return true, ""
		}

		if now.Sub(e.lastReplace[side]) < e.strategy.MinReplaceInterval {
			return false, reasonHold
		}
		age := now.Sub(existing.EntryTime)
		required := 5.0
		switch {
		case age < 10*time.Second:
			required = 15
		case age < 30*time.Second:
			required = 10
		}
		if deltaTicks < required {
			return false, reasonHold
		}

		e.cancelSide(side, "replace", now)
	}

	bestBid, _ := book.BestBid()
	bestAsk, _ := book.BestAsk()
	if side == types.Buy && price >= bestAsk.Price {
		return false, "would_cross"
	}
	if side == types.Sell && price <= bestBid.Price {
		return false, "would_cross"
	}
	maxTicks := e.adaptiveMaxTicks()
	var bestPrice float64
	if side == types.Buy {
		bestPrice = bestBid.Price
	} else {
		bestPrice = bestAsk.Price
	}
	if tick > 0 && abs(price-bestPrice)/tick > maxTicks {
		return false, "too_far"
	}

	queueAhead := estimateQueueAhead(side, price, book, tick)
	if queueAhead > 1000 {
		return false, "whale_level"
	}

	live := e.sim.Submit(types.LiveOrder{Side: side, Price: price, Original: size}, now)

	mid := (bestBid.Price + bestAsk.Price) / 2
	e.orders[side] = &types.Order{
		ID:            live.ID,
		Side:          side,
		Price:         price,
		OriginalSize:  size,
		QueueAhead:    queueAhead,
		EntryTime:     now,
		MidAtEntry:    mid,
		LastReplaceAt: now,
	}
	e.lastReplace[side] = now
	e.counters.OrdersSent++
	e.ratio.RecordOrder(now)
	if e.metrics != nil {
		e.metrics.ObserveOrderPlaced(string(side))
	}
	return true, ""
}

// failedGate names one failing gate from a pre-trade check result, the
// no_critical_breaches gate first since it fails whenever a persistent
// gate 1-3 breach is held.
func failedGate(result risk.CheckResult) string {
	if ok := result.Checks[risk.GateNoCriticalBreach]; !ok {
		return string(risk.GateNoCriticalBreach)
	}
	for gate, ok := range result.Checks {
		if !ok {
			return string(gate)
		}
	}
	return "risk_rejected"
}

func (e *Engine) baseIncrement() float64 {
	inc, _ := e.instrument.BaseIncrement.Float64()
	return inc
}

// amend moves the mirror and the simulator's live order to the new price in
// place, retaining 80% of queue priority for a <=1 tick move, 50% for <=3
// ticks, 20% otherwise. The same schedule applies whether the move improves
// or worsens the price.
func (e *Engine) amend(side types.Side, existing *types.Order, price, deltaTicks float64, now time.Time) {
	var retention float64
	switch {
	case deltaTicks <= 1+tickEps:
		retention = 0.80
	case deltaTicks <= 3+tickEps:
		retention = 0.50
	default:
		retention = 0.20
	}
	e.sim.Amend(existing.ID, price, retention)
	existing.QueueAhead *= retention
	existing.Price = price
	e.counters.OrdersSent++
	e.ratio.RecordOrder(now)
	if e.metrics != nil {
		e.metrics.ObserveOrderPlaced(string(side))
	}
}

// observeGateTrips records a Prometheus counter increment for every failed
// pre-trade gate in result, so operators can see which checks are actually
// blocking quotes over time.
func (e *Engine) observeGateTrips(result risk.CheckResult) {
	if e.metrics == nil {
		return
	}
	for gate, ok := range result.Checks {
		if !ok {
			e.metrics.ObserveGateTrip(string(gate))
		}
	}
}

func (e *Engine) cancelSide(side types.Side, reason string, now time.Time) {
	o := e.orders[side]
	if o == nil {
		return
	}
	e.sim.Cancel(o.ID, now)
	delete(e.orders, side)
	e.logger.Debug("cancel", "side", side, "reason", reason, "order_id", o.ID)
	cancelUs := e.clk.SampleAndRecord(clock.OrderCancel)
	if e.metrics != nil {
		e.metrics.ObserveCancel(reason)
		e.metrics.ObserveLatency(string(clock.OrderCancel), cancelUs)
	}
}

// handleFill reconciles a fill event from the execution simulator against
// the mirror, updates the risk manager, and accounts spread-capture PnL.
func (e *Engine) handleFill(evt types.FillEvent) {
	o := e.orders[evt.Side]
	if o == nil {
		e.logger.Warn("divergence: fill for unmirrored order", "order_id", evt.OrderID)
		return
	}
	if o.ID != evt.OrderID {
		return
	}

	o.Filled += evt.FillQty
	e.counters.Fills++
	e.counters.SessionFees += evt.Fee
	dir := -1.0
	if evt.Side == types.Buy {
		dir = 1.0
	}
	e.ratio.RecordFill(evt.Timestamp, dir)
	if e.metrics != nil {
		e.metrics.ObserveFill(string(evt.Side))
		e.metrics.ObserveFee(evt.Fee)
	}

	var capture float64
	if evt.Side == types.Buy {
		capture = (o.MidAtEntry - evt.Price) * evt.FillQty
	} else {
		capture = (evt.Price - o.MidAtEntry) * evt.FillQty
	}
	capture -= evt.Fee

	e.counters.Total++
	if capture > 0 {
		e.counters.Wins++
	}

	position := e.sim.Position()
	mid := evt.Price
	e.risk.UpdatePositionAndPnL(position, e.sim.Equity(mid), evt.Timestamp)

	if o.Remaining() <= 0 {
		delete(e.orders, evt.Side)
	}
}

// handleCancel drops the mirror entry for a cancelled order. Cancels the
// engine itself issued arrive after the mirror was already dropped (the
// mirror clears at submit time, the simulator confirms U(150,400)ms later),
// so a missing or superseded mirror here is routine, not divergence.
func (e *Engine) handleCancel(evt types.CancelEvent) {
	o := e.orders[evt.Side]
	if o == nil || o.ID != evt.OrderID {
		e.logger.Debug("stale cancel event", "order_id", evt.OrderID)
		return
	}
	delete(e.orders, evt.Side)
}

// OrderTradeRatio returns the rolling 5-minute order/trade ratio and
// whether it is defined (at least one fill in the window). Testable
// Property 10.
func (e *Engine) OrderTradeRatio(now time.Time) (float64, bool) {
	return e.ratio.Ratio(now)
}

// checkOrderTradeRatioAlert logs a warning when the rolling O:T ratio
// exceeds the configured critical threshold with at least one fill in the
// window.
func (e *Engine) checkOrderTradeRatioAlert(now time.Time) {
	crit := e.strategy.OrderTradeRatioCrit
	if crit <= 0 {
		return
	}
	if ratio, hasFill := e.ratio.Ratio(now); hasFill && ratio > crit {
		e.logger.Warn("order/trade ratio alert", "ratio", ratio, "threshold", crit)
	}
}

func depthVolumes(book types.BookSnapshot) (bidVol, askVol float64) {
	for _, lvl := range book.Bids {
		bidVol += lvl.Size
	}
	for _, lvl := range book.Asks {
		askVol += lvl.Size
	}
	return
}

func estimateQueueAhead(side types.Side, price float64, book types.BookSnapshot, tick float64) float64 {
	half := tick / 2
	levels := book.Bids
	if side == types.Sell {
		levels = book.Asks
	}
	for _, lvl := range levels {
		if diff := lvl.Price - price; diff < half && diff > -half {
			return lvl.Size
		}
	}
	return 0
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
