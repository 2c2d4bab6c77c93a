// Package engine wires the core simulator components (clock, risk
// manager, execution simulator, event bus, quoting engine) to the
// ingestion collaborators, one instrument per instance.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"mm-engine/internal/bus"
	"mm-engine/internal/clock"
	"mm-engine/internal/config"
	"mm-engine/internal/execution"
	"mm-engine/internal/ingestion"
	"mm-engine/internal/quoting"
	"mm-engine/internal/report"
	"mm-engine/internal/risk"
	"mm-engine/internal/telemetry"
	"mm-engine/internal/types"
)

// Engine is the single-instrument orchestrator.
type Engine struct {
	cfg    config.Config
	logger *slog.Logger

	instrument types.Instrument
	clk        *clock.Clock
	riskMgr    *risk.Manager
	sim        *execution.Simulator
	bus        *bus.Bus
	quoter     *quoting.Engine

	feed     *ingestion.Feed
	snapshot *ingestion.SnapshotClient
	persist  *ingestion.BatchWriter

	metrics      *telemetry.Metrics
	telemetrySrv *telemetry.Server

	sessionStart time.Time
	lastMid      float64
	cancel       context.CancelFunc
}

// New builds the engine from a loaded, validated config.
func New(cfg config.Config, logger *slog.Logger) (*Engine, error) {
	instrument := types.Instrument{
		Symbol:        cfg.Instrument.Symbol,
		TickSize:      decimal.NewFromFloat(cfg.Instrument.TickSize),
		BaseIncrement: decimal.NewFromFloat(cfg.Instrument.BaseIncrement),
		MinNotional:   decimal.NewFromFloat(cfg.Instrument.MinNotional),
	}

	now := time.Now()
	b := bus.New()
	clk := clock.New(clockConfig(cfg.Latency), now.UnixNano())
	riskMgr := risk.NewManager(riskLimits(cfg.Risk), now)
	sim := execution.New(instrument, cfg.Instrument.InitialCash, b, clk, now.UnixNano()^0x5bd1e995)
	metrics := telemetry.New()
	quoter := quoting.New(instrument, cfg.Strategy, riskMgr, sim, b, clk, logger, metrics, now.UnixNano()^0x9e3779b9)

	var persist *ingestion.BatchWriter
	if cfg.Ingestion.PersistDir != "" {
		var err error
		persist, err = ingestion.NewBatchWriter(cfg.Ingestion.PersistDir, cfg.Ingestion.PersistBatch)
		if err != nil {
			return nil, fmt.Errorf("open persist writer: %w", err)
		}
	}

	e := &Engine{
		cfg:        cfg,
		logger:     logger,
		instrument: instrument,
		clk:        clk,
		riskMgr:    riskMgr,
		sim:        sim,
		bus:        b,
		quoter:     quoter,
		feed:       ingestion.NewFeed(cfg.Ingestion.WSURL, logger),
		persist:    persist,
		metrics:    metrics,
	}

	if cfg.Ingestion.SnapshotURL != "" {
		e.snapshot = ingestion.NewSnapshotClient(cfg.Ingestion.SnapshotURL)
	}

	if cfg.Dashboard.Enabled {
		addr := fmt.Sprintf(":%d", cfg.Dashboard.Port)
		e.telemetrySrv = telemetry.NewServer(addr, metrics, snapshotter{e}, logger)
	}

	return e, nil
}

type snapshotter struct{ e *Engine }

func (s snapshotter) Snapshot() any { return s.e.Summary() }

func clockConfig(c config.LatencyConfig) clock.Config {
	return clock.Config{
		WindowSize:           c.WindowSize,
		MarketDataWarnUs:     c.MarketDataWarnUs,
		MarketDataCritUs:     c.MarketDataCritUs,
		OrderPlacementWarnUs: c.OrderPlacementWarnUs,
		OrderPlacementCritUs: c.OrderPlacementCritUs,
		TickToTradeWarnUs:    c.TickToTradeWarnUs,
		TickToTradeCritUs:    c.TickToTradeCritUs,
	}
}

func riskLimits(c config.RiskConfig) risk.Limits {
	return risk.Limits{
		MaxPosition:        c.MaxPosition,
		MaxDailyLoss:       c.MaxDailyLoss,
		MaxDrawdownPct:     c.MaxDrawdownPct,
		ConcentrationPct:   c.ConcentrationPct,
		VarLimit:           c.VarLimit,
		MaxOrdersPerSecond: c.MaxOrdersPerSecond,
		MaxLatencyMs:       c.MaxLatencyMs,
		StartupGrace:       c.StartupGracePeriod,
		StartupGracePct:    c.StartupGracePct,
	}
}

// Start launches the ingestion feed and the book/trade processing loop.
// Blocks until ctx is cancelled.
func (e *Engine) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.sessionStart = time.Now()

	if e.snapshot != nil {
		e.bootstrapSnapshot(ctx)
	}

	go e.feed.Run(ctx)

	if e.telemetrySrv != nil {
		e.telemetrySrv.Start()
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case book, ok := <-e.feed.BookEvents():
			if !ok {
				return nil
			}
			e.handleBook(book)

		case trade, ok := <-e.feed.TradeEvents():
			if !ok {
				return nil
			}
			e.handleTrade(trade)
		}
	}
}

// bootstrapSnapshot fetches one REST order-book snapshot to prime the
// simulator's and quoting engine's view before the WebSocket feed has
// caught up. A failure here is non-fatal: the engine just starts cold and
// waits for the first WS book event instead.
func (e *Engine) bootstrapSnapshot(ctx context.Context) {
	fetchCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	book, err := e.snapshot.FetchBook(fetchCtx, e.cfg.Instrument.Symbol)
	if err != nil {
		e.logger.Warn("snapshot bootstrap failed, starting cold", "error", err)
		return
	}
	e.handleBook(book)
}

func (e *Engine) handleBook(book types.BookSnapshot) {
	now := e.clk.Now()
	us := e.clk.SampleAndRecord(clock.MarketData)
	e.metrics.ObserveLatency(string(clock.MarketData), us)

	e.sim.OnBookUpdate(book, now)
	state := e.quoter.OnBook(book, now)

	e.lastMid = midOf(book)
	e.metrics.SetEquity(e.sim.Equity(e.lastMid))
	e.metrics.SetPosition(e.sim.Position())
	e.metrics.SetMaxDrawdown(e.riskMgr.MaxDrawdownObserved())
	if ratio, ok := e.quoter.OrderTradeRatio(now); ok {
		e.metrics.SetOrderTradeRatio(ratio)
	}

	e.logger.Debug("book processed", "state", state, "position", e.sim.Position())

	if e.persist != nil {
		if err := e.persist.WriteBook(book, now); err != nil {
			e.logger.Error("persist book row", "error", err)
		}
	}
}

func (e *Engine) handleTrade(trade types.TradePrint) {
	now := e.clk.Now()
	us := e.clk.SampleAndRecord(clock.TickToTrade)
	e.metrics.ObserveLatency(string(clock.TickToTrade), us)

	e.sim.OnTrade(trade.Price, trade.Size, trade.AggressorSide, trade.Timestamp, now)

	if e.persist != nil {
		if err := e.persist.WriteTrade(trade, now); err != nil {
			e.logger.Error("persist trade row", "error", err)
		}
	}
}

func midOf(book types.BookSnapshot) float64 {
	bid, _ := book.BestBid()
	ask, _ := book.BestAsk()
	return (bid.Price + ask.Price) / 2
}

// Stop requests an orderly shutdown and flushes any pending persisted
// batch.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	if e.telemetrySrv != nil {
		e.telemetrySrv.Stop(context.Background())
	}
	if e.persist != nil {
		if err := e.persist.Flush(); err != nil {
			e.logger.Error("final persist flush", "error", err)
		}
	}
}

// Summary builds the final report.
func (e *Engine) Summary() report.Summary {
	counters := e.quoter.Counters()
	return report.Summary{
		Symbol:         e.instrument.Symbol,
		SessionStart:   e.sessionStart,
		SessionEnd:     time.Now(),
		InitialCash:    e.cfg.Instrument.InitialCash,
		FinalCash:      e.sim.Cash(),
		FinalPosition:  e.sim.Position(),
		FinalEquity:    e.sim.Equity(e.lastMid),
		RealizedFees:   counters.SessionFees,
		OrdersSent:     counters.OrdersSent,
		Fills:          counters.Fills,
		Wins:           counters.Wins,
		Total:          counters.Total,
		MaxDrawdownPct: e.riskMgr.MaxDrawdownObserved(),
		RollingVolume:  e.sim.RollingVolume(),
		FinalState:     string(e.quoter.State()),
		EmergencyFired: e.riskMgr.EmergencyShutdown(),
	}
}
