// Package risk enforces pre-trade and continuous limits for the quoting
// engine: position, daily loss, drawdown, order rate, concentration, VaR,
// and placement latency. It can trigger an emergency shutdown.
//
// The order_rate_limit gate compares the number of order attempts recorded
// in the last second (an eviction list) against the per-second ceiling.
// Alongside it, a continuously-refilling token bucket sized to the same
// ceiling is drawn once per recorded attempt; the gate does not read it.
package risk

import (
	"math"
	"sync"
	"time"
)

// Limits are the configurable risk ceilings.
type Limits struct {
	MaxPosition        float64
	MaxDailyLoss       float64
	MaxDrawdownPct     float64
	ConcentrationPct   float64
	VarLimit           float64
	MaxOrdersPerSecond int
	MaxLatencyMs       float64
	StartupGrace       time.Duration
	StartupGracePct    float64
}

// DefaultLimits mirrors a conservative single-instrument setup.
func DefaultLimits() Limits {
	return Limits{
		MaxPosition:        100,
		MaxDailyLoss:       200,
		MaxDrawdownPct:     0.20,
		ConcentrationPct:   0.10,
		VarLimit:           500,
		MaxOrdersPerSecond: 20,
		MaxLatencyMs:       50,
		StartupGrace:       5 * time.Minute,
		StartupGracePct:    0.01,
	}
}

// Gate names one of the eight pre-trade checks.
type Gate string

const (
	GatePositionLimit    Gate = "position_limit"
	GateDailyPnLLimit    Gate = "daily_pnl_limit"
	GateDrawdownLimit    Gate = "drawdown_limit"
	GateConcentration    Gate = "concentration_risk"
	GateVarLimit         Gate = "var_limit"
	GateOrderRateLimit   Gate = "order_rate_limit"
	GateLatencyLimit     Gate = "latency_limit"
	GateNoCriticalBreach Gate = "no_critical_breaches"
)

// PnLSample is one (timestamp, equity) observation used for the rolling
// drawdown/daily-loss histories.
type PnLSample struct {
	Timestamp time.Time
	Equity    float64
}

// Manager enforces the risk limits. It is safe for concurrent use.
type Manager struct {
	mu sync.Mutex

	limits    Limits
	sessionAt time.Time

	position    float64
	equity      float64
	peakEquity  float64
	maxDrawdown float64
	pnlHistory  []PnLSample

	attemptTimestamps []time.Time
	breaches          map[Gate]bool

	rateBucket *TokenBucket

	emergencyCleared bool
}

// NewManager constructs a Risk Manager whose session starts now. The
// order-rate ceiling is additionally modeled as a token bucket sized to
// the configured per-second rate with a one-second burst; RecordOrderAttempt
// draws from it, while the order_rate_limit gate reads only the
// eviction-list count.
func NewManager(limits Limits, now time.Time) *Manager {
	rate := float64(limits.MaxOrdersPerSecond)
	if rate <= 0 {
		rate = 1
	}
	return &Manager{
		limits:     limits,
		sessionAt:  now,
		peakEquity: 0,
		breaches:   make(map[Gate]bool),
		rateBucket: NewTokenBucket(rate, rate, now),
	}
}

// CheckResult is the outcome of a pre-trade check: whether the order is
// permitted, and the per-gate pass/fail map.
type CheckResult struct {
	Permit bool
	Checks map[Gate]bool
}

// CheckPreTrade runs the eight named gates and returns whether the
// order is permitted. currentPosition/currentEquity are the state *before*
// this order; size is signed-neutral (the side determines direction).
func (m *Manager) CheckPreTrade(side string, size, price, currentPosition, currentEquity, latencyMs float64, now time.Time) CheckResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	checks := make(map[Gate]bool, 8)

	// 1. position_limit
	proposed := currentPosition
	if side == "buy" {
		proposed += size
	} else {
		proposed -= size
	}
	checks[GatePositionLimit] = math.Abs(proposed) <= m.limits.MaxPosition

	inGrace := now.Sub(m.sessionAt) <= m.limits.StartupGrace

	// 2. daily_pnl_limit
	peak := m.peakEquity
	if peak == 0 {
		peak = currentEquity
	}
	maxLoss := m.limits.MaxDailyLoss
	if inGrace {
		maxLoss = math.Max(maxLoss, peak*m.limits.StartupGracePct)
	}
	checks[GateDailyPnLLimit] = currentEquity-peak >= -maxLoss

	// 3. drawdown_limit
	maxDD := m.limits.MaxDrawdownPct
	if inGrace {
		maxDD = math.Max(maxDD, 0.02)
	}
	var ddFrac float64
	if peak > 0 {
		ddFrac = (peak - currentEquity) / peak
	}
	checks[GateDrawdownLimit] = ddFrac <= maxDD

	// 4. concentration_risk
	notional := size * price
	if notional < 0.50 {
		checks[GateConcentration] = true
	} else {
		typicalVol := typicalMinuteVolume(price)
		checks[GateConcentration] = notional <= m.limits.ConcentrationPct*typicalVol*price
	}

	// 5. var_limit
	const dailyVol = 0.01
	varEstimate := math.Abs(proposed*price) * dailyVol * 2.33
	checks[GateVarLimit] = varEstimate <= m.limits.VarLimit

	// 6. order_rate_limit
	cutoff := now.Add(-time.Second)
	count := 0
	for _, ts := range m.attemptTimestamps {
		if ts.After(cutoff) {
			count++
		}
	}
	checks[GateOrderRateLimit] = count <= m.limits.MaxOrdersPerSecond

	// 7. latency_limit
	checks[GateLatencyLimit] = latencyMs <= m.limits.MaxLatencyMs

	// Recompute persistent breach set over gates 1-3 before gate 8 is read,
	// so no_critical_breaches reflects this call's own findings too.
	m.recomputeBreachesLocked(checks)

	// 8. no_critical_breaches
	checks[GateNoCriticalBreach] = len(m.breaches) == 0

	permit := true
	for _, ok := range checks {
		if !ok {
			permit = false
			break
		}
	}

	return CheckResult{Permit: permit, Checks: checks}
}

func (m *Manager) recomputeBreachesLocked(checks map[Gate]bool) {
	for _, g := range []Gate{GatePositionLimit, GateDailyPnLLimit, GateDrawdownLimit} {
		if !checks[g] {
			m.breaches[g] = true
		} else {
			delete(m.breaches, g)
		}
	}
}

// RecordOrderAttempt appends an attempt timestamp, evicts anything older
// than one second, and draws from the rate-ceiling token bucket.
func (m *Manager) RecordOrderAttempt(now time.Time) {
	m.mu.Lock()
	m.attemptTimestamps = append(m.attemptTimestamps, now)
	cutoff := now.Add(-time.Second)
	kept := m.attemptTimestamps[:0]
	for _, ts := range m.attemptTimestamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	m.attemptTimestamps = kept
	bucket := m.rateBucket
	m.mu.Unlock()

	bucket.Allow(now)
}

// UpdatePositionAndPnL updates the rolling equity history, peak equity, and
// max observed drawdown.
func (m *Manager) UpdatePositionAndPnL(position, equity float64, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.position = position
	m.equity = equity
	if equity > m.peakEquity {
		m.peakEquity = equity
	}
	if m.peakEquity > 0 {
		dd := (m.peakEquity - equity) / m.peakEquity
		if dd > m.maxDrawdown {
			m.maxDrawdown = dd
		}
	}

	m.pnlHistory = append(m.pnlHistory, PnLSample{Timestamp: now, Equity: equity})
	cutoff := now.Add(-24 * time.Hour)
	kept := m.pnlHistory[:0]
	for _, s := range m.pnlHistory {
		if s.Timestamp.After(cutoff) {
			kept = append(kept, s)
		}
	}
	m.pnlHistory = kept
}

// EmergencyShutdown reports whether an emergency condition holds: daily PnL
// below 80% of the daily-loss limit, drawdown above 90% of the drawdown
// limit, or two-or-more critical (gate 1-3) breaches simultaneously.
func (m *Manager) EmergencyShutdown() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.peakEquity > 0 {
		loss := m.peakEquity - m.equity
		if loss >= 0.80*m.limits.MaxDailyLoss {
			return true
		}
	}
	if m.maxDrawdown > 0.90*m.limits.MaxDrawdownPct {
		return true
	}
	if len(m.breaches) >= 2 {
		return true
	}
	return false
}

// MaxDrawdownObserved returns the largest drawdown fraction seen this
// session.
func (m *Manager) MaxDrawdownObserved() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxDrawdown
}

// BreachedGates returns the names of currently persistent breaches
// (gates 1-3).
func (m *Manager) BreachedGates() []Gate {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Gate, 0, len(m.breaches))
	for g := range m.breaches {
		out = append(out, g)
	}
	return out
}

// typicalMinuteVolume is a step function of price approximating how much
// of the instrument trades per minute at that price level — cheap prices
// trade in bulk, expensive prices trade thin.
func typicalMinuteVolume(price float64) float64 {
	switch {
	case price >= 50000:
		return 10
	case price >= 1000:
		return 200
	case price >= 1:
		return 500
	default:
		return 2000
	}
}

// InventorySkew computes the (bidSkew, askSkew) price-offset pair in quote
// units from current inventory, the inventory target, and a volatility
// estimate. The skew widens with inventory risk and with time since the
// last inventory update, capped by the half-life.
func InventorySkew(inventory, target, maxInventory, kTicksPerUnit, volatility float64, secondsSinceUpdate, halfLifeSeconds float64) (bidSkew, askSkew float64) {
	invDev := inventory - target
	risk := 0.0
	if maxInventory > 0 {
		risk = math.Abs(invDev) / maxInventory
	}
	timePenalty := 1.0
	if halfLifeSeconds > 0 {
		timePenalty = math.Min(1, secondsSinceUpdate/halfLifeSeconds)
	}
	base := invDev * kTicksPerUnit
	skew := base * (1 + risk*timePenalty) * (1 + 2*volatility)
	return -skew / 2, skew / 2
}
