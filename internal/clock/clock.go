// Package clock exposes wall-clock timestamps with microsecond precision
// and a generator of simulated processing latencies for the four event
// classes the execution path cares about: market data, order placement,
// order cancel, and tick-to-trade.
//
// The implementation is deliberately synthetic — this is a simulator, not
// an HFT stack. Samples are the sum of a base uniform draw and, with small
// probability, a heavy-tail jitter draw.
package clock

import (
	"math/rand"
	"sort"
	"sync"
	"time"
)

// Kind identifies one of the four latency classes tracked by the histogram.
type Kind string

const (
	MarketData     Kind = "market_data"
	OrderPlacement Kind = "order_placement"
	OrderCancel    Kind = "order_cancel"
	TickToTrade    Kind = "tick_to_trade"
)

// Severity classifies a latency spike.
type Severity string

const (
	Warning  Severity = "warning"
	Critical Severity = "critical"
)

// thresholds holds warn/crit microsecond boundaries for one kind. A zero
// CritUs means the kind has no spike classification (order_cancel).
type thresholds struct {
	WarnUs int
	CritUs int
}

// Spike is one recorded latency sample that crossed a warning threshold.
type Spike struct {
	Kind      Kind
	Severity  Severity
	Us        int
	Timestamp time.Time
}

// Summary is the rolling statistical view of one kind's recent samples.
type Summary struct {
	Count int
	Mean  float64
	P95   float64
	P99   float64
	Max   int
}

// Clock samples simulated processing latencies and maintains rolling
// histograms per kind, plus a bounded spike log.
type Clock struct {
	mu         sync.Mutex
	rng        *rand.Rand
	windowSize int
	thresh     map[Kind]thresholds
	samples    map[Kind][]int
	spikes     []Spike
	maxSpikes  int
}

// Config configures a Clock's thresholds and rolling-window size.
type Config struct {
	WindowSize           int
	MarketDataWarnUs     int
	MarketDataCritUs     int
	OrderPlacementWarnUs int
	OrderPlacementCritUs int
	TickToTradeWarnUs    int
	TickToTradeCritUs    int
}

// DefaultConfig returns the stock warn/critical thresholds.
func DefaultConfig() Config {
	return Config{
		WindowSize:           500,
		MarketDataWarnUs:     1000,
		MarketDataCritUs:     5000,
		OrderPlacementWarnUs: 2000,
		OrderPlacementCritUs: 10000,
		TickToTradeWarnUs:    5000,
		TickToTradeCritUs:    15000,
	}
}

// New creates a Clock seeded from the given source, so tests are
// deterministic.
func New(cfg Config, seed int64) *Clock {
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = 500
	}
	return &Clock{
		rng:        rand.New(rand.NewSource(seed)),
		windowSize: cfg.WindowSize,
		maxSpikes:  200,
		thresh: map[Kind]thresholds{
			MarketData:     {WarnUs: cfg.MarketDataWarnUs, CritUs: cfg.MarketDataCritUs},
			OrderPlacement: {WarnUs: cfg.OrderPlacementWarnUs, CritUs: cfg.OrderPlacementCritUs},
			OrderCancel:    {}, // no spike classification
			TickToTrade:    {WarnUs: cfg.TickToTradeWarnUs, CritUs: cfg.TickToTradeCritUs},
		},
		samples: map[Kind][]int{
			MarketData:     {},
			OrderPlacement: {},
			OrderCancel:    {},
			TickToTrade:    {},
		},
	}
}

// Now returns the current wall-clock time with microsecond precision.
func (c *Clock) Now() time.Time {
	return time.Now().Truncate(time.Microsecond)
}

// Sample returns a nonnegative microsecond latency for one kind: the sum
// of a base uniform draw and, with small probability, a heavy-tail jitter
// draw. tick_to_trade is synthesized as market_data + small processing +
// order_placement to stay internally consistent.
func (c *Clock) Sample(kind Kind) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch kind {
	case MarketData:
		return c.baseSampleLocked(50, 400)
	case OrderPlacement:
		return c.baseSampleLocked(200, 1200)
	case OrderCancel:
		return c.baseSampleLocked(100, 600)
	case TickToTrade:
		md := c.baseSampleLocked(50, 400)
		processing := 20 + c.rng.Intn(80)
		placement := c.baseSampleLocked(200, 1200)
		return md + processing + placement
	default:
		return c.baseSampleLocked(50, 400)
	}
}

func (c *Clock) baseSampleLocked(lo, hi int) int {
	base := lo + c.rng.Intn(hi-lo+1)
	if c.rng.Float64() < 0.02 {
		// heavy-tail jitter: occasional spike 5x-20x the base range
		base += (hi - lo) * (5 + c.rng.Intn(16))
	}
	if base < 0 {
		return 0
	}
	return base
}

// Record appends a sample to kind's rolling window, refreshes its summary
// statistics, and appends a spike record if the sample crosses the kind's
// warning threshold.
func (c *Clock) Record(kind Kind, us int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	window := append(c.samples[kind], us)
	if len(window) > c.windowSize {
		window = window[len(window)-c.windowSize:]
	}
	c.samples[kind] = window

	th := c.thresh[kind]
	if th.WarnUs <= 0 {
		return
	}
	var sev Severity
	switch {
	case th.CritUs > 0 && us >= th.CritUs:
		sev = Critical
	case us >= th.WarnUs:
		sev = Warning
	default:
		return
	}

	c.spikes = append(c.spikes, Spike{Kind: kind, Severity: sev, Us: us, Timestamp: time.Now()})
	if len(c.spikes) > c.maxSpikes {
		c.spikes = c.spikes[len(c.spikes)-c.maxSpikes:]
	}
}

// SampleAndRecord is a convenience that draws a sample and records it in
// one call, returning the microsecond value drawn.
func (c *Clock) SampleAndRecord(kind Kind) int {
	us := c.Sample(kind)
	c.Record(kind, us)
	return us
}

// SummaryFor returns the rolling mean/p95/p99/max for one kind.
func (c *Clock) SummaryFor(kind Kind) Summary {
	c.mu.Lock()
	defer c.mu.Unlock()

	samples := c.samples[kind]
	if len(samples) == 0 {
		return Summary{}
	}

	sorted := append([]int{}, samples...)
	sort.Ints(sorted)

	sum := 0
	maxV := sorted[0]
	for _, v := range sorted {
		sum += v
		if v > maxV {
			maxV = v
		}
	}

	return Summary{
		Count: len(sorted),
		Mean:  float64(sum) / float64(len(sorted)),
		P95:   percentile(sorted, 0.95),
		P99:   percentile(sorted, 0.99),
		Max:   maxV,
	}
}

// Spikes returns a copy of the bounded spike log.
func (c *Clock) Spikes() []Spike {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Spike, len(c.spikes))
	copy(out, c.spikes)
	return out
}

func percentile(sorted []int, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p * float64(len(sorted)-1))
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return float64(sorted[idx])
}
