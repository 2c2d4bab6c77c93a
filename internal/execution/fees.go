package execution

import "time"

// feeTier is one (cumulative-30d-volume threshold, maker-fee rate) row of
// the fee tier table.
type feeTier struct {
	threshold float64
	rateBps   float64
}

// defaultFeeTiers is the canonical table: thresholds
// {0, 10k, 50k, 100k, 1M, 15M, 75M, 250M, 400M} map to rates
// {40, 25, 15, 10, 8, 6, 3, 0, 0} bps.
var defaultFeeTiers = []feeTier{
	{threshold: 0, rateBps: 40},
	{threshold: 10_000, rateBps: 25},
	{threshold: 50_000, rateBps: 15},
	{threshold: 100_000, rateBps: 10},
	{threshold: 1_000_000, rateBps: 8},
	{threshold: 15_000_000, rateBps: 6},
	{threshold: 75_000_000, rateBps: 3},
	{threshold: 250_000_000, rateBps: 0},
	{threshold: 400_000_000, rateBps: 0},
}

// activeRate walks the table in ascending threshold order and keeps the
// rate of the last tier whose threshold is <= rollingTotal, i.e. the
// largest qualifying threshold. The rate is returned as a fraction, not bps.
func activeRate(tiers []feeTier, rollingTotal float64) float64 {
	rate := tiers[0].rateBps
	for _, t := range tiers {
		if t.threshold <= rollingTotal {
			rate = t.rateBps
		}
	}
	return rate / 10000.0
}

// volumeEntry is one (timestamp, notional) entry in the 30-day rolling
// volume history.
type volumeEntry struct {
	timestamp time.Time
	notional  float64
}

// volumeHistory maintains the rolling 30-day taker+maker volume total
// incrementally: entries older than 30 days are evicted on each add.
type volumeHistory struct {
	entries []volumeEntry
	total   float64
}

func newVolumeHistory() *volumeHistory {
	return &volumeHistory{}
}

func (v *volumeHistory) add(notional float64, ts time.Time) {
	v.entries = append(v.entries, volumeEntry{timestamp: ts, notional: notional})
	v.total += notional
	v.evict(ts)
}

func (v *volumeHistory) evict(now time.Time) {
	cutoff := now.Add(-30 * 24 * time.Hour)
	kept := v.entries[:0]
	for _, e := range v.entries {
		if e.timestamp.After(cutoff) {
			kept = append(kept, e)
		} else {
			v.total -= e.notional
		}
	}
	v.entries = kept
	if v.total < 0 {
		v.total = 0
	}
}

func (v *volumeHistory) rollingTotal() float64 {
	return v.total
}
