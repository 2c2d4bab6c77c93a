// Package report renders the final performance report printed on orderly
// shutdown. It is pure formatting over values the wiring layer already
// collects from the execution simulator, risk manager, and quoting
// engine, so it takes no dependency on those packages' types: a Summary
// struct decouples it from their internals.
package report

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"
)

// Summary is the flattened set of figures the report prints.
type Summary struct {
	Symbol         string
	SessionStart   time.Time
	SessionEnd     time.Time
	InitialCash    float64
	FinalCash      float64
	FinalPosition  float64
	FinalEquity    float64
	RealizedFees   float64
	OrdersSent     int
	Fills          int
	Wins           int
	Total          int
	MaxDrawdownPct float64
	RollingVolume  float64
	FinalState     string
	EmergencyFired bool
}

// Write renders the report to w as plain key/value lines, column-aligned
// with a tabwriter.
func Write(w io.Writer, s Summary) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)

	fmt.Fprintf(tw, "=== session report: %s ===\n", s.Symbol)
	fmt.Fprintf(tw, "started\t%s\n", s.SessionStart.Format(time.RFC3339))
	fmt.Fprintf(tw, "ended\t%s\n", s.SessionEnd.Format(time.RFC3339))
	fmt.Fprintf(tw, "duration\t%s\n", s.SessionEnd.Sub(s.SessionStart).Round(time.Second))
	fmt.Fprintf(tw, "initial cash\t%.2f\n", s.InitialCash)
	fmt.Fprintf(tw, "final cash\t%.2f\n", s.FinalCash)
	fmt.Fprintf(tw, "final position\t%.4f\n", s.FinalPosition)
	fmt.Fprintf(tw, "final equity\t%.2f\n", s.FinalEquity)
	fmt.Fprintf(tw, "pnl\t%.2f\n", s.FinalEquity-s.InitialCash)
	fmt.Fprintf(tw, "fees paid\t%.4f\n", s.RealizedFees)
	fmt.Fprintf(tw, "orders sent\t%d\n", s.OrdersSent)
	fmt.Fprintf(tw, "fills\t%d\n", s.Fills)
	fmt.Fprintf(tw, "win rate\t%s\n", winRate(s.Wins, s.Total))
	fmt.Fprintf(tw, "max drawdown\t%.2f%%\n", s.MaxDrawdownPct*100)
	fmt.Fprintf(tw, "30d rolling volume\t%.2f\n", s.RollingVolume)
	fmt.Fprintf(tw, "final state\t%s\n", s.FinalState)
	fmt.Fprintf(tw, "emergency shutdown\t%t\n", s.EmergencyFired)

	return tw.Flush()
}

func winRate(wins, total int) string {
	if total == 0 {
		return "n/a"
	}
	return fmt.Sprintf("%d/%d (%.1f%%)", wins, total, 100*float64(wins)/float64(total))
}
