package report

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestWrite_RendersAllFigures(t *testing.T) {
	start := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	s := Summary{
		Symbol:         "BTC-SIM",
		SessionStart:   start,
		SessionEnd:     start.Add(time.Hour),
		InitialCash:    1000,
		FinalCash:      980,
		FinalPosition:  0.5,
		FinalEquity:    1030.25,
		RealizedFees:   4.20,
		OrdersSent:     42,
		Fills:          7,
		Wins:           4,
		Total:          7,
		MaxDrawdownPct: 0.031,
		RollingVolume:  12345.67,
		FinalState:     "QUOTING",
	}

	var buf bytes.Buffer
	if err := Write(&buf, s); err != nil {
		t.Fatalf("Write: %v", err)
	}
	out := buf.String()

	for _, want := range []string{
		"session report: BTC-SIM",
		"pnl",
		"30.25", // 1030.25 - 1000
		"4/7 (57.1%)",
		"3.10%",
		"QUOTING",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q:\n%s", want, out)
		}
	}
}

func TestWrite_ZeroFillsReportsNoWinRate(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, Summary{Symbol: "X"}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if !strings.Contains(buf.String(), "n/a") {
		t.Errorf("expected an n/a win rate with zero round-trips:\n%s", buf.String())
	}
}
