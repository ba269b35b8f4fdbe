package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"chainswap/chain"
)

func openTestHistory(t *testing.T) *PriceHistory {
	t.Helper()
	history, err := OpenPriceHistory(":memory:")
	if err != nil {
		t.Fatalf("open price history: %v", err)
	}
	t.Cleanup(func() { history.Close() })
	return history
}

func TestOpenPriceHistoryRequiresPath(t *testing.T) {
	if _, err := OpenPriceHistory("  "); !errors.Is(err, ErrPathRequired) {
		t.Fatalf("err = %v, want ErrPathRequired", err)
	}
}

func TestRecordAndQuerySamples(t *testing.T) {
	history := openTestHistory(t)
	ctx := context.Background()

	base := time.Unix(1_700_000_000, 0)
	if err := history.RecordSample(ctx, chain.RefEVM, "usdc/nhb", "DexQuote", "1.000000000000000000", base); err != nil {
		t.Fatalf("record sample: %v", err)
	}
	if err := history.RecordSample(ctx, chain.RefLedger, "USDC/NHB", "reference", "1.003000000000000000", base.Add(time.Minute)); err != nil {
		t.Fatalf("record sample: %v", err)
	}

	samples, err := history.RecentSamples(ctx, "usdc/nhb", 10)
	if err != nil {
		t.Fatalf("recent samples: %v", err)
	}
	if len(samples) != 2 {
		t.Fatalf("samples = %d, want 2", len(samples))
	}
	if samples[0].Source != "reference" {
		t.Fatalf("ordering wrong, newest first expected, got %s", samples[0].Source)
	}
	if samples[0].Pair != "USDC/NHB" {
		t.Fatalf("pair not normalized: %s", samples[0].Pair)
	}
}

func TestRecordAndQueryViolations(t *testing.T) {
	history := openTestHistory(t)
	ctx := context.Background()

	first := time.Unix(1_700_000_000, 0)
	if err := history.RecordViolation(ctx, "USDC/NHB", "0.064000", "0.050000", first); err != nil {
		t.Fatalf("record violation: %v", err)
	}
	if err := history.RecordViolation(ctx, "USDC/NHB", "0.071000", "0.050000", first.Add(time.Minute)); err != nil {
		t.Fatalf("record violation: %v", err)
	}
	if err := history.RecordViolation(ctx, "ETH/NHB", "0.090000", "0.050000", first.Add(2*time.Minute)); err != nil {
		t.Fatalf("record violation: %v", err)
	}

	entries, err := history.RecentViolations(ctx, "USDC/NHB", 10)
	if err != nil {
		t.Fatalf("recent violations: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	if entries[0].Deviation != "0.071000" {
		t.Fatalf("newest first expected, got %s", entries[0].Deviation)
	}

	all, err := history.RecentViolations(ctx, "", 10)
	if err != nil {
		t.Fatalf("all violations: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("all entries = %d, want 3", len(all))
	}
}
