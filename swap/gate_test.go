package swap

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"chainswap/chain"
)

func TestGateCheckWithinThreshold(t *testing.T) {
	source := newFakeSource()
	source.setPrice(chain.RefEVM, big.NewRat(3000, 1))
	source.setPrice(chain.RefLedger, big.NewRat(3009, 1))
	gate, err := NewGate(source, nil, time.Second)
	if err != nil {
		t.Fatalf("new gate: %v", err)
	}

	report, err := gate.Check(context.Background(), chain.RefEVM, chain.RefLedger, "usdc", "nhb")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !report.Safe {
		t.Fatalf("0.3%% deviation flagged unsafe")
	}
	if report.Pair != "USDC/NHB" {
		t.Fatalf("pair = %q, want USDC/NHB", report.Pair)
	}
	if report.SpreadPercent != "0.3000" {
		t.Fatalf("spread = %s, want 0.3000", report.SpreadPercent)
	}
}

func TestGateCheckBeyondThreshold(t *testing.T) {
	source := newFakeSource()
	source.setPrice(chain.RefEVM, big.NewRat(3000, 1))
	source.setPrice(chain.RefLedger, big.NewRat(3192, 1))
	gate, err := NewGate(source, nil, time.Second)
	if err != nil {
		t.Fatalf("new gate: %v", err)
	}
	recorder := &captureRecorder{}
	gate.SetRecorder(recorder)

	report, err := gate.Check(context.Background(), chain.RefEVM, chain.RefLedger, "USDC", "NHB")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if report.Safe {
		t.Fatalf("6.4%% deviation passed the 5%% threshold")
	}
	if report.SpreadPercent != "6.4000" {
		t.Fatalf("spread = %s, want 6.4000", report.SpreadPercent)
	}
	if len(recorder.violations) != 1 {
		t.Fatalf("recorded violations = %d, want 1", len(recorder.violations))
	}
}

func TestGateFailsClosed(t *testing.T) {
	source := newFakeSource()
	source.setErr(errors.New("feed timeout"))
	gate, err := NewGate(source, nil, time.Second)
	if err != nil {
		t.Fatalf("new gate: %v", err)
	}

	_, err = gate.Check(context.Background(), chain.RefEVM, chain.RefLedger, "USDC", "NHB")
	if !errors.Is(err, ErrPriceUnavailable) {
		t.Fatalf("err = %v, want ErrPriceUnavailable", err)
	}
}

func TestGateRejectsNonPositiveQuote(t *testing.T) {
	source := newFakeSource()
	source.setPrice(chain.RefLedger, big.NewRat(0, 1))
	gate, err := NewGate(source, nil, time.Second)
	if err != nil {
		t.Fatalf("new gate: %v", err)
	}

	_, err = gate.Check(context.Background(), chain.RefEVM, chain.RefLedger, "USDC", "NHB")
	if !errors.Is(err, ErrPriceUnavailable) {
		t.Fatalf("err = %v, want ErrPriceUnavailable", err)
	}
}

func TestGatePause(t *testing.T) {
	gate, err := NewGate(newFakeSource(), nil, time.Second)
	if err != nil {
		t.Fatalf("new gate: %v", err)
	}
	gate.SetPaused(true)
	if _, err := gate.Check(context.Background(), chain.RefEVM, chain.RefLedger, "USDC", "NHB"); !errors.Is(err, ErrPegProtectionTriggered) {
		t.Fatalf("paused gate: err = %v, want ErrPegProtectionTriggered", err)
	}
	gate.SetPaused(false)
	if _, err := gate.Check(context.Background(), chain.RefEVM, chain.RefLedger, "USDC", "NHB"); err != nil {
		t.Fatalf("resumed gate: %v", err)
	}
}

func TestGateThresholdOverride(t *testing.T) {
	source := newFakeSource()
	source.setPrice(chain.RefEVM, big.NewRat(3000, 1))
	source.setPrice(chain.RefLedger, big.NewRat(3060, 1))
	gate, err := NewGate(source, nil, time.Second)
	if err != nil {
		t.Fatalf("new gate: %v", err)
	}

	report, err := gate.Check(context.Background(), chain.RefEVM, chain.RefLedger, "USDC", "NHB")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !report.Safe {
		t.Fatalf("2%% deviation unsafe under the default threshold")
	}

	if err := gate.SetThreshold(big.NewRat(1, 100)); err != nil {
		t.Fatalf("set threshold: %v", err)
	}
	report, err = gate.Check(context.Background(), chain.RefEVM, chain.RefLedger, "USDC", "NHB")
	if err != nil {
		t.Fatalf("check after override: %v", err)
	}
	if report.Safe {
		t.Fatalf("2%% deviation safe under a 1%% threshold")
	}

	if err := gate.SetThreshold(big.NewRat(-1, 100)); err == nil {
		t.Fatalf("negative threshold accepted")
	}
}

func TestProfitable(t *testing.T) {
	report := GateReport{SpreadPercent: "0.3000"}
	if err := Profitable(report, "0.5"); !errors.Is(err, ErrInsufficientSpread) {
		t.Fatalf("err = %v, want ErrInsufficientSpread", err)
	}
	if err := Profitable(report, "0.3"); err != nil {
		t.Fatalf("exact threshold rejected: %v", err)
	}
	if err := Profitable(report, ""); err != nil {
		t.Fatalf("no minimum rejected: %v", err)
	}
	if err := Profitable(report, "abc"); err == nil {
		t.Fatalf("malformed minimum accepted")
	}
}

func TestComputeDeviationSymmetric(t *testing.T) {
	a := big.NewRat(3000, 1)
	b := big.NewRat(3192, 1)
	forward := computeDeviation(new(big.Rat).Set(a), new(big.Rat).Set(b))
	backward := computeDeviation(new(big.Rat).Set(b), new(big.Rat).Set(a))
	if forward.Cmp(backward) != 0 {
		t.Fatalf("deviation not symmetric: %s vs %s", forward.FloatString(6), backward.FloatString(6))
	}
	if want := big.NewRat(64, 1000); forward.Cmp(want) != 0 {
		t.Fatalf("deviation = %s, want 0.064", forward.FloatString(6))
	}
}

type captureRecorder struct {
	mu         sync.Mutex
	violations []string
}

func (c *captureRecorder) RecordViolation(ctx context.Context, pair, deviation, threshold string, ts time.Time) error {
	c.mu.Lock()
	c.violations = append(c.violations, pair+" "+deviation)
	c.mu.Unlock()
	return nil
}
