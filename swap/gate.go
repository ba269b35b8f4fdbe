package swap

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"chainswap/chain"
)

// PriceSource resolves a token-pair price as observed on a specific chain's
// venue. Implementations live in the oracle package; tests inject manual
// sources.
type PriceSource interface {
	Name() string
	Price(ctx context.Context, ref chain.Ref, base, quote string) (*big.Rat, error)
}

// GateReport captures one spread/peg evaluation. Prices and ratios are
// rendered as decimal strings so the report can travel through step results
// unchanged.
type GateReport struct {
	Pair          string `json:"pair"`
	SourcePrice   string `json:"sourcePrice"`
	TargetPrice   string `json:"targetPrice"`
	Deviation     string `json:"deviation"`
	SpreadPercent string `json:"spreadPercent"`
	Threshold     string `json:"threshold"`
	Safe          bool   `json:"safe"`
	CheckedAt     int64  `json:"checkedAt"`

	deviation *big.Rat
}

// DefaultAlertThreshold is the deviation above which the peg is considered
// unsafe (5%).
var DefaultAlertThreshold = big.NewRat(5, 100)

// ViolationRecorder receives peg violations for durable history. The sqlite
// storage layer implements it; a nil recorder disables history.
type ViolationRecorder interface {
	RecordViolation(ctx context.Context, pair string, deviation, threshold string, ts time.Time) error
}

// Gate decides whether a swap may be created or continued based on live
// price data from both chains. It fails closed: any fetch failure marks the
// pair unsafe rather than guessing a deviation.
type Gate struct {
	mu        sync.RWMutex
	source    PriceSource
	threshold *big.Rat
	timeout   time.Duration
	recorder  ViolationRecorder
	paused    bool
	nowFn     func() int64
}

// NewGate constructs a gate over the supplied price source. A nil threshold
// selects the default 5%.
func NewGate(source PriceSource, threshold *big.Rat, timeout time.Duration) (*Gate, error) {
	if source == nil {
		return nil, fmt.Errorf("gate: price source required")
	}
	if threshold == nil {
		threshold = DefaultAlertThreshold
	}
	if threshold.Sign() <= 0 {
		return nil, fmt.Errorf("gate: threshold must be positive")
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Gate{
		source:    source,
		threshold: new(big.Rat).Set(threshold),
		timeout:   timeout,
		nowFn:     func() int64 { return time.Now().Unix() },
	}, nil
}

// SetNowFunc overrides the time source, primarily used in tests.
func (g *Gate) SetNowFunc(now func() int64) {
	if now == nil {
		now = func() int64 { return time.Now().Unix() }
	}
	g.mu.Lock()
	g.nowFn = now
	g.mu.Unlock()
}

// SetRecorder installs a durable violation recorder.
func (g *Gate) SetRecorder(rec ViolationRecorder) {
	g.mu.Lock()
	g.recorder = rec
	g.mu.Unlock()
}

// SetThreshold replaces the alert threshold at runtime (admin override).
func (g *Gate) SetThreshold(threshold *big.Rat) error {
	if threshold == nil || threshold.Sign() <= 0 {
		return invalidField("threshold", "must be positive")
	}
	g.mu.Lock()
	g.threshold = new(big.Rat).Set(threshold)
	g.mu.Unlock()
	return nil
}

// Threshold returns a copy of the current alert threshold.
func (g *Gate) Threshold() *big.Rat {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return new(big.Rat).Set(g.threshold)
}

// SetPaused halts all gate approvals while the flag is set.
func (g *Gate) SetPaused(paused bool) {
	g.mu.Lock()
	g.paused = paused
	g.mu.Unlock()
}

// Paused reports whether the gate is administratively paused.
func (g *Gate) Paused() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.paused
}

// Check fetches both chains' prices for the pair and evaluates the peg
// deviation against the alert threshold. Partial or total fetch failure
// returns ErrPriceUnavailable.
func (g *Gate) Check(ctx context.Context, source, target chain.Ref, base, quote string) (GateReport, error) {
	if g == nil {
		return GateReport{}, fmt.Errorf("gate not configured")
	}
	g.mu.RLock()
	src := g.source
	threshold := new(big.Rat).Set(g.threshold)
	timeout := g.timeout
	recorder := g.recorder
	paused := g.paused
	now := g.nowFn()
	g.mu.RUnlock()

	pair := strings.ToUpper(strings.TrimSpace(base)) + "/" + strings.ToUpper(strings.TrimSpace(quote))
	if paused {
		return GateReport{Pair: pair, Threshold: threshold.FloatString(6), CheckedAt: now}, ErrPegProtectionTriggered
	}

	fetchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	priceSource, err := src.Price(fetchCtx, source, base, quote)
	if err != nil {
		return GateReport{Pair: pair, CheckedAt: now}, fmt.Errorf("%w: %s price: %v", ErrPriceUnavailable, source, err)
	}
	priceTarget, err := src.Price(fetchCtx, target, base, quote)
	if err != nil {
		return GateReport{Pair: pair, CheckedAt: now}, fmt.Errorf("%w: %s price: %v", ErrPriceUnavailable, target, err)
	}
	if priceSource == nil || priceSource.Sign() <= 0 || priceTarget == nil || priceTarget.Sign() <= 0 {
		return GateReport{Pair: pair, CheckedAt: now}, fmt.Errorf("%w: non-positive quote", ErrPriceUnavailable)
	}

	deviation := computeDeviation(priceSource, priceTarget)
	spreadPercent := new(big.Rat).Mul(deviation, big.NewRat(100, 1))
	safe := deviation.Cmp(threshold) <= 0

	report := GateReport{
		Pair:          pair,
		SourcePrice:   priceSource.FloatString(18),
		TargetPrice:   priceTarget.FloatString(18),
		Deviation:     deviation.FloatString(6),
		SpreadPercent: spreadPercent.FloatString(4),
		Threshold:     threshold.FloatString(6),
		Safe:          safe,
		CheckedAt:     now,
		deviation:     deviation,
	}
	if !safe && recorder != nil {
		if err := recorder.RecordViolation(ctx, pair, report.Deviation, report.Threshold, time.Unix(now, 0)); err != nil {
			// History is best effort; the safety verdict stands regardless.
			_ = err
		}
	}
	return report, nil
}

// Profitable evaluates the caller's minimum-spread requirement against the
// report. This is a business constraint, checked independently of safety.
func Profitable(report GateReport, minSpreadPercent string) error {
	trimmed := strings.TrimSpace(minSpreadPercent)
	if trimmed == "" {
		return nil
	}
	minSpread, ok := new(big.Rat).SetString(trimmed)
	if !ok {
		return invalidField("minSpread", "not a decimal number")
	}
	if minSpread.Sign() < 0 {
		return invalidField("minSpread", "must not be negative")
	}
	spread, ok := new(big.Rat).SetString(report.SpreadPercent)
	if !ok {
		return ErrPriceUnavailable
	}
	if spread.Cmp(minSpread) < 0 {
		return fmt.Errorf("%w: spread %s%% below minimum %s%%", ErrInsufficientSpread, report.SpreadPercent, trimmed)
	}
	return nil
}

// Apply folds the report into the record's peg-protection state. Violations
// are appended, never rewritten.
func (p *PegProtection) Apply(report GateReport) {
	if p == nil {
		return
	}
	p.LastCheck = report.CheckedAt
	p.LastDeviation = report.Deviation
	p.SafeToSwap = report.Safe
	if !report.Safe {
		p.Violations = append(p.Violations, PegViolation{
			Timestamp: report.CheckedAt,
			Deviation: report.Deviation,
			Threshold: report.Threshold,
		})
	}
}

// computeDeviation returns |a-b| / min(a,b).
func computeDeviation(a, b *big.Rat) *big.Rat {
	diff := new(big.Rat).Sub(a, b)
	if diff.Sign() < 0 {
		diff.Neg(diff)
	}
	min := a
	if b.Cmp(a) < 0 {
		min = b
	}
	return diff.Quo(diff, min)
}
