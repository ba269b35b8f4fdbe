package oracle

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"
)

// Manual is an operator-controlled source. During an upstream venue outage an
// operator can pin a rate so the gate keeps evaluating instead of failing
// closed on every pair.
type Manual struct {
	mu    sync.RWMutex
	rates map[string]Quote
}

// NewManual builds an empty manual source.
func NewManual() *Manual {
	return &Manual{rates: make(map[string]Quote)}
}

func (m *Manual) Name() string { return "manual" }

// Set pins a rate for the pair. A nil or non-positive rate is rejected.
func (m *Manual) Set(base, quote string, rate *big.Rat) error {
	if rate == nil || rate.Sign() <= 0 {
		return fmt.Errorf("oracle: manual rate must be positive")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rates[manualKey(base, quote)] = Quote{
		Rate:      new(big.Rat).Set(rate),
		Timestamp: time.Now(),
		Source:    "manual",
	}
	return nil
}

// Clear removes a pinned rate.
func (m *Manual) Clear(base, quote string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rates, manualKey(base, quote))
}

func (m *Manual) Fetch(ctx context.Context, base, quote string) (Quote, error) {
	if err := ctx.Err(); err != nil {
		return Quote{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	pinned, ok := m.rates[manualKey(base, quote)]
	if !ok {
		return Quote{}, fmt.Errorf("oracle: no manual rate for %s/%s", base, quote)
	}
	return pinned.Clone(), nil
}

func manualKey(base, quote string) string {
	return strings.ToUpper(strings.TrimSpace(base)) + "/" + strings.ToUpper(strings.TrimSpace(quote))
}
