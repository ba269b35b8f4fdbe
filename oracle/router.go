package oracle

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"

	"chainswap/chain"
)

// SampleRecorder persists raw venue observations for audit and history. The
// sqlite storage layer implements it; a nil recorder disables history.
type SampleRecorder interface {
	RecordSample(ctx context.Context, ref chain.Ref, pair, source, rate string, observed time.Time) error
}

// FetchObserver receives per-venue fetch timings. The observability layer
// implements it with a latency histogram; a nil observer disables timing.
type FetchObserver interface {
	ObserveFetch(source string, outcome string, elapsed time.Duration)
}

// Router answers per-chain price lookups by fanning out to the venues
// registered for that chain and taking the median of the fresh quotes. It
// satisfies the engine's price-source contract.
type Router struct {
	mu       sync.RWMutex
	logger   *log.Logger
	sources  map[chain.Ref][]Source
	maxAge   time.Duration
	minFeeds int
	recorder SampleRecorder
	observer FetchObserver
	nowFn    func() time.Time
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithLogger installs a custom logger.
func WithLogger(l *log.Logger) RouterOption {
	return func(r *Router) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithSampleRecorder installs durable sample history.
func WithSampleRecorder(rec SampleRecorder) RouterOption {
	return func(r *Router) { r.recorder = rec }
}

// WithFetchObserver installs venue fetch timing.
func WithFetchObserver(obs FetchObserver) RouterOption {
	return func(r *Router) { r.observer = obs }
}

// WithMaxAge bounds how stale a venue quote may be before it is discarded.
func WithMaxAge(maxAge time.Duration) RouterOption {
	return func(r *Router) {
		if maxAge > 0 {
			r.maxAge = maxAge
		}
	}
}

// WithMinFeeds sets how many fresh quotes a chain needs before the router
// reports a price.
func WithMinFeeds(minFeeds int) RouterOption {
	return func(r *Router) {
		if minFeeds > 0 {
			r.minFeeds = minFeeds
		}
	}
}

// WithNowFunc overrides the time source, primarily for tests.
func WithNowFunc(now func() time.Time) RouterOption {
	return func(r *Router) {
		if now != nil {
			r.nowFn = now
		}
	}
}

// NewRouter constructs a router over the supplied per-chain venue sources.
func NewRouter(sources map[chain.Ref][]Source, opts ...RouterOption) (*Router, error) {
	if len(sources) == 0 {
		return nil, fmt.Errorf("oracle: at least one chain source required")
	}
	router := &Router{
		logger:   log.Default(),
		sources:  make(map[chain.Ref][]Source, len(sources)),
		maxAge:   time.Minute,
		minFeeds: 1,
		nowFn:    time.Now,
	}
	for ref, list := range sources {
		if !ref.Valid() {
			return nil, fmt.Errorf("oracle: unknown chain %q", ref)
		}
		filtered := make([]Source, 0, len(list))
		for _, src := range list {
			if src != nil {
				filtered = append(filtered, src)
			}
		}
		if len(filtered) == 0 {
			return nil, fmt.Errorf("oracle: chain %s has no sources", ref)
		}
		router.sources[ref] = filtered
	}
	for _, opt := range opts {
		if opt != nil {
			opt(router)
		}
	}
	return router, nil
}

// Name identifies the router in gate reports and logs.
func (r *Router) Name() string { return "median-router" }

// Price returns the median of the fresh quotes available for the pair on the
// given chain. Too few usable quotes is an error; the caller fails closed.
func (r *Router) Price(ctx context.Context, ref chain.Ref, base, quote string) (*big.Rat, error) {
	if r == nil {
		return nil, fmt.Errorf("oracle: router not configured")
	}
	r.mu.RLock()
	list := r.sources[ref]
	maxAge := r.maxAge
	minFeeds := r.minFeeds
	recorder := r.recorder
	observer := r.observer
	now := r.nowFn()
	r.mu.RUnlock()
	if len(list) == 0 {
		return nil, fmt.Errorf("oracle: no sources for chain %s", ref)
	}

	pair := strings.ToUpper(strings.TrimSpace(base)) + "/" + strings.ToUpper(strings.TrimSpace(quote))
	rates := make([]*big.Rat, 0, len(list))
	for _, src := range list {
		started := time.Now()
		observed, err := src.Fetch(ctx, base, quote)
		if observer != nil {
			outcome := "ok"
			if err != nil {
				outcome = "error"
			}
			observer.ObserveFetch(src.Name(), outcome, time.Since(started))
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			r.logger.Printf("oracle: source %s failed for %s on %s: %v", src.Name(), pair, ref, err)
			continue
		}
		if observed.Rate == nil || observed.Rate.Sign() <= 0 {
			r.logger.Printf("oracle: source %s returned invalid rate for %s", src.Name(), pair)
			continue
		}
		if observed.Timestamp.After(now.Add(5 * time.Second)) {
			r.logger.Printf("oracle: source %s produced future timestamp for %s", src.Name(), pair)
			continue
		}
		if maxAge > 0 && observed.Timestamp.Before(now.Add(-maxAge)) {
			r.logger.Printf("oracle: source %s quote expired for %s", src.Name(), pair)
			continue
		}
		rates = append(rates, new(big.Rat).Set(observed.Rate))
		if recorder != nil {
			if err := recorder.RecordSample(ctx, ref, pair, src.Name(), observed.Rate.FloatString(18), observed.Timestamp); err != nil {
				r.logger.Printf("oracle: record sample: %v", err)
			}
		}
	}
	if len(rates) < minFeeds {
		return nil, fmt.Errorf("oracle: %d of %d required feeds for %s on %s", len(rates), minFeeds, pair, ref)
	}
	return median(rates), nil
}

func median(rates []*big.Rat) *big.Rat {
	sorted := make([]*big.Rat, len(rates))
	copy(sorted, rates)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Cmp(sorted[j]) < 0 })
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return new(big.Rat).Set(sorted[mid])
	}
	sum := new(big.Rat).Add(sorted[mid-1], sorted[mid])
	return sum.Quo(sum, big.NewRat(2, 1))
}
