package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Quote captures one observed rate together with the upstream timestamp and
// the venue identifier.
type Quote struct {
	Rate      *big.Rat
	Timestamp time.Time
	Source    string
}

// Clone returns a deep copy of the quote.
func (q Quote) Clone() Quote {
	clone := Quote{Timestamp: q.Timestamp, Source: q.Source}
	if q.Rate != nil {
		clone.Rate = new(big.Rat).Set(q.Rate)
	}
	return clone
}

// Source resolves a rate for a token pair on one venue.
type Source interface {
	Name() string
	Fetch(ctx context.Context, base, quote string) (Quote, error)
}

// Registry constructs venue sources from configuration.
type Registry struct {
	HTTPClient *http.Client
}

// NewRegistry builds a registry with sane defaults.
func NewRegistry() *Registry {
	return &Registry{HTTPClient: &http.Client{Timeout: 10 * time.Second}}
}

// Build creates a source from the supplied configuration. The optional
// ratePerSecond throttles outbound calls to the venue.
func (r *Registry) Build(name, typ, endpoint string, ratePerSecond float64) (Source, error) {
	var src Source
	switch strings.ToLower(strings.TrimSpace(typ)) {
	case "dexquote":
		src = newDexQuoteSource(r.client(), label(name, "dexquote"), endpoint)
	case "reference":
		src = newReferenceSource(r.client(), label(name, "reference"), endpoint)
	default:
		return nil, fmt.Errorf("unknown price source type %q", typ)
	}
	if ratePerSecond > 0 {
		src = throttle(src, rate.NewLimiter(rate.Limit(ratePerSecond), 1))
	}
	return src, nil
}

func (r *Registry) client() *http.Client {
	if r.HTTPClient != nil {
		return r.HTTPClient
	}
	return &http.Client{Timeout: 10 * time.Second}
}

func label(name, fallback string) string {
	trimmed := strings.TrimSpace(name)
	if trimmed != "" {
		return trimmed
	}
	return fallback
}

// throttledSource gates fetches through a token bucket so a tight polling
// loop cannot hammer a public quote endpoint.
type throttledSource struct {
	inner   Source
	limiter *rate.Limiter
}

func throttle(inner Source, limiter *rate.Limiter) Source {
	return &throttledSource{inner: inner, limiter: limiter}
}

func (t *throttledSource) Name() string { return t.inner.Name() }

func (t *throttledSource) Fetch(ctx context.Context, base, quote string) (Quote, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return Quote{}, err
	}
	return t.inner.Fetch(ctx, base, quote)
}

// dexQuoteSource reads an on-venue swap quote endpoint. The endpoint answers
// GET {base}/quote?base=X&quote=Y with {"rate":"...","timestamp":unix}.
type dexQuoteSource struct {
	client   *http.Client
	name     string
	endpoint string
}

func newDexQuoteSource(client *http.Client, name, endpoint string) Source {
	return &dexQuoteSource{client: client, name: name, endpoint: strings.TrimRight(strings.TrimSpace(endpoint), "/")}
}

func (s *dexQuoteSource) Name() string { return s.name }

func (s *dexQuoteSource) Fetch(ctx context.Context, base, quote string) (Quote, error) {
	if s.endpoint == "" {
		return Quote{}, fmt.Errorf("oracle: %s endpoint not configured", s.name)
	}
	query := url.Values{}
	query.Set("base", strings.ToUpper(strings.TrimSpace(base)))
	query.Set("quote", strings.ToUpper(strings.TrimSpace(quote)))
	return fetchRate(ctx, s.client, s.name, s.endpoint+"/quote?"+query.Encode())
}

// referenceSource reads an aggregated reference price, used to sanity-check
// venue quotes. Same wire shape as the dex quote endpoint.
type referenceSource struct {
	client   *http.Client
	name     string
	endpoint string
}

func newReferenceSource(client *http.Client, name, endpoint string) Source {
	return &referenceSource{client: client, name: name, endpoint: strings.TrimRight(strings.TrimSpace(endpoint), "/")}
}

func (s *referenceSource) Name() string { return s.name }

func (s *referenceSource) Fetch(ctx context.Context, base, quote string) (Quote, error) {
	if s.endpoint == "" {
		return Quote{}, fmt.Errorf("oracle: %s endpoint not configured", s.name)
	}
	pair := strings.ToUpper(strings.TrimSpace(base)) + "-" + strings.ToUpper(strings.TrimSpace(quote))
	return fetchRate(ctx, s.client, s.name, s.endpoint+"/price/"+url.PathEscape(pair))
}

func fetchRate(ctx context.Context, client *http.Client, name, target string) (Quote, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return Quote{}, fmt.Errorf("oracle: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return Quote{}, fmt.Errorf("oracle: %s: %w", name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Quote{}, fmt.Errorf("oracle: %s returned %d: %s", name, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var payload struct {
		Rate      string `json:"rate"`
		Timestamp int64  `json:"timestamp"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&payload); err != nil {
		return Quote{}, fmt.Errorf("oracle: %s: decode: %w", name, err)
	}
	rateValue, ok := new(big.Rat).SetString(strings.TrimSpace(payload.Rate))
	if !ok || rateValue.Sign() <= 0 {
		return Quote{}, fmt.Errorf("oracle: %s returned unusable rate %q", name, payload.Rate)
	}
	observed := time.Now()
	if payload.Timestamp > 0 {
		observed = time.Unix(payload.Timestamp, 0)
	}
	return Quote{Rate: rateValue, Timestamp: observed, Source: name}, nil
}
