package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/glebarez/sqlite"

	"chainswap/chain"
)

// ErrPathRequired is returned when the price history DSN is missing.
var ErrPathRequired = errors.New("price history path must be configured")

// PriceHistory wraps the sqlite-backed audit trail of raw venue samples and
// peg violations. It satisfies the engine's violation recorder and the
// oracle router's sample recorder.
type PriceHistory struct {
	db *sql.DB
}

// OpenPriceHistory initialises the backing store using a sqlite DSN. Use
// ":memory:" for throwaway deployments.
func OpenPriceHistory(path string) (*PriceHistory, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, ErrPathRequired
	}
	db, err := sql.Open("sqlite", trimmed)
	if err != nil {
		return nil, fmt.Errorf("open price history: %w", err)
	}
	if _, err := db.Exec(priceSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply price schema: %w", err)
	}
	return &PriceHistory{db: db}, nil
}

// Close releases database resources.
func (p *PriceHistory) Close() error {
	if p == nil || p.db == nil {
		return nil
	}
	return p.db.Close()
}

// RecordSample persists one raw venue quote.
func (p *PriceHistory) RecordSample(ctx context.Context, ref chain.Ref, pair, source, rate string, observed time.Time) error {
	if p == nil {
		return fmt.Errorf("price history not configured")
	}
	_, err := p.db.ExecContext(ctx, `
        INSERT INTO price_samples(chain, pair, source, rate, observed_at, recorded_at)
        VALUES(?, ?, ?, ?, ?, ?)
    `, string(ref), strings.ToUpper(strings.TrimSpace(pair)), strings.ToLower(strings.TrimSpace(source)), rate, observed.UTC().Unix(), time.Now().UTC().Unix())
	if err != nil {
		return fmt.Errorf("insert sample: %w", err)
	}
	return nil
}

// RecordViolation persists one peg threshold breach.
func (p *PriceHistory) RecordViolation(ctx context.Context, pair, deviation, threshold string, ts time.Time) error {
	if p == nil {
		return fmt.Errorf("price history not configured")
	}
	_, err := p.db.ExecContext(ctx, `
        INSERT INTO peg_violations(pair, deviation, threshold, observed_at, recorded_at)
        VALUES(?, ?, ?, ?, ?)
    `, strings.ToUpper(strings.TrimSpace(pair)), deviation, threshold, ts.UTC().Unix(), time.Now().UTC().Unix())
	if err != nil {
		return fmt.Errorf("insert violation: %w", err)
	}
	return nil
}

// ViolationEntry is one row of the peg violation history.
type ViolationEntry struct {
	Pair       string `json:"pair"`
	Deviation  string `json:"deviation"`
	Threshold  string `json:"threshold"`
	ObservedAt int64  `json:"observedAt"`
}

// RecentViolations returns the newest violations for a pair, newest first.
// An empty pair returns history across all pairs.
func (p *PriceHistory) RecentViolations(ctx context.Context, pair string, limit int) ([]ViolationEntry, error) {
	if p == nil {
		return nil, fmt.Errorf("price history not configured")
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := `
        SELECT pair, deviation, threshold, observed_at
        FROM peg_violations
    `
	args := []any{}
	trimmed := strings.ToUpper(strings.TrimSpace(pair))
	if trimmed != "" {
		query += " WHERE pair = ?"
		args = append(args, trimmed)
	}
	query += " ORDER BY observed_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query violations: %w", err)
	}
	defer rows.Close()
	var entries []ViolationEntry
	for rows.Next() {
		var entry ViolationEntry
		if err := rows.Scan(&entry.Pair, &entry.Deviation, &entry.Threshold, &entry.ObservedAt); err != nil {
			return nil, fmt.Errorf("scan violation: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// SampleEntry is one row of the raw sample history.
type SampleEntry struct {
	Chain      string `json:"chain"`
	Pair       string `json:"pair"`
	Source     string `json:"source"`
	Rate       string `json:"rate"`
	ObservedAt int64  `json:"observedAt"`
}

// RecentSamples returns the newest raw quotes for a pair, newest first.
func (p *PriceHistory) RecentSamples(ctx context.Context, pair string, limit int) ([]SampleEntry, error) {
	if p == nil {
		return nil, fmt.Errorf("price history not configured")
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := `
        SELECT chain, pair, source, rate, observed_at
        FROM price_samples
    `
	args := []any{}
	trimmed := strings.ToUpper(strings.TrimSpace(pair))
	if trimmed != "" {
		query += " WHERE pair = ?"
		args = append(args, trimmed)
	}
	query += " ORDER BY observed_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query samples: %w", err)
	}
	defer rows.Close()
	var entries []SampleEntry
	for rows.Next() {
		var entry SampleEntry
		if err := rows.Scan(&entry.Chain, &entry.Pair, &entry.Source, &entry.Rate, &entry.ObservedAt); err != nil {
			return nil, fmt.Errorf("scan sample: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

const priceSchema = `
CREATE TABLE IF NOT EXISTS price_samples (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    chain TEXT NOT NULL,
    pair TEXT NOT NULL,
    source TEXT NOT NULL,
    rate TEXT NOT NULL,
    observed_at INTEGER NOT NULL,
    recorded_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_price_samples_pair ON price_samples(pair, observed_at);

CREATE TABLE IF NOT EXISTS peg_violations (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    pair TEXT NOT NULL,
    deviation TEXT NOT NULL,
    threshold TEXT NOT NULL,
    observed_at INTEGER NOT NULL,
    recorded_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_peg_violations_pair ON peg_violations(pair, observed_at);
`
