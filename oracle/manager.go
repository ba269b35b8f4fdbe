package oracle

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"chainswap/swap"
)

// Manager periodically re-evaluates the peg for every in-flight swap and
// folds the verdict back into the stored records, so a depeg that develops
// after creation blocks the relay and claim steps.
type Manager struct {
	logger   *log.Logger
	engine   *swap.Engine
	interval time.Duration
	sweep    bool
	once     sync.Once
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithManagerLogger installs a custom logger.
func WithManagerLogger(l *log.Logger) ManagerOption {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithExpirySweep enables transitioning timed-out swaps during each cycle.
func WithExpirySweep(enabled bool) ManagerOption {
	return func(m *Manager) { m.sweep = enabled }
}

// NewManager constructs the monitoring loop.
func NewManager(engine *swap.Engine, interval time.Duration, opts ...ManagerOption) (*Manager, error) {
	if engine == nil {
		return nil, fmt.Errorf("oracle: engine required")
	}
	if interval <= 0 {
		return nil, fmt.Errorf("oracle: interval must be positive")
	}
	mgr := &Manager{logger: log.Default(), engine: engine, interval: interval, sweep: true}
	for _, opt := range opts {
		if opt != nil {
			opt(mgr)
		}
	}
	return mgr, nil
}

// Run blocks, re-checking in-flight swaps until the context is cancelled.
func (m *Manager) Run(ctx context.Context) error {
	if m == nil {
		return fmt.Errorf("oracle: manager not configured")
	}
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	m.once.Do(func() {
		m.logger.Printf("oracle: peg monitor started, interval %s", m.interval)
	})
	for {
		if err := m.Tick(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			m.logger.Printf("oracle: tick error: %v", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Tick performs a single monitoring cycle.
func (m *Manager) Tick(ctx context.Context) error {
	if m == nil {
		return fmt.Errorf("oracle: manager not configured")
	}
	if m.sweep {
		expired, err := m.engine.SweepExpired(ctx)
		if err != nil {
			return fmt.Errorf("sweep expired: %w", err)
		}
		for _, id := range expired {
			m.logger.Printf("oracle: swap %s expired", id)
		}
	}

	records, err := m.engine.Store().List(ctx)
	if err != nil {
		return fmt.Errorf("list swaps: %w", err)
	}
	gate := m.engine.Gate()
	// One gate check per distinct pair and chain pairing per cycle.
	type pairing struct {
		source, target string
		from, to       string
	}
	checked := make(map[pairing]swap.GateReport)
	failed := make(map[pairing]bool)
	for _, record := range records {
		if record.Status.Terminal() || record.Status == swap.StatusExpired {
			continue
		}
		key := pairing{string(record.SourceChain), string(record.TargetChain), record.FromToken, record.ToToken}
		report, ok := checked[key]
		if !ok {
			if failed[key] {
				continue
			}
			report, err = gate.Check(ctx, record.SourceChain, record.TargetChain, record.FromToken, record.ToToken)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				// Fail closed per swap rather than aborting the whole cycle.
				m.logger.Printf("oracle: gate check %s/%s: %v", record.FromToken, record.ToToken, err)
				failed[key] = true
				continue
			}
			checked[key] = report
		}
		if err := m.engine.ApplyGateReport(ctx, record.ID, report); err != nil {
			m.logger.Printf("oracle: apply report to %s: %v", record.ID, err)
		}
	}
	return nil
}
