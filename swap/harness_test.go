package swap

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"chainswap/chain"
)

// memStore is a minimal in-memory Store for tests. A single mutex trivially
// satisfies the per-swap serialization contract.
type memStore struct {
	mu      sync.Mutex
	records map[string]*Record
	now     func() int64
}

func newMemStore(now func() int64) *memStore {
	if now == nil {
		now = func() int64 { return time.Now().Unix() }
	}
	return &memStore{records: make(map[string]*Record), now: now}
}

func (s *memStore) Create(ctx context.Context, record *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[record.ID]; ok {
		return fmt.Errorf("swap %s exists", record.ID)
	}
	s.records[record.ID] = record.Clone()
	return nil
}

func (s *memStore) Get(ctx context.Context, id string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return record.Clone(), nil
}

func (s *memStore) Update(ctx context.Context, id string, fn func(*Record) error) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	working := record.Clone()
	if err := fn(working); err != nil {
		return nil, err
	}
	s.records[id] = working
	return working.Clone(), nil
}

func (s *memStore) List(ctx context.Context) ([]*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	records := make([]*Record, 0, len(s.records))
	for _, record := range s.records {
		records = append(records, record.Clone())
	}
	return records, nil
}

func (s *memStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[id]
	if !ok {
		return ErrNotFound
	}
	if !record.Status.Terminal() && s.now() < record.RefundTimelock {
		return fmt.Errorf("swap %s retained until refund timelock", id)
	}
	delete(s.records, id)
	return nil
}

// fakeSource serves fixed per-chain prices.
type fakeSource struct {
	mu     sync.Mutex
	prices map[chain.Ref]*big.Rat
	err    error
}

func newFakeSource() *fakeSource {
	return &fakeSource{prices: map[chain.Ref]*big.Rat{
		chain.RefEVM:    big.NewRat(3000, 1),
		chain.RefLedger: big.NewRat(3000, 1),
	}}
}

func (f *fakeSource) Name() string { return "fake" }

func (f *fakeSource) Price(ctx context.Context, ref chain.Ref, base, quote string) (*big.Rat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	price, ok := f.prices[ref]
	if !ok {
		return nil, fmt.Errorf("no price for %s", ref)
	}
	return new(big.Rat).Set(price), nil
}

func (f *fakeSource) setPrice(ref chain.Ref, price *big.Rat) {
	f.mu.Lock()
	f.prices[ref] = price
	f.mu.Unlock()
}

func (f *fakeSource) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

// fakeClock is a manually advanced unix-seconds clock.
type fakeClock struct {
	mu  sync.Mutex
	now int64
}

func newFakeClock(start int64) *fakeClock { return &fakeClock{now: start} }

func (c *fakeClock) Now() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now += int64(d / time.Second)
	c.mu.Unlock()
}

type fakeMetrics struct {
	mu         sync.Mutex
	created    int
	steps      map[string]int
	violations int
	refunds    int
}

func newFakeMetrics() *fakeMetrics { return &fakeMetrics{steps: make(map[string]int)} }

func (m *fakeMetrics) SwapCreated(source, target chain.Ref) {
	m.mu.Lock()
	m.created++
	m.mu.Unlock()
}

func (m *fakeMetrics) StepExecuted(kind StepKind, outcome string) {
	m.mu.Lock()
	m.steps[string(kind)+"/"+outcome]++
	m.mu.Unlock()
}

func (m *fakeMetrics) PegViolation() {
	m.mu.Lock()
	m.violations++
	m.mu.Unlock()
}

func (m *fakeMetrics) SwapRefunded() {
	m.mu.Lock()
	m.refunds++
	m.mu.Unlock()
}

type testEnv struct {
	engine  *Engine
	store   *memStore
	source  *fakeSource
	clock   *fakeClock
	metrics *fakeMetrics
	evm     *chain.Fake
	ledger  *chain.Fake
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	clock := newFakeClock(1_700_000_000)
	source := newFakeSource()
	gate, err := NewGate(source, nil, time.Second)
	if err != nil {
		t.Fatalf("new gate: %v", err)
	}
	gate.SetNowFunc(clock.Now)
	store := newMemStore(clock.Now)
	metrics := newFakeMetrics()
	evm := chain.NewFake(chain.RefEVM)
	ledger := chain.NewFake(chain.RefLedger)
	engine, err := NewEngine(store, gate, map[chain.Ref]chain.Client{
		chain.RefEVM:    evm,
		chain.RefLedger: ledger,
	}, WithNowFunc(clock.Now), WithMetrics(metrics), WithRefundBuffer(30*time.Minute))
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return &testEnv{engine: engine, store: store, source: source, clock: clock, metrics: metrics, evm: evm, ledger: ledger}
}

func (env *testEnv) createSwap(t *testing.T, req CreateRequest) CreateResult {
	t.Helper()
	result, err := env.engine.CreateSwap(context.Background(), req)
	if err != nil {
		t.Fatalf("create swap: %v", err)
	}
	return result
}

func defaultRequest() CreateRequest {
	return CreateRequest{
		SourceChain:      "evm",
		TargetChain:      "ledger",
		FromToken:        "USDC",
		ToToken:          "NHB",
		Amount:           "250.5",
		TimeoutMinutes:   60,
		EnableAtomicSwap: true,
	}
}

// completeSignatureStep drives a pending-signature step through submission.
func (env *testEnv) completeSignatureStep(t *testing.T, swapID string, index int, ref chain.Ref) string {
	t.Helper()
	ctx := context.Background()
	result, err := env.engine.ExecuteStep(ctx, swapID, index, false)
	if err != nil {
		t.Fatalf("execute step %d: %v", index, err)
	}
	if result.Status != StepStatusPendingSignature {
		t.Fatalf("step %d status = %s, want %s", index, result.Status, StepStatusPendingSignature)
	}
	if result.Outcome == nil || result.Outcome.Intent == nil {
		t.Fatalf("step %d returned no transaction intent", index)
	}
	txRef := fmt.Sprintf("wallet-%s-%04d", ref, index)
	fake := env.evm
	if ref == chain.RefLedger {
		fake = env.ledger
	}
	fake.SetStatus(txRef, chain.TxStatusConfirmed)
	if _, err := env.engine.SubmitStepResult(ctx, swapID, index, txRef, ref); err != nil {
		t.Fatalf("submit step %d: %v", index, err)
	}
	return txRef
}

// completeSteps drives the plan through the given indexes in order.
func (env *testEnv) completeSteps(t *testing.T, swapID string, upTo int) {
	t.Helper()
	ctx := context.Background()
	record, err := env.store.Get(ctx, swapID)
	if err != nil {
		t.Fatalf("get swap: %v", err)
	}
	for i := 0; i <= upTo && i < len(record.Plan); i++ {
		step := record.Plan[i]
		if step.Kind.RequiresSignature() {
			ref := record.SourceChain
			if step.Kind == StepTargetClaim {
				ref = record.TargetChain
			}
			env.completeSignatureStep(t, swapID, i, ref)
			continue
		}
		if _, err := env.engine.ExecuteStep(ctx, swapID, i, false); err != nil {
			t.Fatalf("execute step %d (%s): %v", i, step.Kind, err)
		}
	}
}
