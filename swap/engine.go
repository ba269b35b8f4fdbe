package swap

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"chainswap/chain"
)

// Metrics receives engine activity counters. The observability package
// provides the production implementation; a nil Metrics disables reporting.
type Metrics interface {
	SwapCreated(source, target chain.Ref)
	StepExecuted(kind StepKind, outcome string)
	PegViolation()
	SwapRefunded()
}

// Engine owns swap creation and step execution. All record mutations flow
// through the injected Store, whose per-swap locking serializes concurrent
// calls against the same swap.
type Engine struct {
	store        Store
	gate         *Gate
	clients      map[chain.Ref]chain.Client
	logger       *log.Logger
	metrics      Metrics
	nowFn        func() int64
	refundBuffer time.Duration
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger installs a custom logger.
func WithLogger(l *log.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithMetrics installs an activity recorder.
func WithMetrics(m Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithNowFunc overrides the time source, primarily for tests.
func WithNowFunc(now func() int64) Option {
	return func(e *Engine) {
		if now != nil {
			e.nowFn = now
		}
	}
}

// WithRefundBuffer sets the gap between the claim timelock and the refund
// timelock.
func WithRefundBuffer(buffer time.Duration) Option {
	return func(e *Engine) {
		if buffer > 0 {
			e.refundBuffer = buffer
		}
	}
}

// NewEngine constructs the orchestration engine. A client must be configured
// for every chain the engine will touch.
func NewEngine(store Store, gate *Gate, clients map[chain.Ref]chain.Client, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("engine: store required")
	}
	if gate == nil {
		return nil, fmt.Errorf("engine: gate required")
	}
	if clients[chain.RefEVM] == nil || clients[chain.RefLedger] == nil {
		return nil, fmt.Errorf("engine: clients required for both chains")
	}
	eng := &Engine{
		store:        store,
		gate:         gate,
		clients:      clients,
		logger:       log.Default(),
		nowFn:        func() int64 { return time.Now().Unix() },
		refundBuffer: 30 * time.Minute,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(eng)
		}
	}
	return eng, nil
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) client(ref chain.Ref) chain.Client {
	if e == nil {
		return nil
	}
	return e.clients[ref]
}

// Gate exposes the engine's spread/peg gate for admin overrides.
func (e *Engine) Gate() *Gate { return e.gate }

// Store exposes the underlying record store for read paths.
func (e *Engine) Store() Store { return e.store }

// CreateResult is returned by CreateSwap.
type CreateResult struct {
	Swap             Snapshot   `json:"swap"`
	SpreadAnalysis   GateReport `json:"spreadAnalysis"`
	AtomicGuarantees bool       `json:"atomicGuarantees"`
}

// CreateSwap validates the request, runs the safety and profitability gates,
// generates the hashlock commitment and timelocks, builds the execution plan
// and persists the record.
func (e *Engine) CreateSwap(ctx context.Context, req CreateRequest) (CreateResult, error) {
	if e == nil {
		return CreateResult{}, fmt.Errorf("engine not configured")
	}
	normalized, err := normalizeRequest(req)
	if err != nil {
		return CreateResult{}, err
	}

	report, err := e.gate.Check(ctx, normalized.source, normalized.target, normalized.fromToken, normalized.toToken)
	if err != nil {
		return CreateResult{}, err
	}
	if !report.Safe {
		if e.metrics != nil {
			e.metrics.PegViolation()
		}
		return CreateResult{SpreadAnalysis: report}, fmt.Errorf("%w: deviation %s exceeds threshold %s", ErrPegProtectionTriggered, report.Deviation, report.Threshold)
	}
	if err := Profitable(report, normalized.minSpread); err != nil {
		return CreateResult{SpreadAnalysis: report}, err
	}

	commitment, err := GenerateCommitment()
	if err != nil {
		return CreateResult{}, err
	}
	now := e.now()
	timelock, refundTimelock, err := DeriveTimelocks(now, normalized.timeout*60, int64(e.refundBuffer/time.Second))
	if err != nil {
		return CreateResult{}, err
	}

	record := &Record{
		ID:               uuid.New().String(),
		SourceChain:      normalized.source,
		TargetChain:      normalized.target,
		FromToken:        normalized.fromToken,
		ToToken:          normalized.toToken,
		Amount:           normalized.amount,
		Secret:           commitment.Secret,
		SecretHash:       commitment.SecretHash,
		Timelock:         timelock,
		RefundTimelock:   refundTimelock,
		Status:           StatusInitiated,
		MinSpreadPercent: normalized.minSpread,
		MaxSlippageBps:   normalized.slippage,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	record.Peg.Apply(report)
	record.Plan = BuildPlan(PlanRequest{
		AtomicGuarantees: normalized.atomic,
		LimitOrders:      normalized.limits,
		RequiresApproval: requiresApproval(normalized.source, normalized.fromToken),
	})
	record.Status = StatusPlanCreated

	if err := e.store.Create(ctx, record); err != nil {
		return CreateResult{}, fmt.Errorf("persist swap: %w", err)
	}
	if e.metrics != nil {
		e.metrics.SwapCreated(record.SourceChain, record.TargetChain)
	}
	e.logger.Printf("chainswap: created swap %s %s/%s %s->%s", record.ID, record.FromToken, record.ToToken, record.SourceChain, record.TargetChain)
	return CreateResult{
		Swap:             record.Snapshot(now),
		SpreadAnalysis:   report,
		AtomicGuarantees: normalized.atomic,
	}, nil
}

// GetSwap returns the public snapshot.
func (e *Engine) GetSwap(ctx context.Context, id string) (Snapshot, error) {
	record, err := e.store.Get(ctx, id)
	if err != nil {
		return Snapshot{}, err
	}
	return record.Snapshot(e.now()), nil
}

// ListSwaps returns summaries of every known swap.
func (e *Engine) ListSwaps(ctx context.Context) ([]Summary, error) {
	records, err := e.store.List(ctx)
	if err != nil {
		return nil, err
	}
	now := e.now()
	summaries := make([]Summary, 0, len(records))
	for _, record := range records {
		summaries = append(summaries, record.Summarize(now))
	}
	return summaries, nil
}
