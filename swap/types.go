package swap

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"chainswap/chain"
)

// Status represents the lifecycle states of a swap record.
type Status string

const (
	StatusInitiated   Status = "initiated"
	StatusPlanCreated Status = "plan_created"
	StatusLocked      Status = "locked"
	StatusCompleted   Status = "completed"
	StatusExpired     Status = "expired"
	StatusRefunded    Status = "refunded"
	StatusFailed      Status = "failed"
)

// Valid reports whether the status is within the supported range.
func (s Status) Valid() bool {
	switch s {
	case StatusInitiated, StatusPlanCreated, StatusLocked, StatusCompleted, StatusExpired, StatusRefunded, StatusFailed:
		return true
	default:
		return false
	}
}

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusRefunded, StatusFailed:
		return true
	default:
		return false
	}
}

// ChainState tracks what the orchestrator knows about one side of the swap.
// Only the stepper mutates it, after the corresponding step completes.
type ChainState struct {
	Locked    bool   `json:"locked"`
	Redeemed  bool   `json:"redeemed"`
	TxRef     string `json:"txRef,omitempty"`
	Amount    string `json:"amount,omitempty"`
	UpdatedAt int64  `json:"updatedAt,omitempty"`
}

// PegViolation records one threshold breach. The violation log is append-only.
type PegViolation struct {
	Timestamp int64  `json:"timestamp"`
	Deviation string `json:"deviation"`
	Threshold string `json:"threshold"`
}

// PegProtection carries the latest safety assessment for the swap's pair.
type PegProtection struct {
	LastCheck     int64          `json:"lastCheck,omitempty"`
	LastDeviation string         `json:"lastDeviation,omitempty"`
	SafeToSwap    bool           `json:"safeToSwap"`
	Violations    []PegViolation `json:"violations,omitempty"`
}

// LimitOrder references a per-chain threshold order attached to the swap.
type LimitOrder struct {
	Chain        chain.Ref `json:"chain"`
	OrderRef     string    `json:"orderRef"`
	TriggerPrice string    `json:"triggerPrice,omitempty"`
	CreatedAt    int64     `json:"createdAt"`
}

// Record is the aggregate root for a single cross-chain swap. The secret is
// held privately by the record; public snapshots omit it until the claim step
// reveals it on-chain anyway.
type Record struct {
	ID          string    `json:"id"`
	SourceChain chain.Ref `json:"sourceChain"`
	TargetChain chain.Ref `json:"targetChain"`
	FromToken   string    `json:"fromToken"`
	ToToken     string    `json:"toToken"`
	Amount      string    `json:"amount"`

	Secret         []byte      `json:"secret,omitempty"`
	SecretHash     common.Hash `json:"secretHash"`
	Timelock       int64       `json:"timelock"`
	RefundTimelock int64       `json:"refundTimelock"`

	Status      Status        `json:"status"`
	SourceState ChainState    `json:"sourceState"`
	TargetState ChainState    `json:"targetState"`
	Peg         PegProtection `json:"pegProtection"`
	Plan        []Step        `json:"executionPlan"`
	LimitOrders []LimitOrder  `json:"limitOrders,omitempty"`

	MinSpreadPercent string `json:"minSpreadPercent,omitempty"`
	MaxSlippageBps   uint32 `json:"maxSlippageBps,omitempty"`
	RefundTxRef      string `json:"refundTxRef,omitempty"`

	CreatedAt int64 `json:"createdAt"`
	UpdatedAt int64 `json:"updatedAt"`
}

// Clone returns a deep copy so callers can mutate freely.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	clone := *r
	if r.Secret != nil {
		clone.Secret = append([]byte{}, r.Secret...)
	}
	clone.Plan = make([]Step, len(r.Plan))
	for i := range r.Plan {
		clone.Plan[i] = r.Plan[i].clone()
	}
	if r.Peg.Violations != nil {
		clone.Peg.Violations = append([]PegViolation{}, r.Peg.Violations...)
	}
	if r.LimitOrders != nil {
		clone.LimitOrders = append([]LimitOrder{}, r.LimitOrders...)
	}
	return &clone
}

// StepAt returns the step for the supplied index.
func (r *Record) StepAt(index int) (*Step, error) {
	if r == nil || index < 0 || index >= len(r.Plan) {
		return nil, ErrInvalidStep
	}
	return &r.Plan[index], nil
}

// StepsCompleted counts the completed steps in plan order.
func (r *Record) StepsCompleted() int {
	if r == nil {
		return 0
	}
	count := 0
	for i := range r.Plan {
		if r.Plan[i].Status == StepStatusCompleted {
			count++
		}
	}
	return count
}

// AllStepsCompleted reports whether every plan step finished.
func (r *Record) AllStepsCompleted() bool {
	if r == nil || len(r.Plan) == 0 {
		return false
	}
	return r.StepsCompleted() == len(r.Plan)
}

// SecretRevealed reports whether the target-chain claim completed, after which
// the secret is public knowledge on-chain.
func (r *Record) SecretRevealed() bool {
	if r == nil {
		return false
	}
	for i := range r.Plan {
		if r.Plan[i].Kind == StepTargetClaim && r.Plan[i].Status == StepStatusCompleted {
			return true
		}
	}
	return false
}

// IsExpired reports whether the claim timelock elapsed before completion.
func (r *Record) IsExpired(now int64) bool {
	if r == nil {
		return false
	}
	if r.Status.Terminal() {
		return false
	}
	return now > r.Timelock
}

// CanRefund reports refund eligibility: expired, source side locked, target
// side never redeemed.
func (r *Record) CanRefund(now int64) bool {
	if r == nil {
		return false
	}
	if r.Status == StatusRefunded {
		return false
	}
	return r.IsExpired(now) && r.SourceState.Locked && !r.TargetState.Redeemed
}

// Snapshot is the externally visible view of a swap record.
type Snapshot struct {
	ID          string    `json:"id"`
	SourceChain chain.Ref `json:"sourceChain"`
	TargetChain chain.Ref `json:"targetChain"`
	FromToken   string    `json:"fromToken"`
	ToToken     string    `json:"toToken"`
	Amount      string    `json:"amount"`

	SecretHash     common.Hash `json:"secretHash"`
	Secret         string      `json:"secret,omitempty"`
	Timelock       int64       `json:"timelock"`
	RefundTimelock int64       `json:"refundTimelock"`

	Status          Status        `json:"status"`
	SourceState     ChainState    `json:"sourceState"`
	TargetState     ChainState    `json:"targetState"`
	Peg             PegProtection `json:"pegProtection"`
	Plan            []Step        `json:"executionPlan"`
	LimitOrders     []LimitOrder  `json:"limitOrders,omitempty"`
	ProgressPercent float64       `json:"progressPercent"`
	TimeRemaining   int64         `json:"timeRemainingSeconds"`
	CanRefund       bool          `json:"canRefund"`
	RefundTxRef     string        `json:"refundTxRef,omitempty"`
	CreatedAt       int64         `json:"createdAt"`
	UpdatedAt       int64         `json:"updatedAt"`
}

// Snapshot renders the public view of the record at the supplied time. The
// secret appears only once the claim step completed.
func (r *Record) Snapshot(now int64) Snapshot {
	if r == nil {
		return Snapshot{}
	}
	clone := r.Clone()
	snap := Snapshot{
		ID:             clone.ID,
		SourceChain:    clone.SourceChain,
		TargetChain:    clone.TargetChain,
		FromToken:      clone.FromToken,
		ToToken:        clone.ToToken,
		Amount:         clone.Amount,
		SecretHash:     clone.SecretHash,
		Timelock:       clone.Timelock,
		RefundTimelock: clone.RefundTimelock,
		Status:         clone.Status,
		SourceState:    clone.SourceState,
		TargetState:    clone.TargetState,
		Peg:            clone.Peg,
		Plan:           clone.Plan,
		LimitOrders:    clone.LimitOrders,
		CanRefund:      r.CanRefund(now),
		RefundTxRef:    clone.RefundTxRef,
		CreatedAt:      clone.CreatedAt,
		UpdatedAt:      clone.UpdatedAt,
	}
	if len(clone.Plan) > 0 {
		snap.ProgressPercent = float64(r.StepsCompleted()) / float64(len(clone.Plan)) * 100
	}
	if remaining := clone.Timelock - now; remaining > 0 && !clone.Status.Terminal() {
		snap.TimeRemaining = remaining
	}
	if r.SecretRevealed() {
		snap.Secret = common.Bytes2Hex(clone.Secret)
	} else {
		// A claim intent awaiting signature carries the raw secret as its
		// payload. Strip it from the public plan until the claim completes.
		for i := range snap.Plan {
			step := &snap.Plan[i]
			if step.Kind == StepTargetClaim && step.Result != nil && step.Result.Intent != nil {
				step.Result.Intent.Payload = nil
			}
		}
	}
	return snap
}

// Summary is the condensed listing view.
type Summary struct {
	ID              string    `json:"id"`
	SourceChain     chain.Ref `json:"sourceChain"`
	TargetChain     chain.Ref `json:"targetChain"`
	FromToken       string    `json:"fromToken"`
	ToToken         string    `json:"toToken"`
	Amount          string    `json:"amount"`
	Status          Status    `json:"status"`
	ProgressPercent float64   `json:"progressPercent"`
	CanRefund       bool      `json:"canRefund"`
	CreatedAt       int64     `json:"createdAt"`
}

// Summarize renders the listing view at the supplied time.
func (r *Record) Summarize(now int64) Summary {
	if r == nil {
		return Summary{}
	}
	summary := Summary{
		ID:          r.ID,
		SourceChain: r.SourceChain,
		TargetChain: r.TargetChain,
		FromToken:   r.FromToken,
		ToToken:     r.ToToken,
		Amount:      r.Amount,
		Status:      r.Status,
		CanRefund:   r.CanRefund(now),
		CreatedAt:   r.CreatedAt,
	}
	if len(r.Plan) > 0 {
		summary.ProgressPercent = float64(r.StepsCompleted()) / float64(len(r.Plan)) * 100
	}
	return summary
}

// Pair renders the canonical token pair string.
func (r *Record) Pair() string {
	if r == nil {
		return ""
	}
	return r.FromToken + "/" + r.ToToken
}

func parseAmount(raw string) (*big.Rat, error) {
	amount, ok := new(big.Rat).SetString(raw)
	if !ok {
		return nil, invalidField("amount", "not a decimal number")
	}
	if amount.Sign() <= 0 {
		return nil, invalidField("amount", "must be positive")
	}
	return amount, nil
}
