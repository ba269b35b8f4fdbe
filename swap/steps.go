package swap

import "chainswap/chain"

// StepKind enumerates the typed steps an execution plan may contain.
type StepKind string

const (
	StepWalletVerification StepKind = "wallet_verification"
	StepTokenApproval      StepKind = "token_approval"
	StepLimitOrderSetup    StepKind = "limit_order_setup"
	StepSourceLock         StepKind = "source_lock"
	StepRelay              StepKind = "relay"
	StepTargetClaim        StepKind = "target_claim"
	StepCrossVerification  StepKind = "cross_verification"
	StepRefund             StepKind = "refund"
)

// RequiresSignature reports whether the step produces an unsigned transaction
// intent for the external wallet layer instead of completing synchronously.
func (k StepKind) RequiresSignature() bool {
	switch k {
	case StepTokenApproval, StepSourceLock, StepTargetClaim:
		return true
	default:
		return false
	}
}

// StepChain names which side of the swap a step executes on.
type StepChain string

const (
	StepChainSource StepChain = "source"
	StepChainTarget StepChain = "target"
	StepChainBoth   StepChain = "both"
)

// StepStatus tracks a single step's lifecycle.
type StepStatus string

const (
	StepStatusPending          StepStatus = "pending"
	StepStatusPendingSignature StepStatus = "pending_signature"
	StepStatusCompleted        StepStatus = "completed"
	StepStatusFailed           StepStatus = "failed"
)

// StepOutcome carries the per-kind result payload. Only the fields relevant
// to the step's kind are populated.
type StepOutcome struct {
	TxRef  string          `json:"txRef,omitempty"`
	Intent *chain.TxIntent `json:"intent,omitempty"`
	Gate   *GateReport     `json:"gate,omitempty"`
	Orders []LimitOrder    `json:"orders,omitempty"`
	Note   string          `json:"note,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Step is one entry of a swap's execution plan. Plan length and ordering are
// fixed at creation; only Status, Result and ExecutedAt change afterwards.
type Step struct {
	Index      int          `json:"index"`
	Kind       StepKind     `json:"kind"`
	Chain      StepChain    `json:"chain"`
	Status     StepStatus   `json:"status"`
	Result     *StepOutcome `json:"result,omitempty"`
	ExecutedAt int64        `json:"executedAt,omitempty"`
}

func (s Step) clone() Step {
	clone := s
	if s.Result != nil {
		result := *s.Result
		if s.Result.Intent != nil {
			intent := *s.Result.Intent
			if s.Result.Intent.Payload != nil {
				intent.Payload = append([]byte{}, s.Result.Intent.Payload...)
			}
			result.Intent = &intent
		}
		if s.Result.Gate != nil {
			gate := *s.Result.Gate
			result.Gate = &gate
		}
		if s.Result.Orders != nil {
			result.Orders = append([]LimitOrder{}, s.Result.Orders...)
		}
		clone.Result = &result
	}
	return clone
}

// StepResult is returned by the stepper for a single execution attempt.
type StepResult struct {
	SwapID     string       `json:"swapId"`
	StepIndex  int          `json:"stepIndex"`
	Kind       StepKind     `json:"kind"`
	Status     StepStatus   `json:"status"`
	Outcome    *StepOutcome `json:"outcome,omitempty"`
	SwapStatus Status       `json:"swapStatus"`
	CanRefund  bool         `json:"canRefund"`
}
