package swap

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"chainswap/chain"
)

// ExecuteStep advances one step of the swap's execution plan. Steps that need
// an external wallet signature return a PendingSignature result carrying the
// unsigned transaction intent; the wallet layer later reports the signed
// submission through SubmitStepResult. Synchronous steps complete in place.
//
// force allows an operator to re-run a completed step or override ordering.
// Even with force, the target-chain claim is rejected while the source lock
// is missing: executing the claim reveals the secret.
func (e *Engine) ExecuteStep(ctx context.Context, swapID string, stepIndex int, force bool) (StepResult, error) {
	if e == nil {
		return StepResult{}, fmt.Errorf("engine not configured")
	}
	var (
		result  StepResult
		stepErr error
	)
	record, err := e.store.Update(ctx, swapID, func(rec *Record) error {
		now := e.now()
		result = StepResult{SwapID: rec.ID, StepIndex: stepIndex, SwapStatus: rec.Status, CanRefund: rec.CanRefund(now)}

		if rec.Status.Terminal() {
			return ErrTerminal
		}
		if rec.IsExpired(now) {
			// Persist the expiry transition, then surface the error with
			// refund eligibility so the caller can decide what to do next.
			if rec.Status != StatusExpired {
				rec.Status = StatusExpired
				rec.UpdatedAt = now
			}
			result.SwapStatus = rec.Status
			result.CanRefund = rec.CanRefund(now)
			stepErr = ErrExpired
			return nil
		}

		step, err := rec.StepAt(stepIndex)
		if err != nil {
			return err
		}
		result.Kind = step.Kind
		if step.Status == StepStatusCompleted && !force {
			return ErrStepAlreadyCompleted
		}
		if !force {
			for i := 0; i < stepIndex; i++ {
				if rec.Plan[i].Status != StepStatusCompleted {
					return fmt.Errorf("%w: step %d is %s", ErrOrderingViolation, i, rec.Plan[i].Status)
				}
			}
		}
		if step.Kind == StepTargetClaim {
			lockIdx := planIndexOf(rec.Plan, StepSourceLock)
			if lockIdx < 0 || rec.Plan[lockIdx].Status != StepStatusCompleted || !rec.SourceState.Locked {
				return fmt.Errorf("%w: claim would reveal the secret before the source lock exists", ErrOrderingViolation)
			}
		}
		if e.pegGuarded(rec, step.Kind) && !rec.Peg.SafeToSwap {
			return fmt.Errorf("%w: wait for the peg to recover or refund after expiry", ErrPegProtectionTriggered)
		}

		if step.Kind.RequiresSignature() {
			intent, err := e.buildIntent(rec, step.Kind)
			if err != nil {
				return err
			}
			step.Status = StepStatusPendingSignature
			step.Result = &StepOutcome{Intent: &intent}
			step.ExecutedAt = now
			rec.UpdatedAt = now
			result.Status = step.Status
			result.Outcome = step.Result
			result.SwapStatus = rec.Status
			return nil
		}

		outcome, err := e.runSynchronousStep(ctx, rec, step)
		if err != nil {
			step.Status = StepStatusFailed
			step.Result = &StepOutcome{Error: err.Error()}
			step.ExecutedAt = now
			rec.UpdatedAt = now
			result.Status = step.Status
			result.Outcome = step.Result
			result.SwapStatus = rec.Status
			stepErr = err
			return nil
		}
		step.Status = StepStatusCompleted
		step.Result = outcome
		step.ExecutedAt = now
		rec.UpdatedAt = now
		e.recomputeStatus(rec, now)
		result.Status = step.Status
		result.Outcome = step.Result
		result.SwapStatus = rec.Status
		result.CanRefund = rec.CanRefund(now)
		return nil
	})
	if err != nil {
		if record != nil {
			result.SwapStatus = record.Status
			result.CanRefund = record.CanRefund(e.now())
		}
		e.recordStepMetric(result.Kind, "rejected")
		return result, err
	}
	if stepErr != nil {
		e.recordStepMetric(result.Kind, "failed")
		return result, stepErr
	}
	e.recordStepMetric(result.Kind, string(result.Status))
	return result, nil
}

// SubmitStepResult completes a pending-signature step with the transaction
// reference produced by the wallet layer. The reference is verified against
// the chain client once before acceptance.
func (e *Engine) SubmitStepResult(ctx context.Context, swapID string, stepIndex int, txRef string, ref chain.Ref) (StepResult, error) {
	if e == nil {
		return StepResult{}, fmt.Errorf("engine not configured")
	}
	trimmed := strings.TrimSpace(txRef)
	if trimmed == "" {
		return StepResult{}, invalidField("transactionReference", "required")
	}
	if !ref.Valid() {
		return StepResult{}, invalidField("chain", "unknown chain")
	}
	var (
		result  StepResult
		stepErr error
	)
	_, err := e.store.Update(ctx, swapID, func(rec *Record) error {
		now := e.now()
		result = StepResult{SwapID: rec.ID, StepIndex: stepIndex, SwapStatus: rec.Status, CanRefund: rec.CanRefund(now)}

		if rec.Status.Terminal() {
			return ErrTerminal
		}
		step, err := rec.StepAt(stepIndex)
		if err != nil {
			return err
		}
		result.Kind = step.Kind
		if step.Status == StepStatusCompleted {
			return ErrStepAlreadyCompleted
		}
		if step.Status != StepStatusPendingSignature {
			return invalidField("step", "not awaiting a signature")
		}

		status, err := e.verifySubmission(ctx, ref, trimmed)
		if err != nil {
			// Chain RPC failure: surface with a retry affordance, leave the
			// step awaiting signature.
			stepErr = fmt.Errorf("verify submission: %w", err)
			return stepErr
		}
		if status == chain.TxStatusFailed {
			step.Status = StepStatusFailed
			step.Result = &StepOutcome{TxRef: trimmed, Error: "transaction failed on chain"}
			step.ExecutedAt = now
			rec.UpdatedAt = now
			result.Status = step.Status
			result.Outcome = step.Result
			stepErr = fmt.Errorf("swap: transaction %s failed on %s", trimmed, ref)
			return nil
		}

		step.Status = StepStatusCompleted
		step.Result = &StepOutcome{TxRef: trimmed}
		step.ExecutedAt = now
		rec.UpdatedAt = now
		e.applyChainEffect(rec, step.Kind, trimmed, now)
		e.recomputeStatus(rec, now)
		result.Status = step.Status
		result.Outcome = step.Result
		result.SwapStatus = rec.Status
		result.CanRefund = rec.CanRefund(now)
		return nil
	})
	if err != nil {
		e.recordStepMetric(result.Kind, "rejected")
		return result, err
	}
	if stepErr != nil {
		e.recordStepMetric(result.Kind, "failed")
		return result, stepErr
	}
	e.recordStepMetric(result.Kind, "submitted")
	return result, nil
}

// pegGuarded reports whether the step sits on the lock-to-claim boundary
// where the peg safety flag must be re-checked before proceeding.
func (e *Engine) pegGuarded(rec *Record, kind StepKind) bool {
	switch kind {
	case StepRelay, StepTargetClaim:
		return rec.SourceState.Locked || rec.Status == StatusLocked
	default:
		return false
	}
}

// buildIntent constructs the unsigned transaction descriptor for a
// signature-requiring step. The claim intent carries the secret because the
// claim transaction is the act of revealing it.
func (e *Engine) buildIntent(rec *Record, kind StepKind) (chain.TxIntent, error) {
	switch kind {
	case StepTokenApproval:
		return chain.TxIntent{
			Chain:    rec.SourceChain,
			Kind:     chain.IntentApprove,
			To:       rec.FromToken,
			Value:    rec.Amount,
			Deadline: rec.Timelock,
		}, nil
	case StepSourceLock:
		return chain.TxIntent{
			Chain:    rec.SourceChain,
			Kind:     chain.IntentLock,
			To:       rec.FromToken,
			Payload:  rec.SecretHash.Bytes(),
			Value:    rec.Amount,
			Deadline: rec.Timelock,
		}, nil
	case StepTargetClaim:
		return chain.TxIntent{
			Chain:    rec.TargetChain,
			Kind:     chain.IntentClaim,
			To:       rec.ToToken,
			Payload:  append([]byte{}, rec.Secret...),
			Deadline: rec.Timelock,
		}, nil
	default:
		return chain.TxIntent{}, fmt.Errorf("swap: step kind %s does not produce an intent", kind)
	}
}

// runSynchronousStep executes a step that needs no external signature.
func (e *Engine) runSynchronousStep(ctx context.Context, rec *Record, step *Step) (*StepOutcome, error) {
	switch step.Kind {
	case StepWalletVerification:
		if e.client(rec.SourceChain) == nil || e.client(rec.TargetChain) == nil {
			return nil, fmt.Errorf("swap: chain client missing for %s/%s", rec.SourceChain, rec.TargetChain)
		}
		return &StepOutcome{Note: "chain clients verified for both sides"}, nil

	case StepLimitOrderSetup:
		now := e.now()
		orders := []LimitOrder{
			{Chain: rec.SourceChain, OrderRef: uuid.New().String(), TriggerPrice: rec.MinSpreadPercent, CreatedAt: now},
			{Chain: rec.TargetChain, OrderRef: uuid.New().String(), TriggerPrice: rec.MinSpreadPercent, CreatedAt: now},
		}
		rec.LimitOrders = append(rec.LimitOrders, orders...)
		return &StepOutcome{Orders: orders}, nil

	case StepRelay:
		client := e.client(rec.SourceChain)
		lockIdx := planIndexOf(rec.Plan, StepSourceLock)
		if lockIdx < 0 || !rec.SourceState.Locked {
			return nil, fmt.Errorf("%w: relay requires a completed source lock", ErrOrderingViolation)
		}
		status, err := client.TransactionStatus(ctx, rec.SourceState.TxRef)
		if err != nil {
			return nil, fmt.Errorf("relay: confirm lock: %w", err)
		}
		if status != chain.TxStatusConfirmed {
			return nil, fmt.Errorf("relay: source lock %s is %s", rec.SourceState.TxRef, status)
		}
		txRef, err := e.client(rec.TargetChain).SubmitTransaction(ctx, chain.TxIntent{
			Chain:    rec.TargetChain,
			Kind:     chain.IntentRelay,
			To:       rec.ToToken,
			Payload:  rec.SecretHash.Bytes(),
			Deadline: rec.Timelock,
		})
		if err != nil {
			return nil, fmt.Errorf("relay: notarize lock proof: %w", err)
		}
		return &StepOutcome{TxRef: txRef, Note: "lock proof relayed to target chain"}, nil

	case StepCrossVerification:
		report, err := e.gate.Check(ctx, rec.SourceChain, rec.TargetChain, rec.FromToken, rec.ToToken)
		if err != nil {
			return nil, err
		}
		rec.Peg.Apply(report)
		if !rec.SourceState.Locked || !rec.TargetState.Redeemed {
			return nil, fmt.Errorf("swap: cross-verification requires both sides settled")
		}
		return &StepOutcome{Gate: &report, Note: "both sides settled"}, nil

	default:
		return nil, fmt.Errorf("swap: unsupported synchronous step %s", step.Kind)
	}
}

// verifySubmission performs one status probe of the supplied reference. A
// pending or unknown status is accepted; callers retry through the API
// rather than looping here.
func (e *Engine) verifySubmission(ctx context.Context, ref chain.Ref, txRef string) (chain.TxStatus, error) {
	client := e.client(ref)
	if client == nil {
		return chain.TxStatusUnknown, fmt.Errorf("swap: no client for chain %s", ref)
	}
	return client.TransactionStatus(ctx, txRef)
}

// applyChainEffect updates the per-chain sub-state after a wallet-signed step
// completed on chain.
func (e *Engine) applyChainEffect(rec *Record, kind StepKind, txRef string, now int64) {
	switch kind {
	case StepSourceLock:
		rec.SourceState.Locked = true
		rec.SourceState.TxRef = txRef
		rec.SourceState.Amount = rec.Amount
		rec.SourceState.UpdatedAt = now
	case StepTargetClaim:
		rec.TargetState.Redeemed = true
		rec.TargetState.TxRef = txRef
		rec.TargetState.Amount = rec.Amount
		rec.TargetState.UpdatedAt = now
	}
}

// recomputeStatus derives the swap-level status from step state. Completed is
// reachable only when every step finished.
func (e *Engine) recomputeStatus(rec *Record, now int64) {
	if rec.Status.Terminal() {
		return
	}
	if rec.AllStepsCompleted() {
		rec.Status = StatusCompleted
		rec.UpdatedAt = now
		return
	}
	if rec.SourceState.Locked && rec.Status != StatusLocked {
		rec.Status = StatusLocked
		rec.UpdatedAt = now
	}
}

func (e *Engine) recordStepMetric(kind StepKind, outcome string) {
	if e == nil || e.metrics == nil || kind == "" {
		return
	}
	e.metrics.StepExecuted(kind, outcome)
}

// ApplyGateReport folds an external gate report into a stored record; the
// oracle manager calls it while monitoring in-flight swaps.
func (e *Engine) ApplyGateReport(ctx context.Context, swapID string, report GateReport) error {
	_, err := e.store.Update(ctx, swapID, func(rec *Record) error {
		if rec.Status.Terminal() {
			return nil
		}
		wasSafe := rec.Peg.SafeToSwap
		rec.Peg.Apply(report)
		if wasSafe && !rec.Peg.SafeToSwap && e.metrics != nil {
			e.metrics.PegViolation()
		}
		rec.UpdatedAt = e.now()
		return nil
	})
	if err != nil && errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}
