package swap

import (
	"context"
	"fmt"

	"chainswap/chain"
)

// RefundResult reports the outcome of a refund request.
type RefundResult struct {
	SwapID      string `json:"swapId"`
	Status      Status `json:"status"`
	RefundTxRef string `json:"refundTxRef,omitempty"`
}

// Refund returns locked source funds to the initiator after the timelock has
// elapsed. It refuses while the claim window is still open, while nothing is
// locked, or after the counterparty already redeemed on the target chain.
func (e *Engine) Refund(ctx context.Context, swapID string) (RefundResult, error) {
	if e == nil {
		return RefundResult{}, fmt.Errorf("engine not configured")
	}
	var (
		result    RefundResult
		submitErr error
	)
	_, err := e.store.Update(ctx, swapID, func(rec *Record) error {
		now := e.now()
		result = RefundResult{SwapID: rec.ID, Status: rec.Status}

		if rec.Status == StatusRefunded {
			return fmt.Errorf("%w: already refunded", ErrTerminal)
		}
		if rec.Status.Terminal() {
			return ErrTerminal
		}
		if !rec.IsExpired(now) {
			return fmt.Errorf("%w: claim window open until %d", ErrNotRefundable, rec.Timelock)
		}
		if !rec.CanRefund(now) {
			if rec.TargetState.Redeemed {
				return fmt.Errorf("%w: target side already redeemed", ErrNotRefundable)
			}
			return fmt.Errorf("%w: no locked funds on the source chain", ErrNotRefundable)
		}
		if rec.Status != StatusExpired {
			rec.Status = StatusExpired
		}

		txRef, err := e.client(rec.SourceChain).SubmitTransaction(ctx, chain.TxIntent{
			Chain:    rec.SourceChain,
			Kind:     chain.IntentRefund,
			To:       rec.FromToken,
			Payload:  rec.SecretHash.Bytes(),
			Value:    rec.Amount,
			Deadline: rec.RefundTimelock,
		})
		if err != nil {
			// Persist the expiry transition even when the refund submission
			// fails; the caller retries the refund later.
			rec.UpdatedAt = now
			result.Status = rec.Status
			submitErr = fmt.Errorf("refund: submit: %w", err)
			return nil
		}

		rec.Status = StatusRefunded
		rec.RefundTxRef = txRef
		rec.SourceState.Locked = false
		rec.SourceState.UpdatedAt = now
		rec.UpdatedAt = now
		result.Status = rec.Status
		result.RefundTxRef = txRef
		return nil
	})
	if err != nil {
		return result, err
	}
	if submitErr != nil {
		return result, submitErr
	}
	if e.metrics != nil {
		e.metrics.SwapRefunded()
	}
	if e.logger != nil {
		e.logger.Printf("swap %s refunded via %s", result.SwapID, result.RefundTxRef)
	}
	return result, nil
}

// Fail abandons a swap that can no longer make progress, for example when a
// venue disappeared or the counterparty walked away before locking. Failed is
// terminal, so a swap holding unredeemed locked funds must go through Refund
// first; failing it here would strand the funds.
func (e *Engine) Fail(ctx context.Context, swapID, reason string) (Snapshot, error) {
	if e == nil {
		return Snapshot{}, fmt.Errorf("engine not configured")
	}
	var snap Snapshot
	_, err := e.store.Update(ctx, swapID, func(rec *Record) error {
		now := e.now()
		if rec.Status.Terminal() {
			return ErrTerminal
		}
		if rec.SourceState.Locked && !rec.TargetState.Redeemed {
			return invalidField("swap", "refund locked funds before failing")
		}
		rec.Status = StatusFailed
		rec.UpdatedAt = now
		snap = rec.Snapshot(now)
		return nil
	})
	if err != nil {
		return Snapshot{}, err
	}
	if e.logger != nil {
		e.logger.Printf("swap %s failed by operator: %s", swapID, reason)
	}
	return snap, nil
}

// SweepExpired walks every non-terminal swap and transitions those past their
// claim deadline to Expired. It returns the identifiers it transitioned. The
// monitor loop calls this on an interval.
func (e *Engine) SweepExpired(ctx context.Context) ([]string, error) {
	if e == nil {
		return nil, fmt.Errorf("engine not configured")
	}
	records, err := e.store.List(ctx)
	if err != nil {
		return nil, err
	}
	var expired []string
	for _, record := range records {
		if record.Status.Terminal() || record.Status == StatusExpired {
			continue
		}
		if !record.IsExpired(e.now()) {
			continue
		}
		id := record.ID
		_, err := e.store.Update(ctx, id, func(rec *Record) error {
			now := e.now()
			if rec.Status.Terminal() || rec.Status == StatusExpired || !rec.IsExpired(now) {
				return nil
			}
			rec.Status = StatusExpired
			rec.UpdatedAt = now
			return nil
		})
		if err != nil {
			if e.logger != nil {
				e.logger.Printf("sweep: swap %s: %v", id, err)
			}
			continue
		}
		expired = append(expired, id)
	}
	return expired, nil
}

// DeleteSwap removes a finished swap from storage. The store enforces the
// retention rule: records with live timelocks cannot be deleted.
func (e *Engine) DeleteSwap(ctx context.Context, id string) error {
	if e == nil {
		return fmt.Errorf("engine not configured")
	}
	return e.store.Delete(ctx, id)
}
