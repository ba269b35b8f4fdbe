package chain

import (
	"context"
	"fmt"
	"sync"
)

// Fake is a deterministic in-memory client used by tests and by development
// deployments that run without live chain endpoints. References are sequential
// per chain so assertions stay stable across runs.
type Fake struct {
	mu       sync.Mutex
	ref      Ref
	seq      int
	statuses map[string]TxStatus
	submits  []TxIntent
	failNext error
}

// NewFake constructs a fake client for the supplied chain.
func NewFake(ref Ref) *Fake {
	return &Fake{ref: ref, statuses: make(map[string]TxStatus)}
}

// FailNext arranges for the next SubmitTransaction call to return err.
func (f *Fake) FailNext(err error) {
	f.mu.Lock()
	f.failNext = err
	f.mu.Unlock()
}

// Submissions returns a copy of every intent submitted so far.
func (f *Fake) Submissions() []TxIntent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]TxIntent{}, f.submits...)
}

// SetStatus overrides the reported status for a reference.
func (f *Fake) SetStatus(txRef string, status TxStatus) {
	f.mu.Lock()
	f.statuses[txRef] = status
	f.mu.Unlock()
}

// SubmitTransaction records the intent and mints the next sequential reference.
func (f *Fake) SubmitTransaction(ctx context.Context, intent TxIntent) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext != nil {
		err := f.failNext
		f.failNext = nil
		return "", err
	}
	f.seq++
	ref := fmt.Sprintf("%s-tx-%04d", f.ref, f.seq)
	f.submits = append(f.submits, intent)
	f.statuses[ref] = TxStatusConfirmed
	return ref, nil
}

// TransactionStatus reports the recorded status, defaulting to unknown.
func (f *Fake) TransactionStatus(ctx context.Context, txRef string) (TxStatus, error) {
	if err := ctx.Err(); err != nil {
		return TxStatusUnknown, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if status, ok := f.statuses[txRef]; ok {
		return status, nil
	}
	return TxStatusUnknown, nil
}
