package chain

import (
	"context"
	"errors"
	"strings"
)

// Ref identifies one of the two ledgers a swap spans.
type Ref string

const (
	// RefEVM identifies the EVM-compatible chain.
	RefEVM Ref = "evm"
	// RefLedger identifies the non-EVM ledger.
	RefLedger Ref = "ledger"
)

// Valid reports whether the reference names a supported chain.
func (r Ref) Valid() bool {
	switch r {
	case RefEVM, RefLedger:
		return true
	default:
		return false
	}
}

// ParseRef normalises a chain identifier supplied by callers.
func ParseRef(raw string) (Ref, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(RefEVM):
		return RefEVM, nil
	case string(RefLedger):
		return RefLedger, nil
	default:
		return "", errors.New("chain: unknown chain reference")
	}
}

// IntentKind enumerates the transaction categories the orchestrator emits.
type IntentKind string

const (
	IntentApprove    IntentKind = "approve"
	IntentLock       IntentKind = "lock"
	IntentRelay      IntentKind = "relay"
	IntentClaim      IntentKind = "claim"
	IntentRefund     IntentKind = "refund"
	IntentLimitOrder IntentKind = "limit_order"
)

// TxIntent describes an unsigned transaction the external wallet layer (or the
// daemon itself, for relay and refund flows) should submit to a chain.
type TxIntent struct {
	Chain    Ref        `json:"chain"`
	Kind     IntentKind `json:"kind"`
	To       string     `json:"to"`
	Payload  []byte     `json:"payload,omitempty"`
	Value    string     `json:"value,omitempty"`
	Deadline int64      `json:"deadline,omitempty"`
}

// TxStatus captures the lifecycle of a submitted transaction.
type TxStatus string

const (
	TxStatusUnknown   TxStatus = "unknown"
	TxStatusPending   TxStatus = "pending"
	TxStatusConfirmed TxStatus = "confirmed"
	TxStatusFailed    TxStatus = "failed"
)

// ErrNotConfigured is returned by clients that have not been wired to an
// endpoint.
var ErrNotConfigured = errors.New("chain: client not configured")

// Client submits transactions to a chain and reports their status. The
// orchestration core never fabricates transaction references; they always
// originate from a Client implementation.
type Client interface {
	SubmitTransaction(ctx context.Context, intent TxIntent) (string, error)
	TransactionStatus(ctx context.Context, txRef string) (TxStatus, error)
}
