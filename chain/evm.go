package chain

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
)

// EVMClient speaks JSON-RPC to an EVM node. Submission expects the payload to
// carry a fully signed raw transaction; the wallet layer produces it from the
// TxIntent returned by the stepper.
type EVMClient struct {
	rpc     *rpc.Client
	timeout time.Duration
}

// DialEVM connects to the supplied JSON-RPC endpoint.
func DialEVM(ctx context.Context, endpoint string, timeout time.Duration) (*EVMClient, error) {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return nil, ErrNotConfigured
	}
	client, err := rpc.DialContext(ctx, trimmed)
	if err != nil {
		return nil, fmt.Errorf("dial evm rpc: %w", err)
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &EVMClient{rpc: client, timeout: timeout}, nil
}

// Close releases the underlying RPC connection.
func (c *EVMClient) Close() {
	if c == nil || c.rpc == nil {
		return
	}
	c.rpc.Close()
}

// SubmitTransaction broadcasts the signed payload and returns the transaction
// hash reported by the node.
func (c *EVMClient) SubmitTransaction(ctx context.Context, intent TxIntent) (string, error) {
	if c == nil || c.rpc == nil {
		return "", ErrNotConfigured
	}
	if len(intent.Payload) == 0 {
		return "", fmt.Errorf("evm client: empty transaction payload")
	}
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	var txHash common.Hash
	if err := c.rpc.CallContext(callCtx, &txHash, "eth_sendRawTransaction", hexutil.Encode(intent.Payload)); err != nil {
		return "", fmt.Errorf("send raw transaction: %w", err)
	}
	return txHash.Hex(), nil
}

// TransactionStatus resolves the receipt for the supplied hash. A missing
// receipt maps to pending, a zero-status receipt to failed.
func (c *EVMClient) TransactionStatus(ctx context.Context, txRef string) (TxStatus, error) {
	if c == nil || c.rpc == nil {
		return TxStatusUnknown, ErrNotConfigured
	}
	trimmed := strings.TrimSpace(txRef)
	if trimmed == "" {
		return TxStatusUnknown, fmt.Errorf("evm client: transaction reference required")
	}
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	var receipt *struct {
		Status hexutil.Uint64 `json:"status"`
	}
	err := c.rpc.CallContext(callCtx, &receipt, "eth_getTransactionReceipt", common.HexToHash(trimmed))
	if err != nil {
		return TxStatusUnknown, fmt.Errorf("get transaction receipt: %w", err)
	}
	if receipt == nil {
		return TxStatusPending, nil
	}
	if receipt.Status == 0 {
		return TxStatusFailed, nil
	}
	return TxStatusConfirmed, nil
}
