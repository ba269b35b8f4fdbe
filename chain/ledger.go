package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPDoer abstracts http.Client for ease of testing.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// LedgerClient adapts the non-EVM ledger's HTTP transaction API.
type LedgerClient struct {
	client   HTTPDoer
	endpoint string
	timeout  time.Duration
}

// NewLedgerClient constructs a ledger adapter. When client is nil a default
// http.Client with the supplied timeout is used.
func NewLedgerClient(client HTTPDoer, endpoint string, timeout time.Duration) (*LedgerClient, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(endpoint), "/")
	if trimmed == "" {
		return nil, ErrNotConfigured
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	return &LedgerClient{client: client, endpoint: trimmed, timeout: timeout}, nil
}

// SubmitTransaction posts the intent to the ledger node and returns the
// reference it assigned.
func (c *LedgerClient) SubmitTransaction(ctx context.Context, intent TxIntent) (string, error) {
	if c == nil || c.client == nil {
		return "", ErrNotConfigured
	}
	body, err := json.Marshal(intent)
	if err != nil {
		return "", fmt.Errorf("ledger client: encode intent: %w", err)
	}
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.endpoint+"/tx", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("ledger client: submit: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("ledger client: status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	var payload struct {
		TxRef string `json:"txRef"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("ledger client: decode: %w", err)
	}
	ref := strings.TrimSpace(payload.TxRef)
	if ref == "" {
		return "", fmt.Errorf("ledger client: empty transaction reference")
	}
	return ref, nil
}

// TransactionStatus fetches the ledger's view of the transaction.
func (c *LedgerClient) TransactionStatus(ctx context.Context, txRef string) (TxStatus, error) {
	if c == nil || c.client == nil {
		return TxStatusUnknown, ErrNotConfigured
	}
	trimmed := strings.TrimSpace(txRef)
	if trimmed == "" {
		return TxStatusUnknown, fmt.Errorf("ledger client: transaction reference required")
	}
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(callCtx, http.MethodGet, c.endpoint+"/tx/"+url.PathEscape(trimmed), nil)
	if err != nil {
		return TxStatusUnknown, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return TxStatusUnknown, fmt.Errorf("ledger client: status: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode == http.StatusNotFound {
		return TxStatusUnknown, nil
	}
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return TxStatusUnknown, fmt.Errorf("ledger client: status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	var payload struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return TxStatusUnknown, fmt.Errorf("ledger client: decode: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(payload.Status)) {
	case "pending":
		return TxStatusPending, nil
	case "confirmed", "settled":
		return TxStatusConfirmed, nil
	case "failed", "rejected":
		return TxStatusFailed, nil
	default:
		return TxStatusUnknown, nil
	}
}
