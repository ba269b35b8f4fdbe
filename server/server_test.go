package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"chainswap/chain"
	"chainswap/storage"
	"chainswap/swap"
)

const testToken = "test-admin-token"

type stubPrices struct {
	mu     sync.Mutex
	prices map[chain.Ref]*big.Rat
}

func (s *stubPrices) Name() string { return "stub" }

func (s *stubPrices) Price(ctx context.Context, ref chain.Ref, base, quote string) (*big.Rat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return new(big.Rat).Set(s.prices[ref]), nil
}

func (s *stubPrices) set(ref chain.Ref, rate *big.Rat) {
	s.mu.Lock()
	s.prices[ref] = rate
	s.mu.Unlock()
}

type serverEnv struct {
	server *Server
	prices *stubPrices
	evm    *chain.Fake
	ledger *chain.Fake
}

func newServerEnv(t *testing.T) *serverEnv {
	t.Helper()
	prices := &stubPrices{prices: map[chain.Ref]*big.Rat{
		chain.RefEVM:    big.NewRat(3000, 1),
		chain.RefLedger: big.NewRat(3000, 1),
	}}
	gate, err := swap.NewGate(prices, nil, time.Second)
	require.NoError(t, err)

	history, err := storage.OpenPriceHistory(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { history.Close() })
	gate.SetRecorder(history)

	evm := chain.NewFake(chain.RefEVM)
	ledger := chain.NewFake(chain.RefLedger)
	engine, err := swap.NewEngine(storage.NewMemory(), gate, map[chain.Ref]chain.Client{
		chain.RefEVM:    evm,
		chain.RefLedger: ledger,
	})
	require.NoError(t, err)

	auth, err := NewAuthenticator(AuthConfig{BearerToken: testToken})
	require.NoError(t, err)
	srv, err := New(Config{ListenAddress: ":0"}, engine, history, auth, nil)
	require.NoError(t, err)
	return &serverEnv{server: srv, prices: prices, evm: evm, ledger: ledger}
}

func (env *serverEnv) do(t *testing.T, method, path string, body any, out any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	recorder := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(recorder, req)
	if out != nil && recorder.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), out))
	}
	return recorder
}

func (env *serverEnv) createSwap(t *testing.T) swap.CreateResult {
	t.Helper()
	var result swap.CreateResult
	recorder := env.do(t, http.MethodPost, "/swaps", map[string]any{
		"sourceChain":      "evm",
		"targetChain":      "ledger",
		"fromToken":        "USDC",
		"toToken":          "NHB",
		"amount":           "100",
		"enableAtomicSwap": true,
	}, &result)
	require.Equal(t, http.StatusCreated, recorder.Code)
	return result
}

func TestCreateSwapEndpoint(t *testing.T) {
	env := newServerEnv(t)
	result := env.createSwap(t)

	require.Equal(t, swap.StatusPlanCreated, result.Swap.Status)
	require.NotEmpty(t, result.Swap.ID)
	require.Empty(t, result.Swap.Secret)
	require.True(t, result.AtomicGuarantees)
	require.True(t, result.SpreadAnalysis.Safe)
	require.Len(t, result.Swap.Plan, 6)
}

func TestCreateSwapRejectsMalformedBody(t *testing.T) {
	env := newServerEnv(t)
	req := httptest.NewRequest(http.MethodPost, "/swaps", bytes.NewReader([]byte("{not json")))
	recorder := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(recorder, req)
	require.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestCreateSwapValidationStatus(t *testing.T) {
	env := newServerEnv(t)
	recorder := env.do(t, http.MethodPost, "/swaps", map[string]any{
		"sourceChain": "evm",
		"targetChain": "evm",
		"fromToken":   "USDC",
		"toToken":     "NHB",
		"amount":      "100",
	}, nil)
	require.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestCreateSwapDepegReturnsLocked(t *testing.T) {
	env := newServerEnv(t)
	env.prices.set(chain.RefLedger, big.NewRat(3192, 1))

	var body errorBody
	recorder := env.do(t, http.MethodPost, "/swaps", map[string]any{
		"sourceChain": "evm",
		"targetChain": "ledger",
		"fromToken":   "USDC",
		"toToken":     "NHB",
		"amount":      "100",
	}, &body)
	require.Equal(t, http.StatusLocked, recorder.Code)
	require.NotNil(t, body.SpreadAnalysis)
	require.False(t, body.SpreadAnalysis.Safe)
}

func TestGetSwapNotFound(t *testing.T) {
	env := newServerEnv(t)
	recorder := env.do(t, http.MethodGet, "/swaps/unknown", nil, nil)
	require.Equal(t, http.StatusNotFound, recorder.Code)
}

func TestStepExecutionFlow(t *testing.T) {
	env := newServerEnv(t)
	created := env.createSwap(t)
	id := created.Swap.ID

	// Step 0 is synchronous.
	var step swap.StepResult
	recorder := env.do(t, http.MethodPost, fmt.Sprintf("/swaps/%s/steps/0/execute", id), nil, &step)
	require.Equal(t, http.StatusOK, recorder.Code)
	require.Equal(t, swap.StepStatusCompleted, step.Status)

	// Step 1 (approval) needs a wallet signature.
	recorder = env.do(t, http.MethodPost, fmt.Sprintf("/swaps/%s/steps/1/execute", id), nil, &step)
	require.Equal(t, http.StatusAccepted, recorder.Code)
	require.Equal(t, swap.StepStatusPendingSignature, step.Status)
	require.NotNil(t, step.Outcome.Intent)

	env.evm.SetStatus("0xapproval", chain.TxStatusConfirmed)
	recorder = env.do(t, http.MethodPost, fmt.Sprintf("/swaps/%s/steps/1/submit", id), map[string]any{
		"transactionReference": "0xapproval",
		"chain":                "evm",
	}, &step)
	require.Equal(t, http.StatusOK, recorder.Code)
	require.Equal(t, swap.StepStatusCompleted, step.Status)
}

func TestStepOrderingConflict(t *testing.T) {
	env := newServerEnv(t)
	created := env.createSwap(t)

	var body errorBody
	recorder := env.do(t, http.MethodPost, fmt.Sprintf("/swaps/%s/steps/2/execute", created.Swap.ID), nil, &body)
	require.Equal(t, http.StatusConflict, recorder.Code)
	require.Equal(t, swap.StatusPlanCreated, body.SwapStatus)
	require.NotNil(t, body.CanRefund)
	require.False(t, *body.CanRefund)
}

func TestStepIndexValidation(t *testing.T) {
	env := newServerEnv(t)
	created := env.createSwap(t)

	recorder := env.do(t, http.MethodPost, fmt.Sprintf("/swaps/%s/steps/beef/execute", created.Swap.ID), nil, nil)
	require.Equal(t, http.StatusBadRequest, recorder.Code)

	recorder = env.do(t, http.MethodPost, fmt.Sprintf("/swaps/%s/steps/99/execute", created.Swap.ID), nil, nil)
	require.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestRefundEndpointConflictBeforeExpiry(t *testing.T) {
	env := newServerEnv(t)
	created := env.createSwap(t)

	recorder := env.do(t, http.MethodPost, fmt.Sprintf("/swaps/%s/refund", created.Swap.ID), nil, nil)
	require.Equal(t, http.StatusConflict, recorder.Code)
}

func TestAdminRequiresToken(t *testing.T) {
	env := newServerEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/admin/gate", nil)
	recorder := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(recorder, req)
	require.Equal(t, http.StatusUnauthorized, recorder.Code)

	req = httptest.NewRequest(http.MethodGet, "/admin/gate", nil)
	req.Header.Set("Authorization", "Bearer wrong-token")
	recorder = httptest.NewRecorder()
	env.server.Handler().ServeHTTP(recorder, req)
	require.Equal(t, http.StatusUnauthorized, recorder.Code)
}

func adminRequest(t *testing.T, env *serverEnv, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Authorization", "Bearer "+testToken)
	recorder := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(recorder, req)
	return recorder
}

func TestAdminThresholdOverrideAndPause(t *testing.T) {
	env := newServerEnv(t)

	recorder := adminRequest(t, env, http.MethodPut, "/admin/gate/threshold", map[string]any{"threshold": "0.01"})
	require.Equal(t, http.StatusOK, recorder.Code)

	// A 2% spread now violates the tightened threshold.
	env.prices.set(chain.RefLedger, big.NewRat(3060, 1))
	create := env.do(t, http.MethodPost, "/swaps", map[string]any{
		"sourceChain": "evm",
		"targetChain": "ledger",
		"fromToken":   "USDC",
		"toToken":     "NHB",
		"amount":      "100",
	}, nil)
	require.Equal(t, http.StatusLocked, create.Code)

	recorder = adminRequest(t, env, http.MethodPut, "/admin/gate/threshold", map[string]any{"threshold": "not-a-number"})
	require.Equal(t, http.StatusBadRequest, recorder.Code)

	recorder = adminRequest(t, env, http.MethodPost, "/admin/gate/pause", map[string]any{"paused": true})
	require.Equal(t, http.StatusOK, recorder.Code)
	env.prices.set(chain.RefLedger, big.NewRat(3000, 1))
	create = env.do(t, http.MethodPost, "/swaps", map[string]any{
		"sourceChain": "evm",
		"targetChain": "ledger",
		"fromToken":   "USDC",
		"toToken":     "NHB",
		"amount":      "100",
	}, nil)
	require.Equal(t, http.StatusLocked, create.Code)
}

func TestAdminViolationHistory(t *testing.T) {
	env := newServerEnv(t)
	env.prices.set(chain.RefLedger, big.NewRat(3192, 1))
	env.do(t, http.MethodPost, "/swaps", map[string]any{
		"sourceChain": "evm",
		"targetChain": "ledger",
		"fromToken":   "USDC",
		"toToken":     "NHB",
		"amount":      "100",
	}, nil)

	recorder := adminRequest(t, env, http.MethodGet, "/admin/violations?pair=USDC/NHB", nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	var payload struct {
		Violations []storage.ViolationEntry `json:"violations"`
	}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &payload))
	require.Len(t, payload.Violations, 1)
	require.Equal(t, "USDC/NHB", payload.Violations[0].Pair)
}

func TestHealthEndpoint(t *testing.T) {
	env := newServerEnv(t)
	recorder := env.do(t, http.MethodGet, "/healthz", nil, nil)
	require.Equal(t, http.StatusOK, recorder.Code)
}

func TestAdminFailSwap(t *testing.T) {
	env := newServerEnv(t)
	result := env.createSwap(t)

	recorder := adminRequest(t, env, http.MethodPost, "/admin/swaps/"+result.Swap.ID+"/fail", map[string]any{"reason": "venue gone"})
	require.Equal(t, http.StatusOK, recorder.Code)
	var snap swap.Snapshot
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &snap))
	require.Equal(t, swap.StatusFailed, snap.Status)

	recorder = adminRequest(t, env, http.MethodPost, "/admin/swaps/"+result.Swap.ID+"/fail", map[string]any{"reason": "again"})
	require.Equal(t, http.StatusConflict, recorder.Code)

	var got swap.Snapshot
	get := env.do(t, http.MethodGet, "/swaps/"+result.Swap.ID, nil, &got)
	require.Equal(t, http.StatusOK, get.Code)
	require.Equal(t, swap.StatusFailed, got.Status)
	require.False(t, got.CanRefund)
}
