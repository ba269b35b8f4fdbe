package swap

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"chainswap/chain"
)

func TestCreateSwapBuildsPlanAndCommitment(t *testing.T) {
	env := newTestEnv(t)
	result := env.createSwap(t, defaultRequest())

	snap := result.Swap
	if snap.Status != StatusPlanCreated {
		t.Fatalf("status = %s, want %s", snap.Status, StatusPlanCreated)
	}
	if snap.SecretHash == (common.Hash{}) {
		t.Fatalf("secret hash not set")
	}
	if len(snap.Secret) != 0 {
		t.Fatalf("snapshot leaked the secret before the claim")
	}
	if snap.RefundTimelock < snap.Timelock {
		t.Fatalf("refund timelock %d precedes claim timelock %d", snap.RefundTimelock, snap.Timelock)
	}
	if snap.Timelock != env.clock.Now()+3600 {
		t.Fatalf("timelock = %d, want %d", snap.Timelock, env.clock.Now()+3600)
	}

	// USDC on the EVM side needs an approval; atomic guarantees add the relay
	// and cross-verification bookends.
	wantKinds := []StepKind{
		StepWalletVerification,
		StepTokenApproval,
		StepSourceLock,
		StepRelay,
		StepTargetClaim,
		StepCrossVerification,
	}
	if len(snap.Plan) != len(wantKinds) {
		t.Fatalf("plan length = %d, want %d", len(snap.Plan), len(wantKinds))
	}
	for i, kind := range wantKinds {
		if snap.Plan[i].Kind != kind {
			t.Fatalf("step %d = %s, want %s", i, snap.Plan[i].Kind, kind)
		}
		if snap.Plan[i].Status != StepStatusPending {
			t.Fatalf("step %d status = %s, want pending", i, snap.Plan[i].Status)
		}
	}

	record, err := env.store.Get(context.Background(), snap.ID)
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if !VerifySecret(record.Secret, record.SecretHash) {
		t.Fatalf("stored secret does not match the hashlock")
	}
	if !record.Peg.SafeToSwap {
		t.Fatalf("peg marked unsafe on matching prices")
	}
	if env.metrics.created != 1 {
		t.Fatalf("created metric = %d, want 1", env.metrics.created)
	}
}

func TestCreateSwapNativeAssetSkipsApproval(t *testing.T) {
	env := newTestEnv(t)
	req := defaultRequest()
	req.FromToken = "ETH"
	req.EnableAtomicSwap = false
	result := env.createSwap(t, req)

	for _, step := range result.Swap.Plan {
		if step.Kind == StepTokenApproval {
			t.Fatalf("native asset plan includes a token approval")
		}
		if step.Kind == StepRelay || step.Kind == StepCrossVerification {
			t.Fatalf("non-atomic plan includes %s", step.Kind)
		}
	}
}

func TestCreateSwapInsufficientSpread(t *testing.T) {
	env := newTestEnv(t)
	// 3000 vs 3009 is a 0.3% spread, below the caller's 0.5% minimum but
	// well inside the 5% safety threshold.
	env.source.setPrice(chain.RefEVM, big.NewRat(3000, 1))
	env.source.setPrice(chain.RefLedger, big.NewRat(3009, 1))

	req := defaultRequest()
	req.MinSpread = "0.5"
	_, err := env.engine.CreateSwap(context.Background(), req)
	if !errors.Is(err, ErrInsufficientSpread) {
		t.Fatalf("err = %v, want ErrInsufficientSpread", err)
	}

	swaps, listErr := env.engine.ListSwaps(context.Background())
	if listErr != nil {
		t.Fatalf("list: %v", listErr)
	}
	if len(swaps) != 0 {
		t.Fatalf("unprofitable swap was persisted")
	}
}

func TestCreateSwapPegProtectionTriggered(t *testing.T) {
	env := newTestEnv(t)
	// 3000 vs 3192 is a 6.4% deviation, past the 5% alert threshold.
	env.source.setPrice(chain.RefEVM, big.NewRat(3000, 1))
	env.source.setPrice(chain.RefLedger, big.NewRat(3192, 1))

	_, err := env.engine.CreateSwap(context.Background(), defaultRequest())
	if !errors.Is(err, ErrPegProtectionTriggered) {
		t.Fatalf("err = %v, want ErrPegProtectionTriggered", err)
	}
	if env.metrics.violations != 1 {
		t.Fatalf("violation metric = %d, want 1", env.metrics.violations)
	}
}

func TestCreateSwapFailsClosedWithoutPrices(t *testing.T) {
	env := newTestEnv(t)
	env.source.setErr(errors.New("feed down"))

	_, err := env.engine.CreateSwap(context.Background(), defaultRequest())
	if !errors.Is(err, ErrPriceUnavailable) {
		t.Fatalf("err = %v, want ErrPriceUnavailable", err)
	}
}

func TestCreateSwapValidation(t *testing.T) {
	env := newTestEnv(t)
	cases := []struct {
		name   string
		mutate func(*CreateRequest)
	}{
		{"same chain", func(r *CreateRequest) { r.TargetChain = r.SourceChain }},
		{"unknown chain", func(r *CreateRequest) { r.SourceChain = "solana" }},
		{"missing token", func(r *CreateRequest) { r.FromToken = " " }},
		{"same token", func(r *CreateRequest) { r.ToToken = r.FromToken }},
		{"empty amount", func(r *CreateRequest) { r.Amount = "" }},
		{"bad amount", func(r *CreateRequest) { r.Amount = "12,5" }},
		{"negative amount", func(r *CreateRequest) { r.Amount = "-3" }},
		{"negative timeout", func(r *CreateRequest) { r.TimeoutMinutes = -5 }},
		{"slippage range", func(r *CreateRequest) { r.MaxSlippageBps = 10_001 }},
	}
	for _, tc := range cases {
		req := defaultRequest()
		tc.mutate(&req)
		_, err := env.engine.CreateSwap(context.Background(), req)
		var verr *ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("%s: err = %v, want validation error", tc.name, err)
		}
	}
}

func TestGetSwapUnknown(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.engine.GetSwap(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
