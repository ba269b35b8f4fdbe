package swap

import (
	"strings"

	"chainswap/chain"
)

// CreateRequest carries the client-supplied swap terms.
type CreateRequest struct {
	SourceChain       string `json:"sourceChain"`
	TargetChain       string `json:"targetChain"`
	FromToken         string `json:"fromToken"`
	ToToken           string `json:"toToken"`
	Amount            string `json:"amount"`
	MinSpread         string `json:"minSpread,omitempty"`
	MaxSlippageBps    uint32 `json:"maxSlippage,omitempty"`
	TimeoutMinutes    int64  `json:"timeoutMinutes,omitempty"`
	EnableAtomicSwap  bool   `json:"enableAtomicSwap"`
	EnableLimitOrders bool   `json:"enableLimitOrders"`
}

// normalizedRequest is the validated form consumed by the engine.
type normalizedRequest struct {
	source    chain.Ref
	target    chain.Ref
	fromToken string
	toToken   string
	amount    string
	minSpread string
	slippage  uint32
	timeout   int64
	atomic    bool
	limits    bool
}

const defaultTimeoutMinutes int64 = 60

// nativeTokens do not require a spend approval before locking.
var nativeTokens = map[string]struct{}{
	"ETH": {},
}

func normalizeRequest(req CreateRequest) (normalizedRequest, error) {
	source, err := chain.ParseRef(req.SourceChain)
	if err != nil {
		return normalizedRequest{}, invalidField("sourceChain", "unknown chain")
	}
	target, err := chain.ParseRef(req.TargetChain)
	if err != nil {
		return normalizedRequest{}, invalidField("targetChain", "unknown chain")
	}
	if source == target {
		return normalizedRequest{}, invalidField("targetChain", "source and target must differ")
	}
	fromToken := strings.ToUpper(strings.TrimSpace(req.FromToken))
	toToken := strings.ToUpper(strings.TrimSpace(req.ToToken))
	if fromToken == "" {
		return normalizedRequest{}, invalidField("fromToken", "required")
	}
	if toToken == "" {
		return normalizedRequest{}, invalidField("toToken", "required")
	}
	if fromToken == toToken {
		return normalizedRequest{}, invalidField("toToken", "tokens must differ")
	}
	amountStr := strings.TrimSpace(req.Amount)
	if amountStr == "" {
		return normalizedRequest{}, invalidField("amount", "required")
	}
	if _, err := parseAmount(amountStr); err != nil {
		return normalizedRequest{}, err
	}
	if req.MaxSlippageBps > 10_000 {
		return normalizedRequest{}, invalidField("maxSlippage", "bps out of range")
	}
	timeout := req.TimeoutMinutes
	if timeout == 0 {
		timeout = defaultTimeoutMinutes
	}
	if timeout < 0 {
		return normalizedRequest{}, invalidField("timeoutMinutes", "must be positive")
	}
	return normalizedRequest{
		source:    source,
		target:    target,
		fromToken: fromToken,
		toToken:   toToken,
		amount:    amountStr,
		minSpread: strings.TrimSpace(req.MinSpread),
		slippage:  req.MaxSlippageBps,
		timeout:   timeout,
		atomic:    req.EnableAtomicSwap,
		limits:    req.EnableLimitOrders,
	}, nil
}

// requiresApproval reports whether locking the asset needs a prior spend
// approval. Native coins transfer value directly; token contracts do not.
func requiresApproval(source chain.Ref, token string) bool {
	if source != chain.RefEVM {
		return false
	}
	_, native := nativeTokens[token]
	return !native
}
