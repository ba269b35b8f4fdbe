package oracle

import (
	"context"
	"math/big"

	"chainswap/chain"
)

// Fixed serves one constant price for every chain and pair. Development
// deployments without configured venues use it so the gate always sees a
// perfectly pegged pair.
type Fixed struct {
	rate *big.Rat
}

// FixedPrices constructs a constant price source.
func FixedPrices(rate *big.Rat) *Fixed {
	if rate == nil || rate.Sign() <= 0 {
		rate = big.NewRat(1, 1)
	}
	return &Fixed{rate: new(big.Rat).Set(rate)}
}

func (f *Fixed) Name() string { return "fixed" }

func (f *Fixed) Price(ctx context.Context, ref chain.Ref, base, quote string) (*big.Rat, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return new(big.Rat).Set(f.rate), nil
}
