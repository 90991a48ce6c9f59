package quote

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/ggonzalez94/bsc-trader/internal/model"
)

type quoteExactInputSingleParams struct {
	TokenIn           common.Address `abi:"tokenIn"`
	TokenOut          common.Address `abi:"tokenOut"`
	AmountIn          *big.Int       `abi:"amountIn"`
	Fee               *big.Int       `abi:"fee"`
	SqrtPriceLimitX96 *big.Int       `abi:"sqrtPriceLimitX96"`
}

// orderedTiers puts the preferred tier first and drops duplicates.
func orderedTiers(tiers []uint32, preferred uint32) []uint32 {
	out := make([]uint32, 0, len(tiers)+1)
	seen := map[uint32]bool{}
	if preferred != 0 {
		out = append(out, preferred)
		seen[preferred] = true
	}
	for _, fee := range tiers {
		if !seen[fee] {
			seen[fee] = true
			out = append(out, fee)
		}
	}
	return out
}

func (a *Aggregator) quoteV3(ctx context.Context, req Request) (Quote, bool) {
	if a.quoter == (common.Address{}) {
		return Quote{}, false
	}
	tiers := orderedTiers(a.feeTiers, req.PreferredFee)
	if req.IdentityOnly {
		return a.v3Identity(ctx, req, tiers)
	}

	outs := make([]*big.Int, len(tiers))
	var g errgroup.Group
	for i, fee := range tiers {
		g.Go(func() error {
			outs[i] = a.quoteTier(ctx, req, fee)
			return nil
		})
	}
	_ = g.Wait()

	bestIdx := -1
	for i, out := range outs {
		if out == nil || out.Sign() <= 0 {
			continue
		}
		// earlier tiers win ties, so the preferred tier is kept on equal output
		if bestIdx < 0 || out.Cmp(outs[bestIdx]) > 0 {
			bestIdx = i
		}
	}
	if bestIdx < 0 {
		quotesTotal.WithLabelValues(string(model.VenueV3), "no_pool").Inc()
		return Quote{}, false
	}
	fee := tiers[bestIdx]
	return Quote{AmountOut: outs[bestIdx], Venue: model.VenueV3, Fee: fee, Pool: a.v3Pool(ctx, req, fee)}, true
}

func (a *Aggregator) quoteTier(ctx context.Context, req Request, fee uint32) *big.Int {
	out, ok := a.callLogged(ctx, a.quoter, quoterABI, "quoteExactInputSingle", quoteExactInputSingleParams{
		TokenIn:           req.TokenIn,
		TokenOut:          req.TokenOut,
		AmountIn:          req.AmountIn,
		Fee:               big.NewInt(int64(fee)),
		SqrtPriceLimitX96: big.NewInt(0),
	})
	if !ok || len(out) == 0 {
		return nil
	}
	amountOut, ok := out[0].(*big.Int)
	if !ok {
		return nil
	}
	return amountOut
}

// v3Pool resolves the pool address for a tier, falling back to the quoter
// identity when no factory is configured or the lookup fails.
func (a *Aggregator) v3Pool(ctx context.Context, req Request, fee uint32) common.Address {
	if a.v3Factory == (common.Address{}) {
		return a.quoter
	}
	out, ok := a.callLogged(ctx, a.v3Factory, v3FactoryABI, "getPool", req.TokenIn, req.TokenOut, big.NewInt(int64(fee)))
	if !ok || len(out) == 0 {
		return a.quoter
	}
	pool, ok := out[0].(common.Address)
	if !ok || pool == (common.Address{}) {
		return a.quoter
	}
	return pool
}

// v3Identity finds a deployed pool without quoting. Without a factory there is
// no way to tell, so the class reports no pool.
func (a *Aggregator) v3Identity(ctx context.Context, req Request, tiers []uint32) (Quote, bool) {
	if a.v3Factory == (common.Address{}) {
		return Quote{}, false
	}
	for _, fee := range tiers {
		out, ok := a.callLogged(ctx, a.v3Factory, v3FactoryABI, "getPool", req.TokenIn, req.TokenOut, big.NewInt(int64(fee)))
		if !ok || len(out) == 0 {
			continue
		}
		if pool, ok := out[0].(common.Address); ok && pool != (common.Address{}) {
			return Quote{Venue: model.VenueV3, Fee: fee, Pool: pool}, true
		}
	}
	return Quote{}, false
}
