package quote

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/ggonzalez94/bsc-trader/internal/model"
)

var (
	v2FeeNumerator   = uint256.NewInt(9975)
	v2FeeDenominator = uint256.NewInt(10000)
)

// AmountOutV2 is the constant-product output after the 0.25% pair fee:
// in*9975*rOut / (rIn*10000 + in*9975). It is zero for empty inputs or reserves.
func AmountOutV2(amountIn, reserveIn, reserveOut *big.Int) *big.Int {
	if amountIn == nil || reserveIn == nil || reserveOut == nil ||
		amountIn.Sign() <= 0 || reserveIn.Sign() <= 0 || reserveOut.Sign() <= 0 {
		return new(big.Int)
	}
	in, inOverflow := uint256.FromBig(amountIn)
	rIn, rInOverflow := uint256.FromBig(reserveIn)
	rOut, rOutOverflow := uint256.FromBig(reserveOut)
	if !inOverflow && !rInOverflow && !rOutOverflow {
		inWithFee, o1 := new(uint256.Int).MulOverflow(in, v2FeeNumerator)
		numerator, o2 := new(uint256.Int).MulOverflow(inWithFee, rOut)
		denominator, o3 := new(uint256.Int).MulOverflow(rIn, v2FeeDenominator)
		denominator, o4 := denominator.AddOverflow(denominator, inWithFee)
		if !o1 && !o2 && !o3 && !o4 {
			return new(uint256.Int).Div(numerator, denominator).ToBig()
		}
	}
	inWithFee := new(big.Int).Mul(amountIn, big.NewInt(9975))
	numerator := new(big.Int).Mul(inWithFee, reserveOut)
	denominator := new(big.Int).Mul(reserveIn, big.NewInt(10000))
	denominator.Add(denominator, inWithFee)
	return numerator.Quo(numerator, denominator)
}

func (a *Aggregator) quoteV2(ctx context.Context, req Request) (Quote, bool) {
	pairs := a.v2Pairs(ctx, req)
	if len(pairs) == 0 {
		quotesTotal.WithLabelValues(string(model.VenueV2), "no_pair").Inc()
		return Quote{}, false
	}
	if req.IdentityOnly {
		return Quote{Venue: model.VenueV2, Pool: pairs[0]}, true
	}
	var best Quote
	for _, pair := range pairs {
		reserveIn, reserveOut, ok := a.pairReserves(ctx, pair, req.TokenIn, req.TokenOut)
		if !ok {
			continue
		}
		out := AmountOutV2(req.AmountIn, reserveIn, reserveOut)
		if out.Sign() <= 0 {
			continue
		}
		if best.AmountOut == nil || out.Cmp(best.AmountOut) > 0 {
			best = Quote{AmountOut: out, Venue: model.VenueV2, Pool: pair}
		}
	}
	if best.AmountOut == nil {
		return Quote{}, false
	}
	return best, true
}

// v2Pairs lists non-zero pairs from every factory plus the caller's hint, deduped.
// Executable requests only see pairs of the router factory.
func (a *Aggregator) v2Pairs(ctx context.Context, req Request) []common.Address {
	factories := a.factories
	if req.Executable {
		factories = nil
		if a.routerFactory != (common.Address{}) {
			factories = []common.Address{a.routerFactory}
		}
	}
	seen := map[common.Address]bool{}
	var pairs []common.Address
	for _, factory := range factories {
		out, ok := a.callLogged(ctx, factory, v2FactoryABI, "getPair", req.TokenIn, req.TokenOut)
		if !ok || len(out) == 0 {
			continue
		}
		pair, ok := out[0].(common.Address)
		if !ok || pair == (common.Address{}) || seen[pair] {
			continue
		}
		seen[pair] = true
		pairs = append(pairs, pair)
	}
	if hint := req.HintPair; hint != nil && *hint != (common.Address{}) && !seen[*hint] {
		if !req.Executable || a.routerPair(ctx, *hint) {
			pairs = append(pairs, *hint)
		}
	}
	return pairs
}

// routerPair reports whether pair was minted by the router factory.
func (a *Aggregator) routerPair(ctx context.Context, pair common.Address) bool {
	if a.routerFactory == (common.Address{}) {
		return false
	}
	out, ok := a.callLogged(ctx, pair, v2PairABI, "factory")
	if !ok || len(out) == 0 {
		return false
	}
	factory, ok := out[0].(common.Address)
	if !ok || factory != a.routerFactory {
		a.logger.WithField("pair", pair.Hex()).Debug("hint pair is not routable through the router factory")
		return false
	}
	return true
}

// pairReserves orients a pair's reserves to (tokenIn, tokenOut). Pairs holding
// neither token are rejected.
func (a *Aggregator) pairReserves(ctx context.Context, pair, tokenIn, tokenOut common.Address) (*big.Int, *big.Int, bool) {
	tokenOut0, ok := a.callLogged(ctx, pair, v2PairABI, "token0")
	if !ok || len(tokenOut0) == 0 {
		return nil, nil, false
	}
	token0, ok := tokenOut0[0].(common.Address)
	if !ok {
		return nil, nil, false
	}
	reserves, ok := a.callLogged(ctx, pair, v2PairABI, "getReserves")
	if !ok || len(reserves) < 2 {
		return nil, nil, false
	}
	reserve0, ok0 := reserves[0].(*big.Int)
	reserve1, ok1 := reserves[1].(*big.Int)
	if !ok0 || !ok1 {
		return nil, nil, false
	}
	switch token0 {
	case tokenIn:
		return reserve0, reserve1, true
	case tokenOut:
		return reserve1, reserve0, true
	}
	return nil, nil, false
}
