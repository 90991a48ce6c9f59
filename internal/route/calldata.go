package route

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ggonzalez94/bsc-trader/internal/chain"
	clierr "github.com/ggonzalez94/bsc-trader/internal/errors"
	"github.com/ggonzalez94/bsc-trader/internal/model"
	"github.com/ggonzalez94/bsc-trader/internal/registry"
)

var (
	// AddressThis makes the router keep a leg's output for the next call.
	AddressThis = common.BigToAddress(big.NewInt(2))

	routerABI       = chain.MustABI(registry.PancakeSmartRouterABI)
	managerABI      = chain.MustABI(registry.LaunchpadManagerABI)
	helperABI       = chain.MustABI(registry.LaunchpadHelperABI)
	contractBalance = new(big.Int)
)

type exactInputSingleParams struct {
	TokenIn           common.Address `abi:"tokenIn"`
	TokenOut          common.Address `abi:"tokenOut"`
	Fee               *big.Int       `abi:"fee"`
	Recipient         common.Address `abi:"recipient"`
	AmountIn          *big.Int       `abi:"amountIn"`
	AmountOutMinimum  *big.Int       `abi:"amountOutMinimum"`
	SqrtPriceLimitX96 *big.Int       `abi:"sqrtPriceLimitX96"`
}

// assembleDEX packs the legs into one SmartRouter multicall. Legs after the
// first spend the router's balance (amountIn 0) and every leg but a final
// token-out leg pays the router itself.
func (b *Builder) assembleDEX(legs []model.SwapLeg, recipient common.Address, nativeOut bool) ([]byte, error) {
	calls := make([][]byte, 0, len(legs)+1)
	for i, leg := range legs {
		to := recipient
		if i < len(legs)-1 || nativeOut {
			to = AddressThis
		}
		amountIn := leg.AmountIn
		if i > 0 {
			amountIn = contractBalance
		}
		call, err := packLeg(leg, amountIn, to)
		if err != nil {
			return nil, err
		}
		calls = append(calls, call)
	}
	if nativeOut {
		unwrap, err := routerABI.Pack("unwrapWETH9", legs[len(legs)-1].MinOut, recipient)
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeInternal, "pack unwrapWETH9", err)
		}
		calls = append(calls, unwrap)
	}
	deadline := big.NewInt(b.now().Add(deadlineWindow).Unix())
	data, err := routerABI.Pack("multicall", deadline, calls)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "pack router multicall", err)
	}
	return data, nil
}

func packLeg(leg model.SwapLeg, amountIn *big.Int, to common.Address) ([]byte, error) {
	minOut := leg.MinOut
	if minOut == nil {
		minOut = new(big.Int)
	}
	switch leg.Venue {
	case model.VenueV3:
		data, err := routerABI.Pack("exactInputSingle", exactInputSingleParams{
			TokenIn:           leg.TokenIn,
			TokenOut:          leg.TokenOut,
			Fee:               big.NewInt(int64(leg.Fee)),
			Recipient:         to,
			AmountIn:          amountIn,
			AmountOutMinimum:  minOut,
			SqrtPriceLimitX96: big.NewInt(0),
		})
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeInternal, "pack exactInputSingle", err)
		}
		return data, nil
	case model.VenueV2:
		data, err := routerABI.Pack("swapExactTokensForTokens", amountIn, minOut, []common.Address{leg.TokenIn, leg.TokenOut}, to)
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeInternal, "pack swapExactTokensForTokens", err)
		}
		return data, nil
	}
	return nil, clierr.New(clierr.CodeInternal, fmt.Sprintf("venue %s cannot be assembled into a router call", leg.Venue))
}
