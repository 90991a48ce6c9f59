package route

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ggonzalez94/bsc-trader/internal/chain"
	clierr "github.com/ggonzalez94/bsc-trader/internal/errors"
	"github.com/ggonzalez94/bsc-trader/internal/model"
)

// Launchpad legs never carry a minimum output: the bonding curve prices the
// trade at execution time.

func (b *Builder) launchpadBuy(ctx context.Context, intent BuyIntent) (Route, error) {
	manager, err := b.requireContract(b.contracts.LaunchpadManager, "launchpad manager")
	if err != nil {
		return Route{}, err
	}
	token := intent.Token.Address
	data, err := managerABI.Pack("buyTokenAMAP", token, intent.AmountIn, new(big.Int))
	if err != nil {
		return Route{}, clierr.Wrap(clierr.CodeInternal, "pack buyTokenAMAP", err)
	}
	leg := model.SwapLeg{
		Venue:     model.VenueLaunchpadBuy,
		TokenIn:   b.wbnb,
		TokenOut:  token,
		Pool:      manager,
		AmountIn:  intent.AmountIn,
		AmountOut: b.estimateBuy(ctx, token, intent.AmountIn),
		MinOut:    new(big.Int),
	}
	return Route{
		Legs:      []model.SwapLeg{leg},
		MinOut:    new(big.Int),
		QuotedOut: leg.AmountOut,
		Target:    manager,
		Calldata:  data,
		Value:     new(big.Int).Set(intent.AmountIn),
	}, nil
}

func (b *Builder) launchpadSell(ctx context.Context, intent SellIntent) (Route, error) {
	manager, err := b.requireContract(b.contracts.LaunchpadManager, "launchpad manager")
	if err != nil {
		return Route{}, err
	}
	token := intent.Token.Address
	data, err := managerABI.Pack("sellToken", token, intent.AmountIn)
	if err != nil {
		return Route{}, clierr.Wrap(clierr.CodeInternal, "pack sellToken", err)
	}
	leg := model.SwapLeg{
		Venue:     model.VenueLaunchpadSell,
		TokenIn:   token,
		TokenOut:  b.wbnb,
		Pool:      manager,
		AmountIn:  intent.AmountIn,
		AmountOut: b.estimateSell(ctx, token, intent.AmountIn),
		MinOut:    new(big.Int),
	}
	return Route{
		Legs:      []model.SwapLeg{leg},
		MinOut:    new(big.Int),
		QuotedOut: leg.AmountOut,
		Target:    manager,
		Calldata:  data,
		Value:     new(big.Int),
		Spender:   manager,
	}, nil
}

// launchpadBridgeBuy pays native to the helper, which swaps into the quote
// token and buys on the curve in one call.
func (b *Builder) launchpadBridgeBuy(ctx context.Context, intent BuyIntent, quoteToken common.Address) (Route, error) {
	helper, err := b.requireContract(b.contracts.LaunchpadHelper, "launchpad helper")
	if err != nil {
		return Route{}, err
	}
	token := intent.Token.Address
	data, err := helperABI.Pack("buyWithEth", new(big.Int), token, intent.Recipient, intent.AmountIn, new(big.Int))
	if err != nil {
		return Route{}, clierr.Wrap(clierr.CodeInternal, "pack buyWithEth", err)
	}
	leg := model.SwapLeg{
		Venue:    model.VenueLaunchpadBuy,
		TokenIn:  b.wbnb,
		TokenOut: token,
		Pool:     helper,
		AmountIn: intent.AmountIn,
		MinOut:   new(big.Int),
		Aux:      quoteToken.Bytes(),
	}
	return Route{
		Legs:     []model.SwapLeg{leg},
		MinOut:   new(big.Int),
		Target:   helper,
		Calldata: data,
		Value:    new(big.Int).Set(intent.AmountIn),
	}, nil
}

// launchpadBridgeSell sells on the curve through the helper and always ends in native.
func (b *Builder) launchpadBridgeSell(ctx context.Context, intent SellIntent) (Route, error) {
	helper, err := b.requireContract(b.contracts.LaunchpadHelper, "launchpad helper")
	if err != nil {
		return Route{}, err
	}
	token := intent.Token.Address
	data, err := helperABI.Pack("sellForEth", new(big.Int), token, intent.AmountIn, new(big.Int), new(big.Int), common.Address{})
	if err != nil {
		return Route{}, clierr.Wrap(clierr.CodeInternal, "pack sellForEth", err)
	}
	leg := model.SwapLeg{
		Venue:    model.VenueLaunchpadSell,
		TokenIn:  token,
		TokenOut: b.wbnb,
		Pool:     helper,
		AmountIn: intent.AmountIn,
		MinOut:   new(big.Int),
	}
	if intent.Token.QuoteToken != nil {
		leg.Aux = intent.Token.QuoteToken.Bytes()
	}
	return Route{
		Legs:     []model.SwapLeg{leg},
		MinOut:   new(big.Int),
		Target:   helper,
		Calldata: data,
		Value:    new(big.Int),
		Spender:  helper,
	}, nil
}

// estimateBuy asks the helper for the curve's output. Failures leave the
// estimate empty since launchpad legs do not depend on it.
func (b *Builder) estimateBuy(ctx context.Context, token common.Address, funds *big.Int) *big.Int {
	if b.contracts.LaunchpadHelper == "" {
		return nil
	}
	out, err := chain.Call(ctx, b.reader, common.HexToAddress(b.contracts.LaunchpadHelper), helperABI, "tryBuy", token, new(big.Int), funds)
	if err != nil {
		b.logger.WithError(err).Debug("launchpad tryBuy failed")
		return nil
	}
	estimated, err := chain.BigAt(out, 2)
	if err != nil {
		return nil
	}
	return estimated
}

func (b *Builder) estimateSell(ctx context.Context, token common.Address, amount *big.Int) *big.Int {
	if b.contracts.LaunchpadHelper == "" {
		return nil
	}
	out, err := chain.Call(ctx, b.reader, common.HexToAddress(b.contracts.LaunchpadHelper), helperABI, "trySell", token, amount)
	if err != nil {
		b.logger.WithError(err).Debug("launchpad trySell failed")
		return nil
	}
	funds, err := chain.BigAt(out, 2)
	if err != nil {
		return nil
	}
	return funds
}
