package trade

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ggonzalez94/bsc-trader/internal/model"
	"github.com/ggonzalez94/bsc-trader/internal/route"
)

type QuoteRequest struct {
	Token       model.TokenRef
	Side        string
	Amount      *big.Int
	SlippageBps int64
	Turbo       bool
}

type QuoteResult struct {
	Side      string          `json:"side"`
	Token     string          `json:"token"`
	AmountIn  string          `json:"amount_in"`
	QuotedOut string          `json:"quoted_out,omitempty"`
	MinOut    string          `json:"min_out"`
	Target    string          `json:"target"`
	Spender   string          `json:"spender,omitempty"`
	Legs      []model.SwapLeg `json:"legs"`
}

// Quote builds the route a trade would take without sending anything.
func (e *Engine) Quote(ctx context.Context, req QuoteRequest) (QuoteResult, error) {
	from := e.sender.From()
	slippage := e.slippage(req.SlippageBps)
	turbo := req.Turbo || e.config.Turbo
	var (
		rt  route.Route
		err error
	)
	if req.Side == "sell" {
		rt, err = e.builder.BuildSellRoute(ctx, route.SellIntent{Token: req.Token, AmountIn: req.Amount, Recipient: from, SlippageBps: slippage, Turbo: turbo})
	} else {
		req.Side = "buy"
		rt, err = e.builder.BuildBuyRoute(ctx, route.BuyIntent{Token: req.Token, AmountIn: req.Amount, Recipient: from, SlippageBps: slippage, Turbo: turbo})
	}
	if err != nil {
		return QuoteResult{}, err
	}
	out := QuoteResult{
		Side:      req.Side,
		Token:     req.Token.Address.Hex(),
		AmountIn:  model.BigString(req.Amount),
		QuotedOut: model.BigString(rt.QuotedOut),
		MinOut:    model.BigStringZero(rt.MinOut),
		Target:    rt.Target.Hex(),
		Legs:      rt.Legs,
	}
	if rt.Spender != (common.Address{}) {
		out.Spender = rt.Spender.Hex()
	}
	return out, nil
}
