package orders

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/ggonzalez94/bsc-trader/internal/model"
)

const (
	ruleTakeProfit = "take_profit"
	ruleStopLoss   = "stop_loss"
)

var hundred = decimal.NewFromInt(100)

// Cascade opens the configured auto-sell orders for a position bought at fill.
// parentID links them to the buy that caused them; it may be empty for
// manual buys.
func (e *Engine) Cascade(ctx context.Context, token model.TokenRef, fill decimal.Decimal, parentID string) ([]Order, error) {
	cfg := e.config.AutoSell
	if !cfg.Enabled || !fill.IsPositive() {
		return nil, nil
	}
	fill = normalizePrice(fill)
	base := CreateInput{ChainID: token.ChainID, Token: token, EntryPrice: fill, ParentID: parentID}

	var inputs []CreateInput
	var takeProfits []int
	for _, rule := range cfg.Rules {
		in := base
		in.PercentBps = percentToBps(rule.SellPercent)
		offset := rule.TriggerPercent.Div(hundred)
		switch rule.Kind {
		case ruleTakeProfit:
			in.Type = TypeTakeProfit
			in.TriggerPrice = fill.Mul(decimal.NewFromInt(1).Add(offset))
			takeProfits = append(takeProfits, len(inputs))
		case ruleStopLoss:
			in.Type = TypeStopLoss
			in.TriggerPrice = fill.Mul(decimal.NewFromInt(1).Sub(offset))
		default:
			e.logger.WithField("kind", rule.Kind).Warn("skipping unknown auto-sell rule")
			continue
		}
		inputs = append(inputs, in)
	}

	if tr := cfg.Trailing; tr != nil {
		spec := TrailingSpec{CallbackBps: percentToBps(tr.CallbackPercent), PercentBps: 10_000}
		carrier := -1
		switch tr.Activation {
		case ActivationAfterFirstProfit:
			if len(takeProfits) > 0 {
				carrier = takeProfits[0]
			}
		case ActivationAfterLastProfit:
			if len(takeProfits) > 0 {
				carrier = takeProfits[len(takeProfits)-1]
			}
		}
		if carrier >= 0 {
			inputs[carrier].SpawnTrailing = &spec
		} else {
			in := base
			in.Type = TypeTrailingStop
			in.CallbackBps = spec.CallbackBps
			in.PercentBps = spec.PercentBps
			in.ReferencePrice = fill
			inputs = append(inputs, in)
		}
	}
	if len(inputs) == 0 {
		return nil, nil
	}
	return e.createMany(ctx, inputs)
}

// percentToBps converts a percentage such as 12.5 into basis points, clamped
// to 1..10000.
func percentToBps(pct decimal.Decimal) int {
	bps := pct.Mul(hundred).Round(0).IntPart()
	switch {
	case bps < 1:
		return 1
	case bps > 10_000:
		return 10_000
	default:
		return int(bps)
	}
}
