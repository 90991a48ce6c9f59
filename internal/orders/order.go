// Package orders keeps price-triggered buy and sell orders and executes them
// when a scan or tick crosses their trigger.
package orders

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/ggonzalez94/bsc-trader/internal/config"
	clierr "github.com/ggonzalez94/bsc-trader/internal/errors"
	"github.com/ggonzalez94/bsc-trader/internal/model"
)

// pricePrecision is the number of decimal places kept on trigger and peak prices.
const pricePrecision = 18

type Side string

type Type string

type Status string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

const (
	TypeLowBuy       Type = "low_buy"
	TypeHighBuy      Type = "high_buy"
	TypeTakeProfit   Type = "take_profit_sell"
	TypeStopLoss     Type = "stop_loss_sell"
	TypeTrailingStop Type = "trailing_stop_sell"
)

const (
	StatusOpen      Status = "open"
	StatusTriggered Status = "triggered"
	StatusExecuted  Status = "executed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

type (
	AutoSellConfig = config.AutoSellConfig
	AutoSellRule   = config.AutoSellRule
	TrailingConfig = config.TrailingConfig
)

const (
	ActivationImmediate        = "immediate"
	ActivationAfterFirstProfit = "after_first_take_profit"
	ActivationAfterLastProfit  = "after_last_take_profit"
)

// TrailingSpec describes a trailing stop to open once the carrying
// take-profit order executes.
type TrailingSpec struct {
	CallbackBps int `json:"callback_bps"`
	PercentBps  int `json:"percent_bps"`
}

type Order struct {
	ID            string          `json:"id"`
	ChainID       int64           `json:"chain_id"`
	Token         common.Address  `json:"token"`
	Side          Side            `json:"side"`
	Type          Type            `json:"type"`
	TriggerPrice  decimal.Decimal `json:"trigger_price"`
	Amount        string          `json:"amount,omitempty"`
	PercentBps    int             `json:"percent_bps,omitempty"`
	CallbackBps   int             `json:"callback_bps,omitempty"`
	PeakPrice     decimal.Decimal `json:"peak_price"`
	Status        Status          `json:"status"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	LastError     string          `json:"last_error,omitempty"`
	RawError      string          `json:"raw_error,omitempty"`
	TxHash        string          `json:"tx_hash,omitempty"`
	ParentID      string          `json:"parent_id,omitempty"`
	SpawnTrailing *TrailingSpec   `json:"spawn_trailing,omitempty"`
	EntryPrice    decimal.Decimal `json:"entry_price"`
	TokenMeta     model.TokenRef  `json:"token_meta"`
}

func (o Order) Open() bool { return o.Status == StatusOpen }

// Fires reports whether price crosses the order's trigger.
func (o Order) Fires(price decimal.Decimal) bool {
	switch o.Type {
	case TypeHighBuy, TypeTakeProfit:
		return price.GreaterThanOrEqual(o.TriggerPrice)
	case TypeLowBuy, TypeStopLoss, TypeTrailingStop:
		return price.LessThanOrEqual(o.TriggerPrice)
	default:
		return false
	}
}

// trailingTrigger is peak × (1 − callbackBps/10000).
func trailingTrigger(peak decimal.Decimal, callbackBps int) decimal.Decimal {
	keep := decimal.NewFromInt(int64(10_000 - callbackBps)).Div(decimal.NewFromInt(10_000))
	return normalizePrice(peak.Mul(keep))
}

// updateTrailing raises the peak and re-derives the trigger. It reports
// whether the order changed enough to persist.
func (o *Order) updateTrailing(price decimal.Decimal) bool {
	if o.Type != TypeTrailingStop {
		return false
	}
	peakMoved := price.GreaterThan(o.PeakPrice)
	if peakMoved {
		o.PeakPrice = normalizePrice(price)
	}
	next := trailingTrigger(o.PeakPrice, o.CallbackBps)
	changed := peakMoved
	if o.TriggerPrice.IsZero() {
		changed = changed || !next.IsZero()
	} else {
		delta := next.Sub(o.TriggerPrice).Abs().Div(o.TriggerPrice)
		changed = changed || delta.GreaterThan(decimal.New(1, -6))
	}
	if changed {
		o.TriggerPrice = next
	}
	return changed
}

func normalizePrice(d decimal.Decimal) decimal.Decimal {
	return d.Truncate(pricePrecision)
}

func SideOf(t Type) (Side, bool) {
	switch t {
	case TypeLowBuy, TypeHighBuy:
		return SideBuy, true
	case TypeTakeProfit, TypeStopLoss, TypeTrailingStop:
		return SideSell, true
	default:
		return "", false
	}
}

func NewOrderID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "order-unknown"
	}
	return "ord_" + hex.EncodeToString(b)
}

type CreateInput struct {
	ChainID int64
	Token   model.TokenRef
	// Side is optional; when set it must agree with Type.
	Side         Side
	Type         Type
	TriggerPrice decimal.Decimal
	Amount       string
	PercentBps   int
	CallbackBps  int
	// ReferencePrice seeds the peak of a trailing stop.
	ReferencePrice decimal.Decimal
	EntryPrice     decimal.Decimal
	ParentID       string
	SpawnTrailing  *TrailingSpec
}

func buildOrder(in CreateInput, now time.Time) (Order, error) {
	side, ok := SideOf(in.Type)
	if !ok {
		return Order{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("unknown order type %q", in.Type))
	}
	if in.Side != "" && in.Side != side {
		return Order{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("order type %s is a %s order, not %s", in.Type, side, in.Side))
	}
	if in.Token.Address == (common.Address{}) {
		return Order{}, clierr.New(clierr.CodeUsage, "order token is required")
	}
	amount := strings.TrimSpace(in.Amount)
	switch {
	case amount != "" && in.PercentBps != 0:
		return Order{}, clierr.New(clierr.CodeUsage, "set either amount or percent, not both")
	case amount != "":
		n, ok := new(big.Int).SetString(amount, 10)
		if !ok || n.Sign() <= 0 {
			return Order{}, clierr.New(clierr.CodeUsage, "amount must be a positive integer in base units")
		}
		amount = n.String()
	case in.PercentBps < 1 || in.PercentBps > 10_000:
		return Order{}, clierr.New(clierr.CodeUsage, "percent must be between 1 and 10000 bps")
	}
	if in.SpawnTrailing != nil && in.Type != TypeTakeProfit {
		return Order{}, clierr.New(clierr.CodeUsage, "only take-profit orders can spawn a trailing stop")
	}

	chainID := in.ChainID
	if chainID == 0 {
		chainID = in.Token.ChainID
	}
	order := Order{
		ID:            NewOrderID(),
		ChainID:       chainID,
		Token:         in.Token.Address,
		Side:          side,
		Type:          in.Type,
		Amount:        amount,
		PercentBps:    in.PercentBps,
		Status:        StatusOpen,
		CreatedAt:     now,
		UpdatedAt:     now,
		ParentID:      in.ParentID,
		SpawnTrailing: in.SpawnTrailing,
		EntryPrice:    normalizePrice(in.EntryPrice),
		TokenMeta:     in.Token,
	}
	if in.Type == TypeTrailingStop {
		if in.CallbackBps < 1 || in.CallbackBps > 9_999 {
			return Order{}, clierr.New(clierr.CodeUsage, "trailing callback must be between 1 and 9999 bps")
		}
		if !in.ReferencePrice.IsPositive() {
			return Order{}, clierr.New(clierr.CodeUsage, "trailing stop needs a positive reference price")
		}
		order.CallbackBps = in.CallbackBps
		order.PeakPrice = normalizePrice(in.ReferencePrice)
		order.TriggerPrice = trailingTrigger(order.PeakPrice, order.CallbackBps)
		return order, nil
	}
	trigger := normalizePrice(in.TriggerPrice)
	if !trigger.IsPositive() {
		return Order{}, clierr.New(clierr.CodeUsage, "trigger price must be positive")
	}
	order.TriggerPrice = trigger
	return order, nil
}
