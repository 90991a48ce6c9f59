// Package trade runs buys, sells and approvals end to end: route, send,
// wait, diagnose and journal.
package trade

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/sirupsen/logrus"

	"github.com/ggonzalez94/bsc-trader/internal/chain"
	"github.com/ggonzalez94/bsc-trader/internal/diagnose"
	clierr "github.com/ggonzalez94/bsc-trader/internal/errors"
	"github.com/ggonzalez94/bsc-trader/internal/execution"
	"github.com/ggonzalez94/bsc-trader/internal/model"
	"github.com/ggonzalez94/bsc-trader/internal/registry"
	"github.com/ggonzalez94/bsc-trader/internal/route"
)

var erc20ABI = chain.MustABI(registry.ERC20ABI)

// nativeGasReserve is left in the wallet when a buy is sized from the whole
// native balance.
var nativeGasReserve = big.NewInt(2_000_000_000_000_000)

type Chain interface {
	chain.Reader
	execution.ReceiptSource
}

type RouteBuilder interface {
	BuildBuyRoute(ctx context.Context, intent route.BuyIntent) (route.Route, error)
	BuildSellRoute(ctx context.Context, intent route.SellIntent) (route.Route, error)
	Spender(token model.TokenRef) (common.Address, error)
}

type Sender interface {
	Send(ctx context.Context, req execution.TxRequest) (execution.BroadcastResult, error)
	From() common.Address
}

type Config struct {
	ChainID        int64
	SlippageBps    int64
	Turbo          bool
	ReceiptPoll    time.Duration
	ReceiptTimeout time.Duration
}

type Engine struct {
	chain   Chain
	builder RouteBuilder
	sender  Sender
	journal *execution.Journal
	config  Config
	logger  logrus.FieldLogger
}

// New wires an engine. journal may be nil to skip recording.
func New(client Chain, builder RouteBuilder, sender Sender, journal *execution.Journal, config Config, logger logrus.FieldLogger) *Engine {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Engine{
		chain:   client,
		builder: builder,
		sender:  sender,
		journal: journal,
		config:  config,
		logger:  logger.WithField("component", "trade").WithField("chain", config.ChainID),
	}
}

type BuyRequest struct {
	Token model.TokenRef
	// Exactly one of AmountIn (wei) or PercentBps of the native balance.
	AmountIn    *big.Int
	PercentBps  int
	SlippageBps int64
	Turbo       bool
	// Wait blocks until the receipt is mined.
	Wait    bool
	OrderID string
}

type SellRequest struct {
	Token model.TokenRef
	// Exactly one of Amount (token base units) or PercentBps of the token balance.
	Amount      *big.Int
	PercentBps  int
	SlippageBps int64
	Turbo       bool
	Wait        bool
	OrderID     string
}

type Result struct {
	TradeID   string          `json:"trade_id"`
	TxHash    string          `json:"tx_hash"`
	Channel   string          `json:"channel"`
	AmountIn  string          `json:"amount_in"`
	QuotedOut string          `json:"quoted_out,omitempty"`
	MinOut    string          `json:"min_out"`
	Legs      []model.SwapLeg `json:"legs"`
	Approval  *ApproveResult  `json:"approval,omitempty"`
	Status    string          `json:"status"`
	Block     uint64          `json:"block,omitempty"`
}

func (e *Engine) slippage(v int64) int64 {
	if v > 0 {
		return v
	}
	return e.config.SlippageBps
}

func (e *Engine) Buy(ctx context.Context, req BuyRequest) (Result, error) {
	from := e.sender.From()
	amountIn, err := e.sizeBuy(ctx, req, from)
	if err != nil {
		return Result{}, err
	}
	turbo := req.Turbo || e.config.Turbo
	trade := execution.NewTrade(execution.IntentBuy, e.config.ChainID, req.Token.Address)
	trade.From = from.Hex()
	trade.Symbol = req.Token.Symbol
	trade.AmountIn = amountIn.String()
	trade.SlippageBps = e.slippage(req.SlippageBps)
	trade.Turbo = turbo
	trade.OrderID = req.OrderID

	rt, err := e.builder.BuildBuyRoute(ctx, route.BuyIntent{
		Token:       req.Token,
		AmountIn:    amountIn,
		Recipient:   from,
		SlippageBps: trade.SlippageBps,
		Turbo:       turbo,
	})
	if err != nil {
		return Result{}, e.fail(&trade, err)
	}
	e.describeRoute(&trade, rt)
	return e.execute(ctx, &trade, rt, turbo, req.Wait, nil)
}

func (e *Engine) Sell(ctx context.Context, req SellRequest) (Result, error) {
	from := e.sender.From()
	amount, percentSized, err := e.sizeSell(ctx, req, from)
	if err != nil {
		return Result{}, err
	}
	turbo := req.Turbo || e.config.Turbo
	trade := execution.NewTrade(execution.IntentSell, e.config.ChainID, req.Token.Address)
	trade.From = from.Hex()
	trade.Symbol = req.Token.Symbol
	trade.AmountIn = amount.String()
	trade.SlippageBps = e.slippage(req.SlippageBps)
	trade.Turbo = turbo
	trade.OrderID = req.OrderID

	rt, err := e.builder.BuildSellRoute(ctx, route.SellIntent{
		Token:        req.Token,
		AmountIn:     amount,
		Recipient:    from,
		SlippageBps:  trade.SlippageBps,
		Turbo:        turbo,
		PercentSized: percentSized,
	})
	if err != nil {
		return Result{}, e.fail(&trade, err)
	}

	// turbo sends the swap right behind the approval instead of waiting for it
	approval, err := e.approve(ctx, req.Token, rt.Spender, amount, !turbo)
	if err != nil {
		return Result{}, e.fail(&trade, err)
	}
	if approval.TxHash != "" {
		trade.Steps = append(trade.Steps, execution.TradeStep{
			StepID:      "approve-1",
			Type:        execution.StepTypeApproval,
			Status:      execution.StepStatusSubmitted,
			Description: "approve " + approval.Spender,
			Target:      req.Token.Address.Hex(),
			TxHash:      approval.TxHash,
			Channel:     approval.Channel,
		})
		if approval.Confirmed {
			trade.Steps[0].Status = execution.StepStatusConfirmed
		}
	}
	e.describeRoute(&trade, rt)
	return e.execute(ctx, &trade, rt, turbo, req.Wait, &approval)
}

func (e *Engine) sizeBuy(ctx context.Context, req BuyRequest, from common.Address) (*big.Int, error) {
	switch {
	case req.AmountIn != nil && req.PercentBps != 0:
		return nil, clierr.New(clierr.CodeUsage, "use either an amount or a percent, not both")
	case req.AmountIn != nil:
		if req.AmountIn.Sign() <= 0 {
			return nil, clierr.New(clierr.CodeUsage, "buy amount must be positive")
		}
		return req.AmountIn, nil
	}
	if err := checkPercent(req.PercentBps); err != nil {
		return nil, err
	}
	balance, err := e.chain.BalanceAt(ctx, from, nil)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "read native balance", err)
	}
	amount := percentOf(balance, req.PercentBps)
	if spendable := new(big.Int).Sub(balance, nativeGasReserve); amount.Cmp(spendable) > 0 {
		amount = spendable
	}
	if amount.Sign() <= 0 {
		return nil, clierr.New(clierr.CodeInsufficient, "insufficient native balance for buy")
	}
	return amount, nil
}

func (e *Engine) sizeSell(ctx context.Context, req SellRequest, from common.Address) (*big.Int, bool, error) {
	switch {
	case req.Amount != nil && req.PercentBps != 0:
		return nil, false, clierr.New(clierr.CodeUsage, "use either an amount or a percent, not both")
	case req.Amount != nil:
		if req.Amount.Sign() <= 0 {
			return nil, false, clierr.New(clierr.CodeUsage, "sell amount must be positive")
		}
		return req.Amount, false, nil
	}
	if err := checkPercent(req.PercentBps); err != nil {
		return nil, false, err
	}
	balance, err := e.TokenBalance(ctx, req.Token.Address, from)
	if err != nil {
		return nil, false, err
	}
	amount := percentOf(balance, req.PercentBps)
	if amount.Sign() <= 0 {
		return nil, false, clierr.New(clierr.CodeInsufficient, fmt.Sprintf("no %s balance to sell", displaySymbol(req.Token)))
	}
	return amount, true, nil
}

// TokenBalance reads the ERC20 balance of owner.
func (e *Engine) TokenBalance(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	out, err := chain.Call(ctx, e.chain, token, erc20ABI, "balanceOf", owner)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "read token balance", err)
	}
	return chain.BigAt(out, 0)
}

func checkPercent(bps int) error {
	if bps < 1 || bps > 10_000 {
		return clierr.New(clierr.CodeUsage, "percent must be between 1 and 10000 bps")
	}
	return nil
}

func percentOf(v *big.Int, bps int) *big.Int {
	out := new(big.Int).Mul(v, big.NewInt(int64(bps)))
	return out.Quo(out, big.NewInt(10_000))
}

func displaySymbol(t model.TokenRef) string {
	if t.Symbol != "" {
		return t.Symbol
	}
	return t.Address.Hex()
}

func (e *Engine) describeRoute(trade *execution.Trade, rt route.Route) {
	trade.MinOut = model.BigStringZero(rt.MinOut)
	trade.QuotedOut = model.BigString(rt.QuotedOut)
	for _, leg := range rt.Legs {
		trade.Venues = append(trade.Venues, string(leg.Venue))
	}
	trade.Steps = append(trade.Steps, execution.TradeStep{
		StepID: "swap-1",
		Type:   execution.StepTypeSwap,
		Status: execution.StepStatusPending,
		Target: rt.Target.Hex(),
		Data:   "0x" + common.Bytes2Hex(rt.Calldata),
		Value:  model.BigStringZero(rt.Value),
	})
}

// execute sends the route transaction and optionally waits for it.
func (e *Engine) execute(ctx context.Context, trade *execution.Trade, rt route.Route, turbo, wait bool, approval *ApproveResult) (Result, error) {
	if err := e.journal.Save(*trade); err != nil {
		e.logger.WithError(err).Warn("journal write failed")
	}
	tx := execution.TxRequest{To: rt.Target, Data: rt.Calldata, Value: rt.Value, FastPath: turbo}
	res, err := e.sender.Send(ctx, tx)
	if err != nil {
		return Result{}, e.fail(trade, e.explain(ctx, tx, err, nil))
	}
	step := len(trade.Steps) - 1
	trade.Submitted(step, res)

	out := Result{
		TradeID:   trade.TradeID,
		TxHash:    res.Hash.Hex(),
		Channel:   res.Channel,
		AmountIn:  trade.AmountIn,
		QuotedOut: trade.QuotedOut,
		MinOut:    trade.MinOut,
		Legs:      rt.Legs,
		Status:    string(execution.StepStatusSubmitted),
	}
	if approval != nil && approval.TxHash != "" {
		out.Approval = approval
	}
	e.logger.WithField("trade", trade.TradeID).WithField("tx", out.TxHash).WithField("channel", res.Channel).Info("trade submitted")

	if wait {
		receipt, err := execution.WaitReceipt(ctx, e.chain, res.Hash, e.config.ReceiptPoll, e.config.ReceiptTimeout)
		if err != nil {
			if receipt != nil {
				err = e.explain(ctx, tx, err, receipt)
			}
			return out, e.fail(trade, err)
		}
		out.Status = string(execution.StepStatusConfirmed)
		out.Block = receipt.BlockNumber.Uint64()
		trade.Steps[step].Status = execution.StepStatusConfirmed
		trade.Status = execution.TradeStatusCompleted
		trade.Touch()
	}
	if err := e.journal.Save(*trade); err != nil {
		e.logger.WithError(err).Warn("journal write failed")
	}
	return out, nil
}

// explain turns a send or on-chain failure into the best reason available.
// A mined revert is replayed at its block to recover the revert data; an
// estimate failure gets an allowance and balance preflight.
func (e *Engine) explain(ctx context.Context, tx execution.TxRequest, err error, receipt *types.Receipt) error {
	var block *big.Int
	if receipt != nil && receipt.BlockNumber != nil {
		block = new(big.Int).Sub(receipt.BlockNumber, common.Big1)
		to := tx.To
		if _, replayErr := e.chain.CallContract(ctx, ethereum.CallMsg{From: e.sender.From(), To: &to, Data: tx.Data, Value: tx.Value}, block); replayErr != nil {
			if reason, ok := diagnose.Diagnose(replayErr); ok {
				return clierr.Wrap(clierr.CodeReverted, reason, fmt.Errorf("%w; replay: %w", err, replayErr))
			}
		}
	}
	if !clierr.Is(err, clierr.CodeReverted) {
		return err
	}
	finding, ok := diagnose.Preflight(ctx, e.chain, diagnose.TxView{To: tx.To, Data: tx.Data, Value: tx.Value}, e.sender.From(), block)
	if ok {
		return clierr.Wrap(clierr.CodeInsufficient, finding.Message, err)
	}
	return err
}

func (e *Engine) fail(trade *execution.Trade, err error) error {
	trade.Fail(diagnose.Reason(err, clierr.Reason(err)))
	if jerr := e.journal.Save(*trade); jerr != nil {
		e.logger.WithError(jerr).Warn("journal write failed")
	}
	e.logger.WithField("trade", trade.TradeID).WithError(err).Warn("trade failed")
	return err
}
