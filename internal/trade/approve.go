package trade

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"

	"github.com/ggonzalez94/bsc-trader/internal/chain"
	clierr "github.com/ggonzalez94/bsc-trader/internal/errors"
	"github.com/ggonzalez94/bsc-trader/internal/execution"
	"github.com/ggonzalez94/bsc-trader/internal/model"
)

// approvalFloor is the allowance below which an unsized approval is renewed.
var approvalFloor = new(big.Int).Rsh(math.MaxBig256, 1)

type ApproveResult struct {
	TradeID   string `json:"trade_id,omitempty"`
	Token     string `json:"token"`
	Spender   string `json:"spender"`
	TxHash    string `json:"tx_hash,omitempty"`
	Channel   string `json:"channel,omitempty"`
	Allowance string `json:"allowance"`
	Skipped   bool   `json:"skipped"`
	Confirmed bool   `json:"confirmed,omitempty"`
}

// ApproveIfNeeded grants the token's route spender an unlimited allowance
// unless one is already in place. TxHash is empty when nothing was sent.
func (e *Engine) ApproveIfNeeded(ctx context.Context, token model.TokenRef) (ApproveResult, error) {
	spender, err := e.builder.Spender(token)
	if err != nil {
		return ApproveResult{}, err
	}
	return e.approve(ctx, token, spender, nil, true)
}

// approve checks allowance(owner, spender) against need, or against a
// half-max floor when need is nil, and sends approve(spender, max) if short.
func (e *Engine) approve(ctx context.Context, token model.TokenRef, spender common.Address, need *big.Int, wait bool) (ApproveResult, error) {
	if token.Address == (common.Address{}) {
		return ApproveResult{}, clierr.New(clierr.CodeUsage, "native coin needs no approval")
	}
	owner := e.sender.From()
	res := ApproveResult{Token: token.Address.Hex(), Spender: spender.Hex()}
	out, err := chain.Call(ctx, e.chain, token.Address, erc20ABI, "allowance", owner, spender)
	if err != nil {
		return res, clierr.Wrap(clierr.CodeUnavailable, "read allowance", err)
	}
	allowance, err := chain.BigAt(out, 0)
	if err != nil {
		return res, clierr.Wrap(clierr.CodeUnavailable, "decode allowance", err)
	}
	res.Allowance = allowance.String()
	floor := need
	if floor == nil {
		floor = approvalFloor
	}
	if allowance.Cmp(floor) >= 0 {
		res.Skipped = true
		return res, nil
	}

	data, err := erc20ABI.Pack("approve", spender, math.MaxBig256)
	if err != nil {
		return res, clierr.Wrap(clierr.CodeInternal, "pack approval calldata", err)
	}
	trade := execution.NewTrade(execution.IntentApprove, e.config.ChainID, token.Address)
	trade.From = owner.Hex()
	trade.Symbol = token.Symbol
	trade.Steps = append(trade.Steps, execution.TradeStep{
		StepID:      "approve-1",
		Type:        execution.StepTypeApproval,
		Status:      execution.StepStatusPending,
		Description: "approve " + displaySymbol(token) + " for " + spender.Hex(),
		Target:      token.Address.Hex(),
		Data:        "0x" + common.Bytes2Hex(data),
		Value:       "0",
	})
	res.TradeID = trade.TradeID

	tx := execution.TxRequest{To: token.Address, Data: data}
	sent, err := e.sender.Send(ctx, tx)
	if err != nil {
		return res, e.fail(&trade, err)
	}
	trade.Submitted(0, sent)
	res.TxHash = sent.Hash.Hex()
	res.Channel = sent.Channel
	e.logger.WithField("token", token.Address.Hex()).WithField("spender", spender.Hex()).WithField("tx", res.TxHash).Info("approval submitted")

	if wait {
		if _, err := execution.WaitReceipt(ctx, e.chain, sent.Hash, e.config.ReceiptPoll, e.config.ReceiptTimeout); err != nil {
			return res, e.fail(&trade, err)
		}
		res.Confirmed = true
		trade.Steps[0].Status = execution.StepStatusConfirmed
		trade.Status = execution.TradeStatusCompleted
		trade.Touch()
	}
	if err := e.journal.Save(trade); err != nil {
		e.logger.WithError(err).Warn("journal write failed")
	}
	return res, nil
}
