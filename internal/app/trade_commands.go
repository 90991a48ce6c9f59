package app

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	clierr "github.com/ggonzalez94/bsc-trader/internal/errors"
	"github.com/ggonzalez94/bsc-trader/internal/id"
	"github.com/ggonzalez94/bsc-trader/internal/model"
	"github.com/ggonzalez94/bsc-trader/internal/orders"
	"github.com/ggonzalez94/bsc-trader/internal/schema"
	"github.com/ggonzalez94/bsc-trader/internal/trade"
)

const nativeDecimals = 18

var broadcasts = map[string]string{schema.AnnotationBroadcasts: "true"}

type tokenArgs struct {
	token   string
	pool    string
	refresh bool
}

func (a *tokenArgs) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&a.token, "token", "", "Token address")
	cmd.Flags().StringVar(&a.pool, "pool", "", "Pool address hint for routing")
	cmd.Flags().BoolVar(&a.refresh, "refresh", false, "Re-read token metadata instead of using the cache")
	_ = cmd.MarkFlagRequired("token")
}

type sizeArgs struct {
	amount        string
	amountDecimal string
	percentBps    int64
}

func (a *sizeArgs) bind(cmd *cobra.Command, unit string) {
	cmd.Flags().StringVar(&a.amount, "amount", "", "Amount in base units of "+unit)
	cmd.Flags().StringVar(&a.amountDecimal, "amount-decimal", "", "Amount in whole units of "+unit+" (e.g. 0.5)")
	cmd.Flags().Int64Var(&a.percentBps, "percent-bps", 0, "Size as basis points of the current balance")
}

// resolve returns either an amount or a percent in basis points.
func (a sizeArgs) resolve(decimals int) (*big.Int, int, error) {
	if a.percentBps != 0 {
		if a.amount != "" || a.amountDecimal != "" {
			return nil, 0, clierr.New(clierr.CodeUsage, "use either an amount or --percent-bps, not both")
		}
		bps, err := id.ParsePercentBps(a.percentBps, "--percent-bps")
		if err != nil {
			return nil, 0, err
		}
		return nil, int(bps), nil
	}
	base, _, err := id.NormalizeAmount(a.amount, a.amountDecimal, decimals)
	if err != nil {
		return nil, 0, err
	}
	amount, err := id.ParseBaseUnits(base, "amount")
	if err != nil {
		return nil, 0, err
	}
	return amount, 0, nil
}

type buyOutput struct {
	trade.Result
	AutoSell []orders.Order `json:"auto_sell_orders,omitempty"`
}

func (s *runtimeState) newBuyCommand() *cobra.Command {
	var tok tokenArgs
	var size sizeArgs
	var noWait, noAutoSell bool
	cmd := &cobra.Command{
		Use:         "buy",
		Annotations: broadcasts,
		Short:       "Buy a token with native BNB",
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, percent, err := size.resolve(nativeDecimals)
			if err != nil {
				return err
			}
			ctx, cancel := s.commandContext()
			defer cancel()
			ref, err := s.services.resolveToken(ctx, tok.token, tok.refresh, tok.pool)
			if err != nil {
				return err
			}
			engine, err := s.services.tradeEngine(ctx)
			if err != nil {
				return err
			}
			res, err := engine.Buy(ctx, trade.BuyRequest{
				Token:      ref,
				AmountIn:   amount,
				PercentBps: percent,
				Wait:       !noWait,
			})
			if err != nil {
				return err
			}
			output := buyOutput{Result: res}
			var warnings []string
			if s.settings.AutoSell.Enabled && !noAutoSell && res.Status == "confirmed" {
				created, err := s.cascadeAfterBuy(ctx, ref, res.TradeID)
				if err != nil {
					warnings = append(warnings, "auto-sell orders not created: "+clierr.Reason(err))
				}
				output.AutoSell = created
			}
			s.captureCommandDiagnostics(warnings)
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), output, warnings, nil)
		},
	}
	tok.bind(cmd)
	size.bind(cmd, "BNB")
	cmd.Flags().BoolVar(&noWait, "no-wait", false, "Return after broadcast without waiting for the receipt")
	cmd.Flags().BoolVar(&noAutoSell, "no-auto-sell", false, "Skip the configured auto-sell orders for this buy")
	return cmd
}

// cascadeAfterBuy prices the token now and opens the configured auto-sell orders.
func (s *runtimeState) cascadeAfterBuy(ctx context.Context, ref model.TokenRef, tradeID string) ([]orders.Order, error) {
	prices, err := s.services.priceSource(ctx)
	if err != nil {
		return nil, err
	}
	fill, err := prices.USDPrice(ctx, ref)
	if err != nil {
		return nil, err
	}
	book, err := s.services.bookEngine()
	if err != nil {
		return nil, err
	}
	return book.Cascade(ctx, ref, fill, tradeID)
}

func (s *runtimeState) newSellCommand() *cobra.Command {
	var tok tokenArgs
	var size sizeArgs
	var noWait bool
	cmd := &cobra.Command{
		Use:         "sell",
		Annotations: broadcasts,
		Short:       "Sell a token for native BNB",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := s.commandContext()
			defer cancel()
			ref, err := s.services.resolveToken(ctx, tok.token, tok.refresh, tok.pool)
			if err != nil {
				return err
			}
			amount, percent, err := size.resolve(int(ref.Decimals))
			if err != nil {
				return err
			}
			engine, err := s.services.tradeEngine(ctx)
			if err != nil {
				return err
			}
			res, err := engine.Sell(ctx, trade.SellRequest{
				Token:      ref,
				Amount:     amount,
				PercentBps: percent,
				Wait:       !noWait,
			})
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), res, nil, nil)
		},
	}
	tok.bind(cmd)
	size.bind(cmd, "the token")
	cmd.Flags().BoolVar(&noWait, "no-wait", false, "Return after broadcast without waiting for the receipt")
	return cmd
}

func (s *runtimeState) newApproveCommand() *cobra.Command {
	var tok tokenArgs
	cmd := &cobra.Command{
		Use:         "approve",
		Annotations: broadcasts,
		Short:       "Approve the token's router or launchpad if the allowance is short",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := s.commandContext()
			defer cancel()
			ref, err := s.services.resolveToken(ctx, tok.token, tok.refresh, tok.pool)
			if err != nil {
				return err
			}
			engine, err := s.services.tradeEngine(ctx)
			if err != nil {
				return err
			}
			res, err := engine.ApproveIfNeeded(ctx, ref)
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), res, nil, nil)
		},
	}
	tok.bind(cmd)
	return cmd
}

func (s *runtimeState) newQuoteCommand() *cobra.Command {
	var tok tokenArgs
	var side, amount, amountDecimal string
	cmd := &cobra.Command{
		Use:   "quote",
		Short: "Build the best route for a buy or sell without sending it",
		RunE: func(cmd *cobra.Command, args []string) error {
			side = strings.ToLower(strings.TrimSpace(side))
			if side != "buy" && side != "sell" {
				return clierr.New(clierr.CodeUsage, "--side must be buy or sell")
			}
			ctx, cancel := s.commandContext()
			defer cancel()
			ref, err := s.services.resolveToken(ctx, tok.token, tok.refresh, tok.pool)
			if err != nil {
				return err
			}
			decimals := nativeDecimals
			if side == "sell" {
				decimals = int(ref.Decimals)
			}
			size := sizeArgs{amount: amount, amountDecimal: amountDecimal}
			amountIn, _, err := size.resolve(decimals)
			if err != nil {
				return err
			}
			engine, err := s.services.quoteEngine(ctx)
			if err != nil {
				return err
			}
			res, err := engine.Quote(ctx, trade.QuoteRequest{
				Token:  ref,
				Side:   side,
				Amount: amountIn,
			})
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), res, nil, nil)
		},
	}
	tok.bind(cmd)
	cmd.Flags().StringVar(&side, "side", "buy", "buy or sell")
	cmd.Flags().StringVar(&amount, "amount", "", "Input amount in base units")
	cmd.Flags().StringVar(&amountDecimal, "amount-decimal", "", "Input amount in whole units")
	return cmd
}

func parseTokenAddress(raw string) (common.Address, error) {
	return parseAddressField(raw, "--token")
}

func parseAddressField(raw, field string) (common.Address, error) {
	addr, err := id.ParseAddress(raw, field)
	if err != nil {
		return common.Address{}, err
	}
	return addr, nil
}

func parseOptionalAddress(raw, field string) (*common.Address, error) {
	return id.ParseOptionalAddress(raw, field)
}
