package app

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	clierr "github.com/ggonzalez94/bsc-trader/internal/errors"
	"github.com/ggonzalez94/bsc-trader/internal/id"
	"github.com/ggonzalez94/bsc-trader/internal/orders"
)

func (s *runtimeState) newOrdersCommand() *cobra.Command {
	root := &cobra.Command{Use: "orders", Short: "Price-triggered limit orders"}
	root.AddCommand(s.newOrdersCreateCommand())
	root.AddCommand(s.newOrdersCancelCommand())
	root.AddCommand(s.newOrdersListCommand())
	root.AddCommand(s.newOrdersTickCommand())
	root.AddCommand(s.newOrdersWatchCommand())
	return root
}

func parsePrice(raw, field string) (decimal.Decimal, error) {
	if strings.TrimSpace(raw) == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil || !d.IsPositive() {
		return decimal.Zero, clierr.New(clierr.CodeUsage, field+" must be a positive decimal")
	}
	return d, nil
}

func (s *runtimeState) newOrdersCreateCommand() *cobra.Command {
	var tok tokenArgs
	var orderType, trigger, amount, reference, entry string
	var percentBps, callbackBps int64
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a limit order (low_buy, high_buy, take_profit_sell, stop_loss_sell, trailing_stop_sell)",
		RunE: func(cmd *cobra.Command, args []string) error {
			typ := orders.Type(strings.ToLower(strings.TrimSpace(orderType)))
			if _, ok := orders.SideOf(typ); !ok {
				return clierr.New(clierr.CodeUsage, "unknown --type "+orderType)
			}
			triggerPrice, err := parsePrice(trigger, "--trigger-price")
			if err != nil {
				return err
			}
			referencePrice, err := parsePrice(reference, "--reference-price")
			if err != nil {
				return err
			}
			entryPrice, err := parsePrice(entry, "--entry-price")
			if err != nil {
				return err
			}
			if amount != "" {
				if _, err := id.ParseBaseUnits(amount, "--amount"); err != nil {
					return err
				}
			}

			ctx, cancel := s.commandContext()
			defer cancel()
			ref, err := s.services.resolveToken(ctx, tok.token, tok.refresh, tok.pool)
			if err != nil {
				return err
			}
			if typ == orders.TypeTrailingStop && referencePrice.IsZero() {
				prices, err := s.services.priceSource(ctx)
				if err != nil {
					return err
				}
				if referencePrice, err = prices.USDPrice(ctx, ref); err != nil {
					return clierr.Wrap(clierr.CodeUnavailable, "price token for trailing reference", err)
				}
			}
			book, err := s.services.bookEngine()
			if err != nil {
				return err
			}
			order, err := book.Create(ctx, orders.CreateInput{
				ChainID:        s.settings.ChainID,
				Token:          ref,
				Type:           typ,
				TriggerPrice:   triggerPrice,
				Amount:         amount,
				PercentBps:     int(percentBps),
				CallbackBps:    int(callbackBps),
				ReferencePrice: referencePrice,
				EntryPrice:     entryPrice,
			})
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), order, nil, nil)
		},
	}
	tok.bind(cmd)
	cmd.Flags().StringVar(&orderType, "type", "", "Order type")
	cmd.Flags().StringVar(&trigger, "trigger-price", "", "USD trigger price")
	cmd.Flags().StringVar(&amount, "amount", "", "Size in base units (wei for buys, token units for sells)")
	cmd.Flags().Int64Var(&percentBps, "percent-bps", 0, "Size as basis points of the balance at execution")
	cmd.Flags().Int64Var(&callbackBps, "callback-bps", 0, "Trailing stop callback in basis points")
	cmd.Flags().StringVar(&reference, "reference-price", "", "Trailing stop starting peak (default: current price)")
	cmd.Flags().StringVar(&entry, "entry-price", "", "Position entry price, for reference")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func (s *runtimeState) newOrdersCancelCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <order-id>",
		Short: "Cancel an open order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			book, err := s.services.bookEngine()
			if err != nil {
				return err
			}
			ctx, cancel := s.commandContext()
			defer cancel()
			if err := book.Cancel(ctx, strings.TrimSpace(args[0])); err != nil {
				return err
			}
			order, err := book.Get(ctx, strings.TrimSpace(args[0]))
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), order, nil, nil)
		},
	}
}

func (s *runtimeState) newOrdersListCommand() *cobra.Command {
	var tokenArg, status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List orders on the configured chain",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := parseOptionalAddress(tokenArg, "--token")
			if err != nil {
				return err
			}
			book, err := s.services.bookEngine()
			if err != nil {
				return err
			}
			ctx, cancel := s.commandContext()
			defer cancel()
			items, err := book.List(ctx, s.settings.ChainID, filter)
			if err != nil {
				return err
			}
			if status = strings.ToLower(strings.TrimSpace(status)); status != "" {
				kept := items[:0]
				for _, o := range items {
					if string(o.Status) == status {
						kept = append(kept, o)
					}
				}
				items = kept
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), items, nil, nil)
		},
	}
	cmd.Flags().StringVar(&tokenArg, "token", "", "Only orders for this token")
	cmd.Flags().StringVar(&status, "status", "", "Only orders in this status")
	return cmd
}

func (s *runtimeState) newOrdersTickCommand() *cobra.Command {
	var tokenArg, price string
	cmd := &cobra.Command{
		Use:         "tick",
		Annotations: broadcasts,
		Short:       "Evaluate a token's open orders against a given USD price",
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := parseTokenAddress(tokenArg)
			if err != nil {
				return err
			}
			p, err := parsePrice(price, "--price")
			if err != nil {
				return err
			}
			if p.IsZero() {
				return clierr.New(clierr.CodeUsage, "--price is required")
			}
			ctx, cancel := s.commandContext()
			defer cancel()
			engine, err := s.services.orderEngine(ctx)
			if err != nil {
				return err
			}
			res, err := engine.Tick(ctx, s.settings.ChainID, addr, p)
			engine.Drain()
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), res, nil, nil)
		},
	}
	cmd.Flags().StringVar(&tokenArg, "token", "", "Token address")
	cmd.Flags().StringVar(&price, "price", "", "USD price to evaluate at")
	_ = cmd.MarkFlagRequired("token")
	_ = cmd.MarkFlagRequired("price")
	return cmd
}

type watchSummary struct {
	Interval string `json:"interval"`
	Stopped  string `json:"stopped_at"`
}

func (s *runtimeState) newOrdersWatchCommand() *cobra.Command {
	var interval string
	cmd := &cobra.Command{
		Use:         "watch",
		Annotations: broadcasts,
		Short:       "Scan open orders on an interval until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			every := s.settings.ScanInterval
			if interval != "" {
				d, err := time.ParseDuration(interval)
				if err != nil {
					return clierr.Wrap(clierr.CodeUsage, "parse --interval", err)
				}
				every = d
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			engine, err := s.services.orderEngine(ctx)
			if err != nil {
				return err
			}
			if addr := s.settings.MetricsAddr; addr != "" {
				shutdown := s.serveMetrics(addr)
				defer shutdown()
			}
			if err := engine.Run(ctx, every); err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), watchSummary{Interval: every.String(), Stopped: s.runner.now().UTC().Format(time.RFC3339)}, nil, nil)
		},
	}
	cmd.Flags().StringVar(&interval, "interval", "", "Scan interval (1s,3s,5s,10s,30s,60s,120s)")
	return cmd
}

// serveMetrics exposes Prometheus collectors on addr until the returned
// function is called.
func (s *runtimeState) serveMetrics(addr string) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.WithError(err).WithField("addr", addr).Error("metrics server failed")
		}
	}()
	s.logger.WithField("addr", addr).Info("serving metrics")
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
