package app

import (
	"context"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/ggonzalez94/bsc-trader/internal/cache"
	"github.com/ggonzalez94/bsc-trader/internal/model"
	"github.com/ggonzalez94/bsc-trader/internal/token"
)

// priceTTL keeps repeated price lookups off the chain for a short while.
const priceTTL = 10 * time.Second

type tokenInfo struct {
	model.TokenRef
	Launchpad *token.Launchpad `json:"launchpad,omitempty"`
}

type priceInfo struct {
	Token    string `json:"token"`
	Symbol   string `json:"symbol,omitempty"`
	PriceUSD string `json:"price_usd"`
	Source   string `json:"source"`
}

type nonceInfo struct {
	Address   string `json:"address"`
	ChainID   int64  `json:"chain_id"`
	Nonce     uint64 `json:"nonce"`
	KeySource string `json:"key_source"`
}

func (s *runtimeState) newTokenCommand() *cobra.Command {
	root := &cobra.Command{Use: "token", Short: "Token metadata"}
	var tok tokenArgs
	info := &cobra.Command{
		Use:   "info",
		Short: "Resolve decimals, symbol and launchpad status",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := s.commandContext()
			defer cancel()
			ref, err := s.services.resolveToken(ctx, tok.token, tok.refresh, tok.pool)
			if err != nil {
				return err
			}
			out := tokenInfo{TokenRef: ref}
			if ref.Platform == model.PlatformFourMeme {
				resolver, err := s.services.tokens(ctx)
				if err != nil {
					return err
				}
				if lp, ok, err := resolver.Launchpad(ctx, ref.Address); err == nil && ok {
					out.Launchpad = &lp
				}
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), out, nil, nil)
		},
	}
	tok.bind(info)
	root.AddCommand(info)
	return root
}

func (s *runtimeState) newPriceCommand() *cobra.Command {
	var tok tokenArgs
	cmd := &cobra.Command{
		Use:   "price",
		Short: "USD price of a token from the configured price source",
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := parseTokenAddress(tok.token)
			if err != nil {
				return err
			}
			key := cache.Key("price", s.settings.PriceSource, strconv.FormatInt(s.settings.ChainID, 10), addr.Hex())
			return s.runCachedCommand(trimRootPath(cmd.CommandPath()), key, priceTTL, func(ctx context.Context) (any, error) {
				ref, err := s.services.resolveToken(ctx, tok.token, tok.refresh, tok.pool)
				if err != nil {
					return nil, err
				}
				source, err := s.services.priceSource(ctx)
				if err != nil {
					return nil, err
				}
				price, err := source.USDPrice(ctx, ref)
				if err != nil {
					return nil, err
				}
				return priceInfo{Token: ref.Address.Hex(), Symbol: ref.Symbol, PriceUSD: price.String(), Source: source.Name()}, nil
			})
		},
	}
	tok.bind(cmd)
	return cmd
}

func (s *runtimeState) newNonceCommand() *cobra.Command {
	root := &cobra.Command{Use: "nonce", Short: "Nonce lease helpers"}
	prewarm := &cobra.Command{
		Use:   "prewarm",
		Short: "Read the pending nonce for the signing account",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := s.commandContext()
			defer cancel()
			wallet, err := s.services.signer()
			if err != nil {
				return err
			}
			nonces, err := s.services.nonceResolver(ctx)
			if err != nil {
				return err
			}
			n, err := nonces.Prewarm(ctx, s.settings.ChainID, wallet.Address())
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), nonceInfo{
				Address:   wallet.Address().Hex(),
				ChainID:   s.settings.ChainID,
				Nonce:     n,
				KeySource: wallet.Status().Source,
			}, nil, nil)
		},
	}
	root.AddCommand(prewarm)
	return root
}
