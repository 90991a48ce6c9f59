package pricing

import (
	"context"
	"math/big"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	clierr "github.com/ggonzalez94/bsc-trader/internal/errors"
	"github.com/ggonzalez94/bsc-trader/internal/model"
	"github.com/ggonzalez94/bsc-trader/internal/quote"
	"github.com/ggonzalez94/bsc-trader/internal/registry"
	"github.com/ggonzalez94/bsc-trader/internal/token"
)

const nativeMemoTTL = 15 * time.Second

var stableSymbols = map[string]bool{"USDT": true, "USDC": true, "USD1": true, "BUSD": true}

type Quoter interface {
	BestQuote(ctx context.Context, req quote.Request) quote.Result
}

type LaunchpadReader interface {
	Launchpad(ctx context.Context, addr common.Address) (token.Launchpad, bool, error)
}

type nativeMemo struct {
	price     decimal.Decimal
	fetchedAt time.Time
}

// Onchain prices tokens through the quote aggregator: token to native, then
// native to the chain's USD stable. Inner-disk tokens use the launchpad's
// last trade price instead of a DEX quote.
type Onchain struct {
	quoter    Quoter
	launchpad LaunchpadReader
	chainID   int64
	contracts registry.ChainContracts
	logger    logrus.FieldLogger
	now       func() time.Time

	mu     sync.Mutex
	native *nativeMemo
	group  singleflight.Group
}

func NewOnchain(quoter Quoter, launchpad LaunchpadReader, chainID int64, logger logrus.FieldLogger) *Onchain {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	contracts, _ := registry.Contracts(chainID)
	return &Onchain{
		quoter:    quoter,
		launchpad: launchpad,
		chainID:   chainID,
		contracts: contracts,
		logger:    logger.WithField("component", "pricing").WithField("source", SourceOnchain),
		now:       time.Now,
	}
}

func (o *Onchain) Name() string { return SourceOnchain }

func (o *Onchain) USDPrice(ctx context.Context, ref model.TokenRef) (decimal.Decimal, error) {
	if o.contracts.WrappedNative == "" || o.contracts.StableUSD == "" {
		return decimal.Zero, clierr.New(clierr.CodeConfig, "on-chain pricing needs wrapped native and stable tokens for this chain")
	}
	if ref.Address == (common.Address{}) || registry.IsNativeQuote(o.chainID, ref.Address) {
		return o.NativeUSD(ctx)
	}
	if strings.EqualFold(ref.Address.Hex(), o.contracts.StableUSD) {
		return decimal.NewFromInt(1), nil
	}
	key := strconv.FormatInt(o.chainID, 10) + ":" + strings.ToLower(ref.Address.Hex())
	v, err, _ := o.group.Do(key, func() (any, error) {
		return o.tokenUSD(ctx, ref)
	})
	if err != nil {
		return decimal.Zero, err
	}
	return v.(decimal.Decimal), nil
}

func (o *Onchain) tokenUSD(ctx context.Context, ref model.TokenRef) (decimal.Decimal, error) {
	if ref.InnerDisk() {
		return o.launchpadUSD(ctx, ref)
	}
	var inNative, nativeUSD decimal.Decimal
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		one := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(ref.Decimals)), nil)
		res := o.quoter.BestQuote(gctx, quote.Request{
			TokenIn:  ref.Address,
			TokenOut: common.HexToAddress(o.contracts.WrappedNative),
			AmountIn: one,
			HintPair: ref.Pool,
		})
		if !res.OK {
			return clierr.New(clierr.CodeLiquidity, res.Reason)
		}
		inNative = decimal.NewFromBigInt(res.AmountOut, -18)
		return nil
	})
	g.Go(func() error {
		var err error
		nativeUSD, err = o.NativeUSD(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return decimal.Zero, err
	}
	return inNative.Mul(nativeUSD), nil
}

// launchpadUSD converts the curve's last price, quoted in the launchpad quote
// token with 18 decimals, into USD.
func (o *Onchain) launchpadUSD(ctx context.Context, ref model.TokenRef) (decimal.Decimal, error) {
	info, ok, err := o.launchpad.Launchpad(ctx, ref.Address)
	if err != nil {
		return decimal.Zero, clierr.Wrap(clierr.CodeUnavailable, "read launchpad price", err)
	}
	if !ok || info.LastPrice == nil || info.LastPrice.Sign() <= 0 {
		return decimal.Zero, nonPositive(SourceOnchain, ref)
	}
	inQuote := decimal.NewFromBigInt(info.LastPrice, -18)
	if info.Quote == (common.Address{}) || registry.IsNativeQuote(o.chainID, info.Quote) {
		nativeUSD, err := o.NativeUSD(ctx)
		if err != nil {
			return decimal.Zero, err
		}
		return inQuote.Mul(nativeUSD), nil
	}
	bridge, known := registry.LookupBridgeToken(o.chainID, info.Quote)
	if known && stableSymbols[bridge.Symbol] {
		return inQuote, nil
	}
	quoteUSD, err := o.tokenUSD(ctx, model.TokenRef{ChainID: o.chainID, Address: info.Quote, Decimals: bridge.Decimals})
	if err != nil {
		return decimal.Zero, err
	}
	return inQuote.Mul(quoteUSD), nil
}

// NativeUSD is the price of one native coin, memoised for a short window.
func (o *Onchain) NativeUSD(ctx context.Context) (decimal.Decimal, error) {
	o.mu.Lock()
	if o.native != nil && o.now().Sub(o.native.fetchedAt) < nativeMemoTTL {
		price := o.native.price
		o.mu.Unlock()
		return price, nil
	}
	o.mu.Unlock()

	res := o.quoter.BestQuote(ctx, quote.Request{
		TokenIn:  common.HexToAddress(o.contracts.WrappedNative),
		TokenOut: common.HexToAddress(o.contracts.StableUSD),
		AmountIn: new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil),
	})
	if !res.OK {
		return decimal.Zero, clierr.New(clierr.CodeLiquidity, res.Reason)
	}
	price := decimal.NewFromBigInt(res.AmountOut, -int32(o.contracts.StableDecimals))

	o.mu.Lock()
	o.native = &nativeMemo{price: price, fetchedAt: o.now()}
	o.mu.Unlock()
	o.logger.WithField("usd", price.String()).Debug("native price refreshed")
	return price, nil
}
