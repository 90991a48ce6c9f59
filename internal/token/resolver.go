// Package token builds TokenRef values from chain state: ERC20 metadata plus
// the launchpad view for tokens that started on a bonding curve.
package token

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/ggonzalez94/bsc-trader/internal/cache"
	"github.com/ggonzalez94/bsc-trader/internal/chain"
	clierr "github.com/ggonzalez94/bsc-trader/internal/errors"
	"github.com/ggonzalez94/bsc-trader/internal/model"
	"github.com/ggonzalez94/bsc-trader/internal/registry"
)

const (
	DefaultTTL = 24 * time.Hour
	// inner-disk tokens graduate without notice, so their status is kept briefly
	innerDiskTTL = 30 * time.Second
)

var (
	erc20ABI  = chain.MustABI(registry.ERC20ABI)
	helperABI = chain.MustABI(registry.LaunchpadHelperABI)
)

// Launchpad is the helper's getTokenInfo view of a token.
type Launchpad struct {
	Version        *big.Int       `json:"version"`
	Manager        common.Address `json:"manager"`
	Quote          common.Address `json:"quote"`
	LastPrice      *big.Int       `json:"last_price"`
	TradingFeeRate *big.Int       `json:"trading_fee_rate"`
	Offers         *big.Int       `json:"offers"`
	MaxOffers      *big.Int       `json:"max_offers"`
	Funds          *big.Int       `json:"funds"`
	MaxFunds       *big.Int       `json:"max_funds"`
	LiquidityAdded bool           `json:"liquidity_added"`
}

type Options struct {
	// Refresh bypasses the cache and rewrites the entry.
	Refresh bool
	// Pool is a caller-supplied pair hint; it is not cached.
	Pool *common.Address
}

type Resolver struct {
	reader    chain.Reader
	chainID   int64
	contracts registry.ChainContracts
	cache     *cache.Store
	ttl       time.Duration
	logger    logrus.FieldLogger
	group     singleflight.Group
}

// NewResolver returns a resolver for one chain. store may be nil to disable caching.
func NewResolver(reader chain.Reader, chainID int64, store *cache.Store, ttl time.Duration, logger logrus.FieldLogger) *Resolver {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	contracts, _ := registry.Contracts(chainID)
	return &Resolver{
		reader:    reader,
		chainID:   chainID,
		contracts: contracts,
		cache:     store,
		ttl:       ttl,
		logger:    logger.WithField("component", "token"),
	}
}

// Native is the TokenRef for the chain's native coin.
func Native(chainID int64) model.TokenRef {
	return model.TokenRef{ChainID: chainID, Symbol: "BNB", Decimals: 18}
}

func (r *Resolver) Resolve(ctx context.Context, addr common.Address, opts Options) (model.TokenRef, error) {
	if addr == (common.Address{}) {
		return Native(r.chainID), nil
	}
	key := cache.Key("token", strconv.FormatInt(r.chainID, 10), addr.Hex())
	if !opts.Refresh {
		if ref, ok, err := cache.GetJSON[model.TokenRef](r.cache, key); err != nil {
			r.logger.WithError(err).Debug("token cache read failed")
		} else if ok {
			return withPool(ref, opts.Pool), nil
		}
	}

	v, err, _ := r.group.Do(key, func() (any, error) {
		ref, err := r.fetch(ctx, addr)
		if err != nil {
			return model.TokenRef{}, err
		}
		ttl := r.ttl
		if ref.InnerDisk() && ttl > innerDiskTTL {
			ttl = innerDiskTTL
		}
		if err := cache.SetJSON(r.cache, key, ref, ttl); err != nil {
			r.logger.WithError(err).Debug("token cache write failed")
		}
		return ref, nil
	})
	if err != nil {
		return model.TokenRef{}, err
	}
	return withPool(v.(model.TokenRef), opts.Pool), nil
}

func withPool(ref model.TokenRef, pool *common.Address) model.TokenRef {
	if pool != nil {
		p := *pool
		ref.Pool = &p
	}
	return ref
}

func (r *Resolver) fetch(ctx context.Context, addr common.Address) (model.TokenRef, error) {
	decoded, err := chain.Call(ctx, r.reader, addr, erc20ABI, "decimals")
	if err != nil {
		return model.TokenRef{}, clierr.Wrap(clierr.CodeUsage, fmt.Sprintf("%s does not look like an ERC20 token", addr.Hex()), err)
	}
	decimals, ok := decoded[0].(uint8)
	if !ok {
		return model.TokenRef{}, clierr.New(clierr.CodeUnavailable, fmt.Sprintf("unexpected decimals() result %T", decoded[0]))
	}
	ref := model.TokenRef{
		ChainID:   r.chainID,
		Address:   addr,
		Decimals:  decimals,
		FetchedAt: time.Now().UTC(),
	}
	if out, err := chain.Call(ctx, r.reader, addr, erc20ABI, "symbol"); err == nil {
		if s, ok := out[0].(string); ok {
			ref.Symbol = strings.TrimSpace(s)
		}
	} else {
		r.logger.WithError(err).WithField("token", addr.Hex()).Debug("symbol() failed")
	}

	info, ok, err := r.Launchpad(ctx, addr)
	if err != nil {
		r.logger.WithError(err).WithField("token", addr.Hex()).Debug("launchpad lookup failed")
	}
	if ok {
		ref.Platform = model.PlatformFourMeme
		ref.Status = model.LaunchpadInner
		if info.LiquidityAdded {
			ref.Status = model.LaunchpadOuter
		}
		if info.Quote != (common.Address{}) {
			q := info.Quote
			ref.QuoteToken = &q
		}
	}
	return ref, nil
}

// Launchpad reads the helper's view of addr. ok is false when no helper is
// configured or the token was never registered on the launchpad.
func (r *Resolver) Launchpad(ctx context.Context, addr common.Address) (Launchpad, bool, error) {
	if r.contracts.LaunchpadHelper == "" {
		return Launchpad{}, false, nil
	}
	out, err := chain.Call(ctx, r.reader, common.HexToAddress(r.contracts.LaunchpadHelper), helperABI, "getTokenInfo", addr)
	if err != nil {
		return Launchpad{}, false, err
	}
	if len(out) < 12 {
		return Launchpad{}, false, fmt.Errorf("getTokenInfo: %d outputs", len(out))
	}
	manager, _ := chain.AddressAt(out, 1)
	if manager == (common.Address{}) {
		return Launchpad{}, false, nil
	}
	info := Launchpad{Manager: manager}
	info.Quote, _ = chain.AddressAt(out, 2)
	info.Version, _ = chain.BigAt(out, 0)
	info.LastPrice, _ = chain.BigAt(out, 3)
	info.TradingFeeRate, _ = chain.BigAt(out, 4)
	info.Offers, _ = chain.BigAt(out, 7)
	info.MaxOffers, _ = chain.BigAt(out, 8)
	info.Funds, _ = chain.BigAt(out, 9)
	info.MaxFunds, _ = chain.BigAt(out, 10)
	info.LiquidityAdded, _ = out[11].(bool)
	return info, true, nil
}
