package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"github.com/ggonzalez94/bsc-trader/internal/cache"
	"github.com/ggonzalez94/bsc-trader/internal/chain"
	"github.com/ggonzalez94/bsc-trader/internal/config"
	clierr "github.com/ggonzalez94/bsc-trader/internal/errors"
	"github.com/ggonzalez94/bsc-trader/internal/execution"
	"github.com/ggonzalez94/bsc-trader/internal/execution/signer"
	"github.com/ggonzalez94/bsc-trader/internal/httpx"
	"github.com/ggonzalez94/bsc-trader/internal/model"
	"github.com/ggonzalez94/bsc-trader/internal/orders"
	"github.com/ggonzalez94/bsc-trader/internal/pricing"
	"github.com/ggonzalez94/bsc-trader/internal/quote"
	"github.com/ggonzalez94/bsc-trader/internal/registry"
	"github.com/ggonzalez94/bsc-trader/internal/route"
	"github.com/ggonzalez94/bsc-trader/internal/token"
	"github.com/ggonzalez94/bsc-trader/internal/trade"
)

// services builds runtime components on first use so commands only pay for
// what they touch. One instance lives for one CLI invocation.
type services struct {
	settings config.Settings
	logger   logrus.FieldLogger

	cache      *cache.Store
	pool       *chain.Pool
	journal    *execution.Journal
	orderStore *orders.SQLiteStore
	wallet     signer.Signer
	nonces     *execution.NonceResolver
	aggregator *quote.Aggregator
	builder    *route.Builder
	resolver   *token.Resolver
	prices     pricing.Source
	sender     *execution.Sender
	trader     *trade.Engine
}

func newServices(settings config.Settings, logger logrus.FieldLogger) *services {
	return &services{settings: settings, logger: logger}
}

func (s *services) close() {
	if s.pool != nil {
		s.pool.Close()
	}
	if s.cache != nil {
		_ = s.cache.Close()
	}
	if s.journal != nil {
		_ = s.journal.Close()
	}
	if s.orderStore != nil {
		_ = s.orderStore.Close()
	}
}

func (s *services) openCache() error {
	if s.cache != nil {
		return nil
	}
	store, err := cache.Open(s.settings.CachePath, s.settings.CacheLockPath)
	if err != nil {
		return clierr.Wrap(clierr.CodeInternal, "open cache", err)
	}
	s.cache = store
	return nil
}

func (s *services) cacheStore() *cache.Store {
	if s == nil {
		return nil
	}
	return s.cache
}

func (s *services) chainPool(ctx context.Context) (*chain.Pool, error) {
	if s.pool != nil {
		return s.pool, nil
	}
	urls, err := registry.ResolveRPCURLs(s.settings.RPCEndpoints, s.settings.ChainID)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeConfig, "resolve rpc endpoints", err)
	}
	pool, err := chain.NewPool(ctx, chain.PoolConfig{
		ChainID:     s.settings.ChainID,
		Endpoints:   urls,
		CallTimeout: s.settings.RPCCallTimeout,
		RateLimit:   s.settings.RPCRateLimit,
		RateBurst:   s.settings.RPCRateBurst,
	}, s.logger)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "connect rpc endpoints", err)
	}
	s.pool = pool
	return pool, nil
}

func (s *services) tokens(ctx context.Context) (*token.Resolver, error) {
	if s.resolver != nil {
		return s.resolver, nil
	}
	pool, err := s.chainPool(ctx)
	if err != nil {
		return nil, err
	}
	s.resolver = token.NewResolver(pool, s.settings.ChainID, s.cache, s.settings.TokenTTL, s.logger)
	return s.resolver, nil
}

func (s *services) resolveToken(ctx context.Context, raw string, refresh bool, poolHint string) (model.TokenRef, error) {
	addr, err := parseTokenAddress(raw)
	if err != nil {
		return model.TokenRef{}, err
	}
	hint, err := parseOptionalAddress(poolHint, "--pool")
	if err != nil {
		return model.TokenRef{}, err
	}
	resolver, err := s.tokens(ctx)
	if err != nil {
		return model.TokenRef{}, err
	}
	return resolver.Resolve(ctx, addr, token.Options{Refresh: refresh, Pool: hint})
}

func (s *services) quoter(ctx context.Context) (*quote.Aggregator, error) {
	if s.aggregator != nil {
		return s.aggregator, nil
	}
	pool, err := s.chainPool(ctx)
	if err != nil {
		return nil, err
	}
	extra := make([]common.Address, 0, len(s.settings.V2Factories))
	for _, raw := range s.settings.V2Factories {
		addr, err := parseAddressField(raw, "quote.v2_factories")
		if err != nil {
			return nil, err
		}
		extra = append(extra, addr)
	}
	s.aggregator = quote.New(pool, s.settings.ChainID, quote.Config{ExtraV2Factories: extra, FeeTiers: s.settings.V3FeeTiers}, s.logger)
	return s.aggregator, nil
}

func (s *services) routes(ctx context.Context) (*route.Builder, error) {
	if s.builder != nil {
		return s.builder, nil
	}
	pool, err := s.chainPool(ctx)
	if err != nil {
		return nil, err
	}
	aggregator, err := s.quoter(ctx)
	if err != nil {
		return nil, err
	}
	preferred := make(map[common.Address]model.Venue, len(s.settings.BridgePreferred))
	for key, venue := range s.settings.BridgePreferred {
		addr, err := bridgeTokenAddress(s.settings.ChainID, key)
		if err != nil {
			return nil, err
		}
		preferred[addr] = model.Venue(venue)
	}
	s.builder = route.New(pool, aggregator, route.Config{
		ChainID:         s.settings.ChainID,
		BridgePreferred: preferred,
		PreferredFee:    s.settings.PreferredFee,
	}, s.logger)
	return s.builder, nil
}

// bridgeTokenAddress accepts a bridge token address or its registry symbol.
func bridgeTokenAddress(chainID int64, key string) (common.Address, error) {
	if strings.HasPrefix(key, "0x") {
		return parseAddressField(key, "bridge_venue_preference")
	}
	for _, bt := range registry.BridgeTokens(chainID) {
		if strings.EqualFold(bt.Symbol, key) {
			return common.HexToAddress(bt.Address), nil
		}
	}
	return common.Address{}, clierr.New(clierr.CodeConfig, fmt.Sprintf("bridge_venue_preference: unknown bridge token %q on chain %d", key, chainID))
}

// dexscreenerRPS stays under the public API's 300 requests per minute.
const dexscreenerRPS = 4

func (s *services) priceSource(ctx context.Context) (pricing.Source, error) {
	if s.prices != nil {
		return s.prices, nil
	}
	switch s.settings.PriceSource {
	case pricing.SourceDexscreener:
		s.prices = pricing.NewDexscreener(httpx.New(s.settings.HTTPTimeout, s.settings.HTTPRetries).WithRateLimit(dexscreenerRPS, 2), s.settings.PriceAPIURL, s.logger)
	default:
		aggregator, err := s.quoter(ctx)
		if err != nil {
			return nil, err
		}
		resolver, err := s.tokens(ctx)
		if err != nil {
			return nil, err
		}
		s.prices = pricing.NewOnchain(aggregator, resolver, s.settings.ChainID, s.logger)
	}
	return s.prices, nil
}

func (s *services) signer() (signer.Signer, error) {
	if s.wallet != nil {
		return s.wallet, nil
	}
	local, err := signer.NewLocalSignerFromEnv(s.settings.KeySource)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeSigner, "load signing key", err)
	}
	s.wallet = local
	return local, nil
}

func (s *services) nonceResolver(ctx context.Context) (*execution.NonceResolver, error) {
	if s.nonces != nil {
		return s.nonces, nil
	}
	pool, err := s.chainPool(ctx)
	if err != nil {
		return nil, err
	}
	s.nonces = execution.NewNonceResolver(map[int64]execution.NonceSource{s.settings.ChainID: pool}, 0)
	return s.nonces, nil
}

// channels lists broadcast destinations: the private relay first when
// enabled, then every public endpoint.
func (s *services) channels(ctx context.Context, wallet signer.Signer) ([]execution.Channel, error) {
	pool, err := s.chainPool(ctx)
	if err != nil {
		return nil, err
	}
	var out []execution.Channel
	if s.settings.RelayEnabled && s.settings.RelayURL != "" {
		if !registry.IsAllowedRelayURL(s.settings.RelayURL) {
			return nil, clierr.New(clierr.CodeConfig, "private_relay.url must be https (or http on loopback)")
		}
		out = append(out, execution.NewRelayChannel(s.settings.RelayURL, httpx.New(s.settings.RPCCallTimeout, 0), wallet))
	}
	for _, ep := range pool.Endpoints() {
		out = append(out, ep)
	}
	return out, nil
}

func (s *services) txSender(ctx context.Context) (*execution.Sender, error) {
	if s.sender != nil {
		return s.sender, nil
	}
	wallet, err := s.signer()
	if err != nil {
		return nil, err
	}
	pool, err := s.chainPool(ctx)
	if err != nil {
		return nil, err
	}
	nonces, err := s.nonceResolver(ctx)
	if err != nil {
		return nil, err
	}
	channels, err := s.channels(ctx, wallet)
	if err != nil {
		return nil, err
	}
	broadcaster := execution.NewBroadcaster(channels, s.settings.RPCCallTimeout, s.logger)
	s.sender = execution.NewSender(pool, wallet, nonces, broadcaster, execution.SenderConfig{
		ChainID:       s.settings.ChainID,
		GasMultiplier: s.settings.GasMultiplier,
		FixedGasLimit: s.settings.FixedGasLimit,
		GasPresets:    s.settings.GasPresets,
		GasPreset:     s.settings.GasPreset,
	}, s.logger)
	return s.sender, nil
}

func (s *services) tradeJournal() (*execution.Journal, error) {
	if s.journal != nil {
		return s.journal, nil
	}
	journal, err := execution.OpenJournal(s.settings.JournalPath, s.settings.JournalLockPath)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "open trade journal", err)
	}
	s.journal = journal
	return journal, nil
}

func (s *services) tradeConfig() trade.Config {
	return trade.Config{
		ChainID:        s.settings.ChainID,
		SlippageBps:    s.settings.SlippageBps,
		Turbo:          s.settings.Turbo(),
		ReceiptPoll:    s.settings.ReceiptPoll,
		ReceiptTimeout: s.settings.ReceiptTimeout,
	}
}

func (s *services) tradeEngine(ctx context.Context) (*trade.Engine, error) {
	if s.trader != nil {
		return s.trader, nil
	}
	pool, err := s.chainPool(ctx)
	if err != nil {
		return nil, err
	}
	builder, err := s.routes(ctx)
	if err != nil {
		return nil, err
	}
	sender, err := s.txSender(ctx)
	if err != nil {
		return nil, err
	}
	journal, err := s.tradeJournal()
	if err != nil {
		return nil, err
	}
	s.trader = trade.New(pool, builder, sender, journal, s.tradeConfig(), s.logger)
	return s.trader, nil
}

// quoteEngine builds routes without a signer; the recipient is the signer
// address when one is configured, else the zero address.
func (s *services) quoteEngine(ctx context.Context) (*trade.Engine, error) {
	if s.trader != nil {
		return s.trader, nil
	}
	pool, err := s.chainPool(ctx)
	if err != nil {
		return nil, err
	}
	builder, err := s.routes(ctx)
	if err != nil {
		return nil, err
	}
	var from common.Address
	if wallet, err := s.signer(); err == nil {
		from = wallet.Address()
	}
	return trade.New(pool, builder, readOnlySender{from: from}, nil, s.tradeConfig(), s.logger), nil
}

type readOnlySender struct {
	from common.Address
}

func (r readOnlySender) From() common.Address { return r.from }

func (r readOnlySender) Send(context.Context, execution.TxRequest) (execution.BroadcastResult, error) {
	return execution.BroadcastResult{}, clierr.New(clierr.CodeSigner, "no signer configured for sending")
}

func (s *services) orderBook() (*orders.SQLiteStore, error) {
	if s.orderStore != nil {
		return s.orderStore, nil
	}
	store, err := orders.OpenSQLiteStore(s.settings.OrderStorePath, s.settings.OrderLockPath)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "open order store", err)
	}
	s.orderStore = store
	return store, nil
}

func (s *services) ordersConfig() orders.Config {
	return orders.Config{
		AutoSell:    s.settings.AutoSell,
		CancelGrace: s.settings.CancelGrace,
		ExecTimeout: s.settings.ReceiptTimeout + 4*s.settings.RPCCallTimeout,
	}
}

// bookEngine manages orders without chain access: create, cancel, list.
func (s *services) bookEngine() (*orders.Engine, error) {
	store, err := s.orderBook()
	if err != nil {
		return nil, err
	}
	return orders.NewEngine(store, nil, nil, s.ordersConfig(), s.logger), nil
}

// orderEngine can price and execute orders on the configured chain.
func (s *services) orderEngine(ctx context.Context) (*orders.Engine, error) {
	store, err := s.orderBook()
	if err != nil {
		return nil, err
	}
	trader, err := s.tradeEngine(ctx)
	if err != nil {
		return nil, err
	}
	prices, err := s.priceSource(ctx)
	if err != nil {
		return nil, err
	}
	chainID := s.settings.ChainID
	return orders.NewEngine(store,
		map[int64]orders.Executor{chainID: trader},
		map[int64]orders.PriceSource{chainID: prices},
		s.ordersConfig(), s.logger), nil
}
