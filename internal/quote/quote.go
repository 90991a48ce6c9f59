// Package quote finds the best single-hop price for a token pair across
// PancakeSwap V2 pairs and V3 fee tiers.
package quote

import (
	"context"
	"encoding/json"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/ggonzalez94/bsc-trader/internal/chain"
	"github.com/ggonzalez94/bsc-trader/internal/model"
	"github.com/ggonzalez94/bsc-trader/internal/registry"
)

const ReasonNoLiquidity = "no liquidity pool for token pair"

var DefaultFeeTiers = []uint32{100, 500, 2500, 10000}

var (
	v2FactoryABI = chain.MustABI(registry.PancakeV2FactoryABI)
	v2PairABI    = chain.MustABI(registry.PancakeV2PairABI)
	v3FactoryABI = chain.MustABI(registry.PancakeV3FactoryABI)
	quoterABI    = chain.MustABI(registry.PancakeV3QuoterV2ABI)

	quotesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bsctrade_quotes_total",
		Help: "Venue class quotes by outcome",
	}, []string{"venue", "outcome"})
)

// Quote is the best output found for one venue class. AmountOut is nil for
// identity-only lookups.
type Quote struct {
	AmountOut *big.Int       `json:"-"`
	Venue     model.Venue    `json:"venue,omitempty"`
	Fee       uint32         `json:"fee"`
	Pool      common.Address `json:"pool"`
}

// Result carries either a quote or the reason none exists.
type Result struct {
	Quote
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
}

type Request struct {
	TokenIn        common.Address
	TokenOut       common.Address
	AmountIn       *big.Int
	HintPair       *common.Address
	PreferredFee   uint32
	PreferredVenue model.Venue
	Turbo          bool
	IdentityOnly   bool
	// Executable limits V2 liquidity to pairs the SmartRouter swaps through:
	// the router factory's pair, or a hint pair that factory minted. Extra
	// factories and foreign hints still price but never back a leg.
	Executable bool
}

type Config struct {
	// ExtraV2Factories are queried after the chain's canonical factories.
	ExtraV2Factories []common.Address
	FeeTiers         []uint32
}

type Aggregator struct {
	reader    chain.Reader
	chainID   int64
	factories []common.Address
	// routerFactory is the V2 factory the SmartRouter resolves pairs from.
	routerFactory common.Address
	v3Factory     common.Address
	quoter        common.Address
	feeTiers      []uint32
	logger        logrus.FieldLogger
}

func New(reader chain.Reader, chainID int64, config Config, logger logrus.FieldLogger) *Aggregator {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	a := &Aggregator{
		reader:   reader,
		chainID:  chainID,
		feeTiers: config.FeeTiers,
		logger:   logger.WithField("component", "quote").WithField("chain", chainID),
	}
	if len(a.feeTiers) == 0 {
		a.feeTiers = DefaultFeeTiers
	}
	seen := map[common.Address]bool{}
	if contracts, ok := registry.Contracts(chainID); ok {
		for i, raw := range contracts.V2Factories {
			addr := common.HexToAddress(raw)
			if i == 0 {
				a.routerFactory = addr
			}
			if !seen[addr] {
				seen[addr] = true
				a.factories = append(a.factories, addr)
			}
		}
		if contracts.V3Factory != "" {
			a.v3Factory = common.HexToAddress(contracts.V3Factory)
		}
		if contracts.V3QuoterV2 != "" {
			a.quoter = common.HexToAddress(contracts.V3QuoterV2)
		}
	}
	for _, addr := range config.ExtraV2Factories {
		if addr != (common.Address{}) && !seen[addr] {
			seen[addr] = true
			a.factories = append(a.factories, addr)
		}
	}
	return a
}

// BestQuote queries both venue classes and keeps the larger output, V3 on ties.
// Venue failures are logged and never abort the aggregate.
func (a *Aggregator) BestQuote(ctx context.Context, req Request) Result {
	if !req.IdentityOnly && (req.AmountIn == nil || req.AmountIn.Sign() <= 0) {
		return Result{Reason: "amount in must be positive"}
	}
	if req.TokenIn == req.TokenOut {
		return Result{Reason: "token in and token out are the same"}
	}
	if req.Turbo && (req.PreferredVenue == model.VenueV2 || req.PreferredVenue == model.VenueV3) {
		first, second := a.classQuoter(req.PreferredVenue), a.classQuoter(otherVenue(req.PreferredVenue))
		if q, ok := first(ctx, req); ok {
			return a.result(q, true)
		}
		if q, ok := second(ctx, req); ok {
			return a.result(q, true)
		}
		return a.result(Quote{}, false)
	}

	var (
		v2, v3     Quote
		v2Ok, v3Ok bool
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		v2, v2Ok = a.quoteV2(gctx, req)
		return nil
	})
	g.Go(func() error {
		v3, v3Ok = a.quoteV3(gctx, req)
		return nil
	})
	_ = g.Wait()

	switch {
	case v2Ok && v3Ok:
		if req.IdentityOnly {
			if req.PreferredVenue == model.VenueV2 {
				return a.result(v2, true)
			}
			return a.result(v3, true)
		}
		if v3.AmountOut.Cmp(v2.AmountOut) >= 0 {
			return a.result(v3, true)
		}
		return a.result(v2, true)
	case v3Ok:
		return a.result(v3, true)
	case v2Ok:
		return a.result(v2, true)
	}
	return a.result(Quote{}, false)
}

func (a *Aggregator) result(q Quote, ok bool) Result {
	if !ok {
		quotesTotal.WithLabelValues("none", "no_liquidity").Inc()
		return Result{Reason: ReasonNoLiquidity}
	}
	quotesTotal.WithLabelValues(string(q.Venue), "ok").Inc()
	return Result{Quote: q, OK: true}
}

func (a *Aggregator) classQuoter(venue model.Venue) func(context.Context, Request) (Quote, bool) {
	if venue == model.VenueV2 {
		return a.quoteV2
	}
	return a.quoteV3
}

func otherVenue(venue model.Venue) model.Venue {
	if venue == model.VenueV2 {
		return model.VenueV3
	}
	return model.VenueV2
}

// callLogged swallows venue errors after logging them at debug.
func (a *Aggregator) callLogged(ctx context.Context, to common.Address, contract abi.ABI, method string, args ...any) ([]any, bool) {
	out, err := chain.Call(ctx, a.reader, to, contract, method, args...)
	if err != nil {
		a.logger.WithError(err).WithField("contract", to.Hex()).WithField("method", method).Debug("venue call failed")
		return nil, false
	}
	return out, true
}

func (r Result) MarshalJSON() ([]byte, error) {
	type resultJSON struct {
		OK        bool        `json:"ok"`
		Reason    string      `json:"reason,omitempty"`
		Venue     model.Venue `json:"venue,omitempty"`
		Fee       uint32      `json:"fee"`
		Pool      string      `json:"pool,omitempty"`
		AmountOut string      `json:"amount_out,omitempty"`
	}
	out := resultJSON{OK: r.OK, Reason: r.Reason, Venue: r.Venue, Fee: r.Fee, AmountOut: model.BigString(r.AmountOut)}
	if r.Pool != (common.Address{}) {
		out.Pool = r.Pool.Hex()
	}
	return json.Marshal(out)
}
