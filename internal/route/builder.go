// Package route turns a buy or sell intent into swap legs and the single
// transaction that executes them.
package route

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"github.com/ggonzalez94/bsc-trader/internal/chain"
	clierr "github.com/ggonzalez94/bsc-trader/internal/errors"
	"github.com/ggonzalez94/bsc-trader/internal/model"
	"github.com/ggonzalez94/bsc-trader/internal/quote"
	"github.com/ggonzalez94/bsc-trader/internal/registry"
)

const deadlineWindow = 20 * time.Minute

type Quoter interface {
	BestQuote(ctx context.Context, req quote.Request) quote.Result
}

// Route is an ordered list of one or two legs plus the transaction executing them.
type Route struct {
	Legs      []model.SwapLeg `json:"legs"`
	MinOut    *big.Int        `json:"-"`
	QuotedOut *big.Int        `json:"-"`
	Target    common.Address  `json:"target"`
	Calldata  []byte          `json:"-"`
	Value     *big.Int        `json:"-"`
	// Spender must hold an allowance of the sold token. Zero for buys.
	Spender common.Address `json:"spender"`
}

type BuyIntent struct {
	Token       model.TokenRef
	AmountIn    *big.Int
	Recipient   common.Address
	SlippageBps int64
	Turbo       bool
}

type SellIntent struct {
	Token       model.TokenRef
	AmountIn    *big.Int
	Recipient   common.Address
	SlippageBps int64
	Turbo       bool
	// PercentSized marks amounts derived from a live balance read.
	PercentSized bool
}

type Config struct {
	ChainID int64
	// BridgePreferred maps a bridge token address to the venue class queried first.
	BridgePreferred map[common.Address]model.Venue
	PreferredFee    uint32
}

type Builder struct {
	reader    chain.Reader
	quoter    Quoter
	config    Config
	contracts registry.ChainContracts
	wbnb      common.Address
	logger    logrus.FieldLogger
	now       func() time.Time
}

func New(reader chain.Reader, quoter Quoter, config Config, logger logrus.FieldLogger) *Builder {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	contracts, _ := registry.Contracts(config.ChainID)
	return &Builder{
		reader:    reader,
		quoter:    quoter,
		config:    config,
		contracts: contracts,
		wbnb:      common.HexToAddress(contracts.WrappedNative),
		logger:    logger.WithField("component", "route").WithField("chain", config.ChainID),
		now:       time.Now,
	}
}

// MinOut applies slippage with floor division.
func MinOut(amountOut *big.Int, slippageBps int64) *big.Int {
	if amountOut == nil || amountOut.Sign() <= 0 {
		return new(big.Int)
	}
	out := new(big.Int).Mul(amountOut, big.NewInt(10000-slippageBps))
	return out.Quo(out, big.NewInt(10000))
}

type routeKind int

const (
	kindDEXNative routeKind = iota
	kindDEXBridge
	kindLaunchpadNative
	kindLaunchpadBridge
)

// classify picks the route shape from the token's quote currency and launchpad status.
func (b *Builder) classify(token model.TokenRef) (routeKind, common.Address, error) {
	native := token.QuoteToken == nil || registry.IsNativeQuote(b.config.ChainID, *token.QuoteToken)
	if !native {
		if _, ok := registry.LookupBridgeToken(b.config.ChainID, *token.QuoteToken); !ok {
			return 0, common.Address{}, clierr.New(clierr.CodeUnsupported, fmt.Sprintf("quote token %s is not a recognized bridge token on chain %d", token.QuoteToken.Hex(), b.config.ChainID))
		}
	}
	switch {
	case token.InnerDisk() && native:
		return kindLaunchpadNative, common.Address{}, nil
	case token.InnerDisk():
		return kindLaunchpadBridge, *token.QuoteToken, nil
	case native:
		return kindDEXNative, common.Address{}, nil
	default:
		return kindDEXBridge, *token.QuoteToken, nil
	}
}

// Spender returns the contract that pulls the token on a sell.
func (b *Builder) Spender(token model.TokenRef) (common.Address, error) {
	kind, _, err := b.classify(token)
	if err != nil {
		return common.Address{}, err
	}
	switch kind {
	case kindLaunchpadNative:
		return b.requireContract(b.contracts.LaunchpadManager, "launchpad manager")
	case kindLaunchpadBridge:
		return b.requireContract(b.contracts.LaunchpadHelper, "launchpad helper")
	default:
		return b.requireContract(b.contracts.SmartRouter, "router")
	}
}

func (b *Builder) requireContract(raw, name string) (common.Address, error) {
	if strings.TrimSpace(raw) == "" {
		return common.Address{}, clierr.New(clierr.CodeConfig, fmt.Sprintf("%s contract address not configured for chain %d", name, b.config.ChainID))
	}
	return common.HexToAddress(raw), nil
}

func (b *Builder) BuildBuyRoute(ctx context.Context, intent BuyIntent) (Route, error) {
	if intent.AmountIn == nil || intent.AmountIn.Sign() <= 0 {
		return Route{}, clierr.New(clierr.CodeUsage, "buy amount must be positive")
	}
	kind, bridge, err := b.classify(intent.Token)
	if err != nil {
		return Route{}, err
	}
	switch kind {
	case kindLaunchpadNative:
		return b.launchpadBuy(ctx, intent)
	case kindLaunchpadBridge:
		return b.launchpadBridgeBuy(ctx, intent, bridge)
	}
	router, err := b.requireContract(b.contracts.SmartRouter, "router")
	if err != nil {
		return Route{}, err
	}
	token := intent.Token.Address
	var legs []model.SwapLeg
	if kind == kindDEXNative {
		leg, err := b.dexLeg(ctx, legRequest{in: b.wbnb, out: token, amountIn: intent.AmountIn, hint: intent.Token.Pool, turbo: intent.Turbo}, intent.SlippageBps)
		if err != nil {
			return Route{}, err
		}
		legs = []model.SwapLeg{leg}
	} else {
		first, err := b.dexLeg(ctx, b.bridgeLegRequest(b.wbnb, bridge, intent.AmountIn), intent.SlippageBps)
		if err != nil {
			return Route{}, b.legError(err, b.wbnb, bridge, intent.Token)
		}
		second, err := b.dexLeg(ctx, legRequest{in: bridge, out: token, amountIn: first.AmountOut, hint: intent.Token.Pool, turbo: intent.Turbo}, intent.SlippageBps)
		if err != nil {
			return Route{}, err
		}
		legs = []model.SwapLeg{first, second}
	}
	calldata, err := b.assembleDEX(legs, intent.Recipient, false)
	if err != nil {
		return Route{}, err
	}
	last := legs[len(legs)-1]
	return Route{
		Legs:      legs,
		MinOut:    last.MinOut,
		QuotedOut: last.AmountOut,
		Target:    router,
		Calldata:  calldata,
		Value:     new(big.Int).Set(intent.AmountIn),
	}, nil
}

func (b *Builder) BuildSellRoute(ctx context.Context, intent SellIntent) (Route, error) {
	if intent.AmountIn == nil || intent.AmountIn.Sign() <= 0 {
		return Route{}, clierr.New(clierr.CodeUsage, "sell amount must be positive")
	}
	kind, bridge, err := b.classify(intent.Token)
	if err != nil {
		return Route{}, err
	}
	switch kind {
	case kindLaunchpadNative:
		return b.launchpadSell(ctx, intent)
	case kindLaunchpadBridge:
		return b.launchpadBridgeSell(ctx, intent)
	}
	router, err := b.requireContract(b.contracts.SmartRouter, "router")
	if err != nil {
		return Route{}, err
	}
	// turbo percent sells skip quoting: the amount comes from a live balance
	// read and the route accepts any output
	identityOnly := intent.Turbo && intent.PercentSized
	slippage := intent.SlippageBps
	token := intent.Token.Address
	var legs []model.SwapLeg
	if kind == kindDEXNative {
		leg, err := b.dexLeg(ctx, legRequest{in: token, out: b.wbnb, amountIn: intent.AmountIn, hint: intent.Token.Pool, turbo: intent.Turbo, identityOnly: identityOnly}, slippage)
		if err != nil {
			return Route{}, err
		}
		legs = []model.SwapLeg{leg}
	} else {
		first, err := b.dexLeg(ctx, legRequest{in: token, out: bridge, amountIn: intent.AmountIn, hint: intent.Token.Pool, turbo: intent.Turbo, identityOnly: identityOnly}, slippage)
		if err != nil {
			return Route{}, err
		}
		req := b.bridgeLegRequest(bridge, b.wbnb, first.AmountOut)
		req.identityOnly = identityOnly
		second, err := b.dexLeg(ctx, req, slippage)
		if err != nil {
			return Route{}, b.legError(err, bridge, b.wbnb, intent.Token)
		}
		legs = []model.SwapLeg{first, second}
	}
	calldata, err := b.assembleDEX(legs, intent.Recipient, true)
	if err != nil {
		return Route{}, err
	}
	last := legs[len(legs)-1]
	return Route{
		Legs:      legs,
		MinOut:    last.MinOut,
		QuotedOut: last.AmountOut,
		Target:    router,
		Calldata:  calldata,
		Value:     new(big.Int),
		Spender:   router,
	}, nil
}

type legRequest struct {
	in, out      common.Address
	amountIn     *big.Int
	hint         *common.Address
	turbo        bool
	identityOnly bool
	preferred    model.Venue
}

func (b *Builder) bridgeLegRequest(in, out common.Address, amountIn *big.Int) legRequest {
	bridge := in
	if bridge == b.wbnb {
		bridge = out
	}
	req := legRequest{in: in, out: out, amountIn: amountIn}
	if venue, ok := b.config.BridgePreferred[bridge]; ok {
		req.turbo = true
		req.preferred = venue
	}
	return req
}

func (b *Builder) dexLeg(ctx context.Context, req legRequest, slippageBps int64) (model.SwapLeg, error) {
	preferred := req.preferred
	if preferred == "" && req.turbo {
		preferred = model.VenueV3
		if req.hint != nil {
			preferred = model.VenueV2
		}
	}
	res := b.quoter.BestQuote(ctx, quote.Request{
		TokenIn:        req.in,
		TokenOut:       req.out,
		AmountIn:       req.amountIn,
		HintPair:       req.hint,
		PreferredFee:   b.config.PreferredFee,
		PreferredVenue: preferred,
		Turbo:          req.turbo,
		IdentityOnly:   req.identityOnly,
		Executable:     true,
	})
	if !res.OK {
		if res.Reason == quote.ReasonNoLiquidity {
			return model.SwapLeg{}, clierr.New(clierr.CodeLiquidity, res.Reason)
		}
		return model.SwapLeg{}, clierr.New(clierr.CodeUsage, res.Reason)
	}
	leg := model.SwapLeg{
		Venue:     res.Venue,
		TokenIn:   req.in,
		TokenOut:  req.out,
		Pool:      res.Pool,
		Fee:       res.Fee,
		AmountIn:  req.amountIn,
		AmountOut: res.AmountOut,
		MinOut:    new(big.Int),
	}
	if !req.identityOnly {
		leg.MinOut = MinOut(res.AmountOut, slippageBps)
	}
	b.logger.WithField("venue", res.Venue).WithField("pool", res.Pool.Hex()).Debug("leg resolved")
	return leg, nil
}

// legError prefixes a bridge leg failure with the pair it was quoting.
func (b *Builder) legError(err error, in, out common.Address, token model.TokenRef) error {
	typed, ok := clierr.As(err)
	if !ok {
		return err
	}
	return clierr.Wrap(typed.Code, fmt.Sprintf("bridge leg %s→%s: %s", b.symbol(in, token), b.symbol(out, token), typed.Message), typed.Cause)
}

func (b *Builder) symbol(addr common.Address, token model.TokenRef) string {
	if addr == b.wbnb {
		return "WBNB"
	}
	if bridge, ok := registry.LookupBridgeToken(b.config.ChainID, addr); ok {
		return bridge.Symbol
	}
	if addr == token.Address && token.Symbol != "" {
		return token.Symbol
	}
	return addr.Hex()
}
