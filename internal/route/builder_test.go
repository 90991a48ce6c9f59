package route

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	clierr "github.com/ggonzalez94/bsc-trader/internal/errors"
	"github.com/ggonzalez94/bsc-trader/internal/model"
	"github.com/ggonzalez94/bsc-trader/internal/quote"
)

var (
	wbnb      = common.HexToAddress("0xbb4CdB9CBd36B01bD1cBaEBF2De08d9173bc095c")
	usdt      = common.HexToAddress("0x55d398326f99059fF775485246999027B3197955")
	router    = common.HexToAddress("0x13f4EA83D0bd40E75C8222255bc855a974568Dd4")
	manager   = common.HexToAddress("0x5c952063c7fc8610FFDB798152D69F0B9550762b")
	helper    = common.HexToAddress("0xF251F83e40a78868FcfA3FA4599Dad6494E46034")
	memeToken = common.HexToAddress("0x0000000000000000000000000000000000004444")
	recipient = common.HexToAddress("0x00000000000000000000000000000000000000AA")
)

type pairKey struct{ in, out common.Address }

type fakeQuoter struct {
	mu       sync.Mutex
	results  map[pairKey]quote.Result
	requests []quote.Request
}

func (f *fakeQuoter) BestQuote(_ context.Context, req quote.Request) quote.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	res, ok := f.results[pairKey{req.TokenIn, req.TokenOut}]
	if !ok {
		return quote.Result{Reason: quote.ReasonNoLiquidity}
	}
	if req.IdentityOnly {
		res.AmountOut = nil
	}
	return res
}

func found(venue model.Venue, fee uint32, out int64) quote.Result {
	return quote.Result{OK: true, Quote: quote.Quote{Venue: venue, Fee: fee, AmountOut: big.NewInt(out), Pool: common.HexToAddress("0x0000000000000000000000000000000000000f00")}}
}

type failingReader struct{}

func (failingReader) CallContract(context.Context, ethereum.CallMsg, *big.Int) ([]byte, error) {
	return nil, errors.New("unavailable")
}

func (failingReader) BalanceAt(context.Context, common.Address, *big.Int) (*big.Int, error) {
	return nil, errors.New("unavailable")
}

func newTestBuilder(chainID int64, quoter Quoter) *Builder {
	b := New(failingReader{}, quoter, Config{ChainID: chainID}, nil)
	b.now = func() time.Time { return time.Unix(1_700_000_000, 0) }
	return b
}

type decodedCall struct {
	method string
	args   []any
}

func decodeMulticall(t *testing.T, data []byte) (*big.Int, []decodedCall) {
	t.Helper()
	method, err := routerABI.MethodById(data[:4])
	if err != nil || method.Name != "multicall" {
		t.Fatalf("expected multicall, got %v %v", method, err)
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		t.Fatalf("unpack multicall: %v", err)
	}
	var calls []decodedCall
	for _, raw := range args[1].([][]byte) {
		inner, err := routerABI.MethodById(raw[:4])
		if err != nil {
			t.Fatalf("unknown inner call: %v", err)
		}
		innerArgs, err := inner.Inputs.Unpack(raw[4:])
		if err != nil {
			t.Fatalf("unpack %s: %v", inner.Name, err)
		}
		calls = append(calls, decodedCall{method: inner.Name, args: innerArgs})
	}
	return args[0].(*big.Int), calls
}

func exactInput(t *testing.T, call decodedCall) exactInputSingleParams {
	t.Helper()
	if call.method != "exactInputSingle" {
		t.Fatalf("expected exactInputSingle, got %s", call.method)
	}
	return *abi.ConvertType(call.args[0], new(exactInputSingleParams)).(*exactInputSingleParams)
}

func TestBuildBuyRouteNativeDEX(t *testing.T) {
	q := &fakeQuoter{results: map[pairKey]quote.Result{{wbnb, memeToken}: found(model.VenueV3, 2500, 1000)}}
	b := newTestBuilder(56, q)

	r, err := b.BuildBuyRoute(context.Background(), BuyIntent{
		Token:       model.TokenRef{ChainID: 56, Address: memeToken},
		AmountIn:    big.NewInt(1e15),
		Recipient:   recipient,
		SlippageBps: 500,
	})
	if err != nil {
		t.Fatalf("BuildBuyRoute failed: %v", err)
	}
	if len(r.Legs) != 1 || r.Target != router || r.Spender != (common.Address{}) {
		t.Fatalf("unexpected route %+v", r)
	}
	if r.MinOut.Int64() != 950 || r.Value.Int64() != 1e15 {
		t.Fatalf("unexpected min out %s value %s", r.MinOut, r.Value)
	}

	deadline, calls := decodeMulticall(t, r.Calldata)
	if deadline.Int64() != 1_700_000_000+20*60 {
		t.Fatalf("unexpected deadline %s", deadline)
	}
	if len(calls) != 1 {
		t.Fatalf("expected one inner call, got %d", len(calls))
	}
	params := exactInput(t, calls[0])
	if params.TokenIn != wbnb || params.Recipient != recipient || params.Fee.Int64() != 2500 {
		t.Fatalf("unexpected swap params %+v", params)
	}
	if params.AmountIn.Int64() != 1e15 || params.AmountOutMinimum.Int64() != 950 {
		t.Fatalf("unexpected swap amounts %+v", params)
	}
}

func TestDEXLegsOnlyQuoteRouterPairs(t *testing.T) {
	q := &fakeQuoter{results: map[pairKey]quote.Result{{wbnb, memeToken}: found(model.VenueV2, 0, 1000)}}
	b := newTestBuilder(56, q)
	hint := common.HexToAddress("0x00000000000000000000000000000000000b1a5e")

	_, err := b.BuildBuyRoute(context.Background(), BuyIntent{
		Token:       model.TokenRef{ChainID: 56, Address: memeToken, Pool: &hint},
		AmountIn:    big.NewInt(1e15),
		Recipient:   recipient,
		SlippageBps: 500,
	})
	if err != nil {
		t.Fatalf("BuildBuyRoute failed: %v", err)
	}
	if len(q.requests) != 1 || !q.requests[0].Executable {
		t.Fatalf("leg quotes must be restricted to router pairs, got %+v", q.requests)
	}
}

func TestBuildBuyRouteThroughBridge(t *testing.T) {
	q := &fakeQuoter{results: map[pairKey]quote.Result{
		{wbnb, usdt}:      found(model.VenueV2, 0, 500),
		{usdt, memeToken}: found(model.VenueV3, 10000, 2000),
	}}
	b := newTestBuilder(56, q)
	quoteToken := usdt

	r, err := b.BuildBuyRoute(context.Background(), BuyIntent{
		Token:       model.TokenRef{ChainID: 56, Address: memeToken, QuoteToken: &quoteToken},
		AmountIn:    big.NewInt(1000),
		Recipient:   recipient,
		SlippageBps: 100,
	})
	if err != nil {
		t.Fatalf("BuildBuyRoute failed: %v", err)
	}
	if len(r.Legs) != 2 || r.Legs[1].AmountIn.Int64() != 500 || r.MinOut.Int64() != 1980 {
		t.Fatalf("unexpected bridged route %+v min out %s", r.Legs, r.MinOut)
	}

	_, calls := decodeMulticall(t, r.Calldata)
	if len(calls) != 2 || calls[0].method != "swapExactTokensForTokens" {
		t.Fatalf("unexpected calls %+v", calls)
	}
	if to := calls[0].args[3].(common.Address); to != AddressThis {
		t.Fatalf("first leg must pay the router, got %s", to.Hex())
	}
	second := exactInput(t, calls[1])
	if second.AmountIn.Sign() != 0 || second.Recipient != recipient {
		t.Fatalf("second leg must spend the router balance for the recipient, got %+v", second)
	}
}

func TestBuildSellRouteNativeOutUnwraps(t *testing.T) {
	q := &fakeQuoter{results: map[pairKey]quote.Result{{memeToken, wbnb}: found(model.VenueV2, 0, 10000)}}
	b := newTestBuilder(56, q)

	r, err := b.BuildSellRoute(context.Background(), SellIntent{
		Token:       model.TokenRef{ChainID: 56, Address: memeToken},
		AmountIn:    big.NewInt(777),
		Recipient:   recipient,
		SlippageBps: 500,
	})
	if err != nil {
		t.Fatalf("BuildSellRoute failed: %v", err)
	}
	if r.Spender != router || r.MinOut.Int64() != 9500 || r.Value.Sign() != 0 {
		t.Fatalf("unexpected sell route spender %s min out %s value %s", r.Spender.Hex(), r.MinOut, r.Value)
	}

	_, calls := decodeMulticall(t, r.Calldata)
	if len(calls) != 2 || calls[0].method != "swapExactTokensForTokens" || calls[1].method != "unwrapWETH9" {
		t.Fatalf("unexpected calls %+v", calls)
	}
	if to := calls[0].args[3].(common.Address); to != AddressThis {
		t.Fatalf("swap must pay the router, got %s", to.Hex())
	}
	if calls[1].args[0].(*big.Int).Int64() != 9500 || calls[1].args[1].(common.Address) != recipient {
		t.Fatalf("unexpected unwrap args %v", calls[1].args)
	}
}

func TestMinOutNeverExceedsQuote(t *testing.T) {
	for _, out := range []int64{1, 7, 999, 1_000_000, 123_456_789} {
		for _, slip := range []int64{0, 1, 50, 500, 9999} {
			minOut := MinOut(big.NewInt(out), slip)
			if minOut.Cmp(big.NewInt(out)) > 0 || minOut.Sign() < 0 {
				t.Fatalf("MinOut(%d, %d) = %s", out, slip, minOut)
			}
		}
	}
	if MinOut(nil, 100).Sign() != 0 {
		t.Fatal("nil quote must give zero min out")
	}
}

func TestLaunchpadLegsHaveZeroMinOut(t *testing.T) {
	b := newTestBuilder(56, &fakeQuoter{})
	inner := model.TokenRef{ChainID: 56, Address: memeToken, Platform: model.PlatformFourMeme, Status: model.LaunchpadInner}

	buy, err := b.BuildBuyRoute(context.Background(), BuyIntent{Token: inner, AmountIn: big.NewInt(5e16), Recipient: recipient, SlippageBps: 500})
	if err != nil {
		t.Fatalf("BuildBuyRoute failed: %v", err)
	}
	if buy.Target != manager || buy.MinOut.Sign() != 0 || buy.Legs[0].Venue != model.VenueLaunchpadBuy {
		t.Fatalf("unexpected launchpad buy %+v", buy)
	}
	args, err := managerABI.Methods["buyTokenAMAP"].Inputs.Unpack(buy.Calldata[4:])
	if err != nil {
		t.Fatalf("unpack buyTokenAMAP: %v", err)
	}
	if args[0].(common.Address) != memeToken || args[2].(*big.Int).Sign() != 0 {
		t.Fatalf("unexpected buyTokenAMAP args %v", args)
	}

	sell, err := b.BuildSellRoute(context.Background(), SellIntent{Token: inner, AmountIn: big.NewInt(10), Recipient: recipient, SlippageBps: 500})
	if err != nil {
		t.Fatalf("BuildSellRoute failed: %v", err)
	}
	if sell.Spender != manager || sell.MinOut.Sign() != 0 {
		t.Fatalf("unexpected launchpad sell %+v", sell)
	}
}

func TestLaunchpadBridgedTokenUsesHelper(t *testing.T) {
	b := newTestBuilder(56, &fakeQuoter{})
	quoteToken := usdt
	inner := model.TokenRef{ChainID: 56, Address: memeToken, Platform: model.PlatformFourMeme, Status: model.LaunchpadInner, QuoteToken: &quoteToken}

	buy, err := b.BuildBuyRoute(context.Background(), BuyIntent{Token: inner, AmountIn: big.NewInt(100), Recipient: recipient})
	if err != nil {
		t.Fatalf("BuildBuyRoute failed: %v", err)
	}
	if buy.Target != helper || buy.Value.Int64() != 100 || !bytes.Equal(buy.Calldata[:4], helperABI.Methods["buyWithEth"].ID) {
		t.Fatalf("unexpected helper buy %+v", buy)
	}

	sell, err := b.BuildSellRoute(context.Background(), SellIntent{Token: inner, AmountIn: big.NewInt(100), Recipient: recipient})
	if err != nil {
		t.Fatalf("BuildSellRoute failed: %v", err)
	}
	if sell.Spender != helper || !bytes.Equal(sell.Calldata[:4], helperABI.Methods["sellForEth"].ID) {
		t.Fatalf("unexpected helper sell %+v", sell)
	}
}

func TestTurboPercentSellSkipsQuoting(t *testing.T) {
	q := &fakeQuoter{results: map[pairKey]quote.Result{{memeToken, wbnb}: found(model.VenueV3, 500, 10000)}}
	b := newTestBuilder(56, q)

	r, err := b.BuildSellRoute(context.Background(), SellIntent{
		Token:        model.TokenRef{ChainID: 56, Address: memeToken},
		AmountIn:     big.NewInt(1000),
		Recipient:    recipient,
		SlippageBps:  500,
		Turbo:        true,
		PercentSized: true,
	})
	if err != nil {
		t.Fatalf("BuildSellRoute failed: %v", err)
	}
	if r.MinOut.Sign() != 0 {
		t.Fatalf("identity-only sell must have zero min out, got %s", r.MinOut)
	}
	if len(q.requests) != 1 || !q.requests[0].IdentityOnly || !q.requests[0].Turbo {
		t.Fatalf("unexpected quote requests %+v", q.requests)
	}
}

func TestMissingRouterIsConfigError(t *testing.T) {
	b := newTestBuilder(97, &fakeQuoter{})
	_, err := b.BuildBuyRoute(context.Background(), BuyIntent{Token: model.TokenRef{ChainID: 97, Address: memeToken}, AmountIn: big.NewInt(1)})
	if !clierr.Is(err, clierr.CodeConfig) {
		t.Fatalf("expected config error, got %v", err)
	}
	if got := clierr.Reason(err); got != "router contract address not configured for chain 97" {
		t.Fatalf("unexpected reason %q", got)
	}
}

func TestBridgeLegWithoutLiquidity(t *testing.T) {
	b := newTestBuilder(56, &fakeQuoter{results: map[pairKey]quote.Result{}})
	quoteToken := usdt
	_, err := b.BuildBuyRoute(context.Background(), BuyIntent{
		Token:    model.TokenRef{ChainID: 56, Address: memeToken, QuoteToken: &quoteToken},
		AmountIn: big.NewInt(1),
	})
	if !clierr.Is(err, clierr.CodeLiquidity) {
		t.Fatalf("expected liquidity error, got %v", err)
	}
	if got := clierr.Reason(err); got != "bridge leg WBNB→USDT: no liquidity pool for token pair" {
		t.Fatalf("unexpected reason %q", got)
	}
}

func TestDirectLegWithoutLiquidityIsVerbatim(t *testing.T) {
	b := newTestBuilder(56, &fakeQuoter{results: map[pairKey]quote.Result{}})
	_, err := b.BuildSellRoute(context.Background(), SellIntent{Token: model.TokenRef{ChainID: 56, Address: memeToken}, AmountIn: big.NewInt(1)})
	if !clierr.Is(err, clierr.CodeLiquidity) || clierr.Reason(err) != quote.ReasonNoLiquidity {
		t.Fatalf("expected verbatim no-liquidity error, got %v", err)
	}
}

func TestUnrecognizedQuoteTokenIsUnsupported(t *testing.T) {
	b := newTestBuilder(56, &fakeQuoter{})
	odd := common.HexToAddress("0x0000000000000000000000000000000000009999")
	_, err := b.BuildBuyRoute(context.Background(), BuyIntent{Token: model.TokenRef{ChainID: 56, Address: memeToken, QuoteToken: &odd}, AmountIn: big.NewInt(1)})
	if !clierr.Is(err, clierr.CodeUnsupported) {
		t.Fatalf("expected unsupported error, got %v", err)
	}
}

func TestBridgePreferenceQueriesOneClassFirst(t *testing.T) {
	q := &fakeQuoter{results: map[pairKey]quote.Result{
		{wbnb, usdt}:      found(model.VenueV2, 0, 500),
		{usdt, memeToken}: found(model.VenueV2, 0, 2000),
	}}
	b := New(failingReader{}, q, Config{ChainID: 56, BridgePreferred: map[common.Address]model.Venue{usdt: model.VenueV2}}, nil)
	quoteToken := usdt
	_, err := b.BuildBuyRoute(context.Background(), BuyIntent{Token: model.TokenRef{ChainID: 56, Address: memeToken, QuoteToken: &quoteToken}, AmountIn: big.NewInt(1000)})
	if err != nil {
		t.Fatalf("BuildBuyRoute failed: %v", err)
	}
	if !q.requests[0].Turbo || q.requests[0].PreferredVenue != model.VenueV2 {
		t.Fatalf("bridge leg must prefer V2, got %+v", q.requests[0])
	}
	if q.requests[1].Turbo {
		t.Fatalf("token leg must quote both classes, got %+v", q.requests[1])
	}
}
