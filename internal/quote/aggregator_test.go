package quote

import (
	"context"
	"math/big"
	"reflect"
	"sync/atomic"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/ggonzalez94/bsc-trader/internal/chain"
	"github.com/ggonzalez94/bsc-trader/internal/chain/chaintest"
	"github.com/ggonzalez94/bsc-trader/internal/model"
)

var (
	tokenA    = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	tokenB    = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	pairAB    = common.HexToAddress("0x0000000000000000000000000000000000000ab0")
	poolAB    = common.HexToAddress("0x0000000000000000000000000000000000000ab3")
	factoryV2 = common.HexToAddress("0xcA143Ce32Fe78f1f7019d7d551a6402fC5350c73")
	factoryV3 = common.HexToAddress("0x0BFbCF9fa4f9C56B0F40a671Ad40E0805A091865")
	quoterV2  = common.HexToAddress("0xB048Bbc1Ee6b733FFfCFb9e9CeF7375518e25997")
	foreignV2 = common.HexToAddress("0x00000000000000000000000000000000000f0f0f")
)

type venueMock struct {
	server        *chaintest.Server
	reservesReads atomic.Int32
	quoterCalls   atomic.Int32
}

// newVenueMock serves a V2 pair quoting 10000 A -> 100 B and V3 outputs per fee tier.
func newVenueMock(t *testing.T, withPair bool, v3Out map[uint32]int64) *venueMock {
	t.Helper()
	m := &venueMock{server: chaintest.NewServer(t)}
	m.server.CallABI(factoryV2, v2FactoryABI, "getPair", func(args []any) ([]any, error) {
		if withPair {
			return []any{pairAB}, nil
		}
		return []any{common.Address{}}, nil
	})
	m.server.CallABI(pairAB, v2PairABI, "token0", func([]any) ([]any, error) {
		return []any{tokenA}, nil
	})
	m.server.CallABI(pairAB, v2PairABI, "getReserves", func([]any) ([]any, error) {
		m.reservesReads.Add(1)
		return []any{big.NewInt(89775), big.NewInt(1000), uint32(1)}, nil
	})
	m.server.CallABI(quoterV2, quoterABI, "quoteExactInputSingle", func(args []any) ([]any, error) {
		m.quoterCalls.Add(1)
		params := *abi.ConvertType(args[0], new(quoteExactInputSingleParams)).(*quoteExactInputSingleParams)
		out, ok := v3Out[uint32(params.Fee.Uint64())]
		if !ok {
			return nil, chaintest.Revert("SPL")
		}
		return []any{big.NewInt(out), big.NewInt(0), uint32(1), big.NewInt(90000)}, nil
	})
	m.server.CallABI(factoryV3, v3FactoryABI, "getPool", func(args []any) ([]any, error) {
		fee := args[2].(*big.Int).Uint64()
		if _, ok := v3Out[uint32(fee)]; ok {
			return []any{poolAB}, nil
		}
		return []any{common.Address{}}, nil
	})
	return m
}

func newTestAggregator(t *testing.T, server *chaintest.Server, cfg Config) *Aggregator {
	t.Helper()
	pool, err := chain.NewPool(context.Background(), chain.PoolConfig{ChainID: 56, Endpoints: []string{server.URL}}, nil)
	if err != nil {
		t.Fatalf("NewPool failed: %v", err)
	}
	t.Cleanup(pool.Close)
	return New(pool, 56, cfg, nil)
}

func TestBestQuotePicksHigherVenue(t *testing.T) {
	mock := newVenueMock(t, true, map[uint32]int64{2500: 105})
	agg := newTestAggregator(t, mock.server, Config{})

	res := agg.BestQuote(context.Background(), Request{TokenIn: tokenA, TokenOut: tokenB, AmountIn: big.NewInt(10000)})
	if !res.OK {
		t.Fatalf("expected a quote, got %q", res.Reason)
	}
	if res.Venue != model.VenueV3 || res.Fee != 2500 || res.AmountOut.Int64() != 105 || res.Pool != poolAB {
		t.Fatalf("unexpected quote %+v", res)
	}
}

func TestBestQuoteKeepsV2WhenBetter(t *testing.T) {
	mock := newVenueMock(t, true, map[uint32]int64{500: 99})
	agg := newTestAggregator(t, mock.server, Config{})

	res := agg.BestQuote(context.Background(), Request{TokenIn: tokenA, TokenOut: tokenB, AmountIn: big.NewInt(10000)})
	if !res.OK || res.Venue != model.VenueV2 || res.AmountOut.Int64() != 100 || res.Pool != pairAB {
		t.Fatalf("expected V2 quote of 100 on pairAB, got %+v", res)
	}
}

func TestBestQuoteTieFavorsV3(t *testing.T) {
	mock := newVenueMock(t, true, map[uint32]int64{100: 100})
	agg := newTestAggregator(t, mock.server, Config{})

	res := agg.BestQuote(context.Background(), Request{TokenIn: tokenA, TokenOut: tokenB, AmountIn: big.NewInt(10000)})
	if !res.OK || res.Venue != model.VenueV3 || res.Fee != 100 {
		t.Fatalf("expected V3 fee 100 on tie, got %+v", res)
	}
}

func TestBestQuotePreferredTierWinsTie(t *testing.T) {
	mock := newVenueMock(t, false, map[uint32]int64{500: 200, 10000: 200})
	agg := newTestAggregator(t, mock.server, Config{})

	res := agg.BestQuote(context.Background(), Request{TokenIn: tokenA, TokenOut: tokenB, AmountIn: big.NewInt(10000), PreferredFee: 10000})
	if !res.OK || res.Fee != 10000 {
		t.Fatalf("expected preferred tier 10000, got %+v", res)
	}
}

func TestBestQuoteNoLiquidity(t *testing.T) {
	mock := newVenueMock(t, false, nil)
	agg := newTestAggregator(t, mock.server, Config{})

	res := agg.BestQuote(context.Background(), Request{TokenIn: tokenA, TokenOut: tokenB, AmountIn: big.NewInt(10000)})
	if res.OK || res.Reason != ReasonNoLiquidity {
		t.Fatalf("expected no liquidity, got %+v", res)
	}
	if res.AmountOut != nil || res.Pool != (common.Address{}) {
		t.Fatalf("failed quote must carry no amount or pool, got %+v", res)
	}
}

func TestBestQuoteUsesHintPair(t *testing.T) {
	mock := newVenueMock(t, false, nil)
	agg := newTestAggregator(t, mock.server, Config{})

	hint := pairAB
	res := agg.BestQuote(context.Background(), Request{TokenIn: tokenA, TokenOut: tokenB, AmountIn: big.NewInt(10000), HintPair: &hint})
	if !res.OK || res.Pool != pairAB || res.AmountOut.Int64() != 100 {
		t.Fatalf("expected hint pair quote, got %+v", res)
	}
}

func TestExecutableQuoteIgnoresForeignHintPair(t *testing.T) {
	mock := newVenueMock(t, false, nil)
	mock.server.CallABI(pairAB, v2PairABI, "factory", func([]any) ([]any, error) {
		return []any{foreignV2}, nil
	})
	agg := newTestAggregator(t, mock.server, Config{})
	hint := pairAB

	priced := agg.BestQuote(context.Background(), Request{TokenIn: tokenA, TokenOut: tokenB, AmountIn: big.NewInt(10000), HintPair: &hint})
	if !priced.OK || priced.Pool != pairAB {
		t.Fatalf("pricing should still use the hint pair, got %+v", priced)
	}
	res := agg.BestQuote(context.Background(), Request{TokenIn: tokenA, TokenOut: tokenB, AmountIn: big.NewInt(10000), HintPair: &hint, Executable: true})
	if res.OK || res.Reason != ReasonNoLiquidity {
		t.Fatalf("a pair outside the router factory must not back an executable quote, got %+v", res)
	}
}

func TestExecutableQuoteAcceptsRouterHintPair(t *testing.T) {
	mock := newVenueMock(t, false, nil)
	mock.server.CallABI(pairAB, v2PairABI, "factory", func([]any) ([]any, error) {
		return []any{factoryV2}, nil
	})
	agg := newTestAggregator(t, mock.server, Config{})
	hint := pairAB

	res := agg.BestQuote(context.Background(), Request{TokenIn: tokenA, TokenOut: tokenB, AmountIn: big.NewInt(10000), HintPair: &hint, Executable: true})
	if !res.OK || res.Pool != pairAB || res.AmountOut.Int64() != 100 {
		t.Fatalf("expected router-minted hint pair to quote, got %+v", res)
	}
}

func TestExecutableQuoteSkipsExtraFactories(t *testing.T) {
	mock := newVenueMock(t, false, nil)
	mock.server.CallABI(foreignV2, v2FactoryABI, "getPair", func([]any) ([]any, error) {
		return []any{pairAB}, nil
	})
	agg := newTestAggregator(t, mock.server, Config{ExtraV2Factories: []common.Address{foreignV2}})
	req := Request{TokenIn: tokenA, TokenOut: tokenB, AmountIn: big.NewInt(10000)}

	if res := agg.BestQuote(context.Background(), req); !res.OK || res.Pool != pairAB {
		t.Fatalf("extra factory pair should price, got %+v", res)
	}
	req.Executable = true
	if res := agg.BestQuote(context.Background(), req); res.OK {
		t.Fatalf("extra factory pair must not back an executable quote, got %+v", res)
	}
}

func TestTurboIdentityOnlySkipsReservesAndQuoter(t *testing.T) {
	mock := newVenueMock(t, true, map[uint32]int64{2500: 105})
	agg := newTestAggregator(t, mock.server, Config{})

	res := agg.BestQuote(context.Background(), Request{
		TokenIn: tokenA, TokenOut: tokenB, Turbo: true, IdentityOnly: true, PreferredVenue: model.VenueV2,
	})
	if !res.OK || res.Venue != model.VenueV2 || res.Pool != pairAB || res.AmountOut != nil {
		t.Fatalf("unexpected identity quote %+v", res)
	}
	if mock.reservesReads.Load() != 0 || mock.quoterCalls.Load() != 0 {
		t.Fatalf("identity lookup read reserves %d times and quoter %d times", mock.reservesReads.Load(), mock.quoterCalls.Load())
	}
}

func TestTurboIdentityWithoutV3FactoryFallsBackToV2(t *testing.T) {
	mock := newVenueMock(t, true, map[uint32]int64{2500: 105})
	agg := newTestAggregator(t, mock.server, Config{})
	agg.v3Factory = common.Address{}

	res := agg.BestQuote(context.Background(), Request{
		TokenIn: tokenA, TokenOut: tokenB, Turbo: true, IdentityOnly: true, PreferredVenue: model.VenueV3,
	})
	if !res.OK || res.Venue != model.VenueV2 || res.Pool != pairAB {
		t.Fatalf("expected fallback to the V2 pair, got %+v", res)
	}
}

func TestTurboPreferredClassSkipsOther(t *testing.T) {
	mock := newVenueMock(t, true, map[uint32]int64{2500: 105})
	agg := newTestAggregator(t, mock.server, Config{})

	res := agg.BestQuote(context.Background(), Request{
		TokenIn: tokenA, TokenOut: tokenB, AmountIn: big.NewInt(10000), Turbo: true, PreferredVenue: model.VenueV2,
	})
	if !res.OK || res.Venue != model.VenueV2 {
		t.Fatalf("expected preferred V2 quote, got %+v", res)
	}
	if n := mock.quoterCalls.Load(); n != 0 {
		t.Fatalf("quoter called %d times", n)
	}
}

func TestAmountOutV2MonotoneAndBelowReserve(t *testing.T) {
	reserveIn := big.NewInt(5_000_000)
	reserveOut := big.NewInt(1_000_000)
	prev := big.NewInt(0)
	for _, in := range []int64{1, 10, 1_000, 50_000, 5_000_000, 500_000_000, 1 << 60} {
		out := AmountOutV2(big.NewInt(in), reserveIn, reserveOut)
		if out.Cmp(prev) < 0 {
			t.Fatalf("output decreased at %d", in)
		}
		if out.Cmp(reserveOut) >= 0 {
			t.Fatalf("output %s reached reserve at %d", out, in)
		}
		prev = out
	}
	if got := AmountOutV2(big.NewInt(10000), big.NewInt(89775), big.NewInt(1000)).Int64(); got != 100 {
		t.Fatalf("expected 100, got %d", got)
	}
	if AmountOutV2(big.NewInt(1), big.NewInt(0), reserveOut).Sign() != 0 {
		t.Fatal("empty reserve must quote zero")
	}
}

func TestAmountOutV2LargeValuesFallBackToBigInt(t *testing.T) {
	huge := new(big.Int).Lsh(big.NewInt(1), 200)
	out := AmountOutV2(huge, huge, huge)
	if out.Sign() <= 0 || out.Cmp(huge) >= 0 {
		t.Fatalf("unexpected output %s", out)
	}
}

func TestOrderedTiers(t *testing.T) {
	if got := orderedTiers(DefaultFeeTiers, 2500); !reflect.DeepEqual(got, []uint32{2500, 100, 500, 10000}) {
		t.Fatalf("unexpected order %v", got)
	}
	if got := orderedTiers(DefaultFeeTiers, 0); !reflect.DeepEqual(got, DefaultFeeTiers) {
		t.Fatalf("unexpected order %v", got)
	}
}

func TestBestQuoteRejectsNonPositiveAmount(t *testing.T) {
	agg := New(stubReader{}, 56, Config{}, nil)
	res := agg.BestQuote(context.Background(), Request{TokenIn: tokenA, TokenOut: tokenB, AmountIn: big.NewInt(0)})
	if res.OK {
		t.Fatalf("expected rejection, got %+v", res)
	}
}

type stubReader struct{ chain.Reader }
