package token

import (
	"context"
	"math/big"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ggonzalez94/bsc-trader/internal/cache"
	"github.com/ggonzalez94/bsc-trader/internal/chain"
	"github.com/ggonzalez94/bsc-trader/internal/chain/chaintest"
	clierr "github.com/ggonzalez94/bsc-trader/internal/errors"
	"github.com/ggonzalez94/bsc-trader/internal/model"
	"github.com/ggonzalez94/bsc-trader/internal/registry"
)

var (
	memeToken = common.HexToAddress("0x00000000000000000000000000000000000044a4")
	plainCoin = common.HexToAddress("0x0E09FaBB73Bd3Ade0a17ECC321fD13a19e81cE82")
	usd1      = common.HexToAddress("0x8d0D000Ee44948FC98c9B98A4FA4921476f08B0d")
	manager   = common.HexToAddress("0x5c952063c7fc8610FFDB798152D69F0B9550762b")
	helper    = common.HexToAddress("0xF251F83e40a78868FcfA3FA4599Dad6494E46034")
)

type fixture struct {
	server *chaintest.Server
	reader chain.Reader
	store  *cache.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	server := chaintest.NewServer(t)
	for addr, sym := range map[common.Address]string{memeToken: "MEME", plainCoin: "Cake"} {
		server.CallABI(addr, erc20ABI, "decimals", func([]any) ([]any, error) { return []any{uint8(18)}, nil })
		server.CallABI(addr, erc20ABI, "symbol", func([]any) ([]any, error) { return []any{sym}, nil })
	}
	server.CallABI(helper, helperABI, "getTokenInfo", func(args []any) ([]any, error) {
		token := args[0].(common.Address)
		zero := new(big.Int)
		if token != memeToken {
			return []any{zero, common.Address{}, common.Address{}, zero, zero, zero, zero, zero, zero, zero, zero, false}, nil
		}
		return []any{big.NewInt(2), manager, usd1, big.NewInt(3e9), big.NewInt(100), zero, zero, big.NewInt(5), big.NewInt(8), ether(7), ether(24), false}, nil
	})
	pool, err := chain.NewPool(context.Background(), chain.PoolConfig{ChainID: 56, Endpoints: []string{server.URL}, CallTimeout: 2 * time.Second}, nil)
	if err != nil {
		t.Fatalf("NewPool failed: %v", err)
	}
	t.Cleanup(pool.Close)

	dir := t.TempDir()
	store, err := cache.Open(filepath.Join(dir, "cache.db"), filepath.Join(dir, "cache.lock"))
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return &fixture{server: server, reader: pool, store: store}
}

func TestResolveLaunchpadToken(t *testing.T) {
	f := newFixture(t)
	r := NewResolver(f.reader, 56, f.store, time.Hour, nil)

	ref, err := r.Resolve(context.Background(), memeToken, Options{})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if ref.Symbol != "MEME" || ref.Decimals != 18 {
		t.Fatalf("unexpected metadata %+v", ref)
	}
	if ref.Platform != model.PlatformFourMeme || ref.Status != model.LaunchpadInner || !ref.InnerDisk() {
		t.Fatalf("expected inner-disk launchpad token, got %+v", ref)
	}
	if ref.QuoteToken == nil || *ref.QuoteToken != usd1 {
		t.Fatalf("expected USD1 quote token, got %v", ref.QuoteToken)
	}
}

func TestResolvePlainTokenIsNotLaunchpad(t *testing.T) {
	f := newFixture(t)
	r := NewResolver(f.reader, 56, f.store, time.Hour, nil)

	ref, err := r.Resolve(context.Background(), plainCoin, Options{})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if ref.Symbol != "Cake" || ref.Platform != "" || ref.QuoteToken != nil || ref.InnerDisk() {
		t.Fatalf("unexpected plain token %+v", ref)
	}
}

func TestResolveUsesCacheUntilRefresh(t *testing.T) {
	f := newFixture(t)
	r := NewResolver(f.reader, 56, f.store, time.Hour, nil)

	if _, err := r.Resolve(context.Background(), plainCoin, Options{}); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	calls := f.server.Count("eth_call")

	hint := common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	ref, err := r.Resolve(context.Background(), plainCoin, Options{Pool: &hint})
	if err != nil {
		t.Fatalf("cached Resolve failed: %v", err)
	}
	if n := f.server.Count("eth_call"); n != calls {
		t.Fatalf("cached lookup hit the node: %d calls, want %d", n, calls)
	}
	if ref.Pool == nil || *ref.Pool != hint {
		t.Fatalf("expected pool hint %s, got %v", hint.Hex(), ref.Pool)
	}

	if _, err := r.Resolve(context.Background(), plainCoin, Options{Refresh: true}); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	if n := f.server.Count("eth_call"); n <= calls {
		t.Fatalf("refresh must read the node again, calls %d", n)
	}
}

func TestResolveNativeAndNonToken(t *testing.T) {
	f := newFixture(t)
	r := NewResolver(f.reader, 56, nil, 0, nil)

	native, err := r.Resolve(context.Background(), common.Address{}, Options{})
	if err != nil || native.Symbol != "BNB" {
		t.Fatalf("expected BNB, got %+v %v", native, err)
	}

	_, err = r.Resolve(context.Background(), common.HexToAddress("0x000000000000000000000000000000000000dead"), Options{})
	if !clierr.Is(err, clierr.CodeUsage) {
		t.Fatalf("expected usage error for a non-token, got %v", err)
	}
}

func TestLaunchpadWithoutHelper(t *testing.T) {
	f := newFixture(t)
	r := NewResolver(f.reader, 97, nil, 0, nil)
	_, ok, err := r.Launchpad(context.Background(), memeToken)
	if err != nil || ok {
		t.Fatalf("expected no launchpad on chain 97, got %v %v", ok, err)
	}
}

func TestLaunchpadReadsCurveState(t *testing.T) {
	f := newFixture(t)
	r := NewResolver(f.reader, 56, nil, 0, nil)
	info, ok, err := r.Launchpad(context.Background(), memeToken)
	if err != nil || !ok {
		t.Fatalf("expected launchpad info, got %v %v", ok, err)
	}
	if info.Manager != manager || info.LastPrice.String() != "3000000000" || info.MaxFunds.String() != "24000000000000000000" {
		t.Fatalf("unexpected curve state %+v", info)
	}

	contracts, _ := registry.Contracts(56)
	if common.HexToAddress(contracts.LaunchpadHelper) != helper {
		t.Fatalf("registry helper %s does not match fixture", contracts.LaunchpadHelper)
	}
}

func ether(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e18))
}
