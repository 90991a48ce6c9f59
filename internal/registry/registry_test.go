package registry

import (
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

func TestContractsForBSC(t *testing.T) {
	c, ok := Contracts(56)
	if !ok {
		t.Fatal("expected bsc contracts to exist")
	}
	if c.SmartRouter == "" || c.V3QuoterV2 == "" || c.LaunchpadManager == "" || len(c.V2Factories) == 0 {
		t.Fatalf("unexpected empty bsc contract values: %+v", c)
	}
	for _, raw := range append([]string{c.WrappedNative, c.StableUSD, c.V3Factory, c.LaunchpadHelper}, c.V2Factories...) {
		if !common.IsHexAddress(raw) {
			t.Fatalf("invalid address in registry: %q", raw)
		}
	}
	if _, ok := Contracts(1); ok {
		t.Fatal("did not expect contracts for unsupported chain")
	}
}

func TestTestnetHasNoRouter(t *testing.T) {
	c, ok := Contracts(97)
	if !ok {
		t.Fatal("expected bsc testnet entry")
	}
	if c.SmartRouter != "" {
		t.Fatalf("did not expect a testnet router, got %s", c.SmartRouter)
	}
}

func TestLookupBridgeToken(t *testing.T) {
	usdt := common.HexToAddress("0x55d398326f99059ff775485246999027b3197955")
	token, ok := LookupBridgeToken(56, usdt)
	if !ok || token.Symbol != "USDT" {
		t.Fatalf("expected USDT bridge token, got %+v ok=%v", token, ok)
	}
	if _, ok := LookupBridgeToken(56, common.HexToAddress("0x00000000000000000000000000000000000000aa")); ok {
		t.Fatal("did not expect unknown token to be a bridge token")
	}
}

func TestIsNativeQuote(t *testing.T) {
	if !IsNativeQuote(56, common.Address{}) {
		t.Fatal("expected zero address to be native")
	}
	if !IsNativeQuote(56, common.HexToAddress("0xbb4cdb9cbd36b01bd1cbaebf2de08d9173bc095c")) {
		t.Fatal("expected WBNB to be native")
	}
	if IsNativeQuote(56, common.HexToAddress("0x55d398326f99059fF775485246999027B3197955")) {
		t.Fatal("did not expect USDT to be native")
	}
}

func TestABIConstantsParse(t *testing.T) {
	abis := []string{
		ERC20ABI,
		PancakeV2FactoryABI,
		PancakeV2PairABI,
		PancakeV3FactoryABI,
		PancakeV3QuoterV2ABI,
		PancakeSmartRouterABI,
		LaunchpadManagerABI,
		LaunchpadHelperABI,
	}
	for _, raw := range abis {
		if _, err := abi.JSON(strings.NewReader(raw)); err != nil {
			t.Fatalf("failed to parse abi json: %v", err)
		}
	}
}

func TestResolveRPCURLs(t *testing.T) {
	urls, err := ResolveRPCURLs(nil, 56)
	if err != nil || len(urls) == 0 {
		t.Fatalf("expected bsc defaults, got %v err=%v", urls, err)
	}
	urls, err = ResolveRPCURLs([]string{" https://custom.example ", ""}, 56)
	if err != nil || len(urls) != 1 || urls[0] != "https://custom.example" {
		t.Fatalf("expected override, got %v err=%v", urls, err)
	}
	if _, err := ResolveRPCURLs(nil, 999999); err == nil {
		t.Fatal("expected error for unknown chain without override")
	}
}

func TestIsAllowedRelayURL(t *testing.T) {
	cases := map[string]bool{
		"https://relay.example/rpc": true,
		"http://127.0.0.1:8545":     true,
		"http://localhost:8545":     true,
		"http://relay.example":      false,
		"ftp://relay.example":       false,
		"":                          false,
	}
	for input, want := range cases {
		if got := IsAllowedRelayURL(input); got != want {
			t.Fatalf("IsAllowedRelayURL(%q)=%v want %v", input, got, want)
		}
	}
}
