package id

import "testing"

func TestParseChainVariants(t *testing.T) {
	chain, err := ParseChain("bsc")
	if err != nil {
		t.Fatalf("ParseChain(bsc) failed: %v", err)
	}
	if chain.CAIP2 != "eip155:56" {
		t.Fatalf("unexpected CAIP2: %s", chain.CAIP2)
	}

	chain, err = ParseChain("97")
	if err != nil {
		t.Fatalf("ParseChain(97) failed: %v", err)
	}
	if chain.Slug != "bsc-testnet" {
		t.Fatalf("unexpected slug: %s", chain.Slug)
	}

	chain, err = ParseChain("eip155:204")
	if err != nil {
		t.Fatalf("ParseChain(eip155:204) failed: %v", err)
	}
	if chain.EVMChainID != 204 {
		t.Fatalf("unexpected chain ID: %d", chain.EVMChainID)
	}

	if _, err := ParseChain("solana"); err == nil {
		t.Fatal("expected non-evm chain to be rejected")
	}
}

func TestParseAddressIsCaseInsensitive(t *testing.T) {
	lower, err := ParseAddress("0xbb4cdb9cbd36b01bd1cbaebf2de08d9173bc095c", "token")
	if err != nil {
		t.Fatalf("ParseAddress lower failed: %v", err)
	}
	upper, err := ParseAddress("0xBB4CDB9CBD36B01BD1CBAEBF2DE08D9173BC095C", "token")
	if err != nil {
		t.Fatalf("ParseAddress upper failed: %v", err)
	}
	if lower != upper {
		t.Fatalf("expected equal addresses, got %s and %s", lower.Hex(), upper.Hex())
	}
	if _, err := ParseAddress("0x1234", "token"); err == nil {
		t.Fatal("expected short address to fail")
	}
}

func TestParseOptionalAddress(t *testing.T) {
	addr, err := ParseOptionalAddress("", "pool")
	if err != nil || addr != nil {
		t.Fatalf("expected nil address for empty input, got %v err=%v", addr, err)
	}
	addr, err = ParseOptionalAddress("0x00000000000000000000000000000000000000aa", "pool")
	if err != nil || addr == nil {
		t.Fatalf("expected address, got %v err=%v", addr, err)
	}
}
