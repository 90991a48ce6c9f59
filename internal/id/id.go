package id

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	clierr "github.com/ggonzalez94/bsc-trader/internal/errors"
)

var (
	eip155ChainPattern = regexp.MustCompile(`^eip155:[0-9]+$`)
	evmAddressPattern  = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)
)

type Chain struct {
	Name       string
	Slug       string
	CAIP2      string
	EVMChainID int64
}

var chainBySlug = map[string]Chain{
	"bsc":         {Name: "BNB Smart Chain", Slug: "bsc", CAIP2: "eip155:56", EVMChainID: 56},
	"bnb":         {Name: "BNB Smart Chain", Slug: "bsc", CAIP2: "eip155:56", EVMChainID: 56},
	"bsc-testnet": {Name: "BNB Smart Chain Testnet", Slug: "bsc-testnet", CAIP2: "eip155:97", EVMChainID: 97},
}

var chainByID = map[int64]Chain{
	56: chainBySlug["bsc"],
	97: chainBySlug["bsc-testnet"],
}

// ParseChain accepts a slug, a numeric chain id or a CAIP-2 eip155 identifier.
func ParseChain(input string) (Chain, error) {
	norm := strings.ToLower(strings.TrimSpace(input))
	if norm == "" {
		return Chain{}, clierr.New(clierr.CodeUsage, "chain is required")
	}
	if chain, ok := chainBySlug[norm]; ok {
		return chain, nil
	}
	if eip155ChainPattern.MatchString(norm) {
		norm = strings.TrimPrefix(norm, "eip155:")
	}
	n, err := strconv.ParseInt(norm, 10, 64)
	if err != nil || n <= 0 {
		return Chain{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("unsupported chain %q", input))
	}
	if chain, ok := chainByID[n]; ok {
		return chain, nil
	}
	return Chain{Name: fmt.Sprintf("eip155:%d", n), Slug: norm, CAIP2: fmt.Sprintf("eip155:%d", n), EVMChainID: n}, nil
}

// ParseAddress validates a case-insensitive 20-byte hex address.
func ParseAddress(input, field string) (common.Address, error) {
	v := strings.TrimSpace(input)
	if !evmAddressPattern.MatchString(v) {
		return common.Address{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("%s must be a 20-byte hex address", field))
	}
	return common.HexToAddress(v), nil
}

// ParseOptionalAddress is ParseAddress that maps empty input to nil.
func ParseOptionalAddress(input, field string) (*common.Address, error) {
	if strings.TrimSpace(input) == "" {
		return nil, nil
	}
	addr, err := ParseAddress(input, field)
	if err != nil {
		return nil, err
	}
	return &addr, nil
}
