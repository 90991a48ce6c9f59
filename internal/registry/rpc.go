package registry

import (
	"fmt"
	"strings"
)

// Public endpoints used whenever no rpc_endpoints are configured.
var defaultRPCsByChainID = map[int64][]string{
	56: {
		"https://bsc-dataseed.binance.org",
		"https://bsc-dataseed1.defibit.io",
		"https://bsc-dataseed1.ninicoin.io",
	},
	97: {
		"https://data-seed-prebsc-1-s1.binance.org:8545",
	},
}

func DefaultRPCURLs(chainID int64) ([]string, bool) {
	value, ok := defaultRPCsByChainID[chainID]
	if !ok {
		return nil, false
	}
	return append([]string(nil), value...), true
}

func ResolveRPCURLs(overrides []string, chainID int64) ([]string, error) {
	out := make([]string, 0, len(overrides))
	for _, item := range overrides {
		if v := strings.TrimSpace(item); v != "" {
			out = append(out, v)
		}
	}
	if len(out) > 0 {
		return out, nil
	}
	if value, ok := DefaultRPCURLs(chainID); ok {
		return value, nil
	}
	return nil, fmt.Errorf("no default rpc configured for chain id %d; set rpc_endpoints or --rpc-url", chainID)
}
