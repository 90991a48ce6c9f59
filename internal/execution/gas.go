package execution

import (
	"context"
	"fmt"
	"math/big"
	"strings"
)

type GasPriceSource interface {
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
}

// ResolveGasPrice prefers an explicit gwei value, then the named preset, then
// the node's suggestion.
func ResolveGasPrice(ctx context.Context, source GasPriceSource, presets map[string]string, preset string) (*big.Int, error) {
	if gwei, ok := presets[strings.ToLower(strings.TrimSpace(preset))]; ok && strings.TrimSpace(gwei) != "" {
		price, err := ParseGwei(gwei)
		if err != nil {
			return nil, fmt.Errorf("gas preset %s: %w", preset, err)
		}
		return price, nil
	}
	return source.SuggestGasPrice(ctx)
}

// ParseGwei converts a decimal gwei amount into wei.
func ParseGwei(v string) (*big.Int, error) {
	clean := strings.TrimSpace(v)
	if clean == "" {
		return nil, fmt.Errorf("empty gwei value")
	}
	rat, ok := new(big.Rat).SetString(clean)
	if !ok {
		return nil, fmt.Errorf("invalid numeric value %q", v)
	}
	if rat.Sign() < 0 {
		return nil, fmt.Errorf("value must be non-negative")
	}
	rat.Mul(rat, big.NewRat(1_000_000_000, 1))
	if !rat.IsInt() {
		return nil, fmt.Errorf("value must resolve to an integer wei amount")
	}
	return new(big.Int).Set(rat.Num()), nil
}

// scaleGas applies the estimate multiplier, rounding up.
func scaleGas(estimate uint64, multiplier float64) uint64 {
	if multiplier <= 1 {
		return estimate
	}
	scaled := new(big.Float).Mul(new(big.Float).SetUint64(estimate), big.NewFloat(multiplier))
	out, acc := scaled.Uint64()
	if acc == big.Below {
		out++
	}
	return out
}
