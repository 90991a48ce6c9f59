package id

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"

	clierr "github.com/ggonzalez94/bsc-trader/internal/errors"
)

// NormalizeAmount accepts exactly one of a base-unit integer or a whole-unit
// decimal and returns both forms.
func NormalizeAmount(baseUnits, whole string, decimals int) (string, string, error) {
	baseUnits, whole = strings.TrimSpace(baseUnits), strings.TrimSpace(whole)
	switch {
	case baseUnits != "" && whole != "":
		return "", "", clierr.New(clierr.CodeUsage, "use either --amount or --amount-decimal, not both")
	case baseUnits == "" && whole == "":
		return "", "", clierr.New(clierr.CodeUsage, "amount is required")
	case decimals < 0 || decimals > 77:
		return "", "", clierr.New(clierr.CodeUsage, fmt.Sprintf("unsupported token decimals %d", decimals))
	}

	if baseUnits != "" {
		n, err := ParseBaseUnits(baseUnits, "--amount")
		if err != nil {
			return "", "", err
		}
		return n.String(), FormatUnits(n, decimals), nil
	}

	d, err := decimal.NewFromString(whole)
	if err != nil || !d.IsPositive() || strings.ContainsAny(whole, "eE+-") {
		return "", "", clierr.New(clierr.CodeUsage, "--amount-decimal must be a positive decimal like 1.23")
	}
	if d.Exponent() < -int32(decimals) && !d.Equal(d.Truncate(int32(decimals))) {
		return "", "", clierr.New(clierr.CodeUsage, fmt.Sprintf("decimal precision exceeds token decimals (%d)", decimals))
	}
	base := d.Shift(int32(decimals)).BigInt()
	return base.String(), d.String(), nil
}

// FormatUnits renders a base-unit integer as a whole-unit decimal string.
func FormatUnits(n *big.Int, decimals int) string {
	if n == nil {
		return "0"
	}
	return decimal.NewFromBigInt(n, -int32(decimals)).String()
}

// ParseBaseUnits parses a strictly positive base-10 integer amount in the smallest unit.
func ParseBaseUnits(v, field string) (*big.Int, error) {
	clean := strings.TrimSpace(v)
	if clean == "" || strings.HasPrefix(clean, "-") || strings.HasPrefix(clean, "+") {
		return nil, clierr.New(clierr.CodeUsage, fmt.Sprintf("%s must be a positive integer string", field))
	}
	n, ok := new(big.Int).SetString(clean, 10)
	if !ok || n.Sign() <= 0 {
		return nil, clierr.New(clierr.CodeUsage, fmt.Sprintf("%s must be a positive integer string", field))
	}
	return n, nil
}

// ParsePercentBps validates a basis-points size in [1, 10000].
func ParsePercentBps(v int64, field string) (int64, error) {
	if v < 1 || v > 10_000 {
		return 0, clierr.New(clierr.CodeUsage, fmt.Sprintf("%s must be between 1 and 10000", field))
	}
	return v, nil
}
