// Package pricing answers "what is one whole token worth in USD" from either
// chain state or a public price API.
package pricing

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	clierr "github.com/ggonzalez94/bsc-trader/internal/errors"
	"github.com/ggonzalez94/bsc-trader/internal/model"
)

const (
	SourceOnchain     = "onchain"
	SourceDexscreener = "dexscreener"
)

// Source prices one whole unit of a token in USD.
type Source interface {
	Name() string
	USDPrice(ctx context.Context, token model.TokenRef) (decimal.Decimal, error)
}

// Validate reports whether name is a known source.
func Validate(name string) error {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case SourceOnchain, SourceDexscreener:
		return nil
	default:
		return clierr.New(clierr.CodeUsage, fmt.Sprintf("unknown price source %q (want %s or %s)", name, SourceOnchain, SourceDexscreener))
	}
}

func nonPositive(name string, token model.TokenRef) error {
	return clierr.New(clierr.CodeUnavailable, fmt.Sprintf("%s returned no price for %s", name, token.Address.Hex()))
}
