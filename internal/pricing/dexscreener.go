package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	clierr "github.com/ggonzalez94/bsc-trader/internal/errors"
	"github.com/ggonzalez94/bsc-trader/internal/httpx"
	"github.com/ggonzalez94/bsc-trader/internal/model"
)

const DefaultDexscreenerURL = "https://api.dexscreener.com"

var dexscreenerChains = map[int64]string{56: "bsc"}

type dexToken struct {
	Address string `json:"address"`
	Symbol  string `json:"symbol"`
}

// dexPair is the subset of a DexScreener pair the price lookup reads.
type dexPair struct {
	ChainID     string   `json:"chainId"`
	DexID       string   `json:"dexId"`
	PairAddress string   `json:"pairAddress"`
	BaseToken   dexToken `json:"baseToken"`
	QuoteToken  dexToken `json:"quoteToken"`
	PriceNative string   `json:"priceNative"`
	PriceUSD    string   `json:"priceUsd"`
	Liquidity   struct {
		USD float64 `json:"usd"`
	} `json:"liquidity"`

	// raw keeps the original object for the fallback field table.
	raw map[string]json.RawMessage
}

func (p *dexPair) UnmarshalJSON(data []byte) error {
	type plain dexPair
	var decoded plain
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	*p = dexPair(decoded)
	return json.Unmarshal(data, &p.raw)
}

type dexResponse struct {
	Pairs []dexPair `json:"pairs"`
}

// usdPriceFields lists, in order, the fields compatible APIs use for the base
// token's USD price when priceUsd is absent. Values may be JSON strings or numbers.
var usdPriceFields = []string{"priceUsd", "price_usd", "priceUSD", "usdPrice"}

// Dexscreener prices tokens from the DexScreener token-pairs endpoint, using
// the most liquid pair on the chain that contains the token.
type Dexscreener struct {
	client  *httpx.Client
	baseURL string
	logger  logrus.FieldLogger
	group   singleflight.Group
}

func NewDexscreener(client *httpx.Client, baseURL string, logger logrus.FieldLogger) *Dexscreener {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultDexscreenerURL
	}
	return &Dexscreener{
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger.WithField("component", "pricing").WithField("source", SourceDexscreener),
	}
}

func (d *Dexscreener) Name() string { return SourceDexscreener }

func (d *Dexscreener) USDPrice(ctx context.Context, ref model.TokenRef) (decimal.Decimal, error) {
	chainSlug, ok := dexscreenerChains[ref.ChainID]
	if !ok {
		return decimal.Zero, clierr.New(clierr.CodeUnsupported, fmt.Sprintf("dexscreener does not cover chain %d", ref.ChainID))
	}
	addr := strings.ToLower(ref.Address.Hex())
	v, err, _ := d.group.Do(chainSlug+":"+addr, func() (any, error) {
		var resp dexResponse
		url := fmt.Sprintf("%s/latest/dex/tokens/%s", d.baseURL, addr)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return decimal.Zero, clierr.Wrap(clierr.CodeInternal, "build price request", err)
		}
		if _, err := d.client.DoJSON(ctx, req, &resp); err != nil {
			return decimal.Zero, err
		}
		return pickPrice(resp.Pairs, chainSlug, addr)
	})
	if err != nil {
		return decimal.Zero, err
	}
	price := v.(decimal.Decimal)
	if !price.IsPositive() {
		return decimal.Zero, nonPositive(SourceDexscreener, ref)
	}
	return price, nil
}

// pickPrice takes the deepest pair on chain containing addr. When the token is
// the pair's quote side its price is derived as priceUsd / priceNative.
func pickPrice(pairs []dexPair, chainSlug, addr string) (decimal.Decimal, error) {
	var (
		best      decimal.Decimal
		bestDepth = -1.0
	)
	for _, pair := range pairs {
		if !strings.EqualFold(pair.ChainID, chainSlug) || pair.Liquidity.USD <= bestDepth {
			continue
		}
		baseUSD, ok := pairUSD(pair)
		if !ok {
			continue
		}
		var price decimal.Decimal
		switch {
		case strings.EqualFold(pair.BaseToken.Address, addr):
			price = baseUSD
		case strings.EqualFold(pair.QuoteToken.Address, addr):
			native, err := decimal.NewFromString(strings.TrimSpace(pair.PriceNative))
			if err != nil || !native.IsPositive() {
				continue
			}
			price = baseUSD.DivRound(native, 18)
		default:
			continue
		}
		best, bestDepth = price, pair.Liquidity.USD
	}
	if bestDepth < 0 {
		return decimal.Zero, clierr.New(clierr.CodeLiquidity, "no priced pair for token on dexscreener")
	}
	return best, nil
}

func pairUSD(pair dexPair) (decimal.Decimal, bool) {
	if v, err := decimal.NewFromString(strings.TrimSpace(pair.PriceUSD)); err == nil && v.IsPositive() {
		return v, true
	}
	for _, field := range usdPriceFields {
		raw, ok := pair.raw[field]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			s = string(raw)
		}
		if v, err := decimal.NewFromString(strings.TrimSpace(s)); err == nil && v.IsPositive() {
			return v, true
		}
	}
	return decimal.Zero, false
}
