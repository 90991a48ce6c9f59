package model

import (
	"encoding/json"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

const EnvelopeVersion = "v1"

type Envelope struct {
	Version  string       `json:"version"`
	Success  bool         `json:"success"`
	Data     any          `json:"data,omitempty"`
	Error    *ErrorBody   `json:"error"`
	Warnings []string     `json:"warnings,omitempty"`
	Meta     EnvelopeMeta `json:"meta"`
}

type ErrorBody struct {
	Code    int    `json:"code"`
	Type    string `json:"type"`
	Message string `json:"message"`
	Raw     string `json:"raw,omitempty"`
}

type EnvelopeMeta struct {
	RequestID string       `json:"request_id"`
	Timestamp time.Time    `json:"timestamp"`
	Command   string       `json:"command"`
	ChainID   int64        `json:"chain_id,omitempty"`
	Cache     *CacheStatus `json:"cache,omitempty"`
}

type CacheStatus struct {
	Status string `json:"status"`
	AgeMS  int64  `json:"age_ms"`
	Stale  bool   `json:"stale"`
}

const (
	PlatformFourMeme = "fourmeme"

	// Launchpad status values: a token still on its bonding curve is "inner".
	LaunchpadInner = "inner"
	LaunchpadOuter = "outer"
)

// TokenRef describes a token as far as routing is concerned.
// Values are immutable once fetched; callers refresh by resolving again.
type TokenRef struct {
	ChainID    int64           `json:"chain_id"`
	Address    common.Address  `json:"address"`
	Symbol     string          `json:"symbol,omitempty"`
	Decimals   uint8           `json:"decimals"`
	Platform   string          `json:"platform,omitempty"`
	Status     string          `json:"status,omitempty"`
	QuoteToken *common.Address `json:"quote_token,omitempty"`
	Pool       *common.Address `json:"pool,omitempty"`
	FetchedAt  time.Time       `json:"fetched_at,omitempty"`
}

// InnerDisk reports whether the token still trades on its launchpad bonding curve.
func (t TokenRef) InnerDisk() bool {
	return t.Platform == PlatformFourMeme && t.Status == LaunchpadInner
}

type Venue string

const (
	VenueV2            Venue = "v2"
	VenueV3            Venue = "v3"
	VenueLaunchpadBuy  Venue = "launchpad_buy"
	VenueLaunchpadSell Venue = "launchpad_sell"
)

func (v Venue) IsLaunchpad() bool {
	return v == VenueLaunchpadBuy || v == VenueLaunchpadSell
}

// SwapLeg is one atomic swap step within a route.
type SwapLeg struct {
	Venue     Venue          `json:"venue"`
	TokenIn   common.Address `json:"token_in"`
	TokenOut  common.Address `json:"token_out"`
	Pool      common.Address `json:"pool"`
	Fee       uint32         `json:"fee"`
	AmountIn  *big.Int       `json:"amount_in,omitempty"`
	AmountOut *big.Int       `json:"amount_out,omitempty"`
	MinOut    *big.Int       `json:"min_out"`
	Aux       []byte         `json:"aux,omitempty"`
}

// MarshalJSON renders amounts as base-10 integer strings.
func (l SwapLeg) MarshalJSON() ([]byte, error) {
	type legJSON struct {
		Venue     Venue  `json:"venue"`
		TokenIn   string `json:"token_in"`
		TokenOut  string `json:"token_out"`
		Pool      string `json:"pool"`
		Fee       uint32 `json:"fee"`
		AmountIn  string `json:"amount_in,omitempty"`
		AmountOut string `json:"amount_out,omitempty"`
		MinOut    string `json:"min_out"`
	}
	return json.Marshal(legJSON{
		Venue:     l.Venue,
		TokenIn:   l.TokenIn.Hex(),
		TokenOut:  l.TokenOut.Hex(),
		Pool:      l.Pool.Hex(),
		Fee:       l.Fee,
		AmountIn:  BigString(l.AmountIn),
		AmountOut: BigString(l.AmountOut),
		MinOut:    BigStringZero(l.MinOut),
	})
}

// BigString formats n as a base-10 string, or "" when nil.
func BigString(n *big.Int) string {
	if n == nil {
		return ""
	}
	return n.String()
}

// BigStringZero formats n as a base-10 string, treating nil as zero.
func BigStringZero(n *big.Int) string {
	if n == nil {
		return "0"
	}
	return n.String()
}
