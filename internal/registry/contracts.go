package registry

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// ChainContracts is the per-chain contract set used for quoting and execution.
// Empty fields mean "not deployed / not configured" for that chain.
type ChainContracts struct {
	WrappedNative    string
	StableUSD        string
	StableDecimals   uint8
	V2Factories      []string
	V3Factory        string
	V3QuoterV2       string
	SmartRouter      string
	LaunchpadManager string
	LaunchpadHelper  string
}

// BridgeToken is a non-native quote currency a route may pass through.
type BridgeToken struct {
	Symbol   string
	Address  string
	Decimals uint8
}

var contractsByChainID = map[int64]ChainContracts{
	56: {
		WrappedNative:    "0xbb4CdB9CBd36B01bD1cBaEBF2De08d9173bc095c",
		StableUSD:        "0x55d398326f99059fF775485246999027B3197955",
		StableDecimals:   18,
		V2Factories:      []string{"0xcA143Ce32Fe78f1f7019d7d551a6402fC5350c73"},
		V3Factory:        "0x0BFbCF9fa4f9C56B0F40a671Ad40E0805A091865",
		V3QuoterV2:       "0xB048Bbc1Ee6b733FFfCFb9e9CeF7375518e25997",
		SmartRouter:      "0x13f4EA83D0bd40E75C8222255bc855a974568Dd4",
		LaunchpadManager: "0x5c952063c7fc8610FFDB798152D69F0B9550762b",
		LaunchpadHelper:  "0xF251F83e40a78868FcfA3FA4599Dad6494E46034",
	},
	// BSC testnet: quoting only, no router deployment is tracked.
	97: {
		WrappedNative: "0xae13d989daC2f0dEbFf460aC112a837C89BAa7cd",
		V2Factories:   []string{"0x6725F303b657a9451d8BA641348b6761A6CC7a17"},
	},
}

var bridgeTokensByChainID = map[int64][]BridgeToken{
	56: {
		{Symbol: "USDT", Address: "0x55d398326f99059fF775485246999027B3197955", Decimals: 18},
		{Symbol: "USD1", Address: "0x8d0D000Ee44948FC98c9B98A4FA4921476f08B0d", Decimals: 18},
		{Symbol: "USDC", Address: "0x8AC76a51cc950d9822D68b83fE1Ad97B32Cd580d", Decimals: 18},
		{Symbol: "BUSD", Address: "0xe9e7CEA3DedcA5984780Bafc599bD69ADd087D56", Decimals: 18},
		{Symbol: "CAKE", Address: "0x0E09FaBB73Bd3Ade0a17ECC321fD13a19e81cE82", Decimals: 18},
	},
}

func Contracts(chainID int64) (ChainContracts, bool) {
	c, ok := contractsByChainID[chainID]
	return c, ok
}

func BridgeTokens(chainID int64) []BridgeToken {
	return bridgeTokensByChainID[chainID]
}

// LookupBridgeToken reports whether addr is a recognized bridge token on the chain.
func LookupBridgeToken(chainID int64, addr common.Address) (BridgeToken, bool) {
	for _, token := range bridgeTokensByChainID[chainID] {
		if strings.EqualFold(token.Address, addr.Hex()) {
			return token, true
		}
	}
	return BridgeToken{}, false
}

// IsNativeQuote reports whether addr denotes the chain's native asset as a quote currency:
// the zero address or the wrapped native token.
func IsNativeQuote(chainID int64, addr common.Address) bool {
	if addr == (common.Address{}) {
		return true
	}
	c, ok := contractsByChainID[chainID]
	return ok && strings.EqualFold(c.WrappedNative, addr.Hex())
}
