package registry

// ABI fragments used by quoting, routing, diagnosis and token resolution.
const (
	ERC20ABI = `[
		{"name":"allowance","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
		{"name":"approve","type":"function","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
		{"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
		{"name":"decimals","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]},
		{"name":"symbol","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]}
	]`

	PancakeV2FactoryABI = `[
		{"name":"getPair","type":"function","stateMutability":"view","inputs":[{"name":"tokenA","type":"address"},{"name":"tokenB","type":"address"}],"outputs":[{"name":"pair","type":"address"}]}
	]`

	PancakeV2PairABI = `[
		{"name":"factory","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
		{"name":"getReserves","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"reserve0","type":"uint112"},{"name":"reserve1","type":"uint112"},{"name":"blockTimestampLast","type":"uint32"}]},
		{"name":"token0","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
		{"name":"token1","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]}
	]`

	PancakeV3FactoryABI = `[
		{"name":"getPool","type":"function","stateMutability":"view","inputs":[{"name":"tokenA","type":"address"},{"name":"tokenB","type":"address"},{"name":"fee","type":"uint24"}],"outputs":[{"name":"pool","type":"address"}]}
	]`

	PancakeV3QuoterV2ABI = `[
		{"name":"quoteExactInputSingle","type":"function","stateMutability":"nonpayable","inputs":[{"name":"params","type":"tuple","components":[{"name":"tokenIn","type":"address"},{"name":"tokenOut","type":"address"},{"name":"amountIn","type":"uint256"},{"name":"fee","type":"uint24"},{"name":"sqrtPriceLimitX96","type":"uint160"}]}],"outputs":[{"name":"amountOut","type":"uint256"},{"name":"sqrtPriceX96After","type":"uint160"},{"name":"initializedTicksCrossed","type":"uint32"},{"name":"gasEstimate","type":"uint256"}]}
	]`

	// PancakeSmartRouterABI covers the SmartRouter calls used to assemble one-transaction routes.
	PancakeSmartRouterABI = `[
		{"name":"exactInputSingle","type":"function","stateMutability":"payable","inputs":[{"name":"params","type":"tuple","components":[{"name":"tokenIn","type":"address"},{"name":"tokenOut","type":"address"},{"name":"fee","type":"uint24"},{"name":"recipient","type":"address"},{"name":"amountIn","type":"uint256"},{"name":"amountOutMinimum","type":"uint256"},{"name":"sqrtPriceLimitX96","type":"uint160"}]}],"outputs":[{"name":"amountOut","type":"uint256"}]},
		{"name":"swapExactTokensForTokens","type":"function","stateMutability":"payable","inputs":[{"name":"amountIn","type":"uint256"},{"name":"amountOutMin","type":"uint256"},{"name":"path","type":"address[]"},{"name":"to","type":"address"}],"outputs":[{"name":"amountOut","type":"uint256"}]},
		{"name":"multicall","type":"function","stateMutability":"payable","inputs":[{"name":"deadline","type":"uint256"},{"name":"data","type":"bytes[]"}],"outputs":[{"name":"","type":"bytes[]"}]},
		{"name":"unwrapWETH9","type":"function","stateMutability":"payable","inputs":[{"name":"amountMinimum","type":"uint256"},{"name":"recipient","type":"address"}],"outputs":[]}
	]`

	LaunchpadManagerABI = `[
		{"name":"buyTokenAMAP","type":"function","stateMutability":"payable","inputs":[{"name":"token","type":"address"},{"name":"funds","type":"uint256"},{"name":"minAmount","type":"uint256"}],"outputs":[]},
		{"name":"sellToken","type":"function","stateMutability":"nonpayable","inputs":[{"name":"token","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[]}
	]`

	LaunchpadHelperABI = `[
		{"name":"getTokenInfo","type":"function","stateMutability":"view","inputs":[{"name":"token","type":"address"}],"outputs":[{"name":"version","type":"uint256"},{"name":"tokenManager","type":"address"},{"name":"quote","type":"address"},{"name":"lastPrice","type":"uint256"},{"name":"tradingFeeRate","type":"uint256"},{"name":"minTradingFee","type":"uint256"},{"name":"launchTime","type":"uint256"},{"name":"offers","type":"uint256"},{"name":"maxOffers","type":"uint256"},{"name":"funds","type":"uint256"},{"name":"maxFunds","type":"uint256"},{"name":"liquidityAdded","type":"bool"}]},
		{"name":"tryBuy","type":"function","stateMutability":"view","inputs":[{"name":"token","type":"address"},{"name":"amount","type":"uint256"},{"name":"funds","type":"uint256"}],"outputs":[{"name":"tokenManager","type":"address"},{"name":"quote","type":"address"},{"name":"estimatedAmount","type":"uint256"},{"name":"estimatedCost","type":"uint256"},{"name":"estimatedFee","type":"uint256"},{"name":"amountMsgValue","type":"uint256"},{"name":"amountApproval","type":"uint256"},{"name":"amountFunds","type":"uint256"}]},
		{"name":"trySell","type":"function","stateMutability":"view","inputs":[{"name":"token","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"tokenManager","type":"address"},{"name":"quote","type":"address"},{"name":"funds","type":"uint256"},{"name":"fee","type":"uint256"}]},
		{"name":"buyWithEth","type":"function","stateMutability":"payable","inputs":[{"name":"origin","type":"uint256"},{"name":"token","type":"address"},{"name":"to","type":"address"},{"name":"funds","type":"uint256"},{"name":"minAmount","type":"uint256"}],"outputs":[]},
		{"name":"sellForEth","type":"function","stateMutability":"nonpayable","inputs":[{"name":"origin","type":"uint256"},{"name":"token","type":"address"},{"name":"amount","type":"uint256"},{"name":"minFunds","type":"uint256"},{"name":"feeRate","type":"uint256"},{"name":"feeRecipient","type":"address"}],"outputs":[]}
	]`
)
