package diagnose

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/ggonzalez94/bsc-trader/internal/chain"
	"github.com/ggonzalez94/bsc-trader/internal/registry"
)

const (
	FindingInsufficientAllowance = "insufficient_allowance"
	FindingInsufficientBalance   = "insufficient_balance"
)

var (
	erc20ABI   = chain.MustABI(registry.ERC20ABI)
	routerABI  = chain.MustABI(registry.PancakeSmartRouterABI)
	managerABI = chain.MustABI(registry.LaunchpadManagerABI)
	helperABI  = chain.MustABI(registry.LaunchpadHelperABI)
)

// TxView is the part of a transaction the pre-flight check needs.
type TxView struct {
	To    common.Address
	Data  []byte
	Value *big.Int
}

type Finding struct {
	Kind      string         `json:"kind"`
	Token     common.Address `json:"token"`
	Spender   common.Address `json:"spender,omitempty"`
	Required  *big.Int       `json:"-"`
	Available *big.Int       `json:"-"`
	Message   string         `json:"message"`
}

// spend is the token a transaction pulls from the sender.
type spend struct {
	token   common.Address
	amount  *big.Int
	spender common.Address
}

// Preflight checks whether the sender could have paid for tx at block. It
// reports the first shortfall found and false when balances look sufficient
// or cannot be read.
func Preflight(ctx context.Context, reader chain.Reader, tx TxView, from common.Address, block *big.Int) (Finding, bool) {
	if tx.Value != nil && tx.Value.Sign() > 0 {
		balance, err := reader.BalanceAt(ctx, from, block)
		if err == nil && balance.Cmp(tx.Value) < 0 {
			return Finding{
				Kind:      FindingInsufficientBalance,
				Required:  tx.Value,
				Available: balance,
				Message:   fmt.Sprintf("insufficient balance: have %s wei, need %s wei", balance, tx.Value),
			}, true
		}
		// native-in routes pull no token from the sender
		return Finding{}, false
	}
	s, ok := decodeSpend(tx)
	if !ok {
		return Finding{}, false
	}
	out, err := chain.CallAt(ctx, reader, block, common.Address{}, s.token, erc20ABI, "balanceOf", from)
	if err == nil {
		if balance, err := chain.BigAt(out, 0); err == nil && balance.Cmp(s.amount) < 0 {
			return Finding{
				Kind:      FindingInsufficientBalance,
				Token:     s.token,
				Required:  s.amount,
				Available: balance,
				Message:   fmt.Sprintf("insufficient balance of %s: have %s, need %s", s.token.Hex(), balance, s.amount),
			}, true
		}
	}
	out, err = chain.CallAt(ctx, reader, block, common.Address{}, s.token, erc20ABI, "allowance", from, s.spender)
	if err == nil {
		if allowance, err := chain.BigAt(out, 0); err == nil && allowance.Cmp(s.amount) < 0 {
			return Finding{
				Kind:      FindingInsufficientAllowance,
				Token:     s.token,
				Spender:   s.spender,
				Required:  s.amount,
				Available: allowance,
				Message:   fmt.Sprintf("insufficient allowance for %s: approved %s, need %s", s.spender.Hex(), allowance, s.amount),
			}, true
		}
	}
	return Finding{}, false
}

func decodeSpend(tx TxView) (spend, bool) {
	if len(tx.Data) < 4 {
		return spend{}, false
	}
	for _, contract := range []abi.ABI{routerABI, managerABI, helperABI} {
		method, err := contract.MethodById(tx.Data[:4])
		if err != nil {
			continue
		}
		args, err := method.Inputs.Unpack(tx.Data[4:])
		if err != nil {
			return spend{}, false
		}
		return spendFromCall(method.Name, args, tx.To)
	}
	return spend{}, false
}

func spendFromCall(name string, args []any, target common.Address) (spend, bool) {
	switch name {
	case "multicall":
		calls, ok := args[1].([][]byte)
		if !ok {
			return spend{}, false
		}
		for _, call := range calls {
			if len(call) < 4 {
				continue
			}
			method, err := routerABI.MethodById(call[:4])
			if err != nil {
				continue
			}
			inner, err := method.Inputs.Unpack(call[4:])
			if err != nil {
				continue
			}
			if s, ok := spendFromCall(method.Name, inner, target); ok {
				return s, true
			}
		}
	case "exactInputSingle":
		params := *abi.ConvertType(args[0], new(exactInputSingle)).(*exactInputSingle)
		if params.AmountIn != nil && params.AmountIn.Sign() > 0 {
			return spend{token: params.TokenIn, amount: params.AmountIn, spender: target}, true
		}
	case "swapExactTokensForTokens":
		amount, _ := args[0].(*big.Int)
		path, _ := args[2].([]common.Address)
		if amount != nil && amount.Sign() > 0 && len(path) > 0 {
			return spend{token: path[0], amount: amount, spender: target}, true
		}
	case "sellToken":
		token, _ := args[0].(common.Address)
		amount, _ := args[1].(*big.Int)
		if amount != nil && amount.Sign() > 0 {
			return spend{token: token, amount: amount, spender: target}, true
		}
	case "sellForEth":
		token, _ := args[1].(common.Address)
		amount, _ := args[2].(*big.Int)
		if amount != nil && amount.Sign() > 0 {
			return spend{token: token, amount: amount, spender: target}, true
		}
	}
	return spend{}, false
}

type exactInputSingle struct {
	TokenIn           common.Address `abi:"tokenIn"`
	TokenOut          common.Address `abi:"tokenOut"`
	Fee               *big.Int       `abi:"fee"`
	Recipient         common.Address `abi:"recipient"`
	AmountIn          *big.Int       `abi:"amountIn"`
	AmountOutMinimum  *big.Int       `abi:"amountOutMinimum"`
	SqrtPriceLimitX96 *big.Int       `abi:"sqrtPriceLimitX96"`
}
