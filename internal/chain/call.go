package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Call packs method, runs eth_call against the latest block and unpacks the outputs.
func Call(ctx context.Context, reader Reader, to common.Address, contract abi.ABI, method string, args ...any) ([]any, error) {
	return CallAt(ctx, reader, nil, common.Address{}, to, contract, method, args...)
}

// CallAt is Call pinned to a block and sender. A nil block means latest.
func CallAt(ctx context.Context, reader Reader, block *big.Int, from, to common.Address, contract abi.ABI, method string, args ...any) ([]any, error) {
	data, err := contract.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	out, err := reader.CallContract(ctx, ethereum.CallMsg{From: from, To: &to, Data: data}, block)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s: empty result from %s", method, to.Hex())
	}
	decoded, err := contract.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return decoded, nil
}

// BigAt returns decoded[i] as *big.Int, or an error if the ABI shape differs.
func BigAt(decoded []any, i int) (*big.Int, error) {
	if i >= len(decoded) {
		return nil, fmt.Errorf("missing output %d", i)
	}
	v, ok := decoded[i].(*big.Int)
	if !ok || v == nil {
		return nil, fmt.Errorf("output %d is %T, want *big.Int", i, decoded[i])
	}
	return v, nil
}

// AddressAt returns decoded[i] as an address.
func AddressAt(decoded []any, i int) (common.Address, error) {
	if i >= len(decoded) {
		return common.Address{}, fmt.Errorf("missing output %d", i)
	}
	v, ok := decoded[i].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("output %d is %T, want address", i, decoded[i])
	}
	return v, nil
}

func MustABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}
