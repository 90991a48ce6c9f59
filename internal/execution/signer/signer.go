package signer

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Signer signs transactions and relay authentication messages for one account.
type Signer interface {
	Address() common.Address
	SignTx(chainID *big.Int, tx *types.Transaction) (*types.Transaction, error)
	// SignMessage produces an EIP-191 personal signature over msg.
	SignMessage(msg []byte) ([]byte, error)
	Status() Status
}

type Status struct {
	Locked  bool           `json:"locked"`
	Address common.Address `json:"address"`
	Source  string         `json:"source,omitempty"`
}
