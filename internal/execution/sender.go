package execution

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/sirupsen/logrus"

	"github.com/ggonzalez94/bsc-trader/internal/diagnose"
	clierr "github.com/ggonzalez94/bsc-trader/internal/errors"
	"github.com/ggonzalez94/bsc-trader/internal/execution/signer"
)

type SenderClient interface {
	GasPriceSource
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
}

type SenderConfig struct {
	ChainID       int64
	GasMultiplier float64
	FixedGasLimit uint64
	GasPresets    map[string]string
	GasPreset     string
}

type TxRequest struct {
	To       common.Address
	Data     []byte
	Value    *big.Int
	GasPrice *big.Int
	// Nonce pins the nonce; nil reserves one from the resolver.
	Nonce *uint64
	// FastPath skips estimation and uses the fixed gas limit.
	FastPath bool
}

// Sender turns a call into a signed legacy transaction and broadcasts it.
type Sender struct {
	client      SenderClient
	signer      signer.Signer
	nonces      *NonceResolver
	broadcaster *Broadcaster
	config      SenderConfig
	logger      logrus.FieldLogger
}

func NewSender(client SenderClient, txSigner signer.Signer, nonces *NonceResolver, broadcaster *Broadcaster, config SenderConfig, logger logrus.FieldLogger) *Sender {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if config.FixedGasLimit == 0 {
		config.FixedGasLimit = 800_000
	}
	return &Sender{
		client:      client,
		signer:      txSigner,
		nonces:      nonces,
		broadcaster: broadcaster,
		config:      config,
		logger:      logger.WithField("component", "sender").WithField("chain", config.ChainID),
	}
}

func (s *Sender) From() common.Address {
	return s.signer.Address()
}

// Send signs and broadcasts req. A nonce conflict on an auto-assigned nonce
// is retried exactly once with a fresh reservation.
func (s *Sender) Send(ctx context.Context, req TxRequest) (BroadcastResult, error) {
	if req.Value == nil {
		req.Value = new(big.Int)
	}
	gasLimit, err := s.gasLimit(ctx, req)
	if err != nil {
		return BroadcastResult{}, err
	}
	gasPrice := req.GasPrice
	if gasPrice == nil {
		gasPrice, err = ResolveGasPrice(ctx, s.client, s.config.GasPresets, s.config.GasPreset)
		if err != nil {
			return BroadcastResult{}, clierr.Wrap(clierr.CodeUnavailable, "resolve gas price", err)
		}
	}

	from := s.signer.Address()
	res, err := s.sendOnce(ctx, req, gasLimit, gasPrice)
	if err == nil {
		return res, nil
	}
	s.nonces.Invalidate(s.config.ChainID, from)
	if req.Nonce != nil || !IsNonceConflict(err) {
		return BroadcastResult{}, err
	}
	s.logger.WithError(err).Warn("nonce conflict, retrying with a fresh nonce")
	res, err = s.sendOnce(ctx, req, gasLimit, gasPrice)
	if err != nil {
		s.nonces.Invalidate(s.config.ChainID, from)
		if IsNonceConflict(err) {
			return BroadcastResult{}, clierr.Wrap(clierr.CodeNonceConflict, "nonce conflict persisted after retry", err)
		}
		return BroadcastResult{}, err
	}
	return res, nil
}

func (s *Sender) sendOnce(ctx context.Context, req TxRequest, gasLimit uint64, gasPrice *big.Int) (BroadcastResult, error) {
	var nonce uint64
	if req.Nonce != nil {
		nonce = *req.Nonce
	} else {
		reserved, err := s.nonces.Reserve(ctx, s.config.ChainID, s.signer.Address())
		if err != nil {
			return BroadcastResult{}, err
		}
		nonce = reserved
	}
	to := req.To
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gasLimit,
		To:       &to,
		Value:    req.Value,
		Data:     req.Data,
	})
	signed, err := s.signer.SignTx(big.NewInt(s.config.ChainID), tx)
	if err != nil {
		return BroadcastResult{}, clierr.Wrap(clierr.CodeSigner, "sign transaction", err)
	}
	raw, err := signed.MarshalBinary()
	if err != nil {
		return BroadcastResult{}, clierr.Wrap(clierr.CodeInternal, "encode signed transaction", err)
	}
	s.logger.WithField("nonce", nonce).WithField("to", to.Hex()).WithField("gas", gasLimit).Debug("broadcasting transaction")
	return s.broadcaster.Broadcast(ctx, raw, signed.Hash())
}

func (s *Sender) gasLimit(ctx context.Context, req TxRequest) (uint64, error) {
	if req.FastPath {
		return s.config.FixedGasLimit, nil
	}
	to := req.To
	estimate, err := s.client.EstimateGas(ctx, ethereum.CallMsg{From: s.signer.Address(), To: &to, Value: req.Value, Data: req.Data})
	if err != nil {
		return 0, wrapEVMExecutionError(clierr.CodeReverted, "estimate gas", err)
	}
	return scaleGas(estimate, s.config.GasMultiplier), nil
}

// wrapEVMExecutionError keeps the raw node error as cause and uses the
// diagnosed revert reason as the message when there is one.
func wrapEVMExecutionError(code clierr.Code, stage string, err error) error {
	reason, ok := diagnose.Diagnose(err)
	if !ok || reason == "" {
		reason = stage + " failed"
	}
	return clierr.Wrap(code, reason, err)
}
