package execution

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	clierr "github.com/ggonzalez94/bsc-trader/internal/errors"
	"github.com/ggonzalez94/bsc-trader/internal/execution/signer"
	"github.com/ggonzalez94/bsc-trader/internal/httpx"
)

const relaySignatureHeader = "X-Flashbots-Signature"

// RelayChannel submits to a private relay over authenticated JSON-RPC.
type RelayChannel struct {
	url    string
	client *httpx.Client
	signer signer.Signer
}

// NewRelayChannel uses client as given; relay submissions are never retried
// so callers pass a zero-retry client.
func NewRelayChannel(url string, client *httpx.Client, txSigner signer.Signer) *RelayChannel {
	return &RelayChannel{url: url, client: client, signer: txSigner}
}

func (r *RelayChannel) Name() string { return ChannelPrivateRelay }

func (r *RelayChannel) SendRawTransaction(ctx context.Context, raw []byte) (common.Hash, error) {
	body, err := httpx.EncodeJSONRPC("eth_sendRawTransaction", hexutil.Encode(raw))
	if err != nil {
		return common.Hash{}, clierr.Wrap(clierr.CodeInternal, "encode relay request", err)
	}
	header, err := r.signatureHeader(body)
	if err != nil {
		return common.Hash{}, err
	}
	var hash common.Hash
	if err := httpx.DoJSONRPC(ctx, r.client, r.url, body, map[string]string{relaySignatureHeader: header}, &hash); err != nil {
		return common.Hash{}, err
	}
	return hash, nil
}

// signatureHeader signs the hex keccak of the exact request body.
func (r *RelayChannel) signatureHeader(body []byte) (string, error) {
	digest := crypto.Keccak256Hash(body).Hex()
	sig, err := r.signer.SignMessage([]byte(digest))
	if err != nil {
		return "", clierr.Wrap(clierr.CodeSigner, "sign relay request", err)
	}
	return fmt.Sprintf("%s:%s", r.signer.Address().Hex(), hexutil.Encode(sig)), nil
}
