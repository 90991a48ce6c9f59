package execution

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/ggonzalez94/bsc-trader/internal/execution/signer"
	"github.com/ggonzalez94/bsc-trader/internal/httpx"
)

const testKeyHex = "59c6995e998f97a5a0044976f0945388cf9b7e5e5f4f9d2d9d8f1f5b7f6d11d1"

func newTestSigner(t *testing.T) *signer.LocalSigner {
	t.Helper()
	s, err := signer.NewLocalSigner(signer.LocalSignerConfig{PrivateKeyHex: testKeyHex})
	if err != nil {
		t.Fatalf("NewLocalSigner failed: %v", err)
	}
	return s
}

func TestRelayChannelSignsExactBody(t *testing.T) {
	txSigner := newTestSigner(t)
	var (
		gotHeader string
		gotBody   []byte
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get(relaySignatureHeader)
		gotBody, _ = io.ReadAll(r.Body)
		_ = json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": 1, "result": testTxHash.Hex()})
	}))
	defer srv.Close()

	relay := NewRelayChannel(srv.URL, httpx.New(time.Second, 0), txSigner)
	hash, err := relay.SendRawTransaction(context.Background(), []byte{0xde, 0xad})
	if err != nil {
		t.Fatalf("SendRawTransaction failed: %v", err)
	}
	if hash != testTxHash {
		t.Fatalf("unexpected hash %s", hash.Hex())
	}
	if !strings.Contains(string(gotBody), `"eth_sendRawTransaction"`) || !strings.Contains(string(gotBody), "0xdead") {
		t.Fatalf("unexpected relay body %s", gotBody)
	}

	parts := strings.SplitN(gotHeader, ":", 2)
	if len(parts) != 2 || common.HexToAddress(parts[0]) != txSigner.Address() {
		t.Fatalf("unexpected signature header %q", gotHeader)
	}
	sig, err := hexutil.Decode(parts[1])
	if err != nil || len(sig) != 65 {
		t.Fatalf("bad signature %q: %v", parts[1], err)
	}
	sig[64] -= 27
	digest := crypto.Keccak256Hash(gotBody).Hex()
	pub, err := crypto.SigToPub(accounts.TextHash([]byte(digest)), sig)
	if err != nil {
		t.Fatalf("recover failed: %v", err)
	}
	if crypto.PubkeyToAddress(*pub) != txSigner.Address() {
		t.Fatal("signature does not recover to the signer")
	}
}

func TestRelayChannelSurfacesRPCError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": 1, "error": map[string]any{"code": -32000, "message": "nonce too low"}})
	}))
	defer srv.Close()

	relay := NewRelayChannel(srv.URL, httpx.New(time.Second, 0), newTestSigner(t))
	_, err := relay.SendRawTransaction(context.Background(), []byte{0x01})
	if err == nil || !IsNonceConflict(err) {
		t.Fatalf("expected nonce conflict from relay, got %v", err)
	}
}
