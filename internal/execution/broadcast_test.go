package execution

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	clierr "github.com/ggonzalez94/bsc-trader/internal/errors"
)

type stubChannel struct {
	name  string
	delay time.Duration
	hash  common.Hash
	err   error
	calls atomic.Int32
	done  chan struct{}
}

func (c *stubChannel) Name() string { return c.name }

func (c *stubChannel) SendRawTransaction(ctx context.Context, _ []byte) (common.Hash, error) {
	c.calls.Add(1)
	if c.done != nil {
		defer close(c.done)
	}
	if c.delay > 0 {
		select {
		case <-time.After(c.delay):
		case <-ctx.Done():
			return common.Hash{}, ctx.Err()
		}
	}
	return c.hash, c.err
}

var testTxHash = common.HexToHash("0x1111111111111111111111111111111111111111111111111111111111111111")

func TestBroadcastRelayFailsEndpointWins(t *testing.T) {
	relay := &stubChannel{name: ChannelPrivateRelay, err: errors.New("relay unavailable")}
	a := &stubChannel{name: "https://a.example/rpc", delay: 20 * time.Millisecond, hash: testTxHash}
	b := &stubChannel{name: "https://b.example/rpc", delay: 200 * time.Millisecond, hash: testTxHash, done: make(chan struct{})}
	broadcaster := NewBroadcaster([]Channel{relay, a, b}, time.Second, nil)

	res, err := broadcaster.Broadcast(context.Background(), []byte{0x01}, testTxHash)
	if err != nil {
		t.Fatalf("Broadcast failed: %v", err)
	}
	if res.Hash != testTxHash || res.Channel != "https://a.example/rpc" {
		t.Fatalf("unexpected broadcast result %+v", res)
	}

	// the slower endpoint still completes after the caller returned
	select {
	case <-b.done:
	case <-time.After(2 * time.Second):
		t.Fatal("losing channel was cancelled instead of running to completion")
	}
}

func TestBroadcastAllChannelsFail(t *testing.T) {
	relay := &stubChannel{name: ChannelPrivateRelay, err: errors.New("relay unavailable")}
	a := &stubChannel{name: "https://a.example", err: errors.New("nonce too low")}
	broadcaster := NewBroadcaster([]Channel{relay, a}, time.Second, nil)

	_, err := broadcaster.Broadcast(context.Background(), []byte{0x01}, testTxHash)
	if !clierr.Is(err, clierr.CodeBroadcast) {
		t.Fatalf("expected broadcast error, got %v", err)
	}
	if clierr.Reason(err) != "failed to broadcast to any endpoint" {
		t.Fatalf("unexpected reason %q", clierr.Reason(err))
	}
	if !strings.Contains(err.Error(), "relay unavailable") || !strings.Contains(err.Error(), "nonce too low") {
		t.Fatalf("expected every channel error in %v", err)
	}
	if !IsNonceConflict(err) {
		t.Fatal("expected nonce conflict to be visible through the joined error")
	}
}

func TestBroadcastAlreadyKnownCountsAsAccepted(t *testing.T) {
	a := &stubChannel{name: "https://a.example", err: errors.New("already known")}
	b := &stubChannel{name: "https://b.example", err: errors.New("timeout")}
	broadcaster := NewBroadcaster([]Channel{a, b}, time.Second, nil)

	res, err := broadcaster.Broadcast(context.Background(), []byte{0x01}, testTxHash)
	if err != nil {
		t.Fatalf("Broadcast failed: %v", err)
	}
	if res.Hash != testTxHash || res.Channel != "https://a.example" {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestBroadcastEmptyHashUsesLocalHash(t *testing.T) {
	a := &stubChannel{name: "https://a.example"}
	res, err := NewBroadcaster([]Channel{a}, time.Second, nil).Broadcast(context.Background(), []byte{0x01}, testTxHash)
	if err != nil || res.Hash != testTxHash {
		t.Fatalf("expected local hash, got %+v %v", res, err)
	}
}

func TestBroadcastNoChannels(t *testing.T) {
	_, err := NewBroadcaster(nil, time.Second, nil).Broadcast(context.Background(), []byte{0x01}, testTxHash)
	if !clierr.Is(err, clierr.CodeConfig) {
		t.Fatalf("expected config error, got %v", err)
	}
}

func TestChannelLabel(t *testing.T) {
	if got := channelLabel("https://bsc-dataseed.bnbchain.org/abc?key=1"); got != "bsc-dataseed.bnbchain.org" {
		t.Fatalf("unexpected label %s", got)
	}
	if got := channelLabel(ChannelPrivateRelay); got != ChannelPrivateRelay {
		t.Fatalf("unexpected relay label %s", got)
	}
}
