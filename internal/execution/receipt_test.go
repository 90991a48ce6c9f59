package execution

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	clierr "github.com/ggonzalez94/bsc-trader/internal/errors"
)

type pendingReceipts struct {
	after  int32
	status uint64
	calls  atomic.Int32
}

func (p *pendingReceipts) TransactionReceipt(context.Context, common.Hash) (*types.Receipt, error) {
	if p.calls.Add(1) <= p.after {
		return nil, ethereum.NotFound
	}
	return &types.Receipt{Status: p.status, BlockNumber: common.Big1}, nil
}

func TestWaitReceiptPollsUntilMined(t *testing.T) {
	src := &pendingReceipts{after: 2, status: types.ReceiptStatusSuccessful}
	receipt, err := WaitReceipt(context.Background(), src, testTxHash, 5*time.Millisecond, time.Second)
	if err != nil {
		t.Fatalf("WaitReceipt failed: %v", err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful || src.calls.Load() != 3 {
		t.Fatalf("unexpected receipt %+v after %d polls", receipt, src.calls.Load())
	}
}

func TestWaitReceiptReverted(t *testing.T) {
	src := &pendingReceipts{status: types.ReceiptStatusFailed}
	receipt, err := WaitReceipt(context.Background(), src, testTxHash, 5*time.Millisecond, time.Second)
	if !clierr.Is(err, clierr.CodeReverted) || receipt == nil {
		t.Fatalf("expected reverted receipt, got %v %v", receipt, err)
	}
}

func TestWaitReceiptTimeout(t *testing.T) {
	src := &pendingReceipts{after: 1 << 30}
	_, err := WaitReceipt(context.Background(), src, testTxHash, 5*time.Millisecond, 30*time.Millisecond)
	if !clierr.Is(err, clierr.CodeActionTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
}
