package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsWalksNestedTypedErrors(t *testing.T) {
	inner := New(CodeNonceConflict, "nonce too low")
	outer := Wrap(CodeBroadcast, "failed to broadcast to any endpoint", fmt.Errorf("relay: %w", inner))
	if !Is(outer, CodeBroadcast) {
		t.Fatal("expected outer code to match")
	}
	if !Is(outer, CodeNonceConflict) {
		t.Fatal("expected nested nonce conflict code to match")
	}
	if Is(outer, CodeLiquidity) {
		t.Fatal("did not expect liquidity code")
	}
}

func TestReasonPrefersTypedMessage(t *testing.T) {
	err := Wrap(CodeReverted, "ERC20: insufficient allowance", errors.New("execution reverted: 0x08c379a0..."))
	if got := Reason(err); got != "ERC20: insufficient allowance" {
		t.Fatalf("unexpected reason %q", got)
	}
	if got := Reason(errors.New("plain")); got != "plain" {
		t.Fatalf("unexpected plain reason %q", got)
	}
}

func TestExitCode(t *testing.T) {
	if ExitCode(nil) != 0 {
		t.Fatal("expected success exit code")
	}
	if ExitCode(New(CodeLiquidity, "no liquidity pool for token pair")) != 31 {
		t.Fatal("expected liquidity exit code")
	}
	if ExitCode(errors.New("boom")) != int(CodeInternal) {
		t.Fatal("expected internal exit code for untyped error")
	}
}
