package diagnose

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/ggonzalez94/bsc-trader/internal/chain/chaintest"
	clierr "github.com/ggonzalez94/bsc-trader/internal/errors"
)

type testRPCDataError struct {
	msg  string
	data any
}

func (e testRPCDataError) Error() string { return e.msg }

func (e testRPCDataError) ErrorData() interface{} { return e.data }

func TestDecodeRevertDataReasonString(t *testing.T) {
	if got := DecodeRevertData(chaintest.EncodeErrorString("slippage too high")); got != "slippage too high" {
		t.Fatalf("unexpected reason %q", got)
	}
}

func TestDecodeRevertDataPanic(t *testing.T) {
	payload, err := uintArgs.Pack(big.NewInt(0x11))
	if err != nil {
		t.Fatalf("pack panic code: %v", err)
	}
	reason := DecodeRevertData(append(append([]byte{}, panicSelector...), payload...))
	if reason != "panic: arithmetic overflow or underflow (0x11)" {
		t.Fatalf("unexpected reason %q", reason)
	}
}

func TestDecodeRevertDataCustomErrorSelector(t *testing.T) {
	if got := DecodeRevertData(common.FromHex("0x12345678")); got != "custom error 0x12345678" {
		t.Fatalf("unexpected reason %q", got)
	}
	if got := DecodeRevertData([]byte{0x01}); got != "" {
		t.Fatalf("short payload must decode to nothing, got %q", got)
	}
}

func TestDiagnoseDecodedStringOutranksRawHex(t *testing.T) {
	payload := chaintest.EncodeErrorString("ERC20: insufficient allowance")
	rawBlob := "0x" + strings.Repeat("ab", 40)
	err := errors.Join(
		fmt.Errorf("https://rpc-a.example: %w", testRPCDataError{msg: "execution reverted", data: hexutil.Encode(payload)}),
		fmt.Errorf("private_relay: bundle rejected %s", rawBlob),
	)
	reason, ok := Diagnose(err)
	if !ok || reason != "ERC20: insufficient allowance" {
		t.Fatalf("unexpected diagnosis %q %v", reason, ok)
	}
}

func TestDiagnoseReadsEmbeddedRevertPayload(t *testing.T) {
	payload := hexutil.Encode(chaintest.EncodeErrorString("Pancake: K"))
	err := fmt.Errorf("estimate gas: %w", errors.New("call failed with data "+payload))
	reason, ok := Diagnose(err)
	if !ok || reason != "Pancake: K" {
		t.Fatalf("unexpected diagnosis %q %v", reason, ok)
	}
}

func TestDiagnoseTextPatterns(t *testing.T) {
	cases := map[string]string{
		"VM Exception: reverted with reason string 'Too little received'": "Too little received",
		"Fail with error 'TransferHelper: TRANSFER_FROM_FAILED'":          "TransferHelper: TRANSFER_FROM_FAILED",
		"execution reverted: PancakeRouter: EXPIRED":                      "PancakeRouter: EXPIRED",
		"transaction failed: revert: Disabled":                            "Disabled",
	}
	for msg, want := range cases {
		reason, ok := Diagnose(errors.New(msg))
		if !ok || reason != want {
			t.Fatalf("%s: expected %q, got %q %v", msg, want, reason, ok)
		}
	}
}

func TestDiagnosePrefersBalanceHintsOverEnumCodes(t *testing.T) {
	err := errors.Join(
		errors.New("execution reverted: STF"),
		errors.New("execution reverted: BEP20: transfer amount exceeds balance"),
	)
	if reason, _ := Diagnose(err); reason != "BEP20: transfer amount exceeds balance" {
		t.Fatalf("unexpected reason %q", reason)
	}
}

func TestDiagnoseKeepsPriorDiagnosis(t *testing.T) {
	inner := clierr.Wrap(clierr.CodeReverted, "Pancake: INSUFFICIENT_OUTPUT_AMOUNT", errors.New("execution reverted"))
	err := clierr.Wrap(clierr.CodeBroadcast, "failed to broadcast to any endpoint", inner)
	reason, ok := Diagnose(err)
	if !ok || reason != "Pancake: INSUFFICIENT_OUTPUT_AMOUNT" {
		t.Fatalf("unexpected diagnosis %q %v", reason, ok)
	}
}

func TestDiagnoseFallsBackToErrorText(t *testing.T) {
	reason, ok := Diagnose(errors.New("insufficient funds for gas * price + value"))
	if !ok || reason != "insufficient funds for gas * price + value" {
		t.Fatalf("unexpected diagnosis %q %v", reason, ok)
	}
	if _, ok := Diagnose(nil); ok {
		t.Fatal("nil error must not diagnose")
	}
	if got := Reason(nil, "fallback"); got != "fallback" {
		t.Fatalf("expected fallback, got %q", got)
	}
}
