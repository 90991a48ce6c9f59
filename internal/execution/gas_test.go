package execution

import (
	"context"
	"math/big"
	"testing"
)

type fixedGasPrice struct{ price *big.Int }

func (f fixedGasPrice) SuggestGasPrice(context.Context) (*big.Int, error) { return f.price, nil }

func TestParseGwei(t *testing.T) {
	cases := map[string]string{
		"1":    "1000000000",
		"0.1":  "100000000",
		"3.5":  "3500000000",
		" 0 ":  "0",
		"1e-9": "1",
	}
	for in, want := range cases {
		got, err := ParseGwei(in)
		if err != nil {
			t.Fatalf("ParseGwei(%q) failed: %v", in, err)
		}
		if got.String() != want {
			t.Fatalf("ParseGwei(%q) = %s, want %s", in, got, want)
		}
	}
	for _, bad := range []string{"", "abc", "-1", "0.0000000001"} {
		if _, err := ParseGwei(bad); err == nil {
			t.Fatalf("expected ParseGwei(%q) to fail", bad)
		}
	}
}

func TestResolveGasPricePresetThenSuggestion(t *testing.T) {
	src := fixedGasPrice{price: big.NewInt(7)}
	presets := map[string]string{"fast": "3", "normal": "1"}

	got, err := ResolveGasPrice(context.Background(), src, presets, "FAST")
	if err != nil || got.Cmp(big.NewInt(3_000_000_000)) != 0 {
		t.Fatalf("expected preset price, got %v %v", got, err)
	}
	got, err = ResolveGasPrice(context.Background(), src, presets, "unknown")
	if err != nil || got.Int64() != 7 {
		t.Fatalf("expected node suggestion, got %v %v", got, err)
	}
	if _, err := ResolveGasPrice(context.Background(), src, map[string]string{"bad": "x"}, "bad"); err == nil {
		t.Fatal("expected invalid preset error")
	}
}

func TestScaleGasRoundsUp(t *testing.T) {
	if got := scaleGas(100_000, 1.3); got != 130_000 {
		t.Fatalf("unexpected scaled gas %d", got)
	}
	if got := scaleGas(3, 1.5); got != 5 {
		t.Fatalf("expected round up to 5, got %d", got)
	}
	if got := scaleGas(21_000, 0); got != 21_000 {
		t.Fatalf("expected unscaled gas, got %d", got)
	}
}
