// Package diagnose extracts the most useful human reason from a failed call
// or transaction.
package diagnose

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"

	clierr "github.com/ggonzalez94/bsc-trader/internal/errors"
)

var (
	errorStringSelector = []byte{0x08, 0xc3, 0x79, 0xa0}
	panicSelector       = []byte{0x4e, 0x48, 0x7b, 0x71}

	stringArgs = abi.Arguments{{Type: mustType("string")}}
	uintArgs   = abi.Arguments{{Type: mustType("uint256")}}

	panicReasons = map[uint64]string{
		0x00: "generic compiler panic",
		0x01: "assertion failed",
		0x11: "arithmetic overflow or underflow",
		0x12: "division or modulo by zero",
		0x21: "invalid enum value",
		0x22: "invalid storage byte array",
		0x31: "pop on empty array",
		0x32: "array index out of bounds",
		0x41: "out of memory",
		0x51: "call to invalid internal function",
	}

	embeddedHex   = regexp.MustCompile(`0x[0-9a-fA-F]{8,}`)
	rawHex        = regexp.MustCompile(`^(0x)?[0-9a-fA-F]{16,}$`)
	enumLike      = regexp.MustCompile(`^[A-Z0-9_]+$`)
	shortSelector = regexp.MustCompile(`(?i)^(custom error )?0x[0-9a-f]{8}$`)

	textPatterns = []*regexp.Regexp{
		regexp.MustCompile(`reverted with reason string '([^']*)'`),
		regexp.MustCompile(`Fail with error '([^']*)'`),
		regexp.MustCompile(`execution reverted: (.+)`),
		regexp.MustCompile(`revert: (.+)`),
	}
)

func mustType(name string) abi.Type {
	t, err := abi.NewType(name, "", nil)
	if err != nil {
		panic(err)
	}
	return t
}

type candidateKind int

const (
	kindGeneric candidateKind = iota
	kindRawHex
	kindDecoded
)

type candidate struct {
	text  string
	kind  candidateKind
	score int
}

// Diagnose walks err's chain and returns the highest scoring reason.
func Diagnose(err error) (string, bool) {
	candidates := collect(err)
	if len(candidates) == 0 {
		return "", false
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})
	return candidates[0].text, true
}

// Reason is Diagnose with a fallback for errors that yield nothing.
func Reason(err error, fallback string) string {
	if reason, ok := Diagnose(err); ok {
		return reason
	}
	return fallback
}

func collect(root error) []candidate {
	seen := map[string]int{}
	var out []candidate
	add := func(text string, kind candidateKind) {
		text = strings.TrimSpace(text)
		if text == "" {
			return
		}
		c := candidate{text: text, kind: kind, score: score(text, kind)}
		if i, ok := seen[text]; ok {
			if c.score > out[i].score {
				out[i] = c
			}
			return
		}
		seen[text] = len(out)
		out = append(out, c)
	}

	queue := []error{root}
	for len(queue) > 0 {
		err := queue[0]
		queue = queue[1:]
		if err == nil {
			continue
		}
		if typed, ok := err.(*clierr.Error); ok {
			if typed.Code == clierr.CodeReverted || typed.Code == clierr.CodeInsufficient {
				add(typed.Message, kindDecoded)
			}
		}
		var dataErr rpc.DataError
		if errors.As(err, &dataErr) {
			for _, data := range revertBytes(dataErr.ErrorData()) {
				decoded := DecodeRevertData(data)
				switch {
				case decoded == "":
					add(hexutil.Encode(data), kindRawHex)
				case strings.HasPrefix(decoded, "custom error"):
					add(decoded, kindGeneric)
					if len(data) > 4 {
						add(hexutil.Encode(data), kindRawHex)
					}
				default:
					add(decoded, kindDecoded)
				}
			}
		}
		children := unwrap(err)
		if len(children) == 0 {
			mineText(err.Error(), add)
		}
		queue = append(queue, children...)
	}
	return out
}

func unwrap(err error) []error {
	switch e := err.(type) {
	case interface{ Unwrap() []error }:
		return e.Unwrap()
	case interface{ Unwrap() error }:
		if inner := e.Unwrap(); inner != nil {
			return []error{inner}
		}
	}
	return nil
}

// mineText pulls reasons out of a leaf error message: embedded revert
// payloads first, then known reason phrasings, then the text itself.
func mineText(text string, add func(string, candidateKind)) {
	matched := false
	for _, blob := range embeddedHex.FindAllString(text, -1) {
		data, err := hexutil.Decode(evenHex(blob))
		if err != nil {
			continue
		}
		if decoded := DecodeRevertData(data); decoded != "" && !strings.HasPrefix(decoded, "custom error") {
			add(decoded, kindDecoded)
			matched = true
		} else if len(data) > 4 {
			add(blob, kindRawHex)
		}
	}
	for _, pattern := range textPatterns {
		if m := pattern.FindStringSubmatch(text); m != nil {
			reason := strings.TrimSpace(m[1])
			if !rawHex.MatchString(reason) {
				add(reason, kindDecoded)
				matched = true
			}
			break
		}
	}
	if !matched {
		add(text, kindGeneric)
	}
}

func score(text string, kind candidateKind) int {
	s := len(text)
	if s > 30 {
		s = 30
	}
	switch kind {
	case kindDecoded:
		s += 20
	case kindGeneric:
		s -= 25
	}
	if kind == kindRawHex || rawHex.MatchString(text) {
		s -= 50
	}
	if enumLike.MatchString(text) || shortSelector.MatchString(text) {
		s -= 20
	}
	lower := strings.ToLower(text)
	if strings.Contains(lower, "insufficient allowance") || strings.Contains(lower, "insufficient balance") || strings.Contains(lower, "transfer amount exceeds") {
		s += 40
	}
	return s
}

// DecodeRevertData renders revert return data: the Error(string) reason, a
// named Panic(uint256) code, or "custom error 0x…" for other selectors.
func DecodeRevertData(data []byte) string {
	if len(data) < 4 {
		return ""
	}
	selector := data[:4]
	switch {
	case bytes.Equal(selector, errorStringSelector):
		values, err := stringArgs.Unpack(data[4:])
		if err != nil || len(values) == 0 {
			return ""
		}
		reason, _ := values[0].(string)
		return strings.TrimSpace(reason)
	case bytes.Equal(selector, panicSelector):
		values, err := uintArgs.Unpack(data[4:])
		if err != nil || len(values) == 0 {
			return ""
		}
		code, ok := values[0].(*big.Int)
		if !ok {
			return ""
		}
		name, known := panicReasons[code.Uint64()]
		if !known || !code.IsUint64() {
			name = "unknown panic"
		}
		return fmt.Sprintf("panic: %s (0x%x)", name, code)
	}
	return "custom error 0x" + hex.EncodeToString(selector)
}

func revertBytes(data any) [][]byte {
	switch v := data.(type) {
	case nil:
		return nil
	case []byte:
		return [][]byte{v}
	case hexutil.Bytes:
		return [][]byte{v}
	case string:
		decoded, err := hexutil.Decode(evenHex(strings.TrimSpace(v)))
		if err != nil {
			return nil
		}
		return [][]byte{decoded}
	case map[string]any:
		if inner, ok := v["data"]; ok {
			return revertBytes(inner)
		}
	}
	return nil
}

func evenHex(v string) string {
	clean := strings.TrimPrefix(strings.TrimPrefix(v, "0x"), "0X")
	if len(clean)%2 != 0 {
		clean = clean[:len(clean)-1]
	}
	return "0x" + clean
}
