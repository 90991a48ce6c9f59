package out

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/ggonzalez94/bsc-trader/internal/config"
	"github.com/ggonzalez94/bsc-trader/internal/model"
)

func TestRenderJSONSelectResultsOnly(t *testing.T) {
	env := model.Envelope{
		Version: "v1",
		Success: true,
		Data:    []map[string]any{{"id": "o-1", "status": "open"}},
		Meta:    model.EnvelopeMeta{Timestamp: time.Now()},
	}
	settings := config.Settings{OutputMode: "json", SelectFields: []string{"id"}, ResultsOnly: true}
	var buf bytes.Buffer
	if err := Render(&buf, env, settings); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	var out []map[string]any
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("json decode failed: %v", err)
	}
	if len(out) != 1 || out[0]["id"] != "o-1" {
		t.Fatalf("unexpected output: %s", buf.String())
	}
	if _, ok := out[0]["status"]; ok {
		t.Fatalf("field projection failed: %s", buf.String())
	}
}

func TestRenderPlainTable(t *testing.T) {
	env := model.Envelope{
		Success: true,
		Data: []map[string]any{
			{"id": "o-1", "trigger_price": "1.2", "tx_hash": ""},
			{"id": "o-2", "trigger_price": "0.64"},
		},
	}
	var buf bytes.Buffer
	if err := Render(&buf, env, config.Settings{OutputMode: "plain", ResultsOnly: true}); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header and two rows, got %q", buf.String())
	}
	if strings.Join(strings.Fields(lines[0]), " ") != "ID TRIGGER_PRICE TX_HASH" {
		t.Fatalf("unexpected header %q", lines[0])
	}
	if strings.Join(strings.Fields(lines[2]), " ") != "o-2 0.64 -" {
		t.Fatalf("unexpected row %q", lines[2])
	}
}

func TestRenderPlainObject(t *testing.T) {
	env := model.Envelope{
		Success:  true,
		Data:     map[string]any{"token": "0xaa", "price_usd": "1.5"},
		Warnings: []string{"fetch failed; serving stale data within max-stale budget"},
	}
	var buf bytes.Buffer
	if err := Render(&buf, env, config.Settings{OutputMode: "plain"}); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	want := "price_usd=1.5 token=0xaa\nwarning: fetch failed; serving stale data within max-stale budget\n"
	if buf.String() != want {
		t.Fatalf("unexpected plain output: %q", buf.String())
	}
}

func TestRenderPlainError(t *testing.T) {
	env := model.Envelope{
		Error: &model.ErrorBody{Code: 34, Type: "reverted", Message: "Pancake: K", Raw: "execution reverted: Pancake: K"},
	}
	var buf bytes.Buffer
	if err := Render(&buf, env, config.Settings{OutputMode: "plain"}); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if !strings.HasPrefix(buf.String(), "error reverted (34): Pancake: K\nraw: ") {
		t.Fatalf("unexpected error output: %q", buf.String())
	}
}
