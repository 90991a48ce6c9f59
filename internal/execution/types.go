package execution

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

type TradeStatus string

type StepStatus string

type StepType string

type Intent string

const (
	TradeStatusPlanned   TradeStatus = "planned"
	TradeStatusRunning   TradeStatus = "running"
	TradeStatusCompleted TradeStatus = "completed"
	TradeStatusFailed    TradeStatus = "failed"
)

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusSubmitted StepStatus = "submitted"
	StepStatusConfirmed StepStatus = "confirmed"
	StepStatusFailed    StepStatus = "failed"
)

const (
	StepTypeApproval StepType = "approval"
	StepTypeSwap     StepType = "swap"
)

const (
	IntentBuy     Intent = "buy"
	IntentSell    Intent = "sell"
	IntentApprove Intent = "approve"
)

type TradeStep struct {
	StepID      string     `json:"step_id"`
	Type        StepType   `json:"type"`
	Status      StepStatus `json:"status"`
	Description string     `json:"description,omitempty"`
	Target      string     `json:"target"`
	Data        string     `json:"data"`
	Value       string     `json:"value"`
	TxHash      string     `json:"tx_hash,omitempty"`
	Channel     string     `json:"channel,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// Trade is one journal entry: a buy, sell or approval and the transactions it sent.
type Trade struct {
	TradeID     string         `json:"trade_id"`
	Intent      Intent         `json:"intent"`
	Status      TradeStatus    `json:"status"`
	ChainID     int64          `json:"chain_id"`
	From        string         `json:"from,omitempty"`
	Token       string         `json:"token"`
	Symbol      string         `json:"symbol,omitempty"`
	AmountIn    string         `json:"amount_in,omitempty"`
	QuotedOut   string         `json:"quoted_out,omitempty"`
	MinOut      string         `json:"min_out,omitempty"`
	SlippageBps int64          `json:"slippage_bps,omitempty"`
	Turbo       bool           `json:"turbo,omitempty"`
	Venues      []string       `json:"venues,omitempty"`
	OrderID     string         `json:"order_id,omitempty"`
	CreatedAt   string         `json:"created_at"`
	UpdatedAt   string         `json:"updated_at"`
	Steps       []TradeStep    `json:"steps"`
	Error       string         `json:"error,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

func NewTrade(intent Intent, chainID int64, token common.Address) Trade {
	now := time.Now().UTC().Format(time.RFC3339)
	return Trade{
		TradeID:   NewTradeID(),
		Intent:    intent,
		Status:    TradeStatusPlanned,
		ChainID:   chainID,
		Token:     token.Hex(),
		CreatedAt: now,
		UpdatedAt: now,
		Steps:     []TradeStep{},
	}
}

func NewTradeID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "trade-unknown"
	}
	return fmt.Sprintf("trd_%s", hex.EncodeToString(b))
}

func (t *Trade) Touch() {
	t.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
}

// Fail marks the trade and its last unfinished step as failed.
func (t *Trade) Fail(reason string) {
	t.Status = TradeStatusFailed
	t.Error = reason
	for i := len(t.Steps) - 1; i >= 0; i-- {
		if t.Steps[i].Status != StepStatusConfirmed {
			t.Steps[i].Status = StepStatusFailed
			t.Steps[i].Error = reason
			break
		}
	}
	t.Touch()
}

func normalizeStepTxHash(hash string) string {
	hash = strings.TrimSpace(hash)
	if hash == "" {
		return ""
	}
	if !strings.HasPrefix(hash, "0x") && !strings.HasPrefix(hash, "0X") {
		hash = "0x" + hash
	}
	return strings.ToLower(hash)
}

// Submitted records the broadcast result on step i.
func (t *Trade) Submitted(i int, res BroadcastResult) {
	if i < 0 || i >= len(t.Steps) {
		return
	}
	t.Steps[i].Status = StepStatusSubmitted
	t.Steps[i].TxHash = normalizeStepTxHash(res.Hash.Hex())
	t.Steps[i].Channel = res.Channel
	t.Status = TradeStatusRunning
	t.Touch()
}
