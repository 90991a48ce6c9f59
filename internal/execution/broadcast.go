package execution

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"

	clierr "github.com/ggonzalez94/bsc-trader/internal/errors"
)

const ChannelPrivateRelay = "private_relay"

var broadcastTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "bsctrade_broadcast_total",
	Help: "Raw transaction submissions by channel and outcome",
}, []string{"channel", "outcome"})

// Channel submits signed transaction bytes to one destination.
type Channel interface {
	Name() string
	SendRawTransaction(ctx context.Context, raw []byte) (common.Hash, error)
}

type BroadcastResult struct {
	Hash    common.Hash `json:"tx_hash"`
	Channel string      `json:"channel"`
}

// Broadcaster races a transaction across every channel. The first accepted
// submission wins; the rest finish in the background and are discarded.
type Broadcaster struct {
	channels    []Channel
	callTimeout time.Duration
	logger      logrus.FieldLogger
}

func NewBroadcaster(channels []Channel, callTimeout time.Duration, logger logrus.FieldLogger) *Broadcaster {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if callTimeout <= 0 {
		callTimeout = 8 * time.Second
	}
	return &Broadcaster{channels: channels, callTimeout: callTimeout, logger: logger.WithField("component", "broadcast")}
}

type broadcastAttempt struct {
	channel string
	hash    common.Hash
	err     error
}

func (b *Broadcaster) Broadcast(ctx context.Context, raw []byte, hash common.Hash) (BroadcastResult, error) {
	if len(b.channels) == 0 {
		return BroadcastResult{}, clierr.New(clierr.CodeConfig, "no broadcast channels configured")
	}
	results := make(chan broadcastAttempt, len(b.channels))
	// attempts outlive the caller once a winner returns, bounded by the call timeout
	detached := context.WithoutCancel(ctx)
	for _, ch := range b.channels {
		go func() {
			callCtx, cancel := context.WithTimeout(detached, b.callTimeout)
			defer cancel()
			got, err := ch.SendRawTransaction(callCtx, raw)
			results <- broadcastAttempt{channel: ch.Name(), hash: got, err: err}
		}()
	}

	var (
		errs        []error
		alreadySeen string
	)
	for range b.channels {
		select {
		case res := <-results:
			if res.err == nil {
				broadcastTotal.WithLabelValues(channelLabel(res.channel), "won").Inc()
				if res.hash == (common.Hash{}) {
					res.hash = hash
				}
				b.logger.WithField("channel", res.channel).WithField("tx", res.hash.Hex()).Debug("broadcast accepted")
				return BroadcastResult{Hash: res.hash, Channel: res.channel}, nil
			}
			broadcastTotal.WithLabelValues(channelLabel(res.channel), "failed").Inc()
			if isAlreadyKnown(res.err) && alreadySeen == "" {
				alreadySeen = res.channel
			}
			errs = append(errs, fmt.Errorf("%s: %w", res.channel, res.err))
		case <-ctx.Done():
			return BroadcastResult{}, clierr.Wrap(clierr.CodeActionTimeout, "broadcast cancelled", ctx.Err())
		}
	}
	// a node that already holds this exact transaction has accepted it
	if alreadySeen != "" {
		return BroadcastResult{Hash: hash, Channel: alreadySeen}, nil
	}
	joined := errors.Join(errs...)
	if IsNonceConflict(joined) {
		nonceConflictsTotal.Inc()
	}
	return BroadcastResult{}, clierr.Wrap(clierr.CodeBroadcast, "failed to broadcast to any endpoint", joined)
}

func isAlreadyKnown(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "already known")
}

// channelLabel keeps metric cardinality bounded by collapsing endpoint URLs to hosts.
func channelLabel(name string) string {
	if name == ChannelPrivateRelay {
		return name
	}
	trimmed := strings.TrimPrefix(strings.TrimPrefix(name, "https://"), "http://")
	if i := strings.IndexAny(trimmed, "/?"); i >= 0 {
		trimmed = trimmed[:i]
	}
	return trimmed
}
