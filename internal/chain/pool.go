package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

var rpcCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "bsctrade_rpc_calls_total",
	Help: "RPC calls issued through the endpoint pool, by method and outcome",
}, []string{"method", "outcome"})

// Reader is the read-only chain surface used by quoting, routing and diagnosis.
type Reader interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
}

// Client is the read/write surface the engine needs from a chain.
type Client interface {
	Reader
	ChainID(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	TransactionByHash(ctx context.Context, txHash common.Hash) (*types.Transaction, bool, error)
}

type PoolConfig struct {
	ChainID     int64
	Endpoints   []string
	CallTimeout time.Duration
	RateLimit   float64
	RateBurst   int
}

type endpoint struct {
	url string
	rpc *rpc.Client
	eth *ethclient.Client
}

// Pool spreads calls across endpoints round-robin and falls back to the next
// endpoint on transport failures. JSON-RPC errors returned by a node are final.
type Pool struct {
	config    PoolConfig
	logger    logrus.FieldLogger
	limiter   *rate.Limiter
	endpoints []*endpoint

	schedulerMutex sync.Mutex
	rrLastIndex    int
}

var _ Client = (*Pool)(nil)

func NewPool(ctx context.Context, config PoolConfig, logger logrus.FieldLogger) (*Pool, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if len(config.Endpoints) == 0 {
		return nil, fmt.Errorf("endpoint pool needs at least one rpc endpoint")
	}
	if config.CallTimeout <= 0 {
		config.CallTimeout = 8 * time.Second
	}
	limit := rate.Inf
	if config.RateLimit > 0 {
		limit = rate.Limit(config.RateLimit)
	}
	burst := config.RateBurst
	if burst <= 0 {
		burst = 1
	}
	pool := &Pool{
		config:      config,
		logger:      logger.WithField("chain", config.ChainID),
		limiter:     rate.NewLimiter(limit, burst),
		rrLastIndex: -1,
	}
	for _, url := range config.Endpoints {
		client, err := rpc.DialContext(ctx, url)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("dial rpc endpoint %s: %w", url, err)
		}
		pool.endpoints = append(pool.endpoints, &endpoint{url: url, rpc: client, eth: ethclient.NewClient(client)})
	}
	return pool, nil
}

func (p *Pool) Close() {
	for _, ep := range p.endpoints {
		ep.eth.Close()
	}
}

// CallTimeout is the deadline applied to each individual RPC call.
func (p *Pool) CallTimeout() time.Duration {
	return p.config.CallTimeout
}

func (p *Pool) ChainIDValue() int64 {
	return p.config.ChainID
}

// Endpoints returns one broadcast channel per configured endpoint.
func (p *Pool) Endpoints() []*Endpoint {
	out := make([]*Endpoint, 0, len(p.endpoints))
	for _, ep := range p.endpoints {
		out = append(out, &Endpoint{url: ep.url, rpc: ep.rpc})
	}
	return out
}

func (p *Pool) nextStart() int {
	p.schedulerMutex.Lock()
	defer p.schedulerMutex.Unlock()
	p.rrLastIndex = (p.rrLastIndex + 1) % len(p.endpoints)
	return p.rrLastIndex
}

func withEndpoints[T any](ctx context.Context, p *Pool, method string, call func(ctx context.Context, ep *endpoint) (T, error)) (T, error) {
	var zero T
	if err := p.limiter.Wait(ctx); err != nil {
		return zero, err
	}
	start := p.nextStart()
	var lastErr error
	for i := 0; i < len(p.endpoints); i++ {
		ep := p.endpoints[(start+i)%len(p.endpoints)]
		callCtx, cancel := context.WithTimeout(ctx, p.config.CallTimeout)
		out, err := call(callCtx, ep)
		cancel()
		if err == nil {
			rpcCallsTotal.WithLabelValues(method, "ok").Inc()
			return out, nil
		}
		lastErr = err
		if isFinal(err) || ctx.Err() != nil {
			rpcCallsTotal.WithLabelValues(method, "error").Inc()
			return zero, err
		}
		rpcCallsTotal.WithLabelValues(method, "fallback").Inc()
		p.logger.WithError(err).WithField("endpoint", ep.url).WithField("method", method).Debug("rpc endpoint failed, trying next")
	}
	return zero, lastErr
}

// isFinal reports errors that another endpoint would answer the same way.
func isFinal(err error) bool {
	if errors.Is(err, ethereum.NotFound) {
		return true
	}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return true
	}
	var dataErr rpc.DataError
	return errors.As(err, &dataErr)
}

func (p *Pool) ChainID(ctx context.Context) (*big.Int, error) {
	return withEndpoints(ctx, p, "eth_chainId", func(ctx context.Context, ep *endpoint) (*big.Int, error) {
		return ep.eth.ChainID(ctx)
	})
}

func (p *Pool) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return withEndpoints(ctx, p, "eth_call", func(ctx context.Context, ep *endpoint) ([]byte, error) {
		return ep.eth.CallContract(ctx, msg, blockNumber)
	})
}

func (p *Pool) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	return withEndpoints(ctx, p, "eth_getBalance", func(ctx context.Context, ep *endpoint) (*big.Int, error) {
		return ep.eth.BalanceAt(ctx, account, blockNumber)
	})
}

func (p *Pool) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	return withEndpoints(ctx, p, "eth_estimateGas", func(ctx context.Context, ep *endpoint) (uint64, error) {
		return ep.eth.EstimateGas(ctx, msg)
	})
}

func (p *Pool) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return withEndpoints(ctx, p, "eth_getTransactionCount", func(ctx context.Context, ep *endpoint) (uint64, error) {
		return ep.eth.PendingNonceAt(ctx, account)
	})
}

func (p *Pool) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return withEndpoints(ctx, p, "eth_gasPrice", func(ctx context.Context, ep *endpoint) (*big.Int, error) {
		return ep.eth.SuggestGasPrice(ctx)
	})
}

func (p *Pool) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	return withEndpoints(ctx, p, "eth_getTransactionReceipt", func(ctx context.Context, ep *endpoint) (*types.Receipt, error) {
		return ep.eth.TransactionReceipt(ctx, txHash)
	})
}

func (p *Pool) TransactionByHash(ctx context.Context, txHash common.Hash) (*types.Transaction, bool, error) {
	type result struct {
		tx      *types.Transaction
		pending bool
	}
	res, err := withEndpoints(ctx, p, "eth_getTransactionByHash", func(ctx context.Context, ep *endpoint) (result, error) {
		tx, pending, err := ep.eth.TransactionByHash(ctx, txHash)
		return result{tx: tx, pending: pending}, err
	})
	return res.tx, res.pending, err
}

// Endpoint is a single public endpoint used as a broadcast channel.
type Endpoint struct {
	url string
	rpc *rpc.Client
}

func (e *Endpoint) Name() string { return e.url }

// SendRawTransaction submits signed transaction bytes via eth_sendRawTransaction.
func (e *Endpoint) SendRawTransaction(ctx context.Context, raw []byte) (common.Hash, error) {
	var hash common.Hash
	if err := e.rpc.CallContext(ctx, &hash, "eth_sendRawTransaction", hexutil.Encode(raw)); err != nil {
		rpcCallsTotal.WithLabelValues("eth_sendRawTransaction", "error").Inc()
		return common.Hash{}, err
	}
	rpcCallsTotal.WithLabelValues("eth_sendRawTransaction", "ok").Inc()
	return hash, nil
}
