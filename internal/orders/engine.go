package orders

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/ggonzalez94/bsc-trader/internal/config"
	"github.com/ggonzalez94/bsc-trader/internal/diagnose"
	clierr "github.com/ggonzalez94/bsc-trader/internal/errors"
	"github.com/ggonzalez94/bsc-trader/internal/model"
	"github.com/ggonzalez94/bsc-trader/internal/trade"
)

const (
	DefaultCancelGrace = 3 * time.Second
	// DefaultExecTimeout bounds one order execution, receipt wait included.
	DefaultExecTimeout = 3 * time.Minute
)

var (
	transitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bsctrade_orders_transitions_total",
		Help: "Order status transitions by target status",
	}, []string{"to"})
	scanSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "bsctrade_orders_scan_seconds",
		Help:    "Duration of one order scan pass",
		Buckets: prometheus.DefBuckets,
	})
)

// Executor runs the trade behind a triggered order and waits for it to mine.
type Executor interface {
	Buy(ctx context.Context, req trade.BuyRequest) (trade.Result, error)
	Sell(ctx context.Context, req trade.SellRequest) (trade.Result, error)
}

type PriceSource interface {
	USDPrice(ctx context.Context, token model.TokenRef) (decimal.Decimal, error)
}

type Config struct {
	AutoSell    AutoSellConfig
	CancelGrace time.Duration
	// ExecTimeout bounds a triggered order's trade. Execution does not stop
	// when the watcher shuts down, so a mined transaction is still recorded.
	ExecTimeout time.Duration
}

type TickResult struct {
	Triggered []string `json:"triggered"`
	Executed  []string `json:"executed"`
	Failed    []string `json:"failed"`
	Skipped   bool     `json:"skipped,omitempty"`
	// Errors lists groups that could not be priced.
	Errors []string `json:"errors,omitempty"`
}

func (r *TickResult) merge(other TickResult) {
	r.Triggered = append(r.Triggered, other.Triggered...)
	r.Executed = append(r.Executed, other.Executed...)
	r.Failed = append(r.Failed, other.Failed...)
	r.Errors = append(r.Errors, other.Errors...)
}

func newTickResult() TickResult {
	return TickResult{Triggered: []string{}, Executed: []string{}, Failed: []string{}}
}

// Engine owns the order collection. Every change goes through Store.Update;
// execution runs outside it.
type Engine struct {
	store     Store
	executors map[int64]Executor
	prices    map[int64]PriceSource
	config    Config
	logger    logrus.FieldLogger
	now       func() time.Time

	scanning atomic.Bool
	pending  sync.WaitGroup
}

func NewEngine(store Store, executors map[int64]Executor, prices map[int64]PriceSource, cfg Config, logger logrus.FieldLogger) *Engine {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if cfg.CancelGrace <= 0 {
		cfg.CancelGrace = DefaultCancelGrace
	}
	if cfg.ExecTimeout <= 0 {
		cfg.ExecTimeout = DefaultExecTimeout
	}
	return &Engine{
		store:     store,
		executors: executors,
		prices:    prices,
		config:    cfg,
		logger:    logger.WithField("component", "orders"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (e *Engine) Create(ctx context.Context, in CreateInput) (Order, error) {
	created, err := e.createMany(ctx, []CreateInput{in})
	if err != nil {
		return Order{}, err
	}
	return created[0], nil
}

func (e *Engine) createMany(ctx context.Context, inputs []CreateInput) ([]Order, error) {
	now := e.now()
	created := make([]Order, 0, len(inputs))
	for _, in := range inputs {
		order, err := buildOrder(in, now)
		if err != nil {
			return nil, err
		}
		created = append(created, order)
	}
	err := e.store.Update(ctx, func(all []Order) ([]Order, error) {
		return append(all, created...), nil
	})
	if err != nil {
		return nil, err
	}
	for _, o := range created {
		transitionsTotal.WithLabelValues(string(StatusOpen)).Inc()
		e.logger.WithField("order", o.ID).WithField("type", o.Type).WithField("trigger", o.TriggerPrice.String()).Info("order created")
	}
	return created, nil
}

// Cancel moves an open order to cancelled. Orders already cancelled or past
// open are left untouched.
func (e *Engine) Cancel(ctx context.Context, id string) error {
	found, cancelled := false, false
	err := e.store.Update(ctx, func(all []Order) ([]Order, error) {
		for i := range all {
			if all[i].ID != id {
				continue
			}
			found = true
			if !all[i].Open() {
				return nil, nil
			}
			all[i].Status = StatusCancelled
			all[i].UpdatedAt = e.now()
			cancelled = true
			return all, nil
		}
		return nil, nil
	})
	if err != nil {
		return err
	}
	if !found {
		return clierr.New(clierr.CodeUsage, fmt.Sprintf("order not found: %s", id))
	}
	if cancelled {
		transitionsTotal.WithLabelValues(string(StatusCancelled)).Inc()
	}
	return nil
}

func (e *Engine) Get(ctx context.Context, id string) (Order, error) {
	all, err := e.store.List(ctx)
	if err != nil {
		return Order{}, err
	}
	for _, o := range all {
		if o.ID == id {
			return o, nil
		}
	}
	return Order{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("order not found: %s", id))
}

// List returns orders on chainID (0 for all chains), optionally for one token.
func (e *Engine) List(ctx context.Context, chainID int64, token *common.Address) ([]Order, error) {
	all, err := e.store.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Order, 0, len(all))
	for _, o := range all {
		if chainID != 0 && o.ChainID != chainID {
			continue
		}
		if token != nil && o.Token != *token {
			continue
		}
		out = append(out, o)
	}
	sortOrders(out)
	return out, nil
}

// Tick evaluates the open orders of one token against a caller-supplied price.
func (e *Engine) Tick(ctx context.Context, chainID int64, token common.Address, price decimal.Decimal) (TickResult, error) {
	if !price.IsPositive() {
		return TickResult{}, clierr.New(clierr.CodeUsage, "price must be positive")
	}
	return e.evaluateGroup(ctx, chainID, token, price)
}

type groupKey struct {
	chainID int64
	token   common.Address
}

// Scan prices every token with open orders once and evaluates its orders.
// A scan already in progress makes this call return with Skipped set.
func (e *Engine) Scan(ctx context.Context) (TickResult, error) {
	if !e.scanning.CompareAndSwap(false, true) {
		return TickResult{Skipped: true}, nil
	}
	defer e.scanning.Store(false)
	start := time.Now()
	defer func() { scanSeconds.Observe(time.Since(start).Seconds()) }()

	all, err := e.store.List(ctx)
	if err != nil {
		return TickResult{}, err
	}
	var keys []groupKey
	metas := map[groupKey]model.TokenRef{}
	for _, o := range all {
		if !o.Open() {
			continue
		}
		key := groupKey{chainID: o.ChainID, token: o.Token}
		if _, seen := metas[key]; !seen {
			keys = append(keys, key)
			metas[key] = o.TokenMeta
		}
	}

	res := newTickResult()
	for _, key := range keys {
		src, ok := e.prices[key.chainID]
		if !ok {
			res.Errors = append(res.Errors, fmt.Sprintf("%s: no price source for chain %d", key.token.Hex(), key.chainID))
			continue
		}
		price, err := src.USDPrice(ctx, metas[key])
		if err != nil {
			e.logger.WithError(err).WithField("token", key.token.Hex()).Warn("price lookup failed")
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %s", key.token.Hex(), clierr.Reason(err)))
			continue
		}
		group, err := e.evaluateGroup(ctx, key.chainID, key.token, price)
		if err != nil {
			return res, err
		}
		res.merge(group)
	}
	return res, nil
}

// Run scans every interval until ctx ends, then waits for pending work.
func (e *Engine) Run(ctx context.Context, interval time.Duration) error {
	if !config.ValidScanInterval(interval) {
		return clierr.New(clierr.CodeUsage, fmt.Sprintf("scan interval %s is not one of the supported values", interval))
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	e.logger.WithField("interval", interval.String()).Info("order watcher started")
	for {
		select {
		case <-ctx.Done():
			e.Drain()
			return nil
		case <-ticker.C:
			e.pending.Add(1)
			go func() {
				defer e.pending.Done()
				res, err := e.Scan(ctx)
				switch {
				case err != nil:
					e.logger.WithError(err).Warn("order scan failed")
				case res.Skipped:
					e.logger.Debug("order scan skipped, previous scan still running")
				case len(res.Triggered) > 0:
					e.logger.WithField("triggered", len(res.Triggered)).WithField("executed", len(res.Executed)).WithField("failed", len(res.Failed)).Info("order scan")
				}
			}()
		}
	}
}

// Drain waits for background scans and delayed cancellations.
func (e *Engine) Drain() {
	e.pending.Wait()
}

func (e *Engine) evaluateGroup(ctx context.Context, chainID int64, token common.Address, price decimal.Decimal) (TickResult, error) {
	res := newTickResult()
	fired, err := e.arm(ctx, chainID, token, price)
	if err != nil {
		return res, err
	}
	for _, o := range fired {
		res.Triggered = append(res.Triggered, o.ID)
		if e.execute(ctx, o, price) {
			res.Executed = append(res.Executed, o.ID)
		} else {
			res.Failed = append(res.Failed, o.ID)
		}
	}
	return res, nil
}

// arm updates trailing stops and marks every crossed order triggered, persisting
// before anything executes.
func (e *Engine) arm(ctx context.Context, chainID int64, token common.Address, price decimal.Decimal) ([]Order, error) {
	var fired []Order
	err := e.store.Update(ctx, func(all []Order) ([]Order, error) {
		fired = nil
		now := e.now()
		changed := false
		for i := range all {
			o := &all[i]
			if !o.Open() || o.ChainID != chainID || o.Token != token {
				continue
			}
			if o.updateTrailing(price) {
				o.UpdatedAt = now
				changed = true
			}
			if o.Fires(price) {
				o.Status = StatusTriggered
				o.UpdatedAt = now
				changed = true
				fired = append(fired, *o)
			}
		}
		if !changed {
			return nil, nil
		}
		return all, nil
	})
	if err != nil {
		return nil, err
	}
	for _, o := range fired {
		transitionsTotal.WithLabelValues(string(StatusTriggered)).Inc()
		e.logger.WithField("order", o.ID).WithField("price", price.String()).Info("order triggered")
	}
	return fired, nil
}

func (e *Engine) execute(parent context.Context, o Order, price decimal.Decimal) bool {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), e.config.ExecTimeout)
	defer cancel()
	res, err := e.run(ctx, o)
	if err != nil {
		reason := diagnose.Reason(err, clierr.Reason(err))
		e.update(ctx, o.ID, func(x *Order) {
			x.Status = StatusFailed
			x.LastError = reason
			x.RawError = err.Error()
			x.TxHash = res.TxHash
		})
		transitionsTotal.WithLabelValues(string(StatusFailed)).Inc()
		e.logger.WithField("order", o.ID).WithField("reason", reason).Warn("order failed")
		return false
	}
	e.update(ctx, o.ID, func(x *Order) {
		x.Status = StatusExecuted
		x.TxHash = res.TxHash
	})
	transitionsTotal.WithLabelValues(string(StatusExecuted)).Inc()
	e.logger.WithField("order", o.ID).WithField("tx", res.TxHash).Info("order executed")

	switch {
	case o.Side == SideBuy:
		if _, err := e.Cascade(ctx, o.TokenMeta, price, o.ID); err != nil {
			e.logger.WithError(err).WithField("order", o.ID).Warn("auto-sell cascade failed")
		}
	case o.Type == TypeTakeProfit && o.SpawnTrailing != nil:
		if _, err := e.Create(ctx, CreateInput{
			ChainID:        o.ChainID,
			Token:          o.TokenMeta,
			Type:           TypeTrailingStop,
			CallbackBps:    o.SpawnTrailing.CallbackBps,
			PercentBps:     o.SpawnTrailing.PercentBps,
			ReferencePrice: price,
			EntryPrice:     o.EntryPrice,
			ParentID:       o.ID,
		}); err != nil {
			e.logger.WithError(err).WithField("order", o.ID).Warn("trailing stop spawn failed")
		}
	}
	if o.Side == SideSell && o.PercentBps == 10_000 {
		e.cancelSiblingsLater(parent, o)
	}
	return true
}

func (e *Engine) run(ctx context.Context, o Order) (trade.Result, error) {
	exec, ok := e.executors[o.ChainID]
	if !ok {
		return trade.Result{}, clierr.New(clierr.CodeConfig, fmt.Sprintf("no executor configured for chain %d", o.ChainID))
	}
	var amount *big.Int
	if o.Amount != "" {
		n, ok := new(big.Int).SetString(o.Amount, 10)
		if !ok {
			return trade.Result{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("order amount %q is not an integer", o.Amount))
		}
		amount = n
	}
	meta := o.TokenMeta
	meta.ChainID = o.ChainID
	meta.Address = o.Token
	if o.Side == SideBuy {
		return exec.Buy(ctx, trade.BuyRequest{Token: meta, AmountIn: amount, PercentBps: o.PercentBps, Wait: true, OrderID: o.ID})
	}
	return exec.Sell(ctx, trade.SellRequest{Token: meta, Amount: amount, PercentBps: o.PercentBps, Wait: true, OrderID: o.ID})
}

func (e *Engine) update(ctx context.Context, id string, fn func(*Order)) {
	err := e.store.Update(ctx, func(all []Order) ([]Order, error) {
		for i := range all {
			if all[i].ID == id {
				fn(&all[i])
				all[i].UpdatedAt = e.now()
				return all, nil
			}
		}
		return nil, nil
	})
	if err != nil {
		e.logger.WithError(err).WithField("order", id).Error("persist order failed")
	}
}

// cancelSiblingsLater cancels the token's other open sells once the grace
// period passes, unless ctx ends first.
func (e *Engine) cancelSiblingsLater(ctx context.Context, executed Order) {
	e.pending.Add(1)
	go func() {
		defer e.pending.Done()
		timer := time.NewTimer(e.config.CancelGrace)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		var cancelled int
		err := e.store.Update(ctx, func(all []Order) ([]Order, error) {
			cancelled = 0
			now := e.now()
			for i := range all {
				o := &all[i]
				if o.ID == executed.ID || !o.Open() || o.Side != SideSell || o.ChainID != executed.ChainID || o.Token != executed.Token {
					continue
				}
				o.Status = StatusCancelled
				o.UpdatedAt = now
				cancelled++
			}
			if cancelled == 0 {
				return nil, nil
			}
			return all, nil
		})
		if err != nil {
			e.logger.WithError(err).Warn("sibling cancel: persist failed")
			return
		}
		if cancelled == 0 {
			return
		}
		transitionsTotal.WithLabelValues(string(StatusCancelled)).Add(float64(cancelled))
		e.logger.WithField("token", executed.Token.Hex()).WithField("cancelled", cancelled).Info("cancelled remaining sell orders after full exit")
	}()
}
