package execution

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	clierr "github.com/ggonzalez94/bsc-trader/internal/errors"
)

const DefaultNonceLeaseTTL = 60 * time.Second

var nonceConflictsTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "bsctrade_nonce_conflicts_total",
	Help: "Broadcasts rejected for a nonce conflict",
})

var nonceConflictPatterns = []string{
	"nonce too low",
	"already known",
	"replacement transaction underpriced",
	"nonce too high",
	"invalid nonce",
}

// IsNonceConflict reports whether err is a node rejection caused by the nonce.
func IsNonceConflict(err error) bool {
	if err == nil {
		return false
	}
	if clierr.Is(err, clierr.CodeNonceConflict) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, pattern := range nonceConflictPatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

type NonceSource interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
}

type nonceKey struct {
	chainID int64
	address common.Address
}

type nonceLease struct {
	next      uint64
	fetchedAt time.Time
}

// NonceResolver hands out nonces per (chain, account) from a short-lived
// local lease so back-to-back sends skip the chain round-trip. Reservations
// for one key are served in arrival order.
type NonceResolver struct {
	sources map[int64]NonceSource
	ttl     time.Duration
	now     func() time.Time

	mu     sync.Mutex
	leases map[nonceKey]*nonceLease
	locks  map[nonceKey]*fifoLock
}

func NewNonceResolver(sources map[int64]NonceSource, ttl time.Duration) *NonceResolver {
	if ttl <= 0 {
		ttl = DefaultNonceLeaseTTL
	}
	return &NonceResolver{
		sources: sources,
		ttl:     ttl,
		now:     time.Now,
		leases:  map[nonceKey]*nonceLease{},
		locks:   map[nonceKey]*fifoLock{},
	}
}

func (r *NonceResolver) lockFor(key nonceKey) *fifoLock {
	r.mu.Lock()
	defer r.mu.Unlock()
	lock, ok := r.locks[key]
	if !ok {
		lock = &fifoLock{}
		r.locks[key] = lock
	}
	return lock
}

func (r *NonceResolver) source(chainID int64) (NonceSource, error) {
	src, ok := r.sources[chainID]
	if !ok || src == nil {
		return nil, clierr.New(clierr.CodeUnsupported, fmt.Sprintf("no nonce source configured for chain %d", chainID))
	}
	return src, nil
}

// Reserve returns the next nonce for the account and advances the lease.
func (r *NonceResolver) Reserve(ctx context.Context, chainID int64, addr common.Address) (uint64, error) {
	key := nonceKey{chainID: chainID, address: addr}
	lock := r.lockFor(key)
	if err := lock.Lock(ctx); err != nil {
		return 0, clierr.Wrap(clierr.CodeActionTimeout, "wait for nonce reservation", err)
	}
	defer lock.Unlock()

	r.mu.Lock()
	lease := r.leases[key]
	if lease != nil && r.now().Sub(lease.fetchedAt) < r.ttl {
		nonce := lease.next
		lease.next++
		r.mu.Unlock()
		return nonce, nil
	}
	r.mu.Unlock()

	nonce, err := r.fetch(ctx, key)
	if err != nil {
		return 0, err
	}
	r.mu.Lock()
	r.leases[key] = &nonceLease{next: nonce + 1, fetchedAt: r.now()}
	r.mu.Unlock()
	return nonce, nil
}

// Prewarm refreshes the lease from chain without consuming a nonce.
func (r *NonceResolver) Prewarm(ctx context.Context, chainID int64, addr common.Address) (uint64, error) {
	key := nonceKey{chainID: chainID, address: addr}
	lock := r.lockFor(key)
	if err := lock.Lock(ctx); err != nil {
		return 0, clierr.Wrap(clierr.CodeActionTimeout, "wait for nonce reservation", err)
	}
	defer lock.Unlock()

	nonce, err := r.fetch(ctx, key)
	if err != nil {
		return 0, err
	}
	r.mu.Lock()
	r.leases[key] = &nonceLease{next: nonce, fetchedAt: r.now()}
	r.mu.Unlock()
	return nonce, nil
}

// Invalidate drops the lease so the next reservation reads the chain.
func (r *NonceResolver) Invalidate(chainID int64, addr common.Address) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.leases, nonceKey{chainID: chainID, address: addr})
}

func (r *NonceResolver) fetch(ctx context.Context, key nonceKey) (uint64, error) {
	src, err := r.source(key.chainID)
	if err != nil {
		return 0, err
	}
	nonce, err := src.PendingNonceAt(ctx, key.address)
	if err != nil {
		return 0, clierr.Wrap(clierr.CodeUnavailable, "fetch pending nonce", err)
	}
	return nonce, nil
}

// fifoLock is a mutex that admits waiters in arrival order. A waiter whose
// context ends leaves the queue without taking the lock.
type fifoLock struct {
	mu      sync.Mutex
	held    bool
	waiters []chan struct{}
}

func (l *fifoLock) Lock(ctx context.Context) error {
	l.mu.Lock()
	if !l.held {
		l.held = true
		l.mu.Unlock()
		return nil
	}
	ticket := make(chan struct{})
	l.waiters = append(l.waiters, ticket)
	l.mu.Unlock()

	select {
	case <-ticket:
		return nil
	case <-ctx.Done():
		l.mu.Lock()
		for i, w := range l.waiters {
			if w == ticket {
				l.waiters = append(l.waiters[:i], l.waiters[i+1:]...)
				l.mu.Unlock()
				return ctx.Err()
			}
		}
		l.mu.Unlock()
		// ownership was handed over while cancelling; pass it on
		l.Unlock()
		return ctx.Err()
	}
}

func (l *fifoLock) Unlock() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.waiters) == 0 {
		l.held = false
		return
	}
	next := l.waiters[0]
	l.waiters = l.waiters[1:]
	close(next)
}
