// Package query reads vault and identity program state and keeps local
// replicas of it. Reads never mutate chain state; replicas are dropped on
// every network change or explicit refresh.
package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/brojonat/nftvault/service/metrics"
	"github.com/brojonat/nftvault/service/pda"
	"github.com/brojonat/nftvault/service/solana"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
)

var (
	// ErrVaultNotFound is returned when the vault account does not exist.
	ErrVaultNotFound = errors.New("vault not found")

	// ErrPositionNotFound is returned when an identity NFT has no position.
	ErrPositionNotFound = errors.New("position not found")

	// ErrCollectionNotFound is returned when the identity collection does not exist.
	ErrCollectionNotFound = errors.New("collection not found")
)

// Connector supplies the bound RPC client and the binding's generation.
// network.Binding implements it.
type Connector interface {
	Conn() (*solana.Client, error)
	Generation() uint64
}

// Options tune the Loader.
type Options struct {
	// TTL bounds how long a replica is served; zero keeps it until invalidated.
	TTL time.Duration
	// Concurrency bounds parallel token-balance reads.
	Concurrency int
	// FetchTimeout bounds one shared fetch; zero uses DefaultFetchTimeout.
	FetchTimeout time.Duration
}

// DefaultFetchTimeout bounds a shared fetch when Options leaves it unset.
const DefaultFetchTimeout = 30 * time.Second

// Loader loads and caches program state for one wallet.
type Loader struct {
	conn    Connector
	deriver *pda.Deriver
	owner   solanago.PublicKey

	cache       *cache.Cache
	group       singleflight.Group
	epoch        atomic.Uint64
	concurrency  int
	fetchTimeout time.Duration

	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewLoader creates a Loader for owner's positions.
func NewLoader(conn Connector, deriver *pda.Deriver, owner solanago.PublicKey, opts Options, m *metrics.Metrics, logger *slog.Logger) *Loader {
	expiration := opts.TTL
	if expiration <= 0 {
		expiration = cache.NoExpiration
	}
	concurrency := opts.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	fetchTimeout := opts.FetchTimeout
	if fetchTimeout <= 0 {
		fetchTimeout = DefaultFetchTimeout
	}
	return &Loader{
		conn:         conn,
		deriver:      deriver,
		owner:        owner,
		cache:        cache.New(expiration, 10*time.Minute),
		concurrency:  concurrency,
		fetchTimeout: fetchTimeout,
		metrics:      m,
		logger:       logger,
	}
}

// Owner returns the wallet whose positions this loader reads.
func (l *Loader) Owner() solanago.PublicKey {
	return l.owner
}

// Invalidate drops every replica. Loads already in flight finish but do not
// write their results.
func (l *Loader) Invalidate(reason string) {
	l.epoch.Add(1)
	l.cache.Flush()
	l.metrics.RecordQueryInvalidation(reason)
	l.logger.Debug("query cache invalidated", "reason", reason)
}

// Refresh invalidates every replica and reloads the vault snapshot plus the
// positions of the given identity NFTs.
func (l *Loader) Refresh(ctx context.Context, nfts ...solanago.PublicKey) error {
	l.Invalidate("refresh")

	if _, err := l.LoadVaultSnapshot(ctx); err != nil {
		return fmt.Errorf("refresh vault snapshot: %w", err)
	}
	for _, nft := range nfts {
		if _, err := l.LoadUserPosition(ctx, nft); err != nil && !errors.Is(err, ErrPositionNotFound) {
			return fmt.Errorf("refresh position %s: %w", nft, err)
		}
	}
	return nil
}

// cached returns a replica without loading it.
func cached[T any](l *Loader, key string) (T, bool) {
	var zero T
	v, ok := l.cache.Get(key)
	if !ok {
		return zero, false
	}
	t, ok := v.(T)
	return t, ok
}

// load serves key from the cache or runs fetch once for all concurrent
// callers. Results are cached only if no network change or invalidation
// happened while fetching.
func load[T any](ctx context.Context, l *Loader, query, key string, fetch func(ctx context.Context, conn *solana.Client) (T, error)) (T, error) {
	var zero T

	conn, err := l.conn.Conn()
	if err != nil {
		return zero, err
	}

	if v, ok := cached[T](l, key); ok {
		l.metrics.RecordQueryLoad(query, "hit")
		return v, nil
	}

	gen := l.conn.Generation()
	epoch := l.epoch.Load()
	flightKey := fmt.Sprintf("%d/%d/%s", gen, epoch, key)

	// Shared fetches run detached from any one caller.
	ch := l.group.DoChan(flightKey, func() (interface{}, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.fetchTimeout)
		defer cancel()

		val, err := fetch(fetchCtx, conn)
		if err != nil {
			return nil, err
		}
		if l.conn.Generation() == gen && l.epoch.Load() == epoch {
			l.cache.Set(key, val, cache.DefaultExpiration)
		} else {
			l.logger.DebugContext(ctx, "discarding stale load", "query", query, "key", key)
		}
		return val, nil
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		l.metrics.RecordQueryLoad(query, "error")
		return zero, ctx.Err()
	}
	if res.Err != nil {
		l.metrics.RecordQueryLoad(query, "error")
		return zero, res.Err
	}

	v, shared := res.Val, res.Shared
	if shared {
		l.metrics.RecordQueryLoad(query, "shared")
	} else {
		l.metrics.RecordQueryLoad(query, "miss")
	}
	return v.(T), nil
}
