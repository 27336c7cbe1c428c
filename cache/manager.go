package cache

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/geocached/geocached/codec"
	"github.com/geocached/geocached/key"
	"github.com/geocached/geocached/store"
)

// ComputeFunc produces the uncached payload for a query. It encapsulates
// the expensive backing work (database reads, geospatial aggregation) and
// is only invoked on a cache miss.
type ComputeFunc func(ctx context.Context) (codec.Payload, error)

// Manager orchestrates key derivation, payload encoding, TTL policy,
// stampede protection, and invalidation over a Store. Construct one per
// process and inject it into request handlers; all coordination state
// beyond in-process request coalescing lives in the store, so correctness
// does not depend on single-process deployment.
type Manager struct {
	store   store.Store
	cfg     config
	group   singleflight.Group
	metrics *metrics
	stats   stats
}

// New returns a Manager over st.
func New(st store.Store, opts ...Option) *Manager {
	cfg := applyOptions(opts)
	return &Manager{
		store:   st,
		cfg:     cfg,
		metrics: newMetrics(cfg.registerer),
	}
}

// GetOrCompute returns the cached payload for (namespace, params), running
// compute on a miss and storing the result with the given TTL. A
// non-positive TTL uses the manager default.
//
// Concurrency: concurrent calls for the same key run compute at most once
// in the common case. Within the process, calls are coalesced; across
// processes, a store-level lock serializes computation. A caller that loses
// the lock waits a bounded time for the winner's result and then computes
// the value itself rather than blocking forever.
//
// Failure: store outages are never surfaced; compute runs and its result
// is returned uncached. Compute errors propagate unchanged and are never
// cached. Returned payloads may be shared between coalesced callers and
// must be treated as read-only.
func (m *Manager) GetOrCompute(ctx context.Context, namespace string, params key.Params, compute ComputeFunc, ttl time.Duration) (codec.Payload, error) {
	k, err := key.Build(namespace, params)
	if err != nil {
		return codec.Payload{}, err
	}
	if ttl <= 0 {
		ttl = m.cfg.defaultTTL
	}

	p, found, err := m.lookup(ctx, k)
	if err != nil {
		return m.bypass(ctx, k, compute)
	}
	if found {
		m.recordHit()
		return p, nil
	}
	m.recordMiss()

	v, err, _ := m.group.Do(string(k), func() (any, error) {
		return m.computeMiss(ctx, k, compute, ttl)
	})
	if err != nil {
		return codec.Payload{}, err
	}
	return v.(codec.Payload), nil
}

// Warm is GetOrCompute invoked for its side effect: it populates the store
// and discards the payload. Scheduled pre-warming jobs call this.
func (m *Manager) Warm(ctx context.Context, namespace string, params key.Params, compute ComputeFunc, ttl time.Duration) error {
	_, err := m.GetOrCompute(ctx, namespace, params, compute, ttl)
	return err
}

// Invalidate removes every entry in a namespace and returns the number of
// keys deleted. It is prefix-scoped: "map-data" removes only "map-data:*".
//
// No ordering is guaranteed against concurrent GetOrCompute calls: a
// computation that started before the invalidation may still store its
// (now stale) result afterward. That staleness window is bounded by the
// entry TTL and is accepted; the store offers no cross-key transactions to
// close it.
func (m *Manager) Invalidate(ctx context.Context, namespace string) (int, error) {
	if !key.ValidNamespace(namespace) {
		return 0, errors.Wrapf(key.ErrInvalidParameter, "invalid namespace %q", namespace)
	}
	n, err := m.store.DeleteByPrefix(ctx, key.Prefix(namespace))
	if err != nil {
		return n, err
	}
	m.metrics.invalidatedKeys.Add(float64(n))
	m.cfg.log.Info("invalidated namespace",
		zap.String("namespace", namespace),
		zap.Int("deleted", n))
	return n, nil
}

// NamespaceCount returns the number of live entries in a namespace.
func (m *Manager) NamespaceCount(ctx context.Context, namespace string) (int, error) {
	if !key.ValidNamespace(namespace) {
		return 0, errors.Wrapf(key.ErrInvalidParameter, "invalid namespace %q", namespace)
	}
	return m.store.Count(ctx, key.Prefix(namespace))
}

// InvalidateKey removes exactly the entry for (namespace, params).
func (m *Manager) InvalidateKey(ctx context.Context, namespace string, params key.Params) error {
	k, err := key.Build(namespace, params)
	if err != nil {
		return err
	}
	existed, err := m.store.Delete(ctx, string(k))
	if err != nil {
		return err
	}
	if existed {
		m.metrics.invalidatedKeys.Inc()
	}
	return nil
}

// Flush removes every entry in the store. This is the explicit
// administrative full wipe; routine invalidation is always namespace-scoped.
func (m *Manager) Flush(ctx context.Context) (int, error) {
	n, err := m.store.DeleteByPrefix(ctx, "")
	if err != nil {
		return n, err
	}
	m.metrics.invalidatedKeys.Add(float64(n))
	m.cfg.log.Warn("flushed entire cache", zap.Int("deleted", n))
	return n, nil
}

// Health reports store reachability and this manager's observed hit rate
// and the store's entry count. Hit rate covers this process only;
// cross-process aggregation belongs to the metrics backend.
type Health struct {
	Reachable  bool    `json:"reachable"`
	HitRate    float64 `json:"hit_rate"`
	EntryCount int     `json:"entry_count"`
}

// Health returns the current health snapshot.
func (m *Manager) Health(ctx context.Context) Health {
	h := Health{HitRate: m.stats.hitRate()}
	if err := m.store.Ping(ctx); err != nil {
		m.cfg.log.Warn("cache store unreachable", zap.Error(err))
		return h
	}
	h.Reachable = true
	if n, err := m.store.Count(ctx, ""); err == nil {
		h.EntryCount = n
	}
	return h
}

// lookup fetches and decodes the entry for k. A corrupt entry is logged,
// best-effort deleted, and reported as a miss; only store unavailability is
// returned as an error.
func (m *Manager) lookup(ctx context.Context, k key.Key) (codec.Payload, bool, error) {
	found, raw, err := m.store.Get(ctx, string(k))
	if err != nil {
		return codec.Payload{}, false, err
	}
	if !found {
		return codec.Payload{}, false, nil
	}
	p, err := m.cfg.codec.DecodeBytes(raw)
	if err != nil {
		m.metrics.corruptEntries.Inc()
		m.cfg.log.Warn("corrupt cache entry treated as miss",
			zap.String("key", string(k)), zap.Error(err))
		_, _ = m.store.Delete(ctx, string(k))
		return codec.Payload{}, false, nil
	}
	return p, true, nil
}

// computeMiss runs under the in-process coalescer. It attempts the store
// lock; the winner computes and stores, losers wait a bounded time for the
// stored result before computing the value themselves.
func (m *Manager) computeMiss(ctx context.Context, k key.Key, compute ComputeFunc, ttl time.Duration) (codec.Payload, error) {
	token, acquired, err := m.store.AcquireLock(ctx, string(k), m.cfg.lockTTL)
	if err != nil {
		// Already counted as a miss by the caller.
		return m.computeUncached(ctx, k, compute)
	}

	if !acquired {
		if p, ok := m.awaitEntry(ctx, k); ok {
			return p, nil
		}
		// Wait bound elapsed or the winner never stored. Duplicate work is
		// preferred over unbounded blocking.
		m.metrics.lockFallbacks.Inc()
		m.cfg.log.Debug("lock wait elapsed, computing without lock",
			zap.String("key", string(k)))
		return m.computeAndStore(ctx, k, compute, ttl)
	}

	// Detach from the caller: an abandoned request must not cancel a
	// computation that will benefit subsequent callers. The lock TTL is the
	// safety net against a wedged worker.
	cctx := context.WithoutCancel(ctx)
	defer func() {
		if err := m.store.ReleaseLock(cctx, string(k), token); err != nil {
			m.cfg.log.Warn("failed to release computation lock",
				zap.String("key", string(k)), zap.Error(err))
		}
	}()
	return m.computeAndStore(cctx, k, compute, ttl)
}

// computeAndStore runs compute and writes the encoded result best-effort.
// Compute errors propagate unchanged; store and encode failures degrade to
// returning the payload uncached.
func (m *Manager) computeAndStore(ctx context.Context, k key.Key, compute ComputeFunc, ttl time.Duration) (codec.Payload, error) {
	start := time.Now()
	p, err := compute(ctx)
	m.metrics.computeDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return codec.Payload{}, err
	}

	raw, err := m.cfg.codec.EncodeBytes(p, ttl)
	if err != nil {
		m.cfg.log.Error("computed payload is not cacheable",
			zap.String("key", string(k)), zap.Error(err))
		return p, nil
	}
	if err := m.store.Set(ctx, string(k), raw, ttl); err != nil {
		m.cfg.log.Warn("failed to store computed entry",
			zap.String("key", string(k)), zap.Error(err))
	}
	return p, nil
}

// awaitEntry polls the store for k while another caller computes it,
// bounded by the configured wait. Returns ok=false when the bound elapses,
// the context is cancelled, or the store becomes unavailable.
func (m *Manager) awaitEntry(ctx context.Context, k key.Key) (codec.Payload, bool) {
	started := m.cfg.clock.Now()
	deadline := started.Add(m.cfg.waitBound)
	for {
		if err := m.cfg.clock.Sleep(ctx, m.cfg.pollInterval); err != nil {
			return codec.Payload{}, false
		}
		p, found, err := m.lookup(ctx, k)
		if err != nil {
			return codec.Payload{}, false
		}
		if found {
			m.metrics.lockWait.Observe(m.cfg.clock.Now().Sub(started).Seconds())
			return p, true
		}
		if !m.cfg.clock.Now().Before(deadline) {
			return codec.Payload{}, false
		}
	}
}

// bypass is the fail-open path: the store is unreachable, so compute runs
// directly and its result is returned uncached. A cache outage must never
// become an API outage.
func (m *Manager) bypass(ctx context.Context, k key.Key, compute ComputeFunc) (codec.Payload, error) {
	m.recordBypass()
	return m.computeUncached(ctx, k, compute)
}

func (m *Manager) computeUncached(ctx context.Context, k key.Key, compute ComputeFunc) (codec.Payload, error) {
	m.cfg.log.Warn("cache store unavailable, computing without cache",
		zap.String("key", string(k)))
	return compute(ctx)
}

func (m *Manager) recordHit() {
	m.stats.hits.Add(1)
	m.metrics.requests.WithLabelValues("hit").Inc()
}

func (m *Manager) recordMiss() {
	m.stats.misses.Add(1)
	m.metrics.requests.WithLabelValues("miss").Inc()
}

func (m *Manager) recordBypass() {
	m.metrics.requests.WithLabelValues("bypass").Inc()
}
