// Package cache implements the response cache sitting between a read-heavy
// geospatial query API and its backing store.
//
// # Manager
//
// [Manager] is the single entry point. It is constructed once with a
// [store.Store] and injected wherever cacheable reads happen:
//
//	m := cache.New(store.NewRedis(client, store.WithPrefix("geocached")),
//	    cache.WithLogger(log),
//	    cache.WithDefaultTTL(time.Hour),
//	)
//
// [Manager.GetOrCompute] is used for every cacheable read. On a hit, the
// stored payload is decoded and returned. On a miss, the compute function
// runs, its result is encoded and written back with a TTL, and the payload
// is returned. [Manager.Warm] is the same operation invoked proactively by
// a scheduler, and [Manager.Invalidate] evicts a whole namespace after the
// underlying data changes.
//
// # Stampede protection
//
// A miss storm on one key runs the compute function at most once in the
// common case. Two layers cooperate:
//
//   - within a process, concurrent callers of the same key are coalesced
//     (singleflight) and share one result;
//   - across processes, an atomic set-if-not-present lock in the store
//     elects one computing worker. Losers poll for the stored entry at a
//     short interval up to a bounded wait, then fall back to computing the
//     value themselves, accepting bounded duplicate work rather than
//     blocking indefinitely. A crashed winner cannot wedge a key: the
//     lock expires on its own TTL.
//
// # Failure semantics
//
// The cache fails open. If the store is unreachable at any point, the
// compute function runs directly and its result is returned uncached; a
// store outage degrades latency, never availability. Corrupt entries are
// treated as misses. Compute errors propagate to the caller unchanged and
// are never cached.
//
// # Typed helpers
//
// [JSON] and [Table] wrap GetOrCompute with type safety for the two payload
// shapes, mirroring how the codec's tagged union distinguishes tabular
// results from JSON documents.
package cache
