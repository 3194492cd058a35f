// Package surgecache is a transparent query-result cache that sits between an
// application's object-relational layer and its backing relational store.
//
// Read queries are served from a shared key-value store when safe; every
// write is resolved against a reverse index of "conjunctions" (normalized
// AND-only field constraints derived from each cached query's filter) and
// only the cache entries a write could have affected are evicted. Callers
// never declare cache keys or dependencies by hand.
//
// The engine coordinates exclusively through the shared store's atomic
// primitives, so any number of processes can share one cache. Invalidation is
// conservative: evicting an unaffected entry is acceptable, retaining an
// affected one never is. Caching faults degrade toward "as if caching were
// disabled" and are never surfaced as failures of the underlying read or
// write.
//
// Usage:
//
//	st := redisstore.New(redis.NewClient(&redis.Options{Addr: "localhost:6379"}))
//	engine := surgecache.New(st)
//
//	q := &surgecache.Query{
//		Model:  "ticket",
//		Filter: filter.Eq{Field: "status", Value: filter.String("open")},
//	}
//	payload, err := engine.Fetch(ctx, q, runQuery)
//
//	// after a committed write:
//	err = engine.OnWrite(ctx, surgecache.WriteEvent{
//		Model: "ticket",
//		Op:    surgecache.OpUpdate,
//		Before: filter.RowFromMap(old),
//		After:  filter.RowFromMap(new),
//	})
package surgecache
