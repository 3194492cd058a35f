package surgecache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/surgecache/surgecache/filter"
	"github.com/surgecache/surgecache/internal/logging"
	"github.com/surgecache/surgecache/store"
)

// lockPollInterval paces waiters polling for a result another process is
// computing under the miss-dedup lock.
const lockPollInterval = 20 * time.Millisecond

// Executor runs the underlying query on a cache miss and returns the
// serialized result. Serialization of application objects is the caller's
// concern; the engine stores the bytes verbatim.
type Executor func(ctx context.Context) ([]byte, error)

// Engine is the invalidation engine. It probes and populates the result
// store on reads, maintains the dependency index, and on writes evicts
// exactly the entries the write could have affected.
//
// An Engine is safe for concurrent use and carries no per-query state; any
// number of engines across processes may share one store.
type Engine struct {
	st    store.Store
	keys  keyspace
	index *depIndex
	log   *slog.Logger

	defaultProfile Profile
	profiles       map[string]Profile

	now func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger directs engine diagnostics to l. Degradations are logged, never
// returned to read callers.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithPrefix namespaces every store key, isolating multiple caches sharing
// one store.
func WithPrefix(prefix string) Option {
	return func(e *Engine) { e.keys = keyspace{prefix: prefix} }
}

// WithDefaultProfile replaces the built-in defaults applied to models without
// a specific profile.
func WithDefaultProfile(p Profile) Option {
	return func(e *Engine) { e.defaultProfile = p.withDefaults() }
}

// WithModelProfile sets the profile for one model. The model name "*" acts
// as a wildcard consulted before the default.
func WithModelProfile(model string, p Profile) Option {
	return func(e *Engine) { e.profiles[model] = p.withDefaults() }
}

// WithProfiles sets profiles for several models at once.
func WithProfiles(profiles map[string]Profile) Option {
	return func(e *Engine) {
		for model, p := range profiles {
			e.profiles[model] = p.withDefaults()
		}
	}
}

// withClock overrides the engine clock in tests.
func withClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
		e.index.now = now
	}
}

// New creates an Engine over the given shared store.
func New(st store.Store, opts ...Option) *Engine {
	e := &Engine{
		st:             st,
		log:            logging.Discard(),
		defaultProfile: Profile{}.withDefaults(),
		profiles:       make(map[string]Profile),
		now:            time.Now,
	}
	e.index = &depIndex{st: st, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	e.index.st = e.st
	e.index.keys = e.keys
	e.index.log = e.log
	return e
}

// Profile returns the effective profile for a model, for adapters that need
// the shared per-model knobs (bulk degradation threshold, operation set).
func (e *Engine) Profile(model string) Profile {
	if p, ok := e.profiles[model]; ok {
		return p
	}
	if p, ok := e.profiles["*"]; ok {
		return p
	}
	return e.defaultProfile
}

// Fetch serves q from cache when possible and falls back to exec on a miss,
// registering the query's dependency conjunction before execution and storing
// the result afterwards. Store faults degrade to plain pass-through: the
// caller always gets exec's result or error, never a caching failure.
//
// Fetch returns ErrEmptyResult without running exec when the predicate can
// never match (empty IN list after constant folding).
func (e *Engine) Fetch(ctx context.Context, q *Query, exec Executor) ([]byte, error) {
	if q == nil || q.Model == "" {
		return nil, errors.New("surgecache: query must name a model")
	}
	prof := e.Profile(q.Model)
	if !prof.allows(q.op()) {
		return exec(ctx)
	}

	ext := filter.Extract(q.Model, q.Filter, filter.Options{IndexableFields: prof.IndexableFields})
	if ext.Kind == filter.KindNever {
		return nil, ErrEmptyResult
	}

	entryKey := q.CacheKey()
	resultKey := e.keys.result(q.Model, entryKey)

	payload, ok, err := e.getFresh(ctx, q.Model, entryKey, resultKey)
	if err != nil {
		e.log.Warn("cache read degraded to pass-through", "model", q.Model, "error", err)
		return exec(ctx)
	}
	if ok {
		return payload, nil
	}

	var lockToken string
	if prof.Lock {
		payload, lockToken, err = e.waitOrLock(ctx, q.Model, entryKey, resultKey, prof.LockTimeout)
		if err != nil {
			return nil, err
		}
		if payload != nil {
			return payload, nil
		}
	}

	payload, err = e.computeAndStore(ctx, q.Model, entryKey, resultKey, ext.Conj, prof.TTL, exec)

	if lockToken != "" {
		lockKey := e.keys.lock(q.Model, entryKey)
		if _, cerr := e.st.CompareAndDelete(ctx, lockKey, []byte(lockToken)); cerr != nil {
			e.log.Warn("miss lock release failed", "model", q.Model, "error", cerr)
		}
	}
	return payload, err
}

// computeAndStore registers the dependency, runs the query, and stores the
// envelope. Registration strictly precedes execution; see depIndex.register
// for the ordering contract this upholds.
func (e *Engine) computeAndStore(ctx context.Context, model, entryKey, resultKey string, conj filter.Conjunction, ttl time.Duration, exec Executor) ([]byte, error) {
	conj, err := e.capConjunction(ctx, model, conj)
	if err != nil {
		e.log.Warn("conjunction cap check failed, degrading to any-row", "model", model, "error", err)
		conj = filter.NewConjunction(model)
	}

	gens, regErr := e.index.register(ctx, conj, entryKey, ttl)
	switch {
	case errors.Is(regErr, errRegistrationLost):
		e.log.Debug("registration raced a prune, result not cached", "model", model)
	case regErr != nil:
		// Best-effort skippable: the read stays correct, just uncached.
		e.log.Warn("dependency registration failed, result not cached", "model", model, "error", regErr)
	}

	payload, err := exec(ctx)
	if err != nil {
		return nil, err
	}
	if regErr != nil {
		return payload, nil
	}

	env := envelope{CreatedAt: e.now().UnixNano(), Gens: gens, Payload: payload}
	data, err := env.encode()
	if err != nil {
		e.log.Warn("result not cacheable", "model", model, "error", err)
		return payload, nil
	}
	if err := e.st.Set(ctx, resultKey, data, ttl); err != nil {
		e.log.Warn("result store failed", "model", model, "error", err)
	}
	return payload, nil
}

// capConjunction enforces the per-model cap on live dependency shapes,
// falling back to any-row once exceeded so the per-write scan stays bounded.
func (e *Engine) capConjunction(ctx context.Context, model string, conj filter.Conjunction) (filter.Conjunction, error) {
	limit := e.Profile(model).MaxConjunctions
	if limit < 0 || conj.IsAnyRow() {
		return conj, nil
	}
	n, err := e.index.schemeCount(ctx, model)
	if err != nil {
		return conj, err
	}
	if n >= int64(limit) {
		e.log.Debug("conjunction cap reached, registering as any-row", "model", model, "live", n)
		return filter.NewConjunction(model), nil
	}
	return conj, nil
}

// getFresh probes the result store and verifies the entry's generation fences
// before trusting it. Stale or undecodable entries are evicted and read as
// misses; store faults are returned for the caller to degrade on.
func (e *Engine) getFresh(ctx context.Context, model, entryKey, resultKey string) ([]byte, bool, error) {
	data, err := e.st.Get(ctx, resultKey)
	if errors.Is(err, store.ErrMiss) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, storeErr("get", err)
	}

	env, err := decodeEnvelope(data)
	if err != nil {
		// Undecodable entry: treat as a miss and drop it.
		e.log.Warn("evicting undecodable cache entry", "model", model, "error", err)
		e.evictStale(ctx, model, entryKey, resultKey)
		return nil, false, nil
	}

	current, err := e.index.currentGens(ctx, model, env.Gens)
	if err != nil {
		return nil, false, err
	}
	for field, recorded := range env.Gens {
		if current[field] != recorded {
			// The entry landed after an invalidation fenced it out.
			e.evictStale(ctx, model, entryKey, resultKey)
			return nil, false, nil
		}
	}
	return env.Payload, true, nil
}

func (e *Engine) evictStale(ctx context.Context, model, entryKey, resultKey string) {
	if err := e.st.Del(ctx, resultKey); err != nil {
		e.log.Warn("stale entry delete failed", "model", model, "error", err)
		return
	}
	if err := e.index.forget(ctx, model, entryKey); err != nil {
		e.log.Warn("stale entry prune failed", "model", model, "error", err)
	}
}

// waitOrLock implements miss dedup: try to take the per-key lock; as a
// waiter, poll for the winner's result until it lands, the lock disappears,
// or the timeout passes. Waiters that outlive the timeout execute themselves,
// so the underlying query runs a small bounded number of times rather than
// once per concurrent caller.
func (e *Engine) waitOrLock(ctx context.Context, model, entryKey, resultKey string, timeout time.Duration) ([]byte, string, error) {
	lockKey := e.keys.lock(model, entryKey)
	token := uuid.NewString()

	deadline := e.now().Add(timeout)
	for {
		won, err := e.st.SetNX(ctx, lockKey, []byte(token), timeout)
		if err != nil {
			e.log.Warn("miss lock unavailable", "model", model, "error", err)
			return nil, "", nil
		}
		if won {
			return nil, token, nil
		}

		// Another caller is computing this key; wait for its result.
		for e.now().Before(deadline) {
			select {
			case <-ctx.Done():
				return nil, "", ctx.Err()
			case <-time.After(lockPollInterval):
			}

			payload, ok, err := e.getFresh(ctx, model, entryKey, resultKey)
			if err != nil {
				return nil, "", nil
			}
			if ok {
				return payload, "", nil
			}
			if _, err := e.st.Get(ctx, lockKey); errors.Is(err, store.ErrMiss) {
				// Winner released without storing (query error or
				// uncacheable result); contend for the lock again.
				break
			}
		}
		if !e.now().Before(deadline) {
			return nil, "", nil
		}
	}
}

// OnWrite must be called after a row mutation commits. It resolves which
// registered conjunctions the write satisfies and evicts every dependent
// entry. If the dependency lookup fails the whole model is invalidated;
// a write-side fault may never be treated as a no-op.
//
// The returned error reports cache-side failures only; the application write
// has already committed and is unaffected.
func (e *Engine) OnWrite(ctx context.Context, ev WriteEvent) error {
	if ev.Model == "" {
		return errors.New("surgecache: write event must name a model")
	}
	if invalidationSuppressed(ctx) {
		return nil
	}

	images, bulk := ev.images()
	satisfied, err := e.index.lookup(ctx, ev.Model, images, bulk)
	if err != nil {
		e.log.Warn("dependency lookup failed, invalidating whole model",
			"model", ev.Model, "op", ev.Op.String(), "error", err)
		if ferr := e.index.invalidateModel(ctx, ev.Model); ferr != nil {
			return fmt.Errorf("surgecache: model invalidation after lookup failure: %w", ferr)
		}
		return nil
	}
	if len(satisfied) == 0 {
		return nil
	}

	evicted, err := e.index.invalidate(ctx, ev.Model, satisfied, e.Profile(ev.Model).TTL)
	if err != nil {
		if ferr := e.index.invalidateModel(ctx, ev.Model); ferr != nil {
			return fmt.Errorf("surgecache: model invalidation after eviction failure: %w", ferr)
		}
		return nil
	}
	e.log.Debug("write invalidation",
		"model", ev.Model, "op", ev.Op.String(),
		"conjunctions", len(satisfied), "entries", evicted)
	return nil
}

// InvalidateModel evicts every cache entry and registration of one model.
// Heavier than write-driven invalidation; intended for bulk mutations without
// row images and administrative flushes.
func (e *Engine) InvalidateModel(ctx context.Context, model string) error {
	if invalidationSuppressed(ctx) {
		return nil
	}
	return e.index.invalidateModel(ctx, model)
}

// InvalidateAll flushes everything the engine keeps in the store. With a
// shared store this also removes other engines' state under the same prefix.
func (e *Engine) InvalidateAll(ctx context.Context) error {
	if invalidationSuppressed(ctx) {
		return nil
	}
	if err := e.st.Flush(ctx); err != nil {
		return storeErr("flush", err)
	}
	return nil
}

type noInvalidationKey struct{}

// WithoutInvalidation marks ctx so write events observed under it are
// ignored. Useful for data migrations that rewrite rows without changing
// what queries would return.
func WithoutInvalidation(ctx context.Context) context.Context {
	return context.WithValue(ctx, noInvalidationKey{}, true)
}

func invalidationSuppressed(ctx context.Context) bool {
	on, _ := ctx.Value(noInvalidationKey{}).(bool)
	return on
}
