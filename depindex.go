package surgecache

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/surgecache/surgecache/filter"
	"github.com/surgecache/surgecache/store"
)

// indexGrace extends index-key TTLs past entry TTLs so a registration never
// expires while an entry that relies on it is still readable. Dangling
// registrations left by naturally expired entries die with this grace at the
// latest; forget prunes them sooner.
const indexGrace = time.Hour

// depIndex is the dependency index: per model it keeps the registry of live
// conjunctions (the "schemes" hash), the reverse mapping from each
// conjunction to the entry keys depending on it, the entry-to-conjunction
// back references used for pruning, and the generation fences the read path
// verifies. All state lives in the shared store; there is no in-process
// mirror.
type depIndex struct {
	st   store.Store
	keys keyspace
	log  *slog.Logger
	now  func() time.Time
}

func (ix *depIndex) stamp() string {
	return strconv.FormatInt(ix.now().UnixNano(), 10)
}

// errRegistrationLost reports that a concurrent prune removed the scheme
// while this registration was landing. The caller must not cache the result:
// an entry recording current fences for a conjunction absent from the
// registry would never be found by the write path.
var errRegistrationLost = errors.New("surgecache: registration pruned concurrently")

// register idempotently associates conj with entryKey and returns the
// generation snapshot the entry envelope must record. Fences are ensured and
// read before the registration lands, and the engine calls register before
// executing the underlying query, so an invalidation logically ordered after
// the query execution either sees the registration or leaves the entry's
// recorded generations outdated. Either way no stale entry is ever trusted.
//
// The final presence check closes the race against pruners: they remove the
// scheme before bumping its fence, so a prune that lands between our scheme
// write and our set inserts is either observed here (registration aborted,
// errRegistrationLost) or bumped the fence after our snapshot (entry reads
// as stale).
func (ix *depIndex) register(ctx context.Context, conj filter.Conjunction, entryKey string, ttl time.Duration) (map[string]string, error) {
	model := conj.Model
	hash := conj.Hash()
	indexTTL := ttl + indexGrace

	modelGen, err := ix.ensureGen(ctx, ix.keys.modelGen(model), indexTTL)
	if err != nil {
		return nil, storeErr("register", err)
	}
	conjGen, err := ix.ensureGen(ctx, ix.keys.conjGen(model, hash), indexTTL)
	if err != nil {
		return nil, storeErr("register", err)
	}

	if err := ix.st.HSet(ctx, ix.keys.schemes(model), hash, conj.Encode(), indexTTL); err != nil {
		return nil, storeErr("register", err)
	}
	if err := ix.st.SAdd(ctx, ix.keys.conj(model, hash), indexTTL, entryKey); err != nil {
		return nil, storeErr("register", err)
	}
	if err := ix.st.SAdd(ctx, ix.keys.deps(model, entryKey), indexTTL, hash); err != nil {
		return nil, storeErr("register", err)
	}

	if _, err := ix.st.HGet(ctx, ix.keys.schemes(model), hash); err != nil {
		if errors.Is(err, store.ErrMiss) {
			return nil, errRegistrationLost
		}
		return nil, storeErr("register", err)
	}

	return map[string]string{genModelField: modelGen, hash: conjGen}, nil
}

// ensureGen initializes a generation fence if absent and returns its current
// value.
func (ix *depIndex) ensureGen(ctx context.Context, key string, ttl time.Duration) (string, error) {
	stamp := ix.stamp()
	if _, err := ix.st.SetNX(ctx, key, []byte(stamp), ttl); err != nil {
		return "", err
	}
	cur, err := ix.st.Get(ctx, key)
	if errors.Is(err, store.ErrMiss) {
		// Expired between the two calls; our stamp is as good as any.
		// A mismatch against a later fence still reads as stale.
		return stamp, nil
	}
	if err != nil {
		return "", err
	}
	return string(cur), nil
}

// currentGens fetches the present fence values for a recorded snapshot.
// Missing fences come back empty, which never equals a recorded value.
func (ix *depIndex) currentGens(ctx context.Context, model string, recorded map[string]string) (map[string]string, error) {
	out := make(map[string]string, len(recorded))
	for field := range recorded {
		key := ix.keys.modelGen(model)
		if field != genModelField {
			key = ix.keys.conjGen(model, field)
		}
		cur, err := ix.st.Get(ctx, key)
		if errors.Is(err, store.ErrMiss) {
			out[field] = ""
			continue
		}
		if err != nil {
			return nil, storeErr("gen lookup", err)
		}
		out[field] = string(cur)
	}
	return out, nil
}

// lookup returns the hashes of every registered conjunction the write's row
// images satisfy. bulk satisfies everything. A registration that fails to
// decode is counted as satisfied so the eviction pass removes it: index
// corruption self-heals and is never surfaced.
func (ix *depIndex) lookup(ctx context.Context, model string, images []filter.Row, bulk bool) ([]string, error) {
	schemes, err := ix.st.HGetAll(ctx, ix.keys.schemes(model))
	if err != nil {
		return nil, storeErr("lookup", err)
	}

	var satisfied []string
	for hash, enc := range schemes {
		if bulk {
			satisfied = append(satisfied, hash)
			continue
		}
		conj, err := filter.DecodeConjunction(model, enc)
		if err != nil {
			ix.log.Warn("pruning corrupt conjunction registration",
				"model", model, "conjunction", hash, "error", err)
			satisfied = append(satisfied, hash)
			continue
		}
		if conj.IsAnyRow() {
			satisfied = append(satisfied, hash)
			continue
		}
		for _, img := range images {
			if conj.Matches(img) {
				satisfied = append(satisfied, hash)
				break
			}
		}
	}
	return satisfied, nil
}

// schemeCount reports how many conjunctions are live for a model, for the
// per-model cap.
func (ix *depIndex) schemeCount(ctx context.Context, model string) (int64, error) {
	n, err := ix.st.HLen(ctx, ix.keys.schemes(model))
	if err != nil {
		return 0, storeErr("scheme count", err)
	}
	return n, nil
}

// invalidate evicts everything depending on the given conjunctions. The
// scheme registrations are removed first and the fences bumped second, both
// before any entry is collected or deleted: a registration racing this call
// either finds its scheme gone in register's final check or recorded
// pre-bump generations, and an entry stored after the deletions reads as
// stale.
func (ix *depIndex) invalidate(ctx context.Context, model string, hashes []string, ttl time.Duration) (int, error) {
	if len(hashes) == 0 {
		return 0, nil
	}
	if err := ix.st.HDel(ctx, ix.keys.schemes(model), hashes...); err != nil {
		return 0, storeErr("invalidate", err)
	}

	stamp := ix.stamp()
	indexTTL := ttl + indexGrace
	for _, hash := range hashes {
		if err := ix.st.Set(ctx, ix.keys.conjGen(model, hash), []byte(stamp), indexTTL); err != nil {
			return 0, storeErr("invalidate", err)
		}
	}

	conjKeys := make([]string, len(hashes))
	for i, hash := range hashes {
		conjKeys[i] = ix.keys.conj(model, hash)
	}
	entryKeys, err := ix.st.SUnion(ctx, conjKeys...)
	if err != nil {
		return 0, storeErr("invalidate", err)
	}

	del := make([]string, 0, 2*len(entryKeys)+len(conjKeys))
	for _, entryKey := range entryKeys {
		del = append(del, ix.keys.result(model, entryKey), ix.keys.deps(model, entryKey))
	}
	del = append(del, conjKeys...)
	if err := ix.st.Del(ctx, del...); err != nil {
		return 0, storeErr("invalidate", err)
	}
	return len(entryKeys), nil
}

// invalidateModel evicts every entry and registration of a model. The scheme
// registry is dropped before the model-wide fence is bumped, mirroring the
// invalidate ordering, and registrations landing afterwards rebuild the
// registry from scratch. Uses a key-pattern scan; heavier than targeted
// invalidation and meant for bulk degradation and administrative flushes.
func (ix *depIndex) invalidateModel(ctx context.Context, model string) error {
	if err := ix.st.Del(ctx, ix.keys.schemes(model)); err != nil {
		return storeErr("invalidate model", err)
	}
	if err := ix.st.Set(ctx, ix.keys.modelGen(model), []byte(ix.stamp()), 0); err != nil {
		return storeErr("invalidate model", err)
	}

	conjKeys, err := ix.st.Scan(ctx, ix.keys.conjPattern(model))
	if err != nil {
		return storeErr("invalidate model", err)
	}
	entryKeys, err := ix.st.SUnion(ctx, conjKeys...)
	if err != nil {
		return storeErr("invalidate model", err)
	}

	del := make([]string, 0, 2*len(entryKeys)+len(conjKeys))
	for _, entryKey := range entryKeys {
		del = append(del, ix.keys.result(model, entryKey), ix.keys.deps(model, entryKey))
	}
	del = append(del, conjKeys...)
	if err := ix.st.Del(ctx, del...); err != nil {
		return storeErr("invalidate model", err)
	}
	return nil
}

// forget removes every registration pointing at entryKey, pruning
// conjunctions left with no entries. Called when an entry is found stale or
// has expired naturally, so the index cannot grow without bound.
//
// Pruning a scheme bumps its fence afterwards, same ordering as invalidate:
// a registration racing the prune either aborts on register's final presence
// check or recorded a pre-bump generation.
func (ix *depIndex) forget(ctx context.Context, model, entryKey string) error {
	depsKey := ix.keys.deps(model, entryKey)
	hashes, err := ix.st.SMembers(ctx, depsKey)
	if err != nil {
		return storeErr("forget", err)
	}
	for _, hash := range hashes {
		conjKey := ix.keys.conj(model, hash)
		if err := ix.st.SRem(ctx, conjKey, entryKey); err != nil {
			return storeErr("forget", err)
		}
		remaining, err := ix.st.SMembers(ctx, conjKey)
		if err != nil {
			return storeErr("forget", err)
		}
		if len(remaining) == 0 {
			if err := ix.st.HDel(ctx, ix.keys.schemes(model), hash); err != nil {
				return storeErr("forget", err)
			}
			if err := ix.st.Set(ctx, ix.keys.conjGen(model, hash), []byte(ix.stamp()), indexGrace); err != nil {
				return storeErr("forget", err)
			}
		}
	}
	if err := ix.st.Del(ctx, depsKey); err != nil {
		return storeErr("forget", err)
	}
	return nil
}
