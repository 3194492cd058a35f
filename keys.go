package surgecache

import "strings"

// keyspace builds the store key layout. All engine state lives under two
// logical namespaces per model, result:{model}:{key} for entries and
// conj:{model}:{hash} for dependency registrations, plus the scheme
// registry, entry-to-conjunction back references, generation fences and
// miss-dedup locks. An optional global prefix isolates multiple caches
// sharing one store.
type keyspace struct {
	prefix string
}

// modelSegment escapes the delimiter inside model names. Entry keys and
// conjunction hashes are engine-generated hex and need no escaping, but a
// model named "a:b" would otherwise make gen:{model} collide with
// gen:{model}:{hash} for model "a" and hash "b".
var modelSegment = strings.NewReplacer("%", "%25", ":", "%3A")

func (k keyspace) base(parts ...string) string {
	n := len(k.prefix)
	for _, p := range parts {
		n += len(p) + 1
	}
	b := make([]byte, 0, n)
	if k.prefix != "" {
		b = append(b, k.prefix...)
		b = append(b, ':')
	}
	for i, p := range parts {
		if i > 0 {
			b = append(b, ':')
		}
		b = append(b, p...)
	}
	return string(b)
}

// result holds one serialized entry envelope.
func (k keyspace) result(model, entryKey string) string {
	return k.base("result", modelSegment.Replace(model), entryKey)
}

// conj is the set of entry keys depending on one conjunction.
func (k keyspace) conj(model, hash string) string {
	return k.base("conj", modelSegment.Replace(model), hash)
}

// conjPattern matches every conjunction set of a model.
func (k keyspace) conjPattern(model string) string {
	return k.base("conj", modelSegment.Replace(model), "*")
}

// schemes is the per-model hash of conjunction hash -> canonical encoding.
func (k keyspace) schemes(model string) string {
	return k.base("schemes", modelSegment.Replace(model))
}

// deps is the set of conjunction hashes one entry is registered under,
// needed to prune the index when the entry dies without being invalidated.
func (k keyspace) deps(model, entryKey string) string {
	return k.base("deps", modelSegment.Replace(model), entryKey)
}

// modelGen is the model-wide generation fence, bumped by model-level flushes.
func (k keyspace) modelGen(model string) string {
	return k.base("gen", modelSegment.Replace(model))
}

// conjGen is the per-conjunction generation fence, bumped on invalidation.
func (k keyspace) conjGen(model, hash string) string {
	return k.base("gen", modelSegment.Replace(model), hash)
}

// lock guards one cache key against duplicate concurrent computation.
func (k keyspace) lock(model, entryKey string) string {
	return k.base("lock", modelSegment.Replace(model), entryKey)
}
