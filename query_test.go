package surgecache

import (
	"testing"

	"github.com/surgecache/surgecache/filter"
)

func TestQuery_CacheKeyEquivalence(t *testing.T) {
	base := &Query{Model: "ticket", Filter: filter.And{Children: []filter.Node{
		filter.Eq{Field: "status", Value: filter.String("open")},
		filter.In{Field: "priority", Values: []filter.Value{filter.Int(1), filter.Int(2)}},
	}}}

	t.Run("commutative reordering", func(t *testing.T) {
		reordered := &Query{Model: "ticket", Filter: filter.And{Children: []filter.Node{
			filter.In{Field: "priority", Values: []filter.Value{filter.Int(2), filter.Int(1)}},
			filter.Eq{Field: "status", Value: filter.String("open")},
		}}}
		if base.CacheKey() != reordered.CacheKey() {
			t.Error("reordered predicate must produce the same key")
		}
	})

	t.Run("numeric normalization", func(t *testing.T) {
		normalized := &Query{Model: "ticket", Filter: filter.And{Children: []filter.Node{
			filter.Eq{Field: "status", Value: filter.String("open")},
			filter.In{Field: "priority", Values: []filter.Value{filter.Float(1.0), filter.Uint(2)}},
		}}}
		if base.CacheKey() != normalized.CacheKey() {
			t.Error("equal numbers of different Go types must produce the same key")
		}
	})

	t.Run("default op", func(t *testing.T) {
		explicit := *base
		explicit.Op = OpFetch
		if base.CacheKey() != explicit.CacheKey() {
			t.Error("empty Op must hash like OpFetch")
		}
	})
}

func TestQuery_CacheKeyShapeSensitivity(t *testing.T) {
	base := Query{Model: "ticket", Filter: filter.Eq{Field: "status", Value: filter.String("open")}}
	variants := map[string]Query{
		"model":   {Model: "user", Filter: base.Filter},
		"op":      {Model: base.Model, Filter: base.Filter, Op: OpCount},
		"value":   {Model: base.Model, Filter: filter.Eq{Field: "status", Value: filter.String("closed")}},
		"select":  {Model: base.Model, Filter: base.Filter, Select: []string{"id"}},
		"orderby": {Model: base.Model, Filter: base.Filter, OrderBy: []string{"created_at desc"}},
		"limit":   {Model: base.Model, Filter: base.Filter, Limit: 10},
		"offset":  {Model: base.Model, Filter: base.Filter, Offset: 10},
	}
	for name, v := range variants {
		if v.CacheKey() == base.CacheKey() {
			t.Errorf("variant %q collides with the base key", name)
		}
	}

	t.Run("list boundaries", func(t *testing.T) {
		joined := Query{Model: base.Model, Filter: base.Filter, Select: []string{"a,b"}}
		split := Query{Model: base.Model, Filter: base.Filter, Select: []string{"a", "b"}}
		if joined.CacheKey() == split.CacheKey() {
			t.Error(`Select ["a,b"] collides with ["a", "b"]`)
		}

		joined.Select, joined.OrderBy = nil, []string{"a,b"}
		split.Select, split.OrderBy = nil, []string{"a", "b"}
		if joined.CacheKey() == split.CacheKey() {
			t.Error(`OrderBy ["a,b"] collides with ["a", "b"]`)
		}
	})
}
