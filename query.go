package surgecache

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/surgecache/surgecache/filter"
)

// OpFetch and friends name the read operations a model profile can opt into
// caching. The engine treats them as opaque labels; adapters pick the one
// matching the call they intercept.
const (
	OpFetch  = "fetch"
	OpGet    = "get"
	OpCount  = "count"
	OpExists = "exists"
)

// Query describes one read query's cache-relevant shape: the target model,
// the filter predicate, and everything else that changes the result set
// (projection, ordering, pagination). Two queries with the same shape share
// one cache entry.
type Query struct {
	// Model is the table/collection the query reads.
	Model string

	// Filter is the predicate tree; nil means no predicate (full scan).
	Filter filter.Node

	// Op is the read operation kind; defaults to OpFetch.
	Op string

	// Select lists projected columns; empty means all.
	Select []string

	// OrderBy lists ordering expressions in significance order.
	OrderBy []string

	// Limit and Offset paginate; zero values mean unset.
	Limit  int
	Offset int
}

func (q *Query) op() string {
	if q.Op == "" {
		return OpFetch
	}
	return q.Op
}

// CacheKey derives the deterministic entry identifier for the query. It
// hashes the model, operation, canonical predicate form and shape parameters,
// so logically equivalent queries (up to commutative predicate reordering and
// value normalization) map to the same entry.
func (q *Query) CacheKey() string {
	var b strings.Builder
	b.WriteString(q.Model)
	b.WriteByte('\x00')
	b.WriteString(q.op())
	b.WriteByte('\x00')
	b.WriteString(filter.Canonical(q.Filter))
	b.WriteByte('\x00')
	// Select and OrderBy are order-significant; hash them as given,
	// length-prefixing each element so list boundaries stay unambiguous.
	for _, col := range q.Select {
		b.WriteString(strconv.Itoa(len(col)))
		b.WriteByte(':')
		b.WriteString(col)
	}
	b.WriteByte('\x00')
	for _, expr := range q.OrderBy {
		b.WriteString(strconv.Itoa(len(expr)))
		b.WriteByte(':')
		b.WriteString(expr)
	}
	b.WriteByte('\x00')
	b.WriteString(strconv.Itoa(q.Limit))
	b.WriteByte(':')
	b.WriteString(strconv.Itoa(q.Offset))

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:16])
}
