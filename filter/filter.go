// Package filter models read-query predicates and derives the conjunction a
// cached result depends on.
//
// A predicate is a tree of Node values. The closed set of node kinds covers
// what the extractor can statically characterize (equality, IN membership,
// conjunction) plus everything it cannot (disjunction, negation, range
// comparison, opaque expressions). Extraction never fails: predicates outside
// the characterizable subset degrade to the any-row conjunction, and
// predicates that can never match short-circuit without touching the cache.
package filter

import (
	"sort"
	"strings"
)

// Node is one predicate tree node. The set of implementations is closed;
// callers switch on the concrete type rather than extending it.
type Node interface {
	// canon writes a deterministic representation used for cache keys.
	// Commutative nodes sort their children first, so logically equal
	// trees produce identical output.
	canon(b *strings.Builder)
}

// Eq is an equality test on a single field.
type Eq struct {
	Field string
	Value Value
}

// In is a membership test over a finite value set. An empty set never
// matches any row.
type In struct {
	Field  string
	Values []Value
}

// And is the conjunction of its children.
type And struct {
	Children []Node
}

// Or is the disjunction of its children. Not statically characterizable:
// extraction degrades to any-row.
type Or struct {
	Children []Node
}

// Not negates its child. Not statically characterizable.
type Not struct {
	Child Node
}

// CmpOp is a range comparison operator.
type CmpOp string

// Range comparison operators.
const (
	OpLT  CmpOp = "<"
	OpLTE CmpOp = "<="
	OpGT  CmpOp = ">"
	OpGTE CmpOp = ">="
	OpNE  CmpOp = "!="
)

// Cmp is a range or inequality test. Not statically characterizable.
type Cmp struct {
	Field string
	Op    CmpOp
	Value Value
}

// Raw is an opaque expression the extractor cannot inspect (verbatim SQL
// fragments, cross-table references, subqueries). Always degrades to any-row.
type Raw struct {
	Expr string
}

func (e Eq) canon(b *strings.Builder) {
	b.WriteString("eq(")
	b.WriteString(e.Field)
	b.WriteByte(',')
	b.WriteString(e.Value.Token())
	b.WriteByte(')')
}

func (n In) canon(b *strings.Builder) {
	tokens := make([]string, len(n.Values))
	for i, v := range n.Values {
		tokens[i] = v.Token()
	}
	tokens = sortDedup(tokens)
	b.WriteString("in(")
	b.WriteString(n.Field)
	for _, t := range tokens {
		b.WriteByte(',')
		b.WriteString(t)
	}
	b.WriteByte(')')
}

func (a And) canon(b *strings.Builder) {
	b.WriteString("and(")
	writeSortedChildren(b, a.Children)
	b.WriteByte(')')
}

func (o Or) canon(b *strings.Builder) {
	b.WriteString("or(")
	writeSortedChildren(b, o.Children)
	b.WriteByte(')')
}

func (n Not) canon(b *strings.Builder) {
	b.WriteString("not(")
	if n.Child != nil {
		n.Child.canon(b)
	}
	b.WriteByte(')')
}

func (c Cmp) canon(b *strings.Builder) {
	b.WriteString("cmp(")
	b.WriteString(c.Field)
	b.WriteByte(',')
	b.WriteString(string(c.Op))
	b.WriteByte(',')
	b.WriteString(c.Value.Token())
	b.WriteByte(')')
}

func (r Raw) canon(b *strings.Builder) {
	b.WriteString("raw(")
	b.WriteString(r.Expr)
	b.WriteByte(')')
}

func writeSortedChildren(b *strings.Builder, children []Node) {
	parts := make([]string, 0, len(children))
	for _, child := range children {
		if child == nil {
			continue
		}
		var cb strings.Builder
		child.canon(&cb)
		parts = append(parts, cb.String())
	}
	sort.Strings(parts)
	for i, p := range parts {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(p)
	}
}

// Canonical returns the deterministic string form of a predicate tree.
// Logically equivalent trees (up to commutative reordering of AND/OR children
// and value normalization) produce identical strings, which is what makes
// cache keys reusable across call sites. A nil node canonicalizes to the
// empty string (no predicate).
func Canonical(n Node) string {
	if n == nil {
		return ""
	}
	var b strings.Builder
	n.canon(&b)
	return b.String()
}
