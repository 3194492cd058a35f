package filter

// Kind classifies an extraction result.
type Kind int

const (
	// KindSpecific means the predicate decomposed into a concrete
	// conjunction of equality/membership constraints.
	KindSpecific Kind = iota
	// KindAnyRow means the predicate could not be statically
	// characterized; the query depends on every row of the model.
	KindAnyRow
	// KindNever means the predicate can match no row at all (e.g. an
	// empty IN list); the query must short-circuit to an empty result
	// without touching the cache.
	KindNever
)

// Extraction is the extractor's closed-variant output.
type Extraction struct {
	Kind Kind
	Conj Conjunction
}

// Options tunes extraction per model.
type Options struct {
	// IndexableFields restricts which fields may appear in a specific
	// conjunction. A constraint on any other field degrades the whole
	// extraction to any-row. Empty means every field is indexable.
	IndexableFields []string
}

func (o Options) indexable(field string) bool {
	if len(o.IndexableFields) == 0 {
		return true
	}
	for _, f := range o.IndexableFields {
		if f == field {
			return true
		}
	}
	return false
}

// Extract derives the conjunction a read query depends on. It is a pure
// function of the predicate tree: identical trees (up to commutative
// reordering and value normalization) yield identical conjunctions.
//
// Only AND-combinations of equality and IN tests on indexable fields produce
// a specific conjunction. Disjunction, negation, range comparison and opaque
// expressions poison the tree to any-row: the cached result then depends on
// every write to the model, which is conservative but never stale. Constraint
// combinations that are unsatisfiable (empty IN, contradictory equalities on
// one field) yield KindNever.
func Extract(model string, root Node, opts Options) Extraction {
	conj := NewConjunction(model)
	if root == nil {
		return Extraction{Kind: KindSpecific, Conj: conj}
	}
	conj, kind := extractInto(conj, root, opts)
	switch kind {
	case KindSpecific:
		return Extraction{Kind: KindSpecific, Conj: conj}
	case KindNever:
		return Extraction{Kind: KindNever}
	default:
		return Extraction{Kind: KindAnyRow, Conj: NewConjunction(model)}
	}
}

func extractInto(conj Conjunction, n Node, opts Options) (Conjunction, Kind) {
	switch node := n.(type) {
	case Eq:
		if !opts.indexable(node.Field) {
			return conj, KindAnyRow
		}
		next, ok := conj.withValues(node.Field, []string{node.Value.Token()})
		if !ok {
			return conj, KindNever
		}
		return next, KindSpecific
	case In:
		if len(node.Values) == 0 {
			return conj, KindNever
		}
		if !opts.indexable(node.Field) {
			return conj, KindAnyRow
		}
		tokens := make([]string, len(node.Values))
		for i, v := range node.Values {
			tokens[i] = v.Token()
		}
		next, ok := conj.withValues(node.Field, tokens)
		if !ok {
			return conj, KindNever
		}
		return next, KindSpecific
	case And:
		kind := KindSpecific
		for _, child := range node.Children {
			if child == nil {
				continue
			}
			next, childKind := extractInto(conj, child, opts)
			switch childKind {
			case KindNever:
				// An unsatisfiable branch makes the whole AND
				// unsatisfiable regardless of the other branches.
				return conj, KindNever
			case KindAnyRow:
				kind = KindAnyRow
			default:
				conj = next
			}
		}
		return conj, kind
	default:
		// Or, Not, Cmp, Raw and any future node kinds.
		return conj, KindAnyRow
	}
}
