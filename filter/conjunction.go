package filter

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// Conjunction is a normalized AND-only set of field constraints scoped to one
// model. Each field maps to the set of value tokens the cached query accepted
// for it: an equality test contributes a single token, an IN test contributes
// one entry per member. A conjunction with no fields is the "any row"
// conjunction and is satisfied by every write to the model.
//
// Conjunctions are the unit of dependency registration: many cache entries
// sharing the same filter shape collapse to one conjunction, so a write is
// matched once per registered shape rather than once per cache entry.
type Conjunction struct {
	Model  string
	fields map[string][]string // field -> sorted, deduped value tokens
}

// NewConjunction returns the any-row conjunction for model.
func NewConjunction(model string) Conjunction {
	return Conjunction{Model: model}
}

// withValues returns a copy of c with the field constrained to tokens.
// Constraining a field already present intersects the two token sets.
func (c Conjunction) withValues(field string, tokens []string) (Conjunction, bool) {
	next := Conjunction{Model: c.Model, fields: make(map[string][]string, len(c.fields)+1)}
	for f, vs := range c.fields {
		next.fields[f] = vs
	}
	if existing, ok := next.fields[field]; ok {
		tokens = intersectSorted(existing, sortDedup(tokens))
	} else {
		tokens = sortDedup(tokens)
	}
	if len(tokens) == 0 {
		return Conjunction{}, false
	}
	next.fields[field] = tokens
	return next, true
}

// IsAnyRow reports whether the conjunction matches every row of its model.
func (c Conjunction) IsAnyRow() bool {
	return len(c.fields) == 0
}

// Fields returns the constrained field names in sorted order.
func (c Conjunction) Fields() []string {
	out := make([]string, 0, len(c.fields))
	for f := range c.fields {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// Matches reports whether a row image satisfies the conjunction: for every
// constrained field the row's value must be one of the recorded tokens. A
// field absent from the image counts as satisfied: partial images cannot
// prove a constraint unsatisfied, and a false positive eviction is the safe
// direction.
func (c Conjunction) Matches(row Row) bool {
	for field, tokens := range c.fields {
		v, ok := row[field]
		if !ok {
			continue
		}
		if !containsSorted(tokens, v.Token()) {
			return false
		}
	}
	return true
}

// Encode returns the canonical serialized form: a JSON object with sorted
// field names mapping to sorted token lists. Encoding is deterministic, so
// equal conjunctions encode to identical bytes.
func (c Conjunction) Encode() []byte {
	m := make(map[string][]string, len(c.fields))
	for f, vs := range c.fields {
		m[f] = vs
	}
	// encoding/json sorts map keys; token lists are already sorted.
	data, err := json.Marshal(m)
	if err != nil {
		// A map of strings to string slices cannot fail to marshal.
		panic(err)
	}
	return data
}

// Hash returns the 128-bit hex digest of the canonical encoding, used as the
// conjunction's identity in the dependency index.
func (c Conjunction) Hash() string {
	sum := sha256.Sum256(c.Encode())
	return hex.EncodeToString(sum[:16])
}

// Equal reports whether two conjunctions cover the same model and constraints.
func (c Conjunction) Equal(o Conjunction) bool {
	if c.Model != o.Model || len(c.fields) != len(o.fields) {
		return false
	}
	for f, vs := range c.fields {
		ovs, ok := o.fields[f]
		if !ok || len(vs) != len(ovs) {
			return false
		}
		for i := range vs {
			if vs[i] != ovs[i] {
				return false
			}
		}
	}
	return true
}

// DecodeConjunction rebuilds a conjunction from its canonical encoding.
func DecodeConjunction(model string, data []byte) (Conjunction, error) {
	var m map[string][]string
	if err := json.Unmarshal(data, &m); err != nil {
		return Conjunction{}, fmt.Errorf("filter: decode conjunction: %w", err)
	}
	c := Conjunction{Model: model}
	if len(m) == 0 {
		return c, nil
	}
	c.fields = make(map[string][]string, len(m))
	for f, vs := range m {
		c.fields[f] = sortDedup(vs)
	}
	return c, nil
}

func sortDedup(tokens []string) []string {
	out := make([]string, 0, len(tokens))
	out = append(out, tokens...)
	sort.Strings(out)
	n := 0
	for i, t := range out {
		if i > 0 && t == out[n-1] {
			continue
		}
		out[n] = t
		n++
	}
	return out[:n]
}

func intersectSorted(a, b []string) []string {
	var out []string
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] == b[j]:
			out = append(out, a[i])
			i++
			j++
		case a[i] < b[j]:
			i++
		default:
			j++
		}
	}
	return out
}

func containsSorted(tokens []string, t string) bool {
	i := sort.SearchStrings(tokens, t)
	return i < len(tokens) && tokens[i] == t
}
