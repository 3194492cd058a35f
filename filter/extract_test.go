package filter

import (
	"testing"
)

func TestExtract_Specific(t *testing.T) {
	ext := Extract("ticket", And{Children: []Node{
		Eq{Field: "status", Value: String("open")},
		In{Field: "priority", Values: []Value{Int(1), Int(2)}},
	}}, Options{})

	if ext.Kind != KindSpecific {
		t.Fatalf("Kind = %v, want KindSpecific", ext.Kind)
	}
	if ext.Conj.IsAnyRow() {
		t.Fatal("expected specific conjunction")
	}
	got := ext.Conj.Fields()
	want := []string{"priority", "status"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("Fields() = %v, want %v", got, want)
	}
}

func TestExtract_NoPredicate(t *testing.T) {
	ext := Extract("ticket", nil, Options{})
	if ext.Kind != KindSpecific {
		t.Fatalf("Kind = %v, want KindSpecific", ext.Kind)
	}
	if !ext.Conj.IsAnyRow() {
		t.Error("no predicate should depend on any row")
	}
}

func TestExtract_Degradations(t *testing.T) {
	tests := []struct {
		name string
		node Node
	}{
		{"or", Or{Children: []Node{
			Eq{Field: "status", Value: String("open")},
			Eq{Field: "status", Value: String("new")},
		}}},
		{"not", Not{Child: Eq{Field: "status", Value: String("open")}}},
		{"range", Cmp{Field: "priority", Op: OpGT, Value: Int(3)}},
		{"raw", Raw{Expr: "length(title) > 10"}},
		{"or nested in and", And{Children: []Node{
			Eq{Field: "status", Value: String("open")},
			Or{Children: []Node{Eq{Field: "a", Value: Int(1)}}},
		}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ext := Extract("ticket", tt.node, Options{})
			if ext.Kind != KindAnyRow {
				t.Errorf("Kind = %v, want KindAnyRow", ext.Kind)
			}
			if !ext.Conj.IsAnyRow() {
				t.Error("degraded extraction must carry the any-row conjunction")
			}
		})
	}
}

func TestExtract_Never(t *testing.T) {
	t.Run("empty in list", func(t *testing.T) {
		ext := Extract("ticket", In{Field: "priority"}, Options{})
		if ext.Kind != KindNever {
			t.Errorf("Kind = %v, want KindNever", ext.Kind)
		}
	})

	t.Run("contradictory equalities", func(t *testing.T) {
		ext := Extract("ticket", And{Children: []Node{
			Eq{Field: "status", Value: String("open")},
			Eq{Field: "status", Value: String("closed")},
		}}, Options{})
		if ext.Kind != KindNever {
			t.Errorf("Kind = %v, want KindNever", ext.Kind)
		}
	})

	t.Run("never wins over any-row in an and", func(t *testing.T) {
		ext := Extract("ticket", And{Children: []Node{
			Or{Children: []Node{Eq{Field: "a", Value: Int(1)}}},
			In{Field: "priority"},
		}}, Options{})
		if ext.Kind != KindNever {
			t.Errorf("Kind = %v, want KindNever", ext.Kind)
		}
	})
}

func TestExtract_IntersectsRepeatedField(t *testing.T) {
	ext := Extract("ticket", And{Children: []Node{
		In{Field: "priority", Values: []Value{Int(1), Int(2), Int(3)}},
		In{Field: "priority", Values: []Value{Int(2), Int(3), Int(4)}},
	}}, Options{})

	if ext.Kind != KindSpecific {
		t.Fatalf("Kind = %v, want KindSpecific", ext.Kind)
	}
	if !ext.Conj.Matches(Row{"priority": Int(2)}) {
		t.Error("value in both sets should match")
	}
	if ext.Conj.Matches(Row{"priority": Int(1)}) {
		t.Error("value in only one set should not match")
	}
}

func TestExtract_IndexableFields(t *testing.T) {
	opts := Options{IndexableFields: []string{"status"}}

	ext := Extract("ticket", Eq{Field: "status", Value: String("open")}, opts)
	if ext.Kind != KindSpecific {
		t.Errorf("indexable field: Kind = %v, want KindSpecific", ext.Kind)
	}

	ext = Extract("ticket", Eq{Field: "title", Value: String("x")}, opts)
	if ext.Kind != KindAnyRow {
		t.Errorf("non-indexable field: Kind = %v, want KindAnyRow", ext.Kind)
	}
}

func TestExtract_CanonicalizationUnderReordering(t *testing.T) {
	p1 := And{Children: []Node{
		Eq{Field: "status", Value: String("open")},
		In{Field: "priority", Values: []Value{Int(1), Int(2)}},
	}}
	p2 := And{Children: []Node{
		In{Field: "priority", Values: []Value{Int(2), Int(1)}},
		Eq{Field: "status", Value: String("open")},
	}}

	e1 := Extract("ticket", p1, Options{})
	e2 := Extract("ticket", p2, Options{})
	if !e1.Conj.Equal(e2.Conj) {
		t.Error("reordered trees must extract equal conjunctions")
	}
	if e1.Conj.Hash() != e2.Conj.Hash() {
		t.Error("reordered trees must hash identically")
	}
	if Canonical(p1) != Canonical(p2) {
		t.Errorf("Canonical(p1) = %q, Canonical(p2) = %q, want equal", Canonical(p1), Canonical(p2))
	}
}

func TestExtract_ValueNormalization(t *testing.T) {
	// 2 as int, float and decimal string are the same constraint.
	e1 := Extract("ticket", Eq{Field: "priority", Value: Int(2)}, Options{})
	e2 := Extract("ticket", Eq{Field: "priority", Value: Float(2.0)}, Options{})
	if e1.Conj.Hash() != e2.Conj.Hash() {
		t.Error("int and float forms of the same number must extract identically")
	}
}
