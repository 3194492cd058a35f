package surgecache

import (
	"context"
	"testing"
	"time"

	"github.com/surgecache/surgecache/filter"
	"github.com/surgecache/surgecache/internal/logging"
	"github.com/surgecache/surgecache/store/memstore"
)

func newTestIndex() (*depIndex, *memstore.Store) {
	st := memstore.New()
	ix := &depIndex{st: st, keys: keyspace{}, log: logging.Discard(), now: time.Now}
	return ix, st
}

func statusConj(t *testing.T, status string) filter.Conjunction {
	t.Helper()
	ext := filter.Extract("ticket", filter.Eq{Field: "status", Value: filter.String(status)}, filter.Options{})
	if ext.Kind != filter.KindSpecific {
		t.Fatalf("extract kind = %v", ext.Kind)
	}
	return ext.Conj
}

func TestDepIndex_RegisterIsIdempotent(t *testing.T) {
	ctx := context.Background()
	ix, st := newTestIndex()
	conj := statusConj(t, "open")

	g1, err := ix.register(ctx, conj, "entry-1", time.Minute)
	if err != nil {
		t.Fatalf("register() error = %v", err)
	}
	g2, err := ix.register(ctx, conj, "entry-1", time.Minute)
	if err != nil {
		t.Fatalf("second register() error = %v", err)
	}
	if g1[genModelField] != g2[genModelField] || g1[conj.Hash()] != g2[conj.Hash()] {
		t.Error("re-registration must observe the same generations")
	}

	members, _ := st.SMembers(ctx, ix.keys.conj("ticket", conj.Hash()))
	if len(members) != 1 {
		t.Errorf("conjunction set has %d members, want 1", len(members))
	}
	if n, _ := ix.schemeCount(ctx, "ticket"); n != 1 {
		t.Errorf("schemeCount = %d, want 1", n)
	}
}

func TestDepIndex_LookupMatchesImages(t *testing.T) {
	ctx := context.Background()
	ix, _ := newTestIndex()

	open := statusConj(t, "open")
	closed := statusConj(t, "closed")
	ix.register(ctx, open, "e-open", time.Minute)
	ix.register(ctx, closed, "e-closed", time.Minute)

	satisfied, err := ix.lookup(ctx, "ticket", []filter.Row{{"status": filter.String("open")}}, false)
	if err != nil {
		t.Fatalf("lookup() error = %v", err)
	}
	if len(satisfied) != 1 || satisfied[0] != open.Hash() {
		t.Errorf("lookup() = %v, want [%s]", satisfied, open.Hash())
	}

	t.Run("bulk satisfies everything", func(t *testing.T) {
		satisfied, err := ix.lookup(ctx, "ticket", nil, true)
		if err != nil {
			t.Fatalf("lookup() error = %v", err)
		}
		if len(satisfied) != 2 {
			t.Errorf("bulk lookup matched %d conjunctions, want 2", len(satisfied))
		}
	})

	t.Run("any-row conjunction always satisfied", func(t *testing.T) {
		ix.register(ctx, filter.NewConjunction("ticket"), "e-any", time.Minute)
		satisfied, err := ix.lookup(ctx, "ticket", []filter.Row{{"status": filter.String("other")}}, false)
		if err != nil {
			t.Fatalf("lookup() error = %v", err)
		}
		if len(satisfied) != 1 {
			t.Errorf("lookup matched %d conjunctions, want just the any-row one", len(satisfied))
		}
	})
}

func TestDepIndex_CorruptRegistrationSelfHeals(t *testing.T) {
	ctx := context.Background()
	ix, st := newTestIndex()

	conj := statusConj(t, "open")
	ix.register(ctx, conj, "entry-1", time.Minute)
	st.HSet(ctx, ix.keys.schemes("ticket"), "badbadbad", []byte("{corrupt"), time.Minute)

	// A corrupt registration is treated as satisfied so the eviction path
	// prunes it; it never surfaces as an error.
	satisfied, err := ix.lookup(ctx, "ticket", []filter.Row{{"status": filter.String("none")}}, false)
	if err != nil {
		t.Fatalf("lookup() error = %v", err)
	}
	if len(satisfied) != 1 || satisfied[0] != "badbadbad" {
		t.Errorf("lookup() = %v, want the corrupt hash", satisfied)
	}

	if _, err := ix.invalidate(ctx, "ticket", satisfied, time.Minute); err != nil {
		t.Fatalf("invalidate() error = %v", err)
	}
	schemes, _ := st.HGetAll(ctx, ix.keys.schemes("ticket"))
	if _, ok := schemes["badbadbad"]; ok {
		t.Error("corrupt registration survived invalidation")
	}
}

func TestDepIndex_InvalidateBumpsGeneration(t *testing.T) {
	ctx := context.Background()
	ix, _ := newTestIndex()

	conj := statusConj(t, "open")
	gens, err := ix.register(ctx, conj, "entry-1", time.Minute)
	if err != nil {
		t.Fatalf("register() error = %v", err)
	}

	n, err := ix.invalidate(ctx, "ticket", []string{conj.Hash()}, time.Minute)
	if err != nil {
		t.Fatalf("invalidate() error = %v", err)
	}
	if n != 1 {
		t.Errorf("invalidate() evicted %d entries, want 1", n)
	}

	current, err := ix.currentGens(ctx, "ticket", gens)
	if err != nil {
		t.Fatalf("currentGens() error = %v", err)
	}
	if current[conj.Hash()] == gens[conj.Hash()] {
		t.Error("conjunction generation must change on invalidation")
	}
	if current[genModelField] != gens[genModelField] {
		t.Error("model generation must not change on targeted invalidation")
	}
}

func TestDepIndex_ForgetPrunes(t *testing.T) {
	ctx := context.Background()
	ix, st := newTestIndex()

	conj := statusConj(t, "open")
	ix.register(ctx, conj, "entry-1", time.Minute)
	ix.register(ctx, conj, "entry-2", time.Minute)

	if err := ix.forget(ctx, "ticket", "entry-1"); err != nil {
		t.Fatalf("forget() error = %v", err)
	}
	if n, _ := ix.schemeCount(ctx, "ticket"); n != 1 {
		t.Errorf("conjunction pruned while an entry still references it (schemes = %d)", n)
	}

	if err := ix.forget(ctx, "ticket", "entry-2"); err != nil {
		t.Fatalf("forget() error = %v", err)
	}
	if n, _ := ix.schemeCount(ctx, "ticket"); n != 0 {
		t.Errorf("schemeCount = %d after forgetting every entry, want 0", n)
	}
	members, _ := st.SMembers(ctx, ix.keys.conj("ticket", conj.Hash()))
	if len(members) != 0 {
		t.Errorf("conjunction set still has members: %v", members)
	}
}

func TestDepIndex_ForgetFencesPrunedConjunction(t *testing.T) {
	ctx := context.Background()
	ix, _ := newTestIndex()

	conj := statusConj(t, "open")
	gens, err := ix.register(ctx, conj, "entry-1", time.Minute)
	if err != nil {
		t.Fatalf("register() error = %v", err)
	}

	if err := ix.forget(ctx, "ticket", "entry-1"); err != nil {
		t.Fatalf("forget() error = %v", err)
	}

	// A generation recorded before the prune must read as stale afterwards,
	// or an envelope stored concurrently with the prune could stay trusted
	// while its conjunction is gone from the registry.
	current, err := ix.currentGens(ctx, "ticket", gens)
	if err != nil {
		t.Fatalf("currentGens() error = %v", err)
	}
	if current[conj.Hash()] == gens[conj.Hash()] {
		t.Error("pruning a conjunction must bump its generation fence")
	}
}

func TestDepIndex_InvalidateModel(t *testing.T) {
	ctx := context.Background()
	ix, st := newTestIndex()

	open := statusConj(t, "open")
	gens, _ := ix.register(ctx, open, "entry-1", time.Minute)
	ix.register(ctx, filter.NewConjunction("user"), "entry-u", time.Minute)
	st.Set(ctx, ix.keys.result("ticket", "entry-1"), []byte("payload"), time.Minute)

	if err := ix.invalidateModel(ctx, "ticket"); err != nil {
		t.Fatalf("invalidateModel() error = %v", err)
	}

	if _, err := st.Get(ctx, ix.keys.result("ticket", "entry-1")); err == nil {
		t.Error("ticket entry survived model invalidation")
	}
	if n, _ := ix.schemeCount(ctx, "ticket"); n != 0 {
		t.Errorf("ticket schemes = %d, want 0", n)
	}
	if n, _ := ix.schemeCount(ctx, "user"); n != 1 {
		t.Errorf("user schemes = %d, want 1 (other models untouched)", n)
	}

	current, _ := ix.currentGens(ctx, "ticket", gens)
	if current[genModelField] == gens[genModelField] {
		t.Error("model generation must change on model invalidation")
	}
}
