package sqlite_test

import (
	"context"
	"encoding/json"
	"testing"

	surgecache "github.com/surgecache/surgecache"
	"github.com/surgecache/surgecache/filter"
)

func BenchmarkCachedRead(b *testing.B) {
	ctx := context.Background()
	env := setupTestEnv(b)

	env.fetchByStatus(ctx, b, "open")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		env.fetchByStatus(ctx, b, "open")
	}
}

func BenchmarkUncachedRead(b *testing.B) {
	ctx := context.Background()
	env := setupTestEnv(b)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		rows, err := env.db.QueryContext(ctx,
			"SELECT id, status, priority, assignee FROM tickets WHERE status = ? ORDER BY id", "open")
		if err != nil {
			b.Fatalf("query: %v", err)
		}
		for rows.Next() {
			var tk ticket
			if err := rows.Scan(&tk.ID, &tk.Status, &tk.Priority, &tk.Assignee); err != nil {
				b.Fatalf("scan: %v", err)
			}
		}
		rows.Close()
	}
}

func BenchmarkWriteInvalidation(b *testing.B) {
	ctx := context.Background()
	env := setupTestEnv(b)

	exec := func(ctx context.Context) ([]byte, error) {
		return json.Marshal([]ticket{})
	}
	q := &surgecache.Query{
		Model:  "tickets",
		Filter: filter.Eq{Field: "status", Value: filter.String("open")},
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := env.engine.Fetch(ctx, q, exec); err != nil {
			b.Fatalf("fetch: %v", err)
		}
		err := env.engine.OnWrite(ctx, surgecache.WriteEvent{
			Model: "tickets",
			Op:    surgecache.OpInsert,
			After: filter.Row{"status": filter.String("open")},
		})
		if err != nil {
			b.Fatalf("OnWrite: %v", err)
		}
	}
}
