// Package storetest holds behavior checks shared by every store backend.
package storetest

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"spendly/internal/store"
)

// Run exercises a fresh backend returned by open.
func Run(t *testing.T, open func(t *testing.T) store.Store) {
	t.Run("add and get", func(t *testing.T) { testAddGet(t, open(t)) })
	t.Run("update merges", func(t *testing.T) { testUpdate(t, open(t)) })
	t.Run("delete", func(t *testing.T) { testDelete(t, open(t)) })
	t.Run("owner scoped query ordered by date", func(t *testing.T) { testQuery(t, open(t)) })
	t.Run("invalid query", func(t *testing.T) { testInvalidQuery(t, open(t)) })
}

func testAddGet(t *testing.T, s store.Store) {
	ctx := context.Background()
	date := time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)
	id, err := s.Add(ctx, "expenses", store.Fields{
		"ownerId":  "u1",
		"amount":   12.5,
		"category": "Food",
		"date":     date,
		"note":     "lunch",
	})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if id == "" {
		t.Fatal("Add returned empty id")
	}

	doc, err := s.Get(ctx, "expenses", id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if doc.ID != id {
		t.Errorf("Get id = %q, want %q", doc.ID, id)
	}
	ts, ok := doc.Fields["date"].(store.Timestamp)
	if !ok {
		t.Fatalf("date decoded as %T, want store.Timestamp", doc.Fields["date"])
	}
	if !ts.ToTime().Equal(date) {
		t.Errorf("date = %v, want %v", ts.ToTime(), date)
	}
	if n, ok := doc.Fields["amount"].(json.Number); !ok || n.String() != "12.5" {
		t.Errorf("amount = %#v, want json.Number 12.5", doc.Fields["amount"])
	}

	if _, err := s.Get(ctx, "expenses", "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Get missing = %v, want ErrNotFound", err)
	}
}

func testUpdate(t *testing.T, s store.Store) {
	ctx := context.Background()
	id, err := s.Add(ctx, "expenses", store.Fields{"ownerId": "u1", "amount": 1, "category": "Food", "note": "a"})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.Update(ctx, "expenses", id, store.Fields{"amount": 2, "category": "Bills"}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	doc, err := s.Get(ctx, "expenses", id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if doc.Fields["ownerId"] != "u1" || doc.Fields["note"] != "a" {
		t.Errorf("untouched fields changed: %v", doc.Fields)
	}
	if doc.Fields["category"] != "Bills" || doc.Fields["amount"].(json.Number).String() != "2" {
		t.Errorf("updated fields not applied: %v", doc.Fields)
	}
	if err := s.Update(ctx, "expenses", "missing", store.Fields{"a": 1}); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Update missing = %v, want ErrNotFound", err)
	}
}

func testDelete(t *testing.T, s store.Store) {
	ctx := context.Background()
	id, err := s.Add(ctx, "expenses", store.Fields{"ownerId": "u1"})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.Delete(ctx, "expenses", id); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, "expenses", id); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Get after delete = %v", err)
	}
	if err := s.Delete(ctx, "expenses", id); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("second Delete = %v, want ErrNotFound", err)
	}
}

func testQuery(t *testing.T, s store.Store) {
	ctx := context.Background()
	day := func(d int) time.Time { return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC) }
	mustAdd := func(f store.Fields) string {
		t.Helper()
		id, err := s.Add(ctx, "expenses", f)
		if err != nil {
			t.Fatalf("Add: %v", err)
		}
		return id
	}

	a := mustAdd(store.Fields{"ownerId": "u1", "date": day(5)})
	b := mustAdd(store.Fields{"ownerId": "u1", "date": day(10)})
	mustAdd(store.Fields{"ownerId": "u2", "date": day(7)})
	c := mustAdd(store.Fields{"ownerId": "u1", "date": "2024-01-07"})
	d := mustAdd(store.Fields{"ownerId": "u1"})
	e := mustAdd(store.Fields{"ownerId": "u1"})
	if _, err := s.Add(ctx, "users", store.Fields{"ownerId": "u1"}); err != nil {
		t.Fatalf("Add user: %v", err)
	}

	docs, err := s.Query(ctx, store.Query{
		Collection: "expenses",
		Where:      []store.Condition{{Field: "ownerId", Value: "u1"}},
		OrderBy:    "date",
		Descending: true,
	})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(docs) != 5 {
		t.Fatalf("Query returned %d docs, want 5", len(docs))
	}
	want := []string{b, c, a}
	for i, id := range want {
		if docs[i].ID != id {
			t.Errorf("docs[%d] = %s, want %s", i, docs[i].ID, id)
		}
	}
	// documents without a date come last
	tail := map[string]bool{docs[3].ID: true, docs[4].ID: true}
	if !tail[d] || !tail[e] {
		t.Errorf("undated documents %s, %s not at the end", d, e)
	}
	for _, doc := range docs {
		if doc.Fields["ownerId"] != "u1" {
			t.Errorf("foreign document in result: %v", doc.Fields)
		}
	}
}

func testInvalidQuery(t *testing.T, s store.Store) {
	_, err := s.Query(context.Background(), store.Query{
		Collection: "expenses",
		Where:      []store.Condition{{Field: "owner'); DROP TABLE documents; --", Value: "x"}},
	})
	if !errors.Is(err, store.ErrInvalidQuery) {
		t.Fatalf("Query with bad field = %v, want ErrInvalidQuery", err)
	}
}
