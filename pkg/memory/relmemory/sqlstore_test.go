package relmemory

import (
	"context"
	"testing"

	"github.com/conclave-ai/conclave/pkg/relstore"
)

func newSQLStore(t *testing.T, dsn string) *SQLStore {
	t.Helper()
	db, err := relstore.Open(relstore.DriverSQLite, dsn)
	if err != nil {
		t.Fatalf("relstore.Open() error = %v", err)
	}
	db.SetMaxOpenConns(1)
	if err := relstore.Migrate(db, relstore.DriverSQLite); err != nil {
		t.Fatalf("relstore.Migrate() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewSQLStore(db)
}

func TestSQLStore_AddGeneratesIDAndDefaults(t *testing.T) {
	s := newSQLStore(t, "file:relmemory_add?mode=memory&cache=shared")
	ctx := context.Background()

	if err := s.Add(ctx, Triplet{SessionID: "sess1", Subject: "alice", Predicate: "likes", Object: "coffee"}); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	all, err := s.All(ctx, "sess1")
	if err != nil {
		t.Fatalf("All() error = %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("All() = %+v, want 1 triplet", all)
	}
	if all[0].ID == "" {
		t.Errorf("Add() did not generate an id")
	}
	if all[0].Confidence != 1.0 {
		t.Errorf("Confidence = %v, want default 1.0", all[0].Confidence)
	}
}

func TestSQLStore_BySubjectFiltersWithinSession(t *testing.T) {
	s := newSQLStore(t, "file:relmemory_bysubject?mode=memory&cache=shared")
	ctx := context.Background()

	_ = s.Add(ctx, Triplet{SessionID: "sess1", Subject: "alice", Predicate: "likes", Object: "coffee"})
	_ = s.Add(ctx, Triplet{SessionID: "sess1", Subject: "bob", Predicate: "likes", Object: "tea"})
	_ = s.Add(ctx, Triplet{SessionID: "sess2", Subject: "alice", Predicate: "likes", Object: "juice"})

	got, err := s.BySubject(ctx, "sess1", "alice")
	if err != nil {
		t.Fatalf("BySubject() error = %v", err)
	}
	if len(got) != 1 || got[0].Object != "coffee" {
		t.Fatalf("BySubject() = %+v, want the single sess1/alice triplet", got)
	}
}

func TestSQLStore_DeleteRemovesAllTripletsForSession(t *testing.T) {
	s := newSQLStore(t, "file:relmemory_delete?mode=memory&cache=shared")
	ctx := context.Background()

	_ = s.Add(ctx, Triplet{SessionID: "sess1", Subject: "alice", Predicate: "likes", Object: "coffee"})
	_ = s.Add(ctx, Triplet{SessionID: "sess1", Subject: "bob", Predicate: "likes", Object: "tea"})

	if err := s.Delete(ctx, "sess1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	all, err := s.All(ctx, "sess1")
	if err != nil {
		t.Fatalf("All() error = %v", err)
	}
	if len(all) != 0 {
		t.Errorf("All() after Delete() = %+v, want empty", all)
	}
}

func TestSQLStore_AllOrdersByCreatedAt(t *testing.T) {
	s := newSQLStore(t, "file:relmemory_order?mode=memory&cache=shared")
	ctx := context.Background()

	_ = s.Add(ctx, Triplet{SessionID: "sess1", Subject: "a", Predicate: "p", Object: "1"})
	_ = s.Add(ctx, Triplet{SessionID: "sess1", Subject: "b", Predicate: "p", Object: "2"})

	all, err := s.All(ctx, "sess1")
	if err != nil {
		t.Fatalf("All() error = %v", err)
	}
	if len(all) != 2 || all[0].Subject != "a" || all[1].Subject != "b" {
		t.Fatalf("All() = %+v, want insertion order [a, b]", all)
	}
}
