package memory

import (
	"context"
	"testing"

	"github.com/conclave-ai/conclave/pkg/session"
)

func TestFacade_ClearDocuments_RemovesOnlyMatchingPatterns(t *testing.T) {
	f := newTestFacade(t)
	ctx := context.Background()
	_ = f.Store(ctx, KindDocument, Record{Document: &DocumentRecord{ID: "d1", Text: "contains secret data"}})
	_ = f.Store(ctx, KindDocument, Record{Document: &DocumentRecord{ID: "d2", Text: "harmless note"}})

	n, err := f.Clear(ctx, KindDocument, Filters{Patterns: []string{"secret"}})
	if err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if n != 1 {
		t.Fatalf("Clear() removed %d, want 1", n)
	}

	stats, err := f.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.Documents != 1 {
		t.Errorf("Stats().Documents = %d, want 1 remaining", stats.Documents)
	}
}

func TestFacade_ClearAll_RemovesDocumentsAndRelations(t *testing.T) {
	f := newTestFacade(t)
	ctx := context.Background()
	_ = f.Store(ctx, KindDocument, Record{Document: &DocumentRecord{ID: "d1", Text: "a note"}})
	_ = f.Store(ctx, KindRelational, Record{Relational: &RelationalRecord{Subject: "a", Predicate: "p", Object: "o"}})

	if _, err := f.Clear(ctx, KindAll, Filters{}); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}

	stats, err := f.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.Documents != 0 || stats.Relations != 0 {
		t.Errorf("Stats() after Clear(KindAll) = %+v, want all zero", stats)
	}
}

func TestFacade_Stats_ReportsUnknownVectorCount(t *testing.T) {
	f := newTestFacade(t)
	stats, err := f.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.VectorRecords != -1 {
		t.Errorf("Stats().VectorRecords = %d, want -1 (unsupported enumeration)", stats.VectorRecords)
	}
}

func TestFacade_ExportImport_RoundTripsDocumentsAndRelationsAndSessions(t *testing.T) {
	src := newTestFacade(t)
	ctx := context.Background()

	sess, err := src.sessions.Create(ctx, "alice", "chat")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := src.sessions.Append(ctx, sess.ID, session.Message{Role: session.RoleUser, Content: "hi"}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	_ = src.Store(ctx, KindDocument, Record{Document: &DocumentRecord{ID: "d1", Text: "a fact"}})
	_ = src.Store(ctx, KindRelational, Record{Relational: &RelationalRecord{Subject: "a", Predicate: "p", Object: "o"}})

	snap, err := src.Export(ctx)
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if len(snap.Documents) != 1 || len(snap.Relations) != 1 || len(snap.Sessions) != 1 {
		t.Fatalf("Export() = %+v, want one document, relation, and session", snap)
	}

	dst := newTestFacade(t)
	if err := dst.Import(ctx, snap); err != nil {
		t.Fatalf("Import() error = %v", err)
	}

	docs, err := dst.Search(ctx, KindDocument, "fact", 5, Filters{})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("Search() after Import() = %+v, want the imported document", docs)
	}

	rels, err := dst.Search(ctx, KindRelational, "a", 5, Filters{})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(rels) != 1 {
		t.Fatalf("Search(KindRelational) after Import() = %+v, want the imported relation", rels)
	}

	msgs, err := dst.RecentConversation(ctx, sess.ID, 10)
	if err != nil {
		t.Fatalf("RecentConversation() error = %v", err)
	}
	if len(msgs) != 1 || msgs[0].Content != "hi" {
		t.Fatalf("RecentConversation() after Import() = %+v, want the imported message", msgs)
	}
}

func TestFacade_Import_RejectsMismatchedVersion(t *testing.T) {
	f := newTestFacade(t)
	err := f.Import(context.Background(), &Snapshot{Version: SnapshotVersion + 1})
	if err == nil {
		t.Fatalf("Import() error = nil, want error for a mismatched snapshot version")
	}
}
