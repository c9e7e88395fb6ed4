package memory

import (
	"context"
	"testing"

	"github.com/conclave-ai/conclave/pkg/memory/docstore"
	"github.com/conclave-ai/conclave/pkg/memory/relmemory"
	"github.com/conclave-ai/conclave/pkg/memory/vectorstore"
	"github.com/conclave-ai/conclave/pkg/session"
)

// fakeEmbedder maps text to a deterministic vector so identical text always
// embeds identically and distinct text embeds to a distinguishable point.
type fakeEmbedder struct{}

func (fakeEmbedder) Name() string      { return "fake" }
func (fakeEmbedder) Dimension() int    { return 4 }
func (fakeEmbedder) MaxBatchSize() int { return 8 }

func (fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, 4)
	for i, r := range text {
		vec[i%4] += float32(r)
	}
	return vec, nil
}

func (e fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

type memRelStore struct {
	triplets []relmemory.Triplet
}

func (m *memRelStore) Add(_ context.Context, t relmemory.Triplet) error {
	m.triplets = append(m.triplets, t)
	return nil
}

func (m *memRelStore) BySubject(_ context.Context, sessionID, subject string) ([]relmemory.Triplet, error) {
	var out []relmemory.Triplet
	for _, t := range m.triplets {
		if t.Subject == subject {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *memRelStore) All(_ context.Context, sessionID string) ([]relmemory.Triplet, error) {
	return m.triplets, nil
}

func (m *memRelStore) Delete(_ context.Context, sessionID string) error {
	m.triplets = nil
	return nil
}

func newTestFacade(t *testing.T) *Facade {
	t.Helper()
	vs, err := vectorstore.NewChromemStore(vectorstore.ChromemConfig{})
	if err != nil {
		t.Fatalf("NewChromemStore() error = %v", err)
	}
	f, err := New(Config{
		Vector:     vs,
		Embedder:   fakeEmbedder{},
		Documents:  docstore.New(),
		Relational: &memRelStore{},
		Sessions:   session.NewMemStore(),
		Dimension:  4,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return f
}

func TestNew_RequiresVectorProvider(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatalf("New() error = nil, want error when no vector provider is configured")
	}
}

func TestFacade_StoreVector_EmbedsWhenMissingThenSearchFindsIt(t *testing.T) {
	f := newTestFacade(t)
	ctx := context.Background()

	err := f.Store(ctx, KindVector, Record{Vector: &VectorRecord{ID: "v1", Text: "hello world"}})
	if err != nil {
		t.Fatalf("Store() error = %v", err)
	}

	results, err := f.Search(ctx, KindVector, "hello world", 5, Filters{})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(results) != 1 || results[0].ID != "v1" {
		t.Fatalf("Search() = %+v, want the stored record", results)
	}
}

func TestFacade_StoreVector_RejectsDimensionMismatch(t *testing.T) {
	f := newTestFacade(t)
	err := f.Store(context.Background(), KindVector, Record{
		Vector: &VectorRecord{ID: "v1", Text: "x", Embedding: []float32{1, 2}},
	})
	if err == nil {
		t.Fatalf("Store() error = nil, want a dimension mismatch error")
	}
}

func TestFacade_StoreVector_NilRecordIsError(t *testing.T) {
	f := newTestFacade(t)
	if err := f.Store(context.Background(), KindVector, Record{}); err == nil {
		t.Fatalf("Store() error = nil, want error for a nil vector record")
	}
}

func TestFacade_SearchVector_FiltersOutMatchingPatterns(t *testing.T) {
	f := newTestFacade(t)
	ctx := context.Background()
	_ = f.Store(ctx, KindVector, Record{Vector: &VectorRecord{ID: "v1", Text: "the secret password is hunter2"}})
	_ = f.Store(ctx, KindVector, Record{Vector: &VectorRecord{ID: "v2", Text: "totally unrelated content"}})

	results, err := f.Search(ctx, KindVector, "content", 10, Filters{Patterns: []string{"secret"}})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	for _, r := range results {
		if r.ID == "v1" {
			t.Errorf("Search() returned v1 despite a matching exclusion pattern")
		}
	}
}

func TestFacade_StoreDocument_SearchableViaFacade(t *testing.T) {
	f := newTestFacade(t)
	ctx := context.Background()
	err := f.Store(ctx, KindDocument, Record{Document: &DocumentRecord{ID: "d1", Text: "a fact about whales"}})
	if err != nil {
		t.Fatalf("Store() error = %v", err)
	}

	results, err := f.Search(ctx, KindDocument, "whales", 5, Filters{})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(results) != 1 || results[0].ID != "d1" {
		t.Fatalf("Search() = %+v, want the stored document", results)
	}
}

func TestFacade_StoreRelational_DefaultsZeroConfidence(t *testing.T) {
	f := newTestFacade(t)
	err := f.Store(context.Background(), KindRelational, Record{
		Relational: &RelationalRecord{Subject: "alice", Predicate: "likes", Object: "coffee"},
	})
	if err != nil {
		t.Fatalf("Store() error = %v", err)
	}

	results, err := f.Search(context.Background(), KindRelational, "alice", 5, Filters{})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(results) != 1 || results[0].Score != 1.0 {
		t.Fatalf("Search() = %+v, want confidence defaulted to 1.0", results)
	}
}

func TestFacade_StoreRelational_NoStoreConfiguredIsError(t *testing.T) {
	vs, _ := vectorstore.NewChromemStore(vectorstore.ChromemConfig{})
	f, err := New(Config{Vector: vs})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	err = f.Store(context.Background(), KindRelational, Record{
		Relational: &RelationalRecord{Subject: "a", Predicate: "p", Object: "o"},
	})
	if err == nil {
		t.Fatalf("Store() error = nil, want error when no relational store is configured")
	}
}

func TestFacade_Search_UnknownKindIsError(t *testing.T) {
	f := newTestFacade(t)
	if _, err := f.Search(context.Background(), Kind("bogus"), "q", 5, Filters{}); err == nil {
		t.Fatalf("Search() error = nil, want error for an unrecognized kind")
	}
	if _, err := f.Search(context.Background(), KindAll, "q", 5, Filters{}); err == nil {
		t.Fatalf("Search(KindAll) error = nil, want error since KindAll has no dedicated search path")
	}
}

func TestFacade_RecentConversation_ReturnsLastN(t *testing.T) {
	f := newTestFacade(t)
	ctx := context.Background()
	id := session.New()
	for _, content := range []string{"one", "two", "three", "four"} {
		if err := f.sessions.Append(ctx, id, session.Message{Role: session.RoleUser, Content: content}); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	got, err := f.RecentConversation(ctx, id, 2)
	if err != nil {
		t.Fatalf("RecentConversation() error = %v", err)
	}
	if len(got) != 2 || got[0].Content != "three" || got[1].Content != "four" {
		t.Fatalf("RecentConversation() = %+v, want the last 2 messages", got)
	}
}

func TestFacade_RecentConversation_NoSessionStoreConfiguredIsError(t *testing.T) {
	vs, _ := vectorstore.NewChromemStore(vectorstore.ChromemConfig{})
	f, err := New(Config{Vector: vs})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, err := f.RecentConversation(context.Background(), "s1", 5); err == nil {
		t.Fatalf("RecentConversation() error = nil, want error when no session store is configured")
	}
}
