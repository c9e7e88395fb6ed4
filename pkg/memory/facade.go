package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/conclave-ai/conclave/pkg/apperr"
	"github.com/conclave-ai/conclave/pkg/memory/docstore"
	"github.com/conclave-ai/conclave/pkg/memory/embedder"
	"github.com/conclave-ai/conclave/pkg/memory/relmemory"
	"github.com/conclave-ai/conclave/pkg/memory/vectorstore"
	"github.com/conclave-ai/conclave/pkg/session"
)

const vectorCollection = "memory"

// Config wires the facade's three backing stores plus the session store it
// cross-references for recent_conversation and export/import.
type Config struct {
	Vector     vectorstore.Provider
	Embedder   embedder.Provider
	Documents  *docstore.Store
	Relational relmemory.Store
	Sessions   session.Store
	// Dimension is the fixed vector width enforced on every Store call
	// (invariant: the vector store rejects inserts whose embedding
	// dimension doesn't match). Defaults to Embedder.Dimension() if zero.
	Dimension int
}

// Facade is the single entry point the rest of the orchestrator uses for
// memory reads and writes. It never exposes vectorstore/docstore/relmemory
// types to callers outside this package.
type Facade struct {
	vector     vectorstore.Provider
	embedder   embedder.Provider
	documents  *docstore.Store
	relational relmemory.Store
	sessions   session.Store
	dimension  int

	locks *shardLocks
}

func New(cfg Config) (*Facade, error) {
	if cfg.Vector == nil {
		return nil, fmt.Errorf("memory: vector provider is required")
	}
	if cfg.Documents == nil {
		cfg.Documents = docstore.New()
	}
	dim := cfg.Dimension
	if dim == 0 && cfg.Embedder != nil {
		dim = cfg.Embedder.Dimension()
	}
	return &Facade{
		vector:     cfg.Vector,
		embedder:   cfg.Embedder,
		documents:  cfg.Documents,
		relational: cfg.Relational,
		sessions:   cfg.Sessions,
		dimension:  dim,
		locks:      newShardLocks(),
	}, nil
}

// Store writes record to the backing store matching kind.
func (f *Facade) Store(ctx context.Context, kind Kind, record Record) error {
	switch kind {
	case KindVector:
		return f.storeVector(ctx, record.Vector)
	case KindDocument:
		return f.storeDocument(ctx, record.Document)
	case KindRelational:
		return f.storeRelational(ctx, record.Relational)
	default:
		return apperr.New(apperr.BadRequest, fmt.Sprintf("memory: unknown kind %q", kind))
	}
}

func (f *Facade) storeVector(ctx context.Context, r *VectorRecord) error {
	if r == nil {
		return apperr.New(apperr.BadRequest, "memory: nil vector record")
	}
	lock := f.locks.lockFor("vector:" + r.ID)
	lock.Lock()
	defer lock.Unlock()

	embedding := r.Embedding
	if len(embedding) == 0 {
		if f.embedder == nil {
			return apperr.New(apperr.BadRequest, "memory: vector record has no embedding and no embedder is configured")
		}
		var err error
		embedding, err = f.embedder.Embed(ctx, r.Text)
		if err != nil {
			return apperr.Wrap(apperr.StorageError, "memory: embed vector record text", err)
		}
	}
	if f.dimension != 0 && len(embedding) != f.dimension {
		return apperr.New(apperr.ConsistencyViolation,
			fmt.Sprintf("memory: embedding dimension %d does not match store dimension %d", len(embedding), f.dimension))
	}

	meta := map[string]any{"content": r.Text, "importance": r.Importance}
	if len(r.Tags) > 0 {
		meta["tags"] = strings.Join(r.Tags, ",")
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	meta["created_at"] = r.CreatedAt.Format(time.RFC3339)

	if err := f.vector.Upsert(ctx, vectorCollection, r.ID, embedding, meta); err != nil {
		return apperr.Wrap(apperr.StorageError, "memory: upsert vector record", err)
	}
	return nil
}

func (f *Facade) storeDocument(ctx context.Context, r *DocumentRecord) error {
	if r == nil {
		return apperr.New(apperr.BadRequest, "memory: nil document record")
	}
	lock := f.locks.lockFor("document:" + r.ID)
	lock.Lock()
	defer lock.Unlock()

	if err := f.documents.Upsert(ctx, docstore.Document{ID: r.ID, Content: r.Text, Metadata: r.Metadata}); err != nil {
		return apperr.Wrap(apperr.StorageError, "memory: upsert document record", err)
	}
	return nil
}

func (f *Facade) storeRelational(ctx context.Context, r *RelationalRecord) error {
	if r == nil {
		return apperr.New(apperr.BadRequest, "memory: nil relational record")
	}
	if f.relational == nil {
		return apperr.New(apperr.BadRequest, "memory: no relational store configured")
	}
	lock := f.locks.lockFor("relational:" + r.Subject + "|" + r.Predicate + "|" + r.Object)
	lock.Lock()
	defer lock.Unlock()

	confidence := r.Confidence
	if confidence == 0 {
		confidence = 1.0
	}
	if err := f.relational.Add(ctx, relmemory.Triplet{
		Subject:    r.Subject,
		Predicate:  r.Predicate,
		Object:     r.Object,
		Confidence: confidence,
	}); err != nil {
		return apperr.Wrap(apperr.StorageError, "memory: add relational record", err)
	}
	return nil
}

// Search ranks records matching query within kind. For KindVector, query is
// embedded first. For KindDocument, query is BM25-scored against the
// in-process index. For KindRelational, query is matched as a subject.
func (f *Facade) Search(ctx context.Context, kind Kind, query string, k int, filters Filters) ([]SearchResult, error) {
	switch kind {
	case KindVector:
		return f.searchVector(ctx, query, k, filters)
	case KindDocument:
		return f.searchDocument(ctx, query, k, filters)
	case KindRelational:
		return f.searchRelational(ctx, query, k)
	default:
		return nil, apperr.New(apperr.BadRequest, fmt.Sprintf("memory: unknown kind %q", kind))
	}
}

func (f *Facade) searchVector(ctx context.Context, query string, k int, filters Filters) ([]SearchResult, error) {
	if f.embedder == nil {
		return nil, apperr.New(apperr.BadRequest, "memory: vector search requires an embedder")
	}
	embedding, err := f.embedder.Embed(ctx, query)
	if err != nil {
		return nil, apperr.Wrap(apperr.StorageError, "memory: embed search query", err)
	}

	var vf map[string]any
	if len(filters.Tags) > 0 {
		vf = map[string]any{"tags": strings.Join(filters.Tags, ",")}
	}

	var hits []vectorstore.Result
	if vf != nil {
		hits, err = f.vector.SearchWithFilter(ctx, vectorCollection, embedding, k, vf)
	} else {
		hits, err = f.vector.Search(ctx, vectorCollection, embedding, k)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.StorageError, "memory: vector search", err)
	}

	out := make([]SearchResult, 0, len(hits))
	for _, h := range hits {
		if matchesPatterns(h.Content, filters.Patterns) {
			continue
		}
		out = append(out, SearchResult{ID: h.ID, Score: float64(h.Score), Content: h.Content, Metadata: h.Metadata})
	}
	return out, nil
}

func (f *Facade) searchDocument(ctx context.Context, query string, k int, filters Filters) ([]SearchResult, error) {
	hits, err := f.documents.Search(ctx, query, k)
	if err != nil {
		return nil, apperr.Wrap(apperr.StorageError, "memory: document search", err)
	}
	out := make([]SearchResult, 0, len(hits))
	for _, h := range hits {
		if matchesPatterns(h.Content, filters.Patterns) {
			continue
		}
		out = append(out, SearchResult{ID: h.ID, Score: h.Score, Content: h.Content, Metadata: h.Metadata})
	}
	return out, nil
}

func (f *Facade) searchRelational(ctx context.Context, subject string, k int) ([]SearchResult, error) {
	if f.relational == nil {
		return nil, nil
	}
	triplets, err := f.relational.BySubject(ctx, "", subject)
	if err != nil {
		return nil, apperr.Wrap(apperr.StorageError, "memory: relational search", err)
	}
	if k > 0 && len(triplets) > k {
		triplets = triplets[:k]
	}
	out := make([]SearchResult, 0, len(triplets))
	for _, t := range triplets {
		out = append(out, SearchResult{
			ID:      t.ID,
			Score:   t.Confidence,
			Content: fmt.Sprintf("%s %s %s", t.Subject, t.Predicate, t.Object),
			Metadata: map[string]any{
				"subject": t.Subject, "predicate": t.Predicate, "object": t.Object,
			},
		})
	}
	return out, nil
}

// RecentConversation returns the last n messages of a session's raw view,
// the form agents see when composing a prompt.
func (f *Facade) RecentConversation(ctx context.Context, sessionID string, n int) ([]session.Message, error) {
	if f.sessions == nil {
		return nil, apperr.New(apperr.BadRequest, "memory: no session store configured")
	}
	msgs, err := f.sessions.History(ctx, sessionID, session.ViewRaw)
	if err != nil {
		return nil, err
	}
	if n > 0 && len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	return msgs, nil
}

func matchesPatterns(content string, patterns []string) bool {
	if len(patterns) == 0 {
		return false
	}
	lower := strings.ToLower(content)
	for _, p := range patterns {
		if strings.Contains(lower, strings.ToLower(p)) {
			return true
		}
	}
	return false
}
