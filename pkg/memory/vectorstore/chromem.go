package vectorstore

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/philippgille/chromem-go"
)

// ChromemStore is the zero-config, single-process default: an in-memory
// (optionally file-persisted) cosine-similarity index with no external
// service to run. Good fit for a single orchestrator instance; for
// multi-instance deployments sharing one memory corpus, use QdrantStore.
type ChromemStore struct {
	db          *chromem.DB
	persistPath string

	mu          sync.RWMutex
	collections map[string]*chromem.Collection
}

type ChromemConfig struct {
	// PersistPath, if set, makes the store gob-persist to disk on every
	// write so memory survives a process restart. Empty means in-memory only.
	PersistPath string
}

func NewChromemStore(cfg ChromemConfig) (*ChromemStore, error) {
	var db *chromem.DB
	var err error
	if cfg.PersistPath != "" {
		db, err = chromem.NewPersistentDB(cfg.PersistPath, false)
		if err != nil {
			return nil, fmt.Errorf("vectorstore: open persistent chromem db: %w", err)
		}
	} else {
		db = chromem.NewDB()
	}
	return &ChromemStore{
		db:          db,
		persistPath: cfg.PersistPath,
		collections: make(map[string]*chromem.Collection),
	}, nil
}

func (s *ChromemStore) Name() string { return "chromem" }

// identityEmbed returns an error on use — vectors handed to Upsert/Search are always
// pre-computed by pkg/memory/embedder, so chromem never needs to embed text
// itself. Kept as an explicit error rather than a panic so a caller that
// accidentally triggers implicit embedding gets a clear message.
func identityEmbed(ctx context.Context, text string) ([]float32, error) {
	return nil, fmt.Errorf("vectorstore: chromem embedding func invoked; vectors must be pre-computed")
}

func (s *ChromemStore) collection(name string) (*chromem.Collection, error) {
	s.mu.RLock()
	if c, ok := s.collections[name]; ok {
		s.mu.RUnlock()
		return c, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.collections[name]; ok {
		return c, nil
	}
	c, err := s.db.GetOrCreateCollection(name, nil, identityEmbed)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: get or create collection %q: %w", name, err)
	}
	s.collections[name] = c
	return c, nil
}

func (s *ChromemStore) Upsert(ctx context.Context, collection, id string, vector []float32, metadata map[string]any) error {
	c, err := s.collection(collection)
	if err != nil {
		return err
	}
	strMeta := make(map[string]string, len(metadata))
	for k, v := range metadata {
		strMeta[k] = fmt.Sprint(v)
	}
	content, _ := metadata["content"].(string)
	doc := chromem.Document{ID: id, Content: content, Metadata: strMeta, Embedding: vector}
	if err := c.AddDocuments(ctx, []chromem.Document{doc}, runtime.NumCPU()); err != nil {
		return fmt.Errorf("vectorstore: upsert %s/%s: %w", collection, id, err)
	}
	return nil
}

func (s *ChromemStore) Search(ctx context.Context, collection string, vector []float32, topK int) ([]Result, error) {
	return s.SearchWithFilter(ctx, collection, vector, topK, nil)
}

func (s *ChromemStore) SearchWithFilter(ctx context.Context, collection string, vector []float32, topK int, filter map[string]any) ([]Result, error) {
	c, err := s.collection(collection)
	if err != nil {
		return nil, err
	}
	var where map[string]string
	if len(filter) > 0 {
		where = make(map[string]string, len(filter))
		for k, v := range filter {
			where[k] = fmt.Sprint(v)
		}
	}
	// chromem returns an error if topK exceeds the collection size; clamp
	// instead of surfacing that as a caller-visible failure.
	if n := c.Count(); topK > n {
		topK = n
	}
	if topK == 0 {
		return nil, nil
	}
	docs, err := c.QueryEmbedding(ctx, vector, topK, where, nil)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: search %s: %w", collection, err)
	}
	out := make([]Result, 0, len(docs))
	for _, d := range docs {
		meta := make(map[string]any, len(d.Metadata))
		for k, v := range d.Metadata {
			meta[k] = v
		}
		out = append(out, Result{ID: d.ID, Score: d.Similarity, Content: d.Content, Metadata: meta})
	}
	return out, nil
}

func (s *ChromemStore) Delete(ctx context.Context, collection, id string) error {
	c, err := s.collection(collection)
	if err != nil {
		return err
	}
	if err := c.Delete(ctx, nil, nil, id); err != nil {
		return fmt.Errorf("vectorstore: delete %s/%s: %w", collection, id, err)
	}
	return nil
}

func (s *ChromemStore) DeleteByFilter(ctx context.Context, collection string, filter map[string]any) error {
	c, err := s.collection(collection)
	if err != nil {
		return err
	}
	where := make(map[string]string, len(filter))
	for k, v := range filter {
		where[k] = fmt.Sprint(v)
	}
	if err := c.Delete(ctx, where, nil); err != nil {
		return fmt.Errorf("vectorstore: delete by filter %s: %w", collection, err)
	}
	return nil
}

func (s *ChromemStore) CreateCollection(ctx context.Context, collection string, dimension int) error {
	_, err := s.collection(collection)
	return err
}

func (s *ChromemStore) Close() error { return nil }

var _ Provider = (*ChromemStore)(nil)
