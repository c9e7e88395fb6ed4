// Package vectorstore abstracts vector similarity search behind a single
// Provider interface so the memory layer can run against an embedded
// chromem-go database in development and a networked Qdrant cluster in
// production without any caller-visible difference.
package vectorstore

import "context"

// Result is one match returned by Search, ordered by descending Score
// (cosine similarity, in [-1, 1]).
type Result struct {
	ID       string
	Score    float32
	Content  string
	Metadata map[string]any
}

// Provider is the vector backend contract. All methods take a pre-computed
// embedding — vectorstore never calls an embedding model itself, that is
// pkg/memory/embedder's job, matching the "index_vector.go" split between
// storage and embedding used elsewhere in the pack.
type Provider interface {
	Name() string
	Upsert(ctx context.Context, collection, id string, vector []float32, metadata map[string]any) error
	Search(ctx context.Context, collection string, vector []float32, topK int) ([]Result, error)
	SearchWithFilter(ctx context.Context, collection string, vector []float32, topK int, filter map[string]any) ([]Result, error)
	Delete(ctx context.Context, collection, id string) error
	DeleteByFilter(ctx context.Context, collection string, filter map[string]any) error
	CreateCollection(ctx context.Context, collection string, dimension int) error
	Close() error
}
