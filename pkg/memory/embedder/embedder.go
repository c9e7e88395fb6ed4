// Package embedder turns text into vectors for pkg/memory/vectorstore.
// Kept separate from vectorstore so a Provider swap (chromem vs Qdrant)
// never forces an embedding model swap and vice versa.
package embedder

import "context"

// Provider is the embedding model contract.
type Provider interface {
	Name() string
	Dimension() int
	MaxBatchSize() int
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}
