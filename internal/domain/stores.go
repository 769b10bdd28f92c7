package domain

import (
	"context"
)

// CanonStore is the durable side of the fact store. Implementations keep one
// partition per category.
type CanonStore interface {
	Create(ctx context.Context, e *CanonEntry) error
	// Delete only rolls back a commit whose indexing failed; published
	// entries are never deleted.
	Delete(ctx context.Context, category Category, factID string) error
	List(ctx context.Context) ([]CanonEntry, error)
}

// VectorMatch is a nearest-neighbour hit. Distance is cosine distance in [0, 2].
type VectorMatch struct {
	FactID   string
	Distance float64
}

// VectorIndex stores embeddings per category.
type VectorIndex interface {
	Upsert(ctx context.Context, category Category, factID string, embedding []float32) error
	Contains(ctx context.Context, category Category, factID string) (bool, error)
	Nearest(ctx context.Context, category Category, embedding []float32, limit int) ([]VectorMatch, error)
	Count(ctx context.Context, category Category) (int, error)
}

type EmbeddingClient interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}
