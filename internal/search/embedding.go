package search

import (
	"context"
	"fmt"
	"time"

	"github.com/Harshitk-cp/canonkeeper/internal/domain"
)

const DefaultEmbeddingTimeout = 5 * time.Second

// EmbeddingBackend embeds fact text and searches a vector index by cosine distance.
type EmbeddingBackend struct {
	client  domain.EmbeddingClient
	index   domain.VectorIndex
	timeout time.Duration
}

func NewEmbeddingBackend(client domain.EmbeddingClient, index domain.VectorIndex, timeout time.Duration) *EmbeddingBackend {
	if timeout <= 0 {
		timeout = DefaultEmbeddingTimeout
	}
	return &EmbeddingBackend{client: client, index: index, timeout: timeout}
}

func (b *EmbeddingBackend) Variant() Variant {
	return VariantEmbedding
}

// Index skips facts the vector index already holds, so rebuilding after a
// restart only embeds what is missing.
func (b *EmbeddingBackend) Index(ctx context.Context, category domain.Category, factID, content string, metadata map[string]any) error {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	exists, err := b.index.Contains(ctx, category, factID)
	if err != nil {
		return fmt.Errorf("check vector index: %w", err)
	}
	if exists {
		return nil
	}

	emb, err := b.client.Embed(ctx, content)
	if err != nil {
		return fmt.Errorf("embed fact %s: %w", factID, err)
	}
	if err := b.index.Upsert(ctx, category, factID, emb); err != nil {
		return fmt.Errorf("store embedding %s: %w", factID, err)
	}
	return nil
}

func (b *EmbeddingBackend) Query(ctx context.Context, category domain.Category, text string, limit int) ([]Match, error) {
	if limit <= 0 {
		return []Match{}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	emb, err := b.client.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	nearest, err := b.index.Nearest(ctx, category, emb, limit)
	if err != nil {
		return nil, err
	}

	matches := make([]Match, 0, len(nearest))
	for _, n := range nearest {
		matches = append(matches, Match{FactID: n.FactID, Score: n.Distance, Variant: VariantEmbedding})
	}
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

func (b *EmbeddingBackend) Count(ctx context.Context, category domain.Category) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	return b.index.Count(ctx, category)
}
