package store

import (
	"context"
	"fmt"

	"github.com/Harshitk-cp/canonkeeper/internal/domain"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
)

// VectorStore is a pgvector-backed domain.VectorIndex.
type VectorStore struct {
	db *pgxpool.Pool
}

func NewVectorStore(db *pgxpool.Pool) *VectorStore {
	return &VectorStore{db: db}
}

func (s *VectorStore) Upsert(ctx context.Context, category domain.Category, factID string, embedding []float32) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO canon_embeddings (category, fact_id, embedding)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (category, fact_id) DO UPDATE SET embedding = EXCLUDED.embedding`,
		category, factID, pgvector.NewVector(embedding),
	)
	return err
}

func (s *VectorStore) Contains(ctx context.Context, category domain.Category, factID string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM canon_embeddings WHERE category = $1 AND fact_id = $2)`,
		category, factID,
	).Scan(&exists)
	return exists, err
}

// Nearest orders by cosine distance, breaking ties on fact_id so results are stable.
func (s *VectorStore) Nearest(ctx context.Context, category domain.Category, embedding []float32, limit int) ([]domain.VectorMatch, error) {
	rows, err := s.db.Query(ctx,
		`SELECT fact_id, embedding <=> $1 AS distance
		 FROM canon_embeddings
		 WHERE category = $2
		 ORDER BY distance ASC, fact_id ASC
		 LIMIT $3`,
		pgvector.NewVector(embedding), category, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("nearest query: %w", err)
	}
	defer rows.Close()

	var results []domain.VectorMatch
	for rows.Next() {
		var m domain.VectorMatch
		if err := rows.Scan(&m.FactID, &m.Distance); err != nil {
			return nil, fmt.Errorf("scan nearest row: %w", err)
		}
		results = append(results, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("nearest rows: %w", err)
	}
	return results, nil
}

func (s *VectorStore) Count(ctx context.Context, category domain.Category) (int, error) {
	var count int
	err := s.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM canon_embeddings WHERE category = $1`,
		category,
	).Scan(&count)
	return count, err
}
