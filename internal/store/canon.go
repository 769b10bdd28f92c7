package store

import (
	"context"
	"errors"

	"github.com/Harshitk-cp/canonkeeper/internal/domain"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// CanonStore persists canon entries in the category-partitioned canon_facts table.
type CanonStore struct {
	db *pgxpool.Pool
}

func NewCanonStore(db *pgxpool.Pool) *CanonStore {
	return &CanonStore{db: db}
}

func (s *CanonStore) Create(ctx context.Context, e *domain.CanonEntry) error {
	metadata := e.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}

	_, err := s.db.Exec(ctx,
		`INSERT INTO canon_facts (fact_id, seq, category, content, established_in, version, supersedes, metadata, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.FactID, e.Seq, e.Category, e.Content, e.EstablishedIn, e.Version, e.Supersedes, metadata, e.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrConflict
		}
		return err
	}
	return nil
}

func (s *CanonStore) Delete(ctx context.Context, category domain.Category, factID string) error {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM canon_facts WHERE category = $1 AND fact_id = $2`,
		category, factID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *CanonStore) List(ctx context.Context) ([]domain.CanonEntry, error) {
	rows, err := s.db.Query(ctx,
		`SELECT fact_id, seq, category, content, established_in, version, supersedes, metadata, created_at
		 FROM canon_facts
		 ORDER BY seq ASC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.CanonEntry
	for rows.Next() {
		var e domain.CanonEntry
		if err := rows.Scan(&e.FactID, &e.Seq, &e.Category, &e.Content, &e.EstablishedIn, &e.Version, &e.Supersedes, &e.Metadata, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
