package service

import (
	"context"
	"fmt"

	"github.com/Harshitk-cp/canonkeeper/internal/domain"
	"go.uber.org/zap"
)

// RetconService rewrites canon by adding superseding entries. History is
// never touched: the old entry stays readable and indexed.
type RetconService struct {
	facts  *CanonService
	logger *zap.Logger
}

func NewRetconService(facts *CanonService, logger *zap.Logger) *RetconService {
	return &RetconService{facts: facts, logger: logger}
}

// Retcon creates a successor of oldFactID in the same category and version.
// It returns ErrFactNotFound when the target does not exist.
func (s *RetconService) Retcon(ctx context.Context, oldFactID, newContent, establishedIn string) (*domain.CanonEntry, error) {
	old, err := s.facts.Get(ctx, oldFactID)
	if err != nil {
		return nil, err
	}

	entry, err := s.facts.Add(ctx, AddFactInput{
		Content:       newContent,
		Category:      string(old.Category),
		EstablishedIn: establishedIn,
		Version:       old.Version,
		Supersedes:    old.FactID,
		Metadata:      map[string]any{domain.MetadataRetconnedFrom: old.FactID},
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("fact retconned",
		zap.String("old_fact_id", old.FactID),
		zap.String("new_fact_id", entry.FactID),
		zap.String("category", string(entry.Category)))
	return entry, nil
}

// SupersededBy lists the direct successors of id, oldest first.
func (s *RetconService) SupersededBy(ctx context.Context, id string) ([]domain.CanonEntry, error) {
	if _, ok := s.facts.lookup(id); !ok {
		return nil, ErrFactNotFound
	}
	return s.facts.successorsOf(id), nil
}

// Current follows the supersede chain forward from id, taking the most recent
// successor at each step, and returns the entry nothing supersedes.
func (s *RetconService) Current(ctx context.Context, id string) (*domain.CanonEntry, error) {
	cur, ok := s.facts.lookup(id)
	if !ok {
		return nil, ErrFactNotFound
	}

	visited := map[string]struct{}{cur.FactID: {}}
	for {
		next := s.facts.successorsOf(cur.FactID)
		if len(next) == 0 {
			return &cur, nil
		}
		latest := next[len(next)-1]
		if _, seen := visited[latest.FactID]; seen {
			return nil, fmt.Errorf("%w at %s", ErrSupersedeCycle, latest.FactID)
		}
		visited[latest.FactID] = struct{}{}
		cur = latest
	}
}
