// Package search holds the similarity backends used for contradiction
// detection. A backend is chosen once when the service is wired; callers only
// see the Backend interface.
package search

import (
	"context"
	"errors"

	"github.com/Harshitk-cp/canonkeeper/internal/domain"
)

type Variant string

const (
	VariantEmbedding Variant = "embedding"
	VariantKeyword   Variant = "keyword"
)

const (
	// KeywordMinOverlap is the number of shared tokens a fact must exceed to
	// be a keyword candidate.
	KeywordMinOverlap = 2
	// KeywordMinRatio is the normalised overlap a candidate must exceed. It is
	// fixed and does not follow the caller's similarity threshold.
	KeywordMinRatio = 0.3
)

var ErrBackendUnavailable = errors.New("similarity backend unavailable")

// Match is one ranked hit. Score is raw: cosine distance in [0, 2] for the
// embedding variant, normalised token overlap for the keyword variant.
type Match struct {
	FactID  string
	Score   float64
	Variant Variant
}

// Similarity converts the raw score into [0, 1].
func (m Match) Similarity() float64 {
	if m.Variant != VariantEmbedding {
		return m.Score
	}
	s := 1 - m.Score/2
	switch {
	case s < 0:
		return 0
	case s > 1:
		return 1
	}
	return s
}

// Passes reports whether the match counts as a contradiction candidate.
func (m Match) Passes(threshold float64) bool {
	if m.Variant == VariantKeyword {
		return m.Similarity() > KeywordMinRatio
	}
	return m.Similarity() >= threshold
}

// Backend indexes fact text per category and answers nearest-match queries.
// Query returns at most limit matches, best first, and must be stable for an
// unchanged index.
type Backend interface {
	Variant() Variant
	Index(ctx context.Context, category domain.Category, factID, content string, metadata map[string]any) error
	Query(ctx context.Context, category domain.Category, text string, limit int) ([]Match, error)
	Count(ctx context.Context, category domain.Category) (int, error)
}
