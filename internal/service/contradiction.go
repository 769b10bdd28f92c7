package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/Harshitk-cp/canonkeeper/internal/domain"
	"github.com/Harshitk-cp/canonkeeper/internal/search"
	"go.uber.org/zap"
)

const (
	// DefaultContradictionThreshold is the minimum similarity that flags a
	// candidate on the embedding path.
	DefaultContradictionThreshold = 0.7
	// DefaultContradictionLimit is how many candidates are requested from the backend.
	DefaultContradictionLimit = 5
)

type CheckOpts struct {
	// Threshold is the minimum embedding similarity; nil uses the detector
	// default. Zero is a valid threshold.
	Threshold *float64
	Limit     int
	// Version, when set, drops candidates from other continuities.
	Version string
}

// ContradictionDetector flags established facts that are close to a proposed
// statement. It only reports; it never blocks or writes.
//
// Similarity is a heuristic: a close paraphrase of a true fact is reported
// the same way as a genuine conflict.
type ContradictionDetector struct {
	facts   *CanonService
	backend search.Backend
	logger  *zap.Logger

	threshold float64
	limit     int
}

func NewContradictionDetector(facts *CanonService, backend search.Backend, logger *zap.Logger) *ContradictionDetector {
	return &ContradictionDetector{
		facts:     facts,
		backend:   backend,
		logger:    logger,
		threshold: DefaultContradictionThreshold,
		limit:     DefaultContradictionLimit,
	}
}

// Threshold wraps v for CheckOpts.Threshold.
func Threshold(v float64) *float64 {
	return &v
}

// SetDefaults overrides the threshold and limit used when CheckOpts leaves
// them unset. A nil threshold keeps the current default.
func (d *ContradictionDetector) SetDefaults(threshold *float64, limit int) {
	if threshold != nil && *threshold >= 0 && *threshold <= 1 {
		d.threshold = *threshold
	}
	if limit > 0 {
		d.limit = limit
	}
}

func (d *ContradictionDetector) Check(ctx context.Context, proposed, category string, opts CheckOpts) (*domain.ContradictionResult, error) {
	if !domain.ValidCategory(category) {
		return nil, ErrInvalidCategory
	}
	cat := domain.Category(category)

	threshold := d.threshold
	if opts.Threshold != nil {
		threshold = *opts.Threshold
	}
	if opts.Limit <= 0 {
		opts.Limit = d.limit
	}

	count, err := d.backend.Count(ctx, cat)
	if err != nil {
		d.logger.Warn("backend count failed", zap.String("category", category), zap.Error(err))
		return domain.NoContradiction(), nil
	}
	if count == 0 {
		return domain.NoContradiction(), nil
	}

	matches, err := d.backend.Query(ctx, cat, proposed, min(opts.Limit, count))
	if err != nil {
		d.logger.Warn("backend query failed", zap.String("category", category), zap.Error(err))
		return domain.NoContradiction(), nil
	}

	result := domain.NoContradiction()
	for _, m := range matches {
		if !m.Passes(threshold) {
			continue
		}
		entry, ok := d.facts.lookup(m.FactID)
		if !ok {
			d.logger.Debug("backend returned unknown fact", zap.String("fact_id", m.FactID))
			continue
		}
		if entry.Category != cat {
			continue
		}
		if opts.Version != "" && entry.Version != opts.Version {
			continue
		}
		result.ContradictingFacts = append(result.ContradictingFacts, entry)
		result.SimilarityScores = append(result.SimilarityScores, m.Similarity())
	}

	if len(result.ContradictingFacts) > 0 {
		result.HasContradiction = true
		result.Explanation = explainContradiction(proposed, result.ContradictingFacts)
	}
	return result, nil
}

func explainContradiction(proposed string, existing []domain.CanonEntry) string {
	var b strings.Builder
	b.WriteString("Potential contradiction detected:\n")
	fmt.Fprintf(&b, "\nProposed: %s\n", proposed)
	b.WriteString("\nExisting canon:")
	for _, e := range existing {
		fmt.Fprintf(&b, "\n  - %s (established in %s)", e.Content, derefOr(e.EstablishedIn, "unknown"))
	}
	return b.String()
}
