package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/Harshitk-cp/canonkeeper/internal/domain"
	"gopkg.in/yaml.v3"
)

const (
	FormatJSON = "json"
	FormatYAML = "yaml"
)

var ErrUnsupportedFormat = errors.New("unsupported export format")

// ExportService produces read-only views of the fact store. It never
// touches the similarity backend.
type ExportService struct {
	facts *CanonService
	now   func() time.Time
}

func NewExportService(facts *CanonService) *ExportService {
	return &ExportService{facts: facts, now: time.Now}
}

// ExportCanon groups the version's entries by category. Every category key is
// present, empty or not.
func (s *ExportService) ExportCanon(ctx context.Context, version string) map[domain.Category][]domain.EntrySummary {
	if version == "" {
		version = domain.DefaultVersion
	}

	out := make(map[domain.Category][]domain.EntrySummary, len(domain.Categories))
	for _, c := range domain.Categories {
		entries, _ := s.facts.ListByCategory(ctx, string(c), version)
		summaries := make([]domain.EntrySummary, 0, len(entries))
		for _, e := range entries {
			summaries = append(summaries, e.Summary())
		}
		out[c] = summaries
	}
	return out
}

// Stats counts every entry across all versions.
func (s *ExportService) Stats(ctx context.Context) domain.Stats {
	return s.stats("")
}

func (s *ExportService) StatsForVersion(ctx context.Context, version string) domain.Stats {
	if version == "" {
		version = domain.DefaultVersion
	}
	return s.stats(version)
}

func (s *ExportService) stats(version string) domain.Stats {
	counts, total := s.facts.countByCategory(version)
	stats := domain.Stats{"total": total}
	for c, n := range counts {
		stats[string(c)] = n
	}
	return stats
}

type Snapshot struct {
	Version    string                                    `json:"version" yaml:"version"`
	ExportedAt time.Time                                 `json:"exported_at" yaml:"exported_at"`
	Stats      domain.Stats                              `json:"stats" yaml:"stats"`
	Canon      map[domain.Category][]domain.EntrySummary `json:"canon" yaml:"canon"`
}

func (s *ExportService) Snapshot(ctx context.Context, version string) Snapshot {
	if version == "" {
		version = domain.DefaultVersion
	}
	return Snapshot{
		Version:    version,
		ExportedAt: s.now().UTC(),
		Stats:      s.StatsForVersion(ctx, version),
		Canon:      s.ExportCanon(ctx, version),
	}
}

// WriteSnapshot encodes the version's snapshot to w as JSON or YAML.
func (s *ExportService) WriteSnapshot(ctx context.Context, w io.Writer, version, format string) error {
	snap := s.Snapshot(ctx, version)

	switch format {
	case "", FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(snap); err != nil {
			return fmt.Errorf("encode yaml snapshot: %w", err)
		}
		return enc.Close()
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
}
