package domain

import (
	"maps"
	"slices"
	"time"
)

type Category string

const (
	CategoryCharacters    Category = "characters"
	CategoryLocations     Category = "locations"
	CategoryLore          Category = "lore"
	CategoryTimeline      Category = "timeline"
	CategoryRelationships Category = "relationships"
	CategoryItems         Category = "items"
)

// Categories is the closed vocabulary, in export order. Adding a category
// requires a matching backend partition and a storage partition.
var Categories = []Category{
	CategoryCharacters,
	CategoryLocations,
	CategoryLore,
	CategoryTimeline,
	CategoryRelationships,
	CategoryItems,
}

func ValidCategory(c string) bool {
	switch Category(c) {
	case CategoryCharacters, CategoryLocations, CategoryLore, CategoryTimeline, CategoryRelationships, CategoryItems:
		return true
	}
	return false
}

// DefaultVersion is the main continuity.
const DefaultVersion = "main"

// MetadataRetconnedFrom tags an entry created by a retcon with its predecessor.
const MetadataRetconnedFrom = "retconned_from"

// CanonEntry is an immutable canonical fact.
type CanonEntry struct {
	FactID        string         `json:"fact_id"`
	Content       string         `json:"content"`
	Category      Category       `json:"category"`
	EstablishedIn *string        `json:"established_in"`
	Version       string         `json:"version"`
	Supersedes    *string        `json:"supersedes"`
	CreatedAt     time.Time      `json:"created_at"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	// Seq orders entries by commit; it is assigned by the fact store.
	Seq int64 `json:"-"`
}

// Clone returns a copy that shares nothing mutable with e.
func (e CanonEntry) Clone() CanonEntry {
	c := e
	if e.EstablishedIn != nil {
		s := *e.EstablishedIn
		c.EstablishedIn = &s
	}
	if e.Supersedes != nil {
		s := *e.Supersedes
		c.Supersedes = &s
	}
	c.Metadata = CloneMetadata(e.Metadata)
	return c
}

// CloneMetadata deep-copies nested maps and slices, so a copy shares no
// mutable state with its source. Scalars are copied by value.
func CloneMetadata(md map[string]any) map[string]any {
	if md == nil {
		return nil
	}
	out := make(map[string]any, len(md))
	for k, v := range md {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return CloneMetadata(t)
	case []any:
		out := make([]any, len(t))
		for i, x := range t {
			out[i] = cloneValue(x)
		}
		return out
	case []string:
		return slices.Clone(t)
	case map[string]string:
		return maps.Clone(t)
	default:
		return v
	}
}

// Summary is the export projection of an entry.
func (e CanonEntry) Summary() EntrySummary {
	c := e.Clone()
	return EntrySummary{
		FactID:        c.FactID,
		Content:       c.Content,
		EstablishedIn: c.EstablishedIn,
		Supersedes:    c.Supersedes,
		CreatedAt:     c.CreatedAt,
	}
}

type EntrySummary struct {
	FactID        string    `json:"fact_id" yaml:"fact_id"`
	Content       string    `json:"content" yaml:"content"`
	EstablishedIn *string   `json:"established_in" yaml:"established_in"`
	Supersedes    *string   `json:"supersedes" yaml:"supersedes"`
	CreatedAt     time.Time `json:"created_at" yaml:"created_at"`
}

// ContradictionResult is the ephemeral outcome of a contradiction check.
// ContradictingFacts and SimilarityScores are parallel slices.
type ContradictionResult struct {
	HasContradiction   bool         `json:"has_contradiction"`
	ContradictingFacts []CanonEntry `json:"contradicting_facts"`
	SimilarityScores   []float64    `json:"similarity_scores"`
	Explanation        string       `json:"explanation,omitempty"`
}

// NoContradiction is the empty, negative result.
func NoContradiction() *ContradictionResult {
	return &ContradictionResult{
		ContradictingFacts: []CanonEntry{},
		SimilarityScores:   []float64{},
	}
}

// Stats holds "total" plus one count per category.
type Stats map[string]int

// StrPtr returns nil for an empty string.
func StrPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
