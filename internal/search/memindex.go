package search

import (
	"context"
	"math"
	"slices"
	"sort"
	"sync"

	"github.com/Harshitk-cp/canonkeeper/internal/domain"
)

type vectorDoc struct {
	factID    string
	embedding []float32
}

// MemoryVectorIndex is an in-process domain.VectorIndex used when no database
// is configured. Search is a linear scan.
type MemoryVectorIndex struct {
	mu   sync.RWMutex
	docs map[domain.Category][]vectorDoc
	pos  map[domain.Category]map[string]int
}

func NewMemoryVectorIndex() *MemoryVectorIndex {
	return &MemoryVectorIndex{
		docs: make(map[domain.Category][]vectorDoc),
		pos:  make(map[domain.Category]map[string]int),
	}
}

func (x *MemoryVectorIndex) Upsert(ctx context.Context, category domain.Category, factID string, embedding []float32) error {
	doc := vectorDoc{factID: factID, embedding: slices.Clone(embedding)}

	x.mu.Lock()
	defer x.mu.Unlock()

	if x.pos[category] == nil {
		x.pos[category] = make(map[string]int)
	}
	if i, ok := x.pos[category][factID]; ok {
		x.docs[category][i] = doc
		return nil
	}
	x.pos[category][factID] = len(x.docs[category])
	x.docs[category] = append(x.docs[category], doc)
	return nil
}

func (x *MemoryVectorIndex) Contains(ctx context.Context, category domain.Category, factID string) (bool, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	_, ok := x.pos[category][factID]
	return ok, nil
}

// Nearest ranks by cosine distance, ties broken by insertion order.
func (x *MemoryVectorIndex) Nearest(ctx context.Context, category domain.Category, embedding []float32, limit int) ([]domain.VectorMatch, error) {
	x.mu.RLock()
	docs := x.docs[category]
	results := make([]domain.VectorMatch, 0, len(docs))
	for _, d := range docs {
		results = append(results, domain.VectorMatch{FactID: d.factID, Distance: CosineDistance(embedding, d.embedding)})
	}
	x.mu.RUnlock()

	sort.SliceStable(results, func(i, j int) bool { return results[i].Distance < results[j].Distance })
	if limit >= 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (x *MemoryVectorIndex) Count(ctx context.Context, category domain.Category) (int, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.docs[category]), nil
}

// CosineDistance returns 1 - cos(a, b), in [0, 2]. A zero vector is treated
// as orthogonal to everything.
func CosineDistance(a, b []float32) float64 {
	n := min(len(a), len(b))
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
	}
	for _, v := range a {
		na += float64(v) * float64(v)
	}
	for _, v := range b {
		nb += float64(v) * float64(v)
	}
	if na == 0 || nb == 0 {
		return 1
	}
	d := 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
	return math.Max(0, math.Min(2, d))
}
