package search

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/Harshitk-cp/canonkeeper/internal/domain"
)

type keywordDoc struct {
	factID string
	tokens map[string]struct{}
}

// KeywordBackend is the dependency-free fallback. It scores facts by the
// number of whitespace tokens they share with the query.
type KeywordBackend struct {
	mu   sync.RWMutex
	docs map[domain.Category][]keywordDoc
	ids  map[string]struct{}
}

func NewKeywordBackend() *KeywordBackend {
	return &KeywordBackend{
		docs: make(map[domain.Category][]keywordDoc),
		ids:  make(map[string]struct{}),
	}
}

func (b *KeywordBackend) Variant() Variant {
	return VariantKeyword
}

// Tokenize lower-cases text and splits it on whitespace into a set.
func Tokenize(text string) map[string]struct{} {
	fields := strings.Fields(strings.ToLower(text))
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

// Index is idempotent per fact id.
func (b *KeywordBackend) Index(ctx context.Context, category domain.Category, factID, content string, metadata map[string]any) error {
	doc := keywordDoc{factID: factID, tokens: Tokenize(content)}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.ids[factID]; ok {
		return nil
	}
	b.ids[factID] = struct{}{}
	b.docs[category] = append(b.docs[category], doc)
	return nil
}

// Query ranks candidates by overlap ratio, ties broken by index order.
func (b *KeywordBackend) Query(ctx context.Context, category domain.Category, text string, limit int) ([]Match, error) {
	if limit <= 0 {
		return []Match{}, nil
	}
	proposed := Tokenize(text)

	b.mu.RLock()
	docs := b.docs[category]
	matches := make([]Match, 0, len(docs))
	for _, d := range docs {
		overlap := 0
		for tok := range proposed {
			if _, ok := d.tokens[tok]; ok {
				overlap++
			}
		}
		if overlap <= KeywordMinOverlap {
			continue
		}
		ratio := float64(overlap) / float64(max(len(proposed), len(d.tokens)))
		if ratio <= KeywordMinRatio {
			continue
		}
		matches = append(matches, Match{FactID: d.factID, Score: ratio, Variant: VariantKeyword})
	}
	b.mu.RUnlock()

	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

func (b *KeywordBackend) Count(ctx context.Context, category domain.Category) (int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.docs[category]), nil
}
