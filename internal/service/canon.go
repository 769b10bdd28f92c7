package service

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Harshitk-cp/canonkeeper/internal/domain"
	"github.com/Harshitk-cp/canonkeeper/internal/search"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	ErrInvalidCategory    = errors.New("invalid category")
	ErrEmptyContent       = errors.New("content is required")
	ErrFactNotFound       = errors.New("fact not found")
	ErrSupersededNotFound = fmt.Errorf("superseded %w", ErrFactNotFound)
	ErrCategoryMismatch   = errors.New("superseded fact belongs to a different category")
	ErrIndexingFailure    = errors.New("indexing failed")
	// ErrSupersedeCycle means a supersede chain loops back on itself.
	// Commits cannot create one; it guards hand-edited durable data.
	ErrSupersedeCycle = errors.New("supersede cycle")
)

const (
	// DefaultIndexAttempts is how many times a commit tries to index before rolling back.
	DefaultIndexAttempts = 3
	defaultIndexBackoff  = 50 * time.Millisecond
	// DefaultSearchLimit caps Search when the caller passes no limit.
	DefaultSearchLimit = 10
	loadConcurrency    = 4
)

type AddFactInput struct {
	Content       string
	Category      string
	EstablishedIn string
	Version       string
	Supersedes    string
	Metadata      map[string]any
}

type partitionKey struct {
	category domain.Category
	version  string
}

// CanonService is the authoritative fact store. It owns the in-memory index,
// writes through to an optional durable CanonStore and keeps the similarity
// backend in step with every commit.
type CanonService struct {
	durable domain.CanonStore
	backend search.Backend
	logger  *zap.Logger
	now     func() time.Time

	indexAttempts int
	indexBackoff  time.Duration

	seq atomic.Int64

	mu          sync.RWMutex
	facts       map[string]*domain.CanonEntry
	byPartition map[partitionKey][]*domain.CanonEntry
	byCategory  map[domain.Category][]*domain.CanonEntry
	successors  map[string][]string
}

// NewCanonService wires the fact store. durable may be nil for a memory-only store.
func NewCanonService(durable domain.CanonStore, backend search.Backend, logger *zap.Logger) *CanonService {
	return &CanonService{
		durable:       durable,
		backend:       backend,
		logger:        logger,
		now:           time.Now,
		indexAttempts: DefaultIndexAttempts,
		indexBackoff:  defaultIndexBackoff,
		facts:         make(map[string]*domain.CanonEntry),
		byPartition:   make(map[partitionKey][]*domain.CanonEntry),
		byCategory:    make(map[domain.Category][]*domain.CanonEntry),
		successors:    make(map[string][]string),
	}
}

func (s *CanonService) SetIndexRetry(attempts int, backoff time.Duration) {
	if attempts < 1 {
		attempts = 1
	}
	s.indexAttempts = attempts
	s.indexBackoff = backoff
}

func (s *CanonService) Backend() search.Backend {
	return s.backend
}

// Add commits a new canon entry. The durable write, backend indexing and
// publication form one unit: if indexing keeps failing the durable write is
// rolled back and the entry never becomes visible.
func (s *CanonService) Add(ctx context.Context, in AddFactInput) (*domain.CanonEntry, error) {
	if !domain.ValidCategory(in.Category) {
		return nil, ErrInvalidCategory
	}
	if strings.TrimSpace(in.Content) == "" {
		return nil, ErrEmptyContent
	}
	category := domain.Category(in.Category)

	if in.Supersedes != "" {
		old, ok := s.lookup(in.Supersedes)
		if !ok {
			return nil, ErrSupersededNotFound
		}
		if old.Category != category {
			return nil, ErrCategoryMismatch
		}
	}

	version := in.Version
	if version == "" {
		version = domain.DefaultVersion
	}

	entry := &domain.CanonEntry{
		FactID:        fmt.Sprintf("%s_%s", category, uuid.NewString()),
		Content:       in.Content,
		Category:      category,
		EstablishedIn: domain.StrPtr(in.EstablishedIn),
		Version:       version,
		Supersedes:    domain.StrPtr(in.Supersedes),
		CreatedAt:     s.now().UTC(),
		Metadata:      domain.CloneMetadata(in.Metadata),
		Seq:           s.seq.Add(1),
	}
	if entry.Metadata == nil {
		entry.Metadata = map[string]any{}
	}

	if s.durable != nil {
		if err := s.durable.Create(ctx, entry); err != nil {
			return nil, fmt.Errorf("persist fact: %w", err)
		}
	}

	if err := s.indexWithRetry(ctx, entry); err != nil {
		s.rollback(ctx, entry)
		return nil, fmt.Errorf("%w: %v", ErrIndexingFailure, err)
	}

	s.publish(entry)

	s.logger.Debug("canon fact added",
		zap.String("fact_id", entry.FactID),
		zap.String("category", string(entry.Category)),
		zap.String("version", entry.Version))

	out := entry.Clone()
	return &out, nil
}

func (s *CanonService) indexWithRetry(ctx context.Context, e *domain.CanonEntry) error {
	var err error
	for attempt := 1; attempt <= s.indexAttempts; attempt++ {
		err = s.backend.Index(ctx, e.Category, e.FactID, e.Content, indexMetadata(e))
		if err == nil {
			return nil
		}
		s.logger.Warn("indexing fact failed",
			zap.String("fact_id", e.FactID),
			zap.Int("attempt", attempt),
			zap.Error(err))
		if attempt == s.indexAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.indexBackoff * time.Duration(attempt)):
		}
	}
	return err
}

func (s *CanonService) rollback(ctx context.Context, e *domain.CanonEntry) {
	if s.durable == nil {
		return
	}
	// Detached from ctx: the caller may already have given up.
	rbCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.durable.Delete(rbCtx, e.Category, e.FactID); err != nil {
		s.logger.Error("rollback of unindexed fact failed; it will be re-indexed on next load",
			zap.String("fact_id", e.FactID),
			zap.Error(err))
	}
}

// indexMetadata is what the backend sees alongside the text.
func indexMetadata(e *domain.CanonEntry) map[string]any {
	md := make(map[string]any, len(e.Metadata)+4)
	maps.Copy(md, e.Metadata)
	md["version"] = e.Version
	md["created_at"] = e.CreatedAt.Format(time.RFC3339Nano)
	md["established_in"] = derefOr(e.EstablishedIn, "")
	md["supersedes"] = derefOr(e.Supersedes, "")
	return md
}

func (s *CanonService) publish(e *domain.CanonEntry) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.facts[e.FactID]; ok {
		return false
	}
	s.facts[e.FactID] = e

	pk := partitionKey{category: e.Category, version: e.Version}
	s.byPartition[pk] = insertBySeq(s.byPartition[pk], e)
	s.byCategory[e.Category] = insertBySeq(s.byCategory[e.Category], e)

	if e.Supersedes != nil {
		s.successors[*e.Supersedes] = append(s.successors[*e.Supersedes], e.FactID)
	}
	return true
}

// insertBySeq keeps list ordered by commit sequence. Commits usually arrive
// in order, so this is an append in the common case.
func insertBySeq(list []*domain.CanonEntry, e *domain.CanonEntry) []*domain.CanonEntry {
	i := sort.Search(len(list), func(i int) bool { return list[i].Seq > e.Seq })
	list = append(list, nil)
	copy(list[i+1:], list[i:])
	list[i] = e
	return list
}

func (s *CanonService) lookup(id string) (domain.CanonEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.facts[id]
	if !ok {
		return domain.CanonEntry{}, false
	}
	return e.Clone(), true
}

func (s *CanonService) Get(ctx context.Context, id string) (*domain.CanonEntry, error) {
	e, ok := s.lookup(id)
	if !ok {
		return nil, ErrFactNotFound
	}
	return &e, nil
}

// ListByCategory returns the (category, version) partition in insertion order.
func (s *CanonService) ListByCategory(ctx context.Context, category, version string) ([]domain.CanonEntry, error) {
	if !domain.ValidCategory(category) {
		return nil, ErrInvalidCategory
	}
	if version == "" {
		version = domain.DefaultVersion
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.byPartition[partitionKey{category: domain.Category(category), version: version}]
	out := make([]domain.CanonEntry, 0, len(list))
	for _, e := range list {
		out = append(out, e.Clone())
	}
	return out, nil
}

// successorsOf returns the direct successors of id in commit order.
func (s *CanonService) successorsOf(id string) []domain.CanonEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.successors[id]
	out := make([]domain.CanonEntry, 0, len(ids))
	for _, sid := range ids {
		out = append(out, s.facts[sid].Clone())
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

// countByCategory counts entries per category, restricted to version when it
// is non-empty.
func (s *CanonService) countByCategory(version string) (map[domain.Category]int, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[domain.Category]int, len(domain.Categories))
	total := 0
	for _, c := range domain.Categories {
		var n int
		if version == "" {
			n = len(s.byCategory[c])
		} else {
			n = len(s.byPartition[partitionKey{category: c, version: version}])
		}
		counts[c] = n
		total += n
	}
	return counts, total
}

// Search finds facts related to query in one category, or all of them when
// category is empty. Backend-ranked hits come first (embedding before
// keyword), then case-insensitive substring matches from the authoritative
// index.
func (s *CanonService) Search(ctx context.Context, query, category string, limit int) ([]domain.CanonEntry, error) {
	if category != "" && !domain.ValidCategory(category) {
		return nil, ErrInvalidCategory
	}
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	categories := domain.Categories
	if category != "" {
		categories = []domain.Category{domain.Category(category)}
	}

	var hits []search.Match
	for _, c := range categories {
		matches, err := s.backend.Query(ctx, c, query, limit)
		if err != nil {
			s.logger.Warn("search query failed", zap.String("category", string(c)), zap.Error(err))
			continue
		}
		hits = append(hits, matches...)
	}
	// Keyword ratios and embedding similarities are different scales, so
	// embedding hits rank ahead of keyword hits and each group sorts by score.
	sort.SliceStable(hits, func(i, j int) bool {
		ri, rj := variantRank(hits[i].Variant), variantRank(hits[j].Variant)
		if ri != rj {
			return ri < rj
		}
		return hits[i].Similarity() > hits[j].Similarity()
	})

	seen := make(map[string]struct{})
	results := make([]domain.CanonEntry, 0, limit)
	for _, h := range hits {
		if len(results) == limit {
			return results, nil
		}
		if e, ok := s.lookup(h.FactID); ok {
			seen[e.FactID] = struct{}{}
			results = append(results, e)
		}
	}

	needle := strings.ToLower(strings.TrimSpace(query))
	if needle == "" {
		return results, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range categories {
		for _, e := range s.byCategory[c] {
			if len(results) == limit {
				return results, nil
			}
			if _, ok := seen[e.FactID]; ok {
				continue
			}
			if strings.Contains(strings.ToLower(e.Content), needle) {
				seen[e.FactID] = struct{}{}
				results = append(results, e.Clone())
			}
		}
	}
	return results, nil
}

func variantRank(v search.Variant) int {
	if v == search.VariantEmbedding {
		return 0
	}
	return 1
}

// Load publishes every durable entry in commit order and rebuilds the
// backend index, which is derived data.
func (s *CanonService) Load(ctx context.Context) (int, error) {
	if s.durable == nil {
		return 0, nil
	}

	entries, err := s.durable.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list durable facts: %w", err)
	}

	var maxSeq int64
	loaded := make([]*domain.CanonEntry, 0, len(entries))
	for i := range entries {
		e := entries[i]
		if e.Metadata == nil {
			e.Metadata = map[string]any{}
		}
		if e.Seq > maxSeq {
			maxSeq = e.Seq
		}
		if s.publish(&e) {
			loaded = append(loaded, &e)
		}
	}
	if cur := s.seq.Load(); maxSeq > cur {
		s.seq.Store(maxSeq)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(loadConcurrency)
	for _, e := range loaded {
		e := e
		g.Go(func() error {
			if err := s.backend.Index(gctx, e.Category, e.FactID, e.Content, indexMetadata(e)); err != nil {
				return fmt.Errorf("%w: %s: %v", ErrIndexingFailure, e.FactID, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return len(loaded), err
	}

	s.logger.Info("canon loaded", zap.Int("facts", len(loaded)), zap.Int64("max_seq", maxSeq))
	return len(loaded), nil
}

func derefOr(p *string, def string) string {
	if p == nil {
		return def
	}
	return *p
}
