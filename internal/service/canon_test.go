package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/Harshitk-cp/canonkeeper/internal/domain"
	"github.com/Harshitk-cp/canonkeeper/internal/search"
	"github.com/Harshitk-cp/canonkeeper/internal/store"
	"go.uber.org/zap"
)

// mockCanonStore implements domain.CanonStore for testing.
type mockCanonStore struct {
	mu        sync.Mutex
	entries   map[string]domain.CanonEntry
	createErr error
	deletes   []string
}

func newMockCanonStore() *mockCanonStore {
	return &mockCanonStore{entries: make(map[string]domain.CanonEntry)}
}

func (m *mockCanonStore) Create(ctx context.Context, e *domain.CanonEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	if _, ok := m.entries[e.FactID]; ok {
		return store.ErrConflict
	}
	m.entries[e.FactID] = e.Clone()
	return nil
}

func (m *mockCanonStore) Delete(ctx context.Context, category domain.Category, factID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[factID]; !ok {
		return store.ErrNotFound
	}
	delete(m.entries, factID)
	m.deletes = append(m.deletes, factID)
	return nil
}

func (m *mockCanonStore) List(ctx context.Context) ([]domain.CanonEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.CanonEntry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

// flakyBackend fails the first failures Index calls, then delegates.
type flakyBackend struct {
	*search.KeywordBackend
	mu       sync.Mutex
	failures int
	calls    int
}

func (b *flakyBackend) Index(ctx context.Context, category domain.Category, factID, content string, metadata map[string]any) error {
	b.mu.Lock()
	b.calls++
	fail := b.calls <= b.failures
	b.mu.Unlock()
	if fail {
		return errors.New("index unavailable")
	}
	return b.KeywordBackend.Index(ctx, category, factID, content, metadata)
}

// presetBackend answers Query with fixed matches per category.
type presetBackend struct {
	*search.KeywordBackend
	matches map[domain.Category][]search.Match
}

func (b presetBackend) Query(ctx context.Context, category domain.Category, text string, limit int) ([]search.Match, error) {
	return b.matches[category], nil
}

func testLogger() *zap.Logger {
	logger, _ := zap.NewDevelopment()
	return logger
}

func setupCanonTest() (*CanonService, *mockCanonStore) {
	durable := newMockCanonStore()
	svc := NewCanonService(durable, search.NewKeywordBackend(), testLogger())
	svc.SetIndexRetry(3, time.Millisecond)
	return svc, durable
}

func TestCanonService_Add(t *testing.T) {
	svc, durable := setupCanonTest()
	ctx := context.Background()

	e, err := svc.Add(ctx, AddFactInput{
		Content:       "Sarah has blue eyes",
		Category:      "characters",
		EstablishedIn: "scene-3",
		Metadata:      map[string]any{"pov": "sarah"},
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if e.FactID == "" {
		t.Fatal("expected fact ID to be set")
	}
	if e.Version != domain.DefaultVersion {
		t.Fatalf("expected default version 'main', got %s", e.Version)
	}
	if e.EstablishedIn == nil || *e.EstablishedIn != "scene-3" {
		t.Fatalf("expected established_in 'scene-3', got %v", e.EstablishedIn)
	}
	if e.Supersedes != nil {
		t.Fatalf("expected no supersedes, got %v", *e.Supersedes)
	}
	if e.CreatedAt.IsZero() {
		t.Fatal("expected created_at to be set")
	}
	if len(durable.entries) != 1 {
		t.Fatalf("expected 1 durable entry, got %d", len(durable.entries))
	}

	n, _ := svc.Backend().Count(ctx, domain.CategoryCharacters)
	if n != 1 {
		t.Fatalf("expected backend to hold 1 fact, got %d", n)
	}
}

func TestCanonService_Add_InvalidCategory(t *testing.T) {
	svc, _ := setupCanonTest()

	_, err := svc.Add(context.Background(), AddFactInput{Content: "something", Category: "spaceships"})
	if err != ErrInvalidCategory {
		t.Fatalf("expected ErrInvalidCategory, got %v", err)
	}
}

func TestCanonService_Add_EmptyContent(t *testing.T) {
	svc, _ := setupCanonTest()

	for _, content := range []string{"", "   ", "\n\t"} {
		_, err := svc.Add(context.Background(), AddFactInput{Content: content, Category: "lore"})
		if err != ErrEmptyContent {
			t.Fatalf("expected ErrEmptyContent for %q, got %v", content, err)
		}
	}
}

func TestCanonService_Add_SupersedesUnknown(t *testing.T) {
	svc, _ := setupCanonTest()

	_, err := svc.Add(context.Background(), AddFactInput{Content: "Y", Category: "lore", Supersedes: "lore_missing"})
	if !errors.Is(err, ErrSupersededNotFound) || !errors.Is(err, ErrFactNotFound) {
		t.Fatalf("expected ErrSupersededNotFound, got %v", err)
	}
}

func TestCanonService_Add_SupersedesOtherCategory(t *testing.T) {
	svc, _ := setupCanonTest()
	ctx := context.Background()

	old, _ := svc.Add(ctx, AddFactInput{Content: "The inn has three floors", Category: "locations"})

	_, err := svc.Add(ctx, AddFactInput{Content: "The inn has two floors", Category: "lore", Supersedes: old.FactID})
	if err != ErrCategoryMismatch {
		t.Fatalf("expected ErrCategoryMismatch, got %v", err)
	}
}

func TestCanonService_Add_SupersedesAcrossVersions(t *testing.T) {
	svc, _ := setupCanonTest()
	ctx := context.Background()

	old, _ := svc.Add(ctx, AddFactInput{Content: "The inn has three floors", Category: "locations"})
	e, err := svc.Add(ctx, AddFactInput{
		Content:    "The inn has two floors",
		Category:   "locations",
		Version:    "what-if",
		Supersedes: old.FactID,
	})
	if err != nil {
		t.Fatalf("expected branch override to be allowed, got %v", err)
	}
	if *e.Supersedes != old.FactID {
		t.Fatalf("expected supersedes %s, got %s", old.FactID, *e.Supersedes)
	}
}

func TestCanonService_Add_ConcurrentIDsUnique(t *testing.T) {
	svc, _ := setupCanonTest()
	ctx := context.Background()

	const workers, perWorker = 16, 25
	ids := make(chan string, workers*perWorker)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				e, err := svc.Add(ctx, AddFactInput{Content: "The bell tolls at dawn", Category: "timeline"})
				if err != nil {
					t.Errorf("add failed: %v", err)
					return
				}
				ids <- e.FactID
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]bool)
	for id := range ids {
		if seen[id] {
			t.Fatalf("duplicate fact id %s", id)
		}
		seen[id] = true
	}
	if len(seen) != workers*perWorker {
		t.Fatalf("expected %d ids, got %d", workers*perWorker, len(seen))
	}

	list, _ := svc.ListByCategory(ctx, "timeline", "main")
	if len(list) != workers*perWorker {
		t.Fatalf("expected %d listed facts, got %d", workers*perWorker, len(list))
	}
	for i := 1; i < len(list); i++ {
		if list[i-1].Seq >= list[i].Seq {
			t.Fatalf("expected list ordered by commit sequence at %d", i)
		}
	}
}

func TestCanonService_EntriesAreImmutable(t *testing.T) {
	svc, _ := setupCanonTest()
	ctx := context.Background()

	e, _ := svc.Add(ctx, AddFactInput{
		Content:       "Sarah has blue eyes",
		Category:      "characters",
		EstablishedIn: "scene-1",
		Metadata:      map[string]any{"pov": "sarah"},
	})

	e.Content = "tampered"
	*e.EstablishedIn = "tampered"
	e.Metadata["pov"] = "tampered"
	e.Version = "tampered"

	got, err := svc.Get(ctx, e.FactID)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if got.Content != "Sarah has blue eyes" || *got.EstablishedIn != "scene-1" || got.Version != "main" {
		t.Fatalf("stored entry was mutated: %+v", got)
	}
	if got.Metadata["pov"] != "sarah" {
		t.Fatalf("stored metadata was mutated: %v", got.Metadata)
	}
}

func TestCanonService_NestedMetadataIsolated(t *testing.T) {
	svc, _ := setupCanonTest()
	ctx := context.Background()

	input := map[string]any{
		"traits": map[string]any{"eyes": "blue"},
		"scenes": []any{"scene-1"},
	}
	e, err := svc.Add(ctx, AddFactInput{Content: "Sarah has blue eyes", Category: "characters", Metadata: input})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	e.Metadata["traits"].(map[string]any)["eyes"] = "green"
	e.Metadata["scenes"].([]any)[0] = "scene-9"
	input["traits"].(map[string]any)["eyes"] = "grey"

	got, err := svc.Get(ctx, e.FactID)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if eyes := got.Metadata["traits"].(map[string]any)["eyes"]; eyes != "blue" {
		t.Fatalf("expected nested trait blue, got %v", eyes)
	}
	if scene := got.Metadata["scenes"].([]any)[0]; scene != "scene-1" {
		t.Fatalf("expected nested scene-1, got %v", scene)
	}

	got.Metadata["traits"].(map[string]any)["eyes"] = "violet"
	again, _ := svc.Get(ctx, e.FactID)
	if eyes := again.Metadata["traits"].(map[string]any)["eyes"]; eyes != "blue" {
		t.Fatalf("Get leaked nested metadata, got %v", eyes)
	}
}

func TestCanonService_Get_NotFound(t *testing.T) {
	svc, _ := setupCanonTest()

	_, err := svc.Get(context.Background(), "characters_nope")
	if err != ErrFactNotFound {
		t.Fatalf("expected ErrFactNotFound, got %v", err)
	}
}

func TestCanonService_ListByCategory_PartitionIsolation(t *testing.T) {
	svc, _ := setupCanonTest()
	ctx := context.Background()

	inputs := []AddFactInput{
		{Content: "Sarah has blue eyes", Category: "characters"},
		{Content: "The river runs east", Category: "locations"},
		{Content: "Sarah has green eyes", Category: "characters", Version: "alt"},
		{Content: "Marcus is left-handed", Category: "characters"},
	}
	for _, in := range inputs {
		if _, err := svc.Add(ctx, in); err != nil {
			t.Fatalf("add failed: %v", err)
		}
	}

	list, err := svc.ListByCategory(ctx, "characters", "main")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 facts, got %d", len(list))
	}
	if list[0].Content != "Sarah has blue eyes" || list[1].Content != "Marcus is left-handed" {
		t.Fatalf("expected insertion order, got %q, %q", list[0].Content, list[1].Content)
	}
	for _, e := range list {
		if e.Category != domain.CategoryCharacters || e.Version != "main" {
			t.Fatalf("partition leak: %+v", e)
		}
	}

	alt, _ := svc.ListByCategory(ctx, "characters", "alt")
	if len(alt) != 1 || alt[0].Version != "alt" {
		t.Fatalf("expected 1 alt fact, got %+v", alt)
	}

	empty, err := svc.ListByCategory(ctx, "items", "main")
	if err != nil || empty == nil || len(empty) != 0 {
		t.Fatalf("expected empty non-nil list, got %v, %v", empty, err)
	}

	if _, err := svc.ListByCategory(ctx, "spaceships", "main"); err != ErrInvalidCategory {
		t.Fatalf("expected ErrInvalidCategory, got %v", err)
	}
}

func TestCanonService_Add_IndexRetrySucceeds(t *testing.T) {
	durable := newMockCanonStore()
	backend := &flakyBackend{KeywordBackend: search.NewKeywordBackend(), failures: 2}
	svc := NewCanonService(durable, backend, testLogger())
	svc.SetIndexRetry(3, time.Millisecond)

	e, err := svc.Add(context.Background(), AddFactInput{Content: "The moon is red", Category: "lore"})
	if err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if backend.calls != 3 {
		t.Fatalf("expected 3 index attempts, got %d", backend.calls)
	}
	if _, err := svc.Get(context.Background(), e.FactID); err != nil {
		t.Fatalf("expected fact to be visible, got %v", err)
	}
}

func TestCanonService_Add_IndexFailureRollsBack(t *testing.T) {
	durable := newMockCanonStore()
	backend := &flakyBackend{KeywordBackend: search.NewKeywordBackend(), failures: 100}
	svc := NewCanonService(durable, backend, testLogger())
	svc.SetIndexRetry(2, time.Millisecond)
	ctx := context.Background()

	_, err := svc.Add(ctx, AddFactInput{Content: "The moon is red", Category: "lore"})
	if !errors.Is(err, ErrIndexingFailure) {
		t.Fatalf("expected ErrIndexingFailure, got %v", err)
	}
	if len(durable.entries) != 0 || len(durable.deletes) != 1 {
		t.Fatalf("expected durable commit to be rolled back, entries=%d deletes=%d", len(durable.entries), len(durable.deletes))
	}
	list, _ := svc.ListByCategory(ctx, "lore", "main")
	if len(list) != 0 {
		t.Fatalf("expected no visible facts, got %d", len(list))
	}
}

func TestCanonService_Add_DurableFailure(t *testing.T) {
	svc, durable := setupCanonTest()
	durable.createErr = errors.New("disk full")
	ctx := context.Background()

	if _, err := svc.Add(ctx, AddFactInput{Content: "The moon is red", Category: "lore"}); err == nil {
		t.Fatal("expected error when durable store fails")
	}
	n, _ := svc.Backend().Count(ctx, domain.CategoryLore)
	if n != 0 {
		t.Fatalf("expected nothing indexed, got %d", n)
	}
}

func TestCanonService_Load(t *testing.T) {
	first, durable := setupCanonTest()
	ctx := context.Background()

	a, _ := first.Add(ctx, AddFactInput{Content: "Sarah has blue eyes", Category: "characters"})
	b, _ := first.Add(ctx, AddFactInput{Content: "Sarah has brown eyes", Category: "characters", Supersedes: a.FactID})

	restarted := NewCanonService(durable, search.NewKeywordBackend(), testLogger())
	n, err := restarted.Load(ctx)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 loaded facts, got %d", n)
	}

	list, _ := restarted.ListByCategory(ctx, "characters", "main")
	if len(list) != 2 || list[0].FactID != a.FactID || list[1].FactID != b.FactID {
		t.Fatalf("expected reloaded facts in commit order, got %+v", list)
	}
	if succ := restarted.successorsOf(a.FactID); len(succ) != 1 || succ[0].FactID != b.FactID {
		t.Fatalf("expected successor index to be rebuilt, got %+v", succ)
	}

	count, _ := restarted.Backend().Count(ctx, domain.CategoryCharacters)
	if count != 2 {
		t.Fatalf("expected backend rebuilt with 2 facts, got %d", count)
	}

	c, _ := restarted.Add(ctx, AddFactInput{Content: "Marcus is tall", Category: "characters"})
	if c.Seq <= b.Seq {
		t.Fatalf("expected sequence to continue after %d, got %d", b.Seq, c.Seq)
	}
}

func TestCanonService_Load_NoDurableStore(t *testing.T) {
	svc := NewCanonService(nil, search.NewKeywordBackend(), testLogger())
	n, err := svc.Load(context.Background())
	if err != nil || n != 0 {
		t.Fatalf("expected no-op load, got %d, %v", n, err)
	}
}

func TestCanonService_Search(t *testing.T) {
	svc, _ := setupCanonTest()
	ctx := context.Background()

	_, _ = svc.Add(ctx, AddFactInput{Content: "Sarah has blue eyes", Category: "characters"})
	_, _ = svc.Add(ctx, AddFactInput{Content: "Sarah owns a blue lantern", Category: "items"})
	_, _ = svc.Add(ctx, AddFactInput{Content: "The river runs east", Category: "locations"})

	all, err := svc.Search(ctx, "sarah", "", 10)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 substring matches, got %d", len(all))
	}

	ranked, _ := svc.Search(ctx, "Sarah has blue eyes", "characters", 10)
	if len(ranked) != 1 || ranked[0].Content != "Sarah has blue eyes" {
		t.Fatalf("expected the ranked character fact, got %+v", ranked)
	}

	limited, _ := svc.Search(ctx, "sarah", "", 1)
	if len(limited) != 1 {
		t.Fatalf("expected limit to apply, got %d", len(limited))
	}

	if _, err := svc.Search(ctx, "sarah", "spaceships", 10); err != ErrInvalidCategory {
		t.Fatalf("expected ErrInvalidCategory, got %v", err)
	}
}

func TestCanonService_Search_EmbeddingBeforeKeyword(t *testing.T) {
	backend := presetBackend{KeywordBackend: search.NewKeywordBackend(), matches: map[domain.Category][]search.Match{}}
	svc := NewCanonService(nil, backend, testLogger())
	ctx := context.Background()

	lore, _ := svc.Add(ctx, AddFactInput{Content: "Magic costs a memory", Category: "lore"})
	char, _ := svc.Add(ctx, AddFactInput{Content: "Sarah has blue eyes", Category: "characters"})
	item, _ := svc.Add(ctx, AddFactInput{Content: "The compass points home", Category: "items"})

	// A keyword ratio of 0.95 outscores embedding similarity 0.6 numerically,
	// but the scales are not comparable.
	backend.matches[domain.CategoryCharacters] = []search.Match{{FactID: char.FactID, Score: 0.95, Variant: search.VariantKeyword}}
	backend.matches[domain.CategoryLore] = []search.Match{{FactID: lore.FactID, Score: 0.8, Variant: search.VariantEmbedding}}
	backend.matches[domain.CategoryItems] = []search.Match{{FactID: item.FactID, Score: 0.2, Variant: search.VariantEmbedding}}

	got, err := svc.Search(ctx, "unrelated", "", 10)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	want := []string{item.FactID, lore.FactID, char.FactID}
	if len(got) != len(want) {
		t.Fatalf("expected %d results, got %d", len(want), len(got))
	}
	for i, id := range want {
		if got[i].FactID != id {
			t.Fatalf("result %d: expected %s, got %s (%s)", i, id, got[i].FactID, got[i].Content)
		}
	}
}
