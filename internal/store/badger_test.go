package store

import (
	"context"
	"testing"
	"time"

	"github.com/Harshitk-cp/canonkeeper/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBadgerStore(t *testing.T) *BadgerCanonStore {
	t.Helper()
	db, err := OpenBadger(BadgerConfig{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewBadgerCanonStore(db)
}

func TestBadgerCanonStore_CreateAndList(t *testing.T) {
	s := newTestBadgerStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	second := &domain.CanonEntry{
		FactID:    "lore_b",
		Seq:       2,
		Category:  domain.CategoryLore,
		Content:   "Dragons sleep for a century",
		Version:   domain.DefaultVersion,
		Metadata:  map[string]any{"source": "bestiary"},
		CreatedAt: now,
	}
	first := &domain.CanonEntry{
		FactID:        "characters_a",
		Seq:           1,
		Category:      domain.CategoryCharacters,
		Content:       "Sarah has blue eyes",
		EstablishedIn: domain.StrPtr("scene-1"),
		Version:       domain.DefaultVersion,
		CreatedAt:     now,
	}

	require.NoError(t, s.Create(ctx, second))
	require.NoError(t, s.Create(ctx, first))

	entries, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "characters_a", entries[0].FactID)
	assert.Equal(t, "scene-1", *entries[0].EstablishedIn)
	assert.Nil(t, entries[0].Supersedes)
	assert.Equal(t, "lore_b", entries[1].FactID)
	assert.Equal(t, "bestiary", entries[1].Metadata["source"])
	assert.True(t, now.Equal(entries[1].CreatedAt))
}

func TestBadgerCanonStore_CreateDuplicate(t *testing.T) {
	s := newTestBadgerStore(t)
	ctx := context.Background()

	e := &domain.CanonEntry{FactID: "items_1", Category: domain.CategoryItems, Content: "A silver key", Version: "main"}
	require.NoError(t, s.Create(ctx, e))
	assert.ErrorIs(t, s.Create(ctx, e), ErrConflict)
}

func TestBadgerCanonStore_Delete(t *testing.T) {
	s := newTestBadgerStore(t)
	ctx := context.Background()

	e := &domain.CanonEntry{FactID: "items_1", Category: domain.CategoryItems, Content: "A silver key", Version: "main"}
	require.NoError(t, s.Create(ctx, e))
	require.NoError(t, s.Delete(ctx, domain.CategoryItems, "items_1"))

	entries, err := s.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)

	assert.ErrorIs(t, s.Delete(ctx, domain.CategoryItems, "items_1"), ErrNotFound)
}

func TestOpenBadger_RequiresPath(t *testing.T) {
	_, err := OpenBadger(BadgerConfig{})
	assert.Error(t, err)
}
