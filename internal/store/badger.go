package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/Harshitk-cp/canonkeeper/internal/domain"
	"github.com/dgraph-io/badger/v4"
)

const badgerKeyPrefix = "canon/"

// BadgerConfig configures the embedded store.
type BadgerConfig struct {
	// Path is ignored when InMemory is set.
	Path       string
	InMemory   bool
	SyncWrites bool
}

// OpenBadger opens a badger database for the canon store.
func OpenBadger(cfg BadgerConfig) (*badger.DB, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1).WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return db, nil
}

// BadgerCanonStore keeps each category under its own key prefix
// (canon/<category>/<fact_id>) with JSON-encoded values.
type BadgerCanonStore struct {
	db *badger.DB
}

func NewBadgerCanonStore(db *badger.DB) *BadgerCanonStore {
	return &BadgerCanonStore{db: db}
}

type badgerRecord struct {
	FactID        string         `json:"fact_id"`
	Seq           int64          `json:"seq"`
	Category      string         `json:"category"`
	Content       string         `json:"content"`
	EstablishedIn *string        `json:"established_in,omitempty"`
	Version       string         `json:"version"`
	Supersedes    *string        `json:"supersedes,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

func badgerKey(category domain.Category, factID string) []byte {
	return []byte(badgerKeyPrefix + string(category) + "/" + factID)
}

func (s *BadgerCanonStore) Create(ctx context.Context, e *domain.CanonEntry) error {
	data, err := json.Marshal(badgerRecord{
		FactID:        e.FactID,
		Seq:           e.Seq,
		Category:      string(e.Category),
		Content:       e.Content,
		EstablishedIn: e.EstablishedIn,
		Version:       e.Version,
		Supersedes:    e.Supersedes,
		Metadata:      e.Metadata,
		CreatedAt:     e.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("marshal canon entry: %w", err)
	}

	key := badgerKey(e.Category, e.FactID)
	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(key); err == nil {
			return ErrConflict
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(key, data)
	})
}

func (s *BadgerCanonStore) Delete(ctx context.Context, category domain.Category, factID string) error {
	key := badgerKey(category, factID)
	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(key); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNotFound
			}
			return err
		}
		return txn.Delete(key)
	})
}

func (s *BadgerCanonStore) List(ctx context.Context) ([]domain.CanonEntry, error) {
	var entries []domain.CanonEntry
	prefix := []byte(badgerKeyPrefix)

	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var rec badgerRecord
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			entries = append(entries, domain.CanonEntry{
				FactID:        rec.FactID,
				Seq:           rec.Seq,
				Category:      domain.Category(rec.Category),
				Content:       rec.Content,
				EstablishedIn: rec.EstablishedIn,
				Version:       rec.Version,
				Supersedes:    rec.Supersedes,
				Metadata:      rec.Metadata,
				CreatedAt:     rec.CreatedAt,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Seq < entries[j].Seq })
	return entries, nil
}
