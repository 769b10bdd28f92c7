package search

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Harshitk-cp/canonkeeper/internal/domain"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// BreakerSettings tunes the circuit breaker guarding the primary backend.
type BreakerSettings struct {
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	MinRequests      uint32
	ReadyToTripRatio float64
}

func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		MaxRequests:      1,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		MinRequests:      3,
		ReadyToTripRatio: 0.5,
	}
}

type pendingIndex struct {
	category domain.Category
	content  string
	metadata map[string]any
	seq      int
}

// ResilientBackend fronts a remote primary backend with a keyword mirror.
// Every fact lands in the mirror; primary indexing failures are queued for
// Reconcile. Queries that fail, time out or hit an open breaker are answered
// by the mirror, with matches tagged as keyword matches.
type ResilientBackend struct {
	primary Backend
	mirror  *KeywordBackend
	cb      *gobreaker.CircuitBreaker
	logger  *zap.Logger

	mu      sync.Mutex
	pending map[string]pendingIndex
	nextSeq int
}

func NewResilientBackend(primary Backend, mirror *KeywordBackend, settings BreakerSettings, logger *zap.Logger) *ResilientBackend {
	b := &ResilientBackend{
		primary: primary,
		mirror:  mirror,
		logger:  logger,
		pending: make(map[string]pendingIndex),
	}

	b.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        fmt.Sprintf("%s-backend", primary.Variant()),
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < settings.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= settings.ReadyToTripRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("similarity backend circuit changed state",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	return b
}

func (b *ResilientBackend) Variant() Variant {
	return b.primary.Variant()
}

func (b *ResilientBackend) Index(ctx context.Context, category domain.Category, factID, content string, metadata map[string]any) error {
	if err := b.mirror.Index(ctx, category, factID, content, metadata); err != nil {
		return err
	}

	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, b.primary.Index(ctx, category, factID, content, metadata)
	})
	if err != nil {
		b.logger.Warn("primary indexing failed, queued for reconcile",
			zap.String("fact_id", factID),
			zap.String("category", string(category)),
			zap.Error(err))
		b.enqueue(factID, pendingIndex{category: category, content: content, metadata: metadata})
	}
	return nil
}

func (b *ResilientBackend) Query(ctx context.Context, category domain.Category, text string, limit int) ([]Match, error) {
	res, err := b.cb.Execute(func() (interface{}, error) {
		return b.primary.Query(ctx, category, text, limit)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			err = fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		}
		b.logger.Debug("primary query failed, answering from keyword mirror", zap.Error(err))
		return b.mirror.Query(ctx, category, text, limit)
	}
	return res.([]Match), nil
}

// Count reports the mirror, which holds every committed fact.
func (b *ResilientBackend) Count(ctx context.Context, category domain.Category) (int, error) {
	return b.mirror.Count(ctx, category)
}

// Pending returns the number of facts still missing from the primary backend.
func (b *ResilientBackend) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Reconcile retries queued primary indexing in commit order and returns how
// many facts were indexed. It stops at the first failure.
func (b *ResilientBackend) Reconcile(ctx context.Context) (int, error) {
	b.mu.Lock()
	ids := make([]string, 0, len(b.pending))
	for id := range b.pending {
		ids = append(ids, id)
	}
	snapshot := make(map[string]pendingIndex, len(ids))
	for _, id := range ids {
		snapshot[id] = b.pending[id]
	}
	b.mu.Unlock()

	sort.Slice(ids, func(i, j int) bool { return snapshot[ids[i]].seq < snapshot[ids[j]].seq })

	indexed := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return indexed, err
		}
		p := snapshot[id]
		_, err := b.cb.Execute(func() (interface{}, error) {
			return nil, b.primary.Index(ctx, p.category, id, p.content, p.metadata)
		})
		if err != nil {
			return indexed, fmt.Errorf("reindex %s: %w", id, err)
		}

		b.mu.Lock()
		delete(b.pending, id)
		b.mu.Unlock()
		indexed++
	}
	return indexed, nil
}

func (b *ResilientBackend) enqueue(factID string, p pendingIndex) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.pending[factID]; ok {
		return
	}
	b.nextSeq++
	p.seq = b.nextSeq
	b.pending[factID] = p
}
