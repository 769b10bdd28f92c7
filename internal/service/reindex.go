package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const defaultReindexInterval = 30 * time.Second

// Reconciler is a backend that can replay indexing it previously failed.
type Reconciler interface {
	Reconcile(ctx context.Context) (int, error)
	Pending() int
}

// ReindexService periodically pushes queued facts into the primary
// similarity backend until the derived index catches up with the store.
type ReindexService struct {
	backend Reconciler
	logger  *zap.Logger

	interval time.Duration
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

func NewReindexService(backend Reconciler, logger *zap.Logger) *ReindexService {
	return &ReindexService{
		backend:  backend,
		logger:   logger,
		interval: defaultReindexInterval,
		stopCh:   make(chan struct{}),
	}
}

func (s *ReindexService) SetInterval(d time.Duration) {
	if d > 0 {
		s.interval = d
	}
}

// Start runs the reconciler on a periodic schedule in a background goroutine.
func (s *ReindexService) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.logger.Info("reindexer started", zap.Duration("interval", s.interval))

		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				s.run(ctx)
				cancel()
			case <-s.stopCh:
				s.logger.Info("reindexer stopped")
				return
			}
		}
	}()
}

// Stop gracefully stops the reindexer.
func (s *ReindexService) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

func (s *ReindexService) run(ctx context.Context) {
	if s.backend.Pending() == 0 {
		return
	}

	indexed, err := s.backend.Reconcile(ctx)
	if indexed > 0 {
		s.logger.Info("reindexed pending facts",
			zap.Int("count", indexed),
			zap.Int("remaining", s.backend.Pending()))
	}
	if err != nil {
		s.logger.Warn("reindex pass incomplete", zap.Int("remaining", s.backend.Pending()), zap.Error(err))
	}
}
