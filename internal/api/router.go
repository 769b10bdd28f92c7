package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/Harshitk-cp/canonkeeper/internal/api/handlers"
	mw "github.com/Harshitk-cp/canonkeeper/internal/api/middleware"
	"github.com/Harshitk-cp/canonkeeper/internal/buildconfig"
	"github.com/Harshitk-cp/canonkeeper/internal/config"
	"github.com/Harshitk-cp/canonkeeper/internal/domain"
	"github.com/Harshitk-cp/canonkeeper/internal/embedding"
	"github.com/Harshitk-cp/canonkeeper/internal/search"
	"github.com/Harshitk-cp/canonkeeper/internal/service"
	"github.com/Harshitk-cp/canonkeeper/internal/store"
	"github.com/dgraph-io/badger/v4"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Options selects storage and tuning. At most one of Pool and Badger is set;
// with neither the canon lives in memory only.
type Options struct {
	Pool   *pgxpool.Pool
	Badger *badger.DB

	EmbeddingProvider string
	EmbeddingAPIKey   string
	EmbeddingTimeout  time.Duration

	ContradictionThreshold *float64 // nil keeps the detector default
	ContradictionLimit     int
	ReindexInterval        time.Duration

	APIKey         string
	RateLimitRPS   float64
	RateLimitBurst int
}

// OptionsFromConfig fills everything but the storage handles from env config.
func OptionsFromConfig() Options {
	return Options{
		EmbeddingProvider:      config.EmbeddingProvider(),
		EmbeddingAPIKey:        config.EmbeddingAPIKey(),
		EmbeddingTimeout:       config.EmbeddingTimeout(),
		ContradictionThreshold: service.Threshold(config.ContradictionThreshold()),
		ContradictionLimit:     config.ContradictionLimit(),
		ReindexInterval:        config.ReindexInterval(),
		APIKey:                 config.APIKey(),
		RateLimitRPS:           config.RateLimitRPS(),
		RateLimitBurst:         config.RateLimitBurst(),
	}
}

// App holds the router, the canon services and the background re-indexer.
type App struct {
	Router  *chi.Mux
	Canon   *service.CanonService
	Reindex *service.ReindexService // nil for the keyword backend

	pool         *pgxpool.Pool
	backend      search.Backend
	metrics      *mw.MetricsCollector
	startTime    time.Time
	requestCount atomic.Int64
	errorCount   atomic.Int64
}

func NewApp(opts Options, logger *zap.Logger) *App {
	durable := durableStore(opts, logger)
	backend, reconciler := newBackend(opts, logger)

	canonSvc := service.NewCanonService(durable, backend, logger)
	detector := service.NewContradictionDetector(canonSvc, backend, logger)
	detector.SetDefaults(opts.ContradictionThreshold, opts.ContradictionLimit)
	retconSvc := service.NewRetconService(canonSvc, logger)
	exportSvc := service.NewExportService(canonSvc)

	canonHandler := handlers.NewCanonHandler(canonSvc, detector, retconSvc, exportSvc)

	r := chi.NewRouter()

	app := &App{
		Router:    r,
		Canon:     canonSvc,
		pool:      opts.Pool,
		backend:   backend,
		startTime: time.Now(),
	}
	if reconciler != nil {
		app.Reindex = service.NewReindexService(reconciler, logger)
		app.Reindex.SetInterval(opts.ReindexInterval)
	}

	app.metrics = mw.NewMetricsCollector(&app.requestCount, &app.errorCount)

	r.Use(mw.RequestID)
	r.Use(middleware.RealIP)
	r.Use(app.metrics.Middleware)
	r.Use(mw.Logging(logger))
	r.Use(middleware.Recoverer)
	if opts.RateLimitRPS > 0 {
		r.Use(mw.RateLimit(opts.RateLimitRPS, max(opts.RateLimitBurst, 1)))
	}

	r.Get("/health", app.healthHandler())
	r.Get("/metrics", app.metricsHandler())

	r.Route("/v1/canon", func(r chi.Router) {
		r.Use(mw.APIKeyAuth(opts.APIKey))

		r.Route("/facts", func(r chi.Router) {
			r.Post("/", canonHandler.AddFact)
			r.Get("/", canonHandler.ListFacts)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", canonHandler.GetFact)
				r.Get("/current", canonHandler.Current)
				r.Get("/successors", canonHandler.Successors)
				r.Post("/retcon", canonHandler.Retcon)
			})
		})
		r.Post("/check", canonHandler.Check)
		r.Get("/search", canonHandler.Search)
		r.Get("/export", canonHandler.Export)
		r.Get("/stats", canonHandler.Stats)
	})

	return app
}

// Load restores the canon from the durable store.
func (app *App) Load(ctx context.Context) (int, error) {
	return app.Canon.Load(ctx)
}

func durableStore(opts Options, logger *zap.Logger) domain.CanonStore {
	switch {
	case opts.Pool != nil:
		logger.Info("canon storage", zap.String("driver", config.StoragePostgres))
		return store.NewCanonStore(opts.Pool)
	case opts.Badger != nil:
		logger.Info("canon storage", zap.String("driver", config.StorageBadger))
		return store.NewBadgerCanonStore(opts.Badger)
	default:
		logger.Info("canon storage", zap.String("driver", config.StorageMemory))
		return nil
	}
}

// newBackend picks the similarity backend once. Without a usable embedding
// provider the keyword backend is used and that is logged here, not per call.
func newBackend(opts Options, logger *zap.Logger) (search.Backend, service.Reconciler) {
	client, err := embedding.NewClient(opts.EmbeddingProvider, opts.EmbeddingAPIKey, opts.EmbeddingTimeout)
	if err != nil {
		if errors.Is(err, embedding.ErrNotConfigured) {
			logger.Info("no embedding provider configured, using keyword matching")
		} else {
			logger.Warn("embedding client initialization failed, using keyword matching",
				zap.String("provider", opts.EmbeddingProvider), zap.Error(err))
		}
		return search.NewKeywordBackend(), nil
	}

	var index domain.VectorIndex = search.NewMemoryVectorIndex()
	if opts.Pool != nil {
		index = store.NewVectorStore(opts.Pool)
	}

	primary := search.NewEmbeddingBackend(client, index, opts.EmbeddingTimeout)
	resilient := search.NewResilientBackend(primary, search.NewKeywordBackend(), search.DefaultBreakerSettings(), logger)
	logger.Info("embedding client initialized", zap.String("provider", opts.EmbeddingProvider))
	return resilient, resilient
}

func (app *App) healthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{
			"status":  "ok",
			"backend": app.backend.Variant(),
			"build":   buildconfig.VersionInfo(),
		}

		w.Header().Set("Content-Type", "application/json")
		if app.pool != nil {
			if err := app.pool.Ping(r.Context()); err != nil {
				resp["status"] = "error"
				resp["error"] = err.Error()
				w.WriteHeader(http.StatusServiceUnavailable)
				_ = json.NewEncoder(w).Encode(resp)
				return
			}
		}

		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(resp)
	}
}

func (app *App) metricsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var memStats runtime.MemStats
		runtime.ReadMemStats(&memStats)

		uptime := time.Since(app.startTime)

		pending := 0
		if rb, ok := app.backend.(*search.ResilientBackend); ok {
			pending = rb.Pending()
		}

		response := map[string]any{
			"uptime_seconds":   uptime.Seconds(),
			"uptime_human":     uptime.Round(time.Second).String(),
			"request_count":    app.requestCount.Load(),
			"error_count":      app.errorCount.Load(),
			"server_errors":    app.metrics.ServerErrors(),
			"goroutines":       runtime.NumGoroutine(),
			"canon":            service.NewExportService(app.Canon).Stats(r.Context()),
			"reindex_pending":  pending,
			"similarity_model": app.backend.Variant(),
			"memory": map[string]any{
				"alloc_mb": float64(memStats.Alloc) / 1024 / 1024,
				"sys_mb":   float64(memStats.Sys) / 1024 / 1024,
				"num_gc":   memStats.NumGC,
			},
			"go_version": runtime.Version(),
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(response)
	}
}

// Ensure stores and clients satisfy interfaces at compile time.
var (
	_ domain.CanonStore      = (*store.CanonStore)(nil)
	_ domain.CanonStore      = (*store.BadgerCanonStore)(nil)
	_ domain.VectorIndex     = (*store.VectorStore)(nil)
	_ domain.VectorIndex     = (*search.MemoryVectorIndex)(nil)
	_ domain.EmbeddingClient = (*embedding.OpenAIClient)(nil)
	_ domain.EmbeddingClient = (*embedding.MockClient)(nil)
	_ search.Backend         = (*search.KeywordBackend)(nil)
	_ search.Backend         = (*search.EmbeddingBackend)(nil)
	_ search.Backend         = (*search.ResilientBackend)(nil)
	_ service.Reconciler     = (*search.ResilientBackend)(nil)
)
