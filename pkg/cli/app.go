package cli

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ekaya-inc/catalog-enricher/pkg/adapters/warehouse"
	"github.com/ekaya-inc/catalog-enricher/pkg/config"
	"github.com/ekaya-inc/catalog-enricher/pkg/database"
	"github.com/ekaya-inc/catalog-enricher/pkg/embedding"
	"github.com/ekaya-inc/catalog-enricher/pkg/geocode"
	"github.com/ekaya-inc/catalog-enricher/pkg/graph"
	"github.com/ekaya-inc/catalog-enricher/pkg/llm"
	"github.com/ekaya-inc/catalog-enricher/pkg/logging"
	"github.com/ekaya-inc/catalog-enricher/pkg/repositories"
	"github.com/ekaya-inc/catalog-enricher/pkg/services"
)

const geocodeMemoryCacheSize = 10000

// needs selects which parts of the stack a command opens. The metadata
// store is always opened.
type needs struct {
	warehouse bool
	llm       bool
	graph     bool
}

// app is the wired process for one command invocation.
type app struct {
	cfg    *config.Config
	logger *zap.Logger

	db            *database.DB
	redis         *redis.Client
	tables        repositories.TableRepository
	columns       repositories.ColumnRepository
	relationships repositories.RelationshipRepository

	collector warehouse.Collector
	store     *graph.BadgerStore
	embedder  embedding.Embedder

	orchestrator *services.PipelineOrchestrator

	closers []func()
}

func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger, n needs) (a *app, err error) {
	a = &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.db, err = database.NewConnection(ctx, &database.Config{
		URL:            cfg.Database.ConnectionString(),
		MaxConnections: cfg.Database.MaxConnections,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to metadata store: %w", err)
	}
	a.closers = append(a.closers, a.db.Close)

	a.tables = repositories.NewTableRepository(a.db)
	a.columns = repositories.NewColumnRepository(a.db)
	a.relationships = repositories.NewRelationshipRepository(a.db)

	deps := services.PipelineDeps{
		Tables:        a.tables,
		Columns:       a.columns,
		Relationships: a.relationships,
		Classifier:    services.NewColumnClassifier(cfg.Classifier),
	}

	if n.warehouse {
		a.collector, err = warehouse.New(ctx, cfg.Warehouse.Type, warehouse.Options{
			URL:              cfg.Warehouse.URL,
			StatsBatchSize:   cfg.Warehouse.StatsBatchSize,
			StatsConcurrency: cfg.Warehouse.StatsConcurrency,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open %s warehouse: %w", cfg.Warehouse.Type, err)
		}
		logger.Info("Connected to warehouse",
			zap.String("type", cfg.Warehouse.Type),
			zap.String("url", logging.SanitizeConnectionString(cfg.Warehouse.URL)))
		a.closers = append(a.closers, func() {
			if cerr := a.collector.Close(); cerr != nil {
				logger.Warn("Failed to close warehouse", zap.String("error", logging.SanitizeError(cerr)))
			}
		})
		deps.Collector = a.collector

		geocoder, gerr := a.geocoder(ctx)
		if gerr != nil {
			return nil, gerr
		}
		deps.Detector = services.NewGeoDetector(cfg.Detector, geocoder, logger)
	}

	clients := llm.NewClientFactory(&cfg.LLM, &cfg.Embedding, logger)
	pool := llm.NewWorkerPool(llm.WorkerPoolConfig{MaxConcurrent: cfg.LLM.MaxConcurrent}, logger)
	deps.NamingPool = pool

	if n.llm {
		primary, perr := clients.CreatePrimary()
		if perr != nil {
			return nil, fmt.Errorf("failed to create LLM client: %w", perr)
		}
		local, lerr := clients.CreateLocal()
		if lerr != nil {
			logger.Warn("Local naming model unavailable", zap.Error(lerr))
		}

		breaker := llm.NewCircuitBreaker(llm.DefaultCircuitBreakerConfig())
		stages := []services.Namer{
			services.NewLLMNamer(primary, services.NamingModeCombined, cfg.LLM.Temperature, breaker, logger),
			services.NewLLMNamer(primary, services.NamingModeSeparate, cfg.LLM.Temperature, breaker, logger),
		}
		if local != nil {
			stages = append(stages, services.NewLLMNamer(local, services.NamingModeLocal, cfg.LLM.Temperature, nil, logger))
		}
		deps.Namer = services.NewNamingChain(logger, stages...)

		judge := services.NewLLMRelationshipJudge(primary, breaker, cfg.Pipeline.ConfidenceThreshold, cfg.LLM.Temperature, logger)
		deps.Inferencer = services.NewRelationshipInferencer(judge, pool, cfg.Pipeline, logger)
	}

	if n.graph {
		a.store, err = graph.NewBadgerStore(graph.BadgerOptions{
			Dir:       cfg.Graph.Dir,
			Dimension: cfg.Graph.Dimension,
		}, logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() {
			if cerr := a.store.Close(); cerr != nil {
				logger.Warn("Failed to close graph store", zap.Error(cerr))
			}
		})

		a.embedder, err = embedding.New(&cfg.Embedding, clients, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create embedder: %w", err)
		}
		a.closers = append(a.closers, func() {
			if cerr := embedding.CloseLocalRuntime(); cerr != nil {
				logger.Warn("Failed to close local embedding runtime", zap.Error(cerr))
			}
		})
		deps.Exporter = services.NewGraphExporter(a.store, a.embedder, logger)
	}

	a.orchestrator = services.NewPipelineOrchestrator(deps, cfg.Pipeline, cfg.Warehouse.SampleLimit, logger)
	return a, nil
}

// geocoder returns the rate-limited, cached reverse geocoder, or nil when
// lookups are disabled. Redis backs the cache when configured so several
// processes share lookups.
func (a *app) geocoder(ctx context.Context) (geocode.Geocoder, error) {
	cfg := a.cfg.Geocoder
	if !cfg.Enabled {
		return nil, nil
	}

	var cache geocode.Cache
	client, err := database.NewRedisClient(ctx, &a.cfg.Redis)
	switch {
	case err != nil:
		a.logger.Warn("Redis unavailable, using in-process geocode cache", zap.Error(err))
		cache = geocode.NewMemoryCache(geocodeMemoryCacheSize, cfg.CacheTTL)
	case client == nil:
		cache = geocode.NewMemoryCache(geocodeMemoryCacheSize, cfg.CacheTTL)
	default:
		a.redis = client
		a.closers = append(a.closers, func() { _ = client.Close() })
		cache = geocode.NewRedisCache(client, cfg.CacheTTL)
	}

	upstream := geocode.NewNominatim(cfg.URL, cfg.UserAgent, cfg.Timeout, a.logger)
	return geocode.NewCachedGeocoder(upstream, cache, cfg.Delay, a.logger), nil
}

// Close releases everything newApp opened, in reverse order.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
