package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/datachat/datachat/internal/api"
	"github.com/datachat/datachat/internal/catalog"
	catalogpostgres "github.com/datachat/datachat/internal/catalog/postgres"
	"github.com/datachat/datachat/internal/config"
	"github.com/datachat/datachat/internal/conversation"
	"github.com/datachat/datachat/internal/executor"
	"github.com/datachat/datachat/internal/llm"
	"github.com/datachat/datachat/internal/observability"
	"github.com/datachat/datachat/internal/pipeline"
	"github.com/datachat/datachat/internal/prompt"
	"github.com/datachat/datachat/internal/querycache"
	"github.com/datachat/datachat/internal/sqlguard"
)

func main() {
	cfg, err := config.LoadFromEnv("datachat-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)

	warehouseDB, err := catalogpostgres.Open(context.Background(), catalogpostgres.DBConfig{
		DSN:             cfg.Warehouse.DSN,
		MaxOpenConns:    cfg.Warehouse.MaxOpenConns,
		MaxIdleConns:    cfg.Warehouse.MaxIdleConns,
		ConnMaxIdleTime: cfg.Warehouse.ConnMaxIdleTime,
		ConnMaxLifetime: cfg.Warehouse.ConnMaxLifetime,
	})
	if err != nil {
		logger.Error("failed to open warehouse db", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = warehouseDB.Close() }()

	descriptions, err := loadDescriptions(cfg.Catalog.DescriptionsFile)
	if err != nil {
		logger.Error("failed to load table descriptions", slog.Any("error", err))
		os.Exit(1)
	}

	introspector := catalogpostgres.NewIntrospector(warehouseDB)
	schemaCatalog := catalog.New(introspector, catalog.AllowList{
		Schemas:      cfg.Catalog.Schemas,
		Tables:       cfg.Catalog.Tables,
		Descriptions: descriptions,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go loadCatalogWithRetry(ctx, logger, schemaCatalog, cfg.Catalog)

	var (
		convStore  conversation.Store
		queryCache querycache.Cache
		cacheCheck api.ReadinessCheck
	)
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			logger.Error("invalid redis url", slog.Any("error", err))
			os.Exit(1)
		}
		client := redis.NewClient(opts)
		defer func() { _ = client.Close() }()

		convStore = conversation.NewRedisStore(client, cfg.Conversation.TTL, cfg.Conversation.MaxTurns)
		queryCache = querycache.NewRedisCache(client, cfg.Cache.TTL)
		cacheCheck = func(ctx context.Context) error { return client.Ping(ctx).Err() }
	} else {
		logger.Info("no redis url configured, using in-process session store and query cache")
		convStore = conversation.NewMemoryStore(cfg.Conversation.TTL, cfg.Conversation.MaxTurns)
		memCache := querycache.NewMemoryCache(cfg.Cache.TTL)
		go memCache.Sweep(ctx, cfg.Cache.SweepInterval)
		queryCache = memCache
	}

	gateway, err := llm.NewOpenAIGateway(llm.OpenAIConfig{
		BaseURL:     cfg.AI.BaseURL,
		APIKey:      cfg.AI.APIKey,
		Model:       cfg.AI.Model,
		Temperature: cfg.AI.Temperature,
		MaxTokens:   cfg.AI.MaxTokens,
		Timeout:     cfg.AI.Timeout,
		MaxRetries:  cfg.AI.MaxRetries,
	})
	if err != nil {
		logger.Error("failed to initialize sql generator", slog.Any("error", err))
		os.Exit(1)
	}

	chat := pipeline.New(pipeline.Deps{
		Store: convStore,
		Builder: prompt.Builder{
			ContextTurns:    cfg.Prompt.ContextTurns,
			MaxSchemaTables: cfg.Prompt.MaxSchemaTables,
		},
		Gateway: gateway,
		Validator: sqlguard.New(schemaCatalog, sqlguard.Config{
			DefaultRowLimit: cfg.Guard.DefaultRowLimit,
			MaxRowLimit:     cfg.Guard.MaxRowLimit,
		}),
		Cache: queryCache,
		Runner: executor.New(warehouseDB, executor.Config{
			MaxConcurrent:    cfg.Warehouse.MaxOpenConns,
			AcquireTimeout:   cfg.Warehouse.AcquireTimeout,
			StatementTimeout: cfg.Warehouse.StatementTimeout,
			MaxResultRows:    cfg.Warehouse.MaxResultRows,
		}),
		Schema: schemaCatalog,
		Logger: logger,
	})

	handler := api.NewHandler(cfg, api.Dependencies{
		Logger:            logger,
		Chat:              chat,
		Schema:            schemaCatalog,
		WarehouseCheck:    introspector.HealthCheck,
		CacheCheck:        cacheCheck,
		DependencyTimeout: time.Second,
	})
	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	go func() {
		logger.Info("starting api server", slog.String("addr", cfg.HTTP.Address))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = server.Close()
		os.Exit(1)
	}
}

// loadCatalogWithRetry keeps trying to introspect the warehouse until a
// snapshot loads. The server answers health and chat requests meanwhile;
// chat reports the schema as not ready until this succeeds.
func loadCatalogWithRetry(ctx context.Context, logger *slog.Logger, schemaCatalog *catalog.Catalog, cfg config.CatalogConfig) {
	backoff := cfg.RetryBackoff
	if backoff <= 0 {
		backoff = 2 * time.Second
	}
	maxBackoff := cfg.MaxRetryBackoff
	if maxBackoff < backoff {
		maxBackoff = backoff
	}
	for {
		loadCtx, cancel := context.WithTimeout(ctx, cfg.LoadTimeout)
		err := schemaCatalog.Load(loadCtx)
		cancel()
		if err == nil {
			logger.Info("schema snapshot loaded")
			return
		}
		logger.Warn("schema introspection failed, retrying",
			slog.Any("error", err),
			slog.Duration("backoff", backoff),
		)
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff *= 2; backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// loadDescriptions reads the optional operator-maintained JSON file mapping
// "schema" and "schema.table" names to prompt descriptions.
func loadDescriptions(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read descriptions file: %w", err)
	}
	var descriptions map[string]string
	if err := json.Unmarshal(payload, &descriptions); err != nil {
		return nil, fmt.Errorf("parse descriptions file %s: %w", path, err)
	}
	return descriptions, nil
}
