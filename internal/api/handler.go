package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/datachat/datachat/internal/catalog"
	"github.com/datachat/datachat/internal/config"
	"github.com/datachat/datachat/internal/executor"
	"github.com/datachat/datachat/internal/observability"
	"github.com/datachat/datachat/internal/pipeline"
)

type ReadinessCheck func(ctx context.Context) error

// ChatService is the pipeline surface the HTTP layer needs.
type ChatService interface {
	Ask(ctx context.Context, req pipeline.AskRequest) (pipeline.AskResponse, error)
	Sample(ctx context.Context, schema, table string, limit int) (executor.Result, string, error)
}

// SchemaSource exposes the loaded schema snapshot.
type SchemaSource interface {
	Describe() catalog.Metadata
	Ready() bool
}

type Dependencies struct {
	Logger            *slog.Logger
	Chat              ChatService
	Schema            SchemaSource
	WarehouseCheck    ReadinessCheck
	CacheCheck        ReadinessCheck
	DependencyTimeout time.Duration
}

func NewHandler(cfg config.Config, deps Dependencies) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "service": cfg.Service.Name})
	})
	mux.HandleFunc("GET /api/v1/health/live", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "alive"})
	})
	mux.HandleFunc("GET /api/v1/health/ready", func(w http.ResponseWriter, r *http.Request) {
		handleReady(deps, w, r)
	})
	mux.HandleFunc("GET /api/v1/health/detailed", func(w http.ResponseWriter, r *http.Request) {
		handleDetailedHealth(deps, w, r)
	})

	mux.Handle("GET /api/v1/metrics", promhttp.Handler())

	mux.HandleFunc("POST /api/v1/chat/query", func(w http.ResponseWriter, r *http.Request) {
		handleChatQuery(deps, w, r)
	})
	mux.HandleFunc("GET /api/v1/chat/schema", func(w http.ResponseWriter, r *http.Request) {
		handleChatSchema(deps, w, r)
	})
	mux.HandleFunc("GET /api/v1/chat/sample/{schema}/{table}", func(w http.ResponseWriter, r *http.Request) {
		handleTableSample(deps, w, r)
	})

	mux.HandleFunc("POST /api/v1/export/csv", func(w http.ResponseWriter, r *http.Request) {
		handleExportCSV(deps, w, r)
	})
	mux.HandleFunc("POST /api/v1/export/json", func(w http.ResponseWriter, r *http.Request) {
		handleExportJSON(deps, w, r)
	})
	mux.HandleFunc("GET /api/v1/export/formats", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"formats": []string{"csv", "json"}})
	})

	middlewares := []func(http.Handler) http.Handler{
		observability.TraceMiddleware,
		observability.MetricsMiddleware,
	}
	if deps.Logger != nil {
		middlewares = append(middlewares, observability.LoggingMiddleware(deps.Logger))
	}
	return chain(mux, middlewares...)
}

func chain(base http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	wrapped := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		wrapped = middlewares[i](wrapped)
	}
	return wrapped
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, code, message string, retryable bool, extra map[string]any) {
	writeJSON(w, status, map[string]any{
		"error_code": code,
		"message":    message,
		"retryable":  retryable,
		"context":    extra,
		"trace_id":   observability.TraceIDFromContext(ctx),
	})
}
