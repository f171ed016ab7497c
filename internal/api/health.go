package api

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"
)

func handleReady(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Schema == nil || !deps.Schema.Ready() {
		writeError(r.Context(), w, http.StatusServiceUnavailable, "NOT_READY", "schema metadata is not loaded", true, nil)
		return
	}
	if deps.WarehouseCheck != nil {
		ctx, cancel := context.WithTimeout(r.Context(), dependencyTimeout(deps))
		defer cancel()
		if err := deps.WarehouseCheck(ctx); err != nil {
			writeError(r.Context(), w, http.StatusServiceUnavailable, "NOT_READY", err.Error(), true, nil)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

// handleDetailedHealth probes every dependency in parallel and reports each
// one individually. A failing optional dependency degrades the report but
// the endpoint itself still answers.
func handleDetailedHealth(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), dependencyTimeout(deps))
	defer cancel()

	checks := map[string]ReadinessCheck{
		"schema": func(context.Context) error {
			if deps.Schema == nil || !deps.Schema.Ready() {
				return errors.New("schema metadata is not loaded")
			}
			return nil
		},
	}
	if deps.WarehouseCheck != nil {
		checks["warehouse"] = deps.WarehouseCheck
	}
	if deps.CacheCheck != nil {
		checks["cache"] = deps.CacheCheck
	}

	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	results := make([]map[string]any, len(names))
	var group errgroup.Group
	for i, name := range names {
		check := checks[name]
		entry := map[string]any{"name": name}
		results[i] = entry
		group.Go(func() error {
			started := time.Now()
			if err := check(ctx); err != nil {
				entry["status"] = "error"
				entry["error"] = err.Error()
			} else {
				entry["status"] = "ok"
			}
			entry["elapsed_ms"] = time.Since(started).Milliseconds()
			return nil
		})
	}
	_ = group.Wait()

	status, httpStatus := "ok", http.StatusOK
	for _, entry := range results {
		if entry["status"] != "ok" {
			status, httpStatus = "degraded", http.StatusServiceUnavailable
			break
		}
	}
	writeJSON(w, httpStatus, map[string]any{"status": status, "checks": results})
}

func dependencyTimeout(deps Dependencies) time.Duration {
	if deps.DependencyTimeout > 0 {
		return deps.DependencyTimeout
	}
	return 2 * time.Second
}
