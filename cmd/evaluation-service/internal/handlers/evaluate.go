// Package handlers exposes the Evaluation Service's HTTP surface.
// Grounded on the teacher's cmd/edge-evaluator/internal/handlers/evaluation.go
// and cmd/control-plane/internal/handlers/flag.go's response-writing
// conventions (writeJSON/writeError).
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/flagforge/platform/cmd/evaluation-service/internal/eval"
	"github.com/flagforge/platform/pkg/apierr"
	"github.com/flagforge/platform/pkg/cachekv"
	"github.com/flagforge/platform/pkg/store"
)

// Handlers bundles the Evaluation Service's dependencies.
type Handlers struct {
	Eval   *eval.Service
	Store  *store.Store
	Cache  *cachekv.Cache
	Logger zerolog.Logger
}

func New(e *eval.Service, st *store.Store, c *cachekv.Cache, logger zerolog.Logger) *Handlers {
	return &Handlers{Eval: e, Store: st, Cache: c, Logger: logger.With().Str("component", "handlers").Logger()}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, apierr.StatusCode(err), map[string]string{"error": err.Error()})
}

// Evaluate handles POST /evaluate.
func (h *Handlers) Evaluate(w http.ResponseWriter, r *http.Request) {
	var req eval.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apierr.Validation("invalid request body"))
		return
	}
	if req.FlagKey == "" {
		writeError(w, apierr.Validation("flag_key is required"))
		return
	}

	result := h.Eval.Evaluate(r.Context(), req)
	writeJSON(w, http.StatusOK, result)
}

type batchRequest struct {
	Requests []eval.Request `json:"requests"`
}

type batchResponse struct {
	Results []eval.Result `json:"results"`
}

// EvaluateBatch handles POST /evaluate/batch. The batch is capped at
// eval.MaxBatchSize items; an oversized batch is rejected up front
// rather than truncated, per spec.md §4.5.
func (h *Handlers) EvaluateBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apierr.Validation("invalid request body"))
		return
	}
	if len(req.Requests) == 0 {
		writeError(w, apierr.Validation("requests must not be empty"))
		return
	}
	if len(req.Requests) > eval.MaxBatchSize {
		writeError(w, apierr.Validation("batch exceeds maximum of 50 evaluations"))
		return
	}

	results := h.Eval.EvaluateBatch(r.Context(), req.Requests)
	writeJSON(w, http.StatusOK, batchResponse{Results: results})
}

// Health handles GET /health.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "service": "evaluation-service"})
}

// Stats handles GET /stats.
func (h *Handlers) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Eval.Stats())
}

// CacheEntries handles GET /cache.
func (h *Handlers) CacheEntries(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": h.Cache.ListCached(),
		"stats":   h.Cache.Stats(),
	})
}

// InvalidateFlagCache handles DELETE /cache/{flag_key}.
func (h *Handlers) InvalidateFlagCache(w http.ResponseWriter, r *http.Request) {
	flagKey := chi.URLParam(r, "flag_key")
	if err := h.Cache.InvalidateFlag(r.Context(), flagKey); err != nil {
		writeError(w, apierr.UpstreamUnavailable("cache invalidation failed", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"flag_key": flagKey, "status": "invalidated"})
}

// SDKConfig handles GET /sdk/config?environment=production. Per the
// resolved Open Question on SDK bootstrap, it returns the full set of
// flag snapshots for the requested environment so a polling SDK can
// rebuild its local cache in one round trip, and supports conditional
// GETs via ETag/If-None-Match.
func (h *Handlers) SDKConfig(w http.ResponseWriter, r *http.Request) {
	environment := r.URL.Query().Get("environment")
	if environment == "" {
		environment = eval.DefaultEnvironment
	}

	snapshots, etag, err := h.Store.SDKSnapshot(r.Context(), environment)
	if err != nil {
		writeError(w, apierr.Internal("failed to build sdk snapshot", err))
		return
	}

	w.Header().Set("ETag", etag)
	if match := r.Header.Get("If-None-Match"); match != "" && match == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"environment": environment,
		"etag":        etag,
		"flags":       snapshots,
	})
}
