// Package handlers implements the control plane's HTTP surface: the thin
// mutation layer over the Flag Store + Config Cache described in
// spec.md §4.6. Grounded on the teacher's cmd/control-plane/internal/handlers
// package shape (JSON request/response helpers, chi URL params), narrowed
// to the endpoint set spec.md §6 enumerates.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"regexp"

	"github.com/go-chi/chi/v5"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/flagforge/platform/pkg/apierr"
	"github.com/flagforge/platform/pkg/cachekv"
	"github.com/flagforge/platform/pkg/metrics"
	"github.com/flagforge/platform/pkg/store"
)

var flagKeyPattern = regexp.MustCompile(`^[a-z0-9_]+$`)

// cacheInvalidateSubject is the NATS subject other evaluation-service
// replicas subscribe to for cross-replica Config Cache invalidation
// (SPEC_FULL.md §2).
const cacheInvalidateSubject = "ff.cache.invalidate"

// Handlers holds the dependencies every control-plane endpoint needs.
type Handlers struct {
	Store  *store.Store
	Cache  *cachekv.Cache
	Nats   *nats.Conn
	Logger zerolog.Logger
}

func New(s *store.Store, c *cachekv.Cache, nc *nats.Conn, logger zerolog.Logger) *Handlers {
	return &Handlers{Store: s, Cache: c, Nats: nc, Logger: logger.With().Str("component", "handlers").Logger()}
}

// publishInvalidation broadcasts the touched (flag, environment) pair so
// other evaluation-service replicas can drop their L1 cache entry, which
// has no TTL of its own. Best effort: a NATS publish failure is logged, never fails
// the mutation that already committed and invalidated this node's cache.
func (h *Handlers) publishInvalidation(flagKey, env string) {
	if h.Nats == nil {
		return
	}
	payload := []byte(flagKey + ":" + env)
	if err := h.Nats.Publish(cacheInvalidateSubject, payload); err != nil {
		h.Logger.Warn().Err(err).Str("flag", flagKey).Str("environment", env).Msg("nats publish failed")
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	status := apierr.StatusCode(err)
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func actorFromRequest(r *http.Request) string {
	if a := r.Header.Get("X-Actor"); a != "" {
		return a
	}
	return "admin"
}

// createFlagRequest is the POST /api/flags body.
type createFlagRequest struct {
	Key         string `json:"key"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Type        string `json:"type"`
}

// CreateFlag handles POST /api/flags.
func (h *Handlers) CreateFlag(w http.ResponseWriter, r *http.Request) {
	var req createFlagRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apierr.Validation("malformed request body"))
		return
	}
	if !flagKeyPattern.MatchString(req.Key) {
		writeError(w, apierr.Validation("key must match [a-z0-9_]+"))
		return
	}
	switch req.Type {
	case "boolean", "string", "number", "json":
	default:
		writeError(w, apierr.Validation("type must be one of boolean, string, number, json"))
		return
	}

	flag, err := h.Store.CreateFlag(r.Context(), store.CreateFlagRequest{
		Key: req.Key, Name: req.Name, Description: req.Description, Type: req.Type, Actor: actorFromRequest(r),
	})
	if err != nil {
		if err == store.ErrAlreadyExists {
			writeError(w, apierr.Conflict("flag key already exists"))
			return
		}
		writeError(w, apierr.Internal("create flag", err))
		return
	}
	metrics.FlagConfigChangesTotal.WithLabelValues("create").Inc()
	writeJSON(w, http.StatusCreated, flag)
}

// ListFlags handles GET /api/flags.
func (h *Handlers) ListFlags(w http.ResponseWriter, r *http.Request) {
	page, perPage := pageParams(r)
	flags, total, err := h.Store.ListFlags(r.Context(), page, perPage)
	if err != nil {
		writeError(w, apierr.Internal("list flags", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"flags": flags, "total": total, "page": page, "per_page": perPage})
}

func pageParams(r *http.Request) (page, perPage int) {
	page, perPage = 1, 20
	q := r.URL.Query()
	if v := q.Get("page"); v != "" {
		if n, ok := parsePositiveInt(v); ok {
			page = n
		}
	}
	if v := q.Get("per_page"); v != "" {
		if n, ok := parsePositiveInt(v); ok {
			perPage = n
		}
	}
	return
}

func parsePositiveInt(s string) (int, bool) {
	n := 0
	if s == "" {
		return 0, false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
	}
	return n, n > 0
}

// GetFlag handles GET /api/flags/:key.
func (h *Handlers) GetFlag(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	flag, err := h.Store.GetFlag(r.Context(), key)
	if err != nil {
		writeFlagLookupError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, flag)
}

func writeFlagLookupError(w http.ResponseWriter, err error) {
	if err == store.ErrNotFound {
		writeError(w, apierr.NotFound("flag not found"))
		return
	}
	writeError(w, apierr.Internal("flag lookup", err))
}

// DeleteFlag handles DELETE /api/flags/:key.
func (h *Handlers) DeleteFlag(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if err := h.Store.DeleteFlag(r.Context(), key, actorFromRequest(r)); err != nil {
		if err == store.ErrNotFound {
			writeError(w, apierr.NotFound("flag not found"))
			return
		}
		writeError(w, apierr.Internal("delete flag", err))
		return
	}
	metrics.FlagConfigChangesTotal.WithLabelValues("delete").Inc()
	w.WriteHeader(http.StatusNoContent)
}

// updateConfigRequest is the PUT .../environments/:env body.
type updateConfigRequest struct {
	Enabled        *bool        `json:"enabled"`
	DefaultVariant *string      `json:"default_variant"`
	RolloutPercent *int         `json:"rollout_percent"`
	Rules          []ruleInput  `json:"rules"`
}

type ruleInput struct {
	Type           string `json:"type"`
	Priority       int    `json:"priority"`
	VariantKey     string `json:"variant_key"`
	Percentage     int    `json:"percentage"`
	AttributeName  string `json:"attribute_name"`
	Operator       string `json:"operator"`
	AttributeValue string `json:"attribute_value"`
}

// UpdateFlagConfig handles PUT /api/flags/:key/environments/:env.
func (h *Handlers) UpdateFlagConfig(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	env := chi.URLParam(r, "env")

	var req updateConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apierr.Validation("malformed request body"))
		return
	}
	if req.RolloutPercent != nil && (*req.RolloutPercent < 0 || *req.RolloutPercent > 100) {
		writeError(w, apierr.Validation("rollout_percent must be in [0,100]"))
		return
	}

	patch := store.FlagConfigPatch{Enabled: req.Enabled, DefaultVariant: req.DefaultVariant, RolloutPercent: req.RolloutPercent}
	if req.Rules != nil {
		rules := make([]store.Rule, 0, len(req.Rules))
		for _, ri := range req.Rules {
			rules = append(rules, store.Rule{
				Type: ri.Type, Priority: ri.Priority, VariantKey: ri.VariantKey, Percentage: ri.Percentage,
				AttributeName: ri.AttributeName, Operator: ri.Operator, AttributeValue: ri.AttributeValue,
			})
		}
		patch.Rules = rules
	}

	cfg, err := h.Store.UpdateFlagConfig(r.Context(), key, env, patch, actorFromRequest(r))
	if err != nil {
		if err == store.ErrNotFound {
			writeError(w, apierr.NotFound("flag or environment not found"))
			return
		}
		writeError(w, apierr.Internal("update flag config", err))
		return
	}

	if err := h.invalidateAndRespond(r.Context(), w, key, []string{env}, cfg); err != nil {
		return
	}
	metrics.FlagConfigChangesTotal.WithLabelValues("update_config").Inc()
}

// toggleRequest is the PATCH .../toggle body.
type toggleRequest struct {
	Enabled bool `json:"enabled"`
}

// ToggleFlag handles PATCH /api/flags/:key/environments/:env/toggle.
func (h *Handlers) ToggleFlag(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	env := chi.URLParam(r, "env")

	var req toggleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apierr.Validation("malformed request body"))
		return
	}

	cfg, err := h.Store.ToggleFlag(r.Context(), key, env, req.Enabled, actorFromRequest(r))
	if err != nil {
		if err == store.ErrNotFound {
			writeError(w, apierr.NotFound("flag or environment not found"))
			return
		}
		writeError(w, apierr.Internal("toggle flag", err))
		return
	}

	if err := h.invalidateAndRespond(r.Context(), w, key, []string{env}, cfg); err != nil {
		return
	}
	metrics.FlagConfigChangesTotal.WithLabelValues("toggle").Inc()
}

// killSwitchRequest is the POST .../kill-switch body.
type killSwitchRequest struct {
	Reason string `json:"reason"`
}

// KillSwitch handles POST /api/flags/:key/kill-switch. Disables the flag
// in every environment atomically and invalidates every cached entry
// before returning (spec.md §4.4, §4.6).
func (h *Handlers) KillSwitch(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	var req killSwitchRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	envs, err := h.Store.KillSwitch(r.Context(), key, req.Reason, actorFromRequest(r))
	if err != nil {
		if err == store.ErrNotFound {
			writeError(w, apierr.NotFound("flag not found"))
			return
		}
		writeError(w, apierr.Internal("kill switch", err))
		return
	}

	if err := h.Cache.InvalidateFlag(r.Context(), key); err != nil {
		// Fail-closed: invalidation failure must not be claimed as success
		// (spec.md §4.4, §7 UpstreamUnavailable on mutation).
		h.Logger.Error().Err(err).Str("flag", key).Msg("kill switch cache invalidation failed")
		writeError(w, apierr.UpstreamUnavailable("cache invalidation failed", err))
		return
	}
	for _, env := range envs {
		h.publishInvalidation(key, env)
	}

	metrics.FlagConfigChangesTotal.WithLabelValues("kill_switch").Inc()
	metrics.KillSwitchActivationsTotal.Inc()
	writeJSON(w, http.StatusOK, map[string]any{"flag_key": key, "disabled_environments": envs})
}

// invalidateAndRespond invalidates cache for every touched environment,
// strictly after the store commit and strictly before the response is
// written, then writes the 200 response. A failed invalidation is a
// mutation failure (fail-closed, spec.md §4.4/§7): the response becomes a
// 5xx and the caller must not believe the mutation succeeded cleanly.
func (h *Handlers) invalidateAndRespond(ctx context.Context, w http.ResponseWriter, flagKey string, envs []string, body any) error {
	for _, env := range envs {
		if err := h.Cache.Invalidate(ctx, flagKey, env); err != nil {
			h.Logger.Error().Err(err).Str("flag", flagKey).Str("environment", env).Msg("cache invalidation failed")
			writeError(w, apierr.UpstreamUnavailable("cache invalidation failed", err))
			return err
		}
		h.publishInvalidation(flagKey, env)
	}
	writeJSON(w, http.StatusOK, body)
	return nil
}

// SystemOverview handles GET /api/system/overview.
func (h *Handlers) SystemOverview(w http.ResponseWriter, r *http.Request) {
	_, total, err := h.Store.ListFlags(r.Context(), 1, 1)
	if err != nil {
		writeError(w, apierr.Internal("system overview", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"total_flags": total, "cache": h.Cache.Stats()})
}

// CacheStatus handles GET /api/cache/status.
func (h *Handlers) CacheStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Cache.Stats())
}

// InvalidateFlagCache handles DELETE /api/cache/flags/:key.
func (h *Handlers) InvalidateFlagCache(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if err := h.Cache.InvalidateFlag(r.Context(), key); err != nil {
		writeError(w, apierr.UpstreamUnavailable("cache invalidation failed", err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Health handles GET /health.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "service": "control-plane"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "healthy", "service": "control-plane", "timestamp": nowRFC3339()})
}

// TestDB handles GET /test-db, exempt from auth per spec.md §6.
func (h *Handlers) TestDB(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Ping(r.Context()); err != nil {
		writeError(w, apierr.UpstreamUnavailable("database unreachable", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
