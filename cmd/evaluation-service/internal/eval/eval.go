// Package eval implements the Evaluation Service's core request-response
// loop: cache-miss -> store -> cache-fill -> rule engine (spec.md §4.5).
// Grounded on the teacher's cmd/edge-evaluator/internal/services/evaluation.go,
// adapted to the per-(flag, environment) Config Cache and the exact
// response shape and fault-degradation contract spec.md names.
package eval

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/flagforge/platform/pkg/analytics"
	"github.com/flagforge/platform/pkg/cachekv"
	"github.com/flagforge/platform/pkg/metrics"
	"github.com/flagforge/platform/pkg/ruleengine"
	"github.com/flagforge/platform/pkg/store"
)

const (
	DefaultEnvironment = "production"
	MaxBatchSize       = 50
	ServiceDeadline    = 5 * time.Second
)

// UserContext mirrors the wire shape of the evaluate request body's
// user_context field.
type UserContext struct {
	UserID     string            `json:"user_id"`
	Attributes map[string]string `json:"attributes"`
	Custom     map[string]string `json:"custom_attributes"`
}

// Request is one evaluation request.
type Request struct {
	FlagKey      string      `json:"flag_key"`
	UserContext  UserContext `json:"user_context"`
	Environment  string      `json:"environment"`
	DefaultValue any         `json:"default_value"`
}

// Result is the response shape spec.md §4.5/§6 names.
type Result struct {
	FlagKey    string `json:"flag_key"`
	Value      any    `json:"value"`
	VariantKey string `json:"variant_key"`
	Reason     string `json:"reason"`
	Timestamp  string `json:"timestamp"`
}

// Service orchestrates cache-miss -> store -> cache-fill -> rule engine.
type Service struct {
	store     *store.Store
	cache     *cachekv.Cache
	analytics *analytics.Recorder
	logger    zerolog.Logger
}

func New(s *store.Store, c *cachekv.Cache, rec *analytics.Recorder, logger zerolog.Logger) *Service {
	return &Service{store: s, cache: c, analytics: rec, logger: logger.With().Str("component", "eval_service").Logger()}
}

// Evaluate runs the full order of operations from spec.md §4.5. It never
// returns an error to a well-formed request — every upstream fault
// degrades to req.DefaultValue with a diagnostic reason.
func (s *Service) Evaluate(ctx context.Context, req Request) Result {
	ctx, cancel := context.WithTimeout(ctx, ServiceDeadline)
	defer cancel()

	start := time.Now()
	env := req.Environment
	if env == "" {
		env = DefaultEnvironment
	}

	result := Result{FlagKey: req.FlagKey, Timestamp: time.Now().Format(time.RFC3339)}

	// Cache and store reads run under a shorter deadline derived from the
	// request deadline.
	innerCtx, innerCancel := context.WithTimeout(ctx, time.Second)
	defer innerCancel()

	snap, ok := s.cache.Get(innerCtx, req.FlagKey, env)
	if ok {
		metrics.CacheHitsTotal.Inc()
	} else {
		metrics.CacheMissesTotal.Inc()
		fetched, err := s.store.GetFlagConfig(innerCtx, req.FlagKey, env)
		if err != nil {
			if err == store.ErrNotFound {
				return s.finish(result, req.DefaultValue, "", ruleengine.ReasonFlagNotFound, env, start)
			}
			s.logger.Warn().Err(err).Str("flag", req.FlagKey).Msg("store read failed")
			return s.finish(result, req.DefaultValue, "", ruleengine.ReasonEvaluationError, env, start)
		}
		snap = fetched
		// Fire-and-forget fill: a failed write here is logged inside
		// cache.Set and must never fail this evaluation (spec.md §4.5 step 4).
		go s.cache.Set(context.Background(), req.FlagKey, env, snap)
	}

	if snap == nil || snap.Flag.Key == "" {
		return s.finish(result, req.DefaultValue, "", ruleengine.ReasonInvalidContext, env, start)
	}

	ctx_user := ruleengine.UserContext{
		UserID:           req.UserContext.UserID,
		Attributes:       req.UserContext.Attributes,
		CustomAttributes: req.UserContext.Custom,
	}

	cfg, variants, rules := snap.ToRuleEngineInputs()
	for _, r := range rules {
		if !ruleengine.IsRecognizedRuleType(r.Type) {
			s.logger.Debug().Str("flag", req.FlagKey).Str("rule_type", r.Type).Msg("unknown_rule_type, skipping rule")
		}
	}
	decision := ruleengine.Evaluate(cfg, variants, rules, ctx_user, env)

	value := translateValue(snap, decision, req.DefaultValue)
	return s.finish(result, value, decision.Variant, decision.Reason, env, start)
}

func (s *Service) finish(result Result, value any, variant, reason, environment string, start time.Time) Result {
	result.Value = value
	result.VariantKey = variant
	result.Reason = reason
	outcome := "no_match"
	if reason != "" && (reason == ruleengine.ReasonAttributeMatch || reason == ruleengine.ReasonUserIDMatch ||
		reason == ruleengine.ReasonPercentageMatch || reason == ruleengine.ReasonRolloutMatch || reason == ruleengine.ReasonFullRollout) {
		outcome = "match"
	}
	metrics.EvaluationsTotal.WithLabelValues(result.FlagKey, environment, outcome, reason).Inc()
	metrics.EvaluationDuration.WithLabelValues(result.FlagKey).Observe(time.Since(start).Seconds())
	if s.analytics != nil {
		s.analytics.Record(analytics.Event{
			ID: uuid.New(), FlagKey: result.FlagKey, Environment: environment,
			VariantKey: result.VariantKey, Reason: reason, EvaluatedAt: time.Now(),
		})
	}
	return result
}

// translateValue converts a Decision into the typed value per flag.type
// (spec.md §4.5 step 6).
func translateValue(snap *store.Snapshot, decision ruleengine.Decision, fallback any) any {
	if snap.Flag.Type == "boolean" {
		if !decision.Enabled {
			return fallback
		}
		return decision.Variant == "true"
	}

	variant, ok := snap.FindVariant(decision.Variant)
	if !ok {
		return fallback
	}

	switch snap.Flag.Type {
	case "number":
		if f, err := strconv.ParseFloat(variant.Value, 64); err == nil {
			return f
		}
		return fallback
	case "json":
		var v any
		if err := json.Unmarshal([]byte(variant.Value), &v); err == nil {
			return v
		}
		return variant.Value // unparseable JSON falls back to the raw string
	default: // string
		return variant.Value
	}
}

// EvaluateBatch runs every request independently; callers validate the
// MaxBatchSize bound before calling this.
func (s *Service) EvaluateBatch(ctx context.Context, reqs []Request) []Result {
	results := make([]Result, len(reqs))
	for i, req := range reqs {
		results[i] = s.Evaluate(ctx, req)
	}
	return results
}

// Stats reports cache size for GET /stats.
func (s *Service) Stats() cachekv.Stats {
	return s.cache.Stats()
}
