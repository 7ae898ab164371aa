package featureflags

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/flagforge/platform/pkg/ruleengine"
)

// evaluator runs the spec.md §4.7 evaluation order: local snapshot first,
// remote Evaluation Service on a miss, caller default on any failure.
type evaluator struct {
	snapshots   *snapshotStore
	httpClient  *http.Client
	baseURL     string
	apiKey      string
	environment string
	timeout     time.Duration
	localEval   bool
}

func (e *evaluator) evaluate(ctx context.Context, flagKey string, userCtx UserContext, defaultValue any) (EvaluationResult, error) {
	now := time.Now()

	if e.localEval {
		if snap, ok := e.snapshots.get(flagKey); ok {
			return e.evaluateLocal(snap, userCtx, defaultValue, now), nil
		}
	}

	result, err := e.evaluateRemote(ctx, flagKey, userCtx, defaultValue)
	if err != nil {
		return EvaluationResult{
			FlagKey:     flagKey,
			Value:       defaultValue,
			Reason:      ReasonEvaluationError,
			DefaultUsed: true,
			EvaluatedAt: now,
		}, err
	}
	return result, nil
}

// evaluateLocal runs the same pure rule engine the server runs, over the
// locally-held snapshot (spec.md §4.7 step 1).
func (e *evaluator) evaluateLocal(snap Snapshot, userCtx UserContext, defaultValue any, now time.Time) EvaluationResult {
	cfg := ruleengine.FlagConfig{
		FlagKey:        snap.Flag.Key,
		FlagType:       snap.Flag.Type,
		Enabled:        snap.Config.Enabled,
		DefaultVariant: snap.Config.DefaultVariant,
		RolloutPercent: snap.Config.RolloutPercent,
	}
	variants := make([]ruleengine.Variant, len(snap.Variants))
	for i, v := range snap.Variants {
		variants[i] = ruleengine.Variant{Key: v.Key, Value: v.Value, Weight: v.Weight}
	}
	rules := make([]ruleengine.Rule, len(snap.Rules))
	for i, r := range snap.Rules {
		rules[i] = ruleengine.Rule{
			Type: r.Type, Priority: r.Priority, VariantKey: r.VariantKey, Percentage: r.Percentage,
			AttributeName: r.AttributeName, Operator: r.Operator, AttributeValue: r.AttributeValue,
		}
	}

	decision := ruleengine.Evaluate(cfg, variants, rules, ruleengine.UserContext{
		UserID: userCtx.UserID, Attributes: userCtx.Attributes, CustomAttributes: userCtx.CustomAttributes,
	}, e.environment)

	value := translateLocalValue(snap, decision, defaultValue)
	return EvaluationResult{
		FlagKey:     snap.Flag.Key,
		Value:       value,
		VariantKey:  decision.Variant,
		Reason:      decision.Reason,
		DefaultUsed: !decision.Enabled && decision.Variant == "",
		EvaluatedAt: now,
	}
}

// translateLocalValue mirrors cmd/evaluation-service/internal/eval's
// translateValue so a locally-evaluated flag returns the same typed
// value the server would have returned for the same decision.
func translateLocalValue(snap Snapshot, decision ruleengine.Decision, fallback any) any {
	if snap.Flag.Type == "boolean" {
		if !decision.Enabled {
			return fallback
		}
		return decision.Variant == "true"
	}

	variant, ok := snap.findVariant(decision.Variant)
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
		return variant.Value
	default:
		return variant.Value
	}
}

// evaluateRemote calls POST /evaluate (spec.md §4.7 step 2/§6).
func (e *evaluator) evaluateRemote(ctx context.Context, flagKey string, userCtx UserContext, defaultValue any) (EvaluationResult, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	body, err := json.Marshal(evaluateRequest{
		FlagKey: flagKey,
		UserContext: userContext{
			UserID: userCtx.UserID, Attributes: userCtx.Attributes, Custom: userCtx.CustomAttributes,
		},
		Environment:  e.environment,
		DefaultValue: defaultValue,
	})
	if err != nil {
		return EvaluationResult{}, fmt.Errorf("featureflags: encode evaluate request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/evaluate", bytes.NewReader(body))
	if err != nil {
		return EvaluationResult{}, fmt.Errorf("featureflags: build evaluate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("X-API-Key", e.apiKey)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return EvaluationResult{}, fmt.Errorf("featureflags: evaluate request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return EvaluationResult{}, fmt.Errorf("featureflags: evaluate returned status %d", resp.StatusCode)
	}

	var wire evaluateResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return EvaluationResult{}, fmt.Errorf("featureflags: decode evaluate response: %w", err)
	}

	evaluatedAt, err := time.Parse(time.RFC3339, wire.Timestamp)
	if err != nil {
		evaluatedAt = time.Now()
	}
	return EvaluationResult{
		FlagKey: wire.FlagKey, Value: wire.Value, VariantKey: wire.VariantKey,
		Reason: wire.Reason, EvaluatedAt: evaluatedAt,
	}, nil
}
