package ruleengine

import (
	"sort"
	"strconv"
	"strings"

	"github.com/flagforge/platform/pkg/fingerprint"
)

// ruleEvaluator evaluates one rule type, returning (matched, reason).
// Dispatched through a lookup table so new rule types (segment) can be
// registered without touching Evaluate's hot path.
type ruleEvaluator func(r Rule, ctx UserContext, flagKey string) (bool, string)

var dispatch = map[string]ruleEvaluator{
	RuleTypePercentage: evaluatePercentageRule,
	RuleTypeAttribute:  evaluateAttributeRule,
	RuleTypeUserID:     evaluateUserIDRule,
}

// IsRecognizedRuleType reports whether Evaluate has a dispatcher for the
// given rule type. Callers use this to log unrecognized types (spec.md
// §4.2's segment/unknown-rule-type case) without the engine itself taking
// a logging dependency.
func IsRecognizedRuleType(ruleType string) bool {
	_, ok := dispatch[ruleType]
	return ok
}

// Evaluate is the platform's single Rule Engine entry point. environment
// is accepted for logging/metrics correlation only; it never changes the
// outcome.
func Evaluate(cfg FlagConfig, variants []Variant, rules []Rule, ctx UserContext, environment string) Decision {
	if !cfg.Enabled {
		return Decision{Enabled: false, Variant: cfg.DefaultVariant, Reason: ReasonFlagDisabled}
	}

	sorted := make([]Rule, len(rules))
	copy(sorted, rules)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Priority < sorted[j].Priority })

	for _, rule := range sorted {
		eval, ok := dispatch[rule.Type]
		if !ok {
			// segment (or any future unrecognized type): no match, not a
			// terminal failure — evaluation continues to the next rule
			// and, eventually, the config-level rollout.
			continue
		}
		matched, reason := eval(rule, ctx, cfg.FlagKey)
		if matched {
			variant := rule.VariantKey
			if variant == "" {
				variant = cfg.DefaultVariant
			}
			return Decision{Enabled: true, Variant: variant, Reason: reason}
		}
	}

	return evaluateRollout(cfg, variants, ctx)
}

func evaluateRollout(cfg FlagConfig, variants []Variant, ctx UserContext) Decision {
	pct := cfg.RolloutPercent
	switch {
	case pct <= 0:
		return Decision{Enabled: false, Variant: cfg.DefaultVariant, Reason: ReasonZeroRollout}
	case pct >= 100:
		return Decision{Enabled: true, Variant: pickVariant(variants, ctx, cfg.FlagKey), Reason: ReasonFullRollout}
	default:
		bucket := fingerprint.Bucket(ctx.bucketingID(), cfg.FlagKey)
		if fingerprint.InPercentage(bucket, pct) {
			return Decision{Enabled: true, Variant: pickVariant(variants, ctx, cfg.FlagKey), Reason: ReasonRolloutMatch}
		}
		return Decision{Enabled: false, Variant: cfg.DefaultVariant, Reason: ReasonRolloutNoMatch}
	}
}

// pickVariant implements the spec's recommended sticky extension: the
// weighted draw is derived from bucket(user_id, flag_id+":variant")
// rather than a fresh random per call, so repeated evaluations for the
// same user land on the same variant within a rollout.
func pickVariant(variants []Variant, ctx UserContext, flagKey string) string {
	if len(variants) == 0 {
		return "true"
	}
	total := 0
	for _, v := range variants {
		total += v.Weight
	}
	if total <= 0 {
		return lexicographicallyFirst(variants)
	}

	bucket := fingerprint.Bucket(ctx.bucketingID(), flagKey+":variant")
	draw := (int(bucket) * total) / 100
	cumulative := 0
	for _, v := range variants {
		cumulative += v.Weight
		if draw < cumulative {
			return v.Key
		}
	}
	return variants[len(variants)-1].Key
}

func lexicographicallyFirst(variants []Variant) string {
	first := variants[0].Key
	for _, v := range variants[1:] {
		if v.Key < first {
			first = v.Key
		}
	}
	return first
}

func evaluatePercentageRule(r Rule, ctx UserContext, flagKey string) (bool, string) {
	if r.Percentage <= 0 {
		return false, ReasonZeroPercentage
	}
	bucket := fingerprint.Bucket(ctx.bucketingID(), r.ID)
	if fingerprint.InPercentage(bucket, r.Percentage) {
		return true, ReasonPercentageMatch
	}
	return false, ReasonPercentageNoMatch
}

func evaluateAttributeRule(r Rule, ctx UserContext, _ string) (bool, string) {
	if r.AttributeName == "" || r.Operator == "" || r.AttributeValue == "" {
		return false, ReasonInvalidAttrRule
	}
	attrs := ctx.mergedAttributes()
	actual, found := attrs[r.AttributeName]
	if !found {
		return false, ReasonAttributeNotFound
	}

	left := strings.ToLower(actual)
	right := strings.ToLower(r.AttributeValue)

	switch r.Operator {
	case "equals":
		return left == right, reasonFor(left == right)
	case "not_equals":
		return left != right, reasonFor(left != right)
	case "in":
		return reasonFor2(inSet(left, right))
	case "not_in":
		matched := !inSet(left, right)
		return matched, reasonFor(matched)
	case "contains":
		return reasonFor2(strings.Contains(left, right))
	case "starts_with":
		return reasonFor2(strings.HasPrefix(left, right))
	case "ends_with":
		return reasonFor2(strings.HasSuffix(left, right))
	case "greater_than":
		return compareNumeric(left, right, func(a, b float64) bool { return a > b })
	case "less_than":
		return compareNumeric(left, right, func(a, b float64) bool { return a < b })
	default:
		return false, ReasonAttributeNoMatch
	}
}

func reasonFor(matched bool) string {
	if matched {
		return ReasonAttributeMatch
	}
	return ReasonAttributeNoMatch
}

func reasonFor2(matched bool) (bool, string) {
	return matched, reasonFor(matched)
}

func inSet(value, commaSeparated string) bool {
	for _, tok := range strings.Split(commaSeparated, ",") {
		if strings.TrimSpace(tok) == value {
			return true
		}
	}
	return false
}

func compareNumeric(left, right string, cmp func(a, b float64) bool) (bool, string) {
	a, errA := strconv.ParseFloat(left, 64)
	b, errB := strconv.ParseFloat(right, 64)
	if errA != nil || errB != nil {
		return false, ReasonAttributeNoMatch
	}
	return reasonFor2(cmp(a, b))
}

func evaluateUserIDRule(r Rule, ctx UserContext, _ string) (bool, string) {
	if ctx.UserID == "" || r.AttributeValue == "" {
		return false, ReasonInvalidUserIDRule
	}
	for _, tok := range strings.Split(r.AttributeValue, ",") {
		if strings.TrimSpace(tok) == ctx.UserID {
			return true, ReasonUserIDMatch
		}
	}
	return false, ReasonUserIDNoMatch
}
