package store

import "github.com/flagforge/platform/pkg/ruleengine"

// ToRuleEngineInputs translates a persisted Snapshot into the value types
// pkg/ruleengine.Evaluate consumes. Kept here, rather than in ruleengine,
// so the pure evaluation package has no dependency on the storage layer.
func (s Snapshot) ToRuleEngineInputs() (ruleengine.FlagConfig, []ruleengine.Variant, []ruleengine.Rule) {
	cfg := ruleengine.FlagConfig{
		FlagKey:        s.Flag.Key,
		FlagType:       s.Flag.Type,
		Enabled:        s.Config.Enabled,
		DefaultVariant: s.Config.DefaultVariant,
		RolloutPercent: s.Config.RolloutPercent,
	}

	variants := make([]ruleengine.Variant, 0, len(s.Variants))
	for _, v := range s.Variants {
		variants = append(variants, ruleengine.Variant{Key: v.Key, Value: v.Value, Weight: v.Weight})
	}

	rules := make([]ruleengine.Rule, 0, len(s.Rules))
	for _, r := range s.Rules {
		rules = append(rules, ruleengine.Rule{
			ID:             r.ID.String(),
			Type:           r.Type,
			Priority:       r.Priority,
			VariantKey:     r.VariantKey,
			Percentage:     r.Percentage,
			AttributeName:  r.AttributeName,
			Operator:       r.Operator,
			AttributeValue: r.AttributeValue,
		})
	}

	return cfg, variants, rules
}

// FindVariant looks up a variant by key; used to translate a Decision into
// a typed value per flag.type.
func (s Snapshot) FindVariant(key string) (Variant, bool) {
	for _, v := range s.Variants {
		if v.Key == key {
			return v, true
		}
	}
	return Variant{}, false
}
