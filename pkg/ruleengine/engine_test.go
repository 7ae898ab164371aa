package ruleengine

import "testing"

func boolVariants() []Variant {
	return []Variant{
		{Key: "true", Value: "true", Weight: 50},
		{Key: "false", Value: "false", Weight: 50},
	}
}

func TestDisabledDominates(t *testing.T) {
	cfg := FlagConfig{FlagKey: "f", Enabled: false, DefaultVariant: "false", RolloutPercent: 100}
	rules := []Rule{{ID: "r1", Type: RuleTypeUserID, Priority: 1, AttributeValue: "u1", VariantKey: "true"}}
	d := Evaluate(cfg, boolVariants(), rules, UserContext{UserID: "u1"}, "production")
	if d.Enabled || d.Reason != ReasonFlagDisabled {
		t.Fatalf("expected flag_disabled, got %+v", d)
	}
}

func TestZeroRollout(t *testing.T) {
	cfg := FlagConfig{FlagKey: "f", Enabled: true, DefaultVariant: "false", RolloutPercent: 0}
	d := Evaluate(cfg, boolVariants(), nil, UserContext{UserID: "anything"}, "production")
	if d.Enabled || d.Reason != ReasonZeroRollout {
		t.Fatalf("expected zero_rollout, got %+v", d)
	}
}

func TestFullRollout(t *testing.T) {
	cfg := FlagConfig{FlagKey: "f", Enabled: true, DefaultVariant: "false", RolloutPercent: 100}
	d := Evaluate(cfg, boolVariants(), nil, UserContext{UserID: "u1"}, "production")
	if !d.Enabled || d.Reason != ReasonFullRollout {
		t.Fatalf("expected full_rollout, got %+v", d)
	}
}

func TestAttributeTargeting(t *testing.T) {
	cfg := FlagConfig{FlagKey: "flag", Enabled: true, DefaultVariant: "false", RolloutPercent: 0}
	rules := []Rule{{
		ID: "r1", Type: RuleTypeAttribute, Priority: 10,
		AttributeName: "country", Operator: "equals", AttributeValue: "US", VariantKey: "true",
	}}
	d := Evaluate(cfg, boolVariants(), rules, UserContext{UserID: "u2", Attributes: map[string]string{"country": "US"}}, "production")
	if !d.Enabled || d.Reason != ReasonAttributeMatch || d.Variant != "true" {
		t.Fatalf("expected attribute_match/true, got %+v", d)
	}

	d2 := Evaluate(cfg, boolVariants(), rules, UserContext{UserID: "u2", Attributes: map[string]string{"country": "DE"}}, "production")
	if d2.Enabled || d2.Reason != ReasonZeroRollout {
		t.Fatalf("expected fallthrough to zero_rollout, got %+v", d2)
	}
}

func TestRulePriorityFirstMatchWins(t *testing.T) {
	cfg := FlagConfig{FlagKey: "flag", Enabled: true, DefaultVariant: "false", RolloutPercent: 0}
	rules := []Rule{
		{ID: "low-priority-first", Type: RuleTypeUserID, Priority: 1, AttributeValue: "u1", VariantKey: "true"},
		{ID: "also-matches", Type: RuleTypeUserID, Priority: 2, AttributeValue: "u1", VariantKey: "false"},
	}
	d := Evaluate(cfg, boolVariants(), rules, UserContext{UserID: "u1"}, "production")
	if d.Variant != "true" || d.Reason != ReasonUserIDMatch {
		t.Fatalf("expected first rule by priority to win, got %+v", d)
	}
}

func TestUnknownRuleTypeFallsThroughToRollout(t *testing.T) {
	cfg := FlagConfig{FlagKey: "flag", Enabled: true, DefaultVariant: "false", RolloutPercent: 100}
	rules := []Rule{{ID: "r1", Type: RuleTypeSegment, Priority: 1}}
	d := Evaluate(cfg, boolVariants(), rules, UserContext{UserID: "u1"}, "production")
	if !d.Enabled || d.Reason != ReasonFullRollout {
		t.Fatalf("expected a segment rule to be skipped and fall through to full_rollout, got %+v", d)
	}
}

func TestAttributeOperators(t *testing.T) {
	cases := []struct {
		name     string
		op       string
		ruleVal  string
		attrVal  string
		wantOK   bool
	}{
		{"in-match", "in", "us, de, fr", "DE", true},
		{"in-no-match", "in", "us, de", "fr", false},
		{"contains", "contains", "loca", "Localhost", true},
		{"starts_with", "starts_with", "loc", "Localhost", true},
		{"ends_with", "ends_with", "host", "Localhost", true},
		{"greater_than-true", "greater_than", "10", "20", true},
		{"greater_than-unparsable", "greater_than", "abc", "20", false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			cfg := FlagConfig{FlagKey: "flag", Enabled: true, DefaultVariant: "false", RolloutPercent: 0}
			rules := []Rule{{ID: "r1", Type: RuleTypeAttribute, Priority: 1, AttributeName: "attr", Operator: c.op, AttributeValue: c.ruleVal, VariantKey: "true"}}
			d := Evaluate(cfg, boolVariants(), rules, UserContext{UserID: "u", Attributes: map[string]string{"attr": c.attrVal}}, "production")
			if c.wantOK && d.Reason != ReasonAttributeMatch {
				t.Errorf("%s: expected match, got %+v", c.name, d)
			}
			if !c.wantOK && d.Reason == ReasonAttributeMatch {
				t.Errorf("%s: expected no match, got %+v", c.name, d)
			}
		})
	}
}

func TestCustomAttributesOverrideBase(t *testing.T) {
	ctx := UserContext{
		UserID:           "u1",
		Attributes:       map[string]string{"plan": "free"},
		CustomAttributes: map[string]string{"plan": "enterprise"},
	}
	merged := ctx.mergedAttributes()
	if merged["plan"] != "enterprise" {
		t.Fatalf("expected custom attribute to override base, got %q", merged["plan"])
	}
}
