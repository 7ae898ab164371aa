package eval

import (
	"testing"

	"github.com/flagforge/platform/pkg/ruleengine"
	"github.com/flagforge/platform/pkg/store"
)

func snapshot(flagType string, variants ...store.Variant) *store.Snapshot {
	return &store.Snapshot{
		Flag:     store.Flag{Key: "f", Type: flagType},
		Variants: variants,
	}
}

func TestTranslateValueBoolean(t *testing.T) {
	snap := snapshot("boolean")
	v := translateValue(snap, ruleengine.Decision{Enabled: true, Variant: "true"}, false)
	if v != true {
		t.Fatalf("expected true, got %v", v)
	}
	v = translateValue(snap, ruleengine.Decision{Enabled: false, Variant: "false"}, "fallback")
	if v != "fallback" {
		t.Fatalf("expected fallback on disabled, got %v", v)
	}
}

func TestTranslateValueNumber(t *testing.T) {
	snap := snapshot("number", store.Variant{Key: "ten", Value: "10.5"})
	v := translateValue(snap, ruleengine.Decision{Variant: "ten"}, 0.0)
	if v != 10.5 {
		t.Fatalf("expected 10.5, got %v", v)
	}
}

func TestTranslateValueNumberUnparsable(t *testing.T) {
	snap := snapshot("number", store.Variant{Key: "bad", Value: "not-a-number"})
	v := translateValue(snap, ruleengine.Decision{Variant: "bad"}, 42.0)
	if v != 42.0 {
		t.Fatalf("expected fallback 42.0, got %v", v)
	}
}

func TestTranslateValueJSON(t *testing.T) {
	snap := snapshot("json", store.Variant{Key: "obj", Value: `{"color":"blue"}`})
	v := translateValue(snap, ruleengine.Decision{Variant: "obj"}, nil)
	m, ok := v.(map[string]any)
	if !ok || m["color"] != "blue" {
		t.Fatalf("expected decoded json object, got %v", v)
	}
}

func TestTranslateValueStringUnknownVariant(t *testing.T) {
	snap := snapshot("string", store.Variant{Key: "known", Value: "hello"})
	v := translateValue(snap, ruleengine.Decision{Variant: "missing"}, "fallback")
	if v != "fallback" {
		t.Fatalf("expected fallback for unknown variant, got %v", v)
	}
}
