package featureflags

import (
	"testing"
	"time"
)

func boolSnapshot(enabled bool, rolloutPercent int) Snapshot {
	return Snapshot{
		Flag:   FlagMeta{Key: "f", Type: "boolean"},
		Config: FlagConfig{Enabled: enabled, DefaultVariant: "false", RolloutPercent: rolloutPercent},
		Variants: []Variant{
			{Key: "true", Value: "true", Weight: 50},
			{Key: "false", Value: "false", Weight: 50},
		},
	}
}

func TestEvaluateLocalDisabledReturnsDefault(t *testing.T) {
	e := &evaluator{environment: "production"}
	result := e.evaluateLocal(boolSnapshot(false, 100), UserContext{UserID: "u1"}, true, time.Now())
	if result.Value != true {
		t.Fatalf("expected fallback true on disabled flag, got %v", result.Value)
	}
	if result.Reason != "flag_disabled" {
		t.Fatalf("expected flag_disabled, got %s", result.Reason)
	}
}

func TestEvaluateLocalFullRolloutReturnsTrue(t *testing.T) {
	e := &evaluator{environment: "production"}
	result := e.evaluateLocal(boolSnapshot(true, 100), UserContext{UserID: "u1"}, false, time.Now())
	if result.Value != true {
		t.Fatalf("expected true on full rollout, got %v", result.Value)
	}
}

func TestEvaluateLocalStringFlagUnknownVariantFallsBack(t *testing.T) {
	e := &evaluator{environment: "production"}
	snap := Snapshot{
		Flag:     FlagMeta{Key: "f", Type: "string"},
		Config:   FlagConfig{Enabled: true, DefaultVariant: "missing", RolloutPercent: 0},
		Variants: []Variant{{Key: "known", Value: "hello", Weight: 100}},
	}
	result := e.evaluateLocal(snap, UserContext{UserID: "u1"}, "fallback", time.Now())
	if result.Value != "fallback" {
		t.Fatalf("expected fallback for unknown variant, got %v", result.Value)
	}
}

func TestSnapshotStoreReplaceAndGet(t *testing.T) {
	store := newSnapshotStore()
	store.replace([]Snapshot{boolSnapshot(true, 100)}, "etag-1")

	snap, ok := store.get("f")
	if !ok {
		t.Fatal("expected flag to be present after replace")
	}
	if snap.Config.RolloutPercent != 100 {
		t.Fatalf("unexpected rollout percent: %d", snap.Config.RolloutPercent)
	}
	if store.currentETag() != "etag-1" {
		t.Fatalf("expected etag-1, got %s", store.currentETag())
	}
	if _, ok := store.get("missing"); ok {
		t.Fatal("expected missing flag to be absent")
	}
}
