package featureflags

import (
	"testing"
	"time"
)

func TestHashUserContextStableAcrossAttributeOrder(t *testing.T) {
	a := UserContext{UserID: "u1", Attributes: map[string]string{"plan": "pro", "country": "US"}}
	b := UserContext{UserID: "u1", Attributes: map[string]string{"country": "US", "plan": "pro"}}
	if hashUserContext(a) != hashUserContext(b) {
		t.Fatal("expected identical hash regardless of map iteration order")
	}
}

func TestHashUserContextDiffersPerUser(t *testing.T) {
	a := UserContext{UserID: "u1"}
	b := UserContext{UserID: "u2"}
	if hashUserContext(a) == hashUserContext(b) {
		t.Fatal("expected different hashes for different users")
	}
}

func TestAnalyticsBufferDrainsToWatermark(t *testing.T) {
	buf := newAnalyticsBuffer()
	total := analyticsCapacity + 50
	for i := 0; i < total; i++ {
		buf.record("f", "true", "rollout_match", UserContext{UserID: "u1"}, time.Now())
	}
	if buf.len() >= total {
		t.Fatalf("expected buffer to have dropped entries, got %d of %d recorded", buf.len(), total)
	}
	if buf.len() < analyticsWatermark {
		t.Fatalf("expected buffer to retain at least the watermark, got %d", buf.len())
	}

	before := buf.len()
	records := buf.drain()
	if len(records) != before {
		t.Fatalf("expected drain to return all %d retained records, got %d", before, len(records))
	}
	if buf.len() != 0 {
		t.Fatalf("expected empty buffer after drain, got %d", buf.len())
	}
	if records[0].UserHash == "" {
		t.Fatal("expected attribute hash to be populated, not raw attributes")
	}
}
