package featureflags

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

// analyticsCapacity and analyticsWatermark implement the bounded
// ring-buffer spec.md §4.7 names: once the buffer reaches capacity it
// drops the oldest entries down to the watermark rather than blocking
// the evaluate call that triggered the record.
const (
	analyticsCapacity  = 1000
	analyticsWatermark = 500
)

// AnalyticsRecord is one retained evaluation outcome. UserHash replaces
// the raw attribute map with a stable, non-cryptographic hash token —
// per spec.md §4.7 the raw attributes never leave the process.
type AnalyticsRecord struct {
	FlagKey     string    `json:"flag_key"`
	VariantKey  string    `json:"variant_key"`
	Reason      string    `json:"reason"`
	UserHash    string    `json:"user_hash"`
	EvaluatedAt time.Time `json:"evaluated_at"`
}

type analyticsBuffer struct {
	mu      sync.Mutex
	records []AnalyticsRecord
}

func newAnalyticsBuffer() *analyticsBuffer {
	return &analyticsBuffer{records: make([]AnalyticsRecord, 0, analyticsCapacity)}
}

func (b *analyticsBuffer) record(flagKey, variantKey, reason string, ctx UserContext, at time.Time) {
	rec := AnalyticsRecord{
		FlagKey:     flagKey,
		VariantKey:  variantKey,
		Reason:      reason,
		UserHash:    hashUserContext(ctx),
		EvaluatedAt: at,
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.records = append(b.records, rec)
	if len(b.records) > analyticsCapacity {
		drop := len(b.records) - analyticsWatermark
		b.records = append(b.records[:0], b.records[drop:]...)
	}
}

// drain returns every retained record and empties the buffer, for
// flush_analytics (spec.md §4.7).
func (b *analyticsBuffer) drain() []AnalyticsRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.records
	b.records = make([]AnalyticsRecord, 0, analyticsCapacity)
	return out
}

func (b *analyticsBuffer) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.records)
}

// hashUserContext folds the user id and every attribute into a single
// xxhash token, sorting attribute keys first so the hash is stable
// regardless of map iteration order.
func hashUserContext(ctx UserContext) string {
	h := xxhash.New()
	_, _ = h.Write([]byte(ctx.UserID))

	keys := make([]string, 0, len(ctx.Attributes)+len(ctx.CustomAttributes))
	merged := make(map[string]string, len(ctx.Attributes)+len(ctx.CustomAttributes))
	for k, v := range ctx.Attributes {
		merged[k] = v
		keys = append(keys, k)
	}
	for k, v := range ctx.CustomAttributes {
		merged[k] = v
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		_, _ = h.Write([]byte(k))
		_, _ = h.Write([]byte(merged[k]))
	}
	return fmt.Sprintf("%016x", h.Sum64())
}
