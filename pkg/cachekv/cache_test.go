package cachekv

import (
	"testing"

	"github.com/rs/zerolog"
)

func zerologNop() zerolog.Logger {
	return zerolog.Nop()
}

func TestKeySchema(t *testing.T) {
	got := key("dark_mode", "production")
	want := "flag_config:dark_mode:production"
	if got != want {
		t.Fatalf("key schema mismatch: got %q want %q", got, want)
	}
}

func TestStatsZeroValue(t *testing.T) {
	c := New(nil, zerologNop())
	stats := c.Stats()
	if stats.Hits != 0 || stats.Misses != 0 || stats.Size != 0 {
		t.Fatalf("expected zero-value stats on a fresh cache, got %+v", stats)
	}
}
