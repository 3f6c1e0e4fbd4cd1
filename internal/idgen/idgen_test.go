package idgen

import (
	"strings"
	"testing"

	"raito/internal/model"
)

func TestNewJobIDShape(t *testing.T) {
	id := NewJobID()
	if !strings.HasPrefix(id, "job_") {
		t.Fatalf("expected job_ prefix, got %q", id)
	}
	if len(strings.TrimPrefix(id, "job_")) != 12 {
		t.Fatalf("expected 12 hex chars, got %q", id)
	}
}

func TestMonitorIDDeterministic(t *testing.T) {
	a := MonitorID("scr_abc123", "https://example.com/a")
	b := MonitorID("scr_abc123", "https://example.com/a")
	if a != b {
		t.Fatalf("expected deterministic id, got %q vs %q", a, b)
	}
	if !strings.HasSuffix(a, "_"+HashURL("https://example.com/a")) {
		t.Fatalf("expected 12-hex suffix, got %q", a)
	}
}

func TestExtractionCacheKeyIgnoresSchemaKeyOrder(t *testing.T) {
	s1 := model.NewStructuredSchema(map[string]any{"b": 1.0, "a": 2.0})
	s2 := model.NewStructuredSchema(map[string]any{"a": 2.0, "b": 1.0})

	k1 := ExtractionCacheKey("https://x/a", s1)
	k2 := ExtractionCacheKey("https://x/a", s2)
	if k1 != k2 {
		t.Fatalf("expected cache keys to match, got %q vs %q", k1, k2)
	}
	if len(k1) != 16 {
		t.Fatalf("expected 16 hex chars, got %q", k1)
	}
}

func TestContentCacheKeyIsFullHash(t *testing.T) {
	key := ContentCacheKey("https://x/a")
	if len(key) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(key))
	}
}
