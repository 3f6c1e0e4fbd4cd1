package cache

import (
	"context"
	"testing"

	"raito/internal/model"
)

func TestInMemoryCacheExtractionRoundTrip(t *testing.T) {
	c := NewInMemoryCache(10)
	ctx := context.Background()

	if _, hit, err := c.GetExtraction(ctx, "abc"); err != nil || hit {
		t.Fatalf("expected miss, got hit=%v err=%v", hit, err)
	}

	entry := model.ExtractionCacheEntry{Data: map[string]any{"title": "Hello"}, URL: "https://x/a"}
	if err := c.PutExtraction(ctx, "abc", entry); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, hit, err := c.GetExtraction(ctx, "abc")
	if err != nil || !hit {
		t.Fatalf("expected hit, got hit=%v err=%v", hit, err)
	}
	if got.URL != "https://x/a" {
		t.Fatalf("unexpected entry: %+v", got)
	}
}

func TestInMemoryCacheEvictsOldest(t *testing.T) {
	c := NewInMemoryCache(2)
	ctx := context.Background()

	_ = c.PutExtraction(ctx, "a", model.ExtractionCacheEntry{URL: "a"})
	_ = c.PutExtraction(ctx, "b", model.ExtractionCacheEntry{URL: "b"})
	_ = c.PutExtraction(ctx, "c", model.ExtractionCacheEntry{URL: "c"})

	if _, hit, _ := c.GetExtraction(ctx, "a"); hit {
		t.Fatal("expected oldest entry to be evicted")
	}
	if _, hit, _ := c.GetExtraction(ctx, "c"); !hit {
		t.Fatal("expected newest entry to survive")
	}
}

func TestInMemoryCacheContentAndExtractionKeysDontCollide(t *testing.T) {
	c := NewInMemoryCache(10)
	ctx := context.Background()

	_ = c.PutExtraction(ctx, "samekey", model.ExtractionCacheEntry{URL: "extraction"})
	_ = c.PutContent(ctx, "samekey", model.ContentCacheEntry{Markdown: "content"})

	e, hit, _ := c.GetExtraction(ctx, "samekey")
	if !hit || e.URL != "extraction" {
		t.Fatalf("expected extraction entry, got %+v", e)
	}
	cEntry, hit, _ := c.GetContent(ctx, "samekey")
	if !hit || cEntry.Markdown != "content" {
		t.Fatalf("expected content entry, got %+v", cEntry)
	}
}
