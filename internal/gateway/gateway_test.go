package gateway

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"raito/internal/bus"
	"raito/internal/cache"
	"raito/internal/idgen"
	"raito/internal/model"
	"raito/internal/store"
)

func newTestGateway(t *testing.T) (*Gateway, *store.MemoryStore, bus.Bus) {
	t.Helper()
	s := store.NewMemoryStore()
	b := bus.NewMemoryBus()
	c := cache.NewInMemoryCache(64)
	g := New(s, c, b, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return g, s, b
}

func TestRunScraperNotFound(t *testing.T) {
	g, _, _ := newTestGateway(t)
	_, err := g.RunScraper(context.Background(), "scr_missing", "https://x/a", model.RequestOptions{})
	if err != ErrScraperNotFound {
		t.Fatalf("expected ErrScraperNotFound, got %v", err)
	}
}

func TestRunScraperAsyncQueuesJob(t *testing.T) {
	g, s, b := newTestGateway(t)
	ctx := context.Background()

	scr := model.Scraper{ScraperID: "scr_1", Name: "test", Schema: model.NewPromptSchema("extract the title")}
	if err := s.Set(ctx, model.NSScrapers, scr.ScraperID, scr); err != nil {
		t.Fatalf("seed scraper: %v", err)
	}

	received := make(chan struct{}, 1)
	b.Subscribe("extraction.requested", func(ctx context.Context, payload []byte) error {
		received <- struct{}{}
		return nil
	})

	result, err := g.RunScraper(ctx, "scr_1", "https://x/a", model.RequestOptions{Async: true})
	if err != nil {
		t.Fatalf("RunScraper: %v", err)
	}
	if result.Status != RunQueued {
		t.Fatalf("expected queued, got %s", result.Status)
	}
	if result.JobID == "" {
		t.Fatal("expected a job id")
	}

	select {
	case <-received:
	case <-time.After(time.Second):
		t.Fatal("expected extraction.requested to be emitted")
	}

	var job model.Job
	if err := s.Get(ctx, model.NSJobs, result.JobID, &job); err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job.Status != model.JobQueued {
		t.Fatalf("expected queued job, got %s", job.Status)
	}
}

func TestRunScraperSyncCacheFastPath(t *testing.T) {
	g, s, b := newTestGateway(t)
	ctx := context.Background()

	schema := model.NewPromptSchema("extract the title")
	scr := model.Scraper{ScraperID: "scr_2", Name: "test", Schema: schema}
	if err := s.Set(ctx, model.NSScrapers, scr.ScraperID, scr); err != nil {
		t.Fatalf("seed scraper: %v", err)
	}

	key := idgen.ExtractionCacheKey("https://x/b", schema)
	if err := g.Cache.PutExtraction(ctx, key, model.ExtractionCacheEntry{
		Data: map[string]any{"title": "Cached"}, URL: "https://x/b", Schema: schema, ScraperID: scr.ScraperID,
	}); err != nil {
		t.Fatalf("seed cache: %v", err)
	}

	var emitted bool
	b.Subscribe("extraction.requested", func(ctx context.Context, payload []byte) error {
		emitted = true
		return nil
	})

	result, err := g.RunScraper(ctx, "scr_2", "https://x/b", model.RequestOptions{UseCache: true})
	if err != nil {
		t.Fatalf("RunScraper: %v", err)
	}
	if result.Status != RunCompleted || !result.Cached || result.CacheType != "extraction" {
		t.Fatalf("expected cached completed result, got %+v", result)
	}
	if result.Data["title"] != "Cached" {
		t.Fatalf("expected cached title, got %v", result.Data)
	}
	if emitted {
		t.Fatal("expected the cache fast-path to skip emitting extraction.requested")
	}
}

func TestCreateScraperRejectsMissingSchema(t *testing.T) {
	g, _, _ := newTestGateway(t)
	_, err := g.CreateScraper(context.Background(), CreateScraperRequest{Name: "test"})
	if err == nil {
		t.Fatal("expected an error for a missing schema")
	}
}

func TestCreateScraperRejectsShortInterval(t *testing.T) {
	g, _, _ := newTestGateway(t)
	_, err := g.CreateScraper(context.Background(), CreateScraperRequest{
		Name: "test", Schema: model.NewPromptSchema("x"), Schedule: 1,
	})
	if err == nil {
		t.Fatal("expected an error for a sub-5-minute interval")
	}
}

func TestCreateScraperSeedsMonitor(t *testing.T) {
	g, s, _ := newTestGateway(t)
	ctx := context.Background()

	scr, err := g.CreateScraper(ctx, CreateScraperRequest{
		Name: "test", Schema: model.NewPromptSchema("x"), Schedule: 15,
		MonitorURLs: []string{"https://x/c"},
	})
	if err != nil {
		t.Fatalf("CreateScraper: %v", err)
	}

	monitorID := idgen.MonitorID(scr.ScraperID, "https://x/c")
	var monitor model.Monitor
	if err := s.Get(ctx, model.NSMonitors, monitorID, &monitor); err != nil {
		t.Fatalf("expected a seeded monitor: %v", err)
	}
	if monitor.NextRun.IsZero() {
		t.Fatal("expected next_run to be set")
	}
}
