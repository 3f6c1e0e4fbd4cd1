package pipeline

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"raito/internal/bus"
	"raito/internal/cache"
	"raito/internal/llm"
	"raito/internal/model"
	"raito/internal/progress"
	"raito/internal/scraper"
	"raito/internal/store"
)

type stubScraper struct {
	result *scraper.Result
	err    error
	calls  int
	mu     sync.Mutex
}

func (s *stubScraper) Scrape(_ context.Context, _ scraper.Request) (*scraper.Result, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

func (s *stubScraper) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type stubLLM struct {
	data  map[string]any
	err   error
	calls int
	mu    sync.Mutex
}

func (l *stubLLM) ExtractFields(_ context.Context, _ llm.ExtractRequest) (llm.ExtractResult, error) {
	l.mu.Lock()
	l.calls++
	l.mu.Unlock()
	if l.err != nil {
		return llm.ExtractResult{}, l.err
	}
	return llm.ExtractResult{Data: l.data, Model: "stub-model"}, nil
}

func (l *stubLLM) callCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

func newTestDeps(t *testing.T, sc scraper.Scraper, client llm.Client) (*Deps, *store.MemoryStore, bus.Bus) {
	t.Helper()
	s := store.NewMemoryStore()
	b := bus.NewMemoryBus()
	deps := &Deps{
		Store:    s,
		Cache:    cache.NewInMemoryCache(64),
		Bus:      b,
		Progress: progress.NewMemoryStream(),
		Scrapers: func(bool) scraper.Scraper { return sc },
		LLM:      func(string) (llm.Client, llm.Provider, error) { return client, llm.ProviderOpenAI, nil },
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		DefaultScraperTimeout: 30 * time.Second,
	}
	return deps, s, b
}

func seedJob(t *testing.T, ctx context.Context, s *store.MemoryStore, jobID, scraperID, url string, schema model.Schema) {
	t.Helper()
	if err := s.Set(ctx, model.NSJobs, jobID, model.Job{
		JobID: jobID, ScraperID: scraperID, URL: url, Status: model.JobQueued,
	}); err != nil {
		t.Fatalf("seed job: %v", err)
	}
	if err := s.Set(ctx, model.NSJobPayloads, jobID, model.JobPayload{Schema: schema, ScraperID: scraperID}); err != nil {
		t.Fatalf("seed job payload: %v", err)
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestPipelineEndToEndSyncCacheMiss(t *testing.T) {
	schema := model.NewStructuredSchema(map[string]any{
		"type":       "object",
		"required":   []any{"title"},
		"properties": map[string]any{"title": map[string]any{"type": "string"}},
	})

	sc := &stubScraper{result: &scraper.Result{Markdown: "# Hello", Status: 200}}
	client := &stubLLM{data: map[string]any{"title": "Hello"}}

	deps, s, b := newTestDeps(t, sc, client)
	Register(deps)

	ctx := context.Background()
	jobID := "job_test1"
	seedJob(t, ctx, s, jobID, "scr_test1", "https://x/a", schema)

	if err := b.Emit(ctx, TopicExtractionRequested, jobID, model.ExtractionRequested{
		JobID: jobID, URL: "https://x/a", ScraperID: "scr_test1",
		Options: model.RequestOptions{UseCache: true},
	}); err != nil {
		t.Fatalf("emit: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		var job model.Job
		if err := s.Get(ctx, model.NSJobs, jobID, &job); err != nil {
			return false
		}
		return job.Status.IsTerminal()
	})

	var job model.Job
	if err := s.Get(ctx, model.NSJobs, jobID, &job); err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job.Status != model.JobCompleted {
		t.Fatalf("expected completed job, got %s (error=%s stage=%s)", job.Status, job.Error, job.Stage)
	}

	var extraction model.Extraction
	if err := s.Get(ctx, model.NSExtractions, jobID, &extraction); err != nil {
		t.Fatalf("get extraction: %v", err)
	}
	if extraction.Data["title"] != "Hello" {
		t.Fatalf("expected extracted title Hello, got %v", extraction.Data)
	}
}

func TestPipelineValidationFailureReachesStoring(t *testing.T) {
	schema := model.NewStructuredSchema(map[string]any{
		"type":       "object",
		"required":   []any{"title"},
		"properties": map[string]any{"title": map[string]any{"type": "string"}},
	})

	sc := &stubScraper{result: &scraper.Result{Markdown: "# Hello", Status: 200}}
	client := &stubLLM{data: map[string]any{"title": 123}}

	deps, s, b := newTestDeps(t, sc, client)
	Register(deps)

	ctx := context.Background()
	jobID := "job_test2"
	seedJob(t, ctx, s, jobID, "scr_test2", "https://x/b", schema)

	if err := b.Emit(ctx, TopicExtractionRequested, jobID, model.ExtractionRequested{
		JobID: jobID, URL: "https://x/b", ScraperID: "scr_test2",
		Options: model.RequestOptions{UseCache: true},
	}); err != nil {
		t.Fatalf("emit: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		var job model.Job
		if err := s.Get(ctx, model.NSJobs, jobID, &job); err != nil {
			return false
		}
		return job.Status.IsTerminal()
	})

	var job model.Job
	if err := s.Get(ctx, model.NSJobs, jobID, &job); err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job.Status != model.JobFailed || job.Stage != "storing" {
		t.Fatalf("expected failed job at storing, got status=%s stage=%s", job.Status, job.Stage)
	}

	var extraction model.Extraction
	if err := s.Get(ctx, model.NSExtractions, jobID, &extraction); err != nil {
		t.Fatalf("get extraction: %v", err)
	}
	if len(extraction.ValidationErrors) == 0 {
		t.Fatal("expected validation errors to be recorded")
	}
}
