// Package pipeline implements the Pipeline Stages (C5): Fetch,
// Extract, Store, and the Error handler, wired to the four topics of
// the extraction pipeline's event bus.
package pipeline

import (
	"context"
	"log/slog"
	"time"

	"raito/internal/bus"
	"raito/internal/cache"
	"raito/internal/cleaner"
	"raito/internal/idgen"
	"raito/internal/llm"
	"raito/internal/model"
	"raito/internal/progress"
	"raito/internal/scraper"
	"raito/internal/store"
	"raito/internal/validator"
)

const (
	TopicExtractionRequested = "extraction.requested"
	TopicWebpageFetched      = "webpage.fetched"
	TopicExtractionCompleted = "extraction.completed"
	TopicResultsStored       = "results.stored"
	TopicExtractionFailed    = "extraction.failed"
)

// ScraperSelector resolves the scraper backend a Fetch stage should
// use for one request: the heavy rod-backed scraper by default, or
// the lightweight HTTP scraper when use_simple_scraper is set.
type ScraperSelector func(useSimple bool) scraper.Scraper

// LLMSelector resolves the LLM client to use for one extraction,
// given an optional per-request model override pulled from the
// event's options (the provider itself stays config-level). The
// returned provider name is used only for metrics labeling.
type LLMSelector func(modelOverride string) (llm.Client, llm.Provider, error)

// Deps are the collaborators every stage shares.
type Deps struct {
	Store     store.Interface
	Cache     cache.Cache
	Bus       bus.Bus
	Progress  progress.Stream
	Scrapers  ScraperSelector
	LLM       LLMSelector
	Logger    *slog.Logger
	DefaultScraperTimeout time.Duration
}

// Register subscribes all four stages to their topics on deps.Bus.
func Register(deps *Deps) {
	fetch := &FetchStage{deps: deps}
	extract := &ExtractStage{deps: deps}
	storeStage := &StoreStage{deps: deps}
	errHandler := &ErrorHandler{deps: deps}

	deps.Bus.Subscribe(TopicExtractionRequested, fetch.Handle)
	deps.Bus.Subscribe(TopicWebpageFetched, extract.Handle)
	deps.Bus.Subscribe(TopicExtractionCompleted, storeStage.Handle)
	deps.Bus.Subscribe(TopicExtractionFailed, errHandler.Handle)
}

// fail centralizes converting a producing failure into an
// extraction.failed emission: any producing failure converts to
// extraction.failed exactly once and returns. It writes nothing to the
// store; the Error handler marks the job failed and records the
// terminal extraction row.
func fail(ctx context.Context, deps *Deps, jobID, url, stage, errMsg string, validationErrors []string) {
	deps.Logger.Warn("pipeline stage failed", "job_id", jobID, "stage", stage, "error", errMsg)
	evt := model.ExtractionFailed{
		JobID:            jobID,
		Error:            errMsg,
		Stage:            stage,
		URL:              url,
		ValidationErrors: validationErrors,
	}
	if err := deps.Bus.Emit(ctx, TopicExtractionFailed, jobID, evt); err != nil {
		deps.Logger.Error("failed to emit extraction.failed", "job_id", jobID, "error", err)
	}
}

// pushProgress is advisory: a write failure is logged, never
// propagated. Progress writes are best-effort everywhere.
func pushProgress(ctx context.Context, deps *Deps, jobID, status string, percent int, message string) {
	if err := deps.Progress.Update(ctx, jobID, status, percent, message); err != nil {
		deps.Logger.Debug("progress update failed", "job_id", jobID, "error", err)
	}
}

func extractionCacheKey(url string, schema model.Schema) string {
	return idgen.ExtractionCacheKey(url, schema)
}

func contentCacheKey(url string) string {
	return idgen.ContentCacheKey(url)
}

func toMarkdownIfNeeded(result *scraper.Result) (string, error) {
	if result.Markdown != "" {
		return result.Markdown, nil
	}
	if result.HTML == "" {
		return "", nil
	}
	return cleaner.ToMarkdown(result.HTML)
}
