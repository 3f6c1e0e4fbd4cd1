package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"raito/internal/metrics"
	"raito/internal/model"
	"raito/internal/scraper"
)

// FetchStage subscribes to extraction.requested and emits
// webpage.fetched, extraction.completed (cache-hit short-circuit), or
// extraction.failed.
type FetchStage struct {
	deps *Deps
}

func (s *FetchStage) Handle(ctx context.Context, payload []byte) error {
	start := time.Now()
	defer func() {
		metrics.RecordStageDuration("fetching", time.Since(start).Milliseconds())
	}()

	var evt model.ExtractionRequested
	if err := json.Unmarshal(payload, &evt); err != nil {
		s.deps.Logger.Error("fetch stage: malformed envelope", "error", err)
		return err
	}
	if evt.JobID == "" {
		return errors.New("fetch stage: envelope missing job_id")
	}

	var jobPayload model.JobPayload
	if err := s.deps.Store.Get(ctx, model.NSJobPayloads, evt.JobID, &jobPayload); err != nil {
		s.fail(ctx, evt, "job_payloads missing: "+err.Error())
		return nil
	}

	if err := advanceJobStatus(ctx, s.deps.Store, evt.JobID, model.JobFetching, nil); err != nil {
		s.deps.Logger.Error("fetch stage: advance status", "job_id", evt.JobID, "error", err)
	}

	schema := jobPayload.Schema

	if evt.Options.UseCache {
		key := extractionCacheKey(evt.URL, schema)
		entry, hit, err := s.deps.Cache.GetExtraction(ctx, key)
		metrics.RecordCacheLookup("extraction", err == nil && hit)
		if err == nil && hit {
			payload := model.ExtractionPayload{
				Data:     entry.Data,
				Schema:   schema,
				Model:    entry.Model,
				Metadata: entry.Metadata,
			}
			if err := s.deps.Store.Set(ctx, model.NSExtractionPayloads, evt.JobID, payload); err != nil {
				s.fail(ctx, evt, "state-io: "+err.Error())
				return nil
			}
			pushProgress(ctx, s.deps, evt.JobID, "completed", 100, "served from extraction cache")
			return s.deps.Bus.Emit(ctx, TopicExtractionCompleted, evt.JobID, model.ExtractionCompleted{
				JobID:     evt.JobID,
				URL:       evt.URL,
				ScraperID: evt.ScraperID,
				Cached:    true,
				CacheType: "extraction",
			})
		}
	}

	var (
		markdown  string
		metadata  map[string]any
		cached    bool
		cacheType string
	)

	contentKey := contentCacheKey(evt.URL)
	contentEntry, contentHit, contentErr := s.deps.Cache.GetContent(ctx, contentKey)
	metrics.RecordCacheLookup("content", contentErr == nil && contentHit)
	if contentErr == nil && contentHit {
		markdown = contentEntry.Markdown
		metadata = contentEntry.Metadata
		cached = true
		cacheType = "content"
	} else {
		result, kind, err := s.scrape(ctx, evt)
		if err != nil {
			s.fail(ctx, evt, fmt.Sprintf("%s: %v", kind, err))
			return nil
		}

		md, convErr := toMarkdownIfNeeded(result)
		if convErr != nil {
			s.fail(ctx, evt, "state-io: "+convErr.Error())
			return nil
		}
		if md == "" {
			s.fail(ctx, evt, "provider-other: scraper returned no content")
			return nil
		}

		markdown = md
		metadata = result.Metadata

		if err := s.deps.Cache.PutContent(ctx, contentKey, model.ContentCacheEntry{
			Markdown: markdown,
			Metadata: metadata,
			CachedAt: time.Now().UTC(),
		}); err != nil {
			s.deps.Logger.Debug("content cache put failed", "job_id", evt.JobID, "error", err)
		}
	}

	fetchPayload := model.FetchPayload{Markdown: markdown, Schema: schema, Metadata: metadata}
	if err := s.deps.Store.Set(ctx, model.NSFetchPayloads, evt.JobID, fetchPayload); err != nil {
		s.fail(ctx, evt, "state-io: "+err.Error())
		return nil
	}

	if err := advanceJobStatus(ctx, s.deps.Store, evt.JobID, model.JobFetched, nil); err != nil {
		s.deps.Logger.Error("fetch stage: advance status", "job_id", evt.JobID, "error", err)
	}
	pushProgress(ctx, s.deps, evt.JobID, "fetched", 40, "page fetched")

	return s.deps.Bus.Emit(ctx, TopicWebpageFetched, evt.JobID, model.WebpageFetched{
		JobID:          evt.JobID,
		URL:            evt.URL,
		ScraperID:      evt.ScraperID,
		Options:        evt.Options,
		Cached:         cached,
		CacheType:      cacheType,
		MarkdownLength: len(markdown),
	})
}

// scrape picks the backend per use_simple_scraper, builds the request
// from the merged options, and classifies any failure: timeout/429/404
// all converge on stage=fetching but keep a distinguishing kind in the
// error string.
func (s *FetchStage) scrape(ctx context.Context, evt model.ExtractionRequested) (*scraper.Result, scraper.ErrorKind, error) {
	sc := s.deps.Scrapers(evt.Options.SimpleScraper())

	timeoutMs := evt.Options.TimeoutMs
	if timeoutMs <= 0 {
		timeoutMs = int(s.deps.DefaultScraperTimeout / time.Millisecond)
	}

	req := scraper.BuildRequestFromOptions(scraper.RequestOptions{
		URL:       evt.URL,
		TimeoutMs: timeoutMs,
		WaitForMs: evt.Options.WaitForMs,
	})

	scrapeCtx := ctx
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		scrapeCtx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	result, err := sc.Scrape(scrapeCtx, req)
	if err != nil {
		var classified *scraper.Error
		if errors.As(err, &classified) {
			return nil, classified.Kind, classified.Err
		}
		return nil, scraper.Classify(0, err), err
	}
	return result, "", nil
}

// fail only emits extraction.failed; marking the job Failed and
// writing its terminal extraction record is the Error handler's job
// alone, so a late duplicate can't find the job already terminal and
// silently drop the record.
func (s *FetchStage) fail(ctx context.Context, evt model.ExtractionRequested, errMsg string) {
	fail(ctx, s.deps, evt.JobID, evt.URL, "fetching", errMsg, nil)
}
