// Package gateway implements the Sync/Async Gateway (C6): the single
// entrypoint that turns an HTTP request into a job, fast-paths a
// cache hit, and either polls the job to completion or returns
// immediately depending on the caller's async flag.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"raito/internal/bus"
	"raito/internal/cache"
	"raito/internal/idgen"
	"raito/internal/model"
	"raito/internal/schedule"
	"raito/internal/store"
)

// ErrScraperNotFound is returned by RunScraper when scraper_id does
// not exist.
var ErrScraperNotFound = errors.New("gateway: scraper not found")

// pollInterval/pollTimeout bound the synchronous poll: check every
// 500ms, give up (falling back to async) after 30s.
const (
	pollInterval = 500 * time.Millisecond
	pollTimeout  = 30 * time.Second
)

// Gateway is the thin, transport-agnostic service behind the HTTP
// handlers: it holds no Fiber dependency, only the pipeline's shared
// collaborators.
type Gateway struct {
	Store  store.Interface
	Cache  cache.Cache
	Bus    bus.Bus
	Logger *slog.Logger
}

// New builds a Gateway.
func New(st store.Interface, c cache.Cache, b bus.Bus, logger *slog.Logger) *Gateway {
	return &Gateway{Store: st, Cache: c, Bus: b, Logger: logger}
}

// RunResultStatus is the envelope kind RunScraper returns.
type RunResultStatus string

const (
	RunCompleted RunResultStatus = "completed"
	RunFailed    RunResultStatus = "failed"
	RunQueued    RunResultStatus = "queued"
)

// RunResult is the union of the three result shapes RunScraper can
// return: a completed extraction, a failed job, or a queued job.
type RunResult struct {
	Status     RunResultStatus
	JobID      string
	Data       map[string]any
	Error      string
	Cached     bool
	CacheType  string
	StatusURL  string
	ResultsURL string
}

// RunScraper runs a scraper against one URL: fast-path cache hit,
// synchronous pipeline run with polling, or async enqueue.
func (g *Gateway) RunScraper(ctx context.Context, scraperID, url string, reqOpts model.RequestOptions) (*RunResult, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, errors.New("gateway: url is required")
	}

	var scr model.Scraper
	if err := g.Store.Get(ctx, model.NSScrapers, scraperID, &scr); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrScraperNotFound
		}
		return nil, fmt.Errorf("gateway: load scraper: %w", err)
	}

	merged := model.MergeOptions(scr.Options, reqOpts)

	jobID := idgen.NewJobID()
	now := time.Now().UTC()
	job := model.Job{
		JobID:     jobID,
		ScraperID: scraperID,
		URL:       url,
		Status:    model.JobQueued,
		Options:   merged,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := g.Store.Set(ctx, model.NSJobs, jobID, job); err != nil {
		return nil, fmt.Errorf("gateway: write job: %w", err)
	}

	// Fast-path: a sync request with use_cache collapses the whole
	// pipeline to a single state read.
	if !merged.Async && merged.UseCache {
		key := idgen.ExtractionCacheKey(url, scr.Schema)
		if entry, hit, err := g.Cache.GetExtraction(ctx, key); err == nil && hit {
			if err := g.completeFromCache(ctx, jobID, url, scraperID, entry); err != nil {
				g.Logger.Error("gateway: complete from cache", "job_id", jobID, "error", err)
			}
			if err := g.upsertMonitorIfScheduled(ctx, scr, url, merged); err != nil {
				g.Logger.Error("gateway: monitor upsert", "job_id", jobID, "error", err)
			}
			return &RunResult{
				Status: RunCompleted, JobID: jobID, Data: entry.Data,
				Cached: true, CacheType: "extraction",
			}, nil
		}
	}

	if err := g.Store.Set(ctx, model.NSJobPayloads, jobID, model.JobPayload{
		Schema: scr.Schema, ScraperID: scraperID,
	}); err != nil {
		return nil, fmt.Errorf("gateway: write job_payloads: %w", err)
	}

	// The message-group id is job_id, not a url hash: grouping by url
	// would serialize every request for that url behind an in-flight
	// one, causing head-of-line blocking across unrelated requests.
	if err := g.Bus.Emit(ctx, "extraction.requested", jobID, model.ExtractionRequested{
		JobID: jobID, URL: url, ScraperID: scraperID, Options: merged,
	}); err != nil {
		return nil, fmt.Errorf("gateway: emit extraction.requested: %w", err)
	}

	if err := g.upsertMonitorIfScheduled(ctx, scr, url, merged); err != nil {
		g.Logger.Error("gateway: monitor upsert", "job_id", jobID, "error", err)
	}

	if merged.Async {
		return &RunResult{
			Status: RunQueued, JobID: jobID,
			StatusURL: "/status/" + jobID, ResultsURL: "/results/" + jobID,
		}, nil
	}

	return g.poll(ctx, jobID)
}

func (g *Gateway) completeFromCache(ctx context.Context, jobID, url, scraperID string, entry *model.ExtractionCacheEntry) error {
	now := time.Now().UTC()
	if err := g.Store.Set(ctx, model.NSExtractions, jobID, model.Extraction{
		JobID: jobID, Status: model.JobCompleted, Data: entry.Data, URL: url,
		Schema: entry.Schema, ScraperID: scraperID, CompletedAt: &now,
		Model: entry.Model, Cached: true, Metadata: entry.Metadata,
	}); err != nil {
		return err
	}
	var job model.Job
	if err := g.Store.Get(ctx, model.NSJobs, jobID, &job); err != nil {
		return err
	}
	job.Status = model.JobCompleted
	job.UpdatedAt = now
	job.CompletedAt = &now
	return g.Store.Set(ctx, model.NSJobs, jobID, job)
}

func (g *Gateway) upsertMonitorIfScheduled(ctx context.Context, scr model.Scraper, url string, opts model.RequestOptions) error {
	if opts.SkipMonitoring || scr.ScheduleInfo == nil {
		return nil
	}

	monitorID := idgen.MonitorID(scr.ScraperID, url)
	now := time.Now().UTC()

	var existing model.Monitor
	err := g.Store.Get(ctx, model.NSMonitors, monitorID, &existing)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}

	monitor := model.Monitor{
		MonitorID:       monitorID,
		ScraperID:       scr.ScraperID,
		URL:             url,
		ScheduleType:    scr.ScheduleInfo.Type,
		IntervalMinutes: scr.ScheduleInfo.IntervalMinutes,
		Cron:            scr.ScheduleInfo.Cron,
		Active:          true,
		LastRun:         &now,
		UpdatedAt:       now,
	}
	if err == nil {
		monitor.CreatedAt = existing.CreatedAt
		monitor.RunCount = existing.RunCount
	} else {
		monitor.CreatedAt = now
		monitor.RunCount = 0
	}
	monitor.NextRun = schedule.NextRun(scr.ScheduleInfo, now)

	return g.Store.Set(ctx, model.NSMonitors, monitorID, monitor)
}

// poll blocks until jobID reaches a terminal status or pollTimeout
// elapses, whichever comes first.
func (g *Gateway) poll(ctx context.Context, jobID string) (*RunResult, error) {
	deadline := time.Now().Add(pollTimeout)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		var job model.Job
		if err := g.Store.Get(ctx, model.NSJobs, jobID, &job); err == nil {
			switch job.Status {
			case model.JobCompleted:
				var extraction model.Extraction
				if err := g.Store.Get(ctx, model.NSExtractions, jobID, &extraction); err != nil {
					return nil, fmt.Errorf("gateway: load completed extraction: %w", err)
				}
				return &RunResult{
					Status: RunCompleted, JobID: jobID, Data: extraction.Data,
					Cached: extraction.Cached,
				}, nil
			case model.JobFailed:
				return &RunResult{Status: RunFailed, JobID: jobID, Error: job.Error}, nil
			}
		}

		if time.Now().After(deadline) {
			return &RunResult{
				Status: RunQueued, JobID: jobID,
				StatusURL: "/status/" + jobID, ResultsURL: "/results/" + jobID,
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
