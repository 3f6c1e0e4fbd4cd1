package pipeline

import (
	"context"
	"encoding/json"
	"time"

	"raito/internal/metrics"
	"raito/internal/model"
)

// ErrorHandler subscribes to extraction.failed and emits nothing. It
// never raises; every internal failure is logged only, so a broken
// Error handler can't itself produce a second extraction.failed.
type ErrorHandler struct {
	deps *Deps
}

func (h *ErrorHandler) Handle(ctx context.Context, payload []byte) error {
	start := time.Now()
	defer func() {
		metrics.RecordStageDuration("error_handler", time.Since(start).Milliseconds())
	}()

	var evt model.ExtractionFailed
	if err := json.Unmarshal(payload, &evt); err != nil {
		h.deps.Logger.Error("error handler: malformed envelope", "error", err)
		return nil
	}
	if evt.JobID == "" {
		h.deps.Logger.Error("error handler: envelope missing job_id")
		return nil
	}

	job, err := loadJob(ctx, h.deps.Store, evt.JobID)
	if err != nil {
		h.deps.Logger.Error("error handler: load job", "job_id", evt.JobID, "error", err)
		return nil
	}
	if job.Status.IsTerminal() {
		// A completed job must never be re-terminalized by a late
		// duplicate failure delivery.
		metrics.RecordRedelivery("error_handler")
		return nil
	}

	if err := markJobFailed(ctx, h.deps.Store, evt.JobID, evt.Error, evt.Stage); err != nil {
		h.deps.Logger.Error("error handler: mark job failed", "job_id", evt.JobID, "error", err)
	}

	existing, err := h.loadExtraction(ctx, evt.JobID)
	if err != nil {
		h.deps.Logger.Debug("error handler: load extraction", "job_id", evt.JobID, "error", err)
	}

	now := time.Now().UTC()
	extraction := model.Extraction{
		JobID:            evt.JobID,
		Status:           model.JobFailed,
		URL:              evt.URL,
		ScraperID:        job.ScraperID,
		Error:            evt.Error,
		Stage:            evt.Stage,
		ValidationErrors: evt.ValidationErrors,
		FailedAt:         &now,
	}
	if existing != nil {
		extraction.Schema = existing.Schema
	}
	if err := h.deps.Store.Set(ctx, model.NSExtractions, evt.JobID, extraction); err != nil {
		h.deps.Logger.Error("error handler: write extraction", "job_id", evt.JobID, "error", err)
	}

	pushProgress(ctx, h.deps, evt.JobID, "failed", model.FailureStagePercent(evt.Stage), evt.Error)
	return nil
}

func (h *ErrorHandler) loadExtraction(ctx context.Context, jobID string) (*model.Extraction, error) {
	var extraction model.Extraction
	if err := h.deps.Store.Get(ctx, model.NSExtractions, jobID, &extraction); err != nil {
		return nil, err
	}
	return &extraction, nil
}
