package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"raito/internal/metrics"
	"raito/internal/model"
	"raito/internal/validator"
)

// StoreStage subscribes to extraction.completed and emits
// results.stored or extraction.failed.
type StoreStage struct {
	deps *Deps
}

func (s *StoreStage) Handle(ctx context.Context, payload []byte) error {
	start := time.Now()
	defer func() {
		metrics.RecordStageDuration("storing", time.Since(start).Milliseconds())
	}()

	var evt model.ExtractionCompleted
	if err := json.Unmarshal(payload, &evt); err != nil {
		s.deps.Logger.Error("store stage: malformed envelope", "error", err)
		return err
	}
	if evt.JobID == "" {
		return errors.New("store stage: envelope missing job_id")
	}

	var payloadRow model.ExtractionPayload
	if err := s.deps.Store.Get(ctx, model.NSExtractionPayloads, evt.JobID, &payloadRow); err != nil {
		s.fail(ctx, evt, nil, "extraction_payloads missing: "+err.Error())
		return nil
	}
	if payloadRow.Data == nil {
		s.fail(ctx, evt, nil, "storing: extraction payload has no data")
		return nil
	}

	if err := advanceJobStatus(ctx, s.deps.Store, evt.JobID, model.JobValidating, nil); err != nil {
		s.deps.Logger.Error("store stage: advance status", "job_id", evt.JobID, "error", err)
	}

	if payloadRow.Schema.IsStructured() {
		if valErr := validator.Validate(payloadRow.Schema.Structured, payloadRow.Data); valErr != nil {
			lines := splitValidationLines(valErr.Error())
			s.fail(ctx, evt, lines, "Validation failed: "+valErr.Error())
			return nil
		}
	}

	now := time.Now().UTC()
	extraction := model.Extraction{
		JobID:       evt.JobID,
		Status:      model.JobCompleted,
		Data:        payloadRow.Data,
		URL:         evt.URL,
		Schema:      payloadRow.Schema,
		ScraperID:   evt.ScraperID,
		CompletedAt: &now,
		Model:       payloadRow.Model,
		Usage:       payloadRow.Usage,
		Cached:      evt.Cached,
		Metadata:    payloadRow.Metadata,
	}
	if err := s.deps.Store.Set(ctx, model.NSExtractions, evt.JobID, extraction); err != nil {
		s.fail(ctx, evt, nil, "state-io: "+err.Error())
		return nil
	}

	if err := markJobCompleted(ctx, s.deps.Store, evt.JobID); err != nil {
		s.deps.Logger.Error("store stage: mark completed", "job_id", evt.JobID, "error", err)
	}

	// Always write the extraction cache unless this job was itself an
	// extraction-cache hit: repopulating a hit would just rewrite the
	// same entry, but skipping it keeps the condition legible.
	if !(evt.Cached && evt.CacheType == "extraction") {
		key := extractionCacheKey(evt.URL, payloadRow.Schema)
		cacheErr := s.deps.Cache.PutExtraction(ctx, key, model.ExtractionCacheEntry{
			Data:      payloadRow.Data,
			URL:       evt.URL,
			Schema:    payloadRow.Schema,
			ScraperID: evt.ScraperID,
			Model:     payloadRow.Model,
			Metadata:  payloadRow.Metadata,
			CachedAt:  now,
		})
		if cacheErr != nil {
			s.deps.Logger.Debug("extraction cache put failed", "job_id", evt.JobID, "error", cacheErr)
		}
	}

	if err := s.deps.Store.Delete(ctx, model.NSExtractionPayloads, evt.JobID); err != nil {
		s.deps.Logger.Debug("extraction_payloads cleanup failed", "job_id", evt.JobID, "error", err)
	}
	if err := s.deps.Store.Delete(ctx, model.NSJobPayloads, evt.JobID); err != nil {
		s.deps.Logger.Debug("job_payloads cleanup failed", "job_id", evt.JobID, "error", err)
	}
	// fetch_payloads is owned by this stage alone: Extract never
	// deletes it, so there is no race between the two cleanups.
	if err := s.deps.Store.Delete(ctx, model.NSFetchPayloads, evt.JobID); err != nil {
		s.deps.Logger.Debug("fetch_payloads cleanup failed", "job_id", evt.JobID, "error", err)
	}

	pushProgress(ctx, s.deps, evt.JobID, "completed", 100, "extraction stored")

	return s.deps.Bus.Emit(ctx, TopicResultsStored, evt.JobID, model.ResultsStored{
		JobID:       evt.JobID,
		URL:         evt.URL,
		ScraperID:   evt.ScraperID,
		CompletedAt: now,
		Cached:      evt.Cached,
	})
}

func splitValidationLines(msg string) []string {
	return strings.Split(msg, "; ")
}

// fail only emits extraction.failed; see FetchStage.fail.
func (s *StoreStage) fail(ctx context.Context, evt model.ExtractionCompleted, validationErrors []string, errMsg string) {
	fail(ctx, s.deps, evt.JobID, evt.URL, "storing", errMsg, validationErrors)
}
