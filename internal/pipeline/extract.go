package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"raito/internal/llm"
	"raito/internal/metrics"
	"raito/internal/model"
)

// ExtractStage subscribes to webpage.fetched and emits
// extraction.completed or extraction.failed.
type ExtractStage struct {
	deps *Deps
}

func (s *ExtractStage) Handle(ctx context.Context, payload []byte) error {
	start := time.Now()
	defer func() {
		metrics.RecordStageDuration("extracting", time.Since(start).Milliseconds())
	}()

	var evt model.WebpageFetched
	if err := json.Unmarshal(payload, &evt); err != nil {
		s.deps.Logger.Error("extract stage: malformed envelope", "error", err)
		return err
	}
	if evt.JobID == "" {
		return errors.New("extract stage: envelope missing job_id")
	}

	if evt.Cached && evt.CacheType == "extraction" {
		// The Fetch stage already short-circuited this job onto
		// extraction.completed; this delivery is a stale duplicate.
		return nil
	}

	var fetchPayload model.FetchPayload
	if err := s.deps.Store.Get(ctx, model.NSFetchPayloads, evt.JobID, &fetchPayload); err != nil {
		s.fail(ctx, evt, "fetch_payloads missing: "+err.Error())
		return nil
	}
	if fetchPayload.Markdown == "" || !hasSchema(fetchPayload.Schema) {
		s.fail(ctx, evt, "llm-empty: empty markdown or missing schema")
		return nil
	}

	if err := advanceJobStatus(ctx, s.deps.Store, evt.JobID, model.JobExtracting, nil); err != nil {
		s.deps.Logger.Error("extract stage: advance status", "job_id", evt.JobID, "error", err)
	}

	client, provider, err := s.deps.LLM(evt.Options.Model)
	if err != nil {
		s.fail(ctx, evt, "state-io: "+err.Error())
		return nil
	}

	timeout := llm.DefaultTimeout
	if evt.Options.TimeoutMs > 0 {
		timeout = time.Duration(evt.Options.TimeoutMs) * time.Millisecond
	}
	retries := evt.Options.MaxRetries
	if retries <= 0 {
		retries = llm.DefaultMaxRetries
	}

	result, err := client.ExtractFields(ctx, llm.ExtractRequest{
		URL:      evt.URL,
		Markdown: fetchPayload.Markdown,
		Schema:   fetchPayload.Schema,
		Model:    evt.Options.Model,
		Timeout:  timeout,
		Retries:  retries,
	})
	metrics.RecordLLMExtract(string(provider), evt.Options.Model, err == nil)
	if err != nil {
		s.fail(ctx, evt, "llm-parse: "+err.Error())
		return nil
	}

	extractionPayload := model.ExtractionPayload{
		Data:     result.Data,
		Schema:   fetchPayload.Schema,
		Model:    result.Model,
		Usage:    result.Usage,
		Metadata: fetchPayload.Metadata,
	}
	if err := s.deps.Store.Set(ctx, model.NSExtractionPayloads, evt.JobID, extractionPayload); err != nil {
		s.fail(ctx, evt, "state-io: "+err.Error())
		return nil
	}

	if err := advanceJobStatus(ctx, s.deps.Store, evt.JobID, model.JobExtracted, nil); err != nil {
		s.deps.Logger.Error("extract stage: advance status", "job_id", evt.JobID, "error", err)
	}
	pushProgress(ctx, s.deps, evt.JobID, "extracted", 80, "fields extracted")

	if err := s.deps.Bus.Emit(ctx, TopicExtractionCompleted, evt.JobID, model.ExtractionCompleted{
		JobID:     evt.JobID,
		URL:       evt.URL,
		ScraperID: evt.ScraperID,
		Cached:    evt.Cached,
		CacheType: evt.CacheType,
	}); err != nil {
		return err
	}

	// Best-effort cleanup. Ownership of fetch_payloads deletion belongs
	// to the Store stage; Extract never deletes it, avoiding a race
	// between the two cleanups.
	return nil
}

func hasSchema(schema model.Schema) bool {
	return schema.IsStructured() || schema.Prompt != ""
}

// fail only emits extraction.failed; see FetchStage.fail.
func (s *ExtractStage) fail(ctx context.Context, evt model.WebpageFetched, errMsg string) {
	fail(ctx, s.deps, evt.JobID, evt.URL, "extracting", errMsg, nil)
}
